package daoptions

// Baseline quantities for the periodic hill field inversion case.
const (
	U0       = 0.028                 // reference velocity scale
	NuTilda0 = 1e-4                  // reference modified viscosity
	J0       = 0.0479729567          // baseline L2 norm of the objective
	NCells   = 3500                  // mesh cell count
	DP0      = 6.634074021107811e-06 // baseline pressure gradient magnitude
)

// PeriodicHill returns the solver options for the periodic hill field
// inversion: a SIMPLE-family incompressible primal driven by a uniform
// pressure gradient, with two variance functions — the velocity mismatch
// against the reference field and the regularizer on the closure
// correction field betaFINuTilda.
func PeriodicHill() *Options {
	return &Options{
		SolverName:          "DASimpleFoam",
		PrimalMinResTol:     1.0e-8,
		PrimalMinResTolDiff: 1e5,
		FVSource: map[string]FVSource{
			"gradP": {
				Type:      "uniformPressureGradient",
				Value:     DP0,
				Direction: [3]float64{1.0, 0.0, 0.0},
			},
		},
		Function: map[string]Function{
			"UFieldVar": {
				Type:                 "variance",
				Source:               "allCells",
				Scale:                1.0,
				Mode:                 "field",
				VarName:              "U",
				VarType:              "vector",
				Indices:              []int{0, 1},
				TimeDependentRefData: false,
			},
			"betaVar": {
				Type:                 "variance",
				Source:               "allCells",
				Scale:                1.0,
				Mode:                 "field",
				VarName:              "betaFINuTilda",
				VarType:              "scalar",
				TimeDependentRefData: false,
			},
		},
		AdjStateOrdering: "cell",
		AdjEqnOption: AdjEqnOption{
			GMRESRelTol:      1.0e-8,
			PCFillLevel:      1,
			JacMatReOrdering: "natural",
		},
		NormalizeStates: map[string]float64{
			"U":       U0,
			"p":       U0 * U0 / 2.0,
			"nuTilda": NuTilda0 * 10.0,
			"phi":     1.0,
		},
		InputInfo: map[string]Input{
			"beta": {
				Type:        "field",
				FieldName:   "betaFINuTilda",
				FieldType:   "scalar",
				Distributed: false,
				Components:  []string{"solver", "function"},
			},
		},
	}
}
