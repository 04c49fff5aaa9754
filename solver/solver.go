// Package solver defines the boundary to the adjoint CFD collaborator: a
// Builder constructs Flow instances from an options record, and a Flow runs
// the primal solve, evaluates the configured scalar functions, and computes
// reverse-mode total derivatives. The driver layer treats both as black
// boxes.
package solver

import "github.com/zilonglicfd/fieldinv/utils"

// Builder initializes the underlying solver and hands out flow scenarios.
type Builder interface {
	// Initialize prepares the solver for the given process group. Must be
	// called once before Scenario.
	Initialize(comm utils.Comm) error
	// NumCells reports the mesh cell count, which fixes the length of every
	// field-type design input.
	NumCells() int
	// Scenario constructs a flow/adjoint pair from the builder's options.
	Scenario() (Flow, error)
}

// Flow bundles a forward physics solve with its derivative machinery.
type Flow interface {
	// SolvePrimal runs one forward solve with the given correction field.
	SolvePrimal(beta []float64) error
	// EvalFunction returns the named scalar function of the last primal
	// solution.
	EvalFunction(name string) (float64, error)
	// TotalDerivative computes d(name)/d(wrt) for the last primal solution
	// via the adjoint, one entry per cell.
	TotalDerivative(name, wrt string) ([]float64, error)
}
