package mdo

import (
	"fmt"
	"io"
	"math"
)

// CheckOptions controls the finite-difference verification of the adjoint
// totals.
type CheckOptions struct {
	Step         float64 // perturbation size
	Form         string  // "central" or "forward"
	StepCalc     string  // "abs" for absolute step, "rel" to scale by the variable magnitude
	CompactPrint bool
}

// CheckResult compares one objective/design-variable derivative pair.
type CheckResult struct {
	Of        string
	Wrt       string
	Adjoint   []float64
	FD        []float64
	MaxAbsErr float64
	MaxRelErr float64
}

// CheckTotals verifies the adjoint totals of every declared objective
// against a finite-difference approximation. The model's persisted state is
// unchanged on return: perturbations run on copies and the baseline solve
// is restored before returning.
func (p *Problem) CheckTotals(w io.Writer, opts CheckOptions) ([]CheckResult, error) {
	if !p.isSetup {
		return nil, fmt.Errorf("problem not set up")
	}
	if opts.Step <= 0 {
		return nil, fmt.Errorf("check step must be positive, got %g", opts.Step)
	}
	switch opts.Form {
	case "central", "forward":
	default:
		return nil, fmt.Errorf("unknown difference form %q", opts.Form)
	}

	adjoint, err := p.ComputeTotals()
	if err != nil {
		return nil, err
	}

	var results []CheckResult
	for _, obj := range p.objectives {
		for _, dv := range p.designVars {
			base, _ := p.indep.Value(dv.Name)
			baseline := append([]float64{}, base...)

			j0, err := p.objectiveAt(dv.Name, baseline, obj)
			if err != nil {
				return nil, err
			}

			fd := make([]float64, len(baseline))
			pert := append([]float64{}, baseline...)
			for i := range baseline {
				h := opts.Step
				if opts.StepCalc == "rel" {
					h *= math.Max(math.Abs(baseline[i]), 1.0)
				}
				pert[i] = baseline[i] + h
				jp, err := p.objectiveAt(dv.Name, pert, obj)
				if err != nil {
					return nil, err
				}
				if opts.Form == "central" {
					pert[i] = baseline[i] - h
					jm, err := p.objectiveAt(dv.Name, pert, obj)
					if err != nil {
						return nil, err
					}
					fd[i] = (jp - jm) / (2.0 * h)
				} else {
					fd[i] = (jp - j0) / h
				}
				pert[i] = baseline[i]
			}

			// restore the baseline solution
			if _, err := p.objectiveAt(dv.Name, baseline, obj); err != nil {
				return nil, err
			}

			r := CheckResult{
				Of:      obj.Path,
				Wrt:     dv.Name,
				Adjoint: adjoint[obj.Path+","+dv.Name],
				FD:      fd,
			}
			for i := range fd {
				abs := math.Abs(r.Adjoint[i] - fd[i])
				if abs > r.MaxAbsErr {
					r.MaxAbsErr = abs
				}
				if fd[i] != 0 {
					if rel := abs / math.Abs(fd[i]); rel > r.MaxRelErr {
						r.MaxRelErr = rel
					}
				}
			}
			results = append(results, r)
			printCheck(w, r, opts)
		}
	}
	return results, nil
}

func (p *Problem) objectiveAt(dvName string, val []float64, obj Objective) (float64, error) {
	if err := p.indep.set(dvName, val); err != nil {
		return 0, err
	}
	if err := p.RunModel(); err != nil {
		return 0, err
	}
	v, err := p.Value(obj.Path)
	if err != nil {
		return 0, err
	}
	return v * obj.Scaler, nil
}

func printCheck(w io.Writer, r CheckResult, opts CheckOptions) {
	if opts.CompactPrint {
		fmt.Fprintf(w, "%-24s wrt %-12s  max abs err %.6e  max rel err %.6e\n",
			"'"+r.Of+"'", "'"+r.Wrt+"'", r.MaxAbsErr, r.MaxRelErr)
		return
	}
	fmt.Fprintf(w, "%s\n", divider)
	fmt.Fprintf(w, "Total derivatives of '%s' wrt '%s'\n", r.Of, r.Wrt)
	fmt.Fprintf(w, "  %s difference, step %.1e (%s)\n", opts.Form, opts.Step, opts.StepCalc)
	for i := range r.FD {
		fmt.Fprintf(w, "  [%4d]  adjoint % .10e   fd % .10e   err % .3e\n",
			i, r.Adjoint[i], r.FD[i], math.Abs(r.Adjoint[i]-r.FD[i]))
	}
	fmt.Fprintf(w, "  max abs error: %.6e\n", r.MaxAbsErr)
	fmt.Fprintf(w, "  max rel error: %.6e\n", r.MaxRelErr)
	fmt.Fprintf(w, "%s\n", divider)
}

const divider = "------------------------------------------------------------"
