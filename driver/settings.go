// Package driver selects and runs the nonlinear-optimization back end. The
// three supported back ends each carry their own free-form settings table;
// the keys and values are the back end's native option names.
package driver

import (
	"fmt"
	"sort"
)

// Back-end identifiers. Tokens are case-sensitive.
const (
	SNOPT = "SNOPT"
	IPOPT = "IPOPT"
	SLSQP = "SLSQP"
)

// Settings is the driver configuration for one back end.
type Settings struct {
	Optimizer    string
	Opt          map[string]interface{}
	DebugPrint   []string // per-iteration diagnostics: nl_cons, objs, desvars
	PrintOptProb bool
	HistFile     string
}

// Select returns the settings table for the named back end. An unrecognized
// token is the caller's fatal path.
func Select(optimizer string) (*Settings, error) {
	s := &Settings{
		Optimizer:    optimizer,
		DebugPrint:   []string{"nl_cons", "objs", "desvars"},
		PrintOptProb: true,
		HistFile:     "OptView.hst",
	}
	switch optimizer {
	case SNOPT:
		s.Opt = map[string]interface{}{
			"Major feasibility tolerance": 1.0e-6,
			"Major optimality tolerance":  1.0e-6,
			"Minor feasibility tolerance": 1.0e-6,
			"Verify level":                -1,
			"Function precision":          1.0e-6,
			"Major iterations limit":      50,
			"Linesearch tolerance":        0.999,
			"Hessian updates":             50,
			"Nonderivative linesearch":    nil,
			"Print file":                  "opt_SNOPT_print.txt",
			"Summary file":                "opt_SNOPT_summary.txt",
		}
	case IPOPT:
		s.Opt = map[string]interface{}{
			"tol":                        1.0e-5,
			"constr_viol_tol":            1.0e-5,
			"max_iter":                   50,
			"print_level":                5,
			"output_file":                "opt_IPOPT.txt",
			"mu_strategy":                "adaptive",
			"limited_memory_max_history": 10,
			"nlp_scaling_method":         "none",
			"alpha_for_y":                "full",
			"recalc_y":                   "yes",
		}
	case SLSQP:
		s.Opt = map[string]interface{}{
			"ACC":   1.0e-5,
			"MAXIT": 100,
			"IFILE": "opt_SLSQP.txt",
		}
	default:
		return nil, fmt.Errorf("optimizer arg not valid!")
	}
	return s, nil
}

// LogFiles returns the back-end output file paths from the settings table.
func (s *Settings) LogFiles() []string {
	var files []string
	for _, key := range []string{"Print file", "Summary file", "output_file", "IFILE"} {
		if v, ok := s.Opt[key]; ok {
			files = append(files, v.(string))
		}
	}
	return files
}

func (s *Settings) optFloat(key string, def float64) float64 {
	if v, ok := s.Opt[key]; ok {
		if f, ok := v.(float64); ok {
			return f
		}
	}
	return def
}

func (s *Settings) optInt(key string, def int) int {
	if v, ok := s.Opt[key]; ok {
		if n, ok := v.(int); ok {
			return n
		}
	}
	return def
}

// MaxIterations reads the back end's iteration limit.
func (s *Settings) MaxIterations() int {
	switch s.Optimizer {
	case SNOPT:
		return s.optInt("Major iterations limit", 50)
	case IPOPT:
		return s.optInt("max_iter", 50)
	default:
		return s.optInt("MAXIT", 100)
	}
}

// Tolerance reads the back end's optimality tolerance.
func (s *Settings) Tolerance() float64 {
	switch s.Optimizer {
	case SNOPT:
		return s.optFloat("Major optimality tolerance", 1e-6)
	case IPOPT:
		return s.optFloat("tol", 1e-5)
	default:
		return s.optFloat("ACC", 1e-5)
	}
}

func (s *Settings) sortedOptKeys() []string {
	keys := make([]string, len(s.Opt))
	i := 0
	for k := range s.Opt {
		keys[i] = k
		i++
	}
	sort.Strings(keys)
	return keys
}
