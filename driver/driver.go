package driver

import (
	"fmt"
	"io"
	"math"
	"os"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/optimize"

	"github.com/zilonglicfd/fieldinv/mdo"
)

// Driver runs the iterative minimization for one problem and settings
// table. The back-end tables map onto gonum quasi-Newton methods: the
// limited-memory back ends (IPOPT, SNOPT) use L-BFGS with the configured
// history depth, SLSQP uses full BFGS. Bounds are enforced by gradient
// projection inside the evaluation callbacks.
type Driver struct {
	Settings *Settings
	Out      io.Writer // status output, defaults to os.Stdout
}

func New(s *Settings) *Driver {
	return &Driver{Settings: s, Out: os.Stdout}
}

// RunDriver executes the optimization loop, appending every major
// iteration to the history file and the back-end log files. On return the
// problem holds the final design-variable values and a converged primal at
// that point.
func (d *Driver) RunDriver(prob *mdo.Problem) error {
	s := d.Settings
	dvs := prob.DesignVars()
	if len(dvs) != 1 {
		return fmt.Errorf("driver supports exactly one design variable, got %d", len(dvs))
	}
	dv := dvs[0]
	objs := prob.Objectives()
	if len(objs) != 1 {
		return fmt.Errorf("driver supports exactly one objective, got %d", len(objs))
	}

	if s.PrintOptProb {
		d.printOptProb(prob, dv, objs[0])
	}

	rec, err := newHistRecorder(s, d.Out)
	if err != nil {
		return err
	}
	defer rec.Close()

	if err := prob.RunModel(); err != nil {
		return err
	}
	x0, err := currentScaled(prob, dv)
	if err != nil {
		return err
	}

	var evalErr error
	clamp := func(x []float64) []float64 {
		y := make([]float64, len(x))
		for i := range x {
			y[i] = math.Min(math.Max(x[i]/dv.Scaler, dv.Lower), dv.Upper)
		}
		return y
	}
	p := optimize.Problem{
		Func: func(x []float64) float64 {
			if evalErr != nil {
				return math.Inf(1)
			}
			if err := prob.SetDesignVar(dv.Name, clamp(x)); err != nil {
				evalErr = err
				return math.Inf(1)
			}
			if err := prob.RunModel(); err != nil {
				evalErr = err
				return math.Inf(1)
			}
			f, err := prob.Objective()
			if err != nil {
				evalErr = err
				return math.Inf(1)
			}
			return f
		},
		Grad: func(grad, x []float64) {
			if evalErr != nil {
				return
			}
			if err := prob.SetDesignVar(dv.Name, clamp(x)); err != nil {
				evalErr = err
				return
			}
			if err := prob.RunModel(); err != nil {
				evalErr = err
				return
			}
			totals, err := prob.ComputeTotals()
			if err != nil {
				evalErr = err
				return
			}
			toOptimizerSpace(grad, totals[objs[0].Path+","+dv.Name], x, dv)
		},
	}

	settings := &optimize.Settings{
		MajorIterations:   s.MaxIterations(),
		GradientThreshold: s.Tolerance(),
		Recorder:          rec,
	}
	method := d.method()

	result, err := optimize.Minimize(p, x0, settings, method)
	if evalErr != nil {
		return evalErr
	}
	if err != nil {
		if result == nil {
			return fmt.Errorf("%s failed: %w", s.Optimizer, err)
		}
		// iteration-limit and tolerance statuses still carry a usable point
		fmt.Fprintf(d.Out, "%s stopped: %v (status %v)\n", s.Optimizer, err, result.Status)
	}

	// leave the problem at the final point
	if err := prob.SetDesignVar(dv.Name, clamp(result.X)); err != nil {
		return err
	}
	if err := prob.RunModel(); err != nil {
		return err
	}
	f, err := prob.Objective()
	if err != nil {
		return err
	}
	fmt.Fprintf(d.Out, "%s finished: %s = %.10e after %d major iterations\n",
		s.Optimizer, objs[0].Path, f, result.MajorIterations)
	return nil
}

func (d *Driver) method() optimize.Method {
	s := d.Settings
	switch s.Optimizer {
	case IPOPT:
		return &optimize.LBFGS{Store: s.optInt("limited_memory_max_history", 10)}
	case SNOPT:
		return &optimize.LBFGS{Store: s.optInt("Hessian updates", 50)}
	default:
		return &optimize.BFGS{}
	}
}

// toOptimizerSpace maps the model-space objective gradient into the
// optimizer's scaled variable space (x = val*scaler, so d/dx = d/dval /
// scaler) and kills the components where the bound projection is active so
// the line search cannot push through a bound.
func toOptimizerSpace(grad, g, x []float64, dv mdo.DesignVar) {
	for i := range grad {
		grad[i] = g[i] / dv.Scaler
		xi := x[i] / dv.Scaler
		if (xi <= dv.Lower && grad[i] > 0) || (xi >= dv.Upper && grad[i] < 0) {
			grad[i] = 0
		}
	}
}

func currentScaled(prob *mdo.Problem, dv mdo.DesignVar) ([]float64, error) {
	val, err := prob.DesignVarValue(dv.Name)
	if err != nil {
		return nil, err
	}
	x := make([]float64, len(val))
	for i := range val {
		x[i] = val[i] * dv.Scaler
	}
	return x, nil
}

func (d *Driver) printOptProb(prob *mdo.Problem, dv mdo.DesignVar, obj mdo.Objective) {
	s := d.Settings
	fmt.Fprintln(d.Out, "Optimization Problem")
	fmt.Fprintf(d.Out, "  optimizer: %s\n", s.Optimizer)
	fmt.Fprintf(d.Out, "  objective: %s (scaler %g)\n", obj.Path, obj.Scaler)
	fmt.Fprintf(d.Out, "  design var: %s, bounds [%g, %g], scaler %g\n",
		dv.Name, dv.Lower, dv.Upper, dv.Scaler)
	for _, key := range s.sortedOptKeys() {
		fmt.Fprintf(d.Out, "  %s: %v\n", key, s.Opt[key])
	}
}

// histRecorder appends one line per major iteration to the optimization
// history file and the back-end log files, and prints the configured
// per-iteration diagnostics.
type histRecorder struct {
	s     *Settings
	out   io.Writer
	files []*os.File
	iter  int
}

func newHistRecorder(s *Settings, out io.Writer) (*histRecorder, error) {
	r := &histRecorder{s: s, out: out}
	paths := append([]string{s.HistFile}, s.LogFiles()...)
	for _, path := range paths {
		f, err := os.Create(path)
		if err != nil {
			r.Close()
			return nil, fmt.Errorf("create %s: %w", path, err)
		}
		r.files = append(r.files, f)
	}
	return r, nil
}

func (r *histRecorder) Init() error {
	for _, f := range r.files {
		fmt.Fprintf(f, "# %s optimization history\n", r.s.Optimizer)
		fmt.Fprintf(f, "# iter  objective  |grad|  func_evals\n")
	}
	return nil
}

func (r *histRecorder) Record(loc *optimize.Location, op optimize.Operation, stats *optimize.Stats) error {
	if op != optimize.MajorIteration {
		return nil
	}
	gnorm := math.NaN()
	if loc.Gradient != nil {
		gnorm = floats.Norm(loc.Gradient, 2)
	}
	for _, f := range r.files {
		fmt.Fprintf(f, "%6d  %.10e  %.4e  %d\n", r.iter, loc.F, gnorm, stats.FuncEvaluations)
	}
	for _, what := range r.s.DebugPrint {
		switch what {
		case "objs":
			fmt.Fprintf(r.out, "Driver debug_print objs: iter %d, obj %.10e\n", r.iter, loc.F)
		case "desvars":
			fmt.Fprintf(r.out, "Driver debug_print desvars: iter %d, |x| %.6e\n", r.iter, floats.Norm(loc.X, 2))
		case "nl_cons":
			// unconstrained problem, nothing to report
		}
	}
	r.iter++
	return nil
}

func (r *histRecorder) Close() {
	for _, f := range r.files {
		f.Close()
	}
}
