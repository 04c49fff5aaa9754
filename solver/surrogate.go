package solver

import (
	"fmt"
	"math"

	"github.com/james-bowman/sparse"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"github.com/zilonglicfd/fieldinv/daoptions"
	"github.com/zilonglicfd/fieldinv/utils"
)

// Surrogate is an in-process Builder with the same contract as the external
// adjoint solver: a forward response from the correction field to a velocity
// field, variance functions per the options record, and analytic
// reverse-mode totals. The velocity response is a smoothed linear closure
//
//	U_i = U0 * dir * (1 + gamma*(S*beta)_i)
//
// where S is a periodic tridiagonal cell-coupling operator and gamma is the
// configured pressure-gradient forcing relative to its baseline magnitude.
// The reference velocity field is generated once from a fixed target
// correction, so the inversion has a known optimum.
type Surrogate struct {
	opts   *daoptions.Options
	nCells int

	comm        utils.Comm
	initialized bool

	smooth *sparse.CSR // cell-coupling operator S
	u0     float64
	gamma  float64
	dir    [3]float64
	uRef   *mat.Dense // reference velocity field, nCells x 3
}

// relaxation factor and iteration cap for the primal fixed-point iteration
const (
	relax          = 0.7
	maxPrimalIters = 10000
)

func NewSurrogate(opts *daoptions.Options, nCells int) *Surrogate {
	return &Surrogate{opts: opts, nCells: nCells}
}

func (s *Surrogate) NumCells() int { return s.nCells }

// Initialize builds the cell-coupling operator and synthesizes the
// reference velocity field from the target correction.
func (s *Surrogate) Initialize(comm utils.Comm) error {
	if s.nCells < 3 {
		return fmt.Errorf("surrogate needs at least 3 cells, got %d", s.nCells)
	}
	s.comm = comm
	s.u0 = s.opts.NormalizeStates["U"]
	if s.u0 == 0 {
		return fmt.Errorf("normalizeStates[U] must be set")
	}
	grad, ok := s.opts.FVSource["gradP"]
	if !ok {
		return fmt.Errorf("fvSource[gradP] must be set")
	}
	// forcing relative to the baseline pressure gradient
	s.gamma = grad.Value / daoptions.DP0
	s.dir = grad.Direction

	// Periodic tridiagonal smoothing, row sums to one.
	dok := sparse.NewDOK(s.nCells, s.nCells)
	for i := 0; i < s.nCells; i++ {
		im := (i - 1 + s.nCells) % s.nCells
		ip := (i + 1) % s.nCells
		dok.Set(i, im, 0.25)
		dok.Set(i, i, 0.5)
		dok.Set(i, ip, 0.25)
	}
	s.smooth = dok.ToCSR()

	betaRef := make([]float64, s.nCells)
	for i := range betaRef {
		betaRef[i] = 1.0 + 0.5*math.Sin(2.0*math.Pi*float64(i)/float64(s.nCells))
	}
	s.uRef = s.velocity(s.response(betaRef))
	s.initialized = true
	return nil
}

func (s *Surrogate) Scenario() (Flow, error) {
	if !s.initialized {
		return nil, fmt.Errorf("surrogate builder not initialized")
	}
	return &surrogateFlow{b: s}, nil
}

// response solves w = S*beta directly, for reference-field generation.
func (s *Surrogate) response(beta []float64) []float64 {
	w := make([]float64, s.nCells)
	sparse.MulMatRawVec(s.smooth, beta, w)
	return w
}

func (s *Surrogate) velocity(w []float64) *mat.Dense {
	u := mat.NewDense(s.nCells, 3, nil)
	for i := 0; i < s.nCells; i++ {
		f := s.u0 * (1.0 + s.gamma*w[i])
		u.Set(i, 0, f*s.dir[0])
		u.Set(i, 1, f*s.dir[1])
		u.Set(i, 2, f*s.dir[2])
	}
	return u
}

// surrogateFlow is one flow/adjoint scenario over the shared builder state.
type surrogateFlow struct {
	b *Surrogate

	beta []float64
	w    []float64
	u    *mat.Dense
	ok   bool // primal solved
}

// SolvePrimal runs the under-relaxed fixed-point iteration for the smoothed
// response field, converging to w = S*beta within primalMinResTol (or the
// relative drop primalMinResTolDiff from the initial residual).
func (f *surrogateFlow) SolvePrimal(beta []float64) error {
	b := f.b
	if len(beta) != b.nCells {
		return fmt.Errorf("beta length %d does not match mesh cell count %d", len(beta), b.nCells)
	}
	target := b.response(beta)

	w := make([]float64, b.nCells)
	res0 := maxAbsDiff(w, target)
	res := res0
	for iter := 0; res > b.opts.PrimalMinResTol && iter < maxPrimalIters; iter++ {
		for i := range w {
			w[i] += relax * (target[i] - w[i])
		}
		res = maxAbsDiff(w, target)
	}
	// a residual drop of primalMinResTolDiff is still accepted when the
	// absolute tolerance was not reached
	if res > b.opts.PrimalMinResTol && res*b.opts.PrimalMinResTolDiff > res0 {
		return fmt.Errorf("primal not converged: residual %g from %g", res, res0)
	}

	f.beta = append(f.beta[:0], beta...)
	f.w = w
	f.u = b.velocity(w)
	f.ok = true
	return nil
}

func (f *surrogateFlow) EvalFunction(name string) (float64, error) {
	if !f.ok {
		return 0, fmt.Errorf("function %s requested before a primal solve", name)
	}
	fn, ok := f.b.opts.Function[name]
	if !ok {
		return 0, fmt.Errorf("function %s not declared in options", name)
	}
	if fn.Type != "variance" {
		return 0, fmt.Errorf("function type %s not supported", fn.Type)
	}
	d := f.deviation(fn)
	// mean square deviation over all cells
	return fn.Scale * stat.MomentAbout(2, d, 0, nil), nil
}

// deviation returns the per-sample differences entering the variance: one
// entry per cell and selected component for a vector field, one per cell
// for a scalar field.
func (f *surrogateFlow) deviation(fn daoptions.Function) []float64 {
	b := f.b
	if fn.VarType == "vector" {
		d := make([]float64, 0, b.nCells*len(fn.Indices))
		for i := 0; i < b.nCells; i++ {
			for _, c := range fn.Indices {
				d = append(d, f.u.At(i, c)-b.uRef.At(i, c))
			}
		}
		return d
	}
	// scalar correction field, reference is the unit prior
	d := make([]float64, b.nCells)
	for i := range d {
		d[i] = f.beta[i] - 1.0
	}
	return d
}

func (f *surrogateFlow) TotalDerivative(name, wrt string) ([]float64, error) {
	if !f.ok {
		return nil, fmt.Errorf("totals for %s requested before a primal solve", name)
	}
	b := f.b
	if _, ok := b.opts.InputInfo[wrt]; !ok {
		return nil, fmt.Errorf("input %s not declared in options", wrt)
	}
	fn, ok := b.opts.Function[name]
	if !ok {
		return nil, fmt.Errorf("function %s not declared in options", name)
	}
	grad := make([]float64, b.nCells)
	if fn.VarType == "vector" {
		// the variance averages over one sample per cell per selected
		// component, so the 2/n factor carries the same sample count
		n := float64(b.nCells * len(fn.Indices))
		// dU_i(c)/dw_i = u0*gamma*dir[c]; chain through w = S*beta.
		t := make([]float64, b.nCells)
		for i := 0; i < b.nCells; i++ {
			for _, c := range fn.Indices {
				t[i] += (f.u.At(i, c) - b.uRef.At(i, c)) * b.u0 * b.gamma * b.dir[c]
			}
		}
		b.smooth.DoNonZero(func(i, j int, v float64) {
			grad[j] += v * t[i]
		})
		for j := range grad {
			grad[j] *= fn.Scale * 2.0 / n
		}
		return grad, nil
	}
	n := float64(b.nCells)
	for j := range grad {
		grad[j] = fn.Scale * 2.0 / n * (f.beta[j] - 1.0)
	}
	return grad, nil
}

func maxAbsDiff(a, b []float64) (m float64) {
	for i := range a {
		if d := math.Abs(a[i] - b[i]); d > m {
			m = d
		}
	}
	return
}
