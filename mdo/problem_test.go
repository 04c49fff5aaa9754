package mdo

import (
	"bytes"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/zilonglicfd/fieldinv/daoptions"
	"github.com/zilonglicfd/fieldinv/solver"
	"github.com/zilonglicfd/fieldinv/utils"
)

// fakeFlow is a deterministic quadratic stand-in for the external solver:
// UFieldVar = mean(beta^2), betaVar = mean((beta-1)^2). It counts primal
// and adjoint invocations and records every beta it solved with.
type fakeFlow struct {
	n       int
	beta    []float64
	primal  int
	adjoint int
	seen    [][]float64
}

func (f *fakeFlow) SolvePrimal(beta []float64) error {
	if len(beta) != f.n {
		return fmt.Errorf("beta length %d does not match mesh cell count %d", len(beta), f.n)
	}
	f.primal++
	f.beta = append(f.beta[:0], beta...)
	f.seen = append(f.seen, append([]float64{}, beta...))
	return nil
}

func (f *fakeFlow) EvalFunction(name string) (float64, error) {
	var sum float64
	switch name {
	case "UFieldVar":
		for _, b := range f.beta {
			sum += b * b
		}
	case "betaVar":
		for _, b := range f.beta {
			sum += (b - 1.0) * (b - 1.0)
		}
	default:
		return 0, fmt.Errorf("function %s not declared", name)
	}
	return sum / float64(f.n), nil
}

func (f *fakeFlow) TotalDerivative(name, wrt string) ([]float64, error) {
	if wrt != "beta" {
		return nil, fmt.Errorf("input %s not declared", wrt)
	}
	f.adjoint++
	grad := make([]float64, f.n)
	switch name {
	case "UFieldVar":
		for i, b := range f.beta {
			grad[i] = 2.0 * b / float64(f.n)
		}
	case "betaVar":
		for i, b := range f.beta {
			grad[i] = 2.0 * (b - 1.0) / float64(f.n)
		}
	default:
		return nil, fmt.Errorf("function %s not declared", name)
	}
	return grad, nil
}

type fakeBuilder struct {
	n         int
	initCalls int
	flow      *fakeFlow
}

func (b *fakeBuilder) Initialize(comm utils.Comm) error {
	b.initCalls++
	b.flow = &fakeFlow{n: b.n}
	return nil
}
func (b *fakeBuilder) NumCells() int { return b.n }
func (b *fakeBuilder) Scenario() (solver.Flow, error) {
	if b.flow == nil {
		return nil, fmt.Errorf("builder not initialized")
	}
	return b.flow, nil
}

func newTestProblem(t *testing.T, n int) (*Problem, *fakeBuilder) {
	t.Helper()
	b := &fakeBuilder{n: n}
	prob := NewProblem()

	dvs := NewIndepVarComp("dvs")
	beta := make([]float64, n)
	for i := range beta {
		beta[i] = 1.0
	}
	dvs.AddOutput("beta", beta, false)
	require.NoError(t, prob.AddSubsystem(dvs))
	require.NoError(t, prob.AddScenario(NewScenario("scenario1", b, daoptions.PeriodicHill())))
	obj, err := NewExecComp("obj", "val=error+regulation")
	require.NoError(t, err)
	require.NoError(t, prob.AddSubsystem(obj))

	prob.Connect("beta", "scenario1.beta")
	prob.Connect("scenario1.aero_post.UFieldVar", "obj.error")
	prob.Connect("scenario1.aero_post.betaVar", "obj.regulation")
	prob.AddDesignVar("beta", -5.0, 10.0, 1.0)
	prob.AddObjective("obj.val", 1.0)
	return prob, b
}

func TestSetup(t *testing.T) {
	prob, b := newTestProblem(t, 8)
	require.NoError(t, prob.Setup())
	require.Equal(t, 1, b.initCalls)
	require.Equal(t, 0, b.flow.primal)
}

func TestSetupRejectsDanglingInput(t *testing.T) {
	b := &fakeBuilder{n: 8}
	prob := NewProblem()
	dvs := NewIndepVarComp("dvs")
	dvs.AddOutput("beta", make([]float64, 8), false)
	require.NoError(t, prob.AddSubsystem(dvs))
	require.NoError(t, prob.AddScenario(NewScenario("scenario1", b, daoptions.PeriodicHill())))
	obj, err := NewExecComp("obj", "val=error+regulation")
	require.NoError(t, err)
	require.NoError(t, prob.AddSubsystem(obj))
	prob.Connect("beta", "scenario1.beta")
	prob.Connect("scenario1.aero_post.UFieldVar", "obj.error")
	// obj.regulation left unconnected
	err = prob.Setup()
	require.Error(t, err)
	require.Contains(t, err.Error(), "not connected")
}

func TestSetupRejectsWrongDesignVarLength(t *testing.T) {
	b := &fakeBuilder{n: 8}
	prob := NewProblem()
	dvs := NewIndepVarComp("dvs")
	dvs.AddOutput("beta", make([]float64, 7), false)
	require.NoError(t, prob.AddSubsystem(dvs))
	require.NoError(t, prob.AddScenario(NewScenario("scenario1", b, daoptions.PeriodicHill())))
	obj, err := NewExecComp("obj", "val=error+regulation")
	require.NoError(t, err)
	require.NoError(t, prob.AddSubsystem(obj))
	prob.Connect("beta", "scenario1.beta")
	prob.Connect("scenario1.aero_post.UFieldVar", "obj.error")
	prob.Connect("scenario1.aero_post.betaVar", "obj.regulation")
	prob.AddDesignVar("beta", -5.0, 10.0, 1.0)
	err = prob.Setup()
	require.Error(t, err)
	require.Contains(t, err.Error(), "length 7")
}

func TestRunModelSolvesPrimalOnce(t *testing.T) {
	prob, b := newTestProblem(t, 8)
	require.NoError(t, prob.Setup())
	require.NoError(t, prob.RunModel())
	require.Equal(t, 1, b.flow.primal)
	require.Equal(t, 0, b.flow.adjoint)

	// obj.val is the literal sum of the two connected scalars
	uVar, err := prob.Value("scenario1.aero_post.UFieldVar")
	require.NoError(t, err)
	bVar, err := prob.Value("scenario1.aero_post.betaVar")
	require.NoError(t, err)
	val, err := prob.Value("obj.val")
	require.NoError(t, err)
	require.Equal(t, uVar+bVar, val)
}

func TestComputeTotals(t *testing.T) {
	prob, b := newTestProblem(t, 8)
	require.NoError(t, prob.Setup())
	require.NoError(t, prob.RunModel())
	totals, err := prob.ComputeTotals()
	require.NoError(t, err)
	require.Equal(t, 1, b.flow.primal)
	// one adjoint solve per function feeding the objective
	require.Equal(t, 2, b.flow.adjoint)

	grad := totals["obj.val,beta"]
	require.Len(t, grad, 8)
	// at beta = ones: d(mean(b^2))/db = 2/n, d(mean((b-1)^2))/db = 0
	for _, g := range grad {
		require.InDelta(t, 2.0/8.0, g, 1e-14)
	}
}

func TestCheckTotals(t *testing.T) {
	const step = 1e-3
	prob, b := newTestProblem(t, 4)
	require.NoError(t, prob.Setup())
	start := []float64{1.2, 0.8, 1.5, 1.0}
	require.NoError(t, prob.SetDesignVar("beta", start))
	require.NoError(t, prob.RunModel())

	var buf bytes.Buffer
	results, err := prob.CheckTotals(&buf, CheckOptions{
		Step: step, Form: "central", StepCalc: "abs", CompactPrint: false,
	})
	require.NoError(t, err)
	require.Len(t, results, 1)
	r := results[0]
	require.Equal(t, "obj.val", r.Of)
	require.Equal(t, "beta", r.Wrt)
	// quadratic model: central differences are exact
	require.Less(t, r.MaxAbsErr, 1e-10)
	require.Contains(t, buf.String(), "Total derivatives of 'obj.val' wrt 'beta'")
	require.Contains(t, buf.String(), "central difference, step 1.0e-03 (abs)")

	// every perturbation used the absolute step size
	var sawPlus, sawMinus bool
	for _, beta := range b.flow.seen {
		if math.Abs(beta[0]-(start[0]+step)) < 1e-15 {
			sawPlus = true
		}
		if math.Abs(beta[0]-(start[0]-step)) < 1e-15 {
			sawMinus = true
		}
	}
	require.True(t, sawPlus)
	require.True(t, sawMinus)

	// persisted state is untouched
	val, err := prob.DesignVarValue("beta")
	require.NoError(t, err)
	require.Equal(t, start, val)
	require.Equal(t, start, b.flow.beta)
}

func TestCheckTotalsRejectsBadOptions(t *testing.T) {
	prob, _ := newTestProblem(t, 4)
	require.NoError(t, prob.Setup())
	require.NoError(t, prob.RunModel())
	_, err := prob.CheckTotals(os.Stdout, CheckOptions{Step: 0, Form: "central"})
	require.Error(t, err)
	_, err = prob.CheckTotals(os.Stdout, CheckOptions{Step: 1e-3, Form: "sideways"})
	require.Error(t, err)
}

func TestWriteDiagram(t *testing.T) {
	prob, _ := newTestProblem(t, 8)
	require.NoError(t, prob.Setup())
	path := filepath.Join(t.TempDir(), "mphys.html")
	require.NoError(t, prob.WriteDiagram(path))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Contains(t, string(data), "scenario1")
	require.Contains(t, string(data), "aero_post.UFieldVar")
	require.Contains(t, string(data), "obj.error")
}

func TestSetDesignVarRejectsUnknown(t *testing.T) {
	prob, _ := newTestProblem(t, 8)
	require.NoError(t, prob.Setup())
	require.Error(t, prob.SetDesignVar("alpha", make([]float64, 8)))
}
