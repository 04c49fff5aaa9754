package solver

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/zilonglicfd/fieldinv/daoptions"
	"github.com/zilonglicfd/fieldinv/utils"
)

func newTestFlow(t *testing.T, n int) (*Surrogate, Flow) {
	t.Helper()
	b := NewSurrogate(daoptions.PeriodicHill(), n)
	require.NoError(t, b.Initialize(utils.Comm{Rank: 0, Size: 1}))
	f, err := b.Scenario()
	require.NoError(t, err)
	return b, f
}

func testBeta(n int) []float64 {
	beta := make([]float64, n)
	for i := range beta {
		beta[i] = 1.0 + 0.3*math.Cos(2.0*math.Pi*float64(i)/float64(n))
	}
	return beta
}

func TestPrimalAndFunctions(t *testing.T) {
	const n = 64
	_, f := newTestFlow(t, n)

	ones := make([]float64, n)
	for i := range ones {
		ones[i] = 1.0
	}
	require.NoError(t, f.SolvePrimal(ones))

	// the unit prior has zero regularizer but a velocity mismatch
	bVar, err := f.EvalFunction("betaVar")
	require.NoError(t, err)
	require.Equal(t, 0.0, bVar)
	uVar, err := f.EvalFunction("UFieldVar")
	require.NoError(t, err)
	require.Greater(t, uVar, 0.0)

	_, err = f.EvalFunction("nope")
	require.Error(t, err)
}

func TestPrimalRejectsWrongLength(t *testing.T) {
	_, f := newTestFlow(t, 16)
	err := f.SolvePrimal(make([]float64, 15))
	require.Error(t, err)
	require.Contains(t, err.Error(), "cell count")
}

func TestFunctionsBeforePrimal(t *testing.T) {
	_, f := newTestFlow(t, 16)
	_, err := f.EvalFunction("betaVar")
	require.Error(t, err)
	_, err = f.TotalDerivative("betaVar", "beta")
	require.Error(t, err)
}

// TestTotalsAgainstFiniteDifference verifies the analytic reverse-mode
// totals of both functions against central differences.
func TestTotalsAgainstFiniteDifference(t *testing.T) {
	const (
		n    = 32
		step = 1e-3
	)
	_, f := newTestFlow(t, n)
	beta := testBeta(n)
	require.NoError(t, f.SolvePrimal(beta))

	for _, name := range []string{"UFieldVar", "betaVar"} {
		grad, err := f.TotalDerivative(name, "beta")
		require.NoError(t, err)
		require.Len(t, grad, n)

		for _, j := range []int{0, 7, n - 1} {
			fd := centralDiff(t, f, name, beta, j, step)
			require.InDeltaf(t, fd, grad[j], 1e-2*math.Abs(fd)+1e-12,
				"d(%s)/d(beta[%d])", name, j)
		}
		// restore the unperturbed solution for the next function
		require.NoError(t, f.SolvePrimal(beta))
	}
}

func centralDiff(t *testing.T, f Flow, name string, beta []float64, j int, h float64) float64 {
	t.Helper()
	pert := append([]float64{}, beta...)
	pert[j] = beta[j] + h
	require.NoError(t, f.SolvePrimal(pert))
	jp, err := f.EvalFunction(name)
	require.NoError(t, err)
	pert[j] = beta[j] - h
	require.NoError(t, f.SolvePrimal(pert))
	jm, err := f.EvalFunction(name)
	require.NoError(t, err)
	return (jp - jm) / (2.0 * h)
}

// TestVectorGradientSampleCount pins the 2/n normalization of the vector
// variance gradient to the sample count the function itself averages over:
// one sample per cell per selected component. With the forcing along x the
// y component contributes nothing to the deviation, so widening the index
// subset from [0] to [0, 1] must exactly halve the gradient.
func TestVectorGradientSampleCount(t *testing.T) {
	const n = 32
	beta := testBeta(n)

	gradFor := func(indices []int) []float64 {
		opts := daoptions.PeriodicHill()
		fn := opts.Function["UFieldVar"]
		fn.Indices = indices
		opts.Function["UFieldVar"] = fn
		b := NewSurrogate(opts, n)
		require.NoError(t, b.Initialize(utils.Comm{Rank: 0, Size: 1}))
		f, err := b.Scenario()
		require.NoError(t, err)
		require.NoError(t, f.SolvePrimal(beta))
		grad, err := f.TotalDerivative("UFieldVar", "beta")
		require.NoError(t, err)
		return grad
	}

	gx := gradFor([]int{0})
	gxy := gradFor([]int{0, 1})
	for j := range gx {
		require.InDelta(t, gx[j]/2.0, gxy[j], 1e-18)
	}

	// and each gradient matches a central difference of its own function
	opts := daoptions.PeriodicHill()
	b := NewSurrogate(opts, n)
	require.NoError(t, b.Initialize(utils.Comm{Rank: 0, Size: 1}))
	f, err := b.Scenario()
	require.NoError(t, err)
	require.NoError(t, f.SolvePrimal(beta))
	grad, err := f.TotalDerivative("UFieldVar", "beta")
	require.NoError(t, err)
	fd := centralDiff(t, f, "UFieldVar", beta, 7, 1e-3)
	require.InDelta(t, fd, grad[7], 1e-2*math.Abs(fd)+1e-12)
}

func TestTotalsRejectsUnknownNames(t *testing.T) {
	_, f := newTestFlow(t, 16)
	require.NoError(t, f.SolvePrimal(testBeta(16)))
	_, err := f.TotalDerivative("UFieldVar", "alpha")
	require.Error(t, err)
	_, err = f.TotalDerivative("nope", "beta")
	require.Error(t, err)
}

func TestScenarioRequiresInitialize(t *testing.T) {
	b := NewSurrogate(daoptions.PeriodicHill(), 16)
	_, err := b.Scenario()
	require.Error(t, err)
}
