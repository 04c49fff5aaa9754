package mdo

import (
	"fmt"
	"strings"

	"github.com/zilonglicfd/fieldinv/daoptions"
	"github.com/zilonglicfd/fieldinv/solver"
	"github.com/zilonglicfd/fieldinv/utils"
)

// Component is a named node of the computation graph with declared input
// and output variables. Variable names are local to the component;
// Problem.Connect wires them by full "comp.var" path.
type Component interface {
	Name() string
	Inputs() []string
	Outputs() []string
}

// IndepVarComp holds the independent design-variable sources at the top of
// the graph. Its outputs are promoted, so their path is the bare variable
// name.
type IndepVarComp struct {
	name        string
	order       []string
	vals        map[string][]float64
	distributed map[string]bool
}

func NewIndepVarComp(name string) *IndepVarComp {
	return &IndepVarComp{
		name:        name,
		vals:        make(map[string][]float64),
		distributed: make(map[string]bool),
	}
}

func (c *IndepVarComp) Name() string      { return c.name }
func (c *IndepVarComp) Inputs() []string  { return nil }
func (c *IndepVarComp) Outputs() []string { return append([]string{}, c.order...) }

// AddOutput declares an independent variable with its initial value.
// distributed marks the array as partitioned across the process group;
// field design variables here are replicated on every rank.
func (c *IndepVarComp) AddOutput(name string, val []float64, distributed bool) {
	if _, exists := c.vals[name]; !exists {
		c.order = append(c.order, name)
	}
	c.vals[name] = append([]float64{}, val...)
	c.distributed[name] = distributed
}

// Value returns the current value of an output.
func (c *IndepVarComp) Value(name string) ([]float64, bool) {
	v, ok := c.vals[name]
	return v, ok
}

func (c *IndepVarComp) set(name string, val []float64) error {
	if _, ok := c.vals[name]; !ok {
		return fmt.Errorf("independent variable %s not declared", name)
	}
	c.vals[name] = append(c.vals[name][:0:0], val...)
	return nil
}

// ExecComp evaluates a scalar sum expression of the form
// "out=term1+term2+...". Each term is an input variable of the component.
type ExecComp struct {
	name  string
	out   string
	terms []string
}

func NewExecComp(name, expr string) (*ExecComp, error) {
	lhs, rhs, found := strings.Cut(expr, "=")
	if !found {
		return nil, fmt.Errorf("exec expression %q: missing '='", expr)
	}
	c := &ExecComp{name: name, out: strings.TrimSpace(lhs)}
	for _, term := range strings.Split(rhs, "+") {
		term = strings.TrimSpace(term)
		if term == "" {
			return nil, fmt.Errorf("exec expression %q: empty term", expr)
		}
		c.terms = append(c.terms, term)
	}
	if c.out == "" || len(c.terms) == 0 {
		return nil, fmt.Errorf("exec expression %q: need an output and at least one term", expr)
	}
	return c, nil
}

func (c *ExecComp) Name() string      { return c.name }
func (c *ExecComp) Inputs() []string  { return append([]string{}, c.terms...) }
func (c *ExecComp) Outputs() []string { return []string{c.out} }

// Eval computes the output as the literal sum of the input terms.
func (c *ExecComp) Eval(in map[string]float64) (float64, error) {
	var sum float64
	for _, term := range c.terms {
		v, ok := in[term]
		if !ok {
			return 0, fmt.Errorf("exec comp %s: input %s has no value", c.name, term)
		}
		sum += v
	}
	return sum, nil
}

// Scenario wraps the external flow/adjoint builder as a graph node. Its
// inputs are the fields the options record exposes to the optimizer, and
// its outputs are the configured scalar functions under the post-processing
// path segment.
type Scenario struct {
	name    string
	builder solver.Builder
	opts    *daoptions.Options
	flow    solver.Flow
}

func NewScenario(name string, builder solver.Builder, opts *daoptions.Options) *Scenario {
	return &Scenario{name: name, builder: builder, opts: opts}
}

func (s *Scenario) Name() string { return s.name }

func (s *Scenario) Inputs() []string {
	return utils.SortedKeys(s.opts.InputInfo)
}

func (s *Scenario) Outputs() []string {
	var out []string
	for _, fn := range utils.SortedKeys(s.opts.Function) {
		out = append(out, "aero_post."+fn)
	}
	return out
}

func (s *Scenario) solvePrimal(beta []float64) error {
	return s.flow.SolvePrimal(beta)
}

func (s *Scenario) evalFunction(name string) (float64, error) {
	return s.flow.EvalFunction(name)
}

func (s *Scenario) totalDerivative(name, wrt string) ([]float64, error) {
	return s.flow.TotalDerivative(name, wrt)
}
