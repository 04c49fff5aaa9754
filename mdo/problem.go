package mdo

import (
	"fmt"
	"sort"
	"strings"

	"gonum.org/v1/gonum/graph/simple"
	"gonum.org/v1/gonum/graph/topo"

	"github.com/zilonglicfd/fieldinv/utils"
)

// Connection wires one component's output to another component's input by
// full path ("comp.var", or the bare variable name for promoted
// independent-variable outputs).
type Connection struct {
	Src string
	Dst string
}

// DesignVar declares an optimizable input.
type DesignVar struct {
	Name   string
	Lower  float64
	Upper  float64
	Scaler float64
}

// Objective declares a scalar output to be minimized.
type Objective struct {
	Path   string
	Scaler float64
}

// Totals holds total derivatives keyed "objective,designvar".
type Totals map[string][]float64

// Problem assembles the computation graph: independent design-variable
// sources, one flow/adjoint scenario, and scalar composite components, with
// explicit named connections between them.
type Problem struct {
	indep    *IndepVarComp
	scenario *Scenario
	comps    map[string]Component
	order    []string

	conns      []Connection
	designVars []DesignVar
	objectives []Objective

	comm    utils.Comm
	isSetup bool

	funcVals map[string]float64 // scalar values by full source path
}

func NewProblem() *Problem {
	return &Problem{comps: make(map[string]Component)}
}

// AddSubsystem registers a component node. The first IndepVarComp added
// becomes the promoted design-variable source.
func (p *Problem) AddSubsystem(c Component) error {
	if _, dup := p.comps[c.Name()]; dup {
		return fmt.Errorf("subsystem %s already added", c.Name())
	}
	p.comps[c.Name()] = c
	p.order = append(p.order, c.Name())
	if iv, ok := c.(*IndepVarComp); ok && p.indep == nil {
		p.indep = iv
	}
	return nil
}

// AddScenario registers the flow/adjoint scenario node. Exactly one
// scenario is supported per problem.
func (p *Problem) AddScenario(s *Scenario) error {
	if p.scenario != nil {
		return fmt.Errorf("scenario %s already added", p.scenario.Name())
	}
	p.scenario = s
	return p.AddSubsystem(s)
}

func (p *Problem) Connect(src, dst string) {
	p.conns = append(p.conns, Connection{Src: src, Dst: dst})
}

func (p *Problem) AddDesignVar(name string, lower, upper, scaler float64) {
	p.designVars = append(p.designVars, DesignVar{Name: name, Lower: lower, Upper: upper, Scaler: scaler})
}

func (p *Problem) AddObjective(path string, scaler float64) {
	p.objectives = append(p.objectives, Objective{Path: path, Scaler: scaler})
}

func (p *Problem) DesignVars() []DesignVar { return append([]DesignVar{}, p.designVars...) }
func (p *Problem) Objectives() []Objective { return append([]Objective{}, p.objectives...) }
func (p *Problem) Comm() utils.Comm        { return p.comm }

// Setup initializes the external builder, validates the graph (acyclic,
// no dangling inputs, design variables sized to the mesh), and freezes the
// evaluation order.
func (p *Problem) Setup() error {
	if p.indep == nil {
		return fmt.Errorf("no independent variable component in model")
	}
	if p.scenario == nil {
		return fmt.Errorf("no scenario in model")
	}

	p.comm = utils.WorldComm()
	if err := p.scenario.builder.Initialize(p.comm); err != nil {
		return fmt.Errorf("builder initialize: %w", err)
	}
	flow, err := p.scenario.builder.Scenario()
	if err != nil {
		return fmt.Errorf("builder scenario: %w", err)
	}
	p.scenario.flow = flow

	if err := p.validateGraph(); err != nil {
		return err
	}

	nCells := p.scenario.builder.NumCells()
	for _, dv := range p.designVars {
		val, ok := p.indep.Value(dv.Name)
		if !ok {
			return fmt.Errorf("design variable %s is not an independent variable output", dv.Name)
		}
		if len(val) != nCells {
			return fmt.Errorf("design variable %s has length %d, mesh has %d cells", dv.Name, len(val), nCells)
		}
	}

	for _, obj := range p.objectives {
		if _, _, err := p.resolveOutput(obj.Path); err != nil {
			return fmt.Errorf("objective %s: %w", obj.Path, err)
		}
	}

	p.funcVals = make(map[string]float64)
	p.isSetup = true
	return nil
}

// validateGraph checks that every connection endpoint exists, that every
// declared input receives exactly one connection, and that the component
// graph is acyclic.
func (p *Problem) validateGraph() error {
	inbound := make(map[string]int)
	g := simple.NewDirectedGraph()
	ids := make(map[string]int64)
	for i, name := range p.order {
		ids[name] = int64(i)
		g.AddNode(simple.Node(i))
	}

	for _, conn := range p.conns {
		srcComp, _, err := p.resolveOutput(conn.Src)
		if err != nil {
			return fmt.Errorf("connection %s -> %s: %w", conn.Src, conn.Dst, err)
		}
		dstComp, dstVar, err := p.resolveInput(conn.Dst)
		if err != nil {
			return fmt.Errorf("connection %s -> %s: %w", conn.Src, conn.Dst, err)
		}
		inbound[dstComp.Name()+"."+dstVar]++
		if srcComp.Name() != dstComp.Name() {
			g.SetEdge(g.NewEdge(simple.Node(ids[srcComp.Name()]), simple.Node(ids[dstComp.Name()])))
		}
	}

	for _, name := range p.order {
		for _, in := range p.comps[name].Inputs() {
			path := name + "." + in
			switch n := inbound[path]; {
			case n == 0:
				return fmt.Errorf("input %s is not connected", path)
			case n > 1:
				return fmt.Errorf("input %s has %d connections", path, n)
			}
		}
	}

	if _, err := topo.Sort(g); err != nil {
		return fmt.Errorf("model graph has a cycle: %w", err)
	}
	return nil
}

// resolveOutput maps a full output path to its owning component and local
// variable name. Promoted independent-variable outputs resolve by bare
// name.
func (p *Problem) resolveOutput(path string) (Component, string, error) {
	if p.indep != nil {
		if _, ok := p.indep.Value(path); ok {
			return p.indep, path, nil
		}
	}
	comp, local, found := strings.Cut(path, ".")
	if found {
		if c, ok := p.comps[comp]; ok {
			for _, out := range c.Outputs() {
				if out == local {
					return c, local, nil
				}
			}
		}
	}
	return nil, "", fmt.Errorf("output %s not found", path)
}

func (p *Problem) resolveInput(path string) (Component, string, error) {
	comp, local, found := strings.Cut(path, ".")
	if !found {
		return nil, "", fmt.Errorf("input %s is not a component path", path)
	}
	c, ok := p.comps[comp]
	if !ok {
		return nil, "", fmt.Errorf("input %s: no component %s", path, comp)
	}
	for _, in := range c.Inputs() {
		if in == local {
			return c, local, nil
		}
	}
	return nil, "", fmt.Errorf("input %s not declared on %s", path, comp)
}

// DesignVarValue returns the current value of a declared design variable.
func (p *Problem) DesignVarValue(name string) ([]float64, error) {
	for _, dv := range p.designVars {
		if dv.Name == name {
			v, ok := p.indep.Value(name)
			if !ok {
				return nil, fmt.Errorf("design variable %s has no independent source", name)
			}
			return append([]float64{}, v...), nil
		}
	}
	return nil, fmt.Errorf("%s is not a declared design variable", name)
}

// SetDesignVar replaces the current value of a declared design variable.
func (p *Problem) SetDesignVar(name string, val []float64) error {
	for _, dv := range p.designVars {
		if dv.Name == name {
			return p.indep.set(name, val)
		}
	}
	return fmt.Errorf("%s is not a declared design variable", name)
}

// RunModel executes one forward solve and propagates the scalar function
// values through the graph. No derivatives are computed.
func (p *Problem) RunModel() error {
	if !p.isSetup {
		return fmt.Errorf("problem not set up")
	}

	// push the field input into the scenario and solve
	ins := p.scenario.Inputs()
	if len(ins) != 1 {
		return fmt.Errorf("scenario %s declares %d inputs, exactly one field input is supported", p.scenario.Name(), len(ins))
	}
	src, err := p.connectionInto(p.scenario.Name() + "." + ins[0])
	if err != nil {
		return err
	}
	val, ok := p.indep.Value(src)
	if !ok {
		return fmt.Errorf("scenario input %s: source %s is not an independent variable", ins[0], src)
	}
	if err := p.scenario.solvePrimal(val); err != nil {
		return fmt.Errorf("primal solve: %w", err)
	}

	// pull function values out of the scenario
	for _, out := range p.scenario.Outputs() {
		name := out[strings.LastIndex(out, ".")+1:]
		v, err := p.scenario.evalFunction(name)
		if err != nil {
			return err
		}
		p.funcVals[p.scenario.Name()+"."+out] = v
	}

	// evaluate downstream scalar components
	for _, name := range p.order {
		ec, ok := p.comps[name].(*ExecComp)
		if !ok {
			continue
		}
		in := make(map[string]float64)
		for _, term := range ec.Inputs() {
			src, err := p.connectionInto(name + "." + term)
			if err != nil {
				return err
			}
			v, ok := p.funcVals[src]
			if !ok {
				return fmt.Errorf("input %s.%s: source %s has no value", name, term, src)
			}
			in[term] = v
		}
		v, err := ec.Eval(in)
		if err != nil {
			return err
		}
		p.funcVals[name+"."+ec.out] = v
	}
	return nil
}

func (p *Problem) connectionInto(dst string) (string, error) {
	for _, conn := range p.conns {
		if conn.Dst == dst {
			return conn.Src, nil
		}
	}
	return "", fmt.Errorf("input %s is not connected", dst)
}

// Value returns a scalar value computed by the last RunModel.
func (p *Problem) Value(path string) (float64, error) {
	v, ok := p.funcVals[path]
	if !ok {
		return 0, fmt.Errorf("no value for %s; run the model first", path)
	}
	return v, nil
}

// Objective returns the value of the declared objective after RunModel.
func (p *Problem) Objective() (float64, error) {
	if len(p.objectives) == 0 {
		return 0, fmt.Errorf("no objective declared")
	}
	obj := p.objectives[0]
	v, err := p.Value(obj.Path)
	if err != nil {
		return 0, err
	}
	return v * obj.Scaler, nil
}

// ComputeTotals computes total derivatives of every declared objective with
// respect to every design variable via the scenario's adjoint, chaining
// through the scalar sum components.
func (p *Problem) ComputeTotals() (Totals, error) {
	if !p.isSetup {
		return nil, fmt.Errorf("problem not set up")
	}
	totals := make(Totals)
	for _, obj := range p.objectives {
		funcs, err := p.upstreamFunctions(obj.Path)
		if err != nil {
			return nil, err
		}
		for _, dv := range p.designVars {
			grad := make([]float64, p.scenario.builder.NumCells())
			for _, fn := range funcs {
				g, err := p.scenario.totalDerivative(fn, dv.Name)
				if err != nil {
					return nil, err
				}
				for i := range grad {
					grad[i] += g[i] * obj.Scaler
				}
			}
			totals[obj.Path+","+dv.Name] = grad
		}
	}
	return totals, nil
}

// upstreamFunctions resolves an objective path to the scenario function
// names feeding it. A path pointing directly at a scenario output yields
// that single function; a sum-component output yields every connected
// term's function.
func (p *Problem) upstreamFunctions(path string) ([]string, error) {
	comp, local, err := p.resolveOutput(path)
	if err != nil {
		return nil, err
	}
	if comp == p.scenario {
		return []string{local[strings.LastIndex(local, ".")+1:]}, nil
	}
	ec, ok := comp.(*ExecComp)
	if !ok {
		return nil, fmt.Errorf("objective %s is not differentiable through %s", path, comp.Name())
	}
	var funcs []string
	for _, term := range ec.Inputs() {
		src, err := p.connectionInto(ec.Name() + "." + term)
		if err != nil {
			return nil, err
		}
		up, err := p.upstreamFunctions(src)
		if err != nil {
			return nil, err
		}
		funcs = append(funcs, up...)
	}
	sort.Strings(funcs)
	return funcs, nil
}
