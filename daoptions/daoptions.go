package daoptions

import (
	"fmt"

	"github.com/ghodss/yaml"

	"github.com/zilonglicfd/fieldinv/utils"
)

// Options is the full input record consumed by the adjoint solver builder.
// It mirrors the solver's own option dictionary, so every field name here is
// a key the solver recognizes.
type Options struct {
	SolverName          string              `yaml:"solverName"`
	PrimalMinResTol     float64             `yaml:"primalMinResTol"`
	PrimalMinResTolDiff float64             `yaml:"primalMinResTolDiff"`
	FVSource            map[string]FVSource `yaml:"fvSource"`
	Function            map[string]Function `yaml:"function"`
	AdjStateOrdering    string              `yaml:"adjStateOrdering"`
	AdjEqnOption        AdjEqnOption        `yaml:"adjEqnOption"`
	NormalizeStates     map[string]float64  `yaml:"normalizeStates"`
	InputInfo           map[string]Input    `yaml:"inputInfo"`
}

// FVSource is a named forcing term added to the momentum equations.
type FVSource struct {
	Type      string     `yaml:"type"`
	Value     float64    `yaml:"value"`
	Direction [3]float64 `yaml:"direction"`
}

// Function is a named scalar output computed from the solution fields.
type Function struct {
	Type                 string  `yaml:"type"`
	Source               string  `yaml:"source"`
	Scale                float64 `yaml:"scale"`
	Mode                 string  `yaml:"mode"`
	VarName              string  `yaml:"varName"`
	VarType              string  `yaml:"varType"`
	Indices              []int   `yaml:"indices,omitempty"` // component subset for vector fields
	TimeDependentRefData bool    `yaml:"timeDependentRefData"`
}

// AdjEqnOption holds the adjoint linear solver tolerances.
type AdjEqnOption struct {
	GMRESRelTol      float64 `yaml:"gmresRelTol"`
	PCFillLevel      int     `yaml:"pcFillLevel"`
	JacMatReOrdering string  `yaml:"jacMatReOrdering"`
}

// Input declares a field exposed to the optimizer as a design input and
// which pipeline stages consume it.
type Input struct {
	Type        string   `yaml:"type"`
	FieldName   string   `yaml:"fieldName"`
	FieldType   string   `yaml:"fieldType"`
	Distributed bool     `yaml:"distributed"`
	Components  []string `yaml:"components"`
}

func (op *Options) Parse(data []byte) error {
	return yaml.Unmarshal(data, op)
}

func (op *Options) Print() {
	fmt.Printf("\"%s\"\t\t= solverName\n", op.SolverName)
	fmt.Printf("%8.2e\t\t= primalMinResTol\n", op.PrimalMinResTol)
	fmt.Printf("%8.2e\t\t= primalMinResTolDiff\n", op.PrimalMinResTolDiff)
	fmt.Printf("[%s]\t\t\t= adjStateOrdering\n", op.AdjStateOrdering)
	for _, key := range utils.SortedKeys(op.FVSource) {
		fmt.Printf("fvSource[%s] = %+v\n", key, op.FVSource[key])
	}
	for _, key := range utils.SortedKeys(op.Function) {
		fmt.Printf("function[%s] = %+v\n", key, op.Function[key])
	}
	for _, key := range utils.SortedKeys(op.NormalizeStates) {
		fmt.Printf("normalizeStates[%s] = %v\n", key, op.NormalizeStates[key])
	}
	for _, key := range utils.SortedKeys(op.InputInfo) {
		fmt.Printf("inputInfo[%s] = %+v\n", key, op.InputInfo[key])
	}
}
