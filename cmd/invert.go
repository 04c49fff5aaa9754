/*
Copyright © 2020 NAME HERE <EMAIL ADDRESS>

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/zilonglicfd/fieldinv/daoptions"
	"github.com/zilonglicfd/fieldinv/driver"
	"github.com/zilonglicfd/fieldinv/mdo"
	"github.com/zilonglicfd/fieldinv/solver"
	"github.com/zilonglicfd/fieldinv/utils"
)

const diagramFile = "mphys.html"

type InvertRun struct {
	Optimizer   string
	Task        string
	OptionsFile string
}

// InvertCmd represents the invert command
var InvertCmd = &cobra.Command{
	Use:   "invert",
	Short: "Field inversion of the periodic hill case",
	Long: `
Estimates the closure correction field beta for the periodic hill case by
minimizing obj.val = error + regulation, where error is the velocity
variance against the reference field and regulation is the variance of
beta itself.

fieldinv invert -o IPOPT -t run_driver`,
	Run: func(cmd *cobra.Command, args []string) {
		ir := &InvertRun{}
		ir.Optimizer, _ = cmd.Flags().GetString("optimizer")
		ir.Task, _ = cmd.Flags().GetString("task")
		ir.OptionsFile, _ = cmd.Flags().GetString("options")
		opts := processOptions(ir)
		RunInversion(ir, opts)
	},
}

func init() {
	rootCmd.AddCommand(InvertCmd)
	InvertCmd.Flags().StringP("optimizer", "o", "IPOPT", "optimizer to use: IPOPT, SNOPT or SLSQP")
	InvertCmd.Flags().StringP("task", "t", "run_driver", "type of run to do: run_driver, run_model, compute_totals or check_totals")
	InvertCmd.Flags().StringP("options", "I", "", "YAML file overriding the built-in solver options")
}

// processOptions returns the solver options record: the built-in periodic
// hill case, or a YAML override if one was supplied.
func processOptions(ir *InvertRun) (opts *daoptions.Options) {
	if len(ir.OptionsFile) == 0 {
		return daoptions.PeriodicHill()
	}
	data, err := os.ReadFile(ir.OptionsFile)
	if err != nil {
		panic(err)
	}
	opts = &daoptions.Options{}
	if err = opts.Parse(data); err != nil {
		panic(err)
	}
	return
}

// buildProblem assembles the computation graph: the independent design
// variable source, the flow/adjoint scenario, and the composite objective.
func buildProblem(opts *daoptions.Options, builder solver.Builder) (*mdo.Problem, error) {
	prob := mdo.NewProblem()

	// design variable source, promoted to the top level
	dvs := mdo.NewIndepVarComp("dvs")
	beta := make([]float64, builder.NumCells())
	for i := range beta {
		beta[i] = 1.0
	}
	dvs.AddOutput("beta", beta, false)
	if err := prob.AddSubsystem(dvs); err != nil {
		return nil, err
	}

	// flow condition wrapping the solver builder
	if err := prob.AddScenario(mdo.NewScenario("scenario1", builder, opts)); err != nil {
		return nil, err
	}

	// composite objective
	obj, err := mdo.NewExecComp("obj", "val=error+regulation")
	if err != nil {
		return nil, err
	}
	if err := prob.AddSubsystem(obj); err != nil {
		return nil, err
	}

	prob.Connect("beta", "scenario1.beta")
	prob.Connect("scenario1.aero_post.UFieldVar", "obj.error")
	prob.Connect("scenario1.aero_post.betaVar", "obj.regulation")

	prob.AddDesignVar("beta", -5.0, 10.0, 1.0)
	prob.AddObjective("obj.val", 1.0)
	return prob, nil
}

// RunInversion sets up the problem, selects the optimizer back end and
// dispatches the requested task. Unrecognized optimizer or task tokens are
// fatal.
func RunInversion(ir *InvertRun, opts *daoptions.Options) {
	builder := solver.NewSurrogate(opts, daoptions.NCells)
	prob, err := buildProblem(opts, builder)
	if err != nil {
		panic(err)
	}
	if err = prob.Setup(); err != nil {
		panic(err)
	}
	if err = prob.WriteDiagram(diagramFile); err != nil {
		panic(err)
	}

	settings, err := driver.Select(ir.Optimizer)
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}

	task, err := mdo.ParseTask(ir.Task)
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}

	switch task {
	case mdo.RunDriver:
		// run the optimization
		if err = driver.New(settings).RunDriver(prob); err != nil {
			panic(err)
		}
	case mdo.RunModel:
		// just run the primal once
		if err = prob.RunModel(); err != nil {
			panic(err)
		}
	case mdo.ComputeTotals:
		// just run the primal and adjoint once
		if err = prob.RunModel(); err != nil {
			panic(err)
		}
		totals, err := prob.ComputeTotals()
		if err != nil {
			panic(err)
		}
		mdo.ReportTotals(os.Stdout, utils.WorldComm(), totals)
	case mdo.CheckTotals:
		// verify the total derivatives against the finite-difference
		if err = prob.RunModel(); err != nil {
			panic(err)
		}
		_, err = prob.CheckTotals(os.Stdout, mdo.CheckOptions{
			Step:         1e-3,
			Form:         "central",
			StepCalc:     "abs",
			CompactPrint: false,
		})
		if err != nil {
			panic(err)
		}
	}
}
