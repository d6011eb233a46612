package engine

import (
	"errors"
	"time"

	"github.com/provisr-io/provisr/internal/ir"
)

// MaterializeOutputs resolves every declared program output against a
// finished run. Each output yields either its final value or the failure
// chain that blocked it; one blocked output never hides another's value.
func MaterializeOutputs(g *Graph, run *Run) map[string]*ir.OutputResult {
	results := make(map[string]*ir.OutputResult, len(g.Outputs()))
	for name, expr := range g.Outputs() {
		val, err := resolveInputs(expr, run.Records)
		if err != nil {
			results[name] = &ir.OutputResult{Error: err.Error()}
			continue
		}
		results[name] = &ir.OutputResult{Value: val}
	}
	return results
}

// Report assembles the serializable run record: per-resource outcomes plus
// materialized outputs.
func Report(g *Graph, run *Run) *ir.RunReport {
	report := &ir.RunReport{
		StartedAt:  run.StartedAt.Format(time.RFC3339),
		FinishedAt: run.FinishedAt.Format(time.RFC3339),
		Outputs:    MaterializeOutputs(g, run),
	}

	for _, addr := range g.CreationOrder() {
		rec := run.Records[addr]
		result := &ir.ResourceResult{
			Address:  addr,
			Kind:     rec.Resource.Kind,
			Name:     rec.Resource.Name,
			Provider: rec.Resource.Provider,
			State:    rec.State.String(),
			Attempts: rec.Attempts,
			Outputs:  rec.Outputs,
		}
		if rec.Err != nil {
			result.Error = rec.Err.Error()
		}
		report.Resources = append(report.Resources, result)
	}

	return report
}

// FailureChain renders the dependency chain behind a cascade failure,
// innermost cause last.
func FailureChain(err error) []string {
	var chain []string
	for err != nil {
		var depErr *DependencyError
		var resErr *ResourceFailedError
		switch {
		case errors.As(err, &depErr):
			chain = append(chain, depErr.Address)
			err = depErr.Err
		case errors.As(err, &resErr):
			chain = append(chain, resErr.Address)
			err = resErr.Err
		default:
			return chain
		}
	}
	return chain
}
