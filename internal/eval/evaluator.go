package eval

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/apple/pkl-go/pkl"

	"github.com/provisr-io/provisr/internal/ir"
)

// Evaluator turns PKL program files into IR.
type Evaluator struct {
	projectDir string
}

func NewEvaluator(projectDir string) *Evaluator {
	return &Evaluator{
		projectDir: projectDir,
	}
}

// LoadProgram evaluates the program entry point and returns the declared
// resource set. External properties (-D flags) are visible to the PKL
// module through read("prop:...").
func (e *Evaluator) LoadProgram(ctx context.Context, entryPoint string, properties map[string]string) (*ir.Program, error) {
	if !filepath.IsAbs(entryPoint) {
		entryPoint = filepath.Join(e.projectDir, entryPoint)
	}
	if _, err := os.Stat(entryPoint); err != nil {
		return nil, fmt.Errorf("program file %s: %w", entryPoint, err)
	}

	opts := []func(*pkl.EvaluatorOptions){pkl.PreconfiguredOptions}
	if len(properties) > 0 {
		opts = append(opts, func(o *pkl.EvaluatorOptions) {
			if o.Properties == nil {
				o.Properties = make(map[string]string)
			}
			for k, v := range properties {
				o.Properties[k] = v
			}
		})
	}

	evaluator, err := pkl.NewEvaluator(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create PKL evaluator: %w", err)
	}
	defer evaluator.Close()

	var prog ir.Program
	if err := evaluator.EvaluateModule(ctx, pkl.FileSource(entryPoint), &prog); err != nil {
		return nil, fmt.Errorf("failed to evaluate program: %w", err)
	}

	return &prog, nil
}
