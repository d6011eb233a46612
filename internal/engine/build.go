package engine

import (
	"sync"

	"github.com/provisr-io/provisr/internal/deferred"
	"github.com/provisr-io/provisr/internal/ir"
	"github.com/provisr-io/provisr/internal/naming"
)

// Builder is the programmatic declaration surface: declare resources, wire
// their not-yet-known outputs into other declarations and exported outputs,
// then build the graph. Declaration never blocks; nothing is provisioned
// until the engine executes the built graph.
type Builder struct {
	mu      sync.Mutex
	names   *naming.Assigner
	program *ir.Program
}

func NewBuilder() *Builder {
	return &Builder{
		names: naming.NewAssigner(),
		program: &ir.Program{
			Outputs: make(map[string]any),
		},
	}
}

// Handle refers to a declared resource. Its Output cells are stable: two
// calls for the same attribute return the same deferred cell.
type Handle struct {
	mu    sync.Mutex
	res   *ir.Resource
	cells map[string]*deferred.Value
}

// Declare adds a resource declaration. Inputs may contain literals and
// deferred values from other handles' outputs; referencing an output induces
// a dependency edge at graph build.
func (b *Builder) Declare(providerName, kind, name string, inputs map[string]any) *Handle {
	return b.declare(providerName, kind, b.names.Assign(name), inputs)
}

// DeclareEach adds one declaration per identifying content under a shared
// base name, disambiguated with a deterministic content-hash suffix. Used
// for repeated sub-resources such as several policy attachments on one role.
func (b *Builder) DeclareEach(providerName, kind, baseName string, contents []string, inputs func(content string) map[string]any) []*Handle {
	handles := make([]*Handle, 0, len(contents))
	for _, content := range contents {
		name := b.names.AssignWithSuffix(baseName, content)
		handles = append(handles, b.declare(providerName, kind, name, inputs(content)))
	}
	return handles
}

func (b *Builder) declare(providerName, kind, name string, inputs map[string]any) *Handle {
	res := &ir.Resource{
		Kind:     kind,
		Name:     name,
		Provider: providerName,
		Inputs:   inputs,
	}
	b.mu.Lock()
	b.program.Resources = append(b.program.Resources, res)
	b.mu.Unlock()
	return &Handle{res: res, cells: make(map[string]*deferred.Value)}
}

// Export declares a program output. The value may be a literal, a deferred
// expression, or a structure containing either.
func (b *Builder) Export(name string, value any) {
	b.mu.Lock()
	b.program.Outputs[name] = value
	b.mu.Unlock()
}

// ConfigureProvider sets program-level settings for a provider, applied
// when the engine loads the capability.
func (b *Builder) ConfigureProvider(name string, settings map[string]any) {
	b.mu.Lock()
	if b.program.Providers == nil {
		b.program.Providers = make(map[string]map[string]any)
	}
	b.program.Providers[name] = settings
	b.mu.Unlock()
}

// Program returns the declared program, ready for BuildGraph.
func (b *Builder) Program() *ir.Program {
	return b.program
}

// Name returns the assigned logical name.
func (h *Handle) Name() string {
	return h.res.Name
}

// Addr returns the resource address.
func (h *Handle) Addr() string {
	return h.res.Addr()
}

// Output returns the deferred cell for one of the resource's output
// attributes. It resolves once the resource is created.
func (h *Handle) Output(attribute string) *deferred.Value {
	h.mu.Lock()
	defer h.mu.Unlock()

	cell, ok := h.cells[attribute]
	if !ok {
		cell = deferred.Pending(h.res.Addr(), attribute)
		h.cells[attribute] = cell
	}
	return cell
}

// DependsOn adds an explicit ordering edge to another resource, for
// dependencies that no value reference expresses.
func (h *Handle) DependsOn(others ...*Handle) *Handle {
	for _, other := range others {
		h.res.DependsOn = append(h.res.DependsOn, other.res.Addr())
	}
	return h
}
