package engine

import (
	"fmt"
	"strings"

	"github.com/provisr-io/provisr/internal/deferred"
	"github.com/provisr-io/provisr/internal/ir"
)

// Graph is the directed acyclic provisioning graph for one program. It owns
// the declarations and dependency edges; the scheduler walks it.
type Graph struct {
	resources map[string]*ir.Resource
	nodes     map[string]*graphNode
	order     []string // topological creation order
	cells     map[string][]*deferred.Value
	cellSeen  map[*deferred.Value]bool
	outputs   map[string]any
	providers map[string]map[string]any
}

type graphNode struct {
	addr     string
	edges    []string // resources this node depends on
	revEdges []string // resources that depend on this node
}

// BuildGraph constructs the dependency graph from a program. Dependencies
// come from three places: explicit DependsOn, ref:// strings inside input
// trees, and deferred values wired by the builder API. Cycles and dangling
// references are rejected here, before any provisioning starts.
func BuildGraph(prog *ir.Program) (*Graph, error) {
	g := &Graph{
		resources: make(map[string]*ir.Resource),
		nodes:     make(map[string]*graphNode),
		cells:     make(map[string][]*deferred.Value),
		cellSeen:  make(map[*deferred.Value]bool),
		outputs:   prog.Outputs,
		providers: prog.Providers,
	}

	for _, res := range prog.Resources {
		addr := res.Addr()
		if _, dup := g.resources[addr]; dup {
			return nil, configErrorf("duplicate resource %s", addr)
		}
		g.resources[addr] = res
		g.nodes[addr] = &graphNode{addr: addr}
	}

	for _, res := range prog.Resources {
		addr := res.Addr()
		node := g.nodes[addr]

		for _, dep := range res.DependsOn {
			if _, ok := g.nodes[dep]; !ok {
				return nil, configErrorf("%s depends on unknown resource %s", addr, dep)
			}
			node.edges = append(node.edges, dep)
		}

		deps, err := g.indexValue(addr, res.Inputs)
		if err != nil {
			return nil, err
		}
		node.edges = append(node.edges, deps...)
	}

	// Program outputs also carry deferred cells and refs; they induce no
	// edges between resources but must reference declared resources.
	if _, err := g.indexValue("", prog.Outputs); err != nil {
		return nil, err
	}

	for addr, node := range g.nodes {
		for _, dep := range node.edges {
			g.nodes[dep].revEdges = append(g.nodes[dep].revEdges, addr)
		}
	}

	order, err := g.topoSort()
	if err != nil {
		return nil, err
	}
	g.order = order

	return g, nil
}

// indexValue walks an input or output tree, registering pending deferred
// cells by their source resource and returning the dependencies the tree
// references. owner is empty for program outputs.
func (g *Graph) indexValue(owner string, v any) ([]string, error) {
	var deps []string

	switch val := v.(type) {
	case *deferred.Value:
		for _, cell := range val.PendingCells() {
			src, _ := cell.Source()
			if _, ok := g.resources[src]; !ok {
				return nil, configErrorf("deferred value references unknown resource %s", src)
			}
			if !g.cellSeen[cell] {
				g.cellSeen[cell] = true
				g.cells[src] = append(g.cells[src], cell)
			}
			if owner != "" {
				deps = append(deps, src)
			}
		}
	case string:
		if strings.HasPrefix(val, refScheme) {
			src, _, err := parseRef(val)
			if err != nil {
				return nil, err
			}
			if _, ok := g.resources[src]; !ok {
				return nil, configErrorf("reference %s names unknown resource %s", val, src)
			}
			if owner != "" {
				deps = append(deps, src)
			}
		}
	case map[string]any:
		for _, elem := range val {
			d, err := g.indexValue(owner, elem)
			if err != nil {
				return nil, err
			}
			deps = append(deps, d...)
		}
	case []any:
		for _, elem := range val {
			d, err := g.indexValue(owner, elem)
			if err != nil {
				return nil, err
			}
			deps = append(deps, d...)
		}
	}

	return deps, nil
}

// CreationOrder returns resource addresses in dependency-respecting order.
func (g *Graph) CreationOrder() []string {
	return g.order
}

// Dependencies returns the prerequisite addresses of a resource.
func (g *Graph) Dependencies(addr string) []string {
	if node, ok := g.nodes[addr]; ok {
		return node.edges
	}
	return nil
}

// Resource returns the declaration at addr, or nil.
func (g *Graph) Resource(addr string) *ir.Resource {
	return g.resources[addr]
}

// Outputs returns the program's declared output expressions.
func (g *Graph) Outputs() map[string]any {
	return g.outputs
}

// ProviderSettings returns the program-level settings for a provider,
// or nil when the program declares none.
func (g *Graph) ProviderSettings(name string) map[string]any {
	return g.providers[name]
}

// pendingCells returns the deferred cells tied to a resource's outputs.
func (g *Graph) pendingCells(addr string) []*deferred.Value {
	return g.cells[addr]
}

// topoSort runs Kahn's algorithm; a leftover node means a cycle.
func (g *Graph) topoSort() ([]string, error) {
	inDegree := make(map[string]int, len(g.nodes))
	for addr, node := range g.nodes {
		inDegree[addr] = len(node.edges)
	}

	var queue []string
	for addr, deg := range inDegree {
		if deg == 0 {
			queue = append(queue, addr)
		}
	}

	var sorted []string
	for len(queue) > 0 {
		addr := queue[0]
		queue = queue[1:]
		sorted = append(sorted, addr)

		for _, dependent := range g.nodes[addr].revEdges {
			inDegree[dependent]--
			if inDegree[dependent] == 0 {
				queue = append(queue, dependent)
			}
		}
	}

	if len(sorted) != len(g.nodes) {
		var stuck []string
		for addr, deg := range inDegree {
			if deg > 0 {
				stuck = append(stuck, addr)
			}
		}
		return nil, configErrorf("dependency cycle involving %s", strings.Join(stuck, ", "))
	}

	return sorted, nil
}

const refScheme = "ref://"

// parseRef splits a ref://kind.name/attribute string into the source
// resource address and the attribute name.
func parseRef(ref string) (addr, attribute string, err error) {
	path := strings.TrimPrefix(ref, refScheme)
	parts := strings.SplitN(path, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", configErrorf("malformed reference %q, want ref://kind.name/attribute", ref)
	}
	return parts[0], parts[1], nil
}

// MakeRef formats a reference string for an output attribute of a resource.
func MakeRef(res *ir.Resource, attribute string) string {
	return fmt.Sprintf("%s%s/%s", refScheme, res.Addr(), attribute)
}
