package deferred

import (
	"errors"
	"fmt"
	"math"
	"sync"
)

// ErrNotResolved is returned when a value is read before the provisioning
// step backing it has completed. Callers outside the scheduler's resolution
// path must treat this as a programming error, not something to wait on.
var ErrNotResolved = errors.New("deferred value not yet resolved")

// Value is a handle for a value that may only become known after some
// provisioning operation completes. A Value is either a literal, a pending
// cell tied to a resource's output attribute, or a derived cell holding a
// transformation over other Values.
//
// Resolution is write-once: a resolved Value never changes, and concurrent
// readers see either ErrNotResolved or the final value.
type Value struct {
	mu sync.Mutex

	resolved bool
	val      any
	err      error

	// Set for pending cells only.
	pending   bool
	resource  string
	attribute string

	// Set for derived cells only.
	inputs []*Value
	fn     func([]any) (any, error)
}

// Of wraps an already-known literal.
func Of(v any) *Value {
	return &Value{resolved: true, val: v}
}

// Pending returns a cell that resolves when the named resource is created
// and exposes the given output attribute. The scheduler is the sole writer.
func Pending(resource, attribute string) *Value {
	return &Value{pending: true, resource: resource, attribute: attribute}
}

// Map returns a derived cell that applies fn to v's resolved value.
// fn must be pure; it is invoked at most once.
func (v *Value) Map(fn func(any) (any, error)) *Value {
	return &Value{
		inputs: []*Value{v},
		fn: func(args []any) (any, error) {
			return fn(args[0])
		},
	}
}

// Join returns a derived cell resolving to the ordered slice of each input's
// resolved value once all inputs resolve.
func Join(vs ...*Value) *Value {
	inputs := make([]*Value, len(vs))
	copy(inputs, vs)
	return &Value{
		inputs: inputs,
		fn: func(args []any) (any, error) {
			out := make([]any, len(args))
			copy(out, args)
			return out, nil
		},
	}
}

// Resolve returns the value if it is available. Unresolved pending cells
// return ErrNotResolved; a failed upstream resource returns the failure.
// Derived cells compute their transformation on first successful read and
// cache the result.
func (v *Value) Resolve() (any, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.resolved {
		return v.val, v.err
	}
	if v.pending {
		return nil, ErrNotResolved
	}

	// Derived cell: resolve every input first.
	args := make([]any, len(v.inputs))
	for i, in := range v.inputs {
		val, err := in.Resolve()
		if err != nil {
			// Do not cache ErrNotResolved; the cell may still resolve later.
			if errors.Is(err, ErrNotResolved) {
				return nil, ErrNotResolved
			}
			v.resolved = true
			v.err = err
			return nil, v.err
		}
		args[i] = val
	}

	val, err := v.fn(args)
	v.resolved = true
	v.val, v.err = val, err
	return v.val, v.err
}

// Fulfill resolves a pending cell with its final value. It is an error to
// fulfill a non-pending cell or to resolve the same cell twice.
func (v *Value) Fulfill(val any) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if !v.pending {
		return fmt.Errorf("cannot fulfill non-pending value")
	}
	if v.resolved {
		return fmt.Errorf("value for %s.%s already resolved", v.resource, v.attribute)
	}
	v.resolved = true
	v.val = val
	return nil
}

// Fail resolves a pending cell to an error, typically because the resource
// backing it failed to provision. Write-once like Fulfill.
func (v *Value) Fail(err error) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if !v.pending {
		return fmt.Errorf("cannot fail non-pending value")
	}
	if v.resolved {
		return fmt.Errorf("value for %s.%s already resolved", v.resource, v.attribute)
	}
	v.resolved = true
	v.err = err
	return nil
}

// Source reports the resource and attribute a pending cell is tied to.
// Both are empty for literals and derived cells.
func (v *Value) Source() (resource, attribute string) {
	return v.resource, v.attribute
}

// Dependencies returns the names of every resource this value transitively
// references. The graph builder uses this to record dependency edges
// statically instead of inferring them during resolution.
func (v *Value) Dependencies() []string {
	seen := make(map[string]bool)
	v.collectDeps(seen)
	deps := make([]string, 0, len(seen))
	for name := range seen {
		deps = append(deps, name)
	}
	return deps
}

// PendingCells returns every pending cell reachable from this value. The
// scheduler fulfills these as their backing resources are created.
func (v *Value) PendingCells() []*Value {
	var cells []*Value
	v.collectPending(&cells)
	return cells
}

func (v *Value) collectPending(cells *[]*Value) {
	if v.pending {
		*cells = append(*cells, v)
		return
	}
	for _, in := range v.inputs {
		in.collectPending(cells)
	}
}

func (v *Value) collectDeps(seen map[string]bool) {
	if v.pending {
		seen[v.resource] = true
		return
	}
	for _, in := range v.inputs {
		in.collectDeps(seen)
	}
}

// AsInt coerces a resolved scalar to int, rounding floating point values.
// Some providers return numeric attributes as wider types (e.g. float64 from
// JSON decoding), so output expressions coerce at materialization time.
func AsInt(v any) (int, error) {
	switch n := v.(type) {
	case int:
		return n, nil
	case int32:
		return int(n), nil
	case int64:
		return int(n), nil
	case float32:
		return int(math.Round(float64(n))), nil
	case float64:
		return int(math.Round(n)), nil
	default:
		return 0, fmt.Errorf("cannot coerce %T to int", v)
	}
}
