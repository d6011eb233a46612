package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/provisr-io/provisr/internal/deferred"
	"github.com/provisr-io/provisr/internal/ir"
	"github.com/provisr-io/provisr/internal/logging"
	"github.com/provisr-io/provisr/internal/provider"
	sdk "github.com/provisr-io/provisr/pkg/provider"
)

const defaultParallelism = 10

// State is a resource's position in the provisioning state machine.
type State int

const (
	StatePending State = iota
	StateReady
	StateCreating
	StateRetrying
	StateCreated
	StateFailed
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateReady:
		return "ready"
	case StateCreating:
		return "creating"
	case StateRetrying:
		return "retrying"
	case StateCreated:
		return "created"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Record is the per-resource runtime state. Records are owned by the
// scheduler; only the goroutine responsible for a resource mutates its
// record, under the run lock.
type Record struct {
	Resource *ir.Resource
	Address  string
	State    State
	Attempts int
	Err      error
	Outputs  map[string]any
}

// Event reports scheduler progress for one resource.
type Event struct {
	Address  string
	Status   string // "started", "retrying", "completed", "failed"
	Attempt  int
	Duration time.Duration
	Error    error
}

// Callback is invoked for each scheduler event if set.
type Callback func(event Event)

// Run holds the outcome of one scheduler execution.
type Run struct {
	Records    map[string]*Record
	StartedAt  time.Time
	FinishedAt time.Time
}

// Engine drives the provisioning of a graph against provider capabilities.
type Engine struct {
	registry *provider.Registry

	// Parallelism bounds simultaneously in-flight creates. Zero means the
	// default.
	Parallelism int

	// Retry is the transient-failure policy; nil means the default.
	Retry *RetryPolicy

	// CreateTimeout bounds a single create attempt, including the
	// capability's internal polling. Zero means the default.
	CreateTimeout time.Duration
}

func NewEngine(registry *provider.Registry) *Engine {
	return &Engine{registry: registry}
}

// Execute provisions every resource in the graph.
func (e *Engine) Execute(ctx context.Context, g *Graph) (*Run, error) {
	return e.ExecuteWithCallback(ctx, g, nil)
}

// ExecuteWithCallback provisions every resource in the graph, reporting
// progress events. Independent resources run concurrently; a resource never
// starts before all its prerequisites are created. Failures are contained
// per resource: a permanent failure cascades to transitive dependents while
// independent branches keep going. The returned error aggregates all
// resource failures; the Run always reflects partial success.
func (e *Engine) ExecuteWithCallback(ctx context.Context, g *Graph, callback Callback) (*Run, error) {
	run := &Run{
		Records:   make(map[string]*Record),
		StartedAt: time.Now().UTC(),
	}

	emit := func(event Event) {
		if callback != nil {
			callback(event)
		}
	}

	for _, addr := range g.CreationOrder() {
		res := g.Resource(addr)
		run.Records[addr] = &Record{Resource: res, Address: addr, State: StatePending}
		if err := e.ensureProvider(ctx, res.Provider, g.ProviderSettings(res.Provider)); err != nil {
			return nil, err
		}
	}

	var mu sync.Mutex
	cond := sync.NewCond(&mu)
	sem := make(chan struct{}, e.parallelism())
	var wg sync.WaitGroup

	for _, addr := range g.CreationOrder() {
		wg.Add(1)
		go func(addr string) {
			defer wg.Done()
			e.provision(ctx, g, run, addr, &mu, cond, sem, emit)
		}(addr)
	}

	wg.Wait()
	run.FinishedAt = time.Now().UTC()

	var errs []error
	for _, addr := range g.CreationOrder() {
		if rec := run.Records[addr]; rec.State == StateFailed {
			errs = append(errs, rec.Err)
		}
	}
	if len(errs) > 0 {
		return run, fmt.Errorf("%d resource(s) failed: %w", len(errs), errors.Join(errs...))
	}
	return run, nil
}

// provision runs one resource's lifecycle: wait for prerequisites, dispatch
// the capability with retry, publish outputs. Exactly one goroutine handles
// each resource, so creation is serialized per logical name and a retry can
// never race a second in-flight create.
func (e *Engine) provision(ctx context.Context, g *Graph, run *Run, addr string, mu *sync.Mutex, cond *sync.Cond, sem chan struct{}, emit func(Event)) {
	rec := run.Records[addr]
	deps := g.Dependencies(addr)

	mu.Lock()
	for {
		if err := ctx.Err(); err != nil {
			final := e.failLocked(g, run, rec, fmt.Errorf("run cancelled: %w", err))
			cond.Broadcast()
			mu.Unlock()
			emit(Event{Address: addr, Status: "failed", Error: final})
			return
		}

		allReady := true
		for _, dep := range deps {
			depRec := run.Records[dep]
			if depRec.State == StateFailed {
				final := e.failLocked(g, run, rec, &DependencyError{
					Address:    addr,
					Dependency: dep,
					Err:        depRec.Err,
				})
				cond.Broadcast()
				mu.Unlock()
				emit(Event{Address: addr, Status: "failed", Error: final})
				return
			}
			if depRec.State != StateCreated {
				allReady = false
			}
		}
		if allReady {
			break
		}
		cond.Wait()
	}
	rec.State = StateReady
	mu.Unlock()

	sem <- struct{}{}
	defer func() { <-sem }()

	start := time.Now()
	emit(Event{Address: addr, Status: "started"})
	logging.Debug("provisioning resource", "address", addr, "provider", rec.Resource.Provider)

	mu.Lock()
	resolved, err := resolveInputs(rec.Resource.Inputs, run.Records)
	if err == nil {
		rec.State = StateCreating
	}
	mu.Unlock()
	if err != nil {
		final := e.fail(g, run, rec, mu, cond, fmt.Errorf("resolving inputs for %s: %w", addr, err))
		emit(Event{Address: addr, Status: "failed", Duration: time.Since(start), Error: final})
		return
	}
	inputs, _ := resolved.(map[string]any)

	capability, err := e.registry.Get(rec.Resource.Provider)
	if err != nil {
		final := e.fail(g, run, rec, mu, cond, err)
		emit(Event{Address: addr, Status: "failed", Duration: time.Since(start), Error: final})
		return
	}

	var resp *sdk.CreateResponse
	err = retryWithBackoff(ctx, e.Retry, func() error {
		mu.Lock()
		rec.Attempts++
		rec.State = StateCreating
		mu.Unlock()

		cctx, cancel := context.WithTimeout(ctx, e.createTimeout())
		defer cancel()

		var createErr error
		resp, createErr = capability.Create(cctx, &sdk.CreateRequest{
			Kind:   rec.Resource.Kind,
			Name:   rec.Resource.Name,
			Inputs: inputs,
		})
		return createErr
	}, func(attempt int, attemptErr error) {
		mu.Lock()
		rec.State = StateRetrying
		mu.Unlock()
		logging.Warn("transient failure, retrying", "address", addr, "attempt", attempt, "error", attemptErr)
		emit(Event{Address: addr, Status: "retrying", Attempt: attempt, Error: attemptErr})
	})

	if err != nil {
		final := e.fail(g, run, rec, mu, cond, fmt.Errorf("create failed for %s: %w", addr, err))
		mu.Lock()
		attempts := rec.Attempts
		mu.Unlock()
		emit(Event{Address: addr, Status: "failed", Attempt: attempts, Duration: time.Since(start), Error: final})
		return
	}

	mu.Lock()
	rec.Outputs = resp.Outputs
	rec.State = StateCreated
	attempts := rec.Attempts
	for _, cell := range g.pendingCells(addr) {
		_, attribute := cell.Source()
		if val, ok := resp.Outputs[attribute]; ok {
			_ = cell.Fulfill(val)
		} else {
			_ = cell.Fail(fmt.Errorf("resource %s has no output attribute %q", addr, attribute))
		}
	}
	mu.Unlock()
	cond.Broadcast()

	emit(Event{Address: addr, Status: "completed", Attempt: attempts, Duration: time.Since(start)})
}

func (e *Engine) fail(g *Graph, run *Run, rec *Record, mu *sync.Mutex, cond *sync.Cond, err error) error {
	mu.Lock()
	final := e.failLocked(g, run, rec, err)
	mu.Unlock()
	cond.Broadcast()
	return final
}

// failLocked marks a record failed and fails every deferred cell tied to its
// outputs so dependent expressions resolve to an error naming this resource.
// Returns the recorded error.
func (e *Engine) failLocked(g *Graph, run *Run, rec *Record, err error) error {
	cause := err
	var depErr *DependencyError
	if !errors.As(err, &depErr) {
		cause = &ResourceFailedError{Address: rec.Address, Err: err}
	}
	rec.State = StateFailed
	rec.Err = cause
	for _, cell := range g.pendingCells(rec.Address) {
		_ = cell.Fail(cause)
	}
	logging.Error("resource failed", "address", rec.Address, "error", err)
	return cause
}

// ensureProvider lazily loads a built-in capability unless one is already
// registered under the name (tests register fakes directly). Freshly
// loaded capabilities receive the program's provider settings.
func (e *Engine) ensureProvider(ctx context.Context, name string, settings map[string]any) error {
	if _, err := e.registry.Get(name); err == nil {
		return nil
	}
	if err := e.registry.Load(name); err != nil {
		return err
	}
	c, err := e.registry.Get(name)
	if err != nil {
		return err
	}
	if err := c.Configure(ctx, settings); err != nil {
		return fmt.Errorf("failed to configure provider %s: %w", name, err)
	}
	return nil
}

func (e *Engine) parallelism() int {
	if e.Parallelism > 0 {
		return e.Parallelism
	}
	return defaultParallelism
}

func (e *Engine) createTimeout() time.Duration {
	if e.CreateTimeout > 0 {
		return e.CreateTimeout
	}
	return DefaultCreateTimeout
}

// resolveInputs rewrites an input tree into fully known values: ref://
// strings are looked up in created resources' outputs and deferred values
// are resolved. Called only after every prerequisite is created.
func resolveInputs(v any, records map[string]*Record) (any, error) {
	switch val := v.(type) {
	case *deferred.Value:
		resolved, err := val.Resolve()
		if err != nil {
			return nil, err
		}
		return resolved, nil
	case string:
		if !strings.HasPrefix(val, refScheme) {
			return val, nil
		}
		addr, attribute, err := parseRef(val)
		if err != nil {
			return nil, err
		}
		rec, ok := records[addr]
		if !ok {
			return nil, fmt.Errorf("reference %s: unknown resource", val)
		}
		if rec.State != StateCreated {
			// A failed record carries the failure chain; surface it.
			if rec.Err != nil {
				return nil, fmt.Errorf("reference %s: %w", val, rec.Err)
			}
			return nil, fmt.Errorf("reference %s: resource not created", val)
		}
		out, ok := rec.Outputs[attribute]
		if !ok {
			return nil, fmt.Errorf("reference %s: resource has no output attribute %q", val, attribute)
		}
		return out, nil
	case map[string]any:
		resolved := make(map[string]any, len(val))
		for k, elem := range val {
			r, err := resolveInputs(elem, records)
			if err != nil {
				return nil, err
			}
			resolved[k] = r
		}
		return resolved, nil
	case []any:
		resolved := make([]any, len(val))
		for i, elem := range val {
			r, err := resolveInputs(elem, records)
			if err != nil {
				return nil, err
			}
			resolved[i] = r
		}
		return resolved, nil
	default:
		return val, nil
	}
}
