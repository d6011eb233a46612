// Package static is an in-memory capability used by tests, examples, and
// dry runs. It provisions nothing: a resource's outputs are its inputs plus
// a synthetic id. Creation is idempotent on the assigned name. The reserved
// inputs delayMs, failUntil, and failWith script latency and failures.
package static

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/provisr-io/provisr/pkg/provider"
)

type Provider struct {
	mu      sync.Mutex
	created map[string]map[string]any // name -> outputs
	calls   map[string]int
}

func New() *Provider {
	return &Provider{
		created: make(map[string]map[string]any),
		calls:   make(map[string]int),
	}
}

func (p *Provider) Configure(ctx context.Context, settings map[string]any) error {
	return nil
}

func (p *Provider) Kinds() []string {
	return []string{"static.value"}
}

func (p *Provider) Create(ctx context.Context, req *provider.CreateRequest) (*provider.CreateResponse, error) {
	if req.Kind != "static.value" {
		return nil, provider.NewPermanent("create", fmt.Errorf("unsupported kind %q", req.Kind)).
			WithResource(req.Kind, req.Name)
	}

	p.mu.Lock()
	calls := p.calls[req.Name] + 1
	p.calls[req.Name] = calls
	p.mu.Unlock()

	// Scripted behavior for tests and dry runs. failUntil fails the first
	// N attempts transiently; failWith = "permanent" fails every attempt.
	if delay, err := durationInput(req.Inputs, "delayMs"); err != nil {
		return nil, provider.NewPermanent("create", err).WithResource(req.Kind, req.Name)
	} else if delay > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}
	if req.Inputs["failWith"] == "permanent" {
		return nil, provider.NewPermanent("create", fmt.Errorf("scripted permanent failure")).
			WithResource(req.Kind, req.Name)
	}
	if n, ok := intInput(req.Inputs, "failUntil"); ok && calls <= n {
		return nil, provider.NewTransient("create", fmt.Errorf("scripted transient failure %d", calls)).
			WithResource(req.Kind, req.Name)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	// Idempotent on name: a retried create returns the existing resource.
	if outputs, ok := p.created[req.Name]; ok {
		return &provider.CreateResponse{Outputs: outputs}, nil
	}

	outputs := make(map[string]any, len(req.Inputs)+1)
	for k, v := range req.Inputs {
		outputs[k] = v
	}
	outputs["id"] = "static-" + req.Name

	p.created[req.Name] = outputs
	return &provider.CreateResponse{Outputs: outputs}, nil
}

func durationInput(inputs map[string]any, key string) (time.Duration, error) {
	n, ok := intInput(inputs, key)
	if !ok {
		if _, present := inputs[key]; present {
			return 0, fmt.Errorf("input %q must be a number", key)
		}
		return 0, nil
	}
	return time.Duration(n) * time.Millisecond, nil
}

func intInput(inputs map[string]any, key string) (int, bool) {
	switch n := inputs[key].(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	}
	return 0, false
}

// CreateCalls reports how many times Create was invoked for a name. Tests
// use this to assert at-most-one physical creation.
func (p *Provider) CreateCalls(name string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls[name]
}
