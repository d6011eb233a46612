// Package provider defines the capability contract each backend implements.
// The engine never talks to a cloud or cluster API directly; it hands a
// capability fully resolved inputs and receives output attributes back.
package provider

import "context"

// CreateRequest carries everything a capability needs to provision one
// resource. Inputs are fully resolved: the scheduler guarantees no call is
// made until every referenced upstream value is known.
type CreateRequest struct {
	Kind   string
	Name   string // assigned logical name; creation must be idempotent on it
	Inputs map[string]any
}

// CreateResponse is the attribute map a capability returns once the resource
// exists. Attributes that require a secondary wait (a cluster going ACTIVE,
// a load balancer hostname being assigned) are polled by the capability
// before it returns.
type CreateResponse struct {
	Outputs map[string]any
}

// Capability is implemented once per backend. A single capability may serve
// several resource kinds.
type Capability interface {
	// Configure prepares the capability with provider-level settings
	// (region, credentials source, kubeconfig). Called once before any
	// Create.
	Configure(ctx context.Context, settings map[string]any) error

	// Kinds lists the resource kinds this capability can create.
	Kinds() []string

	// Create provisions one resource. Invoking Create twice with the same
	// name and inputs (as happens after a retry) must not produce duplicate
	// physical resources.
	Create(ctx context.Context, req *CreateRequest) (*CreateResponse, error)
}
