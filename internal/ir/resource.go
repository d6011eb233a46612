package ir

// Resource is a single declared resource. It is immutable after the program
// is loaded; runtime state lives in the scheduler's provisioning records.
type Resource struct {
	Kind      string         `pkl:"kind"` // e.g. "aws.eks.Cluster"
	Name      string         `pkl:"name"`
	Provider  string         `pkl:"provider"`
	DependsOn []string       `pkl:"dependsOn"`
	Inputs    map[string]any `pkl:"inputs"` // literals, ref:// strings, or deferred values
}

// Addr returns the resource address (kind.name), unique per program.
func (r *Resource) Addr() string {
	kind := r.Kind
	if kind == "" {
		kind = "static.value"
	}
	return kind + "." + r.Name
}
