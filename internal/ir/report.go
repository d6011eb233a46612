package ir

// RunReport is the serializable record of one provisioning run. It is an
// opaque sink: the engine writes it for operators and never reads it back.
type RunReport struct {
	StartedAt  string                   `json:"startedAt"`
	FinishedAt string                   `json:"finishedAt"`
	Resources  []*ResourceResult        `json:"resources"`
	Outputs    map[string]*OutputResult `json:"outputs"`
}

// ResourceResult is the final per-resource outcome of a run.
type ResourceResult struct {
	Address  string         `json:"address"`
	Kind     string         `json:"kind"`
	Name     string         `json:"name"`
	Provider string         `json:"provider"`
	State    string         `json:"state"` // "created" or "failed"
	Attempts int            `json:"attempts"`
	Error    string         `json:"error,omitempty"`
	Outputs  map[string]any `json:"outputs,omitempty"`
}

// OutputResult is a materialized program output: either its resolved value
// or the failure chain that blocked it.
type OutputResult struct {
	Value any    `json:"value,omitempty"`
	Error string `json:"error,omitempty"`
}

// Succeeded reports whether every resource was created and every output
// resolved. Run exit status keys off this.
func (r *RunReport) Succeeded() bool {
	for _, res := range r.Resources {
		if res.State != "created" {
			return false
		}
	}
	for _, out := range r.Outputs {
		if out.Error != "" {
			return false
		}
	}
	return true
}
