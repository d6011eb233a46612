package ir

// Program is the top-level declared resource set plus its exported outputs.
// Output values may be literals, ref:// strings, or deferred expressions
// wired by the builder API.
type Program struct {
	Resources []*Resource               `pkl:"resources"`
	Outputs   map[string]any            `pkl:"outputs"`
	Providers map[string]map[string]any `pkl:"providers"`
}
