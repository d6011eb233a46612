package engine

import "fmt"

// ConfigurationError is a fatal program defect (dependency cycle, dangling
// reference) detected during graph build, before any provider call is made.
type ConfigurationError struct {
	Msg string
}

func (e *ConfigurationError) Error() string {
	return "configuration error: " + e.Msg
}

func configErrorf(format string, args ...any) *ConfigurationError {
	return &ConfigurationError{Msg: fmt.Sprintf(format, args...)}
}

// ResourceFailedError records that a resource's own provisioning failed.
// Deferred cells tied to the resource resolve to this error, so outputs
// report the failing resource by name.
type ResourceFailedError struct {
	Address string
	Err     error
}

func (e *ResourceFailedError) Error() string {
	return fmt.Sprintf("resource %s failed: %v", e.Address, e.Err)
}

func (e *ResourceFailedError) Unwrap() error {
	return e.Err
}

// DependencyError marks a resource that was never dispatched because a
// prerequisite failed. It chains to the root cause.
type DependencyError struct {
	Address    string // the resource that was skipped
	Dependency string // the prerequisite that failed
	Err        error  // the prerequisite's failure
}

func (e *DependencyError) Error() string {
	return fmt.Sprintf("resource %s not created: dependency %s failed: %v", e.Address, e.Dependency, e.Err)
}

func (e *DependencyError) Unwrap() error {
	return e.Err
}
