// Package params resolves named configuration and secret values (tenant URL,
// auth token, path-scoped settings) from a parameter store.
package params

import (
	"context"
	"fmt"
	"strings"
)

// Resolver fetches a set of fully-qualified parameter paths and returns a
// mapping from each path's final segment to its value. Absence of any
// requested path is a *ConfigError; the caller decides whether that is fatal.
type Resolver interface {
	Resolve(ctx context.Context, names []string) (map[string]string, error)
}

// ConfigError reports parameters that could not be resolved.
type ConfigError struct {
	Missing []string
	Cause   error
}

func (e *ConfigError) Error() string {
	if len(e.Missing) > 0 {
		return fmt.Sprintf("params: unresolved parameters: %s", strings.Join(e.Missing, ", "))
	}
	return fmt.Sprintf("params: %v", e.Cause)
}

func (e *ConfigError) Unwrap() error { return e.Cause }

// LastSegment returns the final path segment of a parameter name.
func LastSegment(name string) string {
	if i := strings.LastIndex(name, "/"); i >= 0 {
		return name[i+1:]
	}
	return name
}
