package params

import (
	"context"
	"sync"
)

// MemoryResolver is an in-memory Resolver for tests and local runs.
type MemoryResolver struct {
	mu     sync.RWMutex
	values map[string]string
}

func NewMemoryResolver() *MemoryResolver {
	return &MemoryResolver{values: map[string]string{}}
}

// Set stores a value under a fully-qualified parameter path.
func (r *MemoryResolver) Set(name, value string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.values[name] = value
}

func (r *MemoryResolver) Resolve(ctx context.Context, names []string) (map[string]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]string, len(names))
	var missing []string
	for _, n := range names {
		v, ok := r.values[n]
		if !ok {
			missing = append(missing, n)
			continue
		}
		out[LastSegment(n)] = v
	}
	if len(missing) > 0 {
		return nil, &ConfigError{Missing: missing}
	}
	return out, nil
}
