package queue

import (
	"context"
	"sync"
)

// Registry holds the named queues the application runs. Lookups of an
// unregistered name return nil; producers treat that as a hard
// configuration error rather than dropping work silently.
type Registry struct {
	mu     sync.RWMutex
	queues map[string]*Queue
}

func NewRegistry() *Registry {
	return &Registry{queues: make(map[string]*Queue)}
}

func (r *Registry) Register(name string, q *Queue) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.queues[name] = q
}

func (r *Registry) Get(name string) *Queue {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.queues[name]
}

// Shutdown drains every registered queue.
func (r *Registry) Shutdown(ctx context.Context) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, q := range r.queues {
		q.Shutdown(ctx)
	}
}
