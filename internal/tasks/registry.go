package tasks

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
)

// Handler runs one named task. Payload and result travel as JSON so the
// same handler works under every dispatcher.
type Handler func(ctx context.Context, payload json.RawMessage) (any, error)

type Registration struct {
	Name    string
	Queue   string
	Handler Handler
}

// Registry maps task names to handlers and their home queue.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]Registration
}

func NewRegistry() *Registry {
	return &Registry{entries: map[string]Registration{}}
}

// QueueFor derives the queue from a task name's prefix.
func QueueFor(name string) string {
	if i := strings.Index(name, "."); i > 0 {
		return name[:i]
	}
	return name
}

func (r *Registry) Register(name string, handler Handler) error {
	return r.RegisterOnQueue(name, QueueFor(name), handler)
}

func (r *Registry) RegisterOnQueue(name, queue string, handler Handler) error {
	if name == "" || handler == nil {
		return fmt.Errorf("task registration requires a name and handler")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.entries[name]; exists {
		return fmt.Errorf("task %q already registered", name)
	}
	r.entries[name] = Registration{Name: name, Queue: queue, Handler: handler}
	return nil
}

func (r *Registry) Get(name string) (Registration, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	reg, ok := r.entries[name]
	if !ok {
		return Registration{}, fmt.Errorf("unknown task %q", name)
	}
	return reg, nil
}

// Queues returns the distinct queues with at least one registered task.
func (r *Registry) Queues() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	seen := map[string]bool{}
	var queues []string
	for _, reg := range r.entries {
		if !seen[reg.Queue] {
			seen[reg.Queue] = true
			queues = append(queues, reg.Queue)
		}
	}
	return queues
}

func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.entries))
	for name := range r.entries {
		names = append(names, name)
	}
	return names
}
