package downloader

import (
	"sync"
	"time"
)

// Registry maps fingerprints to live tasks. At most one task is registered
// per fingerprint.
type Registry struct {
	mu    sync.RWMutex
	tasks map[string]*Task
}

func NewRegistry() *Registry {
	return &Registry{tasks: make(map[string]*Task)}
}

// Replace registers t and returns the task it displaced, if any. The swap
// happens under a single lock so two callers can never both keep a live task.
func (r *Registry) Replace(t *Task) *Task {
	r.mu.Lock()
	defer r.mu.Unlock()

	prev := r.tasks[t.ID]
	r.tasks[t.ID] = t

	return prev
}

func (r *Registry) Get(id string) (*Task, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	t, ok := r.tasks[id]

	return t, ok
}

// Remove deletes id only while it still maps to t, so a superseded task
// cannot remove its successor.
func (r *Registry) Remove(id string, t *Task) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.tasks[id] != t {
		return false
	}

	delete(r.tasks, id)

	return true
}

func (r *Registry) List() []*Task {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Task, 0, len(r.tasks))
	for _, t := range r.tasks {
		out = append(out, t)
	}

	return out
}

// Expired returns the live tasks older than maxAge at now.
func (r *Registry) Expired(now time.Time, maxAge time.Duration) []*Task {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*Task

	for _, t := range r.tasks {
		if !t.State().IsTerminal() && now.Sub(t.CreatedAt) > maxAge {
			out = append(out, t)
		}
	}

	return out
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.tasks)
}
