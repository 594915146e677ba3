package job

import (
	"errors"
	"sort"
	"sync"
)

// ErrTaskNotFound is returned when a task cannot be found by ID.
var ErrTaskNotFound = errors.New("job: task not found")

// Registry holds the live tasks of one run, keyed by ID. Unlike a store of
// copies it hands out the tasks themselves so cancellation reaches the
// processes they track.
type Registry struct {
	mu    sync.RWMutex
	tasks map[string]*FileTask
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		tasks: make(map[string]*FileTask),
	}
}

// Add registers a task, replacing any task with the same ID.
func (r *Registry) Add(t *FileTask) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tasks[t.ID] = t
}

// Get retrieves a task by its ID.
func (r *Registry) Get(id string) (*FileTask, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tasks[id]
	if !ok {
		return nil, ErrTaskNotFound
	}
	return t, nil
}

// List returns every task ordered by Index.
func (r *Registry) List() []*FileTask {
	r.mu.RLock()
	out := make([]*FileTask, 0, len(r.tasks))
	for _, t := range r.tasks {
		out = append(out, t)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	return out
}

// Len returns the number of registered tasks.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tasks)
}

// CancelAll cancels every task and returns the number of processes killed.
func (r *Registry) CancelAll() int {
	killed := 0
	for _, t := range r.List() {
		killed += t.Cancel()
	}
	return killed
}

// Clear removes every task.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	clear(r.tasks)
}
