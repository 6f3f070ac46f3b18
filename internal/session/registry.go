package session

import (
	"sync"
	"time"
)

// Lookup is the read-only registry view handed to components that only
// resolve calls for authorization (the event gateway, HTTP handlers).
type Lookup interface {
	Get(callID string) (*Call, bool)
}

// Registry is the process-wide index of live calls. It is safe for
// concurrent use by unrelated call flows and the event gateway; calls
// themselves are mutated only through their own methods, never by the
// registry.
type Registry struct {
	mu        sync.RWMutex
	calls     map[string]*Call
	retention time.Duration
}

// NewRegistry creates a registry. retention controls how long a call
// stays resolvable after ScheduleRemove; zero or negative removes
// immediately.
func NewRegistry(retention time.Duration) *Registry {
	return &Registry{
		calls:     make(map[string]*Call),
		retention: retention,
	}
}

func (r *Registry) Put(c *Call) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls[c.ID()] = c
}

func (r *Registry) Get(callID string) (*Call, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.calls[callID]
	return c, ok
}

func (r *Registry) Remove(callID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.calls, callID)
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.calls)
}

// Active returns a snapshot of calls currently in an active state.
func (r *Registry) Active() []*Call {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Call, 0, len(r.calls))
	for _, c := range r.calls {
		if c.IsActive() {
			out = append(out, c)
		}
	}
	return out
}

// ScheduleRemove drops the call after the retention window, keeping
// terminal calls resolvable for late subscribers and CDR consumers.
func (r *Registry) ScheduleRemove(callID string) {
	if r.retention <= 0 {
		r.Remove(callID)
		return
	}
	time.AfterFunc(r.retention, func() {
		r.Remove(callID)
	})
}
