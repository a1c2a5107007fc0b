package target

import (
	"fmt"
	"sort"
	"sync"
	"time"
)

const (
	// Status thresholds based on the last frame received from a target.
	StatusHealthyThreshold  = 30 * time.Second
	StatusDegradedThreshold = 2 * time.Minute
)

// Status is the liveness of a registered target.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

// Delegate receives target lifecycle notifications. Callbacks run on the
// goroutine that caused them.
type Delegate interface {
	// ProfilingTargetDidLoadDeviceInfo is called once device info is cached
	// on t.
	ProfilingTargetDidLoadDeviceInfo(t *Target)
	// ConnectionDidCloseForProfilingTarget is called exactly once per target
	// when its connection is gone, with the cause (nil on explicit Close).
	ConnectionDidCloseForProfilingTarget(t *Target, cause error)
}

// DelegateFuncs adapts plain functions to Delegate. Nil fields are skipped.
type DelegateFuncs struct {
	DidLoadDeviceInfo func(t *Target)
	DidClose          func(t *Target, cause error)
}

func (d DelegateFuncs) ProfilingTargetDidLoadDeviceInfo(t *Target) {
	if d.DidLoadDeviceInfo != nil {
		d.DidLoadDeviceInfo(t)
	}
}

func (d DelegateFuncs) ConnectionDidCloseForProfilingTarget(t *Target, cause error) {
	if d.DidClose != nil {
		d.DidClose(t, cause)
	}
}

// Entry is a registered target and its delegate.
type Entry struct {
	Target       *Target
	Delegate     Delegate
	RegisteredAt time.Time
}

// Registry tracks live targets by id. Targets look their delegate up here
// on demand, so dropping an entry drops every callback path to it.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*Entry
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		entries: make(map[string]*Entry),
	}
}

func (r *Registry) add(t *Target, d Delegate) error {
	if t.ID() == "" {
		return fmt.Errorf("target id cannot be empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.entries[t.ID()]; ok {
		return fmt.Errorf("target already registered: %s", t.ID())
	}
	r.entries[t.ID()] = &Entry{
		Target:       t,
		Delegate:     d,
		RegisteredAt: time.Now(),
	}
	return nil
}

// Remove drops the entry for id. It is a no-op for unknown ids.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, id)
}

// Get returns the target registered under id.
func (r *Registry) Get(id string) (*Target, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entry, ok := r.entries[id]
	if !ok {
		return nil, fmt.Errorf("target not found: %s", id)
	}
	return entry.Target, nil
}

// Delegate returns the delegate registered for id, or nil.
func (r *Registry) Delegate(id string) Delegate {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	if entry, ok := r.entries[id]; ok {
		return entry.Delegate
	}
	return nil
}

// ListAll returns every registered target ordered by id.
func (r *Registry) ListAll() []*Target {
	r.mu.RLock()
	targets := make([]*Target, 0, len(r.entries))
	for _, entry := range r.entries {
		targets = append(targets, entry.Target)
	}
	r.mu.RUnlock()

	sort.Slice(targets, func(i, j int) bool { return targets[i].ID() < targets[j].ID() })
	return targets
}

// Count returns the number of registered targets.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// CountActive returns the number of targets with healthy or degraded status.
func (r *Registry) CountActive() int {
	now := time.Now()
	count := 0
	for _, t := range r.ListAll() {
		status := DetermineStatus(t.LastSeen(), now)
		if status == StatusHealthy || status == StatusDegraded {
			count++
		}
	}
	return count
}

// DetermineStatus calculates target status from the last time it was heard
// from.
func DetermineStatus(lastSeen, now time.Time) Status {
	elapsed := now.Sub(lastSeen)

	if elapsed < StatusHealthyThreshold {
		return StatusHealthy
	} else if elapsed < StatusDegradedThreshold {
		return StatusDegraded
	}
	return StatusUnhealthy
}
