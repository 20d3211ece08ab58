// Package registry implements the module registry and module contract: a
// module owns one or more entity_type<->remote_model relations, and the
// registry enforces mutual exclusion within a named exclusive group.
package registry

import (
	"fmt"
	"sync"
)

// Severity tags a dependency_status notice.
type Severity string

const (
	SeverityInfo    Severity = "info"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// Notice is one entry of a module's dependency_status.
type Notice struct {
	Severity Severity
	Message  string
}

// DependencyStatus reports whether a module's external preconditions
// (e.g. a required remote field existing) are currently satisfied.
type DependencyStatus struct {
	Available bool
	Notices   []Notice
}

// Job is the minimal job shape a module needs to execute a push or pull;
// it mirrors the subset of pkg/queue.Job relevant to module dispatch.
type Job struct {
	Tenant     string
	EntityType string
	LocalID    *int64
	RemoteID   *int64
	Payload    string
}

// Result is what push/pull return: either a successful remote id (for a
// push that created a new remote record) or a typed failure.
type Result struct {
	RemoteID  *int64
	Failed    bool
	Retryable bool
	Message   string
}

// Ok builds a successful Result, optionally carrying the remote id a push
// produced.
func Ok(remoteID *int64) Result { return Result{RemoteID: remoteID} }

// Fail builds a failed Result.
func Fail(retryable bool, message string) Result {
	return Result{Failed: true, Retryable: retryable, Message: message}
}

// Module is the contract every sync module implements.
type Module interface {
	ID() string
	RemoteModels() map[string]string
	ExclusiveGroup() string
	DependencyStatus() DependencyStatus
	Push(job Job) Result
	Pull(job Job) Result
}

// BatchPusher is the optional push_batch hook: modules implementing it
// let the engine dispatch a same-(module,entity_type,action,direction) group in one
// call instead of one RPC round-trip per job.
type BatchPusher interface {
	PushBatch(jobs []Job) []Result
}

// BatchPuller is the optional pull_batch hook.
type BatchPuller interface {
	PullBatch(jobs []Job) []Result
}

// Registry holds every registered module and its enabled flag.
type Registry struct {
	mu       sync.RWMutex
	modules  map[string]Module
	enabled  map[string]bool
}

// New returns an empty registry.
func New() *Registry {
	return &Registry{modules: make(map[string]Module), enabled: make(map[string]bool)}
}

// Register adds module, enabled by default. Registering a module with an
// id that already exists overwrites the previous registration.
func (r *Registry) Register(m Module) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.modules[m.ID()] = m
	if _, ok := r.enabled[m.ID()]; !ok {
		r.enabled[m.ID()] = true
	}
}

// Get returns the module with id, or nil if unknown.
func (r *Registry) Get(id string) Module {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.modules[id]
}

// All returns every registered module in no particular order.
func (r *Registry) All() []Module {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Module, 0, len(r.modules))
	for _, m := range r.modules {
		out = append(out, m)
	}
	return out
}

// IsEnabled reports whether id is currently enabled (false if unknown).
func (r *Registry) IsEnabled(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.enabled[id]
}

// Conflicts returns the ids of other enabled modules sharing id's
// exclusive group (empty if id has no group or is unknown).
func (r *Registry) Conflicts(id string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.conflictsLocked(id)
}

func (r *Registry) conflictsLocked(id string) []string {
	m, ok := r.modules[id]
	if !ok || m.ExclusiveGroup() == "" {
		return nil
	}
	group := m.ExclusiveGroup()
	var out []string
	for otherID, other := range r.modules {
		if otherID == id || !r.enabled[otherID] {
			continue
		}
		if other.ExclusiveGroup() == group {
			out = append(out, otherID)
		}
	}
	return out
}

// Enable sets id's enabled flag. Enabling a module in an exclusive group
// atomically disables every other enabled module in that group and
// returns their ids.
func (r *Registry) Enable(id string, on bool) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	m, ok := r.modules[id]
	if !ok {
		return nil, fmt.Errorf("registry: unknown module %q", id)
	}
	if !on {
		r.enabled[id] = false
		return nil, nil
	}

	disabled := r.conflictsLocked(id)
	for _, otherID := range disabled {
		r.enabled[otherID] = false
	}
	r.enabled[id] = true
	_ = m
	return disabled, nil
}
