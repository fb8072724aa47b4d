package relay

import (
	"errors"
	"math/rand"
	"sync"
	"time"

	"github.com/drksbr/intratun/internal/protocol"
)

// ErrDuplicateID is returned by Registry.Insert when an entry with the same
// agent id is already present; registration races are resolved
// first-writer-wins.
var ErrDuplicateID = errors.New("duplicate agent id")

// ErrNoAgents is returned by Registry.PickRandom when no authed entry is
// currently registered.
var ErrNoAgents = errors.New("no agents available")

// ControlSender is the write-capability handle attached to an AgentEntry.
// Implementations serialize concurrent writers under their own lock so the
// registry's coarse lock never has to be held across a socket write.
type ControlSender interface {
	Send(f *protocol.Frame) error
	Close() error
}

// AgentEntry is one live agent as tracked by the registry.
type AgentEntry struct {
	ID          string
	ControlSend ControlSender
	Authed      bool

	mu              sync.Mutex
	connectedAt     time.Time
	lastHeartbeatAt time.Time
	systemInfo      *protocol.Frame
	models          []protocol.Model
}

// Snapshot is a read-only copy of an AgentEntry used by observability and by
// the registry's own diagnostics; it never aliases mutable state.
type Snapshot struct {
	ID              string
	Authed          bool
	ConnectedAt     time.Time
	LastHeartbeatAt time.Time
	Stale           bool
	Models          []protocol.Model
}

const (
	heartbeatInterval  = 10 * time.Second
	heartbeatStaleness = 3 * heartbeatInterval // 30s
)

func (e *AgentEntry) touchHeartbeat(now time.Time) {
	e.mu.Lock()
	e.lastHeartbeatAt = now
	e.mu.Unlock()
}

func (e *AgentEntry) setSystemInfo(f *protocol.Frame) {
	e.mu.Lock()
	e.systemInfo = f
	e.mu.Unlock()
}

func (e *AgentEntry) setModels(models []protocol.Model) {
	e.mu.Lock()
	e.models = models
	e.mu.Unlock()
}

func (e *AgentEntry) snapshot(now time.Time) Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	return Snapshot{
		ID:              e.ID,
		Authed:          e.Authed,
		ConnectedAt:     e.connectedAt,
		LastHeartbeatAt: e.lastHeartbeatAt,
		Stale:           now.Sub(e.lastHeartbeatAt) > heartbeatStaleness,
		Models:          append([]protocol.Model(nil), e.models...),
	}
}

// Registry is the concurrent map of agent id to AgentEntry. A single
// coarse lock guards the map; control-socket writes happen through
// AgentEntry.ControlSend, which has its own lock, so the registry lock is
// never held across I/O.
type Registry struct {
	mu      sync.Mutex
	entries map[string]*AgentEntry
	rng     *rand.Rand
	rngMu   sync.Mutex
}

// NewRegistry returns an empty registry with its own process-local PRNG.
// Cryptographic randomness isn't required here: PickRandom is about load
// distribution, not a security boundary.
func NewRegistry() *Registry {
	return &Registry{
		entries: make(map[string]*AgentEntry),
		rng:     rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Insert adds entry under id, or returns ErrDuplicateID if one is already
// present.
func (r *Registry) Insert(id string, entry *AgentEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.entries[id]; exists {
		return ErrDuplicateID
	}
	entry.ID = id
	entry.connectedAt = time.Now()
	entry.lastHeartbeatAt = entry.connectedAt
	r.entries[id] = entry
	return nil
}

// Remove deletes id unconditionally and returns the removed entry, if any.
// The caller (the control handler that owns the socket) is responsible for
// closing ControlSend exactly once; Remove itself never closes it.
func (r *Registry) Remove(id string) *AgentEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.entries[id]
	if !ok {
		return nil
	}
	delete(r.entries, id)
	return entry
}

// Get returns the entry for id without removing it.
func (r *Registry) Get(id string) (*AgentEntry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.entries[id]
	return entry, ok
}

// Update applies fn to the entry for id while holding the registry lock
// just long enough to look it up; fn itself runs outside the registry lock
// so it may take the entry's own mutex without risking lock-order issues.
// It is a no-op if the entry is absent.
func (r *Registry) Update(id string, fn func(*AgentEntry)) {
	r.mu.Lock()
	entry, ok := r.entries[id]
	r.mu.Unlock()
	if !ok {
		return
	}
	fn(entry)
}

// PickRandom returns a uniformly random entry among currently present,
// Authed entries, or ErrNoAgents if none qualify. The registry lock is
// released before the caller uses the returned entry, so callers must
// tolerate the entry racing to removal.
func (r *Registry) PickRandom() (*AgentEntry, error) {
	r.mu.Lock()
	candidates := make([]*AgentEntry, 0, len(r.entries))
	for _, entry := range r.entries {
		if entry.Authed {
			candidates = append(candidates, entry)
		}
	}
	r.mu.Unlock()

	if len(candidates) == 0 {
		return nil, ErrNoAgents
	}

	r.rngMu.Lock()
	idx := r.rng.Intn(len(candidates))
	r.rngMu.Unlock()
	return candidates[idx], nil
}

// Len reports the number of registered entries, for diagnostics.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Snapshots returns a point-in-time copy of every entry, for the
// observability surface.
func (r *Registry) Snapshots() []Snapshot {
	r.mu.Lock()
	entries := make([]*AgentEntry, 0, len(r.entries))
	for _, entry := range r.entries {
		entries = append(entries, entry)
	}
	r.mu.Unlock()

	now := time.Now()
	out := make([]Snapshot, 0, len(entries))
	for _, entry := range entries {
		out = append(out, entry.snapshot(now))
	}
	return out
}

// reapStale removes and returns every entry whose last heartbeat is older
// than heartbeatStaleness. Closing ControlSend is the caller's job, exactly
// as with Remove.
func (r *Registry) reapStale(now time.Time) []*AgentEntry {
	r.mu.Lock()
	var stale []*AgentEntry
	for id, entry := range r.entries {
		entry.mu.Lock()
		idle := now.Sub(entry.lastHeartbeatAt)
		entry.mu.Unlock()
		if idle > heartbeatStaleness {
			stale = append(stale, entry)
			delete(r.entries, id)
		}
	}
	r.mu.Unlock()
	return stale
}
