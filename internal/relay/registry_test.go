package relay

import (
	"testing"
	"time"

	"github.com/drksbr/intratun/internal/protocol"
)

type fakeSender struct {
	closed bool
}

func (f *fakeSender) Send(*protocol.Frame) error { return nil }
func (f *fakeSender) Close() error               { f.closed = true; return nil }

func TestRegistryInsertRejectsDuplicate(t *testing.T) {
	r := NewRegistry()
	if err := r.Insert("a", &AgentEntry{Authed: true, ControlSend: &fakeSender{}}); err != nil {
		t.Fatalf("first insert: %v", err)
	}
	if err := r.Insert("a", &AgentEntry{Authed: true, ControlSend: &fakeSender{}}); err != ErrDuplicateID {
		t.Fatalf("expected ErrDuplicateID, got %v", err)
	}
	if r.Len() != 1 {
		t.Fatalf("expected 1 entry, got %d", r.Len())
	}
}

func TestRegistryPickRandomOnlyAuthed(t *testing.T) {
	r := NewRegistry()
	_ = r.Insert("unauthed", &AgentEntry{Authed: false, ControlSend: &fakeSender{}})

	if _, err := r.PickRandom(); err != ErrNoAgents {
		t.Fatalf("expected ErrNoAgents with only unauthed entries, got %v", err)
	}

	_ = r.Insert("authed", &AgentEntry{Authed: true, ControlSend: &fakeSender{}})
	entry, err := r.PickRandom()
	if err != nil {
		t.Fatalf("PickRandom: %v", err)
	}
	if entry.ID != "authed" {
		t.Fatalf("expected the only authed entry, got %q", entry.ID)
	}
}

func TestRegistryPickRandomIsUniform(t *testing.T) {
	r := NewRegistry()
	ids := []string{"a", "b"}
	for _, id := range ids {
		if err := r.Insert(id, &AgentEntry{Authed: true, ControlSend: &fakeSender{}}); err != nil {
			t.Fatalf("insert %s: %v", id, err)
		}
	}

	const n = 20000
	counts := map[string]int{}
	for i := 0; i < n; i++ {
		entry, err := r.PickRandom()
		if err != nil {
			t.Fatalf("PickRandom: %v", err)
		}
		counts[entry.ID]++
	}

	for _, id := range ids {
		frac := float64(counts[id]) / float64(n)
		if frac < 0.40 || frac > 0.60 {
			t.Fatalf("agent %s selected %.3f of the time, want within [0.40, 0.60]", id, frac)
		}
	}
}

func TestRegistryRemoveDoesNotCloseSender(t *testing.T) {
	r := NewRegistry()
	sender := &fakeSender{}
	_ = r.Insert("a", &AgentEntry{Authed: true, ControlSend: sender})

	removed := r.Remove("a")
	if removed == nil {
		t.Fatalf("expected removed entry")
	}
	if sender.closed {
		t.Fatalf("Remove must not close ControlSend; the handler owns that close")
	}
	if r.Remove("a") != nil {
		t.Fatalf("second remove should be a no-op")
	}
}

func TestRegistryReapsStaleHeartbeats(t *testing.T) {
	r := NewRegistry()
	entry := &AgentEntry{Authed: true, ControlSend: &fakeSender{}}
	_ = r.Insert("a", entry)
	entry.touchHeartbeat(time.Now().Add(-heartbeatStaleness - time.Second))

	stale := r.reapStale(time.Now())
	if len(stale) != 1 || stale[0].ID != "a" {
		t.Fatalf("expected agent a to be reaped, got %+v", stale)
	}
	if r.Len() != 0 {
		t.Fatalf("expected registry empty after reap, got %d", r.Len())
	}
}

func TestRegistryUpdateIsNoOpWhenAbsent(t *testing.T) {
	r := NewRegistry()
	called := false
	r.Update("missing", func(*AgentEntry) { called = true })
	if called {
		t.Fatalf("Update must not invoke fn for an absent id")
	}
}
