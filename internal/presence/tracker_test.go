package presence

import (
	"context"
	"sort"
	"sync"
	"testing"

	"crewlink/internal/identity"
)

// fakeResolver resolves ids from a fixed map.
type fakeResolver struct {
	identities map[string]*identity.Identity
}

func (f *fakeResolver) FindByID(_ context.Context, id string) (*identity.Identity, error) {
	if ident, ok := f.identities[id]; ok {
		copy := *ident
		return &copy, nil
	}
	return nil, identity.ErrIdentityNotFound
}

func newResolver(ids ...string) *fakeResolver {
	r := &fakeResolver{identities: make(map[string]*identity.Identity)}
	for _, id := range ids {
		r.identities[id] = &identity.Identity{
			ID:      id,
			Kind:    identity.KindOf(id),
			AuthKey: "secret",
		}
	}
	return r
}

func TestConnectTransitions(t *testing.T) {
	tracker := NewTracker(newResolver())

	if !tracker.Connect("dev-aaa111") {
		t.Error("first Connect() = false, want true")
	}
	if tracker.Connect("dev-aaa111") {
		t.Error("repeat Connect() = true, want false")
	}
	if !tracker.IsConnected("dev-aaa111") {
		t.Error("IsConnected() = false after Connect")
	}
	if tracker.ConnectedCount() != 1 {
		t.Errorf("ConnectedCount() = %d, want 1", tracker.ConnectedCount())
	}
}

func TestDisconnect(t *testing.T) {
	tracker := NewTracker(newResolver())

	tracker.Connect("dev-aaa111")
	tracker.Disconnect("dev-aaa111")

	if tracker.IsConnected("dev-aaa111") {
		t.Error("IsConnected() = true after Disconnect")
	}
	if tracker.ConnectedCount() != 0 {
		t.Errorf("ConnectedCount() = %d, want 0", tracker.ConnectedCount())
	}
}

func TestListenerFiresOnTransitionsOnly(t *testing.T) {
	tracker := NewTracker(newResolver())

	var mu sync.Mutex
	var events []bool
	tracker.Subscribe(func(_ string, connected bool) {
		mu.Lock()
		events = append(events, connected)
		mu.Unlock()
	})

	tracker.Connect("dev-aaa111")
	tracker.Connect("dev-aaa111") // no transition, no event
	tracker.Disconnect("dev-aaa111")

	mu.Lock()
	defer mu.Unlock()
	if len(events) != 2 {
		t.Fatalf("listener fired %d times, want 2", len(events))
	}
	if !events[0] || events[1] {
		t.Errorf("events = %v, want [true false]", events)
	}
}

func TestDisconnectNotifiesEvenWhenAbsent(t *testing.T) {
	tracker := NewTracker(newResolver())

	fired := false
	tracker.Subscribe(func(id string, connected bool) {
		if id == "dev-ghost1" && !connected {
			fired = true
		}
	})

	tracker.Disconnect("dev-ghost1")

	if !fired {
		t.Error("Disconnect() of absent id did not notify listeners")
	}
}

func TestConnectedIDs(t *testing.T) {
	tracker := NewTracker(newResolver())
	tracker.Connect("dev-aaa111")
	tracker.Connect("web-bbb222")

	ids := tracker.ConnectedIDs()
	sort.Strings(ids)
	want := []string{"dev-aaa111", "web-bbb222"}
	if len(ids) != len(want) || ids[0] != want[0] || ids[1] != want[1] {
		t.Errorf("ConnectedIDs() = %v, want %v", ids, want)
	}
}

func TestListConnectedSkipsUnresolvable(t *testing.T) {
	tracker := NewTracker(newResolver("dev-aaa111"))

	tracker.Connect("dev-aaa111")
	tracker.Connect("regis-pending-token") // pending, resolves to nothing

	list := tracker.ListConnected(context.Background())
	if len(list) != 1 {
		t.Fatalf("ListConnected() length = %d, want 1", len(list))
	}
	if list[0].ID != "dev-aaa111" {
		t.Errorf("ListConnected()[0].ID = %q, want dev-aaa111", list[0].ID)
	}
	// Profiles must be credential-free.
	if list[0].AuthKey != "" {
		t.Error("ListConnected() leaked auth key")
	}
}
