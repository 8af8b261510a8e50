package memory

import (
	"errors"
	"testing"

	"github.com/TheusHen/derpnet/derpnet/discovery"
	"github.com/TheusHen/derpnet/derpnet/key"
)

func newKey(t *testing.T) key.Public {
	t.Helper()
	priv, err := key.NewPrivate()
	if err != nil {
		t.Fatalf("NewPrivate: %v", err)
	}
	return priv.Public()
}

func TestStoreAnnounceLookup(t *testing.T) {
	k := newKey(t)
	s := New()
	info := discovery.PeerInfo{
		Name:  "alice",
		Key:   k,
		Relay: "derp1.example.net",
		Capabilities: map[string]string{
			"role": "seed",
		},
	}
	if err := s.Announce(info); err != nil {
		t.Fatalf("Announce: %v", err)
	}
	info.Capabilities["role"] = "mutated"

	got, err := s.Lookup(k)
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if got.Name != "alice" || got.Relay != info.Relay {
		t.Fatalf("unexpected peer info %+v", got)
	}
	if got.Capabilities["role"] != "seed" {
		t.Fatalf("store shares the caller's capability map")
	}

	byName, err := s.LookupName("alice")
	if err != nil || byName.Key != k {
		t.Fatalf("LookupName = %+v, %v", byName, err)
	}
}

func TestStoreNotFound(t *testing.T) {
	s := New()
	if _, err := s.Lookup(newKey(t)); !errors.Is(err, discovery.ErrNotFound) {
		t.Fatalf("Lookup = %v", err)
	}
	if _, err := s.LookupName("bob"); !errors.Is(err, discovery.ErrNotFound) {
		t.Fatalf("LookupName = %v", err)
	}
	if err := s.Announce(discovery.PeerInfo{Name: "zero"}); !errors.Is(err, discovery.ErrInvalidPeer) {
		t.Fatalf("Announce zero key = %v", err)
	}
}

func TestStoreNames(t *testing.T) {
	a, b := newKey(t), newKey(t)
	s := New()
	s.Announce(discovery.PeerInfo{Name: "alice", Key: a})
	if err := s.Announce(discovery.PeerInfo{Name: "alice", Key: b}); !errors.Is(err, discovery.ErrNameTaken) {
		t.Fatalf("Announce duplicate name = %v", err)
	}
	// Renaming frees the old name.
	if err := s.Announce(discovery.PeerInfo{Name: "carol", Key: a}); err != nil {
		t.Fatalf("rename: %v", err)
	}
	if err := s.Announce(discovery.PeerInfo{Name: "alice", Key: b}); err != nil {
		t.Fatalf("Announce freed name: %v", err)
	}
	s.Remove(a)
	if _, err := s.LookupName("carol"); !errors.Is(err, discovery.ErrNotFound) {
		t.Fatalf("removed name still resolves: %v", err)
	}
}

func TestLoadAndList(t *testing.T) {
	a, b, c := newKey(t), newKey(t), newKey(t)
	s, err := Load([]discovery.PeerInfo{
		{Name: "bob", Key: b},
		{Key: c},
		{Name: "alice", Key: a},
	})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	list, _ := s.List()
	if len(list) != 3 || list[0].Name != "alice" || list[1].Name != "bob" || list[2].Key != c {
		t.Fatalf("List order = %+v", list)
	}
	if _, err := Load([]discovery.PeerInfo{{Name: "x"}}); err == nil {
		t.Fatalf("Load accepted a peer with no key")
	}
}
