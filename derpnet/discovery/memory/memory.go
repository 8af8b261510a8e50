package memory

import (
	"sort"
	"sync"

	"github.com/TheusHen/derpnet/derpnet/discovery"
	"github.com/TheusHen/derpnet/derpnet/key"
)

// Store is an in-memory discovery resolver.
// It is useful for tests, examples and the CLI's config-file peers.
type Store struct {
	mu    sync.RWMutex
	peers map[key.Public]discovery.PeerInfo
	names map[string]key.Public
}

var _ discovery.Resolver = (*Store)(nil)

func New() *Store {
	return &Store{
		peers: map[key.Public]discovery.PeerInfo{},
		names: map[string]key.Public{},
	}
}

// Load announces every entry, stopping at the first error.
func Load(peers []discovery.PeerInfo) (*Store, error) {
	s := New()
	for _, p := range peers {
		if err := s.Announce(p); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Announce adds or replaces the entry for info.Key. A name already bound to
// a different key is rejected.
func (s *Store) Announce(info discovery.PeerInfo) error {
	if info.Key.IsZero() {
		return discovery.ErrInvalidPeer
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if info.Name != "" {
		if owner, ok := s.names[info.Name]; ok && owner != info.Key {
			return discovery.ErrNameTaken
		}
	}
	if old, ok := s.peers[info.Key]; ok && old.Name != info.Name {
		delete(s.names, old.Name)
	}
	info.Capabilities = copyCaps(info.Capabilities)
	s.peers[info.Key] = info
	if info.Name != "" {
		s.names[info.Name] = info.Key
	}
	return nil
}

func (s *Store) Lookup(k key.Public) (discovery.PeerInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	info, ok := s.peers[k]
	if !ok {
		return discovery.PeerInfo{}, discovery.ErrNotFound
	}
	info.Capabilities = copyCaps(info.Capabilities)
	return info, nil
}

func (s *Store) LookupName(name string) (discovery.PeerInfo, error) {
	s.mu.RLock()
	k, ok := s.names[name]
	s.mu.RUnlock()
	if !ok {
		return discovery.PeerInfo{}, discovery.ErrNotFound
	}
	return s.Lookup(k)
}

// Remove drops the entry for k, if any.
func (s *Store) Remove(k key.Public) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if info, ok := s.peers[k]; ok {
		delete(s.names, info.Name)
		delete(s.peers, k)
	}
}

// List returns all entries sorted by name, unnamed peers last.
func (s *Store) List() ([]discovery.PeerInfo, error) {
	s.mu.RLock()
	out := make([]discovery.PeerInfo, 0, len(s.peers))
	for _, info := range s.peers {
		info.Capabilities = copyCaps(info.Capabilities)
		out = append(out, info)
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if (a.Name == "") != (b.Name == "") {
			return b.Name == ""
		}
		if a.Name != b.Name {
			return a.Name < b.Name
		}
		return a.Key.String() < b.Key.String()
	})
	return out, nil
}

func copyCaps(in map[string]string) map[string]string {
	if in == nil {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
