package crypto

// DefaultKeyCacheSize keeps only the most recent peer, which is enough for
// a caller talking to one peer at a time.
const DefaultKeyCacheSize = 1

// KeyCache memoizes SharedKey results for one private key, evicting the
// oldest entry once full. It is not safe for concurrent use; give each
// goroutine its own cache.
type KeyCache struct {
	private [KeySize]byte
	entries []keyCacheEntry
	next    int
}

type keyCacheEntry struct {
	peer [KeySize]byte
	key  [KeySize]byte
}

// NewKeyCache returns a cache holding at most capacity derived keys.
func NewKeyCache(private [KeySize]byte, capacity int) *KeyCache {
	if capacity <= 0 {
		capacity = DefaultKeyCacheSize
	}
	return &KeyCache{
		private: private,
		entries: make([]keyCacheEntry, 0, capacity),
	}
}

// Get returns the shared key for peer, deriving it on a miss.
func (c *KeyCache) Get(peer *[KeySize]byte) (*[KeySize]byte, error) {
	for i := range c.entries {
		if c.entries[i].peer == *peer {
			return &c.entries[i].key, nil
		}
	}
	key, err := SharedKey(&c.private, peer)
	if err != nil {
		return nil, err
	}
	if len(c.entries) < cap(c.entries) {
		c.entries = append(c.entries, keyCacheEntry{peer: *peer, key: key})
		return &c.entries[len(c.entries)-1].key, nil
	}
	e := &c.entries[c.next]
	Wipe(e.key[:])
	e.peer, e.key = *peer, key
	c.next = (c.next + 1) % len(c.entries)
	return &e.key, nil
}

// Len reports how many keys are cached.
func (c *KeyCache) Len() int { return len(c.entries) }

// Wipe zeroes the private key and every cached key.
func (c *KeyCache) Wipe() {
	Wipe(c.private[:])
	for i := range c.entries {
		Wipe(c.entries[i].key[:])
	}
	c.entries = c.entries[:0]
	c.next = 0
}
