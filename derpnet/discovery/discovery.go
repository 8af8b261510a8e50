// Package discovery maps peer names to relay identities.
//
// DERP addresses packets by public key only. A Resolver is the caller's
// address book: which key belongs to "alice" and which relay she sits on.
package discovery

import (
	"errors"

	"github.com/TheusHen/derpnet/derpnet/key"
)

var (
	ErrNotFound    = errors.New("discovery: peer not found")
	ErrInvalidPeer = errors.New("discovery: peer has no key")
	ErrNameTaken   = errors.New("discovery: name bound to another key")
)

// PeerInfo is one address book entry. Relay is a host name as accepted by
// session.Open; empty means the caller's own relay.
type PeerInfo struct {
	Name         string            `yaml:"name"`
	Key          key.Public        `yaml:"key"`
	Relay        string            `yaml:"relay,omitempty"`
	Capabilities map[string]string `yaml:"capabilities,omitempty"`
}

// Resolver is implemented by address books. Implementations may be backed
// by a config file, a directory service or plain memory.
type Resolver interface {
	Announce(info PeerInfo) error
	Lookup(k key.Public) (PeerInfo, error)
	LookupName(name string) (PeerInfo, error)
	List() ([]PeerInfo, error)
}
