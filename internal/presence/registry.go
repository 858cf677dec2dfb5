package presence

import (
	"sort"
	"sync"

	"github.com/samber/lo"
)

// Peer is a live connection that can receive serialized frames.
type Peer interface {
	ID() string
	Enqueue(frame []byte) error
}

// Registry maps a logged-in identity to its current connection. It does not
// own connection lifetimes; the WebSocket handler does.
type Registry struct {
	mu         sync.RWMutex
	byIdentity map[string]Peer
	byPeer     map[string]string // peer id -> identity
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		byIdentity: make(map[string]Peer),
		byPeer:     make(map[string]string),
	}
}

// Register binds identity to peer, replacing any previous connection for
// that identity. A peer re-registering under a new identity drops its old one.
func (r *Registry) Register(identity string, peer Peer) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if old, ok := r.byIdentity[identity]; ok {
		delete(r.byPeer, old.ID())
	}
	if prev, ok := r.byPeer[peer.ID()]; ok && prev != identity {
		delete(r.byIdentity, prev)
	}
	r.byIdentity[identity] = peer
	r.byPeer[peer.ID()] = identity
}

// Unregister removes peer only if it is still the registered connection for
// its identity, so a stale disconnect cannot evict a newer session. It
// reports whether anything was removed.
func (r *Registry) Unregister(peer Peer) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	identity, ok := r.byPeer[peer.ID()]
	if !ok {
		return false
	}
	delete(r.byPeer, peer.ID())
	if current, ok := r.byIdentity[identity]; ok && current.ID() == peer.ID() {
		delete(r.byIdentity, identity)
	}
	return true
}

// Identities returns a sorted snapshot of the registered usernames.
func (r *Registry) Identities() []string {
	r.mu.RLock()
	identities := lo.Keys(r.byIdentity)
	r.mu.RUnlock()

	sort.Strings(identities)
	return identities
}

// Peers returns a snapshot of the registered connections.
func (r *Registry) Peers() []Peer {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return lo.Values(r.byIdentity)
}

// Lookup returns the connection registered for identity.
func (r *Registry) Lookup(identity string) (Peer, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	peer, ok := r.byIdentity[identity]
	return peer, ok
}

// Len returns the number of registered identities.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byIdentity)
}
