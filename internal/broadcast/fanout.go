package broadcast

import (
	"encoding/json"
	"fmt"
	"log"

	"groupchat/internal/model"
	"groupchat/internal/presence"
)

// Fanout delivers server frames to the connections known to the presence
// registry. Delivery is best effort and at most once per live connection:
// a peer that cannot accept the frame is skipped and is removed later by
// its own close notification, never by the fan-out.
type Fanout struct {
	registry *presence.Registry
}

// New creates a Fanout that delivers to the peers in registry.
func New(registry *presence.Registry) *Fanout {
	return &Fanout{registry: registry}
}

// Broadcast serializes frame once and enqueues it on every registered peer.
// It returns the number of peers that accepted it.
func (f *Fanout) Broadcast(frame model.Frame) int {
	data, err := json.Marshal(frame)
	if err != nil {
		log.Printf("[WebSocket] ❌ Failed to encode %s frame: %v", frame.Type, err)
		return 0
	}

	// Peers() is a snapshot, so a concurrent unregister never races the loop.
	peers := f.registry.Peers()
	delivered := 0
	for _, peer := range peers {
		if err := peer.Enqueue(data); err != nil {
			log.Printf("[WebSocket] Skipping client %s for %s: %v", peer.ID(), frame.Type, err)
			continue
		}
		delivered++
	}
	log.Printf("[WebSocket] 📢 Broadcast %s to %d/%d clients", frame.Type, delivered, len(peers))
	return delivered
}

// Send delivers frame to a single peer.
func (f *Fanout) Send(peer presence.Peer, frame model.Frame) error {
	data, err := json.Marshal(frame)
	if err != nil {
		return fmt.Errorf("encode %s frame: %w", frame.Type, err)
	}
	return peer.Enqueue(data)
}
