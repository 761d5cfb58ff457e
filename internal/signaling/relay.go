package signaling

import (
	"encoding/json"
	"log/slog"
	"sort"
	"sync"

	"github.com/ManishKarki1997/VirtualClassroomServer/pkg/interfaces"
	"github.com/ManishKarki1997/VirtualClassroomServer/pkg/types"
)

// peer is one signaling registration.
type peer struct {
	handle interfaces.Handle
	scope  string // classroom the peer announced, "" when it named none
	seq    uint64
}

// Relay forwards peer-connection signaling between connections.
// ARCHITECTURAL DISCOVERY: Payloads are never decoded here; the relay only reads
// addressing, so offer/answer/candidate formats can change without touching it
type Relay struct {
	mu     sync.RWMutex
	peers  map[string]*peer
	seq    uint64
	logger *slog.Logger
}

// NewRelay creates an empty relay.
func NewRelay(logger *slog.Logger) *Relay {
	if logger == nil {
		logger = slog.Default()
	}
	return &Relay{
		peers:  make(map[string]*peer),
		logger: logger.With("component", "signaling"),
	}
}

// RegisterPeer records how to reach connID. Registering again replaces the handle
// and scope but keeps the original registration order.
func (r *Relay) RegisterPeer(connID, scope string, h interfaces.Handle) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.peers[connID]; ok {
		existing.handle = h
		existing.scope = scope
		return
	}
	r.seq++
	r.peers[connID] = &peer{handle: h, scope: scope, seq: r.seq}
}

// NotifyPeers sends initReceive carrying connID to every other peer registered in
// connID's scope, oldest registration first. Each delivery is independent; a
// failed one is skipped. Returns the peers that were notified.
func (r *Relay) NotifyPeers(connID string) []string {
	r.mu.RLock()
	self, ok := r.peers[connID]
	if !ok {
		r.mu.RUnlock()
		return nil
	}
	type target struct {
		id     string
		seq    uint64
		handle interfaces.Handle
	}
	var targets []target
	for id, p := range r.peers {
		if id == connID || p.scope != self.scope {
			continue
		}
		targets = append(targets, target{id: id, seq: p.seq, handle: p.handle})
	}
	r.mu.RUnlock()

	sort.Slice(targets, func(i, j int) bool { return targets[i].seq < targets[j].seq })

	notified := make([]string, 0, len(targets))
	for _, t := range targets {
		if err := t.handle.Send(types.EventInitReceive, connID); err != nil {
			r.logger.Debug("initReceive not delivered", "peer", t.id, "new_peer", connID, "err", err)
			continue
		}
		notified = append(notified, t.id)
	}
	return notified
}

// Relay forwards signal from source to target, tagged with source so the target
// can answer. A target with no registration is a silent non-delivery.
func (r *Relay) Relay(source, target string, signal json.RawMessage) bool {
	return r.deliver(target, types.EventSignal, types.RelayedSignal{SocketID: source, Signal: signal})
}

// InitSend tells target that source wants to initiate signaling with it.
func (r *Relay) InitSend(source, target string) bool {
	return r.deliver(target, types.EventInitSend, source)
}

func (r *Relay) deliver(target, event string, data any) bool {
	r.mu.RLock()
	p, ok := r.peers[target]
	r.mu.RUnlock()
	if !ok {
		r.logger.Debug("relay target not registered", "event", event, "target", target)
		return false
	}
	if err := p.handle.Send(event, data); err != nil {
		r.logger.Debug("relay delivery failed", "event", event, "target", target, "err", err)
		return false
	}
	return true
}

// UnregisterPeer drops connID's registration. Safe for unknown ids.
func (r *Relay) UnregisterPeer(connID string) {
	r.mu.Lock()
	delete(r.peers, connID)
	r.mu.Unlock()
}

// IsRegistered reports whether connID has a signaling registration.
func (r *Relay) IsRegistered(connID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.peers[connID]
	return ok
}

// Count returns the number of registered peers.
func (r *Relay) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.peers)
}
