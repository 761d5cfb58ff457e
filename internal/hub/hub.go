package hub

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/ManishKarki1997/VirtualClassroomServer/internal/metrics"
	"github.com/ManishKarki1997/VirtualClassroomServer/internal/presence"
	"github.com/ManishKarki1997/VirtualClassroomServer/internal/signaling"
	"github.com/ManishKarki1997/VirtualClassroomServer/pkg/interfaces"
	"github.com/ManishKarki1997/VirtualClassroomServer/pkg/types"
)

type eventKind int

const (
	kindConnect eventKind = iota
	kindInbound
	kindDisconnect
)

// event is one queued transport event.
type event struct {
	kind   eventKind
	connID string
	handle interfaces.Handle // connect only
	env    types.Envelope    // inbound only
}

// Options tunes the event loop.
type Options struct {
	QueueSize       int
	EventsPerMinute int
	LookupTimeout   time.Duration
}

// DefaultOptions returns the options used when a field is left zero.
func DefaultOptions() Options {
	return Options{
		QueueSize:       1000,
		EventsPerMinute: 0,
		LookupTimeout:   5 * time.Second,
	}
}

// Stats is a point-in-time view of core state sizes.
type Stats struct {
	Running     bool `json:"running"`
	Connections int  `json:"connections"`
	Rooms       int  `json:"rooms"`
	Peers       int  `json:"peers"`
	LiveClasses int  `json:"liveClasses"`
}

// Hub owns all real-time state and serializes every inbound event onto one goroutine.
// ARCHITECTURAL DISCOVERY: Each handler runs to completion before the next event is
// dequeued, so a join and its active-member broadcast are one atomic step as seen
// by every client
type Hub struct {
	// FUNCTIONAL DISCOVERY: connect, inbound and disconnect share one queue so a
	// connection's events are handled in exactly the order its read pump saw them
	events          chan event
	resume          chan func() // directory lookup continuations
	shutdownChannel chan struct{}
	done            chan struct{}

	registry  *presence.Registry
	rooms     *presence.Rooms
	typing    *presence.Typing
	live      *presence.LiveBoard
	relay     *signaling.Relay
	gateway   *Gateway
	directory interfaces.Directory
	limiter   *RateLimiter
	metrics   *metrics.Metrics
	logger    *slog.Logger

	handlers      map[string]handlerFunc
	lookupTimeout time.Duration

	// typists records which typing user each connection raised per room.
	// Loop goroutine only.
	typists map[string]map[string]string

	// lookupTails holds the completion channel of each connection's newest
	// lookup. Loop goroutine only.
	lookupTails   map[string]chan struct{}
	lookupCtx     context.Context
	cancelLookups context.CancelFunc
	lookups       sync.WaitGroup

	running bool
	stopped bool
	mu      sync.RWMutex
}

// NewHub creates a hub with empty presence state. dir serves the lookups of
// get_all_live_classes, new_notification and SEND_NEW_MESSAGE.
func NewHub(dir interfaces.Directory, m *metrics.Metrics, logger *slog.Logger, opts Options) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	defaults := DefaultOptions()
	if opts.QueueSize <= 0 {
		opts.QueueSize = defaults.QueueSize
	}
	if opts.LookupTimeout <= 0 {
		opts.LookupTimeout = defaults.LookupTimeout
	}

	if dir != nil {
		dir = newSharedDirectory(dir)
	}

	registry := presence.NewRegistry()
	rooms := presence.NewRooms(registry)
	h := &Hub{
		events:          make(chan event, opts.QueueSize),
		resume:          make(chan func(), 100),
		shutdownChannel: make(chan struct{}),
		done:            make(chan struct{}),
		registry:        registry,
		rooms:           rooms,
		typing:          presence.NewTyping(),
		live:            presence.NewLiveBoard(),
		relay:           signaling.NewRelay(logger),
		gateway:         NewGateway(registry, rooms, m, logger),
		directory:       dir,
		limiter:         NewRateLimiter(opts.EventsPerMinute, time.Minute),
		metrics:         m,
		logger:          logger.With("component", "hub"),
		lookupTimeout:   opts.LookupTimeout,
		typists:         make(map[string]map[string]string),
		lookupTails:     make(map[string]chan struct{}),
	}
	h.handlers = h.routes()
	return h
}

// Start begins event processing in a new goroutine.
func (h *Hub) Start(ctx context.Context) error {
	h.mu.Lock()
	if h.running {
		h.mu.Unlock()
		return ErrHubAlreadyRunning
	}
	if h.stopped {
		h.mu.Unlock()
		return ErrHubStopped
	}
	h.running = true
	h.lookupCtx, h.cancelLookups = context.WithCancel(ctx)
	h.mu.Unlock()

	h.logger.Info("starting event hub")
	go h.run(h.lookupCtx)
	return nil
}

// Run starts the hub and blocks until ctx is cancelled or Stop is called.
func (h *Hub) Run(ctx context.Context) error {
	if err := h.Start(ctx); err != nil {
		return err
	}
	<-h.done
	h.lookups.Wait()
	return nil
}

// Stop ends event processing and waits for the loop and in-flight lookups to exit.
func (h *Hub) Stop() error {
	h.mu.Lock()
	if !h.running {
		h.mu.Unlock()
		return ErrHubNotRunning
	}
	h.running = false
	h.stopped = true
	select {
	case <-h.shutdownChannel:
	default:
		close(h.shutdownChannel)
	}
	h.mu.Unlock()

	h.logger.Info("stopping event hub")
	<-h.done
	h.lookups.Wait()
	return nil
}

// IsRunning reports whether the loop is accepting events.
func (h *Hub) IsRunning() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.running
}

// Done is closed once the loop has exited.
func (h *Hub) Done() <-chan struct{} {
	return h.done
}

// Connect queues a newly accepted transport session. Blocks while the queue is full.
func (h *Hub) Connect(connID string, handle interfaces.Handle) error {
	return h.enqueue(event{kind: kindConnect, connID: connID, handle: handle}, true)
}

// Dispatch queues one inbound event. Never blocks; a saturated queue
// returns ErrEventQueueFull and the event is dropped.
func (h *Hub) Dispatch(connID string, env types.Envelope) error {
	return h.enqueue(event{kind: kindInbound, connID: connID, env: env}, false)
}

// Disconnect queues full cleanup of a closed session. Blocks while the queue is
// full, since a lost disconnect would leak the connection's memberships.
func (h *Hub) Disconnect(connID string) error {
	return h.enqueue(event{kind: kindDisconnect, connID: connID}, true)
}

func (h *Hub) enqueue(ev event, block bool) error {
	if !h.IsRunning() {
		return ErrHubNotRunning
	}
	if !block {
		select {
		case h.events <- ev:
			return nil
		default:
			return ErrEventQueueFull
		}
	}
	select {
	case h.events <- ev:
		return nil
	case <-h.done:
		return ErrHubNotRunning
	}
}

// run is the single consumer of the event queue.
func (h *Hub) run(ctx context.Context) {
	defer func() {
		h.cancelLookups()
		h.mu.Lock()
		h.running = false
		h.stopped = true
		h.mu.Unlock()
		close(h.done)
		h.logger.Info("event hub stopped")
	}()

	for {
		select {
		case ev := <-h.events:
			h.process(ev)
		case apply := <-h.resume:
			apply()
		case <-h.shutdownChannel:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (h *Hub) process(ev event) {
	switch ev.kind {
	case kindConnect:
		h.registry.Connect(ev.connID, ev.handle)
		h.metrics.ConnectionOpened()
		h.logger.Debug("connection registered", "conn", ev.connID)
	case kindDisconnect:
		h.cleanup(ev.connID)
	case kindInbound:
		h.handleInbound(ev.connID, ev.env)
	}
}

func (h *Hub) handleInbound(connID string, env types.Envelope) {
	fn, known := h.handlers[env.Event]
	if !known {
		h.metrics.InboundEvent("unknown")
		h.logger.Debug("ignoring unknown event", "event", env.Event, "conn", connID)
		return
	}
	h.metrics.InboundEvent(env.Event)

	if _, live := h.registry.Handle(connID); !live {
		h.logger.Debug("event from closed connection", "event", env.Event, "conn", connID)
		return
	}
	if throttled[env.Event] && !h.limiter.Allow(connID) {
		h.metrics.RateLimited()
		h.logger.Debug("event rate limited", "event", env.Event, "conn", connID)
		return
	}
	fn(connID, env.Data)
}

// cleanup removes connID from every structure that references it, then
// rebroadcasts presence to the rooms it left. Repeated calls are no-ops.
func (h *Hub) cleanup(connID string) {
	if _, live := h.registry.Handle(connID); !live {
		return
	}

	typed := h.typists[connID]
	delete(h.typists, connID)

	affected := h.rooms.DisconnectAll(connID)
	h.registry.Remove(connID)
	h.relay.UnregisterPeer(connID)
	h.limiter.Forget(connID)
	delete(h.lookupTails, connID)

	h.metrics.ConnectionClosed()
	h.metrics.SetPeers(h.relay.Count())
	h.logger.Debug("connection removed", "conn", connID, "rooms", len(affected))

	for _, roomID := range affected {
		h.gateway.ActiveUsers(roomID)
	}
	// Typing may have been raised in rooms the connection never joined.
	for roomID, user := range typed {
		h.clearAbandonedTyping(roomID, user)
	}
}

// lookup runs fetch off the loop and applies its continuation back on it, so no
// core state is touched until every external fact is in hand. A failed fetch
// aborts the handler with no effect.
// FUNCTIONAL DISCOVERY: Lookups of one connection are chained, each waiting for
// the previous one to post its continuation, so two chat messages from a tab are
// broadcast in the order the tab sent them
func (h *Hub) lookup(connID, eventName string, fetch func(ctx context.Context, dir interfaces.Directory) (func(), error)) {
	if h.directory == nil {
		h.logger.Warn("directory lookup skipped", "event", eventName, "conn", connID, "err", ErrNoDirectory)
		return
	}

	prev := h.lookupTails[connID]
	finished := make(chan struct{})
	h.lookupTails[connID] = finished

	h.lookups.Add(1)
	go func() {
		defer h.lookups.Done()
		defer close(finished)

		if prev != nil {
			select {
			case <-prev:
			case <-h.lookupCtx.Done():
				return
			}
		}

		ctx, cancel := context.WithTimeout(h.lookupCtx, h.lookupTimeout)
		defer cancel()

		apply, err := fetch(ctx, h.directory)
		if err != nil {
			h.logger.Warn("directory lookup failed", "event", eventName, "conn", connID, "err", err)
			return
		}
		select {
		case h.resume <- apply:
		case <-h.done:
		}
	}()
}

// ActiveMembers returns the resolved presence records joined to roomID.
func (h *Hub) ActiveMembers(roomID string) []types.Presence {
	return h.rooms.ActiveMembers(roomID)
}

// OnlineUsers returns every announced connection.
func (h *Hub) OnlineUsers() []types.Presence {
	return h.registry.ListAll()
}

// LiveClasses returns every live-class announcement.
func (h *Hub) LiveClasses() []types.LiveClass {
	return h.live.All()
}

// Stats returns current state sizes.
func (h *Hub) Stats() Stats {
	return Stats{
		Running:     h.IsRunning(),
		Connections: h.registry.Count(),
		Rooms:       h.rooms.Count(),
		Peers:       h.relay.Count(),
		LiveClasses: h.live.Count(),
	}
}
