package websocket

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ManishKarki1997/VirtualClassroomServer/pkg/types"
)

// Options tunes one transport session.
type Options struct {
	PingInterval   time.Duration
	ReadTimeout    time.Duration // pong wait
	WriteTimeout   time.Duration
	SendBuffer     int
	MaxMessageSize int64
}

// DefaultOptions returns the heartbeat and buffer settings used for zero fields.
func DefaultOptions() Options {
	return Options{
		PingInterval:   30 * time.Second,
		ReadTimeout:    60 * time.Second,
		WriteTimeout:   5 * time.Second,
		SendBuffer:     100,
		MaxMessageSize: 1 << 20,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.PingInterval <= 0 {
		o.PingInterval = d.PingInterval
	}
	if o.ReadTimeout <= 0 {
		o.ReadTimeout = d.ReadTimeout
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = d.WriteTimeout
	}
	if o.SendBuffer <= 0 {
		o.SendBuffer = d.SendBuffer
	}
	if o.MaxMessageSize <= 0 {
		o.MaxMessageSize = d.MaxMessageSize
	}
	return o
}

// Connection is the delivery handle of one WebSocket session.
// ARCHITECTURAL DISCOVERY: WebSocket writes must be serialized; a single writer
// goroutine drains writeCh so Send never touches the socket itself
type Connection struct {
	id        string
	conn      *websocket.Conn
	writeCh   chan []byte // FUNCTIONAL DISCOVERY: 100 frames absorbs a classroom-wide broadcast burst
	opts      Options
	logger    *slog.Logger
	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
}

// NewConnection wraps conn and starts its writer.
func NewConnection(conn *websocket.Conn, id string, opts Options, logger *slog.Logger) *Connection {
	if logger == nil {
		logger = slog.Default()
	}
	opts = opts.withDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	c := &Connection{
		id:      id,
		conn:    conn,
		writeCh: make(chan []byte, opts.SendBuffer),
		opts:    opts,
		logger:  logger.With("conn", id),
		ctx:     ctx,
		cancel:  cancel,
	}
	go c.writeLoop()
	return c
}

// ID returns the connection id allocated at upgrade.
func (c *Connection) ID() string {
	return c.id
}

// Send encodes one envelope and queues it. It never blocks: a closed session
// returns ErrConnectionClosed and a saturated one ErrSendBufferFull, dropping
// the frame.
func (c *Connection) Send(event string, data any) error {
	select {
	case <-c.ctx.Done():
		return ErrConnectionClosed
	default:
	}

	frame, err := encodeEnvelope(event, data)
	if err != nil {
		return err
	}

	select {
	case c.writeCh <- frame:
		return nil
	case <-c.ctx.Done():
		return ErrConnectionClosed
	default:
		return ErrSendBufferFull
	}
}

func encodeEnvelope(event string, data any) ([]byte, error) {
	raw, ok := data.(json.RawMessage)
	if !ok {
		b, err := json.Marshal(data)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidJSON, err)
		}
		raw = b
	}
	if len(raw) == 0 {
		raw = json.RawMessage("null")
	}
	frame, err := json.Marshal(types.Envelope{Event: event, Data: raw})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidJSON, err)
	}
	return frame, nil
}

// writeLoop is the only goroutine that writes data frames.
func (c *Connection) writeLoop() {
	for {
		select {
		case frame := <-c.writeCh:
			if err := c.conn.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout)); err != nil {
				c.logger.Debug("failed to set write deadline", "err", err)
				_ = c.Close()
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				// TECHNICAL DISCOVERY: Closing here unblocks the read pump, which
				// then runs the normal disconnect path
				c.logger.Debug("write failed, closing connection", "err", err)
				_ = c.Close()
				return
			}
		case <-c.ctx.Done():
			return
		}
	}
}

// ping sends one heartbeat. WriteControl is safe alongside the writer goroutine.
func (c *Connection) ping() error {
	return c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.opts.WriteTimeout))
}

// Done is closed once the connection is closed.
func (c *Connection) Done() <-chan struct{} {
	return c.ctx.Done()
}

// Close stops the writer and closes the socket. Safe to call repeatedly.
func (c *Connection) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.cancel()
		if c.conn != nil {
			err = c.conn.Close()
		}
	})
	return err
}
