package integration

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ManishKarki1997/VirtualClassroomServer/pkg/types"
)

// testClient is one browser tab speaking the envelope protocol.
type testClient struct {
	t    *testing.T
	name string
	id   string

	conn   *websocket.Conn
	frames chan types.Envelope
	done   chan struct{}

	mu     sync.Mutex
	closed bool
}

// dialClient connects to serverURL's /ws and consumes the connected frame.
func dialClient(t *testing.T, serverURL, name string) *testClient {
	t.Helper()
	u, err := url.Parse(serverURL)
	if err != nil {
		t.Fatalf("invalid server URL: %v", err)
	}
	u.Scheme = "ws"
	u.Path = "/ws"

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		t.Fatalf("%s: failed to connect: %v", name, err)
	}

	c := &testClient{
		t:      t,
		name:   name,
		conn:   conn,
		frames: make(chan types.Envelope, 256),
		done:   make(chan struct{}),
	}
	go c.readLoop()
	t.Cleanup(c.Close)

	var hello types.Connected
	c.expect(types.EventConnected, &hello)
	if hello.Socket == "" {
		t.Fatalf("%s: connected frame without socket id", name)
	}
	c.id = hello.Socket
	return c
}

func (c *testClient) readLoop() {
	defer close(c.done)
	for {
		var env types.Envelope
		if err := c.conn.ReadJSON(&env); err != nil {
			return
		}
		select {
		case c.frames <- env:
		default:
			// a test that stops reading should not wedge the socket
		}
	}
}

// emit sends one event. data is marshalled as the envelope payload.
func (c *testClient) emit(event string, data any) {
	c.t.Helper()
	raw, err := json.Marshal(data)
	if err != nil {
		c.t.Fatalf("%s: marshal %s: %v", c.name, event, err)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.conn.WriteJSON(types.Envelope{Event: event, Data: raw}); err != nil {
		c.t.Fatalf("%s: write %s: %v", c.name, event, err)
	}
}

// expect skips frames until event arrives and decodes it into dst (when non-nil).
func (c *testClient) expect(event string, dst any) types.Envelope {
	c.t.Helper()
	return c.expectWhere(event, dst, func(types.Envelope) bool { return true })
}

// expectWhere skips frames until one named event satisfies match.
func (c *testClient) expectWhere(event string, dst any, match func(types.Envelope) bool) types.Envelope {
	c.t.Helper()
	timeout := time.After(3 * time.Second)
	var seen []string
	for {
		select {
		case env := <-c.frames:
			if env.Event != event || !match(env) {
				seen = append(seen, env.Event)
				continue
			}
			if dst != nil {
				if err := json.Unmarshal(env.Data, dst); err != nil {
					c.t.Fatalf("%s: decode %s: %v", c.name, event, err)
				}
			}
			return env
		case <-c.done:
			c.t.Fatalf("%s: connection closed while waiting for %s (saw %v)", c.name, event, seen)
		case <-timeout:
			c.t.Fatalf("%s: no %s frame within timeout (saw %v)", c.name, event, seen)
		}
	}
}

// expectNone fails if event arrives within d.
func (c *testClient) expectNone(event string, d time.Duration) {
	c.t.Helper()
	deadline := time.After(d)
	for {
		select {
		case env := <-c.frames:
			if env.Event == event {
				c.t.Fatalf("%s: unexpected %s frame: %s", c.name, event, env.Data)
			}
		case <-deadline:
			return
		}
	}
}

// activeUsersWith waits for a class_active_users frame listing exactly sockets.
func (c *testClient) activeUsersWith(sockets ...string) []types.Presence {
	c.t.Helper()
	var members []types.Presence
	c.expectWhere(types.EventClassActiveUsers, &members, func(env types.Envelope) bool {
		var got []types.Presence
		if json.Unmarshal(env.Data, &got) != nil || len(got) != len(sockets) {
			return false
		}
		want := make(map[string]bool, len(sockets))
		for _, s := range sockets {
			want[s] = true
		}
		for _, p := range got {
			if !want[p.Socket] {
				return false
			}
		}
		return true
	})
	return members
}

func (c *testClient) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	_ = c.conn.Close()
}

func (c *testClient) String() string {
	return fmt.Sprintf("%s(%s)", c.name, c.id)
}
