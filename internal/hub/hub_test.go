package hub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManishKarki1997/VirtualClassroomServer/internal/metrics"
	"github.com/ManishKarki1997/VirtualClassroomServer/pkg/interfaces"
	"github.com/ManishKarki1997/VirtualClassroomServer/pkg/types"
)

type frame struct {
	event string
	data  json.RawMessage
}

// recorder is a fake delivery handle that keeps every frame it is sent.
type recorder struct {
	mu     sync.Mutex
	frames []frame
	fail   bool
}

func (r *recorder) Send(event string, data any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail {
		return errors.New("send buffer full")
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return err
	}
	r.frames = append(r.frames, frame{event: event, data: raw})
	return nil
}

func (r *recorder) received(event string) []json.RawMessage {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []json.RawMessage
	for _, f := range r.frames {
		if f.event == event {
			out = append(out, f.data)
		}
	}
	return out
}

func (r *recorder) last(event string) json.RawMessage {
	got := r.received(event)
	if len(got) == 0 {
		return nil
	}
	return got[len(got)-1]
}

type fakeDirectory struct {
	mu        sync.Mutex
	joined    map[string][]string
	classes   map[string]*types.ClassSummary
	users     map[string]*types.User
	stored    []*types.ChatMessage
	failStore bool
}

func newFakeDirectory() *fakeDirectory {
	return &fakeDirectory{
		joined:  make(map[string][]string),
		classes: make(map[string]*types.ClassSummary),
		users:   make(map[string]*types.User),
	}
}

func (d *fakeDirectory) JoinedClasses(_ context.Context, userID string) ([]string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	ids, ok := d.joined[userID]
	if !ok {
		return nil, interfaces.ErrUserNotFound
	}
	return ids, nil
}

func (d *fakeDirectory) ClassSummary(_ context.Context, classID string) (*types.ClassSummary, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	c, ok := d.classes[classID]
	if !ok {
		return nil, interfaces.ErrClassNotFound
	}
	return c, nil
}

func (d *fakeDirectory) StoreChatMessage(_ context.Context, classID, authorID, message string) (*types.ChatMessage, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.failStore {
		return nil, errors.New("store unavailable")
	}
	msg := &types.ChatMessage{
		ID:      fmt.Sprintf("m%d", len(d.stored)+1),
		ClassID: classID,
		Message: message,
		Author:  d.users[authorID],
	}
	d.stored = append(d.stored, msg)
	return msg, nil
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func startHub(t *testing.T, dir interfaces.Directory, opts Options) *Hub {
	t.Helper()
	h := NewHub(dir, metrics.New(), quietLogger(), opts)
	require.NoError(t, h.Start(context.Background()))
	t.Cleanup(func() { _ = h.Stop() })
	return h
}

func connect(t *testing.T, h *Hub, connID string) *recorder {
	t.Helper()
	r := &recorder{}
	require.NoError(t, h.Connect(connID, r))
	return r
}

func send(t *testing.T, h *Hub, connID, event string, data any) {
	t.Helper()
	raw, err := json.Marshal(data)
	require.NoError(t, err)
	require.NoError(t, h.Dispatch(connID, types.Envelope{Event: event, Data: raw}))
}

var barriers atomic.Int64

// flush returns once every event queued before it has been handled.
func flush(t *testing.T, h *Hub) {
	t.Helper()
	id := fmt.Sprintf("barrier-%d", barriers.Add(1))
	require.NoError(t, h.Connect(id, &recorder{}))
	send(t, h, id, types.EventJoinClassChat, map[string]string{"classId": id})
	require.Eventually(t, func() bool { return h.rooms.IsMember(id, id) }, time.Second, time.Millisecond)
	require.NoError(t, h.Disconnect(id))
}

func eventually(t *testing.T, cond func() bool) {
	t.Helper()
	require.Eventually(t, cond, time.Second, 2*time.Millisecond)
}

func presenceSockets(t *testing.T, raw json.RawMessage) []string {
	t.Helper()
	var list []types.Presence
	require.NoError(t, json.Unmarshal(raw, &list))
	out := make([]string, len(list))
	for i, p := range list {
		out[i] = p.Socket
	}
	return out
}

func stringsOf(t *testing.T, raw json.RawMessage) []string {
	t.Helper()
	var out []string
	require.NoError(t, json.Unmarshal(raw, &out))
	return out
}

func TestHub_Lifecycle(t *testing.T) {
	h := NewHub(newFakeDirectory(), nil, quietLogger(), Options{})

	assert.ErrorIs(t, h.Dispatch("c1", types.Envelope{Event: "signal"}), ErrHubNotRunning)
	assert.ErrorIs(t, h.Stop(), ErrHubNotRunning)

	require.NoError(t, h.Start(context.Background()))
	assert.ErrorIs(t, h.Start(context.Background()), ErrHubAlreadyRunning)
	assert.True(t, h.IsRunning())

	require.NoError(t, h.Stop())
	assert.False(t, h.IsRunning())
	assert.ErrorIs(t, h.Stop(), ErrHubNotRunning)
	assert.ErrorIs(t, h.Start(context.Background()), ErrHubStopped)
	assert.ErrorIs(t, h.Connect("c1", &recorder{}), ErrHubNotRunning)
}

func TestHub_RunReturnsOnContextCancel(t *testing.T) {
	h := NewHub(newFakeDirectory(), nil, quietLogger(), Options{})
	ctx, cancel := context.WithCancel(context.Background())

	errCh := make(chan error, 1)
	go func() { errCh <- h.Run(ctx) }()
	eventually(t, h.IsRunning)

	cancel()
	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
	<-h.Done()
}

func TestHub_DispatchQueueFull(t *testing.T) {
	h := NewHub(newFakeDirectory(), nil, quietLogger(), Options{QueueSize: 1})
	// Mark running without a consumer so the queue cannot drain.
	h.running = true
	require.NoError(t, h.Dispatch("c1", types.Envelope{Event: types.EventSignal}))
	assert.ErrorIs(t, h.Dispatch("c1", types.Envelope{Event: types.EventSignal}), ErrEventQueueFull)
}

func TestHub_JoinThenDisconnectEndToEnd(t *testing.T) {
	h := startHub(t, newFakeDirectory(), Options{})

	x := connect(t, h, "X")
	send(t, h, "X", types.EventUserOnline, types.Profile{UserID: "u-x", Name: "Xena"})
	send(t, h, "X", types.EventJoinClass, types.JoinClassPayload{ClassroomID: "math101"})

	eventually(t, func() bool { return len(x.received(types.EventClassActiveUsers)) == 1 })
	assert.Equal(t, []string{"X"}, presenceSockets(t, x.last(types.EventClassActiveUsers)))
	assert.Equal(t, []string{"X"}, socketsOf(h.ActiveMembers("math101")))

	y := connect(t, h, "Y")
	send(t, h, "Y", types.EventUserOnline, types.Profile{UserID: "u-y", Name: "Yuri"})
	send(t, h, "Y", types.EventJoinClass, types.JoinClassPayload{ClassroomID: "math101"})
	eventually(t, func() bool { return len(y.received(types.EventClassActiveUsers)) == 1 })
	assert.Equal(t, []string{"X", "Y"}, presenceSockets(t, y.last(types.EventClassActiveUsers)))

	require.NoError(t, h.Disconnect("X"))
	eventually(t, func() bool { return len(y.received(types.EventClassActiveUsers)) == 2 })
	assert.Equal(t, []string{"Y"}, presenceSockets(t, y.last(types.EventClassActiveUsers)))

	send(t, h, "Y", types.EventGetAllOnlineUsers, "math101")
	eventually(t, func() bool { return len(y.received(types.EventClassActiveUsers)) == 3 })
	assert.Equal(t, []string{"Y"}, presenceSockets(t, y.last(types.EventClassActiveUsers)))
	assert.Len(t, x.received(types.EventClassActiveUsers), 2, "X saw its own join and Y's, nothing after disconnect")
}

func socketsOf(list []types.Presence) []string {
	out := make([]string, len(list))
	for i, p := range list {
		out[i] = p.Socket
	}
	return out
}

func TestHub_JoinBeforeAnnounceRebroadcastsOnAnnounce(t *testing.T) {
	h := startHub(t, newFakeDirectory(), Options{})

	x := connect(t, h, "X")
	send(t, h, "X", types.EventJoinClass, types.JoinClassPayload{ClassroomID: "math101"})
	eventually(t, func() bool { return len(x.received(types.EventClassActiveUsers)) == 1 })
	assert.Empty(t, presenceSockets(t, x.last(types.EventClassActiveUsers)))

	send(t, h, "X", types.EventUserIsOnline, types.Profile{UserID: "u-x"})
	eventually(t, func() bool { return len(x.received(types.EventClassActiveUsers)) == 2 })
	assert.Equal(t, []string{"X"}, presenceSockets(t, x.last(types.EventClassActiveUsers)))
}

func TestHub_LeaveBroadcastsToRemainingMembers(t *testing.T) {
	h := startHub(t, newFakeDirectory(), Options{})

	a := connect(t, h, "A")
	b := connect(t, h, "B")
	for _, id := range []string{"A", "B"} {
		send(t, h, id, types.EventUserOnline, types.Profile{UserID: "u-" + id})
		send(t, h, id, types.EventJoinClass, types.JoinClassPayload{ClassroomID: "r1"})
	}
	flush(t, h)
	before := len(a.received(types.EventClassActiveUsers))

	send(t, h, "A", types.EventLeaveClassroom, map[string]string{"classroomId": "r1"})
	eventually(t, func() bool { return len(b.received(types.EventClassActiveUsers)) == 2 })
	assert.Equal(t, []string{"B"}, presenceSockets(t, b.last(types.EventClassActiveUsers)))
	assert.Len(t, a.received(types.EventClassActiveUsers), before)
}

func TestHub_MalformedPayloadDoesNotMutate(t *testing.T) {
	h := startHub(t, newFakeDirectory(), Options{})
	x := connect(t, h, "X")

	require.NoError(t, h.Dispatch("X", types.Envelope{Event: types.EventJoinClass, Data: json.RawMessage(`{"classroomId":5}`)}))
	require.NoError(t, h.Dispatch("X", types.Envelope{Event: types.EventJoinClass, Data: json.RawMessage(`{}`)}))
	require.NoError(t, h.Dispatch("X", types.Envelope{Event: types.EventJoinClass}))
	require.NoError(t, h.Dispatch("X", types.Envelope{Event: "no_such_event", Data: json.RawMessage(`{}`)}))
	flush(t, h)

	assert.Empty(t, h.rooms.RoomsOf("X"))
	assert.Empty(t, x.received(types.EventClassActiveUsers))
}

func TestHub_PeerFanOut(t *testing.T) {
	h := startHub(t, newFakeDirectory(), Options{})
	a := connect(t, h, "A")
	b := connect(t, h, "B")
	c := connect(t, h, "C")
	outsider := connect(t, h, "D")

	send(t, h, "D", types.EventInitialiseClass, map[string]string{"classroomId": "bio"})
	send(t, h, "A", types.EventInitialiseClass, map[string]string{"classroomId": "math101"})
	send(t, h, "B", types.EventStudentJoinClass, map[string]string{"classroomId": "math101"})
	send(t, h, "C", types.EventTeacherAddAnotherStream, map[string]string{"classroomId": "math101"})
	flush(t, h)

	var aGot []string
	for _, raw := range a.received(types.EventInitReceive) {
		var id string
		require.NoError(t, json.Unmarshal(raw, &id))
		aGot = append(aGot, id)
	}
	assert.Equal(t, []string{"B", "C"}, aGot)
	assert.Len(t, b.received(types.EventInitReceive), 1)
	assert.Empty(t, c.received(types.EventInitReceive))
	assert.Empty(t, outsider.received(types.EventInitReceive))
	assert.Equal(t, 4, h.Stats().Peers)
}

func TestHub_SignalRelayAndStaleTarget(t *testing.T) {
	h := startHub(t, newFakeDirectory(), Options{})
	a := connect(t, h, "A")
	b := connect(t, h, "B")
	send(t, h, "A", types.EventStudentJoinClass, nil)
	send(t, h, "B", types.EventStudentJoinClass, nil)

	send(t, h, "A", types.EventInitSend, "B")
	send(t, h, "B", types.EventSignal, map[string]any{"socketId": "A", "signal": map[string]string{"type": "offer", "sdp": "v=0"}})
	send(t, h, "B", types.EventSignal, map[string]any{"socketId": "ghost", "signal": map[string]string{"type": "answer"}})

	eventually(t, func() bool { return len(a.received(types.EventSignal)) == 1 })

	var init string
	require.NoError(t, json.Unmarshal(b.last(types.EventInitSend), &init))
	assert.Equal(t, "A", init)

	var relayed types.RelayedSignal
	require.NoError(t, json.Unmarshal(a.last(types.EventSignal), &relayed))
	assert.Equal(t, "B", relayed.SocketID)
	assert.JSONEq(t, `{"type":"offer","sdp":"v=0"}`, string(relayed.Signal))

	require.NoError(t, h.Disconnect("A"))
	send(t, h, "B", types.EventSignal, map[string]any{"socketId": "A", "signal": "late"})
	flush(t, h)
	assert.Len(t, a.received(types.EventSignal), 1)
	assert.Equal(t, 1, h.Stats().Peers)
}

func TestHub_TypingTransitions(t *testing.T) {
	h := startHub(t, newFakeDirectory(), Options{})
	a := connect(t, h, "A")
	b := connect(t, h, "B")
	for _, id := range []string{"A", "B"} {
		send(t, h, id, types.EventJoinClass, types.JoinClassPayload{ClassroomID: "r1"})
	}

	send(t, h, "A", types.EventSomeoneIsTyping, types.TypingPayload{ClassroomID: "r1", User: "ada"})
	send(t, h, "A", types.EventSomeoneIsTyping, types.TypingPayload{ClassroomID: "r1", User: "ada"})
	eventually(t, func() bool { return len(b.received(types.EventTypingUsers)) == 2 })
	assert.Equal(t, []string{"ada"}, stringsOf(t, b.last(types.EventTypingUsers)))

	send(t, h, "B", types.EventNotTyping, types.TypingPayload{ClassroomID: "r1", User: "bob"})
	flush(t, h)
	assert.Len(t, b.received(types.EventTypingUsers), 2, "clearing a user who never typed is silent")

	send(t, h, "A", types.EventNotTyping, types.TypingPayload{ClassroomID: "r1", User: "ada"})
	eventually(t, func() bool { return len(a.received(types.EventTypingUsers)) == 3 })
	assert.Empty(t, stringsOf(t, a.last(types.EventTypingUsers)))
}

func TestHub_DisconnectClearsAbandonedTyping(t *testing.T) {
	h := startHub(t, newFakeDirectory(), Options{})
	connect(t, h, "A1")
	connect(t, h, "A2")
	b := connect(t, h, "B")
	for _, id := range []string{"A1", "A2", "B"} {
		send(t, h, id, types.EventJoinClass, types.JoinClassPayload{ClassroomID: "r1"})
	}
	send(t, h, "A1", types.EventSomeoneIsTyping, types.TypingPayload{ClassroomID: "r1", User: "ada"})
	send(t, h, "A2", types.EventSomeoneIsTyping, types.TypingPayload{ClassroomID: "r1", User: "ada"})
	eventually(t, func() bool { return len(b.received(types.EventTypingUsers)) == 2 })

	require.NoError(t, h.Disconnect("A1"))
	flush(t, h)
	assert.Len(t, b.received(types.EventTypingUsers), 2, "another tab of ada still holds the flag")
	assert.Equal(t, []string{"ada"}, h.typing.Users("r1"))

	require.NoError(t, h.Disconnect("A2"))
	eventually(t, func() bool { return len(b.received(types.EventTypingUsers)) == 3 })
	assert.Empty(t, stringsOf(t, b.last(types.EventTypingUsers)))
}

func TestHub_RoomRebroadcastsAreVerbatim(t *testing.T) {
	h := startHub(t, newFakeDirectory(), Options{})
	a := connect(t, h, "A")
	outside := connect(t, h, "Z")
	send(t, h, "A", types.EventJoinClass, types.JoinClassPayload{ClassroomID: "r1"})

	send(t, h, "A", types.EventSomeoneDrew, map[string]any{"classroomId": "r1", "drawing": map[string]any{"x": 1, "y": 2}})
	send(t, h, "A", types.EventMessageSent, map[string]any{"classroomId": "r1", "message": "hello"})
	send(t, h, "A", types.EventCodeEditorTyping, map[string]any{"classroomId": "r1", "code": "fmt.Println()"})

	eventually(t, func() bool { return len(a.received(types.EventCodeEditorTyping)) == 1 })
	assert.JSONEq(t, `{"x":1,"y":2}`, string(a.last(types.EventDrawingData)))
	assert.JSONEq(t, `"hello"`, string(a.last(types.EventMessageReceived)))
	assert.JSONEq(t, `{"classroomId":"r1","code":"fmt.Println()"}`, string(a.last(types.EventCodeEditorTyping)))
	assert.Empty(t, outside.received(types.EventDrawingData))
}

func TestHub_LiveClasses(t *testing.T) {
	dir := newFakeDirectory()
	dir.joined["u-stu"] = []string{"math101", "chem"}
	h := startHub(t, dir, Options{})

	teacher := connect(t, h, "T")
	student := connect(t, h, "S")
	send(t, h, "T", types.EventUserOnline, types.Profile{UserID: "u-teach"})

	send(t, h, "T", types.EventClassStreamingStarted, map[string]any{
		"classroomId":   "math101",
		"classroomName": "Math",
		"teacherId":     "u-teach",
		"startTime":     "2026-10-14T09:00:00Z",
	})
	eventually(t, func() bool { return len(student.received(types.EventClassHasStarted)) == 1 })

	var started types.ClassHasStarted
	require.NoError(t, json.Unmarshal(student.last(types.EventClassHasStarted), &started))
	assert.Equal(t, types.ClassHasStarted{ClassroomName: "Math", ClassroomID: "math101", TeacherID: "u-teach"}, started)
	assert.Len(t, teacher.received(types.EventClassHasStarted), 1)
	eventually(t, func() bool { return len(teacher.received(types.EventClassActiveUsers)) == 1 })
	assert.Equal(t, []string{"T"}, presenceSockets(t, teacher.last(types.EventClassActiveUsers)))

	send(t, h, "T", types.EventClassStreamingStarted, map[string]any{"classroomId": "bio", "classroomName": "Biology"})
	send(t, h, "S", types.EventGetAllLiveClasses, map[string]string{"userId": "u-stu"})
	eventually(t, func() bool { return len(student.received(types.EventAllLiveClasses)) == 1 })

	var live []types.LiveClass
	require.NoError(t, json.Unmarshal(student.last(types.EventAllLiveClasses), &live))
	require.Len(t, live, 1)
	assert.Equal(t, "math101", live[0].ClassroomID)
	assert.JSONEq(t, `"2026-10-14T09:00:00Z"`, string(live[0].StartTime))
	assert.Len(t, h.LiveClasses(), 2)
}

func TestHub_LiveClassesLookupFailureIsSilent(t *testing.T) {
	h := startHub(t, newFakeDirectory(), Options{})
	s := connect(t, h, "S")

	send(t, h, "S", types.EventGetAllLiveClasses, map[string]string{"userId": "unknown"})
	flush(t, h)
	h.lookups.Wait()
	flush(t, h)
	assert.Empty(t, s.received(types.EventAllLiveClasses))
}

func TestHub_NewNotificationReachesOtherMembers(t *testing.T) {
	dir := newFakeDirectory()
	dir.classes["math101"] = &types.ClassSummary{
		ID: "math101", Name: "Math", TeacherName: "Ms. Ada",
		Members: []string{"u-teach", "u-stu1", "u-stu2"},
	}
	h := startHub(t, dir, Options{})

	teacher := connect(t, h, "T")
	stu1tab1 := connect(t, h, "S1a")
	stu1tab2 := connect(t, h, "S1b")
	stranger := connect(t, h, "X")
	send(t, h, "T", types.EventUserIsOnline, types.Profile{UserID: "u-teach"})
	send(t, h, "S1a", types.EventUserIsOnline, types.Profile{UserID: "u-stu1"})
	send(t, h, "S1b", types.EventUserIsOnline, types.Profile{UserID: "u-stu1"})
	send(t, h, "X", types.EventUserIsOnline, types.Profile{UserID: "u-other"})

	send(t, h, "T", types.EventNewNotification, map[string]any{"classId": "math101", "notification": map[string]string{"type": "RESOURCE_CREATED"}})
	eventually(t, func() bool {
		return len(stu1tab1.received(types.EventNewNotification)) == 1 && len(stu1tab2.received(types.EventNewNotification)) == 1
	})

	assert.JSONEq(t, `"Ms. Ada has added a new file in Math"`, string(stu1tab1.last(types.EventNewNotification)))
	assert.Empty(t, teacher.received(types.EventNewNotification))
	assert.Empty(t, stranger.received(types.EventNewNotification))
}

func TestHub_ClassChat(t *testing.T) {
	dir := newFakeDirectory()
	dir.users["u1"] = &types.User{ID: "u1", Name: "Ada"}
	h := startHub(t, dir, Options{})

	a := connect(t, h, "A")
	b := connect(t, h, "B")
	send(t, h, "A", types.EventJoinClassChat, map[string]string{"classId": "math101"})
	send(t, h, "B", types.EventJoinClassChat, map[string]string{"classId": "math101"})
	send(t, h, "A", types.EventSendNewMessage, map[string]any{"classId": "math101", "message": "hi all", "author": map[string]string{"_id": "u1"}})

	eventually(t, func() bool { return len(b.received(types.EventNewMessage)) == 1 })
	var msg types.ChatMessage
	require.NoError(t, json.Unmarshal(b.last(types.EventNewMessage), &msg))
	assert.Equal(t, "hi all", msg.Message)
	require.NotNil(t, msg.Author)
	assert.Equal(t, "Ada", msg.Author.Name)
	assert.Len(t, a.received(types.EventNewMessage), 1)
	assert.Empty(t, a.received(types.EventClassActiveUsers), "joining class chat does not broadcast presence")

	dir.mu.Lock()
	dir.failStore = true
	dir.mu.Unlock()
	send(t, h, "A", types.EventSendNewMessage, map[string]any{"classId": "math101", "message": "lost", "author": map[string]string{"_id": "u1"}})
	flush(t, h)
	h.lookups.Wait()
	flush(t, h)
	assert.Len(t, b.received(types.EventNewMessage), 1)
}

func TestHub_RateLimitDropsExcess(t *testing.T) {
	h := startHub(t, newFakeDirectory(), Options{EventsPerMinute: 2})
	a := connect(t, h, "A")
	send(t, h, "A", types.EventJoinClassChat, map[string]string{"classId": "r1"})

	for _, text := range []string{"one", "two", "three"} {
		send(t, h, "A", types.EventMessageSent, map[string]any{"classroomId": "r1", "message": text})
	}
	flush(t, h)
	assert.Len(t, a.received(types.EventMessageReceived), 2)
}

func TestHub_RateLimitSparesSignalingAndMembership(t *testing.T) {
	h := startHub(t, newFakeDirectory(), Options{EventsPerMinute: 100})
	connect(t, h, "A")
	b := connect(t, h, "B")
	for _, id := range []string{"A", "B"} {
		send(t, h, id, types.EventJoinClass, types.JoinClassPayload{ClassroomID: "r1"})
		send(t, h, id, types.EventStudentJoinClass, map[string]string{"classroomId": "r1"})
	}

	for i := 0; i < 300; i++ {
		send(t, h, "A", types.EventSomeoneDrew, map[string]any{"classroomId": "r1", "drawing": map[string]int{"x": i}})
	}
	for i := 0; i < 200; i++ {
		send(t, h, "A", types.EventSignal, map[string]any{"socketId": "B", "signal": map[string]int{"candidate": i}})
	}
	send(t, h, "A", types.EventLeaveClassroom, "r1")
	flush(t, h)

	assert.Len(t, b.received(types.EventDrawingData), 100)
	assert.Len(t, b.received(types.EventSignal), 200, "signals are never throttled")
	assert.False(t, h.rooms.IsMember("r1", "A"), "leave is never throttled")
	assert.Equal(t, []string{"B"}, presenceSockets(t, b.last(types.EventClassActiveUsers)))
}

// slowFirstDirectory holds back the message "first" so the one sent after it
// finishes storing earlier.
type slowFirstDirectory struct {
	*fakeDirectory
}

func (d slowFirstDirectory) StoreChatMessage(ctx context.Context, classID, authorID, message string) (*types.ChatMessage, error) {
	if message == "first" {
		time.Sleep(100 * time.Millisecond)
	}
	return d.fakeDirectory.StoreChatMessage(ctx, classID, authorID, message)
}

func TestHub_LookupsOfOneConnectionApplyInOrder(t *testing.T) {
	h := startHub(t, slowFirstDirectory{newFakeDirectory()}, Options{})
	a := connect(t, h, "A")
	send(t, h, "A", types.EventJoinClassChat, map[string]string{"classId": "math101"})
	send(t, h, "A", types.EventSendNewMessage, map[string]any{"classId": "math101", "message": "first", "author": map[string]string{"_id": "u1"}})
	send(t, h, "A", types.EventSendNewMessage, map[string]any{"classId": "math101", "message": "second", "author": map[string]string{"_id": "u1"}})

	eventually(t, func() bool { return len(a.received(types.EventNewMessage)) == 2 })
	var got []string
	for _, raw := range a.received(types.EventNewMessage) {
		var msg types.ChatMessage
		require.NoError(t, json.Unmarshal(raw, &msg))
		got = append(got, msg.Message)
	}
	assert.Equal(t, []string{"first", "second"}, got)
}

func TestHub_DisconnectClearsTypingInUnjoinedRoom(t *testing.T) {
	h := startHub(t, newFakeDirectory(), Options{})
	connect(t, h, "A")
	b := connect(t, h, "B")
	send(t, h, "B", types.EventJoinClass, types.JoinClassPayload{ClassroomID: "r9"})
	send(t, h, "A", types.EventSomeoneIsTyping, types.TypingPayload{ClassroomID: "r9", User: "ada"})
	eventually(t, func() bool { return len(b.received(types.EventTypingUsers)) == 1 })

	require.NoError(t, h.Disconnect("A"))
	eventually(t, func() bool { return len(b.received(types.EventTypingUsers)) == 2 })
	assert.Empty(t, stringsOf(t, b.last(types.EventTypingUsers)))
	assert.Empty(t, h.typing.Users("r9"))
}

func TestHub_DisconnectCleansEveryStructure(t *testing.T) {
	h := startHub(t, newFakeDirectory(), Options{})
	connect(t, h, "A")
	send(t, h, "A", types.EventUserOnline, types.Profile{UserID: "u1"})
	send(t, h, "A", types.EventJoinClass, types.JoinClassPayload{ClassroomID: "r1"})
	send(t, h, "A", types.EventJoinClass, types.JoinClassPayload{ClassroomID: "r2"})
	send(t, h, "A", types.EventStudentJoinClass, map[string]string{"classroomId": "r1"})
	flush(t, h)

	require.NoError(t, h.Disconnect("A"))
	require.NoError(t, h.Disconnect("A"))
	flush(t, h)

	_, live := h.registry.Handle("A")
	assert.False(t, live)
	assert.Empty(t, h.rooms.RoomsOf("A"))
	assert.False(t, h.relay.IsRegistered("A"))
	assert.Empty(t, h.OnlineUsers())

	// Events racing behind the disconnect are no-ops.
	require.NoError(t, h.Dispatch("A", types.Envelope{Event: types.EventJoinClass, Data: json.RawMessage(`{"classroomId":"r3"}`)}))
	flush(t, h)
	assert.False(t, h.rooms.IsMember("r3", "A"))
}
