package realtime

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/creastat/widget/chat"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const waitFor = 2 * time.Second

// wsServer accepts widget channels and hands each server-side conn to the test.
type wsServer struct {
	srv      *httptest.Server
	conns    chan *websocket.Conn
	frames   chan []byte
	paths    chan string
	attempts atomic.Int32
	reject   atomic.Bool
}

func newWSServer(t *testing.T) *wsServer {
	t.Helper()
	s := &wsServer{
		conns:  make(chan *websocket.Conn, 8),
		frames: make(chan []byte, 32),
		paths:  make(chan string, 8),
	}
	upgrader := websocket.Upgrader{}
	s.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.attempts.Add(1)
		if s.reject.Load() {
			http.Error(w, "unavailable", http.StatusServiceUnavailable)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		s.paths <- r.URL.Path
		s.conns <- conn
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			select {
			case s.frames <- data:
			default:
			}
		}
	}))
	t.Cleanup(s.srv.Close)
	return s
}

func (s *wsServer) accept(t *testing.T) *websocket.Conn {
	t.Helper()
	select {
	case c := <-s.conns:
		return c
	case <-time.After(waitFor):
		t.Fatal("no channel connected")
		return nil
	}
}

func send(t *testing.T, conn *websocket.Conn, typ string, payload any) {
	t.Helper()
	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	require.NoError(t, conn.WriteJSON(Frame{Type: typ, Payload: raw, Timestamp: time.Now().UTC().Format(time.RFC3339)}))
}

// recorder collects handler callbacks.
type recorder struct {
	connects    chan struct{}
	disconnects chan error
	messages    chan ChatMessage
	assigned    chan Assignment
	typing      chan Typing
	ended       chan SessionState
	transferred chan Assignment
}

func newRecorder() *recorder {
	return &recorder{
		connects:    make(chan struct{}, 8),
		disconnects: make(chan error, 8),
		messages:    make(chan ChatMessage, 8),
		assigned:    make(chan Assignment, 8),
		typing:      make(chan Typing, 8),
		ended:       make(chan SessionState, 8),
		transferred: make(chan Assignment, 8),
	}
}

func (r *recorder) OnConnect()                    { r.connects <- struct{}{} }
func (r *recorder) OnDisconnect(err error)        { r.disconnects <- err }
func (r *recorder) OnMessage(m ChatMessage)       { r.messages <- m }
func (r *recorder) OnAssigned(a Assignment)       { r.assigned <- a }
func (r *recorder) OnTyping(ty Typing)            { r.typing <- ty }
func (r *recorder) OnSessionEnded(s SessionState) { r.ended <- s }
func (r *recorder) OnTransferred(a Assignment)    { r.transferred <- a }

func receive[T any](t *testing.T, ch <-chan T) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(waitFor):
		t.Fatal("timed out waiting for event")
		var zero T
		return zero
	}
}

func fastBackoff() Option {
	return WithBackoff(Backoff{Base: 20 * time.Millisecond, Max: 20 * time.Millisecond})
}

func TestTransport_ConnectsToSessionPath(t *testing.T) {
	s := newWSServer(t)
	tr := New(s.srv.URL, fastBackoff())
	rec := newRecorder()
	tr.Subscribe(rec)

	tr.Open("sess key/1")
	s.accept(t)
	receive(t, rec.connects)

	assert.Equal(t, "/ws/public/sess key/1", receive(t, s.paths))
	assert.True(t, tr.Connected())
	assert.Equal(t, "sess key/1", tr.SessionKey())

	tr.Close()
	assert.NoError(t, receive(t, rec.disconnects))
	tr.Wait()
	assert.False(t, tr.Connected())
}

func TestTransport_UsesCustomDialer(t *testing.T) {
	s := newWSServer(t)
	var dials atomic.Int32
	d := &websocket.Dialer{
		HandshakeTimeout: time.Second,
		NetDialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			dials.Add(1)
			var nd net.Dialer
			return nd.DialContext(ctx, network, addr)
		},
	}
	tr := New(s.srv.URL, fastBackoff(), WithDialer(d))
	rec := newRecorder()
	tr.Subscribe(rec)

	tr.Open("k1")
	s.accept(t)
	receive(t, rec.connects)
	assert.Equal(t, int32(1), dials.Load())

	tr.Close()
	tr.Wait()
}

func TestTransport_DispatchesFrames(t *testing.T) {
	s := newWSServer(t)
	tr := New(s.srv.URL, fastBackoff())
	rec := newRecorder()
	tr.Subscribe(rec)

	tr.Open("k1")
	conn := s.accept(t)
	receive(t, rec.connects)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("not json")))
	send(t, conn, "chat.unknown", map[string]any{"x": 1})
	send(t, conn, TypePong, nil)
	send(t, conn, TypeMessageNew, map[string]any{
		"session_id": 7, "message_id": 42, "sender_type": "agent",
		"sender_name": "Ana", "body": "How can I help?", "timestamp": "2024-05-01T12:00:00Z",
	})
	send(t, conn, TypeSessionAssigned, map[string]any{"session_id": 7, "agent_id": 3, "agent_name": "Ana", "status": "active"})
	send(t, conn, TypeTyping, map[string]any{"session_id": 7, "sender_type": "agent", "is_typing": true})
	send(t, conn, TypeTransferred, map[string]any{"session_id": 7, "agent_name": "Bo"})
	send(t, conn, TypeSessionEnded, map[string]any{"session_id": 7, "status": "ended"})

	msg := receive(t, rec.messages)
	assert.Equal(t, int64(42), msg.MessageID)
	entry := msg.Message()
	assert.Equal(t, chat.SenderAgent, entry.Sender)
	assert.Equal(t, "How can I help?", entry.Body)
	assert.True(t, entry.Timestamp.Equal(time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)))

	assert.Equal(t, "Ana", receive(t, rec.assigned).AgentName)
	assert.True(t, receive(t, rec.typing).AgentTyping())
	assert.Equal(t, "Bo", receive(t, rec.transferred).AgentName)
	assert.Equal(t, chat.StatusEnded, receive(t, rec.ended).Status)

	tr.Close()
	tr.Wait()
}

func TestTransport_Ping(t *testing.T) {
	s := newWSServer(t)
	tr := New(s.srv.URL, fastBackoff())
	rec := newRecorder()
	tr.Subscribe(rec)

	assert.ErrorIs(t, tr.Ping(context.Background()), ErrNotConnected)

	tr.Open("k1")
	s.accept(t)
	receive(t, rec.connects)

	require.NoError(t, tr.Ping(context.Background()))
	assert.JSONEq(t, `{"type":"ping"}`, string(receive(t, s.frames)))

	tr.Close()
	tr.Wait()
	assert.ErrorIs(t, tr.Ping(context.Background()), ErrNotConnected)
}

func TestTransport_OpenIsIdempotent(t *testing.T) {
	s := newWSServer(t)
	tr := New(s.srv.URL, fastBackoff())
	rec := newRecorder()
	tr.Subscribe(rec)

	tr.Open("")
	assert.Empty(t, tr.SessionKey())

	tr.Open("k1")
	tr.Open("k1")
	tr.Open("k2")
	s.accept(t)
	receive(t, rec.connects)

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, int32(1), s.attempts.Load())
	assert.Equal(t, "k1", tr.SessionKey())

	tr.Close()
	tr.Wait()
}

func TestTransport_ReconnectsAfterDrop(t *testing.T) {
	s := newWSServer(t)
	tr := New(s.srv.URL, fastBackoff())
	rec := newRecorder()
	tr.Subscribe(rec)

	tr.Open("k1")
	first := s.accept(t)
	receive(t, rec.connects)

	require.NoError(t, first.Close())
	assert.Error(t, receive(t, rec.disconnects))

	s.accept(t)
	receive(t, rec.connects)
	assert.Equal(t, int32(2), s.attempts.Load())

	tr.Close()
	tr.Wait()
}

func TestTransport_RetriesWhileServerRejects(t *testing.T) {
	s := newWSServer(t)
	s.reject.Store(true)
	tr := New(s.srv.URL, fastBackoff())
	rec := newRecorder()
	tr.Subscribe(rec)

	tr.Open("k1")
	require.Eventually(t, func() bool { return s.attempts.Load() >= 3 }, waitFor, 5*time.Millisecond)

	s.reject.Store(false)
	s.accept(t)
	receive(t, rec.connects)

	tr.Close()
	tr.Wait()
}

func TestTransport_CloseCancelsScheduledReconnect(t *testing.T) {
	s := newWSServer(t)
	s.reject.Store(true)
	tr := New(s.srv.URL, WithBackoff(Backoff{Base: 150 * time.Millisecond}))

	tr.Open("k1")
	require.Eventually(t, func() bool { return s.attempts.Load() == 1 }, waitFor, 5*time.Millisecond)

	// The reconnect timer is armed; closing must defuse it.
	tr.Close()
	s.reject.Store(false)
	tr.Wait()

	time.Sleep(300 * time.Millisecond)
	assert.Equal(t, int32(1), s.attempts.Load())
	assert.False(t, tr.Connected())
	assert.Empty(t, tr.SessionKey())
}

func TestTransport_CloseDuringSessionEndedCallback(t *testing.T) {
	s := newWSServer(t)
	tr := New(s.srv.URL, fastBackoff())
	closed := make(chan struct{})
	tr.Subscribe(&closingHandler{tr: tr, done: closed})

	tr.Open("k1")
	conn := s.accept(t)
	send(t, conn, TypeSessionEnded, map[string]any{"session_id": 1, "status": "ended"})
	receive(t, closed)

	tr.Wait()
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, int32(1), s.attempts.Load())
}

type closingHandler struct {
	NopHandler
	tr   *Transport
	done chan struct{}
}

func (h *closingHandler) OnSessionEnded(SessionState) {
	h.tr.Close()
	close(h.done)
}

func TestTransport_Unsubscribe(t *testing.T) {
	s := newWSServer(t)
	tr := New(s.srv.URL, fastBackoff())
	rec := newRecorder()
	unsubscribe := tr.Subscribe(rec)
	unsubscribe()

	other := newRecorder()
	tr.Subscribe(other)

	tr.Open("k1")
	s.accept(t)
	receive(t, other.connects)
	assert.Empty(t, rec.connects)

	tr.Close()
	tr.Wait()
}
