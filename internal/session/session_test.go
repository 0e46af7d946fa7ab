package session

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-playground/assert/v2"
	"github.com/gorilla/websocket"

	"pyshare/internal/coordinator"
	"pyshare/internal/protocol"
	"pyshare/internal/store"
)

const testTimeout = 3 * time.Second

var fastPolicy = Policy{
	Initial:     10 * time.Millisecond,
	Max:         40 * time.Millisecond,
	Multiplier:  2,
	MaxAttempts: 20,
}

type recordingSurface struct {
	mu      sync.Mutex
	renders []string
}

func (r *recordingSurface) Render(code string) {
	r.mu.Lock()
	r.renders = append(r.renders, code)
	r.mu.Unlock()
}

func (r *recordingSurface) last() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.renders) == 0 {
		return ""
	}
	return r.renders[len(r.renders)-1]
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(testTimeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func startHub(t *testing.T, st store.Store) (*coordinator.Hub, context.CancelFunc) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	h := coordinator.NewHub(st, coordinator.Options{})
	go func() { _ = h.Run(ctx) }()
	t.Cleanup(cancel)
	return h, cancel
}

func serveHub(t *testing.T, h *coordinator.Hub) string {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(h.ServeWs))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func runSession(t *testing.T, s *Session) (context.CancelFunc, <-chan error) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()
	t.Cleanup(cancel)
	return cancel, done
}

func snapshot(t *testing.T, h *coordinator.Hub) string {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()
	code, err := h.Snapshot(ctx)
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	return code
}

func TestSessionBootstrapsAndReceivesEcho(t *testing.T) {
	st := store.NewMemory()
	_ = st.Set(context.Background(), "x=1")
	h, _ := startHub(t, st)
	surface := &recordingSurface{}
	s := New(serveHub(t, h), surface, WithPolicy(fastPolicy))
	runSession(t, s)

	eventually(t, "bootstrap", func() bool { return s.State() == Connected && s.Mirror() == "x=1" })
	assert.Equal(t, surface.last(), "x=1")

	sent, err := s.EmitLocalEdit("x=2")
	assert.Equal(t, err, nil)
	assert.Equal(t, sent, true)

	eventually(t, "echo", func() bool { return surface.last() == "x=2" && !s.PendingLocalEdit() })
	assert.Equal(t, snapshot(t, h), "x=2")
}

func TestSessionsConverge(t *testing.T) {
	h, _ := startHub(t, store.NewMemory())
	url := serveHub(t, h)

	a := New(url, &recordingSurface{}, WithPolicy(fastPolicy))
	runSession(t, a)
	eventually(t, "a connected", func() bool { return a.State() == Connected })

	_, err := a.EmitLocalEdit("x=1")
	assert.Equal(t, err, nil)
	eventually(t, "a echo", func() bool { return snapshot(t, h) == "x=1" })

	b := New(url, &recordingSurface{}, WithPolicy(fastPolicy))
	runSession(t, b)
	eventually(t, "b bootstrap", func() bool { return b.State() == Connected && b.Mirror() == "x=1" })

	_, err = b.EmitLocalEdit("x=1\ny=2")
	assert.Equal(t, err, nil)
	eventually(t, "convergence", func() bool {
		return a.Mirror() == "x=1\ny=2" && b.Mirror() == "x=1\ny=2"
	})
	assert.Equal(t, snapshot(t, h), "x=1\ny=2")
}

func TestEmitWhileDisconnectedStaysLocal(t *testing.T) {
	s := New("ws://127.0.0.1:1/ws", &recordingSurface{})

	sent, err := s.EmitLocalEdit("offline")
	assert.Equal(t, err, nil)
	assert.Equal(t, sent, false)
	assert.Equal(t, s.Mirror(), "offline")
	assert.Equal(t, s.PendingLocalEdit(), true)
	assert.Equal(t, s.State(), Disconnected)
}

func TestRemoteUpdateOverwritesPendingEdit(t *testing.T) {
	surface := &recordingSurface{}
	s := New("ws://127.0.0.1:1/ws", surface)

	_, _ = s.EmitLocalEdit("typing...")
	s.onRemoteUpdate("someone else")

	assert.Equal(t, s.Mirror(), "someone else")
	assert.Equal(t, s.PendingLocalEdit(), false)
	assert.Equal(t, surface.last(), "someone else")
}

func TestSessionReconnectsAfterLinkLoss(t *testing.T) {
	ctx := context.Background()
	before := store.NewMemory()
	_ = before.Set(ctx, "before")
	after := store.NewMemory()
	_ = after.Set(ctx, "after")

	first, stopFirst := startHub(t, before)
	second, _ := startHub(t, after)

	var current atomic.Pointer[coordinator.Hub]
	current.Store(first)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		current.Load().ServeWs(w, r)
	}))
	t.Cleanup(srv.Close)

	s := New("ws"+strings.TrimPrefix(srv.URL, "http"), &recordingSurface{}, WithPolicy(fastPolicy))
	runSession(t, s)
	eventually(t, "first connection", func() bool { return s.State() == Connected && s.Mirror() == "before" })

	current.Store(second)
	stopFirst()

	eventually(t, "reconnect", func() bool { return s.State() == Connected && s.Mirror() == "after" })

	sent, err := s.EmitLocalEdit("after reconnect")
	assert.Equal(t, err, nil)
	assert.Equal(t, sent, true)
	eventually(t, "edit after reconnect", func() bool { return snapshot(t, second) == "after reconnect" })
}

func TestLinkLossReportsReadError(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		bootstrap, _ := protocol.Encode(protocol.TypeCodeUpdate, "x=1")
		_ = conn.WriteMessage(websocket.TextMessage, bootstrap)
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "restarting"),
			time.Now().Add(time.Second))
	}))
	t.Cleanup(srv.Close)

	s := New("ws"+strings.TrimPrefix(srv.URL, "http"), &recordingSurface{}, WithPolicy(fastPolicy))
	runSession(t, s)

	connected := false
	timeout := time.After(testTimeout)
	for {
		select {
		case ev := <-s.Status():
			if ev.State == Connected {
				connected = true
				continue
			}
			if !connected || ev.State != Disconnected {
				continue
			}
			if !websocket.IsCloseError(ev.Err, websocket.CloseGoingAway) {
				t.Fatalf("expected going-away close error, got %v", ev.Err)
			}
			return
		case <-timeout:
			t.Fatal("no disconnect reported after link loss")
		}
	}
}

func TestRunGivesUpAfterMaxAttempts(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	srv.Close()

	s := New(url, &recordingSurface{}, WithPolicy(Policy{
		Initial:     5 * time.Millisecond,
		Max:         10 * time.Millisecond,
		Multiplier:  2,
		MaxAttempts: 2,
	}))

	done := make(chan error, 1)
	go func() { done <- s.Run(context.Background()) }()

	var err error
	select {
	case err = <-done:
	case <-time.After(testTimeout):
		t.Fatal("Run did not give up")
	}
	if !errors.Is(err, ErrReconnectExhausted) {
		t.Fatalf("expected ErrReconnectExhausted, got %v", err)
	}
	assert.Equal(t, s.State(), Disconnected)

	var events []StatusEvent
	for ev := range s.Status() {
		events = append(events, ev)
	}
	if len(events) == 0 {
		t.Fatal("expected status events")
	}
	final := events[len(events)-1]
	assert.Equal(t, final.Exhausted, true)
	assert.Equal(t, final.State, Disconnected)
	assert.Equal(t, final.Attempt, 2)

	connecting := 0
	for _, ev := range events {
		if ev.State == Connecting {
			connecting++
		}
	}
	// One initial attempt plus two reconnects.
	assert.Equal(t, connecting, 3)
}

func TestCancelClosesLink(t *testing.T) {
	h, _ := startHub(t, store.NewMemory())
	s := New(serveHub(t, h), &recordingSurface{}, WithPolicy(fastPolicy))
	cancel, done := runSession(t, s)
	eventually(t, "connected", func() bool { return s.State() == Connected })

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
	case <-time.After(testTimeout):
		t.Fatal("Run did not return")
	}
	assert.Equal(t, s.State(), Disconnected)

	eventually(t, "hub to drop connection", func() bool {
		n, err := h.Connections(context.Background())
		return err == nil && n == 0
	})
}

func TestMalformedPushIsIgnored(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		_ = conn.WriteMessage(websocket.TextMessage, []byte("junk"))
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"code-update","code":7}`))
		valid, _ := protocol.Encode(protocol.TypeCodeUpdate, "valid")
		_ = conn.WriteMessage(websocket.TextMessage, valid)
		_, _, _ = conn.ReadMessage()
	}))
	t.Cleanup(srv.Close)

	surface := &recordingSurface{}
	s := New("ws"+strings.TrimPrefix(srv.URL, "http"), surface, WithPolicy(fastPolicy))
	runSession(t, s)

	eventually(t, "valid push", func() bool { return s.Mirror() == "valid" })
	surface.mu.Lock()
	defer surface.mu.Unlock()
	assert.Equal(t, surface.renders, []string{"valid"})
}

func TestStateString(t *testing.T) {
	assert.Equal(t, Disconnected.String(), "disconnected")
	assert.Equal(t, Connecting.String(), "connecting")
	assert.Equal(t, Connected.String(), "connected")
}
