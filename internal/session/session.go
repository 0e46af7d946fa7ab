// Package session mirrors the shared buffer for one client and keeps its link to the
// coordinator alive.
//
// A Session moves Disconnected -> Connecting -> Connected and back to Disconnected
// when the link drops, reconnecting according to its Policy. Local edits are sent only
// while Connected; nothing is queued for later. Every push from the coordinator,
// including the echo of our own edit, overwrites the mirror and is rendered.
package session

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/golang/glog"
	"github.com/gorilla/websocket"

	"pyshare/internal/protocol"
)

const (
	writeWait = 10 * time.Second
	// readWait must exceed the coordinator's ping period.
	readWait = 75 * time.Second

	statusBuffer = 32
)

var ErrReconnectExhausted = errors.New("session: reconnect attempts exhausted")

// State is the link state of a Session.
type State int

const (
	Disconnected State = iota
	Connecting
	Connected
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// StatusEvent reports a state change to the UI. Attempt counts reconnect attempts
// since the last successful connection. Exhausted is set on the final event when
// the policy gives up.
type StatusEvent struct {
	State     State
	Attempt   int
	Err       error
	Exhausted bool
}

// Surface is the edit widget. Render replaces its whole content.
type Surface interface {
	Render(code string)
}

// Option configures a Session.
type Option func(*Session)

func WithPolicy(p Policy) Option {
	return func(s *Session) { s.policy = p }
}

func WithDialer(d *websocket.Dialer) Option {
	return func(s *Session) { s.dialer = d }
}

// WithHeader sets handshake headers, e.g. Origin.
func WithHeader(h http.Header) Option {
	return func(s *Session) { s.header = h }
}

// Session mirrors the buffer for one client and owns its link to the coordinator.
type Session struct {
	url     string
	surface Surface
	policy  Policy
	dialer  *websocket.Dialer
	header  http.Header
	status  chan StatusEvent

	mu      sync.Mutex // protects the fields below and serializes writes on conn
	state   State
	conn    *websocket.Conn
	mirror  string
	pending bool
}

// New returns a disconnected Session for the live channel at url.
func New(url string, surface Surface, opts ...Option) *Session {
	s := &Session{
		url:     url,
		surface: surface,
		policy:  DefaultPolicy(),
		dialer:  websocket.DefaultDialer,
		status:  make(chan StatusEvent, statusBuffer),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Status delivers state changes. Events are dropped if the reader falls behind; the
// channel is closed when Run returns.
func (s *Session) Status() <-chan StatusEvent {
	return s.status
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) Mirror() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mirror
}

// PendingLocalEdit reports whether the mirror holds a local edit that no push has
// overwritten yet. It is informational only.
func (s *Session) PendingLocalEdit() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending
}

// Run connects and keeps the session connected until ctx is done or the policy gives
// up. It must be called once.
func (s *Session) Run(ctx context.Context) error {
	defer close(s.status)

	attempt := 0
	for {
		if attempt > 0 {
			delay, ok := s.policy.Delay(attempt)
			if !ok {
				glog.Warningf("session: giving up on %s after %d attempts", s.url, attempt-1)
				s.transition(StatusEvent{State: Disconnected, Attempt: attempt - 1, Err: ErrReconnectExhausted, Exhausted: true})
				return ErrReconnectExhausted
			}
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				s.transition(StatusEvent{State: Disconnected, Attempt: attempt, Err: ctx.Err()})
				return ctx.Err()
			case <-timer.C:
			}
		}

		s.transition(StatusEvent{State: Connecting, Attempt: attempt})
		conn, _, err := s.dialer.DialContext(ctx, s.url, s.header)
		if err != nil {
			if ctx.Err() != nil {
				s.transition(StatusEvent{State: Disconnected, Attempt: attempt, Err: ctx.Err()})
				return ctx.Err()
			}
			glog.Warningf("session: dial %s: %v", s.url, err)
			attempt++
			s.transition(StatusEvent{State: Disconnected, Attempt: attempt, Err: err})
			continue
		}

		err = s.serve(ctx, conn)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		glog.Infof("session: link to %s lost: %v", s.url, err)
		attempt = 1
	}
}

// serve reads pushes until the link fails or ctx is done.
func (s *Session) serve(ctx context.Context, conn *websocket.Conn) (err error) {
	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()
	s.transition(StatusEvent{State: Connected})

	stop := make(chan struct{})
	defer func() {
		close(stop)
		closeErr := s.detach(conn)
		if err == nil {
			err = closeErr
		}
		s.transition(StatusEvent{State: Disconnected, Err: err})
	}()
	go func() {
		select {
		case <-ctx.Done():
			s.mu.Lock()
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeWait))
			s.mu.Unlock()
			_ = conn.Close()
		case <-stop:
		}
	}()

	_ = conn.SetReadDeadline(time.Now().Add(readWait))
	conn.SetPingHandler(func(data string) error {
		_ = conn.SetReadDeadline(time.Now().Add(readWait))
		return conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(writeWait))
	})

	for {
		messageType, message, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		if messageType != websocket.TextMessage {
			continue
		}
		code, err := protocol.DecodeUpdate(message)
		if err != nil {
			glog.Warningf("session: ignoring push: %v", err)
			continue
		}
		s.onRemoteUpdate(code)
	}
}

func (s *Session) detach(conn *websocket.Conn) error {
	s.mu.Lock()
	if s.conn == conn {
		s.conn = nil
	}
	s.mu.Unlock()
	return conn.Close()
}

// transition records the new state before publishing it.
func (s *Session) transition(ev StatusEvent) {
	s.mu.Lock()
	s.state = ev.State
	s.mu.Unlock()
	glog.V(1).Infof("session: %s (attempt %d)", ev.State, ev.Attempt)
	select {
	case s.status <- ev:
	default:
	}
}

// EmitLocalEdit records a full-buffer edit from the surface and forwards it when
// connected. It reports whether the edit was sent. A write failure closes the link so
// Run reconnects; the edit itself is not retried.
func (s *Session) EmitLocalEdit(code string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.mirror = code
	s.pending = true
	if s.state != Connected || s.conn == nil {
		return false, nil
	}

	data, err := protocol.Encode(protocol.TypeCodeChange, code)
	if err != nil {
		return false, err
	}
	_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		_ = s.conn.Close()
		return false, fmt.Errorf("send edit: %w", err)
	}
	return true, nil
}

// onRemoteUpdate overwrites the mirror unconditionally, even over a pending local
// edit.
func (s *Session) onRemoteUpdate(code string) {
	s.mu.Lock()
	s.mirror = code
	s.pending = false
	s.mu.Unlock()
	if s.surface != nil {
		s.surface.Render(code)
	}
}
