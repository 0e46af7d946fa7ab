// Package coordinator relays whole-buffer edits between live connections.
//
// A Hub owns the Store. Every register, unregister, edit and snapshot request is
// handled on the goroutine running Hub.Run, so writes to the buffer are strictly
// sequential and the latest accepted edit wins.
package coordinator

import (
	"context"
	"errors"
	"fmt"

	"github.com/golang/glog"

	"pyshare/internal/protocol"
	"pyshare/internal/store"
)

// ErrHubStopped is returned by queries made after Run has returned.
var ErrHubStopped = errors.New("coordinator: hub stopped")

const defaultSendBuffer = 256

// Options tunes transport behavior. The zero value is usable.
type Options struct {
	// AllowedOrigins lists browser origins accepted on the live channel and the REST
	// routes. "*" accepts any origin.
	AllowedOrigins []string
	// MaxMessageBytes caps an inbound frame. Zero leaves frames unbounded.
	MaxMessageBytes int64
	// SendBuffer is the per-connection outbound queue length.
	SendBuffer int
}

type edit struct {
	client *Client
	code   string
}

type snapshotReply struct {
	code string
	err  error
}

// Hub maintains the set of registered connections and broadcasts buffer updates to
// them.
type Hub struct {
	store store.Store
	opts  Options

	clients    map[*Client]bool
	register   chan *Client
	unregister chan *Client
	submit     chan edit
	snapshots  chan chan snapshotReply
	counts     chan chan int
	done       chan struct{}
}

// NewHub returns a Hub owning st. Call Run to start it.
func NewHub(st store.Store, opts Options) *Hub {
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = defaultSendBuffer
	}
	return &Hub{
		store:      st,
		opts:       opts,
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		submit:     make(chan edit),
		snapshots:  make(chan chan snapshotReply),
		counts:     make(chan chan int),
		done:       make(chan struct{}),
	}
}

// Run processes hub events until ctx is done, then closes every connection. A Hub
// runs once.
func (h *Hub) Run(ctx context.Context) error {
	defer h.shutdown()

	var remote <-chan string
	if w, ok := h.store.(store.Watcher); ok {
		updates, err := w.Watch(ctx)
		if err != nil {
			return fmt.Errorf("watch store: %w", err)
		}
		remote = updates
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case client := <-h.register:
			h.addClient(ctx, client)
		case client := <-h.unregister:
			h.removeClient(client)
		case e := <-h.submit:
			h.applyEdit(ctx, e)
		case _, ok := <-remote:
			if !ok {
				glog.Warning("coordinator: store watch ended, cross-process updates stopped")
				remote = nil
				continue
			}
			h.applyRemote(ctx)
		case reply := <-h.snapshots:
			code, err := h.store.Get(ctx)
			reply <- snapshotReply{code: code, err: err}
		case reply := <-h.counts:
			reply <- len(h.clients)
		}
	}
}

// addClient queues the bootstrap push before the client can see any broadcast.
func (h *Hub) addClient(ctx context.Context, client *Client) {
	code, err := h.store.Get(ctx)
	if err != nil {
		glog.Errorf("coordinator: bootstrap read for %s: %v", client.id, err)
		close(client.send)
		return
	}
	message, err := protocol.Encode(protocol.TypeCodeUpdate, code)
	if err != nil {
		glog.Errorf("coordinator: bootstrap encode for %s: %v", client.id, err)
		close(client.send)
		return
	}
	client.send <- message
	h.clients[client] = true
	glog.Infof("coordinator: client %s registered, total clients: %d", client.id, len(h.clients))
}

func (h *Hub) removeClient(client *Client) {
	if _, ok := h.clients[client]; ok {
		delete(h.clients, client)
		close(client.send)
		glog.Infof("coordinator: client %s unregistered, total clients: %d", client.id, len(h.clients))
	}
}

func (h *Hub) applyEdit(ctx context.Context, e edit) {
	if _, ok := h.clients[e.client]; !ok {
		glog.V(1).Infof("coordinator: ignoring edit from dropped client %s", e.client.id)
		return
	}
	if err := h.store.Set(ctx, e.code); err != nil {
		glog.Errorf("coordinator: store edit from %s: %v", e.client.id, err)
		return
	}
	glog.V(2).Infof("coordinator: buffer updated by %s (%d bytes)", e.client.id, len(e.code))
	h.broadcast(e.code)
}

// applyRemote treats a watch notification as a hint and pushes the stored value, so a
// notification that arrives after a newer local edit cannot roll connections back.
func (h *Hub) applyRemote(ctx context.Context) {
	code, err := h.store.Get(ctx)
	if err != nil {
		glog.Errorf("coordinator: reread after remote update: %v", err)
		return
	}
	h.broadcast(code)
}

// broadcast never blocks: a client whose queue is full is dropped and the loop
// continues with the rest.
func (h *Hub) broadcast(code string) {
	message, err := protocol.Encode(protocol.TypeCodeUpdate, code)
	if err != nil {
		glog.Errorf("coordinator: broadcast encode: %v", err)
		return
	}
	for client := range h.clients {
		select {
		case client.send <- message:
		default:
			close(client.send)
			delete(h.clients, client)
			glog.Warningf("coordinator: dropped slow client %s, total clients: %d", client.id, len(h.clients))
		}
	}
}

func (h *Hub) shutdown() {
	close(h.done)
	for client := range h.clients {
		close(client.send)
		delete(h.clients, client)
	}
}

// Snapshot returns the current buffer. It is answered by the Run goroutine so it
// observes every edit accepted before it.
func (h *Hub) Snapshot(ctx context.Context) (string, error) {
	reply := make(chan snapshotReply, 1)
	select {
	case h.snapshots <- reply:
	case <-h.done:
		return "", ErrHubStopped
	case <-ctx.Done():
		return "", ctx.Err()
	}
	select {
	case r := <-reply:
		return r.code, r.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Connections returns the number of registered connections.
func (h *Hub) Connections(ctx context.Context) (int, error) {
	reply := make(chan int, 1)
	select {
	case h.counts <- reply:
	case <-h.done:
		return 0, ErrHubStopped
	case <-ctx.Done():
		return 0, ctx.Err()
	}
	select {
	case n := <-reply:
		return n, nil
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

func (h *Hub) join(client *Client) bool {
	select {
	case h.register <- client:
		return true
	case <-h.done:
		return false
	}
}

func (h *Hub) leave(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

func (h *Hub) submitEdit(client *Client, code string) bool {
	select {
	case h.submit <- edit{client: client, code: code}:
		return true
	case <-h.done:
		return false
	}
}
