// Package transport connects a session to the relay server over WebSocket.
// It carries two kinds of traffic: durable document updates, forwarded to
// and from the replicated document, and the ephemeral awareness channel for
// presence. Connection lifecycle is asynchronous; the provider reconnects
// with capped exponential backoff and surfaces state through status
// callbacks.
package transport

import (
	"context"
	"encoding/json"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// WebSocket timeout constants following Gorilla best practices
// See: https://github.com/gorilla/websocket/blob/master/examples/chat/client.go
const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period (must be less than pongWait)
	pingPeriod = 54 * time.Second

	// Maximum message size allowed from peer (4MB for document snapshots)
	maxMessageSize = 4 * 1024 * 1024

	// Outbound queue depth before messages are dropped
	sendQueueSize = 256
)

// MsgType discriminates relay protocol messages.
type MsgType string

const (
	// MsgSnapshot carries the full document state, sent by the server on join.
	MsgSnapshot MsgType = "snapshot"
	// MsgUpdate carries one incremental document update payload.
	MsgUpdate MsgType = "update"
	// MsgAwareness carries ephemeral presence states.
	MsgAwareness MsgType = "awareness"
	// MsgSyncDone marks the end of the server's initial snapshot stream.
	MsgSyncDone MsgType = "sync_done"
)

// Msg is the relay wire envelope.
type Msg struct {
	Type    MsgType                    `json:"type"`
	Doc     string                     `json:"doc,omitempty"`
	Client  string                     `json:"client,omitempty"`
	Payload json.RawMessage            `json:"payload,omitempty"`
	States  map[string]*PresenceRecord `json:"states,omitempty"`
}

// Status is the observable connection state.
type Status int

const (
	StatusDisconnected Status = iota
	StatusConnecting
	StatusConnected
)

func (s Status) String() string {
	switch s {
	case StatusConnecting:
		return "connecting"
	case StatusConnected:
		return "connected"
	default:
		return "disconnected"
	}
}

// Provider is one client's connection to a shared document on the relay.
type Provider struct {
	serverURL string
	docID     string
	clientID  string
	logger    *zap.SugaredLogger

	mu        sync.Mutex
	conn      *websocket.Conn
	connected bool
	started   bool
	destroyed bool
	onStatus  map[int]func(Status)
	nextSub   int
	onUpdate  func([]byte)
	onSynced  func()

	sendq     chan Msg
	awareness *Awareness
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

// New creates a provider for one document. The transport client id is
// freshly assigned per connection handle and is distinct from the stable
// application user id carried inside presence records.
func New(serverURL, documentID string, logger *zap.SugaredLogger) *Provider {
	p := &Provider{
		serverURL: serverURL,
		docID:     documentID,
		clientID:  uuid.NewString(),
		logger:    logger,
		onStatus:  make(map[int]func(Status)),
		sendq:     make(chan Msg, sendQueueSize),
	}
	p.awareness = newAwareness(p.clientID, p.enqueueAwareness, logger)
	return p
}

// ClientID returns the transport-assigned client identity.
func (p *Provider) ClientID() string {
	return p.clientID
}

// Awareness returns the presence channel bound to this connection.
func (p *Provider) Awareness() *Awareness {
	return p.awareness
}

// OnStatus registers a connection status callback. Returns an unsubscribe
// function.
func (p *Provider) OnStatus(fn func(Status)) func() {
	p.mu.Lock()
	id := p.nextSub
	p.nextSub++
	p.onStatus[id] = fn
	p.mu.Unlock()
	return func() {
		p.mu.Lock()
		delete(p.onStatus, id)
		p.mu.Unlock()
	}
}

// OnUpdate sets the handler for inbound document update payloads, including
// the initial snapshot.
func (p *Provider) OnUpdate(fn func([]byte)) {
	p.mu.Lock()
	p.onUpdate = fn
	p.mu.Unlock()
}

// OnSynced sets the handler invoked after the server's initial snapshot
// stream completes, once per established connection.
func (p *Provider) OnSynced(fn func()) {
	p.mu.Lock()
	p.onSynced = fn
	p.mu.Unlock()
}

// IsConnected reports whether a live connection is established.
func (p *Provider) IsConnected() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.connected
}

// Connect starts the connection loop. It never blocks; connection state is
// delivered through status callbacks. Calling Connect twice is a no-op.
func (p *Provider) Connect(ctx context.Context) {
	p.mu.Lock()
	if p.started || p.destroyed {
		p.mu.Unlock()
		return
	}
	p.started = true
	ctx, p.cancel = context.WithCancel(ctx)
	p.mu.Unlock()

	p.wg.Add(1)
	go p.run(ctx)
}

// SendUpdate queues an incremental document update for delivery. When the
// queue is full or the connection is down the payload is dropped; the full
// state push after the next sync handshake restores convergence.
func (p *Provider) SendUpdate(payload []byte) {
	p.enqueue(Msg{Type: MsgUpdate, Doc: p.docID, Client: p.clientID, Payload: payload})
}

// SendState queues a full document state. A full state supersedes every
// queued incremental update, so when the queue is full the oldest queued
// message is evicted instead of dropping the state itself.
func (p *Provider) SendState(payload []byte) {
	msg := Msg{Type: MsgUpdate, Doc: p.docID, Client: p.clientID, Payload: payload}
	for {
		select {
		case p.sendq <- msg:
			return
		default:
		}
		select {
		case <-p.sendq:
		default:
		}
	}
}

func (p *Provider) enqueueAwareness(states map[string]*PresenceRecord) {
	p.enqueue(Msg{Type: MsgAwareness, Doc: p.docID, Client: p.clientID, States: states})
}

func (p *Provider) enqueue(msg Msg) {
	select {
	case p.sendq <- msg:
	default:
		p.logger.Warnw("Transport send queue full, dropping message",
			"type", string(msg.Type),
			"doc", p.docID,
		)
	}
}

// Destroy tears the connection down and stops the reconnect loop.
// Idempotent; safe to call before Connect.
func (p *Provider) Destroy() {
	p.mu.Lock()
	if p.destroyed {
		p.mu.Unlock()
		return
	}
	p.destroyed = true
	cancel := p.cancel
	conn := p.conn
	p.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if conn != nil {
		_ = conn.Close()
	}
	p.wg.Wait()
	p.setStatus(StatusDisconnected)
}

func (p *Provider) wsURL() (string, error) {
	u, err := url.Parse(strings.TrimSuffix(p.serverURL, "/"))
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/ws"
	q := u.Query()
	q.Set("doc", p.docID)
	q.Set("client", p.clientID)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (p *Provider) run(ctx context.Context) {
	defer p.wg.Done()

	target, err := p.wsURL()
	if err != nil {
		p.logger.Errorw("Invalid server URL", "url", p.serverURL, "error", err)
		return
	}

	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = 0 // retry until Destroy
	bo.MaxInterval = 30 * time.Second

	for {
		if ctx.Err() != nil {
			return
		}
		p.setStatus(StatusConnecting)

		conn, _, err := websocket.DefaultDialer.DialContext(ctx, target, nil)
		if err != nil {
			wait := bo.NextBackOff()
			p.logger.Warnw("Relay connection failed, retrying",
				"url", target,
				"retry_in", wait.String(),
				"error", err,
			)
			select {
			case <-ctx.Done():
				return
			case <-time.After(wait):
			}
			continue
		}
		bo.Reset()

		p.mu.Lock()
		p.conn = conn
		p.connected = true
		p.mu.Unlock()
		p.setStatus(StatusConnected)

		// Re-announce our presence on every (re)connection
		if local := p.awareness.localStates(); local != nil {
			p.enqueueAwareness(local)
		}

		p.serve(ctx, conn)

		p.mu.Lock()
		p.conn = nil
		p.connected = false
		p.mu.Unlock()
		p.setStatus(StatusDisconnected)
	}
}

// serve runs the write pump in a goroutine and the read pump inline,
// returning when the connection dies or ctx is cancelled.
func (p *Provider) serve(ctx context.Context, conn *websocket.Conn) {
	done := make(chan struct{})
	defer close(done)

	p.wg.Add(1)
	go p.writePump(ctx, conn, done)

	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var msg Msg
		if err := conn.ReadJSON(&msg); err != nil {
			if ctx.Err() == nil && websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				p.logger.Warnw("Relay connection lost", "error", err)
			}
			return
		}
		p.dispatch(msg)
	}
}

func (p *Provider) writePump(ctx context.Context, conn *websocket.Conn, done <-chan struct{}) {
	defer p.wg.Done()
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			_ = conn.Close()
			return
		case <-done:
			return
		case msg := <-p.sendq:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(msg); err != nil {
				p.logger.Debugw("Relay write failed", "error", err)
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (p *Provider) dispatch(msg Msg) {
	switch msg.Type {
	case MsgSnapshot, MsgUpdate:
		p.mu.Lock()
		fn := p.onUpdate
		p.mu.Unlock()
		if fn != nil && len(msg.Payload) > 0 {
			fn(msg.Payload)
		}
	case MsgSyncDone:
		p.mu.Lock()
		fn := p.onSynced
		p.mu.Unlock()
		if fn != nil {
			fn()
		}
	case MsgAwareness:
		p.awareness.applyRemote(msg.States)
	default:
		p.logger.Debugw("Ignoring unknown relay message", "type", string(msg.Type))
	}
}

func (p *Provider) setStatus(s Status) {
	p.mu.Lock()
	subs := make([]func(Status), 0, len(p.onStatus))
	for _, fn := range p.onStatus {
		subs = append(subs, fn)
	}
	p.mu.Unlock()
	for _, fn := range subs {
		fn(s)
	}
}
