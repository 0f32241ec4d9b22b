package server

import (
	"sync"

	"go.uber.org/zap"

	"github.com/teranos/gridsync/doc"
	"github.com/teranos/gridsync/transport"
)

// room is the server side of one shared document: its authoritative replica,
// the connected clients, and the ephemeral awareness states.
type room struct {
	id      string
	logger  *zap.SugaredLogger
	store   *snapshotStore
	onEmpty func(*room)

	mu        sync.RWMutex
	doc       *doc.Doc
	clients   map[*client]bool
	awareness map[string]*transport.PresenceRecord
	evicted   bool
}

func newRoom(id string, store *snapshotStore, logger *zap.SugaredLogger) (*room, error) {
	d := doc.New(logger)
	state, err := store.load(id)
	if err != nil {
		return nil, err
	}
	if state != nil {
		if err := d.ApplyUpdate(state); err != nil {
			logger.Warnw("Discarding corrupt stored document state",
				"doc", id,
				"error", err,
			)
		}
	}
	return &room{
		id:        id,
		logger:    logger,
		store:     store,
		doc:       d,
		clients:   make(map[*client]bool),
		awareness: make(map[string]*transport.PresenceRecord),
	}, nil
}

// join registers the client and streams it the current document state: one
// snapshot, the room's awareness states, then sync_done. Reports false when
// the room was evicted before the client could register; the caller must
// fetch a fresh room.
func (r *room) join(c *client) bool {
	r.mu.Lock()
	if r.evicted {
		r.mu.Unlock()
		return false
	}
	r.clients[c] = true
	states := r.awarenessCopy()
	r.mu.Unlock()

	state, err := r.doc.EncodeState()
	if err != nil {
		r.logger.Errorw("Failed to encode document state for join",
			"doc", r.id,
			"client", c.id,
			"error", err,
		)
	} else {
		c.queue(transport.Msg{Type: transport.MsgSnapshot, Doc: r.id, Payload: state})
	}
	if len(states) > 0 {
		c.queue(transport.Msg{Type: transport.MsgAwareness, Doc: r.id, States: states})
	}
	c.queue(transport.Msg{Type: transport.MsgSyncDone, Doc: r.id})

	r.logger.Infow("Client joined document", "doc", r.id, "client", c.id)
	return true
}

// leave removes the client and retracts its awareness state.
func (r *room) leave(c *client) {
	r.mu.Lock()
	delete(r.clients, c)
	_, hadState := r.awareness[c.id]
	delete(r.awareness, c.id)
	states := r.awarenessCopy()
	remaining := len(r.clients)
	r.mu.Unlock()

	if hadState {
		r.broadcast(transport.Msg{Type: transport.MsgAwareness, Doc: r.id, States: states}, nil)
	}
	r.logger.Infow("Client left document", "doc", r.id, "client", c.id, "remaining", remaining)

	// Document state is already persisted; an empty room holds nothing
	// worth keeping in memory.
	if remaining == 0 && r.onEmpty != nil {
		r.onEmpty(r)
	}
}

// handleUpdate merges a client's update into the room replica, persists the
// new state, and relays the original payload to every other client.
func (r *room) handleUpdate(from *client, msg transport.Msg) {
	if err := r.doc.ApplyUpdate(msg.Payload); err != nil {
		r.logger.Warnw("Rejected malformed update",
			"doc", r.id,
			"client", from.id,
			"error", err,
		)
		return
	}

	state, err := r.doc.EncodeState()
	if err == nil {
		if err := r.store.save(r.id, state); err != nil {
			r.logger.Warnw("Failed to persist document", "doc", r.id, "error", err)
		}
	}

	r.broadcast(msg, from)
}

// handleAwareness merges the client's announced states into the room and
// rebroadcasts the full map to everyone, sender included, so all replicas of
// the presence list agree.
func (r *room) handleAwareness(from *client, msg transport.Msg) {
	r.mu.Lock()
	for id, rec := range msg.States {
		if rec == nil {
			delete(r.awareness, id)
			continue
		}
		r.awareness[id] = rec
	}
	states := r.awarenessCopy()
	r.mu.Unlock()

	r.broadcast(transport.Msg{Type: transport.MsgAwareness, Doc: r.id, States: states}, nil)
}

// broadcast queues a message to every connected client except skip.
// Returns the number of clients that accepted the message.
func (r *room) broadcast(msg transport.Msg, skip *client) int {
	r.mu.RLock()
	clients := make([]*client, 0, len(r.clients))
	for c := range r.clients {
		if c != skip {
			clients = append(clients, c)
		}
	}
	r.mu.RUnlock()

	sent := 0
	for _, c := range clients {
		if c.queue(msg) {
			sent++
		}
	}
	return sent
}

// awarenessCopy snapshots the awareness map. Caller holds r.mu.
func (r *room) awarenessCopy() map[string]*transport.PresenceRecord {
	states := make(map[string]*transport.PresenceRecord, len(r.awareness))
	for id, rec := range r.awareness {
		states[id] = rec
	}
	return states
}
