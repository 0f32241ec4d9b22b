package transport

import (
	"sort"
	"sync"

	"go.uber.org/zap"
)

// CursorPos is a collaborator's selected cell.
type CursorPos struct {
	Sheet int `json:"sheet"`
	Row   int `json:"row"`
	Col   int `json:"col"`
}

// PresenceRecord is the ephemeral state one client broadcasts about itself.
// ID is the stable application user id, not the transport client id; the
// transport id only keys the record on the wire. Nothing here is persisted
// and no merge is needed: each client is the sole writer of its own record.
type PresenceRecord struct {
	ID     string     `json:"id"`
	Name   string     `json:"name"`
	Color  string     `json:"color"`
	Cursor *CursorPos `json:"cursor,omitempty"`
}

// Awareness is the presence channel bound to one connection. Remote states
// vanish when their owning client disconnects; the local record's lifecycle
// is bound to the provider.
type Awareness struct {
	mu      sync.Mutex
	localID string
	local   *PresenceRecord
	remote  map[string]*PresenceRecord
	subs    map[int]func([]PresenceRecord)
	nextSub int
	publish func(map[string]*PresenceRecord)
	logger  *zap.SugaredLogger
}

func newAwareness(localID string, publish func(map[string]*PresenceRecord), logger *zap.SugaredLogger) *Awareness {
	return &Awareness{
		localID: localID,
		remote:  make(map[string]*PresenceRecord),
		subs:    make(map[int]func([]PresenceRecord)),
		publish: publish,
		logger:  logger,
	}
}

// SetLocalState replaces and broadcasts this client's presence record.
func (a *Awareness) SetLocalState(rec PresenceRecord) {
	a.mu.Lock()
	r := rec
	a.local = &r
	states := map[string]*PresenceRecord{a.localID: &r}
	publish := a.publish
	a.mu.Unlock()

	if publish != nil {
		publish(states)
	}
}

// LocalState returns a copy of the local record, if one was published.
func (a *Awareness) LocalState() (PresenceRecord, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.local == nil {
		return PresenceRecord{}, false
	}
	return *a.local, true
}

// localStates is the wire form of the local record for re-announcement on
// reconnect.
func (a *Awareness) localStates() map[string]*PresenceRecord {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.local == nil {
		return nil
	}
	r := *a.local
	return map[string]*PresenceRecord{a.localID: &r}
}

// States returns every remote collaborator's record, never including the
// local client's own, ordered by name for stable rendering.
func (a *Awareness) States() []PresenceRecord {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]PresenceRecord, 0, len(a.remote))
	for id, rec := range a.remote {
		if id == a.localID || rec == nil {
			continue
		}
		out = append(out, *rec)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// OnChange registers a callback fired with the remote state list whenever it
// changes. Returns an unsubscribe function.
func (a *Awareness) OnChange(fn func([]PresenceRecord)) func() {
	a.mu.Lock()
	id := a.nextSub
	a.nextSub++
	a.subs[id] = fn
	a.mu.Unlock()
	return func() {
		a.mu.Lock()
		delete(a.subs, id)
		a.mu.Unlock()
	}
}

// applyRemote replaces the remote state set from a server broadcast. The
// server always sends the full room state; entries keyed by our own
// transport id are ignored.
func (a *Awareness) applyRemote(states map[string]*PresenceRecord) {
	a.mu.Lock()
	a.remote = make(map[string]*PresenceRecord, len(states))
	for id, rec := range states {
		if id == a.localID {
			continue
		}
		a.remote[id] = rec
	}
	subs := make([]func([]PresenceRecord), 0, len(a.subs))
	for _, fn := range a.subs {
		subs = append(subs, fn)
	}
	a.mu.Unlock()

	current := a.States()
	for _, fn := range subs {
		fn(current)
	}
}
