// Package doc implements the replicated spreadsheet document: a shared cell
// map keyed by composite string keys plus an ordered sheet list. Concurrent
// edits from multiple clients converge through field-level last-writer-wins
// merge over Lamport clocks, with client id as the tie-breaker.
//
// The sync layer treats this package as a black box: it mutates through
// Transact, observes through ObserveDeep, and exchanges opaque update
// payloads produced by local transactions and consumed by ApplyUpdate.
package doc

import (
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/teranos/gridsync/cell"
)

// Action classifies one observed change to a cell key.
type Action int

const (
	ActionAdd Action = iota
	ActionUpdate
	ActionDelete
)

func (a Action) String() string {
	switch a {
	case ActionAdd:
		return "add"
	case ActionUpdate:
		return "update"
	case ActionDelete:
		return "delete"
	default:
		return "unknown"
	}
}

// Change is one per-key entry of an observed batch.
type Change struct {
	Key    string
	Action Action
	Record cell.Record
}

// Batch is delivered to deep observers after every transaction or merged
// remote update. Origin is the client id that authored the mutations;
// observers use it to distinguish their own writes from remote ones.
type Batch struct {
	Origin        string
	Changes       []Change
	Sheets        []string
	SheetsChanged bool
}

type entry struct {
	rec     cell.Record
	clock   uint64
	client  string
	deleted bool
}

// Doc is a replicated spreadsheet document. All methods are safe for
// concurrent use. Observer callbacks run synchronously on the mutating
// goroutine after the document's lock has been released.
type Doc struct {
	mu       sync.Mutex
	clientID string
	clock    uint64
	cells    map[string]entry

	sheets      []string
	sheetClock  uint64
	sheetClient string

	observers map[int]func(Batch)
	nextObs   int
	onUpdate  func([]byte)

	logger    *zap.SugaredLogger
	destroyed bool
}

// New creates an empty document owned by a fresh client id.
func New(logger *zap.SugaredLogger) *Doc {
	return &Doc{
		clientID:  uuid.NewString(),
		cells:     make(map[string]entry),
		observers: make(map[int]func(Batch)),
		logger:    logger,
	}
}

// ClientID returns the document's own client identity, stamped on every
// local mutation and on every update payload it emits.
func (d *Doc) ClientID() string {
	return d.clientID
}

// ObserveDeep registers a handler invoked synchronously after every batch of
// changes, local or remote. The returned function unregisters it.
func (d *Doc) ObserveDeep(fn func(Batch)) func() {
	d.mu.Lock()
	id := d.nextObs
	d.nextObs++
	d.observers[id] = fn
	d.mu.Unlock()

	return func() {
		d.mu.Lock()
		delete(d.observers, id)
		d.mu.Unlock()
	}
}

// OnUpdate sets the hook that receives the encoded payload of every local
// transaction, for publication to the transport. Remote applies do not
// re-emit updates.
func (d *Doc) OnUpdate(fn func([]byte)) {
	d.mu.Lock()
	d.onUpdate = fn
	d.mu.Unlock()
}

// Get returns the live record stored under key.
func (d *Doc) Get(key string) (cell.Record, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	e, ok := d.cells[key]
	if !ok || e.deleted {
		return cell.Record{}, false
	}
	return e.rec.Clone(), true
}

// Keys returns every live cell key, sorted for deterministic iteration.
func (d *Doc) Keys() []string {
	return d.KeysWithPrefix("")
}

// KeysWithPrefix returns every live cell key with the given prefix, sorted.
func (d *Doc) KeysWithPrefix(prefix string) []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	keys := make([]string, 0, len(d.cells))
	for k, e := range d.cells {
		if e.deleted {
			continue
		}
		if prefix == "" || strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}

// Len returns the number of live cells.
func (d *Doc) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	for _, e := range d.cells {
		if !e.deleted {
			n++
		}
	}
	return n
}

// Sheets returns the replicated sheet name list.
func (d *Doc) Sheets() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]string, len(d.sheets))
	copy(out, d.sheets)
	return out
}

// IsEmpty reports whether the document holds neither cells nor sheets, i.e.
// it was never published to.
func (d *Doc) IsEmpty() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.sheets) > 0 {
		return false
	}
	for _, e := range d.cells {
		if !e.deleted {
			return false
		}
	}
	return true
}

// Destroy disposes the document. Further transactions and applies are
// rejected, observers are dropped.
func (d *Doc) Destroy() {
	d.mu.Lock()
	d.destroyed = true
	d.observers = make(map[int]func(Batch))
	d.onUpdate = nil
	d.mu.Unlock()
}

// notify delivers a batch to observers outside the document lock.
func (d *Doc) notify(obs []func(Batch), b Batch) {
	for _, fn := range obs {
		fn(b)
	}
}

// observerList snapshots the registered observers. Caller holds d.mu.
func (d *Doc) observerList() []func(Batch) {
	obs := make([]func(Batch), 0, len(d.observers))
	for _, fn := range d.observers {
		obs = append(obs, fn)
	}
	return obs
}
