package doc

import (
	"strings"

	"github.com/teranos/gridsync/cell"
	"github.com/teranos/gridsync/errors"
)

// Tx is the handle passed to Transact. All reads and writes inside a
// transaction see and produce a consistent document state; observers and the
// update hook fire once, after the whole transaction, so no observer ever
// sees a partially applied batch.
type Tx struct {
	d       *Doc
	changes []Change
	ops     []wireOp
	sheets  bool
}

// Transact runs fn as one atomic mutation batch. Observers receive a single
// Batch and the update hook a single payload covering everything fn did.
// Returns ErrDocDestroyed after Destroy.
func (d *Doc) Transact(fn func(*Tx)) error {
	d.mu.Lock()
	if d.destroyed {
		d.mu.Unlock()
		return errors.ErrDocDestroyed
	}

	tx := &Tx{d: d}
	fn(tx)

	// A tombstone on an absent key produces an op but no observable change;
	// it must still go out on the wire so the delete wins remotely.
	if len(tx.changes) == 0 && len(tx.ops) == 0 && !tx.sheets {
		d.mu.Unlock()
		return nil
	}

	batch := Batch{
		Origin:        d.clientID,
		Changes:       tx.changes,
		SheetsChanged: tx.sheets,
	}
	var payload []byte
	update := wireUpdate{Client: d.clientID, Ops: tx.ops}
	if tx.sheets {
		batch.Sheets = append([]string(nil), d.sheets...)
		update.Sheets = &wireSheets{
			Names:  append([]string(nil), d.sheets...),
			Clock:  d.sheetClock,
			Client: d.sheetClient,
		}
	}
	payload, err := encodeUpdate(update)
	if err != nil {
		// Local state already mutated; convergence will be restored by the
		// next full state exchange.
		d.logger.Errorw("Failed to encode local update", "error", err)
		payload = nil
	}

	obs := d.observerList()
	onUpdate := d.onUpdate
	d.mu.Unlock()

	if len(batch.Changes) > 0 || batch.SheetsChanged {
		d.notify(obs, batch)
	}
	if onUpdate != nil && payload != nil {
		onUpdate(payload)
	}
	return nil
}

// Get reads a live record inside the transaction.
func (tx *Tx) Get(key string) (cell.Record, bool) {
	e, ok := tx.d.cells[key]
	if !ok || e.deleted {
		return cell.Record{}, false
	}
	return e.rec.Clone(), true
}

// KeysWithPrefix lists live keys with the given prefix inside the
// transaction, in unspecified order.
func (tx *Tx) KeysWithPrefix(prefix string) []string {
	keys := make([]string, 0, len(tx.d.cells))
	for k, e := range tx.d.cells {
		if e.deleted {
			continue
		}
		if prefix == "" || strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	return keys
}

// SetCell writes a record under key, creating or updating it.
func (tx *Tx) SetCell(key string, rec cell.Record) {
	d := tx.d
	d.clock++
	prev, had := d.cells[key]
	stored := rec.Clone()
	d.cells[key] = entry{rec: stored, clock: d.clock, client: d.clientID}

	action := ActionAdd
	if had && !prev.deleted {
		action = ActionUpdate
	}
	tx.changes = append(tx.changes, Change{Key: key, Action: action, Record: stored.Clone()})
	r := stored.Clone()
	tx.ops = append(tx.ops, wireOp{Key: key, Clock: d.clock, Client: d.clientID, Record: &r})
}

// DeleteCell removes the record under key. Deleting an absent key still
// records a tombstone so the delete wins over older concurrent writes.
func (tx *Tx) DeleteCell(key string) {
	d := tx.d
	d.clock++
	prev, had := d.cells[key]
	d.cells[key] = entry{clock: d.clock, client: d.clientID, deleted: true}

	if had && !prev.deleted {
		tx.changes = append(tx.changes, Change{Key: key, Action: ActionDelete})
	}
	tx.ops = append(tx.ops, wireOp{Key: key, Clock: d.clock, Client: d.clientID, Deleted: true})
}

// SetSheets replaces the replicated sheet list. The list is merged as a
// single last-writer-wins register: concurrent structural sheet edits
// resolve to the last observed writer, per the document's best-effort
// contract for sheet operations.
func (tx *Tx) SetSheets(names []string) {
	d := tx.d
	d.clock++
	d.sheets = append([]string(nil), names...)
	d.sheetClock = d.clock
	d.sheetClient = d.clientID
	tx.sheets = true
}
