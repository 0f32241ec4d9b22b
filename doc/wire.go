package doc

import (
	"encoding/json"

	"github.com/teranos/gridsync/cell"
	"github.com/teranos/gridsync/errors"
)

// wireOp is one replicated cell mutation. Clock and Client implement the
// last-writer-wins ordering; Deleted ops are tombstones that travel on the
// wire but are never surfaced as records.
type wireOp struct {
	Key     string       `json:"key"`
	Clock   uint64       `json:"clock"`
	Client  string       `json:"client"`
	Deleted bool         `json:"deleted,omitempty"`
	Record  *cell.Record `json:"record,omitempty"`
}

// wireSheets is the sheet list as a whole-list LWW register.
type wireSheets struct {
	Names  []string `json:"names"`
	Clock  uint64   `json:"clock"`
	Client string   `json:"client"`
}

// wireUpdate is the payload exchanged between documents: an incremental
// transaction or, for state sync, the entire document.
type wireUpdate struct {
	Client string      `json:"client"`
	Ops    []wireOp    `json:"ops,omitempty"`
	Sheets *wireSheets `json:"sheets,omitempty"`
}

func encodeUpdate(u wireUpdate) ([]byte, error) {
	data, err := json.Marshal(u)
	if err != nil {
		return nil, errors.Wrap(err, "failed to encode document update")
	}
	return data, nil
}

// EncodeState serializes the full document, tombstones included, as one
// update payload. Applying it to any other document is an idempotent merge.
func (d *Doc) EncodeState() ([]byte, error) {
	d.mu.Lock()
	u := wireUpdate{Client: d.clientID, Ops: make([]wireOp, 0, len(d.cells))}
	for k, e := range d.cells {
		op := wireOp{Key: k, Clock: e.clock, Client: e.client, Deleted: e.deleted}
		if !e.deleted {
			r := e.rec.Clone()
			op.Record = &r
		}
		u.Ops = append(u.Ops, op)
	}
	if len(d.sheets) > 0 || d.sheetClock > 0 {
		u.Sheets = &wireSheets{
			Names:  append([]string(nil), d.sheets...),
			Clock:  d.sheetClock,
			Client: d.sheetClient,
		}
	}
	d.mu.Unlock()
	return encodeUpdate(u)
}

// ApplyUpdate merges a remote update payload. Losing ops (older clock, or
// equal clock from a lower client id) are discarded; winning ops mutate the
// document and are delivered to observers as one batch tagged with the
// originating client.
func (d *Doc) ApplyUpdate(data []byte) error {
	var u wireUpdate
	if err := json.Unmarshal(data, &u); err != nil {
		return errors.Wrap(err, "failed to decode document update")
	}

	d.mu.Lock()
	if d.destroyed {
		d.mu.Unlock()
		return errors.ErrDocDestroyed
	}

	batch := Batch{Origin: u.Client}
	for _, op := range u.Ops {
		if op.Clock > d.clock {
			d.clock = op.Clock
		}
		prev, had := d.cells[op.Key]
		if had && !wins(op.Clock, op.Client, prev.clock, prev.client) {
			continue
		}

		if op.Deleted {
			d.cells[op.Key] = entry{clock: op.Clock, client: op.Client, deleted: true}
			if had && !prev.deleted {
				batch.Changes = append(batch.Changes, Change{Key: op.Key, Action: ActionDelete})
			}
			continue
		}

		var rec cell.Record
		if op.Record != nil {
			rec = op.Record.Clone()
		}
		d.cells[op.Key] = entry{rec: rec, clock: op.Clock, client: op.Client}
		action := ActionAdd
		if had && !prev.deleted {
			action = ActionUpdate
		}
		batch.Changes = append(batch.Changes, Change{Key: op.Key, Action: action, Record: rec.Clone()})
	}

	if u.Sheets != nil {
		if u.Sheets.Clock > d.clock {
			d.clock = u.Sheets.Clock
		}
		if wins(u.Sheets.Clock, u.Sheets.Client, d.sheetClock, d.sheetClient) {
			changed := !equalStrings(d.sheets, u.Sheets.Names)
			d.sheets = append([]string(nil), u.Sheets.Names...)
			d.sheetClock = u.Sheets.Clock
			d.sheetClient = u.Sheets.Client
			if changed {
				batch.Sheets = append([]string(nil), d.sheets...)
				batch.SheetsChanged = true
			}
		}
	}

	if len(batch.Changes) == 0 && !batch.SheetsChanged {
		d.mu.Unlock()
		return nil
	}

	obs := d.observerList()
	d.mu.Unlock()

	d.notify(obs, batch)
	return nil
}

// wins decides last-writer-wins: higher clock, ties broken by client id.
func wins(clock uint64, client string, prevClock uint64, prevClient string) bool {
	if clock != prevClock {
		return clock > prevClock
	}
	return client > prevClient
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
