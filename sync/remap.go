package sync

import (
	"github.com/teranos/gridsync/cell"
	"github.com/teranos/gridsync/doc"
)

type movedRecord struct {
	key cell.Key
	rec cell.Record
}

// remap translates one structural row/column edit into document key rewrites
// inside the caller's transaction.
//
// Ordering is mandatory: every affected key is deleted from the document
// before any shifted key is written. Writing a shifted key while the
// original, unshifted key at the same destination still exists would clobber
// or duplicate data when shift ranges overlap (row 5 moving to 6 while the
// original row 6, itself due to move to 7, still occupies it).
func (e *Engine) remap(tx *doc.Tx, sheet int, op cell.ShiftOp) {
	prefix := cell.SheetPrefix(sheet)

	var inSpan []string
	var moved []movedRecord
	for _, ks := range tx.KeysWithPrefix(prefix) {
		k, err := cell.ParseKey(ks)
		if err != nil {
			e.logger.Warnw("Skipping malformed document key during remap",
				"key", ks,
				"error", err,
			)
			continue
		}
		if !op.Affected(k) {
			continue
		}
		if op.Kind == cell.ShiftDelete && op.InSpan(k) {
			inSpan = append(inSpan, ks)
			continue
		}
		rec, ok := tx.Get(ks)
		if !ok {
			continue
		}
		moved = append(moved, movedRecord{key: k, rec: rec})
	}

	for _, ks := range inSpan {
		tx.DeleteCell(ks)
	}
	for _, m := range moved {
		tx.DeleteCell(m.key.String())
	}
	for _, m := range moved {
		tx.SetCell(op.Shifted(m.key).String(), m.rec)
	}
}

// dropSheetKeys deletes every cell key belonging to a removed sheet.
func (e *Engine) dropSheetKeys(tx *doc.Tx, sheet int) {
	for _, ks := range tx.KeysWithPrefix(cell.SheetPrefix(sheet)) {
		tx.DeleteCell(ks)
	}
}

// reindexSheetsAbove shifts every cell key on sheets above the removed index
// down by one, so keys keep matching the compacted sheet list. Same
// delete-before-write discipline as remap.
func (e *Engine) reindexSheetsAbove(tx *doc.Tx, removed int) {
	var moved []movedRecord
	for _, ks := range tx.KeysWithPrefix("") {
		k, err := cell.ParseKey(ks)
		if err != nil {
			continue
		}
		if k.Sheet <= removed {
			continue
		}
		rec, ok := tx.Get(ks)
		if !ok {
			continue
		}
		moved = append(moved, movedRecord{key: k, rec: rec})
	}
	for _, m := range moved {
		tx.DeleteCell(m.key.String())
	}
	for _, m := range moved {
		nk := m.key
		nk.Sheet--
		tx.SetCell(nk.String(), m.rec)
	}
}
