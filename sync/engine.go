// Package sync bridges the local grid engine and the replicated document.
//
// The outbound path subscribes to the grid's event bus and translates each
// local edit into one atomic document transaction. The inbound path observes
// the document and materializes remote changes into the grid, tagging every
// write SourceRemoteApply so the outbound path never republishes them. The
// tag travels inside each event, so concurrent local edits made while a
// remote batch is being applied are still published. Both directions are
// synchronous reactions to events; the engine itself never blocks.
package sync

import (
	eventbus "github.com/jilio/ebu"
	"go.uber.org/zap"

	"github.com/teranos/gridsync/cell"
	"github.com/teranos/gridsync/doc"
	"github.com/teranos/gridsync/errors"
	"github.com/teranos/gridsync/grid"
)

// Grid is the local engine surface the sync engine consumes. *grid.Grid
// implements it; tests substitute fakes.
type Grid interface {
	ApplyCell(row, col int, rec cell.Record, src grid.Source) error
	ClearCell(row, col int, src grid.Source) error
	ActiveSheetIndex() int
	SheetNames() []string
	AddSheet(name string, src grid.Source) (int, error)
	RenameSheet(index int, name string, src grid.Source) error
	DeleteSheet(index int, src grid.Source) error
	Snapshot() map[cell.Key]cell.Record
}

// Engine is the bidirectional translator between the grid and the document.
type Engine struct {
	doc    *doc.Doc
	grid   Grid
	bus    *eventbus.EventBus
	logger *zap.SugaredLogger

	// Bound handler references, kept so Stop can unsubscribe the exact
	// functions Start registered.
	hCell     func(grid.CellChange)
	hFormat   func(grid.RangeFormat)
	hSheet    func(grid.SheetChange)
	hShift    func(grid.StructuralChange)
	hActive   func(grid.ActiveSheetChange)
	unobserve func()
	started   bool
}

// New creates an engine over the given document and grid. Call Start to wire
// the subscriptions.
func New(d *doc.Doc, g Grid, bus *eventbus.EventBus, logger *zap.SugaredLogger) *Engine {
	return &Engine{doc: d, grid: g, bus: bus, logger: logger}
}

// Start wires the outbound bus subscriptions and the inbound document
// observer.
func (e *Engine) Start() error {
	if e.started {
		return errors.New("sync engine already started")
	}

	e.hCell = e.handleCellChange
	e.hFormat = e.handleRangeFormat
	e.hSheet = e.handleSheetChange
	e.hShift = e.handleStructuralChange
	e.hActive = e.handleActiveSheetChange

	if err := eventbus.Subscribe(e.bus, e.hCell); err != nil {
		return errors.Wrap(err, "failed to subscribe cell changes")
	}
	if err := eventbus.Subscribe(e.bus, e.hFormat); err != nil {
		return errors.Wrap(err, "failed to subscribe range formats")
	}
	if err := eventbus.Subscribe(e.bus, e.hSheet); err != nil {
		return errors.Wrap(err, "failed to subscribe sheet changes")
	}
	if err := eventbus.Subscribe(e.bus, e.hShift); err != nil {
		return errors.Wrap(err, "failed to subscribe structural changes")
	}
	if err := eventbus.Subscribe(e.bus, e.hActive); err != nil {
		return errors.Wrap(err, "failed to subscribe active sheet changes")
	}

	e.unobserve = e.doc.ObserveDeep(e.handleDocBatch)
	e.started = true
	return nil
}

// Stop removes every subscription wired by Start. Safe to call repeatedly.
func (e *Engine) Stop() {
	if !e.started {
		return
	}
	_ = eventbus.Unsubscribe[grid.CellChange](e.bus, e.hCell)
	_ = eventbus.Unsubscribe[grid.RangeFormat](e.bus, e.hFormat)
	_ = eventbus.Unsubscribe[grid.SheetChange](e.bus, e.hSheet)
	_ = eventbus.Unsubscribe[grid.StructuralChange](e.bus, e.hShift)
	_ = eventbus.Unsubscribe[grid.ActiveSheetChange](e.bus, e.hActive)
	if e.unobserve != nil {
		e.unobserve()
		e.unobserve = nil
	}
	e.started = false
}

// suppressed reports whether an outbound event must be dropped. The check is
// purely on the event's own provenance tag: a per-event tag stays correct
// when a local edit and a remote apply race on different goroutines, where
// any engine-wide "applying" flag would misclassify the local edit.
func (e *Engine) suppressed(src grid.Source) bool {
	return src == grid.SourceRemoteApply
}

// ---- outbound path ----

func (e *Engine) handleCellChange(ev grid.CellChange) {
	if e.suppressed(ev.Source) {
		return
	}
	key := cell.Key{Sheet: ev.Sheet, Row: ev.Row, Col: ev.Col}.String()
	err := e.doc.Transact(func(tx *doc.Tx) {
		if ev.Cleared {
			tx.DeleteCell(key)
		} else {
			tx.SetCell(key, ev.Record)
		}
	})
	if err != nil {
		e.logger.Warnw("Failed to publish cell change", "key", key, "error", err)
	}
}

func (e *Engine) handleRangeFormat(ev grid.RangeFormat) {
	if e.suppressed(ev.Source) {
		return
	}
	// One transaction for the whole range: observers never see a partially
	// formatted range.
	err := e.doc.Transact(func(tx *doc.Tx) {
		for r := ev.StartRow; r <= ev.EndRow; r++ {
			for c := ev.StartCol; c <= ev.EndCol; c++ {
				key := cell.Key{Sheet: ev.Sheet, Row: r, Col: c}.String()
				rec, ok := tx.Get(key)
				if !ok && ev.Format == nil {
					// Clearing a format on a cell that has no record writes
					// nothing; tombstoning it would bloat the document with
					// one entry per cell of the cleared rectangle.
					continue
				}
				if ev.Format != nil {
					f := *ev.Format
					rec.Format = &f
				} else {
					rec.Format = nil
				}
				if rec.Empty() {
					tx.DeleteCell(key)
				} else {
					tx.SetCell(key, rec)
				}
			}
		}
	})
	if err != nil {
		e.logger.Warnw("Failed to publish range format",
			"sheet", ev.Sheet,
			"error", err,
		)
	}
}

func (e *Engine) handleSheetChange(ev grid.SheetChange) {
	if e.suppressed(ev.Source) {
		return
	}
	// The grid's list is already mutated; replicate it wholesale.
	names := e.grid.SheetNames()
	err := e.doc.Transact(func(tx *doc.Tx) {
		tx.SetSheets(names)
		if ev.Kind == grid.SheetDeleted {
			e.dropSheetKeys(tx, ev.Index)
			e.reindexSheetsAbove(tx, ev.Index)
		}
	})
	if err != nil {
		e.logger.Warnw("Failed to publish sheet change", "name", ev.Name, "error", err)
	}
}

func (e *Engine) handleStructuralChange(ev grid.StructuralChange) {
	if e.suppressed(ev.Source) {
		return
	}
	err := e.doc.Transact(func(tx *doc.Tx) {
		e.remap(tx, ev.Sheet, ev.Op)
	})
	if err != nil {
		e.logger.Warnw("Failed to publish structural change",
			"sheet", ev.Sheet,
			"axis", ev.Op.Axis.String(),
			"kind", ev.Op.Kind.String(),
			"error", err,
		)
	}
}

func (e *Engine) handleActiveSheetChange(ev grid.ActiveSheetChange) {
	if ev.Source == grid.SourceRemoteApply {
		return
	}
	// A dormant sheet was activated: materialize it from the document.
	e.resyncSheet(ev.Index)
}

// ---- inbound path ----

func (e *Engine) handleDocBatch(b doc.Batch) {
	if b.Origin == e.doc.ClientID() {
		// Our own outbound transaction echoing back through the observer.
		return
	}
	if b.SheetsChanged {
		e.reconcileSheets(b.Sheets)
	}
	active := e.grid.ActiveSheetIndex()
	for _, ch := range b.Changes {
		e.applyChange(ch, active)
	}
}

// applyChange materializes one remote change into the grid. Failures are
// logged and skipped; they never abort the rest of the batch.
func (e *Engine) applyChange(ch doc.Change, active int) {
	k, err := cell.ParseKey(ch.Key)
	if err != nil {
		e.logger.Warnw("Skipping remote change with malformed key",
			"key", ch.Key,
			"error", err,
		)
		return
	}
	if !k.OnSheet(active) {
		// Inactive sheets stay dormant in the document until activated.
		return
	}

	switch ch.Action {
	case doc.ActionDelete:
		err = e.grid.ClearCell(k.Row, k.Col, grid.SourceRemoteApply)
	default:
		err = e.grid.ApplyCell(k.Row, k.Col, ch.Record, grid.SourceRemoteApply)
	}
	if err != nil {
		e.logger.Warnw("Skipping remote change that failed to apply",
			"key", ch.Key,
			"action", ch.Action.String(),
			"error", err,
		)
	}
}

// reconcileSheets drives the grid's sheet list to match the replicated one.
func (e *Engine) reconcileSheets(target []string) {
	if len(target) == 0 {
		return
	}
	names := e.grid.SheetNames()
	for i := 0; i < len(names) && i < len(target); i++ {
		if names[i] == target[i] {
			continue
		}
		if err := e.grid.RenameSheet(i, target[i], grid.SourceRemoteApply); err != nil {
			e.logger.Warnw("Failed to rename sheet from remote", "index", i, "error", err)
		}
	}
	for i := len(names); i < len(target); i++ {
		if _, err := e.grid.AddSheet(target[i], grid.SourceRemoteApply); err != nil {
			e.logger.Warnw("Failed to add sheet from remote", "name", target[i], "error", err)
		}
	}
	for i := len(names) - 1; i >= len(target); i-- {
		if err := e.grid.DeleteSheet(i, grid.SourceRemoteApply); err != nil {
			e.logger.Warnw("Failed to delete sheet from remote", "index", i, "error", err)
		}
	}
}

// ---- resync ----

// Resync replays every document record on the active sheet into the grid.
// Called once after the transport reports initial synchronization, and again
// whenever the active sheet changes.
func (e *Engine) Resync() {
	e.resyncSheet(e.grid.ActiveSheetIndex())
}

func (e *Engine) resyncSheet(sheet int) {
	keys := e.doc.KeysWithPrefix(cell.SheetPrefix(sheet))
	if s := e.doc.Sheets(); len(s) > 0 {
		e.reconcileSheets(s)
	}
	for _, ks := range keys {
		k, err := cell.ParseKey(ks)
		if err != nil {
			e.logger.Warnw("Skipping malformed document key during resync",
				"key", ks,
				"error", err,
			)
			continue
		}
		rec, ok := e.doc.Get(ks)
		if !ok {
			continue
		}
		if err := e.grid.ApplyCell(k.Row, k.Col, rec, grid.SourceRemoteApply); err != nil {
			e.logger.Warnw("Skipping cell that failed to apply during resync",
				"key", ks,
				"error", err,
			)
		}
	}
	e.logger.Debugw("Sheet resync complete", "sheet", sheet, "cells", len(keys))
}

// PublishSnapshot writes the grid's entire current state into the document
// in one transaction. Used to seed a document that has never been published
// to.
func (e *Engine) PublishSnapshot() error {
	snap := e.grid.Snapshot()
	sheets := e.grid.SheetNames()
	err := e.doc.Transact(func(tx *doc.Tx) {
		for k, rec := range snap {
			if rec.Empty() {
				continue
			}
			tx.SetCell(k.String(), rec)
		}
		tx.SetSheets(sheets)
	})
	if err != nil {
		return errors.Wrap(err, "failed to publish grid snapshot")
	}
	e.logger.Infow("Published initial grid snapshot",
		"cells", len(snap),
		"sheets", len(sheets),
	)
	return nil
}
