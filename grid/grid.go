// Package grid implements the local spreadsheet engine: a sparse,
// address-based cell store with an ordered sheet list and structural
// row/column operations. Every mutation is tagged with a provenance Source
// and published as a typed event on an in-process event bus, which is how
// the sync layer observes local edits.
package grid

import (
	"sync"

	eventbus "github.com/jilio/ebu"
	"go.uber.org/zap"

	"github.com/teranos/gridsync/cell"
	"github.com/teranos/gridsync/errors"
)

// DefaultSheetName is the name of the sheet a fresh grid starts with.
const DefaultSheetName = "Sheet1"

type coord struct {
	row, col int
}

type sheet struct {
	name  string
	cells map[coord]cell.Record
}

// Grid is a sparse in-memory spreadsheet. It is safe for concurrent use;
// event handlers run synchronously on the mutating goroutine after the
// grid's own lock has been released.
type Grid struct {
	mu     sync.Mutex
	bus    *eventbus.EventBus
	logger *zap.SugaredLogger
	sheets []*sheet
	active int
}

// New creates a grid with a single default sheet. Events are published on
// the given bus.
func New(bus *eventbus.EventBus, logger *zap.SugaredLogger) *Grid {
	return &Grid{
		bus:    bus,
		logger: logger,
		sheets: []*sheet{{name: DefaultSheetName, cells: make(map[coord]cell.Record)}},
	}
}

// Bus returns the event bus the grid publishes on.
func (g *Grid) Bus() *eventbus.EventBus {
	return g.bus
}

// GetCellData returns the record at (row, col) on the active sheet.
func (g *Grid) GetCellData(row, col int) (cell.Record, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	rec, ok := g.sheets[g.active].cells[coord{row, col}]
	return rec.Clone(), ok
}

// SetCellValue sets the value of a cell on the active sheet, preserving any
// existing formula and format.
func (g *Grid) SetCellValue(row, col int, value string, src Source) error {
	if row < 0 || col < 0 {
		return errors.Newf("cell coordinates must be non-negative, got (%d,%d)", row, col)
	}
	g.mu.Lock()
	sh := g.sheets[g.active]
	rec := sh.cells[coord{row, col}]
	rec.Value = value
	ev := g.storeLocked(sh, row, col, rec, src)
	g.mu.Unlock()

	eventbus.Publish(g.bus, ev)
	return nil
}

// SetCellFormula sets the formula of a cell on the active sheet.
func (g *Grid) SetCellFormula(row, col int, formula string, src Source) error {
	if row < 0 || col < 0 {
		return errors.Newf("cell coordinates must be non-negative, got (%d,%d)", row, col)
	}
	g.mu.Lock()
	sh := g.sheets[g.active]
	rec := sh.cells[coord{row, col}]
	rec.Formula = formula
	ev := g.storeLocked(sh, row, col, rec, src)
	g.mu.Unlock()

	eventbus.Publish(g.bus, ev)
	return nil
}

// SetCellFormat sets the format of a single cell. It is equivalent to a 1x1
// range format and publishes a RangeFormat event.
func (g *Grid) SetCellFormat(row, col int, f *cell.Format, src Source) error {
	return g.SetRangeFormat(row, col, row, col, f, src)
}

// SetRangeFormat applies a format to every cell in the inclusive range,
// creating empty records as needed. One event is published for the whole
// range so observers never see a partially formatted range.
func (g *Grid) SetRangeFormat(startRow, startCol, endRow, endCol int, f *cell.Format, src Source) error {
	if startRow < 0 || startCol < 0 || endRow < startRow || endCol < startCol {
		return errors.Newf("invalid format range (%d,%d)-(%d,%d)", startRow, startCol, endRow, endCol)
	}
	g.mu.Lock()
	sh := g.sheets[g.active]
	for r := startRow; r <= endRow; r++ {
		for c := startCol; c <= endCol; c++ {
			rec := sh.cells[coord{r, c}]
			if f != nil {
				ff := *f
				rec.Format = &ff
			} else {
				rec.Format = nil
			}
			if rec.Empty() {
				delete(sh.cells, coord{r, c})
			} else {
				sh.cells[coord{r, c}] = rec
			}
		}
	}
	ev := RangeFormat{
		Sheet:    g.active,
		StartRow: startRow,
		StartCol: startCol,
		EndRow:   endRow,
		EndCol:   endCol,
		Format:   f,
		Source:   src,
	}
	g.mu.Unlock()

	eventbus.Publish(g.bus, ev)
	return nil
}

// ApplyCell replaces the full record of a cell on the active sheet. Used by
// the sync layer when materializing remote changes.
func (g *Grid) ApplyCell(row, col int, rec cell.Record, src Source) error {
	if row < 0 || col < 0 {
		return errors.Newf("cell coordinates must be non-negative, got (%d,%d)", row, col)
	}
	g.mu.Lock()
	sh := g.sheets[g.active]
	ev := g.storeLocked(sh, row, col, rec.Clone(), src)
	g.mu.Unlock()

	eventbus.Publish(g.bus, ev)
	return nil
}

// ClearCell removes a cell from the active sheet. Clearing an already empty
// cell is a no-op that still publishes, keeping remote applies idempotent.
func (g *Grid) ClearCell(row, col int, src Source) error {
	if row < 0 || col < 0 {
		return errors.Newf("cell coordinates must be non-negative, got (%d,%d)", row, col)
	}
	g.mu.Lock()
	sh := g.sheets[g.active]
	delete(sh.cells, coord{row, col})
	ev := CellChange{Sheet: g.active, Row: row, Col: col, Cleared: true, Source: src}
	g.mu.Unlock()

	eventbus.Publish(g.bus, ev)
	return nil
}

// storeLocked writes a record into the sheet, deleting it when empty, and
// builds the corresponding event. Caller holds g.mu.
func (g *Grid) storeLocked(sh *sheet, row, col int, rec cell.Record, src Source) CellChange {
	if rec.Empty() {
		delete(sh.cells, coord{row, col})
		return CellChange{Sheet: g.active, Row: row, Col: col, Cleared: true, Source: src}
	}
	sh.cells[coord{row, col}] = rec
	return CellChange{Sheet: g.active, Row: row, Col: col, Record: rec.Clone(), Source: src}
}

// SheetNames returns the ordered sheet names.
func (g *Grid) SheetNames() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	names := make([]string, len(g.sheets))
	for i, sh := range g.sheets {
		names[i] = sh.name
	}
	return names
}

// ActiveSheetIndex returns the index of the materialized sheet.
func (g *Grid) ActiveSheetIndex() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.active
}

// SetActiveSheet switches the materialized sheet.
func (g *Grid) SetActiveSheet(index int, src Source) error {
	g.mu.Lock()
	if index < 0 || index >= len(g.sheets) {
		g.mu.Unlock()
		return errors.Newf("sheet index %d out of range", index)
	}
	if index == g.active {
		g.mu.Unlock()
		return nil
	}
	g.active = index
	ev := ActiveSheetChange{Index: index, Source: src}
	g.mu.Unlock()

	eventbus.Publish(g.bus, ev)
	return nil
}

// AddSheet appends a sheet and returns its index.
func (g *Grid) AddSheet(name string, src Source) (int, error) {
	if name == "" {
		return 0, errors.New("sheet name must not be empty")
	}
	g.mu.Lock()
	g.sheets = append(g.sheets, &sheet{name: name, cells: make(map[coord]cell.Record)})
	index := len(g.sheets) - 1
	ev := SheetChange{Kind: SheetAdded, Index: index, Name: name, Source: src}
	g.mu.Unlock()

	eventbus.Publish(g.bus, ev)
	return index, nil
}

// RenameSheet changes a sheet's name in place.
func (g *Grid) RenameSheet(index int, name string, src Source) error {
	if name == "" {
		return errors.New("sheet name must not be empty")
	}
	g.mu.Lock()
	if index < 0 || index >= len(g.sheets) {
		g.mu.Unlock()
		return errors.Newf("sheet index %d out of range", index)
	}
	g.sheets[index].name = name
	ev := SheetChange{Kind: SheetRenamed, Index: index, Name: name, Source: src}
	g.mu.Unlock()

	eventbus.Publish(g.bus, ev)
	return nil
}

// DeleteSheet removes a sheet. The last remaining sheet cannot be deleted.
func (g *Grid) DeleteSheet(index int, src Source) error {
	g.mu.Lock()
	if index < 0 || index >= len(g.sheets) {
		g.mu.Unlock()
		return errors.Newf("sheet index %d out of range", index)
	}
	if len(g.sheets) == 1 {
		g.mu.Unlock()
		return errors.New("cannot delete the last sheet")
	}
	name := g.sheets[index].name
	g.sheets = append(g.sheets[:index], g.sheets[index+1:]...)
	if g.active >= len(g.sheets) {
		g.active = len(g.sheets) - 1
	}
	ev := SheetChange{Kind: SheetDeleted, Index: index, Name: name, Source: src}
	g.mu.Unlock()

	eventbus.Publish(g.bus, ev)
	return nil
}

// InsertRows shifts every cell with row >= anchor down by count on the
// active sheet.
func (g *Grid) InsertRows(anchor, count int, src Source) error {
	return g.shift(cell.ShiftOp{Axis: cell.AxisRow, Anchor: anchor, Count: count, Kind: cell.ShiftInsert}, src)
}

// DeleteRows removes rows [anchor, anchor+count) and shifts the rest up.
func (g *Grid) DeleteRows(anchor, count int, src Source) error {
	return g.shift(cell.ShiftOp{Axis: cell.AxisRow, Anchor: anchor, Count: count, Kind: cell.ShiftDelete}, src)
}

// InsertCols shifts every cell with col >= anchor right by count on the
// active sheet.
func (g *Grid) InsertCols(anchor, count int, src Source) error {
	return g.shift(cell.ShiftOp{Axis: cell.AxisCol, Anchor: anchor, Count: count, Kind: cell.ShiftInsert}, src)
}

// DeleteCols removes columns [anchor, anchor+count) and shifts the rest left.
func (g *Grid) DeleteCols(anchor, count int, src Source) error {
	return g.shift(cell.ShiftOp{Axis: cell.AxisCol, Anchor: anchor, Count: count, Kind: cell.ShiftDelete}, src)
}

func (g *Grid) shift(op cell.ShiftOp, src Source) error {
	if op.Anchor < 0 || op.Count <= 0 {
		return errors.Newf("invalid %s %s: anchor=%d count=%d", op.Axis, op.Kind, op.Anchor, op.Count)
	}

	g.mu.Lock()
	sh := g.sheets[g.active]
	moved := make(map[coord]cell.Record)
	for pos, rec := range sh.cells {
		k := cell.Key{Sheet: g.active, Row: pos.row, Col: pos.col}
		if !op.Affected(k) {
			continue
		}
		delete(sh.cells, pos)
		if op.Kind == cell.ShiftDelete && op.InSpan(k) {
			continue
		}
		nk := op.Shifted(k)
		moved[coord{nk.Row, nk.Col}] = rec
	}
	for pos, rec := range moved {
		sh.cells[pos] = rec
	}
	ev := StructuralChange{Sheet: g.active, Op: op, Source: src}
	g.mu.Unlock()

	eventbus.Publish(g.bus, ev)
	return nil
}

// Snapshot returns a copy of every non-empty cell across all sheets, keyed
// by composite key. Used for the initial publish of a fresh document.
func (g *Grid) Snapshot() map[cell.Key]cell.Record {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make(map[cell.Key]cell.Record)
	for si, sh := range g.sheets {
		for pos, rec := range sh.cells {
			out[cell.Key{Sheet: si, Row: pos.row, Col: pos.col}] = rec.Clone()
		}
	}
	return out
}
