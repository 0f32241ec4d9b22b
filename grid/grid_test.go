package grid

import (
	"testing"

	eventbus "github.com/jilio/ebu"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/teranos/gridsync/cell"
)

func newTestGrid(t *testing.T) *Grid {
	t.Helper()
	return New(eventbus.New(), zap.NewNop().Sugar())
}

func TestSetAndGetCellValue(t *testing.T) {
	g := newTestGrid(t)

	require.NoError(t, g.SetCellValue(2, 3, "42", SourceUser))
	rec, ok := g.GetCellData(2, 3)
	require.True(t, ok)
	assert.Equal(t, "42", rec.Value)

	_, ok = g.GetCellData(0, 0)
	assert.False(t, ok)
}

func TestSetCellValuePublishesEvent(t *testing.T) {
	g := newTestGrid(t)

	var got []CellChange
	require.NoError(t, eventbus.Subscribe(g.Bus(), func(ev CellChange) {
		got = append(got, ev)
	}))

	require.NoError(t, g.SetCellValue(0, 0, "Hello", SourceUser))
	require.Len(t, got, 1)
	assert.Equal(t, 0, got[0].Sheet)
	assert.Equal(t, "Hello", got[0].Record.Value)
	assert.Equal(t, SourceUser, got[0].Source)
	assert.False(t, got[0].Cleared)
}

func TestClearingCellRemovesRecord(t *testing.T) {
	g := newTestGrid(t)

	require.NoError(t, g.SetCellValue(1, 1, "x", SourceUser))
	require.NoError(t, g.SetCellValue(1, 1, "", SourceUser))
	_, ok := g.GetCellData(1, 1)
	assert.False(t, ok)
}

func TestRangeFormatCreatesRecords(t *testing.T) {
	g := newTestGrid(t)

	var events []RangeFormat
	require.NoError(t, eventbus.Subscribe(g.Bus(), func(ev RangeFormat) {
		events = append(events, ev)
	}))

	f := &cell.Format{Bold: true}
	require.NoError(t, g.SetRangeFormat(0, 0, 1, 1, f, SourceUser))

	// All four cells exist now, format only
	for r := 0; r <= 1; r++ {
		for c := 0; c <= 1; c++ {
			rec, ok := g.GetCellData(r, c)
			require.True(t, ok, "cell (%d,%d)", r, c)
			require.NotNil(t, rec.Format)
			assert.True(t, rec.Format.Bold)
		}
	}
	// One event for the whole range
	require.Len(t, events, 1)
	assert.Equal(t, 1, events[0].EndRow)
}

func TestSheetLifecycle(t *testing.T) {
	g := newTestGrid(t)
	assert.Equal(t, []string{DefaultSheetName}, g.SheetNames())

	idx, err := g.AddSheet("Budget", SourceUser)
	require.NoError(t, err)
	assert.Equal(t, 1, idx)

	require.NoError(t, g.RenameSheet(1, "Budget 2026", SourceUser))
	assert.Equal(t, []string{DefaultSheetName, "Budget 2026"}, g.SheetNames())

	require.NoError(t, g.SetActiveSheet(1, SourceUser))
	assert.Equal(t, 1, g.ActiveSheetIndex())

	require.NoError(t, g.DeleteSheet(1, SourceUser))
	assert.Equal(t, 0, g.ActiveSheetIndex())
	assert.Equal(t, []string{DefaultSheetName}, g.SheetNames())

	err = g.DeleteSheet(0, SourceUser)
	assert.Error(t, err, "last sheet must survive")
}

func TestInsertRowsShiftsCells(t *testing.T) {
	g := newTestGrid(t)
	require.NoError(t, g.SetCellValue(2, 0, "a", SourceUser))
	require.NoError(t, g.SetCellValue(5, 0, "b", SourceUser))
	require.NoError(t, g.SetCellValue(1, 0, "keep", SourceUser))

	require.NoError(t, g.InsertRows(2, 3, SourceUser))

	rec, ok := g.GetCellData(1, 0)
	require.True(t, ok)
	assert.Equal(t, "keep", rec.Value)

	_, ok = g.GetCellData(2, 0)
	assert.False(t, ok)

	rec, ok = g.GetCellData(5, 0)
	require.True(t, ok)
	assert.Equal(t, "a", rec.Value)

	rec, ok = g.GetCellData(8, 0)
	require.True(t, ok)
	assert.Equal(t, "b", rec.Value)
}

func TestDeleteRowsRemovesSpanAndShifts(t *testing.T) {
	g := newTestGrid(t)
	require.NoError(t, g.SetCellValue(1, 0, "before", SourceUser))
	require.NoError(t, g.SetCellValue(3, 0, "doomed", SourceUser))
	require.NoError(t, g.SetCellValue(6, 0, "after", SourceUser))

	require.NoError(t, g.DeleteRows(2, 3, SourceUser))

	rec, ok := g.GetCellData(1, 0)
	require.True(t, ok)
	assert.Equal(t, "before", rec.Value)

	rec, ok = g.GetCellData(3, 0)
	require.True(t, ok, "row 6 shifts up into the deleted span's place")
	assert.Equal(t, "after", rec.Value)
}

func TestInsertColsShiftsCells(t *testing.T) {
	g := newTestGrid(t)
	require.NoError(t, g.SetCellValue(0, 4, "x", SourceUser))

	require.NoError(t, g.InsertCols(1, 2, SourceUser))

	rec, ok := g.GetCellData(0, 6)
	require.True(t, ok)
	assert.Equal(t, "x", rec.Value)
}

func TestStructuralChangeEventCarriesOp(t *testing.T) {
	g := newTestGrid(t)

	var ops []cell.ShiftOp
	require.NoError(t, eventbus.Subscribe(g.Bus(), func(ev StructuralChange) {
		ops = append(ops, ev.Op)
	}))

	require.NoError(t, g.DeleteCols(1, 2, SourceUser))
	require.Len(t, ops, 1)
	assert.Equal(t, cell.AxisCol, ops[0].Axis)
	assert.Equal(t, cell.ShiftDelete, ops[0].Kind)
	assert.Equal(t, 1, ops[0].Anchor)
	assert.Equal(t, 2, ops[0].Count)
}

func TestSnapshotSpansSheets(t *testing.T) {
	g := newTestGrid(t)
	require.NoError(t, g.SetCellValue(0, 0, "one", SourceUser))
	_, err := g.AddSheet("Other", SourceUser)
	require.NoError(t, err)
	require.NoError(t, g.SetActiveSheet(1, SourceUser))
	require.NoError(t, g.SetCellValue(4, 4, "two", SourceUser))

	snap := g.Snapshot()
	assert.Len(t, snap, 2)
	assert.Equal(t, "one", snap[cell.Key{Sheet: 0}].Value)
	assert.Equal(t, "two", snap[cell.Key{Sheet: 1, Row: 4, Col: 4}].Value)
}
