package grid

import "github.com/teranos/gridsync/cell"

// Source identifies the provenance of a mutation. It is a closed enum so
// echo filtering in the sync layer is exhaustive: every event either came
// from the application (and must be published) or from a remote apply (and
// must not be republished).
type Source int

const (
	SourceUser Source = iota
	SourceAPI
	SourceUndo
	SourceRedo
	SourceSystem
	// SourceRemoteApply marks mutations performed by the sync engine while
	// applying a remote change. Events with this source are never published
	// back to the document.
	SourceRemoteApply
)

func (s Source) String() string {
	switch s {
	case SourceUser:
		return "user"
	case SourceAPI:
		return "api"
	case SourceUndo:
		return "undo"
	case SourceRedo:
		return "redo"
	case SourceSystem:
		return "system"
	case SourceRemoteApply:
		return "remote-apply"
	default:
		return "unknown"
	}
}

// CellChange is published after a single cell's value, formula, or format
// changes. Cleared is set when the cell became empty.
type CellChange struct {
	Sheet   int
	Row     int
	Col     int
	Record  cell.Record
	Cleared bool
	Source  Source
}

// RangeFormat is published after a format is applied to a rectangular range
// (inclusive bounds). A single-cell format change is a 1x1 range.
type RangeFormat struct {
	Sheet    int
	StartRow int
	StartCol int
	EndRow   int
	EndCol   int
	Format   *cell.Format
	Source   Source
}

// SheetChangeKind distinguishes sheet list edits.
type SheetChangeKind int

const (
	SheetAdded SheetChangeKind = iota
	SheetRenamed
	SheetDeleted
)

// SheetChange is published after the sheet list changes.
type SheetChange struct {
	Kind   SheetChangeKind
	Index  int
	Name   string
	Source Source
}

// StructuralChange is published after rows or columns are inserted or
// deleted on a sheet. The engine has already shifted its own cells; the
// sync layer translates the op into document key remaps.
type StructuralChange struct {
	Sheet  int
	Op     cell.ShiftOp
	Source Source
}

// ActiveSheetChange is published when the materialized sheet switches.
type ActiveSheetChange struct {
	Index  int
	Source Source
}
