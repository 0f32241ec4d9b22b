package cell

// Axis selects the coordinate a structural edit operates on.
type Axis int

const (
	AxisRow Axis = iota
	AxisCol
)

func (a Axis) String() string {
	if a == AxisCol {
		return "col"
	}
	return "row"
}

// ShiftKind distinguishes insertions from deletions.
type ShiftKind int

const (
	ShiftInsert ShiftKind = iota
	ShiftDelete
)

func (k ShiftKind) String() string {
	if k == ShiftDelete {
		return "delete"
	}
	return "insert"
}

// ShiftOp describes one structural row/column edit to be translated into a
// batch of key remaps in the replicated document.
type ShiftOp struct {
	Axis   Axis
	Anchor int
	Count  int
	Kind   ShiftKind
}

// Coord returns the key's coordinate on the op's axis.
func (op ShiftOp) Coord(k Key) int {
	if op.Axis == AxisCol {
		return k.Col
	}
	return k.Row
}

// Shifted returns the key moved by the op: +Count for insert, -Count for
// delete. The caller is responsible for only shifting keys beyond the
// deleted span.
func (op ShiftOp) Shifted(k Key) Key {
	delta := op.Count
	if op.Kind == ShiftDelete {
		delta = -op.Count
	}
	if op.Axis == AxisCol {
		k.Col += delta
	} else {
		k.Row += delta
	}
	return k
}

// InSpan reports whether the key's coordinate falls inside the deleted span
// [Anchor, Anchor+Count). Only meaningful for ShiftDelete.
func (op ShiftOp) InSpan(k Key) bool {
	c := op.Coord(k)
	return c >= op.Anchor && c < op.Anchor+op.Count
}

// Affected reports whether the key moves or disappears under the op.
func (op ShiftOp) Affected(k Key) bool {
	return op.Coord(k) >= op.Anchor
}
