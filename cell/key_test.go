package cell

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranos/gridsync/errors"
)

func TestKeyRoundTrip(t *testing.T) {
	coords := []int{0, 1, 2, 9, 10, 99, 100, 1000, 65535}
	for _, s := range coords {
		for _, r := range coords {
			for _, c := range coords {
				k := Key{Sheet: s, Row: r, Col: c}
				got, err := ParseKey(k.String())
				require.NoError(t, err, "key %s", k)
				assert.Equal(t, k, got)
			}
		}
	}
}

func TestKeyEncoding(t *testing.T) {
	assert.Equal(t, "0:0,0", Key{}.String())
	assert.Equal(t, "2:14,3", Key{Sheet: 2, Row: 14, Col: 3}.String())
}

func TestParseKeyRejectsMalformed(t *testing.T) {
	bad := []string{
		"",
		"0",
		"0:0",
		"0,0:0",
		"0:0,0,0:",
		"a:0,0",
		"0:b,0",
		"0:0,c",
		"-1:0,0",
		"0:-3,0",
		"0:0,-2",
		"1.5:0,0",
		"0:0, 1",
	}
	for _, s := range bad {
		_, err := ParseKey(s)
		assert.ErrorIs(t, err, errors.ErrInvalidKey, "input %q", s)
	}
}

func TestSheetPrefix(t *testing.T) {
	k := Key{Sheet: 3, Row: 7, Col: 1}
	assert.Equal(t, "3:", SheetPrefix(3))
	assert.True(t, k.OnSheet(3))
	assert.False(t, k.OnSheet(30))
}

func TestShiftOpCoordAndShift(t *testing.T) {
	k := Key{Sheet: 0, Row: 5, Col: 2}

	ins := ShiftOp{Axis: AxisRow, Anchor: 3, Count: 2, Kind: ShiftInsert}
	assert.Equal(t, 5, ins.Coord(k))
	assert.Equal(t, Key{Sheet: 0, Row: 7, Col: 2}, ins.Shifted(k))

	del := ShiftOp{Axis: AxisCol, Anchor: 0, Count: 1, Kind: ShiftDelete}
	assert.Equal(t, 2, del.Coord(k))
	assert.Equal(t, Key{Sheet: 0, Row: 5, Col: 1}, del.Shifted(k))
}

func TestShiftOpSpans(t *testing.T) {
	op := ShiftOp{Axis: AxisRow, Anchor: 2, Count: 3, Kind: ShiftDelete}

	assert.False(t, op.Affected(Key{Row: 1}))
	assert.True(t, op.Affected(Key{Row: 2}))
	assert.True(t, op.InSpan(Key{Row: 2}))
	assert.True(t, op.InSpan(Key{Row: 4}))
	assert.False(t, op.InSpan(Key{Row: 5}))
	assert.True(t, op.Affected(Key{Row: 5}))
}

func TestRecordEmptyAndClone(t *testing.T) {
	assert.True(t, Record{}.Empty())
	assert.False(t, Record{Value: "7"}.Empty())
	assert.False(t, Record{Format: &Format{Bold: true}}.Empty())

	orig := Record{Value: "x", Format: &Format{Bold: true}}
	cp := orig.Clone()
	cp.Format.Bold = false
	assert.True(t, orig.Format.Bold)
}
