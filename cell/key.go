// Package cell defines the addressing and value types shared between the
// local grid engine and the replicated document: the composite string key
// that identifies a cell inside the document, the replicated cell record,
// and the structural shift operation produced by row/column edits.
package cell

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/teranos/gridsync/errors"
)

// Key addresses one cell as (sheet, row, col). All coordinates are
// zero-based and non-negative.
type Key struct {
	Sheet int
	Row   int
	Col   int
}

// String encodes the key as "<sheet>:<row>,<col>". The encoding is injective
// over non-negative coordinates: ParseKey(k.String()) == k.
func (k Key) String() string {
	return fmt.Sprintf("%d:%d,%d", k.Sheet, k.Row, k.Col)
}

// Valid reports whether every coordinate is non-negative.
func (k Key) Valid() bool {
	return k.Sheet >= 0 && k.Row >= 0 && k.Col >= 0
}

// OnSheet reports whether the key addresses a cell on the given sheet.
func (k Key) OnSheet(sheet int) bool {
	return k.Sheet == sheet
}

// SheetPrefix returns the key prefix shared by every cell on a sheet,
// used for per-sheet filtering of document keys.
func SheetPrefix(sheet int) string {
	return strconv.Itoa(sheet) + ":"
}

// ParseKey decodes a composite key string. It returns ErrInvalidKey for
// anything that is not exactly "<sheet>:<row>,<col>" with non-negative
// integer coordinates.
func ParseKey(s string) (Key, error) {
	sheetPart, cellPart, ok := strings.Cut(s, ":")
	if !ok {
		return Key{}, errors.Wrapf(errors.ErrInvalidKey, "missing sheet separator in %q", s)
	}
	rowPart, colPart, ok := strings.Cut(cellPart, ",")
	if !ok {
		return Key{}, errors.Wrapf(errors.ErrInvalidKey, "missing coordinate separator in %q", s)
	}

	sheet, err := parseCoord(sheetPart)
	if err != nil {
		return Key{}, errors.Wrapf(err, "sheet in %q", s)
	}
	row, err := parseCoord(rowPart)
	if err != nil {
		return Key{}, errors.Wrapf(err, "row in %q", s)
	}
	col, err := parseCoord(colPart)
	if err != nil {
		return Key{}, errors.Wrapf(err, "col in %q", s)
	}

	return Key{Sheet: sheet, Row: row, Col: col}, nil
}

func parseCoord(s string) (int, error) {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, errors.Wrapf(errors.ErrInvalidKey, "non-numeric coordinate %q", s)
	}
	if n < 0 {
		return 0, errors.Wrapf(errors.ErrInvalidKey, "negative coordinate %d", n)
	}
	return n, nil
}
