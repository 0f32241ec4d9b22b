package cell

// Format holds the display attributes of a cell. A nil *Format means the
// cell carries no formatting.
type Format struct {
	Bold       bool   `json:"bold,omitempty"`
	Italic     bool   `json:"italic,omitempty"`
	Underline  bool   `json:"underline,omitempty"`
	Color      string `json:"color,omitempty"`
	Background string `json:"background,omitempty"`
	NumFmt     string `json:"numFmt,omitempty"`
}

// Record is the replicated field map for one cell. The presence of a key in
// the document implies a non-empty cell; an empty cell is represented by the
// absence of its key, never by a record of zero values.
type Record struct {
	Value   string  `json:"value,omitempty"`
	Formula string  `json:"formula,omitempty"`
	Format  *Format `json:"format,omitempty"`
}

// Empty reports whether the record carries no data at all. Empty records are
// not written to the document except as carriers for range formatting.
func (r Record) Empty() bool {
	return r.Value == "" && r.Formula == "" && r.Format == nil
}

// Clone returns a deep copy so document entries never alias engine state.
func (r Record) Clone() Record {
	out := r
	if r.Format != nil {
		f := *r.Format
		out.Format = &f
	}
	return out
}
