package collab

import (
	"hash/fnv"

	"github.com/teranos/gridsync/errors"
)

// Config is everything needed to join a shared document.
type Config struct {
	// ServerURL is the relay endpoint, e.g. "ws://localhost:877".
	ServerURL string
	// DocumentID names the shared document to join.
	DocumentID string
	// DisplayName is shown to collaborators. Defaults to "Anonymous".
	DisplayName string
	// Color is the presence color as "#rrggbb". Auto-assigned from a fixed
	// palette when omitted.
	Color string
}

// palette is the fixed set of presence colors assigned to clients that do
// not pick their own.
var palette = []string{
	"#e06c75",
	"#98c379",
	"#e5c07b",
	"#61afef",
	"#c678dd",
	"#56b6c2",
	"#d19a66",
}

const defaultDisplayName = "Anonymous"

// validate checks required fields and fills defaults. The seed keeps the
// auto-assigned color stable for a given user id.
func (c *Config) validate(seed string) error {
	if c.ServerURL == "" {
		return errors.Wrap(errors.ErrInvalidConfig, "server URL is required")
	}
	if c.DocumentID == "" {
		return errors.Wrap(errors.ErrInvalidConfig, "document ID is required")
	}
	if c.DisplayName == "" {
		c.DisplayName = defaultDisplayName
	}
	if c.Color == "" {
		c.Color = pickColor(seed)
	}
	return nil
}

func pickColor(seed string) string {
	h := fnv.New32a()
	_, _ = h.Write([]byte(seed))
	return palette[h.Sum32()%uint32(len(palette))]
}
