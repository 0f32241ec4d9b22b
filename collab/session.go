// Package collab is the public surface of gridsync: Connect joins a grid to
// a shared document and returns a Session handle owning the replicated
// document, the sync engine, and the transport for that connection.
package collab

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/teranos/gridsync/doc"
	"github.com/teranos/gridsync/grid"
	"github.com/teranos/gridsync/logger"
	syncpkg "github.com/teranos/gridsync/sync"
	"github.com/teranos/gridsync/transport"
)

// Session is a live connection to one shared document. Dependents receive
// the handle from Connect rather than fetching it through a global getter.
type Session struct {
	mu     sync.Mutex
	cfg    Config
	userID string
	logger *zap.SugaredLogger

	grid     *grid.Grid
	doc      *doc.Doc
	engine   *syncpkg.Engine
	provider *transport.Provider
	closed   bool
}

// One live session per process: connecting again tears the previous one
// down first.
var (
	activeMu sync.Mutex
	active   *Session
)

// Connect validates cfg, disconnects any previously active session, and
// wires grid, document, sync engine, and transport together. Configuration
// errors fail fast, before any resource is allocated; connection
// establishment itself is asynchronous and observable via OnStatus.
func Connect(cfg Config, g *grid.Grid) (*Session, error) {
	userID := uuid.NewString()
	if err := cfg.validate(userID); err != nil {
		return nil, err
	}

	activeMu.Lock()
	prev := active
	activeMu.Unlock()
	if prev != nil {
		prev.Disconnect()
	}

	log := logger.Logger
	s := &Session{
		cfg:    cfg,
		userID: userID,
		logger: log,
		grid:   g,
		doc:    doc.New(log),
	}
	s.engine = syncpkg.New(s.doc, g, g.Bus(), log)
	if err := s.engine.Start(); err != nil {
		s.doc.Destroy()
		return nil, err
	}

	s.provider = transport.New(cfg.ServerURL, cfg.DocumentID, log)
	s.doc.OnUpdate(s.provider.SendUpdate)
	s.provider.OnUpdate(func(payload []byte) {
		if err := s.doc.ApplyUpdate(payload); err != nil {
			log.Warnw("Failed to apply remote update", "doc", cfg.DocumentID, "error", err)
		}
	})
	s.provider.OnSynced(s.onSynced)

	s.provider.Connect(context.Background())
	s.provider.Awareness().SetLocalState(transport.PresenceRecord{
		ID:    userID,
		Name:  cfg.DisplayName,
		Color: cfg.Color,
	})

	activeMu.Lock()
	active = s
	activeMu.Unlock()

	log.Infow("Joined shared document",
		"doc", cfg.DocumentID,
		"server", cfg.ServerURL,
		"user", cfg.DisplayName,
	)
	return s, nil
}

// onSynced runs after the server's snapshot on every (re)connection: a
// never-published document is seeded from the grid, otherwise the grid is
// materialized from the document. Either way the full local state is then
// pushed back, so edits whose incremental updates were dropped while
// disconnected still reach the server.
func (s *Session) onSynced() {
	if s.doc.IsEmpty() {
		if err := s.engine.PublishSnapshot(); err != nil {
			s.logger.Warnw("Failed to seed document from grid", "error", err)
		}
	} else {
		s.engine.Resync()
	}
	s.pushState()
}

// pushState sends the document's entire encoded state to the relay. The
// relay merges full states idempotently, so pushing is always safe.
func (s *Session) pushState() {
	if s.doc.IsEmpty() {
		return
	}
	state, err := s.doc.EncodeState()
	if err != nil {
		s.logger.Warnw("Failed to encode document state", "doc", s.cfg.DocumentID, "error", err)
		return
	}
	s.provider.SendState(state)
}

// Disconnect unsubscribes all listeners, tears down the transport, and
// disposes the document. Idempotent; safe to call at any time, including
// mid-batch, since abandoned in-flight operations reapply cleanly.
func (s *Session) Disconnect() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	s.engine.Stop()
	s.provider.Destroy()
	s.doc.Destroy()

	activeMu.Lock()
	if active == s {
		active = nil
	}
	activeMu.Unlock()

	s.logger.Infow("Left shared document", "doc", s.cfg.DocumentID)
}

// IsConnected reports whether the transport currently holds a live
// connection.
func (s *Session) IsConnected() bool {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	return !closed && s.provider.IsConnected()
}

// Users returns the presence records of every other collaborator.
func (s *Session) Users() []transport.PresenceRecord {
	return s.provider.Awareness().States()
}

// OnUsersChange registers a callback fired when the collaborator list
// changes. Returns an unsubscribe function.
func (s *Session) OnUsersChange(fn func([]transport.PresenceRecord)) func() {
	return s.provider.Awareness().OnChange(fn)
}

// OnStatus registers a connection status callback.
func (s *Session) OnStatus(fn func(transport.Status)) func() {
	return s.provider.OnStatus(fn)
}

// UpdateCursor refreshes the local presence record with the given selection
// on the active sheet.
func (s *Session) UpdateCursor(row, col int) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	s.provider.Awareness().SetLocalState(transport.PresenceRecord{
		ID:    s.userID,
		Name:  s.cfg.DisplayName,
		Color: s.cfg.Color,
		Cursor: &transport.CursorPos{
			Sheet: s.grid.ActiveSheetIndex(),
			Row:   row,
			Col:   col,
		},
	})
}

// Resync replays the document's active-sheet state into the grid.
func (s *Session) Resync() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()
	s.engine.Resync()
}
