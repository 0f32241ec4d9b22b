// Package server implements the gridsync relay: a WebSocket fan-out with one
// room per shared document. Each room keeps an authoritative document
// replica, persisted in bbolt, so late joiners receive a full snapshot and
// documents survive restarts. The relay does no conflict resolution of its
// own; it merges updates through the same document layer the clients use.
package server

import (
	"context"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/teranos/gridsync/config"
	"github.com/teranos/gridsync/errors"
)

// Server is the relay.
type Server struct {
	cfg    *config.Config
	logger *zap.SugaredLogger
	store  *snapshotStore

	mu    sync.Mutex
	rooms map[string]*room

	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	httpSrv  *http.Server
	upgrader websocket.Upgrader
}

// New creates a relay server and opens its document store.
func New(cfg *config.Config, logger *zap.SugaredLogger) (*Server, error) {
	store, err := newSnapshotStore(cfg.Database.Path)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		cfg:    cfg,
		logger: logger,
		store:  store,
		rooms:  make(map[string]*room),
		ctx:    ctx,
		cancel: cancel,
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     s.checkOrigin,
	}
	return s, nil
}

func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || len(s.cfg.Server.AllowedOrigins) == 0 {
		return true
	}
	for _, allowed := range s.cfg.Server.AllowedOrigins {
		if origin == allowed {
			return true
		}
	}
	return false
}

// Handler returns the HTTP routes: /ws for document sessions, /healthz for
// liveness.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWS)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return mux
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	docID := r.URL.Query().Get("doc")
	if docID == "" {
		http.Error(w, "missing doc parameter", http.StatusBadRequest)
		return
	}
	clientID := r.URL.Query().Get("client")
	if clientID == "" {
		clientID = uuid.NewString()
	}

	rm, err := s.room(docID)
	if err != nil {
		s.logger.Errorw("Failed to open document room", "doc", docID, "error", err)
		http.Error(w, "failed to open document", http.StatusInternalServerError)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Errorw("WebSocket upgrade failed", "doc", docID, "error", err)
		return
	}

	c := newClient(clientID, conn, rm, s.logger)
	for !rm.join(c) {
		// The room was evicted between lookup and join; take a fresh one.
		if rm, err = s.room(docID); err != nil {
			s.logger.Errorw("Failed to reopen document room", "doc", docID, "error", err)
			_ = conn.Close()
			return
		}
		c.room = rm
	}

	s.wg.Add(2)
	go func() {
		defer s.wg.Done()
		c.writePump(s.ctx)
	}()
	go func() {
		defer s.wg.Done()
		c.readPump(s.ctx)
	}()
}

// room returns the room for a document, creating and loading it on first
// join.
func (s *Server) room(docID string) (*room, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rm, ok := s.rooms[docID]; ok {
		return rm, nil
	}
	rm, err := newRoom(docID, s.store, s.logger)
	if err != nil {
		return nil, err
	}
	rm.onEmpty = s.evictRoom
	s.rooms[docID] = rm
	return rm, nil
}

// evictRoom drops a room whose last client left. Re-checked under both
// locks: a client may have joined again since leave reported it empty.
func (s *Server) evictRoom(rm *room) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rm.mu.Lock()
	defer rm.mu.Unlock()
	if len(rm.clients) > 0 || rm.evicted || s.rooms[rm.id] != rm {
		return
	}
	rm.evicted = true
	delete(s.rooms, rm.id)
	s.logger.Infow("Evicted idle document room", "doc", rm.id)
}

// ListenAndServe blocks serving the configured address until Shutdown.
func (s *Server) ListenAndServe() error {
	s.httpSrv = &http.Server{
		Addr:    s.cfg.Server.Addr,
		Handler: s.Handler(),
	}
	s.logger.Infow("Relay listening", "addr", s.cfg.Server.Addr)
	err := s.httpSrv.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return errors.Wrap(err, "relay server failed")
}

// Shutdown stops accepting connections, closes every client, and closes the
// document store.
func (s *Server) Shutdown(ctx context.Context) error {
	s.cancel()
	var err error
	if s.httpSrv != nil {
		err = s.httpSrv.Shutdown(ctx)
	}
	s.wg.Wait()
	if cerr := s.store.Close(); cerr != nil && err == nil {
		err = cerr
	}
	s.logger.Infow("Relay stopped")
	return err
}
