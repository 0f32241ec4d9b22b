package server

import (
	"context"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/teranos/gridsync/cell"
	"github.com/teranos/gridsync/config"
	"github.com/teranos/gridsync/doc"
	"github.com/teranos/gridsync/transport"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		Server:   config.ServerConfig{Addr: config.DefaultAddr},
		Database: config.DatabaseConfig{Path: filepath.Join(t.TempDir(), "docs.db")},
	}
}

func startRelay(t *testing.T, cfg *config.Config) (*Server, *httptest.Server) {
	t.Helper()
	s, err := New(cfg, zap.NewNop().Sugar())
	require.NoError(t, err)
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(func() {
		ts.Close()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.Shutdown(ctx)
	})
	return s, ts
}

func dial(t *testing.T, ts *httptest.Server, docID, clientID string) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws?doc=" + docID + "&client=" + clientID
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readMsg(t *testing.T, conn *websocket.Conn) transport.Msg {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	var msg transport.Msg
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

// localUpdate builds a document update payload the way a client would.
func localUpdate(t *testing.T, mutate func(tx *doc.Tx)) []byte {
	t.Helper()
	d := doc.New(zap.NewNop().Sugar())
	var payload []byte
	d.OnUpdate(func(p []byte) { payload = p })
	require.NoError(t, d.Transact(mutate))
	require.NotNil(t, payload)
	return payload
}

func TestJoinStreamsSnapshotThenSyncDone(t *testing.T) {
	_, ts := startRelay(t, testConfig(t))
	conn := dial(t, ts, "budget", "c1")

	msg := readMsg(t, conn)
	assert.Equal(t, transport.MsgSnapshot, msg.Type)

	msg = readMsg(t, conn)
	assert.Equal(t, transport.MsgSyncDone, msg.Type)
}

func TestUpdateIsRelayedToOtherClients(t *testing.T) {
	_, ts := startRelay(t, testConfig(t))

	c1 := dial(t, ts, "shared", "c1")
	readMsg(t, c1) // snapshot
	readMsg(t, c1) // sync_done

	c2 := dial(t, ts, "shared", "c2")
	readMsg(t, c2) // snapshot
	readMsg(t, c2) // sync_done

	payload := localUpdate(t, func(tx *doc.Tx) {
		tx.SetCell("0:0,0", cell.Record{Value: "Hello"})
	})
	require.NoError(t, c1.WriteJSON(transport.Msg{
		Type:    transport.MsgUpdate,
		Doc:     "shared",
		Client:  "c1",
		Payload: payload,
	}))

	msg := readMsg(t, c2)
	require.Equal(t, transport.MsgUpdate, msg.Type)

	replica := doc.New(zap.NewNop().Sugar())
	require.NoError(t, replica.ApplyUpdate(msg.Payload))
	rec, ok := replica.Get("0:0,0")
	require.True(t, ok)
	assert.Equal(t, "Hello", rec.Value)
}

func TestLateJoinerReceivesMergedState(t *testing.T) {
	_, ts := startRelay(t, testConfig(t))

	c1 := dial(t, ts, "ledger", "c1")
	readMsg(t, c1)
	readMsg(t, c1)

	payload := localUpdate(t, func(tx *doc.Tx) {
		tx.SetCell("0:2,3", cell.Record{Value: "42"})
		tx.SetSheets([]string{"Sheet1"})
	})
	require.NoError(t, c1.WriteJSON(transport.Msg{Type: transport.MsgUpdate, Doc: "ledger", Client: "c1", Payload: payload}))

	// Awareness round-trips through the same connection, proving the
	// update above has been processed before the late joiner arrives.
	require.NoError(t, c1.WriteJSON(transport.Msg{
		Type:   transport.MsgAwareness,
		Doc:    "ledger",
		Client: "c1",
		States: map[string]*transport.PresenceRecord{"c1": {ID: "u1", Name: "Ada"}},
	}))
	msg := readMsg(t, c1)
	require.Equal(t, transport.MsgAwareness, msg.Type)

	c2 := dial(t, ts, "ledger", "c2")
	snap := readMsg(t, c2)
	require.Equal(t, transport.MsgSnapshot, snap.Type)

	replica := doc.New(zap.NewNop().Sugar())
	require.NoError(t, replica.ApplyUpdate(snap.Payload))
	rec, ok := replica.Get("0:2,3")
	require.True(t, ok)
	assert.Equal(t, "42", rec.Value)
	assert.Equal(t, []string{"Sheet1"}, replica.Sheets())
}

func TestAwarenessRelayedAndRetractedOnLeave(t *testing.T) {
	_, ts := startRelay(t, testConfig(t))

	c1 := dial(t, ts, "room", "conn-1")
	readMsg(t, c1)
	readMsg(t, c1)

	c2 := dial(t, ts, "room", "conn-2")
	readMsg(t, c2)
	readMsg(t, c2)

	require.NoError(t, c1.WriteJSON(transport.Msg{
		Type:   transport.MsgAwareness,
		Doc:    "room",
		Client: "conn-1",
		States: map[string]*transport.PresenceRecord{"conn-1": {ID: "u1", Name: "Ada", Color: "#61afef"}},
	}))

	msg := readMsg(t, c2)
	require.Equal(t, transport.MsgAwareness, msg.Type)
	require.Contains(t, msg.States, "conn-1")
	assert.Equal(t, "Ada", msg.States["conn-1"].Name)

	// Departure retracts the state for remaining clients
	require.NoError(t, c1.Close())
	msg = readMsg(t, c2)
	require.Equal(t, transport.MsgAwareness, msg.Type)
	assert.NotContains(t, msg.States, "conn-1")
}

func TestDocumentSurvivesRestart(t *testing.T) {
	cfg := testConfig(t)

	s1, err := New(cfg, zap.NewNop().Sugar())
	require.NoError(t, err)
	ts1 := httptest.NewServer(s1.Handler())

	c1 := dial(t, ts1, "persistent", "c1")
	readMsg(t, c1)
	readMsg(t, c1)

	payload := localUpdate(t, func(tx *doc.Tx) {
		tx.SetCell("0:1,1", cell.Record{Value: "durable"})
	})
	require.NoError(t, c1.WriteJSON(transport.Msg{Type: transport.MsgUpdate, Doc: "persistent", Client: "c1", Payload: payload}))

	// Prove the write landed before shutdown
	require.NoError(t, c1.WriteJSON(transport.Msg{
		Type:   transport.MsgAwareness,
		Doc:    "persistent",
		Client: "c1",
		States: map[string]*transport.PresenceRecord{},
	}))
	readMsg(t, c1)

	_ = c1.Close()
	ts1.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	require.NoError(t, s1.Shutdown(ctx))
	cancel()

	// Fresh relay over the same store
	_, ts2 := startRelay(t, cfg)
	c2 := dial(t, ts2, "persistent", "c2")
	snap := readMsg(t, c2)
	require.Equal(t, transport.MsgSnapshot, snap.Type)

	replica := doc.New(zap.NewNop().Sugar())
	require.NoError(t, replica.ApplyUpdate(snap.Payload))
	rec, ok := replica.Get("0:1,1")
	require.True(t, ok)
	assert.Equal(t, "durable", rec.Value)
}

func TestIdleRoomEvictedAndReloadedFromStore(t *testing.T) {
	s, ts := startRelay(t, testConfig(t))

	c1 := dial(t, ts, "ephemeral", "c1")
	readMsg(t, c1)
	readMsg(t, c1)

	payload := localUpdate(t, func(tx *doc.Tx) {
		tx.SetCell("0:0,0", cell.Record{Value: "kept"})
	})
	require.NoError(t, c1.WriteJSON(transport.Msg{Type: transport.MsgUpdate, Doc: "ephemeral", Client: "c1", Payload: payload}))

	// Awareness round-trip proves the update was persisted before we leave
	require.NoError(t, c1.WriteJSON(transport.Msg{
		Type:   transport.MsgAwareness,
		Doc:    "ephemeral",
		Client: "c1",
		States: map[string]*transport.PresenceRecord{},
	}))
	readMsg(t, c1)

	require.NoError(t, c1.Close())
	require.Eventually(t, func() bool {
		s.mu.Lock()
		defer s.mu.Unlock()
		return len(s.rooms) == 0
	}, 3*time.Second, 10*time.Millisecond, "empty room must be evicted")

	// Rejoining rebuilds the room from the persisted snapshot
	c2 := dial(t, ts, "ephemeral", "c2")
	snap := readMsg(t, c2)
	require.Equal(t, transport.MsgSnapshot, snap.Type)

	replica := doc.New(zap.NewNop().Sugar())
	require.NoError(t, replica.ApplyUpdate(snap.Payload))
	rec, ok := replica.Get("0:0,0")
	require.True(t, ok)
	assert.Equal(t, "kept", rec.Value)
}

func TestMissingDocParamRejected(t *testing.T) {
	_, ts := startRelay(t, testConfig(t))

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	_, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.Error(t, err)
	if resp != nil {
		assert.Equal(t, 400, resp.StatusCode)
	}
}
