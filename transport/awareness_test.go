package transport

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestStatesExcludesLocalClient(t *testing.T) {
	a := newAwareness("local-conn", nil, zap.NewNop().Sugar())

	a.applyRemote(map[string]*PresenceRecord{
		"local-conn":  {ID: "me", Name: "Me"},
		"remote-conn": {ID: "them", Name: "Them", Color: "#e06c75"},
	})

	states := a.States()
	require.Len(t, states, 1)
	assert.Equal(t, "them", states[0].ID)
}

func TestSetLocalStatePublishes(t *testing.T) {
	var published map[string]*PresenceRecord
	a := newAwareness("conn-1", func(s map[string]*PresenceRecord) { published = s }, zap.NewNop().Sugar())

	a.SetLocalState(PresenceRecord{ID: "user-1", Name: "Ada", Color: "#61afef"})

	require.Contains(t, published, "conn-1")
	assert.Equal(t, "Ada", published["conn-1"].Name)

	rec, ok := a.LocalState()
	require.True(t, ok)
	assert.Equal(t, "user-1", rec.ID)
}

func TestOnChangeFiresAndUnsubscribes(t *testing.T) {
	a := newAwareness("conn-1", nil, zap.NewNop().Sugar())

	calls := 0
	var last []PresenceRecord
	unsub := a.OnChange(func(states []PresenceRecord) {
		calls++
		last = states
	})

	a.applyRemote(map[string]*PresenceRecord{"conn-2": {ID: "u2", Name: "Bo"}})
	require.Equal(t, 1, calls)
	require.Len(t, last, 1)

	// Departure broadcast: the client vanished from the full state map
	a.applyRemote(map[string]*PresenceRecord{})
	require.Equal(t, 2, calls)
	assert.Empty(t, last)

	unsub()
	a.applyRemote(map[string]*PresenceRecord{"conn-3": {ID: "u3", Name: "Cy"}})
	assert.Equal(t, 2, calls, "unsubscribed callback must not fire")
}

func TestStatesSortedByName(t *testing.T) {
	a := newAwareness("conn-0", nil, zap.NewNop().Sugar())
	a.applyRemote(map[string]*PresenceRecord{
		"c1": {ID: "u1", Name: "Zoe"},
		"c2": {ID: "u2", Name: "Amy"},
		"c3": {ID: "u3", Name: "Mel"},
	})

	states := a.States()
	require.Len(t, states, 3)
	assert.Equal(t, []string{"Amy", "Mel", "Zoe"}, []string{states[0].Name, states[1].Name, states[2].Name})
}

func TestProviderWSURL(t *testing.T) {
	p := New("http://relay.example:877", "doc 42", zap.NewNop().Sugar())
	u, err := p.wsURL()
	require.NoError(t, err)
	assert.Contains(t, u, "ws://relay.example:877/ws?")
	assert.Contains(t, u, "doc=doc+42")
	assert.Contains(t, u, "client="+p.ClientID())
}

func TestProviderDestroyBeforeConnect(t *testing.T) {
	p := New("ws://relay.example", "doc", zap.NewNop().Sugar())
	p.Destroy()
	p.Destroy() // idempotent
	assert.False(t, p.IsConnected())
}
