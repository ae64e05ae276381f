package realtime

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chatrelay/chatrelay/pkg/logging"
)

func newTestManager() *Manager {
	return NewManager(ManagerConfig{
		HeartbeatInterval: 10 * time.Millisecond,
		ConnectionTimeout: 50 * time.Millisecond,
	}, logging.NewNop())
}

func TestManagerAddAndFind(t *testing.T) {
	m := newTestManager()

	alice1 := NewConn(nil, "alice", "conv-1")
	alice2 := NewConn(nil, "alice", "conv-2")
	bob := NewConn(nil, "bob", "conv-1")

	m.Add(alice1)
	m.Add(alice2)
	m.Add(bob)

	assert.Equal(t, 3, m.Count())
	assert.Len(t, m.FindByUser("alice"), 2)
	assert.Len(t, m.FindByUser("bob"), 1)
	assert.Len(t, m.FindByConversation("conv-1"), 2)
	assert.Len(t, m.FindByConversation("conv-2"), 1)
	assert.Empty(t, m.FindByUser("carol"))
	assert.Empty(t, m.FindByConversation("conv-9"))

	got, ok := m.Get(alice1.ID)
	require.True(t, ok)
	assert.Same(t, alice1, got)
}

func TestManagerRemoveIsIdempotent(t *testing.T) {
	m := newTestManager()
	conn := NewConn(nil, "alice", "conv-1")
	m.Add(conn)

	assert.True(t, m.Remove(conn))
	assert.False(t, m.Remove(conn), "second removal should be a no-op")
	assert.Equal(t, 0, m.Count())
	assert.Empty(t, m.FindByUser("alice"))
	assert.Empty(t, m.FindByConversation("conv-1"))
}

func TestManagerRemoveKeepsOtherConnections(t *testing.T) {
	m := newTestManager()
	a := NewConn(nil, "alice", "conv-1")
	b := NewConn(nil, "alice", "conv-1")
	m.Add(a)
	m.Add(b)

	m.Remove(a)

	assert.Len(t, m.FindByUser("alice"), 1)
	assert.Len(t, m.FindByConversation("conv-1"), 1)
}

func TestManagerTypingIndicators(t *testing.T) {
	m := newTestManager()

	m.SetTyping("conv-1", "alice", true)
	m.SetTyping("conv-1", "bob", true)
	assert.ElementsMatch(t, []string{"alice", "bob"}, m.TypingUsers("conv-1"))

	m.SetTyping("conv-1", "alice", false)
	assert.Equal(t, []string{"bob"}, m.TypingUsers("conv-1"))

	m.ClearUserEphemeral("bob")
	assert.Empty(t, m.TypingUsers("conv-1"))
}

func TestSweepClosesStaleConnections(t *testing.T) {
	m := newTestManager()
	cleaner := NewCleaner(m, logging.NewNop())

	fresh := NewConn(nil, "alice", "conv-1")
	stale := NewConn(nil, "bob", "conv-1")
	m.Add(fresh)
	m.Add(stale)

	// age the stale connection past the timeout
	stale.hbMu.Lock()
	stale.lastHeartbeat = time.Now().Add(-time.Second)
	stale.hbMu.Unlock()

	m.sweepOnce(cleaner)

	assert.Equal(t, 1, m.Count())
	_, ok := m.Get(fresh.ID)
	assert.True(t, ok)
	_, ok = m.Get(stale.ID)
	assert.False(t, ok)
	assert.True(t, stale.Closed())
}

func TestSweepPingsIdleConnections(t *testing.T) {
	m := newTestManager()
	cleaner := NewCleaner(m, logging.NewNop())

	connCh := make(chan *Conn, 1)
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		connCh <- NewConn(ws, "alice", "conv-1")
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	client, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	defer client.Close()

	pings := make(chan struct{}, 4)
	client.SetPingHandler(func(string) error {
		pings <- struct{}{}
		return nil
	})
	go func() {
		for {
			if _, _, err := client.ReadMessage(); err != nil {
				return
			}
		}
	}()

	conn := <-connCh
	m.Add(conn)

	// quiet past the sweep interval but well short of the timeout
	conn.hbMu.Lock()
	conn.lastHeartbeat = time.Now().Add(-20 * time.Millisecond)
	conn.hbMu.Unlock()

	m.sweepOnce(cleaner)

	select {
	case <-pings:
	case <-time.After(2 * time.Second):
		t.Fatal("idle connection was not pinged")
	}

	// pinged, not closed: the client gets a chance to answer
	assert.Equal(t, 1, m.Count())
	assert.False(t, conn.Closed())
}

func TestConnTouchAdvancesHeartbeat(t *testing.T) {
	conn := NewConn(nil, "alice", "conv-1")
	before := conn.LastHeartbeat()

	time.Sleep(5 * time.Millisecond)
	conn.Touch()

	assert.True(t, conn.LastHeartbeat().After(before))
}

func TestConnBindCancelReplacesPrevious(t *testing.T) {
	conn := NewConn(nil, "alice", "conv-1")

	firstCancelled := false
	conn.BindCancel(func() { firstCancelled = true })

	secondCancelled := false
	conn.BindCancel(func() { secondCancelled = true })
	assert.True(t, firstCancelled, "binding a new cancel should fire the old one")
	assert.False(t, secondCancelled)

	conn.CancelPending()
	assert.True(t, secondCancelled)

	// idempotent
	conn.CancelPending()
}
