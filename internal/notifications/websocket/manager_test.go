package websocket

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func newTestServer(t *testing.T) (*Manager, *httptest.Server) {
	t.Helper()
	m := NewManager(zaptest.NewLogger(t), nil)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = m.HandleConnection(w, r, r.URL.Query().Get("user"))
	}))
	t.Cleanup(func() {
		m.Close()
		srv.Close()
	})
	return m, srv
}

func dial(t *testing.T, srv *httptest.Server, user string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/?user=" + user
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func waitForConnections(t *testing.T, m *Manager, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return m.GetConnectionCount() == n }, 2*time.Second, 10*time.Millisecond)
}

func readMessage(t *testing.T, conn *websocket.Conn) Message {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var msg Message
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

func TestSendToUser_ReachesEveryConnectionOfThatUser(t *testing.T) {
	m, srv := newTestServer(t)
	alice1 := dial(t, srv, "alice")
	alice2 := dial(t, srv, "alice")
	bob := dial(t, srv, "bob")
	waitForConnections(t, m, 3)

	n, err := m.SendToUser("alice", Message{Type: "verification", Data: map[string]interface{}{"status": "verified"}})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	for _, conn := range []*websocket.Conn{alice1, alice2} {
		msg := readMessage(t, conn)
		assert.Equal(t, "verification", msg.Type)
		assert.Equal(t, "alice", msg.Target)
		assert.Equal(t, "verified", msg.Data["status"])
		assert.False(t, msg.Timestamp.IsZero())
	}

	require.NoError(t, bob.SetReadDeadline(time.Now().Add(100*time.Millisecond)))
	_, _, err = bob.ReadMessage()
	assert.Error(t, err)
}

func TestSendToUser_NotConnected(t *testing.T) {
	m, _ := newTestServer(t)

	n, err := m.SendToUser("nobody", Message{Type: "verification"})
	assert.ErrorIs(t, err, ErrUserNotConnected)
	assert.Zero(t, n)
}

func TestPresenceGetsStatusReply(t *testing.T) {
	m, srv := newTestServer(t)
	conn := dial(t, srv, "carol")
	waitForConnections(t, m, 1)

	require.NoError(t, conn.WriteJSON(Message{Type: MessageTypePresence}))

	msg := readMessage(t, conn)
	assert.Equal(t, MessageTypeStatus, msg.Type)
	assert.Equal(t, "connected", msg.Data["status"])
}

func TestClientDisconnectUnregisters(t *testing.T) {
	m, srv := newTestServer(t)
	conn := dial(t, srv, "dave")
	waitForConnections(t, m, 1)

	require.NoError(t, conn.Close())
	waitForConnections(t, m, 0)

	_, err := m.SendToUser("dave", Message{Type: "verification"})
	assert.ErrorIs(t, err, ErrUserNotConnected)
}

func TestCloseDisconnectsClients(t *testing.T) {
	m, srv := newTestServer(t)
	conn := dial(t, srv, "erin")
	waitForConnections(t, m, 1)

	m.Close()
	m.Close()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := conn.ReadMessage()
	assert.Error(t, err)
	assert.Zero(t, m.GetConnectionCount())

	_, err = m.SendToUser("erin", Message{Type: "verification"})
	assert.ErrorIs(t, err, ErrManagerClosed)
}

func TestOriginChecker(t *testing.T) {
	check := originChecker([]string{"https://app.carboniq.io"})

	r := httptest.NewRequest(http.MethodGet, "/ws", nil)
	assert.True(t, check(r))

	r.Header.Set("Origin", "https://app.carboniq.io")
	assert.True(t, check(r))

	r.Header.Set("Origin", "https://evil.example")
	assert.False(t, check(r))
}
