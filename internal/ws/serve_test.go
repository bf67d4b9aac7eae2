package ws

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"liveblood/internal/auth"
	"liveblood/internal/config"
	"liveblood/internal/geo"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func serveConfig() config.Config {
	return config.Config{
		SessionCookie:    "liveblood_session",
		SessionSecret:    "test-secret",
		ClientOrigin:     "*",
		WSPingInterval:   time.Second,
		WSPongWait:       2 * time.Second,
		WSWriteWait:      time.Second,
		WSMaxMessageSize: 4096,
		WSSendBuffer:     8,
	}
}

func startServer(t *testing.T) (string, *Hub, *fakeMessages, *fakeLocations) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	cfg := serveConfig()
	g, hub, msgs, locs := newTestGateway()

	r := gin.New()
	r.GET("/ws", Serve(hub, g, NewIdentityBridge(cfg), cfg))
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	t.Cleanup(g.Wait)
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws", hub, msgs, locs
}

func dial(t *testing.T, url string, header http.Header) *websocket.Conn {
	t.Helper()
	conn, resp, err := websocket.DefaultDialer.Dial(url, header)
	require.NoError(t, err)
	_ = resp.Body.Close()
	return conn
}

func send(t *testing.T, conn *websocket.Conn, raw string) {
	t.Helper()
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(raw)))
}

func readEvent(t *testing.T, conn *websocket.Conn) Envelope {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var env Envelope
	require.NoError(t, conn.ReadJSON(&env))
	return env
}

func (f *fakeLocations) get(userID uint) (geo.Point, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.current[userID]
	return p, ok
}

func (f *fakeLocations) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func TestServe_SessionBindsIdentityAndDisconnectCleansUp(t *testing.T) {
	url, hub, _, locs := startServer(t)
	cfg := serveConfig()

	token, err := auth.GenerateSessionToken(7, cfg.SessionSecret, time.Hour)
	require.NoError(t, err)
	header := http.Header{}
	header.Set("Cookie", cfg.SessionCookie+"="+token)
	conn := dial(t, url, header)

	send(t, conn, `{"event":"joinRoom","data":"7-9"}`)
	send(t, conn, `{"event":"locationUpdate","data":{"latitude":18.52,"longitude":"73.85"}}`)
	send(t, conn, `{"event":"message","data":{"roomId":"7-9","from":7,"to":9,"text":"on my way"}}`)

	// 同一连接的帧按序处理，收到回显说明位置更新已落下
	env := readEvent(t, conn)
	assert.Equal(t, EventMessage, env.Event)
	p, ok := locs.get(7)
	require.True(t, ok)
	assert.Equal(t, geo.Point{Lat: 18.52, Lng: 73.85}, p)
	assert.Equal(t, 1, hub.Online("7-9"))

	require.NoError(t, conn.Close())
	assert.Eventually(t, func() bool {
		return hub.Online("7-9") == 0 && hub.Connections() == 0 && hub.RoomCount() == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestServe_AnonymousConnectionCannotMoveDonor(t *testing.T) {
	url, hub, _, locs := startServer(t)
	conn := dial(t, url, nil)
	defer conn.Close()

	send(t, conn, `{"event":"joinRoom","data":"4-9"}`)
	send(t, conn, `{"event":"locationUpdate","data":{"latitude":18.52,"longitude":73.85}}`)
	send(t, conn, `{"event":"message","data":{"roomId":"4-9","from":4,"to":9,"text":"hello"}}`)

	env := readEvent(t, conn)
	assert.Equal(t, EventMessage, env.Event)
	assert.Equal(t, 0, locs.count())
	assert.Equal(t, 1, hub.Online("4-9"))
}

func TestServe_TwoClientsShareRoom(t *testing.T) {
	url, _, msgs, _ := startServer(t)
	a := dial(t, url, nil)
	defer a.Close()
	b := dial(t, url, nil)
	defer b.Close()

	send(t, a, `{"event":"joinRoom","data":"1-2"}`)
	send(t, b, `{"event":"joinRoom","data":"1-2"}`)
	// b 的 join 要先于 a 的消息生效，先让 b 自己收一条
	send(t, b, `{"event":"message","data":{"roomId":"1-2","from":2,"to":1,"text":"ready"}}`)
	readEvent(t, b)

	send(t, a, `{"event":"message","data":{"roomId":"1-2","from":1,"to":2,"text":"hi"}}`)

	var out ChatMessageOut
	for {
		env := readEvent(t, b)
		require.NoError(t, json.Unmarshal(env.Data, &out))
		if out.Text == "hi" {
			break
		}
	}
	assert.Equal(t, uint(1), out.From)
	assert.Eventually(t, func() bool {
		msgs.mu.Lock()
		defer msgs.mu.Unlock()
		return len(msgs.saved) == 2
	}, 2*time.Second, 10*time.Millisecond)
}
