package ws

import (
	"net/http"
	"net/url"
	"strings"
	"time"

	"liveblood/internal/config"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// Options 控制单个连接的心跳与缓冲。
type Options struct {
	PingInterval   time.Duration
	PongWait       time.Duration
	WriteWait      time.Duration
	MaxMessageSize int64
	SendBuffer     int
}

func OptionsFromConfig(cfg config.Config) Options {
	return Options{
		PingInterval:   cfg.WSPingInterval,
		PongWait:       cfg.WSPongWait,
		WriteWait:      cfg.WSWriteWait,
		MaxMessageSize: cfg.WSMaxMessageSize,
		SendBuffer:     cfg.WSSendBuffer,
	}
}

type Client struct {
	id     string
	hub    *Hub
	conn   *websocket.Conn
	send   chan []byte
	userID uint
	rooms  map[string]struct{} // guarded by hub.mu
	opts   Options
}

func newClient(hub *Hub, conn *websocket.Conn, userID uint, opts Options) *Client {
	return &Client{
		id:     uuid.NewString(),
		hub:    hub,
		conn:   conn,
		send:   make(chan []byte, opts.SendBuffer),
		userID: userID,
		rooms:  make(map[string]struct{}),
		opts:   opts,
	}
}

// Identity 返回握手时绑定的用户 id；匿名连接返回 false。
func (c *Client) Identity() (uint, bool) {
	return c.userID, c.userID != 0
}

func newUpgrader(allowed string) websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     func(r *http.Request) bool { return originAllowed(r, allowed) },
	}
}

func originAllowed(r *http.Request, allowed string) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || allowed == "*" {
		return true
	}
	for _, o := range strings.Split(allowed, ",") {
		if strings.EqualFold(strings.TrimSpace(o), origin) {
			return true
		}
	}
	u, err := url.Parse(origin)
	return err == nil && strings.EqualFold(u.Host, r.Host)
}

// Serve 在升级前通过会话桥解析身份，随后启动读写协程。
// 没有会话的连接仍可聊天，但其位置上报会被丢弃。
func Serve(h *Hub, g *Gateway, bridge *IdentityBridge, cfg config.Config) gin.HandlerFunc {
	upgrader := newUpgrader(cfg.ClientOrigin)
	opts := OptionsFromConfig(cfg)
	return func(c *gin.Context) {
		userID, _ := bridge.Resolve(c.Request)

		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			log.Debug().Err(err).Msg("ws upgrade")
			return
		}
		client := newClient(h, conn, userID, opts)
		h.Register(client)
		log.Debug().Str("conn_id", client.id).Uint("user_id", userID).Msg("ws connected")

		go client.writePump()
		client.readPump(g.Dispatch)
	}
}

func (c *Client) readPump(dispatch func(*Client, []byte)) {
	defer func() {
		c.hub.Unregister(c)
		_ = c.conn.Close()
		log.Debug().Str("conn_id", c.id).Msg("ws disconnected")
	}()
	c.conn.SetReadLimit(c.opts.MaxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(c.opts.PongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(c.opts.PongWait))
	})
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Debug().Err(err).Str("conn_id", c.id).Msg("ws read")
			}
			return
		}
		dispatch(c, data)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(c.opts.PingInterval)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()
	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(c.opts.WriteWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			_, _ = w.Write(message)
			if err := w.Close(); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(c.opts.WriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
