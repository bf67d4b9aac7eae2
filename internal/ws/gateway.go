package ws

import (
	"context"
	"encoding/json"
	"math"
	"strings"
	"sync"
	"time"

	"liveblood/internal/geo"
	"liveblood/internal/metrics"

	"github.com/rs/zerolog/log"
)

// MessageStore 追加聊天消息。
type MessageStore interface {
	Save(ctx context.Context, from, to uint, text string, sentAt time.Time) error
}

// LocationStore 覆盖献血者的当前位置。
type LocationStore interface {
	UpdateLocation(ctx context.Context, userID uint, p geo.Point) error
}

// Broadcaster 把已编码的帧投递到房间。单实例时就是 Hub，多实例时由 relay 转发。
type Broadcaster interface {
	Broadcast(room string, msg []byte)
}

const persistTimeout = 10 * time.Second

// Gateway 处理客户端上行事件：房间成员变更、消息转发与位置上报。
type Gateway struct {
	hub       *Hub
	out       Broadcaster
	messages  MessageStore
	locations LocationStore

	now func() time.Time
	wg  sync.WaitGroup
}

func NewGateway(hub *Hub, out Broadcaster, messages MessageStore, locations LocationStore) *Gateway {
	if out == nil {
		out = hub
	}
	return &Gateway{hub: hub, out: out, messages: messages, locations: locations, now: time.Now}
}

// Dispatch 在连接的读协程中调用，同一连接的事件按到达顺序处理。
func (g *Gateway) Dispatch(c *Client, raw []byte) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		log.Debug().Err(err).Str("conn_id", c.id).Msg("ws bad frame")
		return
	}
	switch env.Event {
	case EventJoinRoom:
		if room, ok := roomName(env.Data); ok {
			g.hub.Join(c, room)
		}
	case EventLeaveRoom:
		if room, ok := roomName(env.Data); ok {
			g.hub.Leave(c, room)
		}
	case EventMessage:
		g.handleMessage(c, env.Data)
	case EventLocationUpdate:
		g.handleLocation(c, env.Data)
	default:
		log.Debug().Str("conn_id", c.id).Str("event", env.Event).Msg("ws unknown event")
	}
}

func roomName(data json.RawMessage) (string, bool) {
	var room string
	if err := json.Unmarshal(data, &room); err != nil {
		return "", false
	}
	room = strings.TrimSpace(room)
	return room, room != ""
}

func (g *Gateway) handleMessage(c *Client, data json.RawMessage) {
	var in ChatMessageIn
	if err := json.Unmarshal(data, &in); err != nil {
		log.Debug().Err(err).Str("conn_id", c.id).Msg("ws bad message payload")
		return
	}
	if in.RoomID == "" {
		return
	}
	from := uint(in.From)
	if id, ok := c.Identity(); ok && from != id {
		log.Warn().Str("conn_id", c.id).Uint("user_id", id).Uint("claimed_from", from).Msg("ws sender mismatch, message dropped")
		return
	}

	sentAt := g.now()
	frame, err := encode(EventMessage, ChatMessageOut{From: from, Text: in.Text, Timestamp: sentAt.UnixMilli()})
	if err != nil {
		log.Error().Err(err).Msg("ws encode message")
		return
	}
	g.out.Broadcast(in.RoomID, frame)
	metrics.WsMessagesTotal.Inc()

	to := uint(in.To)
	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
		defer cancel()
		if err := g.messages.Save(ctx, from, to, in.Text, sentAt); err != nil {
			metrics.MessagePersistFailures.Inc()
			log.Error().Err(err).Uint("from", from).Uint("to", to).Str("room", in.RoomID).Msg("persist message")
		}
	}()
}

func (g *Gateway) handleLocation(c *Client, data json.RawMessage) {
	userID, ok := c.Identity()
	if !ok {
		metrics.LocationUpdatesTotal.WithLabelValues("anonymous").Inc()
		return
	}
	var in LocationUpdateIn
	if err := json.Unmarshal(data, &in); err != nil || in.Latitude == nil || in.Longitude == nil {
		metrics.LocationUpdatesTotal.WithLabelValues("invalid").Inc()
		return
	}
	p := geo.Point{Lat: float64(*in.Latitude), Lng: float64(*in.Longitude)}
	if math.IsNaN(p.Lat) || math.IsNaN(p.Lng) || !p.Valid() {
		metrics.LocationUpdatesTotal.WithLabelValues("invalid").Inc()
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	if err := g.locations.UpdateLocation(ctx, userID, p); err != nil {
		metrics.LocationUpdatesTotal.WithLabelValues("error").Inc()
		log.Error().Err(err).Uint("user_id", userID).Msg("update location")
		return
	}
	metrics.LocationUpdatesTotal.WithLabelValues("ok").Inc()
}

// Wait 阻塞到所有异步落库完成，关闭服务时调用。
func (g *Gateway) Wait() {
	g.wg.Wait()
}
