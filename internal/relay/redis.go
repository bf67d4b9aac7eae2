// Package relay 让多个实例共享房间广播：本地帧先发布到 Redis，
// 每个实例订阅后再投递给自己 Hub 中的连接。
package relay

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"liveblood/internal/config"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

const channelPrefix = "liveblood:room:"

// Local 是实例内的房间投递目标，通常是 *ws.Hub。
type Local interface {
	Broadcast(room string, msg []byte)
}

// RedisRelay 实现 ws.Broadcaster。未订阅或发布失败时退回本地投递，保证同实例内的成员仍能收到。
type RedisRelay struct {
	client     *redis.Client
	local      Local
	subscribed atomic.Bool
}

func NewRedisClient(cfg config.Config) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.RedisAddr,
		Password:     cfg.RedisPassword,
		DB:           cfg.RedisDB,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return client, nil
}

func NewRedisRelay(client *redis.Client, local Local) *RedisRelay {
	return &RedisRelay{client: client, local: local}
}

func channel(room string) string { return channelPrefix + room }

// Broadcast 只有在本实例已订阅时才走 Redis，否则发布出去的帧没有人会投递回本地连接。
func (r *RedisRelay) Broadcast(room string, msg []byte) {
	if !r.subscribed.Load() {
		r.local.Broadcast(room, msg)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := r.client.Publish(ctx, channel(room), msg).Err(); err != nil {
		log.Warn().Err(err).Str("room", room).Msg("relay publish failed, delivering locally")
		r.local.Broadcast(room, msg)
	}
}

// Run 订阅全部房间频道并投递到本地，直到 ctx 取消。ready 在订阅确认后关闭，可为 nil。
func (r *RedisRelay) Run(ctx context.Context, ready chan<- struct{}) error {
	sub := r.client.PSubscribe(ctx, channelPrefix+"*")
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("relay subscribe: %w", err)
	}
	r.subscribed.Store(true)
	defer r.subscribed.Store(false)
	if ready != nil {
		close(ready)
	}
	log.Info().Str("pattern", channelPrefix+"*").Msg("relay subscribed")

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			room := strings.TrimPrefix(msg.Channel, channelPrefix)
			r.local.Broadcast(room, []byte(msg.Payload))
		}
	}
}
