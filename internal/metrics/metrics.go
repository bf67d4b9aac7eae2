package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	WsConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "liveblood_ws_connections",
		Help: "Current number of active websocket connections",
	})
	WsRooms = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "liveblood_ws_rooms",
		Help: "Current number of chat rooms with at least one member",
	})
	WsMessagesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "liveblood_ws_messages_total",
		Help: "Total number of chat messages relayed",
	})
	MessagePersistFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "liveblood_message_persist_failures_total",
		Help: "Chat messages that were broadcast but could not be stored",
	})
	LocationUpdatesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "liveblood_location_updates_total",
		Help: "Live location updates by outcome",
	}, []string{"result"})
	SearchRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "liveblood_search_requests_total",
		Help: "Proximity searches by outcome",
	}, []string{"result"})
	RateLimitedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "liveblood_rate_limited_total",
		Help: "Requests rejected by the rate limiter",
	}, []string{"scope"})
	HttpRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})
	HttpRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})
)

func init() {
	prometheus.MustRegister(
		WsConnections, WsRooms, WsMessagesTotal, MessagePersistFailures,
		LocationUpdatesTotal, SearchRequestsTotal, RateLimitedTotal,
		HttpRequestsTotal, HttpRequestDuration,
	)
}

// GinMiddleware 统计基础请求指标，供 Prometheus 拉取。
func GinMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		status := strconv.Itoa(c.Writer.Status())
		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		labels := prometheus.Labels{"method": c.Request.Method, "path": path, "status": status}
		HttpRequestsTotal.With(labels).Inc()
		HttpRequestDuration.With(labels).Observe(time.Since(start).Seconds())
	}
}
