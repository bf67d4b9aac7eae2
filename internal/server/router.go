package server

import (
	"context"
	"net/http"
	"time"

	"liveblood/internal/auth"
	"liveblood/internal/config"
	clog "liveblood/internal/log"
	"liveblood/internal/metrics"
	"liveblood/internal/mw"
	"liveblood/internal/service"
	"liveblood/internal/ws"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"
	"gorm.io/gorm"
)

// SetupRouter 统一初始化 Gin 中间件、REST API 以及 WebSocket 端点。
// 限速器的回收协程随 ctx 结束。
func SetupRouter(ctx context.Context, cfg config.Config, db *gorm.DB, hub *ws.Hub, gateway *ws.Gateway) *gin.Engine {
	h := NewHandler(cfg,
		service.NewUserService(db),
		service.NewDonorService(db),
		service.NewSearchService(db),
		service.NewMessageService(db),
	)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(clog.GinMiddleware())
	r.Use(metrics.GinMiddleware())
	r.Use(mw.CORS(cfg.Env, cfg.ClientOrigin))
	// 控制单个 IP+路由的速率，避免登录与检索被刷。
	globalLimit := mw.NewLimiter(rate.Every(time.Second/20), 40, 2*time.Minute)
	globalLimit.Start(ctx)
	r.Use(globalLimit.Middleware("global"))

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "ws_connections": hub.Connections(), "ws_rooms": hub.RoomCount()})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	r.GET("/search", h.Search)

	api := r.Group("/api/v1")
	// 登录注册单独限速，抑制撞库。
	authLimit := mw.NewLimiter(rate.Every(6*time.Second), 10, 10*time.Minute)
	authLimit.Start(ctx)
	api.POST("/auth/register", authLimit.Middleware("auth"), h.Register)
	api.POST("/auth/login", authLimit.Middleware("auth"), h.Login)
	api.POST("/auth/logout", h.Logout)
	api.GET("/auth/google", h.GoogleLogin)
	api.GET("/auth/google/callback", h.GoogleCallback)

	// 需要会话的业务接口。
	authed := api.Group("")
	authed.Use(auth.AuthMiddleware(cfg, db))
	authed.GET("/me", h.Me)
	authed.GET("/donor", h.GetDonor)
	authed.PUT("/donor", h.SaveDonor)
	authed.GET("/donors", h.ListDonors)
	authed.GET("/donors/lookup", h.LookupDonors)
	authed.GET("/chats", h.ListChats)
	authed.GET("/chats/:userId", h.ChatHistory)

	r.GET("/ws", ws.Serve(hub, gateway, ws.NewIdentityBridge(cfg), cfg))

	return r
}
