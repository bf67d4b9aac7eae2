package server

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"liveblood/internal/auth"
	"liveblood/internal/config"
	clog "liveblood/internal/log"
	"liveblood/internal/metrics"
	"liveblood/internal/service"
	"liveblood/internal/ws"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	oauthStateCookie = "liveblood_oauth_state"
	oauthStateTTL    = 10 * time.Minute
	msgRetryLater    = "Something went wrong, please try again later"
	msgMissingSearch = "Missing search parameters"
)

// Handler 聚合所有 HTTP handler，依赖注入 service 层。
type Handler struct {
	cfg      config.Config
	users    *service.UserService
	donors   *service.DonorService
	search   *service.SearchService
	messages *service.MessageService
	google   *auth.GoogleProvider
}

func NewHandler(cfg config.Config, users *service.UserService, donors *service.DonorService, search *service.SearchService, messages *service.MessageService) *Handler {
	h := &Handler{cfg: cfg, users: users, donors: donors, search: search, messages: messages}
	if cfg.GoogleEnabled() {
		h.google = auth.NewGoogleProvider(cfg)
	}
	return h
}

func badRequest(c *gin.Context, err error) bool {
	var verr *service.ValidationError
	if errors.As(err, &verr) {
		c.JSON(http.StatusBadRequest, gin.H{"error": verr.Error(), "problems": verr.Problems})
		return true
	}
	return false
}

// Register 处理本地注册，成功后直接登录。
func (h *Handler) Register(c *gin.Context) {
	var in service.RegisterInput
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	user, err := h.users.Register(c.Request.Context(), in)
	if err != nil {
		if badRequest(c, err) {
			return
		}
		if errors.Is(err, service.ErrEmailTaken) {
			c.JSON(http.StatusConflict, gin.H{"error": "email already registered"})
			return
		}
		clog.Ctx(c).Error().Err(err).Str("email", in.Email).Msg("register")
		c.JSON(http.StatusInternalServerError, gin.H{"error": msgRetryLater})
		return
	}
	if err := auth.StartSession(c, h.cfg, user.ID); err != nil {
		clog.Ctx(c).Error().Err(err).Uint("user_id", user.ID).Msg("register start session")
		c.JSON(http.StatusInternalServerError, gin.H{"error": msgRetryLater})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"message": "registered", "user": user})
}

// Login 按邮箱和密码登录并写入会话 cookie。
func (h *Handler) Login(c *gin.Context) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.Email == "" || req.Password == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	user, err := h.users.Login(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		if errors.Is(err, service.ErrInvalidCredentials) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid email or password"})
			return
		}
		clog.Ctx(c).Error().Err(err).Msg("login")
		c.JSON(http.StatusInternalServerError, gin.H{"error": msgRetryLater})
		return
	}
	if err := auth.StartSession(c, h.cfg, user.ID); err != nil {
		clog.Ctx(c).Error().Err(err).Uint("user_id", user.ID).Msg("login start session")
		c.JSON(http.StatusInternalServerError, gin.H{"error": msgRetryLater})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "logged in", "user": user})
}

func (h *Handler) Logout(c *gin.Context) {
	auth.EndSession(c, h.cfg)
	c.JSON(http.StatusOK, gin.H{"message": "logged out"})
}

// GoogleLogin 生成一次性 state 并跳转到 Google 授权页。
func (h *Handler) GoogleLogin(c *gin.Context) {
	if h.google == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "google login is not configured"})
		return
	}
	state := uuid.NewString()
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(oauthStateCookie, state, int(oauthStateTTL.Seconds()), "/", "", h.cfg.Env != "dev", true)
	c.Redirect(http.StatusFound, h.google.AuthCodeURL(state))
}

// GoogleCallback 校验 state，换取资料后查找或创建账号。
func (h *Handler) GoogleCallback(c *gin.Context) {
	if h.google == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "google login is not configured"})
		return
	}
	want, err := c.Cookie(oauthStateCookie)
	c.SetCookie(oauthStateCookie, "", -1, "/", "", h.cfg.Env != "dev", true)
	if err != nil || want == "" || c.Query("state") != want {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid oauth state"})
		return
	}
	code := c.Query("code")
	if code == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing authorization code"})
		return
	}
	profile, err := h.google.Exchange(c.Request.Context(), code)
	if err != nil {
		clog.Ctx(c).Warn().Err(err).Msg("google exchange")
		c.JSON(http.StatusUnauthorized, gin.H{"error": "google login failed"})
		return
	}
	user, err := h.users.FindOrCreateGoogle(c.Request.Context(), *profile)
	if err != nil {
		if errors.Is(err, service.ErrEmailUnverified) {
			c.JSON(http.StatusForbidden, gin.H{"error": "this email is already registered; log in with your password"})
			return
		}
		clog.Ctx(c).Error().Err(err).Str("google_id", profile.ID).Msg("google find or create")
		c.JSON(http.StatusInternalServerError, gin.H{"error": msgRetryLater})
		return
	}
	if err := auth.StartSession(c, h.cfg, user.ID); err != nil {
		clog.Ctx(c).Error().Err(err).Uint("user_id", user.ID).Msg("google start session")
		c.JSON(http.StatusInternalServerError, gin.H{"error": msgRetryLater})
		return
	}
	c.Redirect(http.StatusFound, "/")
}

// Me 返回当前用户以及其献血档案（没有档案时为 null）。
func (h *Handler) Me(c *gin.Context) {
	userID := auth.GetUserID(c)
	user, err := h.users.Get(c.Request.Context(), userID)
	if err != nil {
		clog.Ctx(c).Error().Err(err).Uint("user_id", userID).Msg("me get user")
		c.JSON(http.StatusInternalServerError, gin.H{"error": msgRetryLater})
		return
	}
	donor, err := h.donors.Get(c.Request.Context(), userID)
	if err != nil && !errors.Is(err, service.ErrProfileNotFound) {
		clog.Ctx(c).Error().Err(err).Uint("user_id", userID).Msg("me get donor")
		c.JSON(http.StatusInternalServerError, gin.H{"error": msgRetryLater})
		return
	}
	c.JSON(http.StatusOK, gin.H{"user": user, "donor": donor})
}

func (h *Handler) GetDonor(c *gin.Context) {
	userID := auth.GetUserID(c)
	donor, err := h.donors.Get(c.Request.Context(), userID)
	if err != nil {
		if errors.Is(err, service.ErrProfileNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "no donor profile yet"})
			return
		}
		clog.Ctx(c).Error().Err(err).Uint("user_id", userID).Msg("get donor")
		c.JSON(http.StatusInternalServerError, gin.H{"error": msgRetryLater})
		return
	}
	c.JSON(http.StatusOK, gin.H{"donor": donor})
}

// SaveDonor 创建或更新当前用户的档案。
func (h *Handler) SaveDonor(c *gin.Context) {
	var in service.ProfileInput
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	userID := auth.GetUserID(c)
	donor, err := h.donors.Upsert(c.Request.Context(), userID, in)
	if err != nil {
		if badRequest(c, err) {
			return
		}
		clog.Ctx(c).Error().Err(err).Uint("user_id", userID).Msg("save donor")
		c.JSON(http.StatusInternalServerError, gin.H{"error": msgRetryLater})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "profile saved", "donor": donor})
}

func (h *Handler) ListDonors(c *gin.Context) {
	donors, err := h.donors.List(c.Request.Context())
	if err != nil {
		clog.Ctx(c).Error().Err(err).Msg("list donors")
		c.JSON(http.StatusInternalServerError, gin.H{"error": msgRetryLater})
		return
	}
	c.JSON(http.StatusOK, gin.H{"donors": donors})
}

// LookupDonors 按血型与城市查找可献血者。
func (h *Handler) LookupDonors(c *gin.Context) {
	donors, err := h.donors.Lookup(c.Request.Context(), c.Query("bloodGroup"), c.Query("city"))
	if err != nil {
		if errors.Is(err, service.ErrMissingSearchParams) {
			c.JSON(http.StatusBadRequest, gin.H{"donors": []service.DonorDTO{}, "error": msgMissingSearch})
			return
		}
		clog.Ctx(c).Error().Err(err).Msg("lookup donors")
		c.JSON(http.StatusInternalServerError, gin.H{"donors": []service.DonorDTO{}, "error": msgRetryLater})
		return
	}
	c.JSON(http.StatusOK, gin.H{"donors": donors})
}

// Search 是公开的邻近检索接口，参数错误与读库失败都返回空列表和原因。
func (h *Handler) Search(c *gin.Context) {
	q, err := service.ParseSearchQuery(c.Query("bloodGroup"), c.Query("radius"), c.Query("latitude"), c.Query("longitude"))
	if err != nil {
		metrics.SearchRequestsTotal.WithLabelValues("invalid").Inc()
		c.JSON(http.StatusBadRequest, gin.H{"donors": []service.DonorMatch{}, "error": msgMissingSearch})
		return
	}
	matches, err := h.search.Search(c.Request.Context(), q)
	if err != nil {
		metrics.SearchRequestsTotal.WithLabelValues("error").Inc()
		clog.Ctx(c).Error().Err(err).Str("blood_group", q.BloodGroup).Msg("search donors")
		c.JSON(http.StatusInternalServerError, gin.H{"donors": matches, "error": msgRetryLater})
		return
	}
	metrics.SearchRequestsTotal.WithLabelValues("ok").Inc()
	c.JSON(http.StatusOK, gin.H{"donors": matches, "latitude": q.Origin.Lat, "longitude": q.Origin.Lng})
}

// ListChats 列出给当前用户发过消息的人。
func (h *Handler) ListChats(c *gin.Context) {
	userID := auth.GetUserID(c)
	partners, err := h.messages.Partners(c.Request.Context(), userID)
	if err != nil {
		clog.Ctx(c).Error().Err(err).Uint("user_id", userID).Msg("list chats")
		c.JSON(http.StatusInternalServerError, gin.H{"error": msgRetryLater})
		return
	}
	c.JSON(http.StatusOK, gin.H{"chats": partners})
}

// ChatHistory 返回与对方的全部消息，以及加入实时房间所需的 room_id。
func (h *Handler) ChatHistory(c *gin.Context) {
	other, err := strconv.ParseUint(c.Param("userId"), 10, 64)
	if err != nil || other == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid user id"})
		return
	}
	me := auth.GetUserID(c)
	ctx := c.Request.Context()
	msgs, err := h.messages.History(ctx, me, uint(other))
	if err != nil {
		clog.Ctx(c).Error().Err(err).Uint("user_id", me).Uint64("partner_id", other).Msg("chat history")
		c.JSON(http.StatusInternalServerError, gin.H{"error": msgRetryLater})
		return
	}
	name, err := h.messages.PartnerName(ctx, uint(other))
	if err != nil {
		clog.Ctx(c).Error().Err(err).Uint64("partner_id", other).Msg("chat partner name")
		c.JSON(http.StatusInternalServerError, gin.H{"error": msgRetryLater})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"messages": msgs,
		"partner":  gin.H{"id": other, "username": name},
		"room_id":  ws.RoomKey(me, uint(other)),
	})
}
