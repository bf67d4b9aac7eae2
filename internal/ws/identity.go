package ws

import (
	"net/http"

	"liveblood/internal/auth"
	"liveblood/internal/config"
)

// IdentityBridge 在 WebSocket 握手时读取 Web 会话，把登录用户绑定到连接上。
// 绑定只发生一次，连接存续期间不再校验。
type IdentityBridge struct {
	cookie string
	secret string
}

func NewIdentityBridge(cfg config.Config) *IdentityBridge {
	return &IdentityBridge{cookie: cfg.SessionCookie, secret: cfg.SessionSecret}
}

// Resolve 返回会话中的用户 id。没有会话、签名无效、已过期或 id 非法时返回 false。
func (b *IdentityBridge) Resolve(r *http.Request) (uint, bool) {
	token := auth.TokenFromRequest(r, b.cookie)
	if token == "" {
		return 0, false
	}
	claims, err := auth.ParseSessionToken(token, b.secret)
	if err != nil {
		return 0, false
	}
	return claims.UserID, true
}
