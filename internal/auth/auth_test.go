package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"liveblood/internal/config"
)

func TestHashPassword(t *testing.T) {
	tests := []struct {
		name     string
		password string
		wantErr  bool
	}{
		{"valid password", "password123", false},
		{"empty password", "", false},
		{"long password", "a" + string(make([]byte, 70)), false}, // bcrypt max is 72 bytes
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hash, err := HashPassword(tt.password)
			if (err != nil) != tt.wantErr {
				t.Errorf("HashPassword() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if !tt.wantErr && hash == "" {
				t.Error("HashPassword() returned empty hash")
			}
		})
	}
}

func TestHashPassword_DifferentHashes(t *testing.T) {
	password := "testpassword"
	hash1, _ := HashPassword(password)
	hash2, _ := HashPassword(password)

	if hash1 == hash2 {
		t.Error("HashPassword() should produce different hashes for same password")
	}
}

func TestVerifyPassword(t *testing.T) {
	password := "testpassword123"
	hash, err := HashPassword(password)
	if err != nil {
		t.Fatalf("HashPassword() error = %v", err)
	}

	tests := []struct {
		name     string
		hash     string
		password string
		want     bool
	}{
		{"correct password", hash, password, true},
		{"wrong password", hash, "wrongpassword", false},
		{"empty password", hash, "", false},
		{"invalid hash", "invalidhash", password, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := VerifyPassword(tt.hash, tt.password); got != tt.want {
				t.Errorf("VerifyPassword() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestGenerateSessionToken(t *testing.T) {
	tests := []struct {
		name    string
		userID  uint
		secret  string
		ttl     time.Duration
		wantErr bool
	}{
		{"valid token", 1, "test-secret", time.Hour, false},
		{"empty secret", 1, "", time.Hour, false},
		{"zero ttl", 1, "test-secret", 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			token, err := GenerateSessionToken(tt.userID, tt.secret, tt.ttl)
			if (err != nil) != tt.wantErr {
				t.Errorf("GenerateSessionToken() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if !tt.wantErr && token == "" {
				t.Error("GenerateSessionToken() returned empty token")
			}
		})
	}
}

func TestParseSessionToken(t *testing.T) {
	secret := "test-secret-key"
	userID := uint(42)

	token, err := GenerateSessionToken(userID, secret, 15*time.Minute)
	if err != nil {
		t.Fatalf("GenerateSessionToken() error = %v", err)
	}
	zeroUser, err := GenerateSessionToken(0, secret, 15*time.Minute)
	if err != nil {
		t.Fatalf("GenerateSessionToken() error = %v", err)
	}

	tests := []struct {
		name    string
		token   string
		secret  string
		wantUID uint
		wantErr bool
	}{
		{"valid token", token, secret, userID, false},
		{"wrong secret", token, "wrong-secret", 0, true},
		{"invalid token", "invalid.token.here", secret, 0, true},
		{"empty token", "", secret, 0, true},
		{"zero user id", zeroUser, secret, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			claims, err := ParseSessionToken(tt.token, tt.secret)
			if (err != nil) != tt.wantErr {
				t.Errorf("ParseSessionToken() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if !tt.wantErr && claims.UserID != tt.wantUID {
				t.Errorf("ParseSessionToken() UserID = %v, want %v", claims.UserID, tt.wantUID)
			}
		})
	}
}

func TestParseSessionToken_Expired(t *testing.T) {
	secret := "test-secret"
	token, err := GenerateSessionToken(1, secret, -time.Minute)
	if err != nil {
		t.Fatalf("GenerateSessionToken() error = %v", err)
	}

	claims, err := ParseSessionToken(token, secret)
	if err == nil {
		t.Error("ParseSessionToken() should return error for expired token")
	}
	if claims != nil {
		t.Error("ParseSessionToken() should return nil claims for expired token")
	}
}

func TestTokenFromRequest(t *testing.T) {
	tests := []struct {
		name   string
		cookie string
		header string
		want   string
	}{
		{"cookie wins", "from-cookie", "Bearer from-header", "from-cookie"},
		{"bearer header", "", "Bearer from-header", "from-header"},
		{"lowercase bearer", "", "bearer abc", "abc"},
		{"basic header ignored", "", "Basic abc", ""},
		{"nothing", "", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.cookie != "" {
				r.AddCookie(&http.Cookie{Name: "sid", Value: tt.cookie})
			}
			if tt.header != "" {
				r.Header.Set("Authorization", tt.header)
			}
			assert.Equal(t, tt.want, TokenFromRequest(r, "sid"))
		})
	}
}

func TestStartSession_SetsCookie(t *testing.T) {
	gin.SetMode(gin.TestMode)
	cfg := config.Config{SessionSecret: "s3cret", SessionCookie: "sid", SessionTTLHours: 2, Env: "dev"}

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodPost, "/login", nil)
	require.NoError(t, StartSession(c, cfg, 9))

	cookies := w.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, "sid", cookies[0].Name)
	assert.True(t, cookies[0].HttpOnly)

	claims, err := ParseSessionToken(cookies[0].Value, cfg.SessionSecret)
	require.NoError(t, err)
	assert.Equal(t, uint(9), claims.UserID)
}

func TestGoogleProvider_Exchange(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/token":
			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(map[string]interface{}{
				"access_token": "google-token",
				"token_type":   "Bearer",
				"expires_in":   3600,
			})
		case "/userinfo":
			if !strings.HasSuffix(r.Header.Get("Authorization"), "google-token") {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			_ = json.NewEncoder(w).Encode(GoogleProfile{ID: "g-1", Email: "donor@example.com", VerifiedEmail: true, Name: "Donor"})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	p := &GoogleProvider{
		conf: &oauth2.Config{
			ClientID:     "id",
			ClientSecret: "secret",
			Endpoint:     oauth2.Endpoint{AuthURL: srv.URL + "/auth", TokenURL: srv.URL + "/token"},
		},
		userInfoURL: srv.URL + "/userinfo",
	}

	assert.Contains(t, p.AuthCodeURL("state-1"), "state=state-1")

	profile, err := p.Exchange(context.Background(), "code")
	require.NoError(t, err)
	assert.Equal(t, "g-1", profile.ID)
	assert.Equal(t, "donor@example.com", profile.Email)
	assert.Equal(t, "Donor", profile.Name)
}
