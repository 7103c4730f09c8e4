package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/hitoshi/itembox/internal/metrics"
	"github.com/hitoshi/itembox/internal/middleware"
	"github.com/hitoshi/itembox/internal/model"
)

const (
	oauthStateCookie = "oauth_state"
	oauthStateMaxAge = 600 // 10分

	defaultLoginRedirectURL = "/api-docs"
)

// AuthServiceInterface は認証ハンドラーが必要とするサービスインターフェース。
type AuthServiceInterface interface {
	GetLoginURL(state string) string
	HandleCallback(ctx context.Context, code string) (*model.Session, error)
	Logout(ctx context.Context, sessionID, userID string) error
}

// StateIssuer はOAuthのstateを発行・検証する。
type StateIssuer interface {
	Issue() (string, error)
	Verify(state string) error
}

// LoginRecorder はログイン結果を記録する。
type LoginRecorder interface {
	RecordLogin(outcome string)
}

// AuthHandlerConfig は認証ハンドラーの設定。
type AuthHandlerConfig struct {
	CookieDomain       string
	CookieSecure       bool
	SessionMaxAge      int    // セッションCookieの有効期間（秒）
	SuccessRedirectURL string // 空の場合は /api-docs
	FailureRedirectURL string // 空の場合は /api-docs
}

// AuthHandler はOAuth認証関連のHTTPハンドラー。
type AuthHandler struct {
	service  AuthServiceInterface
	states   StateIssuer
	recorder LoginRecorder
	config   AuthHandlerConfig
}

// NewAuthHandler はAuthHandlerを生成する。recorderはnilでもよい。
func NewAuthHandler(service AuthServiceInterface, states StateIssuer, recorder LoginRecorder, config AuthHandlerConfig) *AuthHandler {
	if config.SuccessRedirectURL == "" {
		config.SuccessRedirectURL = defaultLoginRedirectURL
	}
	if config.FailureRedirectURL == "" {
		config.FailureRedirectURL = defaultLoginRedirectURL
	}
	return &AuthHandler{
		service:  service,
		states:   states,
		recorder: recorder,
		config:   config,
	}
}

// authStatusUser は認証状態レスポンスに含めるユーザー情報。
type authStatusUser struct {
	ID        string `json:"id"`
	Username  string `json:"username"`
	Email     string `json:"email"`
	AvatarURL string `json:"avatarUrl"`
}

// authStatusResponse は認証状態のレスポンス。
type authStatusResponse struct {
	IsAuthenticated bool            `json:"isAuthenticated"`
	User            *authStatusUser `json:"user"`
}

// Login はGitHub OAuthフローを開始する。
// GET /api/auth/github
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	state, err := h.states.Issue()
	if err != nil {
		slog.Error("failed to issue oauth state", slog.String("error", err.Error()))
		middleware.WriteInternalServerError(w)
		return
	}

	// stateをCookieに保存（CSRF対策）
	http.SetCookie(w, &http.Cookie{
		Name:     oauthStateCookie,
		Value:    state,
		Path:     "/",
		MaxAge:   oauthStateMaxAge,
		HttpOnly: true,
		Secure:   h.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})

	http.Redirect(w, r, h.service.GetLoginURL(state), http.StatusTemporaryRedirect)
}

// Callback はOAuthコールバックを処理する。
// GET /api/auth/github/callback?code=xxx&state=yyy
func (h *AuthHandler) Callback(w http.ResponseWriter, r *http.Request) {
	// 1. stateの検証（CSRF対策）
	state := r.URL.Query().Get("state")
	stateCookie, err := r.Cookie(oauthStateCookie)
	if err != nil || state == "" || stateCookie.Value != state {
		slog.Warn("oauth state mismatch")
		h.failLogin(w, r)
		return
	}
	if err := h.states.Verify(state); err != nil {
		slog.Warn("oauth state rejected", slog.String("error", err.Error()))
		h.failLogin(w, r)
		return
	}

	// stateクッキーを削除
	h.clearCookie(w, oauthStateCookie, "")

	// 2. 認可コードの取得
	code := r.URL.Query().Get("code")
	if code == "" {
		slog.Warn("oauth callback without authorization code")
		h.failLogin(w, r)
		return
	}

	// 3. 認証処理
	session, err := h.service.HandleCallback(r.Context(), code)
	if err != nil {
		slog.Error("oauth callback failed", slog.String("error", err.Error()))
		h.failLogin(w, r)
		return
	}

	// 4. セッションCookieを設定（HTTP Only）
	http.SetCookie(w, &http.Cookie{
		Name:     middleware.SessionCookieName,
		Value:    session.ID,
		Path:     "/",
		Domain:   h.config.CookieDomain,
		MaxAge:   h.config.SessionMaxAge,
		HttpOnly: true,
		Secure:   h.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})

	h.recordLogin(metrics.LoginSuccess)
	http.Redirect(w, r, h.config.SuccessRedirectURL, http.StatusFound)
}

// Status は現在の認証状態を返す。未認証でも200を返す。
// GET /api/auth/status
func (h *AuthHandler) Status(w http.ResponseWriter, r *http.Request) {
	auth := middleware.AuthFromContext(r.Context())
	resp := authStatusResponse{IsAuthenticated: auth.Authenticated}
	if auth.Authenticated && auth.User != nil {
		resp.User = &authStatusUser{
			ID:        auth.User.ID,
			Username:  auth.User.Username,
			Email:     auth.User.Email,
			AvatarURL: auth.User.AvatarURL,
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// Logout はセッションを破棄する。セッションがない場合も成功として扱う。
// GET /api/auth/logout
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	auth := middleware.AuthFromContext(r.Context())
	sessionID := auth.SessionID
	if sessionID == "" {
		if cookie, err := r.Cookie(middleware.SessionCookieName); err == nil {
			sessionID = cookie.Value
		}
	}

	if sessionID != "" {
		var userID string
		if auth.User != nil {
			userID = auth.User.ID
		}
		if err := h.service.Logout(r.Context(), sessionID, userID); err != nil {
			slog.Error("failed to logout", slog.String("error", err.Error()))
			middleware.WriteInternalServerError(w)
			return
		}
	}

	h.clearCookie(w, middleware.SessionCookieName, h.config.CookieDomain)
	writeJSON(w, http.StatusOK, messageResponse{Message: "Successfully logged out"})
}

func (h *AuthHandler) failLogin(w http.ResponseWriter, r *http.Request) {
	h.recordLogin(metrics.LoginFailure)
	http.Redirect(w, r, h.config.FailureRedirectURL, http.StatusFound)
}

func (h *AuthHandler) recordLogin(outcome string) {
	if h.recorder != nil {
		h.recorder.RecordLogin(outcome)
	}
}

func (h *AuthHandler) clearCookie(w http.ResponseWriter, name, domain string) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    "",
		Path:     "/",
		Domain:   domain,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}
