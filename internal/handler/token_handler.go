package handler

import (
	"bytes"
	"context"
	"errors"
	"html/template"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/munnerz/goautoneg"

	"github.com/hitoshi/itembox/internal/auth"
	"github.com/hitoshi/itembox/internal/middleware"
	"github.com/hitoshi/itembox/internal/model"
)

const (
	contentTypeJSON = "application/json"
	contentTypeHTML = "text/html"
)

// TokenServiceInterface はトークンハンドラーが必要とするサービスインターフェース。
type TokenServiceInterface interface {
	Issue(ctx context.Context, userID string) (*auth.IssuedToken, error)
	Validate(ctx context.Context, token string) (string, error)
}

// TokenRecorder はトークン関連のメトリクスを記録する。
type TokenRecorder interface {
	RecordTokenIssued()
	RecordTokenCheckFailure()
}

// TokenHandler はAPIトークンの発行と確認を行うHTTPハンドラー。
type TokenHandler struct {
	service  TokenServiceInterface
	recorder TokenRecorder
	page     *template.Template // nilの場合は常にJSONで応答する
}

// NewTokenHandler はTokenHandlerを生成する。
// templatePathのテンプレートを読み込めない場合はHTMLページを無効にする。
func NewTokenHandler(service TokenServiceInterface, recorder TokenRecorder, templatePath string) *TokenHandler {
	h := &TokenHandler{service: service, recorder: recorder}
	if templatePath == "" {
		return h
	}
	page, err := template.ParseFiles(templatePath)
	if err != nil {
		slog.Warn("token page template unavailable, falling back to JSON",
			slog.String("path", templatePath),
			slog.String("error", err.Error()),
		)
		return h
	}
	h.page = page
	return h
}

// tokenResponse はトークン発行のレスポンス。
type tokenResponse struct {
	Message   string    `json:"message"`
	Token     string    `json:"token"`
	UserID    string    `json:"userId"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// checkTokenResponse はトークン確認のレスポンス。
type checkTokenResponse struct {
	Valid   bool   `json:"valid"`
	UserID  string `json:"userId,omitempty"`
	Message string `json:"message,omitempty"`
}

// tokenPageData はトークン表示ページのテンプレート変数。
type tokenPageData struct {
	Token   string
	BaseURL string
}

// Issue はログイン中のユーザーに新しいAPIトークンを発行する。
// GET /api/auth/token
func (h *TokenHandler) Issue(w http.ResponseWriter, r *http.Request) {
	session := middleware.AuthFromContext(r.Context())
	if !session.Authenticated || session.User == nil {
		writeAPIErrorResponse(w, http.StatusUnauthorized,
			model.NewUnauthorizedError("You must be logged in to generate an API token"))
		return
	}

	issued, err := h.service.Issue(r.Context(), session.User.ID)
	if err != nil {
		slog.Error("failed to issue api token",
			slog.String("user_id", session.User.ID),
			slog.String("error", err.Error()),
		)
		writeAPIErrorResponse(w, http.StatusInternalServerError, &model.APIError{
			Code:     model.ErrCodeInternal,
			Message:  "Failed to store API token",
			Category: "system",
			Action:   "しばらく待ってから再度お試しください。",
		})
		return
	}
	if h.recorder != nil {
		h.recorder.RecordTokenIssued()
	}

	if h.page != nil && wantsHTML(r) {
		var buf bytes.Buffer
		err := h.page.Execute(&buf, tokenPageData{Token: issued.Token, BaseURL: requestBaseURL(r)})
		if err == nil {
			w.Header().Set("Content-Type", "text/html; charset=utf-8")
			w.WriteHeader(http.StatusOK)
			buf.WriteTo(w)
			return
		}
		slog.Error("failed to render token page", slog.String("error", err.Error()))
	}

	writeJSON(w, http.StatusOK, tokenResponse{
		Message:   "API token generated successfully",
		Token:     issued.Token,
		UserID:    issued.UserID,
		ExpiresAt: issued.ExpiresAt,
	})
}

// CheckToken はX-API-Keyヘッダーのトークンが有効かどうかを返す。
// GET /api/auth/check-token
func (h *TokenHandler) CheckToken(w http.ResponseWriter, r *http.Request) {
	token := strings.TrimSpace(r.Header.Get("X-API-Key"))
	if token == "" {
		writeJSON(w, http.StatusBadRequest, checkTokenResponse{Message: "No API token provided"})
		return
	}

	userID, err := h.service.Validate(r.Context(), token)
	if err != nil {
		if !errors.Is(err, auth.ErrInvalidToken) {
			slog.Error("failed to validate api token", slog.String("error", err.Error()))
		}
		if h.recorder != nil {
			h.recorder.RecordTokenCheckFailure()
		}
		writeJSON(w, http.StatusUnauthorized, checkTokenResponse{Message: "Invalid or expired API token"})
		return
	}

	writeJSON(w, http.StatusOK, checkTokenResponse{Valid: true, UserID: userID})
}

// wantsHTML はブラウザからの直接アクセスでHTMLを優先しているかを判定する。
func wantsHTML(r *http.Request) bool {
	if strings.EqualFold(r.Header.Get("X-Requested-With"), "XMLHttpRequest") {
		return false
	}
	accept := r.Header.Get("Accept")
	if accept == "" {
		return false
	}
	return goautoneg.Negotiate(accept, []string{contentTypeJSON, contentTypeHTML}) == contentTypeHTML
}

// requestBaseURL はリクエストのスキームとホストからベースURLを組み立てる。
func requestBaseURL(r *http.Request) string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
		scheme = strings.TrimSpace(strings.Split(proto, ",")[0])
	}
	return scheme + "://" + r.Host
}
