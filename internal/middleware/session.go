// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/hitoshi/itembox/internal/model"
)

// SessionCookieName はセッションIDを保持するCookie名。
const SessionCookieName = "session_id"

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

var (
	// authContextKey はセッション解決結果を格納するキー。
	authContextKey = contextKey("auth")
	// userIDContextKey はリクエストの主体となるユーザーIDを格納するキー。
	userIDContextKey = contextKey("user_id")
)

// Auth はリクエストのセッション解決結果。
type Auth struct {
	Authenticated bool
	User          *model.User
	SessionID     string
}

// SessionResolver はセッションIDから現在のユーザーを解決する。
// 未認証の場合は (nil, nil) を返す。
type SessionResolver interface {
	ResolveSession(ctx context.Context, sessionID string) (*model.User, error)
}

// NewSessionMiddleware はCookieのセッションIDからユーザーを解決し、
// 結果をリクエストコンテキストに注入するミドルウェアを返す。
// セッションが無効でもリクエストを拒否しない。
func NewSessionMiddleware(resolver SessionResolver) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			auth := Auth{}

			if cookie, err := r.Cookie(SessionCookieName); err == nil && cookie.Value != "" {
				auth.SessionID = cookie.Value

				user, err := resolver.ResolveSession(r.Context(), cookie.Value)
				if err != nil {
					slog.Error("failed to resolve session",
						slog.String("error", err.Error()),
					)
				}
				if err == nil && user != nil {
					auth.Authenticated = true
					auth.User = user
				}
			}

			ctx := ContextWithAuth(r.Context(), auth)
			if auth.Authenticated {
				ctx = ContextWithUserID(ctx, auth.User.ID)
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// AuthFromContext はリクエストコンテキストからセッション解決結果を取得する。
// セッションミドルウェアを通過していない場合は未認証の結果を返す。
func AuthFromContext(ctx context.Context) Auth {
	auth, _ := ctx.Value(authContextKey).(Auth)
	return auth
}

// ContextWithAuth はコンテキストにセッション解決結果を注入する。
func ContextWithAuth(ctx context.Context, auth Auth) context.Context {
	return context.WithValue(ctx, authContextKey, auth)
}

// UserIDFromContext はリクエストコンテキストからユーザーIDを取得する。
// セッションまたはAPIトークンで認証されたリクエストでのみ有効。
func UserIDFromContext(ctx context.Context) (string, error) {
	userID, ok := ctx.Value(userIDContextKey).(string)
	if !ok || userID == "" {
		return "", fmt.Errorf("user ID not found in context")
	}
	return userID, nil
}

// ContextWithUserID はコンテキストにユーザーIDを注入する。
// リクエストログにも同じユーザーIDを記録する。
func ContextWithUserID(ctx context.Context, userID string) context.Context {
	setRequestUserID(ctx, userID)
	return context.WithValue(ctx, userIDContextKey, userID)
}
