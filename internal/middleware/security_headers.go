package middleware

import (
	"net/http"
	"strings"
)

// authPathPrefix 配下はセッションやAPIトークンを返すためキャッシュさせない。
const authPathPrefix = "/api/auth/"

// apiContentSecurityPolicy はJSON応答とトークン表示ページに適用するCSP。
// トークンページはインラインスタイルのみ許可する。
const apiContentSecurityPolicy = "default-src 'none'; style-src 'unsafe-inline'; frame-ancestors 'none'; base-uri 'none'; form-action 'none'"

// NewSecurityHeadersMiddleware はセキュリティ関連のHTTPレスポンスヘッダーを付与するミドルウェアを返す。
func NewSecurityHeadersMiddleware() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := w.Header()
			h.Set("X-Content-Type-Options", "nosniff")
			h.Set("X-Frame-Options", "DENY")
			h.Set("Referrer-Policy", "no-referrer")
			h.Set("Content-Security-Policy", apiContentSecurityPolicy)
			h.Set("Cross-Origin-Resource-Policy", "same-site")
			if strings.HasPrefix(r.URL.Path, authPathPrefix) {
				h.Set("Cache-Control", "no-store")
				h.Set("Pragma", "no-cache")
			}
			next.ServeHTTP(w, r)
		})
	}
}
