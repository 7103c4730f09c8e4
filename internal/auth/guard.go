package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// GuardStrategy はアクセスガードの認証方式。
type GuardStrategy string

const (
	// StrategySession はアクティブなセッションのみを許可する。
	StrategySession GuardStrategy = "session"
	// StrategyStatic はセッションまたは共有シークレットと一致する資格情報を許可する。
	StrategyStatic GuardStrategy = "static"
	// StrategyToken はセッションまたは有効なAPIトークンを許可する。
	StrategyToken GuardStrategy = "token"
)

// ParseGuardStrategy は文字列をGuardStrategyに変換する。空文字は StrategyToken とする。
func ParseGuardStrategy(s string) (GuardStrategy, error) {
	switch GuardStrategy(strings.ToLower(strings.TrimSpace(s))) {
	case "", StrategyToken:
		return StrategyToken, nil
	case StrategySession:
		return StrategySession, nil
	case StrategyStatic:
		return StrategyStatic, nil
	default:
		return "", fmt.Errorf("unknown guard strategy: %q", s)
	}
}

// 認可に使われた方式
const (
	MethodSession = "session"
	MethodAPIKey  = "api_key"
	MethodToken   = "token"
)

// TokenValidator はAPIトークンを検証し、所有ユーザーのIDを返す。
type TokenValidator interface {
	Validate(ctx context.Context, token string) (string, error)
}

// Decision はアクセスガードの判定結果。
type Decision struct {
	Allowed bool
	UserID  string
	Method  string
}

// Guard はリクエストごとにセッションまたは資格情報の有無を判定する。
type Guard struct {
	strategy  GuardStrategy
	staticKey string
	tokens    TokenValidator
}

// NewGuard はGuardを生成する。
// staticKey は StrategyStatic、tokens は StrategyToken の場合にのみ使用される。
func NewGuard(strategy GuardStrategy, staticKey string, tokens TokenValidator) *Guard {
	return &Guard{strategy: strategy, staticKey: staticKey, tokens: tokens}
}

// Strategy は設定された認証方式を返す。
func (g *Guard) Strategy() GuardStrategy {
	return g.strategy
}

// Check はセッションユーザーと資格情報から通過可否を判定する。
// セッションを最優先し、次に資格情報を方式に応じて検証する。
func (g *Guard) Check(ctx context.Context, sessionUserID, credential string) (Decision, error) {
	if sessionUserID != "" {
		return Decision{Allowed: true, UserID: sessionUserID, Method: MethodSession}, nil
	}
	if credential == "" {
		return Decision{}, nil
	}

	switch g.strategy {
	case StrategyStatic:
		if g.staticKey != "" && subtle.ConstantTimeCompare([]byte(credential), []byte(g.staticKey)) == 1 {
			return Decision{Allowed: true, Method: MethodAPIKey}, nil
		}
		return Decision{}, nil

	case StrategyToken:
		if g.tokens == nil {
			return Decision{}, nil
		}
		userID, err := g.tokens.Validate(ctx, credential)
		if errors.Is(err, ErrInvalidToken) {
			return Decision{}, nil
		}
		if err != nil {
			return Decision{}, err
		}
		return Decision{Allowed: true, UserID: userID, Method: MethodToken}, nil

	default:
		return Decision{}, nil
	}
}

// CredentialFromRequest はリクエストから資格情報を取り出す。
// X-API-Key ヘッダーを優先し、なければ Authorization: Bearer を参照する。
func CredentialFromRequest(r *http.Request) string {
	if key := strings.TrimSpace(r.Header.Get("X-API-Key")); key != "" {
		return key
	}
	authz := r.Header.Get("Authorization")
	const prefix = "bearer "
	if len(authz) > len(prefix) && strings.EqualFold(authz[:len(prefix)], prefix) {
		return strings.TrimSpace(authz[len(prefix):])
	}
	return ""
}
