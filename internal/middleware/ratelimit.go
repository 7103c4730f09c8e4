package middleware

import (
	"encoding/json"
	"log/slog"
	"math"
	"fmt"
	"net"
	"net/http"
	"net/netip"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/hitoshi/itembox/internal/model"
)

// RateLimiterConfig はレート制限の設定を保持する。
type RateLimiterConfig struct {
	GeneralRate     rate.Limit    // 更新系APIのレート（req/sec）。120/60 = 2 req/sec
	GeneralBurst    int           // 更新系APIのバーストサイズ
	TokenRate       rate.Limit    // APIトークン発行のレート（req/sec）。10/60
	TokenBurst      int           // APIトークン発行のバーストサイズ
	CleanupInterval time.Duration // 期限切れエントリのクリーンアップ間隔

	// TrustedProxies はX-Forwarded-Forを信頼する接続元。空の場合はRemoteAddrのみを使う。
	TrustedProxies []netip.Prefix
}

// ParseTrustedProxies はCIDRまたは単一IPの一覧をプレフィックスに変換する。
func ParseTrustedProxies(values []string) ([]netip.Prefix, error) {
	prefixes := make([]netip.Prefix, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if strings.Contains(v, "/") {
			p, err := netip.ParsePrefix(v)
			if err != nil {
				return nil, fmt.Errorf("invalid trusted proxy %q: %w", v, err)
			}
			prefixes = append(prefixes, p.Masked())
			continue
		}
		addr, err := netip.ParseAddr(v)
		if err != nil {
			return nil, fmt.Errorf("invalid trusted proxy %q: %w", v, err)
		}
		addr = addr.Unmap()
		prefixes = append(prefixes, netip.PrefixFrom(addr, addr.BitLen()))
	}
	return prefixes, nil
}

// NewRateLimiterConfig は1分あたりのリクエスト数から設定を生成する。
func NewRateLimiterConfig(generalPerMinute, tokenPerMinute int) RateLimiterConfig {
	return RateLimiterConfig{
		GeneralRate:     rate.Limit(float64(generalPerMinute) / 60.0),
		GeneralBurst:    generalPerMinute,
		TokenRate:       rate.Limit(float64(tokenPerMinute) / 60.0),
		TokenBurst:      tokenPerMinute,
		CleanupInterval: 5 * time.Minute,
	}
}

// keyedLimiter はキーごとのレートリミッターとアクセス時刻を保持する。
type keyedLimiter struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

// limiterPool は同一レートのリミッターをキー単位で管理する。
type limiterPool struct {
	name  string
	rate  rate.Limit
	burst int

	mu       sync.Mutex
	limiters map[string]*keyedLimiter
}

func newLimiterPool(name string, r rate.Limit, burst int) *limiterPool {
	return &limiterPool{name: name, rate: r, burst: burst, limiters: make(map[string]*keyedLimiter)}
}

func (p *limiterPool) get(key string, now time.Time) *rate.Limiter {
	p.mu.Lock()
	defer p.mu.Unlock()

	if kl, ok := p.limiters[key]; ok {
		kl.lastAccess = now
		return kl.limiter
	}
	limiter := rate.NewLimiter(p.rate, p.burst)
	p.limiters[key] = &keyedLimiter{limiter: limiter, lastAccess: now}
	return limiter
}

func (p *limiterPool) len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.limiters)
}

func (p *limiterPool) evict(now time.Time, ttl time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for key, kl := range p.limiters {
		if now.Sub(kl.lastAccess) > ttl {
			delete(p.limiters, key)
		}
	}
}

// RateLimiter はユーザーまたはクライアントIPごとのレート制限を管理する。
// 更新系APIとAPIトークン発行の2種類を独立に提供する。
type RateLimiter struct {
	config  RateLimiterConfig
	general *limiterPool
	token   *limiterPool
	stopCh  chan struct{}
	once    sync.Once
}

// NewRateLimiter は新しいRateLimiterを生成する。
// バックグラウンドで期限切れエントリのクリーンアップを開始する。
func NewRateLimiter(config RateLimiterConfig) *RateLimiter {
	rl := &RateLimiter{
		config:  config,
		general: newLimiterPool("general", config.GeneralRate, config.GeneralBurst),
		token:   newLimiterPool("token_issue", config.TokenRate, config.TokenBurst),
		stopCh:  make(chan struct{}),
	}

	go rl.cleanupLoop()

	return rl
}

// Stop はクリーンアップのバックグラウンドゴルーチンを停止する。
func (rl *RateLimiter) Stop() {
	rl.once.Do(func() { close(rl.stopCh) })
}

// GeneralMiddleware は更新系APIのレート制限ミドルウェアを返す。
// アクセスガードの後に配置すると、認証済みユーザー単位で制限される。
func (rl *RateLimiter) GeneralMiddleware() func(next http.Handler) http.Handler {
	return rl.middleware(rl.general)
}

// TokenIssueMiddleware はAPIトークン発行専用のレート制限ミドルウェアを返す。
// 更新系APIのレート制限とは独立に動作する。
func (rl *RateLimiter) TokenIssueMiddleware() func(next http.Handler) http.Handler {
	return rl.middleware(rl.token)
}

// GeneralLimiterCount は現在管理されている更新系リミッターのエントリ数を返す。
func (rl *RateLimiter) GeneralLimiterCount() int {
	return rl.general.len()
}

// TokenLimiterCount は現在管理されているトークン発行リミッターのエントリ数を返す。
func (rl *RateLimiter) TokenLimiterCount() int {
	return rl.token.len()
}

func (rl *RateLimiter) middleware(pool *limiterPool) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := rl.rateLimitKey(r)

			if !pool.get(key, time.Now()).Allow() {
				writeRateLimitResponse(w, pool.rate)
				slog.Warn("rate limit exceeded",
					slog.String("key", key),
					slog.String("limit_type", pool.name),
				)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// rateLimitKey は認証済みの場合はユーザーID、それ以外はクライアントIPをキーとする。
func (rl *RateLimiter) rateLimitKey(r *http.Request) string {
	if userID, err := UserIDFromContext(r.Context()); err == nil {
		return "user:" + userID
	}
	return "ip:" + rl.clientIP(r)
}

// clientIP は接続元IPを返す。
// 接続元が信頼済みプロキシの場合のみX-Forwarded-Forを右から辿り、最初の非信頼アドレスを採用する。
func (rl *RateLimiter) clientIP(r *http.Request) string {
	remote := remoteHost(r.RemoteAddr)
	remoteAddr, err := netip.ParseAddr(remote)
	if err != nil || !rl.trusted(remoteAddr) {
		return remote
	}

	client := remote
	hops := strings.Split(r.Header.Get("X-Forwarded-For"), ",")
	for i := len(hops) - 1; i >= 0; i-- {
		hop := strings.TrimSpace(hops[i])
		if hop == "" {
			continue
		}
		addr, err := netip.ParseAddr(hop)
		if err != nil {
			break
		}
		client = addr.Unmap().String()
		if !rl.trusted(addr) {
			break
		}
	}
	return client
}

func (rl *RateLimiter) trusted(addr netip.Addr) bool {
	addr = addr.Unmap()
	for _, p := range rl.config.TrustedProxies {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

func remoteHost(remoteAddr string) string {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		return remoteAddr
	}
	return host
}

// cleanupLoop はバックグラウンドで期限切れエントリを定期的にクリーンアップする。
func (rl *RateLimiter) cleanupLoop() {
	ticker := time.NewTicker(rl.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.cleanup(time.Now())
		case <-rl.stopCh:
			return
		}
	}
}

// cleanup は最終アクセス時刻がCleanupIntervalの2倍を超えたエントリを削除する。
func (rl *RateLimiter) cleanup(now time.Time) {
	ttl := rl.config.CleanupInterval * 2
	rl.general.evict(now, ttl)
	rl.token.evict(now, ttl)
}

// writeRateLimitResponse は429 Too Many Requestsレスポンスを書き込む。
// Retry-Afterヘッダーにはトークンが補充されるまでの推定秒数を設定する。
func writeRateLimitResponse(w http.ResponseWriter, r rate.Limit) {
	retryAfterSec := 1
	if r > 0 {
		retryAfterSec = int(math.Ceil(1.0 / float64(r)))
	}
	if retryAfterSec < 1 {
		retryAfterSec = 1
	}

	w.Header().Set("Retry-After", strconv.Itoa(retryAfterSec))
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusTooManyRequests)

	json.NewEncoder(w).Encode(ErrorResponseBody{
		Code:     model.ErrCodeRateLimit,
		Message:  "Too many requests. Please try again later.",
		Category: "system",
		Action:   "Retry-Afterヘッダーの秒数だけ待ってから再度お試しください。",
	})
}
