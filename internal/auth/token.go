package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/itembox/internal/events"
	"github.com/hitoshi/itembox/internal/model"
	"github.com/hitoshi/itembox/internal/repository"
)

// DefaultTokenTTL はAPIトークンの既定の有効期間（30日）。
const DefaultTokenTTL = 30 * 24 * time.Hour

// tokenBytes はトークンのエントロピー（256bit）。
const tokenBytes = 32

// ErrInvalidToken はトークンが存在しないか期限切れの場合に返される。
// 呼び出し側が両者を区別できないよう、同一のエラーを返す。
var ErrInvalidToken = errors.New("invalid or expired api token")

// IssuedToken は発行直後のトークンを表す。Token は平文で、この時点でのみ参照できる。
type IssuedToken struct {
	Token     string
	UserID    string
	ExpiresAt time.Time
}

// TokenService はAPIトークンの発行と検証を提供する。
type TokenService struct {
	repo      repository.APITokenRepository
	publisher events.Publisher
	ttl       time.Duration
	now       func() time.Time
}

// NewTokenService はTokenServiceを生成する。ttlが0以下の場合はDefaultTokenTTLを使用する。
func NewTokenService(repo repository.APITokenRepository, publisher events.Publisher, ttl time.Duration) *TokenService {
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	if publisher == nil {
		publisher = events.NopPublisher{}
	}
	return &TokenService{repo: repo, publisher: publisher, ttl: ttl, now: time.Now}
}

// Issue はユーザーに新しいトークンを発行する。
// 既存のトークンは無効化されず、ユーザーは複数の有効なトークンを保持できる。
func (s *TokenService) Issue(ctx context.Context, userID string) (*IssuedToken, error) {
	raw := make([]byte, tokenBytes)
	if _, err := rand.Read(raw); err != nil {
		return nil, fmt.Errorf("failed to generate token: %w", err)
	}
	token := hex.EncodeToString(raw)

	now := s.now()
	record := &model.APIToken{
		UserID:    userID,
		TokenHash: HashToken(token),
		CreatedAt: now,
		ExpiresAt: now.Add(s.ttl),
	}
	if err := s.repo.Create(ctx, record); err != nil {
		return nil, fmt.Errorf("failed to store api token: %w", err)
	}

	slog.Info("api token issued",
		slog.String("user_id", userID),
		slog.Time("expires_at", record.ExpiresAt),
	)
	if err := s.publisher.Publish(ctx, events.Event{
		Type:       events.TypeAPITokenIssued,
		UserID:     userID,
		OccurredAt: now,
		Attributes: map[string]string{"expires_at": record.ExpiresAt.UTC().Format(time.RFC3339)},
	}); err != nil {
		slog.Warn("failed to publish event", slog.String("type", events.TypeAPITokenIssued), slog.String("error", err.Error()))
	}

	return &IssuedToken{Token: token, UserID: userID, ExpiresAt: record.ExpiresAt}, nil
}

// Validate はトークンを検証し、所有ユーザーのIDを返す。
// レコードが存在し、現在時刻が有効期限以前である場合のみ有効。
func (s *TokenService) Validate(ctx context.Context, token string) (string, error) {
	if token == "" {
		return "", ErrInvalidToken
	}

	record, err := s.repo.FindByHash(ctx, HashToken(token))
	if err != nil {
		return "", fmt.Errorf("failed to look up api token: %w", err)
	}
	if record == nil || !record.IsValidAt(s.now()) {
		return "", ErrInvalidToken
	}
	return record.UserID, nil
}

// HashToken はトークンの保存用SHA-256ハッシュを16進文字列で返す。
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
