package auth

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const stateIssuer = "itembox/oauth-state"

// ErrInvalidState はOAuthのstateパラメータが不正または期限切れの場合に返される。
var ErrInvalidState = errors.New("invalid oauth state")

// StateSigner はOAuthのCSRF対策用stateをHS256署名付きJWTとして発行・検証する。
// 発行したstateはCookieにも保存し、コールバック時にクエリと一致することも確認する。
type StateSigner struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewStateSigner はStateSignerを生成する。
func NewStateSigner(secret string, ttl time.Duration) *StateSigner {
	return &StateSigner{secret: []byte(secret), ttl: ttl, now: time.Now}
}

// Issue は新しいstateを発行する。
func (s *StateSigner) Issue() (string, error) {
	nonce := make([]byte, 16)
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("failed to generate state nonce: %w", err)
	}

	now := s.now()
	claims := jwt.RegisteredClaims{
		ID:        hex.EncodeToString(nonce),
		Issuer:    stateIssuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign state: %w", err)
	}
	return signed, nil
}

// Verify はstateの署名・発行者・有効期限を検証する。
func (s *StateSigner) Verify(state string) error {
	_, err := jwt.ParseWithClaims(state, &jwt.RegisteredClaims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return s.secret, nil
	},
		jwt.WithIssuer(stateIssuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidState, err)
	}
	return nil
}
