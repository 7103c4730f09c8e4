package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/hitoshi/itembox/internal/events"
	"github.com/hitoshi/itembox/internal/model"
)

// memoryTokenRepo はハッシュをキーにトークンを保持するインメモリリポジトリ。
type memoryTokenRepo struct {
	records   map[string]*model.APIToken
	createErr error
	findErr   error
}

func newMemoryTokenRepo() *memoryTokenRepo {
	return &memoryTokenRepo{records: make(map[string]*model.APIToken)}
}

func (r *memoryTokenRepo) Create(_ context.Context, token *model.APIToken) error {
	if r.createErr != nil {
		return r.createErr
	}
	token.ID = "token-id"
	r.records[token.TokenHash] = token
	return nil
}

func (r *memoryTokenRepo) FindByHash(_ context.Context, hash string) (*model.APIToken, error) {
	if r.findErr != nil {
		return nil, r.findErr
	}
	return r.records[hash], nil
}

func TestTokenService_Issue(t *testing.T) {
	repo := newMemoryTokenRepo()
	pub := &recordingPublisher{}
	svc := NewTokenService(repo, pub, 0)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	svc.now = fixedClock(now)

	issued, err := svc.Issue(context.Background(), validUserID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(issued.Token) != 64 {
		t.Errorf("token length = %d, want 64 hex chars", len(issued.Token))
	}
	if issued.UserID != validUserID {
		t.Errorf("UserID = %q", issued.UserID)
	}
	if want := now.Add(30 * 24 * time.Hour); !issued.ExpiresAt.Equal(want) {
		t.Errorf("ExpiresAt = %v, want %v", issued.ExpiresAt, want)
	}

	stored, ok := repo.records[HashToken(issued.Token)]
	if !ok {
		t.Fatal("token hash should be stored")
	}
	if stored.TokenHash == issued.Token {
		t.Error("raw token must not be stored")
	}
	if !stored.CreatedAt.Equal(now) {
		t.Errorf("CreatedAt = %v, want %v", stored.CreatedAt, now)
	}
	if got := pub.types(); len(got) != 1 || got[0] != events.TypeAPITokenIssued {
		t.Errorf("published = %v", got)
	}
}

func TestTokenService_Issue_毎回異なるトークンを発行する(t *testing.T) {
	svc := NewTokenService(newMemoryTokenRepo(), nil, time.Hour)

	a, err := svc.Issue(context.Background(), validUserID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	b, err := svc.Issue(context.Background(), validUserID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if a.Token == b.Token {
		t.Error("tokens should differ")
	}
}

func TestTokenService_Issue_保存失敗(t *testing.T) {
	repo := newMemoryTokenRepo()
	repo.createErr = errors.New("insert failed")
	svc := NewTokenService(repo, nil, 0)

	issued, err := svc.Issue(context.Background(), validUserID)
	if err == nil {
		t.Fatal("expected error")
	}
	if issued != nil {
		t.Error("no token should be returned on storage failure")
	}
}

func TestTokenService_Validate_有効期限で判定が切り替わる(t *testing.T) {
	repo := newMemoryTokenRepo()
	svc := NewTokenService(repo, nil, 0)
	createdAt := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	svc.now = fixedClock(createdAt)

	issued, err := svc.Issue(context.Background(), validUserID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	tests := []struct {
		name    string
		now     time.Time
		wantErr error
	}{
		{name: "発行直後", now: createdAt},
		{name: "有効期限ちょうど", now: createdAt.Add(DefaultTokenTTL)},
		{name: "有効期限の1秒後", now: createdAt.Add(DefaultTokenTTL + time.Second), wantErr: ErrInvalidToken},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc.now = fixedClock(tt.now)
			userID, err := svc.Validate(context.Background(), issued.Token)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("err = %v, want %v", err, tt.wantErr)
			}
			if tt.wantErr == nil && userID != validUserID {
				t.Errorf("userID = %q, want %q", userID, validUserID)
			}
		})
	}
}

func TestTokenService_Validate_不正なトークン(t *testing.T) {
	svc := NewTokenService(newMemoryTokenRepo(), nil, 0)

	for _, token := range []string{"", "unknown-token"} {
		if _, err := svc.Validate(context.Background(), token); !errors.Is(err, ErrInvalidToken) {
			t.Errorf("Validate(%q) err = %v, want ErrInvalidToken", token, err)
		}
	}
}

func TestTokenService_Validate_ストレージエラーは区別される(t *testing.T) {
	repo := newMemoryTokenRepo()
	repo.findErr = errors.New("db down")
	svc := NewTokenService(repo, nil, 0)

	_, err := svc.Validate(context.Background(), "some-token")
	if err == nil || errors.Is(err, ErrInvalidToken) {
		t.Errorf("err = %v, want storage error", err)
	}
}

func TestHashToken(t *testing.T) {
	// echo -n "abc" | sha256sum
	const want = "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad"
	if got := HashToken("abc"); got != want {
		t.Errorf("HashToken(abc) = %s, want %s", got, want)
	}
}
