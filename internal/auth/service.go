// Package auth はOAuth認証フロー、セッション管理、APIトークン、アクセスガードを提供する。
package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/itembox/internal/events"
	"github.com/hitoshi/itembox/internal/logger"
	"github.com/hitoshi/itembox/internal/model"
	"github.com/hitoshi/itembox/internal/repository"
)

// ServiceConfig は認証サービスの設定。
type ServiceConfig struct {
	SessionMaxAge int // セッション有効期間（秒）
}

// Service は認証に関するビジネスロジックを提供する。
type Service struct {
	oauth       OAuthProvider
	userRepo    repository.UserRepository
	sessionRepo repository.SessionRepository
	publisher   events.Publisher
	config      ServiceConfig
	now         func() time.Time
}

// NewService はServiceを生成する。publisherがnilの場合はイベントを配信しない。
func NewService(
	oauth OAuthProvider,
	userRepo repository.UserRepository,
	sessionRepo repository.SessionRepository,
	publisher events.Publisher,
	config ServiceConfig,
) *Service {
	if publisher == nil {
		publisher = events.NopPublisher{}
	}
	return &Service{
		oauth:       oauth,
		userRepo:    userRepo,
		sessionRepo: sessionRepo,
		publisher:   publisher,
		config:      config,
		now:         time.Now,
	}
}

// GetLoginURL はOAuth認証URLを生成する。
func (s *Service) GetLoginURL(state string) string {
	return s.oauth.GetLoginURL(state)
}

// HandleCallback はOAuthコールバックを処理し、ユーザーを解決した上でセッションを発行する。
func (s *Service) HandleCallback(ctx context.Context, code string) (*model.Session, error) {
	profile, err := s.oauth.ExchangeCode(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("failed to exchange oauth code: %w", err)
	}

	user, err := s.CompleteLogin(ctx, profile)
	if err != nil {
		return nil, err
	}

	session, err := s.createSession(ctx, user.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	s.publish(ctx, events.Event{Type: events.TypeUserLoggedIn, UserID: user.ID, OccurredAt: session.CreatedAt})
	return session, nil
}

// CompleteLogin はIdPのプロフィールからローカルユーザーを解決する。
// 既存ユーザーはプロフィールとlast_loginを更新し、未登録の場合は新規作成する。
// 永続化に失敗した場合はユーザーを返さない。
func (s *Service) CompleteLogin(ctx context.Context, profile *model.OAuthProfile) (*model.User, error) {
	if profile == nil || profile.ProviderUserID == "" {
		return nil, fmt.Errorf("oauth profile has no provider user id")
	}

	existing, err := s.userRepo.FindByGitHubID(ctx, profile.ProviderUserID)
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}

	now := s.now()

	if existing != nil {
		if profile.Username != "" {
			existing.Username = profile.Username
		}
		if email := profile.PrimaryEmail(); email != "" {
			existing.Email = email
		}
		if photo := profile.PrimaryPhoto(); photo != "" {
			existing.AvatarURL = photo
		}
		existing.LastLogin = &now

		if err := s.userRepo.UpdateLogin(ctx, existing); err != nil {
			return nil, fmt.Errorf("failed to update user: %w", err)
		}
		slog.Info("existing user logged in",
			slog.String("user_id", existing.ID),
			slog.String("provider", "github"),
		)
		return existing, nil
	}

	first, last := splitDisplayName(profile.DisplayName)
	user := &model.User{
		GitHubID:    profile.ProviderUserID,
		Username:    profile.Username,
		DisplayName: profile.DisplayName,
		FirstName:   first,
		LastName:    last,
		Email:       profile.PrimaryEmail(),
		AvatarURL:   profile.PrimaryPhoto(),
		LastLogin:   &now,
	}
	if err := s.userRepo.UpsertByGitHubID(ctx, user); err != nil {
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	slog.Info("new user created",
		slog.String("user_id", user.ID),
		slog.String("provider", "github"),
	)
	return user, nil
}

// Logout はセッションを破棄する。
func (s *Service) Logout(ctx context.Context, sessionID, userID string) error {
	if sessionID == "" {
		return fmt.Errorf("session ID is required")
	}

	if err := s.sessionRepo.DeleteByID(ctx, sessionID); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}

	slog.Info("user logged out", slog.String("session_id", logger.Truncate(sessionID, 8)))
	if userID != "" {
		s.publish(ctx, events.Event{Type: events.TypeUserLoggedOut, UserID: userID})
	}
	return nil
}

// ResolveSession はセッションIDから現在のユーザーを取得する。
// セッションが存在しない、期限切れ、ペイロードのユーザーIDが不正、
// またはユーザーが削除済みの場合は (nil, nil) を返し、未認証として扱う。
func (s *Service) ResolveSession(ctx context.Context, sessionID string) (*model.User, error) {
	if sessionID == "" {
		return nil, nil
	}

	session, err := s.sessionRepo.FindByID(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to find session: %w", err)
	}
	if session == nil {
		return nil, nil
	}

	if _, err := uuid.Parse(session.UserID); err != nil {
		return nil, nil
	}

	user, err := s.userRepo.FindByID(ctx, session.UserID)
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	return user, nil
}

// createSession はユーザーの代理キーのみを保持するセッションを作成し永続化する。
func (s *Service) createSession(ctx context.Context, userID string) (*model.Session, error) {
	sessionID, err := generateSessionID()
	if err != nil {
		return nil, fmt.Errorf("failed to generate session ID: %w", err)
	}

	now := s.now()
	session := &model.Session{
		ID:        sessionID,
		UserID:    userID,
		ExpiresAt: now.Add(time.Duration(s.config.SessionMaxAge) * time.Second),
		CreatedAt: now,
	}

	if err := s.sessionRepo.Create(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to save session: %w", err)
	}

	return session, nil
}

func (s *Service) publish(ctx context.Context, event events.Event) {
	if err := s.publisher.Publish(ctx, event); err != nil {
		slog.Warn("failed to publish event",
			slog.String("type", event.Type),
			slog.String("error", err.Error()),
		)
	}
}

// splitDisplayName は表示名を最初の空白で姓名に分割する。
// 空白を含まない場合は姓を空文字とする。
func splitDisplayName(displayName string) (first, last string) {
	name := strings.TrimSpace(displayName)
	if name == "" {
		return "", ""
	}
	idx := strings.IndexFunc(name, func(r rune) bool {
		return r == ' ' || r == '\t' || r == '\n' || r == '\r'
	})
	if idx < 0 {
		return name, ""
	}
	return name[:idx], strings.TrimSpace(name[idx+1:])
}

// generateSessionID は暗号的に安全なセッションIDを生成する。
func generateSessionID() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
