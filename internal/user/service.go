// Package user はユーザー管理のドメインロジックを提供する。
package user

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/hitoshi/itembox/internal/model"
	"github.com/hitoshi/itembox/internal/repository"
	"github.com/hitoshi/itembox/internal/validation"
)

// ItemLister はユーザー所有アイテムの取得インターフェース。
type ItemLister interface {
	ListByUserID(ctx context.Context, userID string) ([]*model.Item, error)
}

// TextSanitizer はタグを除去したプレーンテキストを返す。
type TextSanitizer interface {
	SanitizePlainText(raw string) string
}

// Input は作成・更新リクエストの入力。
type Input struct {
	Username    string `json:"username" validate:"required"`
	Email       string `json:"email" validate:"required,email"`
	DisplayName string `json:"displayName"`
	FirstName   string `json:"firstName"`
	LastName    string `json:"lastName"`
	AvatarURL   string `json:"avatarUrl" validate:"omitempty,safeurl"`
}

// ValidationMessages は違反ルールごとのメッセージを返す。
func (Input) ValidationMessages() map[string]string {
	return map[string]string{
		"Username.required": "Username is required",
		"Email.required":    "Email is required",
		"Email.email":       "Email format is invalid",
		"AvatarURL.safeurl": "Avatar URL is invalid",
	}
}

// Service はユーザー管理のサービス層。
type Service struct {
	userRepo  repository.UserRepository
	items     ItemLister
	validator *validation.Validator
	sanitizer TextSanitizer
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(
	userRepo repository.UserRepository,
	items ItemLister,
	validator *validation.Validator,
	sanitizer TextSanitizer,
) *Service {
	return &Service{
		userRepo:  userRepo,
		items:     items,
		validator: validator,
		sanitizer: sanitizer,
	}
}

// List は全ユーザーを返す。
func (s *Service) List(ctx context.Context) ([]*model.User, error) {
	users, err := s.userRepo.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("ユーザー一覧の取得に失敗しました: %w", err)
	}
	return users, nil
}

// Get は指定IDのユーザーを返す。
func (s *Service) Get(ctx context.Context, id string) (*model.User, error) {
	if !isValidID(id) {
		return nil, model.NewInvalidIDError("user")
	}
	return s.find(ctx, id)
}

// ListItems は指定ユーザーが所有するアイテムを返す。該当なしの場合は空スライス。
func (s *Service) ListItems(ctx context.Context, id string) ([]*model.Item, error) {
	if !isValidID(id) {
		return nil, model.NewInvalidIDError("user")
	}
	if _, err := s.find(ctx, id); err != nil {
		return nil, err
	}

	items, err := s.items.ListByUserID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("アイテム一覧の取得に失敗しました: %w", err)
	}
	if items == nil {
		items = []*model.Item{}
	}
	return items, nil
}

// Create はユーザーを直接作成する。ユーザー名またはメールアドレスが重複する場合はエラー。
func (s *Service) Create(ctx context.Context, in Input) (*model.User, error) {
	in = s.sanitize(in)
	if errs := s.validator.Struct(in); len(errs) > 0 {
		return nil, model.NewValidationError(errs)
	}

	user := s.toModel(in)
	if err := s.userRepo.CreateUnique(ctx, user); err != nil {
		if errors.Is(err, repository.ErrDuplicateUser) {
			return nil, model.NewDuplicateUserError()
		}
		return nil, fmt.Errorf("ユーザーの作成に失敗しました: %w", err)
	}

	slog.Info("user created", slog.String("user_id", user.ID))
	return user, nil
}

// Update はユーザーのプロフィールを更新する。
// 任意項目が空の場合は既存値を維持する。
func (s *Service) Update(ctx context.Context, id string, in Input) (*model.User, error) {
	if !isValidID(id) {
		return nil, model.NewInvalidIDError("user")
	}
	in = s.sanitize(in)
	if errs := s.validator.Struct(in); len(errs) > 0 {
		return nil, model.NewValidationError(errs)
	}

	user := s.toModel(in)
	user.ID = id
	if err := s.userRepo.UpdateUnique(ctx, user); err != nil {
		switch {
		case errors.Is(err, repository.ErrNotFound):
			return nil, model.NewUserNotFoundError()
		case errors.Is(err, repository.ErrDuplicateUser):
			return nil, model.NewDuplicateUserError()
		}
		return nil, fmt.Errorf("ユーザーの更新に失敗しました: %w", err)
	}
	return user, nil
}

// Delete はユーザーとそのセッションを削除する。所有アイテムとAPIトークンは残す。
func (s *Service) Delete(ctx context.Context, id string) error {
	if !isValidID(id) {
		return model.NewInvalidIDError("user")
	}
	if err := s.userRepo.DeleteByID(ctx, id); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return model.NewUserNotFoundError()
		}
		return fmt.Errorf("ユーザーの削除に失敗しました: %w", err)
	}

	slog.Info("user deleted", slog.String("user_id", id))
	return nil
}

func (s *Service) find(ctx context.Context, id string) (*model.User, error) {
	user, err := s.userRepo.FindByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("ユーザーの取得に失敗しました: %w", err)
	}
	if user == nil {
		return nil, model.NewUserNotFoundError()
	}
	return user, nil
}

func (s *Service) toModel(in Input) *model.User {
	return &model.User{
		Username:    in.Username,
		Email:       in.Email,
		DisplayName: in.DisplayName,
		FirstName:   in.FirstName,
		LastName:    in.LastName,
		AvatarURL:   in.AvatarURL,
	}
}

// sanitize は名前項目からタグを除去し、メールアドレスとURLの前後の空白を取り除く。
// 一意性の判定と必須チェックは無害化後の値で行う。
func (s *Service) sanitize(in Input) Input {
	in.Username = s.plain(in.Username)
	in.Email = strings.TrimSpace(in.Email)
	in.DisplayName = s.plain(in.DisplayName)
	in.FirstName = s.plain(in.FirstName)
	in.LastName = s.plain(in.LastName)
	in.AvatarURL = strings.TrimSpace(in.AvatarURL)
	return in
}

func (s *Service) plain(v string) string {
	if s.sanitizer == nil {
		return strings.TrimSpace(v)
	}
	return s.sanitizer.SanitizePlainText(v)
}

func isValidID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}
