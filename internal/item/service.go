// Package item はアイテムの管理機能を提供する。
package item

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/hitoshi/itembox/internal/model"
	"github.com/hitoshi/itembox/internal/repository"
	"github.com/hitoshi/itembox/internal/validation"
)

// OwnerFinder は所有ユーザーの存在確認インターフェース。
type OwnerFinder interface {
	FindByID(ctx context.Context, id string) (*model.User, error)
}

// Sanitizer はアイテムのテキスト項目を無害化する。
type Sanitizer interface {
	SanitizeRichText(rawHTML string) string
	SanitizePlainText(raw string) string
}

// Input は作成・更新リクエストの入力。
// Price と Quantity はJSONの任意の値を受け取り、検証後に数値へ変換する。
type Input struct {
	Name        string `json:"name" validate:"required"`
	Description string `json:"description" validate:"required"`
	Price       any    `json:"price" validate:"omitempty,nonnegative"`
	Quantity    any    `json:"quantity" validate:"omitempty,wholenumber"`
	UserID      string `json:"userId" validate:"omitempty,uuid"`
}

// ValidationMessages は違反ルールごとのメッセージを返す。
func (Input) ValidationMessages() map[string]string {
	return map[string]string{
		"Name.required":        "Item name is required",
		"Description.required": "Item description is required",
		"Price.nonnegative":    "Price must be a positive number",
		"Quantity.wholenumber": "Quantity must be a positive integer",
		"UserID.uuid":          "Invalid user ID format",
	}
}

// ItemService はアイテムのCRUDを提供するサービス。
type ItemService struct {
	itemRepo  repository.ItemRepository
	owners    OwnerFinder
	validator *validation.Validator
	sanitizer Sanitizer
}

// NewItemService はItemServiceの新しいインスタンスを生成する。
func NewItemService(
	itemRepo repository.ItemRepository,
	owners OwnerFinder,
	validator *validation.Validator,
	sanitizer Sanitizer,
) *ItemService {
	return &ItemService{
		itemRepo:  itemRepo,
		owners:    owners,
		validator: validator,
		sanitizer: sanitizer,
	}
}

// List は全アイテムを返す。
func (s *ItemService) List(ctx context.Context) ([]*model.Item, error) {
	items, err := s.itemRepo.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("アイテム一覧の取得に失敗しました: %w", err)
	}
	return items, nil
}

// Get は指定IDのアイテムを返す。
func (s *ItemService) Get(ctx context.Context, id string) (*model.Item, error) {
	if !isValidID(id) {
		return nil, model.NewInvalidIDError("item")
	}

	item, err := s.itemRepo.FindByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("アイテムの取得に失敗しました: %w", err)
	}
	if item == nil {
		return nil, model.NewItemNotFoundError()
	}
	return item, nil
}

// Create はアイテムを作成する。userIdが指定された場合は所有ユーザーの存在を確認する。
func (s *ItemService) Create(ctx context.Context, in Input) (*model.Item, error) {
	in = s.sanitize(in)
	if errs := s.validator.Struct(in); len(errs) > 0 {
		return nil, model.NewValidationError(errs)
	}
	if err := s.checkOwner(ctx, in.UserID); err != nil {
		return nil, err
	}

	item := &model.Item{
		Name:        in.Name,
		Description: in.Description,
		Price:       priceOf(in.Price),
		Quantity:    quantityOf(in.Quantity),
		UserID:      in.UserID,
	}
	if err := s.itemRepo.Create(ctx, item); err != nil {
		return nil, fmt.Errorf("アイテムの作成に失敗しました: %w", err)
	}

	slog.Info("item created",
		slog.String("item_id", item.ID),
		slog.String("user_id", item.UserID),
	)
	return item, nil
}

// Update はアイテムを更新する。
// price, quantity, userId は省略された場合に既存値を維持する。
func (s *ItemService) Update(ctx context.Context, id string, in Input) (*model.Item, error) {
	if !isValidID(id) {
		return nil, model.NewInvalidIDError("item")
	}
	in = s.sanitize(in)
	if errs := s.validator.Struct(in); len(errs) > 0 {
		return nil, model.NewValidationError(errs)
	}
	if err := s.checkOwner(ctx, in.UserID); err != nil {
		return nil, err
	}

	update := &model.ItemUpdate{
		Name:        in.Name,
		Description: in.Description,
		Price:       priceOf(in.Price),
		Quantity:    quantityOf(in.Quantity),
	}
	if in.UserID != "" {
		owner := in.UserID
		update.UserID = &owner
	}

	item, err := s.itemRepo.Update(ctx, id, update)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, model.NewItemNotFoundError()
	}
	if err != nil {
		return nil, fmt.Errorf("アイテムの更新に失敗しました: %w", err)
	}
	return item, nil
}

// Delete は指定IDのアイテムを削除する。
func (s *ItemService) Delete(ctx context.Context, id string) error {
	if !isValidID(id) {
		return model.NewInvalidIDError("item")
	}

	err := s.itemRepo.DeleteByID(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return model.NewItemNotFoundError()
	}
	if err != nil {
		return fmt.Errorf("アイテムの削除に失敗しました: %w", err)
	}

	slog.Info("item deleted", slog.String("item_id", id))
	return nil
}

// sanitize はテキスト項目を無害化した入力を返す。
// 検証は無害化後の値に対して行うため、タグだけの名前は必須エラーになる。
func (s *ItemService) sanitize(in Input) Input {
	if s.sanitizer == nil {
		return in
	}
	in.Name = s.sanitizer.SanitizePlainText(in.Name)
	in.Description = s.sanitizer.SanitizeRichText(in.Description)
	return in
}

func (s *ItemService) checkOwner(ctx context.Context, userID string) error {
	if userID == "" {
		return nil
	}
	owner, err := s.owners.FindByID(ctx, userID)
	if err != nil {
		return fmt.Errorf("所有ユーザーの確認に失敗しました: %w", err)
	}
	if owner == nil {
		return model.NewUnknownOwnerError()
	}
	return nil
}

// priceOf は検証済みの価格値を変換する。未指定の場合はnil。
func priceOf(v any) *float64 {
	if v == nil {
		return nil
	}
	f, ok := validation.ToFloat(v)
	if !ok {
		return nil
	}
	return &f
}

// quantityOf は検証済みの数量値を変換する。未指定または範囲外の場合はnil。
func quantityOf(v any) *int {
	f, ok := v.(float64)
	if !ok || f < 0 || f > validation.MaxQuantity {
		return nil
	}
	q := int(f)
	return &q
}

func isValidID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}
