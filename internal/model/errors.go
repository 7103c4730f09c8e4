// Package model はドメインモデルを定義する。
package model

import "fmt"

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string   // エラーコード
	Message  string   // エラーメッセージ
	Category string   // カテゴリ: auth, validation, item, user, system
	Action   string   // ユーザー向け対処方法
	Errors   []string // バリデーションエラーの詳細（該当時のみ）
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeValidationFailed = "VALIDATION_FAILED"
	ErrCodeInvalidRequest   = "INVALID_REQUEST"
	ErrCodeInvalidID        = "INVALID_ID"
	ErrCodeItemNotFound     = "ITEM_NOT_FOUND"
	ErrCodeUserNotFound     = "USER_NOT_FOUND"
	ErrCodeDuplicateUser    = "DUPLICATE_USER"
	ErrCodeUnknownOwner     = "UNKNOWN_OWNER"
	ErrCodeUnauthorized     = "UNAUTHORIZED"
	ErrCodeInvalidToken     = "INVALID_TOKEN"
	ErrCodeMissingToken     = "MISSING_TOKEN"
	ErrCodeRateLimit        = "RATE_LIMIT_EXCEEDED"
	ErrCodeInternal         = "INTERNAL_ERROR"
)

// NewValidationError はバリデーションエラーを生成する。
// errs には違反した全ルールのメッセージを検出順に格納する。
func NewValidationError(errs []string) *APIError {
	return &APIError{
		Code:     ErrCodeValidationFailed,
		Message:  "Validation failed",
		Category: "validation",
		Action:   "入力内容を確認してください。",
		Errors:   errs,
	}
}

// NewInvalidRequestError はリクエストボディの解析失敗エラーを生成する。
func NewInvalidRequestError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidRequest,
		Message:  "Invalid request body",
		Category: "validation",
		Action:   "JSON形式のリクエストボディを送信してください。",
	}
}

// NewInvalidIDError はID形式不正エラーを生成する。
// resource には "item" や "user" を指定する。
func NewInvalidIDError(resource string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidID,
		Message:  fmt.Sprintf("Invalid %s ID format", resource),
		Category: "validation",
		Action:   "UUID形式のIDを指定してください。",
	}
}

// NewItemNotFoundError はアイテム未検出エラーを生成する。
func NewItemNotFoundError() *APIError {
	return &APIError{
		Code:     ErrCodeItemNotFound,
		Message:  "Item not found",
		Category: "item",
		Action:   "アイテムIDを確認してください。",
	}
}

// NewUserNotFoundError はユーザーが見つからない場合のエラーを生成する。
func NewUserNotFoundError() *APIError {
	return &APIError{
		Code:     ErrCodeUserNotFound,
		Message:  "User not found",
		Category: "user",
		Action:   "ユーザーIDを確認してください。",
	}
}

// NewDuplicateUserError はユーザー名またはメールアドレスの重複エラーを生成する。
func NewDuplicateUserError() *APIError {
	return &APIError{
		Code:     ErrCodeDuplicateUser,
		Message:  "Username or email already exists",
		Category: "user",
		Action:   "別のユーザー名またはメールアドレスを指定してください。",
	}
}

// NewUnknownOwnerError はアイテムの所有者に指定されたユーザーが存在しない場合のエラーを生成する。
func NewUnknownOwnerError() *APIError {
	return &APIError{
		Code:     ErrCodeUnknownOwner,
		Message:  "Specified user does not exist",
		Category: "item",
		Action:   "存在するユーザーIDを指定してください。",
	}
}

// NewUnauthorizedError は認証エラーを生成する。
func NewUnauthorizedError(message string) *APIError {
	return &APIError{
		Code:     ErrCodeUnauthorized,
		Message:  message,
		Category: "auth",
		Action:   "ログインするか、有効なAPIキーを指定してください。",
	}
}

// NewInternalError は永続化層などの内部エラーを生成する。
// Message には下位エラーの内容をそのまま設定する。
func NewInternalError(err error) *APIError {
	return &APIError{
		Code:     ErrCodeInternal,
		Message:  err.Error(),
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	}
}
