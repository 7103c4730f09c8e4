// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"errors"

	"github.com/hitoshi/itembox/internal/model"
)

var (
	// ErrNotFound は更新・削除対象のレコードが存在しない場合に返される。
	ErrNotFound = errors.New("record not found")

	// ErrDuplicateUser はユーザー名またはメールアドレスが他のユーザーと重複する場合に返される。
	ErrDuplicateUser = errors.New("username or email already exists")
)

// UserRepository はユーザーデータの永続化インターフェース。
type UserRepository interface {
	// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.User, error)

	// FindByGitHubID はGitHubのユーザーIDでユーザーを検索する。見つからない場合はnilを返す。
	FindByGitHubID(ctx context.Context, githubID string) (*model.User, error)

	// List は全ユーザーを作成日時の昇順で返す。
	List(ctx context.Context) ([]*model.User, error)

	// CreateUnique はユーザー名・メールアドレスの重複を確認した上でユーザーを作成する。
	// 重複がある場合は ErrDuplicateUser を返す。確認と作成は同一の排他区間で行われる。
	CreateUnique(ctx context.Context, user *model.User) error

	// UpdateUnique は自分以外のユーザーとの重複を確認した上でプロフィールを更新する。
	// 対象が存在しない場合は ErrNotFound、重複がある場合は ErrDuplicateUser を返す。
	UpdateUnique(ctx context.Context, user *model.User) error

	// UpsertByGitHubID はGitHub IDをキーにユーザーを作成する。
	// 同一GitHub IDのレコードが同時に作成された場合は既存レコードのプロフィールを更新する。
	// ID と CreatedAt は永続化後の値で上書きされる。
	UpsertByGitHubID(ctx context.Context, user *model.User) error

	// UpdateLogin はログイン時のプロフィール（username, email, avatar_url, last_login）を更新する。
	UpdateLogin(ctx context.Context, user *model.User) error

	// DeleteByID は指定IDのユーザーとそのセッションを削除する。
	// 対象が存在しない場合は ErrNotFound を返す。
	DeleteByID(ctx context.Context, id string) error
}

// SessionRepository はセッションデータの永続化インターフェース。
type SessionRepository interface {
	// Create はセッションを作成する。
	Create(ctx context.Context, session *model.Session) error
	// FindByID は指定IDのセッションを取得する。期限切れの場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Session, error)
	// DeleteByID は指定IDのセッションを削除する。
	DeleteByID(ctx context.Context, id string) error
	// DeleteByUserID は指定ユーザーの全セッションを削除する。
	DeleteByUserID(ctx context.Context, userID string) error
	// DeleteExpired は期限切れのセッションを削除し、削除件数を返す。
	DeleteExpired(ctx context.Context) (int64, error)
}

// APITokenRepository はAPIトークンの永続化インターフェース。
type APITokenRepository interface {
	// Create はトークンレコードを作成する。
	Create(ctx context.Context, token *model.APIToken) error
	// FindByHash はトークンハッシュでレコードを検索する。見つからない場合はnilを返す。
	// 有効期限の判定は呼び出し側で行う。
	FindByHash(ctx context.Context, tokenHash string) (*model.APIToken, error)
}

// ItemRepository はアイテムデータの永続化インターフェース。
type ItemRepository interface {
	// FindByID は指定IDのアイテムを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Item, error)

	// List は全アイテムを作成日時の昇順で返す。
	List(ctx context.Context) ([]*model.Item, error)

	// ListByUserID は指定ユーザーが所有するアイテムを返す。該当なしの場合は空スライスを返す。
	ListByUserID(ctx context.Context, userID string) ([]*model.Item, error)

	// Create はアイテムを作成する。ID と CreatedAt は永続化後の値で上書きされる。
	Create(ctx context.Context, item *model.Item) error

	// Update はアイテムを部分更新し、更新後のレコードを返す。
	// 対象が存在しない場合は ErrNotFound を返す。
	Update(ctx context.Context, id string, update *model.ItemUpdate) (*model.Item, error)

	// DeleteByID は指定IDのアイテムを削除する。対象が存在しない場合は ErrNotFound を返す。
	DeleteByID(ctx context.Context, id string) error
}
