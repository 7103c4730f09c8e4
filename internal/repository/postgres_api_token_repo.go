package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/itembox/internal/model"
)

// PostgresAPITokenRepo はPostgreSQLを使用したAPIトークンリポジトリ。
type PostgresAPITokenRepo struct {
	db *sql.DB
}

// NewPostgresAPITokenRepo はPostgresAPITokenRepoを生成する。
func NewPostgresAPITokenRepo(db *sql.DB) *PostgresAPITokenRepo {
	return &PostgresAPITokenRepo{db: db}
}

// Create はトークンレコードを作成する。IDは永続化後の値で上書きされる。
func (r *PostgresAPITokenRepo) Create(ctx context.Context, token *model.APIToken) error {
	err := r.db.QueryRowContext(ctx,
		`INSERT INTO api_tokens (user_id, token_hash, created_at, expires_at)
		 VALUES ($1, $2, $3, $4)
		 RETURNING id`,
		token.UserID, token.TokenHash, token.CreatedAt, token.ExpiresAt,
	).Scan(&token.ID)
	if err != nil {
		return fmt.Errorf("failed to create api token: %w", err)
	}
	return nil
}

// FindByHash はトークンハッシュでレコードを検索する。見つからない場合はnilを返す。
func (r *PostgresAPITokenRepo) FindByHash(ctx context.Context, tokenHash string) (*model.APIToken, error) {
	token := &model.APIToken{}
	err := r.db.QueryRowContext(ctx,
		`SELECT id, user_id, token_hash, created_at, expires_at
		 FROM api_tokens WHERE token_hash = $1`,
		tokenHash,
	).Scan(&token.ID, &token.UserID, &token.TokenHash, &token.CreatedAt, &token.ExpiresAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find api token: %w", err)
	}
	return token, nil
}

// compile-time interface check
var _ APITokenRepository = (*PostgresAPITokenRepo)(nil)
