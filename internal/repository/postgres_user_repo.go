package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/itembox/internal/model"
)

const userColumns = `id, github_id, username, display_name, first_name, last_name,
	email, avatar_url, created_at, last_login, updated_at`

// ユーザー名・メールアドレスの重複確認を直列化するアドバイザリロックのキー
const userUniquenessLockKey = `hashtext('users.uniqueness')`

// rowScanner は *sql.Row と *sql.Rows の共通インターフェース。
type rowScanner interface {
	Scan(dest ...any) error
}

// PostgresUserRepo はPostgreSQLを使用したユーザーリポジトリ。
type PostgresUserRepo struct {
	db *sql.DB
}

// NewPostgresUserRepo はPostgresUserRepoを生成する。
func NewPostgresUserRepo(db *sql.DB) *PostgresUserRepo {
	return &PostgresUserRepo{db: db}
}

func scanUser(s rowScanner) (*model.User, error) {
	user := &model.User{}
	var githubID, email, avatarURL sql.NullString
	var lastLogin, updatedAt sql.NullTime

	if err := s.Scan(
		&user.ID, &githubID, &user.Username, &user.DisplayName, &user.FirstName, &user.LastName,
		&email, &avatarURL, &user.CreatedAt, &lastLogin, &updatedAt,
	); err != nil {
		return nil, err
	}

	user.GitHubID = nullStringValue(githubID)
	user.Email = nullStringValue(email)
	user.AvatarURL = nullStringValue(avatarURL)
	user.LastLogin = nullTimePtr(lastLogin)
	user.UpdatedAt = nullTimePtr(updatedAt)
	return user, nil
}

// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
func (r *PostgresUserRepo) FindByID(ctx context.Context, id string) (*model.User, error) {
	user, err := scanUser(r.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = $1`,
		id,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find user by ID: %w", err)
	}
	return user, nil
}

// FindByGitHubID はGitHubのユーザーIDでユーザーを検索する。見つからない場合はnilを返す。
func (r *PostgresUserRepo) FindByGitHubID(ctx context.Context, githubID string) (*model.User, error) {
	user, err := scanUser(r.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE github_id = $1`,
		githubID,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find user by GitHub ID: %w", err)
	}
	return user, nil
}

// List は全ユーザーを作成日時の昇順で返す。
func (r *PostgresUserRepo) List(ctx context.Context) ([]*model.User, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+userColumns+` FROM users ORDER BY created_at ASC, id ASC`,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	defer rows.Close()

	users := make([]*model.User, 0)
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate users: %w", err)
	}
	return users, nil
}

// CreateUnique はユーザー名・メールアドレスの重複を確認した上でユーザーを作成する。
// 確認と挿入の間に他の直接作成・更新が割り込まないよう、トランザクション単位のアドバイザリロックを取得する。
func (r *PostgresUserRepo) CreateUnique(ctx context.Context, user *model.User) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(`+userUniquenessLockKey+`)`); err != nil {
		return fmt.Errorf("failed to acquire uniqueness lock: %w", err)
	}

	var exists bool
	err = tx.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM users WHERE username = $1 OR email = $2)`,
		user.Username, user.Email,
	).Scan(&exists)
	if err != nil {
		return fmt.Errorf("failed to check user uniqueness: %w", err)
	}
	if exists {
		return ErrDuplicateUser
	}

	err = tx.QueryRowContext(ctx,
		`INSERT INTO users (username, display_name, first_name, last_name, email, avatar_url, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, now())
		 RETURNING id, created_at`,
		user.Username, user.DisplayName, user.FirstName, user.LastName,
		nullString(user.Email), nullString(user.AvatarURL),
	).Scan(&user.ID, &user.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert user: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// UpdateUnique は自分以外のユーザーとの重複を確認した上でプロフィールを更新する。
// 空文字の任意項目（display_name, first_name, last_name, avatar_url）は既存値を維持する。
// 成功時は user を更新後のレコードで上書きする。
func (r *PostgresUserRepo) UpdateUnique(ctx context.Context, user *model.User) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(`+userUniquenessLockKey+`)`); err != nil {
		return fmt.Errorf("failed to acquire uniqueness lock: %w", err)
	}

	var exists bool
	err = tx.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM users WHERE id <> $1 AND (username = $2 OR email = $3))`,
		user.ID, user.Username, user.Email,
	).Scan(&exists)
	if err != nil {
		return fmt.Errorf("failed to check user uniqueness: %w", err)
	}
	if exists {
		return ErrDuplicateUser
	}

	updated, err := scanUser(tx.QueryRowContext(ctx,
		`UPDATE users SET
		    username     = $2,
		    email        = $3,
		    display_name = COALESCE(NULLIF($4, ''), display_name),
		    first_name   = COALESCE(NULLIF($5, ''), first_name),
		    last_name    = COALESCE(NULLIF($6, ''), last_name),
		    avatar_url   = COALESCE(NULLIF($7, ''), avatar_url),
		    updated_at   = now()
		 WHERE id = $1
		 RETURNING `+userColumns,
		user.ID, user.Username, user.Email,
		user.DisplayName, user.FirstName, user.LastName, user.AvatarURL,
	))
	if err == sql.ErrNoRows {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to update user: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	*user = *updated
	return nil
}

// UpsertByGitHubID はGitHub IDをキーにユーザーを作成する。
// 同時ログインで先に作成されていた場合はプロフィールとlast_loginを更新し、既存レコードを返す。
func (r *PostgresUserRepo) UpsertByGitHubID(ctx context.Context, user *model.User) error {
	stored, err := scanUser(r.db.QueryRowContext(ctx,
		`INSERT INTO users (github_id, username, display_name, first_name, last_name,
		                    email, avatar_url, created_at, last_login)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, now(), $8)
		 ON CONFLICT (github_id) WHERE github_id IS NOT NULL DO UPDATE SET
		    username   = EXCLUDED.username,
		    email      = COALESCE(EXCLUDED.email, users.email),
		    avatar_url = COALESCE(EXCLUDED.avatar_url, users.avatar_url),
		    last_login = EXCLUDED.last_login
		 RETURNING `+userColumns,
		user.GitHubID, user.Username, user.DisplayName, user.FirstName, user.LastName,
		nullString(user.Email), nullString(user.AvatarURL), user.LastLogin,
	))
	if err != nil {
		return fmt.Errorf("failed to upsert user: %w", err)
	}
	*user = *stored
	return nil
}

// UpdateLogin はログイン時のプロフィール（username, email, avatar_url, last_login）を更新する。
func (r *PostgresUserRepo) UpdateLogin(ctx context.Context, user *model.User) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE users SET username = $2, email = $3, avatar_url = $4, last_login = $5
		 WHERE id = $1`,
		user.ID, user.Username, nullString(user.Email), nullString(user.AvatarURL), user.LastLogin,
	)
	if err != nil {
		return fmt.Errorf("failed to update user login: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteByID は指定IDのユーザーとそのセッションを同一トランザクションで削除する。
// 所有アイテムとAPIトークンは削除しない。
func (r *PostgresUserRepo) DeleteByID(ctx context.Context, id string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, `DELETE FROM users WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete user: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM sessions WHERE data->>'userId' = $1`, id); err != nil {
		return fmt.Errorf("failed to delete user sessions: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// compile-time interface check
var _ UserRepository = (*PostgresUserRepo)(nil)
