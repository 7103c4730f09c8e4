package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/itembox/internal/model"
)

const itemColumns = `id, name, description, price, quantity, user_id, created_at`

// PostgresItemRepo はPostgreSQLを使用したアイテムリポジトリ。
type PostgresItemRepo struct {
	db *sql.DB
}

// NewPostgresItemRepo はPostgresItemRepoを生成する。
func NewPostgresItemRepo(db *sql.DB) *PostgresItemRepo {
	return &PostgresItemRepo{db: db}
}

func scanItem(s rowScanner) (*model.Item, error) {
	item := &model.Item{}
	var price sql.NullFloat64
	var quantity sql.NullInt64
	var userID sql.NullString

	if err := s.Scan(
		&item.ID, &item.Name, &item.Description, &price, &quantity, &userID, &item.CreatedAt,
	); err != nil {
		return nil, err
	}

	if price.Valid {
		p := price.Float64
		item.Price = &p
	}
	if quantity.Valid {
		q := int(quantity.Int64)
		item.Quantity = &q
	}
	item.UserID = nullStringValue(userID)
	return item, nil
}

// FindByID は指定IDのアイテムを取得する。見つからない場合はnilを返す。
func (r *PostgresItemRepo) FindByID(ctx context.Context, id string) (*model.Item, error) {
	item, err := scanItem(r.db.QueryRowContext(ctx,
		`SELECT `+itemColumns+` FROM items WHERE id = $1`,
		id,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("アイテムの取得に失敗しました: %w", err)
	}
	return item, nil
}

// List は全アイテムを作成日時の昇順で返す。
func (r *PostgresItemRepo) List(ctx context.Context) ([]*model.Item, error) {
	return r.query(ctx, `SELECT `+itemColumns+` FROM items ORDER BY created_at ASC, id ASC`)
}

// ListByUserID は指定ユーザーが所有するアイテムを返す。
func (r *PostgresItemRepo) ListByUserID(ctx context.Context, userID string) ([]*model.Item, error) {
	return r.query(ctx,
		`SELECT `+itemColumns+` FROM items WHERE user_id = $1 ORDER BY created_at ASC, id ASC`,
		userID,
	)
}

func (r *PostgresItemRepo) query(ctx context.Context, query string, args ...any) ([]*model.Item, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("アイテム一覧の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	items := make([]*model.Item, 0)
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("アイテムのスキャンに失敗しました: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("アイテム一覧の走査に失敗しました: %w", err)
	}
	return items, nil
}

// Create はアイテムを作成する。created_at はサーバー時刻で設定される。
func (r *PostgresItemRepo) Create(ctx context.Context, item *model.Item) error {
	err := r.db.QueryRowContext(ctx,
		`INSERT INTO items (name, description, price, quantity, user_id, created_at)
		 VALUES ($1, $2, $3, $4, $5, now())
		 RETURNING id, created_at`,
		item.Name, item.Description, item.Price, item.Quantity, nullString(item.UserID),
	).Scan(&item.ID, &item.CreatedAt)
	if err != nil {
		return fmt.Errorf("アイテムの作成に失敗しました: %w", err)
	}
	return nil
}

// Update はアイテムを部分更新し、更新後のレコードを返す。
// price, quantity, user_id は nil の場合に既存値を維持する。
func (r *PostgresItemRepo) Update(ctx context.Context, id string, update *model.ItemUpdate) (*model.Item, error) {
	var userID sql.NullString
	if update.UserID != nil {
		userID = nullString(*update.UserID)
	}

	item, err := scanItem(r.db.QueryRowContext(ctx,
		`UPDATE items SET
		    name        = $2,
		    description = $3,
		    price       = COALESCE($4, price),
		    quantity    = COALESCE($5, quantity),
		    user_id     = COALESCE($6::uuid, user_id)
		 WHERE id = $1
		 RETURNING `+itemColumns,
		id, update.Name, update.Description, update.Price, update.Quantity, userID,
	))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("アイテムの更新に失敗しました: %w", err)
	}
	return item, nil
}

// DeleteByID は指定IDのアイテムを削除する。
func (r *PostgresItemRepo) DeleteByID(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM items WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("アイテムの削除に失敗しました: %w", err)
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

// compile-time interface check
var _ ItemRepository = (*PostgresItemRepo)(nil)
