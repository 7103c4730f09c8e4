// Package model はドメインモデルを定義する。
package model

import "time"

// Item はユーザーが登録する商品アイテムを表す。
// Price と Quantity は任意項目のため nil を許容する。
type Item struct {
	ID          string
	Name        string
	Description string // サニタイズ済みHTML
	Price       *float64
	Quantity    *int
	UserID      string // 空文字は所有者なし
	CreatedAt   time.Time
}

// ItemUpdate はアイテム更新時の変更内容を表す。
// nil のフィールドは既存値を維持する。
type ItemUpdate struct {
	Name        string
	Description string
	Price       *float64
	Quantity    *int
	UserID      *string
}
