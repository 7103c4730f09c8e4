// Package model はドメインモデルを定義する。
package model

import "time"

// User はサービス利用ユーザーを表す。
// GitHubIDはOAuthログインで作成されたユーザーのみ保持し、直接作成されたユーザーでは空になる。
type User struct {
	ID          string
	GitHubID    string
	Username    string
	DisplayName string
	FirstName   string
	LastName    string
	Email       string
	AvatarURL   string
	CreatedAt   time.Time
	LastLogin   *time.Time
	UpdatedAt   *time.Time
}

// OAuthProfile はIdPから取得したユーザープロフィールを表す。
// Emails と Photos は IdP が返した順序のまま保持し、先頭要素を代表値として扱う。
type OAuthProfile struct {
	ProviderUserID string
	Username       string
	DisplayName    string
	Emails         []string
	Photos         []string
}

// PrimaryEmail は先頭のメールアドレスを返す。存在しない場合は空文字。
func (p *OAuthProfile) PrimaryEmail() string {
	if len(p.Emails) == 0 {
		return ""
	}
	return p.Emails[0]
}

// PrimaryPhoto は先頭のアバターURLを返す。存在しない場合は空文字。
func (p *OAuthProfile) PrimaryPhoto() string {
	if len(p.Photos) == 0 {
		return ""
	}
	return p.Photos[0]
}

// Session はユーザーのログインセッションを表す。
// UserID はセッションペイロードに保存された値であり、形式の妥当性は保証されない。
type Session struct {
	ID        string
	UserID    string
	ExpiresAt time.Time
	CreatedAt time.Time
}

// APIToken は発行済みAPIトークンの永続化レコードを表す。
// トークン値そのものは保存せず、SHA-256ハッシュのみを保持する。
type APIToken struct {
	ID        string
	UserID    string
	TokenHash string
	CreatedAt time.Time
	ExpiresAt time.Time
}

// IsValidAt は指定時刻においてトークンが有効かどうかを返す。
// 有効期限ちょうどの時刻は有効として扱う。
func (t *APIToken) IsValidAt(now time.Time) bool {
	return !now.After(t.ExpiresAt)
}
