// Package security はアプリケーションのセキュリティ機能を提供する。
//
// ContentSanitizerService はユーザーが登録するアイテムのテキストをサニタイズする。
// 説明文は許可リストベースの限定的なリッチテキスト、名前はプレーンテキストとして扱う。
package security

import (
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// ContentSanitizerService はアイテム入力のサニタイズ機能のインターフェースを定義する。
type ContentSanitizerService interface {
	// SanitizeRichText は説明文などの限定的なHTMLを安全なHTMLに変換する。
	// 許可タグ（p, br, a, ul, ol, li, strong, em, code）のみを通過させる。
	SanitizeRichText(rawHTML string) string

	// SanitizePlainText は全てのタグを除去し、前後の空白を取り除いたテキストを返す。
	// 結果はHTMLエスケープされない（"Fish & Chips" はそのまま残る）。
	SanitizePlainText(raw string) string
}

// contentSanitizer はContentSanitizerServiceの実装。
// bluemondayのポリシーはスレッドセーフなため、インスタンスを共有できる。
type contentSanitizer struct {
	richPolicy  *bluemonday.Policy
	plainPolicy *bluemonday.Policy
}

// NewContentSanitizer はContentSanitizerServiceの新しいインスタンスを生成する。
//   - 許可タグ: p, br, a, ul, ol, li, strong, em, code
//   - aタグ: http/https の絶対URLのみ、target="_blank" と rel="noopener noreferrer" を付与
//   - script, iframe, style, img および on* 属性は除去
func NewContentSanitizer() *contentSanitizer {
	p := bluemonday.NewPolicy()
	p.AllowElements("p", "br", "ul", "ol", "li", "strong", "em", "code")

	p.AllowAttrs("href").OnElements("a")
	p.AllowURLSchemes("http", "https")
	p.AllowRelativeURLs(false)
	p.AddTargetBlankToFullyQualifiedLinks(true)
	p.RequireNoReferrerOnLinks(true)

	return &contentSanitizer{
		richPolicy:  p,
		plainPolicy: bluemonday.StrictPolicy(),
	}
}

// SanitizeRichText は限定的なHTMLを安全なHTMLに変換する。
func (s *contentSanitizer) SanitizeRichText(rawHTML string) string {
	return strings.TrimSpace(s.richPolicy.Sanitize(rawHTML))
}

// SanitizePlainText は全てのタグを除去したテキストを返す。
// StrictPolicyがエスケープした文字実体参照は元の文字に戻す。
func (s *contentSanitizer) SanitizePlainText(raw string) string {
	return strings.TrimSpace(html.UnescapeString(s.plainPolicy.Sanitize(raw)))
}
