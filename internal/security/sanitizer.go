// Package security はアプリケーションのセキュリティ機能を提供する。
//
// 求人本文のHTMLとプロフィールの自由記述は利用者が入力するか外部フィードから
// 取り込まれるため、保存前に必ずSanitizerを通す。
package security

import (
	"html"
	"strings"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"
)

// Sanitizer は入力テキストを保存可能な形に無害化する。
type Sanitizer interface {
	// SanitizeHTML は求人本文向けに限定したタグのみを残す。
	// 許可タグ: p, br, ul, ol, li, h3, h4, strong, em, a(href)
	// aタグにはtarget="_blank"とrel(noopener, noreferrer)が付与される。
	SanitizeHTML(rawHTML string) string

	// SanitizeText は全てのタグを取り除いたプレーンテキストを返す。
	// 前後の空白は除去し、maxRunesを超える部分は切り捨てる（0は無制限）。
	SanitizeText(raw string, maxRunes int) string
}

type sanitizer struct {
	rich   *bluemonday.Policy
	strict *bluemonday.Policy
}

// NewSanitizer は求人本文用とプレーンテキスト用のポリシーを構築する。
func NewSanitizer() *sanitizer {
	rich := bluemonday.NewPolicy()
	rich.AllowElements("p", "br", "ul", "ol", "li", "h3", "h4", "strong", "em")
	rich.AllowAttrs("href").OnElements("a")
	rich.AllowStandardURLs()
	rich.AllowRelativeURLs(false)
	rich.AddTargetBlankToFullyQualifiedLinks(true)
	rich.RequireNoReferrerOnLinks(true)

	return &sanitizer{
		rich:   rich,
		strict: bluemonday.StrictPolicy(),
	}
}

func (s *sanitizer) SanitizeHTML(rawHTML string) string {
	return strings.TrimSpace(s.rich.Sanitize(rawHTML))
}

func (s *sanitizer) SanitizeText(raw string, maxRunes int) string {
	// StrictPolicyは&等をエスケープするため、保存用に元へ戻す
	text := html.UnescapeString(s.strict.Sanitize(raw))
	text = strings.TrimSpace(text)
	if maxRunes > 0 && utf8.RuneCountInString(text) > maxRunes {
		text = string([]rune(text)[:maxRunes])
	}
	return text
}
