package security

import (
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// NoteSanitizer は活動記録のメモから全てのマークアップを除去する。
// メモは端末でプレーンテキストとして表示されるため、タグは一切残さない。
type NoteSanitizer struct {
	policy *bluemonday.Policy
}

// NewNoteSanitizer はNoteSanitizerを生成する。
func NewNoteSanitizer() *NoteSanitizer {
	return &NoteSanitizer{policy: bluemonday.StrictPolicy()}
}

// Sanitize はタグを除去したプレーンテキストを返す。
// bluemondayがエスケープした文字実体参照は元の文字に戻し、前後の空白を除去する。
func (s *NoteSanitizer) Sanitize(note string) string {
	if note == "" {
		return ""
	}
	cleaned := s.policy.Sanitize(note)
	return strings.TrimSpace(html.UnescapeString(cleaned))
}
