// Package model はドメインモデルを定義する。
package model

import (
	"strings"
	"time"
)

// Identity は認証済みユーザーの参照を表す。
// IDはIDプロバイダが発行する不変のsubject ID、Emailは変更されうる属性。
type Identity struct {
	ID    string
	Email string
}

// LocalPart はメールアドレスの@より前の部分を返す。
func (i Identity) LocalPart() string {
	local, _, _ := strings.Cut(i.Email, "@")
	return local
}

// IsZero はIdentityが未設定かどうかを返す。
func (i Identity) IsZero() bool {
	return i.ID == "" && i.Email == ""
}

// Profile はサインアップ時にIDプロバイダへ渡すユーザーメタデータ。
type Profile struct {
	FullName  string
	AvatarURL string
}

// Session はIdentityが認証済みであることを示すトークン一式。
type Session struct {
	AccessToken  string
	RefreshToken string
	TokenType    string
	ExpiresAt    time.Time
	User         Identity
}

// Expired は指定時刻においてセッションが期限切れかどうかを返す。
func (s *Session) Expired(now time.Time) bool {
	return !s.ExpiresAt.After(now)
}

// NeedsRefresh は期限切れまでの残り時間がmargin以下かどうかを返す。
func (s *Session) NeedsRefresh(now time.Time, margin time.Duration) bool {
	return !s.ExpiresAt.After(now.Add(margin))
}
