// Package model はドメインモデルを定義する。
package model

import (
	"fmt"
	"time"
)

// MaxNoteLength はメモの最大文字数。
const MaxNoteLength = 200

// HabitType は記録対象の習慣カテゴリを表す。
type HabitType string

const (
	HabitSleep      HabitType = "sleep"
	HabitBreakfast  HabitType = "breakfast"
	HabitLunch      HabitType = "lunch"
	HabitExercise   HabitType = "exercise"
	HabitNoSmoking  HabitType = "no_smoking"
	HabitNoDrinking HabitType = "no_drinking"
)

// HabitTypes は定義済みの習慣カテゴリを表示順で返す。
func HabitTypes() []HabitType {
	return []HabitType{
		HabitSleep,
		HabitBreakfast,
		HabitLunch,
		HabitExercise,
		HabitNoSmoking,
		HabitNoDrinking,
	}
}

// Valid は定義済みカテゴリかどうかを返す。
func (h HabitType) Valid() bool {
	for _, t := range HabitTypes() {
		if h == t {
			return true
		}
	}
	return false
}

// ParseHabitType は文字列を習慣カテゴリに変換する。
// 空文字列や未定義のカテゴリはErrValidationを返す。
func ParseHabitType(s string) (HabitType, error) {
	if s == "" {
		return "", NewValidationError("habit type is required")
	}
	h := HabitType(s)
	if !h.Valid() {
		return "", NewValidationError("unknown habit type: %s", s)
	}
	return h, nil
}

// ActivityLog は写真付きの習慣達成記録を表す。
// Verifiedがfalseの間、VerifiedByとVerifiedAtはnil。
type ActivityLog struct {
	ID         string
	UserID     string
	UserEmail  string
	HabitType  HabitType
	Note       string
	PhotoURL   string
	Verified   bool
	VerifiedBy *string
	VerifiedAt *time.Time
	CreatedAt  time.Time
}

// LogCursor は記録一覧のキーセットページネーション位置を表す。
// created_at降順・id降順で、この位置より後ろの記録を取得する。
type LogCursor struct {
	CreatedAt time.Time
	ID        string
}

// IsZero はカーソルが未指定（先頭から取得）かどうかを返す。
func (c LogCursor) IsZero() bool {
	return c.CreatedAt.IsZero() && c.ID == ""
}

// StoredMedia はアップロード済みの検証用写真を表す。
type StoredMedia struct {
	Container   string
	Key         string
	URL         string
	Size        int
	ContentType string
}

// String はログ出力用の表現を返す。
func (m StoredMedia) String() string {
	return fmt.Sprintf("%s/%s (%d bytes)", m.Container, m.Key, m.Size)
}
