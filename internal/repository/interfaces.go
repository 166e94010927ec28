// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"time"

	"github.com/hitoshi/fitjourney/internal/model"
)

// ActivityLogRepository は習慣達成記録（habit_logs）の永続化インターフェース。
// 記録は作成後に削除されず、検証は最大1回だけ行われる。
type ActivityLogRepository interface {
	// Insert は記録を作成し、採番されたIDを返す。
	// habit_typeまたはphoto_urlが空の場合はSQLを発行せずにErrValidationを返す。
	// verifiedは常にfalse、verified_byはNULLで作成される。
	Insert(ctx context.Context, log *model.ActivityLog) (string, error)

	// FindByID は指定IDの記録を取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.ActivityLog, error)

	// ListByUser はユーザーの記録をcreated_at降順・id降順で取得する。
	// cursorがゼロ値の場合は先頭から取得する。
	ListByUser(ctx context.Context, userID string, cursor model.LogCursor, limit int) ([]*model.ActivityLog, error)

	// MarkVerified は未検証の記録を検証済みにし、更新後の記録を返す。
	// 既に検証済みの場合は何も変更せず現在の記録を返し、changedはfalseになる。
	// 存在しないIDの場合はErrNotFoundを返す。
	MarkVerified(ctx context.Context, id, verifierID string) (log *model.ActivityLog, changed bool, err error)

	// ReferencedPhotoURLs は指定URLのうち、いずれかの記録が参照しているものを返す。
	ReferencedPhotoURLs(ctx context.Context, urls []string) (map[string]bool, error)
}

// WaterLogRepository は水分摂取記録（water_logs）の永続化インターフェース。
type WaterLogRepository interface {
	// Insert は記録を作成し、採番されたIDを返す。
	Insert(ctx context.Context, log *model.WaterLog) (string, error)

	// SumCupsSince は指定時刻以降に記録されたカップ数の合計を返す。
	SumCupsSince(ctx context.Context, userID string, since time.Time) (int, error)
}

// SessionCache はクライアント側でセッションを端末に保持するキャッシュ。
// 固定キーに1件だけ保存する。
type SessionCache interface {
	// Load は保存済みのセッションを返す。保存されていない場合はnilを返す。
	Load(ctx context.Context) (*model.Session, error)
	// Save はセッションを保存する。既存のセッションは上書きされる。
	Save(ctx context.Context, session *model.Session) error
	// Clear は保存済みのセッションを削除する。
	Clear(ctx context.Context) error
}
