package habitlog

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/fitjourney/internal/model"
)

const (
	// DefaultPageSize は一覧取得の既定件数。
	DefaultPageSize = 20
	// MaxPageSize は一覧取得の最大件数。
	MaxPageSize = 100
)

// Page はListLogsの戻り値。
type Page struct {
	Logs       []*model.ActivityLog
	NextCursor string
	HasMore    bool
}

// ListLogs はユーザーの記録を新しい順に返す。
// limit+1件を取得してHasMoreを判定し、続きがある場合は最後の記録の位置をNextCursorに設定する。
func (s *Service) ListLogs(ctx context.Context, userID, cursorStr string, limit int) (*Page, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: not signed in", model.ErrAuth)
	}
	cursor, err := DecodeCursor(cursorStr)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = DefaultPageSize
	}
	if limit > MaxPageSize {
		limit = MaxPageSize
	}

	logs, err := s.repo.ListByUser(ctx, userID, cursor, limit+1)
	if err != nil {
		return nil, fmt.Errorf("記録一覧の取得に失敗しました: %w", err)
	}

	page := &Page{Logs: logs, HasMore: len(logs) > limit}
	if page.HasMore {
		page.Logs = logs[:limit]
		last := page.Logs[len(page.Logs)-1]
		page.NextCursor = EncodeCursor(model.LogCursor{CreatedAt: last.CreatedAt, ID: last.ID})
	}
	if page.Logs == nil {
		page.Logs = []*model.ActivityLog{}
	}
	return page, nil
}

// GetLog は記録を1件返す。検証のため他のユーザーの記録も参照できる。
func (s *Service) GetLog(ctx context.Context, id string) (*model.ActivityLog, error) {
	log, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("記録の取得に失敗しました: %w", err)
	}
	if log == nil {
		return nil, fmt.Errorf("%w: habit log %s", model.ErrNotFound, id)
	}
	return log, nil
}

// EncodeCursor はカーソルを不透明な文字列に変換する。
func EncodeCursor(c model.LogCursor) string {
	if c.IsZero() {
		return ""
	}
	raw := c.CreatedAt.UTC().Format(time.RFC3339Nano) + "|" + c.ID
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

// DecodeCursor はEncodeCursorの文字列をカーソルに戻す。空文字列はゼロ値(先頭)になる。
// IDがUUIDでないカーソルはErrValidationとして扱う。
func DecodeCursor(s string) (model.LogCursor, error) {
	if s == "" {
		return model.LogCursor{}, nil
	}
	raw, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return model.LogCursor{}, model.NewValidationError("invalid cursor")
	}
	ts, id, ok := strings.Cut(string(raw), "|")
	if !ok {
		return model.LogCursor{}, model.NewValidationError("invalid cursor")
	}
	if _, err := uuid.Parse(id); err != nil {
		return model.LogCursor{}, model.NewValidationError("invalid cursor")
	}
	createdAt, err := time.Parse(time.RFC3339Nano, ts)
	if err != nil {
		return model.LogCursor{}, model.NewValidationError("invalid cursor")
	}
	return model.LogCursor{CreatedAt: createdAt, ID: id}, nil
}
