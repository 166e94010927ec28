package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hitoshi/fitjourney/internal/model"
)

// SessionCacheKey はセッションを保存する固定キー。
const SessionCacheKey = "fitjourney.auth.token"

// cachedSession は端末に保存するセッションの形式。
type cachedSession struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	TokenType    string    `json:"token_type"`
	ExpiresAt    time.Time `json:"expires_at"`
	UserID       string    `json:"user_id"`
	UserEmail    string    `json:"user_email"`
}

// SQLiteSessionCache はSQLiteのキー・バリューテーブルにセッションを保存するSessionCache。
type SQLiteSessionCache struct {
	db *sql.DB
}

// NewSQLiteSessionCache はSQLiteSessionCacheを生成し、必要なテーブルを作成する。
func NewSQLiteSessionCache(ctx context.Context, db *sql.DB) (*SQLiteSessionCache, error) {
	_, err := db.ExecContext(ctx,
		`CREATE TABLE IF NOT EXISTS kv_store (
			key        TEXT PRIMARY KEY,
			value      TEXT NOT NULL,
			updated_at INTEGER NOT NULL
		)`)
	if err != nil {
		return nil, fmt.Errorf("failed to create kv_store table: %w", err)
	}
	return &SQLiteSessionCache{db: db}, nil
}

// Load は保存済みのセッションを返す。保存されていない場合はnilを返す。
func (c *SQLiteSessionCache) Load(ctx context.Context) (*model.Session, error) {
	var value string
	err := c.db.QueryRowContext(ctx,
		`SELECT value FROM kv_store WHERE key = ?`,
		SessionCacheKey,
	).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load cached session: %w", err)
	}

	var cs cachedSession
	if err := json.Unmarshal([]byte(value), &cs); err != nil {
		return nil, fmt.Errorf("failed to decode cached session: %w", err)
	}

	return &model.Session{
		AccessToken:  cs.AccessToken,
		RefreshToken: cs.RefreshToken,
		TokenType:    cs.TokenType,
		ExpiresAt:    cs.ExpiresAt,
		User:         model.Identity{ID: cs.UserID, Email: cs.UserEmail},
	}, nil
}

// Save はセッションを保存する。既存のセッションは上書きされる。
func (c *SQLiteSessionCache) Save(ctx context.Context, session *model.Session) error {
	value, err := json.Marshal(cachedSession{
		AccessToken:  session.AccessToken,
		RefreshToken: session.RefreshToken,
		TokenType:    session.TokenType,
		ExpiresAt:    session.ExpiresAt,
		UserID:       session.User.ID,
		UserEmail:    session.User.Email,
	})
	if err != nil {
		return fmt.Errorf("failed to encode session: %w", err)
	}

	_, err = c.db.ExecContext(ctx,
		`INSERT INTO kv_store (key, value, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		SessionCacheKey, string(value), time.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}
	return nil
}

// Clear は保存済みのセッションを削除する。保存されていない場合も成功とする。
func (c *SQLiteSessionCache) Clear(ctx context.Context) error {
	if _, err := c.db.ExecContext(ctx, `DELETE FROM kv_store WHERE key = ?`, SessionCacheKey); err != nil {
		return fmt.Errorf("failed to clear session: %w", err)
	}
	return nil
}

// compile-time interface check
var _ SessionCache = (*SQLiteSessionCache)(nil)
