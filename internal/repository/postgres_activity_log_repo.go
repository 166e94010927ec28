package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/hitoshi/fitjourney/internal/model"
)

const activityLogColumns = `id, user_id, user_email, habit_type, note, photo_url,
		        verified, verified_by, verified_at, created_at`

// PostgresActivityLogRepo はPostgreSQLを使用した習慣達成記録リポジトリ。
type PostgresActivityLogRepo struct {
	db *sql.DB
}

// NewPostgresActivityLogRepo はPostgresActivityLogRepoを生成する。
func NewPostgresActivityLogRepo(db *sql.DB) *PostgresActivityLogRepo {
	return &PostgresActivityLogRepo{db: db}
}

// Insert は記録を作成し、採番されたIDを返す。
func (r *PostgresActivityLogRepo) Insert(ctx context.Context, log *model.ActivityLog) (string, error) {
	if log.HabitType == "" {
		return "", model.NewValidationError("habit type is required")
	}
	if log.PhotoURL == "" {
		return "", model.NewValidationError("photo url is required")
	}

	id := uuid.NewString()
	var createdAt sql.NullTime
	if !log.CreatedAt.IsZero() {
		createdAt = sql.NullTime{Time: log.CreatedAt, Valid: true}
	}

	err := r.db.QueryRowContext(ctx,
		`INSERT INTO habit_logs (id, user_id, user_email, habit_type, note, photo_url, verified, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, false, COALESCE($7, now()))
		 RETURNING created_at`,
		id, log.UserID, log.UserEmail, string(log.HabitType), nullString(log.Note), log.PhotoURL, createdAt,
	).Scan(&log.CreatedAt)
	if err != nil {
		return "", fmt.Errorf("failed to insert habit log: %w", err)
	}

	log.ID = id
	log.Verified = false
	log.VerifiedBy = nil
	log.VerifiedAt = nil
	return id, nil
}

// FindByID は指定IDの記録を取得する。見つからない場合はnilを返す。
func (r *PostgresActivityLogRepo) FindByID(ctx context.Context, id string) (*model.ActivityLog, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, nil
	}

	log, err := scanActivityLog(r.db.QueryRowContext(ctx,
		`SELECT `+activityLogColumns+`
		 FROM habit_logs WHERE id = $1`,
		id,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find habit log: %w", err)
	}
	return log, nil
}

// ListByUser はユーザーの記録をcreated_at降順・id降順で取得する。
// (created_at, id)のキーセットで続きを取得するため、途中で記録が追加されても重複や欠落が起きない。
func (r *PostgresActivityLogRepo) ListByUser(ctx context.Context, userID string, cursor model.LogCursor, limit int) ([]*model.ActivityLog, error) {
	query := `SELECT ` + activityLogColumns + `
		 FROM habit_logs
		 WHERE user_id = $1`
	args := []interface{}{userID}
	argIndex := 2

	if !cursor.IsZero() {
		query += fmt.Sprintf(" AND (created_at, id) < ($%d, $%d)", argIndex, argIndex+1)
		args = append(args, cursor.CreatedAt, cursor.ID)
		argIndex += 2
	}

	query += fmt.Sprintf(" ORDER BY created_at DESC, id DESC LIMIT $%d", argIndex)
	args = append(args, limit)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list habit logs: %w", err)
	}
	defer rows.Close()

	var logs []*model.ActivityLog
	for rows.Next() {
		log, err := scanActivityLog(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan habit log: %w", err)
		}
		logs = append(logs, log)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate habit logs: %w", err)
	}

	return logs, nil
}

// MarkVerified は未検証の記録を検証済みにし、更新後の記録を返す。
// 更新はverified=falseの行に対してのみ行うため、同時に検証されても最初の検証者が保持される。
func (r *PostgresActivityLogRepo) MarkVerified(ctx context.Context, id, verifierID string) (*model.ActivityLog, bool, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, false, fmt.Errorf("habit log %q: %w", id, model.ErrNotFound)
	}

	log, err := scanActivityLog(r.db.QueryRowContext(ctx,
		`UPDATE habit_logs
		 SET verified = true, verified_by = $2, verified_at = now()
		 WHERE id = $1 AND verified = false
		 RETURNING `+activityLogColumns,
		id, verifierID,
	))
	if err == nil {
		return log, true, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, false, fmt.Errorf("failed to mark habit log verified: %w", err)
	}

	// 更新対象がない場合は、存在しないか既に検証済み
	existing, err := r.FindByID(ctx, id)
	if err != nil {
		return nil, false, err
	}
	if existing == nil {
		return nil, false, fmt.Errorf("habit log %q: %w", id, model.ErrNotFound)
	}
	return existing, false, nil
}

// ReferencedPhotoURLs は指定URLのうち、いずれかの記録が参照しているものを返す。
func (r *PostgresActivityLogRepo) ReferencedPhotoURLs(ctx context.Context, urls []string) (map[string]bool, error) {
	referenced := make(map[string]bool)
	if len(urls) == 0 {
		return referenced, nil
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT DISTINCT photo_url FROM habit_logs WHERE photo_url = ANY($1)`,
		pq.Array(urls),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query referenced photo urls: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var url string
		if err := rows.Scan(&url); err != nil {
			return nil, fmt.Errorf("failed to scan photo url: %w", err)
		}
		referenced[url] = true
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate photo urls: %w", err)
	}

	return referenced, nil
}

// rowScanner は*sql.Rowと*sql.Rowsの共通インターフェース。
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanActivityLog(row rowScanner) (*model.ActivityLog, error) {
	log := &model.ActivityLog{}
	var habitType string
	var note, verifiedBy sql.NullString
	var verifiedAt sql.NullTime

	if err := row.Scan(
		&log.ID, &log.UserID, &log.UserEmail, &habitType, &note, &log.PhotoURL,
		&log.Verified, &verifiedBy, &verifiedAt, &log.CreatedAt,
	); err != nil {
		return nil, err
	}

	log.HabitType = model.HabitType(habitType)
	log.Note = nullStringValue(note)
	if verifiedBy.Valid {
		log.VerifiedBy = &verifiedBy.String
	}
	if verifiedAt.Valid {
		log.VerifiedAt = &verifiedAt.Time
	}
	return log, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullStringValue(ns sql.NullString) string {
	if ns.Valid {
		return ns.String
	}
	return ""
}

// compile-time interface check
var _ ActivityLogRepository = (*PostgresActivityLogRepo)(nil)
