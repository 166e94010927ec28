package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/fitjourney/internal/model"
)

// PostgresWaterLogRepo はPostgreSQLを使用した水分摂取記録リポジトリ。
type PostgresWaterLogRepo struct {
	db *sql.DB
}

// NewPostgresWaterLogRepo はPostgresWaterLogRepoを生成する。
func NewPostgresWaterLogRepo(db *sql.DB) *PostgresWaterLogRepo {
	return &PostgresWaterLogRepo{db: db}
}

// Insert は記録を作成し、採番されたIDを返す。
// カップ数が1未満の場合はSQLを発行せずにErrValidationを返す。
func (r *PostgresWaterLogRepo) Insert(ctx context.Context, log *model.WaterLog) (string, error) {
	if log.Cups < 1 {
		return "", model.NewValidationError("cups must be positive, got %d", log.Cups)
	}

	id := uuid.NewString()
	err := r.db.QueryRowContext(ctx,
		`INSERT INTO water_logs (id, user_id, user_email, cups)
		 VALUES ($1, $2, $3, $4)
		 RETURNING created_at`,
		id, log.UserID, log.UserEmail, log.Cups,
	).Scan(&log.CreatedAt)
	if err != nil {
		return "", fmt.Errorf("failed to insert water log: %w", err)
	}

	log.ID = id
	return id, nil
}

// SumCupsSince は指定時刻以降に記録されたカップ数の合計を返す。記録がない場合は0。
func (r *PostgresWaterLogRepo) SumCupsSince(ctx context.Context, userID string, since time.Time) (int, error) {
	var total int
	err := r.db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(cups), 0)
		 FROM water_logs
		 WHERE user_id = $1 AND created_at >= $2`,
		userID, since,
	).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("failed to sum water logs: %w", err)
	}
	return total, nil
}

// compile-time interface check
var _ WaterLogRepository = (*PostgresWaterLogRepo)(nil)
