// Package hydration は水分摂取の記録と当日合計を提供する。
package hydration

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/fitjourney/internal/model"
	"github.com/hitoshi/fitjourney/internal/repository"
)

const (
	// DailyGoalCups は1日の目標カップ数。
	DailyGoalCups = 8
	// MaxCupsPerEntry は1回の記録で受け付ける最大カップ数。
	MaxCupsPerEntry = 20
)

// Service は水分摂取記録のサービス層。
type Service struct {
	repo     repository.WaterLogRepository
	location *time.Location
	logger   *slog.Logger
	now      func() time.Time
}

// NewService はServiceの新しいインスタンスを生成する。
// locationは「当日」の区切りに使うタイムゾーンで、nilの場合はUTC。
func NewService(repo repository.WaterLogRepository, location *time.Location, logger *slog.Logger) *Service {
	if location == nil {
		location = time.UTC
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, location: location, logger: logger, now: time.Now}
}

// AddCups は水分摂取を記録する。
func (s *Service) AddCups(ctx context.Context, user model.Identity, cups int) (*model.WaterLog, error) {
	if user.ID == "" {
		return nil, fmt.Errorf("%w: not signed in", model.ErrAuth)
	}
	if cups < 1 || cups > MaxCupsPerEntry {
		return nil, model.NewValidationError("cups must be between 1 and %d, got %d", MaxCupsPerEntry, cups)
	}

	log := &model.WaterLog{UserID: user.ID, UserEmail: user.Email, Cups: cups}
	if _, err := s.repo.Insert(ctx, log); err != nil {
		return nil, fmt.Errorf("水分摂取記録の保存に失敗しました: %w", err)
	}

	s.logger.Info("水分摂取を記録しました",
		slog.String("user_id", user.ID),
		slog.Int("cups", cups),
	)
	return log, nil
}

// Today は当日(設定タイムゾーンの0時以降)の合計と目標を返す。
func (s *Service) Today(ctx context.Context, userID string) (model.MetricReading, error) {
	total, err := s.repo.SumCupsSince(ctx, userID, s.StartOfDay())
	if err != nil {
		return model.MetricReading{Goal: DailyGoalCups}, fmt.Errorf("水分摂取量の取得に失敗しました: %w", err)
	}
	return model.MetricReading{Value: total, Goal: DailyGoalCups}, nil
}

// StartOfDay は設定タイムゾーンにおける当日0時を返す。
func (s *Service) StartOfDay() time.Time {
	now := s.now().In(s.location)
	y, m, d := now.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, s.location)
}
