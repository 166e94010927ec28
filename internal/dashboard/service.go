// Package dashboard は当日の活動サマリーを集計する。
package dashboard

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/hitoshi/fitjourney/internal/hydration"
	"github.com/hitoshi/fitjourney/internal/metrics"
	"github.com/hitoshi/fitjourney/internal/model"
)

// 指標名
const (
	SourceSteps         = "steps"
	SourceCalories      = "calories"
	SourceActiveMinutes = "active_minutes"
	SourceWater         = "water"
)

// 各指標の1日の目標
const (
	StepsGoal         = 10000
	CaloriesGoal      = 500
	ActiveMinutesGoal = 60
)

// Provider は1つの指標の当日の値を返す。
type Provider interface {
	Read(ctx context.Context, user model.Identity) (model.MetricReading, error)
}

// ProviderFunc は関数をProviderとして扱うアダプタ。
type ProviderFunc func(ctx context.Context, user model.Identity) (model.MetricReading, error)

// Read はfを呼び出す。
func (f ProviderFunc) Read(ctx context.Context, user model.Identity) (model.MetricReading, error) {
	return f(ctx, user)
}

// Providers はダッシュボードの4指標の取得元。
type Providers struct {
	Steps         Provider
	Calories      Provider
	ActiveMinutes Provider
	Water         Provider
}

// Service は4指標を並行に取得してサマリーを作る。
type Service struct {
	providers Providers
	partial   bool
	metrics   metrics.MetricsCollector
	logger    *slog.Logger
}

// NewService はServiceの新しいインスタンスを生成する。
// partialResultsがtrueの場合、取得に失敗した指標を0として扱いDegradedに記録する。
func NewService(providers Providers, partialResults bool, collector metrics.MetricsCollector, logger *slog.Logger) *Service {
	if collector == nil {
		collector = metrics.Nop{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{providers: providers, partial: partialResults, metrics: collector, logger: logger}
}

type sourceRead struct {
	name     string
	provider Provider
	goal     int
	dst      *model.MetricReading
}

// Summary は4指標を並行に取得し、全ての取得を待ってからサマリーを返す。
// いずれかが失敗した場合、部分結果モードでなければエラーを返す。
func (s *Service) Summary(ctx context.Context, user model.Identity) (*model.ActivitySummary, error) {
	summary := &model.ActivitySummary{}
	reads := []sourceRead{
		{SourceSteps, s.providers.Steps, StepsGoal, &summary.Steps},
		{SourceCalories, s.providers.Calories, CaloriesGoal, &summary.Calories},
		{SourceActiveMinutes, s.providers.ActiveMinutes, ActiveMinutesGoal, &summary.ActiveMinutes},
		{SourceWater, s.providers.Water, hydration.DailyGoalCups, &summary.WaterCups},
	}

	var (
		mu       sync.Mutex
		degraded = make(map[string]bool)
	)

	g, gctx := errgroup.WithContext(ctx)
	if s.partial {
		// 部分結果モードでは他の指標の取得を中断しない
		gctx = ctx
	}
	for _, r := range reads {
		g.Go(func() error {
			if r.provider == nil {
				*r.dst = model.MetricReading{Goal: r.goal}
				return nil
			}
			reading, err := r.provider.Read(gctx, user)
			if err == nil {
				*r.dst = reading
				return nil
			}

			s.metrics.RecordDashboardSourceFailure(r.name)
			s.logger.Warn("指標の取得に失敗しました",
				slog.String("user_id", user.ID),
				slog.String("source", r.name),
				slog.String("error", err.Error()),
			)
			if !s.partial {
				return fmt.Errorf("failed to read %s: %w", r.name, err)
			}
			goal := reading.Goal
			if goal == 0 {
				goal = r.goal
			}
			*r.dst = model.MetricReading{Goal: goal}
			mu.Lock()
			degraded[r.name] = true
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	for _, r := range reads {
		if degraded[r.name] {
			summary.Degraded = append(summary.Degraded, r.name)
		}
	}
	summary.DailyGoal = DailyGoalPercentage(summary.Steps, summary.Calories, summary.ActiveMinutes, summary.WaterCups)
	return summary, nil
}

// DailyGoalPercentage は各指標の達成率(上限100)の平均を四捨五入して返す。
func DailyGoalPercentage(readings ...model.MetricReading) int {
	if len(readings) == 0 {
		return 0
	}
	var sum float64
	for _, r := range readings {
		sum += r.Percent()
	}
	return int(math.Round(sum / float64(len(readings))))
}
