package dashboard

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math/rand/v2"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hitoshi/fitjourney/internal/model"
)

var user = model.Identity{ID: "user-1", Email: "a@x.com"}

func fixed(value, goal int) Provider {
	return ProviderFunc(func(context.Context, model.Identity) (model.MetricReading, error) {
		return model.MetricReading{Value: value, Goal: goal}, nil
	})
}

func failing(err error) Provider {
	return ProviderFunc(func(context.Context, model.Identity) (model.MetricReading, error) {
		return model.MetricReading{}, err
	})
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestDailyGoalPercentage(t *testing.T) {
	// 50% + 100%(上限) + 50% + 25% = 225 / 4 = 56.25
	got := DailyGoalPercentage(
		model.MetricReading{Value: 5000, Goal: 10000},
		model.MetricReading{Value: 900, Goal: 500},
		model.MetricReading{Value: 30, Goal: 60},
		model.MetricReading{Value: 2, Goal: 8},
	)
	assert.Equal(t, 56, got)

	// 62.5 は切り上げ
	assert.Equal(t, 63, DailyGoalPercentage(
		model.MetricReading{Value: 1, Goal: 1},
		model.MetricReading{Value: 1, Goal: 4},
	))
	assert.Equal(t, 0, DailyGoalPercentage())
	assert.Equal(t, 0, DailyGoalPercentage(model.MetricReading{Value: 10, Goal: 0}))
}

func TestSummary_AllSources(t *testing.T) {
	svc := NewService(Providers{
		Steps:         fixed(10000, StepsGoal),
		Calories:      fixed(250, CaloriesGoal),
		ActiveMinutes: fixed(60, ActiveMinutesGoal),
		Water:         fixed(4, 8),
	}, false, nil, discardLogger())

	summary, err := svc.Summary(context.Background(), user)
	require.NoError(t, err)

	assert.Equal(t, 10000, summary.Steps.Value)
	assert.Equal(t, 250, summary.Calories.Value)
	assert.Equal(t, 60, summary.ActiveMinutes.Value)
	assert.Equal(t, 4, summary.WaterCups.Value)
	assert.Equal(t, 75, summary.DailyGoal) // (100+50+100+50)/4
	assert.Empty(t, summary.Degraded)
}

func TestSummary_ReadsConcurrently(t *testing.T) {
	var started sync.WaitGroup
	started.Add(4)
	all := make(chan struct{})
	go func() {
		started.Wait()
		close(all)
	}()

	// 4つ全てが開始されるまで返らないProvider。逐次実行ならタイムアウトする
	barrier := func(value, goal int) Provider {
		return ProviderFunc(func(ctx context.Context, _ model.Identity) (model.MetricReading, error) {
			started.Done()
			select {
			case <-all:
				return model.MetricReading{Value: value, Goal: goal}, nil
			case <-time.After(2 * time.Second):
				return model.MetricReading{}, errors.New("providers did not run concurrently")
			}
		})
	}

	svc := NewService(Providers{
		Steps:         barrier(1, 1),
		Calories:      barrier(1, 1),
		ActiveMinutes: barrier(1, 1),
		Water:         barrier(1, 1),
	}, false, nil, discardLogger())

	summary, err := svc.Summary(context.Background(), user)
	require.NoError(t, err)
	assert.Equal(t, 100, summary.DailyGoal)
}

func TestSummary_FailureFailsAggregate(t *testing.T) {
	svc := NewService(Providers{
		Steps:         fixed(1, 1),
		Calories:      fixed(1, 1),
		ActiveMinutes: fixed(1, 1),
		Water:         failing(errors.New("db down")),
	}, false, nil, discardLogger())

	_, err := svc.Summary(context.Background(), user)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "water")
}

func TestSummary_PartialResults(t *testing.T) {
	svc := NewService(Providers{
		Steps:         fixed(10000, StepsGoal),
		Calories:      failing(errors.New("sensor unavailable")),
		ActiveMinutes: fixed(60, ActiveMinutesGoal),
		Water:         failing(errors.New("db down")),
	}, true, nil, discardLogger())

	summary, err := svc.Summary(context.Background(), user)
	require.NoError(t, err)

	assert.Equal(t, []string{SourceCalories, SourceWater}, summary.Degraded)
	assert.Equal(t, model.MetricReading{Value: 0, Goal: CaloriesGoal}, summary.Calories)
	assert.Equal(t, model.MetricReading{Value: 0, Goal: 8}, summary.WaterCups)
	assert.Equal(t, 50, summary.DailyGoal)
}

func TestSummary_MissingProviderCountsAsZero(t *testing.T) {
	svc := NewService(Providers{Steps: fixed(10000, StepsGoal)}, false, nil, discardLogger())

	summary, err := svc.Summary(context.Background(), user)
	require.NoError(t, err)
	assert.Equal(t, 25, summary.DailyGoal)
	assert.Equal(t, ActiveMinutesGoal, summary.ActiveMinutes.Goal)
}

func TestSimulated_Ranges(t *testing.T) {
	sim := NewSimulated(rand.NewPCG(1, 2))
	ctx := context.Background()

	for i := 0; i < 500; i++ {
		steps, err := sim.Steps().Read(ctx, user)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, steps.Value, 5000)
		assert.Less(t, steps.Value, 12000)
		assert.Equal(t, StepsGoal, steps.Goal)

		cal, _ := sim.Calories().Read(ctx, user)
		assert.GreaterOrEqual(t, cal.Value, 250)
		assert.Less(t, cal.Value, 450)
		assert.Equal(t, CaloriesGoal, cal.Goal)

		active, _ := sim.ActiveMinutes().Read(ctx, user)
		assert.GreaterOrEqual(t, active.Value, 20)
		assert.Less(t, active.Value, 80)
		assert.Equal(t, ActiveMinutesGoal, active.Goal)
	}
}

func TestSimulated_Deterministic(t *testing.T) {
	a := NewSimulated(rand.NewPCG(7, 7))
	b := NewSimulated(rand.NewPCG(7, 7))

	ra, _ := a.Steps().Read(context.Background(), user)
	rb, _ := b.Steps().Read(context.Background(), user)
	assert.Equal(t, ra, rb)
}
