package dashboard

import (
	"context"
	"math/rand/v2"
	"sync"

	"github.com/hitoshi/fitjourney/internal/hydration"
	"github.com/hitoshi/fitjourney/internal/model"
)

// Simulated はセンサー連携の代わりに乱数で歩数・消費カロリー・活動時間を返す。
// 値の範囲は歩数5000〜11999、カロリー250〜449、活動時間20〜79分。
type Simulated struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewSimulated はSimulatedを生成する。srcがnilの場合は自動でシードされた乱数を使う。
func NewSimulated(src rand.Source) *Simulated {
	if src == nil {
		src = rand.NewPCG(rand.Uint64(), rand.Uint64())
	}
	return &Simulated{rng: rand.New(src)}
}

func (s *Simulated) intN(base, spread int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return base + s.rng.IntN(spread)
}

// Steps は歩数のProviderを返す。
func (s *Simulated) Steps() Provider {
	return ProviderFunc(func(ctx context.Context, _ model.Identity) (model.MetricReading, error) {
		return model.MetricReading{Value: s.intN(5000, 7000), Goal: StepsGoal}, ctx.Err()
	})
}

// Calories は消費カロリーのProviderを返す。
func (s *Simulated) Calories() Provider {
	return ProviderFunc(func(ctx context.Context, _ model.Identity) (model.MetricReading, error) {
		return model.MetricReading{Value: s.intN(250, 200), Goal: CaloriesGoal}, ctx.Err()
	})
}

// ActiveMinutes は活動時間のProviderを返す。
func (s *Simulated) ActiveMinutes() Provider {
	return ProviderFunc(func(ctx context.Context, _ model.Identity) (model.MetricReading, error) {
		return model.MetricReading{Value: s.intN(20, 60), Goal: ActiveMinutesGoal}, ctx.Err()
	})
}

// WaterProvider は水分摂取記録から当日の合計を返すProviderを生成する。
func WaterProvider(h *hydration.Service) Provider {
	return ProviderFunc(func(ctx context.Context, user model.Identity) (model.MetricReading, error) {
		return h.Today(ctx, user.ID)
	})
}

// DefaultProviders は乱数の指標と水分摂取記録を組み合わせたProvidersを返す。
func DefaultProviders(sim *Simulated, h *hydration.Service) Providers {
	return Providers{
		Steps:         sim.Steps(),
		Calories:      sim.Calories(),
		ActiveMinutes: sim.ActiveMinutes(),
		Water:         WaterProvider(h),
	}
}
