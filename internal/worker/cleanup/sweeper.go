// Package cleanup は参照されなくなった写真を削除するバックグラウンドジョブを提供する。
// 記録の保存に失敗した場合、アップロード済みの写真はどの記録からも参照されずに残る。
// Sweeperはそれらを猶予期間経過後にまとめて削除する。
package cleanup

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/fitjourney/internal/metrics"
	"github.com/hitoshi/fitjourney/internal/storage"
)

// DefaultBatchSize は参照確認と削除を1回にまとめるオブジェクト数。
const DefaultBatchSize = 100

// PhotoReferenceChecker は写真URLが記録から参照されているかを確認する。
// repository.ActivityLogRepositoryが満たす。
type PhotoReferenceChecker interface {
	ReferencedPhotoURLs(ctx context.Context, urls []string) (map[string]bool, error)
}

// Config はSweeperの設定。
type Config struct {
	Container   string
	GracePeriod time.Duration
	BatchSize   int
}

// Result は1回の実行結果。
type Result struct {
	Scanned int
	Orphans int
	Deleted int
}

// Sweeper は写真コンテナを走査し、猶予期間を過ぎた未参照の写真を削除する。
type Sweeper struct {
	gateway   storage.Gateway
	refs      PhotoReferenceChecker
	collector metrics.MetricsCollector
	logger    *slog.Logger
	config    Config
	now       func() time.Time
}

// NewSweeper はSweeperの新しいインスタンスを生成する。
// BatchSizeが0以下の場合はDefaultBatchSizeを使用する。
func NewSweeper(
	gateway storage.Gateway,
	refs PhotoReferenceChecker,
	collector metrics.MetricsCollector,
	logger *slog.Logger,
	cfg Config,
) *Sweeper {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if collector == nil {
		collector = metrics.Nop{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Sweeper{
		gateway:   gateway,
		refs:      refs,
		collector: collector,
		logger:    logger,
		config:    cfg,
		now:       time.Now,
	}
}

// Start はinterval間隔でRunOnceを実行する。起動直後にも1回実行する。
// コンテキストがキャンセルされるまで実行を継続する。
func (s *Sweeper) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.logger.Info("未参照写真の削除ジョブを開始しました",
		slog.String("container", s.config.Container),
		slog.Duration("interval", interval),
		slog.Duration("grace_period", s.config.GracePeriod),
	)

	s.runAndLog(ctx)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("未参照写真の削除ジョブを停止しました")
			return
		case <-ticker.C:
			s.runAndLog(ctx)
		}
	}
}

func (s *Sweeper) runAndLog(ctx context.Context) {
	if _, err := s.RunOnce(ctx); err != nil && ctx.Err() == nil {
		s.logger.Error("未参照写真の削除に失敗しました",
			slog.String("container", s.config.Container),
			slog.String("error", err.Error()),
		)
	}
}

// RunOnce はコンテナを1回走査し、未参照の写真を削除する。
// 作成から猶予期間が経過していない写真は、保存中の記録が参照する可能性があるため対象外とする。
// 冪等: 削除対象がない場合でもエラーにならない。
func (s *Sweeper) RunOnce(ctx context.Context) (Result, error) {
	start := time.Now()
	var result Result

	objects, err := s.gateway.ListObjects(ctx, s.config.Container, "")
	if err != nil {
		return result, fmt.Errorf("写真一覧の取得に失敗: %w", err)
	}
	result.Scanned = len(objects)

	cutoff := s.now().Add(-s.config.GracePeriod)
	var candidates []string
	for _, obj := range objects {
		if obj.CreatedAt.Before(cutoff) {
			candidates = append(candidates, obj.Key)
		}
	}

	for begin := 0; begin < len(candidates); begin += s.config.BatchSize {
		end := min(begin+s.config.BatchSize, len(candidates))

		orphans, err := s.findOrphans(ctx, candidates[begin:end])
		if err != nil {
			return result, err
		}
		if len(orphans) == 0 {
			continue
		}
		result.Orphans += len(orphans)

		if err := s.gateway.DeleteObjects(ctx, s.config.Container, orphans); err != nil {
			s.collector.RecordOrphansDeleted(result.Deleted)
			return result, fmt.Errorf("未参照写真の削除に失敗: %w", err)
		}
		result.Deleted += len(orphans)
	}

	s.collector.RecordOrphansDeleted(result.Deleted)
	s.logger.Info("未参照写真の削除ジョブが完了しました",
		slog.String("container", s.config.Container),
		slog.Int("scanned", result.Scanned),
		slog.Int("candidates", len(candidates)),
		slog.Int("deleted", result.Deleted),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)
	return result, nil
}

// findOrphans はキーのうち、公開URLがどの記録からも参照されていないものを返す。
func (s *Sweeper) findOrphans(ctx context.Context, keys []string) ([]string, error) {
	urls := make([]string, len(keys))
	for i, key := range keys {
		u, err := s.gateway.ResolvePublicAddress(ctx, s.config.Container, key)
		if err != nil {
			return nil, fmt.Errorf("公開URLの解決に失敗: %w", err)
		}
		urls[i] = u
	}

	referenced, err := s.refs.ReferencedPhotoURLs(ctx, urls)
	if err != nil {
		return nil, fmt.Errorf("写真の参照確認に失敗: %w", err)
	}

	var orphans []string
	for i, key := range keys {
		if !referenced[urls[i]] {
			orphans = append(orphans, key)
		}
	}
	return orphans, nil
}
