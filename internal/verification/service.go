// Package verification は他のユーザーによる活動記録の検証を提供する。
package verification

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hitoshi/fitjourney/internal/metrics"
	"github.com/hitoshi/fitjourney/internal/model"
	"github.com/hitoshi/fitjourney/internal/repository"
)

// Service は記録の検証を行う。
type Service struct {
	repo              repository.ActivityLogRepository
	metrics           metrics.MetricsCollector
	logger            *slog.Logger
	allowSelfVerified bool
}

// NewService はServiceの新しいインスタンスを生成する。
// allowSelfVerificationがfalseの場合、記録の作成者自身による検証を拒否する。
func NewService(repo repository.ActivityLogRepository, collector metrics.MetricsCollector, logger *slog.Logger, allowSelfVerification bool) *Service {
	if collector == nil {
		collector = metrics.Nop{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:              repo,
		metrics:           collector,
		logger:            logger,
		allowSelfVerified: allowSelfVerification,
	}
}

// Verify は記録を検証済みにし、更新後の記録を返す。
// 既に検証済みの記録は変更せずにそのまま返すため、何度呼んでも結果は同じになる。
// 存在しない記録はErrNotFound、自己検証が禁止されている場合の自己検証はErrValidationを返す。
func (s *Service) Verify(ctx context.Context, logID string, verifier model.Identity) (*model.ActivityLog, error) {
	if verifier.ID == "" {
		return nil, fmt.Errorf("%w: not signed in", model.ErrAuth)
	}
	if logID == "" {
		return nil, model.NewValidationError("log id is required")
	}

	if !s.allowSelfVerified {
		log, err := s.repo.FindByID(ctx, logID)
		if err != nil {
			return nil, fmt.Errorf("記録の取得に失敗しました: %w", err)
		}
		if log == nil {
			return nil, s.notFound(logID)
		}
		if log.UserID == verifier.ID {
			s.metrics.RecordVerification(metrics.VerificationRejected)
			return nil, model.NewValidationError("cannot verify your own log")
		}
	}

	log, changed, err := s.repo.MarkVerified(ctx, logID, verifier.ID)
	if errors.Is(err, model.ErrNotFound) {
		return nil, s.notFound(logID)
	}
	if err != nil {
		return nil, fmt.Errorf("記録の検証に失敗しました: %w", err)
	}

	if !changed {
		s.metrics.RecordVerification(metrics.VerificationAlreadyVerified)
		s.logger.Info("既に検証済みの記録です",
			slog.String("log_id", logID),
			slog.String("verifier_id", verifier.ID),
		)
		return log, nil
	}

	s.metrics.RecordVerification(metrics.VerificationVerified)
	s.logger.Info("記録を検証しました",
		slog.String("log_id", logID),
		slog.String("owner_id", log.UserID),
		slog.String("verifier_id", verifier.ID),
	)
	return log, nil
}

func (s *Service) notFound(logID string) error {
	s.metrics.RecordVerification(metrics.VerificationRejected)
	return fmt.Errorf("%w: habit log %s", model.ErrNotFound, logID)
}
