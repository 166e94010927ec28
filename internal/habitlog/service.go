// Package habitlog は写真付き活動記録の作成と一覧取得を提供する。
package habitlog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
	"unicode/utf8"

	"github.com/hitoshi/fitjourney/internal/media"
	"github.com/hitoshi/fitjourney/internal/metrics"
	"github.com/hitoshi/fitjourney/internal/model"
	"github.com/hitoshi/fitjourney/internal/repository"
	"github.com/hitoshi/fitjourney/internal/security"
	"github.com/hitoshi/fitjourney/internal/storage"
)

// DefaultContainer は検証用写真を保存するコンテナ名。
const DefaultContainer = "habit_photos"

// PhotoProcessor は写真を検証用のサイズ・品質に変換する。
type PhotoProcessor interface {
	Process(ctx context.Context, ref string, c media.Constraints) (*media.Payload, error)
	ProcessBytes(ctx context.Context, data []byte, c media.Constraints) (*media.Payload, error)
}

// Request は活動記録の作成要求。
// 写真はPhotoRef(パス・URI・URL)かPhoto(アップロード済みのデータ)のいずれかで渡す。
type Request struct {
	User      model.Identity
	HabitType string
	Note      string
	PhotoRef  string
	Photo     []byte
}

// Config はServiceの設定。
type Config struct {
	Container      string
	MaxObjectBytes int64
	CacheControl   int
}

// Service は活動記録のパイプライン(検証→写真処理→アップロード→保存)を実行する。
type Service struct {
	repo      repository.ActivityLogRepository
	processor PhotoProcessor
	storage   storage.Gateway
	sanitizer *security.NoteSanitizer
	metrics   metrics.MetricsCollector
	logger    *slog.Logger
	config    Config
	now       func() time.Time
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(
	repo repository.ActivityLogRepository,
	processor PhotoProcessor,
	gateway storage.Gateway,
	collector metrics.MetricsCollector,
	logger *slog.Logger,
	cfg Config,
) *Service {
	if cfg.Container == "" {
		cfg.Container = DefaultContainer
	}
	if cfg.MaxObjectBytes <= 0 {
		cfg.MaxObjectBytes = storage.DefaultMaxObjectBytes
	}
	if cfg.CacheControl <= 0 {
		cfg.CacheControl = storage.DefaultCacheControl
	}
	if collector == nil {
		collector = metrics.Nop{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:      repo,
		processor: processor,
		storage:   gateway,
		sanitizer: security.NewNoteSanitizer(),
		metrics:   collector,
		logger:    logger,
		config:    cfg,
		now:       time.Now,
	}
}

// validated は検証済みの入力。
type validated struct {
	habitType model.HabitType
	note      string
}

// LogActivity は活動記録を作成し、採番されたIDを返す。
// 各段階は前段の成功後にのみ実行され、失敗時は*model.StageErrorを返す。
// アップロード後に保存が失敗した場合も写真は削除しない(孤立写真は定期スイープで削除される)。
func (s *Service) LogActivity(ctx context.Context, req Request) (string, error) {
	in, err := s.validate(req)
	if err != nil {
		return "", s.fail(req, model.StageValidate, err)
	}

	payload, err := s.processPhoto(ctx, req)
	if err != nil {
		return "", s.fail(req, model.StageProcessPhoto, err)
	}

	stored, err := s.uploadPhoto(ctx, req.User, in.habitType, payload)
	if err != nil {
		return "", s.fail(req, model.StageUploadPhoto, err)
	}

	log := &model.ActivityLog{
		UserID:    req.User.ID,
		UserEmail: req.User.Email,
		HabitType: in.habitType,
		Note:      in.note,
		PhotoURL:  stored.URL,
	}
	id, err := s.repo.Insert(ctx, log)
	if err != nil {
		s.logger.Warn("記録の保存に失敗したため写真が孤立しました",
			slog.String("user_id", req.User.ID),
			slog.String("object", stored.String()),
		)
		return "", s.fail(req, model.StageSaveLog, err)
	}

	s.metrics.RecordLogCreated(string(in.habitType))
	s.logger.Info("活動記録を作成しました",
		slog.String("user_id", req.User.ID),
		slog.String("log_id", id),
		slog.String("habit_type", string(in.habitType)),
	)
	return id, nil
}

// validate はI/Oを行わずに入力を検証する。メモはマークアップを除去してから長さを確認する。
func (s *Service) validate(req Request) (validated, error) {
	if req.User.ID == "" {
		return validated{}, fmt.Errorf("%w: not signed in", model.ErrAuth)
	}
	habitType, err := model.ParseHabitType(req.HabitType)
	if err != nil {
		return validated{}, err
	}
	if req.PhotoRef == "" && len(req.Photo) == 0 {
		return validated{}, model.NewValidationError("photo is required")
	}
	note := s.sanitizer.Sanitize(req.Note)
	if n := utf8.RuneCountInString(note); n > model.MaxNoteLength {
		return validated{}, model.NewValidationError("note must be at most %d characters, got %d", model.MaxNoteLength, n)
	}
	return validated{habitType: habitType, note: note}, nil
}

func (s *Service) processPhoto(ctx context.Context, req Request) (*media.Payload, error) {
	if len(req.Photo) > 0 {
		return s.processor.ProcessBytes(ctx, req.Photo, media.VerificationPhoto)
	}
	return s.processor.Process(ctx, req.PhotoRef, media.VerificationPhoto)
}

func (s *Service) uploadPhoto(ctx context.Context, user model.Identity, habitType model.HabitType, payload *media.Payload) (*model.StoredMedia, error) {
	container := s.config.Container
	if err := s.storage.EnsureContainer(ctx, container, storage.PhotoContainerPolicy(s.config.MaxObjectBytes)); err != nil {
		return nil, err
	}

	key := storage.ObjectKey(user.Email, string(habitType), s.now())
	started := time.Now()
	stored, err := s.storage.Upload(ctx, container, key, payload.Data, storage.ObjectMetadata{
		ContentType:  payload.ContentType,
		CacheControl: s.config.CacheControl,
	})
	if err != nil {
		return nil, err
	}
	s.metrics.RecordPhotoUpload(stored.Size, time.Since(started))

	url, err := s.storage.ResolvePublicAddress(ctx, container, key)
	if err != nil {
		return nil, err
	}
	stored.URL = url
	return stored, nil
}

// fail は失敗をメトリクス・ログに記録し、段階付きのエラーを返す。
func (s *Service) fail(req Request, stage model.Stage, err error) error {
	s.metrics.RecordPipelineFailure(string(stage))

	level := slog.LevelError
	if stage == model.StageValidate || errors.Is(err, context.Canceled) {
		level = slog.LevelInfo
	}
	s.logger.Log(context.Background(), level, "活動記録の作成に失敗しました",
		slog.String("user_id", req.User.ID),
		slog.String("stage", string(stage)),
		slog.String("error", err.Error()),
	)
	return &model.StageError{Stage: stage, Err: err}
}
