// Package nutrition は食事写真から栄養素を推定する。
package nutrition

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/hitoshi/fitjourney/internal/media"
	"github.com/hitoshi/fitjourney/internal/model"
)

// FoodItem は認識された1品目の栄養素(カロリーはkcal、その他はg)。
type FoodItem struct {
	Name     string
	Calories int
	Protein  int
	Carbs    int
	Fat      int
}

// Nutrition は栄養素の合計。
type Nutrition struct {
	Calories int
	Protein  int
	Carbs    int
	Fat      int
}

// Analysis は食事写真の解析結果。
type Analysis struct {
	Items []FoodItem
	Total Nutrition
}

// Recognizer は解析用に縮小した写真から品目を認識する。
type Recognizer interface {
	Recognize(ctx context.Context, photo *media.Payload) ([]FoodItem, error)
}

// PhotoProcessor は写真を解析用のサイズ・品質に変換する。
type PhotoProcessor interface {
	Process(ctx context.Context, ref string, c media.Constraints) (*media.Payload, error)
	ProcessBytes(ctx context.Context, data []byte, c media.Constraints) (*media.Payload, error)
}

// Service は食事写真の解析を行う。
type Service struct {
	processor  PhotoProcessor
	recognizer Recognizer
	logger     *slog.Logger
}

// NewService はServiceの新しいインスタンスを生成する。recognizerがnilの場合はDemoRecognizerを使う。
func NewService(processor PhotoProcessor, recognizer Recognizer, logger *slog.Logger) *Service {
	if recognizer == nil {
		recognizer = DemoRecognizer{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{processor: processor, recognizer: recognizer, logger: logger}
}

// AnalyzeRef は参照(パス・URI・URL)の写真を解析する。
func (s *Service) AnalyzeRef(ctx context.Context, ref string) (*Analysis, error) {
	if ref == "" {
		return nil, model.NewValidationError("photo is required")
	}
	photo, err := s.processor.Process(ctx, ref, media.AnalysisPhoto)
	if err != nil {
		return nil, err
	}
	return s.analyze(ctx, photo)
}

// AnalyzeBytes はアップロードされた写真を解析する。
func (s *Service) AnalyzeBytes(ctx context.Context, data []byte) (*Analysis, error) {
	if len(data) == 0 {
		return nil, model.NewValidationError("photo is required")
	}
	photo, err := s.processor.ProcessBytes(ctx, data, media.AnalysisPhoto)
	if err != nil {
		return nil, err
	}
	return s.analyze(ctx, photo)
}

func (s *Service) analyze(ctx context.Context, photo *media.Payload) (*Analysis, error) {
	items, err := s.recognizer.Recognize(ctx, photo)
	if err != nil {
		return nil, fmt.Errorf("食事の解析に失敗しました: %w", err)
	}

	s.logger.Info("食事写真を解析しました",
		slog.Int("items", len(items)),
		slog.Int("photo_bytes", len(photo.Data)),
	)
	return &Analysis{Items: items, Total: Sum(items)}, nil
}

// Sum は品目の栄養素を合計する。
func Sum(items []FoodItem) Nutrition {
	var total Nutrition
	for _, it := range items {
		total.Calories += it.Calories
		total.Protein += it.Protein
		total.Carbs += it.Carbs
		total.Fat += it.Fat
	}
	return total
}

// DemoRecognizer は写真の内容に関わらず固定の献立を返すRecognizer。
type DemoRecognizer struct{}

// Recognize は固定の3品目を返す。
func (DemoRecognizer) Recognize(ctx context.Context, _ *media.Payload) ([]FoodItem, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return []FoodItem{
		{Name: "Grilled Chicken", Calories: 250, Protein: 30, Carbs: 0, Fat: 10},
		{Name: "Brown Rice", Calories: 180, Protein: 4, Carbs: 35, Fat: 2},
		{Name: "Broccoli", Calories: 55, Protein: 3, Carbs: 10, Fat: 0},
	}, nil
}
