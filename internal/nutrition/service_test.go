package nutrition

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hitoshi/fitjourney/internal/media"
	"github.com/hitoshi/fitjourney/internal/model"
)

type stubProcessor struct {
	got []media.Constraints
	err error
}

func (s *stubProcessor) Process(ctx context.Context, ref string, c media.Constraints) (*media.Payload, error) {
	s.got = append(s.got, c)
	if s.err != nil {
		return nil, s.err
	}
	return &media.Payload{Data: []byte("jpeg"), ContentType: media.ContentTypeJPEG}, nil
}

func (s *stubProcessor) ProcessBytes(ctx context.Context, data []byte, c media.Constraints) (*media.Payload, error) {
	return s.Process(ctx, "", c)
}

type failingRecognizer struct{}

func (failingRecognizer) Recognize(context.Context, *media.Payload) ([]FoodItem, error) {
	return nil, errors.New("model unavailable")
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestAnalyzeRef_DemoPlate(t *testing.T) {
	proc := &stubProcessor{}
	svc := NewService(proc, nil, discardLogger())

	a, err := svc.AnalyzeRef(context.Background(), "/tmp/meal.jpg")
	require.NoError(t, err)

	require.Len(t, a.Items, 3)
	assert.Equal(t, "Grilled Chicken", a.Items[0].Name)
	assert.Equal(t, Nutrition{Calories: 485, Protein: 37, Carbs: 45, Fat: 12}, a.Total)
	assert.Equal(t, []media.Constraints{media.AnalysisPhoto}, proc.got)
}

func TestAnalyzeBytes_UsesAnalysisPreset(t *testing.T) {
	proc := &stubProcessor{}
	svc := NewService(proc, nil, discardLogger())

	_, err := svc.AnalyzeBytes(context.Background(), []byte("raw"))
	require.NoError(t, err)
	require.Len(t, proc.got, 1)
	assert.Equal(t, 800, proc.got[0].MaxWidth)
}

func TestAnalyze_Errors(t *testing.T) {
	svc := NewService(&stubProcessor{}, nil, discardLogger())
	_, err := svc.AnalyzeRef(context.Background(), "")
	assert.ErrorIs(t, err, model.ErrValidation)
	_, err = svc.AnalyzeBytes(context.Background(), nil)
	assert.ErrorIs(t, err, model.ErrValidation)

	svc = NewService(&stubProcessor{err: fmt.Errorf("%w: failed to decode image", model.ErrMedia)}, nil, discardLogger())
	_, err = svc.AnalyzeRef(context.Background(), "/tmp/meal.txt")
	assert.ErrorIs(t, err, model.ErrMedia)

	svc = NewService(&stubProcessor{}, failingRecognizer{}, discardLogger())
	_, err = svc.AnalyzeRef(context.Background(), "/tmp/meal.jpg")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "model unavailable")
}

func TestSum_Empty(t *testing.T) {
	assert.Equal(t, Nutrition{}, Sum(nil))
}
