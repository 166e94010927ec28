package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/hitoshi/fitjourney/internal/model"
)

// HydrationServiceInterface は水分摂取ハンドラーが必要とするサービスインターフェース。
type HydrationServiceInterface interface {
	AddCups(ctx context.Context, user model.Identity, cups int) (*model.WaterLog, error)
	Today(ctx context.Context, userID string) (model.MetricReading, error)
}

// WaterHandler は水分摂取記録のHTTPハンドラー。
type WaterHandler struct {
	service  HydrationServiceInterface
	validate *requestValidator
}

// NewWaterHandler はWaterHandlerを生成する。
func NewWaterHandler(service HydrationServiceInterface) *WaterHandler {
	return &WaterHandler{service: service, validate: newRequestValidator()}
}

type addWaterRequest struct {
	Cups int `json:"cups" validate:"required,gte=1,lte=20"`
}

type waterLogResponse struct {
	ID        string    `json:"id"`
	Cups      int       `json:"cups"`
	CreatedAt time.Time `json:"created_at"`
}

// metricResponse は指標1つ分のAPIレスポンス。
type metricResponse struct {
	Value   int     `json:"value"`
	Goal    int     `json:"goal"`
	Percent float64 `json:"percent"`
}

func toMetricResponse(m model.MetricReading) metricResponse {
	return metricResponse{Value: m.Value, Goal: m.Goal, Percent: m.Percent()}
}

// AddWater は水分摂取を記録する。
// POST /api/water-logs
func (h *WaterHandler) AddWater(w http.ResponseWriter, r *http.Request) {
	user, ok := requireIdentity(w, r)
	if !ok {
		return
	}

	var req addWaterRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeInvalidBody(w, err)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		handleServiceError(w, r, err)
		return
	}

	log, err := h.service.AddCups(r.Context(), user, req.Cups)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, waterLogResponse{ID: log.ID, Cups: log.Cups, CreatedAt: log.CreatedAt})
}

// Today は当日の摂取量を返す。
// GET /api/water-logs/today
func (h *WaterHandler) Today(w http.ResponseWriter, r *http.Request) {
	user, ok := requireIdentity(w, r)
	if !ok {
		return
	}

	reading, err := h.service.Today(r.Context(), user.ID)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toMetricResponse(reading))
}
