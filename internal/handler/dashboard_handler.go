package handler

import (
	"context"
	"net/http"

	"github.com/hitoshi/fitjourney/internal/model"
)

// DashboardServiceInterface は当日の活動サマリーを返すサービスインターフェース。
type DashboardServiceInterface interface {
	Summary(ctx context.Context, user model.Identity) (*model.ActivitySummary, error)
}

// DashboardHandler はダッシュボードのHTTPハンドラー。
type DashboardHandler struct {
	service DashboardServiceInterface
}

// NewDashboardHandler はDashboardHandlerを生成する。
func NewDashboardHandler(service DashboardServiceInterface) *DashboardHandler {
	return &DashboardHandler{service: service}
}

type dashboardResponse struct {
	Steps         metricResponse `json:"steps"`
	Calories      metricResponse `json:"calories"`
	ActiveMinutes metricResponse `json:"active_minutes"`
	WaterCups     metricResponse `json:"water_cups"`
	DailyGoal     int            `json:"daily_goal"`
	Degraded      []string       `json:"degraded,omitempty"`
}

// Summary は当日の活動サマリーを返す。
// GET /api/dashboard
func (h *DashboardHandler) Summary(w http.ResponseWriter, r *http.Request) {
	user, ok := requireIdentity(w, r)
	if !ok {
		return
	}

	s, err := h.service.Summary(r.Context(), user)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, dashboardResponse{
		Steps:         toMetricResponse(s.Steps),
		Calories:      toMetricResponse(s.Calories),
		ActiveMinutes: toMetricResponse(s.ActiveMinutes),
		WaterCups:     toMetricResponse(s.WaterCups),
		DailyGoal:     s.DailyGoal,
		Degraded:      s.Degraded,
	})
}
