package handler

import (
	"context"
	"net/http"

	"github.com/hitoshi/fitjourney/internal/model"
	"github.com/hitoshi/fitjourney/internal/nutrition"
)

// MealAnalyzerInterface は食事写真を解析するサービスインターフェース。
type MealAnalyzerInterface interface {
	AnalyzeBytes(ctx context.Context, data []byte) (*nutrition.Analysis, error)
	AnalyzeRef(ctx context.Context, ref string) (*nutrition.Analysis, error)
}

// MealHandler は食事写真解析のHTTPハンドラー。
type MealHandler struct {
	analyzer       MealAnalyzerInterface
	validate       *requestValidator
	maxUploadBytes int64
}

// NewMealHandler はMealHandlerを生成する。
func NewMealHandler(analyzer MealAnalyzerInterface, maxUploadBytes int64) *MealHandler {
	return &MealHandler{analyzer: analyzer, validate: newRequestValidator(), maxUploadBytes: maxUploadBytes}
}

// analyzeMealRequest はJSONで写真URLを渡す場合のリクエストボディ。
type analyzeMealRequest struct {
	PhotoURL string `json:"photo_url" validate:"required,http_url"`
}

type nutritionResponse struct {
	Calories int `json:"calories"`
	Protein  int `json:"protein"`
	Carbs    int `json:"carbs"`
	Fat      int `json:"fat"`
}

type foodItemResponse struct {
	Name string `json:"name"`
	nutritionResponse
}

type mealAnalysisResponse struct {
	Items []foodItemResponse `json:"items"`
	Total nutritionResponse  `json:"total"`
}

// Analyze はmultipartで受け取った食事写真、またはJSONのphoto_urlが指す写真を解析する。
// POST /api/meals/analyze
func (h *MealHandler) Analyze(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireIdentity(w, r); !ok {
		return
	}

	var (
		analysis *nutrition.Analysis
		err      error
	)
	if isMultipart(r) {
		photo, readErr := readMultipartPhoto(w, r, h.maxUploadBytes)
		if readErr != nil {
			writeInvalidBody(w, readErr)
			return
		}
		if photo == nil {
			handleServiceError(w, r, model.NewValidationError("photo is required"))
			return
		}
		analysis, err = h.analyzer.AnalyzeBytes(r.Context(), photo)
	} else {
		var body analyzeMealRequest
		if decodeErr := decodeJSON(w, r, &body); decodeErr != nil {
			writeInvalidBody(w, decodeErr)
			return
		}
		if validateErr := h.validate.Struct(body); validateErr != nil {
			handleServiceError(w, r, validateErr)
			return
		}
		analysis, err = h.analyzer.AnalyzeRef(r.Context(), body.PhotoURL)
	}
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	resp := mealAnalysisResponse{
		Items: make([]foodItemResponse, 0, len(analysis.Items)),
		Total: nutritionResponse(analysis.Total),
	}
	for _, item := range analysis.Items {
		resp.Items = append(resp.Items, foodItemResponse{
			Name: item.Name,
			nutritionResponse: nutritionResponse{
				Calories: item.Calories,
				Protein:  item.Protein,
				Carbs:    item.Carbs,
				Fat:      item.Fat,
			},
		})
	}
	writeJSON(w, http.StatusOK, resp)
}
