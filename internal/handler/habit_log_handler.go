package handler

import (
	"context"
	"errors"
	"io"
	"mime"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/fitjourney/internal/habitlog"
	"github.com/hitoshi/fitjourney/internal/model"
)

// HabitLogServiceInterface は活動記録ハンドラーが必要とするサービスインターフェース。
type HabitLogServiceInterface interface {
	// LogActivity は写真を処理・アップロードして記録を作成し、IDを返す。
	LogActivity(ctx context.Context, req habitlog.Request) (string, error)
	// ListLogs はユーザーの記録を新しい順に返す。
	ListLogs(ctx context.Context, userID, cursor string, limit int) (*habitlog.Page, error)
	// GetLog は記録を1件返す。
	GetLog(ctx context.Context, id string) (*model.ActivityLog, error)
}

// VerificationServiceInterface は記録の検証を行うサービスインターフェース。
type VerificationServiceInterface interface {
	Verify(ctx context.Context, logID string, verifier model.Identity) (*model.ActivityLog, error)
}

// HabitLogHandler は活動記録のHTTPハンドラー。
type HabitLogHandler struct {
	service        HabitLogServiceInterface
	verifier       VerificationServiceInterface
	validate       *requestValidator
	maxUploadBytes int64
}

// NewHabitLogHandler はHabitLogHandlerを生成する。
// maxUploadBytesはmultipartで受け付ける写真の上限サイズ。
func NewHabitLogHandler(service HabitLogServiceInterface, verifier VerificationServiceInterface, maxUploadBytes int64) *HabitLogHandler {
	return &HabitLogHandler{
		service:        service,
		verifier:       verifier,
		validate:       newRequestValidator(),
		maxUploadBytes: maxUploadBytes,
	}
}

// createLogRequest はJSONで写真URLを渡す場合のリクエストボディ。
type createLogRequest struct {
	HabitType string `json:"habit_type" validate:"required"`
	Note      string `json:"note"`
	PhotoURL  string `json:"photo_url" validate:"required,http_url"`
}

// createLogForm はmultipartで写真を直接アップロードする場合のフォーム項目。
type createLogForm struct {
	HabitType string `form:"habit_type" validate:"required"`
	Note      string `form:"note"`
	Photo     []byte `form:"photo" validate:"required"`
}

// createLogResponse は記録作成のAPIレスポンス。
type createLogResponse struct {
	ID string `json:"id"`
}

// activityLogResponse は記録のAPIレスポンス。
type activityLogResponse struct {
	ID         string     `json:"id"`
	UserID     string     `json:"user_id"`
	UserEmail  string     `json:"user_email"`
	HabitType  string     `json:"habit_type"`
	Note       string     `json:"note"`
	PhotoURL   string     `json:"photo_url"`
	Verified   bool       `json:"verified"`
	VerifiedBy *string    `json:"verified_by"`
	VerifiedAt *time.Time `json:"verified_at"`
	CreatedAt  time.Time  `json:"created_at"`
}

// listLogsResponse は記録一覧のAPIレスポンス。
type listLogsResponse struct {
	Logs       []activityLogResponse `json:"logs"`
	NextCursor string                `json:"next_cursor,omitempty"`
	HasMore    bool                  `json:"has_more"`
}

// CreateLog は活動記録を作成する。
// POST /api/habit-logs
func (h *HabitLogHandler) CreateLog(w http.ResponseWriter, r *http.Request) {
	user, ok := requireIdentity(w, r)
	if !ok {
		return
	}

	req := habitlog.Request{User: user}
	if isMultipart(r) {
		form, err := h.readLogForm(w, r)
		if err != nil {
			if errors.Is(err, model.ErrValidation) {
				handleServiceError(w, r, err)
				return
			}
			writeInvalidBody(w, err)
			return
		}
		req.HabitType, req.Note, req.Photo = form.HabitType, form.Note, form.Photo
	} else {
		var body createLogRequest
		if err := decodeJSON(w, r, &body); err != nil {
			writeInvalidBody(w, err)
			return
		}
		if err := h.validate.Struct(body); err != nil {
			handleServiceError(w, r, err)
			return
		}
		req.HabitType, req.Note, req.PhotoRef = body.HabitType, body.Note, body.PhotoURL
	}

	id, err := h.service.LogActivity(r.Context(), req)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, createLogResponse{ID: id})
}

// readLogForm はmultipartフォームから記録の項目と写真を読み込む。
func (h *HabitLogHandler) readLogForm(w http.ResponseWriter, r *http.Request) (*createLogForm, error) {
	photo, err := readMultipartPhoto(w, r, h.maxUploadBytes)
	if err != nil {
		return nil, err
	}
	form := &createLogForm{
		HabitType: r.FormValue("habit_type"),
		Note:      r.FormValue("note"),
		Photo:     photo,
	}
	if err := h.validate.Struct(form); err != nil {
		return nil, err
	}
	return form, nil
}

// ListLogs は認証ユーザーの記録を新しい順に返す。
// GET /api/habit-logs?cursor=&limit=
func (h *HabitLogHandler) ListLogs(w http.ResponseWriter, r *http.Request) {
	user, ok := requireIdentity(w, r)
	if !ok {
		return
	}

	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			handleServiceError(w, r, model.NewValidationError("limit must be a positive integer"))
			return
		}
		limit = n
	}

	page, err := h.service.ListLogs(r.Context(), user.ID, r.URL.Query().Get("cursor"), limit)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	resp := listLogsResponse{
		Logs:       make([]activityLogResponse, 0, len(page.Logs)),
		NextCursor: page.NextCursor,
		HasMore:    page.HasMore,
	}
	for _, l := range page.Logs {
		resp.Logs = append(resp.Logs, toActivityLogResponse(l))
	}
	writeJSON(w, http.StatusOK, resp)
}

// GetLog は記録を1件返す。
// GET /api/habit-logs/{id}
func (h *HabitLogHandler) GetLog(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireIdentity(w, r); !ok {
		return
	}

	log, err := h.service.GetLog(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toActivityLogResponse(log))
}

// VerifyLog は記録を検証済みにする。
// POST /api/habit-logs/{id}/verify
func (h *HabitLogHandler) VerifyLog(w http.ResponseWriter, r *http.Request) {
	user, ok := requireIdentity(w, r)
	if !ok {
		return
	}

	log, err := h.verifier.Verify(r.Context(), chi.URLParam(r, "id"), user)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toActivityLogResponse(log))
}

func toActivityLogResponse(l *model.ActivityLog) activityLogResponse {
	return activityLogResponse{
		ID:         l.ID,
		UserID:     l.UserID,
		UserEmail:  l.UserEmail,
		HabitType:  string(l.HabitType),
		Note:       l.Note,
		PhotoURL:   l.PhotoURL,
		Verified:   l.Verified,
		VerifiedBy: l.VerifiedBy,
		VerifiedAt: l.VerifiedAt,
		CreatedAt:  l.CreatedAt,
	}
}

// isMultipart はリクエストがmultipart/form-dataかどうかを返す。
func isMultipart(r *http.Request) bool {
	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	return err == nil && mediaType == "multipart/form-data"
}

// multipartOverhead は写真以外のフォーム項目とmultipart境界に見込む余裕。
const multipartOverhead = 64 << 10

// readMultipartPhoto はmultipartフォームを解析し、photo項目の内容を返す。
// photo項目がない場合はnilを返す。上限を超えると*http.MaxBytesErrorを返す。
func readMultipartPhoto(w http.ResponseWriter, r *http.Request, maxBytes int64) ([]byte, error) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBytes+multipartOverhead)
	if err := r.ParseMultipartForm(maxBytes + multipartOverhead); err != nil {
		return nil, err
	}

	file, _, err := r.FormFile("photo")
	if errors.Is(err, http.ErrMissingFile) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, maxBytes+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > maxBytes {
		return nil, &http.MaxBytesError{Limit: maxBytes}
	}
	return data, nil
}
