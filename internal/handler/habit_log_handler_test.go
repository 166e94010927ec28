package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/hitoshi/fitjourney/internal/habitlog"
	"github.com/hitoshi/fitjourney/internal/middleware"
	"github.com/hitoshi/fitjourney/internal/model"
)

func authedRequest(t *testing.T, method, target string, body *bytes.Buffer, contentType string) *http.Request {
	t.Helper()
	if body == nil {
		body = &bytes.Buffer{}
	}
	req := httptest.NewRequest(method, target, body)
	req.Header.Set("Authorization", "Bearer "+testToken(t, "user-1", "aiko@example.com"))
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	return req
}

func multipartBody(t *testing.T, fields map[string]string, photo []byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			t.Fatalf("WriteField: %v", err)
		}
	}
	if photo != nil {
		fw, err := mw.CreateFormFile("photo", "photo.jpg")
		if err != nil {
			t.Fatalf("CreateFormFile: %v", err)
		}
		fw.Write(photo)
	}
	mw.Close()
	return &buf, mw.FormDataContentType()
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) middleware.ErrorResponseBody {
	t.Helper()
	var body middleware.ErrorResponseBody
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode error body: %v\nraw: %s", err, w.Body.String())
	}
	return body
}

func TestCreateLog_Multipart(t *testing.T) {
	deps := newTestDeps(t)
	var got habitlog.Request
	deps.HabitLogService.(*mockHabitLogService).logActivityFn = func(ctx context.Context, req habitlog.Request) (string, error) {
		got = req
		return "log-1", nil
	}

	body, ct := multipartBody(t, map[string]string{"habit_type": "exercise", "note": "5km"}, []byte("jpeg-bytes"))
	w := httptest.NewRecorder()
	NewRouter(deps).ServeHTTP(w, authedRequest(t, http.MethodPost, "/api/habit-logs", body, ct))

	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201: %s", w.Code, w.Body.String())
	}
	var resp createLogResponse
	json.NewDecoder(w.Body).Decode(&resp)
	if resp.ID != "log-1" {
		t.Errorf("id = %q, want log-1", resp.ID)
	}
	if got.User.ID != "user-1" || got.User.Email != "aiko@example.com" {
		t.Errorf("user = %+v", got.User)
	}
	if got.HabitType != "exercise" || got.Note != "5km" || string(got.Photo) != "jpeg-bytes" || got.PhotoRef != "" {
		t.Errorf("request = %+v", got)
	}
}

func TestCreateLog_MultipartMissingPhoto(t *testing.T) {
	deps := newTestDeps(t)
	body, ct := multipartBody(t, map[string]string{"habit_type": "exercise"}, nil)
	w := httptest.NewRecorder()
	NewRouter(deps).ServeHTTP(w, authedRequest(t, http.MethodPost, "/api/habit-logs", body, ct))

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
	if code := decodeError(t, w).Code; code != model.ErrCodeValidation {
		t.Errorf("code = %q, want %q", code, model.ErrCodeValidation)
	}
}

func TestCreateLog_MultipartTooLarge(t *testing.T) {
	deps := newTestDeps(t)
	deps.MaxUploadBytes = 1024
	body, ct := multipartBody(t, map[string]string{"habit_type": "exercise"}, bytes.Repeat([]byte("x"), 200<<10))
	w := httptest.NewRecorder()
	NewRouter(deps).ServeHTTP(w, authedRequest(t, http.MethodPost, "/api/habit-logs", body, ct))

	if w.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("status = %d, want 413", w.Code)
	}
}

func TestCreateLog_JSON(t *testing.T) {
	deps := newTestDeps(t)
	var got habitlog.Request
	deps.HabitLogService.(*mockHabitLogService).logActivityFn = func(ctx context.Context, req habitlog.Request) (string, error) {
		got = req
		return "log-2", nil
	}

	body := bytes.NewBufferString(`{"habit_type":"sleep","note":"8h","photo_url":"https://example.com/p.jpg"}`)
	w := httptest.NewRecorder()
	NewRouter(deps).ServeHTTP(w, authedRequest(t, http.MethodPost, "/api/habit-logs", body, "application/json"))

	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201: %s", w.Code, w.Body.String())
	}
	if got.PhotoRef != "https://example.com/p.jpg" || got.Photo != nil || got.HabitType != "sleep" {
		t.Errorf("request = %+v", got)
	}
}

func TestCreateLog_JSONValidation(t *testing.T) {
	tests := []struct {
		name string
		body string
		want int
	}{
		{"missing habit type", `{"photo_url":"https://example.com/p.jpg"}`, http.StatusBadRequest},
		{"missing photo", `{"habit_type":"sleep"}`, http.StatusBadRequest},
		{"local path rejected", `{"habit_type":"sleep","photo_url":"/etc/passwd"}`, http.StatusBadRequest},
		{"file uri rejected", `{"habit_type":"sleep","photo_url":"file:///tmp/a.jpg"}`, http.StatusBadRequest},
		{"malformed json", `{"habit_type":`, http.StatusBadRequest},
		{"unknown field", `{"habit_type":"sleep","photo_url":"https://e.com/a.jpg","user_id":"x"}`, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			deps := newTestDeps(t)
			w := httptest.NewRecorder()
			NewRouter(deps).ServeHTTP(w, authedRequest(t, http.MethodPost, "/api/habit-logs", bytes.NewBufferString(tt.body), "application/json"))
			if w.Code != tt.want {
				t.Errorf("status = %d, want %d: %s", w.Code, tt.want, w.Body.String())
			}
		})
	}
}

func TestCreateLog_StageErrorsMapToStatus(t *testing.T) {
	tests := []struct {
		stage    model.Stage
		err      error
		wantCode int
		wantBody string
	}{
		{model.StageValidate, model.NewValidationError("unknown habit type"), http.StatusBadRequest, model.ErrCodeValidation},
		{model.StageProcessPhoto, model.ErrMedia, http.StatusUnprocessableEntity, model.ErrCodeMediaFailed},
		{model.StageUploadPhoto, model.ErrStorage, http.StatusBadGateway, model.ErrCodeStorageFailed},
		{model.StageSaveLog, context.DeadlineExceeded, http.StatusInternalServerError, model.ErrCodeSaveFailed},
	}

	for _, tt := range tests {
		t.Run(string(tt.stage), func(t *testing.T) {
			deps := newTestDeps(t)
			deps.HabitLogService.(*mockHabitLogService).logActivityFn = func(context.Context, habitlog.Request) (string, error) {
				return "", &model.StageError{Stage: tt.stage, Err: tt.err}
			}
			body, ct := multipartBody(t, map[string]string{"habit_type": "lunch"}, []byte("img"))
			w := httptest.NewRecorder()
			NewRouter(deps).ServeHTTP(w, authedRequest(t, http.MethodPost, "/api/habit-logs", body, ct))

			if w.Code != tt.wantCode {
				t.Errorf("status = %d, want %d", w.Code, tt.wantCode)
			}
			if code := decodeError(t, w).Code; code != tt.wantBody {
				t.Errorf("code = %q, want %q", code, tt.wantBody)
			}
		})
	}
}

func TestListLogs_PassesCursorAndLimit(t *testing.T) {
	deps := newTestDeps(t)
	created := time.Date(2026, 10, 19, 8, 0, 0, 0, time.UTC)
	deps.HabitLogService.(*mockHabitLogService).listLogsFn = func(ctx context.Context, userID, cursor string, limit int) (*habitlog.Page, error) {
		if userID != "user-1" || cursor != "abc" || limit != 5 {
			t.Errorf("args = %q %q %d", userID, cursor, limit)
		}
		return &habitlog.Page{
			Logs: []*model.ActivityLog{
				{ID: "log-1", UserID: "user-1", HabitType: model.HabitSleep, PhotoURL: "https://cdn/x.jpg", CreatedAt: created},
			},
			NextCursor: "next",
			HasMore:    true,
		}, nil
	}

	w := httptest.NewRecorder()
	NewRouter(deps).ServeHTTP(w, authedRequest(t, http.MethodGet, "/api/habit-logs?cursor=abc&limit=5", nil, ""))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}
	var resp listLogsResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Logs) != 1 || resp.Logs[0].ID != "log-1" || resp.Logs[0].HabitType != "sleep" {
		t.Errorf("logs = %+v", resp.Logs)
	}
	if !resp.HasMore || resp.NextCursor != "next" {
		t.Errorf("paging = %v %q", resp.HasMore, resp.NextCursor)
	}
}

func TestListLogs_EmptyIsArray(t *testing.T) {
	deps := newTestDeps(t)
	deps.HabitLogService.(*mockHabitLogService).listLogsFn = func(context.Context, string, string, int) (*habitlog.Page, error) {
		return &habitlog.Page{}, nil
	}

	w := httptest.NewRecorder()
	NewRouter(deps).ServeHTTP(w, authedRequest(t, http.MethodGet, "/api/habit-logs", nil, ""))

	if !strings.Contains(w.Body.String(), `"logs":[]`) {
		t.Errorf("body = %s, want empty logs array", w.Body.String())
	}
}

func TestListLogs_InvalidLimit(t *testing.T) {
	deps := newTestDeps(t)
	w := httptest.NewRecorder()
	NewRouter(deps).ServeHTTP(w, authedRequest(t, http.MethodGet, "/api/habit-logs?limit=abc", nil, ""))
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestGetLog_NotFound(t *testing.T) {
	deps := newTestDeps(t)
	deps.HabitLogService.(*mockHabitLogService).getLogFn = func(ctx context.Context, id string) (*model.ActivityLog, error) {
		if id != "missing" {
			t.Errorf("id = %q", id)
		}
		return nil, model.ErrNotFound
	}

	w := httptest.NewRecorder()
	NewRouter(deps).ServeHTTP(w, authedRequest(t, http.MethodGet, "/api/habit-logs/missing", nil, ""))

	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", w.Code)
	}
	if code := decodeError(t, w).Code; code != model.ErrCodeLogNotFound {
		t.Errorf("code = %q", code)
	}
}

func TestVerifyLog(t *testing.T) {
	deps := newTestDeps(t)
	verifiedAt := time.Date(2026, 10, 19, 9, 0, 0, 0, time.UTC)
	deps.VerificationService.(*mockVerificationService).verifyFn = func(ctx context.Context, logID string, verifier model.Identity) (*model.ActivityLog, error) {
		if logID != "log-1" || verifier.ID != "user-1" {
			t.Errorf("args = %q %+v", logID, verifier)
		}
		by := verifier.ID
		return &model.ActivityLog{ID: logID, Verified: true, VerifiedBy: &by, VerifiedAt: &verifiedAt}, nil
	}

	w := httptest.NewRecorder()
	NewRouter(deps).ServeHTTP(w, authedRequest(t, http.MethodPost, "/api/habit-logs/log-1/verify", nil, ""))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}
	var resp activityLogResponse
	json.NewDecoder(w.Body).Decode(&resp)
	if !resp.Verified || resp.VerifiedBy == nil || *resp.VerifiedBy != "user-1" {
		t.Errorf("resp = %+v", resp)
	}
}
