// Package apiclient はfitjourney APIのHTTPクライアントを提供する。
// clientサブコマンドが使用し、アクセストークンはTokenSourceから都度取得する。
package apiclient

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/hitoshi/fitjourney/internal/model"
	"github.com/hitoshi/fitjourney/internal/nutrition"
)

const defaultRequestTimeout = 60 * time.Second

// ErrRateLimited はAPIのレート制限に達したことを表す。
var ErrRateLimited = errors.New("rate limited")

// TokenSource は現在のアクセストークンを返す。サインインしていない場合はエラーを返す。
type TokenSource interface {
	AccessToken(ctx context.Context) (string, error)
}

// TokenSourceFunc は関数をTokenSourceとして扱うアダプタ。
type TokenSourceFunc func(ctx context.Context) (string, error)

// AccessToken はf(ctx)を呼ぶ。
func (f TokenSourceFunc) AccessToken(ctx context.Context) (string, error) {
	return f(ctx)
}

// Config はClientの設定。
type Config struct {
	BaseURL        string
	RequestTimeout time.Duration
}

// Client はfitjourney APIのクライアント。
type Client struct {
	client *resty.Client
	tokens TokenSource
}

// New はClientを生成する。
func New(cfg Config, tokens TokenSource) *Client {
	timeout := cfg.RequestTimeout
	if timeout == 0 {
		timeout = defaultRequestTimeout
	}
	c := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetHeader("Accept", "application/json").
		SetTimeout(timeout)
	return &Client{client: c, tokens: tokens}
}

// Error はAPIが返した統一エラーレスポンス。
// errors.Isでmodelのエラー種別(またはErrRateLimited)と比較できる。
type Error struct {
	Status     int
	Code       string `json:"code"`
	Message    string `json:"message"`
	Category   string `json:"category"`
	Action     string `json:"action"`
	RetryAfter time.Duration
}

func (e *Error) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("api error: status %d", e.Status)
	}
	return fmt.Sprintf("api error: status %d: [%s] %s", e.Status, e.Code, e.Message)
}

// Unwrap はステータスコードに対応するエラー種別を返す。
func (e *Error) Unwrap() error {
	switch e.Status {
	case http.StatusBadRequest, http.StatusRequestEntityTooLarge:
		return model.ErrValidation
	case http.StatusUnauthorized:
		return model.ErrAuth
	case http.StatusNotFound:
		return model.ErrNotFound
	case http.StatusUnprocessableEntity:
		return model.ErrMedia
	case http.StatusBadGateway:
		return model.ErrStorage
	case http.StatusGatewayTimeout:
		return model.ErrTimeout
	case http.StatusTooManyRequests:
		return ErrRateLimited
	default:
		return model.ErrUnexpected
	}
}

// --- レスポンス形式 ---

type activityLogDTO struct {
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

func (d *activityLogDTO) toModel() *model.ActivityLog {
	return &model.ActivityLog{
		ID:         d.ID,
		UserID:     d.UserID,
		UserEmail:  d.UserEmail,
		HabitType:  model.HabitType(d.HabitType),
		Note:       d.Note,
		PhotoURL:   d.PhotoURL,
		Verified:   d.Verified,
		VerifiedBy: d.VerifiedBy,
		VerifiedAt: d.VerifiedAt,
		CreatedAt:  d.CreatedAt,
	}
}

type createLogResponse struct {
	ID string `json:"id"`
}

type listLogsResponse struct {
	Logs       []activityLogDTO `json:"logs"`
	NextCursor string           `json:"next_cursor"`
	HasMore    bool             `json:"has_more"`
}

// LogPage は記録一覧の1ページ。
type LogPage struct {
	Logs       []*model.ActivityLog
	NextCursor string
	HasMore    bool
}

type metricDTO struct {
	Value int `json:"value"`
	Goal  int `json:"goal"`
}

func (m metricDTO) toModel() model.MetricReading {
	return model.MetricReading{Value: m.Value, Goal: m.Goal}
}

type waterLogDTO struct {
	ID        string    `json:"id"`
	Cups      int       `json:"cups"`
	CreatedAt time.Time `json:"created_at"`
}

type dashboardDTO struct {
	Steps         metricDTO `json:"steps"`
	Calories      metricDTO `json:"calories"`
	ActiveMinutes metricDTO `json:"active_minutes"`
	WaterCups     metricDTO `json:"water_cups"`
	DailyGoal     int       `json:"daily_goal"`
	Degraded      []string  `json:"degraded"`
}

type foodItemDTO struct {
	Name     string `json:"name"`
	Calories int    `json:"calories"`
	Protein  int    `json:"protein"`
	Carbs    int    `json:"carbs"`
	Fat      int    `json:"fat"`
}

type mealAnalysisDTO struct {
	Items []foodItemDTO `json:"items"`
	Total foodItemDTO   `json:"total"`
}

// --- 活動記録 ---

// CreateLogWithPhoto は写真ファイルを添付して記録を作成し、IDを返す。
func (c *Client) CreateLogWithPhoto(ctx context.Context, habitType, note, filename string, photo io.Reader) (string, error) {
	var out createLogResponse
	err := c.do(ctx, func(r *resty.Request) (*resty.Response, error) {
		return r.SetMultipartFormData(map[string]string{"habit_type": habitType, "note": note}).
			SetFileReader("photo", filename, photo).
			SetResult(&out).
			Post("/api/habit-logs")
	})
	if err != nil {
		return "", fmt.Errorf("failed to create log: %w", err)
	}
	return out.ID, nil
}

// CreateLogWithURL は公開URLの写真を指定して記録を作成し、IDを返す。
func (c *Client) CreateLogWithURL(ctx context.Context, habitType, note, photoURL string) (string, error) {
	var out createLogResponse
	err := c.do(ctx, func(r *resty.Request) (*resty.Response, error) {
		return r.SetBody(map[string]string{"habit_type": habitType, "note": note, "photo_url": photoURL}).
			SetResult(&out).
			Post("/api/habit-logs")
	})
	if err != nil {
		return "", fmt.Errorf("failed to create log: %w", err)
	}
	return out.ID, nil
}

// ListLogs は自分の記録を新しい順に返す。limitが0の場合はサーバーの既定値。
func (c *Client) ListLogs(ctx context.Context, cursor string, limit int) (*LogPage, error) {
	var out listLogsResponse
	err := c.do(ctx, func(r *resty.Request) (*resty.Response, error) {
		if cursor != "" {
			r.SetQueryParam("cursor", cursor)
		}
		if limit > 0 {
			r.SetQueryParam("limit", strconv.Itoa(limit))
		}
		return r.SetResult(&out).Get("/api/habit-logs")
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list logs: %w", err)
	}

	page := &LogPage{
		Logs:       make([]*model.ActivityLog, 0, len(out.Logs)),
		NextCursor: out.NextCursor,
		HasMore:    out.HasMore,
	}
	for i := range out.Logs {
		page.Logs = append(page.Logs, out.Logs[i].toModel())
	}
	return page, nil
}

// GetLog は記録を1件返す。
func (c *Client) GetLog(ctx context.Context, id string) (*model.ActivityLog, error) {
	var out activityLogDTO
	err := c.do(ctx, func(r *resty.Request) (*resty.Response, error) {
		return r.SetPathParam("id", id).SetResult(&out).Get("/api/habit-logs/{id}")
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get log: %w", err)
	}
	return out.toModel(), nil
}

// VerifyLog は記録を検証済みにし、更新後の記録を返す。
func (c *Client) VerifyLog(ctx context.Context, id string) (*model.ActivityLog, error) {
	var out activityLogDTO
	err := c.do(ctx, func(r *resty.Request) (*resty.Response, error) {
		return r.SetPathParam("id", id).SetResult(&out).Post("/api/habit-logs/{id}/verify")
	})
	if err != nil {
		return nil, fmt.Errorf("failed to verify log: %w", err)
	}
	return out.toModel(), nil
}

// --- 水分摂取・ダッシュボード・食事解析 ---

// AddWater は水分摂取を記録する。
func (c *Client) AddWater(ctx context.Context, cups int) (*model.WaterLog, error) {
	var out waterLogDTO
	err := c.do(ctx, func(r *resty.Request) (*resty.Response, error) {
		return r.SetBody(map[string]int{"cups": cups}).SetResult(&out).Post("/api/water-logs")
	})
	if err != nil {
		return nil, fmt.Errorf("failed to add water: %w", err)
	}
	return &model.WaterLog{ID: out.ID, Cups: out.Cups, CreatedAt: out.CreatedAt}, nil
}

// WaterToday は当日の摂取量を返す。
func (c *Client) WaterToday(ctx context.Context) (model.MetricReading, error) {
	var out metricDTO
	err := c.do(ctx, func(r *resty.Request) (*resty.Response, error) {
		return r.SetResult(&out).Get("/api/water-logs/today")
	})
	if err != nil {
		return model.MetricReading{}, fmt.Errorf("failed to get today's water: %w", err)
	}
	return out.toModel(), nil
}

// Dashboard は当日の活動サマリーを返す。
func (c *Client) Dashboard(ctx context.Context) (*model.ActivitySummary, error) {
	var out dashboardDTO
	err := c.do(ctx, func(r *resty.Request) (*resty.Response, error) {
		return r.SetResult(&out).Get("/api/dashboard")
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get dashboard: %w", err)
	}
	return &model.ActivitySummary{
		Steps:         out.Steps.toModel(),
		Calories:      out.Calories.toModel(),
		ActiveMinutes: out.ActiveMinutes.toModel(),
		WaterCups:     out.WaterCups.toModel(),
		DailyGoal:     out.DailyGoal,
		Degraded:      out.Degraded,
	}, nil
}

// AnalyzeMeal は食事写真を送信して栄養素の推定結果を返す。
func (c *Client) AnalyzeMeal(ctx context.Context, filename string, photo io.Reader) (*nutrition.Analysis, error) {
	var out mealAnalysisDTO
	err := c.do(ctx, func(r *resty.Request) (*resty.Response, error) {
		return r.SetFileReader("photo", filename, photo).SetResult(&out).Post("/api/meals/analyze")
	})
	if err != nil {
		return nil, fmt.Errorf("failed to analyze meal: %w", err)
	}

	analysis := &nutrition.Analysis{
		Items: make([]nutrition.FoodItem, 0, len(out.Items)),
		Total: nutrition.Nutrition{
			Calories: out.Total.Calories,
			Protein:  out.Total.Protein,
			Carbs:    out.Total.Carbs,
			Fat:      out.Total.Fat,
		},
	}
	for _, item := range out.Items {
		analysis.Items = append(analysis.Items, nutrition.FoodItem(item))
	}
	return analysis, nil
}

// do はアクセストークンを付与してリクエストを送り、エラーレスポンスを*Errorに変換する。
func (c *Client) do(ctx context.Context, send func(r *resty.Request) (*resty.Response, error)) error {
	token, err := c.tokens.AccessToken(ctx)
	if err != nil {
		return err
	}

	apiErr := &Error{}
	req := c.client.R().
		SetContext(ctx).
		SetAuthToken(token).
		SetError(apiErr)

	resp, err := send(req)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		return fmt.Errorf("%w: %v", model.ErrUnexpected, err)
	}
	if !resp.IsError() {
		return nil
	}

	apiErr.Status = resp.StatusCode()
	if v := resp.Header().Get("Retry-After"); v != "" {
		if sec, err := strconv.Atoi(v); err == nil {
			apiErr.RetryAfter = time.Duration(sec) * time.Second
		}
	}
	return apiErr
}
