package handler

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/hitoshi/fitjourney/internal/habitlog"
	"github.com/hitoshi/fitjourney/internal/middleware"
	"github.com/hitoshi/fitjourney/internal/model"
	"github.com/hitoshi/fitjourney/internal/nutrition"
)

const testJWTSecret = "handler-test-secret"

// --- モック ---

type mockHabitLogService struct {
	logActivityFn func(ctx context.Context, req habitlog.Request) (string, error)
	listLogsFn    func(ctx context.Context, userID, cursor string, limit int) (*habitlog.Page, error)
	getLogFn      func(ctx context.Context, id string) (*model.ActivityLog, error)
}

func (m *mockHabitLogService) LogActivity(ctx context.Context, req habitlog.Request) (string, error) {
	return m.logActivityFn(ctx, req)
}

func (m *mockHabitLogService) ListLogs(ctx context.Context, userID, cursor string, limit int) (*habitlog.Page, error) {
	return m.listLogsFn(ctx, userID, cursor, limit)
}

func (m *mockHabitLogService) GetLog(ctx context.Context, id string) (*model.ActivityLog, error) {
	return m.getLogFn(ctx, id)
}

type mockVerificationService struct {
	verifyFn func(ctx context.Context, logID string, verifier model.Identity) (*model.ActivityLog, error)
}

func (m *mockVerificationService) Verify(ctx context.Context, logID string, verifier model.Identity) (*model.ActivityLog, error) {
	return m.verifyFn(ctx, logID, verifier)
}

type mockHydrationService struct {
	addCupsFn func(ctx context.Context, user model.Identity, cups int) (*model.WaterLog, error)
	todayFn   func(ctx context.Context, userID string) (model.MetricReading, error)
}

func (m *mockHydrationService) AddCups(ctx context.Context, user model.Identity, cups int) (*model.WaterLog, error) {
	return m.addCupsFn(ctx, user, cups)
}

func (m *mockHydrationService) Today(ctx context.Context, userID string) (model.MetricReading, error) {
	return m.todayFn(ctx, userID)
}

type mockDashboardService struct {
	summaryFn func(ctx context.Context, user model.Identity) (*model.ActivitySummary, error)
}

func (m *mockDashboardService) Summary(ctx context.Context, user model.Identity) (*model.ActivitySummary, error) {
	return m.summaryFn(ctx, user)
}

type mockMealAnalyzer struct {
	analyzeBytesFn func(ctx context.Context, data []byte) (*nutrition.Analysis, error)
	analyzeRefFn   func(ctx context.Context, ref string) (*nutrition.Analysis, error)
}

func (m *mockMealAnalyzer) AnalyzeBytes(ctx context.Context, data []byte) (*nutrition.Analysis, error) {
	return m.analyzeBytesFn(ctx, data)
}

func (m *mockMealAnalyzer) AnalyzeRef(ctx context.Context, ref string) (*nutrition.Analysis, error) {
	return m.analyzeRefFn(ctx, ref)
}

type mockHealthChecker struct {
	err error
}

func (m *mockHealthChecker) PingContext(ctx context.Context) error {
	return m.err
}

// --- ヘルパー ---

// testToken はtestJWTSecretで署名したアクセストークンを返す。
func testToken(t *testing.T, userID, email string) string {
	t.Helper()
	claims := middleware.AccessClaims{
		Email: email,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			Audience:  jwt.ClaimStrings{"authenticated"},
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testJWTSecret))
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}
	return token
}

// newTestDeps はテスト用のRouterDepsを返す。サービスは呼ばれると失敗するモックで埋める。
func newTestDeps(t *testing.T) *RouterDeps {
	t.Helper()
	rl := middleware.NewRateLimiter(middleware.PerMinuteRateLimiterConfig(600, 600))
	t.Cleanup(rl.Stop)

	unexpected := func(name string) {
		t.Errorf("unexpected call to %s", name)
	}

	return &RouterDeps{
		TokenVerifier:     middleware.NewTokenVerifier(testJWTSecret, "authenticated"),
		CORSAllowedOrigin: "http://localhost:19006",
		RateLimiter:       rl,
		HealthChecker:     &mockHealthChecker{},
		MaxUploadBytes:    1 << 20,
		HabitLogService: &mockHabitLogService{
			logActivityFn: func(context.Context, habitlog.Request) (string, error) {
				unexpected("LogActivity")
				return "", nil
			},
			listLogsFn: func(context.Context, string, string, int) (*habitlog.Page, error) {
				unexpected("ListLogs")
				return &habitlog.Page{}, nil
			},
			getLogFn: func(context.Context, string) (*model.ActivityLog, error) {
				unexpected("GetLog")
				return &model.ActivityLog{}, nil
			},
		},
		VerificationService: &mockVerificationService{
			verifyFn: func(context.Context, string, model.Identity) (*model.ActivityLog, error) {
				unexpected("Verify")
				return &model.ActivityLog{}, nil
			},
		},
		HydrationService: &mockHydrationService{
			addCupsFn: func(context.Context, model.Identity, int) (*model.WaterLog, error) {
				unexpected("AddCups")
				return &model.WaterLog{}, nil
			},
			todayFn: func(context.Context, string) (model.MetricReading, error) {
				unexpected("Today")
				return model.MetricReading{}, nil
			},
		},
		DashboardService: &mockDashboardService{
			summaryFn: func(context.Context, model.Identity) (*model.ActivitySummary, error) {
				unexpected("Summary")
				return &model.ActivitySummary{}, nil
			},
		},
		MealAnalyzer: &mockMealAnalyzer{
			analyzeBytesFn: func(context.Context, []byte) (*nutrition.Analysis, error) {
				unexpected("AnalyzeBytes")
				return &nutrition.Analysis{}, nil
			},
			analyzeRefFn: func(context.Context, string) (*nutrition.Analysis, error) {
				unexpected("AnalyzeRef")
				return &nutrition.Analysis{}, nil
			},
		},
	}
}
