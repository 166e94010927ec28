// Package app はサブコマンドごとの起動処理と依存関係のワイヤリングを行う。
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/hitoshi/fitjourney/internal/apiclient"
	"github.com/hitoshi/fitjourney/internal/auth"
	"github.com/hitoshi/fitjourney/internal/cli"
	"github.com/hitoshi/fitjourney/internal/config"
	"github.com/hitoshi/fitjourney/internal/dashboard"
	"github.com/hitoshi/fitjourney/internal/database"
	"github.com/hitoshi/fitjourney/internal/habitlog"
	"github.com/hitoshi/fitjourney/internal/handler"
	"github.com/hitoshi/fitjourney/internal/hydration"
	"github.com/hitoshi/fitjourney/internal/logger"
	"github.com/hitoshi/fitjourney/internal/media"
	"github.com/hitoshi/fitjourney/internal/metrics"
	"github.com/hitoshi/fitjourney/internal/middleware"
	"github.com/hitoshi/fitjourney/internal/model"
	"github.com/hitoshi/fitjourney/internal/nutrition"
	"github.com/hitoshi/fitjourney/internal/repository"
	"github.com/hitoshi/fitjourney/internal/security"
	"github.com/hitoshi/fitjourney/internal/session"
	"github.com/hitoshi/fitjourney/internal/storage"
	"github.com/hitoshi/fitjourney/internal/verification"
	"github.com/hitoshi/fitjourney/internal/worker/cleanup"
)

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w, slog.LevelInfo)

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	// 3. LOG_LEVELを反映する
	logger.SetupDefault(w, cfg.LogLevel)

	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	cmd := ParseCommand(args)

	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	if cmd == CommandHealthcheck {
		port := os.Getenv("SERVER_PORT")
		if port == "" {
			port = "8080"
		}
		return runHealthcheck(port)
	}

	// client はサーバー用の設定を必要としない
	if cmd == CommandClient {
		return runClient(os.Stdout, args[1:])
	}

	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("port", cfg.ServerPort),
	)

	switch cmd {
	case CommandServe:
		return runServe(cfg)
	case CommandWorker:
		return runWorker(cfg)
	case CommandMigrate:
		return runMigrate(cfg, args[1:])
	default:
		return runServe(cfg)
	}
}

// openDatabase はDB接続を開き、疎通を確認する。
func openDatabase(databaseURL string) (*sql.DB, error) {
	db, err := database.Open(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return db, nil
}

// newStorageGateway はSupabase Storageのゲートウェイを生成する。
func newStorageGateway(cfg *config.Config) *storage.SupabaseGateway {
	return storage.NewSupabaseGateway(storage.SupabaseConfig{
		BaseURL:        cfg.SupabaseURL,
		ServiceKey:     cfg.SupabaseServiceKey,
		RequestTimeout: 30 * time.Second,
	})
}

// runServe はAPIサーバーモードで起動する。
// DB接続を開き、全依存関係をワイヤリングし、HTTPサーバーを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
	// 1. DB接続
	db, err := openDatabase(cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer db.Close()

	slog.Info("database connection established")

	// 2. リポジトリとメトリクスの初期化
	logRepo := repository.NewPostgresActivityLogRepo(db)
	waterRepo := repository.NewPostgresWaterLogRepo(db)

	registry := prometheus.NewRegistry()
	collector := metrics.NewCollector(registry)

	// 3. 写真処理とストレージの初期化
	photoGuard := security.NewPhotoFetchGuard()
	loader := media.NewSourceLoader(photoGuard, cfg.PhotoFetchTimeout, cfg.PhotoSourceMaxBytes)
	processor := media.NewProcessor(loader, cfg.PhotoMaxPixels)
	gateway := newStorageGateway(cfg)

	// 4. ドメインサービスの初期化
	habitService := habitlog.NewService(logRepo, processor, gateway, collector, slog.Default(), habitlog.Config{
		Container:      cfg.PhotoBucket,
		MaxObjectBytes: cfg.PhotoMaxBytes,
		CacheControl:   cfg.PhotoCacheControl,
	})
	verificationService := verification.NewService(logRepo, collector, slog.Default(), cfg.AllowSelfVerification)
	hydrationService := hydration.NewService(waterRepo, cfg.DashboardLocation, slog.Default())

	simulated := dashboard.NewSimulated(nil)
	dashboardService := dashboard.NewService(
		dashboard.DefaultProviders(simulated, hydrationService),
		cfg.DashboardPartialResults, collector, slog.Default(),
	)
	mealService := nutrition.NewService(processor, nil, slog.Default())

	// 5. ルーターの構築
	rateLimiter := middleware.NewRateLimiter(
		middleware.PerMinuteRateLimiterConfig(cfg.RateLimitGeneral, cfg.RateLimitUpload),
	)
	defer rateLimiter.Stop()

	deps := &handler.RouterDeps{
		TokenVerifier:     middleware.NewTokenVerifier(cfg.JWTSecret, cfg.JWTAudience),
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		RateLimiter:       rateLimiter,
		Logger:            slog.Default(),
		Metrics:           collector,

		HealthChecker:  db,
		MetricsHandler: metrics.SetupMetricsRoute(registry),

		HabitLogService:     habitService,
		VerificationService: verificationService,
		MaxUploadBytes:      cfg.PhotoSourceMaxBytes,

		HydrationService: hydrationService,
		DashboardService: dashboardService,
		MealAnalyzer:     mealService,
	}

	router := handler.NewRouter(deps)

	// 6. HTTPサーバーの起動
	// 写真の取得・変換・アップロードを含むため、書き込みタイムアウトは長めに取る
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// グレースフルシャットダウンのためのシグナルハンドリング
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	serverErr := make(chan error, 1)
	go func() {
		slog.Info("API server starting",
			slog.String("addr", server.Addr),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case <-stop:
	case err := <-serverErr:
		return fmt.Errorf("server listen error: %w", err)
	}
	slog.Info("shutting down API server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("API server stopped gracefully")
	return nil
}

// runWorker はワーカーモードで起動する。
// DB接続を開き、未参照写真の削除ジョブを定期実行する。
// SIGINTまたはSIGTERMシグナルを受信するとシャットダウンする。
func runWorker(cfg *config.Config) error {
	// 1. DB接続
	db, err := openDatabase(cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer db.Close()

	slog.Info("database connection established (worker)")

	// 2. 依存関係の初期化
	logRepo := repository.NewPostgresActivityLogRepo(db)
	gateway := newStorageGateway(cfg)
	collector := metrics.NewCollector(prometheus.NewRegistry())

	sweeper := cleanup.NewSweeper(gateway, logRepo, collector, slog.Default(), cleanup.Config{
		Container:   cfg.PhotoBucket,
		GracePeriod: cfg.OrphanGracePeriod,
	})

	// グレースフルシャットダウンのためのシグナルハンドリング
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	slog.Info("worker starting",
		slog.Duration("sweep_interval", cfg.OrphanSweepInterval),
		slog.Duration("grace_period", cfg.OrphanGracePeriod),
	)

	// 削除ジョブをメインgoroutineで実行（ブロッキング）
	sweeper.Start(ctx, cfg.OrphanSweepInterval)

	slog.Info("worker stopped gracefully")
	return nil
}

// runMigrate はデータベースマイグレーションを実行する。
// 引数なしではすべての未適用マイグレーションを順番に適用し、"down"ではすべてを巻き戻す。
func runMigrate(cfg *config.Config, args []string) error {
	if len(args) > 0 && args[0] == "down" {
		slog.Warn("rolling back database migrations",
			slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
		)
		if err := database.RollbackMigrations(cfg.DatabaseURL); err != nil {
			return fmt.Errorf("rollback failed: %w", err)
		}
		slog.Info("database migrations rolled back")
		return nil
	}

	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	if err := database.RunMigrations(cfg.DatabaseURL); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed successfully")
	return nil
}

// runClient はclientサブコマンドを実行する。
// 端末に保存したセッションを復元し、期限が近ければ更新してからAPIを呼び出す。
// ログは標準出力を汚さないよう標準エラー出力に書く。
func runClient(out io.Writer, args []string) error {
	cfg, err := config.LoadClient()
	if err != nil {
		return fmt.Errorf("failed to load client config: %w", err)
	}
	log := logger.SetupDefault(os.Stderr, cfg.LogLevel)

	if err := os.MkdirAll(filepath.Dir(cfg.SessionCachePath), 0o700); err != nil {
		return fmt.Errorf("failed to create session cache directory: %w", err)
	}
	cacheDB, err := database.OpenSQLite(cfg.SessionCachePath)
	if err != nil {
		return fmt.Errorf("failed to open session cache: %w", err)
	}
	defer cacheDB.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cache, err := repository.NewSQLiteSessionCache(ctx, cacheDB)
	if err != nil {
		return err
	}

	provider := auth.NewGoTrueClient(auth.GoTrueConfig{
		BaseURL:        cfg.SupabaseURL,
		APIKey:         cfg.SupabaseAnonKey,
		RequestTimeout: cfg.AuthTimeout,
	})
	store := session.NewStore(provider, cache, log, session.Config{AuthTimeout: cfg.AuthTimeout})
	unsubscribe := store.OnSessionChange(func(event session.Event, s *model.Session) {
		log.Debug("session changed", slog.String("event", string(event)))
	})
	defer unsubscribe()
	store.Restore(ctx)

	api := apiclient.New(apiclient.Config{BaseURL: cfg.APIBaseURL}, cli.TokenSource(store))

	cmd := cli.NewCommand(&cli.Env{Session: store, API: api, Out: out})
	cmd.SetArgs(args)
	return cmd.ExecuteContext(ctx)
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	url := fmt.Sprintf("http://localhost:%s/health", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// maskDatabaseURL はデータベースURLの認証情報をマスクする。
func maskDatabaseURL(url string) string {
	if len(url) > 20 {
		return url[:12] + "***@..."
	}
	return "***"
}
