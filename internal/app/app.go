// Package app はアプリケーションの起動と依存関係のワイヤリングを提供する。
package app

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/hitoshi/feedsync/internal/account"
	"github.com/hitoshi/feedsync/internal/config"
	"github.com/hitoshi/feedsync/internal/database"
	"github.com/hitoshi/feedsync/internal/feed"
	"github.com/hitoshi/feedsync/internal/folder"
	"github.com/hitoshi/feedsync/internal/handler"
	"github.com/hitoshi/feedsync/internal/item"
	"github.com/hitoshi/feedsync/internal/logger"
	"github.com/hitoshi/feedsync/internal/metrics"
	"github.com/hitoshi/feedsync/internal/middleware"
	"github.com/hitoshi/feedsync/internal/model"
	"github.com/hitoshi/feedsync/internal/repository"
	"github.com/hitoshi/feedsync/internal/security"
	"github.com/hitoshi/feedsync/internal/service"
	"github.com/hitoshi/feedsync/internal/service/fever"
	"github.com/hitoshi/feedsync/internal/service/freshrss"
	"github.com/hitoshi/feedsync/internal/service/nextcloud"
	syncpkg "github.com/hitoshi/feedsync/internal/sync"
	"github.com/hitoshi/feedsync/internal/worker/prune"
)

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w)

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

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
		return runMigrate(cfg)
	default:
		return runServe(cfg)
	}
}

// deps はワイヤリング済みの共有依存関係。
// serveとworkerで同じ構築手順を使う。
type deps struct {
	db *sql.DB

	accountRepo repository.AccountRepository
	folderRepo  repository.FolderRepository
	feedRepo    repository.FeedRepository
	itemRepo    repository.ItemRepository

	adapters    map[model.AccountType]service.Adapter
	fetcher     *feed.Fetcher
	reconciler  *syncpkg.Reconciler
	syncService *syncpkg.Service
	collector   *metrics.Collector
	registry    *prometheus.Registry
}

// buildDeps はDB接続からドメインサービスまでの依存関係を構築する。
func buildDeps(cfg *config.Config, db *sql.DB) *deps {
	log := slog.Default()

	// リポジトリ
	accountRepo := repository.NewPostgresAccountRepo(db)
	folderRepo := repository.NewPostgresFolderRepo(db)
	feedRepo := repository.NewPostgresFeedRepo(db)
	itemRepo := repository.NewPostgresItemRepo(db)

	// セキュリティ
	// フィードフェッチは常に厳格なガード、サービスAPIは設定に従う
	feedGuard := security.NewSSRFGuard()
	serviceGuard := security.NewServiceGuard(cfg.AllowPrivateServices)
	sanitizer := security.NewContentSanitizer()

	// フェッチャー
	fetcher := feed.NewFetcher(feedGuard, log, cfg.FetchTimeout, cfg.FetchMaxSize)

	// サービスアダプタ（FreshRSS / Nextcloud News / Fever）
	serviceHTTPClient := serviceGuard.NewSafeClient(service.DefaultTimeout, cfg.FetchMaxSize)
	adapters := map[model.AccountType]service.Adapter{
		model.AccountTypeFreshRSS:      freshrss.NewClient(serviceHTTPClient, log),
		model.AccountTypeNextcloudNews: nextcloud.NewClient(serviceHTTPClient, log),
		model.AccountTypeFever:         fever.NewClient(serviceHTTPClient, log),
	}

	// メトリクス
	registry := prometheus.NewRegistry()
	collector := metrics.NewCollector(registry)

	// リコンサイラ（フィード単位トランザクション）
	txRunner := database.NewTxRunner(db)
	reconciler := syncpkg.NewReconciler(
		txRunner,
		func(tx repository.DBTX) repository.ItemRepository {
			return repository.NewPostgresItemRepo(tx)
		},
		sanitizer,
		log,
		cfg.Retention(),
	)

	// 同期サービス
	syncService := syncpkg.NewService(
		accountRepo, folderRepo, feedRepo,
		fetcher, adapters, reconciler,
		collector, log,
		cfg.SyncMaxConcurrent, cfg.FeedSyncInterval,
	)

	return &deps{
		db:          db,
		accountRepo: accountRepo,
		folderRepo:  folderRepo,
		feedRepo:    feedRepo,
		itemRepo:    itemRepo,
		adapters:    adapters,
		fetcher:     fetcher,
		reconciler:  reconciler,
		syncService: syncService,
		collector:   collector,
		registry:    registry,
	}
}

// runServe はAPIサーバーモードで起動する。
// DB接続を開き、全依存関係をワイヤリングし、HTTPサーバーを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	slog.Info("database connection established")

	d := buildDeps(cfg, db)
	log := slog.Default()

	// フィード登録サービス
	feedGuard := security.NewSSRFGuard()
	detector := feed.NewDetector(feedGuard, cfg.FetchTimeout)
	iconResolver := feed.NewIconResolver(feedGuard, log)
	feedService := feed.NewService(
		d.accountRepo, d.feedRepo,
		detector, d.fetcher, iconResolver, d.reconciler,
		log,
	)

	// 記事サービス
	itemService := item.NewItemService(d.itemRepo, d.feedRepo, d.folderRepo)
	itemStateService := item.NewItemStateService(
		d.itemRepo, d.feedRepo, d.accountRepo, d.adapters, log,
	)

	// アカウント・フォルダサービス
	accountService := account.NewService(d.accountRepo, d.adapters, log)
	folderService := folder.NewService(d.folderRepo, d.accountRepo, log)

	// ルーター
	rateLimiter := middleware.NewRateLimiter(
		middleware.DefaultRateLimiterConfig(cfg.RateLimitGeneral),
	)
	defer rateLimiter.Stop()

	router := handler.NewRouter(&handler.RouterDeps{
		Logger:            log,
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		RateLimiter:       rateLimiter,
		HealthChecker:     db,
		MetricsHandler:    metrics.Handler(d.registry),

		AccountService:   accountService,
		FolderService:    folderService,
		FeedService:      feedService,
		ItemService:      itemService,
		ItemStateService: itemStateService,
		SyncService:      d.syncService,
	})

	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// グレースフルシャットダウンのためのシグナルハンドリング
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		slog.Info("API server starting",
			slog.String("addr", server.Addr),
		)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server listen error", slog.String("error", err.Error()))
		}
	}()

	<-stop
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
// 定期同期スケジューラと保持期限切れ記事の削除ジョブを実行する。
// SIGINTまたはSIGTERMシグナルを受信するとシャットダウンする。
func runWorker(cfg *config.Config) error {
	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	slog.Info("database connection established (worker)")

	d := buildDeps(cfg, db)
	log := slog.Default()

	scheduler := syncpkg.NewScheduler(d.accountRepo, d.syncService, log)

	pruneJob := prune.NewPruneJob(d.accountRepo, d.feedRepo, d.itemRepo, d.collector, log)
	pruneJob.Retention = cfg.Retention()

	// グレースフルシャットダウンのためのシグナルハンドリング
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-stop
		slog.Info("shutting down worker...")
		cancel()
	}()

	slog.Info("worker starting",
		slog.Duration("sync_interval", cfg.SyncInterval),
		slog.Int("max_concurrent", cfg.SyncMaxConcurrent),
	)

	// 削除ジョブをバックグラウンドで定期実行
	go pruneJob.Start(ctx, cfg.PruneInterval)

	// 同期スケジューラをメインgoroutineで実行（ブロッキング）
	scheduler.Start(ctx, cfg.SyncInterval)

	slog.Info("worker stopped gracefully")
	return nil
}

// runMigrate はデータベースマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config) error {
	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	if err := database.RunMigrations(cfg.DatabaseURL); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed successfully")
	return nil
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
