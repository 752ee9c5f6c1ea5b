package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/feedsync/internal/middleware"
)

// HealthChecker はDB疎通確認のインターフェース。
// *sql.DBが満たす。
type HealthChecker interface {
	PingContext(ctx context.Context) error
}

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	Logger            *slog.Logger
	CORSAllowedOrigin string
	RateLimiter       *middleware.RateLimiter

	HealthChecker  HealthChecker
	MetricsHandler http.Handler

	AccountService   AccountServiceInterface
	FolderService    FolderServiceInterface
	FeedService      FeedServiceInterface
	ItemService      ItemServiceInterface
	ItemStateService ItemStateServiceInterface
	SyncService      SyncServiceInterface
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Recovery → Logging → CORS → RateLimit（/api配下のみ）
//
// /health と /metrics はレート制限の外に配置する。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(middleware.NewLoggingMiddleware(deps.Logger))
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))

	accountHandler := NewAccountHandler(deps.AccountService)
	folderHandler := NewFolderHandler(deps.FolderService)
	feedHandler := NewFeedHandler(deps.FeedService)
	itemHandler := NewItemHandler(deps.ItemService, deps.ItemStateService)
	syncHandler := NewSyncHandler(deps.SyncService)

	// ヘルスチェック
	r.Get("/health", func(w http.ResponseWriter, req *http.Request) {
		if deps.HealthChecker != nil {
			if err := deps.HealthChecker.PingContext(req.Context()); err != nil {
				writeError(w, http.StatusServiceUnavailable, "unhealthy", "データベースに接続できません。")
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	// Prometheusスクレイプ用エンドポイント
	if deps.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", deps.MetricsHandler)
	}

	// --- APIルート ---
	r.Group(func(r chi.Router) {
		if deps.RateLimiter != nil {
			r.Use(deps.RateLimiter.Middleware())
		}

		// アカウント管理
		r.Route("/api/accounts", func(r chi.Router) {
			r.Get("/", accountHandler.ListAccounts)
			r.Post("/", accountHandler.CreateAccount)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", accountHandler.GetAccount)
				r.Patch("/", accountHandler.UpdateAccount)
				r.Delete("/", accountHandler.DeleteAccount)

				// フォルダ管理
				r.Get("/folders", folderHandler.ListFolders)
				r.Post("/folders", folderHandler.CreateFolder)

				// フィード登録と一覧
				r.Get("/feeds", feedHandler.ListFeeds)
				r.Post("/feeds", feedHandler.AddFeed)

				// アカウント横断の記事一覧
				r.Get("/items", itemHandler.ListAccountItems)

				// オンデマンド同期（NDJSONストリーミング）
				r.Post("/sync", syncHandler.SyncAccount)
			})
		})

		// フォルダ管理
		r.Route("/api/folders/{id}", func(r chi.Router) {
			r.Patch("/", folderHandler.RenameFolder)
			r.Delete("/", folderHandler.DeleteFolder)

			r.Get("/items", itemHandler.ListFolderItems)
		})

		// フィード管理
		r.Route("/api/feeds/{id}", func(r chi.Router) {
			r.Get("/", feedHandler.GetFeed)
			r.Patch("/", feedHandler.UpdateFeed)
			r.Delete("/", feedHandler.DeleteFeed)
			r.Post("/resume", feedHandler.ResumeSync)

			r.Get("/items", itemHandler.ListFeedItems)
			r.Get("/unread_count", itemHandler.CountUnread)
		})

		// 記事管理
		r.Route("/api/items/{id}", func(r chi.Router) {
			r.Get("/", itemHandler.GetItem)
			r.Put("/state", itemHandler.UpdateItemState)
		})
	})

	return r
}
