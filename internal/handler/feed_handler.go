package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/feedsync/internal/model"
)

// FeedServiceInterface はフィードハンドラーが必要とするサービスインターフェース。
type FeedServiceInterface interface {
	// AddFeedByURL はURLからフィードを検出しローカルアカウントへ登録する。
	AddFeedByURL(ctx context.Context, accountID, inputURL string) (*model.Feed, error)
	// GetFeed はフィード情報を取得する。
	GetFeed(ctx context.Context, feedID string) (*model.Feed, error)
	// ListFeeds はアカウントのフィード一覧を返す。
	ListFeeds(ctx context.Context, accountID string) ([]*model.Feed, error)
	// UpdateFeed はフィードの表示名とフォルダを更新する。
	UpdateFeed(ctx context.Context, feedID, name string, folderID *string) (*model.Feed, error)
	// ResumeSync は停止中フィードの同期を再開する。
	ResumeSync(ctx context.Context, feedID string) (*model.Feed, error)
	// Unsubscribe はフィードの購読を解除する。
	Unsubscribe(ctx context.Context, feedID string) error
}

// FeedHandler はフィード管理のHTTPハンドラー。
type FeedHandler struct {
	service FeedServiceInterface
}

// NewFeedHandler はFeedHandlerを生成する。
func NewFeedHandler(service FeedServiceInterface) *FeedHandler {
	return &FeedHandler{service: service}
}

// addFeedRequest はフィード登録リクエストのボディ。
// URLはフィードでもHTMLページでもよい。
type addFeedRequest struct {
	URL string `json:"url"`
}

// updateFeedRequest はフィード更新リクエストのボディ。
type updateFeedRequest struct {
	Name     string  `json:"name"`
	FolderID *string `json:"folder_id"`
}

// feedResponse はフィード情報のAPIレスポンス。
type feedResponse struct {
	ID                string    `json:"id"`
	AccountID         string    `json:"account_id"`
	FolderID          *string   `json:"folder_id"`
	URL               string    `json:"url"`
	SiteURL           string    `json:"site_url"`
	Name              string    `json:"name"`
	IconURL           string    `json:"icon_url"`
	SyncStatus        string    `json:"sync_status"`
	ConsecutiveErrors int       `json:"consecutive_errors"`
	ErrorMessage      string    `json:"error_message,omitempty"`
	NextSyncAt        time.Time `json:"next_sync_at"`
}

// AddFeed はフィード登録を処理する。
// POST /api/accounts/:id/feeds
func (h *FeedHandler) AddFeed(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "id")

	var req addFeedRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.URL == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "URLが空です。")
		return
	}

	feed, err := h.service.AddFeedByURL(r.Context(), accountID, req.URL)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, toFeedResponse(feed))
}

// ListFeeds はアカウントのフィード一覧を返す。
// GET /api/accounts/:id/feeds
func (h *FeedHandler) ListFeeds(w http.ResponseWriter, r *http.Request) {
	feeds, err := h.service.ListFeeds(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		handleServiceError(w, err)
		return
	}

	responses := make([]feedResponse, 0, len(feeds))
	for _, feed := range feeds {
		responses = append(responses, toFeedResponse(feed))
	}

	writeJSON(w, http.StatusOK, map[string]any{"feeds": responses})
}

// GetFeed はフィード詳細を取得する。
// GET /api/feeds/:id
func (h *FeedHandler) GetFeed(w http.ResponseWriter, r *http.Request) {
	feed, err := h.service.GetFeed(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toFeedResponse(feed))
}

// UpdateFeed はフィードの表示名とフォルダを更新する。
// PATCH /api/feeds/:id
func (h *FeedHandler) UpdateFeed(w http.ResponseWriter, r *http.Request) {
	var req updateFeedRequest
	if !decodeBody(w, r, &req) {
		return
	}

	feed, err := h.service.UpdateFeed(r.Context(), chi.URLParam(r, "id"), req.Name, req.FolderID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toFeedResponse(feed))
}

// ResumeSync は停止中フィードの同期を再開する。
// POST /api/feeds/:id/resume
func (h *FeedHandler) ResumeSync(w http.ResponseWriter, r *http.Request) {
	feed, err := h.service.ResumeSync(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toFeedResponse(feed))
}

// DeleteFeed はフィードの購読を解除する。
// DELETE /api/feeds/:id
func (h *FeedHandler) DeleteFeed(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Unsubscribe(r.Context(), chi.URLParam(r, "id")); err != nil {
		handleServiceError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// toFeedResponse はmodel.FeedからAPIレスポンスに変換する。
func toFeedResponse(feed *model.Feed) feedResponse {
	return feedResponse{
		ID:                feed.ID,
		AccountID:         feed.AccountID,
		FolderID:          feed.FolderID,
		URL:               feed.URL,
		SiteURL:           feed.SiteURL,
		Name:              feed.Name,
		IconURL:           feed.IconURL,
		SyncStatus:        string(feed.SyncStatus),
		ConsecutiveErrors: feed.ConsecutiveErrors,
		ErrorMessage:      feed.ErrorMessage,
		NextSyncAt:        feed.NextSyncAt,
	}
}
