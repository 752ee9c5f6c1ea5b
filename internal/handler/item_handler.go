package handler

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/feedsync/internal/item"
	"github.com/hitoshi/feedsync/internal/model"
)

// 記事一覧のページサイズの既定値と上限。
const (
	defaultItemLimit = 50
	maxItemLimit     = 200
)

// ItemServiceInterface は記事ハンドラーが必要とするサービスインターフェース。
type ItemServiceInterface interface {
	ListByFeed(ctx context.Context, feedID string, filter model.ItemFilter, cursor string, limit int) (*item.ItemListResult, error)
	ListByFolder(ctx context.Context, folderID string, filter model.ItemFilter, cursor string, limit int) (*item.ItemListResult, error)
	ListByAccount(ctx context.Context, accountID string, filter model.ItemFilter, cursor string, limit int) (*item.ItemListResult, error)
	GetItem(ctx context.Context, itemID string) (*item.ItemDetail, error)
	CountUnread(ctx context.Context, feedID string) (int, error)
}

// ItemStateServiceInterface は既読・スター状態変更のインターフェース。
type ItemStateServiceInterface interface {
	SetReadState(ctx context.Context, itemID string, read bool) error
	SetStarState(ctx context.Context, itemID string, starred bool) error
}

// ItemHandler は記事閲覧と状態変更のHTTPハンドラー。
type ItemHandler struct {
	service      ItemServiceInterface
	stateService ItemStateServiceInterface
}

// NewItemHandler はItemHandlerを生成する。
func NewItemHandler(service ItemServiceInterface, stateService ItemStateServiceInterface) *ItemHandler {
	return &ItemHandler{
		service:      service,
		stateService: stateService,
	}
}

// itemSummaryResponse は記事一覧1件分のAPIレスポンス。
type itemSummaryResponse struct {
	ID        string    `json:"id"`
	FeedID    string    `json:"feed_id"`
	Title     string    `json:"title"`
	Link      string    `json:"link"`
	Author    string    `json:"author,omitempty"`
	ImageURL  string    `json:"image_url,omitempty"`
	PubDate   time.Time `json:"pub_date"`
	ReadTime  float64   `json:"read_time"`
	IsRead    bool      `json:"is_read"`
	IsStarred bool      `json:"is_starred"`
}

// itemListResponse は記事一覧のAPIレスポンス。
type itemListResponse struct {
	Items      []itemSummaryResponse `json:"items"`
	NextCursor string                `json:"next_cursor,omitempty"`
	HasMore    bool                  `json:"has_more"`
}

// itemDetailResponse は記事詳細のAPIレスポンス。
type itemDetailResponse struct {
	itemSummaryResponse
	Content string `json:"content"`
}

// updateItemStateRequest は既読・スター状態変更リクエストのボディ。
// nilのフィールドは変更なしとして扱う。
type updateItemStateRequest struct {
	Read    *bool `json:"read"`
	Starred *bool `json:"starred"`
}

// ListFeedItems はフィードごとの記事一覧を返す。
// GET /api/feeds/:id/items?filter=unread&cursor=...&limit=50
func (h *ItemHandler) ListFeedItems(w http.ResponseWriter, r *http.Request) {
	filter, cursor, limit, ok := parseItemListQuery(w, r)
	if !ok {
		return
	}

	result, err := h.service.ListByFeed(r.Context(), chi.URLParam(r, "id"), filter, cursor, limit)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toItemListResponse(result))
}

// ListFolderItems はフォルダ配下のフィード横断の記事一覧を返す。
// GET /api/folders/:id/items?filter=unread&cursor=...&limit=50
func (h *ItemHandler) ListFolderItems(w http.ResponseWriter, r *http.Request) {
	filter, cursor, limit, ok := parseItemListQuery(w, r)
	if !ok {
		return
	}

	result, err := h.service.ListByFolder(r.Context(), chi.URLParam(r, "id"), filter, cursor, limit)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toItemListResponse(result))
}

// ListAccountItems はアカウント横断の記事一覧を返す。
// GET /api/accounts/:id/items?filter=starred&cursor=...&limit=50
func (h *ItemHandler) ListAccountItems(w http.ResponseWriter, r *http.Request) {
	filter, cursor, limit, ok := parseItemListQuery(w, r)
	if !ok {
		return
	}

	result, err := h.service.ListByAccount(r.Context(), chi.URLParam(r, "id"), filter, cursor, limit)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toItemListResponse(result))
}

// GetItem は記事詳細を返す。
// GET /api/items/:id
func (h *ItemHandler) GetItem(w http.ResponseWriter, r *http.Request) {
	detail, err := h.service.GetItem(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, itemDetailResponse{
		itemSummaryResponse: toItemSummaryResponse(detail.ItemSummary),
		Content:             detail.Content,
	})
}

// CountUnread はフィードの未読記事数を返す。
// GET /api/feeds/:id/unread_count
func (h *ItemHandler) CountUnread(w http.ResponseWriter, r *http.Request) {
	count, err := h.service.CountUnread(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]int{"unread_count": count})
}

// UpdateItemState は記事の既読・スター状態を変更する。
// PUT /api/items/:id/state
// サービスアカウントの記事では変更がリモートサービスへも反映される。
func (h *ItemHandler) UpdateItemState(w http.ResponseWriter, r *http.Request) {
	itemID := chi.URLParam(r, "id")

	var req updateItemStateRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Read == nil && req.Starred == nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "readまたはstarredのいずれかを指定してください。")
		return
	}

	if req.Read != nil {
		if err := h.stateService.SetReadState(r.Context(), itemID, *req.Read); err != nil {
			handleServiceError(w, err)
			return
		}
	}
	if req.Starred != nil {
		if err := h.stateService.SetStarState(r.Context(), itemID, *req.Starred); err != nil {
			handleServiceError(w, err)
			return
		}
	}

	w.WriteHeader(http.StatusNoContent)
}

// parseItemListQuery は一覧クエリパラメータを解析する。
// 不正な値の場合はエラーレスポンスを書き込みfalseを返す。
func parseItemListQuery(w http.ResponseWriter, r *http.Request) (model.ItemFilter, string, int, bool) {
	query := r.URL.Query()

	filter := model.ItemFilter(query.Get("filter"))
	if filter == "" {
		filter = model.ItemFilterAll
	}

	limit := defaultItemLimit
	if raw := query.Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			writeError(w, http.StatusBadRequest, "invalid_request", "limitは1以上の整数を指定してください。")
			return "", "", 0, false
		}
		if parsed > maxItemLimit {
			parsed = maxItemLimit
		}
		limit = parsed
	}

	return filter, query.Get("cursor"), limit, true
}

// toItemListResponse はItemListResultからAPIレスポンスに変換する。
func toItemListResponse(result *item.ItemListResult) itemListResponse {
	items := make([]itemSummaryResponse, 0, len(result.Items))
	for _, summary := range result.Items {
		items = append(items, toItemSummaryResponse(summary))
	}

	return itemListResponse{
		Items:      items,
		NextCursor: result.NextCursor,
		HasMore:    result.HasMore,
	}
}

// toItemSummaryResponse はItemSummaryからAPIレスポンスに変換する。
func toItemSummaryResponse(summary item.ItemSummary) itemSummaryResponse {
	return itemSummaryResponse{
		ID:        summary.ID,
		FeedID:    summary.FeedID,
		Title:     summary.Title,
		Link:      summary.Link,
		Author:    summary.Author,
		ImageURL:  summary.ImageURL,
		PubDate:   summary.PubDate,
		ReadTime:  summary.ReadTime,
		IsRead:    summary.IsRead,
		IsStarred: summary.IsStarred,
	}
}
