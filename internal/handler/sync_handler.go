package handler

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/feedsync/internal/model"
)

// SyncServiceInterface は同期ハンドラーが必要とするサービスインターフェース。
type SyncServiceInterface interface {
	// SyncAccount はアカウント配下のフィードをバッチ同期し、
	// 入力順のSyncResultストリームを返す。
	SyncAccount(ctx context.Context, accountID string) (<-chan model.SyncResult, error)
}

// SyncHandler はオンデマンド同期のHTTPハンドラー。
type SyncHandler struct {
	service SyncServiceInterface
}

// NewSyncHandler はSyncHandlerを生成する。
func NewSyncHandler(service SyncServiceInterface) *SyncHandler {
	return &SyncHandler{service: service}
}

// syncResultLine はNDJSONストリームの1行分。
type syncResultLine struct {
	FeedID    string `json:"feed_id"`
	Succeeded bool   `json:"succeeded"`
	Skipped   bool   `json:"skipped"`
	Inserted  int    `json:"inserted"`
	Updated   int    `json:"updated"`
	Error     string `json:"error,omitempty"`
}

// SyncAccount はアカウント配下のフィードを同期し、フィードごとの結果を
// NDJSONでストリーミングする。結果はフィードの入力順で届く。
// POST /api/accounts/:id/sync
func (h *SyncHandler) SyncAccount(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "id")

	results, err := h.service.SyncAccount(r.Context(), accountID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.WriteHeader(http.StatusOK)

	flusher, _ := w.(http.Flusher)
	encoder := json.NewEncoder(w)

	for result := range results {
		line := syncResultLine{
			FeedID:    result.FeedID,
			Succeeded: result.Succeeded,
			Skipped:   result.Skipped,
			Inserted:  result.Inserted,
			Updated:   result.Updated,
		}
		if result.Err != nil {
			line.Error = result.Err.Error()
		}

		if err := encoder.Encode(line); err != nil {
			// クライアント切断。同期自体は完了まで継続されるため、
			// 送信側をブロックさせないよう残りの結果を読み捨てる。
			for range results {
			}
			return
		}
		if flusher != nil {
			flusher.Flush()
		}
	}
}
