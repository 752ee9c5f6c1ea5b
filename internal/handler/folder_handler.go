package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/feedsync/internal/model"
)

// FolderServiceInterface はフォルダハンドラーが必要とするサービスインターフェース。
type FolderServiceInterface interface {
	ListFolders(ctx context.Context, accountID string) ([]*model.Folder, error)
	CreateFolder(ctx context.Context, accountID, name string) (*model.Folder, error)
	RenameFolder(ctx context.Context, folderID, name string) (*model.Folder, error)
	DeleteFolder(ctx context.Context, folderID string) error
}

// FolderHandler はフォルダ管理のHTTPハンドラー。
type FolderHandler struct {
	service FolderServiceInterface
}

// NewFolderHandler はFolderHandlerを生成する。
func NewFolderHandler(service FolderServiceInterface) *FolderHandler {
	return &FolderHandler{service: service}
}

// folderRequest はフォルダ作成・更新リクエストのボディ。
type folderRequest struct {
	Name string `json:"name"`
}

// folderResponse はフォルダ情報のAPIレスポンス。
type folderResponse struct {
	ID        string `json:"id"`
	AccountID string `json:"account_id"`
	Name      string `json:"name"`
}

// ListFolders はアカウントのフォルダ一覧を返す。
// GET /api/accounts/:id/folders
func (h *FolderHandler) ListFolders(w http.ResponseWriter, r *http.Request) {
	folders, err := h.service.ListFolders(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		handleServiceError(w, err)
		return
	}

	responses := make([]folderResponse, 0, len(folders))
	for _, folder := range folders {
		responses = append(responses, toFolderResponse(folder))
	}

	writeJSON(w, http.StatusOK, map[string]any{"folders": responses})
}

// CreateFolder はフォルダ作成を処理する。
// POST /api/accounts/:id/folders
func (h *FolderHandler) CreateFolder(w http.ResponseWriter, r *http.Request) {
	var req folderRequest
	if !decodeBody(w, r, &req) {
		return
	}

	folder, err := h.service.CreateFolder(r.Context(), chi.URLParam(r, "id"), req.Name)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, toFolderResponse(folder))
}

// RenameFolder はフォルダ名の変更を処理する。
// PATCH /api/folders/:id
func (h *FolderHandler) RenameFolder(w http.ResponseWriter, r *http.Request) {
	var req folderRequest
	if !decodeBody(w, r, &req) {
		return
	}

	folder, err := h.service.RenameFolder(r.Context(), chi.URLParam(r, "id"), req.Name)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toFolderResponse(folder))
}

// DeleteFolder はフォルダ削除を処理する。
// DELETE /api/folders/:id
func (h *FolderHandler) DeleteFolder(w http.ResponseWriter, r *http.Request) {
	if err := h.service.DeleteFolder(r.Context(), chi.URLParam(r, "id")); err != nil {
		handleServiceError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// toFolderResponse はmodel.FolderからAPIレスポンスに変換する。
func toFolderResponse(folder *model.Folder) folderResponse {
	return folderResponse{
		ID:        folder.ID,
		AccountID: folder.AccountID,
		Name:      folder.Name,
	}
}
