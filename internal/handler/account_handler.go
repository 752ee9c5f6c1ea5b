package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/feedsync/internal/model"
)

// AccountServiceInterface はアカウントハンドラーが必要とするサービスインターフェース。
type AccountServiceInterface interface {
	CreateAccount(ctx context.Context, accountType model.AccountType, name, serviceURL, login, password string) (*model.Account, error)
	GetAccount(ctx context.Context, id string) (*model.Account, error)
	ListAccounts(ctx context.Context) ([]*model.Account, error)
	UpdateAccount(ctx context.Context, id, name, serviceURL, login, password string) (*model.Account, error)
	DeleteAccount(ctx context.Context, id string) error
}

// AccountHandler はアカウント管理のHTTPハンドラー。
type AccountHandler struct {
	service AccountServiceInterface
}

// NewAccountHandler はAccountHandlerを生成する。
func NewAccountHandler(service AccountServiceInterface) *AccountHandler {
	return &AccountHandler{service: service}
}

// createAccountRequest はアカウント作成リクエストのボディ。
type createAccountRequest struct {
	Type       string `json:"type"`
	Name       string `json:"name"`
	ServiceURL string `json:"service_url"`
	Login      string `json:"login"`
	Password   string `json:"password"`
}

// updateAccountRequest はアカウント更新リクエストのボディ。
// 空フィールドは変更なしとして扱う。
type updateAccountRequest struct {
	Name       string `json:"name"`
	ServiceURL string `json:"service_url"`
	Login      string `json:"login"`
	Password   string `json:"password"`
}

// accountResponse はアカウント情報のAPIレスポンス。
// パスワードは決して含めない。
type accountResponse struct {
	ID         string    `json:"id"`
	Type       string    `json:"type"`
	Name       string    `json:"name"`
	ServiceURL string    `json:"service_url,omitempty"`
	Login      string    `json:"login,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// CreateAccount はアカウント作成を処理する。
// POST /api/accounts
func (h *AccountHandler) CreateAccount(w http.ResponseWriter, r *http.Request) {
	var req createAccountRequest
	if !decodeBody(w, r, &req) {
		return
	}

	account, err := h.service.CreateAccount(
		r.Context(),
		model.AccountType(req.Type),
		req.Name, req.ServiceURL, req.Login, req.Password,
	)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, toAccountResponse(account))
}

// GetAccount はアカウント詳細を取得する。
// GET /api/accounts/:id
func (h *AccountHandler) GetAccount(w http.ResponseWriter, r *http.Request) {
	account, err := h.service.GetAccount(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toAccountResponse(account))
}

// ListAccounts はアカウント一覧を返す。
// GET /api/accounts
func (h *AccountHandler) ListAccounts(w http.ResponseWriter, r *http.Request) {
	accounts, err := h.service.ListAccounts(r.Context())
	if err != nil {
		handleServiceError(w, err)
		return
	}

	responses := make([]accountResponse, 0, len(accounts))
	for _, account := range accounts {
		responses = append(responses, toAccountResponse(account))
	}

	writeJSON(w, http.StatusOK, map[string]any{"accounts": responses})
}

// UpdateAccount はアカウントの部分更新を処理する。
// PATCH /api/accounts/:id
func (h *AccountHandler) UpdateAccount(w http.ResponseWriter, r *http.Request) {
	var req updateAccountRequest
	if !decodeBody(w, r, &req) {
		return
	}

	account, err := h.service.UpdateAccount(
		r.Context(), chi.URLParam(r, "id"),
		req.Name, req.ServiceURL, req.Login, req.Password,
	)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toAccountResponse(account))
}

// DeleteAccount はアカウント削除を処理する。
// DELETE /api/accounts/:id
func (h *AccountHandler) DeleteAccount(w http.ResponseWriter, r *http.Request) {
	if err := h.service.DeleteAccount(r.Context(), chi.URLParam(r, "id")); err != nil {
		handleServiceError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// toAccountResponse はmodel.AccountからAPIレスポンスに変換する。
func toAccountResponse(account *model.Account) accountResponse {
	return accountResponse{
		ID:         account.ID,
		Type:       string(account.Type),
		Name:       account.Name,
		ServiceURL: account.ServiceURL,
		Login:      account.Login,
		CreatedAt:  account.CreatedAt,
		UpdatedAt:  account.UpdatedAt,
	}
}
