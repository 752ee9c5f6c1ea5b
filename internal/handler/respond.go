// Package handler はHTTP APIハンドラーを提供する。
package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/hitoshi/feedsync/internal/model"
)

// errorResponse は統一エラーフォーマットのレスポンス。
type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// writeJSON はJSONレスポンスを書き込む。
func writeJSON(w http.ResponseWriter, statusCode int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(body)
}

// writeError は統一エラーフォーマットでエラーレスポンスを書き込む。
func writeError(w http.ResponseWriter, statusCode int, code, message string) {
	writeJSON(w, statusCode, errorResponse{Code: code, Message: message})
}

// handleServiceError はサービス層の型付きエラーをHTTPステータスコードに変換する。
func handleServiceError(w http.ResponseWriter, err error) {
	var (
		validationErr *model.ValidationError
		notFoundErr   *model.NotFoundError
		duplicateErr  *model.DuplicateFeedError
		authErr       *model.AuthError
		parseErr      *model.ParseError
		formatErr     *model.UnknownFormatError
		networkErr    *model.NetworkError
		transportErr  *model.TransportError
	)

	switch {
	case errors.As(err, &validationErr):
		writeError(w, http.StatusBadRequest, "invalid_request", validationErr.Error())
	case errors.As(err, &notFoundErr):
		writeError(w, http.StatusNotFound, "not_found", notFoundErr.Error())
	case errors.As(err, &duplicateErr):
		writeError(w, http.StatusConflict, "duplicate_feed", duplicateErr.Error())
	case errors.As(err, &authErr):
		writeError(w, http.StatusUnauthorized, "auth_failed", authErr.Error())
	case errors.As(err, &parseErr):
		writeError(w, http.StatusUnprocessableEntity, "parse_failed", parseErr.Error())
	case errors.As(err, &formatErr):
		writeError(w, http.StatusUnprocessableEntity, "unknown_format", formatErr.Error())
	case errors.As(err, &networkErr):
		writeError(w, http.StatusBadGateway, "upstream_error", networkErr.Error())
	case errors.As(err, &transportErr):
		writeError(w, http.StatusBadGateway, "upstream_error", transportErr.Error())
	default:
		slog.Error("internal server error", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "internal_error", "内部エラーが発生しました。")
	}
}

// decodeBody はリクエストボディをJSONデコードする。
// 失敗した場合は400を書き込み、falseを返す。
func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "リクエストボディの解析に失敗しました。")
		return false
	}
	return true
}
