package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/hitoshi/jobboard/internal/currency"
	"github.com/hitoshi/jobboard/internal/middleware"
	"github.com/hitoshi/jobboard/internal/model"
	"github.com/hitoshi/jobboard/internal/sessionsync"
)

// maxRequestBodySize はJSONリクエストボディの上限。
const maxRequestBodySize = 1 << 20

// writeJSON はステータスコードとともにJSONレスポンスを書き込む。
func writeJSON(w http.ResponseWriter, statusCode int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", slog.String("error", err.Error()))
	}
}

// writeAPIErrorResponse は統一エラーフォーマットでエラーレスポンスを書き込む。
func writeAPIErrorResponse(w http.ResponseWriter, statusCode int, apiErr *model.APIError) {
	middleware.WriteErrorResponse(w, statusCode, apiErr)
}

// newInvalidRequestError はリクエストボディを解釈できない場合のエラー。
func newInvalidRequestError() *model.APIError {
	return &model.APIError{
		Code:     "INVALID_REQUEST",
		Message:  "リクエストボディの解析に失敗しました。",
		Category: "validation",
		Action:   "正しいJSON形式でリクエストしてください。",
	}
}

// decodeJSON はリクエストボディをvに読み込む。失敗時は400を書き込みfalseを返す。
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBodySize))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, newInvalidRequestError())
		return false
	}
	return true
}

// requireUserID はセッションのユーザーIDを返す。無ければ401を書き込みfalseを返す。
func requireUserID(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		middleware.WriteUnauthorized(w)
		return "", false
	}
	return userID, true
}

// handleServiceError はサービス層から返されたエラーを適切なHTTPステータスコードに変換する。
func handleServiceError(w http.ResponseWriter, err error) {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		writeAPIErrorResponse(w, mapAPIErrorToHTTPStatus(apiErr), apiErr)
		return
	}

	var syncErr *sessionsync.SyncError
	if errors.As(err, &syncErr) && syncErr.Kind == sessionsync.KindProfileNotFound {
		writeAPIErrorResponse(w, http.StatusNotFound, model.NewProfileNotFoundError())
		return
	}

	switch {
	case errors.Is(err, model.ErrUnauthorized):
		middleware.WriteUnauthorized(w)
		return
	case errors.Is(err, currency.ErrRateUnavailable):
		writeAPIErrorResponse(w, http.StatusServiceUnavailable, &model.APIError{
			Code:     model.ErrCodeRateUnavailable,
			Message:  "換算レートを取得できません。",
			Category: "currency",
			Action:   "別の通貨を指定してください。",
		})
		return
	case errors.Is(err, sessionsync.ErrStopped):
		writeAPIErrorResponse(w, http.StatusServiceUnavailable, &model.APIError{
			Code:     model.ErrCodeShuttingDown,
			Message:  "サーバーが停止処理中です。",
			Category: "system",
			Action:   "しばらくしてから再度お試しください。",
		})
		return
	}

	// APIError以外のエラーは内部サーバーエラーとして扱う
	slog.Error("internal server error", slog.String("error", err.Error()))
	middleware.WriteInternalServerError(w)
}

// mapAPIErrorToHTTPStatus はAPIErrorコードからHTTPステータスコードにマッピングする。
func mapAPIErrorToHTTPStatus(apiErr *model.APIError) int {
	switch apiErr.Code {
	case model.ErrCodeInvalidURL, model.ErrCodeInvalidProfile, model.ErrCodeInvalidJob,
		model.ErrCodeInvalidCurrency, model.ErrCodeInvalidAmount, "INVALID_REQUEST":
		return http.StatusBadRequest
	case model.ErrCodeSSRFBlocked, model.ErrCodeEmployerOnly:
		return http.StatusForbidden
	case model.ErrCodeFeedNotDetected:
		return http.StatusUnprocessableEntity
	case model.ErrCodeFetchFailed:
		return http.StatusBadGateway
	case model.ErrCodeUserNotFound, model.ErrCodeProfileNotFound, model.ErrCodeJobNotFound,
		model.ErrCodeFeedNotFound:
		return http.StatusNotFound
	case model.ErrCodeRateUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
