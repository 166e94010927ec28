package middleware

import (
	"encoding/json"
	"net/http"

	"github.com/hitoshi/fitjourney/internal/model"
)

// ErrorResponseBody はAPIエラーレスポンスの統一フォーマット。
// 原因カテゴリと対処方法を含む。
type ErrorResponseBody struct {
	Code     string `json:"code"`
	Message  string `json:"message"`
	Category string `json:"category"`
	Action   string `json:"action"`
}

// WriteErrorResponse は統一エラーフォーマットでHTTPエラーレスポンスを書き込む。
func WriteErrorResponse(w http.ResponseWriter, statusCode int, apiErr *model.APIError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(ErrorResponseBody{
		Code:     apiErr.Code,
		Message:  apiErr.Message,
		Category: apiErr.Category,
		Action:   apiErr.Action,
	})
}

// WriteError はエラーの種別に応じたステータスコードで統一エラーレスポンスを書き込む。
func WriteError(w http.ResponseWriter, err error) {
	WriteErrorResponse(w, StatusCode(err), model.ToAPIError(err))
}

// StatusCode はエラー種別に対応するHTTPステータスコードを返す。
func StatusCode(err error) int {
	switch model.Kind(err) {
	case model.ErrValidation:
		return http.StatusBadRequest
	case model.ErrAuth:
		return http.StatusUnauthorized
	case model.ErrNotFound:
		return http.StatusNotFound
	case model.ErrMedia:
		return http.StatusUnprocessableEntity
	case model.ErrStorage:
		return http.StatusBadGateway
	case model.ErrTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// WriteInternalServerError は内部サーバーエラーの統一レスポンスを書き込む。
// 詳細はログのみに記録し、ユーザーには一般的なメッセージを返す。
func WriteInternalServerError(w http.ResponseWriter) {
	WriteErrorResponse(w, http.StatusInternalServerError, model.ToAPIError(model.ErrUnexpected))
}
