package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/hitoshi/fitjourney/internal/middleware"
	"github.com/hitoshi/fitjourney/internal/model"
)

// writeJSON はステータスコードとJSONボディを書き込む。
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", slog.String("error", err.Error()))
	}
}

// maxJSONBodyBytes はJSONリクエストボディの上限。写真はURLで渡すため小さくてよい。
const maxJSONBodyBytes = 16 << 10

// decodeJSON はリクエストボディをJSONとして読み込む。未知のフィールドは拒否する。
// maxJSONBodyBytesを超えるボディは*http.MaxBytesErrorになる。
func decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return err
	}
	return nil
}

// writeInvalidBody はボディの解析失敗を400または413で返す。
func writeInvalidBody(w http.ResponseWriter, err error) {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		middleware.WriteErrorResponse(w, http.StatusRequestEntityTooLarge, &model.APIError{
			Code:     model.ErrCodeInvalidInput,
			Message:  "リクエストが大きすぎます。",
			Category: "validation",
			Action:   "写真のサイズを小さくしてから、もう一度お試しください。",
		})
		return
	}
	middleware.WriteErrorResponse(w, http.StatusBadRequest, &model.APIError{
		Code:     model.ErrCodeInvalidInput,
		Message:  "リクエストボディの解析に失敗しました。",
		Category: "validation",
		Action:   "正しい形式でリクエストしてください。",
	})
}

// handleServiceError はサービス層のエラーを統一エラーレスポンスに変換する。
// 5xxになるエラーのみ詳細をログに残す。
func handleServiceError(w http.ResponseWriter, r *http.Request, err error) {
	status := middleware.StatusCode(err)
	if status >= http.StatusInternalServerError {
		slog.Error("request failed",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()),
		)
	}
	middleware.WriteError(w, err)
}

// requireIdentity は認証済みユーザーを取り出す。取得できない場合は401を書き込みfalseを返す。
func requireIdentity(w http.ResponseWriter, r *http.Request) (model.Identity, bool) {
	identity, err := middleware.IdentityFromContext(r.Context())
	if err != nil {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.ToAPIError(model.ErrAuth))
		return model.Identity{}, false
	}
	return identity, true
}
