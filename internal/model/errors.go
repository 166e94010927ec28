// Package model はドメインモデルを定義する。
package model

import (
	"errors"
	"fmt"
)

// エラー種別。errors.Isで判定できるよう、各層はこれらをラップして返す。
var (
	// ErrValidation は入力の欠落・形式不正。I/Oの前に検出される。
	ErrValidation = errors.New("validation error")
	// ErrAuth はIDプロバイダによる認証情報・セッションの拒否。
	ErrAuth = errors.New("authentication error")
	// ErrTimeout は認証呼び出しの待機上限超過。
	ErrTimeout = errors.New("timeout")
	// ErrMedia は画像の読み込み・デコード・リサイズの失敗。
	ErrMedia = errors.New("media error")
	// ErrStorage はコンテナ作成・アップロード・公開URL解決の失敗。
	ErrStorage = errors.New("storage error")
	// ErrNotFound は存在しないログIDへの操作。
	ErrNotFound = errors.New("not found")
	// ErrUnexpected は想定外の通信・解析エラー。
	ErrUnexpected = errors.New("unexpected error")
)

// NewValidationError はErrValidationをラップしたエラーを生成する。
func NewValidationError(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// Kind はエラーを分類し、該当するエラー種別を返す。
// どの種別にも該当しない場合はErrUnexpectedを返す。nilにはnilを返す。
func Kind(err error) error {
	if err == nil {
		return nil
	}
	for _, kind := range []error{ErrValidation, ErrAuth, ErrTimeout, ErrMedia, ErrStorage, ErrNotFound, ErrUnexpected} {
		if errors.Is(err, kind) {
			return kind
		}
	}
	return ErrUnexpected
}

// Stage は活動記録パイプラインの段階を表す。
type Stage string

const (
	StageValidate     Stage = "validate"
	StageProcessPhoto Stage = "process_photo"
	StageUploadPhoto  Stage = "upload_photo"
	StageSaveLog      Stage = "save_log"
)

// describe はユーザー向けメッセージに使う段階の説明を返す。
func (s Stage) describe() string {
	switch s {
	case StageValidate:
		return "validate input"
	case StageProcessPhoto:
		return "process photo"
	case StageUploadPhoto:
		return "upload photo"
	case StageSaveLog:
		return "save log"
	default:
		return string(s)
	}
}

// StageError は失敗した段階を保持するエラー。
// 呼び出し元は段階ごとに異なるメッセージを提示できる。
type StageError struct {
	Stage Stage
	Err   error
}

// Error はerrorインターフェースを実装する。
func (e *StageError) Error() string {
	return fmt.Sprintf("failed to %s: %v", e.Stage.describe(), e.Err)
}

// Unwrap は元のエラーを返す。
func (e *StageError) Unwrap() error {
	return e.Err
}

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, validation, media, storage, log, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeValidation    = "VALIDATION_FAILED"
	ErrCodeUnauthorized  = "UNAUTHORIZED"
	ErrCodeAuthTimeout   = "AUTH_TIMEOUT"
	ErrCodeMediaFailed   = "MEDIA_FAILED"
	ErrCodeStorageFailed = "STORAGE_FAILED"
	ErrCodeSaveFailed    = "SAVE_FAILED"
	ErrCodeLogNotFound   = "LOG_NOT_FOUND"
	ErrCodeInternal      = "INTERNAL_ERROR"
	ErrCodeInvalidInput  = "INVALID_REQUEST"
	ErrCodeRateLimited   = "RATE_LIMIT_EXCEEDED"
)

// ToAPIError はエラーをユーザー向けのAPIErrorに変換する。
// スタックトレースや内部IDは含めない。既にAPIErrorの場合はそのまま返す。
func ToAPIError(err error) *APIError {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr
	}

	var stageErr *StageError
	stage := Stage("")
	if errors.As(err, &stageErr) {
		stage = stageErr.Stage
	}

	switch Kind(err) {
	case ErrValidation:
		return &APIError{
			Code:     ErrCodeValidation,
			Message:  "入力内容に不備があります。",
			Category: "validation",
			Action:   "習慣の種類と写真を選択し、メモは200文字以内で入力してください。",
		}
	case ErrAuth:
		return &APIError{
			Code:     ErrCodeUnauthorized,
			Message:  "認証に失敗しました。",
			Category: "auth",
			Action:   "メールアドレスとパスワードを確認して、ログインし直してください。",
		}
	case ErrTimeout:
		return &APIError{
			Code:     ErrCodeAuthTimeout,
			Message:  "接続がタイムアウトしました。",
			Category: "auth",
			Action:   "インターネット接続を確認して、もう一度お試しください。",
		}
	case ErrMedia:
		return &APIError{
			Code:     ErrCodeMediaFailed,
			Message:  "写真の処理に失敗しました。",
			Category: "media",
			Action:   "別の写真を選択して、もう一度お試しください。",
		}
	case ErrStorage:
		return &APIError{
			Code:     ErrCodeStorageFailed,
			Message:  "写真のアップロードに失敗しました。",
			Category: "storage",
			Action:   "しばらく待ってから再度お試しください。",
		}
	case ErrNotFound:
		return &APIError{
			Code:     ErrCodeLogNotFound,
			Message:  "指定された記録が見つかりません。",
			Category: "log",
			Action:   "一覧を更新してから、もう一度お試しください。",
		}
	}

	if stage == StageSaveLog {
		return &APIError{
			Code:     ErrCodeSaveFailed,
			Message:  "記録の保存に失敗しました。",
			Category: "log",
			Action:   "しばらく待ってから再度お試しください。",
		}
	}

	return &APIError{
		Code:     ErrCodeInternal,
		Message:  "内部エラーが発生しました。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	}
}
