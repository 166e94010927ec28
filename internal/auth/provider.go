// Package auth はIDプロバイダ（GoTrue互換の認証API）へのアクセスを提供する。
package auth

import (
	"context"

	"github.com/hitoshi/fitjourney/internal/model"
)

// Provider はIDプロバイダのインターフェース。
// 呼び出しはすべてリモートへの1回のリクエストに対応する。
type Provider interface {
	// SignInWithPassword はメールアドレスとパスワードでセッションを発行する。
	// 認証情報が拒否された場合はErrAuthを返す。
	SignInWithPassword(ctx context.Context, email, password string) (*model.Session, error)
	// SignUp はユーザーを登録し、そのままセッションを発行する。
	SignUp(ctx context.Context, email, password string, profile model.Profile) (*model.Session, error)
	// RefreshSession はリフレッシュトークンで新しいセッションを発行する。
	RefreshSession(ctx context.Context, refreshToken string) (*model.Session, error)
	// SignOut はアクセストークンに紐づくリモートセッションを無効化する。
	SignOut(ctx context.Context, accessToken string) error
	// ResetPasswordForEmail はパスワード再設定メールの送信を依頼する。
	ResetPasswordForEmail(ctx context.Context, email string) error
	// GetUser はアクセストークンの持ち主を返す。
	GetUser(ctx context.Context, accessToken string) (*model.Identity, error)
}
