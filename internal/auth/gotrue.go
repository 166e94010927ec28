package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/hitoshi/fitjourney/internal/model"
)

const defaultRequestTimeout = 30 * time.Second

// GoTrueConfig はGoTrueクライアントの設定。
type GoTrueConfig struct {
	// BaseURL はプロジェクトのURL（例: "https://xxxx.supabase.co"）。/auth/v1 は付けない。
	BaseURL string
	// APIKey はapikeyヘッダーに付与する公開（anon）キー。
	APIKey string
	// RequestTimeout は1リクエストあたりの上限。0の場合は30秒。
	RequestTimeout time.Duration
}

// GoTrueClient はGoTrue REST APIのクライアント。
type GoTrueClient struct {
	client *resty.Client
	now    func() time.Time
}

// NewGoTrueClient はGoTrueClientを生成する。
func NewGoTrueClient(cfg GoTrueConfig) *GoTrueClient {
	timeout := cfg.RequestTimeout
	if timeout == 0 {
		timeout = defaultRequestTimeout
	}

	c := resty.New().
		SetBaseURL(cfg.BaseURL+"/auth/v1").
		SetHeader("apikey", cfg.APIKey).
		SetHeader("Content-Type", "application/json").
		SetTimeout(timeout)

	return &GoTrueClient{client: c, now: time.Now}
}

// tokenResponse はトークン発行系エンドポイントのレスポンス。
type tokenResponse struct {
	AccessToken  string       `json:"access_token"`
	TokenType    string       `json:"token_type"`
	ExpiresIn    int64        `json:"expires_in"`
	ExpiresAt    int64        `json:"expires_at"`
	RefreshToken string       `json:"refresh_token"`
	User         userResponse `json:"user"`
}

type userResponse struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

// errorResponse はGoTrueのエラーレスポンス。バージョンによってフィールドが異なる。
type errorResponse struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
	Msg              string `json:"msg"`
	Message          string `json:"message"`
}

func (e *errorResponse) reason() string {
	for _, s := range []string{e.ErrorDescription, e.Msg, e.Message, e.Error} {
		if s != "" {
			return s
		}
	}
	return ""
}

type passwordGrantRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type refreshGrantRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type signUpRequest struct {
	Email    string         `json:"email"`
	Password string         `json:"password"`
	Data     signUpMetadata `json:"data"`
}

type signUpMetadata struct {
	FullName  string `json:"full_name"`
	AvatarURL string `json:"avatar_url"`
}

type recoverRequest struct {
	Email string `json:"email"`
}

// SignInWithPassword はメールアドレスとパスワードでセッションを発行する。
func (c *GoTrueClient) SignInWithPassword(ctx context.Context, email, password string) (*model.Session, error) {
	var out tokenResponse
	var apiErr errorResponse
	resp, err := c.client.R().
		SetContext(ctx).
		SetQueryParam("grant_type", "password").
		SetBody(&passwordGrantRequest{Email: email, Password: password}).
		SetResult(&out).
		SetError(&apiErr).
		Post("/token")
	if err := classify("sign in", resp, err, &apiErr); err != nil {
		return nil, err
	}
	return c.toSession(&out)
}

// SignUp はユーザーを登録し、そのままセッションを発行する。
// メール確認が必要な設定でセッションが返らない場合はErrAuthを返す。
func (c *GoTrueClient) SignUp(ctx context.Context, email, password string, profile model.Profile) (*model.Session, error) {
	var out tokenResponse
	var apiErr errorResponse
	resp, err := c.client.R().
		SetContext(ctx).
		SetBody(&signUpRequest{
			Email:    email,
			Password: password,
			Data:     signUpMetadata{FullName: profile.FullName, AvatarURL: profile.AvatarURL},
		}).
		SetResult(&out).
		SetError(&apiErr).
		Post("/signup")
	if err := classify("sign up", resp, err, &apiErr); err != nil {
		return nil, err
	}
	if out.AccessToken == "" {
		return nil, fmt.Errorf("%w: sign up did not return a session (email confirmation required)", model.ErrAuth)
	}
	return c.toSession(&out)
}

// RefreshSession はリフレッシュトークンで新しいセッションを発行する。
func (c *GoTrueClient) RefreshSession(ctx context.Context, refreshToken string) (*model.Session, error) {
	var out tokenResponse
	var apiErr errorResponse
	resp, err := c.client.R().
		SetContext(ctx).
		SetQueryParam("grant_type", "refresh_token").
		SetBody(&refreshGrantRequest{RefreshToken: refreshToken}).
		SetResult(&out).
		SetError(&apiErr).
		Post("/token")
	if err := classify("refresh session", resp, err, &apiErr); err != nil {
		return nil, err
	}
	return c.toSession(&out)
}

// SignOut はアクセストークンに紐づくリモートセッションを無効化する。
func (c *GoTrueClient) SignOut(ctx context.Context, accessToken string) error {
	var apiErr errorResponse
	resp, err := c.client.R().
		SetContext(ctx).
		SetAuthToken(accessToken).
		SetError(&apiErr).
		Post("/logout")
	return classify("sign out", resp, err, &apiErr)
}

// ResetPasswordForEmail はパスワード再設定メールの送信を依頼する。
func (c *GoTrueClient) ResetPasswordForEmail(ctx context.Context, email string) error {
	var apiErr errorResponse
	resp, err := c.client.R().
		SetContext(ctx).
		SetBody(&recoverRequest{Email: email}).
		SetError(&apiErr).
		Post("/recover")
	return classify("request password reset", resp, err, &apiErr)
}

// GetUser はアクセストークンの持ち主を返す。
func (c *GoTrueClient) GetUser(ctx context.Context, accessToken string) (*model.Identity, error) {
	var out userResponse
	var apiErr errorResponse
	resp, err := c.client.R().
		SetContext(ctx).
		SetAuthToken(accessToken).
		SetResult(&out).
		SetError(&apiErr).
		Get("/user")
	if err := classify("get user", resp, err, &apiErr); err != nil {
		return nil, err
	}
	if out.ID == "" {
		return nil, fmt.Errorf("%w: empty user id in response", model.ErrUnexpected)
	}
	return &model.Identity{ID: out.ID, Email: out.Email}, nil
}

// toSession はトークンレスポンスをSessionに変換する。
// expires_atが返らない場合はexpires_inから算出する。
func (c *GoTrueClient) toSession(out *tokenResponse) (*model.Session, error) {
	if out.AccessToken == "" {
		return nil, fmt.Errorf("%w: empty access token in response", model.ErrUnexpected)
	}
	if out.User.ID == "" {
		return nil, fmt.Errorf("%w: empty user in token response", model.ErrUnexpected)
	}

	var expiresAt time.Time
	switch {
	case out.ExpiresAt > 0:
		expiresAt = time.Unix(out.ExpiresAt, 0)
	case out.ExpiresIn > 0:
		expiresAt = c.now().Add(time.Duration(out.ExpiresIn) * time.Second)
	default:
		expiresAt = c.now().Add(time.Hour)
	}

	return &model.Session{
		AccessToken:  out.AccessToken,
		RefreshToken: out.RefreshToken,
		TokenType:    out.TokenType,
		ExpiresAt:    expiresAt,
		User:         model.Identity{ID: out.User.ID, Email: out.User.Email},
	}, nil
}

// classify は通信結果をエラー種別に分類する。
// 認証情報の拒否（400/401/403/422）はErrAuth、それ以外の失敗はErrUnexpectedとする。
func classify(op string, resp *resty.Response, err error, apiErr *errorResponse) error {
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("failed to %s: %w", op, err)
		}
		return fmt.Errorf("failed to %s: %w: %v", op, model.ErrUnexpected, err)
	}
	if !resp.IsError() {
		return nil
	}

	reason := apiErr.reason()
	if reason == "" {
		reason = http.StatusText(resp.StatusCode())
	}

	switch resp.StatusCode() {
	case http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden, http.StatusUnprocessableEntity:
		return fmt.Errorf("failed to %s: %w: %s", op, model.ErrAuth, reason)
	default:
		return fmt.Errorf("failed to %s: %w: status %d: %s", op, model.ErrUnexpected, resp.StatusCode(), reason)
	}
}

// compile-time interface check
var _ Provider = (*GoTrueClient)(nil)
