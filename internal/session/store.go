// Package session はクライアント側の認証セッションを管理する。
// セッションはStoreが1件だけ保持し、状態が変わるたびに登録済みリスナーへ通知する。
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/hitoshi/fitjourney/internal/auth"
	"github.com/hitoshi/fitjourney/internal/model"
	"github.com/hitoshi/fitjourney/internal/repository"
)

const (
	// DefaultAuthTimeout はサインイン・サインアップの待機上限。
	DefaultAuthTimeout = 15 * time.Second
	// DefaultRefreshMargin は期限切れの何秒前からトークンを更新するか。
	DefaultRefreshMargin = 60 * time.Second
	// MinPasswordLength はパスワードの最小文字数。
	MinPasswordLength = 6
)

var emailPattern = regexp.MustCompile(`\S+@\S+\.\S+`)

// State はStoreの状態。
type State int

const (
	StateAnonymous State = iota
	StateAuthenticating
	StateAuthenticated
)

func (s State) String() string {
	switch s {
	case StateAnonymous:
		return "anonymous"
	case StateAuthenticating:
		return "authenticating"
	case StateAuthenticated:
		return "authenticated"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Config はStoreの設定。
type Config struct {
	AuthTimeout   time.Duration
	RefreshMargin time.Duration
}

// Store は現在のセッションを保持し、サインイン・サインアウト等の遷移を仲介する。
type Store struct {
	provider auth.Provider
	cache    repository.SessionCache
	logger   *slog.Logger
	config   Config
	now      func() time.Time

	mu      sync.Mutex
	current *model.Session
	state   State

	hub     *listenerHub
	refresh singleflight.Group
}

// NewStore はStoreを生成する。cacheがnilの場合はセッションを端末に保存しない。
func NewStore(provider auth.Provider, cache repository.SessionCache, logger *slog.Logger, cfg Config) *Store {
	if cfg.AuthTimeout <= 0 {
		cfg.AuthTimeout = DefaultAuthTimeout
	}
	if cfg.RefreshMargin <= 0 {
		cfg.RefreshMargin = DefaultRefreshMargin
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		provider: provider,
		cache:    cache,
		logger:   logger,
		config:   cfg,
		now:      time.Now,
		hub:      newListenerHub(),
	}
}

// State は現在の状態を返す。
func (s *Store) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// OnSessionChange はリスナーを登録し、解除関数を返す。
// 解除関数は何度呼んでもよく、リスナーの中から呼んでもよい。
func (s *Store) OnSessionChange(l Listener) (unsubscribe func()) {
	return s.hub.add(l)
}

// Restore は端末に保存されたセッションを読み込み、INITIAL_SESSIONを通知する。
// 保存されたセッションがない場合や読み込みに失敗した場合もsession=nilで通知する。
func (s *Store) Restore(ctx context.Context) *model.Session {
	var restored *model.Session
	if s.cache != nil {
		cached, err := s.cache.Load(ctx)
		if err != nil {
			s.logger.Warn("保存済みセッションの読み込みに失敗しました",
				slog.String("error", err.Error()),
			)
		}
		restored = cached
	}

	s.mu.Lock()
	s.current = restored
	if restored != nil {
		s.state = StateAuthenticated
	} else {
		s.state = StateAnonymous
	}
	s.mu.Unlock()

	s.hub.notify(EventInitialSession, restored)
	return restored
}

// CurrentSession は現在のセッションを返す。セッションがない場合はnil。
// 期限切れが近い場合は更新してから返す。
// 期限切れのセッションの更新が拒否された場合は破棄し、SIGNED_OUTを通知してnilを返す。
// 通信エラーで更新できず期限切れの場合もnilを返す。
func (s *Store) CurrentSession(ctx context.Context) *model.Session {
	s.mu.Lock()
	cur := s.current
	s.mu.Unlock()

	if cur == nil {
		return nil
	}
	now := s.now()
	if !cur.NeedsRefresh(now, s.config.RefreshMargin) {
		return cur
	}

	v, err := s.refreshShared(ctx, cur.RefreshToken)
	if err == nil {
		refreshed := v.(*model.Session)
		if !s.replaceIf(cur, refreshed) {
			// 更新中にサインアウト等で別のセッションに切り替わった
			return s.peek()
		}
		s.persist(ctx, refreshed)
		s.hub.notify(EventTokenRefreshed, refreshed)
		return refreshed
	}

	expired := cur.Expired(now)
	if errors.Is(err, model.ErrAuth) && expired {
		s.logger.Info("期限切れセッションの更新が拒否されたため破棄します",
			slog.String("user_id", cur.User.ID),
		)
		if s.replaceIf(cur, nil) {
			s.clearCache(ctx)
			s.hub.notify(EventSignedOut, nil)
		}
		return nil
	}

	s.logger.Warn("セッションの更新に失敗しました",
		slog.String("user_id", cur.User.ID),
		slog.Bool("expired", expired),
		slog.String("error", err.Error()),
	)
	if expired {
		return nil
	}
	return cur
}

// SignIn はメールアドレスとパスワードでサインインする。
// 入力不備はErrValidation、拒否はErrAuth、待機上限超過はErrTimeoutを返す。
// 失敗時は直前の状態に戻り、リスナーへの通知は行わない。
func (s *Store) SignIn(ctx context.Context, email, password string) (*model.Session, error) {
	if err := validateCredentials(email, password); err != nil {
		return nil, err
	}

	return s.authenticate(ctx, func(ctx context.Context) (*model.Session, error) {
		return s.provider.SignInWithPassword(ctx, email, password)
	})
}

// SignUp はユーザーを登録し、そのままサインインした状態にする。
// エラーの扱いはSignInと同じ。
func (s *Store) SignUp(ctx context.Context, email, password string, profile model.Profile) (*model.Session, error) {
	if err := validateCredentials(email, password); err != nil {
		return nil, err
	}

	return s.authenticate(ctx, func(ctx context.Context) (*model.Session, error) {
		return s.provider.SignUp(ctx, email, password, profile)
	})
}

func (s *Store) authenticate(ctx context.Context, call func(context.Context) (*model.Session, error)) (*model.Session, error) {
	s.mu.Lock()
	prev := s.state
	s.state = StateAuthenticating
	s.mu.Unlock()

	issued, err := withTimeout(ctx, s.config.AuthTimeout, call)
	if err != nil {
		s.mu.Lock()
		if s.state == StateAuthenticating {
			s.state = prev
		}
		s.mu.Unlock()
		return nil, err
	}

	s.mu.Lock()
	s.current = issued
	s.state = StateAuthenticated
	s.mu.Unlock()

	s.persist(ctx, issued)
	s.logger.Info("サインインしました", slog.String("user_id", issued.User.ID))
	s.hub.notify(EventSignedIn, issued)
	return issued, nil
}

// SignOut はサインアウトする。
// リモートの無効化に失敗してもローカルのセッションは必ず破棄し、SIGNED_OUTを通知する。
func (s *Store) SignOut(ctx context.Context) error {
	s.mu.Lock()
	cur := s.current
	s.current = nil
	s.state = StateAnonymous
	s.mu.Unlock()

	if cur != nil && cur.AccessToken != "" {
		if err := s.provider.SignOut(ctx, cur.AccessToken); err != nil {
			s.logger.Warn("リモートセッションの無効化に失敗しました",
				slog.String("user_id", cur.User.ID),
				slog.String("error", err.Error()),
			)
		}
	}

	s.clearCache(ctx)
	s.hub.notify(EventSignedOut, nil)
	return nil
}

// RequestPasswordReset はパスワード再設定メールの送信を依頼する。
// メールアドレスの形式が不正な場合は通信せずにErrValidationを返す。
func (s *Store) RequestPasswordReset(ctx context.Context, email string) error {
	if !emailPattern.MatchString(email) {
		return model.NewValidationError("invalid email address")
	}
	if err := s.provider.ResetPasswordForEmail(ctx, email); err != nil {
		return fmt.Errorf("failed to request password reset: %w", err)
	}
	return nil
}

// RunAutoRefresh はctxがキャンセルされるまでinterval毎にセッションの更新要否を確認する。
func (s *Store) RunAutoRefresh(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.CurrentSession(ctx)
		}
	}
}

// refreshShared は同じリフレッシュトークンの更新を1回のリクエストにまとめる。
// ctxのキャンセルはその呼び出し元の待機だけを打ち切り、まとめられた更新は継続する。
func (s *Store) refreshShared(ctx context.Context, refreshToken string) (interface{}, error) {
	shared := context.WithoutCancel(ctx)
	ch := s.refresh.DoChan(refreshToken, func() (interface{}, error) {
		// 上限はAuthTimeoutで決まる
		return withTimeout(shared, s.config.AuthTimeout, func(ctx context.Context) (*model.Session, error) {
			return s.provider.RefreshSession(ctx, refreshToken)
		})
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		return res.Val, res.Err
	}
}

// replaceIf は現在のセッションがexpectedのままであればnextに置き換える。
func (s *Store) replaceIf(expected, next *model.Session) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current != expected {
		return false
	}
	s.current = next
	if next == nil {
		s.state = StateAnonymous
	}
	return true
}

func (s *Store) peek() *model.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

func (s *Store) persist(ctx context.Context, sess *model.Session) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Save(ctx, sess); err != nil {
		s.logger.Warn("セッションの保存に失敗しました",
			slog.String("user_id", sess.User.ID),
			slog.String("error", err.Error()),
		)
	}
}

func (s *Store) clearCache(ctx context.Context) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Clear(ctx); err != nil {
		s.logger.Warn("保存済みセッションの削除に失敗しました",
			slog.String("error", err.Error()),
		)
	}
}

// validateCredentials は通信前にメールアドレスとパスワードの形式を検証する。
func validateCredentials(email, password string) error {
	if email == "" || password == "" {
		return model.NewValidationError("email and password are required")
	}
	if !emailPattern.MatchString(email) {
		return model.NewValidationError("invalid email address")
	}
	if len([]rune(password)) < MinPasswordLength {
		return model.NewValidationError("password must be at least %d characters", MinPasswordLength)
	}
	return nil
}
