// Package cli はclientサブコマンド(サインインや記録作成などの操作)を提供する。
package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/hitoshi/fitjourney/internal/apiclient"
	"github.com/hitoshi/fitjourney/internal/model"
	"github.com/hitoshi/fitjourney/internal/nutrition"
)

// SessionManager はCLIが必要とするセッション操作。session.Storeが満たす。
type SessionManager interface {
	CurrentSession(ctx context.Context) *model.Session
	SignIn(ctx context.Context, email, password string) (*model.Session, error)
	SignUp(ctx context.Context, email, password string, profile model.Profile) (*model.Session, error)
	SignOut(ctx context.Context) error
	RequestPasswordReset(ctx context.Context, email string) error
	// RunAutoRefresh はctxがキャンセルされるまで定期的にトークンを更新する。
	RunAutoRefresh(ctx context.Context, interval time.Duration)
}

// API はCLIが呼び出すAPI操作。apiclient.Clientが満たす。
type API interface {
	CreateLogWithPhoto(ctx context.Context, habitType, note, filename string, photo io.Reader) (string, error)
	CreateLogWithURL(ctx context.Context, habitType, note, photoURL string) (string, error)
	ListLogs(ctx context.Context, cursor string, limit int) (*apiclient.LogPage, error)
	VerifyLog(ctx context.Context, id string) (*model.ActivityLog, error)
	AddWater(ctx context.Context, cups int) (*model.WaterLog, error)
	WaterToday(ctx context.Context) (model.MetricReading, error)
	Dashboard(ctx context.Context) (*model.ActivitySummary, error)
	AnalyzeMeal(ctx context.Context, filename string, photo io.Reader) (*nutrition.Analysis, error)
}

// Env はコマンドの実行に必要な依存関係。
type Env struct {
	Session SessionManager
	API     API
	Out     io.Writer
}

// NewCommand はclientサブコマンドのルートを生成する。
func NewCommand(env *Env) *cobra.Command {
	if env.Out == nil {
		env.Out = os.Stdout
	}

	root := &cobra.Command{
		Use:           "client",
		Short:         "fitjourney APIを操作するクライアント",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(env.Out)

	root.AddCommand(
		newSignInCommand(env),
		newSignUpCommand(env),
		newSignOutCommand(env),
		newWhoAmICommand(env),
		newResetPasswordCommand(env),
		newLogCommand(env),
		newLogsCommand(env),
		newVerifyCommand(env),
		newWaterCommand(env),
		newDashboardCommand(env),
		newAnalyzeMealCommand(env),
	)
	return root
}

// passwordFromFlagOrEnv は--password、なければFITJOURNEY_PASSWORDを返す。
func passwordFromFlagOrEnv(flag string) string {
	if flag != "" {
		return flag
	}
	return os.Getenv("FITJOURNEY_PASSWORD")
}

func newSignInCommand(env *Env) *cobra.Command {
	var email, password string
	cmd := &cobra.Command{
		Use:   "signin",
		Short: "メールアドレスとパスワードでサインインする",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := env.Session.SignIn(cmd.Context(), email, passwordFromFlagOrEnv(password))
			if err != nil {
				return err
			}
			fmt.Fprintf(env.Out, "サインインしました: %s\n", s.User.Email)
			return nil
		},
	}
	cmd.Flags().StringVarP(&email, "email", "e", "", "Email address (required)")
	cmd.Flags().StringVarP(&password, "password", "p", "", "Password (or FITJOURNEY_PASSWORD)")
	cmd.MarkFlagRequired("email")
	return cmd
}

func newSignUpCommand(env *Env) *cobra.Command {
	var email, password, fullName, avatarURL string
	cmd := &cobra.Command{
		Use:   "signup",
		Short: "ユーザーを登録してサインインする",
		RunE: func(cmd *cobra.Command, args []string) error {
			profile := model.Profile{FullName: fullName, AvatarURL: avatarURL}
			s, err := env.Session.SignUp(cmd.Context(), email, passwordFromFlagOrEnv(password), profile)
			if err != nil {
				return err
			}
			fmt.Fprintf(env.Out, "登録しました: %s\n", s.User.Email)
			return nil
		},
	}
	cmd.Flags().StringVarP(&email, "email", "e", "", "Email address (required)")
	cmd.Flags().StringVarP(&password, "password", "p", "", "Password (or FITJOURNEY_PASSWORD)")
	cmd.Flags().StringVar(&fullName, "full-name", "", "Display name")
	cmd.Flags().StringVar(&avatarURL, "avatar-url", "", "Avatar image URL")
	cmd.MarkFlagRequired("email")
	return cmd
}

func newSignOutCommand(env *Env) *cobra.Command {
	return &cobra.Command{
		Use:   "signout",
		Short: "サインアウトする",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := env.Session.SignOut(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(env.Out, "サインアウトしました")
			return nil
		},
	}
}

func newWhoAmICommand(env *Env) *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "現在のユーザーを表示する",
		RunE: func(cmd *cobra.Command, args []string) error {
			s := env.Session.CurrentSession(cmd.Context())
			if s == nil {
				fmt.Fprintln(env.Out, "サインインしていません")
				return nil
			}
			fmt.Fprintf(env.Out, "%s (%s)\n有効期限: %s\n", s.User.Email, s.User.ID, s.ExpiresAt.Local().Format("2006-01-02 15:04:05"))
			return nil
		},
	}
}

func newResetPasswordCommand(env *Env) *cobra.Command {
	var email string
	cmd := &cobra.Command{
		Use:   "reset-password",
		Short: "パスワード再設定メールを送信する",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := env.Session.RequestPasswordReset(cmd.Context(), email); err != nil {
				return err
			}
			fmt.Fprintf(env.Out, "パスワード再設定メールを送信しました: %s\n", email)
			return nil
		},
	}
	cmd.Flags().StringVarP(&email, "email", "e", "", "Email address (required)")
	cmd.MarkFlagRequired("email")
	return cmd
}

func newLogCommand(env *Env) *cobra.Command {
	var habitType, note, photoPath, photoURL string
	cmd := &cobra.Command{
		Use:   "log",
		Short: "写真付きで習慣の達成を記録する",
		Long:  "習慣の種類: " + joinHabitTypes(),
		RunE: func(cmd *cobra.Command, args []string) error {
			if (photoPath == "") == (photoURL == "") {
				return model.NewValidationError("exactly one of --photo or --photo-url is required")
			}

			var id string
			var err error
			if photoURL != "" {
				id, err = env.API.CreateLogWithURL(cmd.Context(), habitType, note, photoURL)
			} else {
				id, err = withFile(photoPath, func(name string, r io.Reader) (string, error) {
					return env.API.CreateLogWithPhoto(cmd.Context(), habitType, note, name, r)
				})
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(env.Out, "記録しました: %s\n", id)
			return nil
		},
	}
	cmd.Flags().StringVarP(&habitType, "type", "t", "", "Habit type (required)")
	cmd.Flags().StringVarP(&note, "note", "n", "", "Note (up to 200 characters)")
	cmd.Flags().StringVar(&photoPath, "photo", "", "Path to a photo file")
	cmd.Flags().StringVar(&photoURL, "photo-url", "", "Public URL of a photo")
	cmd.MarkFlagRequired("type")
	return cmd
}

func newLogsCommand(env *Env) *cobra.Command {
	var cursor string
	var limit int
	cmd := &cobra.Command{
		Use:   "logs",
		Short: "自分の記録を新しい順に表示する",
		RunE: func(cmd *cobra.Command, args []string) error {
			page, err := env.API.ListLogs(cmd.Context(), cursor, limit)
			if err != nil {
				return err
			}
			printLogs(env.Out, page)
			return nil
		},
	}
	cmd.Flags().StringVar(&cursor, "cursor", "", "Cursor returned by the previous page")
	cmd.Flags().IntVarP(&limit, "limit", "l", 0, "Page size")
	return cmd
}

func newVerifyCommand(env *Env) *cobra.Command {
	return &cobra.Command{
		Use:   "verify <log-id>",
		Short: "記録を検証済みにする",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			log, err := env.API.VerifyLog(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			by := ""
			if log.VerifiedBy != nil {
				by = *log.VerifiedBy
			}
			fmt.Fprintf(env.Out, "検証済み: %s (検証者 %s)\n", log.ID, by)
			return nil
		},
	}
}

func newWaterCommand(env *Env) *cobra.Command {
	return &cobra.Command{
		Use:   "water [cups]",
		Short: "水分摂取を記録する。引数を省略すると当日の合計を表示する",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				cups, err := strconv.Atoi(args[0])
				if err != nil {
					return model.NewValidationError("cups must be an integer: %s", args[0])
				}
				if _, err := env.API.AddWater(cmd.Context(), cups); err != nil {
					return err
				}
			}
			today, err := env.API.WaterToday(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(env.Out, "今日の水分: %d / %d 杯\n", today.Value, today.Goal)
			return nil
		},
	}
}

// maxTokenCheckInterval はwatch中にトークンの期限を確認する最大間隔。
const maxTokenCheckInterval = 30 * time.Second

func newDashboardCommand(env *Env) *cobra.Command {
	var watch time.Duration
	cmd := &cobra.Command{
		Use:   "dashboard",
		Short: "当日の活動サマリーを表示する",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			s, err := env.API.Dashboard(ctx)
			if err != nil {
				return err
			}
			printSummary(env.Out, s)
			if watch <= 0 {
				return nil
			}

			// 表示を続ける間、アクセストークンを期限前に更新し続ける
			refreshCtx, stop := context.WithCancel(ctx)
			defer stop()
			go env.Session.RunAutoRefresh(refreshCtx, min(watch, maxTokenCheckInterval))

			ticker := time.NewTicker(watch)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return nil
				case <-ticker.C:
					s, err := env.API.Dashboard(ctx)
					if err != nil {
						if ctx.Err() != nil {
							return nil
						}
						return err
					}
					fmt.Fprintln(env.Out)
					printSummary(env.Out, s)
				}
			}
		},
	}
	cmd.Flags().DurationVar(&watch, "watch", 0, "指定間隔で表示を更新し続ける (例: 2m)")
	return cmd
}

func newAnalyzeMealCommand(env *Env) *cobra.Command {
	return &cobra.Command{
		Use:   "analyze-meal <photo>",
		Short: "食事写真から栄養素を推定する",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var analysis *nutrition.Analysis
			_, err := withFile(args[0], func(name string, r io.Reader) (string, error) {
				var err error
				analysis, err = env.API.AnalyzeMeal(cmd.Context(), name, r)
				return "", err
			})
			if err != nil {
				return err
			}
			printAnalysis(env.Out, analysis)
			return nil
		},
	}
}

// withFile はファイルを開いてfnに渡す。
func withFile(path string, fn func(name string, r io.Reader) (string, error)) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", model.NewValidationError("failed to open photo: %v", err)
	}
	defer f.Close()
	return fn(filepath.Base(path), f)
}

func joinHabitTypes() string {
	types := model.HabitTypes()
	names := make([]string, len(types))
	for i, t := range types {
		names[i] = string(t)
	}
	return strings.Join(names, ", ")
}

func printLogs(w io.Writer, page *apiclient.LogPage) {
	if len(page.Logs) == 0 {
		fmt.Fprintln(w, "記録はありません")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tTYPE\tVERIFIED\tCREATED\tNOTE")
	for _, l := range page.Logs {
		fmt.Fprintf(tw, "%s\t%s\t%t\t%s\t%s\n",
			l.ID, l.HabitType, l.Verified, l.CreatedAt.Local().Format("2006-01-02 15:04"), l.Note)
	}
	tw.Flush()
	if page.HasMore {
		fmt.Fprintf(w, "次のページ: --cursor %s\n", page.NextCursor)
	}
}

func printSummary(w io.Writer, s *model.ActivitySummary) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "歩数\t%d / %d\n", s.Steps.Value, s.Steps.Goal)
	fmt.Fprintf(tw, "消費カロリー\t%d / %d\n", s.Calories.Value, s.Calories.Goal)
	fmt.Fprintf(tw, "運動時間\t%d / %d 分\n", s.ActiveMinutes.Value, s.ActiveMinutes.Goal)
	fmt.Fprintf(tw, "水分\t%d / %d 杯\n", s.WaterCups.Value, s.WaterCups.Goal)
	fmt.Fprintf(tw, "達成率\t%d%%\n", s.DailyGoal)
	tw.Flush()
	if len(s.Degraded) > 0 {
		fmt.Fprintf(w, "取得できなかった指標: %s\n", strings.Join(s.Degraded, ", "))
	}
}

func printAnalysis(w io.Writer, a *nutrition.Analysis) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "FOOD\tKCAL\tPROTEIN\tCARBS\tFAT")
	for _, item := range a.Items {
		fmt.Fprintf(tw, "%s\t%d\t%dg\t%dg\t%dg\n", item.Name, item.Calories, item.Protein, item.Carbs, item.Fat)
	}
	fmt.Fprintf(tw, "合計\t%d\t%dg\t%dg\t%dg\n", a.Total.Calories, a.Total.Protein, a.Total.Carbs, a.Total.Fat)
	tw.Flush()
}

// TokenSource は現在のセッションのアクセストークンを返すapiclient.TokenSourceを生成する。
// 期限が近いトークンはSessionManagerが更新する。
func TokenSource(sm SessionManager) apiclient.TokenSource {
	return apiclient.TokenSourceFunc(func(ctx context.Context) (string, error) {
		s := sm.CurrentSession(ctx)
		if s == nil {
			return "", fmt.Errorf("%w: not signed in (run `client signin` first)", model.ErrAuth)
		}
		return s.AccessToken, nil
	})
}
