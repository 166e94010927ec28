// Command fitjourney は活動記録APIサーバー、未参照写真の削除ワーカー、
// マイグレーション、APIクライアントを1つのバイナリで提供する。
package main

import (
	"log/slog"
	"os"

	"github.com/hitoshi/fitjourney/internal/app"
)

func main() {
	if err := app.Run(os.Stdout, os.Args[1:]); err != nil {
		slog.Error("application exited with error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
