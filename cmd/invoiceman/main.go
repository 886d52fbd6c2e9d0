// Command invoiceman は請求書管理APIサーバー、バックグラウンドワーカー、
// マイグレーションを1つのバイナリで提供する。
//
//	invoiceman [serve|worker|migrate|healthcheck]
package main

import (
	"log/slog"
	"os"

	"github.com/hitoshi/invoiceman/internal/app"
)

func main() {
	if err := app.Run(os.Stdout, os.Args[1:]); err != nil {
		slog.Error("application exited with error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
