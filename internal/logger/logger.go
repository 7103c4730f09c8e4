package logger

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// redactedKeys はログ出力時に値を伏せる属性キー。
var redactedKeys = map[string]struct{}{
	"token":         {},
	"api_key":       {},
	"client_secret": {},
}

// Setup はJSON構造化ログ出力のslog.Loggerを生成して返す。
// level には debug, info, warn, error を指定する（不明な値はinfo）。
func Setup(w io.Writer, level string) *slog.Logger {
	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: ParseLevel(level),
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if _, ok := redactedKeys[a.Key]; ok && a.Value.Kind() == slog.KindString {
				return slog.String(a.Key, "[REDACTED]")
			}
			return a
		},
	})
	return slog.New(handler)
}

// SetupDefault はJSON構造化ログ出力をグローバルロガーとして設定する。
// 本番ではos.Stdoutを渡すことを想定している。
func SetupDefault(w io.Writer, level string) {
	if w == nil {
		w = os.Stdout
	}
	slog.SetDefault(Setup(w, level))
}

// ParseLevel はログレベル文字列をslog.Levelに変換する。
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Truncate はセッションIDなどの識別子をログ用に先頭n文字へ短縮する。
func Truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
