package log

import (
	"fmt"
	"io"
	stdlog "log"
	"os"
	"strings"
	"sync"
	"time"
)

type Level string

const (
	LevelDebug Level = "DEBUG"
	LevelInfo  Level = "INFO"
	LevelWarn  Level = "WARN"
	LevelError Level = "ERROR"
)

var (
	mu       sync.Mutex
	logger   = stdlog.New(os.Stderr, "", 0)
	minLevel = LevelInfo
)

// ParseLevel maps a config string ("debug", "info", "warn", "error") to a
// Level. Unknown values fall back to INFO.
func ParseLevel(s string) Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	default:
		return LevelInfo
	}
}

func SetLevel(l Level) {
	mu.Lock()
	defer mu.Unlock()
	minLevel = l
}

// SetOutput redirects log lines, mainly for tests.
func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	logger.SetOutput(w)
}

func Debug(msg string, kv ...any) {
	logWithLevel(LevelDebug, msg, kv...)
}

func Info(msg string, kv ...any) {
	logWithLevel(LevelInfo, msg, kv...)
}

func Warn(msg string, kv ...any) {
	logWithLevel(LevelWarn, msg, kv...)
}

func Error(msg string, err error, kv ...any) {
	// Prepend error into key-value list.
	extended := append([]any{"err", err}, kv...)
	logWithLevel(LevelError, msg, extended...)
}

func logWithLevel(level Level, msg string, kv ...any) {
	mu.Lock()
	defer mu.Unlock()
	if rank(level) < rank(minLevel) {
		return
	}

	// 2025-01-01T00:00:00.000000Z [LEVEL] msg key=value ...
	var b strings.Builder
	b.WriteString(time.Now().UTC().Format("2006-01-02T15:04:05.000000Z07:00"))
	b.WriteString(" [")
	b.WriteString(string(level))
	b.WriteString("] ")
	b.WriteString(msg)
	writeKVs(&b, kv...)

	logger.Println(b.String())
}

func rank(l Level) int {
	switch l {
	case LevelDebug:
		return 0
	case LevelInfo:
		return 1
	case LevelWarn:
		return 2
	case LevelError:
		return 3
	default:
		return 1
	}
}

// writeKVs appends key=value pairs. Non-string keys are skipped and a
// trailing key without value is ignored.
func writeKVs(b *strings.Builder, kv ...any) {
	for i := 0; i+1 < len(kv); i += 2 {
		key, ok := kv[i].(string)
		if !ok {
			continue
		}
		b.WriteByte(' ')
		b.WriteString(key)
		b.WriteByte('=')
		b.WriteString(quoteIfNeeded(fmt.Sprint(kv[i+1])))
	}
}

func quoteIfNeeded(s string) string {
	if s == "" || strings.ContainsAny(s, " \t\"=") {
		return fmt.Sprintf("%q", s)
	}
	return s
}
