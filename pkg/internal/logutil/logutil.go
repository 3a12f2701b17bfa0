// Package logutil provides leveled logging helpers over the standard logger,
// with an optional JSON line format for log collectors.
package logutil

import (
    "encoding/json"
    "fmt"
    "log"
    "os"
    "sync/atomic"
    "time"
)

var jsonMode atomic.Bool

func init() {
    if os.Getenv("RUSTFS_LOG_JSON") == "1" || os.Getenv("RUSTFS_LOG_FORMAT") == "json" {
        jsonMode.Store(true)
    }
}

// SetJSON switches between plain prefixed lines and JSON lines.
func SetJSON(enabled bool) {
    jsonMode.Store(enabled)
}

func Infof(l *log.Logger, format string, args ...any) {
    emit(l, "info", format, args...)
}

func Warnf(l *log.Logger, format string, args ...any) {
    emit(l, "warn", format, args...)
}

func Errorf(l *log.Logger, format string, args ...any) {
    emit(l, "error", format, args...)
}

func emit(l *log.Logger, level, format string, args ...any) {
    if l == nil {
        l = log.Default()
    }
    if jsonMode.Load() {
        line := map[string]any{
            "ts":    time.Now().UTC().Format(time.RFC3339Nano),
            "level": level,
            "msg":   fmt.Sprintf(format, args...),
        }
        b, _ := json.Marshal(line)
        l.Println(string(b))
        return
    }
    var tag string
    switch level {
    case "info":
        tag = "INFO "
    case "warn":
        tag = "WARN "
    default:
        tag = "ERROR "
    }
    log.New(l.Writer(), tag, l.Flags()).Printf(format, args...)
}
