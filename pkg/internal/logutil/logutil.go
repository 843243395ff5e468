package logutil

import (
    "encoding/json"
    "fmt"
    "log"
    "os"
    "sync/atomic"
    "time"
)

var (
    jsonMode  atomic.Bool
    debugMode atomic.Bool
)

func init() {
    if os.Getenv("RETAINER_LOG_JSON") == "1" || os.Getenv("RETAINER_LOG_FORMAT") == "json" {
        jsonMode.Store(true)
    }
    if os.Getenv("RETAINER_LOG_DEBUG") == "1" {
        debugMode.Store(true)
    }
}

func SetJSON(enabled bool)  { jsonMode.Store(enabled) }
func SetDebug(enabled bool) { debugMode.Store(enabled) }

func Debugf(l *log.Logger, f string, args ...any) {
    if !debugMode.Load() { return }
    logf(l, "debug", f, args...)
}
func Infof(l *log.Logger, f string, args ...any)  { logf(l, "info", f, args...) }
func Warnf(l *log.Logger, f string, args ...any)  { logf(l, "warn", f, args...) }
func Errorf(l *log.Logger, f string, args ...any) { logf(l, "error", f, args...) }

var levelPrefix = map[string]string{
    "debug": "DEBUG ",
    "info":  "INFO ",
    "warn":  "WARN ",
    "error": "ERROR ",
}

func logf(l *log.Logger, level, f string, args ...any) {
    if l == nil { l = log.Default() }
    msg := fmt.Sprintf(f, args...)
    if jsonMode.Load() {
        b, _ := json.Marshal(map[string]any{
            "ts":    time.Now().UTC().Format(time.RFC3339Nano),
            "level": level,
            "msg":   msg,
        })
        l.Println(string(b))
        return
    }
    // Output with depth 3 keeps Lshortfile pointing at the caller.
    _ = log.New(l.Writer(), levelPrefix[level], l.Flags()).Output(3, msg)
}
