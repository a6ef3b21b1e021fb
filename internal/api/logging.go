package api

import (
	"fmt"
	"net/http"
	"time"

	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/comigor/queryhub-go/internal/logger"
)

// requestLogger logs one line per request through logger.L.
func requestLogger(next http.Handler) http.Handler {
	return chimw.RequestLogger(slogFormatter{})(next)
}

type slogFormatter struct{}

func (slogFormatter) NewLogEntry(r *http.Request) chimw.LogEntry {
	return &slogEntry{attrs: []any{
		"request_id", chimw.GetReqID(r.Context()),
		"method", r.Method,
		"path", r.URL.Path,
		"remote_addr", r.RemoteAddr,
	}}
}

type slogEntry struct {
	attrs []any
}

func (e *slogEntry) Write(status, bytes int, _ http.Header, elapsed time.Duration, _ any) {
	attrs := append(e.attrs[:len(e.attrs):len(e.attrs)],
		"status", status,
		"bytes", bytes,
		"duration_ms", elapsed.Milliseconds(),
	)
	logger.L.Info("http request", attrs...)
}

func (e *slogEntry) Panic(v any, stack []byte) {
	attrs := append(e.attrs[:len(e.attrs):len(e.attrs)],
		"panic", fmt.Sprint(v),
		"stack", string(stack),
	)
	logger.L.Error("http handler panicked", attrs...)
}
