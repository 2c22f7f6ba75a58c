package httpserver

import (
	"log/slog"
	"net/http"
	"time"
)

// New builds the operator's HTTP server. The write timeout leaves
// room for an inbound transfer that registers with the Hub
// synchronously, including the Hub client's full retry budget;
// internal server errors land in the structured log.
func New(addr string, handler http.Handler, log *slog.Logger) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      5 * time.Minute,
		IdleTimeout:       2 * time.Minute,
		ErrorLog:          slog.NewLogLogger(log.Handler(), slog.LevelError),
	}
}
