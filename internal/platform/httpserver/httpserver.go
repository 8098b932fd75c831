// Package httpserver configures the API's http.Server.
package httpserver

import (
	"net/http"
	"time"
)

// New builds the server with timeouts suited to small JSON request bodies.
// Result submission and intake payloads are tiny; anything slow is a stuck
// client, not a big upload.
func New(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}
