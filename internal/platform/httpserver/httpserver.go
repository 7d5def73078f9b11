package httpserver

import (
	"net/http"
	"time"
)

// New builds an HTTP server with sane defaults for this project. writeTimeout
// should exceed the request timeout so handlers can report their own deadline.
func New(addr string, handler http.Handler, writeTimeout time.Duration) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       60 * time.Second,
	}
}
