package daemon

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
)

// Server exposes the daemon over the local control API. It only ever binds
// to loopback; the control API carries no authentication of its own.
type Server struct {
	Daemon *Daemon
	Router *mux.Router
	srv    *http.Server
}

// NewServer builds the control server on the configured loopback address.
func NewServer(daemon *Daemon, addr string, accessLog *logrus.Entry) *Server {
	router := mux.NewRouter()
	srv := &http.Server{
		Handler:      handlers.LoggingHandler(accessLog.Writer(), router),
		Addr:         addr,
		WriteTimeout: 30 * time.Second,
		ReadTimeout:  15 * time.Second,
	}

	return &Server{
		Daemon: daemon,
		Router: router,
		srv:    srv,
	}
}

// Start serves until Shutdown is called.
func (s *Server) Start() error {
	return s.srv.ListenAndServe()
}

// Shutdown drains in-flight requests and stops the listener.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
