package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

// Registrar mounts a group of routes
type Registrar interface {
	Register(r *mux.Router)
}

// HTTPServer serves webhooks, the control API and the notice socket
type HTTPServer struct {
	server *http.Server
	logger *zap.Logger
}

// NewRouter assembles every HTTP route
func NewRouter(hub *Hub, groups ...Registrar) *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	}).Methods(http.MethodGet)
	if hub != nil {
		r.HandleFunc("/ws", hub.ServeWS)
	}
	for _, g := range groups {
		g.Register(r)
	}
	return r
}

// NewHTTPServer creates a server listening on addr
func NewHTTPServer(addr string, handler http.Handler, logger *zap.Logger) *HTTPServer {
	return &HTTPServer{
		server: &http.Server{
			Addr:              addr,
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
		},
		logger: logger,
	}
}

// Start blocks serving until Stop is called
func (s *HTTPServer) Start() error {
	s.logger.Info("[HTTP] Starting server", zap.String("addr", s.server.Addr))
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop gracefully shuts the server down
func (s *HTTPServer) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}
