package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"labbooking/internal/config"
	"labbooking/internal/domain"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// Pinger reports whether a backing store is usable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Dependencies are the collaborators of the HTTP API. Audit and Limiter
// may be nil.
type Dependencies struct {
	Service domain.ReservationService
	Audit   domain.AuditLog
	Store   Pinger
	Limiter domain.RateLimitRepository
}

// HTTPServer exposes the reservation operations over HTTP.
type HTTPServer struct {
	cfg    config.APIConfig
	deps   Dependencies
	logger *zerolog.Logger
	server *http.Server
}

func NewHTTPServer(cfg config.APIConfig, deps Dependencies, logger *zerolog.Logger) *HTTPServer {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	srv := &HTTPServer{cfg: cfg, deps: deps, logger: logger}

	router := mux.NewRouter()
	router.Use(srv.metricsMiddleware)

	router.HandleFunc("/api/getPrenotazione", srv.handleGet).Methods(http.MethodGet)
	router.HandleFunc("/api/getListaPrenotazioni", srv.handleList).Methods(http.MethodGet)
	router.HandleFunc("/api/addPrenotazione", srv.handleAdd).Methods(http.MethodPost)
	router.HandleFunc("/api/updatePrenotazione", srv.handleUpdate).Methods(http.MethodPost, http.MethodPut)
	router.HandleFunc("/api/deletePrenotazione", srv.handleDelete).Methods(http.MethodDelete)
	router.HandleFunc("/api/getStoricoPrenotazione", srv.handleHistory).Methods(http.MethodGet)
	router.HandleFunc("/api/exportPrenotazioni", srv.handleExport).Methods(http.MethodGet)
	router.HandleFunc("/api/laboratori", srv.handleLabs).Methods(http.MethodGet)
	router.HandleFunc("/healthz", srv.handleHealth).Methods(http.MethodGet)

	router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, "not found")
	})
	router.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	})

	handler := srv.requestID(srv.accessLog(srv.cors(srv.rateLimit(srv.limitBody(router)))))
	handler = otelhttp.NewHandler(handler, "labbooking")

	srv.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTP.Port),
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
	}

	return srv
}

// Handler returns the fully wrapped handler.
func (s *HTTPServer) Handler() http.Handler {
	return s.server.Handler
}

func (s *HTTPServer) Start() error {
	if s.server == nil {
		return fmt.Errorf("http server is not initialized")
	}
	s.logger.Info().Str("addr", s.server.Addr).Msg("HTTP API listening")
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *HTTPServer) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}
