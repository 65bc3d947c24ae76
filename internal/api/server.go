// Package api serves the tenant chat APIs over HTTP.
package api

import (
	"context"
	"errors"
	"net/http"
	"slices"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/gorilla/websocket"
	"github.com/ory/herodot"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"rag-chatbot/internal/auth"
	"rag-chatbot/internal/config"
	apperrors "rag-chatbot/internal/errors"
	"rag-chatbot/internal/models"
	"rag-chatbot/internal/provider"
)

type Server struct {
	cfg      *config.Config
	router   chi.Router
	tenants  map[string]provider.Provider
	verifier auth.Verifier
	writer   *herodot.JSONWriter
	errors   *apperrors.ErrorHandler
	upgrader websocket.Upgrader
}

// NewServer routes every tenant under /{tenant}/api. A nil verifier leaves
// the admin endpoints open.
func NewServer(cfg *config.Config, tenants map[string]provider.Provider, verifier auth.Verifier) *Server {
	s := &Server{
		cfg:      cfg,
		router:   chi.NewRouter(),
		tenants:  tenants,
		verifier: verifier,
		writer:   herodot.NewJSONWriter(nil),
		errors:   apperrors.NewErrorHandler(cfg),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	r := s.router

	r.Use(requestID)
	r.Use(routeSpanName)
	if s.cfg.Server.TrustProxyHeaders {
		r.Use(middleware.RealIP)
	}
	r.Use(loggingMiddleware)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.cfg.Server.CORSOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: !slices.Contains(s.cfg.Server.CORSOrigins, "*"),
	}))
	r.Use(frameAncestors(s.cfg.Server.FrameAncestors))

	r.Get("/health", s.healthCheck)

	var limiter *clientLimiter
	if s.cfg.RateLimit.Enabled {
		limiter = newClientLimiter(s.cfg.RateLimit.RequestsPerSecond, s.cfg.RateLimit.Burst)
	}

	for name, p := range s.tenants {
		h := &tenantHandler{
			server:   s,
			name:     name,
			provider: p,
			template: s.cfg.Tenants[name].Template,
		}

		r.Route("/"+name+"/api", func(r chi.Router) {
			if limiter != nil {
				r.Use(limiter.middleware(s.writer))
			}

			r.Post("/qa", h.answer)
			r.Post("/qa/stream", h.answerStream)
			r.Get("/qa/ws", h.answerWebSocket)
			r.Get("/faqs", h.faqs)
			r.Get("/faqs/translate", h.translateFAQs)
			r.Post("/transcribe", h.transcribe)
			r.Get("/template", h.templateInfo)

			r.Group(func(r chi.Router) {
				r.Use(auth.Middleware(s.verifier, s.writer))
				r.Get("/data_search", h.dataSearch)
				r.Get("/document_delete", h.deleteDocument)
				r.Get("/document_delete_all", h.deleteAllDocuments)
			})
		})
	}
}

// Handler returns the instrumented root handler. Spans start named by
// method and are renamed to the matched route once routing completes.
func (s *Server) Handler() http.Handler {
	return otelhttp.NewHandler(s.router, "chatbot",
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return r.Method
		}),
	)
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Addr(),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       time.Duration(s.cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Server.WriteTimeout) * time.Second,
		TLSConfig:         s.cfg.GetTLSConfig(),
	}

	errc := make(chan error, 1)
	go func() {
		log.WithField("addr", srv.Addr).WithField("tls", s.cfg.Server.TLS.Enabled).Info("server starting")

		var err error
		if s.cfg.Server.TLS.Enabled {
			err = srv.ListenAndServeTLS(s.cfg.Server.TLS.CertFile, s.cfg.Server.TLS.KeyFile)
		} else {
			err = srv.ListenAndServe()
		}
		if !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	log.Info("server shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func (s *Server) healthCheck(w http.ResponseWriter, r *http.Request) {
	names := make([]string, 0, len(s.tenants))
	status := "healthy"
	for name, p := range s.tenants {
		names = append(names, name)
		if p.State() != provider.StateReady {
			status = "degraded"
		}
	}
	slices.Sort(names)

	s.writer.Write(w, r, &models.HealthResponse{Status: status, Tenants: names})
}

// writeError maps err through the error handler and writes it.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	s.writer.WriteError(w, r, s.errors.Handle(r, err, RequestIDFromContext(r.Context())))
}
