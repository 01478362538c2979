package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	json "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/ode0x/solaudit/api/schemas"
	"github.com/ode0x/solaudit/internal/config"
)

// auditRequest is the body of POST /api/audit: raw contract source plus
// optional display metadata.
type auditRequest struct {
	Source  string `json:"source"`
	Name    string `json:"name,omitempty"`
	Address string `json:"address,omitempty"`
	Network string `json:"network,omitempty"`
}

// fetchAuditRequest is the body of POST /api/audit/fetch: the contract is
// resolved through the explorer before auditing.
type fetchAuditRequest struct {
	Address string `json:"address"`
	Network string `json:"network,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// Server exposes the audit pipeline over HTTP.
type Server struct {
	auditor schemas.Auditor
	fetcher schemas.SourceFetcher
	log     *zap.Logger

	httpServer      *http.Server
	maxSourceBytes  int64
	shutdownTimeout time.Duration
	defaultNetwork  string
}

// NewServer builds the API server around an auditor. The fetcher may be
// nil, in which case the fetch endpoint answers 503.
func NewServer(cfg *config.Config, logger *zap.Logger, auditor schemas.Auditor, fetcher schemas.SourceFetcher) (*Server, error) {
	if cfg == nil || logger == nil {
		return nil, errors.New("cannot initialize server with nil dependencies")
	}
	if auditor == nil {
		return nil, errors.New("server requires an auditor")
	}

	maxSourceBytes := cfg.Server.MaxSourceBytes
	if maxSourceBytes <= 0 {
		maxSourceBytes = 2 << 20
	}
	shutdownTimeout := cfg.Server.ShutdownTimeout
	if shutdownTimeout <= 0 {
		shutdownTimeout = 10 * time.Second
	}

	s := &Server{
		auditor:         auditor,
		fetcher:         fetcher,
		log:             logger.Named("server"),
		maxSourceBytes:  maxSourceBytes,
		shutdownTimeout: shutdownTimeout,
		defaultNetwork:  cfg.Fetch.Network,
	}
	s.httpServer = &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      s.routes(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}
	return s, nil
}

// Handler returns the routed handler, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(s.logRequests)

	r.Get("/health", s.handleHealth)
	r.Route("/api", func(r chi.Router) {
		r.Post("/audit", s.handleAudit)
		r.Post("/audit/fetch", s.handleAuditFetch)
	})
	return r
}

// Run serves until the context is cancelled, then drains connections
// within the shutdown timeout.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.log.Info("API server listening", zap.String("addr", s.httpServer.Addr))
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
	}

	s.log.Info("Shutting down API server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
	defer cancel()
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleAudit(w http.ResponseWriter, r *http.Request) {
	var req auditRequest
	if !s.decodeBody(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Source) == "" {
		s.respondError(w, http.StatusBadRequest, "source is required")
		return
	}

	meta := schemas.ContractMeta{
		Name:    req.Name,
		Address: req.Address,
		Network: req.Network,
	}
	report, err := s.auditor.Audit(r.Context(), req.Source, meta)
	if err != nil {
		s.log.Error("Audit request failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, "audit failed")
		return
	}
	s.respondJSON(w, http.StatusOK, report)
}

func (s *Server) handleAuditFetch(w http.ResponseWriter, r *http.Request) {
	if s.fetcher == nil {
		s.respondError(w, http.StatusServiceUnavailable, "source fetching is not configured")
		return
	}

	var req fetchAuditRequest
	if !s.decodeBody(w, r, &req) {
		return
	}
	if req.Address == "" {
		s.respondError(w, http.StatusBadRequest, "address is required")
		return
	}
	network := req.Network
	if network == "" {
		network = s.defaultNetwork
	}

	src, err := s.fetcher.FetchSource(r.Context(), req.Address, network)
	if err != nil {
		s.log.Warn("Source fetch failed",
			zap.String("address", req.Address),
			zap.String("network", req.Network),
			zap.Error(err),
		)
		s.respondError(w, http.StatusBadGateway, fmt.Sprintf("failed to fetch contract source: %v", err))
		return
	}

	meta := schemas.ContractMeta{
		Name:       src.Name,
		Address:    src.Address,
		Network:    src.Network,
		IsVerified: src.IsVerified,
		HoldsFunds: src.HoldsFunds,
	}
	report, err := s.auditor.Audit(r.Context(), src.Source, meta)
	if err != nil {
		s.log.Error("Audit request failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, "audit failed")
		return
	}
	s.respondJSON(w, http.StatusOK, report)
}

// decodeBody reads a size-capped JSON body into dst, answering the
// request itself when the body is invalid.
func (s *Server) decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxSourceBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			s.respondError(w, http.StatusRequestEntityTooLarge,
				fmt.Sprintf("request body exceeds %d bytes", maxErr.Limit))
			return false
		}
		s.respondError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return false
	}
	return true
}

func (s *Server) respondError(w http.ResponseWriter, statusCode int, message string) {
	s.respondJSON(w, statusCode, errorResponse{Error: message})
}

func (s *Server) respondJSON(w http.ResponseWriter, statusCode int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.log.Error("Failed to encode response", zap.Error(err))
	}
}

// logRequests emits one structured line per request.
func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.log.Info("Request handled",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Int("bytes", ww.BytesWritten()),
			zap.Duration("duration", time.Since(start)),
		)
	})
}
