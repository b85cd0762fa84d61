// Package api serves the read-only status view and the chat endpoint.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"sentinel-oracle/internal/metrics"
	"sentinel-oracle/internal/status"
)

// StatusReader is the query side of the status store.
type StatusReader interface {
	Status(asset string) (status.AssetStatus, error)
	History(asset string) ([]status.PricePoint, error)
	Snapshot() []status.AssetStatus
	Assets() []string
	StartedAt() time.Time
}

// Options configure the HTTP listener.
type Options struct {
	Listen          string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

// Server exposes the status store over HTTP.
type Server struct {
	opts    Options
	store   StatusReader
	metrics *metrics.Recorder
	logger  zerolog.Logger
	router  *mux.Router
	now     func() time.Time
}

type chatRequest struct {
	Message string `json:"message"`
	Asset   string `json:"asset"`
}

type chatResponse struct {
	Response    string    `json:"response"`
	Timestamp   time.Time `json:"timestamp"`
	Asset       string    `json:"asset"`
	IsAnomalous bool      `json:"is_anomalous"`
	Flagged     bool      `json:"flagged"`
}

// New builds the router.
func New(opts Options, store StatusReader, rec *metrics.Recorder, logger zerolog.Logger) *Server {
	if opts.Listen == "" {
		opts.Listen = ":5000"
	}
	if opts.ReadTimeout <= 0 {
		opts.ReadTimeout = 10 * time.Second
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 10 * time.Second
	}
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = 5 * time.Second
	}

	s := &Server{
		opts:    opts,
		store:   store,
		metrics: rec,
		logger:  logger.With().Str("component", "api").Logger(),
		router:  mux.NewRouter(),
		now:     func() time.Time { return time.Now().UTC() },
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.router.Use(s.requestLogger)
	s.router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	s.router.HandleFunc("/api/status", s.handleStatus).Methods(http.MethodGet)
	s.router.HandleFunc("/api/status/{asset:.+}", s.handleAssetStatus).Methods(http.MethodGet)
	s.router.HandleFunc("/api/price-history", s.handlePriceHistory).Methods(http.MethodGet)
	s.router.HandleFunc("/api/chat", s.handleChat).Methods(http.MethodPost)
	if s.metrics != nil {
		s.router.Handle("/metrics", s.metrics.Handler()).Methods(http.MethodGet)
	}
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler { return s.router }

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:         s.opts.Listen,
		Handler:      s.router,
		ReadTimeout:  s.opts.ReadTimeout,
		WriteTimeout: s.opts.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("listen", s.opts.Listen).Msg("status API listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.opts.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	started := s.store.StartedAt()
	writeJSON(w, http.StatusOK, map[string]any{
		"status":         "healthy",
		"timestamp":      s.now(),
		"uptime_start":   started,
		"uptime_seconds": int64(s.now().Sub(started).Seconds()),
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	snapshot := s.store.Snapshot()
	assets := make(map[string]status.AssetStatus, len(snapshot))
	for _, st := range snapshot {
		assets[st.Asset] = st
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":           "running",
		"assets":           assets,
		"uptime_start":     s.store.StartedAt(),
		"supported_assets": s.store.Assets(),
	})
}

func (s *Server) handleAssetStatus(w http.ResponseWriter, r *http.Request) {
	asset := mux.Vars(r)["asset"]
	st, err := s.store.Status(asset)
	if err != nil {
		writeError(w, http.StatusNotFound, "unsupported asset")
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handlePriceHistory(w http.ResponseWriter, r *http.Request) {
	asset := r.URL.Query().Get("asset")
	if asset == "" {
		if assets := s.store.Assets(); len(assets) > 0 {
			asset = assets[0]
		}
	}
	history, err := s.store.History(asset)
	if err != nil {
		writeError(w, http.StatusBadRequest, "unsupported asset")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"asset":  asset,
		"prices": history,
		"count":  len(history),
	})
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Asset == "" {
		if assets := s.store.Assets(); len(assets) > 0 {
			req.Asset = assets[0]
		}
	}

	resp := chatResponse{
		Response:  Respond(req.Message, req.Asset, s.store.Snapshot()),
		Timestamp: s.now(),
		Asset:     req.Asset,
	}
	if st, err := s.store.Status(req.Asset); err == nil {
		resp.Flagged = st.Flagged
		if st.LastVerdict != nil {
			resp.IsAnomalous = st.LastVerdict.IsAnomalous
		}
	}
	s.logger.Debug().Str("asset", req.Asset).Str("message", req.Message).Msg("chat request")
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", requestID)

		wrapped := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(wrapped, r)

		path := r.URL.Path
		if route := mux.CurrentRoute(r); route != nil {
			if tpl, err := route.GetPathTemplate(); err == nil {
				path = tpl
			}
		}
		s.logger.Debug().
			Str("request_id", requestID).
			Str("method", r.Method).
			Str("path", path).
			Int("status", wrapped.status).
			Dur("took", time.Since(start)).
			Msg("http request")
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
