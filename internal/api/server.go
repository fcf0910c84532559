package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/sirupsen/logrus"

	"github.com/crownking/assistant/internal/config"
	"github.com/crownking/assistant/internal/engine"
	"github.com/crownking/assistant/internal/fetcher"
	"github.com/crownking/assistant/internal/provider"
)

const maxBodySize = 1 << 20

type Server struct {
	Engine *engine.Engine
	Logger *logrus.Entry
	Router *chi.Mux

	cfg  config.ServerConfig
	http *http.Server
}

func NewServer(eng *engine.Engine, logger *logrus.Entry, cfg config.ServerConfig) *Server {
	s := &Server{
		Engine: eng,
		Logger: logger,
		Router: chi.NewRouter(),
		cfg:    cfg,
	}
	s.routes()
	s.http = &http.Server{
		Addr:         cfg.Addr,
		Handler:      s.Router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
	return s
}

func (s *Server) routes() {
	s.Router.Use(middleware.RequestID)
	s.Router.Use(middleware.RealIP)
	s.Router.Use(accessLog(s.Logger))
	s.Router.Use(middleware.Recoverer)
	s.Router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		ExposedHeaders:   []string{"X-Exchange-ID", "X-Request-Id"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	s.Router.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		jsonResponse(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	s.Router.Get("/status", s.handleStatus)
	s.Router.Post("/chat", s.handleChat)
	s.Router.Post("/add_sample_document", s.handleAddSampleDocument)
	s.Router.Post("/reload", s.handleReload)
	s.Router.Post("/documents/import", s.handleImport)
}

// Start serves until Shutdown is called.
func (s *Server) Start() error {
	s.Logger.Infof("Starting API Server on %s", s.http.Addr)
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.Logger.Info("Shutting down API Server")
	if err := s.http.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown error: %w", err)
	}
	return nil
}

// Requests & responses

type ChatRequest struct {
	Query string `json:"query"`
}

type ChatResponse struct {
	Answer string `json:"answer"`
}

type ErrorResponse struct {
	Detail string `json:"detail"`
}

type MessageResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

type ImportRequest struct {
	URL  string `json:"url"`
	Name string `json:"name,omitempty"`
}

type ImportResponse struct {
	Status string `json:"status"`
	Path   string `json:"path"`
}

type StatusResponse struct {
	Ready        bool       `json:"ready"`
	Provider     string     `json:"provider,omitempty"`
	Documents    int        `json:"documents"`
	ContextBytes int        `json:"context_bytes"`
	LoadedAt     *time.Time `json:"loaded_at,omitempty"`
	Requests     int64      `json:"requests"`
	Failures     int64      `json:"failures"`
	Uptime       string     `json:"uptime"`
}

// Handlers

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req ChatRequest
	if err := decodeJSON(w, r, &req); err != nil {
		jsonResponse(w, http.StatusBadRequest, ErrorResponse{Detail: "Invalid JSON"})
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		jsonResponse(w, http.StatusBadRequest, ErrorResponse{Detail: "Query is required"})
		return
	}

	x, err := s.Engine.Ask(r.Context(), req.Query)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	w.Header().Set("X-Exchange-ID", x.ID)
	jsonResponse(w, http.StatusOK, ChatResponse{Answer: x.Answer()})
}

func (s *Server) handleAddSampleDocument(w http.ResponseWriter, r *http.Request) {
	path, err := s.Engine.AddSampleDocument()
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.Logger.WithField("path", path).Info("Sample document written")
	jsonResponse(w, http.StatusOK, MessageResponse{
		Status:  "success",
		Message: fmt.Sprintf("Sample document added at %s. Call /reload to use it.", path),
	})
}

func (s *Server) handleReload(w http.ResponseWriter, r *http.Request) {
	if err := s.Engine.Reload(); err != nil {
		s.Logger.WithError(err).Error("Reload failed")
		jsonResponse(w, http.StatusInternalServerError, ErrorResponse{Detail: fmt.Sprintf("Reload failed: %v", err)})
		return
	}
	jsonResponse(w, http.StatusOK, MessageResponse{
		Status:  "success",
		Message: "Documents reloaded and LLM reinitialized",
	})
}

func (s *Server) handleImport(w http.ResponseWriter, r *http.Request) {
	var req ImportRequest
	if err := decodeJSON(w, r, &req); err != nil {
		jsonResponse(w, http.StatusBadRequest, ErrorResponse{Detail: "Invalid JSON"})
		return
	}
	if req.URL == "" {
		jsonResponse(w, http.StatusBadRequest, ErrorResponse{Detail: "URL is required"})
		return
	}

	path, err := s.Engine.ImportDocument(r.Context(), req.URL, req.Name)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	jsonResponse(w, http.StatusCreated, ImportResponse{Status: "imported", Path: path})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	st := s.Engine.Status()

	resp := StatusResponse{
		Ready:        st.Ready,
		Provider:     st.Provider,
		Documents:    st.Documents,
		ContextBytes: st.ContextBytes,
		Requests:     st.Requests,
		Failures:     st.Failures,
		Uptime:       time.Since(st.StartTime).Round(time.Second).String(),
	}
	if st.Ready {
		resp.LoadedAt = &st.LoadedAt
	}

	jsonResponse(w, http.StatusOK, resp)
}

// writeError maps engine and provider failures onto status codes.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	log := s.Logger.WithError(err).WithField("request_id", middleware.GetReqID(r.Context()))

	switch {
	case errors.Is(err, engine.ErrNotInitialized):
		jsonResponse(w, http.StatusServiceUnavailable, ErrorResponse{Detail: "LLM is not initialized. Please check your API keys and try again."})
	case errors.Is(err, provider.ErrConfiguration):
		log.Error("Configuration error")
		jsonResponse(w, http.StatusServiceUnavailable, ErrorResponse{Detail: err.Error()})
	case errors.Is(err, fetcher.ErrInvalidURL):
		jsonResponse(w, http.StatusBadRequest, ErrorResponse{Detail: err.Error()})
	case errors.Is(err, fetcher.ErrDisallowed), errors.Is(err, fetcher.ErrHostNotAllowed):
		jsonResponse(w, http.StatusForbidden, ErrorResponse{Detail: err.Error()})
	default:
		log.Error("Request failed")
		jsonResponse(w, http.StatusInternalServerError, ErrorResponse{Detail: fmt.Sprintf("Error processing request: %v", err)})
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) error {
	return json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodySize)).Decode(v)
}

func jsonResponse(w http.ResponseWriter, code int, payload interface{}) {
	response, _ := json.Marshal(payload)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(response)
}
