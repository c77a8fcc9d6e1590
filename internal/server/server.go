// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/jeranaias/chatgate/internal/config"
	"github.com/jeranaias/chatgate/internal/export"
	"github.com/jeranaias/chatgate/internal/gateway"
	"github.com/jeranaias/chatgate/internal/model"
	"github.com/jeranaias/chatgate/internal/settings"
	"github.com/jeranaias/chatgate/internal/sse"
	"github.com/jeranaias/chatgate/internal/storage"
	"github.com/jeranaias/chatgate/internal/version"
)

// sweepInterval is how often idle rate-limit buckets are dropped.
const sweepInterval = time.Minute

// ============================================================================
// SERVER
// ============================================================================

// Server is the HTTP front end for the gateway and the conversation store.
type Server struct {
	cfg     config.ServerConfig
	gateway *gateway.Gateway
	store   storage.Store
	logger  *slog.Logger
	limiter *RateLimiter
	handler http.Handler
}

// New creates a Server. store may be nil, in which case conversation
// routes answer 503.
func New(cfg config.ServerConfig, gw *gateway.Gateway, store storage.Store) *Server {
	s := &Server{
		cfg:     cfg,
		gateway: gw,
		store:   store,
		logger:  slog.Default(),
	}
	if cfg.RateLimit > 0 {
		s.limiter = NewRateLimiter(cfg.RateLimit, cfg.RateBurst)
	}
	s.handler = s.routes()
	return s
}

// WithLogger sets the logger and rebuilds the middleware chain.
func (s *Server) WithLogger(logger *slog.Logger) *Server {
	if logger != nil {
		s.logger = logger
		s.handler = s.routes()
	}
	return s
}

// Handler returns the root handler with all middleware applied.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Run serves on cfg.Addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.cfg.Addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve is Run on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: seconds(s.cfg.ReadTimeoutSecs),
		ReadTimeout:       seconds(s.cfg.ReadTimeoutSecs),
		IdleTimeout:       seconds(s.cfg.IdleTimeoutSecs),
		// No WriteTimeout: chat streams are bounded by provider timeouts.
		ErrorLog: slog.NewLogLogger(s.logger.Handler(), slog.LevelWarn),
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		s.logger.Info("SERVER_START", "addr", ln.Addr().String(), "version", version.Get().String(), "backends", s.gateway.Registry().Backends())
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		timeout := seconds(s.cfg.ShutdownTimeoutSecs)
		if timeout == 0 {
			timeout = 10 * time.Second
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		s.logger.Info("SERVER_STOP", "timeout", timeout)
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown failed: %w", err)
		}
		return nil
	})

	if s.limiter != nil {
		g.Go(func() error {
			ticker := time.NewTicker(sweepInterval)
			defer ticker.Stop()
			for {
				select {
				case <-gctx.Done():
					return nil
				case <-ticker.C:
					s.limiter.Sweep()
				}
			}
		})
	}

	return g.Wait()
}

func seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}

// ============================================================================
// ROUTES
// ============================================================================

func (s *Server) routes() http.Handler {
	api := http.NewServeMux()
	api.HandleFunc("POST /api/chat", s.handleChat)
	api.HandleFunc("GET /api/backends", s.handleBackends)

	api.HandleFunc("GET /api/conversations", s.handleListConversations)
	api.HandleFunc("POST /api/conversations", s.handleCreateConversation)
	api.HandleFunc("GET /api/conversations/{id}", s.handleGetConversation)
	api.HandleFunc("DELETE /api/conversations/{id}", s.handleDeleteConversation)
	api.HandleFunc("GET /api/conversations/{id}/export", s.handleExportConversation)
	api.HandleFunc("POST /api/conversations/{id}/prune", s.handlePruneConversation)
	api.HandleFunc("POST /api/conversations/{id}/messages/{messageId}/feedback", s.handleFeedback)

	root := http.NewServeMux()
	root.HandleFunc("GET /health", s.handleHealth)
	root.Handle("/api/", AuthMiddleware(&AuthConfig{
		BearerToken: s.cfg.AuthToken,
		AllowedIPs:  s.cfg.AllowedIPs,
	}, s.logger)(api))

	chain := []func(http.Handler) http.Handler{
		RecoveryMiddleware(s.logger),
		LoggingMiddleware(s.logger),
		SecurityHeadersMiddleware(),
		CORSMiddleware(NewCORSConfig(s.cfg.CORSOrigins)),
	}
	if s.limiter != nil {
		chain = append(chain, RateLimitMiddleware(s.limiter, s.logger))
	}
	return Chain(chain...)(root)
}

// ============================================================================
// JSON HELPERS
// ============================================================================

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

// decodeBody decodes an optional JSON body capped at MaxBodyBytes.
func (s *Server) decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	if s.cfg.MaxBodyBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes)
	}
	return json.NewDecoder(r.Body).Decode(v)
}

// ============================================================================
// CHAT
// ============================================================================

// ChatMessage is one message in a chat request body.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatRequest is the POST /api/chat body.
type ChatRequest struct {
	Backend        string        `json:"backend"`
	Model          string        `json:"model,omitempty"`
	Messages       []ChatMessage `json:"messages,omitempty"`
	ConversationID string        `json:"conversationId,omitempty"`
	Settings       *settings.Raw `json:"settings,omitempty"`
	Cwd            string        `json:"cwd,omitempty"`
}

func (c *ChatRequest) toGateway() gateway.Request {
	req := gateway.Request{
		Backend:        c.Backend,
		Model:          c.Model,
		ConversationID: c.ConversationID,
		WorkingDir:     c.Cwd,
	}
	if c.Settings != nil {
		req.Settings = *c.Settings
	}
	req.Messages = make([]model.Message, len(c.Messages))
	for i, m := range c.Messages {
		req.Messages[i] = model.Message{Role: model.Role(m.Role), Content: m.Content}
	}
	return req
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var body ChatRequest
	if err := s.decodeBody(w, r, &body); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		s.logger.Debug("INVALID_BODY", "error", err)
		writeError(w, http.StatusInternalServerError, "invalid request body")
		return
	}

	enc := sse.NewEncoder(w)
	err := s.gateway.Handle(r.Context(), body.toGateway(), enc)
	if err == nil || enc.Opened() {
		return
	}

	var gerr *gateway.Error
	if !errors.As(err, &gerr) {
		// Client went away before anything was written.
		return
	}
	writeError(w, gatewayStatus(gerr), gerr.Message)
}

func gatewayStatus(err *gateway.Error) int {
	switch {
	case errors.Is(err, gateway.ErrInvalidRequest):
		return http.StatusBadRequest
	case errors.Is(err, storage.ErrConversationNotFound):
		return http.StatusNotFound
	case errors.Is(err, gateway.ErrProviderUnavailable):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// ============================================================================
// CONVERSATIONS
// ============================================================================

// storageError writes the status and client message for a store error.
func (s *Server) storageError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, storage.ErrConversationNotFound):
		writeError(w, http.StatusNotFound, "conversation not found")
	case errors.Is(err, storage.ErrMessageNotFound):
		writeError(w, http.StatusNotFound, "message not found")
	case errors.Is(err, storage.ErrInvalidID):
		writeError(w, http.StatusBadRequest, "invalid conversation id")
	case errors.Is(err, storage.ErrInvalidKeep):
		writeError(w, http.StatusBadRequest, "keepLast must be >= 0")
	case errors.Is(err, context.Canceled):
		// Client gone.
	default:
		s.logger.Error("STORAGE_ERROR", "error", err)
		writeError(w, http.StatusInternalServerError, "storage failure")
	}
}

// requireStore answers 503 when no store is configured.
func (s *Server) requireStore(w http.ResponseWriter) bool {
	if s.store == nil {
		writeError(w, http.StatusServiceUnavailable, "conversations are not enabled")
		return false
	}
	return true
}

// withLock runs fn holding the conversation's lock.
func (s *Server) withLock(w http.ResponseWriter, r *http.Request, id string, fn func() error) {
	if err := storage.ValidateID(id); err != nil {
		s.storageError(w, err)
		return
	}
	unlock, err := s.gateway.Locks().Lock(r.Context(), id)
	if err != nil {
		return
	}
	defer unlock()

	if err := fn(); err != nil {
		s.storageError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListConversations(w http.ResponseWriter, r *http.Request) {
	if !s.requireStore(w) {
		return
	}
	list, err := s.store.List(r.Context())
	if err != nil {
		s.storageError(w, err)
		return
	}
	if list == nil {
		list = []model.Summary{}
	}
	writeJSON(w, http.StatusOK, list)
}

type createRequest struct {
	Title string `json:"title"`
}

type createResponse struct {
	ID string `json:"id"`
}

func (s *Server) handleCreateConversation(w http.ResponseWriter, r *http.Request) {
	if !s.requireStore(w) {
		return
	}
	var body createRequest
	if r.ContentLength != 0 {
		if err := s.decodeBody(w, r, &body); err != nil && !errors.Is(err, io.EOF) {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}
	conv, err := s.store.Create(r.Context(), body.Title)
	if err != nil {
		s.storageError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, createResponse{ID: conv.ID})
}

func (s *Server) handleGetConversation(w http.ResponseWriter, r *http.Request) {
	if !s.requireStore(w) {
		return
	}
	conv, err := s.store.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		s.storageError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, conv)
}

func (s *Server) handleExportConversation(w http.ResponseWriter, r *http.Request) {
	if !s.requireStore(w) {
		return
	}
	format, err := export.ParseFormat(r.URL.Query().Get("format"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	id := r.PathValue("id")

	if format == export.FormatText {
		text, err := s.store.Export(r.Context(), id)
		if err != nil {
			s.storageError(w, err)
			return
		}
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(text))
		return
	}

	conv, err := s.store.Get(r.Context(), id)
	if err != nil {
		s.storageError(w, err)
		return
	}
	exporter, err := export.For(format, export.DefaultOptions())
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	data, err := exporter.Export(conv)
	if err != nil {
		s.logger.Error("EXPORT_ERROR", "conversation", id, "format", format, "error", err)
		writeError(w, http.StatusInternalServerError, "export failed")
		return
	}
	w.Header().Set("Content-Type", exporter.MimeType())
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", export.Filename(conv, exporter)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

type pruneRequest struct {
	KeepLast *int `json:"keepLast"`
}

func (s *Server) handlePruneConversation(w http.ResponseWriter, r *http.Request) {
	if !s.requireStore(w) {
		return
	}
	var body pruneRequest
	if err := s.decodeBody(w, r, &body); err != nil || body.KeepLast == nil {
		writeError(w, http.StatusBadRequest, "keepLast is required")
		return
	}
	id := r.PathValue("id")
	s.withLock(w, r, id, func() error {
		return s.store.Prune(r.Context(), id, *body.KeepLast)
	})
}

func (s *Server) handleDeleteConversation(w http.ResponseWriter, r *http.Request) {
	if !s.requireStore(w) {
		return
	}
	id := r.PathValue("id")
	s.withLock(w, r, id, func() error {
		return s.store.Prune(r.Context(), id, 0)
	})
}

type feedbackRequest struct {
	Feedback model.Feedback `json:"feedback"`
}

func (s *Server) handleFeedback(w http.ResponseWriter, r *http.Request) {
	if !s.requireStore(w) {
		return
	}
	var body feedbackRequest
	if err := s.decodeBody(w, r, &body); err != nil || !body.Feedback.Valid() {
		writeError(w, http.StatusBadRequest, `feedback must be "up" or "down"`)
		return
	}
	id, msgID := r.PathValue("id"), r.PathValue("messageId")
	s.withLock(w, r, id, func() error {
		return s.store.SetFeedback(r.Context(), id, msgID, body.Feedback)
	})
}

// ============================================================================
// BACKENDS AND HEALTH
// ============================================================================

type backendsResponse struct {
	Backends []string `json:"backends"`
}

func (s *Server) handleBackends(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, backendsResponse{Backends: s.gateway.Registry().Backends()})
}

type healthResponse struct {
	Status   string   `json:"status"`
	Version  string   `json:"version"`
	Backends []string `json:"backends"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{
		Status:   "ok",
		Version:  version.Get().String(),
		Backends: s.gateway.Registry().Backends(),
	})
}
