// Package web exposes a read-only HTTP inspection surface for tooling: the
// registered layouts and an address-to-rendering endpoint.
package web

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/valscope/valscope/internal/debug"
	"github.com/valscope/valscope/internal/layout"
	"github.com/valscope/valscope/internal/memory"
	"github.com/valscope/valscope/internal/render"
)

// Server serves layout and render endpoints over HTTP.
type Server struct {
	registry *layout.Registry
	renderer *render.Renderer
	logger   *zap.Logger
	mux      chi.Router

	httpServer *http.Server
}

// RenderRequest is the render endpoint's request payload. Address accepts hex
// (0x…) or decimal. Tag, when present, forces that layout instead of
// dispatching on the value's header.
type RenderRequest struct {
	Address string `json:"address"`
	Depth   int    `json:"depth,omitempty"`
	Tag     string `json:"tag,omitempty"`
}

// RenderResponse is the render endpoint's response payload.
type RenderResponse struct {
	Address string `json:"address"`
	Output  string `json:"output"`
}

// LayoutInfo describes one registered layout for the listing endpoint.
type LayoutInfo struct {
	Tag    string `json:"tag"`
	Name   string `json:"name"`
	Fields int    `json:"fields"`
}

// NewServer creates an inspection server over a registry and a memory source.
func NewServer(registry *layout.Registry, source memory.Source, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Server{
		registry: registry,
		renderer: render.New(registry, source, render.Options{}),
		logger:   logger,
	}

	mux := chi.NewRouter()
	mux.Get("/health", s.handleHealth)
	mux.Get("/layouts", s.handleLayouts)
	mux.Post("/render", s.handleRender)
	s.mux = mux

	return s
}

// Handler returns the server's HTTP handler, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// Start begins serving on addr and blocks until the server stops.
func (s *Server) Start(addr string) error {
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.mux,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.logger.Info("inspection server listening", zap.String("addr", addr))
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server failed: %w", err)
	}
	return nil
}

// Shutdown gracefully stops a started server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleLayouts(w http.ResponseWriter, r *http.Request) {
	tags := s.registry.Tags()
	infos := make([]LayoutInfo, 0, len(tags))
	for _, tag := range tags {
		rule, ok := s.registry.Lookup(tag)
		if !ok {
			continue
		}
		infos = append(infos, LayoutInfo{
			Tag:    tag.String(),
			Name:   rule.Name,
			Fields: len(rule.Fields),
		})
	}

	s.writeJSON(w, http.StatusOK, infos)
}

func (s *Server) handleRender(w http.ResponseWriter, r *http.Request) {
	var req RenderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return
	}

	addr, ok := debug.ParseAddress(req.Address)
	if !ok || addr == 0 {
		s.writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid address %q", req.Address))
		return
	}

	var (
		out string
		err error
	)
	if req.Tag != "" {
		tag, ok := debug.ParseAddress(req.Tag)
		if !ok {
			s.writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid tag %q", req.Tag))
			return
		}
		out, err = s.renderer.RenderAs(addr, layout.TypeTag(tag), req.Depth)
	} else {
		out, err = s.renderer.Render(addr, req.Depth)
	}
	if err != nil {
		s.logger.Warn("render failed", zap.String("address", req.Address), zap.Error(err))
		s.writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	s.writeJSON(w, http.StatusOK, RenderResponse{
		Address: fmt.Sprintf("0x%x", addr),
		Output:  out,
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn("failed to encode response", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}
