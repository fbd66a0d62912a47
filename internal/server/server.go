// Package server exposes the assistant over HTTP: a small JSON API for
// status, tools, and invocations, plus a websocket that attaches an
// interface to a session and streams bus events.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/azcoigreach/nagatha-assistant-sub002/internal/assistant"
	"github.com/azcoigreach/nagatha-assistant-sub002/internal/config"
	"github.com/azcoigreach/nagatha-assistant-sub002/internal/httputil"
	"github.com/azcoigreach/nagatha-assistant-sub002/internal/logging"
	"github.com/azcoigreach/nagatha-assistant-sub002/internal/plugin"
)

// Server is the admin HTTP surface over a running assistant.
type Server struct {
	assistant *assistant.Assistant
	cfg       config.HTTPConfig
	httpSrv   *http.Server
}

// New builds the server and its routes.
func New(a *assistant.Assistant, cfg config.HTTPConfig) *Server {
	s := &Server{assistant: a, cfg: cfg}
	s.httpSrv = &http.Server{
		Addr:              cfg.Addr,
		Handler:           s.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler returns the router; exposed for tests.
func (s *Server) Handler() http.Handler {
	return s.httpSrv.Handler
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.Recoverer)
	r.Use(chimw.RealIP)

	r.Get("/healthz", s.handleHealth)
	r.Get("/ws", s.handleWebsocket)

	r.Route("/api/v1", func(r chi.Router) {
		if s.cfg.AuthSecret != "" {
			r.Use(JWTMiddleware(s.cfg.AuthSecret))
		}
		r.Get("/status", s.handleStatus)
		r.Get("/tools", s.handleTools)
		r.Get("/sessions", s.handleSessions)
		r.Post("/invoke", s.handleInvoke)
		r.Post("/refresh", s.handleRefresh)
		r.Post("/plugins/{name}/reload", s.handlePluginReload)
		r.Get("/plugins/{name}/settings", s.handlePluginSettings)
		r.Put("/plugins/{name}/settings", s.handlePluginSettingsUpdate)
	})
	return r
}

// Start listens in the background. Errors other than a clean close are
// logged; use Shutdown to stop.
func (s *Server) Start() {
	go func() {
		logging.Infof("http server listening on %s", s.cfg.Addr)
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.Errorf("http server: %v", err)
		}
	}()
}

// Shutdown stops accepting connections and drains handlers, bounded by ctx.
func (s *Server) Shutdown(ctx context.Context) {
	if err := s.httpSrv.Shutdown(ctx); err != nil {
		logging.Warnf("http shutdown: %v", err)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	httputil.OkJSON(w, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	httputil.OkJSON(w, s.assistant.Status())
}

type toolsRequest struct {
	Message string `form:"message"`
	Budget  int    `form:"budget"`
}

// handleTools returns the unified catalog; with ?message= it returns the
// selected subset for that message (and optional ?budget=).
func (s *Server) handleTools(w http.ResponseWriter, r *http.Request) {
	var req toolsRequest
	if err := httputil.Parse(r, &req); err != nil {
		httputil.Error(w, err)
		return
	}
	if req.Message == "" {
		httputil.OkJSON(w, s.assistant.Catalog())
		return
	}
	httputil.OkJSON(w, s.assistant.SelectTools(req.Message, req.Budget))
}

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	httputil.OkJSON(w, s.assistant.Sessions().Snapshot())
}

type invokeRequest struct {
	SessionID string         `json:"session_id"`
	Command   string         `json:"command"`
	Args      map[string]any `json:"args"`
}

func (s *Server) handleInvoke(w http.ResponseWriter, r *http.Request) {
	var req invokeRequest
	if err := httputil.Parse(r, &req); err != nil {
		httputil.Error(w, err)
		return
	}
	if req.Command == "" {
		httputil.ErrorWithCode(w, http.StatusBadRequest, "command is required")
		return
	}

	result, err := s.assistant.Invoke(r.Context(), req.SessionID, req.Command, req.Args)
	if err != nil {
		httputil.ToolError(w, err)
		return
	}
	httputil.OkJSON(w, result)
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), time.Minute)
	defer cancel()
	if err := s.assistant.Refresh(ctx); err != nil {
		httputil.ToolError(w, err)
		return
	}
	httputil.OkJSON(w, map[string]string{"status": "refreshed"})
}

func (s *Server) handlePluginReload(w http.ResponseWriter, r *http.Request) {
	name := httputil.PathVar(r, "name")
	if err := s.assistant.ReloadPlugin(r.Context(), name); err != nil {
		httputil.ToolError(w, err)
		return
	}
	httputil.OkJSON(w, map[string]string{"status": "reloaded", "plugin": name})
}

type settingsResponse struct {
	Values   map[string]string      `json:"values"`
	Manifest []plugin.SettingsField `json:"manifest,omitempty"`
}

func (s *Server) handlePluginSettings(w http.ResponseWriter, r *http.Request) {
	name := httputil.PathVar(r, "name")
	values, err := s.assistant.PluginSettings(r.Context(), name)
	if err != nil {
		httputil.ToolError(w, err)
		return
	}
	manifest, err := s.assistant.PluginManifest(name)
	if err != nil {
		httputil.ToolError(w, err)
		return
	}

	// Never echo secrets back out.
	for _, field := range manifest {
		if field.Secret {
			if _, ok := values[field.Key]; ok {
				values[field.Key] = "••••••"
			}
		}
	}
	httputil.OkJSON(w, settingsResponse{Values: values, Manifest: manifest})
}

type settingsRequest struct {
	Name   string            `path:"name" json:"-"`
	Values map[string]string `json:"values"`
}

func (s *Server) handlePluginSettingsUpdate(w http.ResponseWriter, r *http.Request) {
	var req settingsRequest
	if err := httputil.Parse(r, &req); err != nil {
		httputil.Error(w, err)
		return
	}
	if len(req.Values) == 0 {
		httputil.ErrorWithCode(w, http.StatusBadRequest, "values is required")
		return
	}

	if err := s.assistant.UpdatePluginSettings(r.Context(), req.Name, req.Values); err != nil {
		httputil.ToolError(w, err)
		return
	}
	httputil.OkJSON(w, map[string]string{"status": "updated", "plugin": req.Name})
}
