// Package api exposes the HTTP surface: transcript reads, session
// management, and cancellation.
package api

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/MikeSquared-Agency/quill/internal/batcher"
	"github.com/MikeSquared-Agency/quill/internal/events"
	"github.com/MikeSquared-Agency/quill/internal/live"
	"github.com/MikeSquared-Agency/quill/internal/session"
	"github.com/MikeSquared-Agency/quill/internal/store"
	"github.com/MikeSquared-Agency/quill/internal/transcript"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

type Server struct {
	store   store.SessionStore
	batcher *batcher.Batcher
	manager *live.Manager
	opts    transcript.Options
	router  chi.Router
	port    int
}

func NewServer(s store.SessionStore, b *batcher.Batcher, m *live.Manager, opts transcript.Options, port int) *Server {
	srv := &Server{
		store:   s,
		batcher: b,
		manager: m,
		opts:    opts,
		port:    port,
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", srv.handleHealth)
		r.Get("/sessions", srv.handleListSessions)
		r.Post("/sessions/new", srv.handleNewSession)
		r.Delete("/sessions", srv.handleDeleteAllSessions)
		r.Get("/sessions/{sessionID}/transcript", srv.handleGetTranscript)
		r.Get("/sessions/{sessionID}/timings", srv.handleGetTimings)
		r.Post("/sessions/{sessionID}/cancel", srv.handleCancel)
		r.Delete("/sessions/{sessionID}", srv.handleDeleteSession)
	})

	srv.router = r
	return srv
}

func (s *Server) Start() error {
	addr := fmt.Sprintf(":%d", s.port)
	slog.Info("starting HTTP API", "addr", addr)
	return http.ListenAndServe(addr, s.router)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":               "ok",
		"service":              "quill",
		"buffer_size":          s.batcher.BufferLen(),
		"active_conversations": s.manager.ActiveConversations(),
	})
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	userID := userIDParam(r)

	ids, err := s.store.ListSessionIDs(r.Context(), userID)
	if err != nil {
		// A dead store degrades to an empty history, not a failed page.
		slog.Error("list sessions failed", "user_id", userID, "error", err)
		writeJSON(w, http.StatusOK, []string{})
		return
	}
	if ids == nil {
		ids = []string{}
	}

	writeJSON(w, http.StatusOK, ids)
}

func (s *Server) handleNewSession(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"session_id": session.NewID()})
}

// handleGetTranscript rebuilds the full conversation from stored run
// records. Every failure mode collapses to an empty transcript.
func (s *Server) handleGetTranscript(w http.ResponseWriter, r *http.Request) {
	userID := userIDParam(r)
	sessionID := chi.URLParam(r, "sessionID")

	opts := s.opts
	if v := r.URL.Query().Get("show_tool_metadata"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			opts.ShowToolMetadata = b
		}
	}
	if v := r.URL.Query().Get("latex"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			opts.LatexMode = b
		}
	}

	recs, err := s.store.GetRunRecords(r.Context(), userID, sessionID)
	if err != nil {
		slog.Error("get run records failed", "session_id", sessionID, "error", err)
		recs = nil
	}

	msgs := transcript.Assemble(recs, opts)
	if msgs == nil {
		msgs = []transcript.Message{}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"session_id": sessionID,
		"messages":   msgs,
		"expanded":   len(msgs) > 0,
	})
}

func (s *Server) handleGetTimings(w http.ResponseWriter, r *http.Request) {
	userID := userIDParam(r)
	sessionID := chi.URLParam(r, "sessionID")

	recs, err := s.store.GetRunRecords(r.Context(), userID, sessionID)
	if err != nil {
		slog.Error("get run records failed", "session_id", sessionID, "error", err)
		recs = nil
	}

	ti := transcript.NewTimingIndex()
	for _, rec := range recs {
		for _, e := range rec.Events {
			ti.Observe(e)
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"session_id": sessionID,
		"stats":      ti.Stats(),
	})
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	userID := userIDParam(r)
	sessionID := chi.URLParam(r, "sessionID")

	found, err := s.manager.Cancel(r.Context(), userID, sessionID)
	if err != nil {
		slog.Error("cancel failed", "session_id", sessionID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"cancelled": found})
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	userID := userIDParam(r)
	sessionID := chi.URLParam(r, "sessionID")

	if err := s.store.DeleteSession(r.Context(), userID, sessionID); err != nil {
		slog.Error("delete session failed", "session_id", sessionID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (s *Server) handleDeleteAllSessions(w http.ResponseWriter, r *http.Request) {
	userID := userIDParam(r)

	if err := s.store.DeleteAllSessions(r.Context(), userID); err != nil {
		slog.Error("delete all sessions failed", "user_id", userID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func userIDParam(r *http.Request) string {
	if u := r.URL.Query().Get("user_id"); u != "" {
		return u
	}
	return events.DefaultUserID
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
