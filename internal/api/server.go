// Package api provides the daemon's local HTTP API.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/caamer20/Telegram-Drive/internal/apierr"
	"github.com/caamer20/Telegram-Drive/internal/auth"
	"github.com/caamer20/Telegram-Drive/internal/drive"
	"github.com/caamer20/Telegram-Drive/internal/events"
	"github.com/caamer20/Telegram-Drive/internal/lifecycle"
	"github.com/caamer20/Telegram-Drive/internal/logging"
	"github.com/caamer20/Telegram-Drive/internal/metrics"
	"github.com/caamer20/Telegram-Drive/internal/peer"
	"github.com/caamer20/Telegram-Drive/internal/protocol"
)

// Version is reported by the health endpoint.
const Version = "1.0"

// Server is the HTTP server.
type Server struct {
	sessions    *lifecycle.Manager
	drive       *drive.Service
	auth        *auth.Auth
	broadcaster *events.Broadcaster
}

// NewServer creates a new server.
func NewServer(sessions *lifecycle.Manager, svc *drive.Service, authHandler *auth.Auth, broadcaster *events.Broadcaster) *Server {
	return &Server{
		sessions:    sessions,
		drive:       svc,
		auth:        authHandler,
		broadcaster: broadcaster,
	}
}

// Handler returns the HTTP handler with auth, logging and metrics middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// Public endpoints (no auth required)
	mux.HandleFunc("GET /health", s.handleHealth)

	protect := func(pattern string, h http.HandlerFunc) {
		mux.Handle(pattern, s.auth.Middleware(h))
	}

	// Session
	protect("POST /api/v1/connect", s.handleConnect)
	protect("GET /api/v1/connection", s.handleConnection)
	protect("POST /api/v1/logout", s.handleLogout)

	// Sign-in
	protect("POST /api/v1/auth/code", s.handleRequestCode)
	protect("POST /api/v1/auth/sign-in", s.handleSignIn)
	protect("POST /api/v1/auth/password", s.handlePassword)

	// Files
	protect("GET /api/v1/files", s.handleListFiles)
	protect("POST /api/v1/files", s.handleUpload)
	protect("POST /api/v1/files/move", s.handleMove)
	protect("POST /api/v1/files/{id}/download", s.handleDownload)
	protect("DELETE /api/v1/files/{id}", s.handleDeleteFile)
	protect("GET /api/v1/files/{id}/preview", s.handlePreview)
	protect("GET /api/v1/files/{id}/thumbnail", s.handleThumbnail)

	// Folders
	protect("GET /api/v1/folders", s.handleListFolders)
	protect("POST /api/v1/folders", s.handleCreateFolder)
	protect("DELETE /api/v1/folders/{id}", s.handleDeleteFolder)

	// Housekeeping
	protect("GET /api/v1/bandwidth", s.handleBandwidth)
	protect("DELETE /api/v1/cache", s.handleCleanCache)
	protect("GET /api/v1/network", s.handleNetwork)
	protect("POST /api/v1/log", s.handleLog)

	// SSE endpoint
	protect("GET /api/v1/events", s.handleEvents)

	// Metrics must see the request the mux annotates with its pattern.
	return logging.Middleware(metrics.Middleware(mux))
}

// ─── Health ─────────────────────────────────────────────────────────────────

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	_, live := s.sessions.Current()
	s.sendJSON(w, http.StatusOK, protocol.HealthResponse{Status: "ok", Version: Version, Session: live})
}

// ─── SSE Events ─────────────────────────────────────────────────────────────

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		s.sendError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	ch := s.broadcaster.Subscribe()
	defer s.broadcaster.Unsubscribe(ch)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-ch:
			if !ok {
				return
			}
			data, err := events.MarshalEvent(event)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event.Type, data)
			flusher.Flush()
		}
	}
}

// ─── Helpers ────────────────────────────────────────────────────────────────

func (s *Server) sendJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func (s *Server) sendError(w http.ResponseWriter, code int, message string) {
	s.sendJSON(w, code, protocol.ErrorResponse{
		Error: message,
		Code:  code,
	})
}

// statusFor maps a taxonomy kind to its HTTP status.
func statusFor(kind apierr.Kind) int {
	switch kind {
	case apierr.KindSessionNotInitialized:
		return http.StatusServiceUnavailable
	case apierr.KindPeerNotFound, apierr.KindMessageNotFound:
		return http.StatusNotFound
	case apierr.KindQuotaExceeded, apierr.KindRateLimited:
		return http.StatusTooManyRequests
	case apierr.KindRemoteCallFailed:
		return http.StatusBadGateway
	case apierr.KindInvalidArgument:
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

// sendAPIError renders a drive error with its kind. Errors outside the
// taxonomy are reported as local failures.
func (s *Server) sendAPIError(w http.ResponseWriter, r *http.Request, err error) {
	var e *apierr.Error
	if !errors.As(err, &e) {
		e = apierr.LocalIoFailed(err.Error(), err)
	}
	code := statusFor(e.Kind)
	if code >= 500 {
		logging.FromContext(r.Context()).Warn("request failed",
			zap.String("kind", e.Kind.String()), zap.Error(err))
	}
	if e.Kind == apierr.KindRateLimited {
		w.Header().Set("Retry-After", strconv.Itoa(e.RetryAfter))
	}
	s.sendJSON(w, code, protocol.ErrorResponse{
		Error:      e.Message,
		Code:       code,
		Kind:       e.Kind.String(),
		RetryAfter: e.RetryAfter,
	})
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		s.sendError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

// folderParam reads the optional folder_id query parameter.
func (s *Server) folderParam(w http.ResponseWriter, r *http.Request) (*int64, bool) {
	id, err := peer.ParseFolder(r.URL.Query().Get("folder_id"))
	if err != nil {
		s.sendError(w, http.StatusBadRequest, err.Error())
		return nil, false
	}
	return id, true
}

func (s *Server) messageParam(w http.ResponseWriter, r *http.Request) (int, bool) {
	id, err := strconv.Atoi(r.PathValue("id"))
	if err != nil {
		s.sendError(w, http.StatusBadRequest, "invalid message id")
		return 0, false
	}
	return id, true
}
