package api

import (
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/caamer20/Telegram-Drive/internal/events"
	"github.com/caamer20/Telegram-Drive/internal/lifecycle"
	"github.com/caamer20/Telegram-Drive/internal/logging"
	"github.com/caamer20/Telegram-Drive/internal/protocol"
)

func (s *Server) handleConnect(w http.ResponseWriter, r *http.Request) {
	var req protocol.ConnectRequest
	if !s.decode(w, r, &req) {
		return
	}
	sess, err := s.sessions.EnsureInitialized(r.Context(), req.AppID)
	if err != nil {
		s.sendAPIError(w, r, err)
		return
	}
	s.broadcaster.Publish(events.Event{Type: events.EventSessionChange, Name: string(lifecycle.StatusAlive)})
	s.sendJSON(w, http.StatusOK, protocol.ConnectionResponse{Status: string(lifecycle.StatusAlive), AppID: sess.AppID})
}

func (s *Server) handleConnection(w http.ResponseWriter, r *http.Request) {
	status, err := s.sessions.CheckAliveOrReconnect(r.Context())
	if err != nil {
		s.sendAPIError(w, r, err)
		return
	}
	if status == lifecycle.StatusReconnected {
		s.broadcaster.Publish(events.Event{Type: events.EventSessionChange, Name: string(status)})
	}
	s.sendJSON(w, http.StatusOK, protocol.ConnectionResponse{Status: string(status), AppID: s.sessions.LastAppID()})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if err := s.sessions.Shutdown(r.Context()); err != nil {
		s.sendAPIError(w, r, err)
		return
	}
	s.broadcaster.Publish(events.Event{Type: events.EventSessionChange, Name: "logged_out"})
	s.sendJSON(w, http.StatusOK, protocol.MessageResponse{Result: "Logged out"})
}

func (s *Server) handleRequestCode(w http.ResponseWriter, r *http.Request) {
	var req protocol.CodeRequest
	if !s.decode(w, r, &req) {
		return
	}
	if err := s.sessions.RequestCode(r.Context(), req.Phone, req.AppID, req.AppHash); err != nil {
		s.sendAPIError(w, r, err)
		return
	}
	s.sendJSON(w, http.StatusOK, protocol.MessageResponse{Result: "code sent"})
}

func (s *Server) handleSignIn(w http.ResponseWriter, r *http.Request) {
	var req protocol.SignInRequest
	if !s.decode(w, r, &req) {
		return
	}
	res, err := s.sessions.SignIn(r.Context(), req.Code)
	if err != nil {
		s.sendAPIError(w, r, err)
		return
	}
	s.sendJSON(w, http.StatusOK, res)
}

func (s *Server) handlePassword(w http.ResponseWriter, r *http.Request) {
	var req protocol.PasswordRequest
	if !s.decode(w, r, &req) {
		return
	}
	res, err := s.sessions.CheckPassword(r.Context(), req.Password)
	if err != nil {
		s.sendAPIError(w, r, err)
		return
	}
	s.sendJSON(w, http.StatusOK, res)
}

// handleLog forwards a client-side log line into the daemon log.
func (s *Server) handleLog(w http.ResponseWriter, r *http.Request) {
	var req protocol.LogRequest
	if !s.decode(w, r, &req) {
		return
	}
	log := logging.Named("client")
	switch strings.ToLower(req.Level) {
	case "debug":
		log.Debug(req.Message)
	case "warn", "warning":
		log.Warn(req.Message)
	case "error":
		log.Error(req.Message)
	default:
		log.Info(req.Message, zap.String("level", req.Level))
	}
	w.WriteHeader(http.StatusNoContent)
}
