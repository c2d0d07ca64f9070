// Package stream serves media objects over local HTTP so players can read
// them progressively.
package stream

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/caamer20/Telegram-Drive/internal/apierr"
	"github.com/caamer20/Telegram-Drive/internal/backend"
	"github.com/caamer20/Telegram-Drive/internal/bandwidth"
	"github.com/caamer20/Telegram-Drive/internal/logging"
	"github.com/caamer20/Telegram-Drive/internal/metrics"
	"github.com/caamer20/Telegram-Drive/internal/peer"
	"github.com/caamer20/Telegram-Drive/internal/protocol"
)

// Sessions exposes the live session without creating one.
type Sessions interface {
	Current() (backend.Backend, bool)
}

// Server relays media bytes to HTTP clients.
type Server struct {
	sessions Sessions
	meter    *bandwidth.Accountant
}

// NewServer creates a stream server.
func NewServer(sessions Sessions, meter *bandwidth.Accountant) *Server {
	return &Server{sessions: sessions, meter: meter}
}

// Handler returns the routes with CORS, logging and metrics middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /stream/{folder}/{message}", s.handleStream)
	mux.HandleFunc("OPTIONS /stream/{folder}/{message}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	return logging.Middleware(cors(metrics.Middleware(mux)))
}

// cors allows any origin; the server only listens on loopback.
func cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("Access-Control-Allow-Origin", "*")
		h.Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		h.Set("Access-Control-Allow-Headers", "*")
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := logging.FromContext(ctx)

	folderID, err := peer.ParseFolder(r.PathValue("folder"))
	if err != nil {
		sendError(w, http.StatusBadRequest, err.Error())
		return
	}
	messageID, err := strconv.Atoi(r.PathValue("message"))
	if err != nil {
		sendError(w, http.StatusBadRequest, "invalid message id")
		return
	}

	b, ok := s.sessions.Current()
	if !ok {
		sendError(w, http.StatusServiceUnavailable, "Client not initialized")
		return
	}

	// An unknown folder is a resolution failure; 404 is for the message.
	p, err := peer.Resolve(ctx, b, folderID)
	if err != nil {
		log.Warn("stream peer resolution failed", zap.Error(err))
		sendError(w, http.StatusInternalServerError, err.Error())
		return
	}

	msgs, err := b.Messages(ctx, p, []int{messageID})
	if err != nil {
		log.Warn("stream message fetch failed", zap.Int("message_id", messageID), zap.Error(err))
		sendError(w, http.StatusInternalServerError, apierr.Classify(err).Error())
		return
	}
	var media *backend.Media
	for _, m := range msgs {
		if m.ID == messageID && m.Media != nil {
			media = m.Media
			break
		}
	}
	if media == nil {
		sendError(w, http.StatusNotFound, "message not found or has no media")
		return
	}

	if err := s.meter.CanTransfer(media.Size); err != nil {
		metrics.RecordQuotaExceeded("down")
		sendError(w, http.StatusTooManyRequests, err.Error())
		return
	}

	mt := media.MimeType
	if mt == "" {
		mt = "application/octet-stream"
	}
	w.Header().Set("Content-Type", mt)
	if media.Size > 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(media.Size, 10))
	}
	w.WriteHeader(http.StatusOK)

	start := time.Now()
	fw := &flushWriter{w: w}
	if f, ok := w.(http.Flusher); ok {
		fw.f = f
	}
	n, err := backend.ReadAll(ctx, b.Stream(media), fw)
	s.meter.AddDown(n)
	metrics.RecordTransfer("stream", "down", n, err == nil)

	switch {
	case err == nil:
		log.Debug("stream complete", zap.Int("message_id", messageID),
			zap.Int64("bytes", n), zap.Duration("took", time.Since(start)))
	case errors.Is(err, context.Canceled):
		log.Debug("stream client went away", zap.Int("message_id", messageID), zap.Int64("bytes", n))
	default:
		// Headers are gone; the short body tells the client.
		log.Warn("stream aborted", zap.Int("message_id", messageID), zap.Int64("bytes", n), zap.Error(err))
	}
}

// flushWriter pushes every chunk to the client as soon as it arrives.
type flushWriter struct {
	w http.ResponseWriter
	f http.Flusher
}

func (fw *flushWriter) Write(p []byte) (int, error) {
	n, err := fw.w.Write(p)
	if fw.f != nil {
		fw.f.Flush()
	}
	metrics.RecordStreamBytes(n)
	return n, err
}

func sendError(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(protocol.ErrorResponse{
		Error: message,
		Code:  code,
	})
}
