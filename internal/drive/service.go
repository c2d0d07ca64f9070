// Package drive implements the folder and file operations of the drive on
// top of a live session.
package drive

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"github.com/caamer20/Telegram-Drive/internal/apierr"
	"github.com/caamer20/Telegram-Drive/internal/backend"
	"github.com/caamer20/Telegram-Drive/internal/bandwidth"
	"github.com/caamer20/Telegram-Drive/internal/events"
	"github.com/caamer20/Telegram-Drive/internal/metrics"
	"github.com/caamer20/Telegram-Drive/internal/peer"
	"github.com/caamer20/Telegram-Drive/internal/preview"
)

// Sessions hands out the live session handle.
type Sessions interface {
	Acquire(ctx context.Context) (backend.Backend, error)
}

// Config holds orchestrator settings.
type Config struct {
	ScanRate     float64 // full-info lookups per second during folder scans
	ScanBurst    int
	ProbeAddr    string
	ProbeTimeout time.Duration
}

// Service runs drive operations.
type Service struct {
	sessions Sessions
	meter    *bandwidth.Accountant
	cache    *preview.Cache
	events   *events.Broadcaster
	cfg      Config

	scanLimiter *rate.Limiter
	scans       singleflight.Group
}

// New creates a drive service. events may be nil.
func New(cfg Config, sessions Sessions, meter *bandwidth.Accountant, cache *preview.Cache, ev *events.Broadcaster) *Service {
	limit := rate.Inf
	if cfg.ScanRate > 0 {
		limit = rate.Limit(cfg.ScanRate)
	}
	if cfg.ScanBurst <= 0 {
		cfg.ScanBurst = 1
	}
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = 2 * time.Second
	}
	return &Service{
		sessions:    sessions,
		meter:       meter,
		cache:       cache,
		events:      ev,
		cfg:         cfg,
		scanLimiter: rate.NewLimiter(limit, cfg.ScanBurst),
	}
}

// Bandwidth returns today's usage record.
func (s *Service) Bandwidth() bandwidth.Stats {
	return s.meter.Stats()
}

// BandwidthLimit returns the daily ceiling in bytes.
func (s *Service) BandwidthLimit() int64 {
	return s.meter.Limit()
}

// session acquires the live handle and, for folder-scoped work, resolves
// the folder peer.
func (s *Service) session(ctx context.Context, folderID *int64) (backend.Backend, backend.Peer, error) {
	b, err := s.sessions.Acquire(ctx)
	if err != nil {
		return nil, backend.Peer{}, err
	}
	p, err := peer.Resolve(ctx, b, folderID)
	if err != nil {
		return nil, backend.Peer{}, err
	}
	return b, p, nil
}

// findMessage fetches a message carrying media.
func findMessage(ctx context.Context, b backend.Backend, p backend.Peer, id int) (backend.Message, error) {
	msgs, err := b.Messages(ctx, p, []int{id})
	if err != nil {
		return backend.Message{}, remote(err)
	}
	for _, m := range msgs {
		if m.ID == id && m.Media != nil {
			return m, nil
		}
	}
	return backend.Message{}, apierr.MessageNotFound(id)
}

// remote classifies a backend failure and counts it.
func remote(err error) error {
	err = apierr.Classify(err)
	metrics.RecordRemoteError(apierr.KindOf(err).String())
	return err
}

// annotate prefixes a taxonomy error's message, keeping its kind.
func annotate(err error, prefix string) error {
	var e *apierr.Error
	if !errors.As(err, &e) {
		return fmt.Errorf("%s: %w", prefix, err)
	}
	c := *e
	c.Message = prefix + ": " + e.Message
	c.Err = err
	return &c
}

const photoEstimate = 1024 * 1024

// estimatedSize is the quota charge for downloading media: the declared
// size, a flat 1 MiB for photos which declare none.
func estimatedSize(m *backend.Media) int64 {
	switch m.Kind {
	case backend.MediaDocument:
		return m.Size
	case backend.MediaPhoto:
		return photoEstimate
	}
	return 0
}

// checkQuota wraps CanTransfer with metrics.
func (s *Service) checkQuota(n int64, direction string) error {
	if err := s.meter.CanTransfer(n); err != nil {
		metrics.RecordQuotaExceeded(direction)
		return err
	}
	return nil
}
