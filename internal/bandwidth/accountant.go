// Package bandwidth meters daily transfer volume against a ceiling and
// persists the running totals.
package bandwidth

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/caamer20/Telegram-Drive/internal/apierr"
	"github.com/caamer20/Telegram-Drive/internal/logging"
	"github.com/caamer20/Telegram-Drive/internal/metrics"
	"go.uber.org/zap"
)

const dateLayout = "2006-01-02"

// Stats is the usage record for one local calendar day.
type Stats struct {
	Date      string `json:"date"`
	UpBytes   int64  `json:"up_bytes"`
	DownBytes int64  `json:"down_bytes"`
}

// Total returns the combined volume.
func (s Stats) Total() int64 {
	return s.UpBytes + s.DownBytes
}

// Store persists the current day's record.
type Store interface {
	// Load returns the most recent record, or a zero Stats if none exists.
	Load(ctx context.Context) (Stats, error)
	Save(ctx context.Context, s Stats) error
}

// Accountant gates transfers against the daily ceiling. CanTransfer followed
// by AddUp/AddDown is not atomic; callers serialize transfers themselves.
type Accountant struct {
	mu    sync.Mutex
	store Store
	limit int64
	stats Stats
	now   func() time.Time
}

// New loads the persisted record. An unreadable record starts a fresh day.
func New(ctx context.Context, store Store, limit int64) *Accountant {
	a := &Accountant{store: store, limit: limit, now: time.Now}

	stats, err := store.Load(ctx)
	if err != nil {
		logging.Warn("bandwidth record unreadable, starting fresh", zap.Error(err))
		stats = Stats{}
	}
	a.stats = stats
	if a.stats.Date == "" {
		a.stats.Date = a.today()
	}
	return a
}

// Limit returns the daily ceiling in bytes.
func (a *Accountant) Limit() int64 {
	return a.limit
}

// CanTransfer reports whether n more bytes fit under today's ceiling.
func (a *Accountant) CanTransfer(n int64) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.rolloverLocked()

	attempted := a.stats.Total() + n
	if attempted > a.limit {
		return apierr.QuotaExceeded(a.limit, attempted, fmt.Sprintf(
			"Daily bandwidth limit (%s) exceeded! Used: %s",
			FormatBytes(a.limit), FormatBytes(attempted)))
	}
	return nil
}

// AddUp records uploaded bytes.
func (a *Accountant) AddUp(n int64) {
	a.add(n, 0)
}

// AddDown records downloaded bytes.
func (a *Accountant) AddDown(n int64) {
	a.add(0, n)
}

func (a *Accountant) add(up, down int64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.rolloverLocked()
	a.stats.UpBytes += up
	a.stats.DownBytes += down
	a.saveLocked()
}

// Stats returns a copy of today's record.
func (a *Accountant) Stats() Stats {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.rolloverLocked()
	return a.stats
}

func (a *Accountant) today() string {
	return a.now().Format(dateLayout)
}

// rolloverLocked zeroes the counters on the first call of a new day and
// persists the reset immediately.
func (a *Accountant) rolloverLocked() {
	today := a.today()
	if a.stats.Date == today {
		return
	}
	logging.Info("new day, resetting bandwidth counters",
		zap.String("old_date", a.stats.Date), zap.String("new_date", today))
	a.stats = Stats{Date: today}
	a.saveLocked()
}

func (a *Accountant) saveLocked() {
	metrics.SetBandwidthUsed(a.stats.UpBytes, a.stats.DownBytes)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.store.Save(ctx, a.stats); err != nil {
		logging.Warn("persist bandwidth record", zap.Error(err))
	}
}

// FormatBytes renders n with 1024-based units and two decimals.
func FormatBytes(n int64) string {
	units := []string{"B", "KB", "MB", "GB", "TB"}
	v := float64(n)
	i := 0
	for v >= 1024 && i < len(units)-1 {
		v /= 1024
		i++
	}
	return fmt.Sprintf("%.2f %s", v, units[i])
}
