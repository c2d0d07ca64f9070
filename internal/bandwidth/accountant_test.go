package bandwidth

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/caamer20/Telegram-Drive/internal/apierr"
)

// memStore records every save for assertions.
type memStore struct {
	mu    sync.Mutex
	stats Stats
	saves []Stats
	err   error
}

func (m *memStore) Load(context.Context) (Stats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stats, m.err
}

func (m *memStore) Save(_ context.Context, s Stats) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stats = s
	m.saves = append(m.saves, s)
	return nil
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

func newTestAccountant(t *testing.T, store *memStore, limit int64, clock *fakeClock) *Accountant {
	t.Helper()
	a := New(context.Background(), store, limit)
	a.now = clock.Now
	return a
}

func day(d int) time.Time {
	return time.Date(2026, 3, d, 12, 0, 0, 0, time.Local)
}

func TestCanTransferCeiling(t *testing.T) {
	clock := &fakeClock{now: day(1)}
	store := &memStore{stats: Stats{Date: "2026-03-01", UpBytes: 5, DownBytes: 3}}
	a := newTestAccountant(t, store, 10, clock)

	err := a.CanTransfer(3)
	var qe *apierr.Error
	if !errors.As(err, &qe) || qe.Kind != apierr.KindQuotaExceeded {
		t.Fatalf("CanTransfer(3) = %v, want QuotaExceeded", err)
	}
	if qe.Limit != 10 || qe.Attempted != 11 {
		t.Errorf("limit/attempted = %d/%d, want 10/11", qe.Limit, qe.Attempted)
	}
	if want := "Daily bandwidth limit (10.00 B) exceeded! Used: 11.00 B"; qe.Error() != want {
		t.Errorf("message = %q, want %q", qe.Error(), want)
	}

	if err := a.CanTransfer(2); err != nil {
		t.Errorf("CanTransfer(2) = %v, want nil", err)
	}
}

func TestCheckThenAdd(t *testing.T) {
	clock := &fakeClock{now: day(1)}
	store := &memStore{}
	a := newTestAccountant(t, store, 100, clock)

	for _, n := range []int64{10, 20, 30} {
		if err := a.CanTransfer(n); err != nil {
			t.Fatalf("CanTransfer(%d): %v", n, err)
		}
		a.AddUp(n)
	}
	a.AddDown(15)

	st := a.Stats()
	if st.UpBytes != 60 || st.DownBytes != 15 {
		t.Errorf("stats = %+v, want up 60 down 15", st)
	}
	if store.stats.UpBytes != 60 || store.stats.DownBytes != 15 {
		t.Errorf("persisted = %+v, want the same totals", store.stats)
	}
	if err := a.CanTransfer(26); err == nil {
		t.Error("CanTransfer(26) should exceed 100 with 75 used")
	}
}

func TestRolloverResetsOnce(t *testing.T) {
	clock := &fakeClock{now: day(1)}
	store := &memStore{stats: Stats{Date: "2026-03-01", UpBytes: 50, DownBytes: 50}}
	a := newTestAccountant(t, store, 1000, clock)

	clock.Set(day(2))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			a.CanTransfer(1)
		}()
	}
	wg.Wait()

	store.mu.Lock()
	resets := 0
	for _, s := range store.saves {
		if s.Date == "2026-03-02" && s.Total() == 0 {
			resets++
		}
	}
	store.mu.Unlock()
	if resets != 1 {
		t.Errorf("reset persisted %d times, want 1", resets)
	}

	st := a.Stats()
	if st.Date != "2026-03-02" || st.Total() != 0 {
		t.Errorf("stats after rollover = %+v", st)
	}
}

func TestNewWithUnreadableStore(t *testing.T) {
	store := &memStore{err: errors.New("disk gone")}
	a := New(context.Background(), store, 10)

	st := a.Stats()
	if st.Total() != 0 || st.Date == "" {
		t.Errorf("stats = %+v, want fresh record for today", st)
	}
}

func TestFileStore(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bandwidth.json")
	fs := NewFileStore(path)

	st, err := fs.Load(context.Background())
	if err != nil || st != (Stats{}) {
		t.Fatalf("Load on missing file = %+v, %v", st, err)
	}

	a := New(context.Background(), fs, 1<<30)
	a.AddDown(2048)

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(raw), `"down_bytes":2048`) {
		t.Errorf("file content = %s", raw)
	}

	if err := os.WriteFile(path, []byte("{not json"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := fs.Load(context.Background()); err == nil {
		t.Error("Load should fail on corrupt JSON")
	}
}

func TestFormatBytes(t *testing.T) {
	tests := []struct {
		in   int64
		want string
	}{
		{0, "0.00 B"},
		{1023, "1023.00 B"},
		{1024, "1.00 KB"},
		{1536, "1.50 KB"},
		{250 * 1024 * 1024 * 1024, "250.00 GB"},
		{3 * 1024 * 1024 * 1024 * 1024 * 1024, "3072.00 TB"},
	}
	for _, tt := range tests {
		if got := FormatBytes(tt.in); got != tt.want {
			t.Errorf("FormatBytes(%d) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
