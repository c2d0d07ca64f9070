// Package lifecycle owns the process-wide session: creating it on demand,
// probing and replacing it, tearing it down, and keeping at most one update
// listener running at any time.
package lifecycle

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/caamer20/Telegram-Drive/internal/apierr"
	"github.com/caamer20/Telegram-Drive/internal/backend"
	"github.com/caamer20/Telegram-Drive/internal/logging"
	"github.com/caamer20/Telegram-Drive/internal/metrics"
	"github.com/caamer20/Telegram-Drive/internal/session"
	"go.uber.org/zap"
)

// Status is the outcome of a liveness check.
type Status string

const (
	StatusAlive       Status = "alive"
	StatusReconnected Status = "reconnected"
	StatusUnavailable Status = "unavailable"
)

// Store is an open session store.
type Store interface {
	backend.SessionStorage
	Close() error
}

// StoreOpener opens the persisted session store, recovering it if needed.
type StoreOpener func(ctx context.Context, path string) (Store, error)

// Config holds manager settings.
type Config struct {
	SessionPath  string
	Grace        time.Duration // wait for a stopped listener to exit
	MaxFloodWait time.Duration // longest server-requested wait retried automatically
}

// Session is the live session handle.
type Session struct {
	AppID    int
	conn     backend.Conn
	listener *listener
}

// Backend returns the handle's capabilities.
func (s *Session) Backend() backend.Backend {
	return s.conn
}

type listener struct {
	stop context.CancelFunc
	done chan struct{}
}

func (l *listener) exited() bool {
	select {
	case <-l.done:
		return true
	default:
		return false
	}
}

// Manager guards the session slot and the transient login tokens.
type Manager struct {
	cfg       Config
	connector backend.Connector
	openStore StoreOpener

	mu        sync.Mutex
	sess      *Session
	listener  *listener
	lastAppID int
	closing   bool // sign-out in progress; no new sessions

	tokMu         sync.Mutex
	loginToken    *backend.LoginToken
	passwordToken *backend.PasswordToken
}

// New creates a manager. A nil opener uses the SQLite session store.
func New(cfg Config, connector backend.Connector, opener StoreOpener) *Manager {
	if opener == nil {
		opener = func(ctx context.Context, path string) (Store, error) {
			return session.Open(ctx, path)
		}
	}
	if cfg.Grace <= 0 {
		cfg.Grace = 500 * time.Millisecond
	}
	return &Manager{cfg: cfg, connector: connector, openStore: opener}
}

// EnsureInitialized returns the live session, creating it if none exists.
// Only local work happens under the lock; the transport connects inside the
// listener and calls wait for it.
func (m *Manager) EnsureInitialized(ctx context.Context, appID int) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ensureLocked(ctx, appID)
}

func (m *Manager) ensureLocked(ctx context.Context, appID int) (*Session, error) {
	if m.closing {
		return nil, apierr.SessionNotInitialized()
	}
	if m.sess != nil {
		if !m.sess.listener.exited() {
			return m.sess, nil
		}
		logging.Warn("update listener gone, replacing session", zap.Int("app_id", m.sess.AppID))
		m.sess = nil
	}
	if appID <= 0 {
		return nil, apierr.InvalidArgument("invalid app id %d", appID)
	}

	m.stopListenerLocked()

	store, err := m.openStore(ctx, m.cfg.SessionPath)
	if err != nil {
		return nil, apierr.LocalIoFailed("open session store: "+err.Error(), err)
	}
	conn, err := m.connector.Connect(appID, store)
	if err != nil {
		store.Close()
		return nil, apierr.RemoteCallFailed("create client: "+err.Error(), err)
	}

	l := m.spawn(conn, store)
	m.listener = l
	m.sess = &Session{AppID: appID, conn: conn, listener: l}
	m.lastAppID = appID

	logging.Info("session initialized", zap.Int("app_id", appID))
	return m.sess, nil
}

// spawn starts the update listener for conn. The store is closed when the
// listener exits.
func (m *Manager) spawn(conn backend.Conn, store Store) *listener {
	ctx, cancel := context.WithCancel(context.Background())
	l := &listener{stop: cancel, done: make(chan struct{})}

	metrics.RecordListenerStart()
	go func() {
		defer close(l.done)
		defer metrics.RecordListenerStop()
		defer store.Close()

		if err := conn.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logging.Warn("update listener exited", zap.Error(err))
			return
		}
		logging.Debug("update listener stopped")
	}()
	return l
}

// stopListenerLocked signals the current listener and waits up to the
// grace period for it to exit.
func (m *Manager) stopListenerLocked() {
	if m.listener == nil {
		return
	}
	m.waitStopped(m.listener)
	m.listener = nil
}

func (m *Manager) waitStopped(l *listener) {
	l.stop()
	select {
	case <-l.done:
	case <-time.After(m.cfg.Grace):
		logging.Warn("update listener did not stop within grace period",
			zap.Duration("grace", m.cfg.Grace))
	}
}

// Current returns the live session handle without creating one.
func (m *Manager) Current() (backend.Backend, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sess == nil {
		return nil, false
	}
	return m.sess.conn, true
}

// Acquire returns the live session handle, initializing with the last-known
// app id if needed.
func (m *Manager) Acquire(ctx context.Context) (backend.Backend, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sess == nil && m.lastAppID == 0 {
		return nil, apierr.SessionNotInitialized()
	}
	s, err := m.ensureLocked(ctx, m.lastAppID)
	if err != nil {
		return nil, err
	}
	return s.conn, nil
}

// LastAppID returns the app id of the most recent successful initialization.
func (m *Manager) LastAppID() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastAppID
}

// CheckAliveOrReconnect probes the current session. A failed probe replaces
// the session using the last-known app id and probes again.
func (m *Manager) CheckAliveOrReconnect(ctx context.Context) (Status, error) {
	m.mu.Lock()
	sess := m.sess
	appID := m.lastAppID
	m.mu.Unlock()

	if sess != nil {
		_, err := sess.conn.Self(ctx)
		if err == nil {
			metrics.RecordReconnect(string(StatusAlive))
			return StatusAlive, nil
		}
		logging.Warn("liveness probe failed, reconnecting", zap.Error(err))
	}
	if appID == 0 {
		metrics.RecordReconnect(string(StatusUnavailable))
		return StatusUnavailable, nil
	}

	m.mu.Lock()
	if m.lastAppID != appID {
		// Signed out while probing.
		m.mu.Unlock()
		metrics.RecordReconnect(string(StatusUnavailable))
		return StatusUnavailable, nil
	}
	if m.sess == sess {
		m.sess = nil
	}
	fresh, err := m.ensureLocked(ctx, appID)
	m.mu.Unlock()
	if err != nil {
		metrics.RecordReconnect(string(StatusUnavailable))
		return StatusUnavailable, err
	}

	if _, err := fresh.conn.Self(ctx); err != nil {
		metrics.RecordReconnect(string(StatusUnavailable))
		return StatusUnavailable, apierr.Classify(err)
	}
	metrics.RecordReconnect(string(StatusReconnected))
	return StatusReconnected, nil
}

// Shutdown signs out best-effort, stops the listener, clears the session,
// app id and tokens, and deletes the persisted session. The sign-out happens
// while the listener still pumps the transport; no session can be created
// until teardown finishes.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	if m.closing {
		m.mu.Unlock()
		return nil
	}
	sess := m.sess
	m.sess = nil
	m.lastAppID = 0
	m.closing = true
	m.mu.Unlock()

	if sess != nil {
		if err := sess.conn.LogOut(ctx); err != nil {
			logging.Warn("remote sign-out failed", zap.Error(err))
		}
	}

	m.clearTokens()

	m.mu.Lock()
	defer m.mu.Unlock()
	defer func() { m.closing = false }()
	m.stopListenerLocked()
	if err := session.Remove(m.cfg.SessionPath); err != nil {
		return apierr.LocalIoFailed("remove session files: "+err.Error(), err)
	}
	logging.Info("session torn down")
	return nil
}

// Close stops the listener without signing out, for process exit.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sess = nil
	m.stopListenerLocked()
}
