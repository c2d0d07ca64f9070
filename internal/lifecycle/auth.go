package lifecycle

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/caamer20/Telegram-Drive/internal/apierr"
	"github.com/caamer20/Telegram-Drive/internal/backend"
	"github.com/caamer20/Telegram-Drive/internal/logging"
	"github.com/caamer20/Telegram-Drive/internal/metrics"
	"github.com/caamer20/Telegram-Drive/internal/models"
	"github.com/caamer20/Telegram-Drive/internal/retry"
	"go.uber.org/zap"
)

// sendCodeRetry bounds request-code attempts.
var sendCodeRetry = retry.Config{
	MaxAttempts: 2,
	InitialWait: 500 * time.Millisecond,
	MaxWait:     2 * time.Second,
	Multiplier:  2,
}

// RequestCode asks the remote side to send a login code to phone and keeps
// the returned login token for SignIn.
func (m *Manager) RequestCode(ctx context.Context, phone string, appID int, appHash string) error {
	if strings.TrimSpace(appHash) == "" {
		return apierr.InvalidArgument("API hash is empty, check your settings")
	}
	if strings.TrimSpace(phone) == "" {
		return apierr.InvalidArgument("phone number is required")
	}

	sess, err := m.EnsureInitialized(ctx, appID)
	if err != nil {
		return err
	}

	tok, err := retry.DoWithResult(ctx, sendCodeRetry, func() (backend.LoginToken, error) {
		tok, err := sess.conn.SendCode(ctx, phone, appID, appHash)
		if err != nil {
			logging.Warn("send code failed", zap.Error(err))
			return tok, m.markRetryable(err)
		}
		return tok, nil
	})
	if err != nil {
		metrics.RecordAuthAttempt("code", false)
		return apierr.Classify(err)
	}
	metrics.RecordAuthAttempt("code", true)

	m.tokMu.Lock()
	m.loginToken = &tok
	m.passwordToken = nil
	m.tokMu.Unlock()
	return nil
}

// markRetryable decides whether a send-code failure is worth another try:
// auth restarts and server errors immediately, rate limits only when the
// requested wait is short.
func (m *Manager) markRetryable(err error) error {
	text := err.Error()
	if strings.Contains(text, "AUTH_RESTART") || strings.Contains(text, "500") {
		return retry.Retryable(err)
	}
	c := apierr.ClassifyText(text)
	if c.Kind == apierr.KindRateLimited {
		wait := time.Duration(c.RetryAfter) * time.Second
		if wait <= m.cfg.MaxFloodWait {
			return retry.RetryAfter(err, wait)
		}
	}
	return err
}

// SignIn completes the code step. The login token is consumed whatever the
// outcome; a password-protected account yields NextStep "password".
func (m *Manager) SignIn(ctx context.Context, code string) (models.AuthResult, error) {
	m.tokMu.Lock()
	tok := m.loginToken
	m.loginToken = nil
	m.tokMu.Unlock()
	if tok == nil {
		return models.AuthResult{}, apierr.InvalidArgument("no login in progress, request a code first")
	}

	b, err := m.Acquire(ctx)
	if err != nil {
		return models.AuthResult{}, err
	}

	pw, err := b.SignIn(ctx, *tok, strings.TrimSpace(code))
	switch {
	case err == nil:
		metrics.RecordAuthAttempt("sign_in", true)
		return models.AuthResult{Success: true, NextStep: models.StepDashboard}, nil
	case errors.Is(err, backend.ErrPasswordRequired):
		m.tokMu.Lock()
		m.passwordToken = &pw
		m.tokMu.Unlock()
		return models.AuthResult{Success: false, NextStep: models.StepPassword, Hint: pw.Hint}, nil
	default:
		metrics.RecordAuthAttempt("sign_in", false)
		return models.AuthResult{}, apierr.Classify(err)
	}
}

// CheckPassword completes the password step, consuming the password token.
func (m *Manager) CheckPassword(ctx context.Context, password string) (models.AuthResult, error) {
	m.tokMu.Lock()
	tok := m.passwordToken
	m.passwordToken = nil
	m.tokMu.Unlock()
	if tok == nil {
		return models.AuthResult{}, apierr.InvalidArgument("no password step in progress")
	}

	b, err := m.Acquire(ctx)
	if err != nil {
		return models.AuthResult{}, err
	}
	if err := b.CheckPassword(ctx, *tok, password); err != nil {
		metrics.RecordAuthAttempt("password", false)
		return models.AuthResult{}, apierr.Classify(err)
	}
	metrics.RecordAuthAttempt("password", true)
	return models.AuthResult{Success: true, NextStep: models.StepDashboard}, nil
}

func (m *Manager) clearTokens() {
	m.tokMu.Lock()
	m.loginToken = nil
	m.passwordToken = nil
	m.tokMu.Unlock()
}
