// Package telegram implements the drive backend on top of the gotd MTProto
// client.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/gotd/td/telegram"
	"github.com/gotd/td/tg"
	"github.com/gotd/td/tgerr"
	"go.uber.org/zap"

	"github.com/caamer20/Telegram-Drive/internal/backend"
	"github.com/caamer20/Telegram-Drive/internal/logging"
)

// errStopped is returned by calls made after the transport shut down.
var errStopped = errors.New("telegram client stopped")

var (
	_ backend.Connector = Connector{}
	_ backend.Conn      = (*conn)(nil)
)

// Connector creates gotd-backed session handles.
type Connector struct {
	// Device fields reported to the server on connect.
	Device telegram.DeviceConfig
}

// Connect builds a client for appID. Nothing touches the network until Run.
// The app hash is only needed for sending a login code and travels with
// that request.
func (c Connector) Connect(appID int, storage backend.SessionStorage) (backend.Conn, error) {
	if appID <= 0 {
		return nil, fmt.Errorf("invalid app id %d", appID)
	}
	client := telegram.NewClient(appID, "", telegram.Options{
		SessionStorage: storage,
		Logger:         logging.Named("telegram").WithOptions(zap.IncreaseLevel(zap.WarnLevel)),
		Device:         c.Device,
		NoUpdates:      true,
	})
	return &conn{
		client: client,
		appID:  appID,
		ready:  make(chan struct{}),
		done:   make(chan struct{}),
	}, nil
}

type conn struct {
	client *telegram.Client
	appID  int

	readyOnce sync.Once
	ready     chan struct{}
	doneOnce  sync.Once
	done      chan struct{}
}

// Run connects and keeps the transport up until ctx is cancelled.
func (c *conn) Run(ctx context.Context) error {
	defer c.doneOnce.Do(func() { close(c.done) })
	return c.client.Run(ctx, func(ctx context.Context) error {
		c.readyOnce.Do(func() { close(c.ready) })
		<-ctx.Done()
		return ctx.Err()
	})
}

// api waits for the transport and returns the raw RPC client.
func (c *conn) api(ctx context.Context) (*tg.Client, error) {
	select {
	case <-c.ready:
	case <-c.done:
		return nil, errStopped
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	select {
	case <-c.done:
		return nil, errStopped
	default:
	}
	return c.client.API(), nil
}

// convert gives flood waits the textual shape the classifier reads.
func convert(err error) error {
	if err == nil {
		return nil
	}
	if d, ok := tgerr.AsFloodWait(err); ok {
		return fmt.Errorf("FLOOD_WAIT (value: %d): %w", int(d.Seconds()), err)
	}
	return err
}

// Self returns the signed-in account's saved-messages peer.
func (c *conn) Self(ctx context.Context) (backend.Peer, error) {
	if _, err := c.api(ctx); err != nil {
		return backend.Peer{}, err
	}
	u, err := c.client.Self(ctx)
	if err != nil {
		return backend.Peer{}, convert(err)
	}
	return userPeer(u), nil
}
