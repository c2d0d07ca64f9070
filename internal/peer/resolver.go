// Package peer maps optional folder ids to conversation peers.
package peer

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/caamer20/Telegram-Drive/internal/apierr"
	"github.com/caamer20/Telegram-Drive/internal/backend"
	"github.com/caamer20/Telegram-Drive/internal/metrics"
)

// Resolve returns the peer for folderID. A nil id means the account's own
// saved-messages chat; otherwise the dialog list is scanned for the first
// channel or user with that id. Results are not cached.
func Resolve(ctx context.Context, b backend.Drive, folderID *int64) (backend.Peer, error) {
	start := time.Now()
	defer func() { metrics.RecordPeerResolve(time.Since(start)) }()

	if folderID == nil {
		p, err := b.Self(ctx)
		if err != nil {
			return backend.Peer{}, apierr.Classify(err)
		}
		return p, nil
	}

	id := *folderID
	var (
		found backend.Peer
		ok    bool
	)
	err := b.ForEachDialog(ctx, func(p backend.Peer) bool {
		if (p.Kind == backend.PeerChannel || p.Kind == backend.PeerUser) && p.ID == id {
			found, ok = p, true
			return false
		}
		return true
	})
	if err != nil {
		return backend.Peer{}, apierr.Classify(err)
	}
	if !ok {
		return backend.Peer{}, apierr.PeerNotFound(id)
	}
	return found, nil
}

// Same reports whether two optional folder ids name the same folder.
func Same(a, b *int64) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

// ParseFolder maps a folder token from a URL or command line to a folder
// id. Empty, "me", "home" and "null" name the saved-messages chat.
func ParseFolder(s string) (*int64, error) {
	switch s {
	case "", "me", "home", "null":
		return nil, nil
	}
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid folder id %q", s)
	}
	return &id, nil
}
