package drive

import (
	"context"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/caamer20/Telegram-Drive/internal/apierr"
	"github.com/caamer20/Telegram-Drive/internal/backend"
	"github.com/caamer20/Telegram-Drive/internal/events"
	"github.com/caamer20/Telegram-Drive/internal/logging"
	"github.com/caamer20/Telegram-Drive/internal/metrics"
	"github.com/caamer20/Telegram-Drive/internal/models"
	"github.com/caamer20/Telegram-Drive/internal/peer"
)

// Folder markers. A channel is a drive folder when its title carries the
// name marker (any case) or its description carries the about marker.
const (
	nameMarker  = "[td]"
	nameSuffix  = " [TD]"
	aboutMarker = "[telegram-drive-folder]"
	folderAbout = "Telegram Drive Storage Folder\n" + aboutMarker
)

// scanTimeout bounds a shared folder scan.
const scanTimeout = 2 * time.Minute

var nameMarkerRe = regexp.MustCompile(`(?i)\s*\[td\]`)

// displayName strips the name marker from a channel title.
func displayName(title string) string {
	return strings.TrimSpace(nameMarkerRe.ReplaceAllString(title, ""))
}

func hasNameMarker(title string) bool {
	return strings.Contains(strings.ToLower(title), nameMarker)
}

// ScanFolders lists the drive folders in dialog order. The name marker is
// checked first and skips the description lookup; description lookups are
// rate limited and a failed one only skips that channel. Concurrent scans
// share one pass over the dialogs. The pass is detached from any single
// caller and bounded by scanTimeout; a cancelled caller stops waiting.
func (s *Service) ScanFolders(ctx context.Context) ([]models.Folder, error) {
	ch := s.scans.DoChan("scan", func() (interface{}, error) {
		scanCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), scanTimeout)
		defer cancel()
		return s.scanFolders(scanCtx)
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		folders := res.Val.([]models.Folder)
		return append([]models.Folder(nil), folders...), nil
	}
}

func (s *Service) scanFolders(ctx context.Context) ([]models.Folder, error) {
	start := time.Now()
	defer func() { metrics.RecordFolderScan(time.Since(start)) }()

	b, err := s.sessions.Acquire(ctx)
	if err != nil {
		return nil, err
	}

	var channels []backend.Peer
	err = b.ForEachDialog(ctx, func(p backend.Peer) bool {
		if p.Kind == backend.PeerChannel {
			channels = append(channels, p)
		}
		return true
	})
	if err != nil {
		return nil, remote(err)
	}

	folders := []models.Folder{}
	for _, ch := range channels {
		if hasNameMarker(ch.Title) {
			folders = append(folders, models.Folder{ID: ch.ID, Name: displayName(ch.Title)})
			continue
		}

		if err := s.scanLimiter.Wait(ctx); err != nil {
			return nil, err
		}
		about, err := b.ChannelAbout(ctx, ch)
		if err != nil {
			logging.Warn("skipping channel, description lookup failed",
				zap.Int64("channel_id", ch.ID), zap.Error(err))
			continue
		}
		if strings.Contains(about, aboutMarker) {
			folders = append(folders, models.Folder{ID: ch.ID, Name: ch.Title})
		}
	}

	logging.Info("folder scan complete", zap.Int("folders", len(folders)), zap.Int("channels", len(channels)))
	return folders, nil
}

// CreateFolder creates a broadcast channel tagged as a drive folder and
// turns off auto-delete. A failure to change auto-delete is logged only.
func (s *Service) CreateFolder(ctx context.Context, name string) (models.Folder, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return models.Folder{}, apierr.InvalidArgument("folder name is required")
	}

	b, err := s.sessions.Acquire(ctx)
	if err != nil {
		return models.Folder{}, err
	}

	ch, err := b.CreateChannel(ctx, name+nameSuffix, folderAbout)
	if err != nil {
		metrics.RecordTransfer("create_folder", "", 0, false)
		return models.Folder{}, remote(err)
	}
	if err := b.DisableAutoDelete(ctx, ch); err != nil {
		logging.Warn("could not disable auto-delete on new folder",
			zap.Int64("channel_id", ch.ID), zap.Error(err))
	}

	metrics.RecordTransfer("create_folder", "", 0, true)
	id := ch.ID
	s.events.Publish(events.Event{Type: events.EventFolderCreate, FolderID: &id, Name: name})
	return models.Folder{ID: ch.ID, Name: name}, nil
}

// DeleteFolder deletes the channel behind a folder. Only channels qualify.
func (s *Service) DeleteFolder(ctx context.Context, folderID int64) error {
	b, err := s.sessions.Acquire(ctx)
	if err != nil {
		return err
	}
	p, err := peer.Resolve(ctx, b, &folderID)
	if err != nil {
		return err
	}
	if p.Kind != backend.PeerChannel {
		return apierr.InvalidArgument("only channels can be deleted as folders")
	}

	if err := b.DeleteChannel(ctx, p); err != nil {
		metrics.RecordTransfer("delete_folder", "", 0, false)
		return remote(err)
	}
	metrics.RecordTransfer("delete_folder", "", 0, true)
	s.events.Publish(events.Event{Type: events.EventFolderDelete, FolderID: &folderID})
	return nil
}
