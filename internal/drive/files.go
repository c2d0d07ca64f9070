package drive

import (
	"context"
	"mime"
	"os"
	"path/filepath"
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

// MaxListedFiles caps a folder listing.
const MaxListedFiles = 100

// ListFiles returns the newest media messages of a folder as files.
func (s *Service) ListFiles(ctx context.Context, folderID *int64) ([]models.File, error) {
	b, p, err := s.session(ctx, folderID)
	if err != nil {
		return nil, err
	}

	files := []models.File{}
	err = b.ForEachMessage(ctx, p, func(m backend.Message) bool {
		if m.Media == nil {
			return true
		}
		files = append(files, projectFile(m, folderID))
		return len(files) < MaxListedFiles
	})
	if err != nil {
		return nil, remote(err)
	}
	return files, nil
}

// projectFile maps a media message to the file model.
func projectFile(m backend.Message, folderID *int64) models.File {
	f := models.File{
		ID:        m.ID,
		FolderID:  folderID,
		CreatedAt: m.Date.Format(time.RFC3339),
	}

	switch m.Media.Kind {
	case backend.MediaDocument:
		f.Name = m.Media.Name
		if f.Name == "" {
			f.Name = "Unknown"
		}
		f.Size = m.Media.Size
		if m.Media.MimeType != "" {
			mt := m.Media.MimeType
			f.MimeType = &mt
		}
		if ext := strings.TrimPrefix(filepath.Ext(m.Media.Name), "."); ext != "" {
			f.FileExt = &ext
		}
	case backend.MediaPhoto:
		mt, ext := "image/jpeg", "jpg"
		f.Name = "Photo.jpg"
		f.MimeType = &mt
		f.FileExt = &ext
	default:
		f.Name = "Unknown"
	}
	f.IconType = iconType(f.MimeType, f.FileExt)
	return f
}

// iconType is a coarse category hint for UIs.
func iconType(mimeType, ext *string) string {
	mt := ""
	if mimeType != nil {
		mt = *mimeType
	}
	e := ""
	if ext != nil {
		e = strings.ToLower(*ext)
	}
	switch {
	case strings.HasPrefix(mt, "image/"):
		return "image"
	case strings.HasPrefix(mt, "video/"):
		return "video"
	case strings.HasPrefix(mt, "audio/"):
		return "audio"
	case mt == "application/pdf" || e == "pdf":
		return "pdf"
	}
	switch e {
	case "zip", "rar", "7z", "tar", "gz", "bz2", "xz":
		return "archive"
	case "doc", "docx", "odt", "txt", "md", "rtf":
		return "document"
	case "xls", "xlsx", "ods", "csv":
		return "spreadsheet"
	}
	return "file"
}

// Upload sends a local file to a folder. The quota is checked against the
// file's size before any remote call.
func (s *Service) Upload(ctx context.Context, path string, folderID *int64) (models.File, error) {
	info, err := os.Stat(path)
	if err != nil {
		return models.File{}, apierr.LocalIoFailed("stat "+path+": "+err.Error(), err)
	}
	if info.IsDir() {
		return models.File{}, apierr.InvalidArgument("%s is a directory", path)
	}
	size := info.Size()
	if err := s.checkQuota(size, "up"); err != nil {
		return models.File{}, err
	}

	b, p, err := s.session(ctx, folderID)
	if err != nil {
		return models.File{}, err
	}

	// The transfer outlives a dropped caller.
	ctx = context.WithoutCancel(ctx)
	start := time.Now()
	up, err := b.Upload(ctx, path)
	if err != nil {
		metrics.RecordTransfer("upload", "up", size, false)
		return models.File{}, remote(err)
	}
	if err := b.SendMedia(ctx, p, up); err != nil {
		metrics.RecordTransfer("upload", "up", size, false)
		return models.File{}, remote(err)
	}

	s.meter.AddUp(size)
	metrics.RecordTransfer("upload", "up", size, true)
	logging.Info("upload complete",
		zap.String("name", up.Name), zap.Int64("size", size), zap.Duration("took", time.Since(start)))
	s.events.Publish(events.Event{Type: events.EventUpload, FolderID: folderID, Name: up.Name, Size: size})

	mt := up.MimeType
	if mt == "" {
		mt = mime.TypeByExtension(filepath.Ext(up.Name))
	}
	f := models.File{
		FolderID:  folderID,
		Name:      up.Name,
		Size:      size,
		CreatedAt: time.Now().UTC().Format(time.RFC3339),
	}
	if mt != "" {
		f.MimeType = &mt
	}
	if ext := strings.TrimPrefix(filepath.Ext(up.Name), "."); ext != "" {
		f.FileExt = &ext
	}
	f.IconType = iconType(f.MimeType, f.FileExt)
	return f, nil
}

// Download saves a message's media to savePath.
func (s *Service) Download(ctx context.Context, messageID int, savePath string, folderID *int64) (string, error) {
	b, p, err := s.session(ctx, folderID)
	if err != nil {
		return "", err
	}
	m, err := findMessage(ctx, b, p, messageID)
	if err != nil {
		return "", err
	}

	size := estimatedSize(m.Media)
	if err := s.checkQuota(size, "down"); err != nil {
		return "", err
	}
	if dir := filepath.Dir(savePath); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return "", apierr.LocalIoFailed("create "+dir+": "+err.Error(), err)
		}
	}

	if err := b.Download(context.WithoutCancel(ctx), m.Media, savePath); err != nil {
		metrics.RecordTransfer("download", "down", size, false)
		return "", remote(err)
	}

	s.meter.AddDown(size)
	metrics.RecordTransfer("download", "down", size, true)
	s.events.Publish(events.Event{Type: events.EventDownload, FolderID: folderID, Messages: []int{messageID}, Size: size})
	return "Download successful", nil
}

// DeleteFiles deletes messages from a folder.
func (s *Service) DeleteFiles(ctx context.Context, folderID *int64, messageIDs ...int) error {
	if len(messageIDs) == 0 {
		return nil
	}
	b, p, err := s.session(ctx, folderID)
	if err != nil {
		return err
	}
	if err := b.DeleteMessages(ctx, p, messageIDs); err != nil {
		metrics.RecordTransfer("delete", "", 0, false)
		return remote(err)
	}
	metrics.RecordTransfer("delete", "", 0, true)
	s.events.Publish(events.Event{Type: events.EventDelete, FolderID: folderID, Messages: messageIDs})
	return nil
}

// MoveFiles forwards messages to another folder and deletes the originals.
// The two steps are not atomic: if the delete fails the files exist in both
// folders and the error says so.
func (s *Service) MoveFiles(ctx context.Context, messageIDs []int, sourceID, targetID *int64) error {
	if peer.Same(sourceID, targetID) || len(messageIDs) == 0 {
		return nil
	}

	b, err := s.sessions.Acquire(ctx)
	if err != nil {
		return err
	}
	src, err := peer.Resolve(ctx, b, sourceID)
	if err != nil {
		return err
	}
	dst, err := peer.Resolve(ctx, b, targetID)
	if err != nil {
		return err
	}

	if err := b.Forward(ctx, src, dst, messageIDs); err != nil {
		metrics.RecordTransfer("move", "", 0, false)
		return annotate(remote(err), "forward failed")
	}
	if err := b.DeleteMessages(ctx, src, messageIDs); err != nil {
		metrics.RecordTransfer("move", "", 0, false)
		logging.Warn("move left originals in place, delete failed",
			zap.Ints("messages", messageIDs), zap.Error(err))
		return annotate(remote(err), "files copied but originals not deleted")
	}

	metrics.RecordTransfer("move", "", 0, true)
	s.events.Publish(events.Event{Type: events.EventMove, FolderID: sourceID, TargetID: targetID, Messages: messageIDs})
	return nil
}
