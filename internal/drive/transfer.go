package drive

import (
	"context"
	"os"

	"go.uber.org/zap"

	"github.com/caamer20/Telegram-Drive/internal/apierr"
	"github.com/caamer20/Telegram-Drive/internal/backend"
	"github.com/caamer20/Telegram-Drive/internal/fsutil"
	"github.com/caamer20/Telegram-Drive/internal/logging"
	"github.com/caamer20/Telegram-Drive/internal/metrics"
	"github.com/caamer20/Telegram-Drive/internal/preview"
)

func mediaExt(m *backend.Media) string {
	if m.Kind == backend.MediaPhoto {
		return "jpg"
	}
	return preview.Ext(m.Name, m.MimeType)
}

// Preview downloads a message's media into the preview cache. Images come
// back as a data URI, anything else as the cached file path. A cache hit
// costs no quota and no network.
func (s *Service) Preview(ctx context.Context, messageID int, folderID *int64) (string, error) {
	b, p, err := s.session(ctx, folderID)
	if err != nil {
		return "", err
	}
	m, err := findMessage(ctx, b, p, messageID)
	if err != nil {
		return "", err
	}

	ext := mediaExt(m.Media)
	path := s.cache.PreviewPath(messageID, ext)
	if err := s.fillPreview(ctx, b, m.Media, path); err != nil {
		return "", err
	}

	if !preview.IsImageExt(ext) {
		return path, nil
	}
	uri, err := preview.DataURI(path)
	if err != nil {
		logging.Warn("preview data uri failed, returning path", zap.String("path", path), zap.Error(err))
		return path, nil
	}
	return uri, nil
}

// fillPreview downloads media into path unless it is already cached.
func (s *Service) fillPreview(ctx context.Context, b backend.Backend, media *backend.Media, path string) error {
	if s.cache.Exists(path) {
		return nil
	}
	size := estimatedSize(media)
	if err := s.checkQuota(size, "down"); err != nil {
		return err
	}

	err := s.cache.Fill(path, func(tmp string) error {
		return b.Download(context.WithoutCancel(ctx), media, tmp)
	})
	if err != nil {
		metrics.RecordTransfer("preview", "down", size, false)
		return remote(err)
	}
	s.meter.AddDown(size)
	metrics.RecordTransfer("preview", "down", size, true)
	return nil
}

// Thumbnail returns a JPEG data URI for a message, or "" when the media has
// no thumbnail to offer. Images are scaled locally from the full preview;
// other documents use the server-side rendition.
func (s *Service) Thumbnail(ctx context.Context, messageID int, folderID *int64) (string, error) {
	thumbPath := s.cache.ThumbPath(messageID)
	if s.cache.Exists(thumbPath) {
		uri, err := preview.DataURI(thumbPath)
		if err == nil {
			return uri, nil
		}
		logging.Warn("cached thumbnail unreadable", zap.String("path", thumbPath), zap.Error(err))
	}

	b, p, err := s.session(ctx, folderID)
	if err != nil {
		return "", err
	}
	m, err := findMessage(ctx, b, p, messageID)
	if err != nil {
		return "", err
	}

	ext := mediaExt(m.Media)
	switch {
	case preview.IsImageExt(ext):
		return s.scaledThumb(ctx, b, messageID, m.Media, ext, thumbPath)
	case m.Media.Thumb != nil:
		return s.remoteThumb(ctx, b, m.Media, thumbPath)
	}
	return "", nil
}

func (s *Service) scaledThumb(ctx context.Context, b backend.Backend, messageID int, media *backend.Media, ext, thumbPath string) (string, error) {
	src := s.cache.PreviewPath(messageID, ext)
	if err := s.fillPreview(ctx, b, media, src); err != nil {
		return "", err
	}
	data, err := os.ReadFile(src)
	if err != nil {
		return "", apierr.LocalIoFailed("read preview: "+err.Error(), err)
	}

	thumb, err := preview.Thumbnail(data)
	if err != nil {
		// Formats the decoder does not know (svg, webp) fall back to the
		// original bytes.
		logging.Debug("thumbnail decode failed, using original", zap.Int("message_id", messageID), zap.Error(err))
		uri, err := preview.DataURI(src)
		if err != nil {
			return "", apierr.LocalIoFailed("read preview: "+err.Error(), err)
		}
		return uri, nil
	}
	if err := fsutil.WriteFile(thumbPath, thumb, 0644); err != nil {
		logging.Warn("could not cache thumbnail", zap.String("path", thumbPath), zap.Error(err))
	}
	return preview.EncodeDataURI("image/jpeg", thumb), nil
}

func (s *Service) remoteThumb(ctx context.Context, b backend.Backend, media *backend.Media, thumbPath string) (string, error) {
	size := media.Thumb.Size
	if err := s.checkQuota(size, "down"); err != nil {
		return "", err
	}
	err := s.cache.Fill(thumbPath, func(tmp string) error {
		return b.DownloadThumb(ctx, media, tmp)
	})
	if err != nil {
		metrics.RecordTransfer("thumbnail", "down", size, false)
		return "", remote(err)
	}
	s.meter.AddDown(size)
	metrics.RecordTransfer("thumbnail", "down", size, true)

	uri, err := preview.DataURI(thumbPath)
	if err != nil {
		return "", apierr.LocalIoFailed("read thumbnail: "+err.Error(), err)
	}
	return uri, nil
}

// CleanCache deletes every cached preview and thumbnail.
func (s *Service) CleanCache() error {
	if err := s.cache.Clear(); err != nil {
		return apierr.LocalIoFailed("clear cache: "+err.Error(), err)
	}
	logging.Info("preview cache cleared", zap.String("dir", s.cache.Root()))
	return nil
}
