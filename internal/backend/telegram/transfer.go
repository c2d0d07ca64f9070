package telegram

import (
	"context"
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"

	"github.com/gotd/td/telegram/downloader"
	"github.com/gotd/td/telegram/uploader"
	"github.com/gotd/td/tg"

	"github.com/caamer20/Telegram-Drive/internal/backend"
)

// streamChunk is the part size for ranged reads; the server requires a
// multiple of 4 KiB that divides 1 MiB.
const streamChunk = 512 * 1024

func (c *conn) Upload(ctx context.Context, path string) (backend.Upload, error) {
	api, err := c.api(ctx)
	if err != nil {
		return backend.Upload{}, err
	}
	info, err := os.Stat(path)
	if err != nil {
		return backend.Upload{}, err
	}
	f, err := uploader.NewUploader(api).FromPath(ctx, path)
	if err != nil {
		return backend.Upload{}, convert(err)
	}
	name := filepath.Base(path)
	mt := mime.TypeByExtension(filepath.Ext(name))
	if mt == "" {
		mt = "application/octet-stream"
	}
	return backend.Upload{Name: name, Size: info.Size(), MimeType: mt, Ref: f}, nil
}

// SendMedia posts the upload as a file attachment with no caption, so
// images keep their original bytes.
func (c *conn) SendMedia(ctx context.Context, p backend.Peer, up backend.Upload) error {
	api, err := c.api(ctx)
	if err != nil {
		return err
	}
	f, ok := up.Ref.(tg.InputFileClass)
	if !ok {
		return fmt.Errorf("upload %s was not produced by this client", up.Name)
	}
	rids, err := randomIDs(1)
	if err != nil {
		return err
	}
	_, err = api.MessagesSendMedia(ctx, &tg.MessagesSendMediaRequest{
		Peer: inputPeer(p),
		Media: &tg.InputMediaUploadedDocument{
			ForceFile: true,
			File:      f,
			MimeType:  up.MimeType,
			Attributes: []tg.DocumentAttributeClass{
				&tg.DocumentAttributeFilename{FileName: up.Name},
			},
		},
		Message:  "",
		RandomID: rids[0],
	})
	return convert(err)
}

func (c *conn) Download(ctx context.Context, media *backend.Media, path string) error {
	api, err := c.api(ctx)
	if err != nil {
		return err
	}
	loc, err := location(media)
	if err != nil {
		return err
	}
	_, err = downloader.NewDownloader().Download(api, loc).ToPath(ctx, path)
	return convert(err)
}

func (c *conn) DownloadThumb(ctx context.Context, media *backend.Media, path string) error {
	api, err := c.api(ctx)
	if err != nil {
		return err
	}
	if media == nil || media.Thumb == nil {
		return fmt.Errorf("media has no thumbnail")
	}
	loc, ok := media.Thumb.Location.(tg.InputFileLocationClass)
	if !ok {
		return fmt.Errorf("thumbnail is not downloadable")
	}
	_, err = downloader.NewDownloader().Download(api, loc).ToPath(ctx, path)
	return convert(err)
}

func (c *conn) Stream(media *backend.Media) backend.ChunkReader {
	return &chunkReader{c: c, media: media}
}

type chunkReader struct {
	c      *conn
	media  *backend.Media
	offset int64
	done   bool
}

// Next fetches the next part. A part shorter than the request size is
// the last one.
func (r *chunkReader) Next(ctx context.Context) ([]byte, error) {
	if r.done {
		return nil, io.EOF
	}
	api, err := r.c.api(ctx)
	if err != nil {
		return nil, err
	}
	loc, err := location(r.media)
	if err != nil {
		return nil, err
	}

	res, err := api.UploadGetFile(ctx, &tg.UploadGetFileRequest{
		Location: loc,
		Offset:   r.offset,
		Limit:    streamChunk,
	})
	if err != nil {
		return nil, convert(err)
	}
	part, ok := res.(*tg.UploadFile)
	if !ok {
		return nil, fmt.Errorf("unexpected file response %T", res)
	}
	if len(part.Bytes) == 0 {
		r.done = true
		return nil, io.EOF
	}
	r.offset += int64(len(part.Bytes))
	if len(part.Bytes) < streamChunk {
		r.done = true
	}
	return part.Bytes, nil
}
