// Package preview manages the on-disk cache of downloaded previews and
// generated thumbnails, and renders cached images as data URIs.
package preview

import (
	"encoding/base64"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

const (
	previewDir = "previews"
	thumbDir   = "thumbs"
)

// Cache is a disposable directory tree keyed by message id.
type Cache struct {
	root string
}

// NewCache returns a cache rooted at dir. Directories are created lazily.
func NewCache(dir string) *Cache {
	return &Cache{root: dir}
}

// Root returns the cache directory.
func (c *Cache) Root() string {
	return c.root
}

// PreviewPath is the cache location for a message's full preview.
func (c *Cache) PreviewPath(messageID int, ext string) string {
	return filepath.Join(c.root, previewDir, strconv.Itoa(messageID)+"."+ext)
}

// ThumbPath is the cache location for a message's thumbnail.
func (c *Cache) ThumbPath(messageID int) string {
	return filepath.Join(c.root, thumbDir, strconv.Itoa(messageID)+".jpg")
}

// Exists reports whether a cache entry is present.
func (c *Cache) Exists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}

// Fill runs fetch against a temporary path next to dst and moves the result
// into place only on success, so a failed download never looks cached.
func (c *Cache) Fill(dst string, fetch func(tmp string) error) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return fmt.Errorf("create cache dir: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(dst), ".partial-*")
	if err != nil {
		return fmt.Errorf("create temp: %w", err)
	}
	tmpName := tmp.Name()
	tmp.Close()

	if err := fetch(tmpName); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, dst); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename into cache: %w", err)
	}
	return nil
}

// Clear removes the whole cache tree. A missing tree is not an error.
func (c *Cache) Clear() error {
	if err := os.RemoveAll(c.root); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

var imageMIME = map[string]string{
	"jpg":  "image/jpeg",
	"jpeg": "image/jpeg",
	"png":  "image/png",
	"gif":  "image/gif",
	"webp": "image/webp",
	"bmp":  "image/bmp",
	"svg":  "image/svg+xml",
}

// IsImageExt reports whether ext (without dot, any case) is rendered inline.
func IsImageExt(ext string) bool {
	_, ok := imageMIME[strings.ToLower(ext)]
	return ok
}

// Ext picks the cache extension for a media item: the file name's
// extension if it has one, otherwise one derived from the MIME type.
func Ext(name, mimeType string) string {
	if e := strings.TrimPrefix(filepath.Ext(name), "."); e != "" {
		return e
	}
	switch mimeType {
	case "image/jpeg":
		return "jpg"
	case "image/png":
		return "png"
	case "video/mp4":
		return "mp4"
	}
	return "bin"
}

// DataURI reads an image file and encodes it as a base64 data URI.
func DataURI(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(path), "."))
	mime, ok := imageMIME[ext]
	if !ok {
		mime = "image/jpeg"
	}
	return EncodeDataURI(mime, data), nil
}

// EncodeDataURI formats data as a data URI of the given MIME type.
func EncodeDataURI(mime string, data []byte) string {
	return "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(data)
}
