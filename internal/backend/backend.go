// Package backend defines the capabilities the drive needs from the remote
// messaging service. Folders map to broadcast channels and files to media
// messages; implementations live in subpackages.
package backend

import (
	"context"
	"errors"
	"io"
	"time"
)

// PeerKind distinguishes the dialog types the drive cares about.
type PeerKind int

const (
	PeerUser PeerKind = iota + 1
	PeerChat
	PeerChannel
)

func (k PeerKind) String() string {
	switch k {
	case PeerUser:
		return "user"
	case PeerChat:
		return "chat"
	case PeerChannel:
		return "channel"
	}
	return "unknown"
}

// Peer is a resolved conversation endpoint.
type Peer struct {
	Kind       PeerKind
	ID         int64
	AccessHash int64
	Title      string
	Self       bool // the account's own saved-messages chat
}

// MediaKind classifies a message attachment.
type MediaKind int

const (
	MediaDocument MediaKind = iota + 1
	MediaPhoto
	MediaOther
)

// Media describes a message attachment. Location and Thumb.Location are
// opaque to callers and only meaningful to the backend that produced them.
type Media struct {
	Kind     MediaKind
	Name     string // empty when the attachment carries no file name
	Size     int64  // declared size, 0 when unknown
	MimeType string
	Location any
	Thumb    *Thumb
}

// Thumb is a server-side preview rendition of a document.
type Thumb struct {
	Size     int64
	Location any
}

// Message is a message that may carry media.
type Message struct {
	ID    int
	Date  time.Time
	Media *Media
}

// Upload is a file transferred to the remote side but not yet attached to
// a message.
type Upload struct {
	Name     string
	Size     int64
	MimeType string
	Ref      any
}

// LoginToken is returned by SendCode and consumed by SignIn.
type LoginToken struct {
	Phone    string
	CodeHash string
}

// PasswordToken is returned when sign-in needs the account password.
type PasswordToken struct {
	Hint string
}

// ErrPasswordRequired is returned by SignIn together with a valid
// PasswordToken when the account has two-step verification enabled.
var ErrPasswordRequired = errors.New("account password required")

// ChunkReader yields a media object's bytes in order. Next returns io.EOF
// after the last chunk.
type ChunkReader interface {
	Next(ctx context.Context) ([]byte, error)
}

// Auth covers the interactive sign-in flow.
type Auth interface {
	SendCode(ctx context.Context, phone string, appID int, appHash string) (LoginToken, error)
	SignIn(ctx context.Context, token LoginToken, code string) (PasswordToken, error)
	CheckPassword(ctx context.Context, token PasswordToken, password string) error
	LogOut(ctx context.Context) error
}

// Drive covers folder and file operations.
type Drive interface {
	// Self returns the account's own peer. It doubles as the liveness probe.
	Self(ctx context.Context) (Peer, error)

	// ForEachDialog calls fn for every dialog in list order until fn
	// returns false.
	ForEachDialog(ctx context.Context, fn func(Peer) bool) error

	// ChannelAbout returns a channel's description text.
	ChannelAbout(ctx context.Context, channel Peer) (string, error)

	CreateChannel(ctx context.Context, title, about string) (Peer, error)

	// DisableAutoDelete turns off message auto-deletion for a peer.
	DisableAutoDelete(ctx context.Context, peer Peer) error

	DeleteChannel(ctx context.Context, channel Peer) error

	// ForEachMessage walks history newest first until fn returns false.
	ForEachMessage(ctx context.Context, peer Peer, fn func(Message) bool) error

	// Messages fetches specific messages. Missing ids are omitted.
	Messages(ctx context.Context, peer Peer, ids []int) ([]Message, error)

	Upload(ctx context.Context, path string) (Upload, error)

	// SendMedia posts an uploaded file as an empty-text media message.
	SendMedia(ctx context.Context, peer Peer, upload Upload) error

	// Download writes the full media object to path.
	Download(ctx context.Context, media *Media, path string) error

	// DownloadThumb writes the media's thumbnail rendition to path.
	DownloadThumb(ctx context.Context, media *Media, path string) error

	// Stream reads the media object chunk by chunk.
	Stream(media *Media) ChunkReader

	Forward(ctx context.Context, from, to Peer, ids []int) error
	DeleteMessages(ctx context.Context, peer Peer, ids []int) error
}

// Backend is everything a live session offers.
type Backend interface {
	Auth
	Drive
}

// Conn is a session handle whose update loop is pumped by Run. Run blocks
// until ctx is cancelled or the transport fails; calls made before the
// transport is ready wait for it.
type Conn interface {
	Backend
	Run(ctx context.Context) error
}

// SessionStorage persists the opaque session blob.
type SessionStorage interface {
	LoadSession(ctx context.Context) ([]byte, error)
	StoreSession(ctx context.Context, data []byte) error
}

// Connector builds a session handle for an application id.
type Connector interface {
	Connect(appID int, storage SessionStorage) (Conn, error)
}

// ReadAll drains a ChunkReader into w.
func ReadAll(ctx context.Context, r ChunkReader, w io.Writer) (int64, error) {
	var n int64
	for {
		chunk, err := r.Next(ctx)
		if errors.Is(err, io.EOF) {
			return n, nil
		}
		if err != nil {
			return n, err
		}
		written, err := w.Write(chunk)
		n += int64(written)
		if err != nil {
			return n, err
		}
	}
}
