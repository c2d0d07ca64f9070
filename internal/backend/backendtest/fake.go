// Package backendtest provides an in-memory backend for tests.
package backendtest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/caamer20/Telegram-Drive/internal/backend"
)

// Object is stored media content keyed by message id.
type Object struct {
	Data  []byte
	Thumb []byte
}

// Fake implements backend.Conn over in-memory dialogs and messages.
// Errs injects a failure for the named method; Calls counts invocations.
type Fake struct {
	mu sync.Mutex

	SelfPeer backend.Peer
	Dialogs  []backend.Peer
	Abouts   map[int64]string
	History  map[int64][]backend.Message // by peer id, newest first
	Objects  map[int]Object
	Errs     map[string]error
	Calls    map[string]int

	// PasswordHint, when set, makes SignIn require a password.
	PasswordHint string
	Password     string

	ChunkSize int

	holds map[string]chan struct{}

	nextID  int64
	nextMsg int

	running *Counter
}

// New returns a Fake whose own account is user 1000.
func New() *Fake {
	return &Fake{
		SelfPeer:  backend.Peer{Kind: backend.PeerUser, ID: 1000, Title: "Me", Self: true},
		Abouts:    map[int64]string{},
		History:   map[int64][]backend.Message{},
		Objects:   map[int]Object{},
		Errs:      map[string]error{},
		Calls:     map[string]int{},
		ChunkSize: 4,
		nextID:    5000,
		nextMsg:   100,
	}
}

// AddChannel appends a channel dialog.
func (f *Fake) AddChannel(id int64, title, about string) backend.Peer {
	f.mu.Lock()
	defer f.mu.Unlock()
	p := backend.Peer{Kind: backend.PeerChannel, ID: id, AccessHash: id * 7, Title: title}
	f.Dialogs = append(f.Dialogs, p)
	if about != "" {
		f.Abouts[id] = about
	}
	return p
}

// AddUser appends a user dialog.
func (f *Fake) AddUser(id int64, name string) backend.Peer {
	f.mu.Lock()
	defer f.mu.Unlock()
	p := backend.Peer{Kind: backend.PeerUser, ID: id, Title: name}
	f.Dialogs = append(f.Dialogs, p)
	return p
}

// AddMessage prepends a message to a peer's history and stores its content.
func (f *Fake) AddMessage(peerID int64, media *backend.Media, data []byte) backend.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextMsg++
	m := backend.Message{ID: f.nextMsg, Date: time.Unix(1700000000+int64(f.nextMsg), 0).UTC(), Media: media}
	if media != nil {
		media.Location = m.ID
		if media.Thumb != nil {
			media.Thumb.Location = m.ID
		}
		f.Objects[m.ID] = Object{Data: data}
	}
	f.History[peerID] = append([]backend.Message{m}, f.History[peerID]...)
	return m
}

// SetThumb stores thumbnail bytes for a message.
func (f *Fake) SetThumb(msgID int, data []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	o := f.Objects[msgID]
	o.Thumb = data
	f.Objects[msgID] = o
}

// HistoryOf returns a copy of a peer's history.
func (f *Fake) HistoryOf(peerID int64) []backend.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]backend.Message(nil), f.History[peerID]...)
}

// CallCount returns how often a method was invoked.
func (f *Fake) CallCount(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Calls[name]
}

// SetErr injects (or clears, with nil) a failure for a method.
func (f *Fake) SetErr(name string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err == nil {
		delete(f.Errs, name)
		return
	}
	f.Errs[name] = err
}

// Hold makes calls to the named method block until release is closed.
// The call is counted before it blocks.
func (f *Fake) Hold(name string, release chan struct{}) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.holds == nil {
		f.holds = map[string]chan struct{}{}
	}
	f.holds[name] = release
}

func (f *Fake) call(name string) error {
	f.mu.Lock()
	f.Calls[name]++
	err := f.Errs[name]
	release := f.holds[name]
	f.mu.Unlock()
	if release != nil {
		<-release
	}
	return err
}

func (f *Fake) peerKey(p backend.Peer) int64 {
	if p.Self {
		return f.SelfPeer.ID
	}
	return p.ID
}

// Run blocks until ctx is done, tracking concurrency on the shared counter.
func (f *Fake) Run(ctx context.Context) error {
	if err := f.call("Run"); err != nil {
		return err
	}
	if f.running != nil {
		f.running.inc()
		defer f.running.dec()
	}
	<-ctx.Done()
	return nil
}

func (f *Fake) SendCode(_ context.Context, phone string, appID int, appHash string) (backend.LoginToken, error) {
	if err := f.call("SendCode"); err != nil {
		return backend.LoginToken{}, err
	}
	return backend.LoginToken{Phone: phone, CodeHash: fmt.Sprintf("hash-%d-%s", appID, appHash)}, nil
}

func (f *Fake) SignIn(_ context.Context, token backend.LoginToken, code string) (backend.PasswordToken, error) {
	if err := f.call("SignIn"); err != nil {
		return backend.PasswordToken{}, err
	}
	if code == "" || token.CodeHash == "" {
		return backend.PasswordToken{}, errors.New("PHONE_CODE_INVALID")
	}
	if f.PasswordHint != "" {
		return backend.PasswordToken{Hint: f.PasswordHint}, backend.ErrPasswordRequired
	}
	return backend.PasswordToken{}, nil
}

func (f *Fake) CheckPassword(_ context.Context, _ backend.PasswordToken, password string) error {
	if err := f.call("CheckPassword"); err != nil {
		return err
	}
	if password != f.Password {
		return errors.New("PASSWORD_HASH_INVALID")
	}
	return nil
}

func (f *Fake) LogOut(context.Context) error {
	return f.call("LogOut")
}

func (f *Fake) Self(context.Context) (backend.Peer, error) {
	if err := f.call("Self"); err != nil {
		return backend.Peer{}, err
	}
	return f.SelfPeer, nil
}

func (f *Fake) ForEachDialog(_ context.Context, fn func(backend.Peer) bool) error {
	if err := f.call("ForEachDialog"); err != nil {
		return err
	}
	f.mu.Lock()
	dialogs := append([]backend.Peer(nil), f.Dialogs...)
	f.mu.Unlock()
	for _, p := range dialogs {
		if !fn(p) {
			return nil
		}
	}
	return nil
}

func (f *Fake) ChannelAbout(_ context.Context, channel backend.Peer) (string, error) {
	if err := f.call("ChannelAbout"); err != nil {
		return "", err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Abouts[channel.ID], nil
}

func (f *Fake) CreateChannel(_ context.Context, title, about string) (backend.Peer, error) {
	if err := f.call("CreateChannel"); err != nil {
		return backend.Peer{}, err
	}
	f.mu.Lock()
	f.nextID++
	id := f.nextID
	f.mu.Unlock()
	return f.AddChannel(id, title, about), nil
}

func (f *Fake) DisableAutoDelete(context.Context, backend.Peer) error {
	return f.call("DisableAutoDelete")
}

func (f *Fake) DeleteChannel(_ context.Context, channel backend.Peer) error {
	if err := f.call("DeleteChannel"); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, p := range f.Dialogs {
		if p.Kind == backend.PeerChannel && p.ID == channel.ID {
			f.Dialogs = append(f.Dialogs[:i], f.Dialogs[i+1:]...)
			break
		}
	}
	delete(f.History, channel.ID)
	return nil
}

func (f *Fake) ForEachMessage(_ context.Context, peer backend.Peer, fn func(backend.Message) bool) error {
	if err := f.call("ForEachMessage"); err != nil {
		return err
	}
	for _, m := range f.HistoryOf(f.peerKey(peer)) {
		if !fn(m) {
			return nil
		}
	}
	return nil
}

func (f *Fake) Messages(_ context.Context, peer backend.Peer, ids []int) ([]backend.Message, error) {
	if err := f.call("Messages"); err != nil {
		return nil, err
	}
	want := make(map[int]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}
	var out []backend.Message
	for _, m := range f.HistoryOf(f.peerKey(peer)) {
		if want[m.ID] {
			out = append(out, m)
		}
	}
	return out, nil
}

func (f *Fake) Upload(_ context.Context, path string) (backend.Upload, error) {
	if err := f.call("Upload"); err != nil {
		return backend.Upload{}, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return backend.Upload{}, err
	}
	return backend.Upload{Name: filepath.Base(path), Size: int64(len(data)), MimeType: "application/octet-stream", Ref: data}, nil
}

func (f *Fake) SendMedia(_ context.Context, peer backend.Peer, up backend.Upload) error {
	if err := f.call("SendMedia"); err != nil {
		return err
	}
	data, _ := up.Ref.([]byte)
	f.AddMessage(f.peerKey(peer), &backend.Media{
		Kind:     backend.MediaDocument,
		Name:     up.Name,
		Size:     up.Size,
		MimeType: up.MimeType,
	}, data)
	return nil
}

func (f *Fake) object(media *backend.Media) (Object, error) {
	id, ok := media.Location.(int)
	if !ok {
		return Object{}, errors.New("bad location")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.Objects[id]
	if !ok {
		return Object{}, errors.New("FILE_REFERENCE_EXPIRED")
	}
	return o, nil
}

func (f *Fake) Download(_ context.Context, media *backend.Media, path string) error {
	if err := f.call("Download"); err != nil {
		return err
	}
	o, err := f.object(media)
	if err != nil {
		return err
	}
	return os.WriteFile(path, o.Data, 0644)
}

func (f *Fake) DownloadThumb(_ context.Context, media *backend.Media, path string) error {
	if err := f.call("DownloadThumb"); err != nil {
		return err
	}
	o, err := f.object(media)
	if err != nil {
		return err
	}
	if o.Thumb == nil {
		return errors.New("no thumbnail")
	}
	return os.WriteFile(path, o.Thumb, 0644)
}

func (f *Fake) Stream(media *backend.Media) backend.ChunkReader {
	f.call("Stream")
	return &chunkReader{f: f, media: media}
}

type chunkReader struct {
	f      *Fake
	media  *backend.Media
	offset int
}

func (r *chunkReader) Next(context.Context) ([]byte, error) {
	if err := r.f.call("Next"); err != nil {
		return nil, err
	}
	o, err := r.f.object(r.media)
	if err != nil {
		return nil, err
	}
	if r.offset >= len(o.Data) {
		return nil, io.EOF
	}
	end := r.offset + r.f.ChunkSize
	if end > len(o.Data) {
		end = len(o.Data)
	}
	chunk := o.Data[r.offset:end]
	r.offset = end
	return chunk, nil
}

func (f *Fake) Forward(_ context.Context, from, to backend.Peer, ids []int) error {
	if err := f.call("Forward"); err != nil {
		return err
	}
	msgs, _ := f.Messages(context.Background(), from, ids)
	for _, m := range msgs {
		var media *backend.Media
		var data []byte
		if m.Media != nil {
			cp := *m.Media
			media = &cp
			o, _ := f.object(m.Media)
			data = o.Data
		}
		f.AddMessage(f.peerKey(to), media, data)
	}
	return nil
}

func (f *Fake) DeleteMessages(_ context.Context, peer backend.Peer, ids []int) error {
	if err := f.call("DeleteMessages"); err != nil {
		return err
	}
	drop := make(map[int]bool, len(ids))
	for _, id := range ids {
		drop[id] = true
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	key := f.peerKey(peer)
	kept := f.History[key][:0]
	for _, m := range f.History[key] {
		if !drop[m.ID] {
			kept = append(kept, m)
		}
	}
	f.History[key] = kept
	return nil
}

// Counter tracks concurrently running listeners.
type Counter struct {
	cur atomic.Int32
	max atomic.Int32
}

func (c *Counter) inc() {
	n := c.cur.Add(1)
	for {
		m := c.max.Load()
		if n <= m || c.max.CompareAndSwap(m, n) {
			return
		}
	}
}

func (c *Counter) dec() {
	c.cur.Add(-1)
}

// Current returns the number of listeners running now.
func (c *Counter) Current() int { return int(c.cur.Load()) }

// Max returns the highest concurrency observed.
func (c *Counter) Max() int { return int(c.max.Load()) }

// Connector hands out Fakes and records every Connect.
type Connector struct {
	mu      sync.Mutex
	Running Counter
	Conns   []*Fake
	AppIDs  []int
	Err     error

	// Setup configures each new Fake; nil leaves the defaults.
	Setup func(*Fake)
}

func (c *Connector) Connect(appID int, _ backend.SessionStorage) (backend.Conn, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.Err != nil {
		return nil, c.Err
	}
	f := New()
	f.running = &c.Running
	if c.Setup != nil {
		c.Setup(f)
	}
	c.Conns = append(c.Conns, f)
	c.AppIDs = append(c.AppIDs, appID)
	return f, nil
}

// Last returns the most recently created Fake.
func (c *Connector) Last() *Fake {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.Conns) == 0 {
		return nil
	}
	return c.Conns[len(c.Conns)-1]
}

// Count returns the number of Connect calls that succeeded.
func (c *Connector) Count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.Conns)
}
