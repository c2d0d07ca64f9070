package drive

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/caamer20/Telegram-Drive/internal/apierr"
	"github.com/caamer20/Telegram-Drive/internal/backend"
	"github.com/caamer20/Telegram-Drive/internal/backend/backendtest"
	"github.com/caamer20/Telegram-Drive/internal/bandwidth"
	"github.com/caamer20/Telegram-Drive/internal/events"
	"github.com/caamer20/Telegram-Drive/internal/preview"
)

type fakeSessions struct {
	b   backend.Backend
	err error
}

func (s *fakeSessions) Acquire(context.Context) (backend.Backend, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.b, nil
}

type harness struct {
	svc      *Service
	fake     *backendtest.Fake
	sessions *fakeSessions
	meter    *bandwidth.Accountant
	events   *events.Broadcaster
}

func newHarness(t *testing.T, limit int64) *harness {
	t.Helper()
	dir := t.TempDir()
	fake := backendtest.New()
	sessions := &fakeSessions{b: fake}
	meter := bandwidth.New(context.Background(), bandwidth.NewFileStore(filepath.Join(dir, "bandwidth.json")), limit)
	ev := events.NewBroadcaster()
	svc := New(Config{ProbeAddr: "127.0.0.1:1", ProbeTimeout: time.Second}, sessions, meter,
		preview.NewCache(filepath.Join(dir, "cache")), ev)
	return &harness{svc: svc, fake: fake, sessions: sessions, meter: meter, events: ev}
}

func ptr(v int64) *int64 { return &v }

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		img.Set(x, 0, color.RGBA{B: 255, A: 255})
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func wantKind(t *testing.T, err error, want apierr.Kind) {
	t.Helper()
	if got := apierr.KindOf(err); got != want {
		t.Fatalf("error kind = %v (%v), want %v", got, err, want)
	}
}

func TestDisplayName(t *testing.T) {
	tests := map[string]string{
		"Photos [TD]":   "Photos",
		"Photos [td]":   "Photos",
		"[Td] Work":     "Work",
		"Plain":         "Plain",
		"  Spaced [TD]": "Spaced",
	}
	for in, want := range tests {
		if got := displayName(in); got != want {
			t.Errorf("displayName(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestScanFolders(t *testing.T) {
	h := newHarness(t, 1<<30)
	h.fake.AddChannel(1, "Photos [TD]", "")
	h.fake.AddUser(2, "Alice")
	h.fake.AddChannel(3, "Docs", "stuff\n"+aboutMarker)
	h.fake.AddChannel(4, "News", "just news")

	folders, err := h.svc.ScanFolders(context.Background())
	if err != nil {
		t.Fatalf("ScanFolders: %v", err)
	}
	if len(folders) != 2 {
		t.Fatalf("got %d folders, want 2: %+v", len(folders), folders)
	}
	if folders[0].ID != 1 || folders[0].Name != "Photos" {
		t.Errorf("folders[0] = %+v", folders[0])
	}
	if folders[1].ID != 3 || folders[1].Name != "Docs" {
		t.Errorf("folders[1] = %+v", folders[1])
	}
	// Only the two unmarked channels need a description lookup.
	if n := h.fake.CallCount("ChannelAbout"); n != 2 {
		t.Errorf("ChannelAbout calls = %d, want 2", n)
	}
}

func TestScanFoldersSkipsFailedLookups(t *testing.T) {
	h := newHarness(t, 1<<30)
	h.fake.AddChannel(1, "Photos [TD]", "")
	h.fake.AddChannel(3, "Docs", aboutMarker)
	h.fake.SetErr("ChannelAbout", errors.New("CHANNEL_PRIVATE"))

	folders, err := h.svc.ScanFolders(context.Background())
	if err != nil {
		t.Fatalf("ScanFolders: %v", err)
	}
	if len(folders) != 1 || folders[0].ID != 1 {
		t.Errorf("folders = %+v, want only the name-marked channel", folders)
	}
}

func TestScanFoldersWithoutSession(t *testing.T) {
	h := newHarness(t, 1<<30)
	h.sessions.err = apierr.SessionNotInitialized()

	_, err := h.svc.ScanFolders(context.Background())
	wantKind(t, err, apierr.KindSessionNotInitialized)
}

func TestScanFoldersSurvivesCancelledCaller(t *testing.T) {
	h := newHarness(t, 1<<30)
	h.fake.AddChannel(1, "Photos [TD]", "")
	release := make(chan struct{})
	h.fake.Hold("ForEachDialog", release)

	firstCtx, cancelFirst := context.WithCancel(context.Background())
	first := make(chan error, 1)
	go func() {
		_, err := h.svc.ScanFolders(firstCtx)
		first <- err
	}()
	deadline := time.Now().Add(2 * time.Second)
	for h.fake.CallCount("ForEachDialog") == 0 {
		if time.Now().After(deadline) {
			t.Fatal("scan did not start")
		}
		time.Sleep(5 * time.Millisecond)
	}

	type result struct {
		folders int
		err     error
	}
	second := make(chan result, 1)
	go func() {
		folders, err := h.svc.ScanFolders(context.Background())
		second <- result{len(folders), err}
	}()

	cancelFirst()
	if err := <-first; !errors.Is(err, context.Canceled) {
		t.Errorf("cancelled caller err = %v, want context.Canceled", err)
	}
	close(release)

	res := <-second
	if res.err != nil {
		t.Fatalf("sharing caller failed: %v", res.err)
	}
	if res.folders != 1 {
		t.Errorf("sharing caller got %d folders, want 1", res.folders)
	}
}

func TestCreateFolder(t *testing.T) {
	h := newHarness(t, 1<<30)
	h.fake.SetErr("DisableAutoDelete", errors.New("CHAT_NOT_MODIFIED"))
	sub := h.events.Subscribe()
	defer h.events.Unsubscribe(sub)

	f, err := h.svc.CreateFolder(context.Background(), "Work")
	if err != nil {
		t.Fatalf("CreateFolder: %v", err)
	}
	if f.Name != "Work" {
		t.Errorf("name = %q", f.Name)
	}

	folders, err := h.svc.ScanFolders(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(folders) != 1 || folders[0].ID != f.ID || folders[0].Name != "Work" {
		t.Errorf("scan after create = %+v", folders)
	}

	select {
	case e := <-sub:
		if e.Type != events.EventFolderCreate || e.FolderID == nil || *e.FolderID != f.ID {
			t.Errorf("event = %+v", e)
		}
	case <-time.After(time.Second):
		t.Error("no folder_create event")
	}

	_, err = h.svc.CreateFolder(context.Background(), "  ")
	wantKind(t, err, apierr.KindInvalidArgument)
}

func TestDeleteFolder(t *testing.T) {
	h := newHarness(t, 1<<30)
	h.fake.AddChannel(10, "Old [TD]", "")
	h.fake.AddUser(20, "Bob")

	wantKind(t, h.svc.DeleteFolder(context.Background(), 20), apierr.KindInvalidArgument)
	wantKind(t, h.svc.DeleteFolder(context.Background(), 99), apierr.KindPeerNotFound)

	if err := h.svc.DeleteFolder(context.Background(), 10); err != nil {
		t.Fatalf("DeleteFolder: %v", err)
	}
	if n := h.fake.CallCount("DeleteChannel"); n != 1 {
		t.Errorf("DeleteChannel calls = %d", n)
	}
}

func TestListFiles(t *testing.T) {
	h := newHarness(t, 1<<30)
	h.fake.AddChannel(1, "Box [TD]", "")
	for i := 0; i < 120; i++ {
		h.fake.AddMessage(1, &backend.Media{Kind: backend.MediaDocument, Name: "a.zip", Size: 10, MimeType: "application/zip"}, nil)
		h.fake.AddMessage(1, nil, nil)
	}
	photo := h.fake.AddMessage(1, &backend.Media{Kind: backend.MediaPhoto}, nil)

	files, err := h.svc.ListFiles(context.Background(), ptr(1))
	if err != nil {
		t.Fatalf("ListFiles: %v", err)
	}
	if len(files) != MaxListedFiles {
		t.Fatalf("got %d files, want %d", len(files), MaxListedFiles)
	}

	first := files[0]
	if first.ID != photo.ID || first.Name != "Photo.jpg" || first.IconType != "image" {
		t.Errorf("photo projection = %+v", first)
	}
	if first.FileExt == nil || *first.FileExt != "jpg" {
		t.Errorf("photo ext = %v", first.FileExt)
	}

	doc := files[1]
	if doc.Name != "a.zip" || doc.Size != 10 || doc.IconType != "archive" {
		t.Errorf("document projection = %+v", doc)
	}
	if doc.FolderID == nil || *doc.FolderID != 1 {
		t.Errorf("folder id = %v", doc.FolderID)
	}
}

func TestListFilesUnknownFolder(t *testing.T) {
	h := newHarness(t, 1<<30)
	_, err := h.svc.ListFiles(context.Background(), ptr(404))
	wantKind(t, err, apierr.KindPeerNotFound)
}

func TestUploadQuota(t *testing.T) {
	h := newHarness(t, 10)
	path := filepath.Join(t.TempDir(), "big.bin")
	if err := os.WriteFile(path, make([]byte, 20), 0644); err != nil {
		t.Fatal(err)
	}

	_, err := h.svc.Upload(context.Background(), path, nil)
	wantKind(t, err, apierr.KindQuotaExceeded)
	if n := h.fake.CallCount("Upload"); n != 0 {
		t.Errorf("Upload called %d times after quota rejection", n)
	}
	if h.meter.Stats().UpBytes != 0 {
		t.Error("rejected upload was charged")
	}
}

func TestUploadAndDownload(t *testing.T) {
	h := newHarness(t, 1<<30)
	dir := t.TempDir()
	src := filepath.Join(dir, "report.pdf")
	if err := os.WriteFile(src, []byte("%PDF-data"), 0644); err != nil {
		t.Fatal(err)
	}

	f, err := h.svc.Upload(context.Background(), src, nil)
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if f.Name != "report.pdf" || f.Size != 9 || f.IconType != "pdf" {
		t.Errorf("uploaded file = %+v", f)
	}
	if got := h.meter.Stats().UpBytes; got != 9 {
		t.Errorf("up bytes = %d, want 9", got)
	}

	hist := h.fake.HistoryOf(1000)
	if len(hist) != 1 {
		t.Fatalf("saved messages has %d entries", len(hist))
	}

	dst := filepath.Join(dir, "out", "copy.pdf")
	msg, err := h.svc.Download(context.Background(), hist[0].ID, dst, nil)
	if err != nil {
		t.Fatalf("Download: %v", err)
	}
	if msg != "Download successful" {
		t.Errorf("message = %q", msg)
	}
	data, err := os.ReadFile(dst)
	if err != nil || string(data) != "%PDF-data" {
		t.Errorf("downloaded %q, %v", data, err)
	}
	if got := h.meter.Stats().DownBytes; got != 9 {
		t.Errorf("down bytes = %d, want 9", got)
	}
}

func TestUploadMissingFile(t *testing.T) {
	h := newHarness(t, 1<<30)
	_, err := h.svc.Upload(context.Background(), filepath.Join(t.TempDir(), "nope"), nil)
	wantKind(t, err, apierr.KindLocalIoFailed)
}

func TestDownloadMissingMessage(t *testing.T) {
	h := newHarness(t, 1<<30)
	h.fake.AddMessage(1000, nil, nil)

	_, err := h.svc.Download(context.Background(), 12345, filepath.Join(t.TempDir(), "x"), nil)
	wantKind(t, err, apierr.KindMessageNotFound)
}

func TestDeleteFiles(t *testing.T) {
	h := newHarness(t, 1<<30)
	a := h.fake.AddMessage(1000, &backend.Media{Kind: backend.MediaDocument, Name: "a"}, []byte("a"))
	b := h.fake.AddMessage(1000, &backend.Media{Kind: backend.MediaDocument, Name: "b"}, []byte("b"))

	if err := h.svc.DeleteFiles(context.Background(), nil, a.ID); err != nil {
		t.Fatalf("DeleteFiles: %v", err)
	}
	hist := h.fake.HistoryOf(1000)
	if len(hist) != 1 || hist[0].ID != b.ID {
		t.Errorf("history after delete = %+v", hist)
	}
}

func TestMoveFiles(t *testing.T) {
	h := newHarness(t, 1<<30)
	h.fake.AddChannel(1, "A [TD]", "")
	h.fake.AddChannel(2, "B [TD]", "")
	m := h.fake.AddMessage(1, &backend.Media{Kind: backend.MediaDocument, Name: "x.txt"}, []byte("x"))

	if err := h.svc.MoveFiles(context.Background(), []int{m.ID}, ptr(1), ptr(1)); err != nil {
		t.Fatalf("same-folder move: %v", err)
	}
	if n := h.fake.CallCount("Forward"); n != 0 {
		t.Errorf("same-folder move forwarded %d times", n)
	}

	if err := h.svc.MoveFiles(context.Background(), []int{m.ID}, ptr(1), ptr(2)); err != nil {
		t.Fatalf("MoveFiles: %v", err)
	}
	if len(h.fake.HistoryOf(1)) != 0 {
		t.Error("source still holds the message")
	}
	dst := h.fake.HistoryOf(2)
	if len(dst) != 1 || dst[0].Media.Name != "x.txt" {
		t.Errorf("target history = %+v", dst)
	}
}

func TestMoveFilesPartialFailure(t *testing.T) {
	h := newHarness(t, 1<<30)
	h.fake.AddChannel(1, "A [TD]", "")
	m := h.fake.AddMessage(1, &backend.Media{Kind: backend.MediaDocument, Name: "x.txt"}, []byte("x"))
	h.fake.SetErr("DeleteMessages", errors.New("MESSAGE_DELETE_FORBIDDEN"))

	err := h.svc.MoveFiles(context.Background(), []int{m.ID}, ptr(1), nil)
	wantKind(t, err, apierr.KindRemoteCallFailed)
	if !strings.Contains(err.Error(), "originals not deleted") {
		t.Errorf("error = %q", err)
	}
	if len(h.fake.HistoryOf(1)) != 1 || len(h.fake.HistoryOf(1000)) != 1 {
		t.Error("copies should exist in both folders")
	}
}

func TestMoveFilesRateLimitedForward(t *testing.T) {
	h := newHarness(t, 1<<30)
	h.fake.AddChannel(1, "A [TD]", "")
	h.fake.SetErr("Forward", errors.New("FLOOD_WAIT (value: 30)"))

	err := h.svc.MoveFiles(context.Background(), []int{1}, ptr(1), nil)
	wantKind(t, err, apierr.KindRateLimited)
	var e *apierr.Error
	if !errors.As(err, &e) || e.RetryAfter != 30 {
		t.Errorf("retry after = %+v", e)
	}
}

func TestPreviewDocumentIsCached(t *testing.T) {
	h := newHarness(t, 1<<30)
	m := h.fake.AddMessage(1000, &backend.Media{Kind: backend.MediaDocument, Name: "notes.txt", Size: 5}, []byte("hello"))

	path, err := h.svc.Preview(context.Background(), m.ID, nil)
	if err != nil {
		t.Fatalf("Preview: %v", err)
	}
	if filepath.Base(path) != fmt.Sprintf("%d.txt", m.ID) {
		t.Errorf("path = %q", path)
	}
	data, err := os.ReadFile(path)
	if err != nil || string(data) != "hello" {
		t.Errorf("cached %q, %v", data, err)
	}

	again, err := h.svc.Preview(context.Background(), m.ID, nil)
	if err != nil || again != path {
		t.Fatalf("second Preview = %q, %v", again, err)
	}
	if n := h.fake.CallCount("Download"); n != 1 {
		t.Errorf("Download calls = %d, want 1", n)
	}
	if got := h.meter.Stats().DownBytes; got != 5 {
		t.Errorf("down bytes = %d, cache hit must not be charged", got)
	}
}

func TestPreviewImageIsDataURI(t *testing.T) {
	h := newHarness(t, 1<<30)
	img := pngBytes(t, 8, 8)
	m := h.fake.AddMessage(1000, &backend.Media{Kind: backend.MediaDocument, Name: "pic.png", Size: int64(len(img)), MimeType: "image/png"}, img)

	uri, err := h.svc.Preview(context.Background(), m.ID, nil)
	if err != nil {
		t.Fatalf("Preview: %v", err)
	}
	if !strings.HasPrefix(uri, "data:image/png;base64,") {
		t.Errorf("uri = %.40q", uri)
	}
}

func TestPreviewQuota(t *testing.T) {
	h := newHarness(t, 3)
	m := h.fake.AddMessage(1000, &backend.Media{Kind: backend.MediaDocument, Name: "notes.txt", Size: 5}, []byte("hello"))

	_, err := h.svc.Preview(context.Background(), m.ID, nil)
	wantKind(t, err, apierr.KindQuotaExceeded)
	if n := h.fake.CallCount("Download"); n != 0 {
		t.Errorf("Download called %d times", n)
	}
}

func TestThumbnailScalesImages(t *testing.T) {
	h := newHarness(t, 1<<30)
	img := pngBytes(t, 800, 400)
	m := h.fake.AddMessage(1000, &backend.Media{Kind: backend.MediaDocument, Name: "wide.png", Size: int64(len(img))}, img)

	uri, err := h.svc.Thumbnail(context.Background(), m.ID, nil)
	if err != nil {
		t.Fatalf("Thumbnail: %v", err)
	}
	if !strings.HasPrefix(uri, "data:image/jpeg;base64,") {
		t.Fatalf("uri = %.40q", uri)
	}

	// A cached thumbnail needs no session at all.
	h.sessions.err = apierr.SessionNotInitialized()
	again, err := h.svc.Thumbnail(context.Background(), m.ID, nil)
	if err != nil {
		t.Fatalf("cached Thumbnail: %v", err)
	}
	if again != uri {
		t.Error("cached thumbnail differs from the generated one")
	}
}

func TestThumbnailRemoteRendition(t *testing.T) {
	h := newHarness(t, 1<<30)
	m := h.fake.AddMessage(1000, &backend.Media{
		Kind: backend.MediaDocument, Name: "movie.mp4", Size: 1 << 20, MimeType: "video/mp4",
		Thumb: &backend.Thumb{Size: 3},
	}, nil)
	h.fake.SetThumb(m.ID, []byte{0xff, 0xd8, 0xff})

	uri, err := h.svc.Thumbnail(context.Background(), m.ID, nil)
	if err != nil {
		t.Fatalf("Thumbnail: %v", err)
	}
	if uri != "data:image/jpeg;base64,/9j/" {
		t.Errorf("uri = %q", uri)
	}
	if h.fake.CallCount("Download") != 0 {
		t.Error("full media downloaded for a video thumbnail")
	}
	if got := h.meter.Stats().DownBytes; got != 3 {
		t.Errorf("down bytes = %d, want 3", got)
	}
}

func TestThumbnailUnavailable(t *testing.T) {
	h := newHarness(t, 1<<30)
	m := h.fake.AddMessage(1000, &backend.Media{Kind: backend.MediaDocument, Name: "data.bin"}, []byte("x"))

	uri, err := h.svc.Thumbnail(context.Background(), m.ID, nil)
	if err != nil || uri != "" {
		t.Errorf("Thumbnail = %q, %v; want empty", uri, err)
	}
}

func TestCleanCache(t *testing.T) {
	h := newHarness(t, 1<<30)
	m := h.fake.AddMessage(1000, &backend.Media{Kind: backend.MediaDocument, Name: "notes.txt", Size: 5}, []byte("hello"))
	path, err := h.svc.Preview(context.Background(), m.ID, nil)
	if err != nil {
		t.Fatal(err)
	}

	if err := h.svc.CleanCache(); err != nil {
		t.Fatalf("CleanCache: %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Errorf("preview survived CleanCache: %v", err)
	}
}

func TestIsNetworkAvailable(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Skipf("cannot listen: %v", err)
	}
	addr := ln.Addr().String()

	h := newHarness(t, 1<<30)
	h.svc.cfg.ProbeAddr = addr
	if !h.svc.IsNetworkAvailable(context.Background()) {
		t.Error("probe against a listening socket failed")
	}

	ln.Close()
	if h.svc.IsNetworkAvailable(context.Background()) {
		t.Error("probe against a closed socket succeeded")
	}
}
