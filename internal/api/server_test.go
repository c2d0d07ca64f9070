package api

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/caamer20/Telegram-Drive/internal/apierr"
	"github.com/caamer20/Telegram-Drive/internal/auth"
	"github.com/caamer20/Telegram-Drive/internal/backend/backendtest"
	"github.com/caamer20/Telegram-Drive/internal/bandwidth"
	"github.com/caamer20/Telegram-Drive/internal/drive"
	"github.com/caamer20/Telegram-Drive/internal/events"
	"github.com/caamer20/Telegram-Drive/internal/lifecycle"
	"github.com/caamer20/Telegram-Drive/internal/models"
	"github.com/caamer20/Telegram-Drive/internal/preview"
	"github.com/caamer20/Telegram-Drive/internal/protocol"
)

type memStore struct{ data []byte }

func (s *memStore) LoadSession(context.Context) ([]byte, error)    { return s.data, nil }
func (s *memStore) StoreSession(_ context.Context, b []byte) error { s.data = b; return nil }
func (s *memStore) Close() error                                   { return nil }

type testEnv struct {
	ts    *httptest.Server
	token string
	conn  *backendtest.Connector
}

func newTestEnv(t *testing.T, limit int64) *testEnv {
	t.Helper()
	dir := t.TempDir()
	conn := &backendtest.Connector{}
	mgr := lifecycle.New(lifecycle.Config{
		SessionPath:  filepath.Join(dir, "telegram.session"),
		Grace:        time.Second,
		MaxFloodWait: time.Second,
	}, conn, func(context.Context, string) (lifecycle.Store, error) { return &memStore{}, nil })
	t.Cleanup(mgr.Close)

	meter := bandwidth.New(context.Background(), bandwidth.NewFileStore(filepath.Join(dir, "bw.json")), limit)
	ev := events.NewBroadcaster()
	svc := drive.New(drive.Config{ProbeAddr: "127.0.0.1:1", ProbeTimeout: 200 * time.Millisecond},
		mgr, meter, preview.NewCache(filepath.Join(dir, "cache")), ev)
	a, err := auth.New("test-secret", time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	tok, _, err := a.IssueToken("test")
	if err != nil {
		t.Fatal(err)
	}

	ts := httptest.NewServer(NewServer(mgr, svc, a, ev).Handler())
	t.Cleanup(ts.Close)
	return &testEnv{ts: ts, token: tok, conn: conn}
}

func (e *testEnv) do(t *testing.T, method, path string, body any) (*http.Response, []byte) {
	t.Helper()
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, e.ts.URL+path, rd)
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Authorization", "Bearer "+e.token)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	data, _ := io.ReadAll(resp.Body)
	return resp, data
}

func (e *testEnv) connect(t *testing.T) *backendtest.Fake {
	t.Helper()
	resp, body := e.do(t, "POST", "/api/v1/connect", protocol.ConnectRequest{AppID: 42})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("connect: %d %s", resp.StatusCode, body)
	}
	return e.conn.Last()
}

func decodeError(t *testing.T, body []byte) protocol.ErrorResponse {
	t.Helper()
	var er protocol.ErrorResponse
	if err := json.Unmarshal(body, &er); err != nil {
		t.Fatalf("decode error body %q: %v", body, err)
	}
	return er
}

func TestHealthIsPublic(t *testing.T) {
	env := newTestEnv(t, 1<<30)
	resp, err := http.Get(env.ts.URL + "/health")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var h protocol.HealthResponse
	json.NewDecoder(resp.Body).Decode(&h)
	if resp.StatusCode != http.StatusOK || h.Status != "ok" || h.Session {
		t.Errorf("health = %d %+v", resp.StatusCode, h)
	}
}

func TestProtectedRoutesNeedToken(t *testing.T) {
	env := newTestEnv(t, 1<<30)
	resp, err := http.Get(env.ts.URL + "/api/v1/folders")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", resp.StatusCode)
	}
}

func TestSessionNotInitialized(t *testing.T) {
	env := newTestEnv(t, 1<<30)
	resp, body := env.do(t, "GET", "/api/v1/files", nil)
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if er := decodeError(t, body); er.Kind != "session_not_initialized" {
		t.Errorf("kind = %q", er.Kind)
	}

	resp, body = env.do(t, "GET", "/api/v1/connection", nil)
	var c protocol.ConnectionResponse
	json.Unmarshal(body, &c)
	if resp.StatusCode != http.StatusOK || c.Status != "unavailable" {
		t.Errorf("connection = %d %+v", resp.StatusCode, c)
	}
}

func TestFolderAndFileFlow(t *testing.T) {
	env := newTestEnv(t, 1<<30)
	env.connect(t)

	resp, body := env.do(t, "POST", "/api/v1/folders", protocol.FolderRequest{Name: "Work"})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create folder: %d %s", resp.StatusCode, body)
	}
	var folder models.Folder
	json.Unmarshal(body, &folder)

	resp, body = env.do(t, "GET", "/api/v1/folders", nil)
	var fl protocol.FolderListResponse
	json.Unmarshal(body, &fl)
	if resp.StatusCode != http.StatusOK || len(fl.Folders) != 1 || fl.Folders[0].Name != "Work" {
		t.Fatalf("folders = %d %s", resp.StatusCode, body)
	}

	src := filepath.Join(t.TempDir(), "hello.txt")
	os.WriteFile(src, []byte("hello"), 0644)
	folderID := folder.ID
	resp, body = env.do(t, "POST", "/api/v1/files", protocol.UploadRequest{Path: src, FolderID: &folderID})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("upload: %d %s", resp.StatusCode, body)
	}

	q := "?folder_id=" + strconv.FormatInt(folderID, 10)
	resp, body = env.do(t, "GET", "/api/v1/files"+q, nil)
	var files protocol.FileListResponse
	json.Unmarshal(body, &files)
	if resp.StatusCode != http.StatusOK || len(files.Files) != 1 || files.Files[0].Name != "hello.txt" {
		t.Fatalf("files = %d %s", resp.StatusCode, body)
	}
	msgID := files.Files[0].ID

	resp, body = env.do(t, "GET", "/api/v1/files/"+strconv.Itoa(msgID)+"/preview"+q, nil)
	var pv protocol.MessageResponse
	json.Unmarshal(body, &pv)
	if resp.StatusCode != http.StatusOK || !strings.HasSuffix(pv.Result, ".txt") {
		t.Errorf("preview = %d %s", resp.StatusCode, body)
	}

	resp, body = env.do(t, "POST", "/api/v1/files/move", protocol.MoveRequest{
		MessageIDs: []int{msgID}, SourceID: &folderID,
	})
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("move: %d %s", resp.StatusCode, body)
	}

	resp, body = env.do(t, "GET", "/api/v1/files?folder_id=me", nil)
	json.Unmarshal(body, &files)
	if len(files.Files) != 1 {
		t.Fatalf("home files after move = %s", body)
	}

	resp, _ = env.do(t, "DELETE", "/api/v1/files/"+strconv.Itoa(files.Files[0].ID), nil)
	if resp.StatusCode != http.StatusNoContent {
		t.Errorf("delete file: %d", resp.StatusCode)
	}

	resp, body = env.do(t, "GET", "/api/v1/bandwidth", nil)
	var bw protocol.BandwidthResponse
	json.Unmarshal(body, &bw)
	if bw.UpBytes != 5 || bw.DownBytes != 5 || bw.Limit != 1<<30 {
		t.Errorf("bandwidth = %+v", bw)
	}

	resp, _ = env.do(t, "DELETE", "/api/v1/folders/"+strconv.FormatInt(folderID, 10), nil)
	if resp.StatusCode != http.StatusNoContent {
		t.Errorf("delete folder: %d", resp.StatusCode)
	}
}

func TestErrorMapping(t *testing.T) {
	env := newTestEnv(t, 1<<30)
	fake := env.connect(t)

	resp, body := env.do(t, "GET", "/api/v1/files?folder_id=999", nil)
	if resp.StatusCode != http.StatusNotFound || decodeError(t, body).Kind != "peer_not_found" {
		t.Errorf("unknown folder = %d %s", resp.StatusCode, body)
	}

	resp, _ = env.do(t, "GET", "/api/v1/files?folder_id=abc", nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("bad folder id = %d", resp.StatusCode)
	}

	resp, body = env.do(t, "GET", "/api/v1/files/31337/preview", nil)
	if resp.StatusCode != http.StatusNotFound || decodeError(t, body).Kind != "message_not_found" {
		t.Errorf("missing message = %d %s", resp.StatusCode, body)
	}

	fake.SetErr("ForEachDialog", errors.New("FLOOD_WAIT (value: 17)"))
	resp, body = env.do(t, "GET", "/api/v1/folders", nil)
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("flood = %d %s", resp.StatusCode, body)
	}
	if resp.Header.Get("Retry-After") != "17" || decodeError(t, body).RetryAfter != 17 {
		t.Errorf("retry after header %q body %s", resp.Header.Get("Retry-After"), body)
	}

	fake.SetErr("ForEachDialog", errors.New("CHANNELS_TOO_MUCH"))
	resp, body = env.do(t, "GET", "/api/v1/folders", nil)
	if resp.StatusCode != http.StatusBadGateway || decodeError(t, body).Kind != "remote_call_failed" {
		t.Errorf("remote failure = %d %s", resp.StatusCode, body)
	}
}

func TestQuotaMapping(t *testing.T) {
	env := newTestEnv(t, 2)
	env.connect(t)

	src := filepath.Join(t.TempDir(), "big.bin")
	os.WriteFile(src, make([]byte, 10), 0644)
	resp, body := env.do(t, "POST", "/api/v1/files", protocol.UploadRequest{Path: src})
	if resp.StatusCode != http.StatusTooManyRequests || decodeError(t, body).Kind != "quota_exceeded" {
		t.Errorf("quota = %d %s", resp.StatusCode, body)
	}
}

func TestSignInFlow(t *testing.T) {
	env := newTestEnv(t, 1<<30)
	env.conn.Setup = func(f *backendtest.Fake) {
		f.PasswordHint = "pet name"
		f.Password = "rex"
	}

	resp, body := env.do(t, "POST", "/api/v1/auth/code", protocol.CodeRequest{Phone: "+100", AppID: 7, AppHash: ""})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("empty hash = %d %s", resp.StatusCode, body)
	}

	resp, body = env.do(t, "POST", "/api/v1/auth/code", protocol.CodeRequest{Phone: "+100", AppID: 7, AppHash: "h"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("code: %d %s", resp.StatusCode, body)
	}

	resp, body = env.do(t, "POST", "/api/v1/auth/sign-in", protocol.SignInRequest{Code: "12345"})
	var res models.AuthResult
	json.Unmarshal(body, &res)
	if resp.StatusCode != http.StatusOK || res.Success || res.NextStep != models.StepPassword || res.Hint != "pet name" {
		t.Fatalf("sign-in = %d %s", resp.StatusCode, body)
	}

	resp, body = env.do(t, "POST", "/api/v1/auth/password", protocol.PasswordRequest{Password: "rex"})
	json.Unmarshal(body, &res)
	if resp.StatusCode != http.StatusOK || !res.Success || res.NextStep != models.StepDashboard {
		t.Fatalf("password = %d %s", resp.StatusCode, body)
	}

	resp, _ = env.do(t, "POST", "/api/v1/logout", nil)
	if resp.StatusCode != http.StatusOK {
		t.Errorf("logout = %d", resp.StatusCode)
	}
	if n := env.conn.Last().CallCount("LogOut"); n != 1 {
		t.Errorf("LogOut calls = %d", n)
	}
}

func TestLogEndpoint(t *testing.T) {
	env := newTestEnv(t, 1<<30)
	resp, _ := env.do(t, "POST", "/api/v1/log", protocol.LogRequest{Level: "warn", Message: "from ui"})
	if resp.StatusCode != http.StatusNoContent {
		t.Errorf("status = %d", resp.StatusCode)
	}
}

func TestNetworkEndpoint(t *testing.T) {
	env := newTestEnv(t, 1<<30)
	resp, body := env.do(t, "GET", "/api/v1/network", nil)
	var n protocol.NetworkResponse
	if err := json.Unmarshal(body, &n); err != nil || resp.StatusCode != http.StatusOK {
		t.Fatalf("network = %d %s", resp.StatusCode, body)
	}
	if n.Available {
		t.Error("probe to a closed port reported available")
	}
}

func TestEventsStream(t *testing.T) {
	env := newTestEnv(t, 1<<30)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, "GET", env.ts.URL+"/api/v1/events?token="+env.token, nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("Content-Type = %q", ct)
	}

	env.connect(t)

	sc := bufio.NewScanner(resp.Body)
	for sc.Scan() {
		if line := sc.Text(); strings.HasPrefix(line, "event: ") {
			if got := strings.TrimPrefix(line, "event: "); got != events.EventSessionChange {
				t.Errorf("event = %q", got)
			}
			return
		}
	}
	t.Fatalf("stream ended without an event: %v", sc.Err())
}

func TestStatusFor(t *testing.T) {
	tests := map[apierr.Kind]int{
		apierr.KindSessionNotInitialized: http.StatusServiceUnavailable,
		apierr.KindPeerNotFound:          http.StatusNotFound,
		apierr.KindMessageNotFound:       http.StatusNotFound,
		apierr.KindQuotaExceeded:         http.StatusTooManyRequests,
		apierr.KindRateLimited:           http.StatusTooManyRequests,
		apierr.KindRemoteCallFailed:      http.StatusBadGateway,
		apierr.KindLocalIoFailed:         http.StatusInternalServerError,
		apierr.KindInvalidArgument:       http.StatusBadRequest,
		0:                                http.StatusInternalServerError,
	}
	for kind, want := range tests {
		if got := statusFor(kind); got != want {
			t.Errorf("statusFor(%v) = %d, want %d", kind, got, want)
		}
	}
}
