package session

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	gotdsession "github.com/gotd/td/session"
)

func TestStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "telegram.session")

	s, err := Open(ctx, path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	if _, err := s.LoadSession(ctx); !errors.Is(err, gotdsession.ErrNotFound) {
		t.Fatalf("LoadSession on empty store = %v, want ErrNotFound", err)
	}

	if err := s.StoreSession(ctx, []byte("first")); err != nil {
		t.Fatalf("StoreSession: %v", err)
	}
	if err := s.StoreSession(ctx, []byte("second")); err != nil {
		t.Fatalf("StoreSession: %v", err)
	}
	got, err := s.LoadSession(ctx)
	if err != nil {
		t.Fatalf("LoadSession: %v", err)
	}
	if string(got) != "second" {
		t.Errorf("LoadSession = %q, want second", got)
	}
}

func TestOpenRecoversFromCorruption(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	path := filepath.Join(dir, "telegram.session")

	junk := make([]byte, 8192)
	for i := range junk {
		junk[i] = byte(i*31 + 7)
	}
	if err := os.WriteFile(path, junk, 0600); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path+"-wal", []byte("stale wal"), 0600); err != nil {
		t.Fatal(err)
	}

	s, err := Open(ctx, path)
	if err != nil {
		t.Fatalf("Open should recover, got %v", err)
	}
	defer s.Close()

	if _, err := s.LoadSession(ctx); !errors.Is(err, gotdsession.ErrNotFound) {
		t.Errorf("recovered store should be empty, got %v", err)
	}
	if err := s.StoreSession(ctx, []byte("fresh")); err != nil {
		t.Errorf("StoreSession after recovery: %v", err)
	}
}

func TestRemove(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "telegram.session")
	for _, p := range Files(path)[:2] {
		if err := os.WriteFile(p, []byte("x"), 0600); err != nil {
			t.Fatal(err)
		}
	}

	if err := Remove(path); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	for _, p := range Files(path) {
		if _, err := os.Stat(p); !os.IsNotExist(err) {
			t.Errorf("%s still exists", p)
		}
	}
	if err := Remove(path); err != nil {
		t.Errorf("Remove on missing files: %v", err)
	}
}
