package telegram

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDownloadFileToEnforcesSizeCap(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.Contains(r.URL.Path, "/file/bot") {
			_, _ = w.Write([]byte(strings.Repeat("x", 1000)))
			return
		}
		http.NotFound(w, r)
	}))
	defer srv.Close()

	c := New(srv.Client(), srv.URL, "TOKEN")
	dst := filepath.Join(t.TempDir(), "img.jpg")

	_, truncated, err := c.DownloadFileTo(context.Background(), "photos/big.jpg", dst, 100)
	if err == nil {
		t.Fatal("expected an error for a file over the cap")
	}
	if !truncated {
		t.Fatal("expected the over-cap flag to be set")
	}
}

func TestDownloadFileToWritesRestrictedPerms(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("image-data"))
	}))
	defer srv.Close()

	c := New(srv.Client(), srv.URL, "TOKEN")
	dst := filepath.Join(t.TempDir(), "img.jpg")

	n, truncated, err := c.DownloadFileTo(context.Background(), "photos/small.jpg", dst, 1<<20)
	if err != nil {
		t.Fatalf("download failed: %v", err)
	}
	if truncated {
		t.Fatal("unexpected truncation")
	}
	if n != int64(len("image-data")) {
		t.Fatalf("wrong byte count: %d", n)
	}
	fi, err := os.Stat(dst)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if fi.Mode().Perm() != 0o600 {
		t.Fatalf("expected 0600 perms, got %o", fi.Mode().Perm())
	}
}

func TestGetUpdatesAdvancesOffset(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"ok":true,"result":[
			{"update_id":10,"message":{"message_id":1,"chat":{"id":5},"text":"a"}},
			{"update_id":12,"message":{"message_id":2,"chat":{"id":5},"text":"b"}}
		]}`))
	}))
	defer srv.Close()

	c := New(srv.Client(), srv.URL, "TOKEN")
	updates, next, err := c.GetUpdates(context.Background(), 0, 0)
	if err != nil {
		t.Fatalf("getUpdates: %v", err)
	}
	if len(updates) != 2 {
		t.Fatalf("expected 2 updates, got %d", len(updates))
	}
	if next != 13 {
		t.Fatalf("expected next offset 13, got %d", next)
	}
}
