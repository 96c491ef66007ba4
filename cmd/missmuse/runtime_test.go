package main

import (
	"os"
	"path/filepath"
	"testing"
)

func TestParseAllowedChatIDs(t *testing.T) {
	t.Parallel()

	got, err := parseAllowedChatIDs([]string{" 123 ", "", "-1009876"})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(got) != 2 || got[0] != 123 || got[1] != -1009876 {
		t.Fatalf("unexpected ids: %v", got)
	}

	if _, err := parseAllowedChatIDs([]string{"not-a-number"}); err == nil {
		t.Fatal("expected error for a non-numeric id")
	}
}

func TestExpandHomePath(t *testing.T) {
	t.Parallel()

	home, err := os.UserHomeDir()
	if err != nil {
		t.Skipf("no home dir: %v", err)
	}
	if got := expandHomePath("~/.muse/cache"); got != filepath.Join(home, ".muse/cache") {
		t.Fatalf("got %q", got)
	}
	if got := expandHomePath("/var/cache/muse"); got != "/var/cache/muse" {
		t.Fatalf("absolute paths must pass through, got %q", got)
	}
	if got := expandHomePath("~"); got != home {
		t.Fatalf("bare tilde should expand to home, got %q", got)
	}
}
