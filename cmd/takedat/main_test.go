package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ssd-technologies/takedat/internal/config"
)

func testConfig(t *testing.T) *config.Client {
	t.Helper()
	return &config.Client{
		ServerURL:   "ftp://relay.invalid",
		ChunkSize:   64,
		AckTimeout:  time.Second,
		DownloadDir: t.TempDir(),
	}
}

func TestCommandsReturnErrors(t *testing.T) {
	cfg := testConfig(t)

	if err := cmdSend(cfg, nil); err == nil {
		t.Fatal("send without a file succeeded")
	}
	missing := filepath.Join(t.TempDir(), "missing.bin")
	if err := cmdSend(cfg, []string{missing}); !os.IsNotExist(err) {
		t.Fatalf("send missing file: err = %v", err)
	}

	// The file opens fine; the server URL is rejected afterwards.
	path := filepath.Join(t.TempDir(), "a.txt")
	if err := os.WriteFile(path, []byte("hello"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := cmdSend(cfg, []string{path}); err == nil || !strings.Contains(err.Error(), "ftp") {
		t.Fatalf("send with bad server: err = %v", err)
	}

	if err := cmdReceive(cfg, nil); err == nil {
		t.Fatal("receive without a code succeeded")
	}
	if err := cmdReceive(cfg, []string{"ABC-123"}); err == nil {
		t.Fatal("receive with bad server succeeded")
	}
	if err := cmdInfo(cfg, []string{"AB"}); err == nil || !strings.Contains(err.Error(), "not a complete code") {
		t.Fatalf("info with short code: err = %v", err)
	}
}
