package transport

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/odvcencio/git-remote-qrexec/pkg/config"
)

func writeFakeClient(t *testing.T, script string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fake-qrexec-client")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+script), 0o755); err != nil {
		t.Fatalf("write fake client: %v", err)
	}
	return path
}

func baseConfig(clientPath string) config.Config {
	cfg := config.Default()
	cfg.QrexecClientPath = clientPath
	cfg.QrexecClientDVMPath = ""
	cfg.CallTimeout = 2 * time.Second
	return cfg
}

func TestCallEchoesInputAsOutput(t *testing.T) {
	path := writeFakeClient(t, "cat\n")
	c := New(baseConfig(path))

	out, err := c.Call(context.Background(), "peer-vm", "git.Fetch", "my-repo", []byte("payload bytes"))
	if err != nil {
		t.Fatalf("call: %v", err)
	}
	if string(out) != "payload bytes" {
		t.Fatalf("unexpected output: %q", out)
	}
}

func TestCallNonZeroExitIsFatal(t *testing.T) {
	path := writeFakeClient(t, "exit 1\n")
	c := New(baseConfig(path))

	_, err := c.Call(context.Background(), "peer-vm", "git.List", "my-repo", nil)
	if err == nil {
		t.Fatal("expected non-zero exit to be a fatal error")
	}
	if !errors.Is(err, ErrTransportFailure) {
		t.Fatalf("expected ErrTransportFailure, got %v", err)
	}
}

func TestCallOversizeResponseIsFatal(t *testing.T) {
	path := writeFakeClient(t, "head -c 64 /dev/zero\n")
	cfg := baseConfig(path)
	cfg.MaxBytes = 32
	c := New(cfg)

	_, err := c.Call(context.Background(), "peer-vm", "git.Fetch", "my-repo", nil)
	if err == nil {
		t.Fatal("expected oversize response to be a fatal error")
	}
	if !strings.Contains(err.Error(), "exceeds") {
		t.Fatalf("expected exceeds-bytes error, got %v", err)
	}
}

func TestCallTimeoutIsFatal(t *testing.T) {
	path := writeFakeClient(t, "sleep 5\n")
	cfg := baseConfig(path)
	cfg.CallTimeout = 100 * time.Millisecond
	c := New(cfg)

	_, err := c.Call(context.Background(), "peer-vm", "git.Fetch", "my-repo", nil)
	if err == nil {
		t.Fatal("expected timeout to be a fatal error")
	}
	if !strings.Contains(err.Error(), "timed out") {
		t.Fatalf("expected timeout error, got %v", err)
	}
}

func TestCallNoClientBinaryFound(t *testing.T) {
	cfg := config.Default()
	cfg.QrexecClientPath = "/nonexistent/qrexec-client-vm"
	cfg.QrexecClientDVMPath = "/nonexistent/qrexec-client"
	c := New(cfg)

	if _, err := c.Call(context.Background(), "peer-vm", "git.List", "my-repo", nil); err == nil {
		t.Fatal("expected missing client binary to be an error")
	}
}

func TestCallFallsBackToDVMClient(t *testing.T) {
	path := writeFakeClient(t, "cat\n")
	cfg := config.Default()
	cfg.QrexecClientPath = "/nonexistent/qrexec-client-vm"
	cfg.QrexecClientDVMPath = path
	cfg.CallTimeout = 2 * time.Second
	c := New(cfg)

	out, err := c.Call(context.Background(), "peer-vm", "git.List", "my-repo", []byte("abc"))
	if err != nil {
		t.Fatalf("call: %v", err)
	}
	if string(out) != "abc" {
		t.Fatalf("unexpected output: %q", out)
	}
}
