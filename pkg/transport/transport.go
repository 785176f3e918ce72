// Package transport issues named RPC calls across the qrexec boundary by
// shelling out to whichever qrexec client binary is present on disk. The
// remote peer is never trusted: responses are bounded in size and the call
// is bounded in time, and both limits turn into fatal errors rather than
// partial results.
package transport

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"time"

	"github.com/odvcencio/git-remote-qrexec/pkg/config"
)

// ErrTransportFailure is wrapped by any Call failure: no client binary
// found, a non-zero child exit, an oversize response, or a timeout.
// Callers can errors.Is against it without parsing message text.
var ErrTransportFailure = errors.New("qrexec transport failure")

// Client issues Call(service, repo-argument, input) against one peer,
// probing for an externally-configured qrexec client program.
type Client struct {
	cfg config.Config
}

// New returns a Client configured from cfg.
func New(cfg config.Config) *Client {
	return &Client{cfg: cfg}
}

// Call constructs the full service identifier "<service>+<repoArg>" and
// invokes it against peer, feeding input (if any) to the child's stdin and
// reading its stdout until EOF, up to cfg.MaxBytes. The call must complete
// within cfg.CallTimeout. A non-zero child exit is a fatal error wrapping
// ErrTransportFailure: the RPC layer conveys remote policy denials this
// way (spec.md §4.3).
func (c *Client) Call(ctx context.Context, peer, serviceName, repoArg string, input []byte) ([]byte, error) {
	full := serviceName + "+" + repoArg

	name, args, err := c.probe(peer, full)
	if err != nil {
		return nil, err
	}

	cctx, cancel := context.WithTimeout(ctx, c.callTimeout())
	defer cancel()

	cmd := exec.CommandContext(cctx, name, args...)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("transport call %s: stdin pipe: %w", full, err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("transport call %s: stdout pipe: %w", full, err)
	}
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("transport call %s: start: %w", full, err)
	}

	// Stdin is fed from a goroutine so a large input and a large response
	// can be in flight at the same time without deadlocking on the
	// child's pipe buffers.
	writeErrCh := make(chan error, 1)
	go func() {
		defer stdin.Close()
		if len(input) == 0 {
			writeErrCh <- nil
			return
		}
		_, werr := stdin.Write(input)
		writeErrCh <- werr
	}()

	limit := c.maxBytes()
	limited := io.LimitReader(stdout, limit+1)
	output, readErr := io.ReadAll(limited)
	writeErr := <-writeErrCh
	waitErr := cmd.Wait()

	if cctx.Err() == context.DeadlineExceeded {
		return nil, fmt.Errorf("transport call %s: %w: timed out after %s", full, ErrTransportFailure, c.callTimeout())
	}
	if readErr != nil {
		return nil, fmt.Errorf("transport call %s: %w: read response: %w", full, ErrTransportFailure, readErr)
	}
	if int64(len(output)) > limit {
		return nil, fmt.Errorf("transport call %s: %w: response exceeds %d bytes", full, ErrTransportFailure, limit)
	}
	if writeErr != nil {
		return nil, fmt.Errorf("transport call %s: %w: write input: %w", full, ErrTransportFailure, writeErr)
	}
	if waitErr != nil {
		msg := bytesTrim(stderr.Bytes())
		if msg == "" {
			return nil, fmt.Errorf("transport call %s: %w: %w", full, ErrTransportFailure, waitErr)
		}
		return nil, fmt.Errorf("transport call %s: %w: %w: %s", full, ErrTransportFailure, waitErr, msg)
	}
	return output, nil
}

// probe returns the command name and argv for whichever configured qrexec
// client binary exists on disk, preferring the direct (peer, service) form
// over the "-d" DVM form.
func (c *Client) probe(peer, fullService string) (string, []string, error) {
	if path := c.cfg.QrexecClientPath; path != "" {
		if fileExists(path) {
			return path, []string{peer, fullService}, nil
		}
	}
	if path := c.cfg.QrexecClientDVMPath; path != "" {
		if fileExists(path) {
			return path, []string{"-d", peer, "DEFAULT:QUBESRPC " + fullService + " dom0"}, nil
		}
	}
	return "", nil, fmt.Errorf("transport call %s: %w: no qrexec client binary found (checked %q, %q)",
		fullService, ErrTransportFailure, c.cfg.QrexecClientPath, c.cfg.QrexecClientDVMPath)
}

func (c *Client) maxBytes() int64 {
	if c.cfg.MaxBytes > 0 {
		return c.cfg.MaxBytes
	}
	return config.DefaultMaxBytes
}

func (c *Client) callTimeout() time.Duration {
	if c.cfg.CallTimeout > 0 {
		return c.cfg.CallTimeout
	}
	return config.DefaultCallTimeout
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

func bytesTrim(b []byte) string {
	s := string(b)
	for len(s) > 0 && (s[len(s)-1] == '\n' || s[len(s)-1] == '\r' || s[len(s)-1] == ' ') {
		s = s[:len(s)-1]
	}
	return s
}
