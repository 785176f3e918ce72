// Package sigverify splits a signed git tag into its payload and detached
// signature and hands both to an external gpgv-style binary, which is
// treated as opaque: only its exit status (and, for diagnostics, its
// stderr) is consulted.
package sigverify

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"syscall"
	"time"

	"golang.org/x/crypto/openpgp/armor" //nolint:staticcheck // detached-signature framing only; no crypto primitives used here
	"golang.org/x/sync/errgroup"

	"github.com/odvcencio/git-remote-qrexec/pkg/object"
)

// ErrVerificationFailed is wrapped by any VerifyTag failure: a missing
// marker, a malformed armor block, or a non-zero verifier exit. Callers can
// errors.Is against it without parsing message text.
var ErrVerificationFailed = errors.New("signature verification failed")

// Marker is the ASCII boundary between a tag's signed payload and its
// detached OpenPGP signature.
const Marker = "-----BEGIN PGP SIGNATURE-----"

// Mode selects how the payload and signature streams are handed to the
// external verifier.
type Mode int

const (
	// ModeAuto probes the verifier binary's --help output for FD-number
	// support and falls back to the FIFO variant if it is absent or the
	// probe itself fails.
	ModeAuto Mode = iota
	// ModeFD passes two anonymous pipes as inherited file descriptors,
	// named to the verifier by FD number.
	ModeFD
	// ModeFIFO creates two named pipes in a private temp directory and
	// passes their paths, for verifiers that cannot address FDs by
	// number.
	ModeFIFO
)

// Verifier shells out to a gpgv-style binary to check a detached
// signature.
type Verifier struct {
	Path    string
	Mode    Mode
	Timeout time.Duration
}

// New returns a Verifier that invokes the binary at path.
func New(path string, mode Mode) *Verifier {
	return &Verifier{Path: path, Mode: mode, Timeout: 5 * time.Second}
}

// SplitSignedTag locates Marker inside content and splits it into the
// signed payload (everything before the marker) and the detached
// signature block (the marker line onward). It fails if the marker is
// absent — every signed tag this tool accepts must carry one.
func SplitSignedTag(content []byte) (payload, signature []byte, err error) {
	idx := bytes.Index(content, []byte(Marker))
	if idx < 0 {
		return nil, nil, fmt.Errorf("tag content has no %q marker", Marker)
	}
	return content[:idx], content[idx:], nil
}

// VerifyTag splits tag's content at Marker and verifies the detached
// signature against keyrings. On success it returns the verified payload
// bytes (the tag content preceding the signature). Any failure — a
// missing marker, a malformed armor block, a non-zero verifier exit — is a
// verification failure; no partial result is ever returned.
func (v *Verifier) VerifyTag(ctx context.Context, tag *object.Object, keyrings []string) ([]byte, error) {
	payload, signature, err := SplitSignedTag(tag.Content)
	if err != nil {
		return nil, fmt.Errorf("verify tag %s: %w: %w", tag.ID, ErrVerificationFailed, err)
	}

	if _, err := armor.Decode(bytes.NewReader(signature)); err != nil {
		return nil, fmt.Errorf("verify tag %s: %w: malformed armored signature: %w", tag.ID, ErrVerificationFailed, err)
	}

	mode := v.Mode
	if mode == ModeAuto {
		mode = v.detectMode(ctx)
	}

	cctx, cancel := context.WithTimeout(ctx, v.timeout())
	defer cancel()

	var runErr error
	switch mode {
	case ModeFD:
		runErr = v.runFD(cctx, keyrings, signature, payload)
	default:
		runErr = v.runFIFO(cctx, keyrings, signature, payload)
	}
	if runErr != nil {
		return nil, fmt.Errorf("verify tag %s: %w: %w", tag.ID, ErrVerificationFailed, runErr)
	}
	return payload, nil
}

func (v *Verifier) timeout() time.Duration {
	if v.Timeout > 0 {
		return v.Timeout
	}
	return 5 * time.Second
}

// detectMode probes the verifier's --help output for FD-number support.
// A failed probe (binary missing, non-zero exit) defaults to the FIFO
// fallback, which has no special capability requirement.
func (v *Verifier) detectMode(ctx context.Context) Mode {
	cctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	out, err := exec.CommandContext(cctx, v.Path, "--help").CombinedOutput()
	if err != nil {
		return ModeFIFO
	}
	if bytes.Contains(out, []byte("enable-special-filenames")) {
		return ModeFD
	}
	return ModeFIFO
}

func keyringArgs(keyrings []string) []string {
	args := make([]string, 0, len(keyrings))
	for _, k := range keyrings {
		args = append(args, "--keyring="+k)
	}
	return args
}

// runFD feeds signature and payload to the verifier over two anonymous
// pipes, inherited by the child as FD 3 and FD 4. Both streams are written
// from goroutines that run concurrently: the verifier may open its two
// named-by-FD inputs in a fixed order, and writing them sequentially from
// the parent risks a deadlock if that order doesn't match.
func (v *Verifier) runFD(ctx context.Context, keyrings []string, signature, payload []byte) error {
	sigR, sigW, err := os.Pipe()
	if err != nil {
		return fmt.Errorf("create signature pipe: %w", err)
	}
	defer sigR.Close()
	payloadR, payloadW, err := os.Pipe()
	if err != nil {
		sigW.Close()
		return fmt.Errorf("create payload pipe: %w", err)
	}
	defer payloadR.Close()

	args := keyringArgs(keyrings)
	args = append(args, "--enable-special-filenames", "--", "-&3", "-&4")

	cmd := exec.CommandContext(ctx, v.Path, args...)
	cmd.ExtraFiles = []*os.File{sigR, payloadR}
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		sigW.Close()
		payloadW.Close()
		return fmt.Errorf("start verifier: %w", err)
	}
	// The child now holds its own duplicated copies of the read ends.
	sigR.Close()
	payloadR.Close()

	var g errgroup.Group
	g.Go(func() error { return writeAndClose(sigW, signature) })
	g.Go(func() error { return writeAndClose(payloadW, payload) })
	writeErr := g.Wait()

	waitErr := cmd.Wait()
	if waitErr != nil {
		return fmt.Errorf("verifier exited non-zero: %w (stderr: %s)", waitErr, trimmed(stderr.Bytes()))
	}
	if writeErr != nil {
		return fmt.Errorf("feed verifier streams: %w", writeErr)
	}
	return nil
}

// runFIFO feeds signature and payload through two named pipes in a private
// temp directory, for verifiers that cannot address FDs by number.
// Opening a FIFO for writing blocks until a reader opens it, so both
// opens must be attempted concurrently with the verifier's own reads.
func (v *Verifier) runFIFO(ctx context.Context, keyrings []string, signature, payload []byte) error {
	dir, err := os.MkdirTemp("", "qrexec-sigverify-")
	if err != nil {
		return fmt.Errorf("create fifo dir: %w", err)
	}
	defer os.RemoveAll(dir)

	sigPath := filepath.Join(dir, "sig.fifo")
	payloadPath := filepath.Join(dir, "payload.fifo")
	if err := syscall.Mkfifo(sigPath, 0o600); err != nil {
		return fmt.Errorf("create signature fifo: %w", err)
	}
	if err := syscall.Mkfifo(payloadPath, 0o600); err != nil {
		return fmt.Errorf("create payload fifo: %w", err)
	}

	args := keyringArgs(keyrings)
	args = append(args, "--", sigPath, payloadPath)
	cmd := exec.CommandContext(ctx, v.Path, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start verifier: %w", err)
	}

	var g errgroup.Group
	g.Go(func() error { return writeFileAndClose(sigPath, signature) })
	g.Go(func() error { return writeFileAndClose(payloadPath, payload) })
	writeErr := g.Wait()

	waitErr := cmd.Wait()
	if waitErr != nil {
		return fmt.Errorf("verifier exited non-zero: %w (stderr: %s)", waitErr, trimmed(stderr.Bytes()))
	}
	if writeErr != nil {
		return fmt.Errorf("feed verifier streams: %w", writeErr)
	}
	return nil
}

func writeAndClose(w io.WriteCloser, data []byte) error {
	defer w.Close()
	_, err := w.Write(data)
	return err
}

func writeFileAndClose(path string, data []byte) error {
	f, err := os.OpenFile(path, os.O_WRONLY, 0)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()
	_, err = f.Write(data)
	return err
}

func trimmed(b []byte) string {
	s := string(b)
	for len(s) > 0 && (s[len(s)-1] == '\n' || s[len(s)-1] == '\r') {
		s = s[:len(s)-1]
	}
	return s
}
