package sigverify

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/odvcencio/git-remote-qrexec/pkg/object"
)

const armoredSignature = Marker + `
Version: GnuPG v2

iQEcBAABCAAGBQJg1234ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqr
stuvwxyz0123456789+/ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqr
=AbCd
-----END PGP SIGNATURE-----
`

func makeTagObject(t *testing.T, payload string) *object.Object {
	t.Helper()
	content := []byte(payload + armoredSignature)
	header := "tag " + itoaTest(len(content)) + "\x00"
	raw := append([]byte(header), content...)
	sum := sha1.Sum(raw)
	id := object.ID(hex.EncodeToString(sum[:]))
	obj, err := object.Parse(id, raw)
	if err != nil {
		t.Fatalf("parse fixture tag: %v", err)
	}
	return obj
}

func itoaTest(n int) string {
	if n == 0 {
		return "0"
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	return string(buf[i:])
}

func TestSplitSignedTag(t *testing.T) {
	content := []byte("object aaaa\ntype commit\ntag v1\n\n" + armoredSignature)
	payload, sig, err := SplitSignedTag(content)
	if err != nil {
		t.Fatalf("split: %v", err)
	}
	if string(payload) != "object aaaa\ntype commit\ntag v1\n\n" {
		t.Fatalf("unexpected payload: %q", payload)
	}
	if len(sig) == 0 {
		t.Fatal("expected non-empty signature block")
	}
}

func TestSplitSignedTagMissingMarker(t *testing.T) {
	if _, _, err := SplitSignedTag([]byte("no signature here")); err == nil {
		t.Fatal("expected missing marker to fail")
	}
}

func writeScript(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fake-gpgv")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0o755); err != nil {
		t.Fatalf("write fake verifier: %v", err)
	}
	return path
}

func TestVerifyTagFDModeSuccess(t *testing.T) {
	path := writeScript(t, `
cat <&3 >/dev/null
cat <&4 >/dev/null
exit 0
`)
	v := New(path, ModeFD)
	tag := makeTagObject(t, "object aaaa\ntype commit\ntag v1\n\n")

	payload, err := v.VerifyTag(context.Background(), tag, []string{"/keyring.gpg"})
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if string(payload) != "object aaaa\ntype commit\ntag v1\n\n" {
		t.Fatalf("unexpected payload: %q", payload)
	}
}

func TestVerifyTagFDModeFailure(t *testing.T) {
	path := writeScript(t, `
cat <&3 >/dev/null
cat <&4 >/dev/null
exit 1
`)
	v := New(path, ModeFD)
	tag := makeTagObject(t, "object aaaa\ntype commit\ntag v1\n\n")

	_, err := v.VerifyTag(context.Background(), tag, nil)
	if err == nil {
		t.Fatal("expected non-zero verifier exit to fail verification")
	}
	if !errors.Is(err, ErrVerificationFailed) {
		t.Fatalf("expected ErrVerificationFailed, got %v", err)
	}
}

func TestVerifyTagFIFOModeSuccess(t *testing.T) {
	path := writeScript(t, `
shift $(($#-2))
cat "$1" >/dev/null
cat "$2" >/dev/null
exit 0
`)
	v := New(path, ModeFIFO)
	tag := makeTagObject(t, "object bbbb\ntype commit\ntag v2\n\n")

	payload, err := v.VerifyTag(context.Background(), tag, nil)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if string(payload) != "object bbbb\ntype commit\ntag v2\n\n" {
		t.Fatalf("unexpected payload: %q", payload)
	}
}

func TestVerifyTagFIFOModeFailure(t *testing.T) {
	path := writeScript(t, `
shift $(($#-2))
cat "$1" >/dev/null
cat "$2" >/dev/null
exit 1
`)
	v := New(path, ModeFIFO)
	tag := makeTagObject(t, "object bbbb\ntype commit\ntag v2\n\n")

	if _, err := v.VerifyTag(context.Background(), tag, nil); err == nil {
		t.Fatal("expected non-zero verifier exit to fail verification")
	}
}

func TestVerifyTagMissingMarkerFails(t *testing.T) {
	content := []byte("object aaaa\ntype commit\ntag v1\n\nno marker here")
	header := "tag " + itoaTest(len(content)) + "\x00"
	raw := append([]byte(header), content...)
	sum := sha1.Sum(raw)
	id := object.ID(hex.EncodeToString(sum[:]))
	tag, err := object.Parse(id, raw)
	if err != nil {
		t.Fatalf("parse fixture: %v", err)
	}

	v := New("/does/not/matter", ModeFIFO)
	if _, err := v.VerifyTag(context.Background(), tag, nil); err == nil {
		t.Fatal("expected missing marker to fail before invoking the verifier")
	}
}
