package gitoracle

import (
	"bytes"
	"context"
	"os/exec"
	"strings"
	"testing"

	"github.com/odvcencio/git-remote-qrexec/pkg/object"
)

// requireGit skips the test if the git binary is unavailable; the oracle
// is defined entirely in terms of shelling out to it.
func requireGit(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git binary not available")
	}
}

func initBareRepo(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	cmd := exec.Command("git", "init", "--bare", dir)
	var out bytes.Buffer
	cmd.Stdout, cmd.Stderr = &out, &out
	if err := cmd.Run(); err != nil {
		t.Fatalf("git init --bare: %v\n%s", err, out.String())
	}
	return dir
}

func hashObject(t *testing.T, gitDir, objType string, data []byte) object.ID {
	t.Helper()
	cmd := exec.Command("git", "hash-object", "-w", "-t", objType, "--stdin")
	cmd.Env = append(cmd.Environ(), "GIT_DIR="+gitDir)
	cmd.Stdin = bytes.NewReader(data)
	var out, errOut bytes.Buffer
	cmd.Stdout, cmd.Stderr = &out, &errOut
	if err := cmd.Run(); err != nil {
		t.Fatalf("git hash-object: %v\n%s", err, errOut.String())
	}
	id, err := object.ValidateID(strings.TrimSpace(out.String()))
	if err != nil {
		t.Fatalf("hash-object returned invalid id: %v", err)
	}
	return id
}

func TestOracleExistsAndTypeAndContent(t *testing.T) {
	requireGit(t)
	gitDir := initBareRepo(t)
	blobID := hashObject(t, gitDir, "blob", []byte("hello from the oracle"))

	o := New(gitDir)
	ctx := context.Background()

	if !o.Exists(ctx, blobID) {
		t.Fatal("expected blob to exist")
	}
	if o.Exists(ctx, object.ID(strings.Repeat("f", 40))) {
		t.Fatal("expected unknown id to be reported absent")
	}

	objType, content, err := o.TypeAndContent(ctx, blobID)
	if err != nil {
		t.Fatalf("TypeAndContent: %v", err)
	}
	if objType != object.TypeBlob || string(content) != "hello from the oracle" {
		t.Fatalf("unexpected result: %s %q", objType, content)
	}
}

func TestOracleListTree(t *testing.T) {
	requireGit(t)
	gitDir := initBareRepo(t)
	blobID := hashObject(t, gitDir, "blob", []byte("file contents"))

	treeContent := []byte("100644 blob " + string(blobID) + "\tfile.txt\n")
	cmd := exec.Command("git", "mktree")
	cmd.Env = append(cmd.Environ(), "GIT_DIR="+gitDir)
	cmd.Stdin = bytes.NewReader(treeContent)
	var out, errOut bytes.Buffer
	cmd.Stdout, cmd.Stderr = &out, &errOut
	if err := cmd.Run(); err != nil {
		t.Fatalf("git mktree: %v\n%s", err, errOut.String())
	}
	treeID, err := object.ValidateID(strings.TrimSpace(out.String()))
	if err != nil {
		t.Fatalf("mktree returned invalid id: %v", err)
	}

	o := New(gitDir)
	entries, err := o.ListTree(context.Background(), treeID)
	if err != nil {
		t.Fatalf("ListTree: %v", err)
	}
	if len(entries) != 1 || entries[0].Path != "file.txt" || entries[0].ID != blobID {
		t.Fatalf("unexpected entries: %+v", entries)
	}
}
