// Package gitoracle asks the local git installation about objects already
// present in the repository. It is treated as an oracle: `type-of(oid)`,
// `read(oid)`, and `list-tree(oid)` are the only questions the fetch engine
// asks of it. A failure to answer the existence question (Exists) is
// interpreted as "not present locally" rather than propagated as a fatal
// error (spec.md §7); failures of TypeAndContent and ListTree are returned
// as errors.
package gitoracle

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/odvcencio/git-remote-qrexec/pkg/object"
)

// Oracle shells out to the local `git` binary scoped to one GIT_DIR.
type Oracle struct {
	gitDir  string
	timeout time.Duration
}

// New returns an Oracle that runs `git` with GIT_DIR set to gitDir.
func New(gitDir string) *Oracle {
	return &Oracle{gitDir: gitDir, timeout: 10 * time.Second}
}

// Exists reports whether id is already a valid object in the local
// database. Any plumbing failure (object not found, corrupt repo) is
// reported as false: per spec.md §7 an oracle failure falls through to a
// remote fetch rather than aborting the operation.
func (o *Oracle) Exists(ctx context.Context, id object.ID) bool {
	_, err := o.run(ctx, "cat-file", "-t", string(id))
	return err == nil
}

// TypeAndContent reads a local object's type and raw content via
// `cat-file`. Used only after Exists has reported the object present.
func (o *Oracle) TypeAndContent(ctx context.Context, id object.ID) (object.ObjectType, []byte, error) {
	typeOut, err := o.run(ctx, "cat-file", "-t", string(id))
	if err != nil {
		return "", nil, fmt.Errorf("oracle type-of %s: %w", id, err)
	}
	objType, err := object.ParseObjectType(strings.TrimSpace(string(typeOut)))
	if err != nil {
		return "", nil, fmt.Errorf("oracle type-of %s: %w", id, err)
	}

	content, err := o.run(ctx, "cat-file", string(objType), string(id))
	if err != nil {
		return "", nil, fmt.Errorf("oracle read %s: %w", id, err)
	}
	return objType, content, nil
}

// ListTree enumerates the direct entries of a tree object via `ls-tree`.
func (o *Oracle) ListTree(ctx context.Context, id object.ID) ([]object.TreeEntry, error) {
	out, err := o.run(ctx, "ls-tree", string(id))
	if err != nil {
		return nil, fmt.Errorf("oracle list-tree %s: %w", id, err)
	}

	var entries []object.TreeEntry
	for _, line := range strings.Split(strings.TrimRight(string(out), "\n"), "\n") {
		if line == "" {
			continue
		}
		entry, err := parseLsTreeLine(line)
		if err != nil {
			return nil, fmt.Errorf("oracle list-tree %s: %w", id, err)
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// parseLsTreeLine parses one line of `git ls-tree` output:
// "<mode> SP <type> SP <id> TAB <path>".
func parseLsTreeLine(line string) (object.TreeEntry, error) {
	tabIdx := strings.IndexByte(line, '\t')
	if tabIdx < 0 {
		return object.TreeEntry{}, fmt.Errorf("malformed ls-tree line %q: no tab", line)
	}
	fields := strings.SplitN(line[:tabIdx], " ", 3)
	if len(fields) != 3 {
		return object.TreeEntry{}, fmt.Errorf("malformed ls-tree line %q: expected 3 fields", line)
	}
	mode := fields[0]
	if _, err := strconv.ParseInt(mode, 8, 32); err != nil {
		return object.TreeEntry{}, fmt.Errorf("malformed ls-tree mode %q: %w", mode, err)
	}
	objType, err := object.ParseObjectType(fields[1])
	if err != nil {
		return object.TreeEntry{}, err
	}
	id, err := object.ValidateID(fields[2])
	if err != nil {
		return object.TreeEntry{}, err
	}
	return object.TreeEntry{
		Mode: mode,
		Type: objType,
		ID:   id,
		Path: line[tabIdx+1:],
	}, nil
}

func (o *Oracle) run(ctx context.Context, args ...string) ([]byte, error) {
	cctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	cmd := exec.CommandContext(cctx, "git", args...)
	cmd.Env = append(os.Environ(), "GIT_DIR="+o.gitDir)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = err.Error()
		}
		return nil, fmt.Errorf("git %s: %s", strings.Join(args, " "), msg)
	}
	return stdout.Bytes(), nil
}
