// Package helper drives the git remote-helper line protocol on stdin and
// stdout: capabilities, option, list, and fetch, translating each into a
// call against a fetch.Engine. It implements a fetch-only helper — there is
// no push capability, matching spec.md's read-only remote model.
package helper

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/odvcencio/git-remote-qrexec/pkg/fetch"
	"github.com/odvcencio/git-remote-qrexec/pkg/object"
)

// Engine is the subset of fetch.Engine the protocol driver calls.
type Engine interface {
	List(ctx context.Context) ([]object.TagListEntry, error)
	Fetch(ctx context.Context, id object.ID, refname string) (*object.Object, error)
}

var _ Engine = (*fetch.Engine)(nil)

// Driver reads git-remote-helper commands from r and writes protocol
// responses to w. Diagnostics go to log, never to w: stdout is reserved
// entirely for the protocol (spec.md §4.6, §8).
type Driver struct {
	r      *bufio.Reader
	w      io.Writer
	engine Engine
	log    *Logger

	followTags bool
}

// New returns a Driver for one remote-helper invocation. A nil log
// discards diagnostics.
func New(r io.Reader, w io.Writer, engine Engine, log *Logger) *Driver {
	if log == nil {
		log = NewLogger(io.Discard)
	}
	return &Driver{r: bufio.NewReader(r), w: w, engine: engine, log: log}
}

type lineResult struct {
	line string
	err  error
}

// Run executes the command loop until stdin is closed, a blank command line
// ends the session, or a command fails.
// Each read happens on its own goroutine so a context cancellation —
// the enclosing process receiving a signal mid-command — can unblock the
// loop instead of leaving it parked in a blocking read forever.
func (d *Driver) Run(ctx context.Context) error {
	for {
		ch := make(chan lineResult, 1)
		go func() {
			line, err := d.r.ReadString('\n')
			ch <- lineResult{line, err}
		}()

		var res lineResult
		select {
		case <-ctx.Done():
			return ctx.Err()
		case res = <-ch:
		}

		if res.err != nil {
			if res.err == io.EOF && res.line == "" {
				return nil
			}
			return fmt.Errorf("read command: %w", res.err)
		}

		line := strings.TrimRight(res.line, "\n")
		if line == "" {
			return nil
		}

		if err := d.dispatch(ctx, line); err != nil {
			return err
		}
	}
}

func (d *Driver) dispatch(ctx context.Context, line string) error {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		// A whitespace-only line survives the blank-line check in Run
		// (which only strips the trailing "\n"). git never sends one,
		// but an unrecognized/empty command is ignored per spec.md §4.6
		// rather than panicking on fields[0].
		return nil
	}
	switch fields[0] {
	case "capabilities":
		return d.handleCapabilities()
	case "option":
		return d.handleOption(fields)
	case "list":
		return d.handleList(ctx, fields)
	case "fetch":
		return d.handleFetch(ctx, fields)
	default:
		// Unknown commands are ignored and produce no response.
		return nil
	}
}

func (d *Driver) handleCapabilities() error {
	_, err := fmt.Fprint(d.w, "fetch\noption\n\n")
	return err
}

// handleOption accepts "verbosity" and "followtags", acking both with "ok":
// neither is advertised in the capabilities list, but git only sends an
// option after a prior "capabilities" response that didn't forbid it, and
// both are harmless to accept here. "verbosity" adjusts the driver's
// logger level; "followtags" is recorded but never changes fetch
// behavior — this helper always walks everything a fetched commit
// reaches, tag or no tag (the design decision spec.md §9 left open).
// Every other option is reported unsupported.
func (d *Driver) handleOption(fields []string) error {
	if len(fields) < 2 {
		return fmt.Errorf("malformed option command %q", strings.Join(fields, " "))
	}

	switch fields[1] {
	case "verbosity":
		if len(fields) == 3 {
			if n, err := strconv.Atoi(fields[2]); err == nil {
				d.log.SetLevel(n)
			}
		}
		_, err := fmt.Fprint(d.w, "ok\n")
		return err
	case "followtags":
		d.followTags = len(fields) < 3 || fields[2] != "false"
		_, err := fmt.Fprint(d.w, "ok\n")
		return err
	default:
		_, err := fmt.Fprint(d.w, "unsupported\n")
		return err
	}
}

// handleList answers "list" with, for each signed tag, two lines — the tag
// object itself at "refs/tags/<name>" and the commit it points at, peeled,
// at "refs/tags/<name>^{}" — terminated by a blank line (spec.md §4.6).
// "list for-push" is answered with an empty listing: this helper never
// accepts push.
func (d *Driver) handleList(ctx context.Context, fields []string) error {
	if len(fields) > 1 && fields[1] == "for-push" {
		_, err := fmt.Fprint(d.w, "\n")
		return err
	}

	entries, err := d.engine.List(ctx)
	if err != nil {
		return fmt.Errorf("list: %w", err)
	}
	var b strings.Builder
	for _, e := range entries {
		fmt.Fprintf(&b, "%s refs/tags/%s\n", e.TagID, e.TagName)
		fmt.Fprintf(&b, "%s refs/tags/%s^{}\n", e.CommitID, e.TagName)
	}
	b.WriteByte('\n')
	_, err = io.WriteString(d.w, b.String())
	return err
}

// handleFetch consumes the whole batch of consecutive "fetch" lines
// (terminated by a blank line), fetching and verifying each one in turn.
// Any single failure aborts the entire batch: spec.md's fail-closed policy
// never leaves a partially-fetched ref visible to git.
func (d *Driver) handleFetch(ctx context.Context, first []string) error {
	line := first
	for {
		if len(line) != 3 {
			return fmt.Errorf("malformed fetch command %q", strings.Join(line, " "))
		}
		id, err := object.ValidateID(line[1])
		if err != nil {
			return fmt.Errorf("fetch command: %w", err)
		}
		if _, err := d.engine.Fetch(ctx, id, line[2]); err != nil {
			return fmt.Errorf("fetch %s %s: %w", line[1], line[2], err)
		}

		raw, err := d.r.ReadString('\n')
		if err != nil {
			return fmt.Errorf("read command: %w", err)
		}
		next := strings.TrimRight(raw, "\n")
		if next == "" {
			break
		}
		line = strings.Fields(next)
		if len(line) == 0 || line[0] != "fetch" {
			return fmt.Errorf("expected fetch or blank line, got %q", next)
		}
	}

	_, err := fmt.Fprint(d.w, "\n")
	return err
}
