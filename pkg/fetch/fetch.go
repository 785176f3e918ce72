// Package fetch implements the Fetch Engine: listing a remote's signed
// tags, fetching and verifying one, and recursively pulling the transitive
// closure of objects it reaches — pruning objects already present locally
// and objects already visited earlier in this session.
package fetch

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/odvcencio/git-remote-qrexec/pkg/gitoracle"
	"github.com/odvcencio/git-remote-qrexec/pkg/object"
	"github.com/odvcencio/git-remote-qrexec/pkg/remoteurl"
	"github.com/odvcencio/git-remote-qrexec/pkg/sigverify"
	"github.com/odvcencio/git-remote-qrexec/pkg/store"
	"github.com/odvcencio/git-remote-qrexec/pkg/transport"
	"github.com/odvcencio/git-remote-qrexec/pkg/trust"
)

const tagRefPrefix = "refs/tags/"

// Caller is the subset of transport.Client the engine needs, so tests can
// supply a fake without shelling out to a real qrexec client.
type Caller interface {
	Call(ctx context.Context, peer, serviceName, repoArg string, input []byte) ([]byte, error)
}

// TagVerifier is the subset of sigverify.Verifier the engine needs.
type TagVerifier interface {
	VerifyTag(ctx context.Context, tag *object.Object, keyrings []string) ([]byte, error)
}

var _ Caller = (*transport.Client)(nil)
var _ TagVerifier = (*sigverify.Verifier)(nil)

// Engine orchestrates one fetch session against one remote.
type Engine struct {
	spec      remoteurl.Spec
	transport Caller
	verifier  TagVerifier
	store     *store.Store
	oracle    *gitoracle.Oracle
	warn      func(string)

	visited map[object.ID]struct{}
}

// New returns an Engine for one remote specification. warn receives
// human-readable warning text for benign conditions (spec.md §7); it may
// be nil, in which case warnings are discarded.
func New(spec remoteurl.Spec, t Caller, v TagVerifier, st *store.Store, oc *gitoracle.Oracle, warn func(string)) *Engine {
	if warn == nil {
		warn = func(string) {}
	}
	return &Engine{
		spec:      spec,
		transport: t,
		verifier:  v,
		store:     st,
		oracle:    oc,
		warn:      warn,
		visited:   make(map[object.ID]struct{}),
	}
}

// List returns the remote's signed-tag listing (spec.md §4.5). It consults
// the head-only or full listing service depending on spec.ListHeadOnly.
// An invalid line aborts the whole listing: partial lists are never
// returned. An empty response under list_head_only is not an error — the
// head commit simply may have no signed tag — and is reported through warn.
func (e *Engine) List(ctx context.Context) ([]object.TagListEntry, error) {
	service := "git.List"
	if e.spec.ListHeadOnly {
		service = "git.ListHeadOnly"
	}

	out, err := e.transport.Call(ctx, e.spec.Peer, service, e.spec.Repo, nil)
	if err != nil {
		return nil, fmt.Errorf("list tags: %w", err)
	}

	trimmed := bytes.TrimRight(out, "\n")
	if len(trimmed) == 0 {
		if e.spec.ListHeadOnly {
			e.warn("remote head has no signed tag pointing at it")
			return nil, nil
		}
		return nil, nil
	}

	var entries []object.TagListEntry
	for _, line := range strings.Split(string(trimmed), "\n") {
		if line == "" {
			continue
		}
		entry, err := parseTagListLine(line)
		if err != nil {
			return nil, fmt.Errorf("list tags: %w", err)
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

func parseTagListLine(line string) (object.TagListEntry, error) {
	fields := strings.SplitN(line, " ", 3)
	if len(fields) != 3 {
		return object.TagListEntry{}, fmt.Errorf("malformed listing line %q", line)
	}
	commitID, err := object.ValidateID(fields[0])
	if err != nil {
		return object.TagListEntry{}, fmt.Errorf("malformed listing line %q: %w", line, err)
	}
	tagID, err := object.ValidateID(fields[1])
	if err != nil {
		return object.TagListEntry{}, fmt.Errorf("malformed listing line %q: %w", line, err)
	}
	tagName, err := object.ValidateTagName(fields[2])
	if err != nil {
		return object.TagListEntry{}, fmt.Errorf("malformed listing line %q: %w", line, err)
	}
	return object.TagListEntry{CommitID: commitID, TagID: tagID, TagName: tagName}, nil
}

// Fetch retrieves, verifies, and stores the tag object at id bound to
// refname, then recursively pulls everything it reaches (spec.md §4.5).
func (e *Engine) Fetch(ctx context.Context, id object.ID, refname string) (*object.Object, error) {
	if !strings.HasPrefix(refname, tagRefPrefix) {
		return nil, fmt.Errorf("fetch %s: refname %q does not begin with %q", id, refname, tagRefPrefix)
	}
	tagName, err := object.ValidateTagName(strings.TrimPrefix(refname, tagRefPrefix))
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", id, err)
	}

	raw, err := e.transport.Call(ctx, e.spec.Peer, "git.Fetch", e.spec.Repo, []byte(id))
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", id, err)
	}
	tag, err := object.Parse(id, raw)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", id, err)
	}
	if tag.Type != object.TypeTag {
		return nil, fmt.Errorf("fetch %s: expected tag object, got %s", id, tag.Type)
	}

	// The SHA-1 content address object.Parse already checked only proves the
	// bytes are the tag they claim to be; it says nothing about who wrote
	// them. tag stays an Untrusted value until the detached signature over
	// it checks out against the remote's configured keyrings (spec.Keyrings) — only
	// then is it fit to hand to the store or to the recursive walk below.
	tag, err = trust.Verify(trust.Wrap(tag), func(t *object.Object) error {
		_, verr := e.verifier.VerifyTag(ctx, t, e.spec.Keyrings)
		return verr
	})
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", id, err)
	}

	if tag.Headers["tag"] != tagName {
		return nil, fmt.Errorf("fetch %s: tag header %q does not match requested ref %q", id, tag.Headers["tag"], tagName)
	}
	if tag.Headers["type"] != string(object.TypeCommit) {
		return nil, fmt.Errorf("fetch %s: tag targets %q, only commit targets are accepted", id, tag.Headers["type"])
	}

	targetID, err := object.ValidateID(tag.Headers["object"])
	if err != nil {
		return nil, fmt.Errorf("fetch %s: tag object header: %w", id, err)
	}

	if err := e.store.Put(tag); err != nil {
		return nil, fmt.Errorf("fetch %s: store tag: %w", id, err)
	}

	if err := e.fetchRecursive(ctx, targetID, object.TypeCommit); err != nil {
		return nil, fmt.Errorf("fetch %s: %w", id, err)
	}

	return tag, nil
}
