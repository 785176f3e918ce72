package fetch

import (
	"context"
	"fmt"

	"github.com/odvcencio/git-remote-qrexec/pkg/object"
)

// gitlinkMode is the `ls-tree` mode string for a submodule reference: a
// commit id in another repository's object space, never fetchable from
// this remote.
const gitlinkMode = "160000"

// workItem is one pending object in the reachability walk, together with
// the type its discoverer (a commit's tree header, or a tree's entry)
// declared it to be.
type workItem struct {
	id   object.ID
	hint object.ObjectType
}

// fetchRecursive walks the transitive closure of start via an explicit
// LIFO work queue (spec.md §4.5): commits push their tree and every parent,
// trees push their non-gitlink entries, blobs and tags are leaves. An
// object already visited this session is pruned without being re-examined.
// An object already present in the local database is not re-fetched or
// re-verified — step 2 reads its type and content straight from the local
// oracle instead — but step 4 still runs for it: its tree/parents (or
// entries) are still pushed, and pruned individually as each is found
// present in turn. This is spec.md §4.5 exactly: step 2's two arms differ
// only in where the Object's bytes come from, not in whether the walk
// descends from it.
func (e *Engine) fetchRecursive(ctx context.Context, start object.ID, startType object.ObjectType) error {
	stack := []workItem{{id: start, hint: startType}}

	for len(stack) > 0 {
		item := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if _, seen := e.visited[item.id]; seen {
			continue
		}
		e.visited[item.id] = struct{}{}

		obj, err := e.resolve(ctx, item)
		if err != nil {
			return err
		}

		switch obj.Type {
		case object.TypeCommit:
			treeID, ok := obj.Headers["tree"]
			if !ok {
				return fmt.Errorf("fetch %s: commit has no tree header", item.id)
			}
			id, err := object.ValidateID(treeID)
			if err != nil {
				return fmt.Errorf("fetch %s: commit tree header: %w", item.id, err)
			}
			stack = append(stack, workItem{id: id, hint: object.TypeTree})
			for _, parent := range obj.Parents {
				stack = append(stack, workItem{id: parent, hint: object.TypeCommit})
			}

		case object.TypeTree:
			entries, err := e.oracle.ListTree(ctx, item.id)
			if err != nil {
				return fmt.Errorf("fetch %s: list tree: %w", item.id, err)
			}
			for _, entry := range entries {
				if entry.Mode == gitlinkMode {
					e.warn(fmt.Sprintf("skipping submodule gitlink %s at %s", entry.ID, entry.Path))
					continue
				}
				stack = append(stack, workItem{id: entry.ID, hint: entry.Type})
			}

		case object.TypeBlob, object.TypeTag:
			// leaves: no further objects to discover.
		}
	}

	return nil
}

// resolve implements spec.md §4.5 step 2: if item is already present in
// the local database, its type and content are read straight from the
// local oracle and built into an Object without touching the remote — the
// local store is trusted, so no SHA-1 recheck is needed. Otherwise it is
// fetched from the remote, SHA-1-verified by object.Parse, checked
// against item's type hint if one was given, and persisted.
func (e *Engine) resolve(ctx context.Context, item workItem) (*object.Object, error) {
	if e.oracle.Exists(ctx, item.id) {
		objType, content, err := e.oracle.TypeAndContent(ctx, item.id)
		if err != nil {
			return nil, fmt.Errorf("fetch %s: %w", item.id, err)
		}
		obj, err := object.FromTrustedContent(item.id, objType, content)
		if err != nil {
			return nil, fmt.Errorf("fetch %s: %w", item.id, err)
		}
		if item.hint != "" && obj.Type != item.hint {
			return nil, fmt.Errorf("fetch %s: expected %s, got %s", item.id, item.hint, obj.Type)
		}
		return obj, nil
	}

	raw, err := e.transport.Call(ctx, e.spec.Peer, "git.Fetch", e.spec.Repo, []byte(item.id))
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", item.id, err)
	}
	obj, err := object.Parse(item.id, raw)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", item.id, err)
	}
	if item.hint != "" && obj.Type != item.hint {
		return nil, fmt.Errorf("fetch %s: expected %s, got %s", item.id, item.hint, obj.Type)
	}
	if err := e.store.Put(obj); err != nil {
		return nil, fmt.Errorf("fetch %s: store: %w", item.id, err)
	}
	return obj, nil
}
