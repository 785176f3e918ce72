// Package store persists verified git objects into a local loose-object
// database and answers "do we already have this object" queries, mirroring
// the fan-out layout and atomic-write discipline git itself uses. Reading
// an object back, for objects already resident locally, is the local
// oracle's job (pkg/gitoracle), not this package's: this tool only ever
// writes here, it never needs to read its own writes back.
package store

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zlib"

	"github.com/odvcencio/git-remote-qrexec/pkg/object"
)

// Store is a content-addressed loose-object store rooted at a GIT_DIR.
// Every write is preceded by verification elsewhere in the pipeline: by the
// time Store.Put is called, the caller holds a *object.Object, which only
// exists once its SHA-1 has already been checked against its ID.
type Store struct {
	gitDir string
}

// New returns a Store rooted at gitDir (the value of the GIT_DIR
// environment variable the enclosing git process supplies).
func New(gitDir string) *Store {
	return &Store{gitDir: gitDir}
}

// path returns "<gitDir>/objects/<xx>/<yy...>" for id.
func (s *Store) path(id object.ID) string {
	return filepath.Join(s.gitDir, "objects", string(id[:2]), string(id[2:]))
}

// Has reports whether id is already present in the local store.
func (s *Store) Has(id object.ID) bool {
	_, err := os.Stat(s.path(id))
	return err == nil
}

// Put compresses obj with zlib and writes it to its fan-out path, creating
// the parent directory if needed. Writes are atomic (temp file + rename)
// and idempotent: an object already on disk is left untouched. Put never
// modifies an existing file, consistent with the append-only local object
// database described in the data model.
func (s *Store) Put(obj *object.Object) error {
	if s.Has(obj.ID) {
		return nil
	}

	dir := filepath.Join(s.gitDir, "objects", string(obj.ID[:2]))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("store put %s: mkdir: %w", obj.ID, err)
	}

	var compressed bytes.Buffer
	zw := zlib.NewWriter(&compressed)
	if _, err := zw.Write(obj.Serialize()); err != nil {
		zw.Close()
		return fmt.Errorf("store put %s: compress: %w", obj.ID, err)
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("store put %s: compress close: %w", obj.ID, err)
	}

	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("store put %s: tmpfile: %w", obj.ID, err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(compressed.Bytes()); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("store put %s: write: %w", obj.ID, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("store put %s: close: %w", obj.ID, err)
	}

	if err := os.Rename(tmpName, s.path(obj.ID)); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("store put %s: rename: %w", obj.ID, err)
	}
	return nil
}
