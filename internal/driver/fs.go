package driver

import (
	"bytes"
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/cuemby/docrepo/internal/apperr"
)

// immutablePerm and mutablePerm are the file permissions the spec assigns
// to immutable classes (names, documents, contracts) and mutable/staging
// classes (drafts, messages) respectively.
const (
	immutablePerm fs.FileMode = 0o400
	mutablePerm   fs.FileMode = 0o600
	dirPerm       fs.FileMode = 0o700
)

var immutableNamespaces = map[Namespace]bool{
	Names:     true,
	Documents: true,
	Contracts: true,
}

// FSDriver is the local-filesystem storage driver: one file per object at
// <root>/<namespace>/<key>.bali. Writes are atomic via tempfile+rename, and
// every file is framed with a single trailing newline, appended on write and
// stripped on read, matching the wire-format contract of the other drivers.
type FSDriver struct {
	root string
}

// NewFSDriver creates a filesystem driver rooted at root. The root and its
// namespace subdirectories are created lazily by Write, not by this
// constructor.
func NewFSDriver(root string) *FSDriver {
	return &FSDriver{root: root}
}

func (d *FSDriver) path(ns Namespace, key string) string {
	return filepath.Join(d.root, string(ns), filepath.FromSlash(key)+".bali")
}

func (d *FSDriver) permFor(ns Namespace) fs.FileMode {
	if immutableNamespaces[ns] {
		return immutablePerm
	}
	return mutablePerm
}

// Exists, like every other primitive here, ignores digest: a local file has
// no header or metadata slot to carry an integrity hint in, and the caller
// already has the canonical digest on hand if it wants to verify Read's
// output itself.
func (d *FSDriver) Exists(ctx context.Context, ns Namespace, key, digest string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	_, err := os.Stat(d.path(ns, key))
	if err == nil {
		return true, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return false, NewError("driver/fs", "Exists", ns, key, apperr.KindIO, err)
}

func (d *FSDriver) Read(ctx context.Context, ns Namespace, key, digest string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(d.path(ns, key))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, NewError("driver/fs", "Read", ns, key, apperr.KindNotFound, err)
		}
		return nil, NewError("driver/fs", "Read", ns, key, apperr.KindIO, err)
	}
	return bytes.TrimSuffix(data, []byte("\n")), nil
}

func (d *FSDriver) Write(ctx context.Context, ns Namespace, key, digest string, data []byte, allowOverwrite bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p := d.path(ns, key)

	if !allowOverwrite {
		if _, err := os.Stat(p); err == nil {
			return NewError("driver/fs", "Write", ns, key, apperr.KindConflict, fs.ErrExist)
		} else if !errors.Is(err, fs.ErrNotExist) {
			return NewError("driver/fs", "Write", ns, key, apperr.KindIO, err)
		}
	}

	if err := os.MkdirAll(filepath.Dir(p), dirPerm); err != nil {
		return NewError("driver/fs", "Write", ns, key, apperr.KindIO, err)
	}

	framed := append(append([]byte(nil), data...), '\n')
	if err := atomicWrite(p, framed, d.permFor(ns)); err != nil {
		if !allowOverwrite && errors.Is(err, fs.ErrExist) {
			return NewError("driver/fs", "Write", ns, key, apperr.KindConflict, err)
		}
		return NewError("driver/fs", "Write", ns, key, apperr.KindIO, err)
	}
	return nil
}

func (d *FSDriver) Delete(ctx context.Context, ns Namespace, key, digest string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	err := os.Remove(d.path(ns, key))
	if err == nil {
		return true, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return false, NewError("driver/fs", "Delete", ns, key, apperr.KindIO, err)
}

func (d *FSDriver) List(ctx context.Context, ns Namespace, prefix string, maxKeys int) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	root := filepath.Join(d.root, string(ns), filepath.FromSlash(prefix))

	var keys []string
	err := filepath.WalkDir(root, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return filepath.SkipAll
			}
			return err
		}
		if entry.IsDir() {
			return nil
		}
		if !strings.HasSuffix(path, ".bali") {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		rel = strings.TrimSuffix(filepath.ToSlash(rel), ".bali")
		keys = append(keys, rel)
		if maxKeys > 0 && len(keys) >= maxKeys {
			return filepath.SkipAll
		}
		return nil
	})
	if err != nil {
		return nil, NewError("driver/fs", "List", ns, prefix, apperr.KindIO, err)
	}
	sort.Strings(keys)
	return keys, nil
}

// atomicWrite writes data to dst via a temp file in the same directory
// followed by a rename, so readers never observe a torn write. perm is
// applied to the temp file before the rename so the final file carries the
// correct permission from the moment it becomes visible.
func atomicWrite(dst string, data []byte, perm fs.FileMode) error {
	dir := filepath.Dir(dst)
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // no-op once renamed away

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Chmod(perm); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, dst)
}
