// Package walk enumerates the regular files under a directory tree.
package walk

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
)

// Entry holds metadata for a single regular file (no content).
type Entry struct {
	Path     string
	Size     int64
	MTime    int64 // UnixNano
	Inode    int64
	DeviceID *int64
}

// Walk traverses root in lexical order and calls fn for each regular file not
// matched by patterns. Symlinks are neither followed nor yielded; excluded
// directories are skipped entirely. Patterns match the path relative to root.
// Uses Lstat so symlink targets are never read.
func Walk(ctx context.Context, root string, patterns []string, fn func(Entry) error) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if rel, _ := filepath.Rel(root, path); rel != "." && ShouldExclude(rel, patterns) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() || !d.Type().IsRegular() {
			return nil
		}
		info, err := os.Lstat(path)
		if err != nil {
			return err
		}
		return fn(EntryFor(path, info))
	})
}

// EntryFor builds an Entry from already-known file info.
func EntryFor(path string, info os.FileInfo) Entry {
	e := Entry{
		Path:  path,
		Size:  info.Size(),
		MTime: info.ModTime().UnixNano(),
	}
	if inode, dev, ok := inodeAndDev(info); ok {
		e.Inode = inode
		e.DeviceID = &dev
	}
	return e
}
