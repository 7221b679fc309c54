package engine

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"time"
)

// snapshotTimeFormat names snapshot directories so lexical order
// equals chronological order.
const snapshotTimeFormat = "20060102_150405"

// snapshotNamePattern matches snapshot directory names, including the
// numeric suffix used when two passes land in the same second.
var snapshotNamePattern = regexp.MustCompile(`^\d{8}_\d{6}(_\d+)?$`)

// snapshotName returns the snapshot directory name for a pass that
// started at t.
func snapshotName(t time.Time) string {
	return t.Format(snapshotTimeFormat)
}

// uniqueSnapshotName returns base, or base with a zero-padded numeric
// suffix if a snapshot of that name already exists under hostDir. The
// padding keeps lexical order chronological within one second.
func uniqueSnapshotName(hostDir, base string) string {
	name := base
	for n := 2; ; n++ {
		if _, err := os.Stat(filepath.Join(hostDir, name)); os.IsNotExist(err) {
			return name
		}
		name = fmt.Sprintf("%s_%02d", base, n)
	}
}

// createSnapshot copies the current tree into snapDir. A partially
// written snapshot is removed on failure so retention never sees it.
func createSnapshot(currentDir, snapDir string) error {
	if err := copyTree(currentDir, snapDir); err != nil {
		os.RemoveAll(snapDir)
		return err
	}
	return nil
}

// copyTree recursively copies regular files and directories from src
// to dst, preserving file modes.
func copyTree(src, dst string) error {
	return filepath.WalkDir(src, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}

		rel, err := filepath.Rel(src, p)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)

		if d.IsDir() {
			return os.MkdirAll(target, 0755)
		}

		info, err := d.Info()
		if err != nil {
			return err
		}
		if !info.Mode().IsRegular() {
			return nil
		}
		return copyFile(p, target, info.Mode().Perm())
	})
}

func copyFile(src, dst string, perm os.FileMode) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, perm)
	if err != nil {
		return err
	}

	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// listSnapshots returns the snapshot directory names under hostDir in
// ascending (oldest first) order. The current tree and the index file
// are not snapshots and are never included.
func listSnapshots(hostDir string) ([]string, error) {
	entries, err := os.ReadDir(hostDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading backup directory: %w", err)
	}

	var names []string
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if snapshotNamePattern.MatchString(e.Name()) {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

// pruneSnapshots deletes the oldest snapshots under hostDir until at
// most max remain. Deletion is best-effort: a snapshot that cannot be
// removed is skipped and the first error is returned after the rest
// have been tried.
func pruneSnapshots(hostDir string, max int) ([]string, error) {
	names, err := listSnapshots(hostDir)
	if err != nil {
		return nil, err
	}
	if len(names) <= max {
		return nil, nil
	}

	var pruned []string
	var firstErr error
	for _, name := range names[:len(names)-max] {
		if err := os.RemoveAll(filepath.Join(hostDir, name)); err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		pruned = append(pruned, name)
	}
	return pruned, firstErr
}
