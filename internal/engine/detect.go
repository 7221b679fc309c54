package engine

import (
	"path"
	"sort"
	"strings"
	"time"
)

// Changes is the result of classifying one remote listing against the
// stored index. New, Modified and Unchanged carry the listed files
// (root-relative paths); Deleted carries full index paths, sorted.
// Every listed file lands in exactly one of the first three buckets.
type Changes struct {
	New       []RemoteFile
	Modified  []RemoteFile
	Unchanged []RemoteFile
	Deleted   []string
}

// Pending returns the number of files that need a transfer.
func (c Changes) Pending() int { return len(c.New) + len(c.Modified) }

// Classify compares a remote listing for one root against the host
// index and buckets every file as new, modified or unchanged. A file
// is unchanged only when both size and whole-second mtime match its
// index entry; a missing mtime on either side forces a re-fetch.
// Index entries under root that no longer appear in the listing are
// reported as deleted. Entries under other roots are never touched.
func Classify(root string, listing []RemoteFile, index map[string]IndexEntry) Changes {
	var ch Changes

	seen := make(map[string]bool, len(listing))
	for _, rf := range listing {
		full := JoinRemote(root, rf.Path)
		seen[full] = true

		entry, ok := index[full]
		if !ok {
			ch.New = append(ch.New, rf)
			continue
		}
		if unchanged(rf, entry) {
			ch.Unchanged = append(ch.Unchanged, rf)
		} else {
			ch.Modified = append(ch.Modified, rf)
		}
	}

	for full := range index {
		if !underRoot(full, root) {
			continue
		}
		if !seen[full] {
			ch.Deleted = append(ch.Deleted, full)
		}
	}
	sort.Strings(ch.Deleted)

	return ch
}

// unchanged reports whether the listed file matches its index entry.
// Modification times are compared at whole-second precision; SFTP and
// S3 listings do not agree on sub-second resolution.
func unchanged(rf RemoteFile, entry IndexEntry) bool {
	if rf.ModTime.IsZero() || entry.ModTime.IsZero() {
		return false
	}
	if rf.Size != entry.Size {
		return false
	}
	return rf.ModTime.Truncate(time.Second).Equal(entry.ModTime.Truncate(time.Second))
}

// JoinRemote joins a backup root and a root-relative path into the
// full remote path used as the index key.
func JoinRemote(root, rel string) string {
	return path.Join(root, rel)
}

// underRoot reports whether the full remote path p lies under root.
func underRoot(p, root string) bool {
	root = path.Clean(root)
	if root == "/" {
		return strings.HasPrefix(p, "/")
	}
	return p == root || strings.HasPrefix(p, root+"/")
}
