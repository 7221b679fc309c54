package engine

import (
	"testing"
	"time"
)

var detectBase = time.Date(2025, 3, 10, 4, 30, 0, 0, time.UTC)

func TestClassify(t *testing.T) {
	entry := func(full string, size int64, mtime time.Time) IndexEntry {
		return IndexEntry{Path: full, Checksum: "abc", Size: size, ModTime: mtime}
	}

	t.Run("empty index marks everything new", func(t *testing.T) {
		t.Parallel()
		listing := []RemoteFile{
			{Path: "a.txt", Size: 1, ModTime: detectBase},
			{Path: "sub/b.txt", Size: 2, ModTime: detectBase},
		}

		ch := Classify("/data", listing, map[string]IndexEntry{})
		if len(ch.New) != 2 {
			t.Fatalf("New = %d, want 2", len(ch.New))
		}
		if len(ch.Modified) != 0 || len(ch.Unchanged) != 0 || len(ch.Deleted) != 0 {
			t.Errorf("unexpected non-new buckets: %+v", ch)
		}
	})

	t.Run("matching size and mtime is unchanged", func(t *testing.T) {
		t.Parallel()
		index := map[string]IndexEntry{
			"/data/a.txt": entry("/data/a.txt", 10, detectBase),
		}
		listing := []RemoteFile{{Path: "a.txt", Size: 10, ModTime: detectBase}}

		ch := Classify("/data", listing, index)
		if len(ch.Unchanged) != 1 {
			t.Fatalf("Unchanged = %d, want 1", len(ch.Unchanged))
		}
		if len(ch.New) != 0 || len(ch.Modified) != 0 {
			t.Errorf("file classified for transfer despite matching index")
		}
	})

	t.Run("size change is modified", func(t *testing.T) {
		t.Parallel()
		index := map[string]IndexEntry{
			"/data/a.txt": entry("/data/a.txt", 10, detectBase),
		}
		listing := []RemoteFile{{Path: "a.txt", Size: 15, ModTime: detectBase}}

		ch := Classify("/data", listing, index)
		if len(ch.Modified) != 1 {
			t.Fatalf("Modified = %d, want 1", len(ch.Modified))
		}
	})

	t.Run("mtime change is modified", func(t *testing.T) {
		t.Parallel()
		index := map[string]IndexEntry{
			"/data/a.txt": entry("/data/a.txt", 10, detectBase),
		}
		listing := []RemoteFile{{Path: "a.txt", Size: 10, ModTime: detectBase.Add(3 * time.Second)}}

		ch := Classify("/data", listing, index)
		if len(ch.Modified) != 1 {
			t.Fatalf("Modified = %d, want 1", len(ch.Modified))
		}
	})

	t.Run("sub-second mtime drift is unchanged", func(t *testing.T) {
		t.Parallel()
		index := map[string]IndexEntry{
			"/data/a.txt": entry("/data/a.txt", 10, detectBase),
		}
		listing := []RemoteFile{{Path: "a.txt", Size: 10, ModTime: detectBase.Add(400 * time.Millisecond)}}

		ch := Classify("/data", listing, index)
		if len(ch.Unchanged) != 1 {
			t.Fatalf("Unchanged = %d, want 1; sub-second drift should not trigger a re-fetch", len(ch.Unchanged))
		}
	})

	t.Run("missing mtime forces re-fetch", func(t *testing.T) {
		t.Parallel()
		index := map[string]IndexEntry{
			"/data/a.txt": entry("/data/a.txt", 10, detectBase),
			"/data/b.txt": entry("/data/b.txt", 5, time.Time{}),
		}
		listing := []RemoteFile{
			{Path: "a.txt", Size: 10},
			{Path: "b.txt", Size: 5, ModTime: detectBase},
		}

		ch := Classify("/data", listing, index)
		if len(ch.Modified) != 2 {
			t.Fatalf("Modified = %d, want 2 (zero mtimes must not look unchanged)", len(ch.Modified))
		}
	})

	t.Run("indexed files absent from listing are deleted", func(t *testing.T) {
		t.Parallel()
		index := map[string]IndexEntry{
			"/data/keep.txt": entry("/data/keep.txt", 1, detectBase),
			"/data/z.txt":    entry("/data/z.txt", 2, detectBase),
			"/data/a.txt":    entry("/data/a.txt", 3, detectBase),
		}
		listing := []RemoteFile{{Path: "keep.txt", Size: 1, ModTime: detectBase}}

		ch := Classify("/data", listing, index)
		if len(ch.Deleted) != 2 {
			t.Fatalf("Deleted = %d, want 2", len(ch.Deleted))
		}
		if ch.Deleted[0] != "/data/a.txt" || ch.Deleted[1] != "/data/z.txt" {
			t.Errorf("Deleted = %v, want sorted [/data/a.txt /data/z.txt]", ch.Deleted)
		}
	})

	t.Run("entries under other roots are not deleted", func(t *testing.T) {
		t.Parallel()
		index := map[string]IndexEntry{
			"/data/a.txt": entry("/data/a.txt", 1, detectBase),
			"/logs/x.log": entry("/logs/x.log", 2, detectBase),
		}

		ch := Classify("/data", nil, index)
		if len(ch.Deleted) != 1 || ch.Deleted[0] != "/data/a.txt" {
			t.Errorf("Deleted = %v, want only /data/a.txt", ch.Deleted)
		}
	})

	t.Run("every listed file lands in exactly one bucket", func(t *testing.T) {
		t.Parallel()
		index := map[string]IndexEntry{
			"/data/same.txt": entry("/data/same.txt", 4, detectBase),
			"/data/big.txt":  entry("/data/big.txt", 9, detectBase),
		}
		listing := []RemoteFile{
			{Path: "same.txt", Size: 4, ModTime: detectBase},
			{Path: "big.txt", Size: 100, ModTime: detectBase},
			{Path: "fresh.txt", Size: 7, ModTime: detectBase},
		}

		ch := Classify("/data", listing, index)
		if got := len(ch.New) + len(ch.Modified) + len(ch.Unchanged); got != len(listing) {
			t.Errorf("buckets cover %d files, want %d", got, len(listing))
		}
		if ch.Pending() != 2 {
			t.Errorf("Pending() = %d, want 2", ch.Pending())
		}
	})
}

func TestJoinRemote(t *testing.T) {
	tests := []struct {
		name string
		root string
		rel  string
		want string
	}{
		{name: "absolute root", root: "/var/www", rel: "css/site.css", want: "/var/www/css/site.css"},
		{name: "root is slash", root: "/", rel: "a.txt", want: "/a.txt"},
		{name: "relative root", root: "images", rel: "2024/a.png", want: "images/2024/a.png"},
		{name: "trailing slash on root", root: "/data/", rel: "a.txt", want: "/data/a.txt"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := JoinRemote(tt.root, tt.rel); got != tt.want {
				t.Errorf("JoinRemote(%q, %q) = %q, want %q", tt.root, tt.rel, got, tt.want)
			}
		})
	}
}

func TestUnderRoot(t *testing.T) {
	tests := []struct {
		name string
		path string
		root string
		want bool
	}{
		{name: "direct child", path: "/data/a.txt", root: "/data", want: true},
		{name: "nested child", path: "/data/sub/a.txt", root: "/data", want: true},
		{name: "sibling with shared prefix", path: "/database/a.txt", root: "/data", want: false},
		{name: "outside root", path: "/etc/passwd", root: "/data", want: false},
		{name: "root itself", path: "/data", root: "/data", want: true},
		{name: "slash root", path: "/anything", root: "/", want: true},
		{name: "relative root", path: "images/a.png", root: "images", want: true},
		{name: "escaped relative root", path: "../a.png", root: "images", want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := underRoot(tt.path, tt.root); got != tt.want {
				t.Errorf("underRoot(%q, %q) = %v, want %v", tt.path, tt.root, got, tt.want)
			}
		})
	}
}
