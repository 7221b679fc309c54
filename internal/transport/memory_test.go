package transport

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestMemoryRemote_ListScopesToRoot(t *testing.T) {
	mtime := time.Date(2025, 3, 10, 4, 30, 0, 0, time.UTC)

	d := NewMemoryDialer()
	r := d.Add("web1")
	r.Put("/var/www/index.html", []byte("<html>"), mtime)
	r.Put("/var/www/css/site.css", []byte("body{}"), mtime)
	r.Put("/etc/nginx/nginx.conf", []byte("server{}"), mtime)

	sess, err := d.Dial(context.Background(), "web1")
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer sess.Close()

	files, err := sess.List(context.Background(), "/var/www")
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(files) != 2 {
		t.Fatalf("List() returned %d files, want 2", len(files))
	}
	// Sorted by relative path.
	if files[0].Path != "css/site.css" || files[1].Path != "index.html" {
		t.Errorf("paths = [%s %s], want sorted relative paths", files[0].Path, files[1].Path)
	}
	if files[1].Size != 6 {
		t.Errorf("index.html size = %d, want 6", files[1].Size)
	}
	if !files[0].ModTime.Equal(mtime) {
		t.Errorf("mtime = %v, want %v", files[0].ModTime, mtime)
	}
}

func TestMemoryRemote_Fetch(t *testing.T) {
	d := NewMemoryDialer()
	r := d.Add("web1")
	r.Put("/data/a.txt", []byte("hello"), time.Now())

	sess, err := d.Dial(context.Background(), "web1")
	if err != nil {
		t.Fatal(err)
	}
	defer sess.Close()

	local := filepath.Join(t.TempDir(), "a.txt")
	n, err := sess.Fetch(context.Background(), "/data/a.txt", local)
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if n != 5 {
		t.Errorf("Fetch() = %d bytes, want 5", n)
	}

	data, err := os.ReadFile(local)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "hello" {
		t.Errorf("local content = %q, want %q", data, "hello")
	}

	if _, err := sess.Fetch(context.Background(), "/data/missing.txt", local); err == nil {
		t.Error("Fetch() of missing file should fail")
	}
}

func TestMemoryRemote_FailureInjection(t *testing.T) {
	t.Run("dial failure", func(t *testing.T) {
		d := NewMemoryDialer()
		r := d.Add("web1")
		r.FailDial(errors.New("connection refused"))

		if _, err := d.Dial(context.Background(), "web1"); err == nil {
			t.Fatal("Dial() should fail")
		}

		r.FailDial(nil)
		if _, err := d.Dial(context.Background(), "web1"); err != nil {
			t.Errorf("Dial() after heal error = %v", err)
		}
	})

	t.Run("list failure is per root", func(t *testing.T) {
		d := NewMemoryDialer()
		r := d.Add("web1")
		r.Put("/data/a.txt", []byte("x"), time.Now())
		r.Put("/logs/b.log", []byte("y"), time.Now())
		r.FailList("/logs", errors.New("permission denied"))

		sess, err := d.Dial(context.Background(), "web1")
		if err != nil {
			t.Fatal(err)
		}
		defer sess.Close()

		if _, err := sess.List(context.Background(), "/logs"); err == nil {
			t.Error("List(/logs) should fail")
		}
		if _, err := sess.List(context.Background(), "/data"); err != nil {
			t.Errorf("List(/data) error = %v, want nil", err)
		}
	})

	t.Run("fetch failure is per file", func(t *testing.T) {
		d := NewMemoryDialer()
		r := d.Add("web1")
		r.Put("/data/a.txt", []byte("x"), time.Now())
		r.Put("/data/b.txt", []byte("y"), time.Now())
		r.FailFetch("/data/a.txt", errors.New("io timeout"))

		sess, err := d.Dial(context.Background(), "web1")
		if err != nil {
			t.Fatal(err)
		}
		defer sess.Close()

		dir := t.TempDir()
		if _, err := sess.Fetch(context.Background(), "/data/a.txt", filepath.Join(dir, "a")); err == nil {
			t.Error("Fetch(a.txt) should fail")
		}
		if _, err := sess.Fetch(context.Background(), "/data/b.txt", filepath.Join(dir, "b")); err != nil {
			t.Errorf("Fetch(b.txt) error = %v, want nil", err)
		}
	})
}

func TestMemorySession_ClosedSession(t *testing.T) {
	d := NewMemoryDialer()
	d.Add("web1")

	sess, err := d.Dial(context.Background(), "web1")
	if err != nil {
		t.Fatal(err)
	}
	if err := sess.Close(); err != nil {
		t.Fatal(err)
	}

	if _, err := sess.List(context.Background(), "/data"); err == nil {
		t.Error("List() on closed session should fail")
	}
	if _, err := sess.Fetch(context.Background(), "/data/a.txt", filepath.Join(t.TempDir(), "a")); err == nil {
		t.Error("Fetch() on closed session should fail")
	}
}

func TestMemoryDialer_UnknownHost(t *testing.T) {
	d := NewMemoryDialer()
	if _, err := d.Dial(context.Background(), "ghost"); err == nil {
		t.Error("Dial() of unregistered host should fail")
	}
}

func TestMemorySession_CanceledContext(t *testing.T) {
	d := NewMemoryDialer()
	r := d.Add("web1")
	r.Put("/data/a.txt", []byte("x"), time.Now())

	sess, err := d.Dial(context.Background(), "web1")
	if err != nil {
		t.Fatal(err)
	}
	defer sess.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := sess.List(ctx, "/data"); err == nil {
		t.Error("List() with canceled context should fail")
	}
	if _, err := sess.Fetch(ctx, "/data/a.txt", filepath.Join(t.TempDir(), "a")); err == nil {
		t.Error("Fetch() with canceled context should fail")
	}
}
