package transport

import (
	"context"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"sbak/internal/engine"
)

// MemoryRemote is an in-memory fake remote host. Tests seed it with
// files, mutate them between passes, and inject failures at the dial,
// list and fetch stages. All methods are safe for concurrent use.
type MemoryRemote struct {
	mu       sync.RWMutex
	files    map[string]memFile
	dialErr  error
	listErr  map[string]error
	fetchErr map[string]error

	fetchCount int
	onFetch    func()
}

type memFile struct {
	data  []byte
	mtime time.Time
}

// NewMemoryRemote creates an empty fake remote.
func NewMemoryRemote() *MemoryRemote {
	return &MemoryRemote{
		files:    make(map[string]memFile),
		listErr:  make(map[string]error),
		fetchErr: make(map[string]error),
	}
}

// Put creates or replaces a file at the full remote path.
func (r *MemoryRemote) Put(path string, data []byte, mtime time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.files[path] = memFile{data: append([]byte(nil), data...), mtime: mtime}
}

// Remove deletes a file. Removing a missing file is a no-op.
func (r *MemoryRemote) Remove(path string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.files, path)
}

// Touch updates a file's mtime without changing its content.
func (r *MemoryRemote) Touch(path string, mtime time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if f, ok := r.files[path]; ok {
		f.mtime = mtime
		r.files[path] = f
	}
}

// FailDial makes every subsequent dial return err. Pass nil to heal.
func (r *MemoryRemote) FailDial(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.dialErr = err
}

// FailList makes listing the given root return err. Pass nil to heal.
func (r *MemoryRemote) FailList(root string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err == nil {
		delete(r.listErr, root)
		return
	}
	r.listErr[root] = err
}

// FailFetch makes fetching the given full path return err. Pass nil to heal.
func (r *MemoryRemote) FailFetch(path string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err == nil {
		delete(r.fetchErr, path)
		return
	}
	r.fetchErr[path] = err
}

// OnFetch registers a hook run at the start of every fetch, outside
// the remote's lock. Tests use it to cancel mid-pass.
func (r *MemoryRemote) OnFetch(fn func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onFetch = fn
}

// FetchCount returns how many fetches have been served, failed
// attempts included.
func (r *MemoryRemote) FetchCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.fetchCount
}

// memorySession is one open connection to a MemoryRemote.
type memorySession struct {
	remote *MemoryRemote

	mu     sync.Mutex
	closed bool
}

var _ engine.Session = (*memorySession)(nil)

func (s *memorySession) checkOpen() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("session is closed")
	}
	return nil
}

func (s *memorySession) List(ctx context.Context, root string) ([]engine.RemoteFile, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.remote.mu.RLock()
	defer s.remote.mu.RUnlock()

	if err := s.remote.listErr[root]; err != nil {
		return nil, err
	}

	var files []engine.RemoteFile
	for full, f := range s.remote.files {
		rel, ok := relUnder(root, full)
		if !ok {
			continue
		}
		files = append(files, engine.RemoteFile{
			Path:    rel,
			Size:    int64(len(f.data)),
			ModTime: f.mtime,
		})
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Path < files[j].Path })
	return files, nil
}

func (s *memorySession) Fetch(ctx context.Context, remotePath, localPath string) (int64, error) {
	if err := s.checkOpen(); err != nil {
		return 0, err
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.remote.mu.Lock()
	s.remote.fetchCount++
	hook := s.remote.onFetch
	ferr := s.remote.fetchErr[remotePath]
	f, ok := s.remote.files[remotePath]
	s.remote.mu.Unlock()

	if hook != nil {
		hook()
	}

	if ferr != nil {
		return 0, ferr
	}
	if !ok {
		return 0, fmt.Errorf("no such file: %s", remotePath)
	}

	if err := os.WriteFile(localPath, f.data, 0644); err != nil {
		return 0, fmt.Errorf("writing local file: %w", err)
	}
	return int64(len(f.data)), nil
}

func (s *memorySession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// MemoryDialer maps host names to fake remotes.
type MemoryDialer struct {
	mu      sync.Mutex
	remotes map[string]*MemoryRemote
}

var _ engine.Dialer = (*MemoryDialer)(nil)

// NewMemoryDialer creates a dialer with no remotes registered.
func NewMemoryDialer() *MemoryDialer {
	return &MemoryDialer{remotes: make(map[string]*MemoryRemote)}
}

// Add registers a new empty remote under the given host name and
// returns it for seeding.
func (d *MemoryDialer) Add(host string) *MemoryRemote {
	d.mu.Lock()
	defer d.mu.Unlock()
	r := NewMemoryRemote()
	d.remotes[host] = r
	return r
}

// Ensure returns the remote registered for host, creating an empty
// one if needed.
func (d *MemoryDialer) Ensure(host string) *MemoryRemote {
	d.mu.Lock()
	defer d.mu.Unlock()
	if r, ok := d.remotes[host]; ok {
		return r
	}
	r := NewMemoryRemote()
	d.remotes[host] = r
	return r
}

// Dial opens a session to a registered remote.
func (d *MemoryDialer) Dial(_ context.Context, host string) (engine.Session, error) {
	d.mu.Lock()
	r, ok := d.remotes[host]
	d.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("no remote registered for host: %s", host)
	}

	r.mu.RLock()
	dialErr := r.dialErr
	r.mu.RUnlock()
	if dialErr != nil {
		return nil, dialErr
	}

	return &memorySession{remote: r}, nil
}
