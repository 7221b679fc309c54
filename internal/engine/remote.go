package engine

import (
	"context"
	"time"
)

// RemoteFile describes one regular file found on a remote host.
// Path is relative to the listed root and uses forward slashes.
// A zero ModTime means the transport could not determine the
// modification time; such files are always re-fetched.
type RemoteFile struct {
	Path    string
	Size    int64
	ModTime time.Time
}

// Session is an open connection to a single remote host.
// Implementations must support concurrent Fetch calls: the engine
// transfers multiple files over one session at a time.
type Session interface {
	// List recursively enumerates the regular files under root.
	// Directories and special files are not reported. The returned
	// paths are relative to root.
	List(ctx context.Context, root string) ([]RemoteFile, error)

	// Fetch downloads the file at remotePath into localPath, creating
	// or truncating the local file. It returns the number of bytes
	// written. remotePath is a full path (root joined with the listed
	// relative path).
	Fetch(ctx context.Context, remotePath, localPath string) (int64, error)

	// Close releases the connection. After Close no other method may
	// be called.
	Close() error
}

// Dialer opens sessions to remote hosts by profile name. The engine
// never sees addresses or credentials; those stay behind the Dialer.
type Dialer interface {
	Dial(ctx context.Context, host string) (Session, error)
}
