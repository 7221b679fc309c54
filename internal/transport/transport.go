// Package transport implements the remote session backends: sftp for
// servers, s3 for object stores, and an in-memory fake for tests. The
// Dialer picks the backend per host profile; the engine only ever sees
// the engine.Session interface.
package transport

import (
	"path"
	"strings"
	"time"
)

// connectTimeout bounds connection establishment per host.
const connectTimeout = 30 * time.Second

// relUnder returns the root-relative form of a full remote path, and
// whether the path lies under root at all.
func relUnder(root, full string) (string, bool) {
	root = path.Clean(root)
	if root == "/" {
		if !strings.HasPrefix(full, "/") {
			return "", false
		}
		return strings.TrimPrefix(full, "/"), true
	}
	if !strings.HasPrefix(full, root+"/") {
		return "", false
	}
	return strings.TrimPrefix(full, root+"/"), true
}

// ensurePort appends the default SFTP port to an address without one.
func ensurePort(addr string) string {
	if strings.Contains(addr, ":") {
		return addr
	}
	return addr + ":22"
}
