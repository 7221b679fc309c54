package testutil

import (
	"sbak/internal/transport"
)

// NewTestDialer creates an in-memory dialer with one seeded remote
// registered under host. Returns the dialer and the remote for
// mutation between passes.
func NewTestDialer(host string) (*transport.MemoryDialer, *transport.MemoryRemote) {
	d := transport.NewMemoryDialer()
	return d, d.Add(host)
}
