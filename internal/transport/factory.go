package transport

import (
	"context"
	"fmt"

	"sbak/internal/config"
	"sbak/internal/engine"
)

// Dialer opens sessions for configured hosts, choosing the backend
// from each host's protocol.
type Dialer struct {
	hosts  map[string]config.HostConfig
	memory *MemoryDialer
}

var _ engine.Dialer = (*Dialer)(nil)

// NewDialer creates a Dialer for the given host profiles.
func NewDialer(hosts []config.HostConfig) *Dialer {
	byName := make(map[string]config.HostConfig, len(hosts))
	for _, h := range hosts {
		byName[h.Name] = h
	}
	return &Dialer{
		hosts:  byName,
		memory: NewMemoryDialer(),
	}
}

// Dial opens a session to the named host.
func (d *Dialer) Dial(ctx context.Context, host string) (engine.Session, error) {
	hc, ok := d.hosts[host]
	if !ok {
		return nil, fmt.Errorf("unknown host: %s", host)
	}

	switch hc.Protocol {
	case "sftp":
		return dialSFTP(ctx, hc)
	case "s3":
		return dialS3(ctx, hc)
	case "memory":
		d.memory.Ensure(host)
		return d.memory.Dial(ctx, host)
	default:
		return nil, fmt.Errorf("unknown protocol: %s", hc.Protocol)
	}
}
