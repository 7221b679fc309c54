package testutil

import (
	"sync"

	"sbak/internal/engine"
)

// CaptureReporter records every event it receives. Safe for
// concurrent use, as required of engine reporters.
type CaptureReporter struct {
	mu sync.Mutex

	Started     map[string]int // host -> pending count from PassStarted
	Transferred []string       // "host path" in arrival order
	Unchanged   []string
	Failed      []string
	Snapshots   []string // "host name"
	Pruned      []string
	Finished    map[string]*engine.HostReport
}

var _ engine.Reporter = (*CaptureReporter)(nil)

func NewCaptureReporter() *CaptureReporter {
	return &CaptureReporter{
		Started:  make(map[string]int),
		Finished: make(map[string]*engine.HostReport),
	}
}

func (c *CaptureReporter) PassStarted(host string, pending int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Started[host] = pending
}

func (c *CaptureReporter) FileTransferred(host, path string, size int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Transferred = append(c.Transferred, host+" "+path)
}

func (c *CaptureReporter) FileUnchanged(host, path string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Unchanged = append(c.Unchanged, host+" "+path)
}

func (c *CaptureReporter) FileFailed(host, path string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Failed = append(c.Failed, host+" "+path)
}

func (c *CaptureReporter) SnapshotCreated(host, name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Snapshots = append(c.Snapshots, host+" "+name)
}

func (c *CaptureReporter) SnapshotPruned(host, name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Pruned = append(c.Pruned, host+" "+name)
}

func (c *CaptureReporter) PassFinished(host string, report *engine.HostReport) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Finished[host] = report
}

// TransferCount returns how many FileTransferred events were seen.
func (c *CaptureReporter) TransferCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.Transferred)
}
