package engine

// Reporter receives progress events during a pass. Implementations
// must be safe for concurrent use: file events arrive from multiple
// transfer workers at once. Events for different hosts interleave when
// hosts run concurrently.
type Reporter interface {
	// PassStarted fires after listing and classification, when the
	// number of files to transfer is known.
	PassStarted(host string, pending int)

	// FileTransferred fires after a file has been fetched, verified
	// and moved into the current tree.
	FileTransferred(host, path string, size int64)

	// FileUnchanged fires for every listed file skipped because its
	// size and mtime match the index.
	FileUnchanged(host, path string)

	// FileFailed fires when a single transfer fails. The pass
	// continues with the remaining files.
	FileFailed(host, path string, err error)

	// SnapshotCreated fires after the current tree has been copied
	// into a new timestamped snapshot directory.
	SnapshotCreated(host, name string)

	// SnapshotPruned fires for every snapshot removed by retention.
	SnapshotPruned(host, name string)

	// PassFinished fires once per host with the final report,
	// regardless of outcome.
	PassFinished(host string, report *HostReport)
}

// NopReporter discards all events. Use in tests and when no console
// output is wanted.
type NopReporter struct{}

func (NopReporter) PassStarted(string, int)               {}
func (NopReporter) FileTransferred(string, string, int64) {}
func (NopReporter) FileUnchanged(string, string)          {}
func (NopReporter) FileFailed(string, string, error)      {}
func (NopReporter) SnapshotCreated(string, string)        {}
func (NopReporter) SnapshotPruned(string, string)         {}
func (NopReporter) PassFinished(string, *HostReport)      {}

// MultiReporter fans events out to several reporters in order.
type MultiReporter []Reporter

func (m MultiReporter) PassStarted(host string, pending int) {
	for _, r := range m {
		r.PassStarted(host, pending)
	}
}

func (m MultiReporter) FileTransferred(host, path string, size int64) {
	for _, r := range m {
		r.FileTransferred(host, path, size)
	}
}

func (m MultiReporter) FileUnchanged(host, path string) {
	for _, r := range m {
		r.FileUnchanged(host, path)
	}
}

func (m MultiReporter) FileFailed(host, path string, err error) {
	for _, r := range m {
		r.FileFailed(host, path, err)
	}
}

func (m MultiReporter) SnapshotCreated(host, name string) {
	for _, r := range m {
		r.SnapshotCreated(host, name)
	}
}

func (m MultiReporter) SnapshotPruned(host, name string) {
	for _, r := range m {
		r.SnapshotPruned(host, name)
	}
}

func (m MultiReporter) PassFinished(host string, report *HostReport) {
	for _, r := range m {
		r.PassFinished(host, report)
	}
}

var (
	_ Reporter = NopReporter{}
	_ Reporter = MultiReporter{}
)
