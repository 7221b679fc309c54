package engine

import "time"

// HostStatus classifies the outcome of one host's pass.
type HostStatus string

const (
	// StatusSuccess means every root was listed and every needed file
	// was transferred.
	StatusSuccess HostStatus = "success"

	// StatusPartial means the pass produced a usable snapshot but some
	// roots failed to list or some files failed to transfer.
	StatusPartial HostStatus = "partial"

	// StatusFailed means nothing was backed up: the connection failed,
	// no root could be listed, or the pass was canceled. The index and
	// local trees are untouched.
	StatusFailed HostStatus = "failed"
)

// HostReport is the outcome of a single host's pass.
type HostReport struct {
	Host       string
	Status     HostStatus
	StartedAt  time.Time
	FinishedAt time.Time

	// File counts from classification and transfer.
	New       int
	Modified  int
	Unchanged int
	Deleted   int
	Failed    int

	// Bytes actually written to the current tree.
	Bytes int64

	// Snapshot is the name of the snapshot directory created by this
	// pass, empty when the pass failed before snapshotting.
	Snapshot string

	// Pruned lists snapshot directories removed by retention.
	Pruned []string

	// Err is the fatal error for a failed pass (connect failure or
	// cancellation). Nil for success and partial outcomes.
	Err error

	// ListErrors holds one entry per root that could not be listed.
	ListErrors []*ListError

	// TransferErrors holds one entry per file that could not be
	// fetched.
	TransferErrors []*TransferError

	// IndexErr is set when the index could not be saved. The current
	// tree is still valid; the next pass re-fetches what the lost
	// index entries covered.
	IndexErr error

	// RetentionErr is set when the snapshot copy or prune failed after
	// an otherwise good pass.
	RetentionErr error
}

// Duration returns the wall time the pass took.
func (r *HostReport) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

// RunReport aggregates the host reports of one engine run.
type RunReport struct {
	ID         string
	StartedAt  time.Time
	FinishedAt time.Time
	Hosts      []*HostReport
}

// Failed reports whether the run should be treated as failed overall.
// Transfer failures alone do not fail a run; a host that could not be
// reached or whose roots could not be listed does.
func (r *RunReport) Failed() bool {
	for _, h := range r.Hosts {
		if h.Status == StatusFailed || len(h.ListErrors) > 0 {
			return true
		}
	}
	return false
}

// Totals are file counts summed over all hosts of a run.
type Totals struct {
	New       int
	Modified  int
	Unchanged int
	Deleted   int
	Failed    int
	Bytes     int64
}

// Totals sums the per-host counts.
func (r *RunReport) Totals() Totals {
	var t Totals
	for _, h := range r.Hosts {
		t.New += h.New
		t.Modified += h.Modified
		t.Unchanged += h.Unchanged
		t.Deleted += h.Deleted
		t.Failed += h.Failed
		t.Bytes += h.Bytes
	}
	return t
}
