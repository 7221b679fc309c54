// Package engine implements the incremental backup pass: change
// detection against a per-host hash index, materialization of remote
// files into a local current tree, and timestamped snapshot retention.
//
// On disk each host owns one directory under the backup root:
//
//	<backup_root>/<host>/
//	  index.json        (hash index, managed by the IndexStore)
//	  current/          (live mirror of the remote trees)
//	  20250310_043000/  (immutable snapshots, oldest pruned first)
//
// Transports, index persistence, logging and time are all behind
// interfaces so passes are testable without a network or a real clock.
package engine

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/sync/errgroup"
)

// Host is the engine's view of one host profile: its name, the remote
// roots to back up and the merged exclusion patterns. Connection
// details stay behind the Dialer.
type Host struct {
	Name    string
	Roots   []string
	Exclude []string
}

// Options holds the run-wide tunables of an Engine.
type Options struct {
	// BackupRoot is the local directory that holds one subdirectory
	// per host.
	BackupRoot string

	// MaxVersions bounds the number of snapshots kept per host.
	MaxVersions int

	// DeleteRemoved mirrors remote deletions into the current tree.
	// When false, locally materialized copies of deleted files stay.
	DeleteRemoved bool

	// HostWorkers bounds how many hosts run concurrently.
	HostWorkers int

	// TransferWorkers bounds concurrent fetches per host.
	TransferWorkers int
}

// Engine runs backup passes against a set of configured hosts.
type Engine struct {
	hosts    []Host
	dialer   Dialer
	store    IndexStore
	opts     Options
	reporter Reporter
	logger   Logger
	clock    Clock
	idgen    IDGenerator
}

// New creates an Engine. reporter, logger, clock and idgen must be
// non-nil; use NopReporter, NopLogger, RealClock and UUIDGenerator
// where no real implementation is wanted. Worker counts and
// MaxVersions are clamped to at least 1.
func New(hosts []Host, dialer Dialer, store IndexStore, opts Options, reporter Reporter, logger Logger, clock Clock, idgen IDGenerator) *Engine {
	if opts.MaxVersions < 1 {
		opts.MaxVersions = 1
	}
	if opts.HostWorkers < 1 {
		opts.HostWorkers = 1
	}
	if opts.TransferWorkers < 1 {
		opts.TransferWorkers = 1
	}

	return &Engine{
		hosts:    hosts,
		dialer:   dialer,
		store:    store,
		opts:     opts,
		reporter: reporter,
		logger:   logger,
		clock:    clock,
		idgen:    idgen,
	}
}

// Run executes one pass for the named hosts, or for every configured
// host when no names are given. Hosts run concurrently up to
// Options.HostWorkers; one host's failure never interrupts another.
// The returned error covers setup problems only (an unknown host
// name); per-host outcomes are in the report.
func (e *Engine) Run(ctx context.Context, hosts ...string) (*RunReport, error) {
	selected, err := e.selectHosts(hosts)
	if err != nil {
		return nil, err
	}

	report := &RunReport{
		ID:        e.idgen.New(),
		StartedAt: e.clock.Now(),
	}
	e.logger.Info("run started", "run_id", report.ID, "hosts", len(selected))

	results := make([]*HostReport, len(selected))
	var g errgroup.Group
	g.SetLimit(e.opts.HostWorkers)
	for i, host := range selected {
		g.Go(func() error {
			results[i] = e.backupHost(ctx, host)
			return nil
		})
	}
	g.Wait()

	report.Hosts = results
	report.FinishedAt = e.clock.Now()

	t := report.Totals()
	e.logger.Info("run finished",
		"run_id", report.ID,
		"new", t.New, "modified", t.Modified, "unchanged", t.Unchanged,
		"deleted", t.Deleted, "failed", t.Failed, "bytes", t.Bytes)

	return report, nil
}

// selectHosts resolves requested host names against the configured
// set, preserving configuration order. No names selects every host.
func (e *Engine) selectHosts(names []string) ([]Host, error) {
	if len(names) == 0 {
		return e.hosts, nil
	}

	byName := make(map[string]Host, len(e.hosts))
	for _, h := range e.hosts {
		byName[h.Name] = h
	}

	seen := make(map[string]bool, len(names))
	var selected []Host
	for _, name := range names {
		h, ok := byName[name]
		if !ok {
			return nil, fmt.Errorf("unknown host: %s", name)
		}
		if seen[name] {
			continue
		}
		seen[name] = true
		selected = append(selected, h)
	}
	return selected, nil
}

// fetchItem is one planned transfer.
type fetchItem struct {
	full string // full remote path, index key
	file RemoteFile
}

// fetchResult is the outcome of one transfer.
type fetchResult struct {
	entry IndexEntry
	err   error
}

// backupHost runs the pass for a single host: list and classify every
// root, fetch what changed, then flush the index and snapshot the
// current tree. All errors are captured in the returned report.
func (e *Engine) backupHost(ctx context.Context, host Host) *HostReport {
	hr := &HostReport{Host: host.Name, StartedAt: e.clock.Now()}
	defer func() {
		hr.FinishedAt = e.clock.Now()
		e.reporter.PassFinished(host.Name, hr)
	}()

	index, err := e.store.Load(host.Name)
	if err != nil {
		// A corrupt index only costs a full re-fetch, never the pass.
		e.logger.Warn("resetting unreadable index", "host", host.Name, "error", err)
		index = make(map[string]IndexEntry)
	}

	sess, err := e.dialer.Dial(ctx, host.Name)
	if err != nil {
		hr.Status = StatusFailed
		hr.Err = &ConnectError{Host: host.Name, Err: err}
		e.logger.Error("connection failed", "host", host.Name, "error", err)
		return hr
	}
	defer sess.Close()

	matcher := NewExcludeMatcher(host.Exclude)

	// List every root and classify against the index. The pass owns
	// the in-memory index from here on; nothing is persisted until
	// all transfers are done.
	var (
		items       []fetchItem
		removals    []string
		listedRoots int
	)
	for _, root := range host.Roots {
		listing, err := sess.List(ctx, root)
		if err != nil {
			le := &ListError{Host: host.Name, Root: root, Err: err}
			hr.ListErrors = append(hr.ListErrors, le)
			e.logger.Error("listing failed", "host", host.Name, "root", root, "error", err)
			continue
		}
		listedRoots++

		var kept []RemoteFile
		for _, rf := range listing {
			if matcher.Match(rf.Path) {
				continue
			}
			if !underRoot(JoinRemote(root, rf.Path), root) {
				e.logger.Warn("skipping listed path outside its root", "host", host.Name, "root", root, "path", rf.Path)
				continue
			}
			kept = append(kept, rf)
		}

		ch := Classify(root, kept, index)
		hr.New += len(ch.New)
		hr.Modified += len(ch.Modified)
		hr.Unchanged += len(ch.Unchanged)
		hr.Deleted += len(ch.Deleted)
		e.logger.Debug("root classified", "host", host.Name, "root", root,
			"new", len(ch.New), "modified", len(ch.Modified),
			"unchanged", len(ch.Unchanged), "deleted", len(ch.Deleted))

		for _, rf := range ch.Unchanged {
			full := JoinRemote(root, rf.Path)
			entry := index[full]
			entry.LastSeen = hr.StartedAt
			index[full] = entry
			e.reporter.FileUnchanged(host.Name, full)
		}
		for _, full := range ch.Deleted {
			delete(index, full)
			removals = append(removals, full)
		}
		for _, rf := range ch.New {
			items = append(items, fetchItem{full: JoinRemote(root, rf.Path), file: rf})
		}
		for _, rf := range ch.Modified {
			items = append(items, fetchItem{full: JoinRemote(root, rf.Path), file: rf})
		}
	}

	if err := ctx.Err(); err != nil {
		hr.Status = StatusFailed
		hr.Err = err
		e.logger.Warn("pass canceled", "host", host.Name)
		return hr
	}

	if listedRoots == 0 {
		hr.Status = StatusFailed
		if len(hr.ListErrors) > 0 {
			hr.Err = hr.ListErrors[0]
		} else {
			hr.Err = fmt.Errorf("host %s has no roots configured", host.Name)
		}
		return hr
	}

	e.reporter.PassStarted(host.Name, len(items))
	e.logger.Info("pass started", "host", host.Name,
		"pending", len(items), "unchanged", hr.Unchanged, "deleted", hr.Deleted)

	hostDir := filepath.Join(e.opts.BackupRoot, host.Name)
	currentDir := filepath.Join(hostDir, CurrentDirName)
	if err := os.MkdirAll(currentDir, 0755); err != nil {
		hr.Status = StatusFailed
		hr.Err = fmt.Errorf("creating current tree: %w", err)
		e.logger.Error("creating current tree", "host", host.Name, "error", err)
		return hr
	}

	// Fetch the plan with a bounded worker pool. Results land in a
	// per-item slot so no lock is needed; the index is merged only
	// after the barrier below.
	results := make([]fetchResult, len(items))
	var g errgroup.Group
	g.SetLimit(e.opts.TransferWorkers)
	for i, it := range items {
		g.Go(func() error {
			results[i] = e.fetchOne(ctx, sess, host.Name, currentDir, it, hr.StartedAt)
			return nil
		})
	}
	g.Wait()

	if err := ctx.Err(); err != nil {
		// No flush and no snapshot: the next pass re-detects whatever
		// this one half-finished.
		hr.Status = StatusFailed
		hr.Err = err
		e.logger.Warn("pass canceled", "host", host.Name)
		return hr
	}

	for i, res := range results {
		if res.err != nil {
			hr.Failed++
			var te *TransferError
			if !errors.As(res.err, &te) {
				te = &TransferError{Host: host.Name, Path: items[i].full, Err: res.err}
			}
			hr.TransferErrors = append(hr.TransferErrors, te)
			continue
		}
		index[res.entry.Path] = res.entry
		hr.Bytes += res.entry.Size
	}

	if e.opts.DeleteRemoved {
		for _, full := range removals {
			if err := removeMaterialized(currentDir, full); err != nil {
				e.logger.Warn("removing deleted file", "host", host.Name, "path", full, "error", err)
			}
		}
	}

	if err := e.store.Save(host.Name, index); err != nil {
		hr.IndexErr = err
		e.logger.Error("saving index", "host", host.Name, "error", err)
	}

	e.snapshot(hr, hostDir, currentDir)

	if len(hr.ListErrors) == 0 && hr.Failed == 0 {
		hr.Status = StatusSuccess
	} else {
		hr.Status = StatusPartial
	}

	e.logger.Info("pass finished", "host", host.Name, "status", string(hr.Status),
		"new", hr.New, "modified", hr.Modified, "unchanged", hr.Unchanged,
		"deleted", hr.Deleted, "failed", hr.Failed, "bytes", hr.Bytes,
		"snapshot", hr.Snapshot)

	return hr
}

// fetchOne downloads a single planned file into the current tree and
// builds its refreshed index entry.
func (e *Engine) fetchOne(ctx context.Context, sess Session, host, currentDir string, it fetchItem, seen time.Time) fetchResult {
	if err := ctx.Err(); err != nil {
		return fetchResult{err: err}
	}

	dest := filepath.Join(currentDir, localRelPath(it.full))
	written, sum, err := materializeFile(ctx, sess, it.full, dest)
	if err != nil {
		e.logger.Error("transfer failed", "host", host, "path", it.full, "error", err)
		e.reporter.FileFailed(host, it.full, err)
		return fetchResult{err: &TransferError{Host: host, Path: it.full, Err: err}}
	}

	e.logger.Debug("transferred", "host", host, "path", it.full, "bytes", written)
	e.reporter.FileTransferred(host, it.full, written)

	return fetchResult{entry: IndexEntry{
		Path:     it.full,
		Checksum: sum,
		Size:     written,
		ModTime:  it.file.ModTime,
		LastSeen: seen,
	}}
}

// snapshot copies the current tree into a new timestamped directory
// and prunes the oldest snapshots beyond MaxVersions. Failures are
// recorded on the report but do not fail the pass retroactively.
func (e *Engine) snapshot(hr *HostReport, hostDir, currentDir string) {
	name := uniqueSnapshotName(hostDir, snapshotName(hr.StartedAt))
	snapDir := filepath.Join(hostDir, name)

	if err := createSnapshot(currentDir, snapDir); err != nil {
		hr.RetentionErr = &RetentionError{Host: hr.Host, Op: "snapshot", Err: err}
		e.logger.Error("snapshot failed", "host", hr.Host, "snapshot", name, "error", err)
		return
	}
	hr.Snapshot = name
	e.reporter.SnapshotCreated(hr.Host, name)
	e.logger.Info("snapshot created", "host", hr.Host, "snapshot", name)

	pruned, err := pruneSnapshots(hostDir, e.opts.MaxVersions)
	hr.Pruned = pruned
	for _, p := range pruned {
		e.reporter.SnapshotPruned(hr.Host, p)
		e.logger.Info("snapshot pruned", "host", hr.Host, "snapshot", p)
	}
	if err != nil {
		hr.RetentionErr = &RetentionError{Host: hr.Host, Op: "prune", Err: err}
		e.logger.Error("prune failed", "host", hr.Host, "error", err)
	}
}
