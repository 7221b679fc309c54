package engine

import "fmt"

// ConnectError reports a failure to open a session to a host. The
// whole pass for that host is abandoned; nothing local is touched.
type ConnectError struct {
	Host string
	Err  error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("connecting to %s: %v", e.Host, e.Err)
}

func (e *ConnectError) Unwrap() error { return e.Err }

// ListError reports a failure to enumerate one remote root. Other
// roots of the same host proceed normally, and index entries under the
// failed root are kept as-is rather than treated as deleted.
type ListError struct {
	Host string
	Root string
	Err  error
}

func (e *ListError) Error() string {
	return fmt.Sprintf("listing %s on %s: %v", e.Root, e.Host, e.Err)
}

func (e *ListError) Unwrap() error { return e.Err }

// TransferError reports a failure to fetch a single file. The file is
// left out of the index update so the next pass retries it; the rest
// of the pass continues.
type TransferError struct {
	Host string
	Path string
	Err  error
}

func (e *TransferError) Error() string {
	return fmt.Sprintf("fetching %s from %s: %v", e.Path, e.Host, e.Err)
}

func (e *TransferError) Unwrap() error { return e.Err }

// CorruptIndexError reports that a stored index could not be decoded.
// The index is treated as empty, which forces a full re-fetch.
type CorruptIndexError struct {
	Host string
	Err  error
}

func (e *CorruptIndexError) Error() string {
	return fmt.Sprintf("index for %s is unreadable: %v", e.Host, e.Err)
}

func (e *CorruptIndexError) Unwrap() error { return e.Err }

// RetentionError reports a snapshot or prune failure. The pass itself
// is not failed retroactively; the error is surfaced in the host
// report.
type RetentionError struct {
	Host string
	Op   string // "snapshot" or "prune"
	Err  error
}

func (e *RetentionError) Error() string {
	return fmt.Sprintf("%s for %s: %v", e.Op, e.Host, e.Err)
}

func (e *RetentionError) Unwrap() error { return e.Err }
