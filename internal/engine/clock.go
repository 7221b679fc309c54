package engine

import (
	"time"

	"github.com/google/uuid"
)

// Clock abstracts time retrieval so pass logic is deterministic in tests.
// Snapshot names and index timestamps are all derived from a single Now()
// taken at the start of a pass.
type Clock interface {
	Now() time.Time
}

// RealClock returns the actual current time.
type RealClock struct{}

func (RealClock) Now() time.Time { return time.Now() }

// IDGenerator abstracts run ID generation so tests are deterministic.
type IDGenerator interface {
	New() string
}

// UUIDGenerator produces random UUIDs.
type UUIDGenerator struct{}

func (UUIDGenerator) New() string { return uuid.New().String() }
