package telemetry

import (
	"context"
	"time"
)

// Collector defines the core domain interface
type Collector interface {
	Record(ctx context.Context, snapshot *Snapshot) error
	Close() error
}

// Repository defines the interface for telemetry data storage
type Repository interface {
	Record(snapshot *Snapshot) error
	Close() error
}

// Snapshot captures pipeline state at one control checkpoint.
type Snapshot struct {
	Timestamp   time.Time
	Acquisition AcquisitionMetrics
	Dispatch    DispatchMetrics
	PeriodUS    int64
}

// Domain value objects
type AcquisitionMetrics struct {
	Count    uint64
	Timeouts uint64
}

type DispatchMetrics struct {
	Dispatches uint64
	Skips      uint64
	Drops      uint64
	Yields     uint64
}
