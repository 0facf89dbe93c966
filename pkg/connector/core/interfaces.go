// Package core defines the contracts shared by all connectors: the
// record model, the driver interface implemented per source system,
// and the status machine the supervisor moves connectors through.
package core

import (
	"context"
	"time"
)

// Status represents the lifecycle state of a connector.
type Status string

const (
	StatusStopped  Status = "stopped"
	StatusStarting Status = "starting"
	StatusRunning  Status = "running"
	StatusStopping Status = "stopping"
	StatusError    Status = "error"
)

// BatchStream delivers the records of one fetch cycle. Batches is
// closed when the cycle is exhausted; Errors carries at most one
// mid-cycle failure.
type BatchStream struct {
	Batches <-chan []*DataRecord
	Errors  <-chan error
}

// Driver is the per-source half of a connector. The supervising
// connector owns the lifecycle and the polling loop; the driver only
// knows how to reach the upstream system and pull one cycle of data.
type Driver interface {
	// Connect establishes and verifies the upstream session.
	Connect(ctx context.Context) error

	// Disconnect tears down the upstream session.
	Disconnect(ctx context.Context) error

	// FetchCycle pulls everything that changed since the driver's
	// watermark. The watermark advances only after the returned
	// stream has been fully drained without error, so an aborted
	// cycle is re-fetched in full on the next poll.
	FetchCycle(ctx context.Context) (*BatchStream, error)
}

// DataCallback receives each batch of records a connector emits.
type DataCallback func(records []*DataRecord)

// ErrorCallback receives fetch-cycle failures as they occur.
type ErrorCallback func(err error)

// StatusReport is a point-in-time snapshot of a connector's health.
type StatusReport struct {
	Name          string    `json:"name"`
	Type          string    `json:"type"`
	Status        Status    `json:"status"`
	Enabled       bool      `json:"enabled"`
	RetryCount    int       `json:"retry_count"`
	LastError     string    `json:"last_error,omitempty"`
	LastFetchTime time.Time `json:"last_fetch_time"`
	RecordsTotal  int64     `json:"records_total"`
}

// Connector is the supervised lifecycle surface exposed to the
// pipeline. Implementations embed base.Connector.
type Connector interface {
	// Name returns the configured connector name.
	Name() string

	// Start transitions the connector to running and launches the
	// polling loop. Starting an already running connector logs a
	// warning and is otherwise a no-op.
	Start(ctx context.Context) error

	// Stop signals the polling loop and waits for it to exit, bounded
	// by a fixed timeout. Stopping a stopped connector is a no-op.
	Stop(ctx context.Context) error

	// Status returns the current lifecycle state.
	Status() Status

	// Report returns a snapshot of the connector's health counters.
	Report() StatusReport

	// AddDataCallback registers a handler for emitted record batches.
	AddDataCallback(cb DataCallback)

	// AddErrorCallback registers a handler for fetch failures.
	AddErrorCallback(cb ErrorCallback)
}
