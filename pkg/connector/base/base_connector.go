// Package base provides the supervised polling connector that all
// real-time sources build on. It owns the lifecycle state machine, the
// polling loop, retry handling, and callback fan-out; the per-source
// Driver only knows how to talk to its upstream system.
package base

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/opsmind/opsmind/pkg/config"
	"github.com/opsmind/opsmind/pkg/connector/core"
	"github.com/opsmind/opsmind/pkg/errors"
	"github.com/opsmind/opsmind/pkg/logger"
	"github.com/opsmind/opsmind/pkg/metrics"
)

// stopTimeout bounds how long Stop waits for the polling loop to exit.
const stopTimeout = 10 * time.Second

// Connector supervises a core.Driver: it runs the polling loop in its
// own goroutine, applies configured filters, fans records out to
// callbacks, and tracks the lifecycle state machine.
type Connector struct {
	config *config.ConnectorConfig
	driver core.Driver
	logger *zap.Logger

	mu         sync.Mutex
	status     core.Status
	retryCount int
	lastError  error
	lastFetch  time.Time
	cancel     context.CancelFunc
	done       chan struct{}

	recordsTotal int64

	cbMu           sync.RWMutex
	dataCallbacks  []core.DataCallback
	errorCallbacks []core.ErrorCallback
}

// New creates a supervised connector around the given driver.
func New(cfg *config.ConnectorConfig, driver core.Driver) *Connector {
	return &Connector{
		config: cfg,
		driver: driver,
		logger: logger.Get().With(
			zap.String("connector", cfg.Name),
			zap.String("type", cfg.Type),
		),
		status: core.StatusStopped,
	}
}

// Name returns the configured connector name.
func (c *Connector) Name() string { return c.config.Name }

// Status returns the current lifecycle state.
func (c *Connector) Status() core.Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// Report returns a snapshot of the connector's health counters.
func (c *Connector) Report() core.StatusReport {
	c.mu.Lock()
	defer c.mu.Unlock()

	report := core.StatusReport{
		Name:          c.config.Name,
		Type:          c.config.Type,
		Status:        c.status,
		Enabled:       c.config.Enabled,
		RetryCount:    c.retryCount,
		LastFetchTime: c.lastFetch,
		RecordsTotal:  atomic.LoadInt64(&c.recordsTotal),
	}
	if c.lastError != nil {
		report.LastError = c.lastError.Error()
	}
	return report
}

// AddDataCallback registers a handler for emitted record batches.
// Handlers run synchronously on the polling goroutine; a panicking
// handler is recovered and logged without affecting the loop.
func (c *Connector) AddDataCallback(cb core.DataCallback) {
	c.cbMu.Lock()
	defer c.cbMu.Unlock()
	c.dataCallbacks = append(c.dataCallbacks, cb)
}

// AddErrorCallback registers a handler for fetch failures.
func (c *Connector) AddErrorCallback(cb core.ErrorCallback) {
	c.cbMu.Lock()
	defer c.cbMu.Unlock()
	c.errorCallbacks = append(c.errorCallbacks, cb)
}

// Start connects the driver and launches the polling loop. The call
// returns once the connector is running; the loop runs until Stop or
// an unrecoverable fetch failure. Starting an already-running
// connector is a no-op.
func (c *Connector) Start(ctx context.Context) error {
	c.mu.Lock()
	switch c.status {
	case core.StatusStopped, core.StatusError:
		// startable
	default:
		status := c.status
		c.mu.Unlock()
		c.logger.Warn("connector already started",
			zap.String("status", string(status)))
		return nil
	}
	c.status = core.StatusStarting
	c.retryCount = 0
	c.lastError = nil
	c.mu.Unlock()

	c.logger.Info("starting connector")

	if err := c.driver.Connect(ctx); err != nil {
		c.setError(err)
		return errors.Wrap(err, errors.ErrorTypeConnection,
			"failed to connect "+c.config.Name)
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	c.mu.Lock()
	c.status = core.StatusRunning
	c.cancel = cancel
	c.done = done
	c.mu.Unlock()

	metrics.ConnectorUp.WithLabelValues(c.config.Name).Set(1)

	go c.pollLoop(loopCtx, done)

	c.logger.Info("connector started",
		zap.Duration("poll_interval", c.config.PollInterval))
	return nil
}

// Stop signals the polling loop and waits for it to exit, bounded by
// stopTimeout. Stopping a connector that is not running is a no-op.
func (c *Connector) Stop(ctx context.Context) error {
	c.mu.Lock()
	if c.status != core.StatusRunning && c.status != core.StatusError {
		c.mu.Unlock()
		return nil
	}
	c.status = core.StatusStopping
	cancel := c.cancel
	done := c.done
	c.mu.Unlock()

	c.logger.Info("stopping connector")

	if cancel != nil {
		cancel()
	}

	if done != nil {
		timer := time.NewTimer(stopTimeout)
		defer timer.Stop()
		select {
		case <-done:
		case <-timer.C:
			c.logger.Warn("polling loop did not exit before timeout",
				zap.Duration("timeout", stopTimeout))
		case <-ctx.Done():
		}
	}

	if err := c.driver.Disconnect(ctx); err != nil {
		c.logger.Warn("disconnect failed", zap.Error(err))
	}

	c.mu.Lock()
	c.status = core.StatusStopped
	c.cancel = nil
	c.done = nil
	c.mu.Unlock()

	metrics.ConnectorUp.WithLabelValues(c.config.Name).Set(0)

	c.logger.Info("connector stopped")
	return nil
}

// pollLoop runs fetch cycles until the context is cancelled or retries
// are exhausted.
func (c *Connector) pollLoop(ctx context.Context, done chan struct{}) {
	defer close(done)

	for {
		if err := c.runCycle(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			c.notifyError(err)
			metrics.FetchErrors.WithLabelValues(c.config.Name).Inc()

			c.mu.Lock()
			c.retryCount++
			retries := c.retryCount
			c.lastError = err
			c.mu.Unlock()

			if retries >= c.config.MaxRetries {
				c.logger.Error("retries exhausted, entering error state",
					zap.Int("retries", retries), zap.Error(err))
				c.mu.Lock()
				c.status = core.StatusError
				c.lastError = errors.Wrap(err, errors.ErrorTypeRetryExhausted,
					"connector "+c.config.Name+" exhausted fetch retries")
				c.mu.Unlock()
				metrics.ConnectorUp.WithLabelValues(c.config.Name).Set(0)
				return
			}

			c.logger.Warn("fetch cycle failed, retrying",
				zap.Int("retry", retries),
				zap.Int("max_retries", c.config.MaxRetries),
				zap.Error(err))

			if !sleepCtx(ctx, c.config.RetryDelay) {
				return
			}
			continue
		}

		c.mu.Lock()
		c.retryCount = 0
		c.lastFetch = time.Now()
		c.mu.Unlock()

		if !sleepCtx(ctx, c.config.PollInterval) {
			return
		}
	}
}

// runCycle drains one fetch cycle from the driver, filtering and
// fanning out each batch as it arrives.
func (c *Connector) runCycle(ctx context.Context) error {
	timer := metrics.NewTimer()

	stream, err := c.driver.FetchCycle(ctx)
	if err != nil {
		return err
	}

	for {
		select {
		case batch, ok := <-stream.Batches:
			if !ok {
				metrics.FetchCycleLatency.WithLabelValues(c.config.Name).Observe(timer.Stop().Seconds())
				return nil
			}
			batch = c.applyFilters(batch)
			if len(batch) == 0 {
				continue
			}
			atomic.AddInt64(&c.recordsTotal, int64(len(batch)))
			for _, rec := range batch {
				metrics.RecordsFetched.WithLabelValues(c.config.Name, string(rec.Type)).Inc()
			}
			c.notifyData(batch)
		case err := <-stream.Errors:
			if err != nil {
				return err
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// applyFilters drops records whose payload fields do not match the
// configured allow-lists. A filter on a field the payload does not
// have leaves the record untouched.
func (c *Connector) applyFilters(batch []*core.DataRecord) []*core.DataRecord {
	if len(c.config.Filters) == 0 {
		return batch
	}

	out := batch[:0]
	for _, rec := range batch {
		if c.matches(rec) {
			out = append(out, rec)
		}
	}
	return out
}

func (c *Connector) matches(rec *core.DataRecord) bool {
	for field, allowed := range c.config.Filters {
		if len(allowed) == 0 {
			continue
		}
		value, ok := rec.Data.Field(field)
		if !ok {
			// Payloads without the field pass unfiltered.
			continue
		}
		found := false
		for _, want := range allowed {
			if value == want {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func (c *Connector) notifyData(batch []*core.DataRecord) {
	c.cbMu.RLock()
	callbacks := c.dataCallbacks
	c.cbMu.RUnlock()

	for _, cb := range callbacks {
		c.safeCall(func() { cb(batch) })
	}
}

func (c *Connector) notifyError(err error) {
	c.cbMu.RLock()
	callbacks := c.errorCallbacks
	c.cbMu.RUnlock()

	for _, cb := range callbacks {
		c.safeCall(func() { cb(err) })
	}
}

// safeCall isolates callback panics from the polling loop.
func (c *Connector) safeCall(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("callback panicked", zap.Any("panic", r))
		}
	}()
	fn()
}

func (c *Connector) setError(err error) {
	c.mu.Lock()
	c.status = core.StatusError
	c.lastError = err
	c.mu.Unlock()
	metrics.ConnectorUp.WithLabelValues(c.config.Name).Set(0)
}

// sleepCtx sleeps for d unless the context is cancelled first. It
// returns false when the sleep was interrupted.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}
