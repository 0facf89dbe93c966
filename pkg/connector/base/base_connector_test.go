package base

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opsmind/opsmind/pkg/config"
	"github.com/opsmind/opsmind/pkg/connector/core"
	"github.com/opsmind/opsmind/pkg/errors"
)

// fakeDriver is a scriptable core.Driver for exercising the supervisor.
type fakeDriver struct {
	mu          sync.Mutex
	connectErr  error
	cycleErr    error
	batches     [][]*core.DataRecord
	cycles      int
	connected   bool
	connects    int
	disconnects int
}

func (d *fakeDriver) Connect(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.connectErr != nil {
		return d.connectErr
	}
	d.connected = true
	d.connects++
	return nil
}

func (d *fakeDriver) Disconnect(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.connected = false
	d.disconnects++
	return nil
}

func (d *fakeDriver) FetchCycle(ctx context.Context) (*core.BatchStream, error) {
	d.mu.Lock()
	d.cycles++
	err := d.cycleErr
	batches := d.batches
	d.mu.Unlock()

	if err != nil {
		return nil, err
	}

	out := make(chan []*core.DataRecord, len(batches))
	errs := make(chan error, 1)
	for _, b := range batches {
		out <- b
	}
	close(out)
	return &core.BatchStream{Batches: out, Errors: errs}, nil
}

func (d *fakeDriver) cycleCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.cycles
}

func testConfig(name string) *config.ConnectorConfig {
	cfg := config.NewConnectorConfig(name, "fake")
	cfg.PollInterval = 10 * time.Millisecond
	cfg.RetryDelay = 5 * time.Millisecond
	cfg.MaxRetries = 3
	return cfg
}

func issueRecord(key, status string) *core.DataRecord {
	return &core.DataRecord{
		ID:        "jira-issue-" + key,
		Source:    "test",
		Type:      core.RecordTypeIssue,
		Timestamp: time.Now(),
		Data:      &core.IssueData{Key: key, Status: status},
	}
}

func TestStartStopLifecycle(t *testing.T) {
	driver := &fakeDriver{}
	conn := New(testConfig("lifecycle"), driver)

	assert.Equal(t, core.StatusStopped, conn.Status())

	require.NoError(t, conn.Start(context.Background()))
	assert.Equal(t, core.StatusRunning, conn.Status())

	// Starting a running connector is a warning no-op: no error, no
	// second driver connection, state unchanged.
	require.NoError(t, conn.Start(context.Background()))
	assert.Equal(t, core.StatusRunning, conn.Status())
	assert.Equal(t, 1, driver.connects)

	require.NoError(t, conn.Stop(context.Background()))
	assert.Equal(t, core.StatusStopped, conn.Status())
	assert.Equal(t, 1, driver.disconnects)
}

func TestStopWhenStoppedIsNoop(t *testing.T) {
	driver := &fakeDriver{}
	conn := New(testConfig("idle"), driver)

	require.NoError(t, conn.Stop(context.Background()))
	assert.Equal(t, core.StatusStopped, conn.Status())
	assert.Equal(t, 0, driver.disconnects)
}

func TestConnectFailureEntersErrorState(t *testing.T) {
	driver := &fakeDriver{
		connectErr: errors.New(errors.ErrorTypeAuthentication, "bad credentials"),
	}
	conn := New(testConfig("badauth"), driver)

	err := conn.Start(context.Background())
	require.Error(t, err)
	assert.Equal(t, core.StatusError, conn.Status())

	report := conn.Report()
	assert.Contains(t, report.LastError, "bad credentials")
}

func TestDataCallbacksReceiveBatches(t *testing.T) {
	driver := &fakeDriver{
		batches: [][]*core.DataRecord{
			{issueRecord("OPS-1", "Open"), issueRecord("OPS-2", "Done")},
		},
	}
	conn := New(testConfig("emit"), driver)

	var received int64
	conn.AddDataCallback(func(records []*core.DataRecord) {
		atomic.AddInt64(&received, int64(len(records)))
	})

	require.NoError(t, conn.Start(context.Background()))
	defer conn.Stop(context.Background())

	assert.Eventually(t, func() bool {
		return atomic.LoadInt64(&received) >= 2
	}, time.Second, 5*time.Millisecond)
}

func TestRetryExhaustionEntersErrorState(t *testing.T) {
	driver := &fakeDriver{
		cycleErr: errors.New(errors.ErrorTypeConnection, "upstream down"),
	}
	conn := New(testConfig("flaky"), driver)

	var errCount int64
	conn.AddErrorCallback(func(err error) {
		atomic.AddInt64(&errCount, 1)
	})

	require.NoError(t, conn.Start(context.Background()))

	assert.Eventually(t, func() bool {
		return conn.Status() == core.StatusError
	}, time.Second, 5*time.Millisecond)

	// One error callback per failed cycle, MaxRetries cycles total.
	assert.Equal(t, int64(3), atomic.LoadInt64(&errCount))

	report := conn.Report()
	assert.Equal(t, 3, report.RetryCount)
	assert.Contains(t, report.LastError, string(errors.ErrorTypeRetryExhausted))
	assert.Contains(t, report.LastError, "upstream down")
}

func TestRetryCountResetsOnSuccess(t *testing.T) {
	driver := &fakeDriver{
		batches: [][]*core.DataRecord{{issueRecord("OPS-9", "Open")}},
	}
	conn := New(testConfig("healthy"), driver)

	require.NoError(t, conn.Start(context.Background()))
	defer conn.Stop(context.Background())

	assert.Eventually(t, func() bool {
		return driver.cycleCount() >= 2
	}, time.Second, 5*time.Millisecond)

	report := conn.Report()
	assert.Equal(t, 0, report.RetryCount)
	assert.False(t, report.LastFetchTime.IsZero())
}

func TestFiltersDropNonMatchingRecords(t *testing.T) {
	driver := &fakeDriver{
		batches: [][]*core.DataRecord{
			{
				issueRecord("OPS-1", "Open"),
				issueRecord("OPS-2", "Closed"),
				issueRecord("OPS-3", "Open"),
			},
		},
	}
	cfg := testConfig("filtered")
	cfg.Filters = map[string][]string{"status": {"Open"}}
	conn := New(cfg, driver)

	var mu sync.Mutex
	var keys []string
	conn.AddDataCallback(func(records []*core.DataRecord) {
		mu.Lock()
		defer mu.Unlock()
		for _, rec := range records {
			key, _ := rec.Data.Field("key")
			keys = append(keys, key)
		}
	})

	require.NoError(t, conn.Start(context.Background()))
	defer conn.Stop(context.Background())

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(keys) >= 2
	}, time.Second, 5*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.NotContains(t, keys, "OPS-2")
}

func TestFilterOnMissingFieldPassesRecord(t *testing.T) {
	driver := &fakeDriver{
		batches: [][]*core.DataRecord{{issueRecord("OPS-1", "Open")}},
	}
	cfg := testConfig("missing-field")
	// Issues have no time_spent field, so this filter never applies.
	cfg.Filters = map[string][]string{"time_spent": {"1h"}}
	conn := New(cfg, driver)

	var received int64
	conn.AddDataCallback(func(records []*core.DataRecord) {
		atomic.AddInt64(&received, int64(len(records)))
	})

	require.NoError(t, conn.Start(context.Background()))
	defer conn.Stop(context.Background())

	assert.Eventually(t, func() bool {
		return atomic.LoadInt64(&received) >= 1
	}, time.Second, 5*time.Millisecond)
}

func TestPanickingCallbackDoesNotKillLoop(t *testing.T) {
	driver := &fakeDriver{
		batches: [][]*core.DataRecord{{issueRecord("OPS-1", "Open")}},
	}
	conn := New(testConfig("panicky"), driver)

	conn.AddDataCallback(func(records []*core.DataRecord) {
		panic("handler bug")
	})

	var received int64
	conn.AddDataCallback(func(records []*core.DataRecord) {
		atomic.AddInt64(&received, int64(len(records)))
	})

	require.NoError(t, conn.Start(context.Background()))
	defer conn.Stop(context.Background())

	assert.Eventually(t, func() bool {
		return atomic.LoadInt64(&received) >= 1 && driver.cycleCount() >= 2
	}, time.Second, 5*time.Millisecond)

	assert.Equal(t, core.StatusRunning, conn.Status())
}

func TestRestartAfterErrorState(t *testing.T) {
	driver := &fakeDriver{
		cycleErr: errors.New(errors.ErrorTypeConnection, "down"),
	}
	conn := New(testConfig("recover"), driver)

	require.NoError(t, conn.Start(context.Background()))
	assert.Eventually(t, func() bool {
		return conn.Status() == core.StatusError
	}, time.Second, 5*time.Millisecond)

	driver.mu.Lock()
	driver.cycleErr = nil
	driver.batches = [][]*core.DataRecord{{issueRecord("OPS-5", "Open")}}
	driver.mu.Unlock()

	require.NoError(t, conn.Start(context.Background()))
	assert.Equal(t, core.StatusRunning, conn.Status())

	report := conn.Report()
	assert.Equal(t, 0, report.RetryCount)

	require.NoError(t, conn.Stop(context.Background()))
}
