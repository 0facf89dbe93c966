package pipeline

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opsmind/opsmind/pkg/connector/core"
)

// stubConnector is a minimal core.Connector whose data callbacks can
// be fired directly from tests.
type stubConnector struct {
	name    string
	enabled bool

	mu             sync.Mutex
	status         core.Status
	startErr       error
	dataCallbacks  []core.DataCallback
	errorCallbacks []core.ErrorCallback
}

func newStubConnector(name string) *stubConnector {
	return &stubConnector{name: name, enabled: true, status: core.StatusStopped}
}

func (s *stubConnector) Name() string { return s.name }

func (s *stubConnector) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.startErr != nil {
		s.status = core.StatusError
		return s.startErr
	}
	s.status = core.StatusRunning
	return nil
}

func (s *stubConnector) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = core.StatusStopped
	return nil
}

func (s *stubConnector) Status() core.Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

func (s *stubConnector) Report() core.StatusReport {
	return core.StatusReport{Name: s.name, Status: s.Status(), Enabled: s.enabled}
}

func (s *stubConnector) AddDataCallback(cb core.DataCallback) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dataCallbacks = append(s.dataCallbacks, cb)
}

func (s *stubConnector) AddErrorCallback(cb core.ErrorCallback) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errorCallbacks = append(s.errorCallbacks, cb)
}

func (s *stubConnector) emit(records []*core.DataRecord) {
	s.mu.Lock()
	callbacks := s.dataCallbacks
	s.mu.Unlock()
	for _, cb := range callbacks {
		cb(records)
	}
}

func (s *stubConnector) fail(err error) {
	s.mu.Lock()
	callbacks := s.errorCallbacks
	s.mu.Unlock()
	for _, cb := range callbacks {
		cb(err)
	}
}

func record(id string, typ core.RecordType, ts time.Time) *core.DataRecord {
	return &core.DataRecord{
		ID:        id,
		Source:    "jira",
		Type:      typ,
		Timestamp: ts,
		Data:      &core.IssueData{Key: id, Summary: "summary for " + id},
	}
}

func TestAddConnectorReplacesOnCollision(t *testing.T) {
	m := NewConnectorManager()
	first := newStubConnector("jira_prod")
	second := newStubConnector("jira_prod")

	m.AddConnector(first)
	m.AddConnector(second)

	status := m.Status()
	assert.Equal(t, 1, status.TotalConnectors)
}

func TestStartAllToleratesPartialFailure(t *testing.T) {
	m := NewConnectorManager()
	good := newStubConnector("good")
	bad := newStubConnector("bad")
	bad.startErr = fmt.Errorf("no credentials")

	m.AddConnector(good)
	m.AddConnector(bad)
	m.StartAll(context.Background())

	status := m.Status()
	assert.Equal(t, 1, status.ActiveConnectors)
	assert.Equal(t, 2, status.TotalConnectors)
	assert.True(t, status.Running)

	m.StopAll(context.Background())
	assert.False(t, m.Status().Running)
}

func TestStartAllSkipsDisabledConnectors(t *testing.T) {
	m := NewConnectorManager()
	enabled := newStubConnector("live")
	disabled := newStubConnector("dormant")
	disabled.enabled = false

	m.AddConnector(enabled)
	m.AddConnector(disabled)
	m.StartAll(context.Background())

	assert.Equal(t, core.StatusRunning, enabled.Status())
	assert.Equal(t, core.StatusStopped, disabled.Status())

	status := m.Status()
	assert.Equal(t, 2, status.TotalConnectors)
	assert.Equal(t, 1, status.ActiveConnectors)
}

func TestBufferEvictsOldestBeyondBound(t *testing.T) {
	m := NewConnectorManager()
	m.bufferMax = 5
	conn := newStubConnector("src")
	m.AddConnector(conn)
	m.StartAll(context.Background())

	base := time.Now()
	for i := 0; i < 8; i++ {
		conn.emit([]*core.DataRecord{
			record(fmt.Sprintf("rec-%d", i), core.RecordTypeIssue, base.Add(time.Duration(i)*time.Second)),
		})
	}

	recent := m.RecentData(0, "")
	require.Len(t, recent, 5)

	// Oldest three were evicted; newest first.
	assert.Equal(t, "rec-7", recent[0].ID)
	assert.Equal(t, "rec-3", recent[4].ID)
}

func TestRecentDataTypeFilterAndOrder(t *testing.T) {
	m := NewConnectorManager()
	conn := newStubConnector("src")
	m.AddConnector(conn)
	m.StartAll(context.Background())

	base := time.Now()
	conn.emit([]*core.DataRecord{
		record("old-issue", core.RecordTypeIssue, base.Add(-2*time.Hour)),
		record("comment", core.RecordTypeComment, base.Add(-time.Hour)),
		record("new-issue", core.RecordTypeIssue, base),
	})

	issues := m.RecentData(10, core.RecordTypeIssue)
	require.Len(t, issues, 2)
	assert.Equal(t, "new-issue", issues[0].ID)
	assert.Equal(t, "old-issue", issues[1].ID)

	limited := m.RecentData(1, "")
	require.Len(t, limited, 1)
	assert.Equal(t, "new-issue", limited[0].ID)
}

func TestRecordsDroppedWhenNotRunning(t *testing.T) {
	m := NewConnectorManager()
	conn := newStubConnector("src")
	m.AddConnector(conn)

	conn.emit([]*core.DataRecord{record("r1", core.RecordTypeIssue, time.Now())})
	assert.Empty(t, m.RecentData(0, ""))
}

func TestManagerErrorCallbackFanOut(t *testing.T) {
	m := NewConnectorManager()
	conn := newStubConnector("flaky")
	m.AddConnector(conn)

	var mu sync.Mutex
	var events []ErrorEvent
	m.AddErrorCallback(func(ev ErrorEvent) {
		mu.Lock()
		defer mu.Unlock()
		events = append(events, ev)
	})

	conn.fail(fmt.Errorf("poll failed"))

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, events, 1)
	assert.Equal(t, "flaky", events[0].Connector)
	assert.EqualError(t, events[0].Err, "poll failed")
}

func TestManagerCallbackPanicIsolated(t *testing.T) {
	m := NewConnectorManager()
	conn := newStubConnector("src")
	m.AddConnector(conn)
	m.StartAll(context.Background())

	m.AddDataCallback(func(records []*core.DataRecord) { panic("subscriber bug") })

	var got int
	m.AddDataCallback(func(records []*core.DataRecord) { got += len(records) })

	conn.emit([]*core.DataRecord{record("r1", core.RecordTypeIssue, time.Now())})
	assert.Equal(t, 1, got)
}
