// Package pipeline wires connectors, the live context store and the
// static datasets into the unified query surface.
package pipeline

import (
	"context"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/opsmind/opsmind/pkg/connector/core"
	"github.com/opsmind/opsmind/pkg/logger"
	"github.com/opsmind/opsmind/pkg/metrics"
)

// defaultBufferSize bounds the aggregated record buffer; the oldest
// records are evicted first.
const defaultBufferSize = 1000

// ErrorEvent pairs a connector error with the connector that raised it.
type ErrorEvent struct {
	Connector string
	Err       error
}

// ManagerStatus is a snapshot of the connector manager.
type ManagerStatus struct {
	Running          bool                         `json:"running"`
	BufferSize       int                          `json:"buffer_size"`
	TotalConnectors  int                          `json:"total_connectors"`
	ActiveConnectors int                          `json:"active_connectors"`
	Connectors       map[string]core.StatusReport `json:"connectors"`
}

// ConnectorManager coordinates a set of connectors and aggregates
// their records into one bounded buffer.
type ConnectorManager struct {
	logger *zap.Logger

	mu         sync.Mutex
	connectors map[string]core.Connector
	buffer     []*core.DataRecord
	bufferMax  int
	running    bool

	cbMu           sync.RWMutex
	dataCallbacks  []core.DataCallback
	errorCallbacks []func(ErrorEvent)
}

// NewConnectorManager creates an empty manager with the default buffer bound.
func NewConnectorManager() *ConnectorManager {
	return &ConnectorManager{
		logger:     logger.Get().With(zap.String("component", "connector_manager")),
		connectors: make(map[string]core.Connector),
		bufferMax:  defaultBufferSize,
	}
}

// AddConnector registers a connector and wires its callbacks into the
// shared buffer. A name collision replaces the existing connector with
// a warning.
func (m *ConnectorManager) AddConnector(conn core.Connector) {
	name := conn.Name()

	m.mu.Lock()
	if _, exists := m.connectors[name]; exists {
		m.logger.Warn("connector already exists, replacing", zap.String("name", name))
	}
	m.connectors[name] = conn
	m.mu.Unlock()

	conn.AddDataCallback(m.handleData)
	conn.AddErrorCallback(func(err error) {
		m.handleError(name, err)
	})

	m.logger.Info("connector added", zap.String("name", name))
}

// RemoveConnector stops and removes a connector. Unknown names are a no-op.
func (m *ConnectorManager) RemoveConnector(ctx context.Context, name string) {
	m.mu.Lock()
	conn, exists := m.connectors[name]
	if exists {
		delete(m.connectors, name)
	}
	m.mu.Unlock()

	if !exists {
		return
	}
	if err := conn.Stop(ctx); err != nil {
		m.logger.Warn("error stopping removed connector",
			zap.String("name", name), zap.Error(err))
	}
	m.logger.Info("connector removed", zap.String("name", name))
}

// StartAll starts every enabled connector concurrently. Disabled
// connectors stay registered but are not started. A connector that
// fails to start is reported and skipped; the rest keep running.
func (m *ConnectorManager) StartAll(ctx context.Context) {
	m.mu.Lock()
	m.running = true
	conns := make([]core.Connector, 0, len(m.connectors))
	for _, conn := range m.connectors {
		conns = append(conns, conn)
	}
	m.mu.Unlock()

	var wg sync.WaitGroup
	for _, conn := range conns {
		if !conn.Report().Enabled {
			m.logger.Info("connector disabled, skipping", zap.String("name", conn.Name()))
			continue
		}
		wg.Add(1)
		go func(conn core.Connector) {
			defer wg.Done()
			if err := conn.Start(ctx); err != nil {
				m.logger.Error("failed to start connector",
					zap.String("name", conn.Name()), zap.Error(err))
				return
			}
			m.logger.Info("connector started", zap.String("name", conn.Name()))
		}(conn)
	}
	wg.Wait()
}

// StopAll stops every connector concurrently, tolerating per-connector
// failures.
func (m *ConnectorManager) StopAll(ctx context.Context) {
	m.mu.Lock()
	m.running = false
	conns := make([]core.Connector, 0, len(m.connectors))
	for _, conn := range m.connectors {
		conns = append(conns, conn)
	}
	m.mu.Unlock()

	var wg sync.WaitGroup
	for _, conn := range conns {
		wg.Add(1)
		go func(conn core.Connector) {
			defer wg.Done()
			if err := conn.Stop(ctx); err != nil {
				m.logger.Error("failed to stop connector",
					zap.String("name", conn.Name()), zap.Error(err))
			}
		}(conn)
	}
	wg.Wait()

	m.logger.Info("all connectors stopped")
}

// AddDataCallback registers a handler for aggregated record batches.
func (m *ConnectorManager) AddDataCallback(cb core.DataCallback) {
	m.cbMu.Lock()
	defer m.cbMu.Unlock()
	m.dataCallbacks = append(m.dataCallbacks, cb)
}

// AddErrorCallback registers a handler for connector errors.
func (m *ConnectorManager) AddErrorCallback(cb func(ErrorEvent)) {
	m.cbMu.Lock()
	defer m.cbMu.Unlock()
	m.errorCallbacks = append(m.errorCallbacks, cb)
}

func (m *ConnectorManager) handleData(records []*core.DataRecord) {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.buffer = append(m.buffer, records...)
	if excess := len(m.buffer) - m.bufferMax; excess > 0 {
		m.buffer = m.buffer[excess:]
	}
	depth := len(m.buffer)
	m.mu.Unlock()

	metrics.BufferDepth.WithLabelValues("records").Set(float64(depth))

	m.cbMu.RLock()
	callbacks := m.dataCallbacks
	m.cbMu.RUnlock()
	for _, cb := range callbacks {
		m.safeData(cb, records)
	}
}

func (m *ConnectorManager) handleError(name string, err error) {
	m.logger.Error("connector error", zap.String("name", name), zap.Error(err))

	m.cbMu.RLock()
	callbacks := m.errorCallbacks
	m.cbMu.RUnlock()
	for _, cb := range callbacks {
		m.safeError(cb, ErrorEvent{Connector: name, Err: err})
	}
}

func (m *ConnectorManager) safeData(cb core.DataCallback, records []*core.DataRecord) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("data callback panicked", zap.Any("panic", r))
		}
	}()
	cb(records)
}

func (m *ConnectorManager) safeError(cb func(ErrorEvent), ev ErrorEvent) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("error callback panicked", zap.Any("panic", r))
		}
	}()
	cb(ev)
}

// RecentData returns up to limit buffered records, newest first,
// optionally filtered by record type.
func (m *ConnectorManager) RecentData(limit int, typeFilter core.RecordType) []*core.DataRecord {
	m.mu.Lock()
	snapshot := make([]*core.DataRecord, 0, len(m.buffer))
	for _, rec := range m.buffer {
		if typeFilter != "" && rec.Type != typeFilter {
			continue
		}
		snapshot = append(snapshot, rec)
	}
	m.mu.Unlock()

	sort.SliceStable(snapshot, func(i, j int) bool {
		return snapshot[i].Timestamp.After(snapshot[j].Timestamp)
	})

	if limit > 0 && len(snapshot) > limit {
		snapshot = snapshot[:limit]
	}
	return snapshot
}

// Status reports every connector plus manager-level counters.
func (m *ConnectorManager) Status() ManagerStatus {
	m.mu.Lock()
	conns := make(map[string]core.Connector, len(m.connectors))
	for name, conn := range m.connectors {
		conns[name] = conn
	}
	status := ManagerStatus{
		Running:         m.running,
		BufferSize:      len(m.buffer),
		TotalConnectors: len(m.connectors),
		Connectors:      make(map[string]core.StatusReport, len(m.connectors)),
	}
	m.mu.Unlock()

	for name, conn := range conns {
		report := conn.Report()
		status.Connectors[name] = report
		if report.Status == core.StatusRunning {
			status.ActiveConnectors++
		}
	}
	return status
}

// ClearBuffer drops all buffered records.
func (m *ConnectorManager) ClearBuffer() {
	m.mu.Lock()
	n := len(m.buffer)
	m.buffer = nil
	m.mu.Unlock()

	metrics.BufferDepth.WithLabelValues("records").Set(0)
	m.logger.Info("buffer cleared", zap.Int("records", n))
}
