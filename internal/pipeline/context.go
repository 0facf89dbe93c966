package pipeline

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/opsmind/opsmind/pkg/connector/core"
	"github.com/opsmind/opsmind/pkg/logger"
	"github.com/opsmind/opsmind/pkg/metrics"
)

// Context item types produced by projection.
const (
	ContextTypeIssue     = "jira_issue"
	ContextTypeComment   = "jira_comment"
	ContextTypeChangelog = "jira_changelog"
	ContextTypeWorklog   = "jira_worklog"
)

// ContextItem is the projection-friendly shape records are flattened
// into before entering the context store. Content concatenates the
// human-readable text used for keyword matching.
type ContextItem struct {
	ID        string            `json:"id"`
	Source    string            `json:"source"`
	Type      string            `json:"type"`
	Timestamp time.Time         `json:"timestamp"`
	Content   string            `json:"content"`
	Fields    map[string]string `json:"fields"`
	Priority  int               `json:"priority"`
}

// ContextCallback receives newly projected items as they arrive.
type ContextCallback func(items []ContextItem)

// ContextManager subscribes to a ConnectorManager and maintains a
// bounded buffer of projected context items.
type ContextManager struct {
	connectors *ConnectorManager
	logger     *zap.Logger

	mu        sync.Mutex
	buffer    []ContextItem
	bufferMax int

	cbMu      sync.RWMutex
	callbacks []ContextCallback
}

// NewContextManager wires a context manager onto the given connector
// manager.
func NewContextManager(connectors *ConnectorManager) *ContextManager {
	cm := &ContextManager{
		connectors: connectors,
		logger:     logger.Get().With(zap.String("component", "context_manager")),
		bufferMax:  defaultBufferSize,
	}
	connectors.AddDataCallback(cm.processRecords)
	connectors.AddErrorCallback(func(ev ErrorEvent) {
		cm.logger.Error("live connector error",
			zap.String("connector", ev.Connector), zap.Error(ev.Err))
	})
	return cm
}

// Start starts the underlying connectors.
func (cm *ContextManager) Start(ctx context.Context) {
	cm.connectors.StartAll(ctx)
	cm.logger.Info("context manager started")
}

// Stop stops the underlying connectors.
func (cm *ContextManager) Stop(ctx context.Context) {
	cm.connectors.StopAll(ctx)
	cm.logger.Info("context manager stopped")
}

// AddUpdateCallback registers a subscriber for newly projected items.
func (cm *ContextManager) AddUpdateCallback(cb ContextCallback) {
	cm.cbMu.Lock()
	defer cm.cbMu.Unlock()
	cm.callbacks = append(cm.callbacks, cb)
}

func (cm *ContextManager) processRecords(records []*core.DataRecord) {
	items := make([]ContextItem, 0, len(records))
	for _, rec := range records {
		if item, ok := Project(rec); ok {
			items = append(items, item)
		}
	}
	if len(items) == 0 {
		return
	}

	cm.mu.Lock()
	cm.buffer = append(cm.buffer, items...)
	if excess := len(cm.buffer) - cm.bufferMax; excess > 0 {
		cm.buffer = cm.buffer[excess:]
	}
	depth := len(cm.buffer)
	cm.mu.Unlock()

	metrics.BufferDepth.WithLabelValues("context").Set(float64(depth))

	cm.cbMu.RLock()
	callbacks := cm.callbacks
	cm.cbMu.RUnlock()
	for _, cb := range callbacks {
		cm.safeCall(cb, items)
	}
}

func (cm *ContextManager) safeCall(cb ContextCallback, items []ContextItem) {
	defer func() {
		if r := recover(); r != nil {
			cm.logger.Error("context callback panicked", zap.Any("panic", r))
		}
	}()
	cb(items)
}

// RecentContext returns up to limit items, newest first, optionally
// filtered by context type.
func (cm *ContextManager) RecentContext(limit int, typeFilter string) []ContextItem {
	cm.mu.Lock()
	snapshot := make([]ContextItem, 0, len(cm.buffer))
	for _, item := range cm.buffer {
		if typeFilter != "" && item.Type != typeFilter {
			continue
		}
		snapshot = append(snapshot, item)
	}
	cm.mu.Unlock()

	sort.SliceStable(snapshot, func(i, j int) bool {
		return snapshot[i].Timestamp.After(snapshot[j].Timestamp)
	})

	if limit > 0 && len(snapshot) > limit {
		snapshot = snapshot[:limit]
	}
	return snapshot
}

// ContextStatus is a snapshot of the context manager.
type ContextStatus struct {
	Connectors ManagerStatus `json:"connectors"`
	BufferSize int           `json:"buffer_size"`
	BufferMax  int           `json:"buffer_max"`
	Callbacks  int           `json:"callbacks"`
}

// Status reports the context buffer and the underlying connectors.
func (cm *ContextManager) Status() ContextStatus {
	cm.mu.Lock()
	size := len(cm.buffer)
	cm.mu.Unlock()

	cm.cbMu.RLock()
	callbacks := len(cm.callbacks)
	cm.cbMu.RUnlock()

	return ContextStatus{
		Connectors: cm.connectors.Status(),
		BufferSize: size,
		BufferMax:  cm.bufferMax,
		Callbacks:  callbacks,
	}
}

// Project flattens a record into a context item. It is a pure function
// keyed on record type; unknown types return false so future record
// types degrade gracefully.
func Project(rec *core.DataRecord) (ContextItem, bool) {
	item := ContextItem{
		ID:        rec.ID,
		Source:    rec.Source,
		Timestamp: rec.Timestamp,
		Fields:    map[string]string{"origin_url": rec.Metadata.OriginURL},
	}

	field := func(name string) string {
		v, _ := rec.Data.Field(name)
		return v
	}

	switch rec.Type {
	case core.RecordTypeIssue:
		item.Type = ContextTypeIssue
		for _, name := range []string{"key", "summary", "description", "status", "priority", "assignee", "reporter"} {
			item.Fields[name] = field(name)
		}
		item.Content = field("summary") + " " + field("description")

	case core.RecordTypeComment:
		item.Type = ContextTypeComment
		for _, name := range []string{"issue_key", "author", "body", "created"} {
			item.Fields[name] = field(name)
		}
		item.Content = field("body")

	case core.RecordTypeChangelog:
		item.Type = ContextTypeChangelog
		for _, name := range []string{"issue_key", "field", "from", "to", "author", "created"} {
			item.Fields[name] = field(name)
		}
		item.Content = "Field " + field("field") + " changed from " + field("from") + " to " + field("to")

	case core.RecordTypeWorklog:
		item.Type = ContextTypeWorklog
		for _, name := range []string{"issue_key", "author", "time_spent", "comment", "created"} {
			item.Fields[name] = field(name)
		}
		item.Content = "Work logged: " + field("time_spent") + " - " + field("comment")

	default:
		return ContextItem{}, false
	}

	return item, true
}
