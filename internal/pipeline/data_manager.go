package pipeline

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/opsmind/opsmind/pkg/config"
	"github.com/opsmind/opsmind/pkg/connector/registry"
	"github.com/opsmind/opsmind/pkg/errors"
	"github.com/opsmind/opsmind/pkg/logger"
	"github.com/opsmind/opsmind/pkg/metrics"
	"github.com/opsmind/opsmind/pkg/static"
)

// Static projection caps, matching the bounded static context.
const (
	maxStaticIncidents = 200
	maxStaticIssues    = 200
	maxStaticComments  = 100
)

// QueryResult is the response of a context query.
type QueryResult struct {
	Status        string       `json:"status"`
	Message       string       `json:"message,omitempty"`
	Context       []ScoredItem `json:"context"`
	TotalFound    int          `json:"total_found"`
	ActiveSources []string     `json:"active_sources"`
	HasRealtime   bool         `json:"has_realtime"`
	ContextSize   int          `json:"context_size"`
}

// ScoredItem is a context item with its query relevance score.
type ScoredItem struct {
	ContextItem
	Score int `json:"relevance_score"`
}

// SourceStatus describes one registered source.
type SourceStatus struct {
	Kind        config.SourceKind `json:"kind"`
	Enabled     bool              `json:"enabled"`
	Priority    int               `json:"priority"`
	RecordCount int               `json:"record_count"`
}

// DataManagerStatus is a snapshot of the data manager.
type DataManagerStatus struct {
	Running        bool                    `json:"running"`
	TotalSources   int                     `json:"total_sources"`
	EnabledSources int                     `json:"enabled_sources"`
	ContextSize    int                     `json:"context_size"`
	Sources        map[string]SourceStatus `json:"sources"`
	Realtime       *ContextStatus          `json:"realtime,omitempty"`
}

// DataManager is the unified front over static CSV datasets and
// realtime connectors. Sources are registered declaratively, started
// together, and queried through one keyword-scoring surface.
type DataManager struct {
	logger *zap.Logger

	mu           sync.Mutex
	sources      map[string]*config.SourceConfig
	staticItems  []ContextItem
	staticCounts map[string]int
	contextMgr   *ContextManager
	running      bool

	cbMu      sync.RWMutex
	callbacks []ContextCallback
}

// NewDataManager creates an empty data manager.
func NewDataManager() *DataManager {
	return &DataManager{
		logger:       logger.Get().With(zap.String("component", "data_manager")),
		sources:      make(map[string]*config.SourceConfig),
		staticCounts: make(map[string]int),
	}
}

// AddSource registers a source. A name collision replaces the existing
// source with a warning.
func (dm *DataManager) AddSource(cfg *config.SourceConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	dm.mu.Lock()
	if _, exists := dm.sources[cfg.Name]; exists {
		dm.logger.Warn("source already exists, replacing", zap.String("name", cfg.Name))
	}
	dm.sources[cfg.Name] = cfg
	dm.mu.Unlock()

	dm.logger.Info("source added",
		zap.String("name", cfg.Name), zap.String("kind", string(cfg.Kind)))
	return nil
}

// Enable marks a source enabled. Takes effect on the next Start.
func (dm *DataManager) Enable(name string) {
	dm.setEnabled(name, true)
}

// Disable marks a source disabled.
func (dm *DataManager) Disable(name string) {
	dm.setEnabled(name, false)
}

func (dm *DataManager) setEnabled(name string, enabled bool) {
	dm.mu.Lock()
	defer dm.mu.Unlock()
	if cfg, ok := dm.sources[name]; ok {
		cfg.Enabled = enabled
		dm.logger.Info("source toggled",
			zap.String("name", name), zap.Bool("enabled", enabled))
	}
}

// AddCallback registers a subscriber for live context updates.
func (dm *DataManager) AddCallback(cb ContextCallback) {
	dm.cbMu.Lock()
	defer dm.cbMu.Unlock()
	dm.callbacks = append(dm.callbacks, cb)
}

// Start loads the enabled static sources and starts the realtime ones.
// A static source that fails to load is reported and skipped; realtime
// startup failures degrade the same way.
func (dm *DataManager) Start(ctx context.Context) error {
	dm.mu.Lock()
	if dm.running {
		dm.mu.Unlock()
		return errors.New(errors.ErrorTypeInternal, "data manager already running")
	}
	dm.running = true
	configs := make([]*config.SourceConfig, 0, len(dm.sources))
	for _, cfg := range dm.sources {
		configs = append(configs, cfg)
	}
	dm.mu.Unlock()

	var staticItems []ContextItem
	counts := make(map[string]int)
	var live []*config.SourceConfig

	for _, cfg := range configs {
		if !cfg.Enabled {
			continue
		}
		switch cfg.Kind {
		case config.SourceIncidentsCSV:
			items, err := loadIncidentItems(cfg)
			if err != nil {
				dm.logger.Error("failed to load incident source",
					zap.String("name", cfg.Name), zap.Error(err))
				continue
			}
			staticItems = append(staticItems, items...)
			counts[cfg.Name] = len(items)

		case config.SourceIssuesCSV:
			items, err := loadIssueExportItems(cfg)
			if err != nil {
				dm.logger.Error("failed to load issue export source",
					zap.String("name", cfg.Name), zap.Error(err))
				continue
			}
			staticItems = append(staticItems, items...)
			counts[cfg.Name] = len(items)

		case config.SourceJiraRealtime:
			live = append(live, cfg)
		}
	}

	var contextMgr *ContextManager
	if len(live) > 0 {
		connectors := NewConnectorManager()
		for _, cfg := range live {
			conn, err := registry.Create(cfg.Connector.Type, cfg.Connector)
			if err != nil {
				dm.logger.Error("failed to create connector",
					zap.String("name", cfg.Name), zap.Error(err))
				continue
			}
			connectors.AddConnector(conn)
		}
		contextMgr = NewContextManager(connectors)
		contextMgr.AddUpdateCallback(dm.handleLiveUpdate)
		contextMgr.Start(ctx)
	}

	dm.mu.Lock()
	dm.staticItems = staticItems
	dm.staticCounts = counts
	dm.contextMgr = contextMgr
	dm.mu.Unlock()

	dm.logger.Info("data manager started",
		zap.Int("static_items", len(staticItems)),
		zap.Int("live_sources", len(live)))
	return nil
}

// Stop tears down the realtime sources. Static data stays loaded.
func (dm *DataManager) Stop(ctx context.Context) {
	dm.mu.Lock()
	dm.running = false
	contextMgr := dm.contextMgr
	dm.mu.Unlock()

	if contextMgr != nil {
		contextMgr.Stop(ctx)
	}
	dm.logger.Info("data manager stopped")
}

func (dm *DataManager) handleLiveUpdate(items []ContextItem) {
	dm.cbMu.RLock()
	callbacks := dm.callbacks
	dm.cbMu.RUnlock()
	for _, cb := range callbacks {
		cb(items)
	}
}

// Query scores every context item, static and live, against the
// lowercased keyword terms of the query. Score is the total keyword
// occurrence count in the item's text, weighted by source priority;
// zero-score items are discarded.
func (dm *DataManager) Query(query string, limit int) QueryResult {
	timer := metrics.NewTimer()
	defer func() { metrics.QueryLatency.Observe(timer.Stop().Seconds()) }()

	dm.mu.Lock()
	running := dm.running
	items := make([]ContextItem, len(dm.staticItems))
	copy(items, dm.staticItems)
	contextMgr := dm.contextMgr
	activeSources := make([]string, 0, len(dm.sources))
	for name, cfg := range dm.sources {
		if cfg.Enabled {
			activeSources = append(activeSources, name)
		}
	}
	dm.mu.Unlock()

	if !running {
		metrics.QueriesTotal.WithLabelValues("error").Inc()
		return QueryResult{Status: "error", Message: "data manager not running"}
	}

	if contextMgr != nil {
		items = append(items, contextMgr.RecentContext(0, "")...)
	}

	keywords := strings.Fields(strings.ToLower(query))
	var relevant []ScoredItem
	for _, item := range items {
		score := scoreItem(item, keywords)
		if score == 0 {
			continue
		}
		relevant = append(relevant, ScoredItem{ContextItem: item, Score: score})
	}

	sort.SliceStable(relevant, func(i, j int) bool {
		return relevant[i].Score > relevant[j].Score
	})

	total := len(relevant)
	if limit > 0 && len(relevant) > limit {
		relevant = relevant[:limit]
	}
	sort.Strings(activeSources)

	metrics.QueriesTotal.WithLabelValues("success").Inc()
	return QueryResult{
		Status:        "success",
		Context:       relevant,
		TotalFound:    total,
		ActiveSources: activeSources,
		HasRealtime:   contextMgr != nil,
		ContextSize:   len(items),
	}
}

// scoreItem counts keyword occurrences in the item's searchable text
// and multiplies by the source priority weight.
func scoreItem(item ContextItem, keywords []string) int {
	if len(keywords) == 0 {
		return 0
	}

	var sb strings.Builder
	sb.WriteString(item.Content)
	for _, v := range item.Fields {
		sb.WriteByte(' ')
		sb.WriteString(v)
	}
	text := strings.ToLower(sb.String())

	occurrences := 0
	for _, kw := range keywords {
		occurrences += strings.Count(text, kw)
	}
	if occurrences == 0 {
		return 0
	}

	priority := item.Priority
	if priority <= 0 {
		priority = 1
	}
	return occurrences * priority
}

// Status reports every source and the nested realtime status. A
// degraded connector shows up in the report but never fails the call.
func (dm *DataManager) Status() DataManagerStatus {
	dm.mu.Lock()
	status := DataManagerStatus{
		Running:      dm.running,
		TotalSources: len(dm.sources),
		ContextSize:  len(dm.staticItems),
		Sources:      make(map[string]SourceStatus, len(dm.sources)),
	}
	for name, cfg := range dm.sources {
		if cfg.Enabled {
			status.EnabledSources++
		}
		status.Sources[name] = SourceStatus{
			Kind:        cfg.Kind,
			Enabled:     cfg.Enabled,
			Priority:    cfg.Priority,
			RecordCount: dm.staticCounts[name],
		}
	}
	contextMgr := dm.contextMgr
	dm.mu.Unlock()

	if contextMgr != nil {
		rt := contextMgr.Status()
		status.Realtime = &rt
		status.ContextSize += rt.BufferSize
	}
	return status
}

// loadIncidentItems projects the incident CSV into context items,
// capped to keep the static context bounded.
func loadIncidentItems(cfg *config.SourceConfig) ([]ContextItem, error) {
	rows, err := static.LoadIncidents(cfg.Path)
	if err != nil {
		return nil, err
	}
	if len(rows) > maxStaticIncidents {
		rows = rows[:maxStaticIncidents]
	}

	items := make([]ContextItem, 0, len(rows))
	now := time.Now()
	for _, row := range rows {
		items = append(items, ContextItem{
			ID:        row["number"],
			Source:    cfg.Name,
			Type:      "incident",
			Timestamp: now,
			Content:   row["short_description"] + " " + row["description"],
			Fields: map[string]string{
				"state":             row["incident_state"],
				"category":          row["category"],
				"symptom":           row["u_symptom"],
				"priority_level":    row["priority"],
				"resolution":        row["closed_code"],
				"short_description": row["short_description"],
				"description":       row["description"],
			},
			Priority: cfg.Priority,
		})
	}
	return items, nil
}

// loadIssueExportItems projects an issue-tracker CSV export into
// context items: issues first, then comments, each capped.
func loadIssueExportItems(cfg *config.SourceConfig) ([]ContextItem, error) {
	collections, err := static.LoadIssueExport(cfg.Path)
	if err != nil {
		return nil, err
	}

	issues := collections.Issues
	if len(issues) > maxStaticIssues {
		issues = issues[:maxStaticIssues]
	}
	comments := collections.Comments
	if len(comments) > maxStaticComments {
		comments = comments[:maxStaticComments]
	}

	items := make([]ContextItem, 0, len(issues)+len(comments))
	now := time.Now()

	for _, row := range issues {
		ts := parseStaticTime(row["updated"], now)
		items = append(items, ContextItem{
			ID:        row["key"],
			Source:    cfg.Name,
			Type:      ContextTypeIssue,
			Timestamp: ts,
			Content:   row["summary"] + " " + row["description"],
			Fields: map[string]string{
				"summary":        row["summary"],
				"status":         row["status.name"],
				"priority_level": row["priority.name"],
				"assignee":       row["assignee.displayName"],
				"reporter":       row["reporter.displayName"],
				"description":    row["description"],
			},
			Priority: cfg.Priority,
		})
	}

	for _, row := range comments {
		ts := parseStaticTime(row["created"], now)
		items = append(items, ContextItem{
			ID:        "comment-" + row["id"],
			Source:    cfg.Name,
			Type:      ContextTypeComment,
			Timestamp: ts,
			Content:   row["body"],
			Fields: map[string]string{
				"issue_key": row["issue_key"],
				"author":    row["author.displayName"],
				"body":      row["body"],
			},
			Priority: cfg.Priority,
		})
	}
	return items, nil
}

func parseStaticTime(s string, fallback time.Time) time.Time {
	for _, layout := range []string{
		time.RFC3339,
		"2006-01-02T15:04:05.000-0700",
		"2006-01-02 15:04:05",
	} {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return fallback
}
