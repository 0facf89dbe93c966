// Package config provides the unified configuration system for OpsMind.
// It defines the ConnectorConfig structure that all real-time connectors
// use and the SourceConfig structure the data manager uses to describe
// static and live data sources.
//
// Configuration is created once at setup time and treated as read-only
// afterwards; connectors never mutate their config.
//
// Example usage:
//
//	cfg := config.NewConnectorConfig("jira-prod", "jira")
//	cfg.PollInterval = 2 * time.Minute
//	cfg.Connection["base_url"] = "https://jira.example.com"
//
//	if err := cfg.Validate(); err != nil {
//	    log.Fatal(err)
//	}
package config

import (
	"fmt"
	"time"
)

// ConnectorConfig holds the configuration for a single real-time connector
// instance. It is immutable after construction.
type ConnectorConfig struct {
	// Name uniquely identifies the connector instance
	Name string `yaml:"name" json:"name"`
	// Type specifies the connector type (e.g., "jira")
	Type string `yaml:"type" json:"type"`
	// Enabled controls whether the connector participates in StartAll
	Enabled bool `yaml:"enabled" json:"enabled"`

	// PollInterval is the idle time between fetch cycles
	PollInterval time.Duration `yaml:"poll_interval" json:"poll_interval"`
	// MaxRetries is the number of consecutive failed fetch cycles
	// tolerated before the connector transitions to the error state
	MaxRetries int `yaml:"max_retries" json:"max_retries"`
	// RetryDelay is the pause between failed fetch cycles
	RetryDelay time.Duration `yaml:"retry_delay" json:"retry_delay"`
	// BatchSize caps the number of records requested per sub-fetch
	BatchSize int `yaml:"batch_size" json:"batch_size"`

	// Connection carries connector-specific parameters such as
	// base URL, username, API token and project keys
	Connection map[string]string `yaml:"connection" json:"connection"`

	// Filters restricts delivered records: each key names a payload
	// field, each value is the set of accepted values. A record whose
	// payload lacks the field passes unfiltered.
	Filters map[string][]string `yaml:"filters" json:"filters"`

	// Transform carries optional transformation parameters
	Transform map[string]string `yaml:"transform" json:"transform"`
}

// NewConnectorConfig creates a ConnectorConfig with production defaults.
// Specific connectors can override these before first use.
func NewConnectorConfig(name, connectorType string) *ConnectorConfig {
	return &ConnectorConfig{
		Name:         name,
		Type:         connectorType,
		Enabled:      true,
		PollInterval: 60 * time.Second,
		MaxRetries:   3,
		RetryDelay:   5 * time.Second,
		BatchSize:    100,
		Connection:   make(map[string]string),
		Filters:      make(map[string][]string),
		Transform:    make(map[string]string),
	}
}

// Validate checks the configuration for correctness. Connectors should
// call this before starting to catch errors early.
func (c *ConnectorConfig) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("name is required")
	}
	if c.Type == "" {
		return fmt.Errorf("type is required")
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("poll_interval must be positive")
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("max_retries cannot be negative")
	}
	if c.RetryDelay < 0 {
		return fmt.Errorf("retry_delay cannot be negative")
	}
	if c.BatchSize <= 0 {
		return fmt.Errorf("batch_size must be positive")
	}
	return nil
}

// Param returns a connection parameter by key.
func (c *ConnectorConfig) Param(key string) string {
	if c.Connection == nil {
		return ""
	}
	return c.Connection[key]
}

// SourceKind identifies the kind of data source registered with the
// data manager.
type SourceKind string

const (
	// SourceIncidentsCSV is a static CSV export of incident tickets
	SourceIncidentsCSV SourceKind = "incidents_csv"
	// SourceIssuesCSV is a static CSV export of issue-tracker data
	SourceIssuesCSV SourceKind = "issues_csv"
	// SourceJiraRealtime is a live polling connector against a JIRA API
	SourceJiraRealtime SourceKind = "jira_realtime"
)

// SourceConfig describes one data source owned by the data manager.
type SourceConfig struct {
	// Name uniquely identifies the source
	Name string `yaml:"name" json:"name"`
	// Kind selects the loader or connector used for this source
	Kind SourceKind `yaml:"kind" json:"kind"`
	// Enabled controls whether the source is loaded/started
	Enabled bool `yaml:"enabled" json:"enabled"`
	// Priority weights relevance scores for items from this source
	Priority int `yaml:"priority" json:"priority"`
	// Path locates static files (CSV sources only)
	Path string `yaml:"path,omitempty" json:"path,omitempty"`
	// Connector configures a live connector (realtime sources only)
	Connector *ConnectorConfig `yaml:"connector,omitempty" json:"connector,omitempty"`
}

// Validate checks the source configuration for correctness.
func (s *SourceConfig) Validate() error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	switch s.Kind {
	case SourceIncidentsCSV, SourceIssuesCSV:
		if s.Path == "" {
			return fmt.Errorf("path is required for %s source %s", s.Kind, s.Name)
		}
	case SourceJiraRealtime:
		if s.Connector == nil {
			return fmt.Errorf("connector config is required for realtime source %s", s.Name)
		}
		if err := s.Connector.Validate(); err != nil {
			return fmt.Errorf("source %s: %w", s.Name, err)
		}
	default:
		return fmt.Errorf("unknown source kind %q", s.Kind)
	}
	if s.Priority <= 0 {
		s.Priority = 1
	}
	return nil
}
