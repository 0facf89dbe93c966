package jira

import (
	"context"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/opsmind/opsmind/pkg/clients"
	"github.com/opsmind/opsmind/pkg/config"
	"github.com/opsmind/opsmind/pkg/connector/base"
	"github.com/opsmind/opsmind/pkg/connector/core"
	"github.com/opsmind/opsmind/pkg/connector/registry"
	"github.com/opsmind/opsmind/pkg/errors"
	"github.com/opsmind/opsmind/pkg/logger"
	"github.com/opsmind/opsmind/pkg/metrics"
)

// initialLookback seeds the watermark on the first fetch cycle so a
// fresh connector picks up the last hour of activity.
const initialLookback = time.Hour

func init() {
	registry.Register("jira", func(cfg *config.ConnectorConfig) (core.Connector, error) {
		source, err := NewSource(cfg)
		if err != nil {
			return nil, err
		}
		return base.New(cfg, source), nil
	})
}

// Source is the JIRA polling driver. It pulls issues, comments,
// changelog entries and worklogs that changed since its watermark.
type Source struct {
	config      *config.ConnectorConfig
	client      *Client
	logger      *zap.Logger
	projectKeys []string
	jqlFilter   string

	// watermark advances only when a full cycle completes, so an
	// aborted cycle is re-fetched on the next poll.
	watermark time.Time
}

// NewSource validates the connection parameters and builds the driver.
func NewSource(cfg *config.ConnectorConfig) (*Source, error) {
	baseURL := cfg.Param("base_url")
	username := cfg.Param("username")
	apiToken := cfg.Param("api_token")

	if baseURL == "" || username == "" || apiToken == "" {
		return nil, errors.New(errors.ErrorTypeConfig,
			"jira connector requires base_url, username and api_token")
	}

	log := logger.Get().With(
		zap.String("connector", cfg.Name),
		zap.String("source", "jira"),
	)

	httpClient := clients.NewHTTPClient(clients.DefaultHTTPConfig(), log)

	var projectKeys []string
	if raw := cfg.Param("project_keys"); raw != "" {
		for _, key := range strings.Split(raw, ",") {
			if key = strings.TrimSpace(key); key != "" {
				projectKeys = append(projectKeys, key)
			}
		}
	}

	return &Source{
		config:      cfg,
		client:      NewClient(baseURL, username, apiToken, httpClient, log),
		logger:      log,
		projectKeys: projectKeys,
		jqlFilter:   cfg.Param("jql_filter"),
	}, nil
}

// Client exposes the underlying REST client for pull-style queries.
func (s *Source) Client() *Client { return s.client }

// Connect verifies credentials against the myself endpoint.
func (s *Source) Connect(ctx context.Context) error {
	name, err := s.client.Myself(ctx)
	if err != nil {
		return err
	}
	s.logger.Info("connected to jira", zap.String("user", name))
	return nil
}

// Disconnect releases pooled connections. It is safe to call repeatedly.
func (s *Source) Disconnect(ctx context.Context) error {
	return s.client.http.Close()
}

// FetchCycle runs one incremental fetch: updated issues with their
// changelog, then recent comments, then recent worklogs. A failing
// sub-fetch degrades to an empty result with a warning; the cycle
// still completes and advances the watermark.
func (s *Source) FetchCycle(ctx context.Context) (*core.BatchStream, error) {
	if s.watermark.IsZero() {
		s.watermark = time.Now().Add(-initialLookback)
	}
	since := s.watermark

	batches := make(chan []*core.DataRecord)
	errs := make(chan error, 1)

	go func() {
		defer close(batches)

		issues := s.fetchRecentIssues(ctx, since)
		if !emit(ctx, batches, issues) {
			return
		}

		comments := s.fetchRecentComments(ctx, since)
		if !emit(ctx, batches, comments) {
			return
		}

		worklogs := s.fetchRecentWorklogs(ctx, since)
		if !emit(ctx, batches, worklogs) {
			return
		}

		s.watermark = time.Now()
	}()

	return &core.BatchStream{Batches: batches, Errors: errs}, nil
}

func emit(ctx context.Context, out chan<- []*core.DataRecord, batch []*core.DataRecord) bool {
	if len(batch) == 0 {
		return true
	}
	select {
	case out <- batch:
		return true
	case <-ctx.Done():
		return false
	}
}

// incrementalJQL builds the JQL for watermark-based fetches:
// project scope, a relative time window matching the poll interval,
// and the optional custom filter.
func (s *Source) incrementalJQL(timeField string) string {
	var parts []string

	if len(s.projectKeys) > 0 {
		clauses := make([]string, len(s.projectKeys))
		for i, key := range s.projectKeys {
			clauses[i] = "project = " + key
		}
		parts = append(parts, "("+strings.Join(clauses, " OR ")+")")
	}

	minutes := int(s.config.PollInterval.Minutes())
	if minutes < 1 {
		minutes = 1
	}
	parts = append(parts, timeField+" >= -"+strconv.Itoa(minutes)+"m")

	if s.jqlFilter != "" {
		parts = append(parts, "("+s.jqlFilter+")")
	}

	return strings.Join(parts, " AND ")
}

func (s *Source) fetchRecentIssues(ctx context.Context, since time.Time) []*core.DataRecord {
	issues, err := s.client.Search(ctx, SearchRequest{
		JQL:        s.incrementalJQL("updated"),
		Fields:     issueFieldList,
		Expand:     "changelog",
		MaxResults: s.config.BatchSize,
	})
	if err != nil {
		s.logger.Warn("issue fetch failed", zap.Error(err))
		metrics.PartialFetchFailures.WithLabelValues(s.config.Name, "issues").Inc()
		return nil
	}

	var records []*core.DataRecord
	for i := range issues {
		issue := &issues[i]
		browseURL := s.client.BrowseURL(issue.Key)
		records = append(records, issueToRecord(issue, s.config.Name, browseURL))
		records = append(records, changelogRecords(issue, since, s.config.Name, browseURL)...)
	}
	return records
}

// fetchRecentComments finds recently updated issues, then pulls each
// issue's comments and keeps those created at or after the watermark.
func (s *Source) fetchRecentComments(ctx context.Context, since time.Time) []*core.DataRecord {
	issues, err := s.client.Search(ctx, SearchRequest{
		JQL:        s.incrementalJQL("updated"),
		Fields:     "key",
		MaxResults: s.config.BatchSize,
	})
	if err != nil {
		s.logger.Warn("comment search failed", zap.Error(err))
		metrics.PartialFetchFailures.WithLabelValues(s.config.Name, "comments").Inc()
		return nil
	}

	var records []*core.DataRecord
	for i := range issues {
		key := issues[i].Key
		comments, err := s.client.IssueComments(ctx, key)
		if err != nil {
			s.logger.Warn("comment fetch failed",
				zap.String("issue", key), zap.Error(err))
			metrics.PartialFetchFailures.WithLabelValues(s.config.Name, "comments").Inc()
			continue
		}
		browseURL := s.client.BrowseURL(key)
		for j := range comments {
			if parseJiraTime(comments[j].Created).Before(since) {
				continue
			}
			records = append(records, commentToRecord(key, &comments[j], s.config.Name, browseURL))
		}
	}
	return records
}

// fetchRecentWorklogs mirrors fetchRecentComments over the worklog
// endpoint, scoped by worklogDate.
func (s *Source) fetchRecentWorklogs(ctx context.Context, since time.Time) []*core.DataRecord {
	issues, err := s.client.Search(ctx, SearchRequest{
		JQL:        s.incrementalJQL("worklogDate"),
		Fields:     "key",
		MaxResults: s.config.BatchSize,
	})
	if err != nil {
		s.logger.Warn("worklog search failed", zap.Error(err))
		metrics.PartialFetchFailures.WithLabelValues(s.config.Name, "worklogs").Inc()
		return nil
	}

	var records []*core.DataRecord
	for i := range issues {
		key := issues[i].Key
		worklogs, err := s.client.IssueWorklogs(ctx, key)
		if err != nil {
			s.logger.Warn("worklog fetch failed",
				zap.String("issue", key), zap.Error(err))
			metrics.PartialFetchFailures.WithLabelValues(s.config.Name, "worklogs").Inc()
			continue
		}
		browseURL := s.client.BrowseURL(key)
		for j := range worklogs {
			if parseJiraTime(worklogs[j].Created).Before(since) {
				continue
			}
			records = append(records, worklogToRecord(key, &worklogs[j], s.config.Name, browseURL))
		}
	}
	return records
}
