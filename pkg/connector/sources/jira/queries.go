package jira

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/opsmind/opsmind/pkg/connector/core"
)

// The pull-style query API shares the client and credentials with the
// polling driver but runs on demand and never touches the watermark.

// IssueQuery describes a structured issue search.
type IssueQuery struct {
	Projects   []string
	Statuses   []string
	Assignee   string
	Text       string
	Since      time.Duration
	MaxResults int
}

// CommentQuery describes a comment search over a set of issues.
type CommentQuery struct {
	IssueKeys  []string
	Author     string
	Since      time.Duration
	MaxResults int
}

// IssueDetail is the result of a deep single-issue fetch.
type IssueDetail struct {
	Issue     *core.DataRecord
	Comments  []*core.DataRecord
	Changelog []*core.DataRecord
}

// SearchIssues runs a structured issue search and returns issue records
// de-duplicated by issue key.
func (s *Source) SearchIssues(ctx context.Context, q IssueQuery) ([]*core.DataRecord, error) {
	maxResults := q.MaxResults
	if maxResults <= 0 {
		maxResults = s.config.BatchSize
	}

	issues, err := s.client.Search(ctx, SearchRequest{
		JQL:        buildIssueJQL(q),
		Fields:     issueFieldList,
		MaxResults: maxResults,
	})
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool, len(issues))
	records := make([]*core.DataRecord, 0, len(issues))
	for i := range issues {
		issue := &issues[i]
		if seen[issue.Key] {
			continue
		}
		seen[issue.Key] = true
		records = append(records, issueToRecord(issue, s.config.Name, s.client.BrowseURL(issue.Key)))
	}
	return records, nil
}

// SearchComments pulls comments from the given issues, filtered by
// author and age, de-duplicated by comment id.
func (s *Source) SearchComments(ctx context.Context, q CommentQuery) ([]*core.DataRecord, error) {
	var cutoff time.Time
	if q.Since > 0 {
		cutoff = time.Now().Add(-q.Since)
	}

	seen := make(map[string]bool)
	var records []*core.DataRecord
	for _, key := range q.IssueKeys {
		comments, err := s.client.IssueComments(ctx, key)
		if err != nil {
			return nil, err
		}
		browseURL := s.client.BrowseURL(key)
		for i := range comments {
			c := &comments[i]
			if seen[c.ID] {
				continue
			}
			if q.Author != "" && displayName(c.Author) != q.Author {
				continue
			}
			if !cutoff.IsZero() && parseJiraTime(c.Created).Before(cutoff) {
				continue
			}
			seen[c.ID] = true
			records = append(records, commentToRecord(key, c, s.config.Name, browseURL))
			if q.MaxResults > 0 && len(records) >= q.MaxResults {
				return records, nil
			}
		}
	}
	return records, nil
}

// FetchIssue performs a deep fetch of one issue: the issue itself, all
// of its comments, and its full change history.
func (s *Source) FetchIssue(ctx context.Context, key string) (*IssueDetail, error) {
	issue, err := s.client.GetIssue(ctx, key)
	if err != nil {
		return nil, err
	}

	browseURL := s.client.BrowseURL(key)
	detail := &IssueDetail{
		Issue:     issueToRecord(issue, s.config.Name, browseURL),
		Changelog: changelogRecords(issue, time.Time{}, s.config.Name, browseURL),
	}

	comments, err := s.client.IssueComments(ctx, key)
	if err != nil {
		return nil, err
	}
	for i := range comments {
		detail.Comments = append(detail.Comments,
			commentToRecord(key, &comments[i], s.config.Name, browseURL))
	}

	return detail, nil
}

// CorrelateKeywords searches issue text for the given keywords within a
// relative time window and returns matching issue records.
func (s *Source) CorrelateKeywords(ctx context.Context, keywords []string, window time.Duration) ([]*core.DataRecord, error) {
	terms := make([]string, 0, len(keywords))
	for _, kw := range keywords {
		if kw = strings.TrimSpace(kw); kw != "" {
			terms = append(terms, `text ~ "`+escapeJQLString(kw)+`"`)
		}
	}
	if len(terms) == 0 {
		return nil, nil
	}

	minutes := int(window.Minutes())
	if minutes < 1 {
		minutes = 1
	}

	jql := "(" + strings.Join(terms, " OR ") + ") AND updated >= -" + strconv.Itoa(minutes) + "m"

	issues, err := s.client.Search(ctx, SearchRequest{
		JQL:        jql,
		Fields:     issueFieldList,
		MaxResults: s.config.BatchSize,
	})
	if err != nil {
		return nil, err
	}

	records := make([]*core.DataRecord, 0, len(issues))
	for i := range issues {
		issue := &issues[i]
		records = append(records, issueToRecord(issue, s.config.Name, s.client.BrowseURL(issue.Key)))
	}
	return records, nil
}

// buildIssueJQL assembles the JQL for a structured issue query.
func buildIssueJQL(q IssueQuery) string {
	var parts []string

	if len(q.Projects) > 0 {
		clauses := make([]string, len(q.Projects))
		for i, p := range q.Projects {
			clauses[i] = "project = " + p
		}
		parts = append(parts, "("+strings.Join(clauses, " OR ")+")")
	}

	if len(q.Statuses) > 0 {
		quoted := make([]string, len(q.Statuses))
		for i, st := range q.Statuses {
			quoted[i] = `"` + escapeJQLString(st) + `"`
		}
		parts = append(parts, "status IN ("+strings.Join(quoted, ", ")+")")
	}

	if q.Assignee != "" {
		parts = append(parts, `assignee = "`+escapeJQLString(q.Assignee)+`"`)
	}

	if q.Text != "" {
		parts = append(parts, `text ~ "`+escapeJQLString(q.Text)+`"`)
	}

	if q.Since > 0 {
		minutes := int(q.Since.Minutes())
		if minutes < 1 {
			minutes = 1
		}
		parts = append(parts, "updated >= -"+strconv.Itoa(minutes)+"m")
	}

	if len(parts) == 0 {
		return "order by updated desc"
	}
	return strings.Join(parts, " AND ")
}

func escapeJQLString(s string) string {
	return strings.ReplaceAll(s, `"`, `\"`)
}
