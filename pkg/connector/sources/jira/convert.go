package jira

import (
	"strings"
	"time"

	"github.com/opsmind/opsmind/pkg/connector/core"
)

// parseJiraTime parses JIRA's timestamp format, falling back through
// RFC3339 variants. A zero time is returned when nothing matches.
func parseJiraTime(s string) time.Time {
	for _, layout := range []string{
		"2006-01-02T15:04:05.000-0700",
		time.RFC3339,
		"2006-01-02T15:04:05.000Z0700",
	} {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}

func displayName(u *UserRef) string {
	if u == nil {
		return ""
	}
	return u.DisplayName
}

func refName(r *NamedRef) string {
	if r == nil {
		return ""
	}
	return r.Name
}

// issueToRecord converts a JIRA issue into an issue record. The ID is
// derived from the issue key so refetches overwrite rather than duplicate.
func issueToRecord(issue *Issue, connectorName, browseURL string) *core.DataRecord {
	f := issue.Fields

	project := ""
	if f.Project != nil {
		project = f.Project.Key
	}

	return &core.DataRecord{
		ID:        "jira-issue-" + issue.Key,
		Source:    "jira",
		Type:      core.RecordTypeIssue,
		Timestamp: parseJiraTime(f.Updated),
		Data: &core.IssueData{
			Key:         issue.Key,
			Summary:     f.Summary,
			Description: f.Description,
			Status:      refName(f.Status),
			Priority:    refName(f.Priority),
			IssueType:   refName(f.IssueType),
			Project:     project,
			Assignee:    displayName(f.Assignee),
			Reporter:    displayName(f.Reporter),
			Created:     f.Created,
			Updated:     f.Updated,
			Labels:      strings.Join(f.Labels, ","),
		},
		Metadata: core.Metadata{
			OriginURL: browseURL,
			Connector: connectorName,
		},
	}
}

// changelogRecords explodes an issue's change history into one record
// per changed field, keeping only entries at or after the cutoff.
func changelogRecords(issue *Issue, cutoff time.Time, connectorName, browseURL string) []*core.DataRecord {
	if issue.Changelog == nil {
		return nil
	}

	var records []*core.DataRecord
	for _, history := range issue.Changelog.Histories {
		created := parseJiraTime(history.Created)
		if created.Before(cutoff) {
			continue
		}
		for _, item := range history.Items {
			records = append(records, &core.DataRecord{
				ID:        issue.Key + "-changelog-" + history.ID + "-" + item.Field,
				Source:    "jira",
				Type:      core.RecordTypeChangelog,
				Timestamp: created,
				Data: &core.ChangelogData{
					IssueKey:  issue.Key,
					Author:    displayName(history.Author),
					FieldName: item.Field,
					From:      item.FromString,
					To:        item.ToString,
					Created:   history.Created,
				},
				Metadata: core.Metadata{
					OriginURL: browseURL,
					Connector: connectorName,
				},
			})
		}
	}
	return records
}

func commentToRecord(issueKey string, comment *Comment, connectorName, browseURL string) *core.DataRecord {
	updated := comment.Updated
	if updated == "" {
		updated = comment.Created
	}

	return &core.DataRecord{
		ID:        "jira-comment-" + comment.ID,
		Source:    "jira",
		Type:      core.RecordTypeComment,
		Timestamp: parseJiraTime(comment.Created),
		Data: &core.CommentData{
			IssueKey: issueKey,
			Author:   displayName(comment.Author),
			Body:     comment.Body,
			Created:  comment.Created,
			Updated:  updated,
		},
		Metadata: core.Metadata{
			OriginURL: browseURL,
			Connector: connectorName,
		},
	}
}

func worklogToRecord(issueKey string, worklog *Worklog, connectorName, browseURL string) *core.DataRecord {
	return &core.DataRecord{
		ID:        "jira-worklog-" + worklog.ID,
		Source:    "jira",
		Type:      core.RecordTypeWorklog,
		Timestamp: parseJiraTime(worklog.Created),
		Data: &core.WorklogData{
			IssueKey:  issueKey,
			Author:    displayName(worklog.Author),
			Comment:   worklog.Comment,
			TimeSpent: worklog.TimeSpent,
			Started:   worklog.Started,
		},
		Metadata: core.Metadata{
			OriginURL: browseURL,
			Connector: connectorName,
		},
	}
}
