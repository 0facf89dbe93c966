package core

import (
	"strings"
	"time"
)

// RecordType identifies the kind of payload carried by a DataRecord.
type RecordType string

const (
	RecordTypeIssue     RecordType = "issue"
	RecordTypeComment   RecordType = "comment"
	RecordTypeChangelog RecordType = "changelog"
	RecordTypeWorklog   RecordType = "worklog"
)

// Payload is the typed content of a DataRecord. Each source emits one
// concrete payload struct per record type; consumers switch on Kind or
// access individual fields by name through Field.
type Payload interface {
	// Kind returns the record type this payload represents.
	Kind() RecordType

	// SearchText returns the concatenated free text of the payload,
	// used for keyword queries over recent data.
	SearchText() string

	// Field returns the named field as a string. The second return
	// value reports whether the field exists on this payload kind.
	Field(name string) (string, bool)
}

// Metadata carries provenance for a record.
type Metadata struct {
	OriginURL string `json:"origin_url,omitempty"`
	Connector string `json:"connector"`
}

// DataRecord is the unit of data flowing out of a connector. The ID is
// a natural key derived from the upstream entity, so re-fetching the
// same entity produces the same ID.
type DataRecord struct {
	ID        string     `json:"id"`
	Source    string     `json:"source"`
	Type      RecordType `json:"type"`
	Timestamp time.Time  `json:"timestamp"`
	Data      Payload    `json:"data"`
	Metadata  Metadata   `json:"metadata"`
}

// IssueData is the payload for issue records.
type IssueData struct {
	Key         string `json:"key"`
	Summary     string `json:"summary"`
	Description string `json:"description"`
	Status      string `json:"status"`
	Priority    string `json:"priority"`
	IssueType   string `json:"issue_type"`
	Project     string `json:"project"`
	Assignee    string `json:"assignee"`
	Reporter    string `json:"reporter"`
	Created     string `json:"created"`
	Updated     string `json:"updated"`
	Labels      string `json:"labels"`
}

func (d *IssueData) Kind() RecordType { return RecordTypeIssue }

func (d *IssueData) SearchText() string {
	return strings.Join([]string{d.Key, d.Summary, d.Description, d.Status, d.Priority, d.Labels}, " ")
}

func (d *IssueData) Field(name string) (string, bool) {
	switch name {
	case "key":
		return d.Key, true
	case "summary":
		return d.Summary, true
	case "description":
		return d.Description, true
	case "status":
		return d.Status, true
	case "priority":
		return d.Priority, true
	case "issue_type":
		return d.IssueType, true
	case "project":
		return d.Project, true
	case "assignee":
		return d.Assignee, true
	case "reporter":
		return d.Reporter, true
	case "created":
		return d.Created, true
	case "updated":
		return d.Updated, true
	case "labels":
		return d.Labels, true
	}
	return "", false
}

// CommentData is the payload for comment records.
type CommentData struct {
	IssueKey string `json:"issue_key"`
	Author   string `json:"author"`
	Body     string `json:"body"`
	Created  string `json:"created"`
	Updated  string `json:"updated"`
}

func (d *CommentData) Kind() RecordType { return RecordTypeComment }

func (d *CommentData) SearchText() string {
	return strings.Join([]string{d.IssueKey, d.Author, d.Body}, " ")
}

func (d *CommentData) Field(name string) (string, bool) {
	switch name {
	case "issue_key":
		return d.IssueKey, true
	case "author":
		return d.Author, true
	case "body":
		return d.Body, true
	case "created":
		return d.Created, true
	case "updated":
		return d.Updated, true
	}
	return "", false
}

// ChangelogData is the payload for a single field transition taken from
// an issue's change history.
type ChangelogData struct {
	IssueKey  string `json:"issue_key"`
	Author    string `json:"author"`
	FieldName string `json:"field"`
	From      string `json:"from"`
	To        string `json:"to"`
	Created   string `json:"created"`
}

func (d *ChangelogData) Kind() RecordType { return RecordTypeChangelog }

func (d *ChangelogData) SearchText() string {
	return strings.Join([]string{d.IssueKey, d.FieldName, d.From, d.To}, " ")
}

func (d *ChangelogData) Field(name string) (string, bool) {
	switch name {
	case "issue_key":
		return d.IssueKey, true
	case "author":
		return d.Author, true
	case "field":
		return d.FieldName, true
	case "from":
		return d.From, true
	case "to":
		return d.To, true
	case "created":
		return d.Created, true
	}
	return "", false
}

// WorklogData is the payload for worklog records.
type WorklogData struct {
	IssueKey  string `json:"issue_key"`
	Author    string `json:"author"`
	Comment   string `json:"comment"`
	TimeSpent string `json:"time_spent"`
	Started   string `json:"started"`
}

func (d *WorklogData) Kind() RecordType { return RecordTypeWorklog }

func (d *WorklogData) SearchText() string {
	return strings.Join([]string{d.IssueKey, d.Author, d.Comment}, " ")
}

func (d *WorklogData) Field(name string) (string, bool) {
	switch name {
	case "issue_key":
		return d.IssueKey, true
	case "author":
		return d.Author, true
	case "comment":
		return d.Comment, true
	case "time_spent":
		return d.TimeSpent, true
	case "started":
		return d.Started, true
	}
	return "", false
}
