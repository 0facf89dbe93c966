// Package jira implements the JIRA realtime source: a REST client over
// Basic auth, the polling driver that feeds the supervised connector,
// and a pull-style query API for on-demand lookups.
package jira

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/opsmind/opsmind/pkg/clients"
	"github.com/opsmind/opsmind/pkg/errors"
)

const (
	pathMyself = "/rest/api/2/myself"
	pathSearch = "/rest/api/2/search"
	pathIssue  = "/rest/api/2/issue/"
)

// issueFieldList is the field set requested for full issue fetches.
const issueFieldList = "summary,description,status,priority,issuetype,project,assignee,reporter,created,updated,components,labels,fixVersions"

// Client is a minimal JIRA REST API v2 client.
type Client struct {
	baseURL    string
	authHeader string
	http       *clients.HTTPClient
	logger     *zap.Logger
}

// NewClient creates a JIRA client with Basic auth credentials.
func NewClient(baseURL, username, apiToken string, httpClient *clients.HTTPClient, logger *zap.Logger) *Client {
	auth := base64.StdEncoding.EncodeToString([]byte(username + ":" + apiToken))
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		authHeader: "Basic " + auth,
		http:       httpClient,
		logger:     logger,
	}
}

// Myself verifies the credentials and returns the authenticated user's
// display name.
func (c *Client) Myself(ctx context.Context) (string, error) {
	var user struct {
		DisplayName string `json:"displayName"`
	}
	if err := c.getJSON(ctx, c.baseURL+pathMyself, &user); err != nil {
		return "", err
	}
	return user.DisplayName, nil
}

// SearchRequest describes a JQL search call.
type SearchRequest struct {
	JQL        string
	Fields     string
	Expand     string
	MaxResults int
}

// Search runs a JQL query and returns the matching issues.
func (c *Client) Search(ctx context.Context, req SearchRequest) ([]Issue, error) {
	params := url.Values{}
	params.Set("jql", req.JQL)
	params.Set("maxResults", strconv.Itoa(req.MaxResults))
	if req.Fields != "" {
		params.Set("fields", req.Fields)
	}
	if req.Expand != "" {
		params.Set("expand", req.Expand)
	}

	var resp struct {
		Issues []Issue `json:"issues"`
	}
	if err := c.getJSON(ctx, c.baseURL+pathSearch+"?"+params.Encode(), &resp); err != nil {
		return nil, err
	}
	return resp.Issues, nil
}

// GetIssue fetches a single issue with its changelog expanded.
func (c *Client) GetIssue(ctx context.Context, key string) (*Issue, error) {
	params := url.Values{}
	params.Set("fields", issueFieldList)
	params.Set("expand", "changelog")

	var issue Issue
	if err := c.getJSON(ctx, c.baseURL+pathIssue+url.PathEscape(key)+"?"+params.Encode(), &issue); err != nil {
		return nil, err
	}
	return &issue, nil
}

// IssueComments fetches all comments on an issue.
func (c *Client) IssueComments(ctx context.Context, key string) ([]Comment, error) {
	var resp struct {
		Comments []Comment `json:"comments"`
	}
	if err := c.getJSON(ctx, c.baseURL+pathIssue+url.PathEscape(key)+"/comment", &resp); err != nil {
		return nil, err
	}
	return resp.Comments, nil
}

// IssueWorklogs fetches all worklogs on an issue.
func (c *Client) IssueWorklogs(ctx context.Context, key string) ([]Worklog, error) {
	var resp struct {
		Worklogs []Worklog `json:"worklogs"`
	}
	if err := c.getJSON(ctx, c.baseURL+pathIssue+url.PathEscape(key)+"/worklog", &resp); err != nil {
		return nil, err
	}
	return resp.Worklogs, nil
}

// BrowseURL returns the human-facing URL for an issue.
func (c *Client) BrowseURL(key string) string {
	return c.baseURL + "/browse/" + key
}

func (c *Client) getJSON(ctx context.Context, rawURL string, out interface{}) error {
	headers := map[string]string{
		"Authorization": c.authHeader,
		"Content-Type":  "application/json",
		"Accept":        "application/json",
	}

	resp, err := c.http.Get(ctx, rawURL, headers)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeConnection, "jira request failed")
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		io.Copy(io.Discard, resp.Body)
		return errors.New(errors.ErrorTypeAuthentication,
			fmt.Sprintf("jira rejected credentials: status %d", resp.StatusCode))
	case resp.StatusCode == http.StatusTooManyRequests:
		io.Copy(io.Discard, resp.Body)
		return errors.New(errors.ErrorTypeRateLimit, "jira rate limit exceeded")
	case resp.StatusCode != http.StatusOK:
		io.Copy(io.Discard, resp.Body)
		return errors.New(errors.ErrorTypeData,
			fmt.Sprintf("jira returned status %d", resp.StatusCode))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errors.Wrap(err, errors.ErrorTypeData, "failed to decode jira response")
	}
	return nil
}

// Wire types for the subset of the JIRA REST API we consume.

// Issue is a JIRA issue as returned by search and issue endpoints.
type Issue struct {
	Key       string      `json:"key"`
	Fields    IssueFields `json:"fields"`
	Changelog *Changelog  `json:"changelog,omitempty"`
}

// IssueFields holds the issue fields we request.
type IssueFields struct {
	Summary     string      `json:"summary"`
	Description string      `json:"description"`
	Status      *NamedRef   `json:"status"`
	Priority    *NamedRef   `json:"priority"`
	IssueType   *NamedRef   `json:"issuetype"`
	Project     *ProjectRef `json:"project"`
	Assignee    *UserRef    `json:"assignee"`
	Reporter    *UserRef    `json:"reporter"`
	Created     string      `json:"created"`
	Updated     string      `json:"updated"`
	Labels      []string    `json:"labels"`
}

// NamedRef is any JIRA object addressed by display name.
type NamedRef struct {
	Name string `json:"name"`
}

// ProjectRef identifies the project an issue belongs to.
type ProjectRef struct {
	Key  string `json:"key"`
	Name string `json:"name"`
}

// UserRef identifies a JIRA user.
type UserRef struct {
	DisplayName string `json:"displayName"`
}

// Changelog is the expanded change history of an issue.
type Changelog struct {
	Histories []ChangeHistory `json:"histories"`
}

// ChangeHistory is one changelog entry; each entry may touch several fields.
type ChangeHistory struct {
	ID      string       `json:"id"`
	Author  *UserRef     `json:"author"`
	Created string       `json:"created"`
	Items   []ChangeItem `json:"items"`
}

// ChangeItem is a single field transition within a history entry.
type ChangeItem struct {
	Field      string `json:"field"`
	FromString string `json:"fromString"`
	ToString   string `json:"toString"`
}

// Comment is a JIRA issue comment.
type Comment struct {
	ID      string   `json:"id"`
	Author  *UserRef `json:"author"`
	Body    string   `json:"body"`
	Created string   `json:"created"`
	Updated string   `json:"updated"`
}

// Worklog is a JIRA issue worklog entry.
type Worklog struct {
	ID        string   `json:"id"`
	Author    *UserRef `json:"author"`
	Comment   string   `json:"comment"`
	TimeSpent string   `json:"timeSpent"`
	Started   string   `json:"started"`
	Created   string   `json:"created"`
}
