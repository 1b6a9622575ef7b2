// Package jira mirrors the issues of a Jira project.
package jira

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ekaya-inc/ekaya-datasync/pkg/adapters/datasync"
	"github.com/ekaya-inc/ekaya-datasync/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-datasync/pkg/models"
)

// Type is the registry name of the adapter.
const Type = "jira_issues"

// Jira timestamps look like 2024-01-31T10:00:00.000+0000.
const timestampLayout = "2006-01-02T15:04:05.000-0700"

type params struct {
	URL        string `json:"jira_url" validate:"required,url"`
	ProjectKey string `json:"jira_project_key" validate:"required"`
	Username   string `json:"jira_username" validate:"required"`
	APIToken   string `json:"jira_api_token" validate:"required"`
}

type person struct {
	DisplayName string `json:"displayName"`
}

type issue struct {
	ID     string `json:"id"`
	Key    string `json:"key"`
	Fields struct {
		Summary        string          `json:"summary"`
		Description    json.RawMessage `json:"description"`
		Assignee       *person         `json:"assignee"`
		Reporter       *person         `json:"reporter"`
		Labels         []string        `json:"labels"`
		Created        string          `json:"created"`
		Updated        string          `json:"updated"`
		ResolutionDate string          `json:"resolutiondate"`
		DueDate        string          `json:"duedate"`
		Status         struct {
			Name string `json:"name"`
		} `json:"status"`
	} `json:"fields"`
}

type searchResponse struct {
	StartAt    int     `json:"startAt"`
	MaxResults int     `json:"maxResults"`
	Total      int     `json:"total"`
	Issues     []issue `json:"issues"`
}

// Adapter pages through the search API with startAt/maxResults until total is reached.
type Adapter struct {
	client   *datasync.HTTPClient
	pageSize int
}

// NewAdapter creates the Jira issues adapter.
func NewAdapter(client *datasync.HTTPClient, pageSize int) *Adapter {
	if pageSize <= 0 {
		pageSize = 50
	}
	return &Adapter{client: client, pageSize: pageSize}
}

var _ datasync.Adapter = (*Adapter)(nil)

func (a *Adapter) Type() string { return Type }

func (a *Adapter) AllowedParams() []string {
	return []string{"jira_url", "jira_project_key", "jira_username", "jira_api_token"}
}

func (a *Adapter) ValidateParams(p map[string]any) error {
	return datasync.DecodeParams(p, &params{})
}

func (a *Adapter) Properties(ctx context.Context, ds *models.DataSync) ([]datasync.Property, error) {
	id := datasync.TextProperty("jira_id", "Jira Issue ID", true)
	id.Immutable = true
	created := datasync.DateProperty("created", "Created Date", false)
	created.Immutable = true

	return []datasync.Property{
		id,
		datasync.TextProperty("summary", "Summary", false),
		datasync.LongTextProperty("description", "Description"),
		datasync.TextProperty("assignee", "Assignee", false),
		datasync.TextProperty("reporter", "Reporter", false),
		datasync.TextProperty("labels", "Labels", false),
		created,
		datasync.DateProperty("updated", "Updated Date", false),
		datasync.DateProperty("resolved", "Resolved Date", false),
		datasync.DateProperty("due", "Due Date", false),
		datasync.TextProperty("status", "State", false),
		datasync.URLProperty("url", "Issue URL"),
	}, nil
}

func (a *Adapter) AllRows(ctx context.Context, ds *models.DataSync, keys []string) ([]map[string]any, error) {
	var p params
	if err := datasync.DecodeParams(ds.Config, &p); err != nil {
		return nil, apperrors.WrapSyncError(err, "The Jira configuration is incomplete.")
	}
	baseURL := strings.TrimRight(p.URL, "/")

	header := http.Header{}
	header.Set("Accept", "application/json")
	header.Set("Authorization", "Basic "+base64.StdEncoding.EncodeToString([]byte(p.Username+":"+p.APIToken)))

	var issues []issue
	for startAt := 0; ; startAt += a.pageSize {
		query := url.Values{}
		query.Set("jql", "project="+p.ProjectKey)
		query.Set("startAt", fmt.Sprint(startAt))
		query.Set("maxResults", fmt.Sprint(a.pageSize))

		var page searchResponse
		if err := a.client.GetJSON(ctx, baseURL+"/rest/api/3/search?"+query.Encode(), header, &page); err != nil {
			return nil, err
		}
		issues = append(issues, page.Issues...)
		if page.Total <= len(issues) || len(page.Issues) == 0 {
			break
		}
	}

	rows := make([]map[string]any, 0, len(issues))
	for _, is := range issues {
		row, err := is.row(baseURL)
		if err != nil {
			return nil, err
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func (is issue) row(baseURL string) (map[string]any, error) {
	f := is.Fields
	created, err := parseTimestamp(f.Created)
	if err != nil {
		return nil, apperrors.WrapSyncError(err, fmt.Sprintf("Jira issue %s has an invalid created date.", is.Key))
	}
	updated, err := parseTimestamp(f.Updated)
	if err != nil {
		return nil, apperrors.WrapSyncError(err, fmt.Sprintf("Jira issue %s has an invalid updated date.", is.Key))
	}
	resolved, err := parseTimestamp(f.ResolutionDate)
	if err != nil {
		return nil, apperrors.WrapSyncError(err, fmt.Sprintf("Jira issue %s has an invalid resolution date.", is.Key))
	}

	var due any
	if f.DueDate != "" {
		due = f.DueDate
	}

	return map[string]any{
		"jira_id":     is.ID,
		"summary":     f.Summary,
		"description": description(f.Description),
		"assignee":    displayName(f.Assignee),
		"reporter":    displayName(f.Reporter),
		"labels":      strings.Join(f.Labels, ","),
		"created":     created,
		"updated":     updated,
		"resolved":    resolved,
		"due":         due,
		"status":      f.Status.Name,
		"url":         baseURL + "/browse/" + is.Key,
	}, nil
}

func parseTimestamp(s string) (any, error) {
	if s == "" {
		return nil, nil
	}
	if t, err := time.Parse(timestampLayout, s); err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339, s)
}

func displayName(p *person) string {
	if p == nil {
		return ""
	}
	return p.DisplayName
}

// description flattens the description, which is plain text in older API
// versions and an Atlassian document in v3.
func description(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var text string
	if err := json.Unmarshal(raw, &text); err == nil {
		return text
	}

	var doc adfNode
	if err := json.Unmarshal(raw, &doc); err != nil {
		return ""
	}
	var blocks []string
	for _, block := range doc.Content {
		blocks = append(blocks, block.text())
	}
	return strings.Join(blocks, "\n")
}

type adfNode struct {
	Type    string    `json:"type"`
	Text    string    `json:"text"`
	Content []adfNode `json:"content"`
}

func (n adfNode) text() string {
	if n.Type == "text" {
		return n.Text
	}
	if n.Type == "hardBreak" {
		return "\n"
	}
	var b strings.Builder
	for _, c := range n.Content {
		b.WriteString(c.text())
	}
	return b.String()
}
