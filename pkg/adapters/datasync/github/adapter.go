// Package github mirrors the issues of a GitHub repository.
package github

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/ekaya-inc/ekaya-datasync/pkg/adapters/datasync"
	"github.com/ekaya-inc/ekaya-datasync/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-datasync/pkg/models"
)

// Type is the registry name of the adapter.
const Type = "github_issues"

// DefaultBaseURL is the public GitHub REST API.
const DefaultBaseURL = "https://api.github.com"

type params struct {
	Owner    string `json:"github_issues_owner" validate:"required"`
	Repo     string `json:"github_issues_repo" validate:"required"`
	APIToken string `json:"github_issues_api_token" validate:"required"`
}

type login struct {
	Login string `json:"login"`
}

type issue struct {
	ID        int64   `json:"id"`
	Title     string  `json:"title"`
	Body      *string `json:"body"`
	User      *login  `json:"user"`
	Assignee  *login  `json:"assignee"`
	Assignees []login `json:"assignees"`
	Labels    []struct {
		Name string `json:"name"`
	} `json:"labels"`
	State     string  `json:"state"`
	CreatedAt *string `json:"created_at"`
	UpdatedAt *string `json:"updated_at"`
	ClosedAt  *string `json:"closed_at"`
	ClosedBy  *login  `json:"closed_by"`
	Milestone *struct {
		Title string `json:"title"`
	} `json:"milestone"`
	HTMLURL string `json:"html_url"`
}

// Adapter pages through /repos/{owner}/{repo}/issues until an empty page.
type Adapter struct {
	client   *datasync.HTTPClient
	baseURL  string
	pageSize int
}

// NewAdapter creates the GitHub issues adapter. An empty baseURL uses the public API.
func NewAdapter(client *datasync.HTTPClient, baseURL string, pageSize int) *Adapter {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if pageSize <= 0 {
		pageSize = 50
	}
	return &Adapter{client: client, baseURL: strings.TrimRight(baseURL, "/"), pageSize: pageSize}
}

var _ datasync.Adapter = (*Adapter)(nil)

func (a *Adapter) Type() string { return Type }

func (a *Adapter) AllowedParams() []string {
	return []string{"github_issues_owner", "github_issues_repo", "github_issues_api_token"}
}

func (a *Adapter) ValidateParams(p map[string]any) error {
	return datasync.DecodeParams(p, &params{})
}

func (a *Adapter) Properties(ctx context.Context, ds *models.DataSync) ([]datasync.Property, error) {
	id := datasync.NumberProperty("id", "GitHub Issue ID", true)
	id.Immutable = true

	return []datasync.Property{
		id,
		datasync.TextProperty("title", "Title", false),
		richText("body", "Body"),
		immutable(datasync.TextProperty("user", "User", false)),
		datasync.TextProperty("assignee", "Assignee", false),
		datasync.LongTextProperty("assignees", "Assignees"),
		datasync.LongTextProperty("labels", "Labels"),
		immutable(datasync.TextProperty("state", "State", false)),
		immutable(datasync.DateProperty("created_at", "Created At", true)),
		immutable(datasync.DateProperty("updated_at", "Updated At", true)),
		immutable(datasync.DateProperty("closed_at", "Closed At", true)),
		immutable(datasync.TextProperty("closed_by", "Closed By", false)),
		datasync.TextProperty("milestone", "Milestone", false),
		immutable(datasync.URLProperty("html_url", "URL to Issue")),
	}, nil
}

func immutable(p datasync.Property) datasync.Property {
	p.Immutable = true
	return p
}

func richText(key, name string) datasync.Property {
	p := datasync.LongTextProperty(key, name)
	p.NewField = func(name string) *models.Field {
		f := models.NewLongTextField(name)
		f.Options.LongTextEnableRichText = true
		return f
	}
	return p
}

func (a *Adapter) AllRows(ctx context.Context, ds *models.DataSync, keys []string) ([]map[string]any, error) {
	var p params
	if err := datasync.DecodeParams(ds.Config, &p); err != nil {
		return nil, apperrors.WrapSyncError(err, "The GitHub configuration is incomplete.")
	}

	endpoint := fmt.Sprintf("%s/repos/%s/%s/issues", a.baseURL, url.PathEscape(p.Owner), url.PathEscape(p.Repo))
	header := http.Header{}
	header.Set("Accept", "application/vnd.github+json")
	header.Set("Authorization", "Bearer "+p.APIToken)
	header.Set("X-GitHub-Api-Version", "2022-11-28")

	var rows []map[string]any
	for page := 1; ; page++ {
		query := url.Values{}
		query.Set("page", fmt.Sprint(page))
		query.Set("per_page", fmt.Sprint(a.pageSize))

		var issues []issue
		if err := a.client.GetJSON(ctx, endpoint+"?"+query.Encode(), header, &issues); err != nil {
			return nil, err
		}
		if len(issues) == 0 {
			break
		}
		for _, is := range issues {
			rows = append(rows, is.row())
		}
	}
	return rows, nil
}

func (is issue) row() map[string]any {
	assignees := make([]string, 0, len(is.Assignees))
	for _, a := range is.Assignees {
		assignees = append(assignees, a.Login)
	}
	labels := make([]string, 0, len(is.Labels))
	for _, l := range is.Labels {
		labels = append(labels, l.Name)
	}

	var milestone any
	if is.Milestone != nil {
		milestone = is.Milestone.Title
	}

	return map[string]any{
		"id":         is.ID,
		"title":      is.Title,
		"body":       optional(is.Body),
		"user":       loginOf(is.User),
		"assignee":   loginOf(is.Assignee),
		"assignees":  strings.Join(assignees, ", "),
		"labels":     strings.Join(labels, ", "),
		"state":      is.State,
		"created_at": optional(is.CreatedAt),
		"updated_at": optional(is.UpdatedAt),
		"closed_at":  optional(is.ClosedAt),
		"closed_by":  loginOf(is.ClosedBy),
		"milestone":  milestone,
		"html_url":   is.HTMLURL,
	}
}

func loginOf(l *login) any {
	if l == nil {
		return nil
	}
	return l.Login
}

func optional(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}
