package jira

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-datasync/pkg/adapters/datasync"
	"github.com/ekaya-inc/ekaya-datasync/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-datasync/pkg/models"
	"github.com/ekaya-inc/ekaya-datasync/pkg/retry"
)

func newTestAdapter() *Adapter {
	client := datasync.NewHTTPClient(time.Second, &retry.Config{MaxRetries: 0}, zap.NewNop())
	return NewAdapter(client, 2)
}

func testDataSync(url string) *models.DataSync {
	return &models.DataSync{Type: Type, Config: map[string]any{
		"jira_url":         url,
		"jira_project_key": "PROJ",
		"jira_username":    "me@example.com",
		"jira_api_token":   "token",
	}}
}

func fakeIssue(n int) map[string]any {
	return map[string]any{
		"id":  strconv.Itoa(10000 + n),
		"key": "PROJ-" + strconv.Itoa(n),
		"fields": map[string]any{
			"summary": "Issue " + strconv.Itoa(n),
			"description": map[string]any{
				"type": "doc",
				"content": []any{
					map[string]any{"type": "paragraph", "content": []any{
						map[string]any{"type": "text", "text": "Hello "},
						map[string]any{"type": "text", "text": "world"},
					}},
				},
			},
			"assignee":       map[string]any{"displayName": "Alice"},
			"labels":         []string{"a", "b"},
			"created":        "2024-01-31T10:00:00.000+0000",
			"updated":        "2024-02-01T10:00:00.000+0100",
			"resolutiondate": nil,
			"duedate":        "2024-03-01",
			"status":         map[string]any{"name": "To Do"},
		},
	}
}

func TestAdapter_AllRows_PagesUntilTotal(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		assert.Equal(t, "/rest/api/3/search", r.URL.Path)
		assert.Equal(t, "project=PROJ", r.URL.Query().Get("jql"))
		want := "Basic " + base64.StdEncoding.EncodeToString([]byte("me@example.com:token"))
		assert.Equal(t, want, r.Header.Get("Authorization"))

		startAt, _ := strconv.Atoi(r.URL.Query().Get("startAt"))
		var issues []map[string]any
		for i := startAt; i < startAt+2 && i < 3; i++ {
			issues = append(issues, fakeIssue(i+1))
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"startAt": startAt, "maxResults": 2, "total": 3, "issues": issues})
	}))
	defer srv.Close()

	rows, err := newTestAdapter().AllRows(context.Background(), testDataSync(srv.URL+"/"), nil)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, 2, calls)

	row := rows[0]
	assert.Equal(t, "10001", row["jira_id"])
	assert.Equal(t, "Hello world", row["description"])
	assert.Equal(t, "Alice", row["assignee"])
	assert.Equal(t, "", row["reporter"])
	assert.Equal(t, "a,b", row["labels"])
	assert.Equal(t, "To Do", row["status"])
	assert.Equal(t, srv.URL+"/browse/PROJ-1", row["url"])
	assert.Nil(t, row["resolved"])
	assert.Equal(t, "2024-03-01", row["due"])

	created, ok := row["created"].(time.Time)
	require.True(t, ok)
	assert.True(t, created.Equal(time.Date(2024, 1, 31, 10, 0, 0, 0, time.UTC)))
}

func TestAdapter_AllRows_ErrorResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	_, err := newTestAdapter().AllRows(context.Background(), testDataSync(srv.URL), nil)
	_, ok := apperrors.AsSyncError(err)
	assert.True(t, ok)
}

func TestAdapter_Properties(t *testing.T) {
	props, err := datasync.Properties(context.Background(), newTestAdapter(), testDataSync("https://x.atlassian.net"))
	require.NoError(t, err)
	assert.Len(t, props, 12)
	assert.Equal(t, []string{"jira_id"}, datasync.IdentityKeys(props))
	assert.False(t, props[6].Field().Options.DateIncludeTime)
}

func TestDescription_PlainString(t *testing.T) {
	assert.Equal(t, "plain", description(json.RawMessage(`"plain"`)))
	assert.Equal(t, "", description(json.RawMessage(`null`)))
}
