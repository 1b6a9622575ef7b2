package github

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
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

func newTestAdapter(baseURL string) *Adapter {
	client := datasync.NewHTTPClient(time.Second, &retry.Config{MaxRetries: 0}, zap.NewNop())
	return NewAdapter(client, baseURL, 2)
}

func testDataSync() *models.DataSync {
	return &models.DataSync{Type: Type, Config: map[string]any{
		"github_issues_owner":     "baserow",
		"github_issues_repo":      "baserow",
		"github_issues_api_token": "ghp_token",
	}}
}

func TestAdapter_Properties(t *testing.T) {
	props, err := datasync.Properties(context.Background(), newTestAdapter(""), testDataSync())
	require.NoError(t, err)
	assert.Len(t, props, 14)
	assert.Equal(t, []string{"id"}, datasync.IdentityKeys(props))
	assert.Equal(t, models.FieldTypeNumber, props[0].Field().Type)
	assert.True(t, props[2].Field().Options.LongTextEnableRichText)
}

func TestAdapter_AllRows_Paginates(t *testing.T) {
	pages := map[string][]map[string]any{
		"1": {
			{"id": 1, "title": "First", "body": "Text", "user": map[string]any{"login": "alice"},
				"assignees": []map[string]any{{"login": "bob"}, {"login": "carol"}},
				"labels": []map[string]any{{"name": "bug"}, {"name": "ui"}},
				"state": "open", "created_at": "2024-01-02T03:04:05Z", "html_url": "https://github.com/x/1"},
			{"id": 2, "title": "Second", "body": nil, "state": "closed",
				"closed_at": "2024-02-01T00:00:00Z", "closed_by": map[string]any{"login": "dave"},
				"milestone": map[string]any{"title": "v1"}},
		},
		"2": {
			{"id": 3, "title": "Third", "state": "open"},
		},
	}

	var mu sync.Mutex
	var requested []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/repos/baserow/baserow/issues", r.URL.Path)
		assert.Equal(t, "Bearer ghp_token", r.Header.Get("Authorization"))
		assert.Equal(t, "2", r.URL.Query().Get("per_page"))
		page := r.URL.Query().Get("page")
		mu.Lock()
		requested = append(requested, page)
		mu.Unlock()
		issues, ok := pages[page]
		if !ok {
			issues = []map[string]any{}
		}
		_ = json.NewEncoder(w).Encode(issues)
	}))
	defer srv.Close()

	rows, err := newTestAdapter(srv.URL).AllRows(context.Background(), testDataSync(), nil)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	mu.Lock()
	assert.Equal(t, []string{"1", "2", "3"}, requested)
	mu.Unlock()

	first := rows[0]
	assert.Equal(t, int64(1), first["id"])
	assert.Equal(t, "alice", first["user"])
	assert.Equal(t, "bob, carol", first["assignees"])
	assert.Equal(t, "bug, ui", first["labels"])
	assert.Nil(t, first["assignee"])
	assert.Nil(t, first["milestone"])

	second := rows[1]
	assert.Nil(t, second["body"])
	assert.Equal(t, "dave", second["closed_by"])
	assert.Equal(t, "v1", second["milestone"])
}

func TestAdapter_AllRows_Unauthorized(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"message":"Bad credentials"}`, http.StatusUnauthorized)
	}))
	defer srv.Close()

	_, err := newTestAdapter(srv.URL).AllRows(context.Background(), testDataSync(), nil)
	syncErr, ok := apperrors.AsSyncError(err)
	require.True(t, ok)
	assert.Contains(t, syncErr.Message, "Authentication")
}

func TestAdapter_ValidateParams(t *testing.T) {
	a := newTestAdapter("")
	assert.NoError(t, a.ValidateParams(testDataSync().Config))
	assert.ErrorIs(t, a.ValidateParams(map[string]any{"github_issues_owner": "x"}), apperrors.ErrInvalidConfig)
}
