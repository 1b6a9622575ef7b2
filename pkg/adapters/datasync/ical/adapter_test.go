package ical

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-sql/civil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-datasync/pkg/adapters/datasync"
	"github.com/ekaya-inc/ekaya-datasync/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-datasync/pkg/models"
	"github.com/ekaya-inc/ekaya-datasync/pkg/retry"
)

const calendar = "BEGIN:VCALENDAR\r\n" +
	"VERSION:2.0\r\n" +
	"PRODID:-//test//EN\r\n" +
	"BEGIN:VEVENT\r\n" +
	"UID:event-1@example.com\r\n" +
	"DTSTAMP:20240101T000000Z\r\n" +
	"DTSTART:20240301T090000Z\r\n" +
	"DTEND:20240301T100000Z\r\n" +
	"SUMMARY:Standup\r\n" +
	"END:VEVENT\r\n" +
	"BEGIN:VEVENT\r\n" +
	"UID:event-2@example.com\r\n" +
	"DTSTAMP:20240101T000000Z\r\n" +
	"DTSTART;VALUE=DATE:20240305\r\n" +
	"DTEND;VALUE=DATE:20240306\r\n" +
	"SUMMARY:Offsite\r\n" +
	"END:VEVENT\r\n" +
	"BEGIN:VEVENT\r\n" +
	"UID:event-3@example.com\r\n" +
	"DTSTAMP:20240101T000000Z\r\n" +
	"DTSTART;TZID=Europe/Amsterdam:20240310T140000\r\n" +
	"SUMMARY:Review\r\n" +
	"END:VEVENT\r\n" +
	"END:VCALENDAR\r\n"

func newTestAdapter() *Adapter {
	return NewAdapter(datasync.NewHTTPClient(time.Second, &retry.Config{MaxRetries: 0}, zap.NewNop()))
}

func TestAdapter_Properties(t *testing.T) {
	props, err := datasync.Properties(context.Background(), newTestAdapter(), &models.DataSync{})
	require.NoError(t, err)

	keys := make([]string, len(props))
	for i, p := range props {
		keys[i] = p.Key
	}
	assert.Equal(t, []string{"uid", "dtstart", "dtend", "summary"}, keys)
	assert.Equal(t, []string{"uid"}, datasync.IdentityKeys(props))
	assert.True(t, props[1].Field().Options.DateIncludeTime)
}

func TestAdapter_ValidateParams(t *testing.T) {
	a := newTestAdapter()
	assert.NoError(t, a.ValidateParams(map[string]any{"ical_url": "https://example.com/cal.ics"}))
	assert.ErrorIs(t, a.ValidateParams(map[string]any{"ical_url": "nope"}), apperrors.ErrInvalidConfig)
	assert.ErrorIs(t, a.ValidateParams(map[string]any{}), apperrors.ErrInvalidConfig)
}

func TestAdapter_AllRows(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/calendar")
		_, _ = w.Write([]byte(calendar))
	}))
	defer srv.Close()

	ds := &models.DataSync{Type: Type, Config: map[string]any{"ical_url": srv.URL + "/cal.ics"}}
	rows, err := newTestAdapter().AllRows(context.Background(), ds, []string{"uid", "summary"})
	require.NoError(t, err)
	require.Len(t, rows, 3)

	assert.Equal(t, "event-1@example.com", rows[0]["uid"])
	assert.Equal(t, "Standup", rows[0]["summary"])
	assert.Equal(t, time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC), rows[0]["dtstart"])

	assert.Equal(t, civil.Date{Year: 2024, Month: 3, Day: 5}, rows[1]["dtstart"])
	assert.Equal(t, civil.Date{Year: 2024, Month: 3, Day: 6}, rows[1]["dtend"])

	start, ok := rows[2]["dtstart"].(time.Time)
	require.True(t, ok)
	assert.True(t, start.Equal(time.Date(2024, 3, 10, 13, 0, 0, 0, time.UTC)))
	assert.Nil(t, rows[2]["dtend"])
}

func TestAdapter_AllRows_HTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	ds := &models.DataSync{Type: Type, Config: map[string]any{"ical_url": srv.URL}}
	_, err := newTestAdapter().AllRows(context.Background(), ds, nil)
	_, ok := apperrors.AsSyncError(err)
	assert.True(t, ok)
}

func TestParseEvents_Malformed(t *testing.T) {
	_, err := ParseEvents([]byte("BEGIN:VCALENDAR\r\nBEGIN:VEVENT\r\nDTSTART:garbage\r\nEND:VEVENT\r\nEND:VCALENDAR\r\n"))
	_, ok := apperrors.AsSyncError(err)
	assert.True(t, ok)
}
