// Package ical mirrors the events of an iCalendar feed.
package ical

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	ics "github.com/arran4/golang-ical"
	"github.com/golang-sql/civil"

	"github.com/ekaya-inc/ekaya-datasync/pkg/adapters/datasync"
	"github.com/ekaya-inc/ekaya-datasync/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-datasync/pkg/models"
)

// Type is the registry name of the adapter.
const Type = "ical_calendar"

const (
	keyUID     = "uid"
	keyStart   = "dtstart"
	keyEnd     = "dtend"
	keySummary = "summary"
)

type params struct {
	ICalURL string `json:"ical_url" validate:"required,url"`
}

// Adapter fetches a calendar over HTTP and yields one row per VEVENT.
type Adapter struct {
	client *datasync.HTTPClient
}

// NewAdapter creates the iCal adapter.
func NewAdapter(client *datasync.HTTPClient) *Adapter {
	return &Adapter{client: client}
}

var _ datasync.Adapter = (*Adapter)(nil)

func (a *Adapter) Type() string { return Type }

func (a *Adapter) AllowedParams() []string { return []string{"ical_url"} }

func (a *Adapter) ValidateParams(p map[string]any) error {
	return datasync.DecodeParams(p, &params{})
}

// Properties is the same for every feed.
func (a *Adapter) Properties(ctx context.Context, ds *models.DataSync) ([]datasync.Property, error) {
	return []datasync.Property{
		datasync.TextProperty(keyUID, "Unique ID", true),
		datasync.DateProperty(keyStart, "Start date", true),
		datasync.DateProperty(keyEnd, "End date", true),
		datasync.TextProperty(keySummary, "Summary", false),
	}, nil
}

func (a *Adapter) AllRows(ctx context.Context, ds *models.DataSync, keys []string) ([]map[string]any, error) {
	var p params
	if err := datasync.DecodeParams(ds.Config, &p); err != nil {
		return nil, apperrors.WrapSyncError(err, "The calendar URL is not valid.")
	}

	body, err := a.client.Get(ctx, p.ICalURL, nil)
	if err != nil {
		return nil, err
	}

	return ParseEvents(body)
}

// ParseEvents turns a calendar document into rows. All-day values become
// civil.Date, timed values become time.Time.
func ParseEvents(body []byte) ([]map[string]any, error) {
	cal, err := ics.ParseCalendar(bytes.NewReader(body))
	if err != nil {
		return nil, apperrors.WrapSyncError(err, "The calendar could not be parsed.")
	}

	events := cal.Events()
	rows := make([]map[string]any, 0, len(events))
	for _, event := range events {
		start, err := propertyDate(event.GetProperty(ics.ComponentPropertyDtStart))
		if err != nil {
			return nil, apperrors.WrapSyncError(err, fmt.Sprintf("Event %q has an invalid start date.", event.Id()))
		}
		end, err := propertyDate(event.GetProperty(ics.ComponentPropertyDtEnd))
		if err != nil {
			return nil, apperrors.WrapSyncError(err, fmt.Sprintf("Event %q has an invalid end date.", event.Id()))
		}

		var summary any
		if prop := event.GetProperty(ics.ComponentPropertySummary); prop != nil {
			summary = prop.Value
		}

		rows = append(rows, map[string]any{
			keyUID:     event.Id(),
			keyStart:   start,
			keyEnd:     end,
			keySummary: summary,
		})
	}
	return rows, nil
}

// propertyDate reads DTSTART/DTEND. Floating times without TZID are taken as UTC.
func propertyDate(prop *ics.IANAProperty) (any, error) {
	if prop == nil || prop.Value == "" {
		return nil, nil
	}
	value := strings.TrimSpace(prop.Value)

	if len(value) == 8 {
		t, err := time.Parse("20060102", value)
		if err != nil {
			return nil, err
		}
		return civil.DateOf(t), nil
	}

	if strings.HasSuffix(value, "Z") {
		return time.Parse("20060102T150405Z", value)
	}

	loc := time.UTC
	if tzids, ok := prop.ICalParameters["TZID"]; ok && len(tzids) > 0 {
		l, err := time.LoadLocation(strings.Trim(tzids[0], `"`))
		if err != nil {
			return nil, fmt.Errorf("unknown time zone %q: %w", tzids[0], err)
		}
		loc = l
	}
	return time.ParseInLocation("20060102T150405", value, loc)
}
