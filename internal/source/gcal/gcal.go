// Package gcal reads a Google Calendar through the Calendar v3 events.list
// endpoint, using sync tokens for deltas.
package gcal

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"golang.org/x/oauth2/google"
	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	appLog "calmirror/internal/log"
	"calmirror/internal/model"
	"calmirror/internal/source"
)

const (
	// DefaultCalendarID lists the primary calendar of the authorized user.
	DefaultCalendarID = "primary"

	pageSize = 2500
)

// Fetcher lists events of one calendar, including cancelled ones and
// recurring masters, so that tombstones and rules reach the cache.
type Fetcher struct {
	service    *calendar.Service
	calendarID string
}

var _ source.Fetcher = (*Fetcher)(nil)

// NewFetcher creates the calendar service from opts.
func NewFetcher(ctx context.Context, calendarID string, opts ...option.ClientOption) (*Fetcher, error) {
	if calendarID == "" {
		calendarID = DefaultCalendarID
	}
	srv, err := calendar.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating calendar service: %w", err)
	}
	return &Fetcher{service: srv, calendarID: calendarID}, nil
}

// Fetch pages through events.list. With a sync token only the changes since
// that token come back and the response is marked as a delta. A token the
// server no longer accepts (410 Gone) triggers one full relist.
func (f *Fetcher) Fetch(ctx context.Context, req source.Request) (*model.Response, error) {
	token := req.SyncToken
	if req.Full {
		token = ""
	}

	resp, err := f.list(ctx, token, req.ETag)
	if token != "" && isGone(err) {
		appLog.Warn("gcal sync token expired, relisting", "calendar", f.calendarID)
		resp, err = f.list(ctx, "", "")
	}
	if err != nil {
		return nil, err
	}
	return resp, nil
}

func (f *Fetcher) list(ctx context.Context, syncToken, etag string) (*model.Response, error) {
	out := &model.Response{Items: []model.Event{}, Delta: syncToken != ""}
	pageToken := ""

	for page := 0; ; page++ {
		call := f.service.Events.List(f.calendarID).
			ShowDeleted(true).
			SingleEvents(false).
			MaxResults(pageSize).
			Context(ctx)
		if syncToken != "" {
			call = call.SyncToken(syncToken)
		}
		if pageToken != "" {
			call = call.PageToken(pageToken)
		}
		if page == 0 && etag != "" {
			call.IfNoneMatch(etag)
		}

		events, err := call.Do()
		if err != nil {
			if page == 0 && googleapi.IsNotModified(err) {
				appLog.Info("gcal not modified", "calendar", f.calendarID)
				return &model.Response{NotModified: true, ETag: etag, Delta: syncToken != ""}, nil
			}
			return nil, fmt.Errorf("listing events: %w", err)
		}

		for _, item := range events.Items {
			ev, err := convert(item)
			if err != nil {
				appLog.Warn("gcal event skipped", "id", item.Id, "err", err.Error())
				continue
			}
			out.Items = append(out.Items, ev)
		}
		if page == 0 {
			out.ETag = events.Etag
		}

		if events.NextPageToken == "" {
			out.NextSyncToken = events.NextSyncToken
			break
		}
		pageToken = events.NextPageToken
	}

	appLog.Info("gcal list complete",
		"calendar", f.calendarID,
		"delta", out.Delta,
		"items", len(out.Items),
		"has_next_token", out.NextSyncToken != "",
	)
	return out, nil
}

func isGone(err error) bool {
	var gerr *googleapi.Error
	return errors.As(err, &gerr) && gerr.Code == http.StatusGone
}

// convert maps a calendar.Event onto the cache model. Cancelled entries in
// a delta carry little more than id and status.
func convert(item *calendar.Event) (model.Event, error) {
	if item == nil || item.Id == "" {
		return model.Event{}, errors.New("event without id")
	}
	ev := model.Event{
		ID:               item.Id,
		Summary:          item.Summary,
		Status:           model.Status(strings.ToLower(item.Status)),
		Start:            eventTime(item.Start),
		End:              eventTime(item.End),
		Recurrence:       item.Recurrence,
		RecurringEventID: item.RecurringEventId,
	}
	if ev.Status == "" {
		ev.Status = model.StatusConfirmed
	}
	if item.Updated != "" {
		if t, err := time.Parse(time.RFC3339, item.Updated); err == nil {
			ev.Updated = t
		}
	}
	return ev, nil
}

func eventTime(dt *calendar.EventDateTime) model.EventTime {
	if dt == nil {
		return model.EventTime{}
	}
	return model.EventTime{DateTime: dt.DateTime, Date: dt.Date, TimeZone: dt.TimeZone}
}

// ClientOptions builds the API client options from a credentials file and
// an optional OAuth token file. Without a token file the credentials are
// used directly, which suits service accounts. Obtaining a token is left to
// other tooling.
func ClientOptions(ctx context.Context, credentialsFile, tokenFile string) ([]option.ClientOption, error) {
	if credentialsFile == "" {
		return nil, errors.New("gcal: credentials file is required")
	}
	if tokenFile == "" {
		return []option.ClientOption{option.WithCredentialsFile(credentialsFile)}, nil
	}

	credBytes, err := os.ReadFile(credentialsFile)
	if err != nil {
		return nil, fmt.Errorf("reading credentials: %w", err)
	}
	conf, err := google.ConfigFromJSON(credBytes, calendar.CalendarReadonlyScope)
	if err != nil {
		return nil, fmt.Errorf("parsing credentials: %w", err)
	}
	tok, err := loadToken(tokenFile)
	if err != nil {
		return nil, err
	}
	return []option.ClientOption{option.WithHTTPClient(conf.Client(ctx, tok))}, nil
}
