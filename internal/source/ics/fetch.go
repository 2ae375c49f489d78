package ics

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	appLog "calmirror/internal/log"
	"calmirror/internal/model"
	"calmirror/internal/source"
)

const defaultTimeout = 15 * time.Second

// Fetcher pulls one ICS subscription. Each fetch is a full snapshot; the
// cached etag is sent as If-None-Match so an unchanged feed costs a 304.
type Fetcher struct {
	client *http.Client
	url    string
}

var _ source.Fetcher = (*Fetcher)(nil)

// NewFetcher returns a Fetcher for url. A nil client gets a default one
// with a 15 second timeout.
func NewFetcher(url string, client *http.Client) *Fetcher {
	if client == nil {
		client = &http.Client{Timeout: defaultTimeout}
	}
	return &Fetcher{client: client, url: url}
}

// Fetch downloads and parses the feed. Sync tokens are not part of the ICS
// protocol and are ignored.
func (f *Fetcher) Fetch(ctx context.Context, req source.Request) (*model.Response, error) {
	if f.url == "" {
		return nil, errors.New("ics: source URL is empty")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, f.url, nil)
	if err != nil {
		return nil, err
	}
	if req.ETag != "" && !req.Full {
		httpReq.Header.Set("If-None-Match", req.ETag)
	}

	appLog.Info("ics fetch start", "url", redactURL(f.url), "conditional", httpReq.Header.Get("If-None-Match") != "")

	resp, err := f.client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("ics: read body: %w", err)
		}
		events, err := Parse(body)
		if err != nil {
			appLog.Error("ics parse failed", err, "url", redactURL(f.url))
			return nil, err
		}
		appLog.Info("ics fetch success", "url", redactURL(f.url), "event_count", len(events))
		return &model.Response{Items: events, ETag: resp.Header.Get("ETag")}, nil

	case http.StatusNotModified:
		appLog.Info("ics fetch not modified", "url", redactURL(f.url))
		etag := resp.Header.Get("ETag")
		if etag == "" {
			etag = req.ETag
		}
		return &model.Response{NotModified: true, ETag: etag}, nil

	default:
		return nil, fmt.Errorf("ics: unexpected status %s", resp.Status)
	}
}

// redactURL keeps only scheme and host so private feed tokens stay out of
// the logs.
//
//	https://example.com/path/to/private.ics?token=abcd
//	-> https://example.com/...(redacted)
func redactURL(u string) string {
	const redactedSuffix = "/...(redacted)"

	i := -1
	for idx := 0; idx+2 < len(u); idx++ {
		if u[idx:idx+3] == "://" {
			i = idx + 3
			break
		}
	}
	if i == -1 {
		return "ics://...(redacted)"
	}

	j := i
	for j < len(u) && u[j] != '/' {
		j++
	}
	return u[:j] + redactedSuffix
}
