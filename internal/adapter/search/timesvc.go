package search

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// DefaultTimeServiceURL is the worldtimeapi timezone endpoint prefix.
const DefaultTimeServiceURL = "https://worldtimeapi.org/api/timezone/"

// TimeSource answers "what time is it in zone" from an authoritative service.
type TimeSource interface {
	Now(ctx context.Context, zone string) (string, error)
}

// WorldTime is a TimeSource backed by worldtimeapi.org.
type WorldTime struct {
	fetch   *fetcher
	baseURL string
}

// NewWorldTime creates a WorldTime client. An empty baseURL selects the public service.
func NewWorldTime(f *fetcher, baseURL string) *WorldTime {
	if strings.TrimSpace(baseURL) == "" {
		baseURL = DefaultTimeServiceURL
	}
	if !strings.HasSuffix(baseURL, "/") {
		baseURL += "/"
	}
	return &WorldTime{fetch: f, baseURL: baseURL}
}

// Now returns "Source: <url>\nTime: <datetime>".
func (w *WorldTime) Now(ctx context.Context, zone string) (string, error) {
	source := w.baseURL + zone
	resp, err := w.fetch.get(ctx, source, desktopAgent, 0)
	if err != nil {
		return "", err
	}
	if resp.failed() {
		return "", fmt.Errorf("time service: HTTP %d", resp.status)
	}
	var parsed struct {
		Datetime string `json:"datetime"`
	}
	if err := json.Unmarshal(resp.body, &parsed); err != nil {
		return "", fmt.Errorf("parse time service response: %w", err)
	}
	if parsed.Datetime == "" {
		return "", fmt.Errorf("time service: empty datetime")
	}
	return "Source: " + source + "\nTime: " + parsed.Datetime, nil
}
