package app

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/mod/semver"

	"github.com/pvmon/pvmon/internal/bus"
	"github.com/pvmon/pvmon/internal/events"
)

const (
	DefaultUpdateCheckInterval = 12 * time.Hour
	updateRequestTimeout       = 15 * time.Second
	releaseFeedURL             = "https://api.github.com/repos/pvmon/pvmon/releases?per_page=10"
)

// ReleaseInfo describes one published release.
type ReleaseInfo struct {
	Version     string
	URL         string
	PublishedAt time.Time
}

// UpdateStatus is the outcome of one release feed query. It is also the
// payload published on events.TopicUpdateCheck.
type UpdateStatus struct {
	CurrentVersion string
	Latest         ReleaseInfo
	Available      bool
	CheckedAt      time.Time
}

type UpdateCheckerConfig struct {
	CurrentVersion string
	// Endpoint defaults to the GitHub releases API of this project.
	Endpoint   string
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// UpdateChecker compares the running build against the release feed.
type UpdateChecker struct {
	current  string
	endpoint string
	client   *http.Client
	logger   *slog.Logger
}

type feedRelease struct {
	TagName     string    `json:"tag_name"`
	HTMLURL     string    `json:"html_url"`
	Draft       bool      `json:"draft"`
	Prerelease  bool      `json:"prerelease"`
	PublishedAt time.Time `json:"published_at"`
}

func NewUpdateChecker(cfg UpdateCheckerConfig) *UpdateChecker {
	c := &UpdateChecker{
		current:  strings.TrimSpace(cfg.CurrentVersion),
		endpoint: strings.TrimSpace(cfg.Endpoint),
		client:   cfg.HTTPClient,
		logger:   cfg.Logger,
	}
	if c.endpoint == "" {
		c.endpoint = releaseFeedURL
	}
	if c.client == nil {
		c.client = &http.Client{Timeout: updateRequestTimeout}
	}
	if c.logger == nil {
		c.logger = slog.Default().With("component", "app.updates")
	}
	return c
}

// Check queries the feed once. The latest release is the highest stable
// semver tag, whatever order the feed lists it in.
func (c *UpdateChecker) Check(ctx context.Context) (UpdateStatus, error) {
	releases, err := c.fetch(ctx)
	if err != nil {
		return UpdateStatus{}, err
	}

	var latest ReleaseInfo
	for _, r := range releases {
		if latest.Version == "" || semver.Compare(canonicalVersion(r.Version), canonicalVersion(latest.Version)) > 0 {
			latest = r
		}
	}
	if latest.Version == "" {
		return UpdateStatus{}, fmt.Errorf("release feed has no stable releases")
	}

	status := UpdateStatus{
		CurrentVersion: c.current,
		Latest:         latest,
		Available:      isNewerRelease(c.current, latest.Version),
		CheckedAt:      time.Now().UTC(),
	}
	c.logger.Debug("update check completed", "current", status.CurrentVersion, "latest", latest.Version, "available", status.Available)

	return status, nil
}

// Run checks immediately and then every interval until ctx is done. Each
// newer release is published once on b.
func (c *UpdateChecker) Run(ctx context.Context, interval time.Duration, b bus.MessageBus) {
	if interval <= 0 {
		interval = DefaultUpdateCheckInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	announced := ""
	for {
		status, err := c.Check(ctx)
		switch {
		case err != nil:
			if ctx.Err() == nil {
				c.logger.Warn("check for updates", "error", err)
			}
		case status.Available && status.Latest.Version != announced:
			announced = status.Latest.Version
			c.logger.Info("update available", "current", status.CurrentVersion, "latest", announced)
			if b != nil {
				b.Publish(events.TopicUpdateCheck, status)
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (c *UpdateChecker) fetch(ctx context.Context) ([]ReleaseInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("create release feed request: %w", err)
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("User-Agent", Name+"/"+c.current)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request release feed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		if msg := strings.TrimSpace(string(body)); msg != "" {
			return nil, fmt.Errorf("request release feed: status %d: %s", resp.StatusCode, msg)
		}
		return nil, fmt.Errorf("request release feed: status %d", resp.StatusCode)
	}

	var feed []feedRelease
	if err := json.NewDecoder(resp.Body).Decode(&feed); err != nil {
		return nil, fmt.Errorf("decode release feed: %w", err)
	}

	out := make([]ReleaseInfo, 0, len(feed))
	for _, r := range feed {
		v := canonicalVersion(r.TagName)
		if r.Draft || r.Prerelease || !semver.IsValid(v) || semver.Prerelease(v) != "" {
			continue
		}
		out = append(out, ReleaseInfo{
			Version:     strings.TrimSpace(r.TagName),
			URL:         strings.TrimSpace(r.HTMLURL),
			PublishedAt: r.PublishedAt,
		})
	}
	return out, nil
}

// isNewerRelease treats a build without a semver version (a dev build) as
// older than any release.
func isNewerRelease(current, candidate string) bool {
	cand := canonicalVersion(candidate)
	if !semver.IsValid(cand) {
		return false
	}
	cur := canonicalVersion(current)
	if !semver.IsValid(cur) {
		return true
	}
	return semver.Compare(cur, cand) < 0
}

func canonicalVersion(v string) string {
	v = strings.TrimSpace(v)
	if v == "" || strings.HasPrefix(v, "v") {
		return v
	}
	return "v" + v
}
