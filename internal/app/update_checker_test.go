package app

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pvmon/pvmon/internal/bus"
	"github.com/pvmon/pvmon/internal/events"
)

const releaseFeed = `[
	{"tag_name":"1.3.0-rc1","prerelease":false,"html_url":"https://example.com/r/1.3.0-rc1"},
	{"tag_name":"1.4.0","draft":true,"html_url":"https://example.com/r/1.4.0"},
	{"tag_name":"nightly","html_url":"https://example.com/r/nightly"},
	{"tag_name":"1.1.0","html_url":"https://example.com/r/1.1.0","published_at":"2026-05-01T10:00:00Z"},
	{"tag_name":"v1.2.0","html_url":"https://example.com/r/1.2.0","published_at":"2026-06-01T10:00:00Z"}
]`

func feedServer(t *testing.T, status int, body string) (*httptest.Server, *atomic.Int64) {
	t.Helper()
	var hits atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		assert.True(t, strings.HasPrefix(r.Header.Get("User-Agent"), Name+"/"))
		w.WriteHeader(status)
		_, _ = io.WriteString(w, body)
	}))
	t.Cleanup(server.Close)
	return server, &hits
}

func TestIsNewerRelease(t *testing.T) {
	tests := []struct {
		current   string
		candidate string
		want      bool
	}{
		{current: "1.0.0", candidate: "1.2.0", want: true},
		{current: "v1.2.0", candidate: "1.2.0", want: false},
		{current: "1.10.0", candidate: "1.9.0", want: false},
		{current: "(devel)", candidate: "0.1.0", want: true},
		{current: "1.0.0", candidate: "latest", want: false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, isNewerRelease(tt.current, tt.candidate), "%s -> %s", tt.current, tt.candidate)
	}
}

func TestUpdateCheckPicksHighestStableRelease(t *testing.T) {
	server, _ := feedServer(t, http.StatusOK, releaseFeed)
	checker := NewUpdateChecker(UpdateCheckerConfig{
		CurrentVersion: "1.1.0",
		Endpoint:       server.URL,
		HTTPClient:     server.Client(),
		Logger:         discardLogger(),
	})

	status, err := checker.Check(context.Background())
	require.NoError(t, err)
	assert.True(t, status.Available)
	assert.Equal(t, "v1.2.0", status.Latest.Version)
	assert.Equal(t, "https://example.com/r/1.2.0", status.Latest.URL)
	assert.Equal(t, time.Date(2026, 6, 1, 10, 0, 0, 0, time.UTC), status.Latest.PublishedAt)
	assert.Equal(t, "1.1.0", status.CurrentVersion)
	assert.False(t, status.CheckedAt.IsZero())
}

func TestUpdateCheckErrors(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantErr string
	}{
		{name: "bad status", status: http.StatusForbidden, body: "rate limited", wantErr: "status 403: rate limited"},
		{name: "bad json", status: http.StatusOK, body: "{", wantErr: "decode release feed"},
		{name: "no stable releases", status: http.StatusOK, body: `[{"tag_name":"2.0.0-beta"}]`, wantErr: "no stable releases"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server, _ := feedServer(t, tt.status, tt.body)
			checker := NewUpdateChecker(UpdateCheckerConfig{CurrentVersion: "1.0.0", Endpoint: server.URL, Logger: discardLogger()})
			_, err := checker.Check(context.Background())
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestUpdateCheckerRunAnnouncesOnce(t *testing.T) {
	server, hits := feedServer(t, http.StatusOK, releaseFeed)
	b := bus.New(discardLogger(), 0)
	t.Cleanup(b.Close)
	updates := b.Subscribe(events.TopicUpdateCheck)

	checker := NewUpdateChecker(UpdateCheckerConfig{
		CurrentVersion: "1.0.0",
		Endpoint:       server.URL,
		HTTPClient:     server.Client(),
		Logger:         discardLogger(),
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		checker.Run(ctx, 5*time.Millisecond, b)
	}()

	select {
	case raw := <-updates:
		status, ok := raw.(UpdateStatus)
		require.True(t, ok)
		assert.Equal(t, "v1.2.0", status.Latest.Version)
	case <-time.After(2 * time.Second):
		t.Fatal("no update published")
	}

	require.Eventually(t, func() bool { return hits.Load() >= 3 }, 2*time.Second, 5*time.Millisecond)
	cancel()
	<-done

	select {
	case raw := <-updates:
		t.Fatalf("same release announced twice: %v", raw)
	default:
	}
}
