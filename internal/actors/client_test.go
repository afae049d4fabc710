package actors

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestRun_DecodesDataset(t *testing.T) {
	var gotPath, gotToken, gotMaxItems string
	var gotInput map[string]any

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotToken = r.URL.Query().Get("token")
		gotMaxItems = r.URL.Query().Get("maxItems")
		_ = json.NewDecoder(r.Body).Decode(&gotInput)
		_ = json.NewEncoder(w).Encode([]map[string]any{
			{"username": "x", "followersCount": 1200.0},
		})
	}))
	defer ts.Close()

	client := NewClient(ts.URL, "secret", time.Minute, nil)
	items, err := client.Run(context.Background(), "apify~instagram-profile-scraper",
		map[string]any{"usernames": []any{"x"}},
		RunLimits{MaxItems: 1})
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	if gotPath != "/v2/acts/apify~instagram-profile-scraper/run-sync-get-dataset-items" {
		t.Errorf("path = %q", gotPath)
	}
	if gotToken != "secret" {
		t.Errorf("token = %q", gotToken)
	}
	if gotMaxItems != "1" {
		t.Errorf("maxItems = %q", gotMaxItems)
	}
	if gotInput["usernames"] == nil {
		t.Errorf("input = %v", gotInput)
	}
	if len(items) != 1 || items[0]["username"] != "x" {
		t.Errorf("items = %v", items)
	}
}

func TestRun_NonSuccessIsUpstreamError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "actor exploded", http.StatusBadGateway)
	}))
	defer ts.Close()

	client := NewClient(ts.URL, "", time.Minute, nil)
	_, err := client.Run(context.Background(), "broken", nil, RunLimits{})

	var ue *UpstreamError
	if !errors.As(err, &ue) {
		t.Fatalf("error = %v, want UpstreamError", err)
	}
	if ue.Status != http.StatusBadGateway {
		t.Errorf("status = %d", ue.Status)
	}
}

func TestRun_TimeoutCancelsRequest(t *testing.T) {
	release := make(chan struct{})
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	defer ts.Close()
	defer close(release)

	client := NewClient(ts.URL, "", time.Minute, nil)
	start := time.Now()
	_, err := client.Run(context.Background(), "slow", nil,
		RunLimits{Timeout: 50 * time.Millisecond})
	if err == nil {
		t.Fatal("expected timeout error")
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("timeout took %v", elapsed)
	}
}

func TestRun_CancellationAborts(t *testing.T) {
	release := make(chan struct{})
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	defer ts.Close()
	defer close(release)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	client := NewClient(ts.URL, "", time.Minute, nil)
	if _, err := client.Run(ctx, "slow", nil, RunLimits{}); err == nil {
		t.Fatal("expected cancellation error")
	}
}
