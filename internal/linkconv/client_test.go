package linkconv

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"
)

func testConfig(url string, attempts int) Config {
	return Config{
		URL:       url,
		Attempts:  attempts,
		BaseDelay: time.Millisecond,
		MaxDelay:  5 * time.Millisecond,
	}
}

func TestConvertSucceedsAfterRetries(t *testing.T) {
	var calls int
	var mu sync.Mutex
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var payload struct {
			Link string `json:"link"`
		}
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Errorf("bad request body: %v", err)
		}
		if payload.Link != "https://host.example/f/abc" {
			t.Errorf("request link = %q", payload.Link)
		}

		mu.Lock()
		calls++
		n := calls
		mu.Unlock()

		if n < 3 {
			http.Error(w, "still processing", http.StatusServiceUnavailable)
			return
		}
		json.NewEncoder(w).Encode(map[string]string{"link": "https://mirror.example/x/abc"})
	}))
	defer server.Close()

	client := NewClient(testConfig(server.URL, 5), nil)

	var statuses []string
	got := client.Convert(context.Background(), "https://host.example/f/abc", func(message string) {
		statuses = append(statuses, message)
	})

	if got != "https://mirror.example/x/abc" {
		t.Fatalf("converted link = %q", got)
	}
	if calls != 3 {
		t.Fatalf("expected 3 attempts, got %d", calls)
	}

	var retries, converted int
	for _, message := range statuses {
		if strings.Contains(message, "retrying in") {
			retries++
		}
		if strings.Contains(message, "link converted") {
			converted++
		}
	}
	if retries == 0 {
		t.Fatal("no retry countdown reached the status sink")
	}
	if converted != 1 {
		t.Fatalf("expected one conversion notice, got %d", converted)
	}
}

// The conversion service degrades, never fails: when the cap runs out the
// caller keeps the original reference.
func TestConvertKeepsOriginalOnExhaustion(t *testing.T) {
	var calls int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		http.Error(w, "internal error", http.StatusInternalServerError)
	}))
	defer server.Close()

	client := NewClient(testConfig(server.URL, 3), nil)
	got := client.Convert(context.Background(), "https://host.example/f/abc", nil)

	if got != "https://host.example/f/abc" {
		t.Fatalf("expected the original reference back, got %q", got)
	}
	if calls != 3 {
		t.Fatalf("expected 3 attempts, got %d", calls)
	}
}

func TestConvertKeepsOriginalOnCancel(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "still processing", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	cfg := testConfig(server.URL, 100)
	cfg.BaseDelay = time.Minute
	client := NewClient(cfg, nil)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	got := client.Convert(ctx, "https://host.example/f/abc", nil)
	if got != "https://host.example/f/abc" {
		t.Fatalf("expected the original reference back, got %q", got)
	}
}

func TestConvertNoEndpointConfigured(t *testing.T) {
	client := NewClient(Config{}, nil)
	if got := client.Convert(context.Background(), "https://host.example/f/abc", nil); got != "https://host.example/f/abc" {
		t.Fatalf("got %q", got)
	}
}

func TestConvertRejectsEmptyLinkInResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"link": ""})
	}))
	defer server.Close()

	client := NewClient(testConfig(server.URL, 2), nil)
	if got := client.Convert(context.Background(), "ref", nil); got != "ref" {
		t.Fatalf("empty response link must degrade to the original, got %q", got)
	}
}
