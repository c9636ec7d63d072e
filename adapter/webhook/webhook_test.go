package webhook

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pithecene-io/sluice/adapter"
	"github.com/pithecene-io/sluice/iox"
)

func testEvent() *adapter.Event {
	return &adapter.Event{
		ContractVersion: adapter.ContractVersion,
		EventType:       adapter.EventStreamClosed,
		SessionID:       "sess-001",
		Role:            "consumer",
		Channel:         "primary",
		Service:         "ELEKTRON_DD",
		Domain:          "MarketPrice",
		Item:            "TRI.N",
		StreamState:     "Closed",
		DataState:       "Suspect",
		Text:            "item not found",
		Timestamp:       "2026-02-07T12:00:00Z",
	}
}

// statusServer answers every request with the next code of codes,
// repeating the last one.
func statusServer(t *testing.T, attempts *atomic.Int32, codes ...int) *httptest.Server {
	t.Helper()
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		n := int(attempts.Add(1))
		w.WriteHeader(codes[min(n, len(codes))-1])
	}))
	t.Cleanup(ts.Close)
	return ts
}

func TestPublish_Success(t *testing.T) {
	var received adapter.Event
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("Content-Type = %s, want application/json", ct)
		}
		if sig := r.Header.Get(SignatureHeader); sig != "" {
			t.Errorf("unexpected signature %q", sig)
		}
		body, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(body, &received); err != nil {
			t.Errorf("Unmarshal failed: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	a, err := New(Config{URL: ts.URL, Retries: 0})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer iox.DiscardClose(a)

	if err := a.Publish(t.Context(), testEvent()); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}
	if received.Item != "TRI.N" {
		t.Errorf("item = %q, want %q", received.Item, "TRI.N")
	}
	if received.EventType != adapter.EventStreamClosed {
		t.Errorf("event_type = %q, want %q", received.EventType, adapter.EventStreamClosed)
	}
}

func TestPublish_HeadersAndSignature(t *testing.T) {
	var auth, sig string
	var body []byte
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		sig = r.Header.Get(SignatureHeader)
		body, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer ts.Close()

	a, err := New(Config{
		URL:     ts.URL,
		Headers: map[string]string{"Authorization": "Bearer test-token"},
		Secret:  "s3cret",
	})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer iox.DiscardClose(a)

	if err := a.Publish(t.Context(), testEvent()); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}
	if auth != "Bearer test-token" {
		t.Errorf("Authorization = %q, want %q", auth, "Bearer test-token")
	}
	if want := Sign("s3cret", body); sig != want {
		t.Errorf("signature = %q, want %q", sig, want)
	}
	if Sign("other", body) == sig {
		t.Error("signature does not depend on the secret")
	}
}

func TestPublish_Retries(t *testing.T) {
	tests := []struct {
		name     string
		retries  int
		codes    []int
		wantErr  bool
		attempts int32
	}{
		{"recovers after 5xx", 3, []int{500, 502, 200}, false, 3},
		{"exhausts retries", 2, []int{500}, true, 3},
		{"503 exhausts retries", 1, []int{503}, true, 2},
		{"400 fails at once", 3, []int{400}, true, 1},
		{"404 fails at once", 3, []int{404}, true, 1},
		{"202 accepted", 0, []int{202}, false, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var attempts atomic.Int32
			ts := statusServer(t, &attempts, tt.codes...)
			a, err := New(Config{URL: ts.URL, Retries: tt.retries, Timeout: 5 * time.Second})
			if err != nil {
				t.Fatalf("New failed: %v", err)
			}
			defer iox.DiscardClose(a)

			err = a.Publish(t.Context(), testEvent())
			if (err != nil) != tt.wantErr {
				t.Errorf("Publish() error = %v, wantErr %v", err, tt.wantErr)
			}
			if got := attempts.Load(); got != tt.attempts {
				t.Errorf("attempts = %d, want %d", got, tt.attempts)
			}
		})
	}
}

func TestPublish_ContextCanceled(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(5 * time.Second):
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	a, err := New(Config{URL: ts.URL, Retries: 0, Timeout: 10 * time.Second})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer iox.DiscardClose(a)

	ctx, cancel := context.WithTimeout(t.Context(), 100*time.Millisecond)
	defer cancel()
	if err := a.Publish(ctx, testEvent()); err == nil {
		t.Fatal("expected error on canceled context")
	}
}

func TestNew_Validation(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Error("New() without URL error = nil, want error")
	}
	if _, err := New(Config{URL: "http://example.com", Retries: -1}); err == nil {
		t.Error("New() with negative retries error = nil, want error")
	}
	a, err := New(Config{URL: "http://example.com"})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if a.config.Timeout != DefaultTimeout {
		t.Errorf("Timeout = %v, want %v", a.config.Timeout, DefaultTimeout)
	}
}
