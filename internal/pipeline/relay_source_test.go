package pipeline

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"
)

func TestRelaySource_FetchAdvancesCursor(t *testing.T) {
	var (
		mu     sync.Mutex
		sinces []string
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		sinces = append(sinces, r.URL.Query().Get("since"))
		mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"messages":[
			{"id": 17, "channel": "kyiv", "text": "Шахед курсом на Київ", "timestamp": "2024-03-01T21:15:00Z"},
			{"id": "abc", "channel": "odesa", "text": "БпЛА на Одесу", "timestamp": "2024-03-01T21:20:00+02:00"},
			{"channel": "kyiv", "text": "Вибухи у Києві", "timestamp": "2024-03-01T21:10:00Z"},
			{"id": 18, "channel": "", "text": "без каналу"},
			{"id": 19, "channel": "kyiv", "text": ""}
		]}`))
	}))
	defer server.Close()

	src := NewRelaySource("relay", server.URL+"/messages?limit=50", 0, nil)
	if src.Name() != "relay" || src.Interval() != 30*time.Second {
		t.Errorf("unexpected name/interval %s/%v", src.Name(), src.Interval())
	}

	msgs, err := src.Fetch(context.Background())
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if len(msgs) != 3 {
		t.Fatalf("Expected 3 messages, got %d", len(msgs))
	}
	if msgs[0].ID != "17" || msgs[1].ID != "abc" || len(msgs[2].ID) != 16 {
		t.Errorf("unexpected ids %q %q %q", msgs[0].ID, msgs[1].ID, msgs[2].ID)
	}
	if msgs[1].Timestamp.Location() != time.UTC {
		t.Error("timestamps should be normalized to UTC")
	}

	if _, err := src.Fetch(context.Background()); err != nil {
		t.Fatalf("second Fetch: %v", err)
	}
	mu.Lock()
	defer mu.Unlock()
	if sinces[0] != "" {
		t.Errorf("first request should not carry a cursor, got %q", sinces[0])
	}
	if sinces[1] != "2024-03-01T21:15:00Z" {
		t.Errorf("cursor = %q, want newest timestamp", sinces[1])
	}
}

func TestRelaySource_FetchErrors(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{name: "HTTP error", handler: func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusServiceUnavailable) }},
		{name: "invalid JSON", handler: func(w http.ResponseWriter, r *http.Request) { _, _ = w.Write([]byte("{")) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(tt.handler)
			defer server.Close()
			if _, err := NewRelaySource("relay", server.URL, 0, nil).Fetch(context.Background()); err == nil {
				t.Error("Expected error, got nil")
			}
		})
	}
}
