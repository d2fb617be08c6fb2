package pipeline

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestFeedSource_NameAndInterval(t *testing.T) {
	source := NewFeedSource("kyiv_alerts", "http://example.com/rss", 0, nil)
	if source.Name() != "feed:kyiv_alerts" {
		t.Errorf("Expected name 'feed:kyiv_alerts', got %s", source.Name())
	}
	if source.Interval() != time.Minute {
		t.Errorf("Expected default interval 1m, got %v", source.Interval())
	}
}

func TestFeedSource_Fetch(t *testing.T) {
	feed := `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0">
  <channel>
    <title>Kyiv alerts</title>
    <item>
      <title>Шахед курсом на Київ</title>
      <description><![CDATA[<p>Шахед курсом на Київ<br/>Будьте обережні &amp; в укритті</p>]]></description>
      <link>https://t.me/kyiv_alerts/1042</link>
      <pubDate>Fri, 01 Mar 2024 21:15:00 +0000</pubDate>
      <guid>https://t.me/kyiv_alerts/1042</guid>
    </item>
    <item>
      <title>Відбій тривоги</title>
      <description></description>
      <link>https://example.com/post</link>
      <pubDate>not a date</pubDate>
      <guid>post-1</guid>
    </item>
    <item>
      <title></title>
      <description>   </description>
    </item>
  </channel>
</rss>`

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/rss+xml")
		_, _ = w.Write([]byte(feed))
	}))
	defer server.Close()

	msgs, err := NewFeedSource("kyiv_alerts", server.URL, 0, nil).Fetch(context.Background())
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("Expected 2 messages, got %d", len(msgs))
	}

	first := msgs[0]
	if first.ID != "1042" || first.Channel != "kyiv_alerts" {
		t.Errorf("unexpected id/channel %q/%q", first.ID, first.Channel)
	}
	if first.Text != "Шахед курсом на Київ\nБудьте обережні & в укритті" {
		t.Errorf("unexpected text %q", first.Text)
	}
	if !first.Timestamp.Equal(time.Date(2024, 3, 1, 21, 15, 0, 0, time.UTC)) {
		t.Errorf("unexpected timestamp %v", first.Timestamp)
	}

	second := msgs[1]
	if second.Text != "Відбій тривоги" || len(second.ID) != 16 || !second.Timestamp.IsZero() {
		t.Errorf("unexpected fallback message %+v", second)
	}
}

func TestFeedSource_FetchErrors(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{
			name:    "HTTP error",
			handler: func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusBadGateway) },
		},
		{
			name:    "invalid XML",
			handler: func(w http.ResponseWriter, r *http.Request) { _, _ = w.Write([]byte("invalid xml content")) },
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(tt.handler)
			defer server.Close()
			if _, err := NewFeedSource("c", server.URL, 0, nil).Fetch(context.Background()); err == nil {
				t.Error("Expected error, got nil")
			}
		})
	}
}

func TestParseFeedEntry(t *testing.T) {
	tests := []struct {
		entry   string
		channel string
		url     string
		ok      bool
	}{
		{entry: "kyiv=https://rss.example/telegram/channel/kyiv", channel: "kyiv", url: "https://rss.example/telegram/channel/kyiv", ok: true},
		{entry: " odesa = https://x/y?a=b ", channel: "odesa", url: "https://x/y?a=b", ok: true},
		{entry: "no-separator"},
		{entry: "=https://x"},
		{entry: "kyiv="},
	}
	for _, tt := range tests {
		t.Run(tt.entry, func(t *testing.T) {
			channel, u, ok := ParseFeedEntry(tt.entry)
			if ok != tt.ok || (ok && (channel != tt.channel || u != tt.url)) {
				t.Errorf("ParseFeedEntry(%q) = %q, %q, %v", tt.entry, channel, u, ok)
			}
		})
	}
}
