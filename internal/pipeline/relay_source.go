package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/neptunmap/neptun/internal/models"
	"github.com/neptunmap/neptun/pkg/utils"
)

// RelaySource polls an HTTP relay that exposes recent channel messages
// as JSON:
//
//	{"messages":[{"id":"1","channel":"kyiv","text":"...","timestamp":"2024-03-01T12:00:00Z"}]}
//
// Each request carries the newest timestamp seen so far in "since".
type RelaySource struct {
	name     string
	url      string
	interval time.Duration
	client   *http.Client

	mu     sync.Mutex
	cursor time.Time
}

type relayResponse struct {
	Messages []relayMessage `json:"messages"`
}

type relayMessage struct {
	ID        json.RawMessage `json:"id"`
	Channel   string          `json:"channel"`
	Text      string          `json:"text"`
	Timestamp time.Time       `json:"timestamp"`
}

// NewRelaySource creates a relay source. A nil client gets a 30s timeout.
func NewRelaySource(name, rawURL string, interval time.Duration, client *http.Client) *RelaySource {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &RelaySource{name: name, url: rawURL, interval: interval, client: client}
}

func (r *RelaySource) Name() string { return r.name }

func (r *RelaySource) Interval() time.Duration { return r.interval }

// Fetch returns messages newer than the cursor and advances it.
func (r *RelaySource) Fetch(ctx context.Context) ([]models.RawMessage, error) {
	u, err := url.Parse(r.url)
	if err != nil {
		return nil, fmt.Errorf("parse relay url: %w", err)
	}
	r.mu.Lock()
	cursor := r.cursor
	r.mu.Unlock()
	if !cursor.IsZero() {
		q := u.Query()
		q.Set("since", cursor.Format(time.RFC3339))
		u.RawQuery = q.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch relay: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, resp.Status)
	}

	var body relayResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode relay: %w", err)
	}

	msgs := make([]models.RawMessage, 0, len(body.Messages))
	newest := cursor
	for _, m := range body.Messages {
		if m.Channel == "" || m.Text == "" {
			continue
		}
		id := relayID(m.ID)
		if id == "" {
			id = utils.StableID(m.Channel, m.Text, m.Timestamp.UTC().Format(time.RFC3339))
		}
		msgs = append(msgs, models.RawMessage{ID: id, Channel: m.Channel, Text: m.Text, Timestamp: m.Timestamp.UTC()})
		if m.Timestamp.After(newest) {
			newest = m.Timestamp.UTC()
		}
	}

	r.mu.Lock()
	if newest.After(r.cursor) {
		r.cursor = newest
	}
	r.mu.Unlock()
	return msgs, nil
}

// relayID accepts numeric or string ids.
func relayID(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var n int64
	if err := json.Unmarshal(raw, &n); err == nil {
		return strconv.FormatInt(n, 10)
	}
	return ""
}
