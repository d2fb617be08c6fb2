// Package sdk is a small client for the neptun HTTP API.
package sdk

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

type Client struct {
	BaseURL     string
	AdminSecret string
	HTTP        *http.Client
}

func New(baseURL, adminSecret string) *Client {
	if baseURL == "" {
		baseURL = "http://localhost:8080"
	}
	return &Client{
		BaseURL:     strings.TrimRight(baseURL, "/"),
		AdminSecret: adminSecret,
		HTTP:        &http.Client{Timeout: 15 * time.Second},
	}
}

// Track is a marker as served by the API.
type Track struct {
	ID      string  `json:"id"`
	Place   string  `json:"place"`
	Lat     float64 `json:"lat"`
	Lng     float64 `json:"lng"`
	Type    string  `json:"type"`
	Oblast  string  `json:"oblast"`
	Count   int     `json:"count"`
	Date    string  `json:"date"`
	Channel string  `json:"channel"`
	Text    string  `json:"text"`
	Manual  bool    `json:"manual"`
}

// TracksPage is the envelope of the track listing endpoints.
type TracksPage struct {
	Data      []Track   `json:"data"`
	Count     int       `json:"count"`
	Timestamp time.Time `json:"timestamp"`
}

// Message is a raw channel message submitted for parsing.
type Message struct {
	ID        string    `json:"id,omitempty"`
	Channel   string    `json:"channel"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp,omitempty"`
}

// Result reports what the server extracted from a message.
type Result struct {
	Success        bool     `json:"success"`
	MessageID      string   `json:"message_id"`
	Duplicate      bool     `json:"duplicate"`
	MarkersCreated int      `json:"markers_created"`
	TrackIDs       []string `json:"track_ids"`
	Error          string   `json:"error"`
}

// APIError is a non-2xx response.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("neptun: %d %s", e.Status, e.Message)
}

// TrackFilter narrows Tracks. Zero values are omitted.
type TrackFilter struct {
	Channels []string
	Types    []string
	Oblast   string
	Since    time.Time
	Until    time.Time
	Limit    int
}

func (f TrackFilter) values() url.Values {
	q := url.Values{}
	for _, c := range f.Channels {
		q.Add("channel", c)
	}
	for _, t := range f.Types {
		q.Add("type", t)
	}
	if f.Oblast != "" {
		q.Set("oblast", f.Oblast)
	}
	if !f.Since.IsZero() {
		q.Set("since", f.Since.UTC().Format(time.RFC3339))
	}
	if !f.Until.IsZero() {
		q.Set("until", f.Until.UTC().Format(time.RFC3339))
	}
	if f.Limit > 0 {
		q.Set("limit", strconv.Itoa(f.Limit))
	}
	return q
}

func (c *Client) Tracks(ctx context.Context, f TrackFilter) (*TracksPage, error) {
	var out TracksPage
	return &out, c.do(ctx, http.MethodGet, "/v1/tracks?"+f.values().Encode(), nil, false, &out)
}

// Active returns markers from the last minutes.
func (c *Client) Active(ctx context.Context, minutes int) (*TracksPage, error) {
	var out TracksPage
	return &out, c.do(ctx, http.MethodGet, "/v1/tracks/active?minutes="+strconv.Itoa(minutes), nil, false, &out)
}

func (c *Client) ByOblast(ctx context.Context, oblast string) (*TracksPage, error) {
	var out TracksPage
	return &out, c.do(ctx, http.MethodGet, "/v1/tracks/oblast/"+url.PathEscape(oblast), nil, false, &out)
}

// Submit sends a channel message through the parsing pipeline.
func (c *Client) Submit(ctx context.Context, m Message) (*Result, error) {
	var out Result
	return &out, c.do(ctx, http.MethodPost, "/v1/messages", m, false, &out)
}

// Hide removes a track from public listings. Requires the admin secret.
func (c *Client) Hide(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodPost, "/v1/admin/tracks/"+url.PathEscape(id)+"/hide", nil, true, nil)
}

// Correct pins a place name to coordinates. Requires the admin secret.
func (c *Client) Correct(ctx context.Context, query string, lat, lng float64, oblast string) error {
	body := map[string]interface{}{"query": query, "lat": lat, "lng": lng, "oblast": oblast}
	return c.do(ctx, http.MethodPost, "/v1/admin/corrections", body, true, nil)
}

func (c *Client) do(ctx context.Context, method, path string, body interface{}, admin bool, out interface{}) error {
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		r = strings.NewReader(string(b))
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, r)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if admin {
		req.Header.Set("X-Admin-Secret", c.AdminSecret)
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 300 {
		var e struct {
			Message string `json:"message"`
			Error   string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&e)
		msg := e.Message
		if msg == "" {
			msg = e.Error
		}
		return &APIError{Status: resp.StatusCode, Message: msg}
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
