package pipeline

import (
	"context"
	"encoding/xml"
	"fmt"
	"html"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/neptunmap/neptun/internal/logger"
	"github.com/neptunmap/neptun/internal/models"
	"github.com/neptunmap/neptun/pkg/utils"
)

// FeedSource polls RSS renditions of public channels (RSSHub style
// /telegram/channel/<name> feeds). Item links ending in /<channel>/<id>
// supply the message id.
type FeedSource struct {
	channel  string
	url      string
	interval time.Duration
	client   *http.Client
}

// NewFeedSource creates a feed source for one channel.
func NewFeedSource(channel, feedURL string, interval time.Duration, client *http.Client) *FeedSource {
	if interval <= 0 {
		interval = time.Minute
	}
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &FeedSource{channel: channel, url: feedURL, interval: interval, client: client}
}

// ParseFeedEntry splits a "channel=url" pair.
func ParseFeedEntry(entry string) (channel, feedURL string, ok bool) {
	channel, feedURL, ok = strings.Cut(entry, "=")
	channel, feedURL = strings.TrimSpace(channel), strings.TrimSpace(feedURL)
	return channel, feedURL, ok && channel != "" && feedURL != ""
}

func (f *FeedSource) Name() string { return "feed:" + f.channel }

func (f *FeedSource) Interval() time.Duration { return f.interval }

// Fetch downloads the feed and converts its items.
func (f *FeedSource) Fetch(ctx context.Context) ([]models.RawMessage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", "neptun-map/1.0")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch feed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, resp.Status)
	}

	var feed RSS
	if err := xml.NewDecoder(resp.Body).Decode(&feed); err != nil {
		return nil, fmt.Errorf("parse feed: %w", err)
	}
	return f.convert(feed), nil
}

var (
	tagRe    = regexp.MustCompile(`<[^>]+>`)
	brRe     = regexp.MustCompile(`(?i)<br\s*/?>`)
	msgIDRe  = regexp.MustCompile(`/(\d+)/?$`)
	feedDate = []string{time.RFC1123Z, time.RFC1123, time.RFC3339}
)

func (f *FeedSource) convert(feed RSS) []models.RawMessage {
	var msgs []models.RawMessage
	for _, item := range feed.Channel.Items {
		text := html.UnescapeString(tagRe.ReplaceAllString(brRe.ReplaceAllString(item.Description, "\n"), ""))
		text = strings.TrimSpace(utils.FirstNonEmpty(text, item.Title))
		if text == "" {
			continue
		}

		var id string
		if m := msgIDRe.FindStringSubmatch(utils.FirstNonEmpty(item.Link, item.GUID)); m != nil {
			id = m[1]
		} else {
			id = utils.StableID(f.channel, item.GUID, item.Link, text)
		}

		msg := models.RawMessage{ID: id, Channel: f.channel, Text: text}
		for _, layout := range feedDate {
			if ts, err := time.Parse(layout, item.PubDate); err == nil {
				msg.Timestamp = ts.UTC()
				break
			}
		}
		if msg.Timestamp.IsZero() && item.PubDate != "" {
			logger.Debug("unparsed feed date", "channel", f.channel, "date", item.PubDate)
		}
		msgs = append(msgs, msg)
	}
	return msgs
}

// RSS is the subset of an RSS 2.0 document the feed source reads.
type RSS struct {
	XMLName xml.Name `xml:"rss"`
	Channel Channel  `xml:"channel"`
}

type Channel struct {
	Title string `xml:"title"`
	Items []Item `xml:"item"`
}

type Item struct {
	Title       string `xml:"title"`
	Description string `xml:"description"`
	Link        string `xml:"link"`
	PubDate     string `xml:"pubDate"`
	GUID        string `xml:"guid"`
}
