// Package pipeline turns inbound channel messages into stored tracks:
// parse, geocode, store, notify. Polling sources feed it for backfill.
package pipeline

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	apperrors "github.com/neptunmap/neptun/internal/errors"
	"github.com/neptunmap/neptun/internal/geo"
	"github.com/neptunmap/neptun/internal/logger"
	"github.com/neptunmap/neptun/internal/metrics"
	"github.com/neptunmap/neptun/internal/models"
	"github.com/neptunmap/neptun/internal/parser"
	"github.com/neptunmap/neptun/pkg/utils"
)

// Parser extracts threat data from raw text.
type Parser interface {
	Parse(text string, ts time.Time, channel, messageID string) *models.ParsedMessage
}

// Geocoder resolves a place name with an optional region hint.
type Geocoder interface {
	Geocode(ctx context.Context, query, region string) (*models.GeocodingResult, error)
}

// contextGeocoder also uses the message text to pick among homonyms.
type contextGeocoder interface {
	GeocodeWithContext(ctx context.Context, query, region, messageText, sourceRegion string) (*models.GeocodingResult, error)
}

// Store receives created tracks.
type Store interface {
	Add(t *models.Track) bool
}

// Callback is notified of every stored track.
type Callback func(t *models.Track)

// Config bounds the dedup history and stored text.
type Config struct {
	HistorySize int
	TextLimit   int
}

// ProcessingResult describes the outcome of one message.
type ProcessingResult struct {
	MessageID      string   `json:"message_id"`
	Channel        string   `json:"channel"`
	Success        bool     `json:"success"`
	Duplicate      bool     `json:"duplicate,omitempty"`
	MarkersCreated int      `json:"markers_created"`
	TrackIDs       []string `json:"track_ids,omitempty"`
	Error          string   `json:"error,omitempty"`
}

// ChannelStats counts messages and markers for one channel.
type ChannelStats struct {
	Messages    int       `json:"messages"`
	Markers     int       `json:"markers"`
	LastMessage time.Time `json:"last_message"`
}

// Stats is a snapshot of pipeline counters.
type Stats struct {
	TotalProcessed  int                     `json:"total_processed"`
	TotalMarkers    int                     `json:"total_markers"`
	TotalErrors     int                     `json:"total_errors"`
	TotalDuplicates int                     `json:"total_duplicates"`
	LastProcess     *time.Time              `json:"last_process_time"`
	HistorySize     int                     `json:"processed_ids_count"`
	Callbacks       int                     `json:"callbacks_count"`
	Channels        map[string]ChannelStats `json:"channel_stats"`
}

type msgKey struct {
	channel string
	id      string
}

type subscriber struct {
	name string
	fn   Callback
}

// MessagePipeline coordinates parsing, geocoding, storage and
// notification per message. It is safe for concurrent use.
type MessagePipeline struct {
	parser   Parser
	geocoder Geocoder
	store    Store
	cfg      Config

	cbMu      sync.RWMutex
	callbacks []subscriber

	// history is a ring of processed keys; seen mirrors it for lookup.
	histMu   sync.Mutex
	history  []msgKey
	next     int
	seen     map[msgKey]struct{}
	inflight map[msgKey]struct{}

	statsMu  sync.Mutex
	stats    Stats
	channels map[string]*ChannelStats

	now func() time.Time
}

// New creates a pipeline. A nil geocoder stores every track pending for
// the background processor.
func New(p Parser, g Geocoder, s Store, cfg Config) *MessagePipeline {
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = 1000
	}
	if cfg.TextLimit <= 0 {
		cfg.TextLimit = 500
	}
	return &MessagePipeline{
		parser:   p,
		geocoder: g,
		store:    s,
		cfg:      cfg,
		history:  make([]msgKey, 0, cfg.HistorySize),
		seen:     make(map[msgKey]struct{}, cfg.HistorySize),
		inflight: make(map[msgKey]struct{}),
		channels: make(map[string]*ChannelStats),
		now:      time.Now,
	}
}

// Subscribe registers fn under name, replacing any callback with the
// same name.
func (p *MessagePipeline) Subscribe(name string, fn Callback) {
	p.cbMu.Lock()
	defer p.cbMu.Unlock()
	for i, s := range p.callbacks {
		if s.name == name {
			p.callbacks[i].fn = fn
			return
		}
	}
	p.callbacks = append(p.callbacks, subscriber{name: name, fn: fn})
}

// Unsubscribe removes the named callback.
func (p *MessagePipeline) Unsubscribe(name string) bool {
	p.cbMu.Lock()
	defer p.cbMu.Unlock()
	for i, s := range p.callbacks {
		if s.name == name {
			p.callbacks = append(p.callbacks[:i], p.callbacks[i+1:]...)
			return true
		}
	}
	return false
}

func (p *MessagePipeline) notify(t *models.Track) {
	p.cbMu.RLock()
	subs := append([]subscriber(nil), p.callbacks...)
	p.cbMu.RUnlock()

	for _, s := range subs {
		func() {
			defer func() {
				if r := recover(); r != nil {
					logger.Warn("track callback panicked", "callback", s.name, "track_id", t.ID, "panic", r)
				}
			}()
			s.fn(t.Clone())
		}()
	}
}

// claim reserves key for processing. It returns false when the message
// was already processed or is being processed.
func (p *MessagePipeline) claim(key msgKey) bool {
	p.histMu.Lock()
	defer p.histMu.Unlock()
	if _, ok := p.seen[key]; ok {
		return false
	}
	if _, ok := p.inflight[key]; ok {
		return false
	}
	p.inflight[key] = struct{}{}
	return true
}

// release ends processing of key and records it in the history when
// processing succeeded.
func (p *MessagePipeline) release(key msgKey, processed bool) {
	p.histMu.Lock()
	defer p.histMu.Unlock()
	delete(p.inflight, key)
	if !processed {
		return
	}
	if len(p.history) < p.cfg.HistorySize {
		p.history = append(p.history, key)
	} else {
		delete(p.seen, p.history[p.next])
		p.history[p.next] = key
		p.next = (p.next + 1) % p.cfg.HistorySize
	}
	p.seen[key] = struct{}{}
}

// ProcessMessage handles one message. Repeated (channel, messageID)
// pairs within the history window create nothing.
func (p *MessagePipeline) ProcessMessage(ctx context.Context, messageID, channel, text string, ts time.Time) (res ProcessingResult) {
	res = ProcessingResult{MessageID: messageID, Channel: channel}
	if messageID == "" || channel == "" {
		err := apperrors.ValidationError{Field: "message", Message: "message id and channel are required"}
		return p.fail(res, err)
	}

	key := msgKey{channel: channel, id: messageID}
	if !p.claim(key) {
		res.Success = true
		res.Duplicate = true
		p.statsMu.Lock()
		p.stats.TotalDuplicates++
		p.statsMu.Unlock()
		metrics.RecordMessageProcessed(channel, "duplicate")
		return res
	}

	processed := false
	defer func() {
		if r := recover(); r != nil {
			processed = false
			res = p.fail(res, apperrors.PipelineError{Source: channel, Stage: "process", Err: fmt.Errorf("panic: %v", r)})
		}
		p.release(key, processed)
	}()

	if err := ctx.Err(); err != nil {
		return p.fail(res, apperrors.PipelineError{Source: channel, Stage: "parse", Err: err})
	}

	parsed := p.parser.Parse(text, ts, channel, messageID)
	var tracks []*models.Track
	if parser.Actionable(parsed) {
		tracks = p.buildTracks(ctx, parsed)
	}
	if err := ctx.Err(); err != nil {
		return p.fail(res, apperrors.PipelineError{Source: channel, Stage: "geocode", Err: err})
	}

	for _, t := range tracks {
		if !p.store.Add(t) {
			continue
		}
		res.TrackIDs = append(res.TrackIDs, t.ID)
		p.notify(t)
	}
	res.MarkersCreated = len(res.TrackIDs)
	res.Success = true
	processed = true

	p.record(channel, res.MarkersCreated)
	status := "skipped"
	if res.MarkersCreated > 0 {
		status = "created"
	}
	metrics.RecordMessageProcessed(channel, status)
	logger.Debug("message processed", "channel", channel, "message_id", messageID, "markers", res.MarkersCreated)
	return res
}

// ProcessRaw is ProcessMessage for a RawMessage.
func (p *MessagePipeline) ProcessRaw(ctx context.Context, msg models.RawMessage) ProcessingResult {
	return p.ProcessMessage(ctx, msg.ID, msg.Channel, msg.Text, msg.Timestamp)
}

// ProcessBatch processes messages sequentially.
func (p *MessagePipeline) ProcessBatch(ctx context.Context, msgs []models.RawMessage) []ProcessingResult {
	results := make([]ProcessingResult, 0, len(msgs))
	for _, m := range msgs {
		results = append(results, p.ProcessRaw(ctx, m))
	}
	return results
}

// buildTracks creates one track per resolved place. When nothing
// resolves a single pending track is returned for the processor.
func (p *MessagePipeline) buildTracks(ctx context.Context, parsed *models.ParsedMessage) []*models.Track {
	region := ""
	if parsed.Location != nil {
		region = parsed.Location.Oblast
	}
	candidates := parsed.PlaceCandidates()

	var tracks []*models.Track
	placed := make(map[geo.Coordinates]bool)
	for _, place := range candidates {
		res := p.geocode(ctx, place, region, parsed)
		if res == nil {
			continue
		}
		// two spellings of one place resolve to the same point
		at := res.Coordinates.Rounded()
		if placed[at] {
			continue
		}
		placed[at] = true
		t := p.newTrack(parsed, len(tracks))
		t.Place = utils.FirstNonEmpty(res.PlaceName, place)
		t.SetCoords(res.Coordinates.Lat, res.Coordinates.Lng)
		t.Geocoded = true
		if t.Oblast == "" {
			t.Oblast = res.Oblast
		}
		tracks = append(tracks, t)
	}
	if len(tracks) > 0 {
		return tracks
	}

	t := p.newTrack(parsed, 0)
	if len(candidates) > 0 {
		t.Place = candidates[0]
	}
	return []*models.Track{t}
}

func (p *MessagePipeline) geocode(ctx context.Context, place, region string, parsed *models.ParsedMessage) *models.GeocodingResult {
	if p.geocoder == nil || ctx.Err() != nil {
		return nil
	}
	var (
		res *models.GeocodingResult
		err error
	)
	if cg, ok := p.geocoder.(contextGeocoder); ok {
		source := ""
		if parsed.Course != nil {
			source = parsed.Course.Source
		}
		res, err = cg.GeocodeWithContext(ctx, place, region, parsed.RawText, source)
	} else {
		res, err = p.geocoder.Geocode(ctx, place, region)
	}
	if err != nil {
		logger.Warn("geocoding failed", "query", place, "region", region, "error", err)
		metrics.RecordGeocode("pipeline", "error")
		return nil
	}
	if res == nil {
		logger.Debug("could not geocode", "query", place)
		metrics.RecordGeocode("pipeline", "miss")
		return nil
	}
	metrics.RecordGeocode("pipeline", "hit")
	return res
}

func (p *MessagePipeline) newTrack(parsed *models.ParsedMessage, n int) *models.Track {
	id := parsed.Channel + "_" + parsed.MessageID
	if n > 0 {
		id = fmt.Sprintf("%s_%d", id, n)
	}
	t := &models.Track{
		ID:         id,
		Text:       utils.Truncate(strings.TrimSpace(parsed.RawText), p.cfg.TextLimit),
		Timestamp:  parsed.Timestamp.UTC(),
		Channel:    parsed.Channel,
		ThreatType: parsed.ThreatType(),
		Count:      parsed.Count,
	}
	if parsed.Location != nil {
		t.Oblast = parsed.Location.Oblast
	}
	if c := parsed.Course; c != nil {
		t.Source = c.Source
		t.Target = c.Target
		t.Direction = c.Direction
	}
	return t
}

func (p *MessagePipeline) fail(res ProcessingResult, err error) ProcessingResult {
	res.Success = false
	res.MarkersCreated = 0
	res.TrackIDs = nil
	res.Error = err.Error()
	p.statsMu.Lock()
	p.stats.TotalErrors++
	p.statsMu.Unlock()
	metrics.RecordMessageProcessed(res.Channel, "error")
	logger.Error("message processing failed", "channel", res.Channel, "message_id", res.MessageID, "error", err)
	return res
}

func (p *MessagePipeline) record(channel string, markers int) {
	now := p.now().UTC()
	p.statsMu.Lock()
	defer p.statsMu.Unlock()
	p.stats.TotalProcessed++
	p.stats.TotalMarkers += markers
	p.stats.LastProcess = &now

	cs, ok := p.channels[channel]
	if !ok {
		cs = &ChannelStats{}
		p.channels[channel] = cs
	}
	cs.Messages++
	cs.Markers += markers
	cs.LastMessage = now
}

// Stats returns a copy of the counters.
func (p *MessagePipeline) Stats() Stats {
	p.statsMu.Lock()
	st := p.stats
	if st.LastProcess != nil {
		ts := *st.LastProcess
		st.LastProcess = &ts
	}
	st.Channels = make(map[string]ChannelStats, len(p.channels))
	for k, v := range p.channels {
		st.Channels[k] = *v
	}
	p.statsMu.Unlock()

	p.histMu.Lock()
	st.HistorySize = len(p.seen)
	p.histMu.Unlock()

	p.cbMu.RLock()
	st.Callbacks = len(p.callbacks)
	p.cbMu.RUnlock()
	return st
}

// ClearHistory forgets processed message ids.
func (p *MessagePipeline) ClearHistory() {
	p.histMu.Lock()
	defer p.histMu.Unlock()
	p.history = p.history[:0]
	p.next = 0
	p.seen = make(map[msgKey]struct{}, p.cfg.HistorySize)
}
