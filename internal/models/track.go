package models

import (
	"encoding/json"
	"strings"
	"time"
)

// DateLayout is the wire and on-disk timestamp format for tracks.
const DateLayout = "2006-01-02 15:04:05"

// APITextLimit bounds the text returned to map clients.
const APITextLimit = 500

// Track represents a single threat report shown on the map
type Track struct {
	ID         string     `json:"id" db:"id"`
	Text       string     `json:"text" db:"text"`
	Timestamp  time.Time  `json:"date" db:"ts"`
	Channel    string     `json:"channel" db:"channel"`
	Lat        *float64   `json:"lat" db:"lat"`
	Lng        *float64   `json:"lng" db:"lng"`
	Place      string     `json:"place" db:"place"`
	Oblast     string     `json:"oblast" db:"oblast"`
	ThreatType ThreatType `json:"threat_type" db:"threat_type"`
	Count      int        `json:"count" db:"count"`
	IsAllClear bool       `json:"is_all_clear" db:"is_all_clear"`
	Source     string     `json:"source" db:"source"`
	Target     string     `json:"target" db:"target"`
	Direction  string     `json:"direction" db:"direction"`
	Geocoded   bool       `json:"geocoded" db:"geocoded"`
	Manual     bool       `json:"manual" db:"manual"`
	Hidden     bool       `json:"hidden" db:"hidden"`
}

// HasCoords reports whether the track has been placed on the map.
func (t *Track) HasCoords() bool {
	return t.Lat != nil && t.Lng != nil
}

// SetCoords stores a copy of lat/lng on the track.
func (t *Track) SetCoords(lat, lng float64) {
	t.Lat = &lat
	t.Lng = &lng
}

// Clone returns a deep copy; coordinate pointers are not shared.
func (t *Track) Clone() *Track {
	if t == nil {
		return nil
	}
	c := *t
	if t.Lat != nil {
		lat := *t.Lat
		c.Lat = &lat
	}
	if t.Lng != nil {
		lng := *t.Lng
		c.Lng = &lng
	}
	return &c
}

// trackJSON is the persisted shape. Pointers let absent strings round-trip
// as null the way older files store them.
type trackJSON struct {
	ID         string   `json:"id"`
	Text       string   `json:"text"`
	Date       *string  `json:"date"`
	Channel    *string  `json:"channel"`
	Lat        *float64 `json:"lat"`
	Lng        *float64 `json:"lng"`
	Place      *string  `json:"place"`
	Oblast     *string  `json:"oblast"`
	ThreatType *string  `json:"threat_type"`
	Count      int      `json:"count"`
	IsAllClear bool     `json:"is_all_clear"`
	Source     *string  `json:"source"`
	Target     *string  `json:"target"`
	Direction  *string  `json:"direction"`
	Geocoded   bool     `json:"geocoded"`
	Manual     bool     `json:"manual"`
	Hidden     bool     `json:"hidden"`
}

// legacy keys accepted on read only
type trackJSONLegacy struct {
	trackJSON
	TS        string `json:"ts"`
	Message   string `json:"message"`
	Location  string `json:"location"`
	Type      string `json:"type"`
	Timestamp string `json:"timestamp"`
}

// trackRecord is the on-disk shape: the wire fields plus a full
// precision timestamp, since "date" only keeps whole seconds.
type trackRecord struct {
	trackJSON
	TS string `json:"ts,omitempty"`
}

func strPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// MarshalJSON writes the wire representation served to map clients.
func (t Track) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.wire())
}

// MarshalRecord writes the snapshot-file representation, which keeps
// sub-second timestamps.
func (t Track) MarshalRecord() ([]byte, error) {
	rec := trackRecord{trackJSON: t.wire()}
	if !t.Timestamp.IsZero() {
		rec.TS = t.Timestamp.UTC().Format(time.RFC3339Nano)
	}
	return json.Marshal(rec)
}

func (t Track) wire() trackJSON {
	var date *string
	if !t.Timestamp.IsZero() {
		d := t.Timestamp.UTC().Format(DateLayout)
		date = &d
	}
	var threat *string
	if t.ThreatType != "" {
		threat = strPtr(string(t.ThreatType))
	}
	return trackJSON{
		ID:         t.ID,
		Text:       t.Text,
		Date:       date,
		Channel:    strPtr(t.Channel),
		Lat:        t.Lat,
		Lng:        t.Lng,
		Place:      strPtr(t.Place),
		Oblast:     strPtr(t.Oblast),
		ThreatType: threat,
		Count:      t.Count,
		IsAllClear: t.IsAllClear,
		Source:     strPtr(t.Source),
		Target:     strPtr(t.Target),
		Direction:  strPtr(t.Direction),
		Geocoded:   t.Geocoded,
		Manual:     t.Manual,
		Hidden:     t.Hidden,
	}
}

// UnmarshalJSON reads both representations and the older
// message/location/type/timestamp keys. "ts" wins over "date" when set.
// A missing or malformed date falls back to the current time.
func (t *Track) UnmarshalJSON(data []byte) error {
	var raw trackJSONLegacy
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	ts := time.Now().UTC()
	date := deref(raw.Date)
	if date == "" {
		date = raw.Timestamp
	}
	if parsed, err := time.Parse(time.RFC3339Nano, raw.TS); raw.TS != "" && err == nil {
		ts = parsed.UTC()
	} else if date != "" {
		if parsed, err := time.ParseInLocation(DateLayout, date, time.UTC); err == nil {
			ts = parsed
		} else if parsed, err := time.Parse(time.RFC3339, date); err == nil {
			ts = parsed.UTC()
		}
	}

	text := raw.Text
	if text == "" {
		text = raw.Message
	}
	place := deref(raw.Place)
	if place == "" {
		place = raw.Location
	}
	threat := deref(raw.ThreatType)
	if threat == "" {
		threat = raw.Type
	}
	count := raw.Count
	if count <= 0 {
		count = 1
	}

	*t = Track{
		ID:         raw.ID,
		Text:       text,
		Timestamp:  ts,
		Channel:    deref(raw.Channel),
		Lat:        raw.Lat,
		Lng:        raw.Lng,
		Place:      place,
		Oblast:     deref(raw.Oblast),
		ThreatType: ThreatType(threat),
		Count:      count,
		IsAllClear: raw.IsAllClear,
		Source:     deref(raw.Source),
		Target:     deref(raw.Target),
		Direction:  deref(raw.Direction),
		Geocoded:   raw.Geocoded,
		Manual:     raw.Manual,
		Hidden:     raw.Hidden,
	}
	if threat != "" {
		t.ThreatType = ParseThreatType(threat)
	}
	return nil
}

// APITrack is the map-facing projection of a Track
type APITrack struct {
	ID        string  `json:"id"`
	Lat       float64 `json:"lat"`
	Lng       float64 `json:"lng"`
	Place     string  `json:"place"`
	Text      string  `json:"text"`
	Date      string  `json:"date"`
	Type      string  `json:"type"`
	Channel   string  `json:"channel"`
	Oblast    string  `json:"oblast"`
	Source    string  `json:"source"`
	Target    string  `json:"target"`
	Direction string  `json:"direction"`
	Count     int     `json:"count"`
	Manual    bool    `json:"manual"`
}

// ToAPI projects the track for map clients. ok is false when the track has
// no coordinates and must not be rendered.
func (t *Track) ToAPI() (APITrack, bool) {
	if !t.HasCoords() {
		return APITrack{}, false
	}
	typ := string(t.ThreatType)
	if typ == "" {
		typ = string(ThreatUnknown)
	}
	text := t.Text
	if r := []rune(text); len(r) > APITextLimit {
		text = string(r[:APITextLimit])
	}
	return APITrack{
		ID:        t.ID,
		Lat:       *t.Lat,
		Lng:       *t.Lng,
		Place:     t.Place,
		Text:      text,
		Date:      t.Timestamp.UTC().Format(DateLayout),
		Type:      typ,
		Channel:   t.Channel,
		Oblast:    t.Oblast,
		Source:    t.Source,
		Target:    t.Target,
		Direction: t.Direction,
		Count:     t.Count,
		Manual:    t.Manual,
	}, true
}

// TrackQuery represents query parameters for filtering tracks
type TrackQuery struct {
	Channels      []string     `json:"channels"`
	Types         []ThreatType `json:"types"`
	Oblast        string       `json:"oblast"`
	Since         time.Time    `json:"since"`
	Until         time.Time    `json:"until"`
	IncludeHidden bool         `json:"include_hidden"`
	OnlyGeocoded  bool         `json:"only_geocoded"`
	Limit         int          `json:"limit"`
}

// Matches checks if a track matches the query criteria
func (q TrackQuery) Matches(t *Track) bool {
	if t.Hidden && !q.IncludeHidden {
		return false
	}
	if q.OnlyGeocoded && !t.HasCoords() {
		return false
	}
	if len(q.Channels) > 0 && !contains(q.Channels, t.Channel) {
		return false
	}
	if len(q.Types) > 0 && !containsType(q.Types, t.ThreatType) {
		return false
	}
	if q.Oblast != "" && !strings.Contains(strings.ToLower(t.Oblast), strings.ToLower(q.Oblast)) {
		return false
	}
	if !q.Since.IsZero() && t.Timestamp.Before(q.Since) {
		return false
	}
	if !q.Until.IsZero() && t.Timestamp.After(q.Until) {
		return false
	}
	return true
}

func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}

func containsType(slice []ThreatType, item ThreatType) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}
