package models

import (
	"time"

	"github.com/neptunmap/neptun/internal/normalizer"
)

// RawMessage is an inbound channel message before parsing.
type RawMessage struct {
	ID        string    `json:"id"`
	Channel   string    `json:"channel"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// Course types.
const (
	CourseFull        = "full_course"
	CourseTargetOnly  = "target_only"
	CourseDirectional = "directional"
	CourseUnknown     = "unknown"
)

// ThreatInfo is the detected threat category.
type ThreatInfo struct {
	Type        ThreatType `json:"threat_type"`
	Confidence  float64    `json:"confidence"`
	Emoji       string     `json:"emoji"`
	DisplayName string     `json:"display_name"`
}

// CourseInfo describes where a threat is heading.
type CourseInfo struct {
	Source       string `json:"source,omitempty"`
	Target       string `json:"target,omitempty"`
	Direction    string `json:"direction,omitempty"`
	DirectionUkr string `json:"direction_ukr,omitempty"`
	CourseType   string `json:"course_type"`
}

// LocationInfo holds place substrings found in the text.
type LocationInfo struct {
	Oblast   string `json:"oblast,omitempty"`
	District string `json:"district,omitempty"`
	City     string `json:"city,omitempty"`
	RawText  string `json:"raw_text,omitempty"`
}

// ParsedMessage is the parser's view of one message.
type ParsedMessage struct {
	RawText        string        `json:"raw_text"`
	Timestamp      time.Time     `json:"timestamp"`
	Channel        string        `json:"channel,omitempty"`
	MessageID      string        `json:"message_id,omitempty"`
	Threat         *ThreatInfo   `json:"threat,omitempty"`
	Course         *CourseInfo   `json:"course,omitempty"`
	Location       *LocationInfo `json:"location,omitempty"`
	Count          int           `json:"count"`
	IsAllClear     bool          `json:"is_all_clear"`
	NeedsGeocoding bool          `json:"needs_geocoding"`
}

// HasThreat reports whether a threat category was detected.
func (p *ParsedMessage) HasThreat() bool { return p != nil && p.Threat != nil }

// ThreatType returns the detected type or ThreatUnknown.
func (p *ParsedMessage) ThreatType() ThreatType {
	if !p.HasThreat() {
		return ThreatUnknown
	}
	return p.Threat.Type
}

// PlaceCandidates lists the place names worth geocoding, most specific
// first: city, course target, course source, district. Names that
// normalize to the same city ("київ", "Київ") are listed once.
func (p *ParsedMessage) PlaceCandidates() []string {
	var out []string
	seen := make(map[string]struct{})
	add := func(s string) {
		key := normalizer.NormalizeCity(s)
		if key == "" {
			return
		}
		if _, ok := seen[key]; ok {
			return
		}
		seen[key] = struct{}{}
		out = append(out, s)
	}
	if p.Location != nil {
		add(p.Location.City)
	}
	if p.Course != nil {
		add(p.Course.Target)
		add(p.Course.Source)
	}
	if p.Location != nil {
		add(p.Location.District)
	}
	return out
}
