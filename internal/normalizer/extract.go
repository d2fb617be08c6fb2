package normalizer

import (
	"regexp"
	"strings"
)

// MentionKind classifies a place reference found in message text.
type MentionKind string

const (
	MentionTarget   MentionKind = "target"
	MentionSource   MentionKind = "source"
	MentionLocation MentionKind = "location"
	MentionOblast   MentionKind = "oblast"
)

// Mention is a candidate place name pulled out of free text.
type Mention struct {
	Name       string      `json:"name"`
	Kind       MentionKind `json:"type"`
	Confidence float64     `json:"confidence"`
	Normalized string      `json:"normalized,omitempty"`
}

const word = `[а-яіїєґ'ʼ\-]+`

var (
	reCourseTo   = regexp.MustCompile(`курс(?:ом)?\s+на\s+(` + word + `(?:\s+` + word + `)?)`)
	reInArea     = regexp.MustCompile(`(?:^|[^\p{L}])(?:в|у)\s+район[іи]\s+(` + word + `(?:\s+` + word + `)?)`)
	reOver       = regexp.MustCompile(`(?:^|[^\p{L}])над\s+(` + word + `(?:\s+` + word + `)?)`)
	reNear       = regexp.MustCompile(`біля\s+(` + word + `)`)
	reFromCourse = regexp.MustCompile(`(?:^|[^\p{L}])з\s+(` + word + `)\s+курс`)
	reOblastRef  = regexp.MustCompile(`([а-яіїєґ\-]+)(?:ська\s+область|щина)`)
)

var notPlacesAfterOver = map[string]struct{}{
	"водою": {}, "морем": {}, "територією": {}, "землею": {},
}

// ExtractLocationFromText scans a message for the phrasing channels use to
// name places ("курсом на X", "в районі X", "над X", "біля X", "з X курсом",
// "X-ська область", "X-щина") and returns every candidate in pattern order.
func ExtractLocationFromText(text string) []Mention {
	if text == "" {
		return nil
	}
	lower := strings.ToLower(text)
	var out []Mention

	for _, m := range reCourseTo.FindAllStringSubmatch(lower, -1) {
		out = append(out, Mention{Name: strings.TrimSpace(m[1]), Kind: MentionTarget, Confidence: 0.9})
	}
	for _, m := range reInArea.FindAllStringSubmatch(lower, -1) {
		out = append(out, Mention{Name: strings.TrimSpace(m[1]), Kind: MentionLocation, Confidence: 0.85})
	}
	for _, m := range reOver.FindAllStringSubmatch(lower, -1) {
		name := strings.TrimSpace(m[1])
		first := strings.Fields(name)[0]
		if _, skip := notPlacesAfterOver[first]; skip {
			continue
		}
		out = append(out, Mention{Name: name, Kind: MentionLocation, Confidence: 0.8})
	}
	for _, m := range reNear.FindAllStringSubmatch(lower, -1) {
		out = append(out, Mention{Name: strings.TrimSpace(m[1]), Kind: MentionLocation, Confidence: 0.75})
	}
	for _, m := range reFromCourse.FindAllStringSubmatch(lower, -1) {
		out = append(out, Mention{Name: strings.TrimSpace(m[1]), Kind: MentionSource, Confidence: 0.85})
	}
	for _, m := range reOblastRef.FindAllString(lower, -1) {
		if n := NormalizeOblast(m); n != "" {
			out = append(out, Mention{Name: m, Kind: MentionOblast, Confidence: 0.95, Normalized: n})
		}
	}
	return out
}

// ExtractOblast returns the first oblast referenced in text, normalized,
// or "" when none is mentioned.
func ExtractOblast(text string) string {
	for _, m := range ExtractLocationFromText(text) {
		if m.Kind != MentionOblast {
			continue
		}
		if m.Normalized != "" {
			return m.Normalized
		}
		return NormalizeOblast(m.Name)
	}
	return ""
}

// MentionsOblast reports whether text names the given canonical oblast in
// its adjective, "-щина" or genitive form.
func MentionsOblast(text, oblast string) bool {
	if oblast == "" {
		return false
	}
	lower := strings.ToLower(text)
	forms := []string{
		oblast,
		strings.Replace(oblast, "ська", "щина", 1),
		strings.Replace(oblast, "ська", "ської", 1),
	}
	for _, f := range forms {
		if strings.Contains(lower, f) {
			return true
		}
	}
	return false
}
