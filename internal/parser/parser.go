// Package parser turns raw channel text into a ParsedMessage: threat
// category, course, place substrings and object count.
package parser

import (
	"strconv"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/neptunmap/neptun/internal/models"
	"github.com/neptunmap/neptun/internal/normalizer"
	"github.com/neptunmap/neptun/pkg/utils"
)

const (
	minCount       = 1
	maxCount       = 100
	rawTextExcerpt = 200
)

// Parser is stateless and safe for concurrent use.
type Parser struct {
	now func() time.Time
}

// New creates a new parser instance
func New() *Parser {
	return &Parser{now: time.Now}
}

// Parse analyzes one message. A zero timestamp is replaced with the
// current time.
func (p *Parser) Parse(text string, ts time.Time, channel, messageID string) *models.ParsedMessage {
	if ts.IsZero() {
		ts = p.now().UTC()
	}
	parsed := &models.ParsedMessage{
		RawText:   text,
		Timestamp: ts,
		Channel:   channel,
		MessageID: messageID,
		Count:     minCount,
	}

	clean := cleanText(text)
	lower := strings.ToLower(clean)

	parsed.Threat = detectThreat(lower)
	parsed.IsAllClear = parsed.Threat != nil && parsed.Threat.Type == models.ThreatAllClear
	parsed.Course = extractCourse(lower)
	parsed.Location = extractLocation(clean)
	parsed.Count = extractCount(lower)
	parsed.NeedsGeocoding = needsGeocoding(parsed)
	return parsed
}

// ParseRaw parses an inbound RawMessage.
func (p *Parser) ParseRaw(msg models.RawMessage) *models.ParsedMessage {
	return p.Parse(msg.Text, msg.Timestamp, msg.Channel, msg.ID)
}

// ParseBatch parses messages in order, skipping those without text.
func (p *Parser) ParseBatch(msgs []models.RawMessage) []*models.ParsedMessage {
	out := make([]*models.ParsedMessage, 0, len(msgs))
	for _, m := range msgs {
		if strings.TrimSpace(m.Text) == "" {
			continue
		}
		out = append(out, p.ParseRaw(m))
	}
	return out
}

// IsRelevant is a keyword pre-filter; false means Parse would find no
// threat worth keeping.
func (p *Parser) IsRelevant(text string) bool {
	return utils.ContainsAny(strings.ToLower(text), relevanceKeywords)
}

// Describe returns display metadata for a threat type.
func Describe(t models.ThreatType) (models.ThreatInfo, bool) {
	for _, r := range threatRules {
		if r.Type == t {
			return r.info(), true
		}
	}
	return models.ThreatInfo{Type: models.ThreatUnknown, Emoji: "⚠️", DisplayName: "Невідомо"}, false
}

func (r threatRule) info() models.ThreatInfo {
	return models.ThreatInfo{Type: r.Type, Confidence: r.Confidence, Emoji: r.Emoji, DisplayName: r.DisplayName}
}

func cleanText(text string) string {
	return utils.CollapseSpaces(emojiPattern.ReplaceAllString(text, " "))
}

func detectThreat(lower string) *models.ThreatInfo {
	for _, rule := range threatRules {
		for _, re := range rule.Patterns {
			if re.MatchString(lower) {
				info := rule.info()
				return &info
			}
		}
	}
	return nil
}

func extractCourse(lower string) *models.CourseInfo {
	for _, rule := range courseRules {
		m := rule.Pattern.FindStringSubmatch(lower)
		if m == nil {
			continue
		}
		c := &models.CourseInfo{CourseType: models.CourseUnknown}
		if rule.SourceIdx > 0 {
			c.Source = cleanLocation(m[rule.SourceIdx])
		}
		if rule.TargetIdx > 0 {
			target := cleanLocation(m[rule.TargetIdx])
			// "курсом на північ" names a heading, not a place
			if code := headingCode(target); code != "" {
				c.Direction = code
				c.DirectionUkr = DirectionNames[code]
			} else {
				c.Target = target
			}
		}
		switch {
		case c.Source != "" && c.Target != "":
			c.CourseType = models.CourseFull
		case c.Target != "":
			c.CourseType = models.CourseTargetOnly
		case c.Direction != "":
			c.CourseType = models.CourseDirectional
		}
		return c
	}

	for _, tok := range words(lower) {
		if code := directionCode(tok); code != "" {
			return &models.CourseInfo{
				Direction:    code,
				DirectionUkr: DirectionNames[code],
				CourseType:   models.CourseDirectional,
			}
		}
	}
	return nil
}

func words(s string) []string {
	return strings.FieldsFunc(s, func(r rune) bool {
		return !unicode.IsLetter(r) && r != '-'
	})
}

func directionCode(tok string) string {
	for _, d := range directionStems {
		if (d.exact && tok == d.stem) || (!d.exact && strings.HasPrefix(tok, d.stem)) {
			return d.code
		}
	}
	return ""
}

// headingCode returns the cardinal code when every word of place is a
// compass word ("Північ", "Північний схід"), or "" for a real place.
func headingCode(place string) string {
	toks := words(strings.ToLower(place))
	if len(toks) == 0 || len(toks) > 2 {
		return ""
	}
	code := ""
	for _, tok := range toks {
		if !normalizer.IsDirectionWord(tok) {
			return ""
		}
		code += directionCode(tok)
	}
	if _, ok := DirectionNames[code]; ok {
		return code
	}
	return directionCode(toks[0])
}

func extractLocation(clean string) *models.LocationInfo {
	loc := &models.LocationInfo{}

	for _, re := range oblastPatterns {
		if m := re.FindStringSubmatch(clean); m != nil {
			loc.Oblast = strings.TrimSpace(m[1])
			break
		}
	}
	if m := districtPattern.FindStringSubmatch(clean); m != nil {
		loc.District = strings.TrimSpace(m[1])
	}
	for _, re := range cityPatterns {
		m := re.FindStringSubmatch(clean)
		if m == nil {
			continue
		}
		city := strings.TrimSpace(m[1])
		if _, noise := noiseWords[strings.ToLower(city)]; noise || utf8.RuneCountInString(city) <= 2 || normalizer.IsDirectionWord(city) {
			continue
		}
		loc.City = city
		break
	}

	if loc.Oblast == "" && loc.District == "" && loc.City == "" {
		return nil
	}
	loc.RawText = utils.Truncate(clean, rawTextExcerpt)
	return loc
}

func extractCount(lower string) int {
	for _, re := range countPatterns {
		m := re.FindStringSubmatch(lower)
		if m == nil {
			continue
		}
		n, err := strconv.Atoi(m[1])
		if err == nil && n >= minCount && n <= maxCount {
			return n
		}
	}
	return minCount
}

// cleanLocation drops connector words and capitalizes the result.
func cleanLocation(s string) string {
	var kept []string
	for _, w := range strings.Fields(s) {
		if _, noise := noiseWords[strings.ToLower(w)]; noise {
			continue
		}
		kept = append(kept, w)
	}
	out := utils.CapitalizeFirst(strings.Join(kept, " "))
	if utf8.RuneCountInString(out) <= 1 {
		return ""
	}
	return out
}

func needsGeocoding(p *models.ParsedMessage) bool {
	if p.IsAllClear {
		return false
	}
	if p.Location != nil {
		return true
	}
	return p.Course != nil && (p.Course.Source != "" || p.Course.Target != "")
}

// Actionable reports whether a parsed message should become a track:
// it needs a non-all-clear threat and either a place or a heading.
func Actionable(p *models.ParsedMessage) bool {
	if !p.HasThreat() || p.IsAllClear {
		return false
	}
	if p.Location != nil {
		return true
	}
	return p.Course != nil && (p.Course.Source != "" || p.Course.Target != "" || p.Course.Direction != "")
}
