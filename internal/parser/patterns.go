package parser

import (
	"regexp"

	"github.com/neptunmap/neptun/internal/models"
)

// RE2's \b only knows ASCII word characters, so Cyrillic boundaries are
// spelled out.
const (
	pre  = `(?:^|[^\p{L}\p{N}])`
	post = `(?:[^\p{L}\p{N}]|$)`

	// place name characters in lowercased text
	placeChars = `[а-яіїєґё\s\-'ʼ’]`
	placeEnd   = `(?:\s|$|[,.!?;:])`

	cityName = `([А-ЯІЇЄҐа-яіїєґ][А-ЯІЇЄҐа-яіїєґ'ʼ’\-]+)`
)

func compile(exprs ...string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, len(exprs))
	for i, e := range exprs {
		out[i] = regexp.MustCompile(e)
	}
	return out
}

// threatRule is one row of the threat table. Rows are tried in slice
// order and the first matching pattern decides the category.
type threatRule struct {
	Type        models.ThreatType
	Confidence  float64
	Emoji       string
	DisplayName string
	Patterns    []*regexp.Regexp
}

var threatRules = []threatRule{
	{
		Type: models.ThreatBallistic, Confidence: 1.0, Emoji: "🎯", DisplayName: "Балістика",
		Patterns: compile(
			`балістик[аиу]?`+post,
			`балістичн(?:а|ий|их|ою|і)\s+(?:загроз|ракет|небезпек)`,
			`загроз[аи]?\s+(?:балістик|застосування)`,
			`пуск\s+(?:балістик|ракет)`,
			`кінджал|кинджал|кинжал`,
		),
	},
	{
		Type: models.ThreatAllClear, Confidence: 0.95, Emoji: "✅", DisplayName: "Відбій",
		Patterns: compile(
			`відбій(?:\s+тривоги)?`,
			`відміна\s+(?:тривоги|загрози)`,
			`тривогу?\s+(?:знят|скасован|відмін)`,
			`загроз[аи]?\s+(?:минул|знят)`,
		),
	},
	{
		Type: models.ThreatCruiseMissile, Confidence: 0.95, Emoji: "🚀", DisplayName: "Крилата ракета",
		Patterns: compile(
			`крилат(?:а|і|их|ої)\s+ракет`,
			pre+`кр`+post,
			`x-101|x-555|х-101|х-555|kh-101|kh-555|калібр|томагавк`,
		),
	},
	{
		Type: models.ThreatKAB, Confidence: 0.9, Emoji: "💣", DisplayName: "КАБ",
		Patterns: compile(
			pre+`каб(?:и|ів|ами|у)?`+post,
			`(?:керован(?:а|і|их)\s+)?авіабомб`,
			pre+`(?:fab|фаб)(?:\s*-?\s*\d+)?`+post,
		),
	},
	{
		Type: models.ThreatAircraft, Confidence: 0.9, Emoji: "✈️", DisplayName: "Авіація",
		Patterns: compile(
			pre+`(?:міг|миг|mig)(?:\s*-?\s*31)?`+post,
			`(?:зліт|взліт)\s+(?:міг|мигів|тактичної)`,
			`тактичн(?:а|ої)\s+авіаці`,
		),
	},
	{
		Type: models.ThreatRocket, Confidence: 0.9, Emoji: "🚀", DisplayName: "Ракета",
		Patterns: compile(
			`ракет(?:а|и|у|ою|ні|ний|них|ного|на|ну|ної)?`+post,
			`іскандер|точка-у|с-300|с-400`,
		),
	},
	{
		Type: models.ThreatDrone, Confidence: 0.85, Emoji: "🛩️", DisplayName: "БПЛА",
		Patterns: compile(
			`бпла`+post,
			`дрон(?:и|ів|а|ом)?`+post,
			`шахед(?:и|ів|а|ом|у)?`+post,
			`shahed`,
			`безпілотн(?:ик|ий|ого|их|ики)`,
			`ударн(?:ий|ого|их)\s+(?:бпла|дрон)`,
			`герань?(?:\s*-?\s*\d+)?`+post,
			`камікадзе`,
		),
	},
	{
		Type: models.ThreatExplosion, Confidence: 0.95, Emoji: "💥", DisplayName: "Вибух",
		Patterns: compile(
			`вибух(?:и|ів|у|нув)?`,
			`(?:луна|звук)\s+вибух`,
			`пролунав`,
			`детонаці[яї]`,
		),
	},
	{
		Type: models.ThreatArtillery, Confidence: 0.8, Emoji: "🎇", DisplayName: "Артилерія",
		Patterns: compile(
			`артилері|артобстріл|мінометн`,
			pre+`(?:рсзв|град|ураган|смерч)`+post,
		),
	},
	{
		Type: models.ThreatAlarm, Confidence: 0.8, Emoji: "🚨", DisplayName: "Тривога",
		Patterns: compile(
			`повітрян(?:а|ий|ої)\s+тривог`,
			`тривог[аиу]\s+(?:оголошен|повітрян)`,
		),
	},
}

// courseRule extracts source and target captures. An index of -1 means
// the pattern does not capture that side.
type courseRule struct {
	Name      string
	Pattern   *regexp.Regexp
	SourceIdx int
	TargetIdx int
}

const carrier = `(?:бпла|дрон|шахед)\p{L}*`

var courseRules = []courseRule{
	{"from_to", regexp.MustCompile(carrier + `\s+.*?курс(?:ом)?\s+з\s+(` + placeChars + `+?)\s+на\s+(` + placeChars + `+?)` + placeEnd), 1, 2},
	{"to_from", regexp.MustCompile(carrier + `\s+.*?курс(?:ом)?\s+на\s+(` + placeChars + `+?)\s+з\s+(` + placeChars + `+?)` + placeEnd), 2, 1},
	{"source_to", regexp.MustCompile(carrier + `\s+з\s+(` + placeChars + `+?)\s+курс(?:ом)?\s+на\s+(` + placeChars + `+?)` + placeEnd), 1, 2},
	{"source_dir", regexp.MustCompile(carrier + `\s+з\s+(` + placeChars + `+?)\s+у\s+напрямк[уи]\s+(` + placeChars + `+?)` + placeEnd), 1, 2},
	{"target_only", regexp.MustCompile(carrier + `\s+.*?курс(?:ом)?\s+на\s+(` + placeChars + `+?)\s*(?:\n|$|[,.!?;])`), -1, 1},
	{"dash", regexp.MustCompile(`\d*х?\s*` + carrier + `\s+курс\s+(` + placeChars + `+?)\s*[-–—]\s*(` + placeChars + `+?)` + placeEnd), 1, 2},
}

// direction stems, compound forms first so "північно-східний" is not
// read as plain north
var directionStems = []struct {
	stem  string
	exact bool
	code  string
}{
	{"північно-схід", false, "NE"},
	{"північно-захід", false, "NW"},
	{"південно-схід", false, "SE"},
	{"південно-захід", false, "SW"},
	{"пн-сх", true, "NE"},
	{"пн-зх", true, "NW"},
	{"пд-сх", true, "SE"},
	{"пд-зх", true, "SW"},
	{"північ", false, "N"},
	{"півден", false, "S"},
	{"схід", false, "E"},
	{"захід", false, "W"},
	{"пн", true, "N"},
	{"пд", true, "S"},
	{"сх", true, "E"},
	{"зх", true, "W"},
}

// DirectionNames maps cardinal codes to Ukrainian display names.
var DirectionNames = map[string]string{
	"N":  "Північ",
	"S":  "Південь",
	"E":  "Схід",
	"W":  "Захід",
	"NE": "Північний схід",
	"NW": "Північний захід",
	"SE": "Південний схід",
	"SW": "Південний захід",
}

var (
	oblastPatterns = compile(
		`(?i)([\p{L}\-]+(?:ка|кої|кій)\s*(?:область|області|обл\.?))`,
		`(?i)`+pre+`([\p{L}\-]+щина)`+post,
	)
	districtPattern = regexp.MustCompile(`(?i)([\p{L}\-]+(?:ський|ська|ське|цький|зький)\s*(?:район|р-н))`)

	cityPatterns = compile(
		`(?i)`+pre+`над\s+(?:містом\s+)?`+cityName,
		`(?i)`+pre+`в\s+район[іу]\s+`+cityName,
		`(?i)`+pre+`біля\s+`+cityName,
		`(?i)`+pre+`поблизу\s+`+cityName,
		`(?i)`+pre+`на\s+`+cityName,
	)
	countPatterns = compile(
		`(\d+)\s*[xх]\s*(?:бпла|дрон|шахед)`,
		`(\d+)\s*(?:бпла|дрон|шахед)`,
		`(?:група|групи)\s+(?:з\s+)?(\d+)`,
		`(\d+)\s*(?:ворожих|ударних)?\s*(?:бпла|дрон)`,
		`(\d+)\s*(?:од\.?|одиниц|шт\.?|штук|ракет|каб)`,
	)
)

var noiseWords = map[string]struct{}{
	"область": {}, "обл": {}, "район": {}, "р-н": {}, "на": {}, "з": {}, "від": {}, "до": {},
	"курсом": {}, "напрямку": {}, "напрямок": {}, "через": {}, "біля": {}, "над": {},
	"громада": {}, "місто": {}, "село": {}, "селище": {}, "смт": {},
}

// relevanceKeywords is the cheap pre-filter used before a full parse.
var relevanceKeywords = []string{
	"бпла", "дрон", "шахед", "ракет", "балістик",
	"каб", "вибух", "тривог", "відбій", "загроз",
	"крилат", "міг", "авіабомб", "shahed", "артилер", "рсзв",
}

var emojiPattern = regexp.MustCompile(`[\x{1F1E0}-\x{1F1FF}\x{1F300}-\x{1F5FF}\x{1F600}-\x{1F64F}\x{1F680}-\x{1F6FF}\x{1F700}-\x{1F77F}\x{1F780}-\x{1F7FF}\x{1F800}-\x{1F8FF}\x{1F900}-\x{1F9FF}\x{1FA00}-\x{1FA6F}\x{1FA70}-\x{1FAFF}\x{2702}-\x{27B0}\x{FE0F}]+`)
