// Package normalizer canonicalizes Ukrainian settlement and oblast names
// so that inflected forms found in channel messages can be matched against
// dictionary keys.
package normalizer

import (
	"regexp"
	"strings"
	"unicode/utf8"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Prefixes stripped from the start of a name, applied in order.
var prefixes = []string{
	"м.", "м ", "с.", "с ", "смт.", "смт ", "смт",
	"село ", "селище ", "місто ",
	"хутір ", "присілок ",
	"район ", "р-н ", "обл.", "обл ",
	"область ", "станція ", "ст.",
}

type oblastAlias struct {
	alias     string
	canonical string
}

// oblastAliases is ordered: partial matching walks it front to back.
var oblastAliases = []oblastAlias{
	{"київська область", "київська"},
	{"харківська область", "харківська"},
	{"дніпропетровська область", "дніпропетровська"},
	{"одеська область", "одеська"},
	{"запорізька область", "запорізька"},
	{"львівська область", "львівська"},
	{"донецька область", "донецька"},
	{"полтавська область", "полтавська"},
	{"вінницька область", "вінницька"},
	{"миколаївська область", "миколаївська"},
	{"херсонська область", "херсонська"},
	{"чернігівська область", "чернігівська"},
	{"черкаська область", "черкаська"},
	{"житомирська область", "житомирська"},
	{"сумська область", "сумська"},
	{"хмельницька область", "хмельницька"},
	{"чернівецька область", "чернівецька"},
	{"рівненська область", "рівненська"},
	{"івано-франківська область", "івано-франківська"},
	{"тернопільська область", "тернопільська"},
	{"волинська область", "волинська"},
	{"закарпатська область", "закарпатська"},
	{"кіровоградська область", "кіровоградська"},
	{"луганська область", "луганська"},

	{"київщина", "київська"},
	{"харківщина", "харківська"},
	{"дніпропетровщина", "дніпропетровська"},
	{"одещина", "одеська"},
	{"запоріжжя", "запорізька"},
	{"львівщина", "львівська"},
	{"донеччина", "донецька"},
	{"полтавщина", "полтавська"},
	{"вінниччина", "вінницька"},
	{"миколаївщина", "миколаївська"},
	{"херсонщина", "херсонська"},
	{"чернігівщина", "чернігівська"},
	{"черкащина", "черкаська"},
	{"житомирщина", "житомирська"},
	{"сумщина", "сумська"},
	{"хмельниччина", "хмельницька"},
	{"буковина", "чернівецька"},
	{"рівненщина", "рівненська"},
	{"прикарпаття", "івано-франківська"},
	{"тернопільщина", "тернопільська"},
	{"волинь", "волинська"},
	{"закарпаття", "закарпатська"},
	{"кіровоградщина", "кіровоградська"},
	{"луганщина", "луганська"},
}

var oblastIndex = func() map[string]string {
	m := make(map[string]string, len(oblastAliases)*2)
	for _, a := range oblastAliases {
		m[a.alias] = a.canonical
		m[a.canonical] = a.canonical
	}
	return m
}()

// cityAliases maps a canonical city key to oblique-case and foreign spellings.
var cityAliases = map[string][]string{
	"київ":             {"києва", "києві", "києвом", "киев", "kyiv", "kiev"},
	"харків":           {"харкова", "харкові", "харковом", "харьков", "kharkiv"},
	"одеса":            {"одеси", "одесі", "одесою", "одесса", "odesa", "odessa"},
	"дніпро":           {"дніпра", "дніпрі", "дніпром", "днепр", "dnipro"},
	"запоріжжя":        {"запоріжжі", "запоріжжям", "запорожье"},
	"львів":            {"львова", "львові", "львовом", "львов", "lviv"},
	"миколаїв":         {"миколаєва", "миколаєві", "николаев"},
	"херсон":           {"херсона", "херсоні", "херсоном"},
	"чернігів":         {"чернігова", "чернігові", "чернигов"},
	"полтава":          {"полтави", "полтаві", "полтавою"},
	"суми":             {"сум", "сумах", "сумами"},
	"вінниця":          {"вінниці", "вінницею"},
	"житомир":          {"житомира", "житомирі"},
	"черкаси":          {"черкас", "черкасах"},
	"кропивницький":    {"кропивницького", "кіровоград"},
	"рівне":            {"рівного", "рівному"},
	"луцьк":            {"луцька", "луцьку"},
	"ужгород":          {"ужгорода", "ужгороді"},
	"тернопіль":        {"тернополя", "тернополі"},
	"хмельницький":     {"хмельницького", "хмельницькому"},
	"чернівці":         {"чернівців", "чернівцях"},
	"івано-франківськ": {"івано-франківська", "франківськ", "франківська"},
	"краматорськ":      {"краматорська", "краматорську"},
	"маріуполь":        {"маріуполя", "маріуполі", "мариуполь"},
}

var aliasToCanonical = func() map[string]string {
	m := make(map[string]string)
	for canonical, aliases := range cityAliases {
		for _, a := range aliases {
			m[a] = canonical
		}
	}
	return m
}()

var (
	parenthetical = regexp.MustCompile(`\s*\([^)]*\)`)
	quoteReplacer = strings.NewReplacer(`"`, "", "'", "", "«", "", "»", "", "’", "", "ʼ", "")
)

var (
	cityMemo, _    = lru.New[string, string](10000)
	oblastMemo, _  = lru.New[string, string](5000)
	variantMemo, _ = lru.New[string, []string](10000)
)

// NormalizeCity lowercases a settlement name, strips quotes and type
// prefixes, resolves known aliases and drops parenthetical qualifiers.
// Unknown input comes back lowercased and trimmed.
func NormalizeCity(name string) string {
	if name == "" {
		return ""
	}
	if v, ok := cityMemo.Get(name); ok {
		return v
	}
	result := normalizeCity(name)
	cityMemo.Add(name, result)
	return result
}

func normalizeCity(name string) string {
	result := strings.TrimSpace(strings.ToLower(name))
	result = quoteReplacer.Replace(result)

	for _, p := range prefixes {
		if strings.HasPrefix(result, p) {
			result = strings.TrimSpace(result[len(p):])
		}
	}

	if canonical, ok := aliasToCanonical[result]; ok {
		return canonical
	}

	result = parenthetical.ReplaceAllString(result, "")
	return strings.Join(strings.Fields(result), " ")
}

// NormalizeOblast maps any oblast spelling ("сумщина", "Сумська область")
// to its canonical adjective key ("сумська"). Returns "" when unknown.
func NormalizeOblast(name string) string {
	if name == "" {
		return ""
	}
	if v, ok := oblastMemo.Get(name); ok {
		return v
	}
	result := normalizeOblast(name)
	oblastMemo.Add(name, result)
	return result
}

func normalizeOblast(name string) string {
	lower := strings.TrimSpace(strings.ToLower(name))
	if lower == "" {
		return ""
	}
	if v, ok := oblastIndex[lower]; ok {
		return v
	}

	for _, a := range oblastAliases {
		if strings.Contains(lower, a.alias) {
			return a.canonical
		}
		// short fragments like "ка" would match everything
		if utf8.RuneCountInString(lower) >= 4 && strings.Contains(a.alias, lower) {
			return a.canonical
		}
	}

	if idx := strings.Index(lower, "обл"); idx > 0 {
		head := strings.TrimSpace(lower[:idx])
		if v, ok := oblastIndex[head]; ok {
			return v
		}
		if strings.HasSuffix(head, "ськ") || strings.HasSuffix(head, "цьк") {
			return head + "а"
		}
		for _, ending := range []string{"ської", "цької", "ській", "цькій"} {
			if strings.HasSuffix(head, ending) {
				base := strings.TrimSuffix(head, ending) + string([]rune(ending)[:3]) + "а"
				if v, ok := oblastIndex[base]; ok {
					return v
				}
				return base
			}
		}
	}
	return ""
}

// NameVariants returns the input followed by heuristic nominative forms
// derived from common oblique-case endings. The result is deduplicated and
// order-preserving; callers try it front to back.
func NameVariants(name string) []string {
	if name == "" {
		return nil
	}
	if v, ok := variantMemo.Get(name); ok {
		return append([]string(nil), v...)
	}
	result := nameVariants(name)
	variantMemo.Add(name, result)
	return append([]string(nil), result...)
}

func nameVariants(name string) []string {
	runes := utf8.RuneCountInString(name)
	variants := []string{name}

	trim := func(suffix string) string { return strings.TrimSuffix(name, suffix) }

	// accusative -у, genitive -и, locative -і -> nominative -а
	for _, suffix := range []string{"у", "и", "і"} {
		if strings.HasSuffix(name, suffix) && runes > 3 {
			variants = append(variants, trim(suffix)+"а")
		}
	}
	if strings.HasSuffix(name, "івку") || strings.HasSuffix(name, "івки") {
		variants = append(variants, string([]rune(name)[:runes-1])+"а")
	}
	if strings.HasSuffix(name, "ого") {
		variants = append(variants, trim("ого")+"е", trim("ого")+"ий")
	}
	if strings.HasSuffix(name, "ої") {
		variants = append(variants, trim("ої")+"а")
	}
	if strings.HasSuffix(name, "ому") {
		variants = append(variants, trim("ому")+"е", trim("ому")+"ий")
	}
	if strings.HasSuffix(name, "ій") {
		variants = append(variants, trim("ій")+"а", trim("ій")+"я")
	}

	seen := make(map[string]struct{}, len(variants))
	out := variants[:0]
	for _, v := range variants {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}

var directionWords = map[string]struct{}{
	"північ": {}, "південь": {}, "схід": {}, "захід": {},
	"північний": {}, "південний": {}, "східний": {}, "західний": {},
	"північно": {}, "південно": {},
	"північно-східний": {}, "північно-західний": {},
	"південно-східний": {}, "південно-західний": {},
	"пн": {}, "пд": {}, "сх": {}, "зх": {},
}

// IsDirectionWord reports whether word is a compass direction rather than
// a place name.
func IsDirectionWord(word string) bool {
	_, ok := directionWords[strings.TrimSpace(strings.ToLower(word))]
	return ok
}
