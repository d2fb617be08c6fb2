package geocoder

import "github.com/neptunmap/neptun/internal/normalizer"

// homonyms lists settlement names shared by several oblasts. The first
// oblast is the default when nothing in the request points elsewhere.
var homonyms = func() map[string][]string {
	raw := map[string][]string{
		"олександрівка": {"дніпропетровська", "донецька", "кіровоградська", "миколаївська", "одеська"},
		"новоселівка":   {"донецька", "харківська", "запорізька", "дніпропетровська"},
		"степанівка":    {"запорізька", "миколаївська", "одеська", "херсонська"},
		"михайлівка":    {"запорізька", "дніпропетровська", "донецька", "одеська"},
		"петрівка":      {"донецька", "запорізька", "кіровоградська", "миколаївська"},
		"іванівка":      {"херсонська", "одеська", "миколаївська", "кіровоградська"},
		"тернівка":      {"дніпропетровська", "донецька", "запорізька"},
		"зелене":        {"донецька", "запорізька", "херсонська"},
		"кам'янка":      {"черкаська", "дніпропетровська", "запорізька"},
		"вільне":        {"донецька", "запорізька", "луганська"},
		"мирне":         {"донецька", "запорізька", "херсонська"},
		"червоне":       {"одеська", "миколаївська", "запорізька"},
		"шевченко":      {"донецька", "дніпропетровська", "запорізька"},
		"водяне":        {"донецька", "запорізька"},
		"піски":         {"донецька", "полтавська"},
	}
	m := make(map[string][]string, len(raw))
	for name, obls := range raw {
		m[normalizer.NormalizeCity(name)] = obls
	}
	return m
}()

// HomonymOblasts returns the oblasts a known ambiguous name may refer to,
// or nil when the name is not ambiguous.
func HomonymOblasts(normalized string) []string {
	obls := homonyms[normalized]
	if obls == nil {
		return nil
	}
	return append([]string(nil), obls...)
}

// Disambiguate picks the oblast for an ambiguous name: the explicit region
// when it is one of the candidates, else the first candidate mentioned in
// the message text, else the default.
func Disambiguate(normalized, region, messageText string) (string, bool) {
	obls, ok := homonyms[normalized]
	if !ok || len(obls) == 0 {
		return "", false
	}
	if region != "" {
		for _, o := range obls {
			if o == region {
				return o, true
			}
		}
	}
	if messageText != "" {
		for _, o := range obls {
			if normalizer.MentionsOblast(messageText, o) {
				return o, true
			}
		}
	}
	return obls[0], true
}
