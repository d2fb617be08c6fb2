package geocoder

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/neptunmap/neptun/internal/geo"
	"github.com/neptunmap/neptun/internal/logger"
	"github.com/neptunmap/neptun/internal/models"
	"github.com/neptunmap/neptun/internal/normalizer"
)

//go:embed data/gazetteer.json
var defaultGazetteer []byte

// Gazetteer is the on-disk dictionary format. Coordinates are [lat, lng].
type Gazetteer struct {
	Cities              map[string][2]float64            `json:"cities"`
	OblastCenters       map[string][2]float64            `json:"oblast_centers"`
	Settlements         map[string][2]float64            `json:"settlements"`
	SettlementsByOblast map[string]map[string][2]float64 `json:"settlements_by_oblast"`
}

// DefaultGazetteer returns the dictionary compiled into the binary.
func DefaultGazetteer() (*Gazetteer, error) {
	var g Gazetteer
	if err := json.Unmarshal(defaultGazetteer, &g); err != nil {
		return nil, fmt.Errorf("decode embedded gazetteer: %w", err)
	}
	return &g, nil
}

// LoadGazetteer reads a dictionary file in the embedded format.
func LoadGazetteer(path string) (*Gazetteer, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read gazetteer %s: %w", path, err)
	}
	var g Gazetteer
	if err := json.Unmarshal(data, &g); err != nil {
		return nil, fmt.Errorf("decode gazetteer %s: %w", path, err)
	}
	return &g, nil
}

// Merge copies entries from other into g, overwriting duplicates.
func (g *Gazetteer) Merge(other *Gazetteer) {
	if other == nil {
		return
	}
	merge := func(dst *map[string][2]float64, src map[string][2]float64) {
		if *dst == nil {
			*dst = make(map[string][2]float64, len(src))
		}
		for k, v := range src {
			(*dst)[k] = v
		}
	}
	merge(&g.Cities, other.Cities)
	merge(&g.OblastCenters, other.OblastCenters)
	merge(&g.Settlements, other.Settlements)
	if g.SettlementsByOblast == nil {
		g.SettlementsByOblast = make(map[string]map[string][2]float64)
	}
	for oblast, setts := range other.SettlementsByOblast {
		m := g.SettlementsByOblast[oblast]
		merge(&m, setts)
		g.SettlementsByOblast[oblast] = m
	}
}

type oblastKey struct {
	name   string
	oblast string
}

// LocalGeocoder answers from in-memory dictionaries without any I/O.
type LocalGeocoder struct {
	mu          sync.RWMutex
	cities      map[string]geo.Coordinates
	settlements map[string]geo.Coordinates
	byOblast    map[oblastKey]geo.Coordinates
	oblastsFor  map[string][]string
	centers     map[string]geo.Coordinates
}

// NewLocalGeocoder indexes g. Names found in more than one oblast are
// dropped from the flat settlement index so callers must supply a region
// or go through disambiguation.
func NewLocalGeocoder(g *Gazetteer) *LocalGeocoder {
	l := &LocalGeocoder{
		cities:      make(map[string]geo.Coordinates),
		settlements: make(map[string]geo.Coordinates),
		byOblast:    make(map[oblastKey]geo.Coordinates),
		oblastsFor:  make(map[string][]string),
		centers:     make(map[string]geo.Coordinates),
	}
	if g == nil {
		return l
	}
	for name, c := range g.Cities {
		l.cities[normalizer.NormalizeCity(name)] = geo.Coordinates{Lat: c[0], Lng: c[1]}
	}
	for name, c := range g.OblastCenters {
		if obl := normalizer.NormalizeOblast(name); obl != "" {
			l.centers[obl] = geo.Coordinates{Lat: c[0], Lng: c[1]}
		}
	}
	for name, c := range g.Settlements {
		l.settlements[normalizer.NormalizeCity(name)] = geo.Coordinates{Lat: c[0], Lng: c[1]}
	}
	for oblast, setts := range g.SettlementsByOblast {
		obl := strings.ToLower(strings.TrimSpace(oblast))
		if n := normalizer.NormalizeOblast(obl); n != "" {
			obl = n
		}
		for name, c := range setts {
			l.addOblastEntry(normalizer.NormalizeCity(name), obl, geo.Coordinates{Lat: c[0], Lng: c[1]})
		}
	}
	for name, obls := range l.oblastsFor {
		if len(obls) > 1 {
			delete(l.settlements, name)
		}
	}
	for _, obls := range l.oblastsFor {
		sort.Strings(obls)
	}

	logger.Info("local geocoder initialized",
		"cities", len(l.cities),
		"settlements", len(l.settlements),
		"oblast_entries", len(l.byOblast),
	)
	return l
}

func (l *LocalGeocoder) addOblastEntry(name, oblast string, c geo.Coordinates) {
	l.byOblast[oblastKey{name, oblast}] = c
	for _, o := range l.oblastsFor[name] {
		if o == oblast {
			return
		}
	}
	l.oblastsFor[name] = append(l.oblastsFor[name], oblast)
}

func (l *LocalGeocoder) Name() string    { return models.SourceLocal }
func (l *LocalGeocoder) Priority() int   { return 10 }
func (l *LocalGeocoder) Available() bool { return true }

// Geocode tries, in order: main cities, case variants of main cities, the
// region's settlements, all settlements, variants of all settlements and
// finally oblast centers when the query names an oblast.
func (l *LocalGeocoder) Geocode(_ context.Context, query, region string) (*models.GeocodingResult, error) {
	if strings.TrimSpace(query) == "" {
		return nil, nil
	}
	normalized := normalizer.NormalizeCity(query)
	if normalized == "" {
		return nil, nil
	}
	var oblast string
	if region != "" {
		oblast = normalizer.NormalizeOblast(region)
	}
	variants := normalizer.NameVariants(normalized)

	l.mu.RLock()
	defer l.mu.RUnlock()

	if c, ok := l.cities[normalized]; ok {
		return l.result(c, query, 1.0, ""), nil
	}
	for _, v := range variants[1:] {
		if c, ok := l.cities[v]; ok {
			return l.result(c, query, 0.95, ""), nil
		}
	}
	if oblast != "" {
		if res := l.searchInOblast(normalized, variants, oblast, query); res != nil {
			return res, nil
		}
	}
	if c, ok := l.settlements[normalized]; ok {
		return l.result(c, query, 0.85, ""), nil
	}
	for _, v := range variants[1:] {
		if c, ok := l.settlements[v]; ok {
			return l.result(c, query, 0.7, ""), nil
		}
	}
	if looksLikeOblast(normalized) {
		if obl := normalizer.NormalizeOblast(normalized); obl != "" {
			if c, ok := l.centers[obl]; ok {
				return l.result(c, query, 0.5, obl), nil
			}
		}
	}
	return nil, nil
}

func (l *LocalGeocoder) searchInOblast(normalized string, variants []string, oblast, query string) *models.GeocodingResult {
	if c, ok := l.byOblast[oblastKey{normalized, oblast}]; ok {
		return l.result(c, query, 0.95, oblast)
	}
	for _, v := range variants {
		if c, ok := l.byOblast[oblastKey{v, oblast}]; ok {
			return l.result(c, query, 0.9, oblast)
		}
	}
	// stored oblast keys may carry a suffix like " область"
	for _, v := range variants {
		for _, obl := range l.oblastsFor[v] {
			if strings.Contains(obl, oblast) || strings.Contains(oblast, obl) {
				return l.result(l.byOblast[oblastKey{v, obl}], query, 0.88, obl)
			}
		}
	}
	return nil
}

func (l *LocalGeocoder) result(c geo.Coordinates, place string, confidence float64, oblast string) *models.GeocodingResult {
	r := newResult(c.Lat, c.Lng, place, models.SourceLocal, confidence)
	r.Oblast = oblast
	return r
}

func looksLikeOblast(s string) bool {
	if strings.Contains(s, "обл") {
		return true
	}
	for _, suffix := range []string{"ська", "цька", "зька", "щина", "ччина"} {
		if strings.HasSuffix(s, suffix) {
			return true
		}
	}
	return false
}

// OblastsFor lists the oblasts in which a settlement name is known.
func (l *LocalGeocoder) OblastsFor(name string) []string {
	normalized := normalizer.NormalizeCity(name)
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]string(nil), l.oblastsFor[normalized]...)
}

// AddCity adds or replaces a main-city entry; with a region it is also
// indexed under that oblast.
func (l *LocalGeocoder) AddCity(name string, lat, lng float64, region string) {
	normalized := normalizer.NormalizeCity(name)
	if normalized == "" {
		return
	}
	c := geo.Coordinates{Lat: lat, Lng: lng}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.cities[normalized] = c
	if region != "" {
		if obl := normalizer.NormalizeOblast(region); obl != "" {
			l.addOblastEntry(normalized, obl, c)
		}
	}
}

// LocalStats describes the size of the loaded dictionaries.
type LocalStats struct {
	Cities        int `json:"city_coords"`
	Settlements   int `json:"settlements"`
	OblastEntries int `json:"oblast_entries"`
	WithOblast    int `json:"unique_settlements_with_oblast"`
}

func (l *LocalGeocoder) Stats() LocalStats {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return LocalStats{
		Cities:        len(l.cities),
		Settlements:   len(l.settlements),
		OblastEntries: len(l.byOblast),
		WithOblast:    len(l.oblastsFor),
	}
}
