package geocoder

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/neptunmap/neptun/internal/geo"
	"github.com/neptunmap/neptun/internal/models"
	"github.com/neptunmap/neptun/internal/ratelimit"
	"github.com/neptunmap/neptun/pkg/utils"
)

const DefaultNominatimURL = "https://nominatim.openstreetmap.org/search"

// NominatimGeocoder queries an OpenStreetMap Nominatim search endpoint.
// The public instance allows one request per second.
type NominatimGeocoder struct {
	*httpProvider
}

func NewNominatimGeocoder(cfg HTTPConfig, quota ratelimit.Quota, client *http.Client) *NominatimGeocoder {
	if cfg.URL == "" {
		cfg.URL = DefaultNominatimURL
	}
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 1
	}
	return &NominatimGeocoder{newHTTPProvider(models.SourceNominatim, 60, cfg, quota, client)}
}

func (g *NominatimGeocoder) Available() bool { return g.cfg.Enabled }

type nominatimPlace struct {
	Lat         string `json:"lat"`
	Lon         string `json:"lon"`
	Name        string `json:"name"`
	DisplayName string `json:"display_name"`
}

func (g *NominatimGeocoder) Geocode(ctx context.Context, query, region string) (*models.GeocodingResult, error) {
	if !g.cfg.Enabled || utf8.RuneCountInString(strings.TrimSpace(query)) < 2 {
		return nil, nil
	}
	params := url.Values{}
	params.Set("q", searchText(query, region))
	params.Set("format", "jsonv2")
	params.Set("limit", "5")
	params.Set("countrycodes", "ua")
	params.Set("accept-language", "uk")

	var places []nominatimPlace
	if err := g.getJSON(ctx, g.cfg.URL, params, &places); err != nil {
		g.swallow(query, err)
		return nil, nil
	}
	for _, p := range places {
		lat, err1 := strconv.ParseFloat(p.Lat, 64)
		lng, err2 := strconv.ParseFloat(p.Lon, 64)
		if err1 != nil || err2 != nil || !geo.IsWithinUkraine(lat, lng) {
			continue
		}
		g.hits.Add(1)
		return newResult(lat, lng, utils.FirstNonEmpty(p.Name, p.DisplayName, query), models.SourceNominatim, 0.75), nil
	}
	return nil, nil
}
