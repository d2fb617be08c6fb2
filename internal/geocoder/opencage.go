package geocoder

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"unicode/utf8"

	"github.com/neptunmap/neptun/internal/geo"
	"github.com/neptunmap/neptun/internal/models"
	"github.com/neptunmap/neptun/internal/ratelimit"
	"github.com/neptunmap/neptun/pkg/utils"
)

const DefaultOpenCageURL = "https://api.opencagedata.com/geocode/v1/json"

// OpenCageGeocoder uses the paid OpenCage API. It is only available with
// an API key and is bounded by a daily quota.
type OpenCageGeocoder struct {
	*httpProvider
}

func NewOpenCageGeocoder(cfg HTTPConfig, quota ratelimit.Quota, client *http.Client) *OpenCageGeocoder {
	if cfg.URL == "" {
		cfg.URL = DefaultOpenCageURL
	}
	return &OpenCageGeocoder{newHTTPProvider(models.SourceOpenCage, 30, cfg, quota, client)}
}

func (g *OpenCageGeocoder) Available() bool { return g.cfg.Enabled && g.cfg.APIKey != "" }

type openCageResponse struct {
	Results []struct {
		Geometry struct {
			Lat *float64 `json:"lat"`
			Lng *float64 `json:"lng"`
		} `json:"geometry"`
		Formatted  string  `json:"formatted"`
		Confidence float64 `json:"confidence"`
	} `json:"results"`
}

// Geocode takes the first result; OpenCage confidence (1..10) is scaled
// to [0,1].
func (g *OpenCageGeocoder) Geocode(ctx context.Context, query, region string) (*models.GeocodingResult, error) {
	if !g.Available() || utf8.RuneCountInString(strings.TrimSpace(query)) < 2 {
		return nil, nil
	}
	params := url.Values{}
	params.Set("q", searchText(query, region))
	params.Set("key", g.cfg.APIKey)
	params.Set("limit", "3")
	params.Set("countrycode", "ua")
	params.Set("language", "uk")
	params.Set("no_annotations", "1")

	var resp openCageResponse
	if err := g.getJSON(ctx, g.cfg.URL, params, &resp); err != nil {
		g.swallow(query, err)
		return nil, nil
	}
	if len(resp.Results) == 0 {
		return nil, nil
	}
	r := resp.Results[0]
	if r.Geometry.Lat == nil || r.Geometry.Lng == nil {
		return nil, nil
	}
	lat, lng := *r.Geometry.Lat, *r.Geometry.Lng
	if !geo.IsWithinUkraine(lat, lng) {
		return nil, nil
	}
	g.hits.Add(1)
	return newResult(lat, lng, utils.FirstNonEmpty(r.Formatted, query), models.SourceOpenCage, r.Confidence/10), nil
}
