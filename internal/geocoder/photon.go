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

const DefaultPhotonURL = "https://photon.komoot.io/api/"

// PhotonGeocoder queries a Photon (komoot) instance.
type PhotonGeocoder struct {
	*httpProvider
}

func NewPhotonGeocoder(cfg HTTPConfig, quota ratelimit.Quota, client *http.Client) *PhotonGeocoder {
	if cfg.URL == "" {
		cfg.URL = DefaultPhotonURL
	}
	return &PhotonGeocoder{newHTTPProvider(models.SourcePhoton, 50, cfg, quota, client)}
}

func (g *PhotonGeocoder) Available() bool { return g.cfg.Enabled }

type photonResponse struct {
	Features []struct {
		Geometry struct {
			Coordinates []float64 `json:"coordinates"`
		} `json:"geometry"`
		Properties struct {
			Name     string `json:"name"`
			City     string `json:"city"`
			Locality string `json:"locality"`
		} `json:"properties"`
	} `json:"features"`
}

// Geocode returns the first feature inside Ukraine.
func (g *PhotonGeocoder) Geocode(ctx context.Context, query, region string) (*models.GeocodingResult, error) {
	if !g.cfg.Enabled || utf8.RuneCountInString(strings.TrimSpace(query)) < 2 {
		return nil, nil
	}
	params := url.Values{}
	params.Set("q", searchText(query, region))
	params.Set("limit", "5")
	params.Set("lang", "uk")

	var resp photonResponse
	if err := g.getJSON(ctx, strings.TrimRight(g.cfg.URL, "/")+"/", params, &resp); err != nil {
		g.swallow(query, err)
		return nil, nil
	}
	for _, f := range resp.Features {
		if len(f.Geometry.Coordinates) < 2 {
			continue
		}
		lng, lat := f.Geometry.Coordinates[0], f.Geometry.Coordinates[1]
		if !geo.IsWithinUkraine(lat, lng) {
			continue
		}
		place := utils.FirstNonEmpty(f.Properties.Name, f.Properties.City, f.Properties.Locality, query)
		g.hits.Add(1)
		return newResult(lat, lng, place, models.SourcePhoton, 0.7), nil
	}
	return nil, nil
}
