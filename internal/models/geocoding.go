package models

import "github.com/neptunmap/neptun/internal/geo"

// Geocoding result sources.
const (
	SourceLocal     = "local"
	SourceCache     = "cache"
	SourceLearning  = "learning"
	SourcePhoton    = "photon"
	SourceOpenCage  = "opencage"
	SourceNominatim = "nominatim"
	SourceManual    = "manual"
)

// GeocodingResult is a resolved place.
type GeocodingResult struct {
	Coordinates geo.Coordinates `json:"coordinates"`
	PlaceName   string          `json:"place_name"`
	Source      string          `json:"source"`
	Confidence  float64         `json:"confidence"`
	Oblast      string          `json:"oblast,omitempty"`
}

// Lat is a convenience accessor.
func (r GeocodingResult) Lat() float64 { return r.Coordinates.Lat }

// Lng is a convenience accessor.
func (r GeocodingResult) Lng() float64 { return r.Coordinates.Lng }
