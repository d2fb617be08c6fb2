package geo

import (
	"math"
	"testing"
)

func TestValidateCoords(t *testing.T) {
	tests := []struct {
		name     string
		lat, lng float64
		want     bool
	}{
		{"kyiv", 50.4501, 30.5234, true},
		{"odesa", 46.4825, 30.7233, true},
		{"south edge", 44.0, 33.0, true},
		{"warsaw", 52.2297, 21.0122, false},
		{"moscow", 55.7558, 37.6173, false},
		{"engels special zone", 51.48, 46.2, true},
		{"nan lat", math.NaN(), 30.0, false},
		{"inf lng", 50.0, math.Inf(1), false},
		{"neg inf", math.Inf(-1), 30.0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ValidateCoords(tt.lat, tt.lng); got != tt.want {
				t.Errorf("ValidateCoords(%v, %v) = %v, want %v", tt.lat, tt.lng, got, tt.want)
			}
		})
	}
}

func TestIsWithinUkraineExcludesSpecialZones(t *testing.T) {
	if IsWithinUkraine(51.48, 46.2) {
		t.Error("special zone must not count as Ukraine")
	}
	if !IsWithinUkraine(49.99, 36.23) {
		t.Error("kharkiv should be inside Ukraine")
	}
}

func TestNewCoordinates(t *testing.T) {
	if _, ok := NewCoordinates(math.NaN(), 30); ok {
		t.Error("expected NaN to be rejected")
	}
	c, ok := NewCoordinates(50.45012, 30.52345)
	if !ok {
		t.Fatal("expected kyiv to be accepted")
	}
	r := c.Rounded()
	if r.Lat != 50.4501 || r.Lng != 30.5235 && r.Lng != 30.5234 {
		t.Errorf("unexpected rounding: %+v", r)
	}
}

func TestHaversine(t *testing.T) {
	d := Haversine(50.4501, 30.5234, 49.9935, 36.2304)
	if d < 400 || d > 420 {
		t.Errorf("kyiv-kharkiv distance = %.1f km, want ~408", d)
	}
	if Haversine(50, 30, 50, 30) != 0 {
		t.Error("distance to self must be 0")
	}
	if got := Distance(Coordinates{50, 30}, Coordinates{50, 30.1}); got < 7 || got > 7.3 {
		t.Errorf("0.1 deg lng at lat 50 = %.2f km, want ~7.15", got)
	}
}

func TestBearing(t *testing.T) {
	tests := []struct {
		name                   string
		lat1, lng1, lat2, lng2 float64
		want                   float64
	}{
		{"north", 50, 30, 51, 30, 0},
		{"south", 50, 30, 49, 30, 180},
		{"east", 0, 30, 0, 31, 90},
		{"west", 0, 30, 0, 29, 270},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Bearing(tt.lat1, tt.lng1, tt.lat2, tt.lng2)
			if math.Abs(got-tt.want) > 0.5 {
				t.Errorf("Bearing = %.2f, want %.2f", got, tt.want)
			}
		})
	}
}

func TestDestinationRoundTrip(t *testing.T) {
	lat, lng := Destination(50.4501, 30.5234, 90, 100)
	d := Haversine(50.4501, 30.5234, lat, lng)
	if math.Abs(d-100) > 0.5 {
		t.Errorf("destination distance = %.2f, want 100", d)
	}
	if b := Bearing(50.4501, 30.5234, lat, lng); math.Abs(b-90) > 1 {
		t.Errorf("destination bearing = %.2f, want ~90", b)
	}
}

func TestMidpointAndRound(t *testing.T) {
	lat, lng := Midpoint(50, 30, 48, 34)
	if lat != 49 || lng != 32 {
		t.Errorf("Midpoint = %v,%v", lat, lng)
	}
	rl, rg := RoundCoords(46.482512, 30.723349)
	if rl != 46.4825 || rg != 30.7233 {
		t.Errorf("RoundCoords = %v,%v", rl, rg)
	}
}

func TestBearingToDirection(t *testing.T) {
	tests := []struct {
		bearing float64
		want    string
	}{
		{0, "північ"},
		{44, "північний схід"},
		{90, "схід"},
		{180, "південь"},
		{260, "захід"},
		{350, "північ"},
		{-90, "захід"},
		{720, "північ"},
	}
	for _, tt := range tests {
		if got := BearingToDirection(tt.bearing); got != tt.want {
			t.Errorf("BearingToDirection(%v) = %q, want %q", tt.bearing, got, tt.want)
		}
	}
	if got := BearingToDirection(math.NaN()); got != "невідомо" {
		t.Errorf("NaN bearing = %q", got)
	}
}
