package geocoder

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	apperrors "github.com/neptunmap/neptun/internal/errors"
	"github.com/neptunmap/neptun/internal/ratelimit"
)

func jsonServer(t *testing.T, status int, body string, check func(*http.Request)) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if check != nil {
			check(r)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv, &hits
}

func TestPhotonGeocoder(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantLat float64
		wantNil bool
	}{
		{
			name:    "first feature inside Ukraine",
			status:  http.StatusOK,
			body:    `{"features":[{"geometry":{"coordinates":[2.35,48.85]},"properties":{"name":"Paris"}},{"geometry":{"coordinates":[31.6447,48.6511]},"properties":{"name":"Мала Виска"}}]}`,
			wantLat: 48.6511,
		},
		{name: "no features", status: http.StatusOK, body: `{"features":[]}`, wantNil: true},
		{name: "server error", status: http.StatusInternalServerError, body: `oops`, wantNil: true},
		{name: "malformed body", status: http.StatusOK, body: `{"features":`, wantNil: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, _ := jsonServer(t, tt.status, tt.body, func(r *http.Request) {
				q := r.URL.Query()
				if !strings.HasSuffix(q.Get("q"), ", Україна") || q.Get("lang") != "uk" {
					t.Errorf("unexpected query %v", q)
				}
				if r.Header.Get("User-Agent") == "" {
					t.Error("missing User-Agent")
				}
			})
			g := NewPhotonGeocoder(HTTPConfig{URL: srv.URL, Enabled: true}, nil, srv.Client())

			res, err := g.Geocode(context.Background(), "Мала Виска", "кіровоградська")
			if err != nil {
				t.Fatalf("errors are logged, not returned: %v", err)
			}
			if tt.wantNil {
				if res != nil {
					t.Errorf("expected nil, got %+v", res)
				}
				return
			}
			if res == nil || res.Coordinates.Lat != tt.wantLat || res.Source != "photon" || res.Confidence != 0.7 {
				t.Errorf("unexpected result %+v", res)
			}
		})
	}
}

func TestPhotonGeocoderDisabled(t *testing.T) {
	srv, hits := jsonServer(t, http.StatusOK, `{"features":[]}`, nil)
	g := NewPhotonGeocoder(HTTPConfig{URL: srv.URL}, nil, srv.Client())
	if g.Available() {
		t.Error("disabled provider reported available")
	}
	if res, _ := g.Geocode(context.Background(), "Київ", ""); res != nil || hits.Load() != 0 {
		t.Error("disabled provider made a request")
	}
}

func TestOpenCageGeocoder(t *testing.T) {
	srv, hits := jsonServer(t, http.StatusOK,
		`{"results":[{"geometry":{"lat":49.4444,"lng":32.0598},"formatted":"Черкаси, Україна","confidence":8}]}`,
		func(r *http.Request) {
			if r.URL.Query().Get("key") != "secret" || r.URL.Query().Get("countrycode") != "ua" {
				t.Errorf("unexpected query %v", r.URL.Query())
			}
		})

	noKey := NewOpenCageGeocoder(HTTPConfig{URL: srv.URL, Enabled: true}, nil, srv.Client())
	if noKey.Available() {
		t.Error("provider without key must be unavailable")
	}
	if res, _ := noKey.Geocode(context.Background(), "Черкаси", ""); res != nil || hits.Load() != 0 {
		t.Error("provider without key made a request")
	}

	g := NewOpenCageGeocoder(HTTPConfig{URL: srv.URL, APIKey: "secret", Enabled: true}, nil, srv.Client())
	res, _ := g.Geocode(context.Background(), "Черкаси", "")
	if res == nil {
		t.Fatal("expected result")
	}
	if res.Confidence != 0.8 || res.PlaceName != "Черкаси, Україна" || res.Source != "opencage" {
		t.Errorf("unexpected result %+v", res)
	}
	if st := g.Stats(); st.Requests != 1 || st.Hits != 1 || st.HitRate != 100 {
		t.Errorf("unexpected stats %+v", st)
	}
}

func TestOpenCageGeocoderRejectsOutsideUkraine(t *testing.T) {
	srv, _ := jsonServer(t, http.StatusOK, `{"results":[{"geometry":{"lat":52.52,"lng":13.40},"confidence":9}]}`, nil)
	g := NewOpenCageGeocoder(HTTPConfig{URL: srv.URL, APIKey: "k", Enabled: true}, nil, srv.Client())
	if res, _ := g.Geocode(context.Background(), "Берлін", ""); res != nil {
		t.Errorf("expected rejection, got %+v", res)
	}
}

func TestNominatimGeocoder(t *testing.T) {
	srv, _ := jsonServer(t, http.StatusOK,
		`[{"lat":"bad","lon":"30"},{"lat":"50.9077","lon":"34.7981","name":"Суми"}]`,
		func(r *http.Request) {
			if r.URL.Query().Get("format") != "jsonv2" || r.URL.Query().Get("countrycodes") != "ua" {
				t.Errorf("unexpected query %v", r.URL.Query())
			}
		})
	g := NewNominatimGeocoder(HTTPConfig{URL: srv.URL, Enabled: true, RatePerSec: 100}, nil, srv.Client())
	res, _ := g.Geocode(context.Background(), "Суми", "")
	if res == nil || res.Coordinates.Lat != 50.9077 || res.Coordinates.Lng != 34.7981 || res.Confidence != 0.75 {
		t.Errorf("unexpected result %+v", res)
	}
}

func TestHTTPProviderDailyQuota(t *testing.T) {
	srv, hits := jsonServer(t, http.StatusOK, `[{"lat":"50.45","lon":"30.52"}]`, nil)
	quota := ratelimit.NewMemoryQuota()
	g := NewNominatimGeocoder(HTTPConfig{URL: srv.URL, Enabled: true, RatePerSec: 100, DailyQuota: 2}, quota, srv.Client())
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, _ = g.Geocode(ctx, "Київ", "")
	}
	if hits.Load() != 2 {
		t.Errorf("server hits = %d, want 2", hits.Load())
	}
	if st := g.Stats(); st.Throttled != 1 {
		t.Errorf("throttled = %d, want 1", st.Throttled)
	}
	// denied attempts still count, matching the Redis INCR semantics
	if used, _ := quota.Used(ctx, "nominatim"); used != 3 {
		t.Errorf("quota used = %d, want 3", used)
	}
}

func TestSearchText(t *testing.T) {
	if got := searchText(" Бровари ", "київська"); got != "Бровари, київська, Україна" {
		t.Errorf("searchText = %q", got)
	}
	if got := searchText("Бровари", ""); got != "Бровари, Україна" {
		t.Errorf("searchText = %q", got)
	}
}

func TestHTTPProviderErrorKinds(t *testing.T) {
	tests := []struct {
		name   string
		status int
		want   error
	}{
		{name: "throttled upstream", status: http.StatusTooManyRequests, want: apperrors.ErrRateLimit},
		{name: "upstream down", status: http.StatusBadGateway, want: apperrors.ErrProviderUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, _ := jsonServer(t, tt.status, `{}`, nil)
			p := newHTTPProvider("test", 1, HTTPConfig{Enabled: true}, nil, srv.Client())
			var out map[string]any
			err := p.getJSON(context.Background(), srv.URL, nil, &out)
			var perr apperrors.ProviderError
			if !errors.As(err, &perr) || perr.Op != "status" {
				t.Fatalf("expected status ProviderError, got %v", err)
			}
			if !errors.Is(err, tt.want) {
				t.Errorf("expected %v in chain, got %v", tt.want, err)
			}
		})
	}

	t.Run("timeout", func(t *testing.T) {
		block := make(chan struct{})
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			select {
			case <-block:
			case <-r.Context().Done():
			}
		}))
		defer srv.Close()
		defer close(block)

		p := newHTTPProvider("test", 1, HTTPConfig{Enabled: true, Timeout: 50 * time.Millisecond}, nil, srv.Client())
		var out map[string]any
		err := p.getJSON(context.Background(), srv.URL, nil, &out)
		if !errors.Is(err, apperrors.ErrTimeout) {
			t.Errorf("expected ErrTimeout, got %v", err)
		}
	})
}
