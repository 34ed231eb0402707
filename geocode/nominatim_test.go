package geocode

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

func TestNominatimSearch(t *testing.T) {
	reqs := make(chan *http.Request, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqs <- r.Clone(context.Background())
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[
			{"lat":"32.0636","lon":"34.7731","display_name":"1, Rothschild Boulevard, Tel Aviv-Yafo, Israel",
			 "address":{"house_number":"1","road":"Rothschild Boulevard","city":"Tel Aviv-Yafo","country_code":"il"}},
			{"lat":"not-a-number","lon":"34.7","display_name":"broken"}
		]`))
	}))
	t.Cleanup(srv.Close)

	n := newTestNominatim(t, srv.URL)
	places, err := n.Search(context.Background(), "Rothschild 1", 3, Israel)
	require.NoError(t, err)
	require.Len(t, places, 1)
	require.InDelta(t, 32.0636, places[0].Lat, 1e-9)
	require.InDelta(t, 34.7731, places[0].Lon, 1e-9)
	require.Equal(t, "1", places[0].Address.HouseNumber)
	require.Equal(t, "Tel Aviv-Yafo", places[0].Address.City)
	require.Equal(t, "il", places[0].Address.CountryCode)

	got := <-reqs
	require.Equal(t, "/search", got.URL.Path)
	q := got.URL.Query()
	require.Equal(t, "json", q.Get("format"))
	require.Equal(t, "Rothschild 1", q.Get("q"))
	require.Equal(t, "3", q.Get("limit"))
	require.Equal(t, "1", q.Get("addressdetails"))
	require.Equal(t, "il", q.Get("countrycodes"))
	require.Equal(t, "1", q.Get("bounded"))
	require.Equal(t, "34.2,33.5,35.9,29.4", q.Get("viewbox"))
	require.Equal(t, DefaultAcceptLanguage, q.Get("accept-language"))
	require.Equal(t, DefaultUserAgent, got.Header.Get("User-Agent"))
}

func TestNominatimSearchNoResults(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[]`))
	}))
	t.Cleanup(srv.Close)

	places, err := newTestNominatim(t, srv.URL).Search(context.Background(), "nowhere", 1, Israel)
	require.NoError(t, err)
	require.Empty(t, places)
}

func TestNominatimReverse(t *testing.T) {
	reqs := make(chan *http.Request, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqs <- r.Clone(context.Background())
		_, _ = w.Write([]byte(`{"lat":"32.08531","lon":"34.78182","display_name":"1, Rothschild, Tel Aviv, Israel",
			"address":{"house_number":"1","road":"Rothschild","city":"Tel Aviv"}}`))
	}))
	t.Cleanup(srv.Close)

	res, err := newTestNominatim(t, srv.URL).Reverse(context.Background(), 32.0853, 34.7818)
	require.NoError(t, err)
	require.InDelta(t, 32.08531, res.Lat, 1e-9)
	require.InDelta(t, 34.78182, res.Lon, 1e-9)
	require.Equal(t, "Rothschild", res.Address.Road)

	got := <-reqs
	require.Equal(t, "/reverse", got.URL.Path)
	require.Equal(t, "32.0853", got.URL.Query().Get("lat"))
	require.Equal(t, "34.7818", got.URL.Query().Get("lon"))
	require.Equal(t, "1", got.URL.Query().Get("addressdetails"))
}

func TestNominatimReverseUnableToGeocode(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"error":"Unable to geocode"}`))
	}))
	t.Cleanup(srv.Close)

	_, err := newTestNominatim(t, srv.URL).Reverse(context.Background(), 31.0, 35.0)
	require.ErrorIs(t, err, ErrNotFound)
	require.Contains(t, err.Error(), "Unable to geocode")
}

func TestNominatimErrors(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
		is      error
		msg     string
	}{
		{
			name: "not found",
			handler: func(w http.ResponseWriter, r *http.Request) {
				http.NotFound(w, r)
			},
			is: ErrNotFound,
		},
		{
			name: "bad request",
			handler: func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, "missing q", http.StatusBadRequest)
			},
			msg: "nominatim returned 400: missing q",
		},
		{
			name: "rate limited",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusTooManyRequests)
			},
			msg: "nominatim returned 429",
		},
		{
			name: "oversized body",
			handler: func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte("[" + strings.Repeat(" ", MaxResponseSize) + "]"))
			},
			is: ErrResponseTooLarge,
		},
		{
			name: "invalid json",
			handler: func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(`{"lat":`))
			},
			msg: "decoding response",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(tt.handler)
			t.Cleanup(srv.Close)

			_, err := newTestNominatim(t, srv.URL).Search(context.Background(), "x", 1, Israel)
			require.Error(t, err)
			if tt.is != nil {
				require.ErrorIs(t, err, tt.is)
			}
			if tt.msg != "" {
				require.Contains(t, err.Error(), tt.msg)
			}
		})
	}
}

func TestNominatimRateLimit(t *testing.T) {
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		_, _ = w.Write([]byte(`[]`))
	}))
	t.Cleanup(srv.Close)

	n := NewNominatim(
		WithBaseURL(srv.URL+"/"),
		WithHTTPClient(newTestHTTPClient(0)),
		WithRateLimit(rate.Every(time.Hour), 1),
	)

	_, err := n.Search(context.Background(), "first", 1, Israel)
	require.NoError(t, err)

	// the second request would wait an hour for a token
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = n.Search(ctx, "second", 1, Israel)
	require.Error(t, err)
	require.Contains(t, err.Error(), "rate limiter")
	require.Equal(t, int64(1), calls.Load())
}

func TestNominatimCustomHeaders(t *testing.T) {
	reqs := make(chan *http.Request, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqs <- r.Clone(context.Background())
		_, _ = w.Write([]byte(`[]`))
	}))
	t.Cleanup(srv.Close)

	n := NewNominatim(
		WithBaseURL(srv.URL),
		WithHTTPClient(newTestHTTPClient(0)),
		WithRateLimit(rate.Inf, 1),
		WithUserAgent("doto-test/0.1"),
		WithAcceptLanguage("he"),
	)
	_, err := n.Search(context.Background(), "x", 1, Israel)
	require.NoError(t, err)
	got := <-reqs
	require.Equal(t, "doto-test/0.1", got.Header.Get("User-Agent"))
	require.Equal(t, "he", got.URL.Query().Get("accept-language"))
}

func TestCacheOverNominatim(t *testing.T) {
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		_, _ = w.Write([]byte(`{"lat":"32.0853","lon":"34.7818","display_name":"Rothschild, Tel Aviv",
			"address":{"house_number":"1","road":"Rothschild","city":"Tel Aviv"}}`))
	}))
	t.Cleanup(srv.Close)

	c, err := NewCache(newTestNominatim(t, srv.URL), WithLogger(slog.New(slog.DiscardHandler)))
	require.NoError(t, err)

	r := c.ReverseResolve(context.Background(), 32.0853, 34.7818)
	require.NotNil(t, r)
	require.Equal(t, "1 Rothschild, Tel Aviv", r.Label)

	r = c.ReverseResolve(context.Background(), 32.0853, 34.7818)
	require.NotNil(t, r)
	require.Equal(t, int64(1), calls.Load())
}

// Helper functions

func newTestNominatim(t *testing.T, baseURL string) *Nominatim {
	t.Helper()
	return NewNominatim(
		WithBaseURL(baseURL),
		WithHTTPClient(newTestHTTPClient(0)),
		WithRateLimit(rate.Inf, 1),
	)
}

func newTestHTTPClient(retries int) *http.Client {
	return NewHTTPClient(
		WithMaxRetries(retries),
		WithRetryWait(time.Millisecond, 5*time.Millisecond),
		WithClientLogger(slog.New(slog.DiscardHandler)),
		WithTimeout(5*time.Second),
	)
}
