package geocode

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"golang.org/x/time/rate"
)

const (
	// DefaultNominatimURL is the public OpenStreetMap Nominatim instance.
	DefaultNominatimURL = "https://nominatim.openstreetmap.org"

	// DefaultUserAgent identifies the application, as the Nominatim usage policy requires.
	DefaultUserAgent = "DOTO-App/1.0"

	// DefaultAcceptLanguage requests English names with Hebrew as fallback.
	DefaultAcceptLanguage = "en,he"

	// MaxResponseSize caps how much of a provider response is read.
	MaxResponseSize = 1 << 20 // 1 MiB

	// DefaultRateLimit follows the public instance's one request per second policy.
	DefaultRateLimit = rate.Limit(1)
)

// Nominatim is a Provider backed by the Nominatim search and reverse APIs.
type Nominatim struct {
	baseURL        string
	userAgent      string
	acceptLanguage string
	client         *http.Client
	limiter        *rate.Limiter
}

// NominatimOption configures a Nominatim client.
type NominatimOption func(*Nominatim)

// WithBaseURL sets the Nominatim base URL.
func WithBaseURL(u string) NominatimOption {
	return func(n *Nominatim) {
		n.baseURL = strings.TrimSuffix(u, "/")
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(client *http.Client) NominatimOption {
	return func(n *Nominatim) {
		n.client = client
	}
}

// WithUserAgent sets the User-Agent header.
func WithUserAgent(ua string) NominatimOption {
	return func(n *Nominatim) {
		n.userAgent = ua
	}
}

// WithAcceptLanguage sets the accept-language parameter.
func WithAcceptLanguage(lang string) NominatimOption {
	return func(n *Nominatim) {
		n.acceptLanguage = lang
	}
}

// WithRateLimit sets the outbound request rate. rate.Inf disables limiting.
func WithRateLimit(limit rate.Limit, burst int) NominatimOption {
	return func(n *Nominatim) {
		n.limiter = rate.NewLimiter(limit, burst)
	}
}

// NewNominatim creates a Nominatim client.
func NewNominatim(opts ...NominatimOption) *Nominatim {
	n := &Nominatim{
		baseURL:        DefaultNominatimURL,
		userAgent:      DefaultUserAgent,
		acceptLanguage: DefaultAcceptLanguage,
		limiter:        rate.NewLimiter(DefaultRateLimit, 1),
	}
	for _, opt := range opts {
		opt(n)
	}
	if n.client == nil {
		n.client = NewHTTPClient()
	}
	return n
}

// nominatimPlace is the wire form shared by search and reverse responses.
type nominatimPlace struct {
	Lat         string  `json:"lat"`
	Lon         string  `json:"lon"`
	DisplayName string  `json:"display_name"`
	Address     Address `json:"address"`
	Error       string  `json:"error"`
}

func (p nominatimPlace) coordinates() (lat, lon float64, err error) {
	lat, err = strconv.ParseFloat(p.Lat, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("parsing lat %q: %w", p.Lat, err)
	}
	lon, err = strconv.ParseFloat(p.Lon, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("parsing lon %q: %w", p.Lon, err)
	}
	return lat, lon, nil
}

// Search implements Provider.
func (n *Nominatim) Search(ctx context.Context, query string, limit int, region Region) ([]Place, error) {
	params := url.Values{}
	params.Set("format", "json")
	params.Set("q", query)
	params.Set("limit", strconv.Itoa(limit))
	params.Set("addressdetails", "1")
	if codes := region.CountryCodeList(); codes != "" {
		params.Set("countrycodes", codes)
	}
	params.Set("bounded", "1")
	params.Set("viewbox", region.ViewBox())

	var raw []nominatimPlace
	if err := n.get(ctx, "/search", params, &raw); err != nil {
		return nil, err
	}

	places := make([]Place, 0, len(raw))
	for _, r := range raw {
		lat, lon, err := r.coordinates()
		if err != nil {
			// a malformed candidate does not spoil the rest
			continue
		}
		places = append(places, Place{
			Lat:         lat,
			Lon:         lon,
			DisplayName: r.DisplayName,
			Address:     r.Address,
		})
	}
	return places, nil
}

// Reverse implements Provider.
func (n *Nominatim) Reverse(ctx context.Context, lat, lon float64) (*ReverseResult, error) {
	params := url.Values{}
	params.Set("format", "json")
	params.Set("lat", formatFloat(lat))
	params.Set("lon", formatFloat(lon))
	params.Set("addressdetails", "1")

	var raw nominatimPlace
	if err := n.get(ctx, "/reverse", params, &raw); err != nil {
		return nil, err
	}
	// Nominatim reports "Unable to geocode" with a 200 status.
	if raw.Error != "" {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, raw.Error)
	}

	res := &ReverseResult{
		Lat:         lat,
		Lon:         lon,
		DisplayName: raw.DisplayName,
		Address:     raw.Address,
	}
	if plat, plon, err := raw.coordinates(); err == nil {
		res.Lat, res.Lon = plat, plon
	}
	return res, nil
}

func (n *Nominatim) get(ctx context.Context, path string, params url.Values, out any) error {
	if n.acceptLanguage != "" {
		params.Set("accept-language", n.acceptLanguage)
	}

	if err := n.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("waiting for rate limiter: %w", err)
	}

	reqURL := n.baseURL + path + "?" + params.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", n.userAgent)

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("performing request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusNotFound {
		return ErrNotFound
	}

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("nominatim returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, MaxResponseSize+1))
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}
	if len(body) > MaxResponseSize {
		return ErrResponseTooLarge
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

// Compile-time interface check
var _ Provider = (*Nominatim)(nil)
