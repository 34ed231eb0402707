package geocode

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestResolveAddressCachesHits(t *testing.T) {
	fp := &fakeProvider{places: []Place{telAvivPlace()}}
	c := newTestCache(t, fp)
	ctx := context.Background()

	first := c.ResolveAddress(ctx, "Rothschild 1, Tel Aviv")
	require.NotNil(t, first)
	second := c.ResolveAddress(ctx, "Rothschild 1, Tel Aviv")
	require.NotNil(t, second)

	require.Equal(t, int64(1), fp.searches.Load())
	require.Equal(t, first, second)
	require.Equal(t, "1 Rothschild, Tel Aviv", first.Label)
}

func TestResolveAddressNormalizesQuery(t *testing.T) {
	fp := &fakeProvider{places: []Place{telAvivPlace()}}
	c := newTestCache(t, fp)
	ctx := context.Background()

	require.NotNil(t, c.ResolveAddress(ctx, "Rothschild 1,  Tel Aviv"))
	require.NotNil(t, c.ResolveAddress(ctx, "  rothschild 1, TEL AVIV "))

	require.Equal(t, int64(1), fp.searches.Load())
}

func TestResolveAddressEmptyQuery(t *testing.T) {
	fp := &fakeProvider{places: []Place{telAvivPlace()}}
	c := newTestCache(t, fp)

	require.Nil(t, c.ResolveAddress(context.Background(), ""))
	require.Nil(t, c.ResolveAddress(context.Background(), "   \t"))
	require.Zero(t, fp.searches.Load())
}

func TestResolveAddressRejectsOutOfRegion(t *testing.T) {
	// Paris: the provider "succeeds" with a best-effort match outside Israel
	fp := &fakeProvider{places: []Place{{Lat: 48.8566, Lon: 2.3522, DisplayName: "Paris, France"}}}
	c := newTestCache(t, fp)
	ctx := context.Background()

	require.Nil(t, c.ResolveAddress(ctx, "Paris"))
	require.Nil(t, c.ResolveAddress(ctx, "Paris"))

	// out-of-region answers are not cached
	require.Equal(t, int64(2), fp.searches.Load())
	require.Zero(t, c.Len())
}

func TestResolveAddressFailuresNotCached(t *testing.T) {
	fp := &fakeProvider{err: errors.New("connection refused")}
	c := newTestCache(t, fp)
	ctx := context.Background()

	require.Nil(t, c.ResolveAddress(ctx, "Haifa"))

	fp.setErr(nil)
	fp.setPlaces([]Place{{Lat: 32.794, Lon: 34.9896, DisplayName: "Haifa, Haifa District, Israel", Address: Address{City: "Haifa"}}})

	p := c.ResolveAddress(ctx, "Haifa")
	require.NotNil(t, p)
	require.Equal(t, "Haifa", p.Label)
	require.Equal(t, int64(2), fp.searches.Load())
}

func TestResolveAddressNoResults(t *testing.T) {
	fp := &fakeProvider{}
	c := newTestCache(t, fp)

	require.Nil(t, c.ResolveAddress(context.Background(), "nowhere at all"))
	require.Zero(t, c.Len())
}

func TestResolveAddressCoalescesConcurrentMisses(t *testing.T) {
	release := make(chan struct{})
	fp := &fakeProvider{places: []Place{telAvivPlace()}, block: release}
	c := newTestCache(t, fp)
	ctx := context.Background()

	var wg sync.WaitGroup
	results := make([]*Place, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = c.ResolveAddress(ctx, "Tel Aviv")
		}(i)
	}

	// let every goroutine reach the provider or join the in-flight call
	require.Eventually(t, func() bool { return fp.searches.Load() == 1 }, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	for _, r := range results {
		require.NotNil(t, r)
	}
	require.Equal(t, int64(1), fp.searches.Load())
}

func TestResolveAddressSurvivesCancelledLeader(t *testing.T) {
	release := make(chan struct{})
	fp := &fakeProvider{places: []Place{telAvivPlace()}, block: release}
	c := newTestCache(t, fp)

	leaderCtx, cancel := context.WithCancel(context.Background())
	leaderDone := make(chan *Place, 1)
	go func() {
		leaderDone <- c.ResolveAddress(leaderCtx, "Tel Aviv")
	}()
	require.Eventually(t, func() bool { return fp.searches.Load() == 1 }, time.Second, time.Millisecond)

	waiterDone := make(chan *Place, 1)
	go func() {
		waiterDone <- c.ResolveAddress(context.Background(), "Tel Aviv")
	}()
	time.Sleep(20 * time.Millisecond)

	// the leader gives up but the shared lookup keeps going
	cancel()
	require.Nil(t, <-leaderDone)

	close(release)
	got := <-waiterDone
	require.NotNil(t, got)
	require.Equal(t, "1 Rothschild, Tel Aviv", got.Label)
	require.Equal(t, int64(1), fp.searches.Load())

	// the answer was memoized for later callers
	require.NotNil(t, c.ResolveAddress(context.Background(), "Tel Aviv"))
	require.Equal(t, int64(1), fp.searches.Load())
}

func TestSuggest(t *testing.T) {
	places := []Place{
		{Lat: 32.08, Lon: 34.78, DisplayName: "Dizengoff Street, Tel Aviv"},
		{Lat: 40.71, Lon: -74.0, DisplayName: "Dizengoff, New York"},
		{Lat: 32.07, Lon: 34.77, DisplayName: "Dizengoff Center, Tel Aviv"},
		{Lat: 32.09, Lon: 34.78, DisplayName: "Dizengoff Square, Tel Aviv"},
		{Lat: 32.10, Lon: 34.79, DisplayName: "Dizengoff North, Tel Aviv"},
		{Lat: 32.11, Lon: 34.79, DisplayName: "Dizengoff Port, Tel Aviv"},
		{Lat: 32.12, Lon: 34.80, DisplayName: "Dizengoff Extra, Tel Aviv"},
	}
	fp := &fakeProvider{places: places}
	c := newTestCache(t, fp)
	ctx := context.Background()

	got := c.Suggest(ctx, "Dizengoff")
	require.Len(t, got, MaxSuggestions)
	for _, p := range got {
		require.True(t, Israel.Contains(p.Lat, p.Lon))
		require.NotEmpty(t, p.Label)
	}
	require.Equal(t, MaxSuggestions, fp.lastLimit())

	// suggestions are not cached
	c.Suggest(ctx, "Dizengoff")
	require.Equal(t, int64(2), fp.searches.Load())
	require.Zero(t, c.Len())
}

func TestSuggestShortQuery(t *testing.T) {
	fp := &fakeProvider{places: []Place{telAvivPlace()}}
	c := newTestCache(t, fp)
	ctx := context.Background()

	require.Empty(t, c.Suggest(ctx, ""))
	require.Empty(t, c.Suggest(ctx, " a "))
	require.NotNil(t, c.Suggest(ctx, "a"))
	require.Zero(t, fp.searches.Load())

	// two Hebrew letters are two characters, not four bytes
	require.Len(t, c.Suggest(ctx, "תל"), 1)
	require.Equal(t, int64(1), fp.searches.Load())
}

func TestSuggestFailureReturnsEmpty(t *testing.T) {
	fp := &fakeProvider{err: errors.New("timeout")}
	c := newTestCache(t, fp)

	got := c.Suggest(context.Background(), "Jaffa")
	require.NotNil(t, got)
	require.Empty(t, got)
}

func TestReverseResolve(t *testing.T) {
	fp := &fakeProvider{reverse: &ReverseResult{
		Address: Address{HouseNumber: "1", Road: "Rothschild", City: "Tel Aviv"},
	}}
	c := newTestCache(t, fp)
	ctx := context.Background()

	r := c.ReverseResolve(ctx, 32.0853, 34.7818)
	require.NotNil(t, r)
	require.Equal(t, "1 Rothschild, Tel Aviv", r.Label)

	// nearby points rounding to the same key are cache hits
	r2 := c.ReverseResolve(ctx, 32.08531, 34.78179)
	require.Equal(t, r, r2)
	require.Equal(t, int64(1), fp.reverses.Load())

	// a point that rounds differently is a miss
	c.ReverseResolve(ctx, 32.0863, 34.7818)
	require.Equal(t, int64(2), fp.reverses.Load())
}

func TestReverseResolveFailures(t *testing.T) {
	tests := []struct {
		name     string
		provider *fakeProvider
		lat, lon float64
		calls    int64
	}{
		{name: "provider error", provider: &fakeProvider{err: errors.New("503")}, lat: 32.08, lon: 34.78, calls: 1},
		{name: "nothing composable", provider: &fakeProvider{reverse: &ReverseResult{}}, lat: 32.08, lon: 34.78, calls: 1},
		{name: "invalid latitude", provider: &fakeProvider{}, lat: 91, lon: 34.78, calls: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestCache(t, tt.provider)
			require.Nil(t, c.ReverseResolve(context.Background(), tt.lat, tt.lon))
			require.Equal(t, tt.calls, tt.provider.reverses.Load())
			require.Zero(t, c.Len())
		})
	}
}

func TestInRegion(t *testing.T) {
	fp := &fakeProvider{places: []Place{telAvivPlace()}}
	c := newTestCache(t, fp)
	ctx := context.Background()

	require.True(t, c.InRegion(ctx, "32.0853, 34.7818"))
	require.False(t, c.InRegion(ctx, "48.8566, 2.3522"))
	require.Zero(t, fp.searches.Load())

	require.True(t, c.InRegion(ctx, "Tel Aviv"))
	require.Equal(t, int64(1), fp.searches.Load())

	fp.setPlaces(nil)
	require.False(t, c.InRegion(ctx, "Atlantis"))
}

func TestPurgeAndMaxEntries(t *testing.T) {
	fp := &fakeProvider{places: []Place{telAvivPlace()}}
	c, err := NewCache(fp, WithMaxEntries(2), WithLogger(slog.New(slog.DiscardHandler)))
	require.NoError(t, err)
	ctx := context.Background()

	c.ResolveAddress(ctx, "a place")
	c.ResolveAddress(ctx, "b place")
	c.ResolveAddress(ctx, "c place")
	require.Equal(t, 2, c.Len())

	c.Purge()
	require.Zero(t, c.Len())

	_, err = NewCache(fp, WithMaxEntries(0))
	require.Error(t, err)
}

// Helper functions

func newTestCache(t *testing.T, p Provider) *Cache {
	t.Helper()
	c, err := NewCache(p, WithLogger(slog.New(slog.DiscardHandler)))
	require.NoError(t, err)
	return c
}

func telAvivPlace() Place {
	return Place{
		Lat:         32.0636,
		Lon:         34.7731,
		DisplayName: "1, Rothschild Boulevard, Tel Aviv-Yafo, Israel",
		Address:     Address{HouseNumber: "1", Road: "Rothschild", City: "Tel Aviv"},
	}
}

// fakeProvider is an in-memory Provider with call counters.
type fakeProvider struct {
	mu      sync.Mutex
	places  []Place
	reverse *ReverseResult
	err     error
	limit   int
	block   chan struct{}

	searches atomic.Int64
	reverses atomic.Int64
}

func (f *fakeProvider) setErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

func (f *fakeProvider) setPlaces(p []Place) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.places = p
}

func (f *fakeProvider) lastLimit() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.limit
}

func (f *fakeProvider) Search(ctx context.Context, query string, limit int, region Region) ([]Place, error) {
	f.searches.Add(1)
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.limit = limit
	if f.err != nil {
		return nil, f.err
	}
	return append([]Place(nil), f.places...), nil
}

func (f *fakeProvider) Reverse(ctx context.Context, lat, lon float64) (*ReverseResult, error) {
	f.reverses.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	if f.reverse == nil {
		return nil, ErrNotFound
	}
	r := *f.reverse
	r.Lat, r.Lon = lat, lon
	return &r, nil
}
