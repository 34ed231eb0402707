// Command doto-cache serves the bounded key-value cache and the geocode cache over
// HTTP, and offers maintenance commands against the same store.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	_ "github.com/joho/godotenv/autoload"
	"github.com/lmittmann/tint"
	"golang.org/x/time/rate"

	"github.com/wolfeidau/doto-cache/geocode"
	"github.com/wolfeidau/doto-cache/server"
	"github.com/wolfeidau/doto-cache/storage"
	"github.com/wolfeidau/doto-cache/telemetry"
)

var version = "dev"

// Globals are flags shared by every command.
type Globals struct {
	LogLevel  string `help:"Log level." enum:"debug,info,warn,error" default:"info" env:"DOTO_LOG_LEVEL"`
	LogFormat string `help:"Log format." enum:"text,json" default:"text" env:"DOTO_LOG_FORMAT"`
}

// CLI is the command line interface.
type CLI struct {
	Globals

	Version kong.VersionFlag `help:"Print version and exit."`

	Serve   ServeCmd   `cmd:"" help:"Run the HTTP server."`
	Size    SizeCmd    `cmd:"" help:"Print the namespace size in bytes."`
	Evict   EvictCmd   `cmd:"" help:"Remove every key in the namespace."`
	Geocode GeocodeCmd `cmd:"" help:"Resolve an address, or a point with --reverse."`
}

func main() {
	var cli CLI
	kctx := kong.Parse(&cli,
		kong.Name("doto-cache"),
		kong.Description("Bounded key-value cache and geocoding memo for the DOTO app."),
		kong.UsageOnError(),
		vars(),
	)

	logger, err := newLogger(cli.Globals)
	kctx.FatalIfErrorf(err)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	kctx.BindTo(ctx, (*context.Context)(nil))
	kctx.FatalIfErrorf(kctx.Run(logger))
}

func vars() kong.Vars {
	return kong.Vars{
		"version":        version,
		"nominatim_url":  geocode.DefaultNominatimURL,
		"user_agent":     geocode.DefaultUserAgent,
		"namespace":      storage.DefaultNamespace,
		"max_item_size":  strconv.Itoa(storage.DefaultMaxItemSize),
		"max_total_size": strconv.FormatInt(storage.DefaultMaxTotalSize, 10),
	}
}

func newLogger(g Globals) (*slog.Logger, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(g.LogLevel)); err != nil {
		return nil, fmt.Errorf("invalid log level: %s", g.LogLevel)
	}

	var handler slog.Handler
	switch g.LogFormat {
	case "text":
		handler = tint.NewHandler(os.Stderr, &tint.Options{
			Level:      level,
			TimeFormat: time.Kitchen,
		})
	case "json":
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	default:
		return nil, fmt.Errorf("invalid log format: %s", g.LogFormat)
	}
	return slog.New(handler), nil
}

// ServeCmd runs the HTTP server.
type ServeCmd struct {
	StoreFlags

	Address       string        `help:"Address to listen on." default:":8080" env:"DOTO_ADDRESS"`
	AuthToken     string        `help:"Bearer token required by every route except /health and /metrics." env:"DOTO_AUTH_TOKEN"`
	SweepInterval time.Duration `help:"How often the total size budget is enforced (0 disables the sweeper)." default:"5m" env:"DOTO_SWEEP_INTERVAL"`

	Geocoding      bool    `help:"Serve /geocode routes." default:"true" negatable:"" env:"DOTO_GEOCODING"`
	NominatimURL   string  `help:"Nominatim base URL." default:"${nominatim_url}" env:"DOTO_NOMINATIM_URL"`
	UserAgent      string  `help:"User-Agent sent to Nominatim." default:"${user_agent}" env:"DOTO_USER_AGENT"`
	GeocodeRate    float64 `help:"Nominatim requests per second." default:"1" env:"DOTO_GEOCODE_RATE"`
	GeocodeEntries int     `help:"Entries kept by each geocode memo." default:"1024" env:"DOTO_GEOCODE_ENTRIES"`

	Prometheus   bool   `help:"Expose Prometheus metrics on /metrics." default:"true" negatable:"" env:"DOTO_PROMETHEUS"`
	OTLPEndpoint string `help:"OTLP gRPC endpoint for metrics export (e.g. localhost:4317)." env:"OTEL_EXPORTER_OTLP_ENDPOINT"`
}

// Run starts the server and blocks until a signal arrives.
func (c *ServeCmd) Run(ctx context.Context, logger *slog.Logger) error {
	shutdownMetrics, err := telemetry.InitMetrics(ctx, telemetry.MetricsConfig{
		ServiceName:      "doto-cache",
		ServiceVersion:   version,
		OTLPEndpoint:     c.OTLPEndpoint,
		EnablePrometheus: c.Prometheus,
	})
	if err != nil {
		return fmt.Errorf("initializing metrics: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownMetrics(shutdownCtx); err != nil {
			logger.Warn("shutting down metrics", "error", err)
		}
	}()

	store, closeStore, err := c.open(ctx, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	cfg := server.Config{
		Address:   c.Address,
		AuthToken: c.AuthToken,
		Store:     store,
		Logger:    logger,
	}
	if c.SweepInterval > 0 {
		cfg.Sweeper = storage.NewSweeper(store,
			storage.WithInterval(c.SweepInterval),
			storage.WithSweeperLogger(logger),
		)
	}
	if c.Geocoding {
		geo, err := c.geocoder(logger)
		if err != nil {
			return err
		}
		cfg.Geocoder = geo
	}

	srv, err := server.New(cfg)
	if err != nil {
		return fmt.Errorf("creating server: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	logger.Info("server started",
		"address", srv.Address(),
		"backend", c.Backend,
		"namespace", store.Namespace(),
		"geocoding", c.Geocoding,
	)

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func (c *ServeCmd) geocoder(logger *slog.Logger) (*geocode.Cache, error) {
	limit := rate.Limit(c.GeocodeRate)
	if c.GeocodeRate <= 0 {
		limit = rate.Inf
	}

	client := geocode.NewHTTPClient(geocode.WithClientLogger(logger.With("component", "geocode-http")))
	provider := geocode.NewNominatim(
		geocode.WithBaseURL(c.NominatimURL),
		geocode.WithUserAgent(c.UserAgent),
		geocode.WithHTTPClient(client),
		geocode.WithRateLimit(limit, 1),
	)
	return geocode.NewCache(provider,
		geocode.WithLogger(logger),
		geocode.WithMaxEntries(c.GeocodeEntries),
	)
}

// SizeCmd prints the namespace size.
type SizeCmd struct {
	StoreFlags

	JSON bool `help:"Print full namespace stats as JSON."`
}

func (c *SizeCmd) Run(ctx context.Context, logger *slog.Logger) error {
	store, closeStore, err := c.open(ctx, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	if !c.JSON {
		fmt.Println(store.NamespaceSize(ctx))
		return nil
	}

	stats, err := store.Stats(ctx)
	if err != nil {
		return fmt.Errorf("reading stats: %w", err)
	}
	return printJSON(stats)
}

// EvictCmd removes every key in the namespace.
type EvictCmd struct {
	StoreFlags
}

func (c *EvictCmd) Run(ctx context.Context, logger *slog.Logger) error {
	store, closeStore, err := c.open(ctx, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	n := store.EvictNamespace(ctx)
	logger.Info("evicted namespace", "namespace", store.Namespace(), "keys", n)
	return nil
}

// GeocodeCmd performs a one-shot lookup against Nominatim.
type GeocodeCmd struct {
	Query   string `arg:"" help:"Address to resolve, or \"lat, lon\" with --reverse."`
	Reverse bool   `help:"Treat the query as a point and resolve its address."`
	Suggest bool   `help:"List up to five suggestions instead of the best match."`

	NominatimURL string `help:"Nominatim base URL." default:"${nominatim_url}" env:"DOTO_NOMINATIM_URL"`
	UserAgent    string `help:"User-Agent sent to Nominatim." default:"${user_agent}" env:"DOTO_USER_AGENT"`
}

func (c *GeocodeCmd) Run(ctx context.Context, logger *slog.Logger) error {
	provider := geocode.NewNominatim(
		geocode.WithBaseURL(c.NominatimURL),
		geocode.WithUserAgent(c.UserAgent),
		geocode.WithHTTPClient(geocode.NewHTTPClient(geocode.WithClientLogger(logger))),
	)
	geo, err := geocode.NewCache(provider, geocode.WithLogger(logger))
	if err != nil {
		return err
	}

	switch {
	case c.Reverse:
		lat, lon, ok := geocode.ParseCoordinates(c.Query)
		if !ok {
			return fmt.Errorf("%q is not a \"lat, lon\" point", c.Query)
		}
		res := geo.ReverseResolve(ctx, lat, lon)
		if res == nil {
			return fmt.Errorf("no address found for %s", geocode.FormatCoordinates(lat, lon))
		}
		return printJSON(res)
	case c.Suggest:
		return printJSON(geo.Suggest(ctx, c.Query))
	default:
		p := geo.ResolveAddress(ctx, c.Query)
		if p == nil {
			return fmt.Errorf("no match for %q in %s", c.Query, geo.Region().Name)
		}
		return printJSON(p)
	}
}
