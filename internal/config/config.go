package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"time"

	sharedcfg "github.com/couchcryptid/storm-data-shared/config"
	"github.com/joho/godotenv"

	"github.com/couchcryptid/quake-loss-estimator/internal/domain"
)

// Coefficient bounds accepted from the analyst.
const (
	MinRhoB  = 1.0
	MaxRhoB  = 5.0
	MinRhoEB = 1.0
	MaxRhoEB = 3.0

	// MaxMarkerSampleSize is the hard cap on building markers drawn on a map.
	MaxMarkerSampleSize = 1000
)

// Config holds all service settings, populated from environment variables.
type Config struct {
	HTTPAddr        string
	LogLevel        string
	LogFormat       string
	ShutdownTimeout time.Duration

	// Run handling.
	WorkDir          string
	MaxUploadBytes   int64
	RunCacheSize     int
	MarkerSampleSize int

	DefaultCoefficients domain.Coefficients
	Schema              domain.Schema

	// Rendering.
	TiandituKey   string
	ChartFontPath string

	// Mapbox geocoding configuration.
	MapboxToken     string
	MapboxEnabled   bool
	MapboxTimeout   time.Duration
	MapboxCacheSize int

	// Result publishing; disabled when KafkaBrokers is empty.
	KafkaBrokers []string
	KafkaTopic   string
}

// PublishEnabled reports whether run results go to Kafka.
func (c *Config) PublishEnabled() bool {
	return len(c.KafkaBrokers) > 0
}

// LoadDotEnv loads variables from a .env file without overriding ones already
// set in the environment. A missing file is not an error.
func LoadDotEnv(path string) error {
	err := godotenv.Load(path)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

// Load reads configuration from environment variables, applying defaults where unset.
func Load() (*Config, error) {
	shutdownTimeout, err := sharedcfg.ParseShutdownTimeout()
	if err != nil {
		return nil, err
	}

	mapboxTimeout, err := time.ParseDuration(sharedcfg.EnvOrDefault("MAPBOX_TIMEOUT", "5s"))
	if err != nil || mapboxTimeout <= 0 {
		return nil, errors.New("invalid MAPBOX_TIMEOUT")
	}

	maxUpload, err := parsePositiveInt("MAX_UPLOAD_BYTES", 256<<20)
	if err != nil {
		return nil, err
	}
	runCacheSize, err := parsePositiveInt("RUN_CACHE_SIZE", 16)
	if err != nil {
		return nil, err
	}
	markerSample, err := parsePositiveInt("MARKER_SAMPLE_SIZE", MaxMarkerSampleSize)
	if err != nil {
		return nil, err
	}
	rhoB, err := parseFloat("DEFAULT_RHO_B", 2.68)
	if err != nil {
		return nil, err
	}
	rhoEB, err := parseFloat("DEFAULT_RHO_EB", 1.58)
	if err != nil {
		return nil, err
	}

	mapboxToken := os.Getenv("MAPBOX_TOKEN")
	mapboxEnabled := mapboxToken != ""
	if v := os.Getenv("MAPBOX_ENABLED"); v != "" {
		mapboxEnabled = v == "true"
	}

	var brokers []string
	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		brokers = sharedcfg.ParseBrokers(v)
	}

	cfg := &Config{
		HTTPAddr:        sharedcfg.EnvOrDefault("HTTP_ADDR", ":8080"),
		LogLevel:        sharedcfg.EnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:       sharedcfg.EnvOrDefault("LOG_FORMAT", "json"),
		ShutdownTimeout: shutdownTimeout,

		WorkDir:          sharedcfg.EnvOrDefault("WORK_DIR", filepath.Join(os.TempDir(), "quakeloss")),
		MaxUploadBytes:   int64(maxUpload),
		RunCacheSize:     runCacheSize,
		MarkerSampleSize: min(markerSample, MaxMarkerSampleSize),

		DefaultCoefficients: domain.Coefficients{RhoB: rhoB, RhoEB: rhoEB},
		Schema:              loadSchema(),

		TiandituKey:   os.Getenv("TIANDITU_KEY"),
		ChartFontPath: os.Getenv("CHART_FONT_PATH"),

		MapboxToken:     mapboxToken,
		MapboxEnabled:   mapboxEnabled,
		MapboxTimeout:   mapboxTimeout,
		MapboxCacheSize: parseMapboxCacheSize(),

		KafkaBrokers: brokers,
		KafkaTopic:   sharedcfg.EnvOrDefault("KAFKA_TOPIC", "quake-loss-results"),
	}

	if rhoB < MinRhoB || rhoB > MaxRhoB {
		return nil, fmt.Errorf("DEFAULT_RHO_B must be within [%g, %g]", MinRhoB, MaxRhoB)
	}
	if rhoEB < MinRhoEB || rhoEB > MaxRhoEB {
		return nil, fmt.Errorf("DEFAULT_RHO_EB must be within [%g, %g]", MinRhoEB, MaxRhoEB)
	}
	if cfg.MapboxEnabled && cfg.MapboxToken == "" {
		return nil, errors.New("MAPBOX_ENABLED is true but MAPBOX_TOKEN is not set")
	}
	if cfg.PublishEnabled() && cfg.KafkaTopic == "" {
		return nil, errors.New("KAFKA_TOPIC is required when KAFKA_BROKERS is set")
	}

	return cfg, nil
}

// loadSchema applies COLUMN_* overrides to the default column names.
func loadSchema() domain.Schema {
	s := domain.DefaultSchema()
	for key, field := range map[string]*string{
		"COLUMN_BUILDING_TYPE": &s.BuildingType,
		"COLUMN_DAMAGE_TYPE":   &s.DamageType,
		"COLUMN_UNIT_CODE":     &s.UnitCode,
		"COLUMN_UNIT_CODE_ALT": &s.UnitCodeAlt,
		"COLUMN_AREA":          &s.Area,
		"COLUMN_UNIT_PRICE":    &s.UnitPrice,
		"COLUMN_LOSS_RATIO":    &s.LossRatio,
		"COLUMN_LOSS":          &s.LossColumn,
		"DAMAGE_COLLAPSED":     &s.Collapsed,
		"DAMAGE_PARTIAL":       &s.PartiallyCollapsed,
	} {
		*field = sharedcfg.EnvOrDefault(key, *field)
	}
	return s
}

func parsePositiveInt(key string, def int) (int, error) {
	s := os.Getenv(key)
	if s == "" {
		return def, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid %s: must be a positive integer", key)
	}
	return n, nil
}

func parseFloat(key string, def float64) (float64, error) {
	s := os.Getenv(key)
	if s == "" {
		return def, nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return v, nil
}

func parseMapboxCacheSize() int {
	if s := os.Getenv("MAPBOX_CACHE_SIZE"); s != "" {
		if n, err := strconv.Atoi(s); err == nil && n > 0 {
			return n
		}
	}
	return 1000
}
