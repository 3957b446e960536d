package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/SoYuCry/dex-funding-hub/internal/model"
)

var s3BucketRegexp = regexp.MustCompile(`^[a-z0-9][a-z0-9.-]*[a-z0-9]$`)

// Config is the root of config.yml.
type Config struct {
	FundingHub FundingHubConfig `yaml:"fundinghub"`
	Logging    LoggingConfig    `yaml:"logging"`
	Refresh    RefreshConfig    `yaml:"refresh"`
	Exchanges  ExchangesConfig  `yaml:"exchanges"`
	Breaker    BreakerConfig    `yaml:"circuit_breaker"`
	Dashboard  DashboardConfig  `yaml:"dashboard"`
	Metrics    MetricsConfig    `yaml:"metrics"`
	Storage    StorageConfig    `yaml:"storage"`
}

type FundingHubConfig struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
	MaxAge int    `yaml:"max_age"`
}

// RefreshConfig drives the fetch cycle scheduler.
type RefreshConfig struct {
	Interval time.Duration `yaml:"interval"`
	Timeout  time.Duration `yaml:"timeout"`
}

type ConnectionPoolConfig struct {
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	MaxConnsPerHost int           `yaml:"max_conns_per_host"`
	IdleConnTimeout time.Duration `yaml:"idle_conn_timeout"`
}

type HTTPConfig struct {
	Timeout        time.Duration        `yaml:"timeout"`
	UserAgent      string               `yaml:"user_agent"`
	ConnectionPool ConnectionPoolConfig `yaml:"connection_pool"`
}

// ExchangesConfig holds per-venue settings plus the default join selection.
type ExchangesConfig struct {
	Selected    []string       `yaml:"selected"`
	HTTP        HTTPConfig     `yaml:"http"`
	Aster       FapiConfig     `yaml:"aster"`
	Binance     FapiConfig     `yaml:"binance"`
	EdgeX       EdgeXConfig    `yaml:"edgex"`
	Lighter     VenueConfig    `yaml:"lighter"`
	Hyperliquid VenueConfig    `yaml:"hyperliquid"`
	Backpack    BackpackConfig `yaml:"backpack"`
}

type VenueConfig struct {
	Enabled bool   `yaml:"enabled"`
	BaseURL string `yaml:"base_url"`
}

// FapiConfig covers the Binance-compatible futures venues (Aster, Binance).
type FapiConfig struct {
	Enabled     bool          `yaml:"enabled"`
	BaseURL     string        `yaml:"base_url"`
	Concurrency int           `yaml:"concurrency"`
	CacheFile   string        `yaml:"cache_file"`
	CacheTTL    time.Duration `yaml:"cache_ttl"`
	RateLimit   float64       `yaml:"rate_limit"`
	Burst       int           `yaml:"burst"`
}

type EdgeXConfig struct {
	Enabled       bool          `yaml:"enabled"`
	BaseURL       string        `yaml:"base_url"`
	WSURL         string        `yaml:"ws_url"`
	UseWebsocket  bool          `yaml:"use_websocket"`
	WSEmptyFrames int           `yaml:"ws_empty_frames"`
	WSReadTimeout time.Duration `yaml:"ws_read_timeout"`
	Concurrency   int           `yaml:"concurrency"`
	RequestDelay  time.Duration `yaml:"request_delay"`
	BulkRetries   int           `yaml:"bulk_retries"`
	BulkBackoff   time.Duration `yaml:"bulk_backoff"`
	SingleRetries int           `yaml:"single_retries"`
	SingleBackoff time.Duration `yaml:"single_backoff"`
	Cookies       string        `yaml:"cookies"`
}

type BackpackConfig struct {
	Enabled     bool   `yaml:"enabled"`
	BaseURL     string `yaml:"base_url"`
	Concurrency int    `yaml:"concurrency"`
}

type BreakerConfig struct {
	Enabled          bool          `yaml:"enabled"`
	FailureThreshold uint32        `yaml:"failure_threshold"`
	Cooldown         time.Duration `yaml:"cooldown"`
}

type DashboardConfig struct {
	Enabled          bool          `yaml:"enabled"`
	Address          string        `yaml:"address"`
	LogHistory       int           `yaml:"log_history"`
	MetricsHistory   int           `yaml:"metrics_history"`
	ResourceInterval time.Duration `yaml:"resource_interval"`
	DiskPath         string        `yaml:"disk_path"`
}

type MetricsConfig struct {
	Prometheus PrometheusConfig `yaml:"prometheus"`
	CloudWatch CloudWatchConfig `yaml:"cloudwatch"`
}

type PrometheusConfig struct {
	Enabled bool   `yaml:"enabled"`
	Address string `yaml:"address"`
}

type CloudWatchConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Region    string `yaml:"region"`
	Namespace string `yaml:"namespace"`
}

type StorageConfig struct {
	S3 S3Config `yaml:"s3"`
}

type S3Config struct {
	Enabled         bool   `yaml:"enabled"`
	Bucket          string `yaml:"bucket"`
	Region          string `yaml:"region"`
	Prefix          string `yaml:"prefix"`
	Endpoint        string `yaml:"endpoint"`
	PathStyle       bool   `yaml:"path_style"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	Compression     string `yaml:"compression"`
}

const defaultUserAgent = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

// Default returns the configuration used when a key is absent from the file.
func Default() Config {
	return Config{
		FundingHub: FundingHubConfig{Name: "dex-funding-hub", Version: "dev"},
		Logging:    LoggingConfig{Level: "info", Format: "json", Output: "stdout"},
		Refresh:    RefreshConfig{Interval: 60 * time.Second, Timeout: 5 * time.Minute},
		Exchanges: ExchangesConfig{
			HTTP: HTTPConfig{
				Timeout:   10 * time.Second,
				UserAgent: defaultUserAgent,
				ConnectionPool: ConnectionPoolConfig{
					MaxIdleConns:    100,
					MaxConnsPerHost: 20,
					IdleConnTimeout: 90 * time.Second,
				},
			},
			Aster: FapiConfig{
				Enabled:     true,
				BaseURL:     "https://fapi.asterdex.com",
				Concurrency: 5,
				CacheFile:   "data/aster_intervals.json",
				RateLimit:   20,
				Burst:       5,
			},
			Binance: FapiConfig{
				Enabled:     true,
				BaseURL:     "https://fapi.binance.com",
				Concurrency: 5,
				CacheFile:   "data/binance_intervals.json",
				CacheTTL:    6 * time.Hour,
				RateLimit:   1.5,
				Burst:       10,
			},
			EdgeX: EdgeXConfig{
				Enabled:       true,
				BaseURL:       "https://pro.edgex.exchange",
				WSURL:         "wss://quote.edgex.exchange/api/v1/public/ws",
				UseWebsocket:  true,
				WSEmptyFrames: 5,
				WSReadTimeout: 10 * time.Second,
				Concurrency:   2,
				RequestDelay:  50 * time.Millisecond,
				BulkRetries:   2,
				BulkBackoff:   500 * time.Millisecond,
				SingleRetries: 5,
				SingleBackoff: time.Second,
			},
			Lighter:     VenueConfig{Enabled: true, BaseURL: "https://mainnet.zklighter.elliot.ai"},
			Hyperliquid: VenueConfig{Enabled: true, BaseURL: "https://api.hyperliquid.xyz"},
			Backpack: BackpackConfig{
				Enabled:     true,
				BaseURL:     "https://api.backpack.exchange",
				Concurrency: 5,
			},
		},
		Breaker:   BreakerConfig{Enabled: true, FailureThreshold: 3, Cooldown: 5 * time.Minute},
		Dashboard: DashboardConfig{
			Enabled:          true,
			Address:          ":8080",
			LogHistory:       200,
			MetricsHistory:   200,
			ResourceInterval: 5 * time.Second,
			DiskPath:         "data",
		},
		Metrics: MetricsConfig{
			Prometheus: PrometheusConfig{Enabled: true, Address: ":2112"},
			CloudWatch: CloudWatchConfig{Namespace: "FundingHub"},
		},
		Storage: StorageConfig{S3: S3Config{Prefix: "funding", Compression: "snappy"}},
	}
}

// LoadConfig reads path, layers it over Default, applies environment
// overrides and validates the result. An empty path resolves to the
// APP_ENV specific file when one is registered.
func LoadConfig(path string) (*Config, error) {
	path = resolveEnvSpecificPath(path, DefaultPath, envConfigPaths)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := Default()
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	applyEnv(&config)

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &config, nil
}

func applyEnv(config *Config) {
	if v := strings.TrimSpace(os.Getenv("EDGEX_COOKIES")); v != "" {
		config.Exchanges.EdgeX.Cookies = v
	}
	if v := strings.TrimSpace(os.Getenv("FUNDINGHUB_EXCHANGES")); v != "" {
		config.Exchanges.Selected = splitList(v)
	}

	if config.Storage.S3.Enabled {
		if v := os.Getenv("AWS_ACCESS_KEY_ID"); v != "" {
			config.Storage.S3.AccessKeyID = strings.TrimSpace(v)
		}
		if v := os.Getenv("AWS_SECRET_ACCESS_KEY"); v != "" {
			config.Storage.S3.SecretAccessKey = strings.TrimSpace(v)
		}
		if v := os.Getenv("AWS_REGION"); v != "" {
			config.Storage.S3.Region = strings.TrimSpace(v)
		}
		if v := os.Getenv("S3_BUCKET"); v != "" {
			config.Storage.S3.Bucket = strings.TrimSpace(v)
		}
	}
	config.Storage.S3.Bucket = strings.TrimSpace(config.Storage.S3.Bucket)

	if config.Metrics.CloudWatch.Enabled && config.Metrics.CloudWatch.Region == "" {
		config.Metrics.CloudWatch.Region = strings.TrimSpace(os.Getenv("AWS_REGION"))
	}
}

func splitList(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func validateConfig(cfg *Config) error {
	if cfg.FundingHub.Name == "" {
		return fmt.Errorf("fundinghub.name is required")
	}
	if cfg.FundingHub.Version == "" {
		return fmt.Errorf("fundinghub.version is required")
	}

	if cfg.Refresh.Interval <= 0 {
		return fmt.Errorf("refresh.interval must be greater than 0")
	}
	if cfg.Refresh.Timeout <= 0 {
		return fmt.Errorf("refresh.timeout must be greater than 0")
	}
	if cfg.Exchanges.HTTP.Timeout <= 0 {
		return fmt.Errorf("exchanges.http.timeout must be greater than 0")
	}

	if _, err := model.ParseExchanges(cfg.Exchanges.Selected); err != nil {
		return fmt.Errorf("exchanges.selected: %w", err)
	}

	for name, fc := range map[string]FapiConfig{"aster": cfg.Exchanges.Aster, "binance": cfg.Exchanges.Binance} {
		if !fc.Enabled {
			continue
		}
		if fc.BaseURL == "" {
			return fmt.Errorf("exchanges.%s.base_url is required", name)
		}
		if fc.Concurrency <= 0 {
			return fmt.Errorf("exchanges.%s.concurrency must be greater than 0", name)
		}
		if fc.RateLimit < 0 {
			return fmt.Errorf("exchanges.%s.rate_limit must not be negative", name)
		}
	}

	if cfg.Exchanges.EdgeX.Enabled {
		e := cfg.Exchanges.EdgeX
		if e.BaseURL == "" {
			return fmt.Errorf("exchanges.edgex.base_url is required")
		}
		if e.UseWebsocket && e.WSURL == "" {
			return fmt.Errorf("exchanges.edgex.ws_url is required when use_websocket is set")
		}
		if e.Concurrency <= 0 {
			return fmt.Errorf("exchanges.edgex.concurrency must be greater than 0")
		}
		if e.BulkRetries <= 0 || e.SingleRetries <= 0 {
			return fmt.Errorf("exchanges.edgex retries must be greater than 0")
		}
	}

	if cfg.Exchanges.Backpack.Enabled && cfg.Exchanges.Backpack.Concurrency <= 0 {
		return fmt.Errorf("exchanges.backpack.concurrency must be greater than 0")
	}

	if cfg.Breaker.Enabled && cfg.Breaker.FailureThreshold == 0 {
		return fmt.Errorf("circuit_breaker.failure_threshold must be greater than 0")
	}

	if cfg.Storage.S3.Enabled {
		if cfg.Storage.S3.Bucket == "" {
			return fmt.Errorf("storage.s3.bucket is required when S3 is enabled")
		}
		if cfg.Storage.S3.Region == "" {
			return fmt.Errorf("storage.s3.region is required when S3 is enabled")
		}
		if !isValidS3Bucket(cfg.Storage.S3.Bucket) {
			return fmt.Errorf("storage.s3.bucket '%s' is invalid", cfg.Storage.S3.Bucket)
		}
	}

	return nil
}

func isValidS3Bucket(name string) bool {
	if len(name) < 3 || len(name) > 63 {
		return false
	}
	if strings.Contains(name, "..") || strings.HasPrefix(name, ".") || strings.HasSuffix(name, ".") {
		return false
	}
	return s3BucketRegexp.MatchString(name)
}
