package config

import (
	"os"
	"path/filepath"
	"time"
)

// Version is set at build time via ldflags.
var Version = "dev"

// Config is the root configuration for CartKeeper.
type Config struct {
	Extractor ExtractorConfig `mapstructure:"extractor" yaml:"extractor"`
	Fetcher   FetcherConfig   `mapstructure:"fetcher"   yaml:"fetcher"`
	Proxy     ProxyConfig     `mapstructure:"proxy"     yaml:"proxy"`
	Sync      SyncConfig      `mapstructure:"sync"      yaml:"sync"`
	Scheduler SchedulerConfig `mapstructure:"scheduler" yaml:"scheduler"`
	Server    ServerConfig    `mapstructure:"server"    yaml:"server"`
	Storage   StorageConfig   `mapstructure:"storage"   yaml:"storage"`
	Logging   LoggingConfig   `mapstructure:"logging"   yaml:"logging"`
	Metrics   MetricsConfig   `mapstructure:"metrics"   yaml:"metrics"`
}

// ExtractorConfig controls product capture.
type ExtractorConfig struct {
	FetcherType   string        `mapstructure:"fetcher_type"   yaml:"fetcher_type"`
	RenderTimeout time.Duration `mapstructure:"render_timeout" yaml:"render_timeout"`
	SettleDelay   time.Duration `mapstructure:"settle_delay"   yaml:"settle_delay"`
	SiteTable     string        `mapstructure:"site_table"     yaml:"site_table"` // empty uses the built-in table
}

// FetcherConfig controls page fetching.
type FetcherConfig struct {
	FollowRedirects bool          `mapstructure:"follow_redirects"  yaml:"follow_redirects"`
	MaxRedirects    int           `mapstructure:"max_redirects"     yaml:"max_redirects"`
	MaxBodySize     int64         `mapstructure:"max_body_size"     yaml:"max_body_size"`
	TLSInsecure     bool          `mapstructure:"tls_insecure"      yaml:"tls_insecure"`
	IdleConnTimeout time.Duration `mapstructure:"idle_conn_timeout" yaml:"idle_conn_timeout"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"    yaml:"max_idle_conns"`
	UserAgents      []string      `mapstructure:"user_agents"       yaml:"user_agents"`
	Stealth         bool          `mapstructure:"stealth"           yaml:"stealth"`
	BrowserPages    int           `mapstructure:"browser_pages"     yaml:"browser_pages"`
}

// ProxyConfig controls proxy rotation.
type ProxyConfig struct {
	Enabled      bool     `mapstructure:"enabled"        yaml:"enabled"`
	Rotation     string   `mapstructure:"rotation"       yaml:"rotation"`
	URLs         []string `mapstructure:"urls"           yaml:"urls"`
	HealthCheck  bool     `mapstructure:"health_check"   yaml:"health_check"`
	RotateOnFail bool     `mapstructure:"rotate_on_fail" yaml:"rotate_on_fail"`
}

// SyncConfig controls the device side of sync.
type SyncConfig struct {
	ServerURL         string        `mapstructure:"server_url"          yaml:"server_url"`
	Token             string        `mapstructure:"token"               yaml:"token"`
	StatePath         string        `mapstructure:"state_path"          yaml:"state_path"`
	Strategy          string        `mapstructure:"strategy"            yaml:"strategy"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second" yaml:"requests_per_second"`
	Burst             int           `mapstructure:"burst"               yaml:"burst"`
	Timeout           time.Duration `mapstructure:"timeout"             yaml:"timeout"`
}

// SchedulerConfig controls when the agent syncs.
type SchedulerConfig struct {
	Interval  time.Duration `mapstructure:"interval"   yaml:"interval"`
	BaseDelay time.Duration `mapstructure:"base_delay" yaml:"base_delay"`
	MaxDelay  time.Duration `mapstructure:"max_delay"  yaml:"max_delay"`
	Debounce  time.Duration `mapstructure:"debounce"   yaml:"debounce"`
}

// ServerConfig controls the backend API.
type ServerConfig struct {
	Port           int      `mapstructure:"port"            yaml:"port"`
	JWTSecret      string   `mapstructure:"jwt_secret"      yaml:"jwt_secret"`
	AllowedOrigins []string `mapstructure:"allowed_origins" yaml:"allowed_origins"`
}

// StorageConfig selects the backend product store.
type StorageConfig struct {
	Type            string `mapstructure:"type"             yaml:"type"`
	MongoURI        string `mapstructure:"mongo_uri"        yaml:"mongo_uri"`
	MongoDatabase   string `mapstructure:"mongo_database"   yaml:"mongo_database"`
	MongoCollection string `mapstructure:"mongo_collection" yaml:"mongo_collection"`
	PostgresDSN     string `mapstructure:"postgres_dsn"     yaml:"postgres_dsn"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	Level  string `mapstructure:"level"  yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
	Output string `mapstructure:"output" yaml:"output"`
}

// MetricsConfig controls Prometheus metrics.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Port    int    `mapstructure:"port"    yaml:"port"`
	Path    string `mapstructure:"path"    yaml:"path"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Extractor: ExtractorConfig{
			FetcherType:   "http",
			RenderTimeout: 30 * time.Second,
			SettleDelay:   1500 * time.Millisecond,
		},
		Fetcher: FetcherConfig{
			FollowRedirects: true,
			MaxRedirects:    10,
			MaxBodySize:     10 * 1024 * 1024, // 10MB
			IdleConnTimeout: 90 * time.Second,
			MaxIdleConns:    20,
			UserAgents: []string{
				"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
				"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
				"Mozilla/5.0 (iPhone; CPU iPhone OS 17_4 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.4 Mobile/15E148 Safari/604.1",
			},
			Stealth:      true,
			BrowserPages: 2,
		},
		Proxy: ProxyConfig{
			Enabled:      false,
			Rotation:     "round_robin",
			HealthCheck:  true,
			RotateOnFail: true,
		},
		Sync: SyncConfig{
			ServerURL:         "http://localhost:8080",
			StatePath:         defaultStatePath(),
			Strategy:          "replace",
			RequestsPerSecond: 5,
			Burst:             5,
			Timeout:           30 * time.Second,
		},
		Scheduler: SchedulerConfig{
			Interval:  5 * time.Minute,
			BaseDelay: 30 * time.Second,
			MaxDelay:  300 * time.Second,
			Debounce:  3 * time.Second,
		},
		Server: ServerConfig{
			Port:           8080,
			AllowedOrigins: []string{"*"},
		},
		Storage: StorageConfig{
			Type:            "memory",
			MongoURI:        "mongodb://localhost:27017",
			MongoDatabase:   "cartkeeper",
			MongoCollection: "products",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: "stderr",
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Port:    9090,
			Path:    "/metrics",
		},
	}
}

func defaultStatePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".cartkeeper", "cache.json")
	}
	return filepath.Join(home, ".cartkeeper", "cache.json")
}
