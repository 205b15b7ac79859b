package config

import (
	"fmt"
	"net/url"
)

// Validate checks the configuration for invalid values.
func Validate(cfg *Config) error {
	if cfg.Extractor.FetcherType != "http" && cfg.Extractor.FetcherType != "browser" {
		return fmt.Errorf("extractor.fetcher_type must be 'http' or 'browser', got %q", cfg.Extractor.FetcherType)
	}
	if cfg.Extractor.RenderTimeout <= 0 {
		return fmt.Errorf("extractor.render_timeout must be > 0")
	}
	if cfg.Extractor.SettleDelay < 0 {
		return fmt.Errorf("extractor.settle_delay must be >= 0")
	}
	if cfg.Extractor.SettleDelay >= cfg.Extractor.RenderTimeout {
		return fmt.Errorf("extractor.settle_delay (%s) must be shorter than extractor.render_timeout (%s)",
			cfg.Extractor.SettleDelay, cfg.Extractor.RenderTimeout)
	}

	if cfg.Fetcher.MaxBodySize <= 0 {
		return fmt.Errorf("fetcher.max_body_size must be > 0")
	}
	if cfg.Fetcher.MaxRedirects < 0 {
		return fmt.Errorf("fetcher.max_redirects must be >= 0")
	}
	if cfg.Fetcher.BrowserPages < 1 {
		return fmt.Errorf("fetcher.browser_pages must be >= 1, got %d", cfg.Fetcher.BrowserPages)
	}

	if cfg.Proxy.Enabled {
		if cfg.Proxy.Rotation != "round_robin" && cfg.Proxy.Rotation != "random" {
			return fmt.Errorf("proxy.rotation must be 'round_robin' or 'random', got %q", cfg.Proxy.Rotation)
		}
		for _, proxyURL := range cfg.Proxy.URLs {
			if _, err := url.Parse(proxyURL); err != nil {
				return fmt.Errorf("invalid proxy URL %q: %w", proxyURL, err)
			}
		}
	}

	if err := ValidateURL(cfg.Sync.ServerURL); err != nil {
		return fmt.Errorf("sync.server_url: %w", err)
	}
	if cfg.Sync.StatePath == "" {
		return fmt.Errorf("sync.state_path must not be empty")
	}
	if cfg.Sync.Strategy != "replace" && cfg.Sync.Strategy != "merge" {
		return fmt.Errorf("sync.strategy must be 'replace' or 'merge', got %q", cfg.Sync.Strategy)
	}
	if cfg.Sync.RequestsPerSecond <= 0 {
		return fmt.Errorf("sync.requests_per_second must be > 0")
	}
	if cfg.Sync.Burst < 1 {
		return fmt.Errorf("sync.burst must be >= 1, got %d", cfg.Sync.Burst)
	}

	if cfg.Scheduler.Interval <= 0 || cfg.Scheduler.BaseDelay <= 0 || cfg.Scheduler.Debounce <= 0 {
		return fmt.Errorf("scheduler.interval, scheduler.base_delay and scheduler.debounce must be > 0")
	}
	if cfg.Scheduler.MaxDelay < cfg.Scheduler.BaseDelay {
		return fmt.Errorf("scheduler.max_delay (%s) must be >= scheduler.base_delay (%s)",
			cfg.Scheduler.MaxDelay, cfg.Scheduler.BaseDelay)
	}

	if cfg.Server.Port < 1 || cfg.Server.Port > 65535 {
		return fmt.Errorf("server.port must be 1-65535, got %d", cfg.Server.Port)
	}

	switch cfg.Storage.Type {
	case "memory":
	case "mongodb":
		if cfg.Storage.MongoURI == "" || cfg.Storage.MongoDatabase == "" || cfg.Storage.MongoCollection == "" {
			return fmt.Errorf("storage.type mongodb needs mongo_uri, mongo_database and mongo_collection")
		}
	case "postgres":
		if cfg.Storage.PostgresDSN == "" {
			return fmt.Errorf("storage.type postgres needs postgres_dsn")
		}
	default:
		return fmt.Errorf("storage.type %q is not supported (valid: memory, mongodb, postgres)", cfg.Storage.Type)
	}

	validLogLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLogLevels[cfg.Logging.Level] {
		return fmt.Errorf("logging.level must be debug/info/warn/error, got %q", cfg.Logging.Level)
	}
	if cfg.Logging.Format != "text" && cfg.Logging.Format != "json" {
		return fmt.Errorf("logging.format must be 'text' or 'json', got %q", cfg.Logging.Format)
	}

	if cfg.Metrics.Enabled {
		if cfg.Metrics.Port < 1 || cfg.Metrics.Port > 65535 {
			return fmt.Errorf("metrics.port must be 1-65535, got %d", cfg.Metrics.Port)
		}
	}

	return nil
}

// ValidateServe checks the settings only the API server needs.
func ValidateServe(cfg *Config) error {
	if len(cfg.Server.JWTSecret) < 16 {
		return fmt.Errorf("server.jwt_secret must be at least 16 characters (set %s_SERVER_JWT_SECRET)", EnvPrefix)
	}
	return nil
}

// ValidateURL checks if a URL string is a usable http(s) URL.
func ValidateURL(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("URL scheme must be http or https, got %q", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("URL must have a host")
	}
	return nil
}
