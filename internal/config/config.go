package config

import (
	"fmt"
	"time"

	"jobsite-crawler/internal/scraper"
)

type Config struct {
	Scraping      ScrapingConfig        `yaml:"scraping"`
	Backoff       BackoffConfig         `yaml:"backoff"`
	Rod           RodConfig             `yaml:"rod"`
	Storage       StorageConfig         `yaml:"storage"`
	Scheduler     SchedulerConfig       `yaml:"scheduler"`
	Observability ObservabilityConfig   `yaml:"observability"`
	SitesFile     string                `yaml:"sites_file"`
	Sites         []scraper.SiteProfile `yaml:"sites"`

	// SiteErrors: ошибки валидации профилей по индексу в Sites. Заполняется
	// загрузчиком; такие сайты не скрейпятся, но остальные работают.
	SiteErrors map[int]error `yaml:"-"`
}

type ScrapingConfig struct {
	RequestDelayS         float64 `yaml:"request_delay_s"`
	MaxPagesPerSite       int     `yaml:"max_pages_per_site"`
	UserAgent             string  `yaml:"user_agent"`
	TimeoutMS             int     `yaml:"timeout_ms"`
	MaxRetries            int     `yaml:"max_retries"`
	ConcurrentSites       int     `yaml:"concurrent_sites"`
	FetchDescriptions     bool    `yaml:"fetch_descriptions"`
	AllowDynamicRendering bool    `yaml:"allow_dynamic_rendering"`
}

type BackoffConfig struct {
	MinMS     int `yaml:"min_ms"`
	MaxMS     int `yaml:"max_ms"`
	JitterPct int `yaml:"jitter_pct"`
}

type RodConfig struct {
	Enabled          bool   `yaml:"enabled"`
	ChromePath       string `yaml:"chrome_path"`
	PageTimeoutS     int    `yaml:"page_timeout_s"`
	WaitLoadTimeoutS int    `yaml:"wait_load_timeout_s"`
	LazyLoadDelayS   int    `yaml:"lazy_load_delay_s"`
}

type StorageConfig struct {
	Driver           string `yaml:"driver"`
	DSN              string `yaml:"dsn"`
	CommandTimeoutMS int    `yaml:"command_timeout_ms"`
	Lock             string `yaml:"lock"`
	RedisAddr        string `yaml:"redis_addr"`
}

type SchedulerConfig struct {
	Mode      string `yaml:"mode"`
	IntervalS int    `yaml:"interval_s"`
	CronExpr  string `yaml:"cron_expr"`
}

type ObservabilityConfig struct {
	LogPath     string `yaml:"log_path"`
	LogLevel    string `yaml:"log_level"`
	MetricsAddr string `yaml:"metrics_addr"`
}

// Default возвращает конфиг со значениями по умолчанию; YAML накладывается поверх.
func Default() Config {
	return Config{
		Scraping: ScrapingConfig{
			RequestDelayS:   2,
			MaxPagesPerSite: 5,
			UserAgent:       "Mozilla/5.0 (compatible; jobsite-crawler/1.0)",
			TimeoutMS:       30000,
			ConcurrentSites: 1,
		},
		Backoff: BackoffConfig{
			MinMS:     500,
			MaxMS:     8000,
			JitterPct: 20,
		},
		Rod: RodConfig{
			PageTimeoutS:     30,
			WaitLoadTimeoutS: 15,
		},
		Storage: StorageConfig{
			Driver:           "memory",
			CommandTimeoutMS: 5000,
			Lock:             "local",
		},
		Scheduler: SchedulerConfig{
			Mode: "oneshot",
		},
		Observability: ObservabilityConfig{
			LogLevel: "info",
		},
	}
}

// Validation
func (c *Config) Validate() error {
	if c.Scraping.RequestDelayS < 0 {
		return fmt.Errorf("scraping.request_delay_s must be >= 0")
	}
	if c.Scraping.MaxPagesPerSite <= 0 {
		return fmt.Errorf("scraping.max_pages_per_site must be > 0")
	}
	if c.Scraping.UserAgent == "" {
		return fmt.Errorf("scraping.user_agent is required")
	}
	if c.Scraping.TimeoutMS <= 0 {
		return fmt.Errorf("scraping.timeout_ms must be > 0")
	}
	if c.Scraping.MaxRetries < 0 {
		return fmt.Errorf("scraping.max_retries must be >= 0")
	}
	if c.Scraping.ConcurrentSites <= 0 {
		return fmt.Errorf("scraping.concurrent_sites must be > 0")
	}
	if c.Backoff.MinMS <= 0 {
		return fmt.Errorf("backoff.min_ms must be > 0")
	}
	if c.Backoff.MaxMS <= 0 {
		return fmt.Errorf("backoff.max_ms must be > 0")
	}
	if c.Backoff.MinMS > c.Backoff.MaxMS {
		return fmt.Errorf("backoff.min_ms must be <= backoff.max_ms")
	}
	if c.Backoff.JitterPct < 0 || c.Backoff.JitterPct > 100 {
		return fmt.Errorf("backoff.jitter_pct must be between 0 and 100")
	}
	switch c.Storage.Driver {
	case "memory":
	case "sqlite", "mssql", "postgres":
		if c.Storage.DSN == "" {
			return fmt.Errorf("storage.dsn is required for driver %q", c.Storage.Driver)
		}
	default:
		return fmt.Errorf("storage.driver must be 'memory', 'sqlite', 'mssql' or 'postgres'")
	}
	if c.Storage.CommandTimeoutMS <= 0 {
		return fmt.Errorf("storage.command_timeout_ms must be > 0")
	}
	switch c.Storage.Lock {
	case "", "local":
	case "redis":
		if c.Storage.RedisAddr == "" {
			return fmt.Errorf("storage.redis_addr is required when storage.lock is 'redis'")
		}
	default:
		return fmt.Errorf("storage.lock must be 'local' or 'redis'")
	}
	if c.Scheduler.Mode != "interval" && c.Scheduler.Mode != "cron" && c.Scheduler.Mode != "oneshot" {
		return fmt.Errorf("scheduler.mode must be 'interval', 'cron' or 'oneshot'")
	}
	if c.Scheduler.Mode == "interval" && c.Scheduler.IntervalS <= 0 {
		return fmt.Errorf("scheduler.interval_s must be > 0 when mode is 'interval'")
	}
	if c.Scheduler.Mode == "cron" && c.Scheduler.CronExpr == "" {
		return fmt.Errorf("scheduler.cron_expr must be set when mode is 'cron'")
	}
	if c.Rod.Enabled {
		if c.Rod.PageTimeoutS <= 0 {
			return fmt.Errorf("rod.page_timeout_s must be > 0")
		}
		if c.Rod.WaitLoadTimeoutS <= 0 {
			return fmt.Errorf("rod.wait_load_timeout_s must be > 0")
		}
		if c.Rod.LazyLoadDelayS < 0 {
			return fmt.Errorf("rod.lazy_load_delay_s must be >= 0")
		}
	}
	if c.Scraping.AllowDynamicRendering && !c.Rod.Enabled {
		return fmt.Errorf("scraping.allow_dynamic_rendering requires rod.enabled")
	}
	return nil
}

// Getters
func (c *Config) GetRequestDelay() time.Duration {
	return time.Duration(c.Scraping.RequestDelayS * float64(time.Second))
}

func (c *Config) GetTimeout() time.Duration {
	return time.Duration(c.Scraping.TimeoutMS) * time.Millisecond
}

func (c *Config) GetBackoffMin() time.Duration {
	return time.Duration(c.Backoff.MinMS) * time.Millisecond
}

func (c *Config) GetBackoffMax() time.Duration {
	return time.Duration(c.Backoff.MaxMS) * time.Millisecond
}

func (c *Config) GetCommandTimeout() time.Duration {
	return time.Duration(c.Storage.CommandTimeoutMS) * time.Millisecond
}

func (c *Config) GetSchedulerInterval() time.Duration {
	return time.Duration(c.Scheduler.IntervalS) * time.Second
}

func (c *Config) GetRodPageTimeout() time.Duration {
	return time.Duration(c.Rod.PageTimeoutS) * time.Second
}

func (c *Config) GetRodWaitLoadTimeout() time.Duration {
	return time.Duration(c.Rod.WaitLoadTimeoutS) * time.Second
}

func (c *Config) GetRodLazyLoadDelay() time.Duration {
	return time.Duration(c.Rod.LazyLoadDelayS) * time.Second
}

// EnabledSites возвращает включённые профили в порядке конфигурации.
func (c *Config) EnabledSites() []scraper.SiteProfile {
	var out []scraper.SiteProfile
	for _, s := range c.Sites {
		if s.Enabled {
			out = append(out, s)
		}
	}
	return out
}
