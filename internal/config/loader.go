package config

import (
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Переменные окружения имеют приоритет над файлом.
const (
	EnvStorageDSN = "JOBCRAWLER_STORAGE_DSN"
	EnvUserAgent  = "JOBCRAWLER_USER_AGENT"
	EnvRedisAddr  = "JOBCRAWLER_REDIS_ADDR"
)

func LoadConfig(filePath string) (*Config, error) {
	// .env необязателен
	_ = godotenv.Load()

	file, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer func() {
		if closeErr := file.Close(); closeErr != nil {
			// Логируем ошибку, но не возвращаем, иначе перезапишем основную ошибку
			log.Printf("Warning: failed to close config file: %v", closeErr)
		}
	}()

	cfg := Default()
	decoder := yaml.NewDecoder(file)
	if err := decoder.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if cfg.SitesFile != "" {
		sitesPath := cfg.SitesFile
		// Если путь относительный, делаем его относительно конфига
		if !filepath.IsAbs(sitesPath) {
			sitesPath = filepath.Join(filepath.Dir(filePath), sitesPath)
		}
		sites, err := LoadSites(sitesPath)
		if err != nil {
			return nil, err
		}
		cfg.Sites = append(cfg.Sites, sites...)
	}

	applyEnvOverrides(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation error: %w", err)
	}

	cfg.validateSites()

	return &cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv(EnvStorageDSN); v != "" {
		cfg.Storage.DSN = v
	}
	if v := os.Getenv(EnvUserAgent); v != "" {
		cfg.Scraping.UserAgent = v
	}
	if v := os.Getenv(EnvRedisAddr); v != "" {
		cfg.Storage.RedisAddr = v
	}
}
