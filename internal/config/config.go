// Package config loads the process configuration once at startup. The resulting Config value is
// immutable and handed to every component that needs it.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	KeyHubSpotToken    = "HUBSPOT_PRIVATE_APP_TOKEN"
	KeyHubSpotBaseURL  = "HUBSPOT_BASE_URL"
	KeyHubSpotTimeout  = "HUBSPOT_TIMEOUT"
	KeyPort            = "PORT"
	KeyAllowedOrigins  = "CORS_ALLOWED_ORIGINS"
	KeyLogLevel        = "LOG_LEVEL"
	KeyGinLogging      = "GIN_LOGGING"
	KeyShutdownTimeout = "SHUTDOWN_TIMEOUT"

	defaultHubSpotBaseURL  = "https://api.hubapi.com"
	defaultHubSpotTimeout  = "15s"
	defaultPort            = 8080
	defaultAllowedOrigins  = "http://localhost:5173,http://localhost:3000"
	defaultLogLevel        = "info"
	defaultGinLogging      = "on"
	defaultShutdownTimeout = "10s"

	// minHubSpotTimeout rejects timeouts that would fail every outbound call.
	minHubSpotTimeout = time.Millisecond
)

// Config captures the runtime settings of the proxy.
type Config struct {
	HubSpotToken    string
	HubSpotBaseURL  string
	HubSpotTimeout  time.Duration
	Port            int
	AllowedOrigins  []string
	LogLevel        string
	GinLogging      bool
	ShutdownTimeout time.Duration
}

// Configured reports whether a HubSpot token is present. Without one the proxy runs, but every
// operation that needs the CRM fails.
func (c Config) Configured() bool {
	return c.HubSpotToken != ""
}

// Load reads the given .env files (default: ".env" in the working directory) into the process
// environment, then builds the configuration from the environment and an optional config.yaml.
// Missing .env files are not an error. Variables that are already set are not overwritten.
func Load(envFiles ...string) (Config, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, file := range envFiles {
		if _, err := os.Stat(file); errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err := godotenv.Load(file); err != nil {
			return Config{}, fmt.Errorf("load %s: %w", file, err)
		}
	}

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./configs")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
	}
	return FromViper(v)
}

// FromViper builds the configuration from a viper instance, with the environment taking
// precedence over config file values.
func FromViper(v *viper.Viper) (Config, error) {
	v.SetDefault(KeyHubSpotBaseURL, defaultHubSpotBaseURL)
	v.SetDefault(KeyHubSpotTimeout, defaultHubSpotTimeout)
	v.SetDefault(KeyPort, defaultPort)
	v.SetDefault(KeyAllowedOrigins, defaultAllowedOrigins)
	v.SetDefault(KeyLogLevel, defaultLogLevel)
	v.SetDefault(KeyGinLogging, defaultGinLogging)
	v.SetDefault(KeyShutdownTimeout, defaultShutdownTimeout)
	v.AutomaticEnv()

	cfg := Config{
		HubSpotToken:   strings.TrimSpace(v.GetString(KeyHubSpotToken)),
		HubSpotBaseURL: strings.TrimRight(strings.TrimSpace(v.GetString(KeyHubSpotBaseURL)), "/"),
		Port:           v.GetInt(KeyPort),
		AllowedOrigins: splitList(v.GetString(KeyAllowedOrigins)),
		LogLevel:       strings.ToLower(strings.TrimSpace(v.GetString(KeyLogLevel))),
		GinLogging:     !strings.EqualFold(strings.TrimSpace(v.GetString(KeyGinLogging)), "off"),
	}

	var err error
	if cfg.HubSpotTimeout, err = duration(v, KeyHubSpotTimeout); err != nil {
		return Config{}, err
	}
	if cfg.ShutdownTimeout, err = duration(v, KeyShutdownTimeout); err != nil {
		return Config{}, err
	}

	if cfg.HubSpotBaseURL == "" {
		return Config{}, fmt.Errorf("%s must not be empty", KeyHubSpotBaseURL)
	}
	if cfg.HubSpotTimeout < minHubSpotTimeout {
		return Config{}, fmt.Errorf("invalid %s: %q is shorter than %s", KeyHubSpotTimeout,
			v.GetString(KeyHubSpotTimeout), minHubSpotTimeout)
	}
	if cfg.Port < 1 || cfg.Port > 65535 {
		return Config{}, fmt.Errorf("invalid %s: %q", KeyPort, v.GetString(KeyPort))
	}
	if cfg.ShutdownTimeout <= 0 {
		return Config{}, fmt.Errorf("invalid %s: %q", KeyShutdownTimeout, v.GetString(KeyShutdownTimeout))
	}
	for _, origin := range cfg.AllowedOrigins {
		if origin != "*" && !strings.HasPrefix(origin, "http://") && !strings.HasPrefix(origin, "https://") {
			return Config{}, fmt.Errorf("invalid %s: origin %q must be * or start with http:// or https://",
				KeyAllowedOrigins, origin)
		}
	}
	return cfg, nil
}

// duration reads a duration such as "15s" or "2m". A bare integer counts as seconds.
func duration(v *viper.Viper, key string) (time.Duration, error) {
	raw := strings.TrimSpace(v.GetString(key))
	if seconds, err := strconv.Atoi(raw); err == nil {
		return time.Duration(seconds) * time.Second, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %q", key, raw)
	}
	return d, nil
}

func splitList(raw string) []string {
	var items []string
	for _, item := range strings.Split(raw, ",") {
		if item = strings.TrimSpace(item); item != "" {
			items = append(items, item)
		}
	}
	return items
}
