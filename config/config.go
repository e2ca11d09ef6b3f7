package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

type Config struct {
	Server     ServerConfig
	Database   DatabaseConfig
	Redis      RedisConfig
	Generation GenerationConfig
	Render     RenderConfig
	Auth       AuthConfig
	App        AppConfig
}

type ServerConfig struct {
	Port string
}

type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Name     string
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type GenerationConfig struct {
	BaseURL      string
	ServiceToken string
}

type RenderConfig struct {
	// Servers are tried in order; the first is the preferred one.
	Servers []string
	// VersionAPIBase is where the version store client points. Defaults
	// to this service's own API, but a split deployment can override it.
	VersionAPIBase string
}

type AuthConfig struct {
	CredentialsPath string
	// DevMode replaces Firebase verification with the X-User-Id header.
	DevMode bool
}

type AppConfig struct {
	Environment string
	LogLevel    string
	Version     string
}

func Load() (*Config, error) {
	// Load .env file if it exists (ignore error in production)
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	cfg := &Config{
		Server: ServerConfig{
			Port: getEnv("PORT", "8080"),
		},
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnvAsInt("DB_PORT", 5432),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", ""),
			Name:     getEnv("DB_NAME", "umlcraft"),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
		},
		Generation: GenerationConfig{
			BaseURL:      getEnv("GENERATION_BASE_URL", "http://localhost:8088"),
			ServiceToken: getEnv("GENERATION_SERVICE_TOKEN", ""),
		},
		Render: RenderConfig{
			Servers:        getEnvAsList("RENDER_SERVERS", "https://www.plantuml.com/plantuml"),
			VersionAPIBase: getEnv("VERSION_API_BASE", ""),
		},
		Auth: AuthConfig{
			CredentialsPath: getEnv("FIREBASE_CREDENTIALS_PATH", ""),
			DevMode:         getEnv("AUTH_DEV_MODE", "false") == "true",
		},
		App: AppConfig{
			Environment: getEnv("APP_ENV", "development"),
			LogLevel:    getEnv("LOG_LEVEL", "info"),
			Version:     getEnv("APP_VERSION", "1.0.0"),
		},
	}

	if cfg.Render.VersionAPIBase == "" {
		cfg.Render.VersionAPIBase = "http://localhost:" + cfg.Server.Port + "/api/v1"
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("PORT is required")
	}

	if c.Database.Host == "" {
		return fmt.Errorf("DB_HOST is required")
	}

	if c.Generation.BaseURL == "" {
		return fmt.Errorf("GENERATION_BASE_URL is required")
	}

	if len(c.Render.Servers) == 0 {
		return fmt.Errorf("RENDER_SERVERS is required")
	}

	if !c.Auth.DevMode && c.Auth.CredentialsPath == "" {
		return fmt.Errorf("FIREBASE_CREDENTIALS_PATH is required outside dev mode")
	}

	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.Atoi(valueStr)
	if err != nil {
		log.Printf("Warning: Invalid integer for %s, using default: %d", key, defaultValue)
		return defaultValue
	}

	return value
}

func getEnvAsList(key, defaultValue string) []string {
	raw := getEnv(key, defaultValue)
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
