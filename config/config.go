package config

import (
	"os"
	"strings"
)

type Config struct {
	// Database
	DBUser     string
	DBPassword string
	DBHost     string
	DBPort     string
	DBName     string

	// Server
	Port           string
	TrustedProxies []string

	// Roles
	OwnerAddress string

	// Confidential value layer
	ConfidentialEnabled bool
	PaillierBits        int
}

func Load() *Config {
	cfg := &Config{
		DBUser:              getEnv("DB_USER", "server"),
		DBPassword:          getEnv("DB_PASSWORD", "secret"),
		DBHost:              getEnv("DB_HOST", "localhost"),
		DBPort:              getEnv("DB_PORT", "3306"),
		DBName:              getEnv("DB_NAME", "foodsafety"),
		Port:                getEnv("PORT", "8080"),
		OwnerAddress:        getEnv("OWNER_ADDRESS", ""),
		ConfidentialEnabled: getEnv("CONFIDENTIAL_ENABLED", "false") == "true",
		PaillierBits:        1024,
	}

	// Handle trusted proxies
	trustedProxies := os.Getenv("TRUSTED_PROXIES")
	if trustedProxies != "" {
		cfg.TrustedProxies = strings.Split(trustedProxies, ",")
		for i, proxy := range cfg.TrustedProxies {
			cfg.TrustedProxies[i] = strings.TrimSpace(proxy)
		}
	}

	return cfg
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
