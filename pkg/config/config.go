// Package config loads node configuration from environment variables
// and fleet-wide operating profiles from YAML files.
package config

import "os"

// Config holds per-node configuration.
type Config struct {
	DeviceID     string
	DataDir      string
	LogLevel     string
	FleetRootKey string
	RedisAddr    string
	DatabaseURL  string
	OTLPEndpoint string
	ProfilesDir  string
	ProfileName  string
}

// Load reads configuration from environment variables, applying local
// defaults where unset.
func Load() *Config {
	dataDir := os.Getenv("MESHPLANE_DATA_DIR")
	if dataDir == "" {
		dataDir = "data"
	}

	logLevel := os.Getenv("MESHPLANE_LOG_LEVEL")
	if logLevel == "" {
		logLevel = "INFO"
	}

	profilesDir := os.Getenv("MESHPLANE_PROFILES_DIR")
	if profilesDir == "" {
		profilesDir = "profiles"
	}

	profileName := os.Getenv("MESHPLANE_PROFILE")
	if profileName == "" {
		profileName = "default"
	}

	return &Config{
		DeviceID:     os.Getenv("MESHPLANE_DEVICE_ID"),
		DataDir:      dataDir,
		LogLevel:     logLevel,
		FleetRootKey: os.Getenv("MESHPLANE_FLEET_ROOT_KEY"),
		RedisAddr:    os.Getenv("MESHPLANE_REDIS_ADDR"),
		DatabaseURL:  os.Getenv("MESHPLANE_DATABASE_URL"),
		OTLPEndpoint: os.Getenv("MESHPLANE_OTLP_ENDPOINT"),
		ProfilesDir:  profilesDir,
		ProfileName:  profileName,
	}
}
