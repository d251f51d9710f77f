package main

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// Config holds all graphsyncd configuration.
// Priority: env vars > settings.json > defaults.
type Config struct {
	ListenAddr    string `json:"listen_addr"`
	AdvertiseHost string `json:"advertise_host"`
	AdvertisePort int    `json:"advertise_port"`
	InstanceID    string `json:"instance_id"`
	DBPath        string `json:"db_path"`
	LogLevel      string `json:"log_level"`
	NATSURL       string `json:"nats_url"`
	PoolSize      int    `json:"pool_size"`

	IdleTTLSeconds        int    `json:"idle_ttl_seconds"`
	SweepIntervalSeconds  int    `json:"sweep_interval_seconds"`
	ReplayMaxEntries      int    `json:"replay_max_entries"`
	ReplayMaxAgeSeconds   int    `json:"replay_max_age_seconds"`
	LockTimeoutSeconds    int    `json:"lock_timeout_seconds"`
	VacuumCron            string `json:"vacuum_cron"`
}

func defaultConfig() Config {
	return Config{
		ListenAddr:           ":4200",
		AdvertiseHost:        "localhost",
		AdvertisePort:        4200,
		DBPath:               filepath.Join(graphsyncDir(), "graphsync.db"),
		LogLevel:             "info",
		PoolSize:             32,
		IdleTTLSeconds:       300,
		SweepIntervalSeconds: 30,
		ReplayMaxEntries:     4096,
		ReplayMaxAgeSeconds:  600,
		LockTimeoutSeconds:   5,
		VacuumCron:           "0 4 * * *",
	}
}

func graphsyncDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".graphsync"
	}
	return filepath.Join(home, ".graphsync")
}

func settingsPath() string {
	return filepath.Join(graphsyncDir(), "settings.json")
}

func loadConfig() Config {
	cfg := defaultConfig()

	// Layer 2: settings.json (ignore if missing).
	if data, err := os.ReadFile(settingsPath()); err == nil {
		_ = json.Unmarshal(data, &cfg)
	}

	// Layer 3: env vars override.
	if v := os.Getenv("GRAPHSYNC_LISTEN_ADDR"); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv("GRAPHSYNC_ADVERTISE_HOST"); v != "" {
		cfg.AdvertiseHost = v
	}
	if v := os.Getenv("GRAPHSYNC_ADVERTISE_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.AdvertisePort = n
		}
	}
	if v := os.Getenv("GRAPHSYNC_INSTANCE_ID"); v != "" {
		cfg.InstanceID = v
	}
	if v := os.Getenv("GRAPHSYNC_DB_PATH"); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv("GRAPHSYNC_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("GRAPHSYNC_NATS_URL"); v != "" {
		cfg.NATSURL = v
	}
	if v := os.Getenv("GRAPHSYNC_POOL_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.PoolSize = n
		}
	}
	if v := os.Getenv("GRAPHSYNC_IDLE_TTL_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.IdleTTLSeconds = n
		}
	}
	if v := os.Getenv("GRAPHSYNC_VACUUM_CRON"); v != "" {
		cfg.VacuumCron = v
	}

	return cfg
}

func (c Config) idleTTL() time.Duration       { return time.Duration(c.IdleTTLSeconds) * time.Second }
func (c Config) sweepInterval() time.Duration { return time.Duration(c.SweepIntervalSeconds) * time.Second }
func (c Config) replayMaxAge() time.Duration  { return time.Duration(c.ReplayMaxAgeSeconds) * time.Second }
func (c Config) lockTimeout() time.Duration   { return time.Duration(c.LockTimeoutSeconds) * time.Second }
