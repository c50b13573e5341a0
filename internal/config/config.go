package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	Server   ServerConfig
	Redis    RedisConfig
	Postgres PostgresConfig
	Session  SessionConfig
	Token    TokenConfig
	Launcher LauncherConfig
	Artifact ArtifactConfig
	Worker   WorkerConfig
	Metrics  MetricsConfig
}

type ServerConfig struct {
	Addr         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type PostgresConfig struct {
	Addr     string
	User     string
	Password string
	Database string
}

type SessionConfig struct {
	DefaultTimeout time.Duration
	MaxTimeout     time.Duration
	ReadyTimeout   time.Duration
	PollInterval   time.Duration
	ProbeInterval  time.Duration
	MaxRetries     int
	CallbackTTL    time.Duration
	DefaultRegion  string
	SweepInterval  time.Duration
	IdleTimeout    time.Duration
	Retention      time.Duration
}

type TokenConfig struct {
	Secret string
	Issuer string
}

type LauncherConfig struct {
	Image        string
	NetworkName  string
	MemoryMB     int64
	CPU          float64
	DevtoolsPort int
	StopTimeout  int
}

type ArtifactConfig struct {
	Root    string
	BaseURL string
	URLTTL  time.Duration
}

type WorkerConfig struct {
	Concurrency int
}

type MetricsConfig struct {
	Addr string
}

// Load reads configuration from environment variables with sensible defaults.
func Load() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:         getEnv("SERVER_ADDR", ":8080"),
			ReadTimeout:  getDurationEnv("SERVER_READ_TIMEOUT", 30*time.Second),
			WriteTimeout: getDurationEnv("SERVER_WRITE_TIMEOUT", 180*time.Second),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getIntEnv("REDIS_DB", 0),
		},
		Postgres: PostgresConfig{
			Addr:     getEnv("POSTGRES_ADDR", "localhost:5432"),
			User:     getEnv("POSTGRES_USER", "postgres"),
			Password: getEnv("POSTGRES_PASSWORD", "postgres"),
			Database: getEnv("POSTGRES_DB", "browsergrid"),
		},
		Session: SessionConfig{
			DefaultTimeout: getDurationEnv("SESSION_DEFAULT_TIMEOUT", 86400*time.Second),
			MaxTimeout:     getDurationEnv("SESSION_MAX_TIMEOUT", 72*time.Hour),
			ReadyTimeout:   getDurationEnv("SESSION_READY_TIMEOUT", 150*time.Second),
			PollInterval:   getDurationEnv("SESSION_POLL_INTERVAL", 2*time.Second),
			ProbeInterval:  getDurationEnv("SESSION_PROBE_INTERVAL", 500*time.Millisecond),
			MaxRetries:     getIntEnv("SESSION_MAX_RETRIES", 3),
			CallbackTTL:    getDurationEnv("SESSION_CALLBACK_TTL", 10*time.Minute),
			DefaultRegion:  getEnv("SESSION_DEFAULT_REGION", "us-west-2"),
			SweepInterval:  getDurationEnv("SESSION_SWEEP_INTERVAL", time.Minute),
			IdleTimeout:    getDurationEnv("SESSION_IDLE_TIMEOUT", 5*time.Minute),
			Retention:      getDurationEnv("SESSION_RETENTION", 24*time.Hour),
		},
		Token: TokenConfig{
			Secret: getEnv("TOKEN_SECRET", "browsergrid-dev-secret"),
			Issuer: getEnv("TOKEN_ISSUER", "browsergrid"),
		},
		Launcher: LauncherConfig{
			Image:        getEnv("LAUNCHER_IMAGE", "browsergrid/chromium:latest"),
			NetworkName:  getEnv("LAUNCHER_NETWORK_NAME", "browsergrid-net"),
			MemoryMB:     int64(getIntEnv("LAUNCHER_CONTAINER_MEM_MB", 2048)),
			CPU:          getFloatEnv("LAUNCHER_CONTAINER_CPU", 1.0),
			DevtoolsPort: getIntEnv("LAUNCHER_DEVTOOLS_PORT", 9222),
			StopTimeout:  getIntEnv("LAUNCHER_STOP_TIMEOUT", 10),
		},
		Artifact: ArtifactConfig{
			Root:    getEnv("ARTIFACT_ROOT", "/var/browsergrid/artifacts"),
			BaseURL: getEnv("ARTIFACT_BASE_URL", "http://localhost:8080"),
			URLTTL:  getDurationEnv("ARTIFACT_URL_TTL", 15*time.Minute),
		},
		Worker: WorkerConfig{
			Concurrency: getIntEnv("WORKER_CONCURRENCY", 5),
		},
		Metrics: MetricsConfig{
			Addr: getEnv("METRICS_ADDR", ":9090"),
		},
	}
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getIntEnv(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getFloatEnv(key string, defaultVal float64) float64 {
	if val := os.Getenv(key); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

func getDurationEnv(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return defaultVal
}
