package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config aggregates runtime configuration for the service.
type Config struct {
	App      AppConfig
	Postgres PostgresConfig
	Redis    RedisConfig
	AMQP     AMQPConfig
	Logger   LoggerConfig
	Workload WorkloadConfig
	SLA      SLAConfig
	Sweep    SweepConfig
	Agents   AgentsConfig
	Threads  ThreadsConfig
}

// AppConfig controls server level behavior.
type AppConfig struct {
	Name                  string
	Env                   string
	Host                  string
	Port                  string
	Version               string
	RequestTimeoutSeconds int
}

// PostgresConfig holds DB connection values.
type PostgresConfig struct {
	DSN            string
	MaxConns       int32
	MinConns       int32
	RunMigrations  bool
	ConnMaxIdleSec int32
	ConnMaxLifeSec int32
}

// RedisConfig holds Redis connection values.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// AMQPConfig holds the optional broker connection. Empty URL disables
// broker publishing; events then stay on the in-process dispatcher only.
type AMQPConfig struct {
	URL      string
	Exchange string
}

// LoggerConfig configures logging behavior. Format is "json" or
// "console"; unknown values fall back to json.
type LoggerConfig struct {
	Level  string
	Format string
}

// AgentsConfig optionally restricts operations to a fixed roster of
// agent IDs. An empty roster disables the check.
type AgentsConfig struct {
	Roster []string
}

// ThreadsConfig points at the external thread service. An empty URL
// makes priority lookups default to medium and turns notifications
// into no-ops.
type ThreadsConfig struct {
	ServiceURL string
}

// WorkloadConfig sets capacity policy for the workload tracker.
// HardCap of 0 disables the hard rejection policy; soft overload past
// MaxCapacity is always allowed and merely reported.
type WorkloadConfig struct {
	MaxCapacity int
	HardCap     int
}

// SLAConfig sets deadline policy knobs. PolicyFile optionally points to a
// YAML file overriding the built-in priority table.
type SLAConfig struct {
	PolicyFile         string
	AtRiskFraction     float64
	MaxEscalationLevel int
}

// SweepConfig controls the periodic overdue sweep.
type SweepConfig struct {
	Enabled  bool
	CronSpec string
}

// Load reads configuration from environment variables, applying defaults where possible.
func Load() (*Config, error) {
	_ = godotenv.Load()

	redisDB, err := strconv.Atoi(getEnv("REDIS_DB", "0"))
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_DB: %w", err)
	}

	atRisk, err := strconv.ParseFloat(getEnv("SLA_AT_RISK_FRACTION", "0.20"), 64)
	if err != nil || atRisk < 0 || atRisk >= 1 {
		return nil, fmt.Errorf("invalid SLA_AT_RISK_FRACTION: %q", getEnv("SLA_AT_RISK_FRACTION", "0.20"))
	}

	maxCapacity := getEnvAsInt("WORKLOAD_MAX_CAPACITY", 20)
	if maxCapacity <= 0 {
		return nil, fmt.Errorf("WORKLOAD_MAX_CAPACITY must be positive, got %d", maxCapacity)
	}

	cfg := &Config{
		App: AppConfig{
			Name:                  getEnv("APP_NAME", "assignment-engine"),
			Env:                   getEnv("APP_ENV", "development"),
			Host:                  getEnv("APP_HOST", "0.0.0.0"),
			Port:                  getEnv("APP_PORT", "8080"),
			Version:               getEnv("APP_VERSION", "dev"),
			RequestTimeoutSeconds: getEnvAsInt("HTTP_REQUEST_TIMEOUT_SECONDS", 30),
		},
		Postgres: PostgresConfig{
			DSN:            os.Getenv("POSTGRES_DSN"),
			MaxConns:       int32(getEnvAsInt("POSTGRES_MAX_CONNS", 10)),
			MinConns:       int32(getEnvAsInt("POSTGRES_MIN_CONNS", 2)),
			RunMigrations:  getEnvAsBool("POSTGRES_RUN_MIGRATIONS", true),
			ConnMaxIdleSec: int32(getEnvAsInt("POSTGRES_CONN_MAX_IDLE_SECONDS", 30)),
			ConnMaxLifeSec: int32(getEnvAsInt("POSTGRES_CONN_MAX_LIFE_SECONDS", 300)),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "127.0.0.1:6379"),
			Password: os.Getenv("REDIS_PASSWORD"),
			DB:       redisDB,
		},
		AMQP: AMQPConfig{
			URL:      os.Getenv("AMQP_URL"),
			Exchange: getEnv("AMQP_EXCHANGE", "assignment.events"),
		},
		Logger: LoggerConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
		Workload: WorkloadConfig{
			MaxCapacity: maxCapacity,
			HardCap:     getEnvAsInt("WORKLOAD_HARD_CAP", 0),
		},
		SLA: SLAConfig{
			PolicyFile:         os.Getenv("SLA_POLICY_FILE"),
			AtRiskFraction:     atRisk,
			MaxEscalationLevel: getEnvAsInt("SLA_MAX_ESCALATION_LEVEL", 3),
		},
		Sweep: SweepConfig{
			Enabled:  getEnvAsBool("SLA_SWEEP_ENABLED", true),
			CronSpec: getEnv("SLA_SWEEP_CRON", "*/5 * * * *"),
		},
		Agents: AgentsConfig{
			Roster: getEnvAsList("AGENT_ROSTER"),
		},
		Threads: ThreadsConfig{
			ServiceURL: os.Getenv("THREAD_SERVICE_URL"),
		},
	}

	return cfg, nil
}

// Addr returns the HTTP bind address.
func (a AppConfig) Addr() string {
	return fmt.Sprintf("%s:%s", a.Host, a.Port)
}

// RequestTimeout returns the configured request timeout duration.
func (a AppConfig) RequestTimeout() time.Duration {
	if a.RequestTimeoutSeconds <= 0 {
		return 0
	}
	return time.Duration(a.RequestTimeoutSeconds) * time.Second
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(val)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvAsList(key string) []string {
	var out []string
	for _, item := range strings.Split(os.Getenv(key), ",") {
		if trimmed := strings.TrimSpace(item); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func getEnvAsBool(key string, fallback bool) bool {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(val)
	if err != nil {
		return fallback
	}
	return parsed
}
