package config

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config aggregates runtime configuration for the bot.
type Config struct {
	App        AppConfig
	Postgres   PostgresConfig
	Redis      RedisConfig
	Logger     LoggerConfig
	Slack      SlackConfig
	AI         AIConfig
	Policy     PolicyConfig
	Schedule   ScheduleConfig
	Auth       AuthConfig
	Transcript TranscriptConfig
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
	MigrationsDir  string
	ConnMaxIdleSec int32
	ConnMaxLifeSec int32
}

// RedisConfig holds Redis connection values.
type RedisConfig struct {
	Addr           string
	Password       string
	DB             int
	EventDedupeTTL time.Duration
}

// LoggerConfig configures logging behavior.
type LoggerConfig struct {
	Level string
}

// SlackConfig holds tokens and the channels the bot works in.
type SlackConfig struct {
	BotToken         string
	UserToken        string
	SigningSecret    string
	AppToken         string
	HelpChannel      string
	TicketChannel    string
	BTSChannel       string
	HeartbeatChannel string
	MaintainerID     string
	WorkspaceURL     string
	RetryAttempts    int
}

// SocketMode reports whether events arrive over Socket Mode instead of HTTP.
func (s SlackConfig) SocketMode() bool {
	return s.AppToken != ""
}

// AIConfig configures the title generator. An empty APIKey disables it.
type AIConfig struct {
	APIKey         string
	BaseURL        string
	Model          string
	TimeoutSeconds int
}

// Timeout returns the bound applied to a single title generation call.
func (a AIConfig) Timeout() time.Duration {
	if a.TimeoutSeconds <= 0 {
		return 10 * time.Second
	}
	return time.Duration(a.TimeoutSeconds) * time.Second
}

// PolicyConfig holds the resolve authorization policy and staleness threshold.
type PolicyConfig struct {
	AllowSelfResolve bool
	AnyHelperResolve bool
	StaleAfterHours  int
}

// StaleAfter returns the inactivity threshold after which tickets are closed.
func (p PolicyConfig) StaleAfter() time.Duration {
	if p.StaleAfterHours <= 0 {
		return 72 * time.Hour
	}
	return time.Duration(p.StaleAfterHours) * time.Hour
}

// ScheduleConfig holds cron specs for the background jobs.
type ScheduleConfig struct {
	StaleSweep    string
	DailyStats    string
	ThreadCleanup string
	Timezone      string
	DailySummary  bool
}

// Location loads the schedule timezone, falling back to UTC.
func (s ScheduleConfig) Location() *time.Location {
	loc, err := time.LoadLocation(s.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// AuthConfig defines reporting API authentication. An empty secret leaves the
// API open.
type AuthConfig struct {
	JWTSecret       string
	TokenTTLMinutes int
}

// TranscriptConfig selects the copy used in user facing messages.
type TranscriptConfig struct {
	Program      string
	OverrideFile string
}

// Load reads configuration from environment variables, applying defaults where possible.
func Load() (*Config, error) {
	_ = godotenv.Load()

	redisDB, err := strconv.Atoi(getEnv("REDIS_DB", "0"))
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_DB: %w", err)
	}

	maxConns := int32(getEnvAsInt("POSTGRES_MAX_CONNS", 10))
	minConns := int32(getEnvAsInt("POSTGRES_MIN_CONNS", 2))
	runMigrations := getEnvAsBool("POSTGRES_RUN_MIGRATIONS", true)
	connMaxIdle := int32(getEnvAsInt("POSTGRES_CONN_MAX_IDLE_SECONDS", 30))
	connMaxLife := int32(getEnvAsInt("POSTGRES_CONN_MAX_LIFE_SECONDS", 300))

	cfg := &Config{
		App: AppConfig{
			Name:                  getEnv("APP_NAME", "helpdesk"),
			Env:                   getEnv("APP_ENV", "development"),
			Host:                  getEnv("APP_HOST", "0.0.0.0"),
			Port:                  getEnv("APP_PORT", "3000"),
			Version:               getEnv("APP_VERSION", "dev"),
			RequestTimeoutSeconds: getEnvAsInt("HTTP_REQUEST_TIMEOUT_SECONDS", 30),
		},
		Postgres: PostgresConfig{
			DSN:            os.Getenv("POSTGRES_DSN"),
			MaxConns:       maxConns,
			MinConns:       minConns,
			RunMigrations:  runMigrations,
			MigrationsDir:  getEnv("POSTGRES_MIGRATIONS_DIR", "migrations"),
			ConnMaxIdleSec: connMaxIdle,
			ConnMaxLifeSec: connMaxLife,
		},
		Redis: RedisConfig{
			Addr:           getEnv("REDIS_ADDR", "127.0.0.1:6379"),
			Password:       os.Getenv("REDIS_PASSWORD"),
			DB:             redisDB,
			EventDedupeTTL: time.Duration(getEnvAsInt("REDIS_EVENT_DEDUPE_MINUTES", 15)) * time.Minute,
		},
		Logger: LoggerConfig{
			Level: getEnv("LOG_LEVEL", "info"),
		},
		Slack: SlackConfig{
			BotToken:         os.Getenv("SLACK_BOT_TOKEN"),
			UserToken:        os.Getenv("SLACK_USER_TOKEN"),
			SigningSecret:    os.Getenv("SLACK_SIGNING_SECRET"),
			AppToken:         os.Getenv("SLACK_APP_TOKEN"),
			HelpChannel:      os.Getenv("SLACK_HELP_CHANNEL"),
			TicketChannel:    os.Getenv("SLACK_TICKET_CHANNEL"),
			BTSChannel:       os.Getenv("SLACK_BTS_CHANNEL"),
			HeartbeatChannel: os.Getenv("SLACK_HEARTBEAT_CHANNEL"),
			MaintainerID:     os.Getenv("SLACK_MAINTAINER_ID"),
			WorkspaceURL:     getEnv("SLACK_WORKSPACE_URL", "https://hackclub.slack.com"),
			RetryAttempts:    getEnvAsInt("SLACK_RETRY_ATTEMPTS", 3),
		},
		AI: AIConfig{
			APIKey:         os.Getenv("AI_API_KEY"),
			BaseURL:        getEnv("AI_BASE_URL", "https://ai.hackclub.com/proxy/v1"),
			Model:          getEnv("AI_MODEL", "openai/gpt-oss-120b"),
			TimeoutSeconds: getEnvAsInt("AI_TIMEOUT_SECONDS", 10),
		},
		Policy: PolicyConfig{
			AllowSelfResolve: getEnvAsBool("RESOLVE_ALLOW_SELF", true),
			AnyHelperResolve: getEnvAsBool("RESOLVE_ANY_HELPER", false),
			StaleAfterHours:  getEnvAsInt("STALE_AFTER_HOURS", 72),
		},
		Schedule: ScheduleConfig{
			StaleSweep:    getEnv("SCHEDULE_STALE_SWEEP", "@hourly"),
			DailyStats:    getEnv("SCHEDULE_DAILY_STATS", "0 0 * * *"),
			ThreadCleanup: getEnv("SCHEDULE_THREAD_CLEANUP", "@every 1m"),
			Timezone:      getEnv("SCHEDULE_TIMEZONE", "Europe/London"),
			DailySummary:  getEnvAsBool("DAILY_SUMMARY", true),
		},
		Auth: AuthConfig{
			JWTSecret:       os.Getenv("API_JWT_SECRET"),
			TokenTTLMinutes: getEnvAsInt("API_TOKEN_TTL_MINUTES", 60*24*30),
		},
		Transcript: TranscriptConfig{
			Program:      getEnv("PROGRAM", "default"),
			OverrideFile: os.Getenv("TRANSCRIPT_FILE"),
		},
	}

	return cfg, nil
}

// Validate checks the values the bot cannot run without.
func (c *Config) Validate() error {
	required := map[string]string{
		"SLACK_BOT_TOKEN":      c.Slack.BotToken,
		"SLACK_HELP_CHANNEL":   c.Slack.HelpChannel,
		"SLACK_TICKET_CHANNEL": c.Slack.TicketChannel,
	}
	var missing []string
	for key, value := range required {
		if strings.TrimSpace(value) == "" {
			missing = append(missing, key)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return fmt.Errorf("missing environment variables: %s", strings.Join(missing, ", "))
	}
	return nil
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
