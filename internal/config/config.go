package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Addr       string // API bind address, e.g., "127.0.0.1:8080" or ":8080" (Docker)
	LogDir     string // logs directory
	LogConsole bool   // also write logs to stdout

	DatabaseDriver string // memory | postgres | sqlite
	DatabaseURL    string // postgres DSN or sqlite file path

	SweepInterval time.Duration   // 0 disables the sweep loop
	Workers       int             // queue workers
	ProbeTimeout  time.Duration   // per-request HTTP timeout
	RetryAttempts int             // attempts per job, first run included; 0 keeps the job default
	RetryBackoff  []time.Duration // delay before each retry; nil keeps the job default

	SMTPHost       string
	SMTPPort       int
	SMTPUser       string
	SMTPPassword   string
	SMTPSkipVerify bool
	MailFrom       string
	MailFromName   string

	AdminAPIKeys   []string
	PublicAPIKeys  []string
	AllowedOrigins []string
	PublicRPM      int
	PublicBurst    int
	AdminRPM       int
	AdminBurst     int
}

// Load reads an optional .env file, then the environment. Variables already
// set in the environment win over the file.
func Load(files ...string) Config {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if _, err := os.Stat(f); err == nil {
			_ = godotenv.Load(f)
		}
	}
	return FromEnv()
}

func FromEnv() Config {
	cfg := Config{
		Addr:       str("API_ADDR", "127.0.0.1:8080"),
		LogDir:     str("LOG_DIR", "logs"),
		LogConsole: boolean("LOG_CONSOLE", false),

		DatabaseURL: os.Getenv("DATABASE_URL"),

		SweepInterval: duration("SWEEP_INTERVAL", time.Minute),
		Workers:       positive("WORKERS", 8),
		ProbeTimeout:  time.Duration(positive("PROBE_TIMEOUT_MS", 10000)) * time.Millisecond,
		RetryAttempts: positive("RETRY_ATTEMPTS", 0),
		RetryBackoff:  durations("RETRY_BACKOFF", nil),

		SMTPHost:       os.Getenv("SMTP_HOST"),
		SMTPPort:       positive("SMTP_PORT", 587),
		SMTPUser:       os.Getenv("SMTP_USER"),
		SMTPPassword:   os.Getenv("SMTP_PASSWORD"),
		SMTPSkipVerify: boolean("SMTP_SKIP_VERIFY", false),
		MailFrom:       str("MAIL_FROM", "do-not-reply@example.com"),
		MailFromName:   str("MAIL_FROM_NAME", "Uptime Monitor"),

		AdminAPIKeys:   list("ADMIN_API_KEYS"),
		PublicAPIKeys:  list("PUBLIC_API_KEYS"),
		AllowedOrigins: list("ALLOWED_ORIGINS"),
		PublicRPM:      positive("PUBLIC_RPM", 60),
		PublicBurst:    positive("PUBLIC_BURST", 20),
		AdminRPM:       positive("ADMIN_RPM", 30),
		AdminBurst:     positive("ADMIN_BURST", 10),
	}
	cfg.DatabaseDriver = driver(os.Getenv("DATABASE_DRIVER"), cfg.DatabaseURL)
	return cfg
}

// driver infers the store from the URL when DATABASE_DRIVER is unset.
func driver(explicit, url string) string {
	if d := strings.ToLower(strings.TrimSpace(explicit)); d != "" {
		return d
	}
	switch {
	case url == "":
		return "memory"
	case strings.HasPrefix(url, "postgres://"), strings.HasPrefix(url, "postgresql://"):
		return "postgres"
	default:
		return "sqlite"
	}
}

func str(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func positive(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return def
}

func boolean(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func duration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d >= 0 {
			return d
		}
	}
	return def
}

// durations parses "10s,30s,60s". Any bad element rejects the whole value.
func durations(key string, def []time.Duration) []time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	var out []time.Duration
	for _, part := range strings.Split(v, ",") {
		d, err := time.ParseDuration(strings.TrimSpace(part))
		if err != nil || d < 0 {
			return def
		}
		out = append(out, d)
	}
	return out
}

func list(key string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
