// config/config.go
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// SMTP describes one outgoing mail relay.
type SMTP struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	Timeout  time.Duration
}

// Configured reports whether the relay has enough settings to dial.
func (s SMTP) Configured() bool {
	return s.Host != "" && s.Username != "" && s.Password != ""
}

// Midtrans holds gateway credentials.
type Midtrans struct {
	ServerKey   string
	Production  bool
	InitWait    time.Duration
	InitTimeout time.Duration
	CallTimeout time.Duration
	FinishURL   string
}

// R2 holds receipt archive settings. Empty AccountID disables the archive.
type R2 struct {
	AccountID       string
	AccessKeyID     string
	AccessKeySecret string
	Bucket          string
	CDNBaseURL      string
}

// Configured reports whether receipts can be archived.
func (r R2) Configured() bool {
	return r.AccountID != "" && r.AccessKeyID != "" && r.AccessKeySecret != "" && r.Bucket != ""
}

type Config struct {
	Env         string
	Addr        string
	DatabaseURL string
	FrontendURL string
	AdminToken  string

	AllowedOrigins []string

	League          string
	LeagueShortName string
	Season          string
	RegistrationFee int64
	GatewayEnabled  bool

	Midtrans Midtrans

	SweepInterval    time.Duration
	SweepWindow      time.Duration
	SweepConcurrency int

	PrimarySMTP            SMTP
	FallbackSMTP           SMTP
	AdminNotificationEmail string
	CustomerBCC            []string
	NoopSink               bool
	NotifyWorkers          int
	NotifyQueueSize        int
	NotifyMaxRetries       int
	NotifyRetryDelay       time.Duration
	NotifyMaxRetryDelay    time.Duration
	NotifyAttemptTimeout   time.Duration

	R2 R2
}

// IsDevelopment reports whether the service runs outside production.
func (c Config) IsDevelopment() bool {
	return c.Env == "development"
}

// Load reads .env (when present) and then the process environment.
// A missing .env file is not an error.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("failed to load .env: %w", err)
	}
	return FromEnv()
}

// FromEnv builds a Config from environment variables.
func FromEnv() (Config, error) {
	p := &parser{}

	cfg := Config{
		Env:             getenv("APP_ENV", "development"),
		Addr:            getenv("ADDR", ":5000"),
		DatabaseURL:     os.Getenv("DATABASE_URL"),
		FrontendURL:     strings.TrimRight(getenv("FRONTEND_URL", "http://localhost:5173"), "/"),
		AdminToken:      os.Getenv("ADMIN_TOKEN"),
		AllowedOrigins:  splitList(getenv("ALLOWED_ORIGINS", "http://localhost:5173")),
		League:          getenv("LEAGUE_NAME", "Indian Jabalpur Premier League"),
		LeagueShortName: getenv("LEAGUE_SHORT_NAME", "IJPL"),
		Season:          getenv("LEAGUE_SEASON", "2025"),
		RegistrationFee: p.int64("REGISTRATION_FEE", 3300),
		GatewayEnabled:  p.bool("GATEWAY_ENABLED", true),

		Midtrans: Midtrans{
			ServerKey:   os.Getenv("MIDTRANS_SERVER_KEY"),
			Production:  strings.EqualFold(os.Getenv("MIDTRANS_ENVIRONMENT"), "production"),
			InitWait:    p.duration("GATEWAY_INIT_WAIT", 10*time.Second),
			InitTimeout: p.duration("GATEWAY_INIT_TIMEOUT", 30*time.Second),
			CallTimeout: p.duration("GATEWAY_CALL_TIMEOUT", 15*time.Second),
			FinishURL:   os.Getenv("GATEWAY_FINISH_URL"),
		},

		SweepInterval:    p.duration("SWEEP_INTERVAL", time.Minute),
		SweepWindow:      p.duration("SWEEP_WINDOW", 3*time.Minute),
		SweepConcurrency: p.int("SWEEP_CONCURRENCY", 4),

		PrimarySMTP: SMTP{
			Host:     os.Getenv("EMAIL_HOST"),
			Port:     p.int("EMAIL_PORT", 587),
			Username: os.Getenv("EMAIL_USER"),
			Password: os.Getenv("EMAIL_PASS"),
			From:     getenv("EMAIL_FROM", "noreply@ijpl.life"),
			Timeout:  p.duration("EMAIL_TIMEOUT", 30*time.Second),
		},
		FallbackSMTP: SMTP{
			Host:     os.Getenv("FALLBACK_EMAIL_HOST"),
			Port:     p.int("FALLBACK_EMAIL_PORT", 465),
			Username: os.Getenv("FALLBACK_EMAIL_USER"),
			Password: os.Getenv("FALLBACK_EMAIL_PASS"),
			From:     getenv("FALLBACK_EMAIL_FROM", getenv("EMAIL_FROM", "noreply@ijpl.life")),
			Timeout:  p.duration("FALLBACK_EMAIL_TIMEOUT", 30*time.Second),
		},
		AdminNotificationEmail: getenv("ADMIN_NOTIFICATION_EMAIL", "admin@ijpl.life"),
		CustomerBCC:            splitList(os.Getenv("CUSTOMER_EMAIL_BCC")),
		NotifyWorkers:          p.int("NOTIFY_WORKERS", 2),
		NotifyQueueSize:        p.int("NOTIFY_QUEUE_SIZE", 256),
		NotifyMaxRetries:       p.int("NOTIFY_MAX_RETRIES", 3),
		NotifyRetryDelay:       p.duration("NOTIFY_RETRY_DELAY", 10*time.Second),
		NotifyMaxRetryDelay:    p.duration("NOTIFY_MAX_RETRY_DELAY", 2*time.Minute),
		NotifyAttemptTimeout:   p.duration("NOTIFY_ATTEMPT_TIMEOUT", 45*time.Second),

		R2: R2{
			AccountID:       os.Getenv("CLOUDFLARE_ACCOUNT_ID"),
			AccessKeyID:     os.Getenv("R2_ACCESS_KEY_ID"),
			AccessKeySecret: os.Getenv("R2_ACCESS_KEY_SECRET"),
			Bucket:          os.Getenv("R2_BUCKET_NAME"),
			CDNBaseURL:      strings.TrimRight(os.Getenv("CDN_BASE_URL"), "/"),
		},
	}
	// The no-op sink defaults on in development so a missing relay never
	// turns into a retry storm.
	cfg.NoopSink = p.bool("NOTIFY_NOOP_SINK", cfg.IsDevelopment())

	if p.err != nil {
		return Config{}, p.err
	}
	return cfg, nil
}

// Validate reports missing settings the service cannot start without.
func (c Config) Validate() error {
	var errs []error
	if c.DatabaseURL == "" {
		errs = append(errs, errors.New("DATABASE_URL is required"))
	}
	if c.GatewayEnabled && c.Midtrans.ServerKey == "" {
		errs = append(errs, errors.New("MIDTRANS_SERVER_KEY is required when GATEWAY_ENABLED=true"))
	}
	if c.AdminToken == "" {
		errs = append(errs, errors.New("ADMIN_TOKEN is required"))
	}
	if c.RegistrationFee <= 0 {
		errs = append(errs, errors.New("REGISTRATION_FEE must be positive"))
	}
	if c.SweepWindow <= 0 || c.SweepInterval <= 0 {
		errs = append(errs, errors.New("SWEEP_INTERVAL and SWEEP_WINDOW must be positive"))
	}
	return errors.Join(errs...)
}

type parser struct {
	err error
}

func (p *parser) fail(key, raw string, err error) {
	p.err = errors.Join(p.err, fmt.Errorf("invalid %s=%q: %w", key, raw, err))
}

func (p *parser) int(key string, def int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		p.fail(key, raw, err)
		return def
	}
	return v
}

func (p *parser) int64(key string, def int64) int64 {
	raw := os.Getenv(key)
	if raw == "" {
		return def
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		p.fail(key, raw, err)
		return def
	}
	return v
}

func (p *parser) bool(key string, def bool) bool {
	raw := os.Getenv(key)
	if raw == "" {
		return def
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		p.fail(key, raw, err)
		return def
	}
	return v
}

func (p *parser) duration(key string, def time.Duration) time.Duration {
	raw := os.Getenv(key)
	if raw == "" {
		return def
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		p.fail(key, raw, err)
		return def
	}
	return v
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func splitList(raw string) []string {
	var out []string
	for _, s := range strings.Split(raw, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
