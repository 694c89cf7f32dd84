package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const DefaultPath = "config/config.yaml"

type ServerConfig struct {
	Port            int           `yaml:"port"`
	RequestTimeout  time.Duration `yaml:"request_timeout"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	CORSOrigins     []string      `yaml:"cors_origins"`
}

type DatabaseConfig struct {
	DSN             string        `yaml:"url"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	AutoMigrate     bool          `yaml:"auto_migrate"`
}

type EmailConfig struct {
	SMTPHost     string        `yaml:"smtp_host"`
	SMTPPort     int           `yaml:"smtp_port"`
	SMTPUser     string        `yaml:"smtp_user"`
	SMTPPassword string        `yaml:"smtp_password"` // app password, not the account password
	FromEmail    string        `yaml:"from_email"`
	FromName     string        `yaml:"from_name"`
	SendTimeout  time.Duration `yaml:"send_timeout"`
	Workers      int           `yaml:"workers"`
	QueueSize    int           `yaml:"queue_size"`
	DryRun       bool          `yaml:"dry_run"`
}

// Configured reports whether enough SMTP settings are present to attempt a real send.
func (e EmailConfig) Configured() bool {
	return e.SMTPHost != "" && e.SMTPUser != "" && e.SMTPPassword != ""
}

type SecurityConfig struct {
	SecretKey         string        `yaml:"secret_key"`
	APIKeys           []string      `yaml:"api_keys"`
	AccessTokenTTL    time.Duration `yaml:"access_token_ttl"`
	RefreshTokenTTL   time.Duration `yaml:"refresh_token_ttl"`
	CodeTTL           time.Duration `yaml:"code_ttl"`
	PasswordChangeTTL time.Duration `yaml:"password_change_ttl"`
	MaxCodeAttempts   int           `yaml:"max_code_attempts"`
	ResendCooldown    time.Duration `yaml:"resend_cooldown"`
	SweepInterval     time.Duration `yaml:"sweep_interval"`
	PendingRetention  time.Duration `yaml:"pending_retention"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type RateRule struct {
	MaxRequests   int           `yaml:"max_requests"`
	Window        time.Duration `yaml:"window"`
	BlockDuration time.Duration `yaml:"block_duration"`
}

type RateLimitConfig struct {
	Register RateRule `yaml:"register"`
	Resend   RateRule `yaml:"resend"`
	Login    RateRule `yaml:"login"`
}

type LogConfig struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
}

type Config struct {
	Env       string          `yaml:"env"`
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Email     EmailConfig     `yaml:"email"`
	Security  SecurityConfig  `yaml:"security"`
	Redis     RedisConfig     `yaml:"redis"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Log       LogConfig       `yaml:"log"`
}

// Load reads the YAML file at path (a missing file is fine), applies
// .env and process environment overrides and fills defaults.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	if path == "" {
		path = getEnv("CONFIG_PATH", DefaultPath)
	}

	var cfg Config
	f, err := os.Open(path)
	switch {
	case err == nil:
		defer f.Close()
		if err := yaml.NewDecoder(f).Decode(&cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist):
		// env-only deployment
	default:
		return nil, fmt.Errorf("open %s: %w", path, err)
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	return &cfg, nil
}

func (c *Config) applyEnv() error {
	c.Env = getEnv("APP_ENV", c.Env)
	c.Database.DSN = getEnv("DATABASE_URL", c.Database.DSN)
	c.Email.SMTPHost = getEnv("MAIL_SERVER", c.Email.SMTPHost)
	c.Email.SMTPUser = getEnv("MAIL_USERNAME", c.Email.SMTPUser)
	c.Email.SMTPPassword = getEnv("MAIL_PASSWORD", c.Email.SMTPPassword)
	c.Email.FromEmail = getEnv("MAIL_DEFAULT_SENDER", c.Email.FromEmail)
	c.Security.SecretKey = getEnv("SECRET_KEY", c.Security.SecretKey)
	c.Redis.Addr = getEnv("REDIS_ADDR", c.Redis.Addr)
	c.Redis.Password = getEnv("REDIS_PASSWORD", c.Redis.Password)
	c.Log.Level = getEnv("LOG_LEVEL", c.Log.Level)

	if v := os.Getenv("API_KEYS"); v != "" {
		c.Security.APIKeys = splitList(v)
	}

	var err error
	if c.Server.Port, err = getEnvInt("PORT", c.Server.Port); err != nil {
		return err
	}
	if c.Email.SMTPPort, err = getEnvInt("MAIL_PORT", c.Email.SMTPPort); err != nil {
		return err
	}
	if c.Email.SendTimeout, err = getEnvDuration("MAIL_SEND_TIMEOUT", c.Email.SendTimeout); err != nil {
		return err
	}
	if c.Server.RequestTimeout, err = getEnvDuration("REQUEST_TIMEOUT", c.Server.RequestTimeout); err != nil {
		return err
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.Env == "" {
		c.Env = "development"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.RequestTimeout <= 0 {
		c.Server.RequestTimeout = 30 * time.Second
	}
	if c.Server.ReadTimeout <= 0 {
		c.Server.ReadTimeout = 10 * time.Second
	}
	if c.Server.ShutdownTimeout <= 0 {
		c.Server.ShutdownTimeout = 20 * time.Second
	}
	if len(c.Server.CORSOrigins) == 0 {
		c.Server.CORSOrigins = []string{"*"}
	}

	if c.Database.MaxOpenConns == 0 {
		c.Database.MaxOpenConns = 10
	}
	if c.Database.MaxIdleConns == 0 {
		c.Database.MaxIdleConns = 2
	}
	if c.Database.ConnMaxLifetime == 0 {
		c.Database.ConnMaxLifetime = 5 * time.Minute
	}

	if c.Email.SMTPHost == "" {
		c.Email.SMTPHost = "smtp.gmail.com"
	}
	if c.Email.SMTPPort == 0 {
		c.Email.SMTPPort = 587
	}
	if c.Email.FromEmail == "" {
		c.Email.FromEmail = c.Email.SMTPUser
	}
	if c.Email.SendTimeout <= 0 {
		c.Email.SendTimeout = 15 * time.Second
	}
	if c.Email.Workers <= 0 {
		c.Email.Workers = 2
	}
	if c.Email.QueueSize <= 0 {
		c.Email.QueueSize = 100
	}

	if c.Security.AccessTokenTTL <= 0 {
		c.Security.AccessTokenTTL = 15 * time.Minute
	}
	if c.Security.RefreshTokenTTL <= 0 {
		c.Security.RefreshTokenTTL = 30 * 24 * time.Hour
	}
	if c.Security.CodeTTL <= 0 {
		c.Security.CodeTTL = 15 * time.Minute
	}
	if c.Security.PasswordChangeTTL <= 0 {
		c.Security.PasswordChangeTTL = 30 * time.Minute
	}
	if c.Security.MaxCodeAttempts <= 0 {
		c.Security.MaxCodeAttempts = 5
	}
	if c.Security.ResendCooldown <= 0 {
		c.Security.ResendCooldown = time.Minute
	}
	if c.Security.SweepInterval <= 0 {
		c.Security.SweepInterval = time.Minute
	}
	if c.Security.PendingRetention <= 0 {
		c.Security.PendingRetention = 24 * time.Hour
	}

	c.RateLimit.Register = withRuleDefaults(c.RateLimit.Register, 5, time.Hour, time.Hour)
	c.RateLimit.Resend = withRuleDefaults(c.RateLimit.Resend, 5, 10*time.Minute, 30*time.Minute)
	c.RateLimit.Login = withRuleDefaults(c.RateLimit.Login, 10, 5*time.Minute, 15*time.Minute)

	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if !c.IsProduction() {
		c.Log.Development = true
	}
}

func withRuleDefaults(r RateRule, max int, window, block time.Duration) RateRule {
	if r.MaxRequests <= 0 {
		r.MaxRequests = max
	}
	if r.Window <= 0 {
		r.Window = window
	}
	if r.BlockDuration <= 0 {
		r.BlockDuration = block
	}
	return r
}

func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Env, "production") || strings.EqualFold(c.Env, "prod")
}

// Validate checks the settings the service cannot start without.
func (c *Config) Validate() error {
	var errs []error
	if c.Database.DSN == "" {
		errs = append(errs, errors.New("database url is required (DATABASE_URL)"))
	}
	if c.IsProduction() && c.Security.SecretKey == "" {
		errs = append(errs, errors.New("secret key is required in production (SECRET_KEY)"))
	}
	if c.Email.SendTimeout < time.Second || c.Email.SendTimeout > time.Minute {
		errs = append(errs, fmt.Errorf("email send timeout %s out of range 1s..1m", c.Email.SendTimeout))
	}
	if c.IsProduction() && !c.Email.DryRun && !c.Email.Configured() {
		errs = append(errs, errors.New("smtp credentials are required in production (MAIL_USERNAME, MAIL_PASSWORD)"))
	}
	return errors.Join(errs...)
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) (int, error) {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("env %s: %w", key, err)
	}
	return n, nil
}

// getEnvDuration accepts Go durations ("15s") or bare seconds ("120").
func getEnvDuration(key string, fallback time.Duration) (time.Duration, error) {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return fallback, nil
	}
	if n, err := strconv.Atoi(v); err == nil {
		return time.Duration(n) * time.Second, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("env %s: %w", key, err)
	}
	return d, nil
}

func splitList(v string) []string {
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
