package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration required by the biller process.
// All values must come from env (or env-file loaded by the process runner).
// No business logic should depend on raw environment variables.
type Config struct {
	App     AppConfig
	DB      DBConfig
	Redis   RedisConfig
	Auth    AuthConfig
	Billing BillingConfig
}

type AppConfig struct {
	Env  string
	Port int
}

type DBConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Name     string

	// SSLMode is kept explicit for AWS-ready posture.
	// Accepts: disable, require, verify-ca, verify-full
	SSLMode string
}

type RedisConfig struct {
	Host string
	Port int
}

// AuthConfig configures service-to-service token verification for the
// collaborator API (top-ups, call lifecycle). End-user auth is out of scope.
type AuthConfig struct {
	JWTSecret   string
	JWTIssuer   string
	JWTAudience string
	TokenTTL    time.Duration
}

// BillingConfig drives the metering loop.
//
// PollInterval is both the scheduler cadence and the billing granularity:
// one billing unit ("second") is charged per elapsed interval, so anything
// externally documented as "per-second" is really per-interval.
type BillingConfig struct {
	// RateMicrosPerSecond is the default charge per billing unit, snapshotted
	// onto each call at creation time.
	RateMicrosPerSecond int64

	PollInterval time.Duration
	BatchSize    int

	// Workers bounds per-cycle concurrency when processing candidates.
	Workers int

	// FreeWindow is the default grace period granted to new calls (0 = none).
	FreeWindow time.Duration
}

func Load() (Config, error) {
	c := Config{}
	var parseErrs []error

	c.App.Env = strings.TrimSpace(os.Getenv("APP_ENV"))
	{
		n, err := mustInt("APP_PORT")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.App.Port = n
	}

	c.DB.Host = strings.TrimSpace(os.Getenv("DB_HOST"))
	{
		n, err := mustInt("DB_PORT")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.DB.Port = n
	}
	c.DB.User = strings.TrimSpace(os.Getenv("DB_USER"))
	c.DB.Password = os.Getenv("DB_PASSWORD")
	c.DB.Name = strings.TrimSpace(os.Getenv("DB_NAME"))
	c.DB.SSLMode = strings.TrimSpace(os.Getenv("DB_SSLMODE"))

	c.Redis.Host = strings.TrimSpace(os.Getenv("REDIS_HOST"))
	{
		n, err := mustInt("REDIS_PORT")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.Redis.Port = n
	}

	c.Auth.JWTSecret = os.Getenv("SERVICE_JWT_SECRET")
	c.Auth.JWTIssuer = strings.TrimSpace(os.Getenv("SERVICE_JWT_ISSUER"))
	c.Auth.JWTAudience = strings.TrimSpace(os.Getenv("SERVICE_JWT_AUDIENCE"))
	// Optional; default applied in Validate().
	{
		d, err := mustDuration("SERVICE_JWT_TTL")
		if err != nil {
			parseErrs = append(parseErrs, err)
		}
		c.Auth.TokenTTL = d
	}

	{
		n, err := mustInt64("BILLING_RATE_MICROS_PER_SECOND")
		if err != nil {
			parseErrs = append(parseErrs, err)
		}
		c.Billing.RateMicrosPerSecond = n
	}
	{
		n, err := mustInt("BILLING_POLL_INTERVAL_MS")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.Billing.PollInterval = time.Duration(n) * time.Millisecond
	}
	{
		n, err := mustInt("BILLING_BATCH_SIZE")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.Billing.BatchSize = n
	}
	// Optional knobs with safe defaults applied in Validate().
	if v := strings.TrimSpace(os.Getenv("BILLING_WORKERS")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			parseErrs = append(parseErrs, fmt.Errorf("BILLING_WORKERS must be an integer, got %q", v))
		}
		c.Billing.Workers = n
	}
	if v := strings.TrimSpace(os.Getenv("BILLING_FREE_SECONDS")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			parseErrs = append(parseErrs, fmt.Errorf("BILLING_FREE_SECONDS must be an integer, got %q", v))
		}
		c.Billing.FreeWindow = time.Duration(n) * time.Second
	}

	if err := joinErrors(parseErrs); err != nil {
		return Config{}, err
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

func (c *Config) Validate() error {
	var errs []error

	if c.App.Env == "" {
		errs = append(errs, errors.New("APP_ENV is required"))
	} else if !isValidEnv(c.App.Env) {
		errs = append(errs, fmt.Errorf("APP_ENV must be one of local, dev, staging, production, got %q", c.App.Env))
	}
	if c.App.Port <= 0 || c.App.Port > 65535 {
		errs = append(errs, fmt.Errorf("APP_PORT must be a valid port, got %d", c.App.Port))
	}

	if c.DB.Host == "" {
		errs = append(errs, errors.New("DB_HOST is required"))
	}
	if c.DB.Port <= 0 || c.DB.Port > 65535 {
		errs = append(errs, fmt.Errorf("DB_PORT must be a valid port, got %d", c.DB.Port))
	}
	if c.DB.User == "" {
		errs = append(errs, errors.New("DB_USER is required"))
	}
	if c.DB.Name == "" {
		errs = append(errs, errors.New("DB_NAME is required"))
	}
	if strings.TrimSpace(c.DB.SSLMode) == "" {
		if c.IsProduction() {
			errs = append(errs, errors.New("DB_SSLMODE is required in production"))
		} else {
			// Local-friendly default; production must be explicit.
			c.DB.SSLMode = "disable"
		}
	}
	if c.DB.SSLMode != "" && !isValidSSLMode(c.DB.SSLMode) {
		errs = append(errs, fmt.Errorf("DB_SSLMODE must be one of disable, require, verify-ca, verify-full, got %q", c.DB.SSLMode))
	}

	if c.Redis.Host == "" {
		errs = append(errs, errors.New("REDIS_HOST is required"))
	}
	if c.Redis.Port <= 0 || c.Redis.Port > 65535 {
		errs = append(errs, fmt.Errorf("REDIS_PORT must be a valid port, got %d", c.Redis.Port))
	}

	if c.Auth.JWTSecret == "" {
		errs = append(errs, errors.New("SERVICE_JWT_SECRET is required"))
	}
	if c.IsProduction() {
		if c.Auth.JWTIssuer == "" {
			errs = append(errs, errors.New("SERVICE_JWT_ISSUER is required in production"))
		}
		if c.Auth.JWTAudience == "" {
			errs = append(errs, errors.New("SERVICE_JWT_AUDIENCE is required in production"))
		}
	}
	if c.Auth.TokenTTL <= 0 {
		// Short-lived service tokens.
		c.Auth.TokenTTL = 15 * time.Minute
	}

	if c.Billing.RateMicrosPerSecond <= 0 {
		errs = append(errs, fmt.Errorf("BILLING_RATE_MICROS_PER_SECOND must be > 0, got %d", c.Billing.RateMicrosPerSecond))
	}
	if c.Billing.PollInterval <= 0 {
		errs = append(errs, fmt.Errorf("BILLING_POLL_INTERVAL_MS must be > 0, got %s", c.Billing.PollInterval))
	}
	if c.Billing.BatchSize <= 0 {
		errs = append(errs, fmt.Errorf("BILLING_BATCH_SIZE must be > 0, got %d", c.Billing.BatchSize))
	}
	if c.Billing.Workers <= 0 {
		c.Billing.Workers = 8
	}
	if c.Billing.FreeWindow < 0 {
		errs = append(errs, fmt.Errorf("BILLING_FREE_SECONDS must be >= 0, got %s", c.Billing.FreeWindow))
	}

	return joinErrors(errs)
}

func (c Config) IsProduction() bool {
	return c.App.Env == "production"
}

func (c Config) HTTPAddr() string {
	return fmt.Sprintf(":%d", c.App.Port)
}

func (c Config) PostgresDSN() string {
	// Avoid logging this string; it contains secrets.
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.DB.Host,
		c.DB.Port,
		c.DB.User,
		c.DB.Password,
		c.DB.Name,
		c.DB.SSLMode,
	)
}

func (c Config) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Redis.Host, c.Redis.Port)
}

func mustInt(key string) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0, fmt.Errorf("%s is required", key)
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer, got %q", key, v)
	}
	return n, nil
}

func mustInt64(key string) (int64, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0, fmt.Errorf("%s is required", key)
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer, got %q", key, v)
	}
	return n, nil
}

func mustDuration(key string) (time.Duration, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be a duration like 15m, got %q", key, v)
	}
	return d, nil
}

func appendParseErr(errs []error, n int, err error) (int, []error) {
	if err != nil {
		errs = append(errs, err)
	}
	return n, errs
}

func isValidEnv(v string) bool {
	switch v {
	case "local", "dev", "staging", "production":
		return true
	default:
		return false
	}
}

func isValidSSLMode(v string) bool {
	switch v {
	case "disable", "require", "verify-ca", "verify-full":
		return true
	default:
		return false
	}
}

func joinErrors(errs []error) error {
	if len(errs) == 0 {
		return nil
	}
	if len(errs) == 1 {
		return errs[0]
	}
	var b strings.Builder
	b.WriteString("config errors:\n")
	for _, e := range errs {
		b.WriteString("- ")
		b.WriteString(e.Error())
		b.WriteString("\n")
	}
	return errors.New(strings.TrimSpace(b.String()))
}
