// Package config assembles runtime settings from flags, an optional YAML
// file, a .env file and VOLUNTEERSYNC_* environment variables.
//
// Precedence, highest first: flags set on the command line, environment,
// YAML file, flag defaults.
package config

import (
	"errors"
	"fmt"
	"net/netip"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/samber/oops"
	"github.com/spf13/pflag"
)

// EnvPrefix is stripped from environment variables; "__" separates nesting levels.
const EnvPrefix = "VOLUNTEERSYNC_"

// MinSecretLength mirrors the session issuer's key requirement.
const MinSecretLength = 32

type Config struct {
	HTTP   HTTP   `koanf:"http"`
	GRPC   GRPC   `koanf:"grpc"`
	Log    Log    `koanf:"log"`
	Auth   Auth   `koanf:"auth"`
	Store  Store  `koanf:"store"`
	Notify Notify `koanf:"notify"`
	Sweep  Sweep  `koanf:"sweep"`
}

type HTTP struct {
	Addr            string        `koanf:"addr"`
	ReadTimeout     time.Duration `koanf:"read_timeout"`
	WriteTimeout    time.Duration `koanf:"write_timeout"`
	IdleTimeout     time.Duration `koanf:"idle_timeout"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
	MaxBodyBytes    int64         `koanf:"max_body_bytes"`
	CORSOrigins     []string      `koanf:"cors_origins"`
	RateLimit       RateLimit     `koanf:"rate_limit"`

	// TrustedProxies are IPs or CIDRs allowed to set X-Forwarded-For.
	TrustedProxies []string `koanf:"trusted_proxies"`
}

// RateLimit applies per client IP to /api/auth/* routes.
type RateLimit struct {
	RPS   float64 `koanf:"rps"`
	Burst int     `koanf:"burst"`
}

type GRPC struct {
	Addr       string `koanf:"addr"`
	Reflection bool   `koanf:"reflection"`
}

type Log struct {
	Format string `koanf:"format"`
	Level  string `koanf:"level"`
}

type Auth struct {
	Secret        string `koanf:"secret"`
	Issuer        string `koanf:"issuer"`
	ResetLinkBase string `koanf:"reset_link_base"`

	// CodeAttempts wrong codes lock an email out of verification for
	// CodeLockout. 0 disables the lockout.
	CodeAttempts int           `koanf:"code_attempts"`
	CodeLockout  time.Duration `koanf:"code_lockout"`
}

type Store struct {
	Driver          string        `koanf:"driver"`
	DSN             string        `koanf:"dsn"`
	MaxOpenConns    int           `koanf:"max_open_conns"`
	MaxIdleConns    int           `koanf:"max_idle_conns"`
	ConnMaxLifetime time.Duration `koanf:"conn_max_lifetime"`
}

type Notify struct {
	Driver string `koanf:"driver"`
	SMTP   SMTP   `koanf:"smtp"`
	Retry  Retry  `koanf:"retry"`
}

type SMTP struct {
	Host     string        `koanf:"host"`
	Port     int           `koanf:"port"`
	Username string        `koanf:"username"`
	Password string        `koanf:"password"`
	From     string        `koanf:"from"`
	TLS      string        `koanf:"tls"`
	Timeout  time.Duration `koanf:"timeout"`
}

type Retry struct {
	Attempts uint64        `koanf:"attempts"`
	Base     time.Duration `koanf:"base"`
	Max      time.Duration `koanf:"max"`
}

type Sweep struct {
	Interval time.Duration `koanf:"interval"`
}

// flagKeys maps command-line flag names to configuration keys.
var flagKeys = map[string]string{
	"http-addr":             "http.addr",
	"http-read-timeout":     "http.read_timeout",
	"http-write-timeout":    "http.write_timeout",
	"http-idle-timeout":     "http.idle_timeout",
	"shutdown-timeout":      "http.shutdown_timeout",
	"max-body-bytes":        "http.max_body_bytes",
	"cors-origins":          "http.cors_origins",
	"auth-rate-rps":         "http.rate_limit.rps",
	"auth-rate-burst":       "http.rate_limit.burst",
	"trusted-proxies":       "http.trusted_proxies",
	"grpc-addr":             "grpc.addr",
	"grpc-reflection":       "grpc.reflection",
	"log-format":            "log.format",
	"log-level":             "log.level",
	"jwt-issuer":            "auth.issuer",
	"reset-link-base":       "auth.reset_link_base",
	"code-max-attempts":     "auth.code_attempts",
	"code-lockout":          "auth.code_lockout",
	"store":                 "store.driver",
	"dsn":                   "store.dsn",
	"db-max-open-conns":     "store.max_open_conns",
	"db-max-idle-conns":     "store.max_idle_conns",
	"db-conn-max-lifetime":  "store.conn_max_lifetime",
	"notifier":              "notify.driver",
	"smtp-host":             "notify.smtp.host",
	"smtp-port":             "notify.smtp.port",
	"smtp-from":             "notify.smtp.from",
	"smtp-tls":              "notify.smtp.tls",
	"smtp-timeout":          "notify.smtp.timeout",
	"notify-retry-attempts": "notify.retry.attempts",
	"notify-retry-base":     "notify.retry.base",
	"notify-retry-max":      "notify.retry.max",
	"sweep-interval":        "sweep.interval",
}

// RegisterFlags declares every flag-backed setting with its default.
// Secrets (auth.secret, SMTP credentials) are deliberately env/file only.
func RegisterFlags(fs *pflag.FlagSet) {
	fs.String("http-addr", ":8080", "HTTP listen address")
	fs.Duration("http-read-timeout", 15*time.Second, "HTTP read timeout")
	fs.Duration("http-write-timeout", 15*time.Second, "HTTP write timeout")
	fs.Duration("http-idle-timeout", 60*time.Second, "HTTP idle timeout")
	fs.Duration("shutdown-timeout", 10*time.Second, "graceful shutdown timeout")
	fs.Int64("max-body-bytes", 1<<20, "maximum request body size")
	fs.StringSlice("cors-origins", []string{"http://localhost:3000"}, "allowed CORS origins")
	fs.Float64("auth-rate-rps", 5, "per-client requests per second on /api/auth")
	fs.Int("auth-rate-burst", 10, "per-client burst on /api/auth")
	fs.StringSlice("trusted-proxies", nil, "proxy IPs or CIDRs whose X-Forwarded-For is honoured")
	fs.String("grpc-addr", ":9090", "gRPC health listen address (empty disables)")
	fs.Bool("grpc-reflection", false, "enable gRPC server reflection")
	fs.String("log-format", "json", "log format (json or text)")
	fs.String("log-level", "info", "log level (debug, info, warn, error)")
	fs.String("jwt-issuer", "volunteersync", "issuer claim of session tokens")
	fs.String("reset-link-base", "http://localhost:3000/reset-password", "URL the reset token is appended to")
	fs.Int("code-max-attempts", 5, "wrong second-factor codes before an email is locked out (0 disables)")
	fs.Duration("code-lockout", 15*time.Minute, "second-factor lockout duration")
	fs.String("store", "postgres", "store driver (postgres or memory)")
	fs.String("dsn", "", "PostgreSQL connection string")
	fs.Int("db-max-open-conns", 25, "maximum open database connections")
	fs.Int("db-max-idle-conns", 10, "maximum idle database connections")
	fs.Duration("db-conn-max-lifetime", 15*time.Minute, "maximum connection lifetime")
	fs.String("notifier", "log", "notifier driver (smtp or log)")
	fs.String("smtp-host", "", "SMTP server host")
	fs.Int("smtp-port", 587, "SMTP server port")
	fs.String("smtp-from", "no-reply@volunteersync.rw", "sender address")
	fs.String("smtp-tls", "mandatory", "SMTP TLS policy (mandatory, opportunistic, none)")
	fs.Duration("smtp-timeout", 10*time.Second, "SMTP dial and send timeout")
	fs.Uint64("notify-retry-attempts", 3, "delivery retries after the first attempt")
	fs.Duration("notify-retry-base", 200*time.Millisecond, "initial retry backoff")
	fs.Duration("notify-retry-max", 2*time.Second, "maximum retry backoff")
	fs.Duration("sweep-interval", 5*time.Minute, "interval between expired credential sweeps (0 disables)")
}

// Options control where Load looks.
type Options struct {
	// File is an optional YAML file; empty skips it.
	File string
	// DotEnv files are loaded into the process environment when present.
	DotEnv []string
}

// Load merges every source into a validated Config.
func Load(flags *pflag.FlagSet, opts Options) (Config, error) {
	if err := DotEnv(opts.DotEnv...); err != nil {
		return Config{}, err
	}

	k := koanf.New(".")
	if opts.File != "" {
		if err := k.Load(file.Provider(opts.File), yaml.Parser()); err != nil {
			return Config{}, oops.Code("CONFIG_FILE_FAILED").With("path", opts.File).Wrap(err)
		}
	}
	if err := k.Load(env.ProviderWithValue(EnvPrefix, ".", envKey), nil); err != nil {
		return Config{}, oops.Code("CONFIG_ENV_FAILED").Wrap(err)
	}
	if flags != nil {
		if err := k.Load(posflag.ProviderWithFlag(flags, ".", k, flagKey(flags)), nil); err != nil {
			return Config{}, oops.Code("CONFIG_FLAGS_FAILED").Wrap(err)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return Config{}, oops.Code("CONFIG_DECODE_FAILED").Wrap(err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// DotEnv loads each existing file into the process environment without
// overriding variables that are already set. Missing files are skipped.
func DotEnv(paths ...string) error {
	for _, path := range paths {
		if err := godotenv.Load(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return oops.Code("CONFIG_DOTENV_FAILED").With("path", path).Wrap(err)
		}
	}
	return nil
}

// envKey turns VOLUNTEERSYNC_NOTIFY__SMTP__HOST into notify.smtp.host.
// Comma separated values become lists for list-typed keys.
func envKey(name, value string) (string, any) {
	key := strings.ToLower(strings.TrimPrefix(name, EnvPrefix))
	key = strings.ReplaceAll(key, "__", ".")
	if key == "" {
		return "", nil
	}
	if key == "http.cors_origins" || key == "http.trusted_proxies" {
		var out []string
		for _, part := range strings.Split(value, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
		return key, out
	}
	return key, value
}

func flagKey(fs *pflag.FlagSet) func(*pflag.Flag) (string, any) {
	return func(f *pflag.Flag) (string, any) {
		key, ok := flagKeys[f.Name]
		if !ok {
			return "", nil
		}
		return key, posflag.FlagVal(fs, f)
	}
}

// Validate checks cross-field rules.
func (c Config) Validate() error {
	var problems []string
	if len(c.Auth.Secret) < MinSecretLength {
		problems = append(problems, fmt.Sprintf("auth.secret must be at least %d bytes (set %sAUTH__SECRET)", MinSecretLength, EnvPrefix))
	}
	switch c.Store.Driver {
	case "memory":
	case "postgres":
		if strings.TrimSpace(c.Store.DSN) == "" {
			problems = append(problems, "store.dsn is required for the postgres store")
		}
	default:
		problems = append(problems, fmt.Sprintf("store.driver must be postgres or memory, got %q", c.Store.Driver))
	}
	switch c.Notify.Driver {
	case "log":
	case "smtp":
		if c.Notify.SMTP.Host == "" {
			problems = append(problems, "notify.smtp.host is required for the smtp notifier")
		}
		if c.Notify.SMTP.From == "" {
			problems = append(problems, "notify.smtp.from is required for the smtp notifier")
		}
		switch c.Notify.SMTP.TLS {
		case "mandatory", "opportunistic", "none":
		default:
			problems = append(problems, fmt.Sprintf("notify.smtp.tls must be mandatory, opportunistic or none, got %q", c.Notify.SMTP.TLS))
		}
	default:
		problems = append(problems, fmt.Sprintf("notify.driver must be smtp or log, got %q", c.Notify.Driver))
	}
	if c.Log.Format != "json" && c.Log.Format != "text" {
		problems = append(problems, fmt.Sprintf("log.format must be json or text, got %q", c.Log.Format))
	}
	if c.HTTP.Addr == "" {
		problems = append(problems, "http.addr is required")
	}
	if c.HTTP.ShutdownTimeout <= 0 {
		problems = append(problems, "http.shutdown_timeout must be positive")
	}
	if c.HTTP.RateLimit.RPS <= 0 || c.HTTP.RateLimit.Burst <= 0 {
		problems = append(problems, "http.rate_limit rps and burst must be positive")
	}
	for _, p := range c.HTTP.TrustedProxies {
		if _, err := netip.ParsePrefix(p); err == nil {
			continue
		}
		if _, err := netip.ParseAddr(p); err != nil {
			problems = append(problems, fmt.Sprintf("http.trusted_proxies entry %q is not an IP or CIDR", p))
		}
	}
	if c.Auth.CodeAttempts < 0 || (c.Auth.CodeAttempts > 0 && c.Auth.CodeLockout <= 0) {
		problems = append(problems, "auth.code_attempts must not be negative and auth.code_lockout must be positive when attempts are capped")
	}
	if c.Sweep.Interval < 0 {
		problems = append(problems, "sweep.interval must not be negative")
	}
	if c.Auth.ResetLinkBase != "" {
		if u, err := url.Parse(c.Auth.ResetLinkBase); err != nil || u.Scheme == "" || u.Host == "" {
			problems = append(problems, "auth.reset_link_base must be an absolute URL")
		}
	}
	if len(problems) > 0 {
		return oops.Code("CONFIG_INVALID").With("problems", problems).
			Errorf("invalid configuration: %s", strings.Join(problems, "; "))
	}
	return nil
}

// FileExists reports whether path names a regular file.
func FileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}
