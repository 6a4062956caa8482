package config

import (
	"errors"
	"fmt"
	"log"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"rdpgate/internal/constants"
)

var ErrInvalidConfig = errors.New("invalid configuration")

type Config struct {
	Bind        string
	Port        string
	TokenSecret string
	AdminToken  string

	MaxSessions       int
	IdleTimeout       time.Duration
	HeartbeatInterval time.Duration
	SweepInterval     time.Duration
	ConnectTimeout    time.Duration

	Backend   string
	AgentE2EE bool

	AllowedOrigins      []string
	TrustedProxies      []string
	MaxConnectionsPerIP int
	MaxAuthFailures     int
	AuthBlockDuration   time.Duration

	SessionLogDir string
	Audit         bool
	AuditDir      string

	RedisHost     string
	RedisPort     string
	RedisUsername string
	RedisPassword string

	TLSCert string
	TLSKey  string
}

// Load reads .env (if present) and the RDPGATE_* environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Printf("⚠️  Could not read .env: %v", err)
	}
	return FromLookup(os.Getenv)
}

// FromLookup builds a Config from an arbitrary variable source.
func FromLookup(getenv func(string) string) (*Config, error) {
	e := env{get: getenv}
	cfg := &Config{
		Bind:        e.str("RDPGATE_BIND", constants.DefaultBind),
		Port:        e.str("RDPGATE_PORT", constants.DefaultPort),
		TokenSecret: e.str("RDPGATE_TOKEN_SECRET", ""),
		AdminToken:  e.str("RDPGATE_ADMIN_TOKEN", ""),

		MaxSessions:       e.number("RDPGATE_MAX_SESSIONS", constants.DefaultMaxSessions),
		IdleTimeout:       e.duration("RDPGATE_IDLE_TIMEOUT", constants.DefaultIdleTimeout),
		HeartbeatInterval: e.duration("RDPGATE_HEARTBEAT_INTERVAL", constants.DefaultHeartbeatInterval),
		SweepInterval:     e.duration("RDPGATE_SWEEP_INTERVAL", constants.DefaultSweepInterval),
		ConnectTimeout:    e.duration("RDPGATE_CONNECT_TIMEOUT", constants.DefaultConnectTimeout),

		Backend:   strings.ToLower(e.str("RDPGATE_BACKEND", constants.BackendModeAuto)),
		AgentE2EE: e.flag("RDPGATE_AGENT_E2EE", false),

		AllowedOrigins:      e.list("RDPGATE_ALLOWED_ORIGINS"),
		TrustedProxies:      e.list("RDPGATE_TRUSTED_PROXIES"),
		MaxConnectionsPerIP: e.number("RDPGATE_MAX_CONNECTIONS_PER_IP", constants.MaxConnectionsPerIP),
		MaxAuthFailures:     e.number("RDPGATE_MAX_AUTH_FAILURES", constants.DefaultMaxAuthFailures),
		AuthBlockDuration:   e.duration("RDPGATE_AUTH_BLOCK_DURATION", constants.DefaultAuthBlockDuration),

		SessionLogDir: e.str("RDPGATE_SESSION_LOG_DIR", ""),
		Audit:         e.flag("RDPGATE_AUDIT", false),
		AuditDir:      e.str("RDPGATE_AUDIT_DIR", ""),

		RedisHost:     e.str("RDPGATE_REDIS_HOST", ""),
		RedisPort:     e.str("RDPGATE_REDIS_PORT", "6379"),
		RedisUsername: e.str("RDPGATE_REDIS_USERNAME", ""),
		RedisPassword: e.str("RDPGATE_REDIS_PASSWORD", ""),

		TLSCert: e.str("RDPGATE_TLS_CERT", ""),
		TLSKey:  e.str("RDPGATE_TLS_KEY", ""),
	}
	if e.err != nil {
		return nil, e.err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if len(c.TokenSecret) < constants.MinSecretLength {
		return fmt.Errorf("%w: RDPGATE_TOKEN_SECRET must be at least %d bytes", ErrInvalidConfig, constants.MinSecretLength)
	}
	port, err := strconv.Atoi(c.Port)
	if err != nil || port < constants.MinPort || port > constants.MaxPort {
		return fmt.Errorf("%w: RDPGATE_PORT %q out of range", ErrInvalidConfig, c.Port)
	}
	if c.MaxSessions < 1 {
		return fmt.Errorf("%w: RDPGATE_MAX_SESSIONS must be at least 1", ErrInvalidConfig)
	}
	if c.IdleTimeout <= 0 || c.HeartbeatInterval <= 0 || c.SweepInterval <= 0 || c.ConnectTimeout <= 0 {
		return fmt.Errorf("%w: timeouts and intervals must be positive", ErrInvalidConfig)
	}
	switch c.Backend {
	case constants.BackendModeAuto, constants.BackendModeMock, constants.BackendModeAgent:
	default:
		return fmt.Errorf("%w: unknown RDPGATE_BACKEND %q", ErrInvalidConfig, c.Backend)
	}
	if (c.TLSCert == "") != (c.TLSKey == "") {
		return fmt.Errorf("%w: RDPGATE_TLS_CERT and RDPGATE_TLS_KEY must be set together", ErrInvalidConfig)
	}
	for _, cidr := range c.TrustedProxies {
		if _, _, err := net.ParseCIDR(cidr); err != nil {
			return fmt.Errorf("%w: trusted proxy %q: %v", ErrInvalidConfig, cidr, err)
		}
	}
	return nil
}

func (c *Config) Addr() string {
	return net.JoinHostPort(c.Bind, c.Port)
}

func (c *Config) TLSEnabled() bool {
	return c.TLSCert != "" && c.TLSKey != ""
}

// env collects the first parse error so Load can report it with the
// variable name.
type env struct {
	get func(string) string
	err error
}

func (e *env) str(key, def string) string {
	if v := strings.TrimSpace(e.get(key)); v != "" {
		return v
	}
	return def
}

func (e *env) number(key string, def int) int {
	v := e.str(key, "")
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		e.fail(key, v, err)
		return def
	}
	return n
}

func (e *env) duration(key string, def time.Duration) time.Duration {
	v := e.str(key, "")
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		e.fail(key, v, err)
		return def
	}
	return d
}

func (e *env) flag(key string, def bool) bool {
	v := e.str(key, "")
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		e.fail(key, v, err)
		return def
	}
	return b
}

func (e *env) list(key string) []string {
	var out []string
	for _, part := range strings.Split(e.get(key), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func (e *env) fail(key, value string, err error) {
	if e.err == nil {
		e.err = fmt.Errorf("%w: %s=%q: %v", ErrInvalidConfig, key, value, err)
	}
}
