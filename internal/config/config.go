// Package config loads process settings from PYSHARE_* environment variables, then
// lets command-line flags override them.
package config

import (
	"errors"
	"flag"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// Server holds coordinator process configuration.
type Server struct {
	HTTPAddr        string        `env:"PYSHARE_HTTP_ADDR"         envDefault:":3000"`
	AllowedOrigins  []string      `env:"PYSHARE_ALLOWED_ORIGINS"   envDefault:"http://localhost:5173" envSeparator:","`
	StaticDir       string        `env:"PYSHARE_STATIC_DIR"`
	RedisAddr       string        `env:"PYSHARE_REDIS_ADDR"`
	RedisKey        string        `env:"PYSHARE_REDIS_KEY"`
	MaxMessageBytes int64         `env:"PYSHARE_MAX_MESSAGE_BYTES" envDefault:"0"`
	MDNS            bool          `env:"PYSHARE_MDNS"              envDefault:"false"`
	ShutdownTimeout time.Duration `env:"PYSHARE_SHUTDOWN_TIMEOUT"  envDefault:"5s"`
}

// Client holds terminal client configuration.
type Client struct {
	URL            string        `env:"PYSHARE_URL"`
	Origin         string        `env:"PYSHARE_ORIGIN"`
	Discover       bool          `env:"PYSHARE_DISCOVER"          envDefault:"false"`
	DiscoverWait   time.Duration `env:"PYSHARE_DISCOVER_WAIT"     envDefault:"5s"`
	ReconnectDelay time.Duration `env:"PYSHARE_RECONNECT_DELAY"   envDefault:"1s"`
	ReconnectMax   time.Duration `env:"PYSHARE_RECONNECT_MAX"     envDefault:"5s"`
	ReconnectTries int           `env:"PYSHARE_RECONNECT_ATTEMPTS" envDefault:"5"`
}

// ParseEnv loads configuration from environment variables.
func ParseEnv(target any) error {
	if err := env.Parse(target); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// ParseServer parses environment and flags into a Server config.
func ParseServer(fs *flag.FlagSet, args []string) (Server, error) {
	var cfg Server
	if err := ParseEnv(&cfg); err != nil {
		return Server{}, err
	}

	origins := strings.Join(cfg.AllowedOrigins, ",")
	fs.StringVar(&cfg.HTTPAddr, "http-addr", cfg.HTTPAddr, "HTTP listen address")
	fs.StringVar(&origins, "allowed-origins", origins, "comma separated browser origins, * for any")
	fs.StringVar(&cfg.StaticDir, "static-dir", cfg.StaticDir, "directory served at /")
	fs.StringVar(&cfg.RedisAddr, "redis-addr", cfg.RedisAddr, "redis address; empty keeps the buffer in memory")
	fs.StringVar(&cfg.RedisKey, "redis-key", cfg.RedisKey, "redis key holding the buffer; empty selects pyshare:buffer")
	fs.Int64Var(&cfg.MaxMessageBytes, "max-message-bytes", cfg.MaxMessageBytes, "inbound frame limit, 0 for none")
	fs.BoolVar(&cfg.MDNS, "mdns", cfg.MDNS, "announce the coordinator over mDNS")
	fs.DurationVar(&cfg.ShutdownTimeout, "shutdown-timeout", cfg.ShutdownTimeout, "graceful shutdown timeout")
	if err := parseArgs(fs, args); err != nil {
		return Server{}, err
	}
	cfg.AllowedOrigins = splitList(origins)
	if cfg.MaxMessageBytes < 0 {
		return Server{}, errors.New("max-message-bytes must be >= 0")
	}
	return cfg, nil
}

// ParseClient parses environment and flags into a Client config.
func ParseClient(fs *flag.FlagSet, args []string) (Client, error) {
	var cfg Client
	if err := ParseEnv(&cfg); err != nil {
		return Client{}, err
	}

	fs.StringVar(&cfg.URL, "url", cfg.URL, "coordinator live channel URL, e.g. ws://localhost:3000/ws")
	fs.StringVar(&cfg.Origin, "origin", cfg.Origin, "Origin header sent on the handshake")
	fs.BoolVar(&cfg.Discover, "discover", cfg.Discover, "find the coordinator over mDNS when no url is set")
	fs.DurationVar(&cfg.DiscoverWait, "discover-wait", cfg.DiscoverWait, "how long to browse for a coordinator")
	fs.DurationVar(&cfg.ReconnectDelay, "reconnect-delay", cfg.ReconnectDelay, "initial reconnect delay")
	fs.DurationVar(&cfg.ReconnectMax, "reconnect-max", cfg.ReconnectMax, "maximum reconnect delay")
	fs.IntVar(&cfg.ReconnectTries, "reconnect-attempts", cfg.ReconnectTries, "reconnect attempts, 0 for unlimited")
	if err := parseArgs(fs, args); err != nil {
		return Client{}, err
	}
	if cfg.URL == "" && !cfg.Discover {
		return Client{}, errors.New("either -url or -discover is required")
	}
	if cfg.ReconnectTries < 0 {
		return Client{}, errors.New("reconnect-attempts must be >= 0")
	}
	return cfg, nil
}

func parseArgs(fs *flag.FlagSet, args []string) error {
	if fs == nil {
		return errors.New("flag parser is required")
	}
	if args == nil {
		args = []string{}
	}
	return fs.Parse(args)
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
