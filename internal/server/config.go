package server

import (
	"net/http"
	"strconv"
	"time"
)

type Option interface {
	apply(*config)
}

type optionFunc func(c *config)

func (f optionFunc) apply(c *config) { f(c) }

// config defines fields used for configuring Server instance
type config struct {
	httpServer      *http.Server
	corsOrigins     []string
	apiTimeout      time.Duration
	shutdownTimeout time.Duration
	afterShutdown   []func()
}

func defaultConfig() *config {
	return &config{
		httpServer:      &http.Server{Addr: "0.0.0.0:9000"},
		corsOrigins:     []string{"*"},
		apiTimeout:      15 * time.Second,
		shutdownTimeout: 10 * time.Second,
	}
}

// EnvConfig defines fields used for parsing from environment variables
type EnvConfig struct {
	Host            string        `env:"HOST" envDefault:"0.0.0.0"`
	Port            uint16        `env:"PORT" envDefault:"9000"`
	CORSOrigins     []string      `env:"CORS_ORIGINS" envDefault:"*" envSeparator:","`
	APITimeout      time.Duration `env:"API_TIMEOUT" envDefault:"15s"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`
}

// WithEnvConfig enables processing exported EnvConfig struct to acts as a source of config parameters for http.Server
func WithEnvConfig(cfg EnvConfig) Option {
	return optionFunc(func(c *config) {
		c.httpServer.Addr = cfg.Host + ":" + strconv.FormatUint(uint64(cfg.Port), 10)
		if len(cfg.CORSOrigins) > 0 {
			c.corsOrigins = cfg.CORSOrigins
		}
		if cfg.APITimeout > 0 {
			c.apiTimeout = cfg.APITimeout
		}
		if cfg.ShutdownTimeout > 0 {
			c.shutdownTimeout = cfg.ShutdownTimeout
		}
	})
}

// ReadHeaderTimeout sets read header timeout for http.Server.
// A full read timeout would cut long-lived websocket connections.
func ReadHeaderTimeout(d time.Duration) Option {
	return optionFunc(func(c *config) {
		c.httpServer.ReadHeaderTimeout = d
	})
}

// RegisterAfterShutdown registers a function to call after http.Server shutdown
// f will not be called in separated goroutine
func RegisterAfterShutdown(f func()) Option {
	return optionFunc(func(c *config) {
		c.afterShutdown = append(c.afterShutdown, f)
	})
}
