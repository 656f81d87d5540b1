package realtime

import "time"

// Config defines fields used for parsing from environment variables
type Config struct {
	SendBuffer     int           `env:"WS_SEND_BUFFER" envDefault:"256"`
	WriteWait      time.Duration `env:"WS_WRITE_WAIT" envDefault:"10s"`
	PongWait       time.Duration `env:"WS_PONG_WAIT" envDefault:"60s"`
	MaxMessageSize int64         `env:"WS_MAX_MESSAGE_SIZE" envDefault:"65536"`
	RequireToken   bool          `env:"WS_REQUIRE_TOKEN" envDefault:"true"`
	AllowedOrigins []string      `env:"CORS_ORIGINS" envDefault:"*" envSeparator:","`
}

// DefaultConfig mirrors the env defaults
func DefaultConfig() Config {
	return Config{
		SendBuffer:     256,
		WriteWait:      10 * time.Second,
		PongWait:       60 * time.Second,
		MaxMessageSize: 64 << 10,
		RequireToken:   true,
		AllowedOrigins: []string{"*"},
	}
}

// pingPeriod must stay below PongWait
func (c Config) pingPeriod() time.Duration {
	return c.PongWait * 9 / 10
}
