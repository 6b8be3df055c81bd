package config

import "time"

type Config struct {
	Server    ServerConfig
	Transport TransportConfig
	Room      RoomConfig
	Session   SessionConfig
	Broadcast BroadcastConfig
	Limits    LimitsConfig
	LogLevel  string `mapstructure:"logLevel"`
}

type ServerConfig struct {
	Address         string
	ShutdownTimeout time.Duration `mapstructure:"shutdownTimeout"`
}

type TransportConfig struct {
	// ReadTimeout is deliberately generous so backgrounded mobile tabs
	// survive between keep-alive frames.
	ReadTimeout time.Duration `mapstructure:"readTimeout"`
}

type RoomConfig struct {
	// GracePeriod is how long a disconnected non-host player's slot is
	// reserved before permanent removal.
	GracePeriod time.Duration `mapstructure:"gracePeriod"`
	MaxMessages int           `mapstructure:"maxMessages"`
}

type SessionConfig struct {
	// TTL is the inactivity window after which a session token expires.
	TTL       time.Duration `mapstructure:"ttl"`
	JWTSecret string        `mapstructure:"jwtSecret"`
}

type BroadcastConfig struct {
	// MinInterval is the floor between consecutive room-state broadcasts
	// for a single room. 100ms == 10 broadcasts/second.
	MinInterval time.Duration `mapstructure:"minInterval"`
}

type LimitsConfig struct {
	// EventsPerWindow/EventWindow bound how many events one connection may
	// emit before being told to slow down.
	EventsPerWindow int           `mapstructure:"eventsPerWindow"`
	EventWindow     time.Duration `mapstructure:"eventWindow"`
	// ConnsPerWindow/ConnWindow bound websocket upgrades per client IP.
	ConnsPerWindow int           `mapstructure:"connsPerWindow"`
	ConnWindow     time.Duration `mapstructure:"connWindow"`
}
