package config

import "time"

// ProxyConfig holds the client-facing listener and upstream relay settings.
type ProxyConfig struct {
	ListenAddr      string        `mapstructure:"LISTEN_ADDR"       json:"listen_addr"       validate:"required,wsaddr"`
	PublicHost      string        `mapstructure:"PUBLIC_HOST"       json:"public_host"       validate:"required"`
	UpstreamURL     string        `mapstructure:"UPSTREAM_URL"      json:"upstream_url"      validate:"required,wsurl"`
	DrainInterval   time.Duration `mapstructure:"DRAIN_INTERVAL"    json:"drain_interval"    validate:"required,min=1ms,max=10s"`
	MaxQueuedFrames int           `mapstructure:"MAX_QUEUED_FRAMES" json:"max_queued_frames" validate:"required,min=1,max=1000000"`
	MaxConnections  int           `mapstructure:"MAX_CONNECTIONS"   json:"max_connections"   validate:"required,min=1,max=100000"`
	MaxFrameBytes   int64         `mapstructure:"MAX_FRAME_BYTES"   json:"max_frame_bytes"   validate:"required,min=1024,max=33554432"`
	DialTimeout     time.Duration `mapstructure:"DIAL_TIMEOUT"      json:"dial_timeout"      validate:"required,timeout_duration"`
	WriteTimeout    time.Duration `mapstructure:"WRITE_TIMEOUT"     json:"write_timeout"     validate:"required,timeout_duration"`

	// Per client IP limits on new connections. A zero rate disables them.
	ConnectRate  float64       `mapstructure:"CONNECT_RATE"  json:"connect_rate"  validate:"min=0"`
	ConnectBurst int           `mapstructure:"CONNECT_BURST" json:"connect_burst" validate:"min=0,max=10000"`
	BanThreshold int           `mapstructure:"BAN_THRESHOLD" json:"ban_threshold" validate:"min=0"`
	BanDuration  time.Duration `mapstructure:"BAN_DURATION"  json:"ban_duration"  validate:"omitempty,reasonable_duration"`
}
