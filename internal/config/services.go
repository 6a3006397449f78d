package config

import "time"

// BalanceConfig selects the balance lookup backend.
type BalanceConfig struct {
	Backend string        `mapstructure:"BACKEND" json:"backend" validate:"required,oneof=http postgres"`
	URL     string        `mapstructure:"URL"     json:"url"     validate:"omitempty,url"`
	Timeout time.Duration `mapstructure:"TIMEOUT" json:"timeout" validate:"required,timeout_duration"`
}

// DMConfig holds the payment-prompt direct message settings.
type DMConfig struct {
	Relays     []string      `mapstructure:"RELAYS"      json:"relays"      validate:"omitempty,dive,wsurl"`
	Message    string        `mapstructure:"MESSAGE"     json:"message"     validate:"required"`
	PaymentURL string        `mapstructure:"PAYMENT_URL" json:"payment_url" validate:"omitempty"`
	Timeout    time.Duration `mapstructure:"TIMEOUT"     json:"timeout"     validate:"required,timeout_duration"`
}

// SpamConfig holds the spam classification settings.
type SpamConfig struct {
	Enabled       bool          `mapstructure:"ENABLED"         json:"enabled"`
	URL           string        `mapstructure:"URL"             json:"url"             validate:"omitempty,url"`
	Kinds         []int         `mapstructure:"KINDS"           json:"kinds"           validate:"omitempty,dive,min=0,max=65535"`
	Timeout       time.Duration `mapstructure:"TIMEOUT"         json:"timeout"         validate:"required,timeout_duration"`
	RatePerSecond float64       `mapstructure:"RATE_PER_SECOND" json:"rate_per_second" validate:"min=0"`
	Burst         int           `mapstructure:"BURST"           json:"burst"           validate:"min=0,max=10000"`
	Workers       int           `mapstructure:"WORKERS"         json:"workers"         validate:"required,min=1,max=256"`
	QueueSize     int           `mapstructure:"QUEUE_SIZE"      json:"queue_size"      validate:"required,min=1,max=1000000"`
}

// PaymentsConfig holds the payment webhook settings.
type PaymentsConfig struct {
	WebhookSecret string `mapstructure:"WEBHOOK_SECRET" json:"-"`
	RedisURL      string `mapstructure:"REDIS_URL"      json:"redis_url"      validate:"omitempty"`
	RedisChannel  string `mapstructure:"REDIS_CHANNEL"  json:"redis_channel"  validate:"required"`
}
