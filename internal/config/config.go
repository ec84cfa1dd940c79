package config

import "time"

// Config holds client configuration values.
type Config struct {
	APIBaseURL     string           `mapstructure:"api_base_url" yaml:"api_base_url"`
	BrokerURL      string           `mapstructure:"broker_url" yaml:"broker_url"`
	Token          string           `mapstructure:"token" yaml:"token"`
	Nickname       string           `mapstructure:"nickname" yaml:"nickname"`
	LogLevel       string           `mapstructure:"log_level" yaml:"log_level"`
	RequestTimeout time.Duration    `mapstructure:"request_timeout" yaml:"request_timeout"`
	HeartBeat      time.Duration    `mapstructure:"heartbeat" yaml:"heartbeat"`
	Reconnect      ReconnectConfig  `mapstructure:"reconnect" yaml:"reconnect"`
	Outbox         OutboxConfig     `mapstructure:"outbox" yaml:"outbox"`
	Moderation     ModerationConfig `mapstructure:"moderation" yaml:"moderation"`
}

// ReconnectConfig bounds the broker reconnect policy.
type ReconnectConfig struct {
	InitialDelay time.Duration `mapstructure:"initial_delay" yaml:"initial_delay"`
	MaxDelay     time.Duration `mapstructure:"max_delay" yaml:"max_delay"`
	Multiplier   float64       `mapstructure:"multiplier" yaml:"multiplier"`
	MaxAttempts  int           `mapstructure:"max_attempts" yaml:"max_attempts"`
	MaxElapsed   time.Duration `mapstructure:"max_elapsed" yaml:"max_elapsed"`
}

// OutboxConfig caps publish attempts per message. AckTimeout is how long a
// published message may wait for its echo before it is marked failed.
type OutboxConfig struct {
	MaxAttempts int           `mapstructure:"max_attempts" yaml:"max_attempts"`
	AckTimeout  time.Duration `mapstructure:"ack_timeout" yaml:"ack_timeout"`
}

// ModerationConfig controls report deduplication.
// An empty LedgerPath keeps the cooldown ledger in memory.
type ModerationConfig struct {
	Cooldown   time.Duration `mapstructure:"cooldown" yaml:"cooldown"`
	LedgerPath string        `mapstructure:"ledger_path" yaml:"ledger_path"`
}

// Default returns configuration pointing at a local development backend.
func Default() Config {
	return Config{
		APIBaseURL:     "http://localhost:8080",
		BrokerURL:      "ws://localhost:8080/ws-chat/websocket",
		LogLevel:       "info",
		RequestTimeout: 10 * time.Second,
		HeartBeat:      10 * time.Second,
		Reconnect: ReconnectConfig{
			InitialDelay: time.Second,
			MaxDelay:     30 * time.Second,
			Multiplier:   2,
			MaxAttempts:  8,
			MaxElapsed:   2 * time.Minute,
		},
		Outbox: OutboxConfig{
			MaxAttempts: 3,
			AckTimeout:  15 * time.Second,
		},
		Moderation: ModerationConfig{
			Cooldown: time.Minute,
		},
	}
}

// UpdateFrom overwrites non-zero values from other config into receiver.
func (c *Config) UpdateFrom(other Config) {
	if other.APIBaseURL != "" {
		c.APIBaseURL = other.APIBaseURL
	}
	if other.BrokerURL != "" {
		c.BrokerURL = other.BrokerURL
	}
	if other.Token != "" {
		c.Token = other.Token
	}
	if other.Nickname != "" {
		c.Nickname = other.Nickname
	}
	if other.LogLevel != "" {
		c.LogLevel = other.LogLevel
	}
	if other.RequestTimeout != 0 {
		c.RequestTimeout = other.RequestTimeout
	}
	if other.HeartBeat != 0 {
		c.HeartBeat = other.HeartBeat
	}
	if other.Reconnect.InitialDelay != 0 {
		c.Reconnect.InitialDelay = other.Reconnect.InitialDelay
	}
	if other.Reconnect.MaxDelay != 0 {
		c.Reconnect.MaxDelay = other.Reconnect.MaxDelay
	}
	if other.Reconnect.Multiplier != 0 {
		c.Reconnect.Multiplier = other.Reconnect.Multiplier
	}
	if other.Reconnect.MaxAttempts != 0 {
		c.Reconnect.MaxAttempts = other.Reconnect.MaxAttempts
	}
	if other.Reconnect.MaxElapsed != 0 {
		c.Reconnect.MaxElapsed = other.Reconnect.MaxElapsed
	}
	if other.Outbox.MaxAttempts != 0 {
		c.Outbox.MaxAttempts = other.Outbox.MaxAttempts
	}
	if other.Outbox.AckTimeout != 0 {
		c.Outbox.AckTimeout = other.Outbox.AckTimeout
	}
	if other.Moderation.Cooldown != 0 {
		c.Moderation.Cooldown = other.Moderation.Cooldown
	}
	if other.Moderation.LedgerPath != "" {
		c.Moderation.LedgerPath = other.Moderation.LedgerPath
	}
}
