package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

const (
	envConfigDefaultPath = "MINDMATE_CONFIG_DEFAULT_PATH"
	defaultConfigName    = "mindmate.yaml"
)

// Load builds configuration from defaults, optional config file, env vars, and returns the resolved path.
// Precedence: defaults < config file < env vars < caller overrides.
func Load(logger *zerolog.Logger, explicitPath string) (Config, string, error) {
	cfg := Default()

	v := viper.New()
	v.SetConfigType("yaml")
	setDefaults(v, cfg)

	v.SetEnvPrefix("MINDMATE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	configPath := resolveConfigPath(explicitPath)
	v.SetConfigFile(configPath)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) || errors.Is(err, os.ErrNotExist) {
			if writeErr := writeDefaultConfig(configPath, cfg); writeErr != nil && logger != nil {
				logger.Warn().Err(writeErr).Str("path", configPath).Msg("failed to write default config")
			} else if logger != nil {
				logger.Info().Str("path", configPath).Msg("created default config")
			}
			if readErr := v.ReadInConfig(); readErr != nil && logger != nil {
				logger.Warn().Err(readErr).Str("path", configPath).Msg("failed to read config after writing default")
			}
		} else {
			return cfg, configPath, fmt.Errorf("read config: %w", err)
		}
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, configPath, fmt.Errorf("unmarshal config: %w", err)
	}

	return cfg, configPath, nil
}

// setDefaults registers every key so AutomaticEnv can resolve nested values
// such as MINDMATE_RECONNECT_MAX_ATTEMPTS.
func setDefaults(v *viper.Viper, cfg Config) {
	v.SetDefault("api_base_url", cfg.APIBaseURL)
	v.SetDefault("broker_url", cfg.BrokerURL)
	v.SetDefault("token", cfg.Token)
	v.SetDefault("nickname", cfg.Nickname)
	v.SetDefault("log_level", cfg.LogLevel)
	v.SetDefault("request_timeout", cfg.RequestTimeout)
	v.SetDefault("heartbeat", cfg.HeartBeat)
	v.SetDefault("reconnect.initial_delay", cfg.Reconnect.InitialDelay)
	v.SetDefault("reconnect.max_delay", cfg.Reconnect.MaxDelay)
	v.SetDefault("reconnect.multiplier", cfg.Reconnect.Multiplier)
	v.SetDefault("reconnect.max_attempts", cfg.Reconnect.MaxAttempts)
	v.SetDefault("reconnect.max_elapsed", cfg.Reconnect.MaxElapsed)
	v.SetDefault("outbox.max_attempts", cfg.Outbox.MaxAttempts)
	v.SetDefault("outbox.ack_timeout", cfg.Outbox.AckTimeout)
	v.SetDefault("moderation.cooldown", cfg.Moderation.Cooldown)
	v.SetDefault("moderation.ledger_path", cfg.Moderation.LedgerPath)
}

func resolveConfigPath(explicitPath string) string {
	if explicitPath != "" {
		return explicitPath
	}

	if base := os.Getenv(envConfigDefaultPath); base != "" {
		if err := os.MkdirAll(base, 0o755); err == nil {
			return filepath.Join(base, defaultConfigName)
		}
	}

	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "mindmate", defaultConfigName)
	}

	cwd, err := os.Getwd()
	if err != nil {
		return defaultConfigName
	}
	return filepath.Join(cwd, defaultConfigName)
}

// writeDefaultConfig never persists the token: it is a credential owned by the
// auth collaborator.
func writeDefaultConfig(path string, cfg Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	cfg.Token = ""
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}
