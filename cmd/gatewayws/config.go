package main

import (
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/pkg/errors"

	"github.com/sonirico/gatewayws"
)

const (
	EnvDeveloperID          = "DEVELOPER_ID"
	EnvAPIKey               = "API_KEY"
	EnvAuthURL              = "GATEWAYWS_AUTH_URL"
	EnvConnectURL           = "GATEWAYWS_CONNECT_URL"
	EnvLogLevel             = "GATEWAYWS_LOG_LEVEL"
	EnvMetricsAddr          = "GATEWAYWS_METRICS_ADDR"
	EnvNATSURL              = "GATEWAYWS_NATS_URL"
	EnvNATSSubject          = "GATEWAYWS_NATS_SUBJECT"
	EnvHeartbeatJitterRatio = "GATEWAYWS_HEARTBEAT_JITTER_RATIO"
)

type config struct {
	DeveloperID          string  `toml:"developer_id"`
	APIKey               string  `toml:"api_key"`
	AuthURL              string  `toml:"auth_url"`
	ConnectURL           string  `toml:"connect_url"`
	LogLevel             string  `toml:"log_level"`
	MetricsAddr          string  `toml:"metrics_addr"`
	NATSURL              string  `toml:"nats_url"`
	NATSSubject          string  `toml:"nats_subject"`
	HeartbeatJitterRatio float64 `toml:"heartbeat_jitter_ratio"`
}

func defaultConfig() config {
	return config{
		AuthURL:              gatewayws.DefaultAuthURL,
		ConnectURL:           gatewayws.DefaultConnectURL,
		LogLevel:             "info",
		NATSSubject:          gatewayws.DefaultNATSSubjectPrefix,
		HeartbeatJitterRatio: gatewayws.DefaultHeartbeatJitterRatio,
	}
}

// loadConfig layers the optional TOML file at path and then the environment over the defaults.
func loadConfig(path string, getenv func(string) string) (config, error) {
	cfg := defaultConfig()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return config{}, errors.Wrapf(err, "load config %s", path)
		}
	}

	if err := applyEnv(&cfg, getenv); err != nil {
		return config{}, err
	}

	return cfg, cfg.validate()
}

func applyEnv(cfg *config, getenv func(string) string) error {
	set := func(key string, dst *string) {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			*dst = v
		}
	}
	set(EnvDeveloperID, &cfg.DeveloperID)
	set(EnvAPIKey, &cfg.APIKey)
	set(EnvAuthURL, &cfg.AuthURL)
	set(EnvConnectURL, &cfg.ConnectURL)
	set(EnvLogLevel, &cfg.LogLevel)
	set(EnvMetricsAddr, &cfg.MetricsAddr)
	set(EnvNATSURL, &cfg.NATSURL)
	set(EnvNATSSubject, &cfg.NATSSubject)

	if raw := strings.TrimSpace(getenv(EnvHeartbeatJitterRatio)); raw != "" {
		ratio, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return errors.Wrapf(err, "parse %s", EnvHeartbeatJitterRatio)
		}
		cfg.HeartbeatJitterRatio = ratio
	}
	return nil
}

func (c config) validate() error {
	var missing []string
	if c.DeveloperID == "" {
		missing = append(missing, EnvDeveloperID)
	}
	if c.APIKey == "" {
		missing = append(missing, EnvAPIKey)
	}
	if len(missing) > 0 {
		return errors.Wrapf(gatewayws.ErrMissingCredentials, "set %s", strings.Join(missing, " and "))
	}
	if c.HeartbeatJitterRatio < 0 {
		return errors.Errorf("heartbeat_jitter_ratio must not be negative, got %v", c.HeartbeatJitterRatio)
	}
	return nil
}
