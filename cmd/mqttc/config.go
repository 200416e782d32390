package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/vitalvas/mqtt"
	"github.com/vitalvas/mqtt/mongostore"
)

type storeConfig struct {
	// Type is one of memory, file or mongo. Empty disables persistence.
	Type       string `toml:"type"`
	Dir        string `toml:"dir"`
	URI        string `toml:"uri"`
	Database   string `toml:"database"`
	Collection string `toml:"collection"`
}

type proxyConfig struct {
	URL      string `toml:"url"`
	Username string `toml:"username"`
	Password string `toml:"password"`
	FromEnv  bool   `toml:"from_env"`
}

type willConfig struct {
	Topic   string `toml:"topic"`
	Payload string `toml:"payload"`
	QoS     byte   `toml:"qos"`
	Retain  bool   `toml:"retain"`
}

type reconnectConfig struct {
	Enabled     bool   `toml:"enabled"`
	MaxAttempts int    `toml:"max_attempts"`
	Backoff     string `toml:"backoff"`
	MaxBackoff  string `toml:"max_backoff"`
	// Servers are fallback URIs tried in turn.
	Servers []string `toml:"servers"`
}

type fileConfig struct {
	Server         string          `toml:"server"`
	ClientID       string          `toml:"client_id"`
	Protocol       string          `toml:"protocol"`
	Username       string          `toml:"username"`
	Password       string          `toml:"password"`
	KeepAlive      uint16          `toml:"keep_alive"`
	CleanStart     bool            `toml:"clean_start"`
	ConnectTimeout string          `toml:"connect_timeout"`
	RetryInterval  string          `toml:"retry_interval"`
	MaxInflight    int             `toml:"max_inflight"`
	SessionExpiry  uint32          `toml:"session_expiry"`
	LogLevel       string          `toml:"log_level"`
	Store          storeConfig     `toml:"store"`
	Proxy          proxyConfig     `toml:"proxy"`
	Will           willConfig      `toml:"will"`
	Reconnect      reconnectConfig `toml:"reconnect"`
}

// Config is the resolved client configuration.
type Config struct {
	Server         string
	ClientID       string
	Protocol       mqtt.ProtocolVersion
	Username       string
	Password       string
	KeepAlive      uint16
	CleanStart     bool
	ConnectTimeout time.Duration
	RetryInterval  time.Duration
	MaxInflight    int
	SessionExpiry  uint32
	LogLevel       mqtt.LogLevel
	Store          storeConfig
	Proxy          proxyConfig
	Will           *willConfig
	Reconnect      reconnectConfig
	ReconnectDelay time.Duration
	MaxBackoff     time.Duration
}

func defaultConfig() Config {
	return Config{
		Server:         "tcp://localhost:1883",
		ClientID:       "mqttc",
		Protocol:       mqtt.ProtocolV311,
		KeepAlive:      60,
		CleanStart:     true,
		ConnectTimeout: 30 * time.Second,
		RetryInterval:  20 * time.Second,
		MaxInflight:    10,
		LogLevel:       mqtt.LogLevelWarn,
	}
}

func loadConfig(path string) (Config, error) {
	cfg := defaultConfig()
	if path == "" {
		return cfg, nil
	}

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return Config{}, fmt.Errorf("load config: %w", err)
	}

	if meta.IsDefined("server") {
		cfg.Server = strings.TrimSpace(raw.Server)
	}
	if meta.IsDefined("client_id") {
		cfg.ClientID = strings.TrimSpace(raw.ClientID)
	}
	if meta.IsDefined("protocol") {
		v, err := parseProtocol(raw.Protocol)
		if err != nil {
			return Config{}, err
		}
		cfg.Protocol = v
	}
	if meta.IsDefined("username") {
		cfg.Username = raw.Username
		cfg.Password = raw.Password
	}
	if meta.IsDefined("keep_alive") {
		cfg.KeepAlive = raw.KeepAlive
	}
	if meta.IsDefined("clean_start") {
		cfg.CleanStart = raw.CleanStart
	}
	if meta.IsDefined("connect_timeout") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.ConnectTimeout))
		if err != nil {
			return Config{}, fmt.Errorf("parse connect_timeout: %w", err)
		}
		cfg.ConnectTimeout = d
	}
	if meta.IsDefined("retry_interval") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.RetryInterval))
		if err != nil {
			return Config{}, fmt.Errorf("parse retry_interval: %w", err)
		}
		cfg.RetryInterval = d
	}
	if meta.IsDefined("max_inflight") {
		cfg.MaxInflight = raw.MaxInflight
	}
	if meta.IsDefined("session_expiry") {
		cfg.SessionExpiry = raw.SessionExpiry
	}
	if meta.IsDefined("log_level") {
		level, err := parseLogLevel(raw.LogLevel)
		if err != nil {
			return Config{}, err
		}
		cfg.LogLevel = level
	}
	if meta.IsDefined("store") {
		cfg.Store = raw.Store
	}
	if meta.IsDefined("proxy") {
		cfg.Proxy = raw.Proxy
	}
	if meta.IsDefined("reconnect") {
		cfg.Reconnect = raw.Reconnect
		if cfg.ReconnectDelay, err = parseOptionalDuration(raw.Reconnect.Backoff); err != nil {
			return Config{}, fmt.Errorf("parse reconnect.backoff: %w", err)
		}
		if cfg.MaxBackoff, err = parseOptionalDuration(raw.Reconnect.MaxBackoff); err != nil {
			return Config{}, fmt.Errorf("parse reconnect.max_backoff: %w", err)
		}
	}
	if meta.IsDefined("will", "topic") {
		w := raw.Will
		cfg.Will = &w
	}

	return cfg, nil
}

func parseOptionalDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	return time.ParseDuration(s)
}

func parseProtocol(s string) (mqtt.ProtocolVersion, error) {
	switch strings.TrimSpace(s) {
	case "3.1", "3":
		return mqtt.ProtocolV31, nil
	case "3.1.1", "4", "":
		return mqtt.ProtocolV311, nil
	case "5", "5.0":
		return mqtt.ProtocolV50, nil
	default:
		return 0, fmt.Errorf("unknown protocol %q", s)
	}
}

func parseLogLevel(s string) (mqtt.LogLevel, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return mqtt.LogLevelDebug, nil
	case "info":
		return mqtt.LogLevelInfo, nil
	case "warn", "warning", "":
		return mqtt.LogLevelWarn, nil
	case "error":
		return mqtt.LogLevelError, nil
	case "none", "off":
		return mqtt.LogLevelNone, nil
	default:
		return 0, fmt.Errorf("unknown log level %q", s)
	}
}

// openStore builds the configured store. The returned cleanup releases
// resources the store does not own, such as a MongoDB client.
func openStore(ctx context.Context, sc storeConfig) (mqtt.Store, func(), error) {
	noop := func() {}

	switch strings.ToLower(sc.Type) {
	case "", "none":
		return nil, noop, nil
	case "memory":
		return mqtt.NewMemoryStore(), noop, nil
	case "file":
		if sc.Dir == "" {
			return nil, nil, fmt.Errorf("store: dir is required for file store")
		}
		return mqtt.NewFileStore(sc.Dir), noop, nil
	case "mongo":
		database := sc.Database
		if database == "" {
			database = "mqtt"
		}
		store, client, err := mongostore.Connect(ctx, sc.URI, database, sc.Collection)
		if err != nil {
			return nil, nil, fmt.Errorf("store: %w", err)
		}
		return store, func() { _ = client.Disconnect(context.Background()) }, nil
	default:
		return nil, nil, fmt.Errorf("store: unknown type %q", sc.Type)
	}
}

// options converts cfg into client options.
func (cfg Config) options(logger mqtt.Logger, store mqtt.Store) []mqtt.Option {
	opts := []mqtt.Option{
		mqtt.WithProtocolVersion(cfg.Protocol),
		mqtt.WithKeepAlive(cfg.KeepAlive),
		mqtt.WithCleanStart(cfg.CleanStart),
		mqtt.WithConnectTimeout(cfg.ConnectTimeout),
		mqtt.WithRetryInterval(cfg.RetryInterval),
		mqtt.WithMaxInflight(cfg.MaxInflight),
		mqtt.WithLogger(logger),
	}
	if cfg.Username != "" {
		opts = append(opts, mqtt.WithCredentials(cfg.Username, cfg.Password))
	}
	if cfg.SessionExpiry > 0 {
		opts = append(opts, mqtt.WithSessionExpiryInterval(cfg.SessionExpiry))
	}
	if store != nil {
		opts = append(opts, mqtt.WithStore(store))
	}
	if cfg.Proxy.URL != "" {
		opts = append(opts, mqtt.WithProxy(cfg.Proxy.URL, cfg.Proxy.Username, cfg.Proxy.Password))
	} else if cfg.Proxy.FromEnv {
		opts = append(opts, mqtt.WithProxyFromEnvironment())
	}
	if cfg.Will != nil {
		opts = append(opts, mqtt.WithWill(cfg.Will.Topic, []byte(cfg.Will.Payload), cfg.Will.Retain, cfg.Will.QoS))
	}
	if rc := cfg.Reconnect; rc.Enabled {
		opts = append(opts,
			mqtt.WithAutoReconnect(true),
			mqtt.WithMaxReconnects(rc.MaxAttempts),
			mqtt.WithReconnectBackoff(cfg.ReconnectDelay),
			mqtt.WithMaxBackoff(cfg.MaxBackoff),
			mqtt.WithServers(rc.Servers...),
		)
	}
	return opts
}
