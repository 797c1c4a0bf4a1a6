package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix            = "SYNCNOTE"
	defaultHTTPAddress   = "0.0.0.0:8080"
	defaultDatabasePath  = "syncnote.db"
	defaultServerDBPath  = "syncnote-server.db"
	defaultRemoteBaseURL = "http://127.0.0.1:8080"
	defaultLogLevel      = "info"
	defaultTimeout       = 30
	defaultMaxResponseMB = 64
	defaultInterval      = 0
	defaultAuthIssuer    = "syncnote-auth"
	defaultAuthAudience  = "syncnote-api"
	defaultTokenTTL      = 30
)

// Viper keys shared by the CLI flag bindings.
const (
	KeyLogLevel             = "log.level"
	KeyDatabasePath         = "database.path"
	KeyRemoteBaseURL        = "remote.base_url"
	KeyRemoteToken          = "remote.token"
	KeyRemoteTimeoutSeconds = "remote.timeout_seconds"
	KeyRemoteMaxResponseMB  = "remote.max_response_megabytes"
	KeySyncIntervalSeconds  = "sync.interval_seconds"
	KeyHTTPAddress          = "http.address"
	KeyServerDatabasePath   = "server.database_path"
	KeyAuthSigningSecret    = "auth.signing_secret"
	KeyAuthIssuer           = "auth.issuer"
	KeyAuthAudience         = "auth.audience"
	KeyTokenTTLMinutes      = "token.ttl_minutes"
)

// ClientConfig captures runtime configuration for a syncing device.
type ClientConfig struct {
	DatabasePath  string
	RemoteBaseURL string
	RemoteToken   string
	RemoteTimeout time.Duration
	// RemoteMaxResponseBytes caps one response body, the full first pull included.
	RemoteMaxResponseBytes int64
	// SyncInterval is zero for a single cycle.
	SyncInterval time.Duration
	LogLevel     string
}

// ServerConfig captures runtime configuration for the sync API server.
type ServerConfig struct {
	HTTPAddress   string
	DatabasePath  string
	SigningSecret string
	Issuer        string
	Audience      string
	TokenTTL      time.Duration
	LogLevel      string
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// ApplyDefaults configures defaults and env bindings on the provided viper instance.
func ApplyDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()

	configViper.SetDefault(KeyLogLevel, defaultLogLevel)
	configViper.SetDefault(KeyDatabasePath, defaultDatabasePath)
	configViper.SetDefault(KeyRemoteBaseURL, defaultRemoteBaseURL)
	configViper.SetDefault(KeyRemoteTimeoutSeconds, defaultTimeout)
	configViper.SetDefault(KeyRemoteMaxResponseMB, defaultMaxResponseMB)
	configViper.SetDefault(KeySyncIntervalSeconds, defaultInterval)
	configViper.SetDefault(KeyHTTPAddress, defaultHTTPAddress)
	configViper.SetDefault(KeyServerDatabasePath, defaultServerDBPath)
	configViper.SetDefault(KeyAuthIssuer, defaultAuthIssuer)
	configViper.SetDefault(KeyAuthAudience, defaultAuthAudience)
	configViper.SetDefault(KeyTokenTTLMinutes, defaultTokenTTL)
}

// LoadLocal parses the device configuration needed to inspect the local store only.
func LoadLocal(configViper *viper.Viper) (ClientConfig, error) {
	cfg := readClient(configViper)
	if cfg.DatabasePath == "" {
		return ClientConfig{}, fmt.Errorf("%s is required", KeyDatabasePath)
	}
	return cfg, nil
}

// LoadClient parses device configuration from viper.
func LoadClient(configViper *viper.Viper) (ClientConfig, error) {
	cfg := readClient(configViper)
	if err := cfg.validate(); err != nil {
		return ClientConfig{}, err
	}
	return cfg, nil
}

func readClient(configViper *viper.Viper) ClientConfig {
	return ClientConfig{
		DatabasePath:           strings.TrimSpace(configViper.GetString(KeyDatabasePath)),
		RemoteBaseURL:          strings.TrimSpace(configViper.GetString(KeyRemoteBaseURL)),
		RemoteToken:            strings.TrimSpace(configViper.GetString(KeyRemoteToken)),
		RemoteTimeout:          time.Duration(configViper.GetInt(KeyRemoteTimeoutSeconds)) * time.Second,
		RemoteMaxResponseBytes: configViper.GetInt64(KeyRemoteMaxResponseMB) << 20,
		SyncInterval:           time.Duration(configViper.GetInt(KeySyncIntervalSeconds)) * time.Second,
		LogLevel:               configViper.GetString(KeyLogLevel),
	}
}

func (c ClientConfig) validate() error {
	if c.DatabasePath == "" {
		return fmt.Errorf("%s is required", KeyDatabasePath)
	}
	if c.RemoteBaseURL == "" {
		return fmt.Errorf("%s is required", KeyRemoteBaseURL)
	}
	parsed, err := url.Parse(c.RemoteBaseURL)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return fmt.Errorf("%s must be an absolute url", KeyRemoteBaseURL)
	}
	if c.RemoteToken == "" {
		return fmt.Errorf("%s is required", KeyRemoteToken)
	}
	if c.RemoteTimeout <= 0 {
		return fmt.Errorf("%s must be positive", KeyRemoteTimeoutSeconds)
	}
	if c.RemoteMaxResponseBytes <= 0 {
		return fmt.Errorf("%s must be positive", KeyRemoteMaxResponseMB)
	}
	if c.SyncInterval < 0 {
		return fmt.Errorf("%s must not be negative", KeySyncIntervalSeconds)
	}
	return nil
}

// LoadServer parses server configuration from viper.
func LoadServer(configViper *viper.Viper) (ServerConfig, error) {
	cfg := ServerConfig{
		HTTPAddress:   strings.TrimSpace(configViper.GetString(KeyHTTPAddress)),
		DatabasePath:  strings.TrimSpace(configViper.GetString(KeyServerDatabasePath)),
		SigningSecret: configViper.GetString(KeyAuthSigningSecret),
		Issuer:        strings.TrimSpace(configViper.GetString(KeyAuthIssuer)),
		Audience:      strings.TrimSpace(configViper.GetString(KeyAuthAudience)),
		TokenTTL:      time.Duration(configViper.GetInt(KeyTokenTTLMinutes)) * time.Minute,
		LogLevel:      configViper.GetString(KeyLogLevel),
	}

	if err := cfg.validate(); err != nil {
		return ServerConfig{}, err
	}

	return cfg, nil
}

func (c ServerConfig) validate() error {
	if strings.TrimSpace(c.SigningSecret) == "" {
		return fmt.Errorf("%s is required", KeyAuthSigningSecret)
	}
	if c.HTTPAddress == "" {
		return fmt.Errorf("%s is required", KeyHTTPAddress)
	}
	if c.DatabasePath == "" {
		return fmt.Errorf("%s is required", KeyServerDatabasePath)
	}
	if c.Issuer == "" {
		return fmt.Errorf("%s is required", KeyAuthIssuer)
	}
	if c.Audience == "" {
		return fmt.Errorf("%s is required", KeyAuthAudience)
	}
	if c.TokenTTL <= 0 {
		return fmt.Errorf("%s must be positive", KeyTokenTTLMinutes)
	}
	return nil
}
