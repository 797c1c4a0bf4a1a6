package config

import (
	"strings"
	"testing"
	"time"
)

func TestLoadClientAppliesDefaults(t *testing.T) {
	configViper := NewViper()
	configViper.Set(KeyRemoteToken, "device-token")

	cfg, err := LoadClient(configViper)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.DatabasePath != defaultDatabasePath || cfg.RemoteBaseURL != defaultRemoteBaseURL {
		t.Fatalf("unexpected defaults %+v", cfg)
	}
	if cfg.RemoteTimeout != 30*time.Second || cfg.SyncInterval != 0 {
		t.Fatalf("unexpected durations %+v", cfg)
	}
	if cfg.RemoteMaxResponseBytes != 64<<20 {
		t.Fatalf("unexpected response limit %d", cfg.RemoteMaxResponseBytes)
	}
	if cfg.LogLevel != defaultLogLevel {
		t.Fatalf("unexpected log level %q", cfg.LogLevel)
	}
}

func TestLoadClientReadsEnvironment(t *testing.T) {
	t.Setenv("SYNCNOTE_REMOTE_BASE_URL", "https://sync.example.com/api")
	t.Setenv("SYNCNOTE_REMOTE_TOKEN", "env-token")
	t.Setenv("SYNCNOTE_SYNC_INTERVAL_SECONDS", "15")

	cfg, err := LoadClient(NewViper())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.RemoteBaseURL != "https://sync.example.com/api" || cfg.RemoteToken != "env-token" {
		t.Fatalf("environment not applied: %+v", cfg)
	}
	if cfg.SyncInterval != 15*time.Second {
		t.Fatalf("unexpected interval %s", cfg.SyncInterval)
	}
}

func TestLoadClientValidation(t *testing.T) {
	testCases := []struct {
		name     string
		override map[string]any
		expected string
	}{
		{name: "missing token", override: map[string]any{}, expected: KeyRemoteToken},
		{name: "relative url", override: map[string]any{KeyRemoteToken: "t", KeyRemoteBaseURL: "sync.example.com"}, expected: KeyRemoteBaseURL},
		{name: "blank database", override: map[string]any{KeyRemoteToken: "t", KeyDatabasePath: " "}, expected: KeyDatabasePath},
		{name: "zero timeout", override: map[string]any{KeyRemoteToken: "t", KeyRemoteTimeoutSeconds: 0}, expected: KeyRemoteTimeoutSeconds},
		{name: "zero response limit", override: map[string]any{KeyRemoteToken: "t", KeyRemoteMaxResponseMB: 0}, expected: KeyRemoteMaxResponseMB},
		{name: "negative interval", override: map[string]any{KeyRemoteToken: "t", KeySyncIntervalSeconds: -5}, expected: KeySyncIntervalSeconds},
	}

	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			configViper := NewViper()
			for key, value := range testCase.override {
				configViper.Set(key, value)
			}
			_, err := LoadClient(configViper)
			if err == nil || !strings.Contains(err.Error(), testCase.expected) {
				t.Fatalf("expected error mentioning %s, got %v", testCase.expected, err)
			}
		})
	}
}

func TestLoadServerRequiresSigningSecret(t *testing.T) {
	if _, err := LoadServer(NewViper()); err == nil || !strings.Contains(err.Error(), KeyAuthSigningSecret) {
		t.Fatalf("expected signing secret error, got %v", err)
	}

	configViper := NewViper()
	configViper.Set(KeyAuthSigningSecret, "secret")
	cfg, err := LoadServer(configViper)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.HTTPAddress != defaultHTTPAddress || cfg.DatabasePath != defaultServerDBPath {
		t.Fatalf("unexpected defaults %+v", cfg)
	}
	if cfg.Issuer != defaultAuthIssuer || cfg.Audience != defaultAuthAudience || cfg.TokenTTL != 30*time.Minute {
		t.Fatalf("unexpected auth defaults %+v", cfg)
	}
}

func TestLoadLocalSkipsRemoteSettings(t *testing.T) {
	configViper := NewViper()
	configViper.Set(KeyRemoteBaseURL, "")
	cfg, err := LoadLocal(configViper)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.DatabasePath != defaultDatabasePath {
		t.Fatalf("unexpected database path %q", cfg.DatabasePath)
	}

	configViper.Set(KeyDatabasePath, "")
	if _, err := LoadLocal(configViper); err == nil {
		t.Fatalf("expected missing database path error")
	}
}
