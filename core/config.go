package core

import (
	"fmt"
	"strings"
	"time"
)

type ProviderCredentials struct {
	ClientID     string `koanf:"client_id" mapstructure:"client_id"`
	ClientSecret string `koanf:"client_secret" mapstructure:"client_secret"`
}

type SyncConfig struct {
	PageSize        int           `koanf:"page_size" mapstructure:"page_size"`
	ResourceDelay   time.Duration `koanf:"resource_delay" mapstructure:"resource_delay"`
	InitialSyncMode string        `koanf:"initial_sync_mode" mapstructure:"initial_sync_mode"`
}

type Config struct {
	ServiceName string `koanf:"service_name" mapstructure:"service_name"`
	// VaultKey encrypts token payloads. Empty means the vault degrades to
	// an identity transform with a loud warning at startup.
	VaultKey string `koanf:"vault_key" mapstructure:"vault_key"`
	// BaseURL is the public origin webhook callback URLs are built from.
	BaseURL   string                         `koanf:"base_url" mapstructure:"base_url"`
	Sync      SyncConfig                     `koanf:"sync" mapstructure:"sync"`
	Providers map[string]ProviderCredentials `koanf:"providers" mapstructure:"providers"`
}

func DefaultConfig() Config {
	return Config{
		ServiceName: "integrations",
		Sync: SyncConfig{
			PageSize:        50,
			ResourceDelay:   200 * time.Millisecond,
			InitialSyncMode: string(SyncModeFull),
		},
	}
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.ServiceName) == "" {
		return fmt.Errorf("core: service_name is required")
	}
	if c.Sync.PageSize <= 0 {
		return fmt.Errorf("core: sync.page_size must be positive")
	}
	if c.Sync.ResourceDelay < 0 {
		return fmt.Errorf("core: sync.resource_delay must not be negative")
	}
	if mode := SyncMode(strings.TrimSpace(c.Sync.InitialSyncMode)); !mode.IsValid() {
		return fmt.Errorf("core: sync.initial_sync_mode %q is not a valid mode", c.Sync.InitialSyncMode)
	}
	return nil
}

// WebhookCallbackURL builds the callback URL a plugin registers with the
// remote provider for one connection.
func (c Config) WebhookCallbackURL(providerID string, connectionID string) string {
	base := strings.TrimSuffix(strings.TrimSpace(c.BaseURL), "/")
	url := base + "/webhooks/integrations/" + strings.TrimSpace(providerID)
	if trimmed := strings.TrimSpace(connectionID); trimmed != "" {
		url += "/" + trimmed
	}
	return url
}
