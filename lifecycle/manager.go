package lifecycle

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/memorymesh/integrations/core"
)

// SyncTrigger kicks off the initial reconciliation after a connect. It is
// the runner's TriggerSync, narrowed so lifecycle does not depend on the
// whole runner.
type SyncTrigger interface {
	TriggerSync(ctx context.Context, req core.TriggerRequest) (core.SyncReport, bool, error)
}

type ManagerConfig struct {
	Config      core.Config
	Registry    core.Registry
	Connections core.ConnectionStore
	Resources   core.ResourceStore
	Vault       core.Vault
	Codec       core.TokenCodec
	Trigger     SyncTrigger
	Logger      core.Logger
	Metrics     core.MetricsRecorder
	Now         func() time.Time
}

// Manager owns the connection lifecycle: OAuth begin/complete, settings
// changes, and teardown.
type Manager struct {
	cfg         core.Config
	registry    core.Registry
	connections core.ConnectionStore
	resources   core.ResourceStore
	vault       core.Vault
	codec       core.TokenCodec
	trigger     SyncTrigger
	logger      core.Logger
	metrics     core.MetricsRecorder
	now         func() time.Time
}

func NewManager(cfg ManagerConfig) (*Manager, error) {
	if cfg.Registry == nil {
		return nil, fmt.Errorf("lifecycle: registry is required")
	}
	if cfg.Connections == nil {
		return nil, fmt.Errorf("lifecycle: connection store is required")
	}
	if cfg.Vault == nil {
		return nil, fmt.Errorf("lifecycle: vault is required")
	}
	codec := cfg.Codec
	if codec == nil {
		codec = core.JSONTokenCodec{}
	}
	now := cfg.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &Manager{
		cfg:         cfg.Config,
		registry:    cfg.Registry,
		connections: cfg.Connections,
		resources:   cfg.Resources,
		vault:       cfg.Vault,
		codec:       codec,
		trigger:     cfg.Trigger,
		logger:      cfg.Logger,
		metrics:     cfg.Metrics,
		now:         now,
	}, nil
}

// AuthURL builds the provider consent URL that starts an OAuth flow.
func (m *Manager) AuthURL(ctx context.Context, providerID string, req core.AuthURLRequest) (string, error) {
	if m == nil {
		return "", fmt.Errorf("lifecycle: manager is not configured")
	}
	plugin, err := m.plugin(providerID)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(req.State) == "" {
		return "", fmt.Errorf("lifecycle: oauth state is required")
	}
	return plugin.AuthURL(ctx, req)
}

type ConnectRequest struct {
	ProviderID  string
	Scope       core.ScopeRef
	Code        string
	RedirectURI string
	Settings    core.ConnectionSettings
}

// Connect completes the OAuth flow: code exchange, a live connection test,
// then the encrypted upsert. Nothing persists unless the exchange and the
// test both pass, so a failed connect leaves no partial state.
func (m *Manager) Connect(ctx context.Context, req ConnectRequest) (core.Connection, error) {
	if m == nil {
		return core.Connection{}, fmt.Errorf("lifecycle: manager is not configured")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	plugin, err := m.plugin(req.ProviderID)
	if err != nil {
		return core.Connection{}, err
	}
	if err := req.Scope.Validate(); err != nil {
		return core.Connection{}, err
	}
	if strings.TrimSpace(req.Code) == "" {
		return core.Connection{}, fmt.Errorf("lifecycle: authorization code is required")
	}

	tokens, err := plugin.ExchangeCode(ctx, core.ExchangeRequest{
		Code:        strings.TrimSpace(req.Code),
		RedirectURI: strings.TrimSpace(req.RedirectURI),
	})
	if err != nil {
		return core.Connection{}, fmt.Errorf("lifecycle: code exchange failed: %w", err)
	}
	if err := tokens.Validate(); err != nil {
		return core.Connection{}, fmt.Errorf("lifecycle: code exchange returned no usable tokens: %w", err)
	}
	if err := plugin.TestConnection(ctx, tokens); err != nil {
		return core.Connection{}, fmt.Errorf("lifecycle: connection test failed: %w", err)
	}

	payload, err := m.codec.Encode(tokens)
	if err != nil {
		return core.Connection{}, err
	}
	encrypted, err := m.vault.Encrypt(ctx, payload)
	if err != nil {
		return core.Connection{}, err
	}

	connection, err := m.connections.Upsert(ctx, core.UpsertConnectionInput{
		ProviderID:       strings.TrimSpace(req.ProviderID),
		Scope:            req.Scope,
		EncryptedPayload: encrypted,
		ExpiresAt:        tokens.ExpiresAt,
		Settings:         req.Settings,
		Status:           core.ConnectionStatusActive,
	})
	if err != nil {
		return core.Connection{}, err
	}

	m.registerWebhook(ctx, plugin, &connection, tokens)
	m.triggerInitialSync(ctx, connection)

	core.RecordCounter(ctx, m.metrics, "connections.connected", 1, map[string]string{
		"provider_id": connection.ProviderID,
	})
	core.LogInfo(ctx, m.logger, "connection established", map[string]any{
		"connection_id": connection.ID,
		"provider_id":   connection.ProviderID,
		"scope_type":    connection.ScopeType,
	})
	return connection, nil
}

// Disconnect tears a connection down: remote webhook first, then the sync
// ledger, then the connection row with its credentials. Webhook removal is
// best effort; local cleanup proceeds regardless.
func (m *Manager) Disconnect(ctx context.Context, connectionID string) error {
	if m == nil {
		return fmt.Errorf("lifecycle: manager is not configured")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	connectionID = strings.TrimSpace(connectionID)
	if connectionID == "" {
		return fmt.Errorf("lifecycle: connection id is required")
	}

	connection, err := m.connections.Get(ctx, connectionID)
	if err != nil {
		return err
	}
	return m.teardown(ctx, connection)
}

// DisconnectScope removes the connection a scope holds with a provider,
// for callers that track the (owner, provider) pair instead of the
// connection id.
func (m *Manager) DisconnectScope(ctx context.Context, providerID string, scope core.ScopeRef) error {
	if m == nil {
		return fmt.Errorf("lifecycle: manager is not configured")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if strings.TrimSpace(providerID) == "" {
		return fmt.Errorf("lifecycle: provider id is required")
	}
	if err := scope.Validate(); err != nil {
		return err
	}

	connection, err := m.connections.GetByScope(ctx, providerID, scope)
	if err != nil {
		return err
	}
	return m.teardown(ctx, connection)
}

func (m *Manager) teardown(ctx context.Context, connection core.Connection) error {
	if connection.WebhookID != "" {
		m.unregisterWebhook(ctx, connection)
	}
	if m.resources != nil {
		if err := m.resources.DeleteByConnection(ctx, connection.ID); err != nil {
			return fmt.Errorf("lifecycle: delete tracked resources: %w", err)
		}
	}
	if err := m.connections.Delete(ctx, connection.ID); err != nil {
		return err
	}

	core.RecordCounter(ctx, m.metrics, "connections.disconnected", 1, map[string]string{
		"provider_id": connection.ProviderID,
	})
	core.LogInfo(ctx, m.logger, "connection removed", map[string]any{
		"connection_id": connection.ID,
		"provider_id":   connection.ProviderID,
	})
	return nil
}

// UpdateSettings changes the sync policy of a connection without touching
// credentials.
func (m *Manager) UpdateSettings(ctx context.Context, connectionID string, patch core.SettingsPatch) (core.Connection, error) {
	if m == nil {
		return core.Connection{}, fmt.Errorf("lifecycle: manager is not configured")
	}
	connectionID = strings.TrimSpace(connectionID)
	if connectionID == "" {
		return core.Connection{}, fmt.Errorf("lifecycle: connection id is required")
	}
	if patch.StorageMode != nil {
		switch *patch.StorageMode {
		case core.StorageModeFullContent, core.StorageModeReferenceOnly:
		default:
			return core.Connection{}, fmt.Errorf("lifecycle: invalid storage mode %q", *patch.StorageMode)
		}
	}
	if patch.SyncIntervalMinutes != nil && *patch.SyncIntervalMinutes <= 0 {
		return core.Connection{}, fmt.Errorf("lifecycle: sync interval must be positive")
	}
	return m.connections.UpdateSettings(ctx, connectionID, patch)
}

// SetResourceExclusion flips the user-facing exclusion flag on one tracked
// resource. Excluded resources stay excluded across future syncs until the
// user clears the flag.
func (m *Manager) SetResourceExclusion(ctx context.Context, connectionID string, externalID string, excluded bool) error {
	if m == nil || m.resources == nil {
		return fmt.Errorf("lifecycle: resource store is not configured")
	}
	return m.resources.SetExcluded(ctx, strings.TrimSpace(connectionID), strings.TrimSpace(externalID), excluded)
}

func (m *Manager) plugin(providerID string) (core.Plugin, error) {
	plugin, ok := m.registry.Get(providerID)
	if !ok {
		return nil, fmt.Errorf("lifecycle: plugin not registered: %s", strings.TrimSpace(providerID))
	}
	return plugin, nil
}

func (m *Manager) registerWebhook(ctx context.Context, plugin core.Plugin, connection *core.Connection, tokens core.TokenSet) {
	if !plugin.Capabilities().Webhooks {
		return
	}
	webhookPlugin, ok := plugin.(core.WebhookPlugin)
	if !ok {
		return
	}
	callbackConnID := ""
	if plugin.Capabilities().WebhookPerConn {
		callbackConnID = connection.ID
	}
	callbackURL := m.cfg.WebhookCallbackURL(connection.ProviderID, callbackConnID)

	webhookID, err := webhookPlugin.RegisterWebhook(ctx, tokens, callbackURL)
	if err != nil {
		// polling still works without the push channel
		core.LogWarn(ctx, m.logger, "webhook registration failed, connection stays poll-only", map[string]any{
			"connection_id": connection.ID,
			"provider_id":   connection.ProviderID,
			"error":         err.Error(),
		})
		return
	}
	if err := m.connections.SetWebhookID(ctx, connection.ID, webhookID); err != nil {
		core.LogWarn(ctx, m.logger, "webhook id persistence failed", map[string]any{
			"connection_id": connection.ID,
			"error":         err.Error(),
		})
		return
	}
	connection.WebhookID = webhookID
}

func (m *Manager) unregisterWebhook(ctx context.Context, connection core.Connection) {
	plugin, ok := m.registry.Get(connection.ProviderID)
	if !ok {
		return
	}
	webhookPlugin, ok := plugin.(core.WebhookPlugin)
	if !ok {
		return
	}
	payload, err := m.vault.Decrypt(ctx, connection.EncryptedPayload)
	if err != nil {
		core.LogWarn(ctx, m.logger, "webhook teardown skipped, credentials unreadable", map[string]any{
			"connection_id": connection.ID,
			"error":         err.Error(),
		})
		return
	}
	tokens, err := m.codec.Decode(payload)
	if err != nil {
		return
	}
	if err := webhookPlugin.UnregisterWebhook(ctx, tokens, connection.WebhookID); err != nil {
		core.LogWarn(ctx, m.logger, "remote webhook removal failed", map[string]any{
			"connection_id": connection.ID,
			"webhook_id":    connection.WebhookID,
			"error":         err.Error(),
		})
	}
}

func (m *Manager) triggerInitialSync(ctx context.Context, connection core.Connection) {
	if m.trigger == nil {
		return
	}
	mode := core.SyncMode(strings.TrimSpace(m.cfg.Sync.InitialSyncMode))
	if !mode.IsValid() {
		mode = core.SyncModeFull
	}
	if _, _, err := m.trigger.TriggerSync(ctx, core.TriggerRequest{
		ConnectionID: connection.ID,
		Mode:         mode,
	}); err != nil {
		core.LogWarn(ctx, m.logger, "initial sync trigger failed", map[string]any{
			"connection_id": connection.ID,
			"error":         err.Error(),
		})
	}
}
