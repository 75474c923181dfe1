package core

import (
	"context"
	"time"

	glog "github.com/goliatone/go-logger/glog"
)

type PluginCapabilities struct {
	Webhooks       bool
	WebhookPerConn bool
}

type AuthURLRequest struct {
	State       string
	RedirectURI string
	Scopes      []string
}

type ExchangeRequest struct {
	Code        string
	RedirectURI string
}

type ListResourcesRequest struct {
	Cursor string
	Limit  int
}

type ListResourcesResult struct {
	Resources  []ResourceRef
	NextCursor string
	HasMore    bool
}

// Plugin is the provider-specific capability object the engine calls
// through. Implementations live outside this module and are registered by
// the host at startup.
type Plugin interface {
	ID() string
	Capabilities() PluginCapabilities

	AuthURL(ctx context.Context, req AuthURLRequest) (string, error)
	ExchangeCode(ctx context.Context, req ExchangeRequest) (TokenSet, error)
	TestConnection(ctx context.Context, tokens TokenSet) error
	ListResources(ctx context.Context, tokens TokenSet, req ListResourcesRequest) (ListResourcesResult, error)
	FetchResource(ctx context.Context, tokens TokenSet, externalID string) (ResourceContent, error)
}

// WebhookPlugin is the optional push capability. Plugins that do not
// implement it are polled only.
type WebhookPlugin interface {
	RegisterWebhook(ctx context.Context, tokens TokenSet, callbackURL string) (string, error)
	UnregisterWebhook(ctx context.Context, tokens TokenSet, webhookID string) error
	VerifySignature(req InboundRequest) error
	ParseEvents(payload []byte) ([]ResourceEvent, error)
}

type InboundRequest struct {
	ProviderID   string
	ConnectionID string
	Headers      map[string]string
	Body         []byte
}

type Registry interface {
	Register(plugin Plugin) error
	Get(providerID string) (Plugin, bool)
	List() []Plugin
}

type UpsertConnectionInput struct {
	ProviderID       string
	Scope            ScopeRef
	EncryptedPayload []byte
	ExpiresAt        *time.Time
	Settings         ConnectionSettings
	Status           ConnectionStatus
}

type SyncResultInput struct {
	ConnectionID string
	LastSyncAt   time.Time
	LastError    string
}

type SettingsPatch struct {
	StorageMode         *StorageMode
	SyncIntervalMinutes *int
	ProviderConfig      map[string]any
}

type ConnectionStore interface {
	Upsert(ctx context.Context, in UpsertConnectionInput) (Connection, error)
	Get(ctx context.Context, id string) (Connection, error)
	GetByScope(ctx context.Context, providerID string, scope ScopeRef) (Connection, error)
	RecordSyncResult(ctx context.Context, in SyncResultInput) error
	UpdateStatus(ctx context.Context, id string, status ConnectionStatus, reason string) error
	UpdateSettings(ctx context.Context, id string, patch SettingsPatch) (Connection, error)
	SetWebhookID(ctx context.Context, id string, webhookID string) error
	Delete(ctx context.Context, id string) error
}

type UpsertResourceInput struct {
	ConnectionID string
	ScopeType    string
	ExternalID   string
	ResourceType string
	ContentHash  string
	LastSyncedAt time.Time
}

type ResourceStore interface {
	Get(ctx context.Context, connectionID string, externalID string) (TrackedResource, error)
	Upsert(ctx context.Context, in UpsertResourceInput) (TrackedResource, error)
	SetExcluded(ctx context.Context, connectionID string, externalID string, excluded bool) error
	DeleteByConnection(ctx context.Context, connectionID string) error
}

type CreateMemoryInput struct {
	OwnerID     string
	OrgID       string
	ProviderID  string
	URL         string
	Title       string
	ContentHash string
	Text        string
	Status      MemoryStatus
}

type MemoryStore interface {
	FindDuplicate(ctx context.Context, ownerID string, contentHash string, url string) (MemoryRecord, bool, error)
	Create(ctx context.Context, in CreateMemoryInput) (MemoryRecord, error)
	UpdateStatus(ctx context.Context, id string, status MemoryStatus) error
}

type MembershipStore interface {
	FirstOrgForUser(ctx context.Context, userID string) (string, bool, error)
}

// Vault encrypts token payloads before persistence. Decrypt inverts
// Encrypt; implementations are stateless per call and safe for
// concurrent use.
type Vault interface {
	Encrypt(ctx context.Context, plaintext []byte) ([]byte, error)
	Decrypt(ctx context.Context, ciphertext []byte) ([]byte, error)
}

type JobExecutionMessage struct {
	JobID          string
	Parameters     map[string]any
	IdempotencyKey string
}

// JobEnqueuer hands work to the external queue backend. A nil enqueuer is a
// first-class runtime condition: every call site falls back to direct
// execution.
type JobEnqueuer interface {
	Enqueue(ctx context.Context, msg *JobExecutionMessage) error
}

// OrgResolver resolves the effective owning organization of a connection so
// synced content can be shared appropriately.
type OrgResolver interface {
	ResolveOrg(ctx context.Context, scope ScopeRef) (string, error)
}

// EventSink receives parsed webhook events after the HTTP response has been
// sent.
type EventSink interface {
	HandleEvents(ctx context.Context, events []ResourceEvent) error
}

type MetricsRecorder interface {
	IncCounter(ctx context.Context, name string, value int64, tags map[string]string)
	ObserveHistogram(ctx context.Context, name string, value float64, tags map[string]string)
}

type Logger = glog.Logger

type LoggerProvider = glog.LoggerProvider

type FieldsLogger = glog.FieldsLogger
