package core

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrInvalidScopeType   = errors.New("core: invalid scope type")
	ErrConnectionNotFound = errors.New("core: connection not found")
	ErrResourceNotFound   = errors.New("core: tracked resource not found")
	ErrSyncAlreadyRunning = errors.New("core: sync already running for connection")
)

type ScopeType string

const (
	ScopeTypeUser ScopeType = "user"
	ScopeTypeOrg  ScopeType = "org"
)

type ScopeRef struct {
	Type string
	ID   string
}

func (s ScopeRef) Validate() error {
	t := strings.TrimSpace(strings.ToLower(s.Type))
	if t != string(ScopeTypeUser) && t != string(ScopeTypeOrg) {
		return fmt.Errorf("%w: %q", ErrInvalidScopeType, s.Type)
	}
	if strings.TrimSpace(s.ID) == "" {
		return fmt.Errorf("%w: empty id", ErrInvalidScopeType)
	}
	return nil
}

type ConnectionStatus string

const (
	ConnectionStatusActive  ConnectionStatus = "active"
	ConnectionStatusErrored ConnectionStatus = "errored"
)

type StorageMode string

const (
	StorageModeFullContent   StorageMode = "full_content"
	StorageModeReferenceOnly StorageMode = "reference_only"
)

// ConnectionSettings is the sync policy a user can change without
// re-authenticating. Credentials and runtime state live on Connection.
type ConnectionSettings struct {
	StorageMode         StorageMode
	SyncIntervalMinutes int
	ProviderConfig      map[string]any
}

// Connection links one owner scope to one provider. Token payloads are
// stored vault-encrypted; plaintext exists only transiently in memory.
type Connection struct {
	ID               string
	ProviderID       string
	ScopeType        string
	ScopeID          string
	Status           ConnectionStatus
	EncryptedPayload []byte
	ExpiresAt        *time.Time
	WebhookID        string
	Settings         ConnectionSettings
	LastSyncAt       *time.Time
	LastError        string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

func (c Connection) Scope() ScopeRef {
	return ScopeRef{Type: c.ScopeType, ID: c.ScopeID}
}

// TrackedResource is the sync ledger entry for one remote object.
type TrackedResource struct {
	ID           string
	ConnectionID string
	ScopeType    string
	ExternalID   string
	ResourceType string
	ContentHash  string
	LastSyncedAt time.Time
	Excluded     bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

type MemoryStatus string

const (
	MemoryStatusPendingEmbedding MemoryStatus = "pending_embedding"
	MemoryStatusReady            MemoryStatus = "ready"
)

// MemoryRecord is the ingestion side of a synced resource: one row per
// canonical content fingerprint per owner.
type MemoryRecord struct {
	ID          string
	OwnerID     string
	OrgID       string
	ProviderID  string
	URL         string
	Title       string
	ContentHash string
	Text        string
	Status      MemoryStatus
	CreatedAt   time.Time
}

type SyncMode string

const (
	SyncModeFull        SyncMode = "full"
	SyncModeIncremental SyncMode = "incremental"
)

func (m SyncMode) IsValid() bool {
	switch m {
	case SyncModeFull, SyncModeIncremental:
		return true
	default:
		return false
	}
}

// TriggerRequest asks for a reconciliation run. Direct forces synchronous
// in-process execution even when a queue is configured.
type TriggerRequest struct {
	ConnectionID string
	Mode         SyncMode
	Direct       bool
}

// SyncReport aggregates one reconciliation run over a connection.
type SyncReport struct {
	ConnectionID string
	Synced       int
	Skipped      int
	Errored      int
	StartedAt    time.Time
	FinishedAt   time.Time
}

func (r SyncReport) ErrorSummary() string {
	if r.Errored == 0 {
		return ""
	}
	return fmt.Sprintf("%d resources failed to sync", r.Errored)
}

// TokenSet is the plugin-facing plaintext credential form.
type TokenSet struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    *time.Time
}

func (t TokenSet) Validate() error {
	if strings.TrimSpace(t.AccessToken) == "" {
		return fmt.Errorf("core: access token is required")
	}
	return nil
}

// ResourceRef is one entry from a plugin's resource listing.
type ResourceRef struct {
	ExternalID string
	Name       string
	Type       string
	ModifiedAt *time.Time
	Metadata   map[string]any
}

// containerResourceTypes are never fetched; they exist only to be traversed
// by the provider itself.
var containerResourceTypes = map[string]struct{}{
	"folder":    {},
	"container": {},
	"drive":     {},
	"space":     {},
}

func (r ResourceRef) IsContainer() bool {
	_, ok := containerResourceTypes[strings.TrimSpace(strings.ToLower(r.Type))]
	return ok
}

// ResourceContent is the fetched body of one remote resource. Unsupported
// marks binary or otherwise unextractable content the plugin cannot render
// as text yet; such resources are skipped but not excluded.
type ResourceContent struct {
	ExternalID  string
	Title       string
	URL         string
	Text        string
	MimeType    string
	Unsupported bool
}

func (c ResourceContent) Empty() bool {
	return strings.TrimSpace(c.Text) == ""
}

// ResourceEvent is a normalized webhook push notification.
type ResourceEvent struct {
	ProviderID   string
	ConnectionID string
	ExternalID   string
	EventType    string
	OccurredAt   time.Time
	Metadata     map[string]any
}
