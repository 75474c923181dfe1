package sqlstore

import (
	"time"

	"github.com/uptrace/bun"
)

type connectionRecord struct {
	bun.BaseModel `bun:"table:integration_connections,alias:ic"`

	ID                  string         `bun:"id,pk"`
	ProviderID          string         `bun:"provider_id,notnull"`
	ScopeType           string         `bun:"scope_type,notnull"`
	ScopeID             string         `bun:"scope_id,notnull"`
	Status              string         `bun:"status,notnull"`
	EncryptedPayload    []byte         `bun:"encrypted_payload,notnull"`
	ExpiresAt           *time.Time     `bun:"expires_at,nullzero"`
	WebhookID           string         `bun:"webhook_id"`
	StorageMode         string         `bun:"storage_mode,notnull"`
	SyncIntervalMinutes int            `bun:"sync_interval_minutes,notnull"`
	ProviderConfig      map[string]any `bun:"provider_config,type:jsonb"`
	LastSyncAt          *time.Time     `bun:"last_sync_at,nullzero"`
	LastError           string         `bun:"last_error"`
	CreatedAt           time.Time      `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt           time.Time      `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

type trackedResourceRecord struct {
	bun.BaseModel `bun:"table:integration_resources,alias:ir"`

	ID           string    `bun:"id,pk"`
	ConnectionID string    `bun:"connection_id,notnull"`
	ScopeType    string    `bun:"scope_type,notnull"`
	ExternalID   string    `bun:"external_id,notnull"`
	ResourceType string    `bun:"resource_type,notnull"`
	ContentHash  string    `bun:"content_hash,notnull"`
	LastSyncedAt time.Time `bun:"last_synced_at,nullzero,notnull"`
	Excluded     bool      `bun:"excluded,notnull"`
	CreatedAt    time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt    time.Time `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

type memoryRecord struct {
	bun.BaseModel `bun:"table:memories,alias:m"`

	ID          string    `bun:"id,pk"`
	OwnerID     string    `bun:"owner_id,notnull"`
	OrgID       string    `bun:"org_id"`
	ProviderID  string    `bun:"provider_id,notnull"`
	URL         string    `bun:"url"`
	Title       string    `bun:"title"`
	ContentHash string    `bun:"content_hash,notnull"`
	Text        string    `bun:"text"`
	Status      string    `bun:"status,notnull"`
	CreatedAt   time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp"`
}

type membershipRecord struct {
	bun.BaseModel `bun:"table:org_memberships,alias:om"`

	ID        string    `bun:"id,pk"`
	UserID    string    `bun:"user_id,notnull"`
	OrgID     string    `bun:"org_id,notnull"`
	Role      string    `bun:"role,notnull"`
	CreatedAt time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp"`
}
