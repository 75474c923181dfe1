package sqlstore

import (
	"strings"
	"time"

	"github.com/memorymesh/integrations/core"
)

func (r *connectionRecord) toDomain() core.Connection {
	if r == nil {
		return core.Connection{}
	}
	return core.Connection{
		ID:               strings.TrimSpace(r.ID),
		ProviderID:       strings.TrimSpace(r.ProviderID),
		ScopeType:        strings.TrimSpace(r.ScopeType),
		ScopeID:          strings.TrimSpace(r.ScopeID),
		Status:           core.ConnectionStatus(strings.TrimSpace(r.Status)),
		EncryptedPayload: append([]byte(nil), r.EncryptedPayload...),
		ExpiresAt:        cloneTime(r.ExpiresAt),
		WebhookID:        strings.TrimSpace(r.WebhookID),
		Settings: core.ConnectionSettings{
			StorageMode:         core.StorageMode(strings.TrimSpace(r.StorageMode)),
			SyncIntervalMinutes: r.SyncIntervalMinutes,
			ProviderConfig:      copyAnyMap(r.ProviderConfig),
		},
		LastSyncAt: cloneTime(r.LastSyncAt),
		LastError:  strings.TrimSpace(r.LastError),
		CreatedAt:  r.CreatedAt,
		UpdatedAt:  r.UpdatedAt,
	}
}

func newConnectionRecord(in core.UpsertConnectionInput, now time.Time) *connectionRecord {
	status := strings.TrimSpace(string(in.Status))
	if status == "" {
		status = string(core.ConnectionStatusActive)
	}
	storageMode := strings.TrimSpace(string(in.Settings.StorageMode))
	if storageMode == "" {
		storageMode = string(core.StorageModeFullContent)
	}
	return &connectionRecord{
		ProviderID:          strings.TrimSpace(in.ProviderID),
		ScopeType:           strings.TrimSpace(strings.ToLower(in.Scope.Type)),
		ScopeID:             strings.TrimSpace(in.Scope.ID),
		Status:              status,
		EncryptedPayload:    append([]byte(nil), in.EncryptedPayload...),
		ExpiresAt:           cloneTime(in.ExpiresAt),
		StorageMode:         storageMode,
		SyncIntervalMinutes: in.Settings.SyncIntervalMinutes,
		ProviderConfig:      copyAnyMap(in.Settings.ProviderConfig),
		CreatedAt:           now,
		UpdatedAt:           now,
	}
}

func (r *trackedResourceRecord) toDomain() core.TrackedResource {
	if r == nil {
		return core.TrackedResource{}
	}
	return core.TrackedResource{
		ID:           strings.TrimSpace(r.ID),
		ConnectionID: strings.TrimSpace(r.ConnectionID),
		ScopeType:    strings.TrimSpace(r.ScopeType),
		ExternalID:   strings.TrimSpace(r.ExternalID),
		ResourceType: strings.TrimSpace(r.ResourceType),
		ContentHash:  strings.TrimSpace(r.ContentHash),
		LastSyncedAt: r.LastSyncedAt,
		Excluded:     r.Excluded,
		CreatedAt:    r.CreatedAt,
		UpdatedAt:    r.UpdatedAt,
	}
}

func newTrackedResourceRecord(in core.UpsertResourceInput, now time.Time) *trackedResourceRecord {
	return &trackedResourceRecord{
		ConnectionID: strings.TrimSpace(in.ConnectionID),
		ScopeType:    strings.TrimSpace(strings.ToLower(in.ScopeType)),
		ExternalID:   strings.TrimSpace(in.ExternalID),
		ResourceType: strings.TrimSpace(in.ResourceType),
		ContentHash:  strings.TrimSpace(in.ContentHash),
		LastSyncedAt: in.LastSyncedAt.UTC(),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

func (r *memoryRecord) toDomain() core.MemoryRecord {
	if r == nil {
		return core.MemoryRecord{}
	}
	return core.MemoryRecord{
		ID:          strings.TrimSpace(r.ID),
		OwnerID:     strings.TrimSpace(r.OwnerID),
		OrgID:       strings.TrimSpace(r.OrgID),
		ProviderID:  strings.TrimSpace(r.ProviderID),
		URL:         strings.TrimSpace(r.URL),
		Title:       strings.TrimSpace(r.Title),
		ContentHash: strings.TrimSpace(r.ContentHash),
		Text:        r.Text,
		Status:      core.MemoryStatus(strings.TrimSpace(r.Status)),
		CreatedAt:   r.CreatedAt,
	}
}

func newMemoryRecord(in core.CreateMemoryInput, now time.Time) *memoryRecord {
	status := strings.TrimSpace(string(in.Status))
	if status == "" {
		status = string(core.MemoryStatusReady)
	}
	return &memoryRecord{
		OwnerID:     strings.TrimSpace(in.OwnerID),
		OrgID:       strings.TrimSpace(in.OrgID),
		ProviderID:  strings.TrimSpace(in.ProviderID),
		URL:         strings.TrimSpace(in.URL),
		Title:       strings.TrimSpace(in.Title),
		ContentHash: strings.TrimSpace(in.ContentHash),
		Text:        in.Text,
		Status:      status,
		CreatedAt:   now,
	}
}

func cloneTime(value *time.Time) *time.Time {
	if value == nil {
		return nil
	}
	clone := value.UTC()
	return &clone
}

func copyAnyMap(in map[string]any) map[string]any {
	if len(in) == 0 {
		return map[string]any{}
	}
	out := make(map[string]any, len(in))
	for key, value := range in {
		out[key] = value
	}
	return out
}

func isUniqueViolation(err error) bool {
	message := strings.ToLower(strings.TrimSpace(err.Error()))
	return strings.Contains(message, "unique constraint failed") ||
		strings.Contains(message, "duplicate key value violates unique constraint")
}
