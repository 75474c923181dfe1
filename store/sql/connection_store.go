package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	repository "github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/memorymesh/integrations/core"
	"github.com/uptrace/bun"
)

type ConnectionStore struct {
	db   *bun.DB
	repo repository.Repository[*connectionRecord]
}

func NewConnectionStore(db *bun.DB) (*ConnectionStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	repo := repository.NewRepository[*connectionRecord](db, connectionHandlers())
	if validator, ok := repo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("sqlstore: invalid connection repository wiring: %w", err)
		}
	}
	return &ConnectionStore{
		db:   db,
		repo: repo,
	}, nil
}

// Upsert creates or replaces the one connection a scope holds per provider.
// Reconnecting an existing pair overwrites credentials and settings in
// place; a unique index on (provider_id, scope_type, scope_id) backs the
// insert race.
func (s *ConnectionStore) Upsert(ctx context.Context, in core.UpsertConnectionInput) (core.Connection, error) {
	if s == nil || s.db == nil {
		return core.Connection{}, fmt.Errorf("sqlstore: connection store is not configured")
	}
	if err := in.Scope.Validate(); err != nil {
		return core.Connection{}, err
	}
	if strings.TrimSpace(in.ProviderID) == "" {
		return core.Connection{}, fmt.Errorf("sqlstore: provider id is required")
	}
	if len(in.EncryptedPayload) == 0 {
		return core.Connection{}, fmt.Errorf("sqlstore: encrypted payload is required")
	}
	now := time.Now().UTC()

	var out core.Connection
	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		record, err := findConnectionByScopeTx(ctx, tx, in.ProviderID, in.Scope)
		if err != nil {
			return err
		}
		if record == nil {
			record = newConnectionRecord(in, now)
			record.ID = uuid.NewString()
			if _, insertErr := tx.NewInsert().Model(record).Exec(ctx); insertErr != nil {
				if isUniqueViolation(insertErr) {
					record, err = findConnectionByScopeTx(ctx, tx, in.ProviderID, in.Scope)
					if err != nil {
						return err
					}
					if record == nil {
						return insertErr
					}
				} else {
					return insertErr
				}
			} else {
				out = record.toDomain()
				return nil
			}
		}

		record.Status = string(core.ConnectionStatusActive)
		if strings.TrimSpace(string(in.Status)) != "" {
			record.Status = strings.TrimSpace(string(in.Status))
		}
		record.EncryptedPayload = append([]byte(nil), in.EncryptedPayload...)
		record.ExpiresAt = cloneTime(in.ExpiresAt)
		if strings.TrimSpace(string(in.Settings.StorageMode)) != "" {
			record.StorageMode = strings.TrimSpace(string(in.Settings.StorageMode))
		}
		if in.Settings.SyncIntervalMinutes > 0 {
			record.SyncIntervalMinutes = in.Settings.SyncIntervalMinutes
		}
		if in.Settings.ProviderConfig != nil {
			record.ProviderConfig = copyAnyMap(in.Settings.ProviderConfig)
		}
		record.LastError = ""
		record.UpdatedAt = now
		if _, updateErr := tx.NewUpdate().Model(record).Where("id = ?", record.ID).Exec(ctx); updateErr != nil {
			return updateErr
		}
		out = record.toDomain()
		return nil
	})
	if err != nil {
		return core.Connection{}, err
	}
	return out, nil
}

func (s *ConnectionStore) Get(ctx context.Context, id string) (core.Connection, error) {
	if s == nil || s.db == nil {
		return core.Connection{}, fmt.Errorf("sqlstore: connection store is not configured")
	}
	trimmed := strings.TrimSpace(id)
	if trimmed == "" {
		return core.Connection{}, fmt.Errorf("sqlstore: connection id is required")
	}
	record := &connectionRecord{}
	err := s.db.NewSelect().
		Model(record).
		Where("?TableAlias.id = ?", trimmed).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if err == sql.ErrNoRows {
			return core.Connection{}, fmt.Errorf("%w: id %q", core.ErrConnectionNotFound, trimmed)
		}
		return core.Connection{}, err
	}
	return record.toDomain(), nil
}

func (s *ConnectionStore) GetByScope(ctx context.Context, providerID string, scope core.ScopeRef) (core.Connection, error) {
	if s == nil || s.db == nil {
		return core.Connection{}, fmt.Errorf("sqlstore: connection store is not configured")
	}
	if err := scope.Validate(); err != nil {
		return core.Connection{}, err
	}
	record := &connectionRecord{}
	err := s.db.NewSelect().
		Model(record).
		Where("?TableAlias.provider_id = ?", strings.TrimSpace(providerID)).
		Where("?TableAlias.scope_type = ?", strings.TrimSpace(strings.ToLower(scope.Type))).
		Where("?TableAlias.scope_id = ?", strings.TrimSpace(scope.ID)).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if err == sql.ErrNoRows {
			return core.Connection{}, fmt.Errorf(
				"%w: provider %q scope %s/%s",
				core.ErrConnectionNotFound, providerID, scope.Type, scope.ID,
			)
		}
		return core.Connection{}, err
	}
	return record.toDomain(), nil
}

func (s *ConnectionStore) RecordSyncResult(ctx context.Context, in core.SyncResultInput) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: connection store is not configured")
	}
	trimmedID := strings.TrimSpace(in.ConnectionID)
	if trimmedID == "" {
		return fmt.Errorf("sqlstore: connection id is required")
	}
	lastSync := in.LastSyncAt.UTC()
	// a completed run means listing succeeded, so the connection is healthy
	// even when individual resources failed; last_error carries the summary.
	// Only a listing-level failure flips status, through UpdateStatus.
	result, err := s.db.NewUpdate().
		Model((*connectionRecord)(nil)).
		Set("last_sync_at = ?", lastSync).
		Set("last_error = ?", strings.TrimSpace(in.LastError)).
		Set("status = ?", string(core.ConnectionStatusActive)).
		Set("updated_at = ?", time.Now().UTC()).
		Where("id = ?", trimmedID).
		Exec(ctx)
	if err != nil {
		return err
	}
	return requireAffectedRow(result, core.ErrConnectionNotFound, trimmedID)
}

func (s *ConnectionStore) UpdateStatus(ctx context.Context, id string, status core.ConnectionStatus, reason string) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: connection store is not configured")
	}
	trimmedID := strings.TrimSpace(id)
	if trimmedID == "" {
		return fmt.Errorf("sqlstore: connection id is required")
	}
	result, err := s.db.NewUpdate().
		Model((*connectionRecord)(nil)).
		Set("status = ?", strings.TrimSpace(string(status))).
		Set("last_error = ?", strings.TrimSpace(reason)).
		Set("updated_at = ?", time.Now().UTC()).
		Where("id = ?", trimmedID).
		Exec(ctx)
	if err != nil {
		return err
	}
	return requireAffectedRow(result, core.ErrConnectionNotFound, trimmedID)
}

func (s *ConnectionStore) UpdateSettings(ctx context.Context, id string, patch core.SettingsPatch) (core.Connection, error) {
	if s == nil || s.db == nil {
		return core.Connection{}, fmt.Errorf("sqlstore: connection store is not configured")
	}
	trimmedID := strings.TrimSpace(id)
	if trimmedID == "" {
		return core.Connection{}, fmt.Errorf("sqlstore: connection id is required")
	}
	now := time.Now().UTC()

	var out core.Connection
	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		record := &connectionRecord{}
		err := tx.NewSelect().
			Model(record).
			Where("?TableAlias.id = ?", trimmedID).
			Limit(1).
			Scan(ctx)
		if err != nil {
			if err == sql.ErrNoRows {
				return fmt.Errorf("%w: id %q", core.ErrConnectionNotFound, trimmedID)
			}
			return err
		}

		if patch.StorageMode != nil {
			record.StorageMode = strings.TrimSpace(string(*patch.StorageMode))
		}
		if patch.SyncIntervalMinutes != nil {
			record.SyncIntervalMinutes = *patch.SyncIntervalMinutes
		}
		if patch.ProviderConfig != nil {
			record.ProviderConfig = copyAnyMap(patch.ProviderConfig)
		}
		record.UpdatedAt = now
		if _, updateErr := tx.NewUpdate().Model(record).Where("id = ?", record.ID).Exec(ctx); updateErr != nil {
			return updateErr
		}
		out = record.toDomain()
		return nil
	})
	if err != nil {
		return core.Connection{}, err
	}
	return out, nil
}

func (s *ConnectionStore) SetWebhookID(ctx context.Context, id string, webhookID string) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: connection store is not configured")
	}
	trimmedID := strings.TrimSpace(id)
	if trimmedID == "" {
		return fmt.Errorf("sqlstore: connection id is required")
	}
	result, err := s.db.NewUpdate().
		Model((*connectionRecord)(nil)).
		Set("webhook_id = ?", strings.TrimSpace(webhookID)).
		Set("updated_at = ?", time.Now().UTC()).
		Where("id = ?", trimmedID).
		Exec(ctx)
	if err != nil {
		return err
	}
	return requireAffectedRow(result, core.ErrConnectionNotFound, trimmedID)
}

func (s *ConnectionStore) Delete(ctx context.Context, id string) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: connection store is not configured")
	}
	trimmedID := strings.TrimSpace(id)
	if trimmedID == "" {
		return fmt.Errorf("sqlstore: connection id is required")
	}
	result, err := s.db.NewDelete().
		Model((*connectionRecord)(nil)).
		Where("id = ?", trimmedID).
		Exec(ctx)
	if err != nil {
		return err
	}
	return requireAffectedRow(result, core.ErrConnectionNotFound, trimmedID)
}

func findConnectionByScopeTx(ctx context.Context, tx bun.Tx, providerID string, scope core.ScopeRef) (*connectionRecord, error) {
	record := &connectionRecord{}
	err := tx.NewSelect().
		Model(record).
		Where("?TableAlias.provider_id = ?", strings.TrimSpace(providerID)).
		Where("?TableAlias.scope_type = ?", strings.TrimSpace(strings.ToLower(scope.Type))).
		Where("?TableAlias.scope_id = ?", strings.TrimSpace(scope.ID)).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return record, nil
}

func requireAffectedRow(result sql.Result, notFound error, id string) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return nil
	}
	if affected == 0 {
		return fmt.Errorf("%w: id %q", notFound, id)
	}
	return nil
}
