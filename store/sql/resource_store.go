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

type ResourceStore struct {
	db   *bun.DB
	repo repository.Repository[*trackedResourceRecord]
}

func NewResourceStore(db *bun.DB) (*ResourceStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	repo := repository.NewRepository[*trackedResourceRecord](db, trackedResourceHandlers())
	if validator, ok := repo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("sqlstore: invalid resource repository wiring: %w", err)
		}
	}
	return &ResourceStore{
		db:   db,
		repo: repo,
	}, nil
}

func (s *ResourceStore) Get(ctx context.Context, connectionID string, externalID string) (core.TrackedResource, error) {
	if s == nil || s.db == nil {
		return core.TrackedResource{}, fmt.Errorf("sqlstore: resource store is not configured")
	}
	connectionID = strings.TrimSpace(connectionID)
	externalID = strings.TrimSpace(externalID)
	if connectionID == "" || externalID == "" {
		return core.TrackedResource{}, fmt.Errorf("sqlstore: connection id and external id are required")
	}

	record := &trackedResourceRecord{}
	err := s.db.NewSelect().
		Model(record).
		Where("?TableAlias.connection_id = ?", connectionID).
		Where("?TableAlias.external_id = ?", externalID).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if err == sql.ErrNoRows {
			return core.TrackedResource{}, fmt.Errorf(
				"%w: connection %q external id %q",
				core.ErrResourceNotFound, connectionID, externalID,
			)
		}
		return core.TrackedResource{}, err
	}
	return record.toDomain(), nil
}

// Upsert records a successful sync of one remote object. The excluded flag
// is deliberately left untouched on update so an exclusion survives
// re-syncs.
func (s *ResourceStore) Upsert(ctx context.Context, in core.UpsertResourceInput) (core.TrackedResource, error) {
	if s == nil || s.db == nil {
		return core.TrackedResource{}, fmt.Errorf("sqlstore: resource store is not configured")
	}
	in.ConnectionID = strings.TrimSpace(in.ConnectionID)
	in.ExternalID = strings.TrimSpace(in.ExternalID)
	if in.ConnectionID == "" || in.ExternalID == "" {
		return core.TrackedResource{}, fmt.Errorf("sqlstore: connection id and external id are required")
	}
	now := time.Now().UTC()

	var out core.TrackedResource
	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		record, err := findTrackedResourceTx(ctx, tx, in.ConnectionID, in.ExternalID)
		if err != nil {
			return err
		}
		if record == nil {
			record = newTrackedResourceRecord(in, now)
			record.ID = uuid.NewString()
			if _, insertErr := tx.NewInsert().Model(record).Exec(ctx); insertErr != nil {
				if isUniqueViolation(insertErr) {
					record, err = findTrackedResourceTx(ctx, tx, in.ConnectionID, in.ExternalID)
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

		record.ResourceType = strings.TrimSpace(in.ResourceType)
		record.ContentHash = strings.TrimSpace(in.ContentHash)
		record.LastSyncedAt = in.LastSyncedAt.UTC()
		record.UpdatedAt = now
		if _, updateErr := tx.NewUpdate().Model(record).Where("id = ?", record.ID).Exec(ctx); updateErr != nil {
			return updateErr
		}
		out = record.toDomain()
		return nil
	})
	if err != nil {
		return core.TrackedResource{}, err
	}
	return out, nil
}

func (s *ResourceStore) SetExcluded(ctx context.Context, connectionID string, externalID string, excluded bool) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: resource store is not configured")
	}
	connectionID = strings.TrimSpace(connectionID)
	externalID = strings.TrimSpace(externalID)
	if connectionID == "" || externalID == "" {
		return fmt.Errorf("sqlstore: connection id and external id are required")
	}
	result, err := s.db.NewUpdate().
		Model((*trackedResourceRecord)(nil)).
		Set("excluded = ?", excluded).
		Set("updated_at = ?", time.Now().UTC()).
		Where("connection_id = ?", connectionID).
		Where("external_id = ?", externalID).
		Exec(ctx)
	if err != nil {
		return err
	}
	return requireAffectedRow(result, core.ErrResourceNotFound, externalID)
}

func (s *ResourceStore) DeleteByConnection(ctx context.Context, connectionID string) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: resource store is not configured")
	}
	connectionID = strings.TrimSpace(connectionID)
	if connectionID == "" {
		return fmt.Errorf("sqlstore: connection id is required")
	}
	_, err := s.db.NewDelete().
		Model((*trackedResourceRecord)(nil)).
		Where("connection_id = ?", connectionID).
		Exec(ctx)
	return err
}

func findTrackedResourceTx(ctx context.Context, tx bun.Tx, connectionID string, externalID string) (*trackedResourceRecord, error) {
	record := &trackedResourceRecord{}
	err := tx.NewSelect().
		Model(record).
		Where("?TableAlias.connection_id = ?", strings.TrimSpace(connectionID)).
		Where("?TableAlias.external_id = ?", strings.TrimSpace(externalID)).
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
