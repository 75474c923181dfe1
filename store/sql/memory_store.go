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

type MemoryStore struct {
	db   *bun.DB
	repo repository.Repository[*memoryRecord]
}

func NewMemoryStore(db *bun.DB) (*MemoryStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	repo := repository.NewRepository[*memoryRecord](db, memoryHandlers())
	if validator, ok := repo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("sqlstore: invalid memory repository wiring: %w", err)
		}
	}
	return &MemoryStore{
		db:   db,
		repo: repo,
	}, nil
}

// FindDuplicate looks for an existing memory of the same owner with the same
// canonical content hash or source URL. Either match suffices.
func (s *MemoryStore) FindDuplicate(ctx context.Context, ownerID string, contentHash string, url string) (core.MemoryRecord, bool, error) {
	if s == nil || s.db == nil {
		return core.MemoryRecord{}, false, fmt.Errorf("sqlstore: memory store is not configured")
	}
	ownerID = strings.TrimSpace(ownerID)
	contentHash = strings.TrimSpace(contentHash)
	url = strings.TrimSpace(url)
	if ownerID == "" {
		return core.MemoryRecord{}, false, fmt.Errorf("sqlstore: owner id is required")
	}
	if contentHash == "" && url == "" {
		return core.MemoryRecord{}, false, fmt.Errorf("sqlstore: content hash or url is required")
	}

	record := &memoryRecord{}
	query := s.db.NewSelect().
		Model(record).
		Where("?TableAlias.owner_id = ?", ownerID)
	switch {
	case contentHash != "" && url != "":
		query = query.WhereGroup(" AND ", func(q *bun.SelectQuery) *bun.SelectQuery {
			return q.
				Where("?TableAlias.content_hash = ?", contentHash).
				WhereOr("?TableAlias.url = ?", url)
		})
	case contentHash != "":
		query = query.Where("?TableAlias.content_hash = ?", contentHash)
	default:
		query = query.Where("?TableAlias.url = ?", url)
	}
	err := query.
		OrderExpr("?TableAlias.created_at ASC").
		Limit(1).
		Scan(ctx)
	if err != nil {
		if err == sql.ErrNoRows {
			return core.MemoryRecord{}, false, nil
		}
		return core.MemoryRecord{}, false, err
	}
	return record.toDomain(), true, nil
}

func (s *MemoryStore) Create(ctx context.Context, in core.CreateMemoryInput) (core.MemoryRecord, error) {
	if s == nil || s.db == nil {
		return core.MemoryRecord{}, fmt.Errorf("sqlstore: memory store is not configured")
	}
	if strings.TrimSpace(in.OwnerID) == "" {
		return core.MemoryRecord{}, fmt.Errorf("sqlstore: owner id is required")
	}
	if strings.TrimSpace(in.ContentHash) == "" {
		return core.MemoryRecord{}, fmt.Errorf("sqlstore: content hash is required")
	}

	record := newMemoryRecord(in, time.Now().UTC())
	record.ID = uuid.NewString()
	if _, err := s.db.NewInsert().Model(record).Exec(ctx); err != nil {
		return core.MemoryRecord{}, err
	}
	return record.toDomain(), nil
}

func (s *MemoryStore) UpdateStatus(ctx context.Context, id string, status core.MemoryStatus) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: memory store is not configured")
	}
	trimmedID := strings.TrimSpace(id)
	if trimmedID == "" {
		return fmt.Errorf("sqlstore: memory id is required")
	}
	result, err := s.db.NewUpdate().
		Model((*memoryRecord)(nil)).
		Set("status = ?", strings.TrimSpace(string(status))).
		Where("id = ?", trimmedID).
		Exec(ctx)
	if err != nil {
		return err
	}
	return requireAffectedRow(result, fmt.Errorf("sqlstore: memory not found"), trimmedID)
}
