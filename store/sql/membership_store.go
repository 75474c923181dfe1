package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/memorymesh/integrations/core"
	"github.com/uptrace/bun"
)

// MembershipStore reads the host application's org membership table. The
// engine never writes to it.
type MembershipStore struct {
	db *bun.DB
}

func NewMembershipStore(db *bun.DB) (*MembershipStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	return &MembershipStore{db: db}, nil
}

func (s *MembershipStore) FirstOrgForUser(ctx context.Context, userID string) (string, bool, error) {
	if s == nil || s.db == nil {
		return "", false, fmt.Errorf("sqlstore: membership store is not configured")
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return "", false, fmt.Errorf("sqlstore: user id is required")
	}

	record := &membershipRecord{}
	err := s.db.NewSelect().
		Model(record).
		Where("?TableAlias.user_id = ?", userID).
		OrderExpr("?TableAlias.created_at ASC").
		Limit(1).
		Scan(ctx)
	if err != nil {
		if err == sql.ErrNoRows {
			return "", false, nil
		}
		return "", false, err
	}
	return strings.TrimSpace(record.OrgID), true, nil
}

var _ core.MembershipStore = (*MembershipStore)(nil)
