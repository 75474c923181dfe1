package webhooks

import (
	"context"
	"fmt"
	"strings"

	"github.com/memorymesh/integrations/core"
)

// ResourceSyncer is the runner's single-resource entry point.
type ResourceSyncer interface {
	SyncResource(ctx context.Context, connectionID string, externalID string) error
}

// SyncEventSink fans parsed webhook events into targeted resource syncs.
// Events missing a connection or resource reference are dropped with a log
// line; one failing event does not stop the rest of the batch.
type SyncEventSink struct {
	Syncer ResourceSyncer
	Logger core.Logger
}

func NewSyncEventSink(syncer ResourceSyncer, logger core.Logger) *SyncEventSink {
	return &SyncEventSink{Syncer: syncer, Logger: logger}
}

func (s *SyncEventSink) HandleEvents(ctx context.Context, events []core.ResourceEvent) error {
	if s == nil || s.Syncer == nil {
		return fmt.Errorf("webhooks: event sink is not configured")
	}
	var failed int
	for _, event := range events {
		connectionID := strings.TrimSpace(event.ConnectionID)
		externalID := strings.TrimSpace(event.ExternalID)
		if connectionID == "" || externalID == "" {
			core.LogWarn(ctx, s.Logger, "webhook event missing target, dropped", map[string]any{
				"provider_id": event.ProviderID,
				"event_type":  event.EventType,
			})
			continue
		}
		if err := s.Syncer.SyncResource(ctx, connectionID, externalID); err != nil {
			failed++
			core.LogWarn(ctx, s.Logger, "webhook-triggered sync failed", map[string]any{
				"connection_id": connectionID,
				"external_id":   externalID,
				"error":         err.Error(),
			})
		}
	}
	if failed > 0 {
		return fmt.Errorf("webhooks: %d of %d events failed", failed, len(events))
	}
	return nil
}

var _ core.EventSink = (*SyncEventSink)(nil)
