package command

import (
	"context"

	gocmd "github.com/goliatone/go-command"
	"github.com/memorymesh/integrations/bridge"
	"github.com/memorymesh/integrations/core"
	"github.com/memorymesh/integrations/lifecycle"
)

// LifecycleService is the mutating surface of the connection lifecycle
// manager, narrowed to what the command layer dispatches to.
type LifecycleService interface {
	Connect(ctx context.Context, req lifecycle.ConnectRequest) (core.Connection, error)
	Disconnect(ctx context.Context, connectionID string) error
	UpdateSettings(ctx context.Context, connectionID string, patch core.SettingsPatch) (core.Connection, error)
	SetResourceExclusion(ctx context.Context, connectionID string, externalID string, excluded bool) error
}

type SyncService interface {
	TriggerSync(ctx context.Context, req core.TriggerRequest) (core.SyncReport, bool, error)
}

type IngestService interface {
	Ingest(ctx context.Context, req bridge.IngestRequest) (bridge.IngestResult, error)
}

// TriggerSyncResult is what a sync trigger hands back to the caller:
// either the finished report of an inline run or a queued marker.
type TriggerSyncResult struct {
	Report core.SyncReport
	Queued bool
}

type ConnectCommand struct {
	service LifecycleService
}

func NewConnectCommand(service LifecycleService) *ConnectCommand {
	return &ConnectCommand{service: service}
}

func (c *ConnectCommand) Execute(ctx context.Context, msg ConnectMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: connect service is required")
	}
	connection, err := c.service.Connect(ctx, msg.Request)
	if err != nil {
		return err
	}
	storeResult(ctx, connection)
	return nil
}

type DisconnectCommand struct {
	service LifecycleService
}

func NewDisconnectCommand(service LifecycleService) *DisconnectCommand {
	return &DisconnectCommand{service: service}
}

func (c *DisconnectCommand) Execute(ctx context.Context, msg DisconnectMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: disconnect service is required")
	}
	return c.service.Disconnect(ctx, msg.ConnectionID)
}

type TriggerSyncCommand struct {
	service SyncService
}

func NewTriggerSyncCommand(service SyncService) *TriggerSyncCommand {
	return &TriggerSyncCommand{service: service}
}

func (c *TriggerSyncCommand) Execute(ctx context.Context, msg TriggerSyncMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: sync service is required")
	}
	mode := msg.Mode
	if mode == "" {
		mode = core.SyncModeIncremental
	}
	report, queued, err := c.service.TriggerSync(ctx, core.TriggerRequest{
		ConnectionID: msg.ConnectionID,
		Mode:         mode,
		Direct:       msg.Direct,
	})
	if err != nil {
		return err
	}
	storeResult(ctx, TriggerSyncResult{Report: report, Queued: queued})
	return nil
}

type UpdateSettingsCommand struct {
	service LifecycleService
}

func NewUpdateSettingsCommand(service LifecycleService) *UpdateSettingsCommand {
	return &UpdateSettingsCommand{service: service}
}

func (c *UpdateSettingsCommand) Execute(ctx context.Context, msg UpdateSettingsMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: settings service is required")
	}
	connection, err := c.service.UpdateSettings(ctx, msg.ConnectionID, msg.Patch)
	if err != nil {
		return err
	}
	storeResult(ctx, connection)
	return nil
}

type SetResourceExclusionCommand struct {
	service LifecycleService
}

func NewSetResourceExclusionCommand(service LifecycleService) *SetResourceExclusionCommand {
	return &SetResourceExclusionCommand{service: service}
}

func (c *SetResourceExclusionCommand) Execute(ctx context.Context, msg SetResourceExclusionMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: exclusion service is required")
	}
	return c.service.SetResourceExclusion(ctx, msg.ConnectionID, msg.ExternalID, msg.Excluded)
}

type IngestMemoryCommand struct {
	service IngestService
}

func NewIngestMemoryCommand(service IngestService) *IngestMemoryCommand {
	return &IngestMemoryCommand{service: service}
}

func (c *IngestMemoryCommand) Execute(ctx context.Context, msg IngestMemoryMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: ingest service is required")
	}
	result, err := c.service.Ingest(ctx, bridge.IngestRequest{
		OwnerID:    msg.OwnerID,
		OrgID:      msg.OrgID,
		ProviderID: msg.ProviderID,
		URL:        msg.URL,
		Title:      msg.Title,
		Text:       msg.Text,
	})
	if err != nil {
		return err
	}
	storeResult(ctx, result)
	return nil
}

func storeResult[T any](ctx context.Context, value T) {
	collector := gocmd.ResultFromContext[T](ctx)
	if collector == nil {
		return
	}
	collector.Store(value)
}
