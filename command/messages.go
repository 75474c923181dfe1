package command

import (
	"strings"

	"github.com/memorymesh/integrations/core"
	"github.com/memorymesh/integrations/lifecycle"
)

const (
	TypeConnect              = "integrations.command.connect"
	TypeDisconnect           = "integrations.command.disconnect"
	TypeTriggerSync          = "integrations.command.sync.trigger"
	TypeUpdateSettings       = "integrations.command.settings.update"
	TypeSetResourceExclusion = "integrations.command.resource.set_exclusion"
	TypeIngestMemory         = "integrations.command.memory.ingest"
)

type ConnectMessage struct {
	Request lifecycle.ConnectRequest
}

func (ConnectMessage) Type() string { return TypeConnect }

func (m ConnectMessage) Validate() error {
	if strings.TrimSpace(m.Request.ProviderID) == "" {
		return commandValidationError("provider_id", "provider id is required")
	}
	if err := m.Request.Scope.Validate(); err != nil {
		return commandWrapValidation(err, "command: invalid scope")
	}
	if strings.TrimSpace(m.Request.Code) == "" {
		return commandValidationError("code", "authorization code is required")
	}
	return nil
}

type DisconnectMessage struct {
	ConnectionID string
}

func (DisconnectMessage) Type() string { return TypeDisconnect }

func (m DisconnectMessage) Validate() error {
	if strings.TrimSpace(m.ConnectionID) == "" {
		return commandValidationError("connection_id", "connection id is required")
	}
	return nil
}

type TriggerSyncMessage struct {
	ConnectionID string
	Mode         core.SyncMode
	// Direct requests synchronous in-process execution instead of a queued
	// run.
	Direct bool
}

func (TriggerSyncMessage) Type() string { return TypeTriggerSync }

func (m TriggerSyncMessage) Validate() error {
	if strings.TrimSpace(m.ConnectionID) == "" {
		return commandValidationError("connection_id", "connection id is required")
	}
	if m.Mode != "" && !m.Mode.IsValid() {
		return commandValidationError("mode", "sync mode must be full or incremental")
	}
	return nil
}

type UpdateSettingsMessage struct {
	ConnectionID string
	Patch        core.SettingsPatch
}

func (UpdateSettingsMessage) Type() string { return TypeUpdateSettings }

func (m UpdateSettingsMessage) Validate() error {
	if strings.TrimSpace(m.ConnectionID) == "" {
		return commandValidationError("connection_id", "connection id is required")
	}
	return nil
}

type SetResourceExclusionMessage struct {
	ConnectionID string
	ExternalID   string
	Excluded     bool
}

func (SetResourceExclusionMessage) Type() string { return TypeSetResourceExclusion }

func (m SetResourceExclusionMessage) Validate() error {
	if strings.TrimSpace(m.ConnectionID) == "" {
		return commandValidationError("connection_id", "connection id is required")
	}
	if strings.TrimSpace(m.ExternalID) == "" {
		return commandValidationError("external_id", "external resource id is required")
	}
	return nil
}

type IngestMemoryMessage struct {
	OwnerID    string
	OrgID      string
	ProviderID string
	URL        string
	Title      string
	Text       string
}

func (IngestMemoryMessage) Type() string { return TypeIngestMemory }

func (m IngestMemoryMessage) Validate() error {
	if strings.TrimSpace(m.OwnerID) == "" {
		return commandValidationError("owner_id", "owner id is required")
	}
	if strings.TrimSpace(m.Text) == "" {
		return commandValidationError("text", "memory text is required")
	}
	return nil
}
