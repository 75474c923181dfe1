package command

import gocmd "github.com/goliatone/go-command"

var (
	_ gocmd.Commander[ConnectMessage]              = (*ConnectCommand)(nil)
	_ gocmd.Commander[DisconnectMessage]           = (*DisconnectCommand)(nil)
	_ gocmd.Commander[TriggerSyncMessage]          = (*TriggerSyncCommand)(nil)
	_ gocmd.Commander[UpdateSettingsMessage]       = (*UpdateSettingsCommand)(nil)
	_ gocmd.Commander[SetResourceExclusionMessage] = (*SetResourceExclusionCommand)(nil)
	_ gocmd.Commander[IngestMemoryMessage]         = (*IngestMemoryCommand)(nil)
)
