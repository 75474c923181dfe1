package command

import (
	"context"
	"errors"
	"testing"

	gocmd "github.com/goliatone/go-command"
	"github.com/memorymesh/integrations/bridge"
	"github.com/memorymesh/integrations/core"
	"github.com/memorymesh/integrations/lifecycle"
)

type stubLifecycleService struct {
	connectFn        func(context.Context, lifecycle.ConnectRequest) (core.Connection, error)
	disconnectFn     func(context.Context, string) error
	updateSettingsFn func(context.Context, string, core.SettingsPatch) (core.Connection, error)
	setExclusionFn   func(context.Context, string, string, bool) error
}

func (s stubLifecycleService) Connect(ctx context.Context, req lifecycle.ConnectRequest) (core.Connection, error) {
	return s.connectFn(ctx, req)
}

func (s stubLifecycleService) Disconnect(ctx context.Context, connectionID string) error {
	return s.disconnectFn(ctx, connectionID)
}

func (s stubLifecycleService) UpdateSettings(ctx context.Context, connectionID string, patch core.SettingsPatch) (core.Connection, error) {
	return s.updateSettingsFn(ctx, connectionID, patch)
}

func (s stubLifecycleService) SetResourceExclusion(ctx context.Context, connectionID string, externalID string, excluded bool) error {
	return s.setExclusionFn(ctx, connectionID, externalID, excluded)
}

type stubSyncService struct {
	triggerFn func(context.Context, core.TriggerRequest) (core.SyncReport, bool, error)
}

func (s stubSyncService) TriggerSync(ctx context.Context, req core.TriggerRequest) (core.SyncReport, bool, error) {
	return s.triggerFn(ctx, req)
}

type stubIngestService struct {
	ingestFn func(context.Context, bridge.IngestRequest) (bridge.IngestResult, error)
}

func (s stubIngestService) Ingest(ctx context.Context, req bridge.IngestRequest) (bridge.IngestResult, error) {
	return s.ingestFn(ctx, req)
}

func TestConnectCommand_ExecuteDelegatesAndStoresResult(t *testing.T) {
	expected := core.Connection{ID: "conn_1", ProviderID: "notion"}
	called := false

	svc := stubLifecycleService{
		connectFn: func(_ context.Context, req lifecycle.ConnectRequest) (core.Connection, error) {
			called = true
			if req.ProviderID != "notion" {
				t.Fatalf("expected provider notion, got %q", req.ProviderID)
			}
			return expected, nil
		},
	}

	cmd := NewConnectCommand(svc)
	collector := gocmd.NewResult[core.Connection]()
	ctx := gocmd.ContextWithResult(context.Background(), collector)

	err := cmd.Execute(ctx, ConnectMessage{Request: lifecycle.ConnectRequest{
		ProviderID: "notion",
		Scope:      core.ScopeRef{Type: "user", ID: "user_1"},
		Code:       "code_1",
	}})
	if err != nil {
		t.Fatalf("execute connect: %v", err)
	}
	if !called {
		t.Fatalf("expected connect service invocation")
	}
	result, ok := collector.Load()
	if !ok {
		t.Fatalf("expected result to be stored")
	}
	if result.ID != expected.ID {
		t.Fatalf("unexpected result: %#v", result)
	}
}

func TestConnectCommand_ServiceErrorPropagates(t *testing.T) {
	svc := stubLifecycleService{
		connectFn: func(_ context.Context, _ lifecycle.ConnectRequest) (core.Connection, error) {
			return core.Connection{}, errors.New("exchange failed")
		},
	}
	cmd := NewConnectCommand(svc)
	if err := cmd.Execute(context.Background(), ConnectMessage{}); err == nil {
		t.Fatalf("expected service error")
	}
}

func TestDisconnectCommand_Delegates(t *testing.T) {
	called := false
	svc := stubLifecycleService{
		disconnectFn: func(_ context.Context, connectionID string) error {
			called = true
			if connectionID != "conn_1" {
				t.Fatalf("unexpected connection id %q", connectionID)
			}
			return nil
		},
	}
	cmd := NewDisconnectCommand(svc)
	if err := cmd.Execute(context.Background(), DisconnectMessage{ConnectionID: "conn_1"}); err != nil {
		t.Fatalf("execute disconnect: %v", err)
	}
	if !called {
		t.Fatalf("expected disconnect invocation")
	}
}

func TestTriggerSyncCommand_StoresReportAndQueuedFlag(t *testing.T) {
	svc := stubSyncService{
		triggerFn: func(_ context.Context, req core.TriggerRequest) (core.SyncReport, bool, error) {
			if req.ConnectionID != "conn_1" {
				t.Fatalf("unexpected connection id %q", req.ConnectionID)
			}
			if req.Mode != core.SyncModeFull {
				t.Fatalf("expected full mode, got %q", req.Mode)
			}
			if req.Direct {
				t.Fatalf("expected queued request by default")
			}
			return core.SyncReport{ConnectionID: req.ConnectionID, Synced: 4}, true, nil
		},
	}

	cmd := NewTriggerSyncCommand(svc)
	collector := gocmd.NewResult[TriggerSyncResult]()
	ctx := gocmd.ContextWithResult(context.Background(), collector)

	err := cmd.Execute(ctx, TriggerSyncMessage{ConnectionID: "conn_1", Mode: core.SyncModeFull})
	if err != nil {
		t.Fatalf("execute trigger sync: %v", err)
	}
	stored, ok := collector.Load()
	if !ok {
		t.Fatalf("expected trigger result")
	}
	if !stored.Queued || stored.Report.Synced != 4 {
		t.Fatalf("unexpected trigger result: %#v", stored)
	}
}

func TestTriggerSyncCommand_DefaultsToIncremental(t *testing.T) {
	var seen core.SyncMode
	svc := stubSyncService{
		triggerFn: func(_ context.Context, req core.TriggerRequest) (core.SyncReport, bool, error) {
			seen = req.Mode
			return core.SyncReport{}, false, nil
		},
	}
	cmd := NewTriggerSyncCommand(svc)
	if err := cmd.Execute(context.Background(), TriggerSyncMessage{ConnectionID: "conn_1"}); err != nil {
		t.Fatalf("execute trigger sync: %v", err)
	}
	if seen != core.SyncModeIncremental {
		t.Fatalf("expected incremental default, got %q", seen)
	}
}

func TestTriggerSyncCommand_ForwardsDirectFlag(t *testing.T) {
	var direct bool
	svc := stubSyncService{
		triggerFn: func(_ context.Context, req core.TriggerRequest) (core.SyncReport, bool, error) {
			direct = req.Direct
			return core.SyncReport{ConnectionID: req.ConnectionID}, false, nil
		},
	}
	cmd := NewTriggerSyncCommand(svc)
	if err := cmd.Execute(context.Background(), TriggerSyncMessage{ConnectionID: "conn_1", Direct: true}); err != nil {
		t.Fatalf("execute trigger sync: %v", err)
	}
	if !direct {
		t.Fatalf("expected direct flag to reach the sync service")
	}
}

func TestUpdateSettingsCommand_StoresUpdatedConnection(t *testing.T) {
	mode := core.StorageModeReferenceOnly
	svc := stubLifecycleService{
		updateSettingsFn: func(_ context.Context, connectionID string, patch core.SettingsPatch) (core.Connection, error) {
			if connectionID != "conn_1" || patch.StorageMode == nil || *patch.StorageMode != mode {
				t.Fatalf("unexpected settings payload: %q %#v", connectionID, patch)
			}
			return core.Connection{ID: connectionID, Settings: core.ConnectionSettings{StorageMode: mode}}, nil
		},
	}

	cmd := NewUpdateSettingsCommand(svc)
	collector := gocmd.NewResult[core.Connection]()
	ctx := gocmd.ContextWithResult(context.Background(), collector)

	err := cmd.Execute(ctx, UpdateSettingsMessage{ConnectionID: "conn_1", Patch: core.SettingsPatch{StorageMode: &mode}})
	if err != nil {
		t.Fatalf("execute update settings: %v", err)
	}
	stored, ok := collector.Load()
	if !ok {
		t.Fatalf("expected updated connection result")
	}
	if stored.Settings.StorageMode != mode {
		t.Fatalf("unexpected storage mode: %q", stored.Settings.StorageMode)
	}
}

func TestSetResourceExclusionCommand_Delegates(t *testing.T) {
	called := false
	svc := stubLifecycleService{
		setExclusionFn: func(_ context.Context, connectionID string, externalID string, excluded bool) error {
			called = true
			if connectionID != "conn_1" || externalID != "doc_1" || !excluded {
				t.Fatalf("unexpected exclusion payload: %q %q %v", connectionID, externalID, excluded)
			}
			return nil
		},
	}
	cmd := NewSetResourceExclusionCommand(svc)
	err := cmd.Execute(context.Background(), SetResourceExclusionMessage{
		ConnectionID: "conn_1",
		ExternalID:   "doc_1",
		Excluded:     true,
	})
	if err != nil {
		t.Fatalf("execute set exclusion: %v", err)
	}
	if !called {
		t.Fatalf("expected exclusion invocation")
	}
}

func TestIngestMemoryCommand_StoresIngestResult(t *testing.T) {
	svc := stubIngestService{
		ingestFn: func(_ context.Context, req bridge.IngestRequest) (bridge.IngestResult, error) {
			if req.OwnerID != "user_1" || req.Text != "note body" {
				t.Fatalf("unexpected ingest payload: %#v", req)
			}
			return bridge.IngestResult{Deduplicated: true}, nil
		},
	}

	cmd := NewIngestMemoryCommand(svc)
	collector := gocmd.NewResult[bridge.IngestResult]()
	ctx := gocmd.ContextWithResult(context.Background(), collector)

	err := cmd.Execute(ctx, IngestMemoryMessage{OwnerID: "user_1", Text: "note body"})
	if err != nil {
		t.Fatalf("execute ingest memory: %v", err)
	}
	stored, ok := collector.Load()
	if !ok {
		t.Fatalf("expected ingest result")
	}
	if !stored.Deduplicated {
		t.Fatalf("expected deduplicated result, got %#v", stored)
	}
}

func TestMessageValidation(t *testing.T) {
	cases := []struct {
		name    string
		msg     interface{ Validate() error }
		wantErr bool
	}{
		{"connect missing provider", ConnectMessage{}, true},
		{"connect missing code", ConnectMessage{Request: lifecycle.ConnectRequest{
			ProviderID: "notion",
			Scope:      core.ScopeRef{Type: "user", ID: "user_1"},
		}}, true},
		{"connect valid", ConnectMessage{Request: lifecycle.ConnectRequest{
			ProviderID: "notion",
			Scope:      core.ScopeRef{Type: "user", ID: "user_1"},
			Code:       "code_1",
		}}, false},
		{"disconnect missing id", DisconnectMessage{}, true},
		{"trigger sync invalid mode", TriggerSyncMessage{ConnectionID: "conn_1", Mode: "hourly"}, true},
		{"trigger sync empty mode ok", TriggerSyncMessage{ConnectionID: "conn_1"}, false},
		{"exclusion missing external id", SetResourceExclusionMessage{ConnectionID: "conn_1"}, true},
		{"ingest missing text", IngestMemoryMessage{OwnerID: "user_1"}, true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.msg.Validate()
			if tc.wantErr && err == nil {
				t.Fatalf("expected validation error")
			}
			if !tc.wantErr && err != nil {
				t.Fatalf("unexpected validation error: %v", err)
			}
		})
	}
}
