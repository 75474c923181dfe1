package integrations

import (
	"context"
	"fmt"
	"strings"
	gosync "sync"
	"testing"
	"time"

	"github.com/memorymesh/integrations/adapters/gojob"
	"github.com/memorymesh/integrations/bridge"
	"github.com/memorymesh/integrations/core"
	enginesync "github.com/memorymesh/integrations/sync"
)

type engineConnectionStore struct {
	mu          gosync.Mutex
	connections map[string]core.Connection
	sequence    int
}

func newEngineConnectionStore() *engineConnectionStore {
	return &engineConnectionStore{connections: map[string]core.Connection{}}
}

func (s *engineConnectionStore) Upsert(_ context.Context, in core.UpsertConnectionInput) (core.Connection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, existing := range s.connections {
		if existing.ProviderID == in.ProviderID && existing.ScopeType == in.Scope.Type && existing.ScopeID == in.Scope.ID {
			existing.EncryptedPayload = in.EncryptedPayload
			existing.Settings = in.Settings
			existing.Status = in.Status
			s.connections[id] = existing
			return existing, nil
		}
	}
	s.sequence++
	connection := core.Connection{
		ID:               fmt.Sprintf("conn_%d", s.sequence),
		ProviderID:       in.ProviderID,
		ScopeType:        in.Scope.Type,
		ScopeID:          in.Scope.ID,
		Status:           in.Status,
		EncryptedPayload: in.EncryptedPayload,
		ExpiresAt:        in.ExpiresAt,
		Settings:         in.Settings,
	}
	s.connections[connection.ID] = connection
	return connection, nil
}

func (s *engineConnectionStore) Get(_ context.Context, id string) (core.Connection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	connection, ok := s.connections[strings.TrimSpace(id)]
	if !ok {
		return core.Connection{}, core.ErrConnectionNotFound
	}
	return connection, nil
}

func (s *engineConnectionStore) GetByScope(_ context.Context, providerID string, scope core.ScopeRef) (core.Connection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, connection := range s.connections {
		if connection.ProviderID == providerID && connection.ScopeType == scope.Type && connection.ScopeID == scope.ID {
			return connection, nil
		}
	}
	return core.Connection{}, core.ErrConnectionNotFound
}

func (s *engineConnectionStore) RecordSyncResult(_ context.Context, in core.SyncResultInput) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if connection, ok := s.connections[in.ConnectionID]; ok {
		lastSync := in.LastSyncAt
		connection.LastSyncAt = &lastSync
		connection.LastError = in.LastError
		s.connections[in.ConnectionID] = connection
	}
	return nil
}

func (s *engineConnectionStore) UpdateStatus(_ context.Context, id string, status core.ConnectionStatus, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if connection, ok := s.connections[id]; ok {
		connection.Status = status
		connection.LastError = reason
		s.connections[id] = connection
	}
	return nil
}

func (s *engineConnectionStore) UpdateSettings(_ context.Context, id string, patch core.SettingsPatch) (core.Connection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	connection, ok := s.connections[id]
	if !ok {
		return core.Connection{}, core.ErrConnectionNotFound
	}
	if patch.StorageMode != nil {
		connection.Settings.StorageMode = *patch.StorageMode
	}
	if patch.SyncIntervalMinutes != nil {
		connection.Settings.SyncIntervalMinutes = *patch.SyncIntervalMinutes
	}
	if patch.ProviderConfig != nil {
		connection.Settings.ProviderConfig = patch.ProviderConfig
	}
	s.connections[id] = connection
	return connection, nil
}

func (s *engineConnectionStore) SetWebhookID(_ context.Context, id string, webhookID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if connection, ok := s.connections[id]; ok {
		connection.WebhookID = webhookID
		s.connections[id] = connection
	}
	return nil
}

func (s *engineConnectionStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.connections, id)
	return nil
}

type engineResourceStore struct {
	mu        gosync.Mutex
	resources map[string]core.TrackedResource
}

func newEngineResourceStore() *engineResourceStore {
	return &engineResourceStore{resources: map[string]core.TrackedResource{}}
}

func (s *engineResourceStore) key(connectionID, externalID string) string {
	return connectionID + "/" + externalID
}

func (s *engineResourceStore) Get(_ context.Context, connectionID string, externalID string) (core.TrackedResource, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	resource, ok := s.resources[s.key(connectionID, externalID)]
	if !ok {
		return core.TrackedResource{}, core.ErrResourceNotFound
	}
	return resource, nil
}

func (s *engineResourceStore) Upsert(_ context.Context, in core.UpsertResourceInput) (core.TrackedResource, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := s.key(in.ConnectionID, in.ExternalID)
	resource, ok := s.resources[key]
	if !ok {
		resource = core.TrackedResource{
			ID:           key,
			ConnectionID: in.ConnectionID,
			ScopeType:    in.ScopeType,
			ExternalID:   in.ExternalID,
		}
	}
	resource.ResourceType = in.ResourceType
	resource.ContentHash = in.ContentHash
	resource.LastSyncedAt = in.LastSyncedAt
	s.resources[key] = resource
	return resource, nil
}

func (s *engineResourceStore) SetExcluded(_ context.Context, connectionID string, externalID string, excluded bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := s.key(connectionID, externalID)
	resource := s.resources[key]
	resource.ConnectionID = connectionID
	resource.ExternalID = externalID
	resource.Excluded = excluded
	s.resources[key] = resource
	return nil
}

func (s *engineResourceStore) DeleteByConnection(_ context.Context, connectionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key := range s.resources {
		if strings.HasPrefix(key, connectionID+"/") {
			delete(s.resources, key)
		}
	}
	return nil
}

type engineMemoryStore struct {
	mu       gosync.Mutex
	memories map[string]core.MemoryRecord
	sequence int
}

func newEngineMemoryStore() *engineMemoryStore {
	return &engineMemoryStore{memories: map[string]core.MemoryRecord{}}
}

func (s *engineMemoryStore) FindDuplicate(_ context.Context, ownerID string, contentHash string, url string) (core.MemoryRecord, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, memory := range s.memories {
		if memory.OwnerID != ownerID {
			continue
		}
		if memory.ContentHash == contentHash {
			return memory, true, nil
		}
		if url != "" && memory.URL == url {
			return memory, true, nil
		}
	}
	return core.MemoryRecord{}, false, nil
}

func (s *engineMemoryStore) Create(_ context.Context, in core.CreateMemoryInput) (core.MemoryRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sequence++
	memory := core.MemoryRecord{
		ID:          fmt.Sprintf("mem_%d", s.sequence),
		OwnerID:     in.OwnerID,
		OrgID:       in.OrgID,
		ProviderID:  in.ProviderID,
		URL:         in.URL,
		Title:       in.Title,
		ContentHash: in.ContentHash,
		Text:        in.Text,
		Status:      in.Status,
		CreatedAt:   time.Now().UTC(),
	}
	s.memories[memory.ID] = memory
	return memory, nil
}

func (s *engineMemoryStore) UpdateStatus(_ context.Context, id string, status core.MemoryStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	memory, ok := s.memories[id]
	if !ok {
		return fmt.Errorf("memory %q not found", id)
	}
	memory.Status = status
	s.memories[id] = memory
	return nil
}

func (s *engineMemoryStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.memories)
}

func (s *engineMemoryStore) statuses() map[string]core.MemoryStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]core.MemoryStatus, len(s.memories))
	for id, memory := range s.memories {
		out[id] = memory.Status
	}
	return out
}

type enginePlugin struct {
	id        string
	resources []core.ResourceRef
}

func (p *enginePlugin) ID() string { return p.id }

func (p *enginePlugin) Capabilities() core.PluginCapabilities { return core.PluginCapabilities{} }

func (p *enginePlugin) AuthURL(_ context.Context, req core.AuthURLRequest) (string, error) {
	return "https://provider.example.com/oauth?state=" + req.State, nil
}

func (p *enginePlugin) ExchangeCode(_ context.Context, _ core.ExchangeRequest) (core.TokenSet, error) {
	return core.TokenSet{AccessToken: "access_1"}, nil
}

func (p *enginePlugin) TestConnection(_ context.Context, _ core.TokenSet) error { return nil }

func (p *enginePlugin) ListResources(_ context.Context, _ core.TokenSet, _ core.ListResourcesRequest) (core.ListResourcesResult, error) {
	return core.ListResourcesResult{Resources: p.resources}, nil
}

func (p *enginePlugin) FetchResource(_ context.Context, _ core.TokenSet, externalID string) (core.ResourceContent, error) {
	return core.ResourceContent{
		ExternalID: externalID,
		Title:      "Doc " + externalID,
		URL:        "https://provider.example.com/" + externalID,
		Text:       "content of " + externalID,
	}, nil
}

func fastSyncConfig() Config {
	cfg := DefaultConfig()
	cfg.Sync.ResourceDelay = time.Millisecond
	return cfg
}

func newTestEngine(t *testing.T, options ...Option) (*Engine, *engineConnectionStore, *engineMemoryStore) {
	t.Helper()
	connections := newEngineConnectionStore()
	memories := newEngineMemoryStore()
	base := []Option{
		WithConnectionStore(connections),
		WithResourceStore(newEngineResourceStore()),
		WithMemoryStore(memories),
	}
	engine, err := Setup(context.Background(), fastSyncConfig(), append(base, options...)...)
	if err != nil {
		t.Fatalf("setup: %v", err)
	}
	return engine, connections, memories
}

func TestSetup_RequiresStores(t *testing.T) {
	_, err := Setup(context.Background(), DefaultConfig())
	if err == nil {
		t.Fatalf("expected setup without stores to fail")
	}
	if !strings.Contains(err.Error(), "stores are required") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestSetup_RejectsUnknownRepositoryFactoryType(t *testing.T) {
	_, err := Setup(context.Background(), DefaultConfig(), WithRepositoryFactory(struct{}{}))
	if err == nil {
		t.Fatalf("expected unsupported factory type to fail")
	}
	if !strings.Contains(err.Error(), "unsupported repository factory type") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestSetup_BuildsFullSurface(t *testing.T) {
	engine, _, _ := newTestEngine(t)

	if engine.Registry() == nil {
		t.Fatalf("expected registry")
	}
	if engine.Lifecycle() == nil || engine.Runner() == nil || engine.Ingestor() == nil || engine.Receiver() == nil {
		t.Fatalf("expected all engine services to be built")
	}
	if engine.WebhookHandler() == nil {
		t.Fatalf("expected webhook handler")
	}
	if got := engine.Config().Sync.PageSize; got != 50 {
		t.Fatalf("expected default page size 50, got %d", got)
	}

	commands := engine.Commands()
	if commands.Connect == nil || commands.Disconnect == nil || commands.TriggerSync == nil ||
		commands.UpdateSettings == nil || commands.SetResourceExclusion == nil || commands.IngestMemory == nil {
		t.Fatalf("expected complete command set, got %+v", commands)
	}
}

func TestEngine_ConnectRunsInitialSyncIntoMemories(t *testing.T) {
	engine, connections, memories := newTestEngine(t)
	plugin := &enginePlugin{
		id: "notion",
		resources: []core.ResourceRef{
			{ExternalID: "a", Type: "page"},
			{ExternalID: "b", Type: "page"},
		},
	}
	if err := engine.Registry().Register(plugin); err != nil {
		t.Fatalf("register plugin: %v", err)
	}

	connection, err := engine.Lifecycle().Connect(context.Background(), ConnectRequest{
		ProviderID: "notion",
		Scope:      core.ScopeRef{Type: "user", ID: "user_1"},
		Code:       "code_1",
	})
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	if connection.ID == "" {
		t.Fatalf("expected persisted connection")
	}
	if len(connections.connections) != 1 {
		t.Fatalf("expected one connection, got %d", len(connections.connections))
	}
	// no enqueuer configured, so the initial sync ran inline
	if got := memories.count(); got != 2 {
		t.Fatalf("expected initial sync to create 2 memories, got %d", got)
	}

	// incremental re-run is idempotent
	report, queued, err := engine.Runner().TriggerSync(context.Background(), core.TriggerRequest{
		ConnectionID: connection.ID,
		Mode:         core.SyncModeIncremental,
	})
	if err != nil {
		t.Fatalf("trigger sync: %v", err)
	}
	if queued {
		t.Fatalf("expected inline run without enqueuer")
	}
	if report.Synced != 0 || report.Skipped != 2 {
		t.Fatalf("expected idempotent re-run, got synced=%d skipped=%d", report.Synced, report.Skipped)
	}
	if got := memories.count(); got != 2 {
		t.Fatalf("expected no duplicate memories, got %d", got)
	}
}

func TestEngine_RegisterJobHandlers(t *testing.T) {
	engine, _, memories := newTestEngine(t)
	if err := engine.RegisterJobHandlers(nil); err == nil {
		t.Fatalf("expected nil dispatcher to be rejected")
	}

	dispatcher := gojob.NewDispatcher(gojob.RetryPolicy{}, nil)
	if err := engine.RegisterJobHandlers(dispatcher); err != nil {
		t.Fatalf("register job handlers: %v", err)
	}
	if err := engine.RegisterJobHandlers(dispatcher); err == nil {
		t.Fatalf("expected duplicate registration to fail")
	}

	err := dispatcher.Dispatch(context.Background(), &core.JobExecutionMessage{
		JobID: bridge.JobIDIngestMemory,
		Parameters: map[string]any{
			"owner_id": "user_1",
			"url":      "https://provider.example.com/a",
			"title":    "Doc a",
			"text":     "queued content",
		},
	})
	if err != nil {
		t.Fatalf("dispatch ingest job: %v", err)
	}
	if got := memories.count(); got != 1 {
		t.Fatalf("expected queued ingest to create one memory, got %d", got)
	}

	if err := dispatcher.Dispatch(context.Background(), &core.JobExecutionMessage{
		JobID:      enginesync.JobIDSyncRun,
		Parameters: map[string]any{"mode": "full"},
	}); err == nil {
		t.Fatalf("expected sync job without connection_id to fail")
	}
}

type engineEmbedProvider struct {
	mu    gosync.Mutex
	calls []string
}

func (p *engineEmbedProvider) Embed(_ context.Context, memoryID string, _ string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, memoryID)
	return nil
}

func TestEngine_EnableEmbeddingMarksMemoriesReady(t *testing.T) {
	engine, _, memories := newTestEngine(t)
	provider := &engineEmbedProvider{}

	if err := engine.EnableEmbedding(provider, 8, 1); err != nil {
		t.Fatalf("enable embedding: %v", err)
	}
	if err := engine.EnableEmbedding(provider, 8, 1); err == nil {
		t.Fatalf("expected double enable to fail")
	}
	if err := engine.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer engine.Shutdown()

	result, err := engine.Ingestor().Ingest(context.Background(), bridge.IngestRequest{
		OwnerID: "user_1",
		URL:     "https://provider.example.com/a",
		Title:   "Doc a",
		Text:    "embed me",
	})
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if !result.Created {
		t.Fatalf("expected direct creation, got %+v", result)
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		if status, ok := memories.statuses()[result.Memory.ID]; ok && status == core.MemoryStatusReady {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("memory never became ready: %+v", memories.statuses())
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestEngine_StartWithoutEmbeddingIsNoOp(t *testing.T) {
	engine, _, _ := newTestEngine(t)
	if err := engine.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	engine.Shutdown()
}
