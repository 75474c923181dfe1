package sync

import (
	"context"
	"errors"
	"fmt"
	"strings"
	gosync "sync"
	"testing"
	"time"

	"github.com/memorymesh/integrations/bridge"
	"github.com/memorymesh/integrations/core"
)

type fakeVault struct{}

func (fakeVault) Encrypt(_ context.Context, plaintext []byte) ([]byte, error) {
	return append([]byte(nil), plaintext...), nil
}

func (fakeVault) Decrypt(_ context.Context, ciphertext []byte) ([]byte, error) {
	return append([]byte(nil), ciphertext...), nil
}

type fakeConnectionStore struct {
	mu          gosync.Mutex
	connections map[string]core.Connection
	syncResults []core.SyncResultInput
	statuses    []string
}

func newFakeConnectionStore(connections ...core.Connection) *fakeConnectionStore {
	store := &fakeConnectionStore{connections: map[string]core.Connection{}}
	for _, connection := range connections {
		store.connections[connection.ID] = connection
	}
	return store
}

func (s *fakeConnectionStore) Upsert(_ context.Context, in core.UpsertConnectionInput) (core.Connection, error) {
	return core.Connection{}, fmt.Errorf("not implemented")
}

func (s *fakeConnectionStore) Get(_ context.Context, id string) (core.Connection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	connection, ok := s.connections[strings.TrimSpace(id)]
	if !ok {
		return core.Connection{}, fmt.Errorf("%w: id %q", core.ErrConnectionNotFound, id)
	}
	return connection, nil
}

func (s *fakeConnectionStore) GetByScope(_ context.Context, providerID string, scope core.ScopeRef) (core.Connection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, connection := range s.connections {
		if connection.ProviderID == providerID && connection.ScopeType == scope.Type && connection.ScopeID == scope.ID {
			return connection, nil
		}
	}
	return core.Connection{}, core.ErrConnectionNotFound
}

func (s *fakeConnectionStore) RecordSyncResult(_ context.Context, in core.SyncResultInput) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.syncResults = append(s.syncResults, in)
	if connection, ok := s.connections[in.ConnectionID]; ok {
		lastSync := in.LastSyncAt
		connection.LastSyncAt = &lastSync
		connection.LastError = in.LastError
		connection.Status = core.ConnectionStatusActive
		s.connections[in.ConnectionID] = connection
	}
	return nil
}

func (s *fakeConnectionStore) UpdateStatus(_ context.Context, id string, status core.ConnectionStatus, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statuses = append(s.statuses, string(status))
	if connection, ok := s.connections[id]; ok {
		connection.Status = status
		connection.LastError = reason
		s.connections[id] = connection
	}
	return nil
}

func (s *fakeConnectionStore) UpdateSettings(_ context.Context, id string, patch core.SettingsPatch) (core.Connection, error) {
	return core.Connection{}, fmt.Errorf("not implemented")
}

func (s *fakeConnectionStore) SetWebhookID(_ context.Context, id string, webhookID string) error {
	return nil
}

func (s *fakeConnectionStore) Delete(_ context.Context, id string) error {
	return nil
}

type fakeResourceStore struct {
	mu        gosync.Mutex
	resources map[string]core.TrackedResource
}

func newFakeResourceStore() *fakeResourceStore {
	return &fakeResourceStore{resources: map[string]core.TrackedResource{}}
}

func resourceKey(connectionID string, externalID string) string {
	return connectionID + "/" + externalID
}

func (s *fakeResourceStore) Get(_ context.Context, connectionID string, externalID string) (core.TrackedResource, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	resource, ok := s.resources[resourceKey(connectionID, externalID)]
	if !ok {
		return core.TrackedResource{}, core.ErrResourceNotFound
	}
	return resource, nil
}

func (s *fakeResourceStore) Upsert(_ context.Context, in core.UpsertResourceInput) (core.TrackedResource, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := resourceKey(in.ConnectionID, in.ExternalID)
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

func (s *fakeResourceStore) SetExcluded(_ context.Context, connectionID string, externalID string, excluded bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := resourceKey(connectionID, externalID)
	resource, ok := s.resources[key]
	if !ok {
		resource = core.TrackedResource{
			ID:           key,
			ConnectionID: connectionID,
			ExternalID:   externalID,
		}
	}
	resource.Excluded = excluded
	s.resources[key] = resource
	return nil
}

func (s *fakeResourceStore) DeleteByConnection(_ context.Context, connectionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key := range s.resources {
		if strings.HasPrefix(key, connectionID+"/") {
			delete(s.resources, key)
		}
	}
	return nil
}

type fakeIngestor struct {
	mu       gosync.Mutex
	requests []bridge.IngestRequest
	err      error
}

func (f *fakeIngestor) Ingest(_ context.Context, req bridge.IngestRequest) (bridge.IngestResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return bridge.IngestResult{}, f.err
	}
	f.requests = append(f.requests, req)
	return bridge.IngestResult{Created: true}, nil
}

type fakePlugin struct {
	id          string
	resources   []core.ResourceRef
	contents    map[string]core.ResourceContent
	listErr     error
	fetchErrs   map[string]error
	fetchCalls  map[string]int
	listCalls   int
	mu          gosync.Mutex
	fetchNotify chan string
}

func (p *fakePlugin) ID() string { return p.id }

func (p *fakePlugin) Capabilities() core.PluginCapabilities {
	return core.PluginCapabilities{}
}

func (p *fakePlugin) AuthURL(_ context.Context, _ core.AuthURLRequest) (string, error) {
	return "https://provider.example.com/oauth", nil
}

func (p *fakePlugin) ExchangeCode(_ context.Context, _ core.ExchangeRequest) (core.TokenSet, error) {
	return core.TokenSet{AccessToken: "token"}, nil
}

func (p *fakePlugin) TestConnection(_ context.Context, _ core.TokenSet) error {
	return nil
}

func (p *fakePlugin) ListResources(_ context.Context, _ core.TokenSet, req core.ListResourcesRequest) (core.ListResourcesResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.listCalls++
	if p.listErr != nil {
		return core.ListResourcesResult{}, p.listErr
	}
	return core.ListResourcesResult{Resources: p.resources}, nil
}

func (p *fakePlugin) FetchResource(_ context.Context, _ core.TokenSet, externalID string) (core.ResourceContent, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fetchCalls == nil {
		p.fetchCalls = map[string]int{}
	}
	p.fetchCalls[externalID]++
	if p.fetchNotify != nil {
		select {
		case p.fetchNotify <- externalID:
		default:
		}
	}
	if err, ok := p.fetchErrs[externalID]; ok {
		return core.ResourceContent{}, err
	}
	content, ok := p.contents[externalID]
	if !ok {
		return core.ResourceContent{
			ExternalID: externalID,
			Title:      "Doc " + externalID,
			URL:        "https://provider.example.com/" + externalID,
			Text:       "content of " + externalID,
		}, nil
	}
	return content, nil
}

func encodedTokens(t *testing.T) []byte {
	t.Helper()
	payload, err := core.JSONTokenCodec{}.Encode(core.TokenSet{AccessToken: "access_1"})
	if err != nil {
		t.Fatalf("encode tokens: %v", err)
	}
	return payload
}

func testConnection(t *testing.T) core.Connection {
	t.Helper()
	return core.Connection{
		ID:               "conn_1",
		ProviderID:       "notion",
		ScopeType:        "user",
		ScopeID:          "user_1",
		Status:           core.ConnectionStatusActive,
		EncryptedPayload: encodedTokens(t),
		Settings: core.ConnectionSettings{
			StorageMode: core.StorageModeFullContent,
		},
	}
}

func newTestRunner(t *testing.T, plugin *fakePlugin, connections *fakeConnectionStore, resources *fakeResourceStore, ingestor *fakeIngestor, enqueuer core.JobEnqueuer) *Runner {
	t.Helper()
	registry := core.NewPluginRegistry()
	if err := registry.Register(plugin); err != nil {
		t.Fatalf("register plugin: %v", err)
	}
	runner, err := NewRunner(RunnerConfig{
		Registry:    registry,
		Connections: connections,
		Resources:   resources,
		Vault:       fakeVault{},
		Ingestor:    ingestor,
		Enqueuer:    enqueuer,
	})
	if err != nil {
		t.Fatalf("new runner: %v", err)
	}
	return runner
}

func refs(ids ...string) []core.ResourceRef {
	out := make([]core.ResourceRef, 0, len(ids))
	for _, id := range ids {
		out = append(out, core.ResourceRef{ExternalID: id, Type: "page"})
	}
	return out
}

func TestRunner_SyncsAllNewResources(t *testing.T) {
	plugin := &fakePlugin{id: "notion", resources: refs("a", "b", "c")}
	connections := newFakeConnectionStore(testConnection(t))
	resources := newFakeResourceStore()
	ingestor := &fakeIngestor{}
	runner := newTestRunner(t, plugin, connections, resources, ingestor, nil)

	report, err := runner.RunSync(context.Background(), "conn_1", core.SyncModeFull)
	if err != nil {
		t.Fatalf("run sync: %v", err)
	}
	if report.Synced != 3 || report.Skipped != 0 || report.Errored != 0 {
		t.Fatalf("expected 3/0/0, got %d/%d/%d", report.Synced, report.Skipped, report.Errored)
	}
	if len(ingestor.requests) != 3 {
		t.Fatalf("expected 3 ingest requests, got %d", len(ingestor.requests))
	}
	if len(connections.syncResults) != 1 {
		t.Fatalf("expected one sync result, got %d", len(connections.syncResults))
	}
	if connections.syncResults[0].LastError != "" {
		t.Fatalf("expected clean sync result, got %q", connections.syncResults[0].LastError)
	}
}

func TestRunner_SecondRunSkipsUnchangedResources(t *testing.T) {
	modified := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	plugin := &fakePlugin{id: "notion"}
	for _, id := range []string{"a", "b"} {
		ref := core.ResourceRef{ExternalID: id, Type: "page", ModifiedAt: &modified}
		plugin.resources = append(plugin.resources, ref)
	}
	connections := newFakeConnectionStore(testConnection(t))
	resources := newFakeResourceStore()
	ingestor := &fakeIngestor{}
	runner := newTestRunner(t, plugin, connections, resources, ingestor, nil)

	first, err := runner.RunSync(context.Background(), "conn_1", core.SyncModeFull)
	if err != nil {
		t.Fatalf("first run: %v", err)
	}
	if first.Synced != 2 {
		t.Fatalf("expected 2 synced on first run, got %d", first.Synced)
	}

	second, err := runner.RunSync(context.Background(), "conn_1", core.SyncModeIncremental)
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if second.Synced != 0 || second.Skipped != 2 {
		t.Fatalf("expected idempotent second run, got synced=%d skipped=%d", second.Synced, second.Skipped)
	}
	if len(ingestor.requests) != 2 {
		t.Fatalf("expected no new ingests on second run, got %d total", len(ingestor.requests))
	}
}

func TestRunner_EqualTimestampCountsAsUnchanged(t *testing.T) {
	plugin := &fakePlugin{id: "notion"}
	connections := newFakeConnectionStore(testConnection(t))
	resources := newFakeResourceStore()
	ingestor := &fakeIngestor{}
	runner := newTestRunner(t, plugin, connections, resources, ingestor, nil)

	syncedAt := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	if _, err := resources.Upsert(context.Background(), core.UpsertResourceInput{
		ConnectionID: "conn_1",
		ExternalID:   "a",
		ResourceType: "page",
		LastSyncedAt: syncedAt,
	}); err != nil {
		t.Fatalf("seed resource: %v", err)
	}
	equal := syncedAt
	plugin.resources = []core.ResourceRef{{ExternalID: "a", Type: "page", ModifiedAt: &equal}}

	report, err := runner.RunSync(context.Background(), "conn_1", core.SyncModeIncremental)
	if err != nil {
		t.Fatalf("run sync: %v", err)
	}
	if report.Skipped != 1 || report.Synced != 0 {
		t.Fatalf("expected equal timestamp to skip, got synced=%d skipped=%d", report.Synced, report.Skipped)
	}
}

func TestRunner_ExclusionIsSticky(t *testing.T) {
	plugin := &fakePlugin{id: "notion", resources: refs("a", "b")}
	connections := newFakeConnectionStore(testConnection(t))
	resources := newFakeResourceStore()
	ingestor := &fakeIngestor{}
	runner := newTestRunner(t, plugin, connections, resources, ingestor, nil)

	if err := resources.SetExcluded(context.Background(), "conn_1", "a", true); err != nil {
		t.Fatalf("set excluded: %v", err)
	}

	for i := 0; i < 2; i++ {
		report, err := runner.RunSync(context.Background(), "conn_1", core.SyncModeFull)
		if err != nil {
			t.Fatalf("run %d: %v", i, err)
		}
		if report.Skipped < 1 {
			t.Fatalf("run %d: expected excluded resource to skip", i)
		}
	}
	if calls := plugin.fetchCalls["a"]; calls != 0 {
		t.Fatalf("expected excluded resource to never be fetched, got %d fetches", calls)
	}
	for _, req := range ingestor.requests {
		if strings.Contains(req.Text, "content of a") {
			t.Fatalf("excluded resource content was ingested")
		}
	}
}

func TestRunner_ContainerResourcesAreSkipped(t *testing.T) {
	plugin := &fakePlugin{
		id: "notion",
		resources: []core.ResourceRef{
			{ExternalID: "folder_1", Type: "folder"},
			{ExternalID: "doc_1", Type: "page"},
		},
	}
	connections := newFakeConnectionStore(testConnection(t))
	resources := newFakeResourceStore()
	ingestor := &fakeIngestor{}
	runner := newTestRunner(t, plugin, connections, resources, ingestor, nil)

	report, err := runner.RunSync(context.Background(), "conn_1", core.SyncModeFull)
	if err != nil {
		t.Fatalf("run sync: %v", err)
	}
	if report.Synced != 1 || report.Skipped != 1 {
		t.Fatalf("expected 1 synced and 1 skipped, got %d/%d", report.Synced, report.Skipped)
	}
	if plugin.fetchCalls["folder_1"] != 0 {
		t.Fatalf("container should never be fetched")
	}
}

func TestRunner_UnsupportedAndEmptyContentSkipWithoutLedgerEntry(t *testing.T) {
	plugin := &fakePlugin{
		id:        "notion",
		resources: refs("binary", "blank", "good"),
		contents: map[string]core.ResourceContent{
			"binary": {ExternalID: "binary", Unsupported: true},
			"blank":  {ExternalID: "blank", Text: "   \n"},
		},
	}
	connections := newFakeConnectionStore(testConnection(t))
	resources := newFakeResourceStore()
	ingestor := &fakeIngestor{}
	runner := newTestRunner(t, plugin, connections, resources, ingestor, nil)

	report, err := runner.RunSync(context.Background(), "conn_1", core.SyncModeFull)
	if err != nil {
		t.Fatalf("run sync: %v", err)
	}
	if report.Synced != 1 || report.Skipped != 2 {
		t.Fatalf("expected 1 synced and 2 skipped, got %d/%d", report.Synced, report.Skipped)
	}
	if _, err := resources.Get(context.Background(), "conn_1", "binary"); !errors.Is(err, core.ErrResourceNotFound) {
		t.Fatalf("expected no ledger entry for unsupported content")
	}
	if _, err := resources.Get(context.Background(), "conn_1", "blank"); !errors.Is(err, core.ErrResourceNotFound) {
		t.Fatalf("expected no ledger entry for empty content")
	}
}

func TestRunner_PerResourceErrorsAreNonFatal(t *testing.T) {
	ids := make([]string, 0, 10)
	for i := 0; i < 10; i++ {
		ids = append(ids, fmt.Sprintf("doc_%d", i))
	}
	plugin := &fakePlugin{
		id:        "notion",
		resources: refs(ids...),
		fetchErrs: map[string]error{"doc_4": errors.New("rate limited")},
	}
	connections := newFakeConnectionStore(testConnection(t))
	resources := newFakeResourceStore()
	ingestor := &fakeIngestor{}
	runner := newTestRunner(t, plugin, connections, resources, ingestor, nil)

	report, err := runner.RunSync(context.Background(), "conn_1", core.SyncModeFull)
	if err != nil {
		t.Fatalf("expected per-resource failure to be non-fatal: %v", err)
	}
	if report.Synced != 9 || report.Errored != 1 {
		t.Fatalf("expected 9 synced and 1 errored, got %d/%d", report.Synced, report.Errored)
	}
	if len(connections.syncResults) != 1 {
		t.Fatalf("expected sync result to be recorded")
	}
	if want := "1 resources failed to sync"; connections.syncResults[0].LastError != want {
		t.Fatalf("expected last error %q, got %q", want, connections.syncResults[0].LastError)
	}
	connection, err := connections.Get(context.Background(), "conn_1")
	if err != nil {
		t.Fatalf("get connection: %v", err)
	}
	if connection.Status != core.ConnectionStatusActive {
		t.Fatalf("expected per-resource errors to keep the connection active, got %q", connection.Status)
	}
}

func TestRunner_ListingFailureMarksConnectionErrored(t *testing.T) {
	plugin := &fakePlugin{id: "notion", listErr: errors.New("token revoked")}
	connections := newFakeConnectionStore(testConnection(t))
	runner := newTestRunner(t, plugin, connections, newFakeResourceStore(), &fakeIngestor{}, nil)

	if _, err := runner.RunSync(context.Background(), "conn_1", core.SyncModeFull); err == nil {
		t.Fatalf("expected listing failure to surface")
	}
	connection, err := connections.Get(context.Background(), "conn_1")
	if err != nil {
		t.Fatalf("get connection: %v", err)
	}
	if connection.Status != core.ConnectionStatusErrored {
		t.Fatalf("expected errored status, got %q", connection.Status)
	}
	if !strings.Contains(connection.LastError, "token revoked") {
		t.Fatalf("expected failure reason recorded, got %q", connection.LastError)
	}
}

type recordingEnqueuer struct {
	mu       gosync.Mutex
	messages []*core.JobExecutionMessage
	err      error
}

func (e *recordingEnqueuer) Enqueue(_ context.Context, msg *core.JobExecutionMessage) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.err != nil {
		return e.err
	}
	e.messages = append(e.messages, msg)
	return nil
}

func TestRunner_TriggerSyncPrefersQueue(t *testing.T) {
	plugin := &fakePlugin{id: "notion", resources: refs("a")}
	connections := newFakeConnectionStore(testConnection(t))
	enqueuer := &recordingEnqueuer{}
	runner := newTestRunner(t, plugin, connections, newFakeResourceStore(), &fakeIngestor{}, enqueuer)

	_, queued, err := runner.TriggerSync(context.Background(), core.TriggerRequest{
		ConnectionID: "conn_1",
		Mode:         core.SyncModeFull,
	})
	if err != nil {
		t.Fatalf("trigger sync: %v", err)
	}
	if !queued {
		t.Fatalf("expected queued dispatch")
	}
	if len(enqueuer.messages) != 1 || enqueuer.messages[0].JobID != JobIDSyncRun {
		t.Fatalf("expected one %s message, got %+v", JobIDSyncRun, enqueuer.messages)
	}
	if plugin.listCalls != 0 {
		t.Fatalf("queued dispatch must not run inline")
	}
}

func TestRunner_TriggerSyncDirectBypassesQueue(t *testing.T) {
	plugin := &fakePlugin{id: "notion", resources: refs("a")}
	connections := newFakeConnectionStore(testConnection(t))
	enqueuer := &recordingEnqueuer{}
	runner := newTestRunner(t, plugin, connections, newFakeResourceStore(), &fakeIngestor{}, enqueuer)

	report, queued, err := runner.TriggerSync(context.Background(), core.TriggerRequest{
		ConnectionID: "conn_1",
		Mode:         core.SyncModeFull,
		Direct:       true,
	})
	if err != nil {
		t.Fatalf("trigger sync: %v", err)
	}
	if queued {
		t.Fatalf("expected synchronous execution")
	}
	if len(enqueuer.messages) != 0 {
		t.Fatalf("direct request must not enqueue, got %+v", enqueuer.messages)
	}
	if report.Synced != 1 {
		t.Fatalf("expected inline run to sync, got %+v", report)
	}
}

func TestRunner_TriggerSyncFallsBackInlineOnEnqueueError(t *testing.T) {
	plugin := &fakePlugin{id: "notion", resources: refs("a")}
	connections := newFakeConnectionStore(testConnection(t))
	enqueuer := &recordingEnqueuer{err: errors.New("broker down")}
	runner := newTestRunner(t, plugin, connections, newFakeResourceStore(), &fakeIngestor{}, enqueuer)

	report, queued, err := runner.TriggerSync(context.Background(), core.TriggerRequest{
		ConnectionID: "conn_1",
		Mode:         core.SyncModeFull,
	})
	if err != nil {
		t.Fatalf("trigger sync: %v", err)
	}
	if queued {
		t.Fatalf("expected inline fallback")
	}
	if report.Synced != 1 {
		t.Fatalf("expected inline run to sync, got %+v", report)
	}
}

func TestRunner_TriggerSyncRejectsUnknownConnection(t *testing.T) {
	plugin := &fakePlugin{id: "notion"}
	runner := newTestRunner(t, plugin, newFakeConnectionStore(), newFakeResourceStore(), &fakeIngestor{}, &recordingEnqueuer{})

	if _, _, err := runner.TriggerSync(context.Background(), core.TriggerRequest{
		ConnectionID: "missing",
		Mode:         core.SyncModeFull,
	}); !errors.Is(err, core.ErrConnectionNotFound) {
		t.Fatalf("expected connection not found, got %v", err)
	}
}

func TestRunner_ConcurrentRunFailsFast(t *testing.T) {
	plugin := &fakePlugin{
		id:          "notion",
		resources:   refs("a"),
		fetchNotify: make(chan string, 1),
	}
	release := make(chan struct{})
	plugin.contents = map[string]core.ResourceContent{}
	connections := newFakeConnectionStore(testConnection(t))
	resources := newFakeResourceStore()
	blockingIngestor := &blockingContentIngestor{release: release, started: make(chan struct{}, 1)}

	registry := core.NewPluginRegistry()
	if err := registry.Register(plugin); err != nil {
		t.Fatalf("register plugin: %v", err)
	}
	runner, err := NewRunner(RunnerConfig{
		Registry:    registry,
		Connections: connections,
		Resources:   resources,
		Vault:       fakeVault{},
		Ingestor:    blockingIngestor,
	})
	if err != nil {
		t.Fatalf("new runner: %v", err)
	}

	done := make(chan error, 1)
	go func() {
		_, runErr := runner.RunSync(context.Background(), "conn_1", core.SyncModeFull)
		done <- runErr
	}()

	select {
	case <-blockingIngestor.started:
	case <-time.After(2 * time.Second):
		t.Fatalf("first run did not start")
	}

	if _, err := runner.RunSync(context.Background(), "conn_1", core.SyncModeFull); !errors.Is(err, core.ErrSyncAlreadyRunning) {
		t.Fatalf("expected ErrSyncAlreadyRunning, got %v", err)
	}

	close(release)
	if err := <-done; err != nil {
		t.Fatalf("first run: %v", err)
	}

	// lock released: a third run succeeds
	if _, err := runner.RunSync(context.Background(), "conn_1", core.SyncModeFull); err != nil {
		t.Fatalf("post-release run: %v", err)
	}
}

type blockingContentIngestor struct {
	release <-chan struct{}
	started chan struct{}
}

func (b *blockingContentIngestor) Ingest(_ context.Context, _ bridge.IngestRequest) (bridge.IngestResult, error) {
	select {
	case b.started <- struct{}{}:
	default:
	}
	<-b.release
	return bridge.IngestResult{Created: true}, nil
}

func TestRunner_ReferenceOnlyModeDropsBodyText(t *testing.T) {
	plugin := &fakePlugin{id: "notion", resources: refs("a")}
	connection := testConnection(t)
	connection.Settings.StorageMode = core.StorageModeReferenceOnly
	connections := newFakeConnectionStore(connection)
	resources := newFakeResourceStore()
	ingestor := &fakeIngestor{}
	runner := newTestRunner(t, plugin, connections, resources, ingestor, nil)

	if _, err := runner.RunSync(context.Background(), "conn_1", core.SyncModeFull); err != nil {
		t.Fatalf("run sync: %v", err)
	}
	if len(ingestor.requests) != 1 {
		t.Fatalf("expected one ingest, got %d", len(ingestor.requests))
	}
	if strings.Contains(ingestor.requests[0].Text, "content of a") {
		t.Fatalf("reference-only mode must not carry body text")
	}

	// the ledger hashes the text that was ingested, not the dropped body
	tracked, err := resources.Get(context.Background(), "conn_1", "a")
	if err != nil {
		t.Fatalf("get ledger row: %v", err)
	}
	if want := bridge.CanonicalHash(ingestor.requests[0].Text); tracked.ContentHash != want {
		t.Fatalf("expected ledger hash %q, got %q", want, tracked.ContentHash)
	}
}

func TestRunner_HandleJobRunsDelivery(t *testing.T) {
	plugin := &fakePlugin{id: "notion", resources: refs("a")}
	connections := newFakeConnectionStore(testConnection(t))
	runner := newTestRunner(t, plugin, connections, newFakeResourceStore(), &fakeIngestor{}, nil)

	report, err := runner.HandleJob(context.Background(), map[string]any{
		"connection_id": "conn_1",
		"mode":          "full",
	})
	if err != nil {
		t.Fatalf("handle job: %v", err)
	}
	if report.Synced != 1 {
		t.Fatalf("expected delivery to sync, got %+v", report)
	}

	if _, err := runner.HandleJob(context.Background(), map[string]any{"mode": "full"}); err == nil {
		t.Fatalf("expected missing connection_id to fail")
	}
}
