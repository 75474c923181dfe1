package sync

import (
	"context"
	"fmt"
	"strings"
	gosync "sync"
	"time"

	"github.com/memorymesh/integrations/bridge"
	"github.com/memorymesh/integrations/core"
)

// JobIDSyncRun is the queue job that carries one full reconciliation run.
const JobIDSyncRun = "integrations.sync.run"

// ContentIngestor is the bridge entry point the runner hands fetched
// content to.
type ContentIngestor interface {
	Ingest(ctx context.Context, req bridge.IngestRequest) (bridge.IngestResult, error)
}

type RunnerConfig struct {
	Registry      core.Registry
	Connections   core.ConnectionStore
	Resources     core.ResourceStore
	Vault         core.Vault
	Codec         core.TokenCodec
	Ingestor      ContentIngestor
	OrgResolver   core.OrgResolver
	Enqueuer      core.JobEnqueuer
	Logger        core.Logger
	Metrics       core.MetricsRecorder
	PageSize      int
	ResourceDelay time.Duration
	Now           func() time.Time
}

// Runner reconciles one connection's remote resources into memories. Queue
// dispatch is preferred; a missing or failing queue degrades to a direct
// in-process run so a sync request never silently disappears.
type Runner struct {
	registry      core.Registry
	connections   core.ConnectionStore
	resources     core.ResourceStore
	vault         core.Vault
	codec         core.TokenCodec
	ingestor      ContentIngestor
	orgResolver   core.OrgResolver
	enqueuer      core.JobEnqueuer
	logger        core.Logger
	metrics       core.MetricsRecorder
	pageSize      int
	resourceDelay time.Duration
	now           func() time.Time

	mu      gosync.Mutex
	running map[string]struct{}
}

func NewRunner(cfg RunnerConfig) (*Runner, error) {
	if cfg.Registry == nil {
		return nil, fmt.Errorf("sync: registry is required")
	}
	if cfg.Connections == nil {
		return nil, fmt.Errorf("sync: connection store is required")
	}
	if cfg.Resources == nil {
		return nil, fmt.Errorf("sync: resource store is required")
	}
	if cfg.Vault == nil {
		return nil, fmt.Errorf("sync: vault is required")
	}
	if cfg.Ingestor == nil {
		return nil, fmt.Errorf("sync: ingestor is required")
	}
	codec := cfg.Codec
	if codec == nil {
		codec = core.JSONTokenCodec{}
	}
	pageSize := cfg.PageSize
	if pageSize <= 0 {
		pageSize = 50
	}
	now := cfg.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &Runner{
		registry:      cfg.Registry,
		connections:   cfg.Connections,
		resources:     cfg.Resources,
		vault:         cfg.Vault,
		codec:         codec,
		ingestor:      cfg.Ingestor,
		orgResolver:   cfg.OrgResolver,
		enqueuer:      cfg.Enqueuer,
		logger:        cfg.Logger,
		metrics:       cfg.Metrics,
		pageSize:      pageSize,
		resourceDelay: cfg.ResourceDelay,
		now:           now,
		running:       map[string]struct{}{},
	}, nil
}

// TriggerSync requests a reconciliation run. With a queue configured the
// run is enqueued and executes on a worker; without one, when the enqueue
// fails, or when the request asks for direct execution, the run executes
// inline and the report reflects it.
func (r *Runner) TriggerSync(ctx context.Context, req core.TriggerRequest) (core.SyncReport, bool, error) {
	if r == nil {
		return core.SyncReport{}, false, fmt.Errorf("sync: runner is not configured")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	connectionID := strings.TrimSpace(req.ConnectionID)
	if connectionID == "" {
		return core.SyncReport{}, false, fmt.Errorf("sync: connection id is required")
	}
	mode := req.Mode
	if mode == "" {
		mode = core.SyncModeIncremental
	}
	if !mode.IsValid() {
		return core.SyncReport{}, false, fmt.Errorf("sync: invalid sync mode %q", mode)
	}
	// existence check up front so a bad id fails the request, not the worker
	if _, err := r.connections.Get(ctx, connectionID); err != nil {
		return core.SyncReport{}, false, err
	}

	if r.enqueuer != nil && !req.Direct {
		enqueueErr := r.enqueuer.Enqueue(ctx, &core.JobExecutionMessage{
			JobID: JobIDSyncRun,
			Parameters: map[string]any{
				"connection_id": connectionID,
				"mode":          string(mode),
			},
			IdempotencyKey: connectionID + ":" + string(mode),
		})
		if enqueueErr == nil {
			core.RecordCounter(ctx, r.metrics, "sync.trigger.queued", 1, map[string]string{
				"mode": string(mode),
			})
			return core.SyncReport{ConnectionID: connectionID}, true, nil
		}
		core.LogWarn(ctx, r.logger, "sync enqueue failed, running inline", map[string]any{
			"connection_id": connectionID,
			"mode":          string(mode),
			"error":         enqueueErr.Error(),
		})
	}

	report, err := r.RunSync(ctx, connectionID, mode)
	return report, false, err
}

// HandleJob is the worker-side entry point for JobIDSyncRun deliveries.
func (r *Runner) HandleJob(ctx context.Context, params map[string]any) (core.SyncReport, error) {
	connectionID := readParamString(params, "connection_id")
	if connectionID == "" {
		return core.SyncReport{}, fmt.Errorf("sync: connection_id parameter is required")
	}
	mode := core.SyncMode(readParamString(params, "mode"))
	if mode == "" {
		mode = core.SyncModeIncremental
	}
	if !mode.IsValid() {
		return core.SyncReport{}, fmt.Errorf("sync: invalid sync mode %q", mode)
	}
	return r.RunSync(ctx, connectionID, mode)
}

// RunSync executes the reconciliation loop for one connection. Only one run
// per connection may be in flight; a second caller fails fast with
// core.ErrSyncAlreadyRunning rather than queueing behind the first.
func (r *Runner) RunSync(ctx context.Context, connectionID string, mode core.SyncMode) (core.SyncReport, error) {
	if r == nil {
		return core.SyncReport{}, fmt.Errorf("sync: runner is not configured")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	connectionID = strings.TrimSpace(connectionID)
	if connectionID == "" {
		return core.SyncReport{}, fmt.Errorf("sync: connection id is required")
	}

	if !r.acquireRunLock(connectionID) {
		return core.SyncReport{}, fmt.Errorf("%w: %s", core.ErrSyncAlreadyRunning, connectionID)
	}
	defer r.releaseRunLock(connectionID)

	startedAt := r.now()
	report := core.SyncReport{
		ConnectionID: connectionID,
		StartedAt:    startedAt,
	}

	connection, err := r.connections.Get(ctx, connectionID)
	if err != nil {
		return report, err
	}
	plugin, ok := r.registry.Get(connection.ProviderID)
	if !ok {
		return report, fmt.Errorf("sync: plugin not registered: %s", connection.ProviderID)
	}
	tokens, err := r.decryptTokens(ctx, connection)
	if err != nil {
		return report, err
	}

	orgID := r.resolveOrg(ctx, connection)

	cursor := ""
	for {
		page, listErr := plugin.ListResources(ctx, tokens, core.ListResourcesRequest{
			Cursor: cursor,
			Limit:  r.pageSize,
		})
		if listErr != nil {
			// listing failure is fatal: mark the connection and re-raise
			report.FinishedAt = r.now()
			r.recordFailure(ctx, connection.ID, listErr)
			return report, fmt.Errorf("sync: list resources: %w", listErr)
		}

		for _, resource := range page.Resources {
			if ctx.Err() != nil {
				report.FinishedAt = r.now()
				return report, ctx.Err()
			}
			r.reconcileResource(ctx, connection, plugin, tokens, orgID, resource, &report)
			if r.resourceDelay > 0 {
				select {
				case <-ctx.Done():
					report.FinishedAt = r.now()
					return report, ctx.Err()
				case <-time.After(r.resourceDelay):
				}
			}
		}

		if !page.HasMore || strings.TrimSpace(page.NextCursor) == "" {
			break
		}
		cursor = page.NextCursor
	}

	report.FinishedAt = r.now()
	if err := r.connections.RecordSyncResult(ctx, core.SyncResultInput{
		ConnectionID: connection.ID,
		LastSyncAt:   startedAt,
		LastError:    report.ErrorSummary(),
	}); err != nil {
		return report, err
	}

	core.RecordCounter(ctx, r.metrics, "sync.run.total", 1, map[string]string{
		"provider_id": connection.ProviderID,
		"mode":        string(mode),
	})
	core.RecordHistogram(ctx, r.metrics, "sync.run.duration_ms",
		float64(report.FinishedAt.Sub(report.StartedAt).Milliseconds()),
		map[string]string{"provider_id": connection.ProviderID},
	)
	core.LogInfo(ctx, r.logger, "sync run finished", map[string]any{
		"connection_id": connection.ID,
		"provider_id":   connection.ProviderID,
		"mode":          string(mode),
		"synced":        report.Synced,
		"skipped":       report.Skipped,
		"errored":       report.Errored,
	})
	return report, nil
}

// SyncResource reconciles a single remote object, typically in response to
// a webhook push. The same skip rules as the full run apply.
func (r *Runner) SyncResource(ctx context.Context, connectionID string, externalID string) error {
	if r == nil {
		return fmt.Errorf("sync: runner is not configured")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	connectionID = strings.TrimSpace(connectionID)
	externalID = strings.TrimSpace(externalID)
	if connectionID == "" || externalID == "" {
		return fmt.Errorf("sync: connection id and external id are required")
	}

	connection, err := r.connections.Get(ctx, connectionID)
	if err != nil {
		return err
	}
	plugin, ok := r.registry.Get(connection.ProviderID)
	if !ok {
		return fmt.Errorf("sync: plugin not registered: %s", connection.ProviderID)
	}
	tokens, err := r.decryptTokens(ctx, connection)
	if err != nil {
		return err
	}

	if tracked, trackErr := r.resources.Get(ctx, connection.ID, externalID); trackErr == nil && tracked.Excluded {
		return nil
	}

	orgID := r.resolveOrg(ctx, connection)
	report := core.SyncReport{ConnectionID: connection.ID}
	r.reconcileResource(ctx, connection, plugin, tokens, orgID, core.ResourceRef{ExternalID: externalID}, &report)
	if report.Errored > 0 {
		return fmt.Errorf("sync: resource %s failed to sync", externalID)
	}
	return nil
}

func (r *Runner) reconcileResource(
	ctx context.Context,
	connection core.Connection,
	plugin core.Plugin,
	tokens core.TokenSet,
	orgID string,
	resource core.ResourceRef,
	report *core.SyncReport,
) {
	if resource.IsContainer() {
		report.Skipped++
		return
	}

	tracked, trackErr := r.resources.Get(ctx, connection.ID, resource.ExternalID)
	hasTracked := trackErr == nil
	if hasTracked {
		if tracked.Excluded {
			report.Skipped++
			return
		}
		// non-strict comparison: an equal timestamp counts as unchanged
		if resource.ModifiedAt != nil && !tracked.LastSyncedAt.IsZero() &&
			!resource.ModifiedAt.After(tracked.LastSyncedAt) {
			report.Skipped++
			return
		}
	}

	content, fetchErr := plugin.FetchResource(ctx, tokens, resource.ExternalID)
	if fetchErr != nil {
		report.Errored++
		core.LogWarn(ctx, r.logger, "resource fetch failed", map[string]any{
			"connection_id": connection.ID,
			"external_id":   resource.ExternalID,
			"error":         fetchErr.Error(),
		})
		return
	}
	// unsupported and empty content skip without a ledger entry so the
	// resource is retried once the provider can render it
	if content.Unsupported || content.Empty() {
		report.Skipped++
		return
	}

	text := content.Text
	if connection.Settings.StorageMode == core.StorageModeReferenceOnly {
		text = strings.TrimSpace(content.Title + " " + content.URL)
	}
	if _, ingestErr := r.ingestor.Ingest(ctx, bridge.IngestRequest{
		OwnerID:    connection.ScopeID,
		OrgID:      orgID,
		ProviderID: connection.ProviderID,
		URL:        content.URL,
		Title:      content.Title,
		Text:       text,
	}); ingestErr != nil {
		report.Errored++
		core.LogWarn(ctx, r.logger, "resource ingest failed", map[string]any{
			"connection_id": connection.ID,
			"external_id":   resource.ExternalID,
			"error":         ingestErr.Error(),
		})
		return
	}

	// the ledger hashes what was actually ingested so it agrees with the
	// memory's dedup hash in reference-only mode too
	if _, upsertErr := r.resources.Upsert(ctx, core.UpsertResourceInput{
		ConnectionID: connection.ID,
		ScopeType:    connection.ScopeType,
		ExternalID:   resource.ExternalID,
		ResourceType: resource.Type,
		ContentHash:  bridge.CanonicalHash(text),
		LastSyncedAt: r.now(),
	}); upsertErr != nil {
		report.Errored++
		core.LogWarn(ctx, r.logger, "resource ledger update failed", map[string]any{
			"connection_id": connection.ID,
			"external_id":   resource.ExternalID,
			"error":         upsertErr.Error(),
		})
		return
	}
	report.Synced++
}

func (r *Runner) decryptTokens(ctx context.Context, connection core.Connection) (core.TokenSet, error) {
	payload, err := r.vault.Decrypt(ctx, connection.EncryptedPayload)
	if err != nil {
		return core.TokenSet{}, fmt.Errorf("sync: decrypt credentials: %w", err)
	}
	return r.codec.Decode(payload)
}

func (r *Runner) resolveOrg(ctx context.Context, connection core.Connection) string {
	if r.orgResolver == nil {
		return ""
	}
	orgID, err := r.orgResolver.ResolveOrg(ctx, connection.Scope())
	if err != nil {
		core.LogWarn(ctx, r.logger, "org resolution failed, attributing personally", map[string]any{
			"connection_id": connection.ID,
			"error":         err.Error(),
		})
		return ""
	}
	return orgID
}

func (r *Runner) recordFailure(ctx context.Context, connectionID string, cause error) {
	if err := r.connections.UpdateStatus(ctx, connectionID, core.ConnectionStatusErrored, cause.Error()); err != nil {
		core.LogError(ctx, r.logger, "status update failed after sync error", map[string]any{
			"connection_id": connectionID,
			"error":         err.Error(),
		})
	}
}

func (r *Runner) acquireRunLock(connectionID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, held := r.running[connectionID]; held {
		return false
	}
	r.running[connectionID] = struct{}{}
	return true
}

func (r *Runner) releaseRunLock(connectionID string) {
	r.mu.Lock()
	delete(r.running, connectionID)
	r.mu.Unlock()
}

func readParamString(params map[string]any, key string) string {
	if len(params) == 0 {
		return ""
	}
	value, ok := params[key]
	if !ok || value == nil {
		return ""
	}
	text, ok := value.(string)
	if !ok {
		return ""
	}
	return strings.TrimSpace(text)
}
