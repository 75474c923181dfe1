package bridge

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/memorymesh/integrations/core"
)

// JobIDIngestMemory is the queue job that carries one memory ingestion
// payload to the worker fleet.
const JobIDIngestMemory = "memories.ingest"

type IngestRequest struct {
	OwnerID    string
	OrgID      string
	ProviderID string
	URL        string
	Title      string
	Text       string
}

type IngestResult struct {
	Memory       core.MemoryRecord
	Created      bool
	Deduplicated bool
	Queued       bool
}

type IngestorConfig struct {
	Memories core.MemoryStore
	Enqueuer core.JobEnqueuer
	Embedder *Embedder
	Logger   core.Logger
	Metrics  core.MetricsRecorder
	Now      func() time.Time
}

// Ingestor turns synced resource content into memory records. Duplicates
// are detected per owner before any write; new content goes through the
// queue when one is configured and falls back to direct record creation
// with locally scheduled embedding otherwise.
type Ingestor struct {
	memories core.MemoryStore
	enqueuer core.JobEnqueuer
	embedder *Embedder
	logger   core.Logger
	metrics  core.MetricsRecorder
	now      func() time.Time
}

func NewIngestor(cfg IngestorConfig) (*Ingestor, error) {
	if cfg.Memories == nil {
		return nil, fmt.Errorf("bridge: memory store is required")
	}
	now := cfg.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &Ingestor{
		memories: cfg.Memories,
		enqueuer: cfg.Enqueuer,
		embedder: cfg.Embedder,
		logger:   cfg.Logger,
		metrics:  cfg.Metrics,
		now:      now,
	}, nil
}

// SetEmbedder attaches the background embedding worker after construction.
// Host applications provide the model call, so the worker often arrives
// later than the stores.
func (i *Ingestor) SetEmbedder(embedder *Embedder) error {
	if i == nil {
		return fmt.Errorf("bridge: ingestor is not configured")
	}
	if embedder == nil {
		return fmt.Errorf("bridge: embedder is required")
	}
	if i.embedder != nil {
		return fmt.Errorf("bridge: embedder is already attached")
	}
	i.embedder = embedder
	return nil
}

func (i *Ingestor) Ingest(ctx context.Context, req IngestRequest) (IngestResult, error) {
	if i == nil || i.memories == nil {
		return IngestResult{}, fmt.Errorf("bridge: ingestor is not configured")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	req.OwnerID = strings.TrimSpace(req.OwnerID)
	req.OrgID = strings.TrimSpace(req.OrgID)
	req.ProviderID = strings.TrimSpace(req.ProviderID)
	req.URL = CanonicalURL(req.URL)
	req.Title = strings.TrimSpace(req.Title)
	if req.OwnerID == "" {
		return IngestResult{}, fmt.Errorf("bridge: owner id is required")
	}

	hash := CanonicalHash(req.Text)
	if hash == "" {
		return IngestResult{}, fmt.Errorf("bridge: content is empty")
	}

	existing, found, err := i.memories.FindDuplicate(ctx, req.OwnerID, hash, req.URL)
	if err != nil {
		return IngestResult{}, err
	}
	if found {
		core.RecordCounter(ctx, i.metrics, "memories.ingest.deduplicated", 1, map[string]string{
			"provider_id": req.ProviderID,
		})
		return IngestResult{
			Memory:       existing,
			Deduplicated: true,
		}, nil
	}

	if i.enqueuer != nil {
		enqueueErr := i.enqueuer.Enqueue(ctx, &core.JobExecutionMessage{
			JobID: JobIDIngestMemory,
			Parameters: map[string]any{
				"owner_id":     req.OwnerID,
				"org_id":       req.OrgID,
				"provider_id":  req.ProviderID,
				"url":          req.URL,
				"title":        req.Title,
				"text":         req.Text,
				"content_hash": hash,
			},
			IdempotencyKey: req.OwnerID + ":" + hash,
		})
		if enqueueErr == nil {
			core.RecordCounter(ctx, i.metrics, "memories.ingest.queued", 1, map[string]string{
				"provider_id": req.ProviderID,
			})
			return IngestResult{Queued: true}, nil
		}
		core.LogWarn(ctx, i.logger, "memory ingest enqueue failed, falling back to direct creation", map[string]any{
			"provider_id": req.ProviderID,
			"owner_id":    req.OwnerID,
			"error":       enqueueErr.Error(),
		})
	}

	return i.createDirect(ctx, req, hash)
}

// ProcessQueued is the worker-side entry point for JobIDIngestMemory
// deliveries. It re-runs dedup because the queue may replay.
func (i *Ingestor) ProcessQueued(ctx context.Context, params map[string]any) (IngestResult, error) {
	if i == nil || i.memories == nil {
		return IngestResult{}, fmt.Errorf("bridge: ingestor is not configured")
	}
	req := IngestRequest{
		OwnerID:    readParamString(params, "owner_id"),
		OrgID:      readParamString(params, "org_id"),
		ProviderID: readParamString(params, "provider_id"),
		URL:        CanonicalURL(readParamString(params, "url")),
		Title:      readParamString(params, "title"),
		Text:       readParamString(params, "text"),
	}
	if req.OwnerID == "" {
		return IngestResult{}, fmt.Errorf("bridge: owner id is required")
	}
	hash := readParamString(params, "content_hash")
	if hash == "" {
		hash = CanonicalHash(req.Text)
	}
	if hash == "" {
		return IngestResult{}, fmt.Errorf("bridge: content is empty")
	}

	existing, found, err := i.memories.FindDuplicate(ctx, req.OwnerID, hash, req.URL)
	if err != nil {
		return IngestResult{}, err
	}
	if found {
		return IngestResult{
			Memory:       existing,
			Deduplicated: true,
		}, nil
	}
	return i.createDirect(ctx, req, hash)
}

func (i *Ingestor) createDirect(ctx context.Context, req IngestRequest, hash string) (IngestResult, error) {
	memory, err := i.memories.Create(ctx, core.CreateMemoryInput{
		OwnerID:     req.OwnerID,
		OrgID:       req.OrgID,
		ProviderID:  req.ProviderID,
		URL:         req.URL,
		Title:       req.Title,
		ContentHash: hash,
		Text:        req.Text,
		Status:      core.MemoryStatusPendingEmbedding,
	})
	if err != nil {
		return IngestResult{}, err
	}

	if i.embedder != nil {
		if scheduleErr := i.embedder.Schedule(ctx, memory); scheduleErr != nil {
			core.LogWarn(ctx, i.logger, "embedding schedule failed, memory stays pending", map[string]any{
				"memory_id": memory.ID,
				"error":     scheduleErr.Error(),
			})
		}
	}

	core.RecordCounter(ctx, i.metrics, "memories.ingest.created", 1, map[string]string{
		"provider_id": req.ProviderID,
	})
	return IngestResult{
		Memory:  memory,
		Created: true,
	}, nil
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
