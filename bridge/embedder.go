package bridge

import (
	"context"
	"fmt"
	"sync"

	"github.com/memorymesh/integrations/core"
)

// EmbeddingProvider computes the vector representation for one memory. The
// actual model call lives in the host application.
type EmbeddingProvider interface {
	Embed(ctx context.Context, memoryID string, text string) error
}

type EmbedderConfig struct {
	Memories core.MemoryStore
	Provider EmbeddingProvider
	Logger   core.Logger
	Metrics  core.MetricsRecorder
	// QueueSize bounds pending work; Schedule fails once the buffer is
	// full rather than blocking the sync path.
	QueueSize int
	Workers   int
}

type embedTask struct {
	memoryID string
	text     string
}

// Embedder runs embedding for directly created memories on a bounded
// in-process queue. Workers are explicit goroutines owned by Start/Stop, so
// shutdown can drain them instead of orphaning detached work.
type Embedder struct {
	memories core.MemoryStore
	provider EmbeddingProvider
	logger   core.Logger
	metrics  core.MetricsRecorder
	workers  int

	tasks chan embedTask

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc
	done    sync.WaitGroup
}

func NewEmbedder(cfg EmbedderConfig) (*Embedder, error) {
	if cfg.Memories == nil {
		return nil, fmt.Errorf("bridge: memory store is required")
	}
	if cfg.Provider == nil {
		return nil, fmt.Errorf("bridge: embedding provider is required")
	}
	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = 256
	}
	workers := cfg.Workers
	if workers <= 0 {
		workers = 2
	}
	return &Embedder{
		memories: cfg.Memories,
		provider: cfg.Provider,
		logger:   cfg.Logger,
		metrics:  cfg.Metrics,
		workers:  workers,
		tasks:    make(chan embedTask, queueSize),
	}, nil
}

func (e *Embedder) Start(ctx context.Context) error {
	if e == nil {
		return fmt.Errorf("bridge: embedder is not configured")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.started {
		return fmt.Errorf("bridge: embedder already started")
	}
	workerCtx, cancel := context.WithCancel(ctx)
	e.cancel = cancel
	e.started = true
	for i := 0; i < e.workers; i++ {
		e.done.Add(1)
		go e.run(workerCtx)
	}
	return nil
}

func (e *Embedder) Stop() {
	if e == nil {
		return
	}
	e.mu.Lock()
	if !e.started {
		e.mu.Unlock()
		return
	}
	e.started = false
	cancel := e.cancel
	e.mu.Unlock()

	cancel()
	e.done.Wait()
}

func (e *Embedder) Schedule(ctx context.Context, memory core.MemoryRecord) error {
	if e == nil {
		return fmt.Errorf("bridge: embedder is not configured")
	}
	e.mu.Lock()
	started := e.started
	e.mu.Unlock()
	if !started {
		return fmt.Errorf("bridge: embedder is not running")
	}

	task := embedTask{memoryID: memory.ID, text: memory.Text}
	select {
	case e.tasks <- task:
		core.RecordCounter(ctx, e.metrics, "memories.embed.scheduled", 1, nil)
		return nil
	default:
		return fmt.Errorf("bridge: embedding queue is full")
	}
}

func (e *Embedder) run(ctx context.Context) {
	defer e.done.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case task := <-e.tasks:
			e.process(ctx, task)
		}
	}
}

func (e *Embedder) process(ctx context.Context, task embedTask) {
	if err := e.provider.Embed(ctx, task.memoryID, task.text); err != nil {
		core.LogError(ctx, e.logger, "embedding failed, memory stays pending", map[string]any{
			"memory_id": task.memoryID,
			"error":     err.Error(),
		})
		core.RecordCounter(ctx, e.metrics, "memories.embed.failed", 1, nil)
		return
	}
	if err := e.memories.UpdateStatus(ctx, task.memoryID, core.MemoryStatusReady); err != nil {
		core.LogError(ctx, e.logger, "embedding status update failed", map[string]any{
			"memory_id": task.memoryID,
			"error":     err.Error(),
		})
		return
	}
	core.RecordCounter(ctx, e.metrics, "memories.embed.completed", 1, nil)
}
