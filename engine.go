package integrations

import (
	"context"
	"fmt"
	"net/http"

	"github.com/memorymesh/integrations/adapters/gojob"
	"github.com/memorymesh/integrations/bridge"
	enginecommand "github.com/memorymesh/integrations/command"
	"github.com/memorymesh/integrations/core"
	"github.com/memorymesh/integrations/identity"
	"github.com/memorymesh/integrations/lifecycle"
	"github.com/memorymesh/integrations/security"
	sqlstore "github.com/memorymesh/integrations/store/sql"
	enginesync "github.com/memorymesh/integrations/sync"
	"github.com/memorymesh/integrations/webhooks"
)

// Engine bundles the full integration surface: connection lifecycle,
// sync orchestration, webhook intake and the memory bridge, built from one
// resolved configuration.
type Engine struct {
	cfg     core.Config
	logger  core.Logger
	metrics core.MetricsRecorder

	registry core.Registry
	vault    core.Vault
	memories core.MemoryStore

	manager  *lifecycle.Manager
	runner   *enginesync.Runner
	ingestor *bridge.Ingestor
	embedder *bridge.Embedder
	receiver *webhooks.Receiver
}

// Commands is the dispatchable command set over the engine's mutating
// operations.
type Commands struct {
	Connect              *enginecommand.ConnectCommand
	Disconnect           *enginecommand.DisconnectCommand
	TriggerSync          *enginecommand.TriggerSyncCommand
	UpdateSettings       *enginecommand.UpdateSettingsCommand
	SetResourceExclusion *enginecommand.SetResourceExclusionCommand
	IngestMemory         *enginecommand.IngestMemoryCommand
}

// Setup resolves configuration through the provider/resolver chain and
// builds a ready engine. Stores come either from explicit options or from
// a repository factory / persistence client.
func Setup(ctx context.Context, runtime Config, options ...Option) (*Engine, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	builder := core.DefaultEngineBuilder(runtime)
	for _, option := range options {
		if option == nil {
			continue
		}
		option(&builder)
	}
	return buildEngine(ctx, builder)
}

func buildEngine(ctx context.Context, builder core.EngineBuilder) (*Engine, error) {
	defaults := core.DefaultConfig()

	loaded := defaults
	if builder.ConfigProvider != nil {
		var err error
		loaded, err = builder.ConfigProvider.Load(ctx, defaults)
		if err != nil {
			return nil, fmt.Errorf("integrations: load config: %w", err)
		}
	}
	resolved := loaded
	if builder.OptionsResolver != nil {
		var err error
		resolved, err = builder.OptionsResolver.Resolve(defaults, loaded, builder.RuntimeConfig)
		if err != nil {
			return nil, fmt.Errorf("integrations: resolve config: %w", err)
		}
	}

	logger := builder.Logger
	metrics := builder.MetricsRecorder
	if metrics == nil {
		metrics = core.NopMetricsRecorder{}
	}
	registry := builder.Registry
	if registry == nil {
		registry = core.NewPluginRegistry()
	}
	vault := builder.Vault
	if vault == nil {
		var err error
		vault, err = security.ResolveVault(resolved.VaultKey, logger)
		if err != nil {
			return nil, err
		}
	}

	stores, err := resolveStores(builder)
	if err != nil {
		return nil, err
	}

	orgResolver := builder.OrgResolver
	if orgResolver == nil && stores.memberships != nil {
		orgResolver = identity.NewMembershipResolver(stores.memberships)
	}

	ingestor, err := bridge.NewIngestor(bridge.IngestorConfig{
		Memories: stores.memories,
		Enqueuer: builder.Enqueuer,
		Logger:   logger,
		Metrics:  metrics,
	})
	if err != nil {
		return nil, err
	}

	runner, err := enginesync.NewRunner(enginesync.RunnerConfig{
		Registry:      registry,
		Connections:   stores.connections,
		Resources:     stores.resources,
		Vault:         vault,
		Codec:         builder.TokenCodec,
		Ingestor:      ingestor,
		OrgResolver:   orgResolver,
		Enqueuer:      builder.Enqueuer,
		Logger:        logger,
		Metrics:       metrics,
		PageSize:      resolved.Sync.PageSize,
		ResourceDelay: resolved.Sync.ResourceDelay,
	})
	if err != nil {
		return nil, err
	}

	manager, err := lifecycle.NewManager(lifecycle.ManagerConfig{
		Config:      resolved,
		Registry:    registry,
		Connections: stores.connections,
		Resources:   stores.resources,
		Vault:       vault,
		Codec:       builder.TokenCodec,
		Trigger:     runner,
		Logger:      logger,
		Metrics:     metrics,
	})
	if err != nil {
		return nil, err
	}

	receiver, err := webhooks.NewReceiver(webhooks.ReceiverConfig{
		Registry: registry,
		Sink:     webhooks.NewSyncEventSink(runner, logger),
		Logger:   logger,
		Metrics:  metrics,
	})
	if err != nil {
		return nil, err
	}

	return &Engine{
		cfg:      resolved,
		logger:   logger,
		metrics:  metrics,
		registry: registry,
		vault:    vault,
		memories: stores.memories,
		manager:  manager,
		runner:   runner,
		ingestor: ingestor,
		receiver: receiver,
	}, nil
}

type resolvedStores struct {
	connections core.ConnectionStore
	resources   core.ResourceStore
	memories    core.MemoryStore
	memberships core.MembershipStore
}

func resolveStores(builder core.EngineBuilder) (resolvedStores, error) {
	stores := resolvedStores{
		connections: builder.ConnectionStore,
		resources:   builder.ResourceStore,
		memories:    builder.MemoryStore,
		memberships: builder.MembershipStore,
	}
	if stores.connections != nil && stores.resources != nil && stores.memories != nil {
		return stores, nil
	}

	factory, err := repositoryFactory(builder)
	if err != nil {
		return resolvedStores{}, err
	}
	if factory == nil {
		return resolvedStores{}, fmt.Errorf("integrations: stores are required; provide them directly or via a repository factory")
	}

	if stores.connections == nil {
		stores.connections = factory.ConnectionStore()
	}
	if stores.resources == nil {
		stores.resources = factory.ResourceStore()
	}
	if stores.memories == nil {
		stores.memories = factory.MemoryStore()
	}
	if stores.memberships == nil {
		stores.memberships = factory.MembershipStore()
	}
	return stores, nil
}

func repositoryFactory(builder core.EngineBuilder) (*sqlstore.RepositoryFactory, error) {
	if builder.RepositoryFactory != nil {
		factory, ok := builder.RepositoryFactory.(*sqlstore.RepositoryFactory)
		if !ok {
			return nil, fmt.Errorf("integrations: unsupported repository factory type %T", builder.RepositoryFactory)
		}
		if builder.PersistenceClient != nil {
			if err := factory.BuildStores(builder.PersistenceClient); err != nil {
				return nil, err
			}
		}
		return factory, nil
	}
	if builder.PersistenceClient == nil {
		return nil, nil
	}
	factory := sqlstore.NewRepositoryFactory()
	if err := factory.BuildStores(builder.PersistenceClient); err != nil {
		return nil, err
	}
	return factory, nil
}

// EnableEmbedding attaches a background embedding worker for directly
// created memories. Call before Start.
func (e *Engine) EnableEmbedding(provider bridge.EmbeddingProvider, queueSize int, workers int) error {
	if e == nil {
		return fmt.Errorf("integrations: engine is not configured")
	}
	if e.embedder != nil {
		return fmt.Errorf("integrations: embedding is already enabled")
	}
	embedder, err := bridge.NewEmbedder(bridge.EmbedderConfig{
		Memories:  e.memories,
		Provider:  provider,
		Logger:    e.logger,
		Metrics:   e.metrics,
		QueueSize: queueSize,
		Workers:   workers,
	})
	if err != nil {
		return err
	}
	if err := e.ingestor.SetEmbedder(embedder); err != nil {
		return err
	}
	e.embedder = embedder
	return nil
}

// Start launches background workers. Safe to call when embedding is not
// enabled.
func (e *Engine) Start(ctx context.Context) error {
	if e == nil {
		return fmt.Errorf("integrations: engine is not configured")
	}
	if e.embedder != nil {
		return e.embedder.Start(ctx)
	}
	return nil
}

// Shutdown stops background workers and drains in-flight webhook
// processing.
func (e *Engine) Shutdown() {
	if e == nil {
		return
	}
	if e.embedder != nil {
		e.embedder.Stop()
	}
	if e.receiver != nil {
		e.receiver.Wait()
	}
}

func (e *Engine) Config() core.Config {
	if e == nil {
		return core.Config{}
	}
	return e.cfg
}

func (e *Engine) Registry() core.Registry {
	if e == nil {
		return nil
	}
	return e.registry
}

func (e *Engine) Lifecycle() *lifecycle.Manager {
	if e == nil {
		return nil
	}
	return e.manager
}

func (e *Engine) Runner() *enginesync.Runner {
	if e == nil {
		return nil
	}
	return e.runner
}

func (e *Engine) Ingestor() *bridge.Ingestor {
	if e == nil {
		return nil
	}
	return e.ingestor
}

func (e *Engine) Receiver() *webhooks.Receiver {
	if e == nil {
		return nil
	}
	return e.receiver
}

// WebhookHandler mounts the webhook routes for the host HTTP server.
func (e *Engine) WebhookHandler() http.Handler {
	if e == nil || e.receiver == nil {
		return nil
	}
	return e.receiver.Handler()
}

// RegisterJobHandlers binds the engine's queued work to a dispatcher: sync
// runs and replayed memory ingestion.
func (e *Engine) RegisterJobHandlers(dispatcher *gojob.Dispatcher) error {
	if e == nil {
		return fmt.Errorf("integrations: engine is not configured")
	}
	if dispatcher == nil {
		return fmt.Errorf("integrations: dispatcher is required")
	}
	err := dispatcher.Register(enginesync.JobIDSyncRun, func(ctx context.Context, params map[string]any) error {
		_, err := e.runner.HandleJob(ctx, params)
		return err
	})
	if err != nil {
		return err
	}
	return dispatcher.Register(bridge.JobIDIngestMemory, func(ctx context.Context, params map[string]any) error {
		_, err := e.ingestor.ProcessQueued(ctx, params)
		return err
	})
}

// Commands builds the command wrappers over the engine services.
func (e *Engine) Commands() Commands {
	if e == nil {
		return Commands{}
	}
	return Commands{
		Connect:              enginecommand.NewConnectCommand(e.manager),
		Disconnect:           enginecommand.NewDisconnectCommand(e.manager),
		TriggerSync:          enginecommand.NewTriggerSyncCommand(e.runner),
		UpdateSettings:       enginecommand.NewUpdateSettingsCommand(e.manager),
		SetResourceExclusion: enginecommand.NewSetResourceExclusionCommand(e.manager),
		IngestMemory:         enginecommand.NewIngestMemoryCommand(e.ingestor),
	}
}
