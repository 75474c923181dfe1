package core

import (
	"context"
	"fmt"
	"strings"

	"github.com/goliatone/go-config/cfgx"
	goerrors "github.com/goliatone/go-errors"
	glog "github.com/goliatone/go-logger/glog"
	opts "github.com/goliatone/go-options"
)

type ErrorFactory func(message string, category ...goerrors.Category) *goerrors.Error

type ErrorMapper func(err error) *goerrors.Error

type ConfigProvider interface {
	Load(ctx context.Context, defaults Config) (Config, error)
}

type RawConfigLoader interface {
	LoadRaw(ctx context.Context) (map[string]any, error)
}

type OptionsResolver interface {
	Resolve(defaults Config, loaded Config, runtime Config) (Config, error)
}

type EngineBuilder struct {
	RuntimeConfig     Config
	Logger            Logger
	LoggerProvider    LoggerProvider
	MetricsRecorder   MetricsRecorder
	ErrorFactory      ErrorFactory
	ErrorMapper       ErrorMapper
	ConfigProvider    ConfigProvider
	OptionsResolver   OptionsResolver
	Registry          Registry
	Vault             Vault
	TokenCodec        TokenCodec
	ConnectionStore   ConnectionStore
	ResourceStore     ResourceStore
	MemoryStore       MemoryStore
	MembershipStore   MembershipStore
	OrgResolver       OrgResolver
	Enqueuer          JobEnqueuer
	PersistenceClient any
	RepositoryFactory any
}

type Option func(*EngineBuilder)

func WithLogger(logger Logger) Option {
	return func(b *EngineBuilder) {
		b.Logger = logger
	}
}

func WithLoggerProvider(provider LoggerProvider) Option {
	return func(b *EngineBuilder) {
		b.LoggerProvider = provider
	}
}

func WithMetricsRecorder(recorder MetricsRecorder) Option {
	return func(b *EngineBuilder) {
		b.MetricsRecorder = recorder
	}
}

func WithErrorFactory(factory ErrorFactory) Option {
	return func(b *EngineBuilder) {
		b.ErrorFactory = factory
	}
}

func WithErrorMapper(mapper ErrorMapper) Option {
	return func(b *EngineBuilder) {
		b.ErrorMapper = mapper
	}
}

func WithConfigProvider(provider ConfigProvider) Option {
	return func(b *EngineBuilder) {
		b.ConfigProvider = provider
	}
}

func WithOptionsResolver(resolver OptionsResolver) Option {
	return func(b *EngineBuilder) {
		b.OptionsResolver = resolver
	}
}

func WithRegistry(registry Registry) Option {
	return func(b *EngineBuilder) {
		b.Registry = registry
	}
}

func WithVault(vault Vault) Option {
	return func(b *EngineBuilder) {
		b.Vault = vault
	}
}

func WithTokenCodec(codec TokenCodec) Option {
	return func(b *EngineBuilder) {
		b.TokenCodec = codec
	}
}

func WithConnectionStore(store ConnectionStore) Option {
	return func(b *EngineBuilder) {
		b.ConnectionStore = store
	}
}

func WithResourceStore(store ResourceStore) Option {
	return func(b *EngineBuilder) {
		b.ResourceStore = store
	}
}

func WithMemoryStore(store MemoryStore) Option {
	return func(b *EngineBuilder) {
		b.MemoryStore = store
	}
}

func WithMembershipStore(store MembershipStore) Option {
	return func(b *EngineBuilder) {
		b.MembershipStore = store
	}
}

func WithOrgResolver(resolver OrgResolver) Option {
	return func(b *EngineBuilder) {
		b.OrgResolver = resolver
	}
}

func WithEnqueuer(enqueuer JobEnqueuer) Option {
	return func(b *EngineBuilder) {
		b.Enqueuer = enqueuer
	}
}

func WithPersistenceClient(client any) Option {
	return func(b *EngineBuilder) {
		b.PersistenceClient = client
	}
}

func WithRepositoryFactory(factory any) Option {
	return func(b *EngineBuilder) {
		b.RepositoryFactory = factory
	}
}

func DefaultEngineBuilder(runtime Config) EngineBuilder {
	loggerProvider, logger := glog.Resolve("integrations", nil, nil)
	return EngineBuilder{
		RuntimeConfig:   runtime,
		LoggerProvider:  loggerProvider,
		Logger:          logger,
		MetricsRecorder: NopMetricsRecorder{},
		ErrorFactory:    goerrors.New,
		ErrorMapper:     EngineErrorMapper,
		ConfigProvider:  NewCfgxConfigProvider(nil),
		OptionsResolver: GoOptionsResolver{},
		Registry:        NewPluginRegistry(),
		TokenCodec:      JSONTokenCodec{},
	}
}

type staticRawConfigLoader struct {
	Values map[string]any
}

func (l staticRawConfigLoader) LoadRaw(context.Context) (map[string]any, error) {
	if len(l.Values) == 0 {
		return map[string]any{}, nil
	}
	out := make(map[string]any, len(l.Values))
	for key, value := range l.Values {
		out[key] = value
	}
	return out, nil
}

type CfgxConfigProvider struct {
	Loader RawConfigLoader
}

func NewCfgxConfigProvider(loader RawConfigLoader) *CfgxConfigProvider {
	return &CfgxConfigProvider{Loader: loader}
}

func (p *CfgxConfigProvider) Load(ctx context.Context, defaults Config) (Config, error) {
	if p == nil {
		return defaults, nil
	}
	loader := p.Loader
	if loader == nil {
		loader = staticRawConfigLoader{}
	}
	raw, err := loader.LoadRaw(ctx)
	if err != nil {
		return Config{}, err
	}
	cfg, err := cfgx.Build[Config](raw,
		cfgx.WithDefaults(defaults),
		cfgx.WithValidator[Config]((*Config).Validate),
	)
	if err != nil {
		return Config{}, err
	}
	return cfg, nil
}

type GoOptionsResolver struct{}

func (GoOptionsResolver) Resolve(defaults Config, loaded Config, runtime Config) (Config, error) {
	defaultLayer := configToLayerMap(defaults, true)
	loadedLayer := configToLayerMap(loaded, false)
	runtimeLayer := configToLayerMap(runtime, false)

	stack, err := opts.NewStack(
		opts.NewLayer(
			opts.NewScope("defaults", 0),
			defaultLayer,
			opts.WithSnapshotID[map[string]any]("defaults"),
		),
		opts.NewLayer(
			opts.NewScope("config", 10),
			loadedLayer,
			opts.WithSnapshotID[map[string]any]("config"),
		),
		opts.NewLayer(
			opts.NewScope("runtime", 20),
			runtimeLayer,
			opts.WithSnapshotID[map[string]any]("runtime"),
		),
	)
	if err != nil {
		return Config{}, fmt.Errorf("core: options stack build failed: %w", err)
	}
	merged, err := stack.Merge()
	if err != nil {
		return Config{}, fmt.Errorf("core: options merge failed: %w", err)
	}
	resolved, err := cfgx.Build[Config](merged.Value,
		cfgx.WithDefaults(defaults),
		cfgx.WithValidator[Config]((*Config).Validate),
	)
	if err != nil {
		return Config{}, err
	}
	if err := resolved.Validate(); err != nil {
		return Config{}, err
	}
	return resolved, nil
}

func configToLayerMap(cfg Config, includeZero bool) map[string]any {
	layer := map[string]any{}
	if includeZero || strings.TrimSpace(cfg.ServiceName) != "" {
		layer["service_name"] = cfg.ServiceName
	}
	if includeZero || strings.TrimSpace(cfg.VaultKey) != "" {
		layer["vault_key"] = cfg.VaultKey
	}
	if includeZero || strings.TrimSpace(cfg.BaseURL) != "" {
		layer["base_url"] = cfg.BaseURL
	}
	if includeZero || cfg.Sync != (SyncConfig{}) {
		layer["sync"] = map[string]any{
			"page_size":         cfg.Sync.PageSize,
			"resource_delay":    cfg.Sync.ResourceDelay,
			"initial_sync_mode": cfg.Sync.InitialSyncMode,
		}
	}
	if includeZero || len(cfg.Providers) > 0 {
		providers := map[string]any{}
		for id, creds := range cfg.Providers {
			providers[id] = map[string]any{
				"client_id":     creds.ClientID,
				"client_secret": creds.ClientSecret,
			}
		}
		layer["providers"] = providers
	}
	return layer
}
