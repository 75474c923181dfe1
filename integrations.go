package integrations

import (
	"github.com/memorymesh/integrations/core"
	"github.com/memorymesh/integrations/lifecycle"
)

type Config = core.Config

type SyncConfig = core.SyncConfig

type ProviderCredentials = core.ProviderCredentials

type Option = core.Option

type Plugin = core.Plugin
type WebhookPlugin = core.WebhookPlugin
type Registry = core.Registry
type Vault = core.Vault
type Connection = core.Connection
type ScopeRef = core.ScopeRef
type SyncMode = core.SyncMode
type SyncReport = core.SyncReport
type SettingsPatch = core.SettingsPatch

type ConnectRequest = lifecycle.ConnectRequest

var (
	WithLogger            = core.WithLogger
	WithLoggerProvider    = core.WithLoggerProvider
	WithMetricsRecorder   = core.WithMetricsRecorder
	WithErrorFactory      = core.WithErrorFactory
	WithErrorMapper       = core.WithErrorMapper
	WithConfigProvider    = core.WithConfigProvider
	WithOptionsResolver   = core.WithOptionsResolver
	WithRegistry          = core.WithRegistry
	WithVault             = core.WithVault
	WithTokenCodec        = core.WithTokenCodec
	WithConnectionStore   = core.WithConnectionStore
	WithResourceStore     = core.WithResourceStore
	WithMemoryStore       = core.WithMemoryStore
	WithMembershipStore   = core.WithMembershipStore
	WithOrgResolver       = core.WithOrgResolver
	WithEnqueuer          = core.WithEnqueuer
	WithPersistenceClient = core.WithPersistenceClient
	WithRepositoryFactory = core.WithRepositoryFactory
)

func DefaultConfig() Config {
	return core.DefaultConfig()
}
