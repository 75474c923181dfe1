package gocommand

import (
	"context"
	"fmt"
	"strings"

	"github.com/goliatone/go-command"
	commanddispatcher "github.com/goliatone/go-command/dispatcher"
	"github.com/goliatone/go-command/runner"
	jobqueuecommand "github.com/goliatone/go-job/queue/command"

	enginecommand "github.com/memorymesh/integrations/command"
)

// ValidateMessageContract enforces Type() plus optional Validate() contract.
func ValidateMessageContract(msg any) error {
	if err := command.ValidateMessage(msg); err != nil {
		return err
	}
	m, ok := msg.(command.Message)
	if !ok {
		return fmt.Errorf("gocommand: message must implement Type() string")
	}
	if strings.TrimSpace(m.Type()) == "" {
		return fmt.Errorf("gocommand: message type is required")
	}
	return nil
}

type RegistryAdapter struct {
	registry *command.Registry
}

func NewRegistryAdapter(registry *command.Registry) *RegistryAdapter {
	if registry == nil {
		registry = command.NewRegistry()
	}
	return &RegistryAdapter{registry: registry}
}

func (a *RegistryAdapter) Registry() *command.Registry {
	if a == nil {
		return nil
	}
	return a.registry
}

func (a *RegistryAdapter) RegisterCommand(cmd any) error {
	if a == nil || a.registry == nil {
		return fmt.Errorf("gocommand: registry is not configured")
	}
	return a.registry.RegisterCommand(cmd)
}

func (a *RegistryAdapter) AddResolver(key string, resolver command.Resolver) error {
	if a == nil || a.registry == nil {
		return fmt.Errorf("gocommand: registry is not configured")
	}
	return a.registry.AddResolver(strings.TrimSpace(key), resolver)
}

func (a *RegistryAdapter) AddQueueResolver(key string, queueRegistry *jobqueuecommand.Registry) error {
	if queueRegistry == nil {
		return fmt.Errorf("gocommand: queue registry is required")
	}
	return a.AddResolver(key, jobqueuecommand.QueueResolver(queueRegistry))
}

func (a *RegistryAdapter) HasResolver(key string) bool {
	if a == nil || a.registry == nil {
		return false
	}
	return a.registry.HasResolver(strings.TrimSpace(key))
}

func (a *RegistryAdapter) Initialize() error {
	if a == nil || a.registry == nil {
		return fmt.Errorf("gocommand: registry is not configured")
	}
	return a.registry.Initialize()
}

func SubscribeCommand[T any](cmd command.Commander[T], runnerOpts ...runner.Option) commanddispatcher.Subscription {
	return commanddispatcher.SubscribeCommand(cmd, runnerOpts...)
}

func Dispatch[T any](ctx context.Context, msg T) error {
	return commanddispatcher.Dispatch(ctx, msg)
}

func RegisterAndSubscribe[T any](
	adapter *RegistryAdapter,
	cmd command.Commander[T],
	runnerOpts ...runner.Option,
) (commanddispatcher.Subscription, error) {
	if adapter == nil || adapter.registry == nil {
		return nil, fmt.Errorf("gocommand: registry is not configured")
	}
	if cmd == nil {
		return nil, fmt.Errorf("gocommand: command is required")
	}
	subscription := SubscribeCommand(cmd, runnerOpts...)
	if err := adapter.RegisterCommand(cmd); err != nil {
		if subscription != nil {
			subscription.Unsubscribe()
		}
		return nil, err
	}
	return subscription, nil
}

// EngineServices bundles the mutating services the engine's command set
// dispatches to.
type EngineServices struct {
	Lifecycle enginecommand.LifecycleService
	Sync      enginecommand.SyncService
	Ingest    enginecommand.IngestService
}

// RegisterEngineCommands registers and subscribes every engine command on
// the dispatcher. The returned subscriptions unsubscribe in reverse order
// on teardown.
func RegisterEngineCommands(
	adapter *RegistryAdapter,
	services EngineServices,
	runnerOpts ...runner.Option,
) ([]commanddispatcher.Subscription, error) {
	if adapter == nil || adapter.registry == nil {
		return nil, fmt.Errorf("gocommand: registry is not configured")
	}
	if services.Lifecycle == nil {
		return nil, fmt.Errorf("gocommand: lifecycle service is required")
	}
	if services.Sync == nil {
		return nil, fmt.Errorf("gocommand: sync service is required")
	}

	var subscriptions []commanddispatcher.Subscription
	unsubscribeAll := func() {
		for i := len(subscriptions) - 1; i >= 0; i-- {
			subscriptions[i].Unsubscribe()
		}
	}

	register := func(subscribe func() (commanddispatcher.Subscription, error)) error {
		subscription, err := subscribe()
		if err != nil {
			unsubscribeAll()
			return err
		}
		subscriptions = append(subscriptions, subscription)
		return nil
	}

	if err := register(func() (commanddispatcher.Subscription, error) {
		return RegisterAndSubscribe(adapter, enginecommand.NewConnectCommand(services.Lifecycle), runnerOpts...)
	}); err != nil {
		return nil, err
	}
	if err := register(func() (commanddispatcher.Subscription, error) {
		return RegisterAndSubscribe(adapter, enginecommand.NewDisconnectCommand(services.Lifecycle), runnerOpts...)
	}); err != nil {
		return nil, err
	}
	if err := register(func() (commanddispatcher.Subscription, error) {
		return RegisterAndSubscribe(adapter, enginecommand.NewTriggerSyncCommand(services.Sync), runnerOpts...)
	}); err != nil {
		return nil, err
	}
	if err := register(func() (commanddispatcher.Subscription, error) {
		return RegisterAndSubscribe(adapter, enginecommand.NewUpdateSettingsCommand(services.Lifecycle), runnerOpts...)
	}); err != nil {
		return nil, err
	}
	if err := register(func() (commanddispatcher.Subscription, error) {
		return RegisterAndSubscribe(adapter, enginecommand.NewSetResourceExclusionCommand(services.Lifecycle), runnerOpts...)
	}); err != nil {
		return nil, err
	}
	if services.Ingest != nil {
		if err := register(func() (commanddispatcher.Subscription, error) {
			return RegisterAndSubscribe(adapter, enginecommand.NewIngestMemoryCommand(services.Ingest), runnerOpts...)
		}); err != nil {
			return nil, err
		}
	}
	return subscriptions, nil
}
