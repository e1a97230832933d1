package gocommand

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/goliatone/go-command"
	commanddispatcher "github.com/goliatone/go-command/dispatcher"
	"github.com/goliatone/go-command/runner"
	jobqueuecommand "github.com/goliatone/go-job/queue/command"
)

// ValidateMessageContract enforces a non-empty Type() plus the optional
// Validate() contract.
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

// Bus owns a go-command registry and the dispatcher subscriptions created
// through it. Close releases every subscription.
type Bus struct {
	registry *command.Registry

	mu   sync.Mutex
	subs []commanddispatcher.Subscription
}

func NewBus(registry *command.Registry) *Bus {
	if registry == nil {
		registry = command.NewRegistry()
	}
	return &Bus{registry: registry}
}

func (b *Bus) Registry() *command.Registry {
	if b == nil {
		return nil
	}
	return b.registry
}

// MirrorToQueue registers a resolver that copies every registered command
// into the go-job queue registry under key.
func (b *Bus) MirrorToQueue(key string, queueRegistry *jobqueuecommand.Registry) error {
	if b == nil || b.registry == nil {
		return fmt.Errorf("gocommand: registry is not configured")
	}
	if queueRegistry == nil {
		return fmt.Errorf("gocommand: queue registry is required")
	}
	return b.registry.AddResolver(strings.TrimSpace(key), jobqueuecommand.QueueResolver(queueRegistry))
}

func (b *Bus) Initialize() error {
	if b == nil || b.registry == nil {
		return fmt.Errorf("gocommand: registry is not configured")
	}
	return b.registry.Initialize()
}

func (b *Bus) Len() int {
	if b == nil {
		return 0
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

func (b *Bus) Close() {
	if b == nil {
		return
	}
	b.mu.Lock()
	subs := b.subs
	b.subs = nil
	b.mu.Unlock()
	for _, sub := range subs {
		if sub != nil {
			sub.Unsubscribe()
		}
	}
}

func (b *Bus) track(sub commanddispatcher.Subscription) {
	b.mu.Lock()
	b.subs = append(b.subs, sub)
	b.mu.Unlock()
}

// Handle registers cmd and subscribes it to the dispatcher.
func Handle[T any](b *Bus, cmd command.Commander[T], runnerOpts ...runner.Option) error {
	if b == nil || b.registry == nil {
		return fmt.Errorf("gocommand: registry is not configured")
	}
	if cmd == nil {
		return fmt.Errorf("gocommand: command is required")
	}
	sub := commanddispatcher.SubscribeCommand(cmd, runnerOpts...)
	if err := b.registry.RegisterCommand(cmd); err != nil {
		if sub != nil {
			sub.Unsubscribe()
		}
		return err
	}
	b.track(sub)
	return nil
}

// Answer registers qry and subscribes it to the dispatcher.
func Answer[T any, R any](b *Bus, qry command.Querier[T, R], runnerOpts ...runner.Option) error {
	if b == nil || b.registry == nil {
		return fmt.Errorf("gocommand: registry is not configured")
	}
	if qry == nil {
		return fmt.Errorf("gocommand: query is required")
	}
	sub := commanddispatcher.SubscribeQuery(qry, runnerOpts...)
	if err := b.registry.RegisterCommand(qry); err != nil {
		if sub != nil {
			sub.Unsubscribe()
		}
		return err
	}
	b.track(sub)
	return nil
}

// Dispatch validates msg before handing it to the dispatcher.
func Dispatch[T any](ctx context.Context, msg T) error {
	if err := ValidateMessageContract(msg); err != nil {
		return err
	}
	return commanddispatcher.Dispatch(ctx, msg)
}

// Ask validates msg before running the subscribed query.
func Ask[T any, R any](ctx context.Context, msg T) (R, error) {
	if err := ValidateMessageContract(msg); err != nil {
		var zero R
		return zero, err
	}
	return commanddispatcher.Query[T, R](ctx, msg)
}
