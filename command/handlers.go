package command

import (
	"context"
	"strings"

	"github.com/goliatone/go-accountlink/core"
	gocmd "github.com/goliatone/go-command"
)

type MutatingService interface {
	StartLogin(ctx context.Context, principal string, callbacks core.LoginCallbacks) (*core.LoginAttempt, error)
	ActiveLogin(principal string) (*core.LoginAttempt, bool)
	CreateBinding(ctx context.Context, principal string, account core.ExternalAccount, bundle core.CredentialBundle) (core.Binding, error)
	UpdateCredentials(ctx context.Context, principal string, bundle core.CredentialBundle) (core.Binding, error)
	Unbind(ctx context.Context, principal string) error
	VerifyKeyIntegrity(ctx context.Context) error
	RegenerateKey(ctx context.Context) (core.KeyRotation, error)
}

// SessionRefresher is satisfied by core.RefreshScheduler.
type SessionRefresher interface {
	RefreshPrincipal(ctx context.Context, principal string) (core.RefreshReport, error)
}

type StartLoginCommand struct {
	service MutatingService
}

func NewStartLoginCommand(service MutatingService) *StartLoginCommand {
	return &StartLoginCommand{service: service}
}

func (c *StartLoginCommand) Execute(ctx context.Context, msg StartLoginMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: login service is required")
	}
	attempt, err := c.service.StartLogin(ctx, msg.Principal, msg.Callbacks)
	if err != nil {
		return err
	}
	storeResult(ctx, attempt)
	return nil
}

type CancelLoginCommand struct {
	service MutatingService
}

func NewCancelLoginCommand(service MutatingService) *CancelLoginCommand {
	return &CancelLoginCommand{service: service}
}

// Execute cancels the in-flight attempt of the principal. It is a no-op when
// no attempt is running.
func (c *CancelLoginCommand) Execute(_ context.Context, msg CancelLoginMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: login service is required")
	}
	attempt, ok := c.service.ActiveLogin(strings.TrimSpace(msg.Principal))
	if !ok || attempt == nil {
		return nil
	}
	attempt.Cancel()
	return nil
}

type CreateBindingCommand struct {
	service MutatingService
}

func NewCreateBindingCommand(service MutatingService) *CreateBindingCommand {
	return &CreateBindingCommand{service: service}
}

func (c *CreateBindingCommand) Execute(ctx context.Context, msg CreateBindingMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: binding service is required")
	}
	binding, err := c.service.CreateBinding(ctx, msg.Principal, msg.Account, msg.Bundle)
	if err != nil {
		return err
	}
	storeResult(ctx, binding)
	return nil
}

type UpdateCredentialsCommand struct {
	service MutatingService
}

func NewUpdateCredentialsCommand(service MutatingService) *UpdateCredentialsCommand {
	return &UpdateCredentialsCommand{service: service}
}

func (c *UpdateCredentialsCommand) Execute(ctx context.Context, msg UpdateCredentialsMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: binding service is required")
	}
	binding, err := c.service.UpdateCredentials(ctx, msg.Principal, msg.Bundle)
	if err != nil {
		return err
	}
	storeResult(ctx, binding)
	return nil
}

type UnbindCommand struct {
	service MutatingService
}

func NewUnbindCommand(service MutatingService) *UnbindCommand {
	return &UnbindCommand{service: service}
}

func (c *UnbindCommand) Execute(ctx context.Context, msg UnbindMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: unbind service is required")
	}
	return c.service.Unbind(ctx, msg.Principal)
}

type RefreshSessionCommand struct {
	refresher SessionRefresher
}

func NewRefreshSessionCommand(refresher SessionRefresher) *RefreshSessionCommand {
	return &RefreshSessionCommand{refresher: refresher}
}

func (c *RefreshSessionCommand) Execute(ctx context.Context, msg RefreshSessionMessage) error {
	if c == nil || c.refresher == nil {
		return commandDependencyError("command: session refresher is required")
	}
	report, err := c.refresher.RefreshPrincipal(ctx, msg.Principal)
	storeResult(ctx, report)
	return err
}

type VerifyKeyCommand struct {
	service MutatingService
}

func NewVerifyKeyCommand(service MutatingService) *VerifyKeyCommand {
	return &VerifyKeyCommand{service: service}
}

func (c *VerifyKeyCommand) Execute(ctx context.Context, _ VerifyKeyMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: key service is required")
	}
	return c.service.VerifyKeyIntegrity(ctx)
}

type RegenerateKeyCommand struct {
	service MutatingService
}

func NewRegenerateKeyCommand(service MutatingService) *RegenerateKeyCommand {
	return &RegenerateKeyCommand{service: service}
}

func (c *RegenerateKeyCommand) Execute(ctx context.Context, msg RegenerateKeyMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: key service is required")
	}
	if err := msg.Validate(); err != nil {
		return err
	}
	rotation, err := c.service.RegenerateKey(ctx)
	if err != nil {
		return err
	}
	storeResult(ctx, rotation)
	return nil
}

func storeResult[T any](ctx context.Context, value T) {
	collector := gocmd.ResultFromContext[T](ctx)
	if collector == nil {
		return
	}
	collector.Store(value)
}
