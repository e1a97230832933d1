package command

import (
	"strings"

	"github.com/goliatone/go-accountlink/core"
)

const (
	TypeStartLogin        = "accountlink.command.login.start"
	TypeCancelLogin       = "accountlink.command.login.cancel"
	TypeCreateBinding     = "accountlink.command.binding.create"
	TypeUpdateCredentials = "accountlink.command.binding.update_credentials"
	TypeUnbind            = "accountlink.command.binding.unbind"
	TypeRefreshSession    = "accountlink.command.session.refresh"
	TypeVerifyKey         = "accountlink.command.key.verify"
	TypeRegenerateKey     = "accountlink.command.key.regenerate"
)

type StartLoginMessage struct {
	Principal string
	Callbacks core.LoginCallbacks
}

func (StartLoginMessage) Type() string { return TypeStartLogin }

func (m StartLoginMessage) Validate() error {
	return validatePrincipal(m.Principal)
}

type CancelLoginMessage struct {
	Principal string
}

func (CancelLoginMessage) Type() string { return TypeCancelLogin }

func (m CancelLoginMessage) Validate() error {
	return validatePrincipal(m.Principal)
}

type CreateBindingMessage struct {
	Principal string
	Account   core.ExternalAccount
	Bundle    core.CredentialBundle
}

func (CreateBindingMessage) Type() string { return TypeCreateBinding }

func (m CreateBindingMessage) Validate() error {
	if err := validatePrincipal(m.Principal); err != nil {
		return err
	}
	if m.Account.ExternalID <= 0 {
		return commandValidationError("external_id", "must be a positive platform account id")
	}
	return m.Bundle.Validate()
}

type UpdateCredentialsMessage struct {
	Principal string
	Bundle    core.CredentialBundle
}

func (UpdateCredentialsMessage) Type() string { return TypeUpdateCredentials }

func (m UpdateCredentialsMessage) Validate() error {
	if err := validatePrincipal(m.Principal); err != nil {
		return err
	}
	return m.Bundle.Validate()
}

type UnbindMessage struct {
	Principal string
}

func (UnbindMessage) Type() string { return TypeUnbind }

func (m UnbindMessage) Validate() error {
	return validatePrincipal(m.Principal)
}

type RefreshSessionMessage struct {
	Principal string
}

func (RefreshSessionMessage) Type() string { return TypeRefreshSession }

func (m RefreshSessionMessage) Validate() error {
	return validatePrincipal(m.Principal)
}

type VerifyKeyMessage struct{}

func (VerifyKeyMessage) Type() string { return TypeVerifyKey }

func (VerifyKeyMessage) Validate() error { return nil }

// RegenerateKeyMessage must carry Confirm; regeneration makes every stored
// binding unreadable.
type RegenerateKeyMessage struct {
	Confirm bool
}

func (RegenerateKeyMessage) Type() string { return TypeRegenerateKey }

func (m RegenerateKeyMessage) Validate() error {
	if !m.Confirm {
		return commandInvalidInputError("command: key regeneration must be confirmed")
	}
	return nil
}

func validatePrincipal(principal string) error {
	if strings.TrimSpace(principal) == "" {
		return commandValidationError("principal_id", "is required")
	}
	return nil
}
