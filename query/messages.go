package query

import (
	"strings"
)

const (
	TypeCheckBindingStatus      = "accountlink.query.binding.status"
	TypeExternalAccountSnapshot = "accountlink.query.binding.account_snapshot"
	TypeRefreshStatus           = "accountlink.query.session.refresh_status"
	TypeListBindings            = "accountlink.query.binding.list"
	TypeGetBinding              = "accountlink.query.binding.get"
)

type CheckBindingStatusMessage struct {
	Principal string
}

func (CheckBindingStatusMessage) Type() string { return TypeCheckBindingStatus }

func (m CheckBindingStatusMessage) Validate() error {
	return validatePrincipal(m.Principal)
}

type ExternalAccountSnapshotMessage struct {
	Principal string
}

func (ExternalAccountSnapshotMessage) Type() string { return TypeExternalAccountSnapshot }

func (m ExternalAccountSnapshotMessage) Validate() error {
	return validatePrincipal(m.Principal)
}

// RefreshStatusMessage probes the platform with the stored session of the
// principal.
type RefreshStatusMessage struct {
	Principal string
}

func (RefreshStatusMessage) Type() string { return TypeRefreshStatus }

func (m RefreshStatusMessage) Validate() error {
	return validatePrincipal(m.Principal)
}

type ListBindingsMessage struct {
	Limit int
}

func (ListBindingsMessage) Type() string { return TypeListBindings }

func (m ListBindingsMessage) Validate() error {
	if m.Limit < 0 {
		return queryValidationError("limit", "must be >= 0")
	}
	return nil
}

type GetBindingMessage struct {
	Principal string
}

func (GetBindingMessage) Type() string { return TypeGetBinding }

func (m GetBindingMessage) Validate() error {
	return validatePrincipal(m.Principal)
}

func validatePrincipal(principal string) error {
	if strings.TrimSpace(principal) == "" {
		return queryValidationError("principal_id", "is required")
	}
	return nil
}
