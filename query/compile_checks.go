package query

import (
	"github.com/goliatone/go-accountlink/core"
	gocmd "github.com/goliatone/go-command"
)

var (
	_ gocmd.Querier[CheckBindingStatusMessage, core.BindingStatus]         = (*CheckBindingStatusQuery)(nil)
	_ gocmd.Querier[ExternalAccountSnapshotMessage, *core.ExternalAccount] = (*ExternalAccountSnapshotQuery)(nil)
	_ gocmd.Querier[RefreshStatusMessage, core.RefreshStatusResult]        = (*RefreshStatusQuery)(nil)
	_ gocmd.Querier[ListBindingsMessage, []BindingSummary]                 = (*ListBindingsQuery)(nil)
	_ gocmd.Querier[GetBindingMessage, BindingSummary]                     = (*GetBindingQuery)(nil)

	_ BindingReader       = (*core.Service)(nil)
	_ SessionStatusReader = (*core.Service)(nil)
)
