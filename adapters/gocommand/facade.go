package gocommand

import (
	"fmt"

	accountlink "github.com/goliatone/go-accountlink"
	linkcommand "github.com/goliatone/go-accountlink/command"
	"github.com/goliatone/go-accountlink/core"
	linkquery "github.com/goliatone/go-accountlink/query"
	"github.com/goliatone/go-command/runner"
)

// RegisterFacade exposes every command and query of facade on the bus. On
// failure everything registered through the bus so far is released.
func RegisterFacade(b *Bus, facade *accountlink.Facade, runnerOpts ...runner.Option) error {
	if facade == nil {
		return fmt.Errorf("gocommand: facade is required")
	}
	commands := facade.Commands()
	queries := facade.Queries()

	steps := []func() error{
		func() error { return Handle[linkcommand.StartLoginMessage](b, commands.StartLogin, runnerOpts...) },
		func() error { return Handle[linkcommand.CancelLoginMessage](b, commands.CancelLogin, runnerOpts...) },
		func() error { return Handle[linkcommand.CreateBindingMessage](b, commands.CreateBinding, runnerOpts...) },
		func() error {
			return Handle[linkcommand.UpdateCredentialsMessage](b, commands.UpdateCredentials, runnerOpts...)
		},
		func() error { return Handle[linkcommand.UnbindMessage](b, commands.Unbind, runnerOpts...) },
		func() error { return Handle[linkcommand.RefreshSessionMessage](b, commands.RefreshSession, runnerOpts...) },
		func() error { return Handle[linkcommand.VerifyKeyMessage](b, commands.VerifyKey, runnerOpts...) },
		func() error { return Handle[linkcommand.RegenerateKeyMessage](b, commands.RegenerateKey, runnerOpts...) },
		func() error {
			return Answer[linkquery.CheckBindingStatusMessage, core.BindingStatus](b, queries.CheckBindingStatus, runnerOpts...)
		},
		func() error {
			return Answer[linkquery.ExternalAccountSnapshotMessage, *core.ExternalAccount](b, queries.ExternalAccountSnapshot, runnerOpts...)
		},
		func() error {
			return Answer[linkquery.RefreshStatusMessage, core.RefreshStatusResult](b, queries.RefreshStatus, runnerOpts...)
		},
		func() error {
			return Answer[linkquery.ListBindingsMessage, []linkquery.BindingSummary](b, queries.ListBindings, runnerOpts...)
		},
		func() error {
			return Answer[linkquery.GetBindingMessage, linkquery.BindingSummary](b, queries.GetBinding, runnerOpts...)
		},
	}
	for _, step := range steps {
		if err := step(); err != nil {
			b.Close()
			return err
		}
	}
	return nil
}
