package command

import (
	"github.com/goliatone/go-accountlink/core"
	gocmd "github.com/goliatone/go-command"
)

var (
	_ gocmd.Commander[StartLoginMessage]        = (*StartLoginCommand)(nil)
	_ gocmd.Commander[CancelLoginMessage]       = (*CancelLoginCommand)(nil)
	_ gocmd.Commander[CreateBindingMessage]     = (*CreateBindingCommand)(nil)
	_ gocmd.Commander[UpdateCredentialsMessage] = (*UpdateCredentialsCommand)(nil)
	_ gocmd.Commander[UnbindMessage]            = (*UnbindCommand)(nil)
	_ gocmd.Commander[RefreshSessionMessage]    = (*RefreshSessionCommand)(nil)
	_ gocmd.Commander[VerifyKeyMessage]         = (*VerifyKeyCommand)(nil)
	_ gocmd.Commander[RegenerateKeyMessage]     = (*RegenerateKeyCommand)(nil)

	_ MutatingService  = (*core.Service)(nil)
	_ SessionRefresher = (*core.RefreshScheduler)(nil)
)
