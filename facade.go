package accountlink

import (
	"fmt"

	linkcommand "github.com/goliatone/go-accountlink/command"
	"github.com/goliatone/go-accountlink/core"
	linkquery "github.com/goliatone/go-accountlink/query"
)

type CommandQueryService interface {
	linkcommand.MutatingService
	linkquery.BindingReader
	linkquery.SessionStatusReader
}

type Commands struct {
	StartLogin        *linkcommand.StartLoginCommand
	CancelLogin       *linkcommand.CancelLoginCommand
	CreateBinding     *linkcommand.CreateBindingCommand
	UpdateCredentials *linkcommand.UpdateCredentialsCommand
	Unbind            *linkcommand.UnbindCommand
	RefreshSession    *linkcommand.RefreshSessionCommand
	VerifyKey         *linkcommand.VerifyKeyCommand
	RegenerateKey     *linkcommand.RegenerateKeyCommand
}

type Queries struct {
	CheckBindingStatus      *linkquery.CheckBindingStatusQuery
	ExternalAccountSnapshot *linkquery.ExternalAccountSnapshotQuery
	RefreshStatus           *linkquery.RefreshStatusQuery
	ListBindings            *linkquery.ListBindingsQuery
	GetBinding              *linkquery.GetBindingQuery
}

type Facade struct {
	service  CommandQueryService
	commands Commands
	queries  Queries
}

type FacadeOption func(*facadeOptions)

type facadeOptions struct {
	refresher linkcommand.SessionRefresher
}

// WithSessionRefresher overrides the refresher used by the RefreshSession
// command. By default the service's own scheduler is used.
func WithSessionRefresher(refresher linkcommand.SessionRefresher) FacadeOption {
	return func(options *facadeOptions) {
		options.refresher = refresher
	}
}

func NewFacade(service CommandQueryService, opts ...FacadeOption) (*Facade, error) {
	if service == nil {
		return nil, fmt.Errorf("accountlink: command/query service is required")
	}
	cfg := facadeOptions{}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(&cfg)
	}

	refresher := cfg.refresher
	if refresher == nil {
		refresher = resolveSessionRefresher(service)
	}

	facade := &Facade{service: service}
	facade.commands = Commands{
		StartLogin:        linkcommand.NewStartLoginCommand(service),
		CancelLogin:       linkcommand.NewCancelLoginCommand(service),
		CreateBinding:     linkcommand.NewCreateBindingCommand(service),
		UpdateCredentials: linkcommand.NewUpdateCredentialsCommand(service),
		Unbind:            linkcommand.NewUnbindCommand(service),
		RefreshSession:    linkcommand.NewRefreshSessionCommand(refresher),
		VerifyKey:         linkcommand.NewVerifyKeyCommand(service),
		RegenerateKey:     linkcommand.NewRegenerateKeyCommand(service),
	}
	facade.queries = Queries{
		CheckBindingStatus:      linkquery.NewCheckBindingStatusQuery(service),
		ExternalAccountSnapshot: linkquery.NewExternalAccountSnapshotQuery(service),
		RefreshStatus:           linkquery.NewRefreshStatusQuery(service),
		ListBindings:            linkquery.NewListBindingsQuery(service),
		GetBinding:              linkquery.NewGetBindingQuery(service),
	}

	return facade, nil
}

func (f *Facade) Commands() Commands {
	if f == nil {
		return Commands{}
	}
	return f.commands
}

func (f *Facade) Queries() Queries {
	if f == nil {
		return Queries{}
	}
	return f.queries
}

func (f *Facade) Service() CommandQueryService {
	if f == nil {
		return nil
	}
	return f.service
}

func resolveSessionRefresher(service CommandQueryService) linkcommand.SessionRefresher {
	if refresher, ok := service.(linkcommand.SessionRefresher); ok {
		return refresher
	}
	provider, ok := service.(interface {
		Scheduler() *core.RefreshScheduler
	})
	if !ok {
		return nil
	}
	scheduler := provider.Scheduler()
	if scheduler == nil {
		return nil
	}
	return scheduler
}
