package core

import (
	"context"
	"net/http"
	"sync"
	"time"

	goerrors "github.com/goliatone/go-errors"
)

type LoginOutcome struct {
	State   LoginState
	Binding Binding
	Err     error
}

// LoginAttempt is one in-progress QR login for a principal. Its poll loop
// runs on its own goroutine and stops on the first terminal state.
type LoginAttempt struct {
	principal string
	flow      *LoginFlow
	callbacks LoginCallbacks
	cancel    context.CancelFunc
	done      chan struct{}

	mu       sync.Mutex
	outcome  LoginOutcome
	finished bool
}

func (a *LoginAttempt) Principal() string {
	return a.principal
}

func (a *LoginAttempt) State() LoginState {
	return a.flow.State()
}

func (a *LoginAttempt) History() []LoginState {
	return a.flow.History()
}

func (a *LoginAttempt) Session() (QRSession, bool) {
	return a.flow.Session()
}

func (a *LoginAttempt) Done() <-chan struct{} {
	return a.done
}

// Cancel stops the poll loop. The QR session is abandoned and expires on the
// platform side after its TTL.
func (a *LoginAttempt) Cancel() {
	if a != nil && a.cancel != nil {
		a.cancel()
	}
}

func (a *LoginAttempt) Wait(ctx context.Context) (LoginOutcome, error) {
	select {
	case <-a.done:
		outcome, _ := a.Outcome()
		return outcome, outcome.Err
	case <-ctx.Done():
		return LoginOutcome{State: a.State()}, ctx.Err()
	}
}

func (a *LoginAttempt) Outcome() (LoginOutcome, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.outcome, a.finished
}

// StartLogin begins an asynchronous QR login for principal. A second call
// for the same principal while an attempt is running fails with
// LOGIN_ALREADY_IN_PROGRESS.
func (s *Service) StartLogin(ctx context.Context, principal string, callbacks LoginCallbacks) (attempt *LoginAttempt, err error) {
	startedAt := time.Now().UTC()
	fields := map[string]any{"principal_id": principal}
	defer func() {
		s.observeOperation(ctx, startedAt, "start_login", err, fields)
	}()

	principal, err = normalizePrincipal(principal)
	if err != nil {
		return nil, s.mapError(err)
	}
	if s.platform == nil {
		return nil, s.mapError(goerrors.New("core: platform is not configured", goerrors.CategoryInternal).
			WithCode(http.StatusInternalServerError).
			WithTextCode(ErrorCodeInternal))
	}

	s.loginMu.Lock()
	if _, exists := s.attempts[principal]; exists {
		s.loginMu.Unlock()
		return nil, s.mapError(NewConflictError(
			ErrLoginAlreadyInProgress,
			ErrorCodeLoginAlreadyInProgress,
			"core: login already in progress for principal",
			map[string]any{"principal_id": principal},
		))
	}
	// The attempt outlives the request that started it; only Cancel stops it.
	attemptCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	attempt = &LoginAttempt{
		principal: principal,
		flow:      NewLoginFlow(),
		callbacks: callbacks,
		cancel:    cancel,
		done:      make(chan struct{}),
	}
	s.attempts[principal] = attempt
	s.loginMu.Unlock()

	go s.runLoginAttempt(attemptCtx, attempt)
	return attempt, nil
}

// ActiveLogin returns the running attempt for principal, if any.
func (s *Service) ActiveLogin(principal string) (*LoginAttempt, bool) {
	s.loginMu.Lock()
	defer s.loginMu.Unlock()
	attempt, ok := s.attempts[principal]
	return attempt, ok
}

func (s *Service) runLoginAttempt(ctx context.Context, attempt *LoginAttempt) {
	defer attempt.cancel()
	session := s.platform.NewLoginSession()

	qr, err := session.GenerateChallenge(ctx)
	if err != nil {
		if ctx.Err() != nil {
			s.finishLogin(ctx, attempt, s.loginCancelled(attempt), Binding{})
			return
		}
		s.finishLogin(ctx, attempt, s.loginFailure(ctx, attempt, "generate", err), Binding{})
		return
	}
	if qr.CreatedAt.IsZero() {
		qr.CreatedAt = s.now()
	}
	if qr.TTL <= 0 {
		qr.TTL = s.config.Login.ChallengeTTL
	}
	state, err := attempt.flow.Generated(qr)
	if err != nil {
		s.finishLogin(ctx, attempt, s.loginFailure(ctx, attempt, "generate", err), Binding{})
		return
	}
	attempt.notifyState(state)
	if attempt.callbacks.OnChallengeReady != nil {
		attempt.callbacks.OnChallengeReady(qr)
	}

	for {
		if waitErr := waitWithContext(ctx, s.config.Login.PollInterval); waitErr != nil {
			s.finishLogin(ctx, attempt, s.loginCancelled(attempt), Binding{})
			return
		}
		if ctx.Err() != nil {
			s.finishLogin(ctx, attempt, s.loginCancelled(attempt), Binding{})
			return
		}

		result, pollErr := session.Poll(ctx, qr)
		if ctx.Err() != nil {
			s.finishLogin(ctx, attempt, s.loginCancelled(attempt), Binding{})
			return
		}
		if pollErr != nil {
			s.finishLogin(ctx, attempt, s.loginFailure(ctx, attempt, "poll", pollErr), Binding{})
			return
		}

		if result.Outcome == PollOutcomeConfirmed {
			binding, completeErr := s.completeLogin(ctx, attempt.principal, session, result)
			if completeErr != nil {
				s.finishLogin(ctx, attempt, s.loginFailure(ctx, attempt, "complete", completeErr), Binding{})
				return
			}
			state, _ = attempt.flow.Observe(result.Outcome, s.now())
			attempt.notifyState(state)
			s.finishLogin(ctx, attempt, nil, binding)
			return
		}

		previous := attempt.flow.State()
		state, err = attempt.flow.Observe(result.Outcome, s.now())
		if err != nil {
			s.finishLogin(ctx, attempt, s.loginFailure(ctx, attempt, "poll", err), Binding{})
			return
		}
		if state != previous {
			attempt.notifyState(state)
		}
		if state == LoginStateExpired {
			expired := NewExpiredError(ErrQRExpired, ErrorCodeQRExpired, "core: qr session expired before confirmation")
			EmitTelemetry(ctx, s.telemetry, ComponentLoginFlow, "poll", expired, map[string]any{
				"principal_id": attempt.principal,
			})
			s.finishLogin(ctx, attempt, expired, Binding{})
			return
		}
	}
}

// completeLogin harvests the bundle, resolves the account and persists the
// binding. A principal re-authenticating the account it already holds gets
// its credentials replaced instead of a new binding.
func (s *Service) completeLogin(ctx context.Context, principal string, session LoginSession, result PollResult) (Binding, error) {
	bundle, err := session.HarvestCredentials(ctx, result)
	if err != nil {
		return Binding{}, err
	}
	if bundle.Present() < s.config.Login.MinHarvestedSecrets {
		validation := bundle.Validate()
		if validation == nil {
			validation = NewValidationError(ErrorCodeInvalidCredentials, "core: harvested credentials are incomplete")
		}
		return Binding{}, validation
	}
	account, err := session.FetchAccount(ctx, bundle)
	if err != nil {
		return Binding{}, err
	}

	existing, found, err := s.bindingStore.GetByPrincipal(ctx, principal)
	if err != nil {
		return Binding{}, err
	}
	if found && existing.Active && existing.Account.ExternalID == account.ExternalID {
		return s.relogin(ctx, principal, account, bundle)
	}
	return s.CreateBinding(ctx, principal, account, bundle)
}

func (s *Service) loginFailure(ctx context.Context, attempt *LoginAttempt, operation string, cause error) error {
	mapped := s.mapError(cause)
	if state, err := attempt.flow.Fail(mapped); err == nil {
		attempt.notifyState(state)
	}
	EmitTelemetry(ctx, s.telemetry, ComponentLoginFlow, operation, mapped, map[string]any{
		"principal_id": attempt.principal,
	})
	return mapped
}

func (s *Service) loginCancelled(attempt *LoginAttempt) error {
	if state, err := attempt.flow.Cancel(); err == nil {
		attempt.notifyState(state)
	}
	return newKindError(context.Canceled, "core: login cancelled", goerrors.CategoryOperation, http.StatusRequestTimeout, ErrorCodeCancelled, map[string]any{
		"principal_id": attempt.principal,
	})
}

func (s *Service) finishLogin(ctx context.Context, attempt *LoginAttempt, err error, binding Binding) {
	outcome := LoginOutcome{State: attempt.flow.State(), Binding: binding, Err: err}

	attempt.mu.Lock()
	attempt.outcome = outcome
	attempt.finished = true
	attempt.mu.Unlock()

	s.loginMu.Lock()
	if current, ok := s.attempts[attempt.principal]; ok && current == attempt {
		delete(s.attempts, attempt.principal)
	}
	s.loginMu.Unlock()

	fields := map[string]any{
		"principal_id": attempt.principal,
		"state":        string(outcome.State),
	}
	if err != nil {
		fields["error"] = RedactString(err.Error())
		s.logWarn(ctx, "login attempt finished", fields)
	} else {
		fields["external_id"] = binding.Account.ExternalID
		s.logInfo(ctx, "login attempt finished", fields)
	}
	defer close(attempt.done)

	if err != nil {
		if attempt.callbacks.OnError != nil {
			attempt.callbacks.OnError(err)
		}
		return
	}
	if attempt.callbacks.OnSuccess != nil {
		attempt.callbacks.OnSuccess(binding)
	}
}

func (a *LoginAttempt) notifyState(state LoginState) {
	if a.callbacks.OnStatusChanged != nil {
		a.callbacks.OnStatusChanged(state)
	}
}
