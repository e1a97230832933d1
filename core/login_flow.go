package core

import (
	"fmt"
	"sync"
	"time"
)

type LoginState string

const (
	LoginStateInit           LoginState = "INIT"
	LoginStateGenerated      LoginState = "GENERATED"
	LoginStateWaitingScan    LoginState = "WAITING_SCAN"
	LoginStateWaitingConfirm LoginState = "WAITING_CONFIRM"
	LoginStateSuccess        LoginState = "SUCCESS"
	LoginStateExpired        LoginState = "EXPIRED"
	LoginStateError          LoginState = "ERROR"
	LoginStateCancelled      LoginState = "CANCELLED"
)

func (s LoginState) Terminal() bool {
	switch s {
	case LoginStateSuccess, LoginStateExpired, LoginStateError, LoginStateCancelled:
		return true
	default:
		return false
	}
}

// PollOutcome is the platform's classified answer to one poll.
type PollOutcome string

const (
	PollOutcomeNotScanned         PollOutcome = "not_scanned"
	PollOutcomeScannedUnconfirmed PollOutcome = "scanned_unconfirmed"
	PollOutcomeConfirmed          PollOutcome = "confirmed"
	PollOutcomeExpired            PollOutcome = "expired"
)

type LoginEvent string

const (
	LoginEventGenerated          LoginEvent = "generated"
	LoginEventNotScanned         LoginEvent = "not_scanned"
	LoginEventScannedUnconfirmed LoginEvent = "scanned_unconfirmed"
	LoginEventConfirmed          LoginEvent = "confirmed"
	LoginEventTTLExceeded        LoginEvent = "ttl_exceeded"
	LoginEventFailure            LoginEvent = "failure"
	LoginEventCancel             LoginEvent = "cancel"
)

// EventForPoll maps a poll outcome to its state machine event.
func EventForPoll(outcome PollOutcome) (LoginEvent, error) {
	switch outcome {
	case PollOutcomeNotScanned:
		return LoginEventNotScanned, nil
	case PollOutcomeScannedUnconfirmed:
		return LoginEventScannedUnconfirmed, nil
	case PollOutcomeConfirmed:
		return LoginEventConfirmed, nil
	case PollOutcomeExpired:
		return LoginEventTTLExceeded, nil
	default:
		return LoginEventFailure, fmt.Errorf("core: unknown poll outcome %q", outcome)
	}
}

var loginTransitions = map[LoginState]map[LoginEvent]LoginState{
	LoginStateInit: {
		LoginEventGenerated: LoginStateGenerated,
		LoginEventFailure:   LoginStateError,
		LoginEventCancel:    LoginStateCancelled,
	},
	LoginStateGenerated: {
		LoginEventNotScanned:         LoginStateWaitingScan,
		LoginEventScannedUnconfirmed: LoginStateWaitingConfirm,
		LoginEventConfirmed:          LoginStateSuccess,
		LoginEventTTLExceeded:        LoginStateExpired,
		LoginEventFailure:            LoginStateError,
		LoginEventCancel:             LoginStateCancelled,
	},
	LoginStateWaitingScan: {
		LoginEventNotScanned:         LoginStateWaitingScan,
		LoginEventScannedUnconfirmed: LoginStateWaitingConfirm,
		LoginEventConfirmed:          LoginStateSuccess,
		LoginEventTTLExceeded:        LoginStateExpired,
		LoginEventFailure:            LoginStateError,
		LoginEventCancel:             LoginStateCancelled,
	},
	LoginStateWaitingConfirm: {
		LoginEventNotScanned:         LoginStateWaitingScan,
		LoginEventScannedUnconfirmed: LoginStateWaitingConfirm,
		LoginEventConfirmed:          LoginStateSuccess,
		LoginEventTTLExceeded:        LoginStateExpired,
		LoginEventFailure:            LoginStateError,
		LoginEventCancel:             LoginStateCancelled,
	},
}

// NextLoginState returns the state reached from state on event. Terminal
// states accept no events.
func NextLoginState(state LoginState, event LoginEvent) (LoginState, bool) {
	edges, ok := loginTransitions[state]
	if !ok {
		return state, false
	}
	next, ok := edges[event]
	if !ok {
		return state, false
	}
	return next, true
}

// LoginFlow tracks the state of one QR login attempt.
type LoginFlow struct {
	mu      sync.Mutex
	state   LoginState
	session *QRSession
	history []LoginState
	err     error
}

func NewLoginFlow() *LoginFlow {
	return &LoginFlow{state: LoginStateInit}
}

func (f *LoginFlow) State() LoginState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *LoginFlow) Session() (QRSession, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.session == nil {
		return QRSession{}, false
	}
	return *f.session, true
}

// History lists every state entered after INIT, in order.
func (f *LoginFlow) History() []LoginState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]LoginState(nil), f.history...)
}

func (f *LoginFlow) Err() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.err
}

func (f *LoginFlow) Generated(session QRSession) (LoginState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	state, err := f.applyLocked(LoginEventGenerated, nil)
	if err != nil {
		return state, err
	}
	clone := session
	f.session = &clone
	return state, nil
}

// Observe applies a poll result. A TTL elapsed locally at now wins over a
// non-terminal poll outcome.
func (f *LoginFlow) Observe(outcome PollOutcome, now time.Time) (LoginState, error) {
	event, mapErr := EventForPoll(outcome)
	f.mu.Lock()
	defer f.mu.Unlock()
	if mapErr != nil {
		return f.applyLocked(LoginEventFailure, mapErr)
	}
	if event != LoginEventConfirmed && f.session != nil && f.session.Expired(now) {
		event = LoginEventTTLExceeded
	}
	return f.applyLocked(event, nil)
}

func (f *LoginFlow) Fail(cause error) (LoginState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.applyLocked(LoginEventFailure, cause)
}

func (f *LoginFlow) Cancel() (LoginState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.applyLocked(LoginEventCancel, nil)
}

func (f *LoginFlow) applyLocked(event LoginEvent, cause error) (LoginState, error) {
	next, ok := NextLoginState(f.state, event)
	if !ok {
		return f.state, fmt.Errorf("core: login transition %s --%s--> rejected", f.state, event)
	}
	f.state = next
	f.history = append(f.history, next)
	if cause != nil {
		f.err = cause
	}
	return next, nil
}
