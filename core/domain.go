package core

import (
	"fmt"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
)

const (
	CredentialSessionToken    = "session_token"
	CredentialCSRFToken       = "csrf_token"
	CredentialAccountIDToken  = "account_id_token"
	CredentialAccountChecksum = "account_checksum"
)

// CredentialNames lists the four secrets of a bundle in canonical order.
var CredentialNames = []string{
	CredentialSessionToken,
	CredentialCSRFToken,
	CredentialAccountIDToken,
	CredentialAccountChecksum,
}

type ExternalAccount struct {
	ExternalID   int64
	DisplayName  string
	AvatarURL    string
	Level        int
	IsPrivileged bool
}

func (a ExternalAccount) Validate() error {
	if a.ExternalID <= 0 {
		return NewValidationError(ErrorCodeBadInput, "core: external account id is required", goerrors.FieldError{
			Field:   "external_id",
			Message: "must be a positive platform account id",
		})
	}
	return nil
}

// CredentialBundle holds the four plaintext secrets of a platform session.
// Values of this type must never be persisted or logged.
type CredentialBundle struct {
	SessionToken    string
	CSRFToken       string
	AccountIDToken  string
	AccountChecksum string
}

func (b CredentialBundle) Get(name string) string {
	switch name {
	case CredentialSessionToken:
		return b.SessionToken
	case CredentialCSRFToken:
		return b.CSRFToken
	case CredentialAccountIDToken:
		return b.AccountIDToken
	case CredentialAccountChecksum:
		return b.AccountChecksum
	default:
		return ""
	}
}

func (b *CredentialBundle) Set(name string, value string) {
	if b == nil {
		return
	}
	value = strings.TrimSpace(value)
	switch name {
	case CredentialSessionToken:
		b.SessionToken = value
	case CredentialCSRFToken:
		b.CSRFToken = value
	case CredentialAccountIDToken:
		b.AccountIDToken = value
	case CredentialAccountChecksum:
		b.AccountChecksum = value
	}
}

// Present returns how many of the four secrets are non-empty.
func (b CredentialBundle) Present() int {
	count := 0
	for _, name := range CredentialNames {
		if strings.TrimSpace(b.Get(name)) != "" {
			count++
		}
	}
	return count
}

func (b CredentialBundle) Missing() []string {
	missing := []string{}
	for _, name := range CredentialNames {
		if strings.TrimSpace(b.Get(name)) == "" {
			missing = append(missing, name)
		}
	}
	return missing
}

func (b CredentialBundle) Complete() bool {
	return len(b.Missing()) == 0
}

// Validate fails with INVALID_CREDENTIALS unless all four secrets are present.
func (b CredentialBundle) Validate() error {
	missing := b.Missing()
	if len(missing) == 0 {
		return nil
	}
	fields := make([]goerrors.FieldError, 0, len(missing))
	for _, name := range missing {
		fields = append(fields, goerrors.FieldError{Field: name, Message: "is required"})
	}
	return NewValidationError(
		ErrorCodeInvalidCredentials,
		fmt.Sprintf("core: credential bundle is incomplete: missing %s", strings.Join(missing, ", ")),
		fields...,
	)
}

// String never prints secret values.
func (b CredentialBundle) String() string {
	return fmt.Sprintf("CredentialBundle{present:%d/4}", b.Present())
}

func (b CredentialBundle) GoString() string {
	return b.String()
}

// SealedCredentials carries one sealed blob per secret, matching the
// persisted column layout.
type SealedCredentials struct {
	SessionToken    []byte
	CSRFToken       []byte
	AccountIDToken  []byte
	AccountChecksum []byte
}

func (s SealedCredentials) Empty() bool {
	return len(s.SessionToken) == 0 &&
		len(s.CSRFToken) == 0 &&
		len(s.AccountIDToken) == 0 &&
		len(s.AccountChecksum) == 0
}

func (s SealedCredentials) Clone() SealedCredentials {
	return SealedCredentials{
		SessionToken:    cloneBytes(s.SessionToken),
		CSRFToken:       cloneBytes(s.CSRFToken),
		AccountIDToken:  cloneBytes(s.AccountIDToken),
		AccountChecksum: cloneBytes(s.AccountChecksum),
	}
}

type Binding struct {
	ID            string
	Principal     string
	Account       ExternalAccount
	Sealed        SealedCredentials
	CreatedAt     time.Time
	UpdatedAt     time.Time
	LastLoginAt   time.Time
	LastRefreshAt *time.Time
	Active        bool
}

func (b Binding) Clone() Binding {
	out := b
	out.Sealed = b.Sealed.Clone()
	out.LastRefreshAt = cloneTimePointer(b.LastRefreshAt)
	return out
}

type BindingStatus string

const (
	BindingStatusBound   BindingStatus = "bound"
	BindingStatusUnbound BindingStatus = "unbound"
)

// SessionStatus is the outcome of probing the platform with stored credentials.
type SessionStatus string

const (
	SessionStatusValid        SessionStatus = "valid"
	SessionStatusLoginExpired SessionStatus = "login_expired"
	SessionStatusError        SessionStatus = "error"
)

type RefreshStatusResult struct {
	Status  SessionStatus
	Account ExternalAccount
	Err     error
}

// QRSession is the ephemeral challenge issued by the platform for one
// login attempt.
type QRSession struct {
	ChallengeKey string
	URL          string
	CreatedAt    time.Time
	TTL          time.Duration
}

func (s QRSession) ExpiresAt() time.Time {
	return s.CreatedAt.Add(s.TTL)
}

func (s QRSession) Expired(now time.Time) bool {
	if s.TTL <= 0 {
		return false
	}
	return !now.Before(s.ExpiresAt())
}

func normalizePrincipal(principal string) (string, error) {
	principal = strings.TrimSpace(principal)
	if principal == "" {
		return "", NewValidationError(ErrorCodeBadInput, "core: principal id is required", goerrors.FieldError{
			Field:   "principal_id",
			Message: "is required",
		})
	}
	return principal, nil
}

func cloneBytes(in []byte) []byte {
	if in == nil {
		return nil
	}
	out := make([]byte, len(in))
	copy(out, in)
	return out
}

func cloneTimePointer(value *time.Time) *time.Time {
	if value == nil {
		return nil
	}
	clone := value.UTC()
	return &clone
}
