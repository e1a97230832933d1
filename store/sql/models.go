package sqlstore

import (
	"strings"
	"time"

	"github.com/goliatone/go-accountlink/core"
	repository "github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

type bindingRecord struct {
	bun.BaseModel `bun:"table:account_bindings,alias:ab"`

	ID                    string     `bun:"id,pk"`
	PrincipalID           string     `bun:"principal_id,notnull"`
	ExternalID            int64      `bun:"external_id,notnull"`
	DisplayName           string     `bun:"display_name,notnull"`
	AvatarURL             string     `bun:"avatar_url,notnull"`
	Level                 int        `bun:"level,notnull"`
	IsPrivileged          bool       `bun:"is_privileged,notnull"`
	SealedSessionToken    []byte     `bun:"sealed_session_token"`
	SealedCSRFToken       []byte     `bun:"sealed_csrf_token"`
	SealedAccountToken    []byte     `bun:"sealed_account_token"`
	SealedAccountChecksum []byte     `bun:"sealed_account_checksum"`
	Active                bool       `bun:"active,notnull"`
	CreatedAt             time.Time  `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt             time.Time  `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
	LastLoginAt           time.Time  `bun:"last_login_at,nullzero,notnull,default:current_timestamp"`
	LastRefreshAt         *time.Time `bun:"last_refresh_at,nullzero"`
	DeletedAt             *time.Time `bun:"deleted_at,nullzero"`
}

func newBindingRecord(binding core.Binding, now time.Time) *bindingRecord {
	record := &bindingRecord{ID: binding.ID}
	record.apply(binding, now)
	if record.CreatedAt.IsZero() {
		record.CreatedAt = now
	}
	return record
}

func (r *bindingRecord) apply(binding core.Binding, now time.Time) {
	r.PrincipalID = binding.Principal
	r.ExternalID = binding.Account.ExternalID
	r.DisplayName = binding.Account.DisplayName
	r.AvatarURL = binding.Account.AvatarURL
	r.Level = binding.Account.Level
	r.IsPrivileged = binding.Account.IsPrivileged
	r.SealedSessionToken = binding.Sealed.SessionToken
	r.SealedCSRFToken = binding.Sealed.CSRFToken
	r.SealedAccountToken = binding.Sealed.AccountIDToken
	r.SealedAccountChecksum = binding.Sealed.AccountChecksum
	r.Active = binding.Active
	if !binding.CreatedAt.IsZero() {
		r.CreatedAt = binding.CreatedAt.UTC()
	}
	r.UpdatedAt = binding.UpdatedAt.UTC()
	if r.UpdatedAt.IsZero() {
		r.UpdatedAt = now
	}
	r.LastLoginAt = binding.LastLoginAt.UTC()
	if r.LastLoginAt.IsZero() {
		r.LastLoginAt = now
	}
	r.LastRefreshAt = cloneTimePointer(binding.LastRefreshAt)
	if binding.Active {
		r.DeletedAt = nil
	} else if r.DeletedAt == nil {
		deletedAt := now
		r.DeletedAt = &deletedAt
	}
}

func (r *bindingRecord) toDomain() core.Binding {
	if r == nil {
		return core.Binding{}
	}
	return core.Binding{
		ID:        r.ID,
		Principal: r.PrincipalID,
		Account: core.ExternalAccount{
			ExternalID:   r.ExternalID,
			DisplayName:  r.DisplayName,
			AvatarURL:    r.AvatarURL,
			Level:        r.Level,
			IsPrivileged: r.IsPrivileged,
		},
		Sealed: core.SealedCredentials{
			SessionToken:    r.SealedSessionToken,
			CSRFToken:       r.SealedCSRFToken,
			AccountIDToken:  r.SealedAccountToken,
			AccountChecksum: r.SealedAccountChecksum,
		}.Clone(),
		CreatedAt:     r.CreatedAt.UTC(),
		UpdatedAt:     r.UpdatedAt.UTC(),
		LastLoginAt:   r.LastLoginAt.UTC(),
		LastRefreshAt: cloneTimePointer(r.LastRefreshAt),
		Active:        r.Active,
	}
}

func cloneTimePointer(input *time.Time) *time.Time {
	if input == nil {
		return nil
	}
	value := input.UTC()
	return &value
}

// bindingHandlers keys records by their uuid string id. Malformed ids map
// to uuid.Nil.
func bindingHandlers() repository.ModelHandlers[*bindingRecord] {
	return repository.ModelHandlers[*bindingRecord]{
		NewRecord: func() *bindingRecord { return &bindingRecord{} },
		GetID: func(record *bindingRecord) uuid.UUID {
			if record == nil {
				return uuid.Nil
			}
			id, err := uuid.Parse(strings.TrimSpace(record.ID))
			if err != nil {
				return uuid.Nil
			}
			return id
		},
		SetID: func(record *bindingRecord, id uuid.UUID) {
			if record != nil {
				record.ID = id.String()
			}
		},
		GetIdentifier: func() string { return "id" },
		GetIdentifierValue: func(record *bindingRecord) string {
			if record == nil {
				return ""
			}
			return record.ID
		},
	}
}
