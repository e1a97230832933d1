package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-accountlink/core"
	repository "github.com/goliatone/go-repository-bun"
	"github.com/uptrace/bun"
)

// BindingStore persists bindings in the account_bindings table. Rows are
// never removed; unbinding clears the active flag and stamps deleted_at.
type BindingStore struct {
	db   *bun.DB
	repo repository.Repository[*bindingRecord]
	now  func() time.Time
}

func NewBindingStore(db *bun.DB) (*BindingStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	repo := repository.NewRepository[*bindingRecord](db, bindingHandlers())
	if validator, ok := repo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("sqlstore: invalid binding repository wiring: %w", err)
		}
	}
	return &BindingStore{
		db:   db,
		repo: repo,
		now:  func() time.Time { return time.Now().UTC() },
	}, nil
}

func (s *BindingStore) GetByPrincipal(ctx context.Context, principal string) (core.Binding, bool, error) {
	if s == nil || s.db == nil {
		return core.Binding{}, false, fmt.Errorf("sqlstore: binding store is not configured")
	}
	record, err := findActiveBinding(ctx, s.db, "principal_id", strings.TrimSpace(principal))
	if err != nil || record == nil {
		return core.Binding{}, false, err
	}
	return record.toDomain(), true, nil
}

func (s *BindingStore) GetByExternalID(ctx context.Context, externalID int64) (core.Binding, bool, error) {
	if s == nil || s.db == nil {
		return core.Binding{}, false, fmt.Errorf("sqlstore: binding store is not configured")
	}
	record, err := findActiveBinding(ctx, s.db, "external_id", externalID)
	if err != nil || record == nil {
		return core.Binding{}, false, err
	}
	return record.toDomain(), true, nil
}

func (s *BindingStore) Put(ctx context.Context, binding core.Binding) (core.Binding, error) {
	if s == nil || s.db == nil {
		return core.Binding{}, fmt.Errorf("sqlstore: binding store is not configured")
	}
	binding.ID = strings.TrimSpace(binding.ID)
	binding.Principal = strings.TrimSpace(binding.Principal)
	if binding.ID == "" {
		return core.Binding{}, core.NewValidationError(core.ErrorCodeBadInput, "sqlstore: binding id is required")
	}
	if binding.Principal == "" {
		return core.Binding{}, core.NewValidationError(core.ErrorCodeBadInput, "sqlstore: binding principal is required")
	}

	now := s.now()
	var out core.Binding
	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if binding.Active {
			if err := checkOccupancyTx(ctx, tx, binding); err != nil {
				return err
			}
		}
		record, err := findBindingByIDTx(ctx, tx, binding.ID)
		if err != nil {
			return err
		}
		if record == nil {
			record = newBindingRecord(binding, now)
			if _, insertErr := tx.NewInsert().Model(record).Exec(ctx); insertErr != nil {
				return insertErr
			}
			out = record.toDomain()
			return nil
		}
		record.apply(binding, now)
		if _, updateErr := tx.NewUpdate().
			Model(record).
			Where("id = ?", record.ID).
			Exec(ctx); updateErr != nil {
			return updateErr
		}
		out = record.toDomain()
		return nil
	})
	if err != nil {
		if core.KindOf(err) == core.ErrorKindConflict {
			return core.Binding{}, err
		}
		if isUniqueConstraintError(err) {
			code, message := uniqueConflict(err)
			return core.Binding{}, core.NewConflictError(err, code, message, map[string]any{
				"principal_id": binding.Principal,
				"external_id":  binding.Account.ExternalID,
			})
		}
		return core.Binding{}, err
	}
	return out, nil
}

func (s *BindingStore) Delete(ctx context.Context, principal string) (bool, error) {
	if s == nil || s.db == nil {
		return false, fmt.Errorf("sqlstore: binding store is not configured")
	}
	principal = strings.TrimSpace(principal)
	if principal == "" {
		return false, core.NewValidationError(core.ErrorCodeBadInput, "sqlstore: binding principal is required")
	}
	now := s.now()
	res, err := s.db.NewUpdate().
		Model((*bindingRecord)(nil)).
		Set("active = ?", false).
		Set("deleted_at = ?", now).
		Set("updated_at = ?", now).
		Where("principal_id = ?", principal).
		Where("active = ?", true).
		Exec(ctx)
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

func (s *BindingStore) ListActive(ctx context.Context) ([]core.Binding, error) {
	if s == nil || s.repo == nil {
		return nil, fmt.Errorf("sqlstore: binding store is not configured")
	}
	records, _, err := s.repo.List(ctx,
		repository.SelectBy("active", "=", true),
		repository.OrderBy("created_at ASC"),
	)
	if err != nil {
		return nil, err
	}
	out := make([]core.Binding, 0, len(records))
	for _, record := range records {
		out = append(out, record.toDomain())
	}
	return out, nil
}

// History returns every row owned by principal, including soft-deleted ones,
// newest first.
func (s *BindingStore) History(ctx context.Context, principal string) ([]core.Binding, error) {
	if s == nil || s.repo == nil {
		return nil, fmt.Errorf("sqlstore: binding store is not configured")
	}
	records, _, err := s.repo.List(ctx,
		repository.SelectBy("principal_id", "=", strings.TrimSpace(principal)),
		repository.OrderBy("created_at DESC"),
	)
	if err != nil {
		return nil, err
	}
	out := make([]core.Binding, 0, len(records))
	for _, record := range records {
		out = append(out, record.toDomain())
	}
	return out, nil
}

func findActiveBinding(ctx context.Context, db bun.IDB, column string, value any) (*bindingRecord, error) {
	record := &bindingRecord{}
	err := db.NewSelect().
		Model(record).
		Where("?TableAlias.? = ?", bun.Ident(column), value).
		Where("?TableAlias.active = ?", true).
		OrderExpr("?TableAlias.updated_at DESC").
		Limit(1).
		Scan(ctx)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return record, nil
}

func findBindingByIDTx(ctx context.Context, tx bun.Tx, id string) (*bindingRecord, error) {
	record := &bindingRecord{}
	err := tx.NewSelect().
		Model(record).
		Where("?TableAlias.id = ?", id).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return record, nil
}

func checkOccupancyTx(ctx context.Context, tx bun.Tx, binding core.Binding) error {
	principalRows, err := tx.NewSelect().
		Model((*bindingRecord)(nil)).
		Where("?TableAlias.principal_id = ?", binding.Principal).
		Where("?TableAlias.active = ?", true).
		Where("?TableAlias.id <> ?", binding.ID).
		Count(ctx)
	if err != nil {
		return err
	}
	if principalRows > 0 {
		return core.NewConflictError(core.ErrAlreadyBound, core.ErrorCodeAlreadyBound, "sqlstore: principal already has an active binding", map[string]any{
			"principal_id": binding.Principal,
		})
	}
	accountRows, err := tx.NewSelect().
		Model((*bindingRecord)(nil)).
		Where("?TableAlias.external_id = ?", binding.Account.ExternalID).
		Where("?TableAlias.active = ?", true).
		Where("?TableAlias.id <> ?", binding.ID).
		Count(ctx)
	if err != nil {
		return err
	}
	if accountRows > 0 {
		return core.NewConflictError(core.ErrAccountOccupied, core.ErrorCodeAccountOccupied, "sqlstore: external account is bound to another principal", map[string]any{
			"external_id": binding.Account.ExternalID,
		})
	}
	return nil
}

// uniqueConflict names the conflict behind a unique index violation. Postgres
// reports the index name, sqlite reports the indexed column.
func uniqueConflict(err error) (string, string) {
	text := strings.ToLower(err.Error())
	if strings.Contains(text, "uq_account_bindings_active_external") ||
		strings.Contains(text, "account_bindings.external_id") {
		return core.ErrorCodeAccountOccupied, "sqlstore: external account is bound to another principal"
	}
	return core.ErrorCodeAlreadyBound, "sqlstore: active binding already exists"
}

func isUniqueConstraintError(err error) bool {
	if err == nil {
		return false
	}
	text := strings.ToLower(err.Error())
	return strings.Contains(text, "unique") || strings.Contains(text, "duplicate")
}
