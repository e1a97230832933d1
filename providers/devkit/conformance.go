package devkit

import (
	"context"
	"fmt"
	"time"

	"github.com/goliatone/go-accountlink/core"
)

// ValidateBindingStoreConformance exercises the uniqueness and soft-delete
// contract every BindingStore must honour. The store must be empty.
func ValidateBindingStoreConformance(ctx context.Context, store core.BindingStore) error {
	if store == nil {
		return fmt.Errorf("devkit: binding store is required")
	}
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	first := core.Binding{
		ID:          "bind-conf-1",
		Principal:   "principal-conf-1",
		Account:     core.ExternalAccount{ExternalID: 9001, DisplayName: "first", Level: 3},
		Sealed:      sealedFixture("one"),
		CreatedAt:   now,
		UpdatedAt:   now,
		LastLoginAt: now,
		Active:      true,
	}
	stored, err := store.Put(ctx, first)
	if err != nil {
		return fmt.Errorf("devkit: put first binding: %w", err)
	}
	if stored.ID != first.ID || !stored.Active {
		return fmt.Errorf("devkit: put returned %+v", stored)
	}

	loaded, found, err := store.GetByPrincipal(ctx, first.Principal)
	if err != nil || !found {
		return fmt.Errorf("devkit: get by principal: found=%v err=%v", found, err)
	}
	if loaded.Account != first.Account || string(loaded.Sealed.SessionToken) != string(first.Sealed.SessionToken) {
		return fmt.Errorf("devkit: loaded binding does not match stored binding")
	}
	if _, found, err := store.GetByExternalID(ctx, first.Account.ExternalID); err != nil || !found {
		return fmt.Errorf("devkit: get by external id: found=%v err=%v", found, err)
	}

	occupied := first
	occupied.ID = "bind-conf-2"
	occupied.Principal = "principal-conf-2"
	if _, err := store.Put(ctx, occupied); core.KindOf(err) != core.ErrorKindConflict {
		return fmt.Errorf("devkit: expected conflict for occupied account, got %v", err)
	}

	updated := loaded
	updated.Account.DisplayName = "renamed"
	refreshed := now.Add(time.Hour)
	updated.LastRefreshAt = &refreshed
	updated.UpdatedAt = refreshed
	if _, err := store.Put(ctx, updated); err != nil {
		return fmt.Errorf("devkit: update binding: %w", err)
	}
	loaded, _, err = store.GetByPrincipal(ctx, first.Principal)
	if err != nil {
		return err
	}
	if loaded.Account.DisplayName != "renamed" || loaded.LastRefreshAt == nil || !loaded.LastRefreshAt.Equal(refreshed) {
		return fmt.Errorf("devkit: update was not persisted: %+v", loaded)
	}

	active, err := store.ListActive(ctx)
	if err != nil {
		return err
	}
	if len(active) != 1 {
		return fmt.Errorf("devkit: expected one active binding, got %d", len(active))
	}

	deleted, err := store.Delete(ctx, first.Principal)
	if err != nil || !deleted {
		return fmt.Errorf("devkit: delete: deleted=%v err=%v", deleted, err)
	}
	if deleted, err := store.Delete(ctx, first.Principal); err != nil || deleted {
		return fmt.Errorf("devkit: second delete should be a no-op: deleted=%v err=%v", deleted, err)
	}
	if _, found, err := store.GetByPrincipal(ctx, first.Principal); err != nil || found {
		return fmt.Errorf("devkit: soft-deleted binding still visible: found=%v err=%v", found, err)
	}

	if _, err := store.Put(ctx, occupied); err != nil {
		return fmt.Errorf("devkit: released account should be bindable: %w", err)
	}
	return nil
}

// ValidateBindingLockerConformance checks that a held lock excludes a second
// holder until it is released.
func ValidateBindingLockerConformance(ctx context.Context, locker core.BindingLocker, key string) error {
	if locker == nil {
		return fmt.Errorf("devkit: binding locker is required")
	}
	handle, err := locker.Acquire(ctx, key, time.Minute)
	if err != nil {
		return fmt.Errorf("devkit: first acquire: %w", err)
	}
	if _, err := locker.Acquire(ctx, key, time.Minute); err == nil {
		return fmt.Errorf("devkit: second acquire should fail while the lock is held")
	}
	if err := handle.Unlock(ctx); err != nil {
		return fmt.Errorf("devkit: unlock: %w", err)
	}
	again, err := locker.Acquire(ctx, key, time.Minute)
	if err != nil {
		return fmt.Errorf("devkit: acquire after unlock: %w", err)
	}
	return again.Unlock(ctx)
}

// ValidatePlatformConformance probes bundle and expects the given account.
func ValidatePlatformConformance(ctx context.Context, platform core.Platform, bundle core.CredentialBundle, want int64) error {
	if platform == nil {
		return fmt.Errorf("devkit: platform is required")
	}
	if platform.NewLoginSession() == nil {
		return fmt.Errorf("devkit: platform returned no login session")
	}
	account, err := platform.ProbeSession(ctx, bundle)
	if err != nil {
		return fmt.Errorf("devkit: probe session: %w", err)
	}
	if account.ExternalID != want {
		return fmt.Errorf("devkit: expected account %d, got %d", want, account.ExternalID)
	}
	return nil
}

func sealedFixture(seed string) core.SealedCredentials {
	return core.SealedCredentials{
		SessionToken:    []byte("sealed-session-" + seed),
		CSRFToken:       []byte("sealed-csrf-" + seed),
		AccountIDToken:  []byte("sealed-uid-" + seed),
		AccountChecksum: []byte("sealed-sum-" + seed),
	}
}
