package command

import (
	"context"
	"testing"

	"github.com/goliatone/go-accountlink/core"
	goerrors "github.com/goliatone/go-errors"
)

func TestValidationEnvelopesCarryTextCodes(t *testing.T) {
	cases := []struct {
		name     string
		msg      interface{ Validate() error }
		textCode string
	}{
		{name: "unbind without principal", msg: UnbindMessage{}, textCode: core.ErrorCodeBadInput},
		{name: "create without account", msg: CreateBindingMessage{Principal: "p", Bundle: completeBundle()}, textCode: core.ErrorCodeBadInput},
		{name: "update with partial bundle", msg: UpdateCredentialsMessage{Principal: "p", Bundle: core.CredentialBundle{SessionToken: "s"}}, textCode: core.ErrorCodeInvalidCredentials},
		{name: "regenerate unconfirmed", msg: RegenerateKeyMessage{}, textCode: core.ErrorCodeBadInput},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var rich *goerrors.Error
			if !goerrors.As(tc.msg.Validate(), &rich) {
				t.Fatalf("expected go-errors envelope")
			}
			if rich.Category != goerrors.CategoryValidation {
				t.Fatalf("expected validation category, got %q", rich.Category)
			}
			if rich.TextCode != tc.textCode {
				t.Fatalf("expected %q, got %q", tc.textCode, rich.TextCode)
			}
		})
	}
}

func TestNilCommandsReportMissingDependency(t *testing.T) {
	ctx := context.Background()
	var unbind *UnbindCommand
	errs := []error{
		unbind.Execute(ctx, UnbindMessage{Principal: "p"}),
		NewRefreshSessionCommand(nil).Execute(ctx, RefreshSessionMessage{Principal: "p"}),
	}
	for _, err := range errs {
		var rich *goerrors.Error
		if !goerrors.As(err, &rich) {
			t.Fatalf("expected go-errors envelope, got %v", err)
		}
		if rich.Category != goerrors.CategoryInternal || rich.TextCode != core.ErrorCodeInternal {
			t.Fatalf("unexpected dependency envelope %q/%q", rich.Category, rich.TextCode)
		}
	}
}
