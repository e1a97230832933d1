package query

import (
	"github.com/goliatone/go-accountlink/core"
	goerrors "github.com/goliatone/go-errors"
)

func queryDependencyError(message string) error {
	return core.NewDependencyError(message)
}

func queryValidationError(field string, message string) error {
	return core.NewValidationError(core.ErrorCodeBadInput, "query: validation failed", goerrors.FieldError{
		Field:   field,
		Message: message,
	})
}
