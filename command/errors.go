package command

import (
	"github.com/goliatone/go-accountlink/core"
	goerrors "github.com/goliatone/go-errors"
)

func commandDependencyError(message string) error {
	return core.NewDependencyError(message)
}

func commandValidationError(field string, message string) error {
	return core.NewValidationError(core.ErrorCodeBadInput, "command: validation failed", goerrors.FieldError{
		Field:   field,
		Message: message,
	})
}

func commandInvalidInputError(message string) error {
	return core.NewValidationError(core.ErrorCodeBadInput, message)
}
