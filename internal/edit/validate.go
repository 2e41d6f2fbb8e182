package edit

import (
	"context"
	"fmt"
	"strings"

	"github.com/erazemk/boxanizer/internal/model"
)

// CodeLookup finds the box carrying a code, returning nil when none does.
type CodeLookup interface {
	FindByCode(ctx context.Context, code string) (*model.Box, error)
}

// Result holds the outcome of validating a draft.
type Result struct {
	CodeError model.CodeError `json:"code_error"`
	NameError bool            `json:"name_error"`
}

// Clean is the validation state of a freshly loaded draft.
var Clean = Result{CodeError: model.CodeErrorNone}

// Savable reports whether a draft with this result may be saved.
func (r Result) Savable() bool {
	return r.CodeError == model.CodeErrorNone && !r.NameError
}

// ValidateFunc validates a draft. Errors mean the check itself could not run.
type ValidateFunc[T any] func(ctx context.Context, draft T) (Result, error)

// ValidateBox checks a box draft: the name must not be blank, the code must
// not be blank and must not belong to a different box.
func ValidateBox(ctx context.Context, lookup CodeLookup, draft model.Box) (Result, error) {
	res := Result{
		CodeError: model.CodeErrorNone,
		NameError: isBlank(draft.Name),
	}

	if isBlank(draft.Code) {
		res.CodeError = model.CodeErrorEmpty
		return res, nil
	}

	found, err := lookup.FindByCode(ctx, draft.Code)
	if err != nil {
		return res, fmt.Errorf("looking up box code %q: %w", draft.Code, err)
	}
	if found != nil && found.ID != draft.ID {
		res.CodeError = model.CodeErrorAlreadyExists
	}
	return res, nil
}

// ValidateItem checks an item draft. Items carry no code.
func ValidateItem(_ context.Context, draft model.Item) (Result, error) {
	return Result{
		CodeError: model.CodeErrorNone,
		NameError: isBlank(draft.Name),
	}, nil
}

// BoxValidator binds ValidateBox to a lookup.
func BoxValidator(lookup CodeLookup) ValidateFunc[model.Box] {
	return func(ctx context.Context, draft model.Box) (Result, error) {
		return ValidateBox(ctx, lookup, draft)
	}
}

func isBlank(s string) bool {
	return strings.TrimSpace(s) == ""
}
