package service

import (
	"net/http"

	"github.com/fluxgraph/engine/internal/domain"
	"github.com/fluxgraph/engine/internal/validator"
)

func newValidationError(code, message string) *domain.OperationError {
	return domain.NewOperationError(code, message, http.StatusBadRequest, nil)
}

func newNotFoundError(code, message string, err error) *domain.OperationError {
	return domain.NewOperationError(code, message, http.StatusNotFound, err)
}

func newConflictError(code, message string, err error) *domain.OperationError {
	return domain.NewOperationError(code, message, http.StatusConflict, err)
}

// ValidationFailedError is returned when a graph fails validator.Validate's
// authoritative check at publish or ephemeral-execute time. It carries the
// full Result so the REST layer can return every issue, not just the first.
type ValidationFailedError struct {
	*domain.OperationError
	Result validator.Result
}

func newValidationFailedError(res validator.Result) *ValidationFailedError {
	return &ValidationFailedError{
		OperationError: domain.NewOperationError("GRAPH_VALIDATION_FAILED", "graph failed validation", http.StatusBadRequest, nil),
		Result:         res,
	}
}
