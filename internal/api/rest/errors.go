package rest

import (
	"database/sql"
	"errors"
	"net/http"
	"strings"

	"github.com/fluxgraph/engine/internal/domain"
	"github.com/fluxgraph/engine/internal/queue"
	"github.com/fluxgraph/engine/internal/service"
)

// APIError is the JSON shape every error response takes.
type APIError struct {
	Code       string                 `json:"code"`
	Message    string                 `json:"message"`
	Details    map[string]interface{} `json:"details,omitempty"`
	HTTPStatus int                    `json:"-"`
}

func (e *APIError) Error() string { return e.Message }

func NewAPIError(code, message string, httpStatus int) *APIError {
	return &APIError{Code: code, Message: message, HTTPStatus: httpStatus}
}

func NewAPIErrorWithDetails(code, message string, httpStatus int, details map[string]interface{}) *APIError {
	return &APIError{Code: code, Message: message, Details: details, HTTPStatus: httpStatus}
}

var (
	ErrBadRequest       = NewAPIError("BAD_REQUEST", "invalid request", http.StatusBadRequest)
	ErrValidationFailed = NewAPIError("VALIDATION_FAILED", "validation failed", http.StatusBadRequest)
	ErrInternalServer   = NewAPIError("INTERNAL_ERROR", "internal server error", http.StatusInternalServerError)
	ErrInvalidJSON      = NewAPIError("INVALID_JSON", "invalid JSON in request body", http.StatusBadRequest)
)

// TranslateError maps a domain/service/queue error into the APIError the
// client receives, preferring the most specific structured error on the
// chain: an *APIError as is, then a validator.Result-carrying failure, then
// a *queue.AdmissionError (with resetAt/quotaType details), then an
// OperationError, then domain sentinels and sql.ErrNoRows, then any
// "not found" message, then a generic fallback.
func TranslateError(err error) *APIError {
	if err == nil {
		return nil
	}

	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr
	}

	var vfe *service.ValidationFailedError
	if errors.As(err, &vfe) {
		details := map[string]interface{}{"errors": vfe.Result.Errors, "warnings": vfe.Result.Warnings}
		return NewAPIErrorWithDetails(vfe.Code, vfe.Message, vfe.HTTPStatus, details)
	}

	var admErr *queue.AdmissionError
	if errors.As(err, &admErr) {
		details := map[string]interface{}{}
		if admErr.ResetAt != nil {
			details["resetAt"] = admErr.ResetAt
		}
		if admErr.QuotaType != "" {
			details["quotaType"] = admErr.QuotaType
		}
		return NewAPIErrorWithDetails(string(admErr.Code), admErr.Message, admErr.HTTPStatus(), details)
	}

	var opErr *domain.OperationError
	if errors.As(err, &opErr) {
		return NewAPIError(opErr.Code, opErr.Message, opErr.HTTPStatus)
	}

	switch {
	case errors.Is(err, domain.ErrWorkflowNotFound):
		return NewAPIError("WORKFLOW_NOT_FOUND", "workflow not found", http.StatusNotFound)
	case errors.Is(err, domain.ErrRevisionNotFound):
		return NewAPIError("REVISION_NOT_FOUND", "revision not found", http.StatusNotFound)
	case errors.Is(err, domain.ErrRunNotFound):
		return NewAPIError("RUN_NOT_FOUND", "execution not found", http.StatusNotFound)
	case errors.Is(err, domain.ErrTriggerNotFound):
		return NewAPIError("TRIGGER_NOT_FOUND", "trigger not found", http.StatusNotFound)
	case errors.Is(err, domain.ErrNodeNotFound):
		return NewAPIError("NODE_NOT_FOUND", "node not found", http.StatusNotFound)
	case errors.Is(err, domain.ErrEdgeNotFound):
		return NewAPIError("EDGE_NOT_FOUND", "edge not found", http.StatusNotFound)
	case errors.Is(err, domain.ErrMigrationRequired):
		return NewAPIError("MIGRATION_PLAN_REQUIRED", err.Error(), http.StatusConflict)
	case errors.Is(err, sql.ErrNoRows):
		return NewAPIError("NOT_FOUND", "resource not found", http.StatusNotFound)
	}

	if strings.Contains(strings.ToLower(err.Error()), "not found") {
		return NewAPIError("NOT_FOUND", "resource not found", http.StatusNotFound)
	}

	return NewAPIError("INTERNAL_ERROR", "an unexpected error occurred", http.StatusInternalServerError)
}
