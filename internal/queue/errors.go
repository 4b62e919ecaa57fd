// Package queue implements Queue & Admission (C7): the ordered admission
// check that gates a run before a worker ever sees it, the durable queue
// entries flow through, the background queue-health probe, and the worker
// heartbeat registry the admission layer consults for fleet health.
package queue

import (
	"fmt"
	"time"
)

// AdmissionCode is one of the admission failure codes spec section 4.7
// enumerates, in the order the checks run.
type AdmissionCode string

const (
	CodeQueueUnavailable         AdmissionCode = "QUEUE_UNAVAILABLE"
	CodeWorkflowNotFound         AdmissionCode = "WORKFLOW_NOT_FOUND"
	CodeExecutionQuotaExceeded   AdmissionCode = "EXECUTION_QUOTA_EXCEEDED"
	CodeConnectorConcurrencyHigh AdmissionCode = "CONNECTOR_CONCURRENCY_EXCEEDED"
	CodeUsageQuotaExceeded       AdmissionCode = "USAGE_QUOTA_EXCEEDED"
)

// httpStatus maps each admission code to the HTTP status the REST layer
// should answer with.
var httpStatus = map[AdmissionCode]int{
	CodeQueueUnavailable:         503,
	CodeWorkflowNotFound:         404,
	CodeExecutionQuotaExceeded:   429,
	CodeConnectorConcurrencyHigh: 429,
	CodeUsageQuotaExceeded:       429,
}

// AdmissionError is returned by Admitter.Enqueue when a run is rejected
// before it reaches the queue. Callers that need the HTTP status or the
// structured fields should use errors.As to recover it.
type AdmissionError struct {
	Code      AdmissionCode
	Message   string
	ResetAt   *time.Time // set for EXECUTION_QUOTA_EXCEEDED
	QuotaType string     // set for USAGE_QUOTA_EXCEEDED
}

func (e *AdmissionError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// HTTPStatus returns the status code the REST layer should answer with.
func (e *AdmissionError) HTTPStatus() int {
	if s, ok := httpStatus[e.Code]; ok {
		return s
	}
	return 500
}

func errQueueUnavailable(message string) *AdmissionError {
	return &AdmissionError{Code: CodeQueueUnavailable, Message: message}
}

func errWorkflowNotFound(workflowID string) *AdmissionError {
	return &AdmissionError{Code: CodeWorkflowNotFound, Message: fmt.Sprintf("workflow %q not found or not publishable", workflowID)}
}

func errExecutionQuotaExceeded(resetAt time.Time) *AdmissionError {
	return &AdmissionError{
		Code:    CodeExecutionQuotaExceeded,
		Message: "organization execution quota exceeded",
		ResetAt: &resetAt,
	}
}

func errConnectorConcurrencyExceeded(app string) *AdmissionError {
	return &AdmissionError{
		Code:    CodeConnectorConcurrencyHigh,
		Message: fmt.Sprintf("per-connector in-flight cap reached for %q", app),
	}
}

func errUsageQuotaExceeded(quotaType string) *AdmissionError {
	return &AdmissionError{
		Code:      CodeUsageQuotaExceeded,
		Message:   fmt.Sprintf("usage quota exceeded: %s", quotaType),
		QuotaType: quotaType,
	}
}
