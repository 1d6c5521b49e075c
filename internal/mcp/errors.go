package mcp

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/rpggio/tally/internal/archive"
	"github.com/rpggio/tally/internal/quota"
	"github.com/rpggio/tally/internal/repository"
	tallysync "github.com/rpggio/tally/internal/sync"
	"github.com/rpggio/tally/internal/validation"
)

// APIError is the error body returned by every tool.
type APIError struct {
	Code         string `json:"code"`
	Status       int    `json:"status"`
	Message      string `json:"message"`
	Retryable    bool   `json:"retryable,omitempty"`
	Details      any    `json:"details,omitempty"`
	RecoveryHint string `json:"recovery_hint,omitempty"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// MapError maps engine errors to API codes. Unknown errors map to nil so
// the caller can decide how to surface them.
func MapError(err error) *APIError {
	if err == nil {
		return nil
	}

	var violation *archive.Violation
	var exceeded *quota.ExceededError
	var compensation *tallysync.CompensationError
	var invalid *validation.Error

	switch {
	case errors.As(err, &compensation):
		return &APIError{
			Code:         "COMPENSATION_FAILED",
			Status:       http.StatusInternalServerError,
			Message:      "stores are inconsistent and need manual reconciliation",
			Details:      map[string]any{"kind": compensation.Kind, "op": compensation.Op, "entityId": compensation.EntityID},
			RecoveryHint: "Do not retry; report the entity id to an operator",
		}
	case errors.As(err, &violation):
		return &APIError{
			Code:         "ARCHIVE_VIOLATION",
			Status:       http.StatusForbidden,
			Message:      violation.Error(),
			Details:      violation,
			RecoveryHint: violation.Remediation(),
		}
	case errors.As(err, &exceeded):
		return &APIError{
			Code:         "QUOTA_EXCEEDED",
			Status:       http.StatusTooManyRequests,
			Message:      exceeded.Error(),
			Details:      exceeded.Decision,
			RecoveryHint: "Upgrade your plan or wait for the quota to reset",
		}
	case errors.As(err, &invalid):
		return &APIError{
			Code:    "VALIDATION_ERROR",
			Status:  http.StatusBadRequest,
			Message: invalid.Error(),
			Details: invalid.Problems,
		}
	case errors.Is(err, repository.ErrNotFound):
		return &APIError{Code: "NOT_FOUND", Status: http.StatusNotFound, Message: err.Error(), RecoveryHint: "Check the id"}
	case errors.Is(err, repository.ErrConflict), errors.Is(err, repository.ErrDuplicate):
		return &APIError{
			Code:         "CONFLICT",
			Status:       http.StatusConflict,
			Message:      err.Error(),
			RecoveryHint: "Reload the entity and apply the change again",
		}
	case errors.Is(err, tallysync.ErrReplicaSyncFailed):
		return &APIError{
			Code:         "REPLICA_SYNC_FAILED",
			Status:       http.StatusInternalServerError,
			Message:      "the change was rolled back; please try again",
			Retryable:    true,
			RecoveryHint: "Retry with the same operation_id",
		}
	case errors.Is(err, tallysync.ErrPrimaryStore):
		return &APIError{
			Code:      "PRIMARY_STORE_ERROR",
			Status:    http.StatusInternalServerError,
			Message:   "the primary store failed; please try again",
			Retryable: true,
		}
	default:
		return nil
	}
}
