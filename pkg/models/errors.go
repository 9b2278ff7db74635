// Package models defines the public domain models and error types for MBFlow.
package models

import (
	"errors"
	"fmt"
)

// Common error types for MBFlow SDK.
var (
	// Client errors
	ErrClientClosed = errors.New("client is closed")

	// Workflow errors
	ErrInvalidWorkflowID = errors.New("invalid workflow ID")
	ErrWorkflowNotFound  = errors.New("workflow not found")
	ErrWorkflowExists    = errors.New("workflow already exists")
	ErrInvalidWorkflow   = errors.New("invalid workflow")
	ErrCyclicDependency  = errors.New("cyclic dependency detected")
	ErrOrphanedNodes     = errors.New("orphaned nodes detected")
	ErrInvalidNodeType   = errors.New("invalid node type")
	ErrNodeNotFound      = errors.New("node not found")
	ErrEdgeNotFound      = errors.New("edge not found")
	ErrInvalidEdge       = errors.New("invalid edge")

	// Execution errors
	ErrInvalidExecutionID  = errors.New("invalid execution ID")
	ErrExecutionNotFound   = errors.New("execution not found")
	ErrExecutionFailed     = errors.New("execution failed")
	ErrExecutionCancelled  = errors.New("execution cancelled")
	ErrExecutionTimeout    = errors.New("execution timeout")
	ErrNodeExecutionFailed = errors.New("node execution failed")
	ErrInvalidInput        = errors.New("invalid input")
	ErrInvalidOutput       = errors.New("invalid output")

	// Trigger errors
	ErrInvalidTriggerID     = errors.New("invalid trigger ID")
	ErrTriggerNotFound      = errors.New("trigger not found")
	ErrInvalidTriggerType   = errors.New("invalid trigger type")
	ErrInvalidTriggerConfig = errors.New("invalid trigger configuration")
	ErrTriggerDisabled      = errors.New("trigger is disabled")

	// Executor errors
	ErrExecutorNotFound = errors.New("executor not found")
	ErrExecutorFailed   = errors.New("executor failed")
	ErrInvalidConfig    = errors.New("invalid configuration")

	// Authorization errors
	ErrUnauthorized       = errors.New("unauthorized")
	ErrForbidden          = errors.New("forbidden")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrUserNotFound       = errors.New("user not found")
	ErrUserExists         = errors.New("user already exists")
	ErrInvalidToken       = errors.New("invalid token")
	ErrTokenExpired       = errors.New("token expired")
	ErrSessionNotFound    = errors.New("session not found")
	ErrSessionExpired     = errors.New("session expired")
	ErrRoleNotFound       = errors.New("role not found")
	ErrInvalidRole        = errors.New("invalid role")
	ErrPermissionDenied   = errors.New("permission denied")

	// Validation errors
	ErrValidationFailed = errors.New("validation failed")
	ErrRequired         = errors.New("required field is missing")

	// Billing and resource errors
	ErrInsufficientBalance   = errors.New("insufficient balance")
	ErrAccountNotFound       = errors.New("account not found")
	ErrAccountInactive       = errors.New("account is inactive")
	ErrAccountSuspended      = errors.New("account is suspended")
	ErrAccountClosed         = errors.New("account is closed")
	ErrResourceNotFound      = errors.New("resource not found")
	ErrResourceLimitExceeded = errors.New("resource limit exceeded")
	ErrStorageLimitExceeded  = errors.New("storage limit exceeded")
	ErrTransactionNotFound   = errors.New("transaction not found")
	ErrTransactionFailed     = errors.New("transaction failed")
	ErrDuplicateTransaction  = errors.New("duplicate transaction")
	ErrPricingPlanNotFound   = errors.New("pricing plan not found")
	ErrInvalidResourceType   = errors.New("invalid resource type")
	ErrInvalidID             = errors.New("invalid ID format")

	// Rental key errors
	ErrRentalKeyNotFound         = errors.New("rental key not found")
	ErrRentalKeySuspended        = errors.New("rental key is suspended")
	ErrDailyLimitExceeded        = errors.New("daily request limit exceeded")
	ErrMonthlyTokenLimitExceeded = errors.New("monthly token limit exceeded")
	ErrRentalKeyAccessDenied     = errors.New("rental key access denied")

	// Approval subsystem errors
	ErrApprovalTicketNotFound = errors.New("approval ticket not found")
	ErrApprovalTicketClosed   = errors.New("approval ticket already closed")
	ErrApprovalTicketExpired  = errors.New("approval ticket expired")
	ErrApprovalTokenInvalid   = errors.New("approval token invalid")
	ErrApprovalAssigneeMismatch = errors.New("approval token does not belong to this assignee")
)

// WorkflowError represents an error that occurred during workflow operations.
type WorkflowError struct {
	WorkflowID string
	Operation  string
	Err        error
}

func (e *WorkflowError) Error() string {
	return "workflow " + e.WorkflowID + " " + e.Operation + ": " + e.Err.Error()
}

func (e *WorkflowError) Unwrap() error {
	return e.Err
}

// ExecutionError represents an error that occurred during execution.
type ExecutionError struct {
	ExecutionID string
	NodeID      string
	Err         error
}

func (e *ExecutionError) Error() string {
	msg := "execution " + e.ExecutionID
	if e.NodeID != "" {
		msg += " node " + e.NodeID
	}
	msg += ": " + e.Err.Error()
	return msg
}

func (e *ExecutionError) Unwrap() error {
	return e.Err
}

// ValidationError represents a validation error with details.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Field + ": " + e.Message
}

// ValidationErrors represents multiple validation errors.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return "validation failed"
	}
	return e[0].Error()
}

// AuthError represents an authentication or authorization error.
type AuthError struct {
	UserID string
	Action string
	Err    error
}

func (e *AuthError) Error() string {
	msg := "auth error"
	if e.UserID != "" {
		msg += " for user " + e.UserID
	}
	if e.Action != "" {
		msg += " during " + e.Action
	}
	msg += ": " + e.Err.Error()
	return msg
}

func (e *AuthError) Unwrap() error {
	return e.Err
}

// StatusCoder is implemented by errors that know which HTTP status they map
// to, so handlers can translate a typed error into a response without a
// switch over sentinel values.
type StatusCoder interface {
	StatusCode() int
}

// TransientError wraps a failure the caller should retry (a dependency
// timeout, a dropped connection) as opposed to one that will never succeed.
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string {
	return "transient error during " + e.Op + ": " + e.Err.Error()
}

func (e *TransientError) Unwrap() error { return e.Err }

// StatusCode reports 503, since a transient error means "retry me".
func (e *TransientError) StatusCode() int { return 503 }

// VersionConflictError signals an optimistic-concurrency compare-and-swap
// failure on a store update (the row's version column moved under us).
type VersionConflictError struct {
	Resource        string
	ExpectedVersion int
	ActualVersion   int
}

func (e *VersionConflictError) Error() string {
	return fmt.Sprintf("%s version conflict: expected %d, got %d", e.Resource, e.ExpectedVersion, e.ActualVersion)
}

// StatusCode reports 409 Conflict.
func (e *VersionConflictError) StatusCode() int { return 409 }

// RateLimitedError signals that a caller, provider, or endpoint has exceeded
// its quota. RetryAfterSeconds is 0 when unknown.
type RateLimitedError struct {
	Resource          string
	RetryAfterSeconds int
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("%s rate limited, retry after %ds", e.Resource, e.RetryAfterSeconds)
}

// StatusCode reports 429 Too Many Requests.
func (e *RateLimitedError) StatusCode() int { return 429 }

// ExecutionFailureError wraps a node or workflow failure that should
// terminate the execution rather than being retried.
type ExecutionFailureError struct {
	ExecutionID string
	NodeID      string
	Err         error
}

func (e *ExecutionFailureError) Error() string {
	msg := "execution " + e.ExecutionID + " failed"
	if e.NodeID != "" {
		msg += " at node " + e.NodeID
	}
	return msg + ": " + e.Err.Error()
}

func (e *ExecutionFailureError) Unwrap() error { return e.Err }

// StatusCode reports 500 Internal Server Error.
func (e *ExecutionFailureError) StatusCode() int { return 500 }

// StatusCode reports 400 Bad Request for a plain field validation error.
func (e *ValidationError) StatusCode() int { return 400 }

// StatusCode reports 401 Unauthorized for an auth error.
func (e *AuthError) StatusCode() int { return 401 }
