// Package apperr defines the settlement error taxonomy shared by the
// inventory, pricing, transaction, sponsorship and investment packages.
// Every error carries a stable code and the HTTP status it maps to.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Stable error codes returned to API clients
const (
	CodeInsufficientCredits    = "INSUFFICIENT_CREDITS"
	CodeInvalidTransition      = "INVALID_TRANSITION"
	CodeConcurrentModification = "CONCURRENT_MODIFICATION"
	CodeUnsupportedCurrency    = "UNSUPPORTED_CURRENCY"
	CodeNotFound               = "NOT_FOUND"
	CodeValidation             = "VALIDATION_ERROR"
	CodeForbidden              = "FORBIDDEN"
	CodeInternal               = "INTERNAL_ERROR"
)

// Coded is implemented by every error in this package
type Coded interface {
	error
	Code() string
	HTTPStatus() int
	Details() map[string]any
}

// InsufficientCreditsError is returned when a reservation is denied
type InsufficientCreditsError struct {
	ProjectID string
	Requested int64
	Available int64
}

func (e *InsufficientCreditsError) Error() string {
	return fmt.Sprintf("insufficient credits for project %s: requested %d, available %d",
		e.ProjectID, e.Requested, e.Available)
}

func (e *InsufficientCreditsError) Code() string   { return CodeInsufficientCredits }
func (e *InsufficientCreditsError) HTTPStatus() int { return http.StatusBadRequest }
func (e *InsufficientCreditsError) Details() map[string]any {
	return map[string]any{
		"projectId": e.ProjectID,
		"requested": e.Requested,
		"available": e.Available,
	}
}

// InvalidTransitionError is returned for a state change outside the allowed table
type InvalidTransitionError struct {
	Entity  string
	Current string
	Target  string
	Allowed []string
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid %s transition from %s to %s", e.Entity, e.Current, e.Target)
}

func (e *InvalidTransitionError) Code() string   { return CodeInvalidTransition }
func (e *InvalidTransitionError) HTTPStatus() int { return http.StatusBadRequest }
func (e *InvalidTransitionError) Details() map[string]any {
	allowed := e.Allowed
	if allowed == nil {
		allowed = []string{}
	}
	return map[string]any{
		"currentStatus":   e.Current,
		"attemptedStatus": e.Target,
		"allowedStatuses": allowed,
	}
}

// ConcurrentModificationError means another writer won an optimistic race.
// Callers may retry.
type ConcurrentModificationError struct {
	Entity string
	ID     string
}

func (e *ConcurrentModificationError) Error() string {
	return fmt.Sprintf("%s %s was modified concurrently", e.Entity, e.ID)
}

func (e *ConcurrentModificationError) Code() string   { return CodeConcurrentModification }
func (e *ConcurrentModificationError) HTTPStatus() int { return http.StatusConflict }
func (e *ConcurrentModificationError) Details() map[string]any {
	return map[string]any{"entity": e.Entity, "id": e.ID}
}

// UnsupportedCurrencyError is returned by the pricing engine
type UnsupportedCurrencyError struct {
	Currency  string
	Supported []string
}

func (e *UnsupportedCurrencyError) Error() string {
	return fmt.Sprintf("unsupported currency %q", e.Currency)
}

func (e *UnsupportedCurrencyError) Code() string   { return CodeUnsupportedCurrency }
func (e *UnsupportedCurrencyError) HTTPStatus() int { return http.StatusBadRequest }
func (e *UnsupportedCurrencyError) Details() map[string]any {
	return map[string]any{"currency": e.Currency, "supported": e.Supported}
}

// NotFoundError is returned when a project, transaction, sponsorship or investment is missing
type NotFoundError struct {
	Entity string
	ID     string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Entity, e.ID)
}

func (e *NotFoundError) Code() string   { return CodeNotFound }
func (e *NotFoundError) HTTPStatus() int { return http.StatusNotFound }
func (e *NotFoundError) Details() map[string]any {
	return map[string]any{"entity": e.Entity, "id": e.ID}
}

// ValidationError reports malformed input
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (e *ValidationError) Code() string   { return CodeValidation }
func (e *ValidationError) HTTPStatus() int { return http.StatusBadRequest }
func (e *ValidationError) Details() map[string]any {
	return map[string]any{"field": e.Field}
}

// ForbiddenError is returned by the authorization gates
type ForbiddenError struct {
	Reason string
}

func (e *ForbiddenError) Error() string   { return "forbidden: " + e.Reason }
func (e *ForbiddenError) Code() string    { return CodeForbidden }
func (e *ForbiddenError) HTTPStatus() int { return http.StatusForbidden }
func (e *ForbiddenError) Details() map[string]any {
	return map[string]any{"reason": e.Reason}
}

// Validation is shorthand for a *ValidationError
func Validation(field, format string, args ...any) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// NotFound is shorthand for a *NotFoundError
func NotFound(entity string, id fmt.Stringer) error {
	return &NotFoundError{Entity: entity, ID: id.String()}
}

// IsInsufficientCredits reports whether err wraps an InsufficientCreditsError
func IsInsufficientCredits(err error) bool {
	var target *InsufficientCreditsError
	return errors.As(err, &target)
}

// IsConcurrentModification reports whether err wraps a ConcurrentModificationError
func IsConcurrentModification(err error) bool {
	var target *ConcurrentModificationError
	return errors.As(err, &target)
}

// IsNotFound reports whether err wraps a NotFoundError
func IsNotFound(err error) bool {
	var target *NotFoundError
	return errors.As(err, &target)
}

// As extracts the Coded error from err, if any
func As(err error) (Coded, bool) {
	var coded Coded
	if errors.As(err, &coded) {
		return coded, true
	}
	return nil, false
}
