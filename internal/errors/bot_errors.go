package errors

import (
	stderrors "errors"
	"fmt"
)

// ErrorCategory represents the failure classes of the bridge and pipeline
type ErrorCategory string

const (
	// Transport-level failures
	ErrorCategoryTimeout   ErrorCategory = "TIMEOUT"
	ErrorCategoryIO        ErrorCategory = "IO"
	ErrorCategoryMalformed ErrorCategory = "MALFORMED"
	ErrorCategoryOrphaned  ErrorCategory = "ORPHANED"
	ErrorCategoryClosed    ErrorCategory = "CLOSED"

	// Rejections decided before any order exists
	ErrorCategoryValidation ErrorCategory = "VALIDATION"
	ErrorCategorySizing     ErrorCategory = "SIZING"

	// Dispatch outcomes
	ErrorCategoryDispatch       ErrorCategory = "DISPATCH"
	ErrorCategoryRetryExhausted ErrorCategory = "RETRY_EXHAUSTED"
	ErrorCategoryNoOpenPosition ErrorCategory = "NO_OPEN_POSITION"

	// Process-level
	ErrorCategoryConfiguration ErrorCategory = "CONFIG"
	ErrorCategoryFatal         ErrorCategory = "FATAL"
)

// Sentinels matched with errors.Is against any BotError of the same category
var (
	ErrTimeout        = stderrors.New("command timed out")
	ErrIOFailure      = stderrors.New("bridge i/o failure")
	ErrMalformed      = stderrors.New("malformed response")
	ErrOrphaned       = stderrors.New("orphaned response")
	ErrClosed         = stderrors.New("transport closed")
	ErrValidation     = stderrors.New("validation rejected")
	ErrSizing         = stderrors.New("sizing rejected")
	ErrDispatch       = stderrors.New("dispatch failed")
	ErrRetryExhausted = stderrors.New("retries exhausted")
	ErrNoOpenPosition = stderrors.New("no open position")
	ErrConfiguration  = stderrors.New("invalid configuration")
)

var categorySentinels = map[ErrorCategory]error{
	ErrorCategoryTimeout:        ErrTimeout,
	ErrorCategoryIO:             ErrIOFailure,
	ErrorCategoryMalformed:      ErrMalformed,
	ErrorCategoryOrphaned:       ErrOrphaned,
	ErrorCategoryClosed:         ErrClosed,
	ErrorCategoryValidation:     ErrValidation,
	ErrorCategorySizing:         ErrSizing,
	ErrorCategoryDispatch:       ErrDispatch,
	ErrorCategoryRetryExhausted: ErrRetryExhausted,
	ErrorCategoryNoOpenPosition: ErrNoOpenPosition,
	ErrorCategoryConfiguration:  ErrConfiguration,
}

// BotError represents a categorized error with context
type BotError struct {
	Category   ErrorCategory
	Component  string
	Operation  string
	Message    string
	Underlying error
	Context    map[string]interface{}
	Retryable  bool
}

// Error implements the error interface
func (e *BotError) Error() string {
	if e.Underlying != nil {
		return fmt.Sprintf("[%s:%s] %s: %s: %v", e.Category, e.Component, e.Operation, e.Message, e.Underlying)
	}
	return fmt.Sprintf("[%s:%s] %s: %s", e.Category, e.Component, e.Operation, e.Message)
}

// Unwrap returns the underlying error for error unwrapping
func (e *BotError) Unwrap() error {
	return e.Underlying
}

// Is matches the category sentinel so callers can use errors.Is(err, ErrTimeout)
func (e *BotError) Is(target error) bool {
	sentinel, ok := categorySentinels[e.Category]
	return ok && sentinel == target
}

// IsRetryable returns whether this error can be retried
func (e *BotError) IsRetryable() bool {
	return e.Retryable
}

// IsFatal returns whether this error should stop the process
func (e *BotError) IsFatal() bool {
	return e.Category == ErrorCategoryFatal || e.Category == ErrorCategoryConfiguration
}

// NewBotError creates a new categorized bot error
func NewBotError(category ErrorCategory, component, operation, message string) *BotError {
	return &BotError{
		Category:  category,
		Component: component,
		Operation: operation,
		Message:   message,
		Context:   make(map[string]interface{}),
		Retryable: isRetryableCategory(category),
	}
}

// WrapError wraps an existing error with bot error context
func WrapError(err error, category ErrorCategory, component, operation string) *BotError {
	if err == nil {
		return nil
	}

	return &BotError{
		Category:   category,
		Component:  component,
		Operation:  operation,
		Message:    "operation failed",
		Underlying: err,
		Context:    make(map[string]interface{}),
		Retryable:  isRetryableCategory(category),
	}
}

// WithContext adds context information to the error
func (e *BotError) WithContext(key string, value interface{}) *BotError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// WithRetryable sets the retryable flag
func (e *BotError) WithRetryable(retryable bool) *BotError {
	e.Retryable = retryable
	return e
}

// isRetryableCategory determines if an error category is generally retryable
func isRetryableCategory(category ErrorCategory) bool {
	switch category {
	case ErrorCategoryTimeout, ErrorCategoryIO, ErrorCategoryDispatch:
		return true
	default:
		return false
	}
}

// CategoryOf returns the category of the first BotError in the chain, or "" if none
func CategoryOf(err error) ErrorCategory {
	var botErr *BotError
	if stderrors.As(err, &botErr) {
		return botErr.Category
	}
	return ""
}

// Common error constructors
func NewTimeoutError(component, operation, message string) *BotError {
	return NewBotError(ErrorCategoryTimeout, component, operation, message)
}

func NewIOError(component, operation string, err error) *BotError {
	return WrapError(err, ErrorCategoryIO, component, operation)
}

func NewMalformedError(component, operation string, err error) *BotError {
	return WrapError(err, ErrorCategoryMalformed, component, operation)
}

func NewClosedError(component, operation string) *BotError {
	return NewBotError(ErrorCategoryClosed, component, operation, "transport stopped")
}

func NewValidationError(component, operation, message string) *BotError {
	return NewBotError(ErrorCategoryValidation, component, operation, message)
}

func NewSizingError(component, operation string, err error) *BotError {
	return WrapError(err, ErrorCategorySizing, component, operation)
}

func NewDispatchError(component, operation, message string) *BotError {
	return NewBotError(ErrorCategoryDispatch, component, operation, message)
}

func NewNoOpenPositionError(component, symbol, strategy string) *BotError {
	return NewBotError(ErrorCategoryNoOpenPosition, component, "close",
		fmt.Sprintf("no open position for %s on strategy %s", symbol, strategy)).
		WithContext("symbol", symbol).
		WithContext("strategy", strategy)
}

func NewConfigurationError(component, operation, message string) *BotError {
	return NewBotError(ErrorCategoryConfiguration, component, operation, message)
}

func NewFatalError(component, operation, message string) *BotError {
	return NewBotError(ErrorCategoryFatal, component, operation, message)
}

// ErrorStats tracks error statistics
type ErrorStats struct {
	TotalErrors      int
	ErrorsByCategory map[ErrorCategory]int
	RecentErrors     []*BotError
	MaxRecentErrors  int
}

// NewErrorStats creates a new error statistics tracker
func NewErrorStats(maxRecentErrors int) *ErrorStats {
	return &ErrorStats{
		ErrorsByCategory: make(map[ErrorCategory]int),
		RecentErrors:     make([]*BotError, 0, maxRecentErrors),
		MaxRecentErrors:  maxRecentErrors,
	}
}

// RecordError records an error in the statistics
func (es *ErrorStats) RecordError(err *BotError) {
	es.TotalErrors++
	es.ErrorsByCategory[err.Category]++

	es.RecentErrors = append(es.RecentErrors, err)
	if len(es.RecentErrors) > es.MaxRecentErrors {
		es.RecentErrors = es.RecentErrors[1:]
	}
}

// HasRecentErrors checks if there have been errors in the recent history
func (es *ErrorStats) HasRecentErrors(category ErrorCategory, count int) bool {
	recentCount := 0
	for _, err := range es.RecentErrors {
		if err.Category == category {
			recentCount++
		}
	}
	return recentCount >= count
}
