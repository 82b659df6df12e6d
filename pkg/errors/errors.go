package errors

import (
	stderrors "errors"
	"fmt"
	"time"
)

// ErrorType represents the failure class of an error
type ErrorType string

const (
	// ErrorTypeExtractionMiss means no candidate produced a value for a field
	ErrorTypeExtractionMiss ErrorType = "extraction_miss"
	// ErrorTypeNormalization means a raw value could not be converted to its canonical form
	ErrorTypeNormalization ErrorType = "normalization"
	// ErrorTypeQualityRejected means too many required fields were missing
	ErrorTypeQualityRejected ErrorType = "quality_rejected"
	// ErrorTypeDuplicate means the record was already seen
	ErrorTypeDuplicate ErrorType = "duplicate"
	// ErrorTypeGeocode means both geocoding providers failed
	ErrorTypeGeocode ErrorType = "geocode"
	// ErrorTypeFetchBlocked means the origin kept classifying us as a bot
	ErrorTypeFetchBlocked ErrorType = "fetch_blocked"
	// ErrorTypeFetchTimeout means requests kept timing out
	ErrorTypeFetchTimeout ErrorType = "fetch_timeout"
	// ErrorTypeNetwork represents transport-level errors
	ErrorTypeNetwork ErrorType = "network"
	// ErrorTypeConfiguration represents configuration errors
	ErrorTypeConfiguration ErrorType = "configuration"
	// ErrorTypeStorage represents persistence errors
	ErrorTypeStorage ErrorType = "storage"
)

// HarvestError represents an error raised while harvesting a source
type HarvestError struct {
	Type    ErrorType
	Source  string
	Message string
	Err     error
	Time    time.Time
}

// Error implements the error interface
func (e *HarvestError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %s - %v", e.Type, e.Source, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s: %s", e.Type, e.Source, e.Message)
}

// Unwrap returns the underlying error
func (e *HarvestError) Unwrap() error {
	return e.Err
}

// IsRetryable returns true if the error is worth another attempt
func (e *HarvestError) IsRetryable() bool {
	switch e.Type {
	case ErrorTypeNetwork, ErrorTypeFetchTimeout, ErrorTypeFetchBlocked:
		return true
	default:
		return false
	}
}

// New creates a new HarvestError
func New(errType ErrorType, source, message string, err error) *HarvestError {
	return &HarvestError{
		Type:    errType,
		Source:  source,
		Message: message,
		Err:     err,
		Time:    time.Now(),
	}
}

// NewExtractionMiss creates a new extraction miss error
func NewExtractionMiss(source, field string) *HarvestError {
	return New(ErrorTypeExtractionMiss, source, fmt.Sprintf("no candidate matched field %q", field), nil)
}

// NewNormalization creates a new normalization error
func NewNormalization(source, message string, err error) *HarvestError {
	return New(ErrorTypeNormalization, source, message, err)
}

// NewQualityRejected creates a new quality gate rejection
func NewQualityRejected(source string, missing []string) *HarvestError {
	return New(ErrorTypeQualityRejected, source, fmt.Sprintf("missing fields %v", missing), nil)
}

// NewDuplicate creates a new duplicate error
func NewDuplicate(source, key string) *HarvestError {
	return New(ErrorTypeDuplicate, source, "identity key already seen: "+key, nil)
}

// NewGeocode creates a new geocode error
func NewGeocode(source, message string, err error) *HarvestError {
	return New(ErrorTypeGeocode, source, message, err)
}

// NewFetchBlocked creates a new blocked fetch error
func NewFetchBlocked(source, message string) *HarvestError {
	return New(ErrorTypeFetchBlocked, source, message, nil)
}

// NewFetchTimeout creates a new fetch timeout error
func NewFetchTimeout(source, message string, err error) *HarvestError {
	return New(ErrorTypeFetchTimeout, source, message, err)
}

// NewNetwork creates a new network error
func NewNetwork(source, message string, err error) *HarvestError {
	return New(ErrorTypeNetwork, source, message, err)
}

// NewConfiguration creates a new configuration error
func NewConfiguration(message string, err error) *HarvestError {
	return New(ErrorTypeConfiguration, "", message, err)
}

// NewStorage creates a new storage error
func NewStorage(source, message string, err error) *HarvestError {
	return New(ErrorTypeStorage, source, message, err)
}

// TypeOf returns the ErrorType carried anywhere in err's chain, or "" if none.
func TypeOf(err error) ErrorType {
	var he *HarvestError
	if stderrors.As(err, &he) {
		return he.Type
	}
	return ""
}

// Is reports whether err carries the given ErrorType.
func Is(err error, t ErrorType) bool {
	return err != nil && TypeOf(err) == t
}

// IsRetryable reports whether err is a retryable HarvestError.
func IsRetryable(err error) bool {
	var he *HarvestError
	if stderrors.As(err, &he) {
		return he.IsRetryable()
	}
	return false
}
