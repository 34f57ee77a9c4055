package models

import "fmt"

// ValidationError represents a data validation error
// Raised for malformed input tables and requests.
type ValidationError struct {
	Field   string
	Value   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// IsTransient returns false as validation errors are permanent
func (e *ValidationError) IsTransient() bool {
	return false
}

// ConfigError represents a configuration error detected before any work starts,
// such as an unrecognized granularity or an unknown metric name.
type ConfigError struct {
	Field   string
	Value   string
	Message string
}

func (e *ConfigError) Error() string {
	return e.Message
}

// IsTransient returns false as configuration errors are permanent
func (e *ConfigError) IsTransient() bool {
	return false
}

// NotFoundError represents a resource not found error
type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Resource, e.ID)
}

func (e *NotFoundError) IsTransient() bool {
	return false
}
