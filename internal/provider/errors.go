package provider

import (
	"errors"
	"fmt"
)

var (
	// ErrConfiguration marks failures to build a provider (missing credential, unknown kind).
	ErrConfiguration = errors.New("llm configuration error")

	// ErrGeneration marks a failed call on an initialized provider.
	ErrGeneration = errors.New("llm generation error")
)

// ConfigError is returned by New before any request is accepted.
type ConfigError struct {
	Kind   string
	Reason string
}

func (e *ConfigError) Error() string {
	if e.Kind == "" {
		return fmt.Sprintf("llm configuration error: %s", e.Reason)
	}
	return fmt.Sprintf("llm configuration error (%s): %s", e.Kind, e.Reason)
}

func (e *ConfigError) Is(target error) bool {
	return target == ErrConfiguration
}

// GenerationError wraps the cause of a failed Generate call.
type GenerationError struct {
	Provider string
	Err      error
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("%s generation failed: %v", e.Provider, e.Err)
}

func (e *GenerationError) Unwrap() error {
	return e.Err
}

func (e *GenerationError) Is(target error) bool {
	return target == ErrGeneration
}

// StatusError is a non-2xx answer from a provider endpoint.
type StatusError struct {
	Provider   string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s returned status: %d", e.Provider, e.StatusCode)
	}
	return fmt.Sprintf("%s returned status: %d: %s", e.Provider, e.StatusCode, e.Body)
}

func generationError(provider string, err error) error {
	var genErr *GenerationError
	if errors.As(err, &genErr) {
		return err
	}
	return &GenerationError{Provider: provider, Err: err}
}
