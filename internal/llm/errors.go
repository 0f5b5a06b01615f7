// Package llm adapts hosted chat-completion APIs to eino's model interfaces
// and classifies their failures.
package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/openai/openai-go/v3"
)

var (
	ErrMissingCredential = errors.New("api credential is required")
	ErrInvalidCredential = errors.New("api credential was rejected")
	ErrRateLimited       = errors.New("model rate limit exceeded")
	ErrUpstream          = errors.New("model request failed")
	ErrEmptyResponse     = errors.New("model returned no choices")
)

// Classify maps provider errors onto the package sentinels. Context errors
// pass through untouched so callers can tell cancellation apart.
func Classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	for _, known := range []error{ErrMissingCredential, ErrInvalidCredential, ErrRateLimited, ErrUpstream} {
		if errors.Is(err, known) {
			return err
		}
	}

	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		switch apiErr.StatusCode {
		case http.StatusUnauthorized, http.StatusForbidden:
			return fmt.Errorf("%w: %w", ErrInvalidCredential, err)
		case http.StatusTooManyRequests:
			return fmt.Errorf("%w: %w", ErrRateLimited, err)
		}
	}
	return fmt.Errorf("%w: %w", ErrUpstream, err)
}
