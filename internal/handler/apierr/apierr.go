// Package apierr maps service errors onto HTTP responses.
package apierr

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"

	"github.com/zhouzirui/z-chat/backend/internal/llm"
	"github.com/zhouzirui/z-chat/backend/internal/memory"
	"github.com/zhouzirui/z-chat/backend/internal/model/chat"
	chatService "github.com/zhouzirui/z-chat/backend/internal/service/chat"
	"github.com/zhouzirui/z-chat/backend/internal/service/turn"
	"github.com/zhouzirui/z-chat/backend/pkg/utils"
)

var (
	// ErrNothingToExport is returned when a transcript is requested for an empty conversation.
	ErrNothingToExport = errors.New("no messages to export")
	ErrInvalidRequest  = errors.New("invalid request")
	ErrSessionMismatch = fmt.Errorf("%w: session mismatch", ErrInvalidRequest)
)

// Invalid wraps a client mistake as ErrInvalidRequest.
func Invalid(reason string) error {
	return fmt.Errorf("%w: %s", ErrInvalidRequest, reason)
}

// Unsupported reports an unknown inbound message type.
func Unsupported(kind string) error {
	return Invalid("unsupported message type: " + kind)
}

// Code is a stable machine-readable error identifier for clients.
type Code string

const (
	CodeInvalid           Code = "invalid_request"
	CodeMissingCredential Code = "missing_credential"
	CodeInvalidCredential Code = "invalid_credential"
	CodeNotFound          Code = "not_found"
	CodeConflict          Code = "conflict"
	CodeRateLimited       Code = "rate_limited"
	CodeUpstream          Code = "upstream_error"
	CodeCanceled          Code = "canceled"
	CodeInternal          Code = "internal_error"
)

// Classify returns the status and code for err.
func Classify(err error) (int, Code) {
	switch {
	case errors.Is(err, chat.ErrInvalidSettings),
		errors.Is(err, ErrInvalidRequest),
		errors.Is(err, turn.ErrEmptyInput),
		errors.Is(err, memory.ErrInvalidMessage):
		return http.StatusBadRequest, CodeInvalid
	case errors.Is(err, llm.ErrMissingCredential):
		return http.StatusUnauthorized, CodeMissingCredential
	case errors.Is(err, llm.ErrInvalidCredential):
		return http.StatusUnauthorized, CodeInvalidCredential
	case errors.Is(err, chatService.ErrSessionNotFound):
		return http.StatusNotFound, CodeNotFound
	case errors.Is(err, chatService.ErrTurnInProgress),
		errors.Is(err, ErrNothingToExport):
		return http.StatusConflict, CodeConflict
	case errors.Is(err, llm.ErrRateLimited):
		return http.StatusTooManyRequests, CodeRateLimited
	case errors.Is(err, llm.ErrUpstream),
		errors.Is(err, memory.ErrSummarize),
		errors.Is(err, memory.ErrNoSummarizer):
		return http.StatusBadGateway, CodeUpstream
	case errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, CodeCanceled
	default:
		return http.StatusInternalServerError, CodeInternal
	}
}

// Message returns the client-facing text for err. Internal errors are not echoed.
func Message(err error) string {
	status, _ := Classify(err)
	if status == http.StatusInternalServerError {
		return "internal server error"
	}
	return err.Error()
}

// Respond writes err as a JSON error body.
func Respond(w http.ResponseWriter, err error) {
	status, code := Classify(err)
	if status >= http.StatusInternalServerError {
		log.Printf("[http] %s: %v", code, err)
	}
	utils.RespondJSON(w, status, map[string]string{
		"error": Message(err),
		"code":  string(code),
	})
}
