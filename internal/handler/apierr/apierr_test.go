package apierr

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/zhouzirui/z-chat/backend/internal/llm"
	"github.com/zhouzirui/z-chat/backend/internal/memory"
	"github.com/zhouzirui/z-chat/backend/internal/model/chat"
	chatService "github.com/zhouzirui/z-chat/backend/internal/service/chat"
	"github.com/zhouzirui/z-chat/backend/internal/service/turn"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		err    error
		status int
	}{
		{fmt.Errorf("%w: bad", chat.ErrInvalidSettings), http.StatusBadRequest},
		{turn.ErrEmptyInput, http.StatusBadRequest},
		{llm.ErrMissingCredential, http.StatusUnauthorized},
		{fmt.Errorf("run: %w", llm.ErrInvalidCredential), http.StatusUnauthorized},
		{chatService.ErrSessionNotFound, http.StatusNotFound},
		{chatService.ErrTurnInProgress, http.StatusConflict},
		{ErrNothingToExport, http.StatusConflict},
		{llm.ErrRateLimited, http.StatusTooManyRequests},
		{fmt.Errorf("%w: 500", llm.ErrUpstream), http.StatusBadGateway},
		{fmt.Errorf("store exchange: %w", fmt.Errorf("%w: down", memory.ErrSummarize)), http.StatusBadGateway},
		{context.DeadlineExceeded, http.StatusGatewayTimeout},
		{errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		if got, _ := Classify(tt.err); got != tt.status {
			t.Errorf("Classify(%v) = %d, want %d", tt.err, got, tt.status)
		}
	}
}

func TestRespondHidesInternalErrors(t *testing.T) {
	rec := httptest.NewRecorder()
	Respond(rec, errors.New("database password is hunter2"))

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["error"] != "internal server error" || body["code"] != string(CodeInternal) {
		t.Fatalf("unexpected body: %v", body)
	}
}
