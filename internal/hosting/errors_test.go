package hosting

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	cause := errors.New("boom")
	tests := []struct {
		name     string
		status   int
		rejected error
		want     error
	}{
		{"no response", 0, ErrMergeRejected, ErrTransport},
		{"unauthorized", http.StatusUnauthorized, ErrMergeRejected, ErrAuthenticationRejected},
		{"forbidden read", http.StatusForbidden, ErrTransport, ErrAuthenticationRejected},
		{"forbidden merge", http.StatusForbidden, ErrMergeRejected, ErrMergeRejected},
		{"not found", http.StatusNotFound, ErrMergeRejected, ErrNotFound},
		{"method not allowed", http.StatusMethodNotAllowed, ErrMergeRejected, ErrMergeRejected},
		{"conflict", http.StatusConflict, ErrMergeRejected, ErrMergeRejected},
		{"unprocessable trigger", http.StatusUnprocessableEntity, ErrTriggerRejected, ErrTriggerRejected},
		{"server error", http.StatusInternalServerError, ErrMergeRejected, ErrTransport},
		{"read bad request", http.StatusBadRequest, ErrTransport, ErrTransport},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := classify("op", tt.status, "", cause, tt.rejected)
			assert.ErrorIs(t, err, tt.want)
			assert.ErrorIs(t, err, cause)
		})
	}
}

func TestKindOfAndHTTPStatus(t *testing.T) {
	tests := []struct {
		err        error
		kind       string
		httpStatus int
	}{
		{nil, "", http.StatusInternalServerError},
		{&Error{Op: "merge", Kind: ErrAlreadyMerged}, "already_merged", http.StatusInternalServerError},
		{&Error{Op: "merge", Kind: ErrMergeRejected}, "merge_rejected", http.StatusUnprocessableEntity},
		{&Error{Op: "list", Kind: ErrAuthenticationRejected}, "authentication_rejected", http.StatusUnauthorized},
		{&Error{Op: "list", Kind: ErrNotFound}, "not_found", http.StatusNotFound},
		{&Error{Op: "list", Kind: ErrTransport}, "transport", http.StatusBadGateway},
		{fmt.Errorf("trigger: %w", ErrTriggerRejected), "trigger_rejected", http.StatusUnprocessableEntity},
		{errors.New("panic"), "internal", http.StatusInternalServerError},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.kind, KindOf(tt.err))
		if tt.err != nil {
			assert.Equal(t, tt.httpStatus, HTTPStatus(tt.err))
		}
	}
}

func TestIsSuccessEquivalent(t *testing.T) {
	assert.True(t, IsSuccessEquivalent(nil))
	assert.True(t, IsSuccessEquivalent(&Error{Op: "merge", Kind: ErrAlreadyMerged}))
	assert.False(t, IsSuccessEquivalent(&Error{Op: "merge", Kind: ErrMergeRejected}))
}

func TestErrorMessage(t *testing.T) {
	err := &Error{Op: "merge change request", Kind: ErrMergeRejected, StatusCode: 406, Message: "Branch cannot be merged"}
	assert.Equal(t, "merge change request: merge rejected (HTTP 406): Branch cannot be merged", err.Error())

	err = &Error{Op: "latest pipeline", Kind: ErrNotFound}
	assert.Equal(t, "latest pipeline: not found", err.Error())
}
