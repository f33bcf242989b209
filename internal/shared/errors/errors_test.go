package errors

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTaxonomyUnwraps(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		target error
		status int
	}{
		{"schema", Schema([]string{"SepsisLabel"}), ErrSchema, http.StatusUnprocessableEntity},
		{"validation", Validation("bad", []string{"HR must be between 40 and 200 (got 205)"}), ErrValidation, http.StatusBadRequest},
		{"not fitted", NotFitted("Apply"), ErrNotFitted, http.StatusInternalServerError},
		{"transform", Transform("HR", "not numeric"), ErrTransform, http.StatusUnprocessableEntity},
		{"stale", StaleArtifact("width 40 != 41"), ErrStaleArtifact, http.StatusInternalServerError},
		{"timeout", Timeout("score", fmt.Errorf("deadline")), ErrTimeout, http.StatusGatewayTimeout},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.True(t, Is(tt.err, tt.target))

			var appErr *AppError
			require.True(t, As(tt.err, &appErr))
			assert.Equal(t, tt.status, appErr.HTTPStatus)
		})
	}
}

func TestWrapKeepsKind(t *testing.T) {
	base := Validation("submission rejected", []string{"a", "b"})
	wrapped := Wrap(fmt.Errorf("outer: %w", base), "hourly submission")

	assert.True(t, Is(wrapped, ErrValidation))
	assert.Equal(t, "VALIDATION_ERROR", wrapped.Code)
	assert.Equal(t, []string{"a", "b"}, wrapped.Violations)
	assert.Equal(t, "hourly submission: submission rejected", wrapped.Message)

	// the original is not mutated
	assert.Equal(t, "submission rejected", base.Message)
}

func TestWrapPlainError(t *testing.T) {
	wrapped := Wrap(fmt.Errorf("boom"), "scoring failed")
	assert.Equal(t, "INTERNAL_ERROR", wrapped.Code)
	assert.Equal(t, http.StatusInternalServerError, wrapped.HTTPStatus)
	assert.Equal(t, "scoring failed: boom", wrapped.Error())
}

func TestSchemaDetails(t *testing.T) {
	err := Schema([]string{"Patient_ID", "ICULOS"})
	assert.Equal(t, "missing", err.Details["Patient_ID"])
	assert.Equal(t, "missing", err.Details["ICULOS"])
}
