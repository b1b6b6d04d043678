package errors

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestConstructors(t *testing.T) {
	tests := []struct {
		name       string
		err        *AppError
		wantCode   string
		wantStatus int
		wantIs     error
	}{
		{"not found", NotFound("tracked item"), "NOT_FOUND", http.StatusNotFound, ErrNotFound},
		{"bad request", BadRequest("bad"), "BAD_REQUEST", http.StatusBadRequest, ErrBadRequest},
		{"conflict", Conflict("dup"), "CONFLICT", http.StatusConflict, ErrConflict},
		{"internal", Internal("oops"), "INTERNAL_ERROR", http.StatusInternalServerError, ErrInternal},
		{"validation", Validation(map[string]string{"qty": "required"}), "VALIDATION_ERROR", http.StatusBadRequest, ErrValidation},
		{"unavailable", Unavailable("down"), "SERVICE_UNAVAILABLE", http.StatusServiceUnavailable, ErrUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.wantCode, tt.err.Code)
			assert.Equal(t, tt.wantStatus, tt.err.StatusCode)
			assert.True(t, Is(tt.err, tt.wantIs))
		})
	}
}

func TestAs_FindsWrappedAppError(t *testing.T) {
	wrapped := fmt.Errorf("repository: %w", NotFound("anomaly"))

	var appErr *AppError
	assert.True(t, As(wrapped, &appErr))
	assert.Equal(t, "anomaly not found", appErr.Message)
}
