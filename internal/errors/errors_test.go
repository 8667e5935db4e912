package errors

import (
	"encoding/json"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppErrorMarshalsWithoutCauseOrDetails(t *testing.T) {
	tests := []struct {
		name         string
		err          *AppError
		wantStatus   int
		wantCategory string
		wantCode     string
	}{
		{
			name:         "not found",
			err:          NewNotFoundError(`experiment "missing" is not configured`),
			wantStatus:   http.StatusNotFound,
			wantCategory: "not_found",
			wantCode:     "NOT_FOUND",
		},
		{
			name:         "validation without details",
			err:          NewValidationError("source must be forced or random"),
			wantStatus:   http.StatusBadRequest,
			wantCategory: "validation",
			wantCode:     "VALIDATION_ERROR",
		},
		{
			name:         "reporting without cause",
			err:          NewReportingError("collector unreachable", nil),
			wantStatus:   http.StatusBadGateway,
			wantCategory: "reporting",
			wantCode:     "REPORTING_UNAVAILABLE",
		},
		{
			name:         "timeout without cause",
			err:          NewTimeoutError("request deadline exceeded", nil),
			wantStatus:   http.StatusGatewayTimeout,
			wantCategory: "timeout",
			wantCode:     "TIMEOUT_ERROR",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := json.Marshal(tt.err)
			require.NoError(t, err)

			var body map[string]interface{}
			require.NoError(t, json.Unmarshal(data, &body))

			assert.Equal(t, tt.wantCategory, body["category"])
			assert.EqualValues(t, tt.wantStatus, body["http_status"])
			assert.Equal(t, tt.wantCode, body["error"])
			assert.NotEmpty(t, body["message"])
			assert.NotContains(t, body, "details")
		})
	}
}

func TestAppErrorMarshalsDetails(t *testing.T) {
	data, err := json.Marshal(NewValidationError("invalid experiment", "weight must be positive"))
	require.NoError(t, err)

	var body struct {
		Details map[string]string `json:"details"`
	}
	require.NoError(t, json.Unmarshal(data, &body))
	assert.Equal(t, "weight must be positive", body.Details["validation_details"])
}

func TestAppErrorMarshalsRateLimitRetryAfter(t *testing.T) {
	data, err := json.Marshal(NewRateLimitError("30"))
	require.NoError(t, err)

	var body struct {
		Details    map[string]string `json:"details"`
		HTTPStatus int               `json:"http_status"`
	}
	require.NoError(t, json.Unmarshal(data, &body))
	assert.Equal(t, http.StatusTooManyRequests, body.HTTPStatus)
	assert.Equal(t, "30", body.Details["retry_after"])
}

func TestToAppErrorPassesThrough(t *testing.T) {
	original := NewNotFoundError("nope")
	assert.Same(t, original, ToAppError(original))
}
