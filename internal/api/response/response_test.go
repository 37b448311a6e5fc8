package response_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fleetpulse/fleetpulse/internal/api/middleware"
	"github.com/fleetpulse/fleetpulse/internal/api/models"
	"github.com/fleetpulse/fleetpulse/internal/api/response"
)

// requestWithID builds a request whose context carries a request ID,
// going through the middleware so the context key matches.
func requestWithID(t *testing.T) *http.Request {
	t.Helper()
	var captured *http.Request
	handler := middleware.RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured = r
	}))
	req := httptest.NewRequest(http.MethodGet, "/v1/health", nil)
	req.Header.Set("X-Request-Id", "req_test123")
	handler.ServeHTTP(httptest.NewRecorder(), req)
	require.NotNil(t, captured)
	return captured
}

func TestJSON_IncludesRequestID(t *testing.T) {
	rec := httptest.NewRecorder()
	response.JSON(rec, requestWithID(t), http.StatusOK, map[string]string{"status": "healthy"})

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "req_test123", rec.Header().Get("X-Request-Id"))
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"status":"healthy"}`, rec.Body.String())
}

func TestJSON_WithoutRequestID(t *testing.T) {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/v1/health", nil)
	response.JSON(rec, req, http.StatusOK, map[string]string{"status": "healthy"})

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Header().Get("X-Request-Id"))
}

func TestJSON_NilData(t *testing.T) {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/v1/health", nil)
	response.JSON(rec, req, http.StatusNoContent, nil)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Empty(t, rec.Body.String())
}

func TestBadRequest_IncludesFieldErrors(t *testing.T) {
	rec := httptest.NewRecorder()
	response.BadRequest(rec, requestWithID(t), "invalid query", []models.FieldError{
		{Field: "days", Message: "must be a positive integer"},
	})

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "application/problem+json", rec.Header().Get("Content-Type"))

	var problem models.Problem
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &problem))
	assert.Equal(t, "req_test123", problem.TraceID)
	assert.Equal(t, "/v1/health", problem.Instance)
	require.Len(t, problem.Errors, 1)
}

func TestNotFound(t *testing.T) {
	rec := httptest.NewRecorder()
	response.NotFound(rec, requestWithID(t), "component not found")

	assert.Equal(t, http.StatusNotFound, rec.Code)

	var problem models.Problem
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &problem))
	assert.Equal(t, models.ProblemTypeNotFound, problem.Type)
	assert.Equal(t, "component not found", problem.Detail)
}

func TestTooManyRequests_IncludesRateLimitHeaders(t *testing.T) {
	rec := httptest.NewRecorder()
	response.TooManyRequestsWithInfo(rec, requestWithID(t), "slow down", &response.RateLimitInfo{
		Limit:      60,
		Remaining:  0,
		ResetAt:    1700000000,
		RetryAfter: 30,
	})

	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "60", rec.Header().Get("X-RateLimit-Limit"))
	assert.Equal(t, "0", rec.Header().Get("X-RateLimit-Remaining"))
	assert.Equal(t, "1700000000", rec.Header().Get("X-RateLimit-Reset"))
	assert.Equal(t, "30", rec.Header().Get("Retry-After"))
}

func TestTooManyRequests_WithoutRateLimitInfo(t *testing.T) {
	rec := httptest.NewRecorder()
	response.TooManyRequests(rec, requestWithID(t), "slow down")

	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Empty(t, rec.Header().Get("X-RateLimit-Limit"))
}

func TestInternalError(t *testing.T) {
	rec := httptest.NewRecorder()
	response.InternalError(rec, requestWithID(t), "boom")

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestServiceUnavailable(t *testing.T) {
	rec := httptest.NewRecorder()
	response.ServiceUnavailable(rec, requestWithID(t), "metrics are disabled")

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var problem models.Problem
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &problem))
	assert.Equal(t, models.ProblemTypeUnavailable, problem.Type)
}

func TestGetRequestID_EmptyContext(t *testing.T) {
	assert.Empty(t, middleware.GetRequestID(context.Background()))
}
