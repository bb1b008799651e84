package httputil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteJSON(t *testing.T) {
	rec := httptest.NewRecorder()
	require.NoError(t, WriteJSON(rec, http.StatusCreated, map[string]string{"accessToken": "a"}))

	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"accessToken":"a"}`, rec.Body.String())
}

func TestErrorWriters(t *testing.T) {
	tests := []struct {
		name   string
		write  func(w http.ResponseWriter)
		status int
	}{
		{"bad request", func(w http.ResponseWriter) { WriteBadRequest(w, "bad") }, http.StatusBadRequest},
		{"unauthorized", func(w http.ResponseWriter) { WriteUnauthorized(w, "who") }, http.StatusUnauthorized},
		{"forbidden", func(w http.ResponseWriter) { WriteForbidden(w, "no") }, http.StatusForbidden},
		{"not found", func(w http.ResponseWriter) { WriteNotFoundError(w, "gone") }, http.StatusNotFound},
		{"conflict", func(w http.ResponseWriter) { WriteConflict(w, "dup") }, http.StatusConflict},
		{"too many", func(w http.ResponseWriter) { WriteTooManyRequests(w, "slow") }, http.StatusTooManyRequests},
		{"internal", func(w http.ResponseWriter) { WriteInternalError(w) }, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			tt.write(rec)

			assert.Equal(t, tt.status, rec.Code)
			var body ErrorResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, tt.status, body.Status)
			assert.Equal(t, http.StatusText(tt.status), body.Error)
			assert.False(t, body.Timestamp.IsZero())
		})
	}
}

func TestWriteUnauthorized_SetsChallenge(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteUnauthorized(rec, "authentication required")
	assert.Equal(t, `Bearer realm="storefront"`, rec.Header().Get("WWW-Authenticate"))
}

func TestWriteInternalError_HidesDetails(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteInternalError(rec)
	assert.Contains(t, rec.Body.String(), `"message":"internal server error"`)
}
