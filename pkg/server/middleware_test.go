package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nicktill/dbpulse/pkg/logger"
)

func TestRequestLogger_LogsRouteTemplate(t *testing.T) {
	var buf bytes.Buffer
	log := logger.NewWithWriter(&buf, true)

	router := mux.NewRouter()
	router.Use(requestLogger(log))
	router.HandleFunc("/v1/instances/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}).Methods("GET")

	req := httptest.NewRequest("GET", "/v1/instances/secret-db-name", nil)
	router.ServeHTTP(httptest.NewRecorder(), req)

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "http request", line["msg"])
	assert.Equal(t, "/v1/instances/{id}", line["route"])
	assert.Equal(t, float64(http.StatusTeapot), line["status"])
	assert.NotContains(t, buf.String(), "secret-db-name")
}

func TestResponseWriter_DefaultStatus(t *testing.T) {
	rec := httptest.NewRecorder()
	rw := &responseWriter{ResponseWriter: rec, statusCode: http.StatusOK}

	_, err := rw.Write([]byte("ok"))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, rw.statusCode)

	// httptest.ResponseRecorder cannot be hijacked.
	_, _, err = rw.Hijack()
	assert.Error(t, err)
}
