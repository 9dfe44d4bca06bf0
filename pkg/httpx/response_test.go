package httpx

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRespondErrorString(t *testing.T) {
	rec := httptest.NewRecorder()
	RespondErrorString(rec, http.StatusBadRequest, "bad limit")

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"error":"Bad Request","message":"bad limit"}`, rec.Body.String())
}

func TestDecodeJSON(t *testing.T) {
	var v struct {
		Name string `json:"name"`
	}

	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"name":"x"}`))
	require.NoError(t, DecodeJSON(httptest.NewRecorder(), req, 1024, &v))
	assert.Equal(t, "x", v.Name)

	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"nope":1}`))
	assert.Error(t, DecodeJSON(httptest.NewRecorder(), req, 1024, &v))

	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"name":"`+strings.Repeat("a", 64)+`"}`))
	err := DecodeJSON(httptest.NewRecorder(), req, 16, &v)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exceeds 16 bytes")
}

func TestQueryParams(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/?limit=50&start=2024-03-01T12:00:00Z&bad=x", nil)
	def := time.Unix(0, 0)

	n, err := QueryInt(req, "limit", 100, 1, 500)
	require.NoError(t, err)
	assert.Equal(t, 50, n)

	n, err = QueryInt(req, "offset", 0, 0, 10)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	_, err = QueryInt(req, "bad", 0, 0, 10)
	assert.Error(t, err)

	start, err := QueryTime(req, "start", def)
	require.NoError(t, err)
	assert.True(t, start.Equal(time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)))

	end, err := QueryTime(req, "end", def)
	require.NoError(t, err)
	assert.Equal(t, def, end)

	_, err = QueryTime(req, "bad", def)
	assert.Error(t, err)
}
