package tool

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPToolName(t *testing.T) {
	assert.Equal(t, "http_request", NewHTTPTool().Name())
}

func TestHTTPToolGETReturnsStatusAndBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "GET", r.Method)
		_ = json.NewEncoder(w).Encode(map[string]string{"message": "success"})
	}))
	defer server.Close()

	out, err := NewHTTPTool().Call(context.Background(), map[string]interface{}{
		"method": "GET", "url": server.URL,
	})
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, out["status_code"])

	var body map[string]string
	require.NoError(t, json.Unmarshal([]byte(out["body"].(string)), &body))
	assert.Equal(t, "success", body["message"])
}

func TestHTTPToolPOSTSendsBodyAndHeaders(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "POST", r.Method)
		assert.Equal(t, "Bearer token123", r.Header.Get("Authorization"))
		var reqBody map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&reqBody))
		assert.Equal(t, "test", reqBody["name"])
		w.WriteHeader(http.StatusCreated)
	}))
	defer server.Close()

	bodyJSON, _ := json.Marshal(map[string]interface{}{"name": "test"})
	out, err := NewHTTPTool().Call(context.Background(), map[string]interface{}{
		"method":  "POST",
		"url":     server.URL,
		"body":    string(bodyJSON),
		"headers": map[string]interface{}{"Authorization": "Bearer token123"},
	})
	require.NoError(t, err)
	assert.Equal(t, http.StatusCreated, out["status_code"])
}

func TestHTTPToolDefaultsToGETWhenMethodOmitted(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "GET", r.Method)
	}))
	defer server.Close()

	_, err := NewHTTPTool().Call(context.Background(), map[string]interface{}{"url": server.URL})
	require.NoError(t, err)
}

func TestHTTPToolSurfacesServerErrorsAsAResultNotAnError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte("Internal Server Error"))
	}))
	defer server.Close()

	out, err := NewHTTPTool().Call(context.Background(), map[string]interface{}{"url": server.URL})
	require.NoError(t, err, "HTTP-level errors surface as a 500 result, not a Go error")
	assert.Equal(t, http.StatusInternalServerError, out["status_code"])
	assert.Equal(t, "Internal Server Error", out["body"])
}

func TestHTTPToolRespectsContextDeadline(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		time.Sleep(2 * time.Second)
	}))
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	_, err := NewHTTPTool().Call(ctx, map[string]interface{}{"url": server.URL})
	assert.Error(t, err)
}

func TestHTTPToolRejectsMissingURL(t *testing.T) {
	_, err := NewHTTPTool().Call(context.Background(), map[string]interface{}{"method": "GET"})
	assert.Error(t, err)
}

func TestHTTPToolRejectsUnsupportedMethod(t *testing.T) {
	_, err := NewHTTPTool().Call(context.Background(), map[string]interface{}{
		"method": "DELETE", "url": "http://example.com",
	})
	assert.Error(t, err)
}
