package obs

import (
	"bytes"
	"context"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewBundleServesMetrics(t *testing.T) {
	var logOut bytes.Buffer
	b, err := New(&logOut, "taskorch-test")
	require.NoError(t, err)
	defer b.Shutdown(context.Background())

	req := httptest.NewRequest("GET", "/metrics", nil)
	rec := httptest.NewRecorder()
	b.MetricsHandler().ServeHTTP(rec, req)

	assert.Equal(t, 200, rec.Code)
	assert.NotZero(t, rec.Body.Len(), "expected a non-empty metrics exposition body")
}

func TestShutdownIsSafeOnIdleBundle(t *testing.T) {
	var logOut bytes.Buffer
	b, err := New(&logOut, "taskorch-test")
	require.NoError(t, err)
	assert.NoError(t, b.Shutdown(context.Background()))
}
