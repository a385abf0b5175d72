package telemetry

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestSetup_ExposesMetrics(t *testing.T) {
	ctx := context.Background()
	tel, err := Setup(ctx, Config{Environment: "test"}, newLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = tel.Shutdown(ctx) })

	counter, err := otel.Meter("telemetry-test").Int64Counter("test.requests")
	require.NoError(t, err)
	counter.Add(ctx, 3)

	rec := httptest.NewRecorder()
	tel.MetricsHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "test_requests_total")
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}

func TestSetup_StdoutTracer(t *testing.T) {
	ctx := context.Background()
	tel, err := Setup(ctx, Config{TraceExporter: "stdout"}, newLogger())
	require.NoError(t, err)
	assert.Len(t, tel.shutdowns, 2)
	assert.NoError(t, tel.Shutdown(ctx))
	assert.Empty(t, tel.shutdowns)
}

func TestSetup_UnknownExporter(t *testing.T) {
	_, err := Setup(context.Background(), Config{TraceExporter: "zipkin"}, newLogger())
	assert.ErrorIs(t, err, ErrUnknownExporter)
}

func TestShutdown_Nil(t *testing.T) {
	var tel *Telemetry
	assert.NoError(t, tel.Shutdown(context.Background()))
}
