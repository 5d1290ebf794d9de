package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestInitTracerProviderNoExporter(t *testing.T) {
	tp, err := InitTracerProvider(context.Background(), Config{ServiceName: "pressroom-test"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	_, span := Tracer("test").Start(context.Background(), "op")
	require.True(t, span.SpanContext().IsValid())
	span.End()
}

func TestInitTracerProviderUnknownExporter(t *testing.T) {
	_, err := InitTracerProvider(context.Background(), Config{ServiceName: "x", Exporter: "carrier-pigeon"})
	require.ErrorContains(t, err, "unknown trace exporter")
}
