package traces

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/zap"
)

func TestInitWithoutEndpointIsNoop(t *testing.T) {
	shutdown, err := Init(context.Background(), "", zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, shutdown(context.Background()))
}

func TestStartAndEndSpanRecordAttributesAndErrors(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	previous := otel.GetTracerProvider()
	otel.SetTracerProvider(provider)
	t.Cleanup(func() { otel.SetTracerProvider(previous) })

	_, span := StartSpan(context.Background(), "ledger.settle", Reference("paystack_1_abc"), Coins(1000))
	EndSpan(span, errors.New("amount mismatch"))

	ended := recorder.Ended()
	require.Len(t, ended, 1)
	require.Equal(t, "ledger.settle", ended[0].Name())
	require.Equal(t, codes.Error, ended[0].Status().Code)
	require.Len(t, ended[0].Attributes(), 2)
	require.Len(t, ended[0].Events(), 1)
}
