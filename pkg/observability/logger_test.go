package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/platinummonkey/gatekeeper/pkg/contextkeys"
)

func TestNewLogger(t *testing.T) {
	t.Run("json", func(t *testing.T) {
		var buf bytes.Buffer
		logger := NewLogger(logrus.WarnLevel, "json", &buf)

		logger.Info("dropped")
		logger.WithField("tenant_id", "salon").Warn("kept")

		var line map[string]interface{}
		require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
		assert.Equal(t, "kept", line["msg"])
		assert.Equal(t, "salon", line["tenant_id"])
	})

	t.Run("text", func(t *testing.T) {
		var buf bytes.Buffer
		logger := NewLogger(logrus.InfoLevel, "text", &buf)

		logger.Info("hello")
		assert.Contains(t, buf.String(), `msg=hello`)
	})

	t.Run("nil output", func(t *testing.T) {
		logger := NewLogger(logrus.InfoLevel, "json", nil)
		assert.NotNil(t, logger.Out)
	})
}

func TestFromContext(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(logrus.InfoLevel, "json", &buf)

	ctx := contextkeys.WithRequestID(context.Background(), "req-1")
	ctx = contextkeys.WithUserID(ctx, "user-1")
	FromContext(ctx, logger).Info("authorized")

	var line map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "req-1", line["request_id"])
	assert.Equal(t, "user-1", line["user_id"])
	assert.NotContains(t, line, "trace_id")
}

func TestWithTraceContext(t *testing.T) {
	tp := sdktrace.NewTracerProvider()
	defer tp.Shutdown(context.Background())

	ctx, span := tp.Tracer("test").Start(context.Background(), "op")
	defer span.End()

	entry := WithTraceContext(ctx, logrus.NewEntry(logrus.New()))
	assert.Equal(t, span.SpanContext().TraceID().String(), entry.Data["trace_id"])
	assert.Equal(t, span.SpanContext().SpanID().String(), entry.Data["span_id"])

	entry = WithTraceContext(context.Background(), logrus.NewEntry(logrus.New()))
	assert.NotContains(t, entry.Data, "trace_id")
}
