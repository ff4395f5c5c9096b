package observability

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap/zaptest"
)

func TestObservability_NoJaeger(t *testing.T) {
	o := New("forum-comms-test", "", zaptest.NewLogger(t))
	defer o.Shutdown()

	ctx, span := o.StartSpan(context.Background(), "test.op", attribute.String("room_id", "r-1"))
	assert.True(t, span.SpanContext().IsValid())
	span.End()

	o.RecordEvent(ctx, "MESSAGE", "sent")
	o.RecordDuration(ctx, 15*time.Millisecond, "MESSAGE")
}

func TestObservability_ZeroValueIsSafe(t *testing.T) {
	var o Observability
	_, span := o.StartSpan(context.Background(), "noop")
	span.End()
	o.RecordEvent(context.Background(), "FOLLOW", "sent")
}
