package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var (
	packageName = "voice-sfu"
	tracer      = otel.Tracer(packageName)
)

// Attribute keys shared by every room span.
const (
	RoomIDKey     = attribute.Key("room_id")
	UserIDKey     = attribute.Key("user_id")
	PeerIDKey     = attribute.Key("peer_id")
	KindKey       = attribute.Key("kind")
	ProducerIDKey = attribute.Key("producer_id")
	ConsumerIDKey = attribute.Key("consumer_id")
)

func RoomID(id string) attribute.KeyValue     { return RoomIDKey.String(id) }
func UserID(id string) attribute.KeyValue     { return UserIDKey.String(id) }
func PeerID(id string) attribute.KeyValue     { return PeerIDKey.String(id) }
func Kind(kind string) attribute.KeyValue     { return KindKey.String(kind) }
func ProducerID(id string) attribute.KeyValue { return ProducerIDKey.String(id) }
func ConsumerID(id string) attribute.KeyValue { return ConsumerIDKey.String(id) }

// A span of a room or of an operation on it. Rooms own the root span, operations are its children.
type Telemetry struct {
	span    trace.Span
	context context.Context //nolint:containedctx
}

func NewTelemetry(ctx context.Context, name string, attributes ...attribute.KeyValue) *Telemetry {
	ctx, span := tracer.Start(ctx, name, trace.WithAttributes(attributes...))

	return &Telemetry{
		span:    span,
		context: ctx,
	}
}

// Operation span below this one.
func (t *Telemetry) CreateChild(name string, attributes ...attribute.KeyValue) *Telemetry {
	return NewTelemetry(t.context, name, attributes...)
}

// Bind returns ctx carrying this span, so that calls made with it are traced as part of the
// operation while keeping the deadline and cancellation of ctx.
func (t *Telemetry) Bind(ctx context.Context) context.Context {
	return trace.ContextWithSpan(ctx, t.span)
}

func (t *Telemetry) AddEvent(text string, attributes ...attribute.KeyValue) {
	t.span.AddEvent(text, trace.WithAttributes(attributes...))
}

func (t *Telemetry) AddError(err error) {
	t.span.RecordError(err)
}

// Records the error and marks the whole span as failed.
func (t *Telemetry) Fail(err error) {
	t.span.SetStatus(codes.Error, err.Error())
	t.AddError(err)
}

func (t *Telemetry) End() {
	t.span.End()
}
