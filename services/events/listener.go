package events

import (
	"context"
	"encoding/json"
	"reflect"

	"github.com/opentracing/opentracing-go"
	"github.com/pkg/errors"

	"github.com/customeros/sendstack/dto"
	er "github.com/customeros/sendstack/internal/errors"
	"github.com/customeros/sendstack/internal/logger"
	"github.com/customeros/sendstack/internal/tracing"
	"github.com/customeros/sendstack/internal/utils"
)

// BaseEventListener carries the routing identity shared by all listeners.
type BaseEventListener struct {
	log       logger.Logger
	eventType string
	queueName string
}

func NewBaseEventListener(log logger.Logger, eventType, queueName string) BaseEventListener {
	return BaseEventListener{log: log, eventType: eventType, queueName: queueName}
}

func (b BaseEventListener) GetEventType() string {
	return b.eventType
}

func (b BaseEventListener) GetQueueName() string {
	return b.queueName
}

// ValidateBaseEvent rejects events that lack the envelope fields every
// handler relies on.
func (b BaseEventListener) ValidateBaseEvent(ctx context.Context, input any) (*dto.Event, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "Events.ValidateBaseEvent")
	defer span.Finish()
	tracing.SetDefaultListenerSpanTags(ctx, span)

	if utils.GetTenantFromContext(ctx) == "" {
		tracing.TraceErr(span, er.ErrTenantMissing)
		return nil, er.ErrTenantMissing
	}

	event, ok := input.(dto.Event)
	if !ok {
		err := errors.New("input is not an event")
		tracing.TraceErr(span, err)
		return nil, err
	}

	switch {
	case event.Event.Data == nil:
		return nil, traced(span, "event data is nil")
	case event.Event.EntityId == "":
		return nil, traced(span, "entity id is empty")
	case event.Event.Tenant == "":
		return nil, traced(span, "tenant is empty")
	case event.Event.EventType == "":
		return nil, traced(span, "event type is empty")
	}

	return &event, nil
}

func traced(span opentracing.Span, message string) error {
	err := errors.New(message)
	tracing.TraceErr(span, err)
	return err
}

// DecodeEventData remarshals the envelope's untyped payload into the
// listener's concrete DTO.
func DecodeEventData[T any](ctx context.Context, event *dto.Event) (T, error) {
	span, _ := opentracing.StartSpanFromContext(ctx, "Listener.DecodeEventData")
	defer span.Finish()

	var decoded T
	raw, err := json.Marshal(event.Event.Data)
	if err != nil {
		tracing.TraceErr(span, err)
		return decoded, errors.Wrap(err, "marshalling event data")
	}
	if err := json.Unmarshal(raw, &decoded); err != nil {
		tracing.TraceErr(span, err)
		return decoded, errors.Wrap(err, "decoding event data")
	}
	return decoded, nil
}

// GetEventType derives the routing key from the DTO type name, matching
// what the publisher stamps on the envelope.
func GetEventType[T any]() string {
	var t T
	eventType := reflect.TypeOf(t)
	if eventType.Kind() == reflect.Ptr {
		eventType = eventType.Elem()
	}
	return eventType.Name()
}
