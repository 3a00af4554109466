package dto

import "github.com/customeros/sendstack/internal/enum"

// Event is the envelope every message on the bus travels in. EventType
// carries the payload DTO's type name and drives listener routing.
type Event struct {
	Event    EventDetails  `json:"event"`
	Metadata EventMetadata `json:"metadata"`
}

type EventDetails struct {
	Id         string          `json:"id"`
	Tenant     string          `json:"tenant"`
	EntityId   string          `json:"entityId"`
	EntityType enum.EntityType `json:"entityType"`
	EventType  string          `json:"eventType"`
	Data       interface{}     `json:"data"`
}

// EventMetadata carries the trace context so consumers continue the
// publisher's span.
type EventMetadata struct {
	UberTraceId string `json:"uber-trace-id"`
	AppSource   string `json:"appSource"`
	Timestamp   string `json:"timestamp"`
}
