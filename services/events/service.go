package events

import (
	"github.com/customeros/sendstack/internal/logger"
)

// EventsService owns the publisher side of the lifecycle event stream.
type EventsService struct {
	Publisher *RabbitMQPublisher
}

func NewEventsService(rabbitmqURL string, log logger.Logger, publisherConfig *PublisherConfig) (*EventsService, error) {
	publisher, err := NewRabbitMQPublisher(rabbitmqURL, log, publisherConfig)
	if err != nil {
		return nil, err
	}
	return &EventsService{Publisher: publisher}, nil
}

func (s *EventsService) Close() error {
	if s.Publisher == nil {
		return nil
	}
	return s.Publisher.Close()
}
