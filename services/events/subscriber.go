package events

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rabbitmq/amqp091-go"

	"github.com/customeros/sendstack/dto"
	"github.com/customeros/sendstack/interfaces"
	"github.com/customeros/sendstack/internal/logger"
	"github.com/customeros/sendstack/internal/tracing"
	"github.com/customeros/sendstack/internal/utils"
)

const consumeRetryDelay = 5 * time.Second

type SubscriberConfig struct {
	AckRetries          int
	ReconnectBackoff    time.Duration
	MaxReconnectBackoff time.Duration
}

// RabbitMQSubscriber consumes event queues and routes each event to the
// listener registered for its event type. Failed handlers nack without
// requeue so the message lands in the DLQ.
type RabbitMQSubscriber struct {
	url    string
	log    logger.Logger
	config SubscriberConfig

	connMu sync.Mutex
	conn   *amqp091.Connection

	listenerMu sync.RWMutex
	listeners  map[string]interfaces.EventListener
}

func NewRabbitMQSubscriber(rabbitmqURL string, log logger.Logger, config *SubscriberConfig) (*RabbitMQSubscriber, error) {
	s := &RabbitMQSubscriber{
		url: rabbitmqURL,
		log: log,
		config: SubscriberConfig{
			AckRetries:          5,
			ReconnectBackoff:    time.Second,
			MaxReconnectBackoff: 30 * time.Second,
		},
		listeners: make(map[string]interfaces.EventListener),
	}
	if config != nil {
		s.config = *config
	}

	if err := s.connect(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *RabbitMQSubscriber) RegisterListener(listener interfaces.EventListener) {
	s.listenerMu.Lock()
	defer s.listenerMu.Unlock()

	s.listeners[listener.GetEventType()] = listener
	s.log.Infof("Registered listener for event type %s on queue %s", listener.GetEventType(), listener.GetQueueName())
}

// ListenQueue consumes the queue until the process stops, re-establishing
// the consumer whenever the channel or connection drops.
func (s *RabbitMQSubscriber) ListenQueue(queueName string) error {
	go func() {
		for {
			deliveries, channel, err := s.openConsumer(queueName)
			if err != nil {
				s.log.Errorf("Failed to consume queue %s: %v, retrying", queueName, err)
				time.Sleep(consumeRetryDelay)
				continue
			}

			s.log.Infof("Listening for messages on queue %s", queueName)
			for d := range deliveries {
				s.handleDelivery(d, queueName)
			}
			channel.Close()

			s.log.Warnf("Consumer for queue %s stopped, reconnecting", queueName)
			time.Sleep(consumeRetryDelay)
		}
	}()
	return nil
}

func (s *RabbitMQSubscriber) openConsumer(queueName string) (<-chan amqp091.Delivery, *amqp091.Channel, error) {
	channel, err := s.conn.Channel()
	if err != nil {
		return nil, nil, errors.Wrap(err, "opening channel")
	}

	deliveries, err := channel.Consume(queueName, "", false, false, false, false, nil)
	if err != nil {
		channel.Close()
		return nil, nil, errors.Wrap(err, "registering consumer")
	}
	return deliveries, channel, nil
}

func (s *RabbitMQSubscriber) handleDelivery(d amqp091.Delivery, queueName string) {
	defer tracing.RecoverAndLogToJaeger(s.log)

	if err := s.dispatch(d, queueName); err != nil {
		s.log.Errorf("Failed to process message on queue %s: %v", queueName, err)
		s.settle(d, false)
		return
	}
	s.settle(d, true)
}

func (s *RabbitMQSubscriber) dispatch(d amqp091.Delivery, queueName string) error {
	var event dto.Event
	if err := json.Unmarshal(d.Body, &event); err != nil {
		return errors.Wrap(err, "unmarshalling event")
	}

	ctx := utils.WithCustomContext(context.Background(), &utils.CustomContext{
		Tenant:    event.Event.Tenant,
		AppSource: event.Metadata.AppSource,
	})
	ctx, span := tracing.StartRabbitMQMessageTracerSpanWithHeader(ctx, "RabbitMQSubscriber.dispatch", event.Metadata.UberTraceId)
	defer span.Finish()
	span.LogKV("event_type", event.Event.EventType)
	span.LogKV("queue_name", queueName)

	s.listenerMu.RLock()
	listener, ok := s.listeners[event.Event.EventType]
	s.listenerMu.RUnlock()

	if !ok {
		// No listener means this consumer does not care; ack and move on.
		s.log.Infof("No listener for event type %s on queue %s", event.Event.EventType, queueName)
		return nil
	}
	if listener.GetQueueName() != queueName {
		s.log.Warnf("Event type %s arrived on queue %s, listener expects %s", event.Event.EventType, queueName, listener.GetQueueName())
		return nil
	}

	return listener.Handle(ctx, event)
}

// settle acks or nacks with a few retries; a nack is never requeued so the
// broker dead-letters the message.
func (s *RabbitMQSubscriber) settle(d amqp091.Delivery, ack bool) {
	for i := 0; i < s.config.AckRetries; i++ {
		var err error
		if ack {
			err = d.Ack(false)
		} else {
			err = d.Nack(false, false)
		}
		if err == nil {
			return
		}
		time.Sleep(100 * time.Millisecond)
	}
	s.log.Errorf("Failed to settle message after %d attempts (ack=%v)", s.config.AckRetries, ack)
}

func (s *RabbitMQSubscriber) connect() error {
	s.connMu.Lock()
	defer s.connMu.Unlock()

	conn, err := amqp091.Dial(s.url)
	if err != nil {
		return errors.Wrap(err, "dialing rabbitmq")
	}
	s.conn = conn

	go func() {
		closed := conn.NotifyClose(make(chan *amqp091.Error))
		if err := <-closed; err != nil {
			s.log.Warnf("RabbitMQ connection lost: %v, reconnecting", err)
			backoff := s.config.ReconnectBackoff
			for s.connect() != nil {
				time.Sleep(backoff)
				backoff *= 2
				if backoff > s.config.MaxReconnectBackoff {
					backoff = s.config.MaxReconnectBackoff
				}
			}
		}
	}()
	return nil
}

func (s *RabbitMQSubscriber) Close() error {
	s.connMu.Lock()
	defer s.connMu.Unlock()

	if s.conn != nil && !s.conn.IsClosed() {
		return s.conn.Close()
	}
	return nil
}
