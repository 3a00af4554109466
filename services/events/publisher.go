package events

import (
	"context"
	"encoding/json"
	"reflect"
	"sync"
	"time"

	"github.com/opentracing/opentracing-go"
	"github.com/pkg/errors"
	"github.com/rabbitmq/amqp091-go"

	"github.com/customeros/sendstack/dto"
	"github.com/customeros/sendstack/internal/enum"
	"github.com/customeros/sendstack/internal/logger"
	"github.com/customeros/sendstack/internal/tracing"
	"github.com/customeros/sendstack/internal/utils"
)

const (
	ExchangeSendstackDirect = "sendstack-direct"
	ExchangeDeadLetter      = "dead-letter"

	QueueDeliveryLifecycle = "delivery-lifecycle"
	DLQDeliveryLifecycle   = QueueDeliveryLifecycle + "-dlq"

	RoutingKeyDeadLetter        = "dead-letter"
	RoutingKeyDeliveryLifecycle = "sendstack-delivery-lifecycle"

	// Messages that sit in a queue longer than the TTL move to the DLQ.
	DefaultMessageTTL          = 240 * time.Hour
	DefaultMaxRetries          = 3
	DefaultPublishTimeout      = 5 * time.Second
	DefaultReconnectBackoff    = time.Second
	DefaultMaxReconnectBackoff = 30 * time.Second
)

// queueSpec declares one durable queue, its DLQ and its binding on the
// direct exchange. Topology is declared idempotently on every connect.
type queueSpec struct {
	name       string
	dlq        string
	routingKey string
}

var topology = []queueSpec{
	{name: QueueDeliveryLifecycle, dlq: DLQDeliveryLifecycle, routingKey: RoutingKeyDeliveryLifecycle},
}

type PublisherConfig struct {
	MessageTTL          time.Duration
	MaxRetries          int
	PublishTimeout      time.Duration
	ReconnectBackoff    time.Duration
	MaxReconnectBackoff time.Duration
}

func defaultPublisherConfig() PublisherConfig {
	return PublisherConfig{
		MessageTTL:          DefaultMessageTTL,
		MaxRetries:          DefaultMaxRetries,
		PublishTimeout:      DefaultPublishTimeout,
		ReconnectBackoff:    DefaultReconnectBackoff,
		MaxReconnectBackoff: DefaultMaxReconnectBackoff,
	}
}

// RabbitMQPublisher publishes lifecycle events with publisher confirms and
// reconnects on connection loss.
type RabbitMQPublisher struct {
	url    string
	log    logger.Logger
	config PublisherConfig

	connMu   sync.Mutex
	conn     *amqp091.Connection
	chanMu   sync.Mutex
	channel  *amqp091.Channel
	confirms chan amqp091.Confirmation
}

func NewRabbitMQPublisher(rabbitmqURL string, log logger.Logger, config *PublisherConfig) (*RabbitMQPublisher, error) {
	p := &RabbitMQPublisher{
		url:    rabbitmqURL,
		log:    log,
		config: defaultPublisherConfig(),
	}
	if config != nil {
		p.config = *config
	}

	if err := p.connect(); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *RabbitMQPublisher) PublishDeliveryLifecycleEvent(ctx context.Context, message dto.DeliveryLifecycle) error {
	return p.publishEvent(ctx, message.JobID, enum.DELIVERY_JOB, message, RoutingKeyDeliveryLifecycle)
}

func (p *RabbitMQPublisher) connect() error {
	p.connMu.Lock()
	defer p.connMu.Unlock()

	conn, err := amqp091.Dial(p.url)
	if err != nil {
		return errors.Wrap(err, "dialing rabbitmq")
	}
	p.conn = conn

	if err := p.declareTopology(); err != nil {
		return err
	}
	if err := p.openConfirmChannel(); err != nil {
		return err
	}

	go p.watchConnection()
	return nil
}

func (p *RabbitMQPublisher) declareTopology() error {
	ch, err := p.conn.Channel()
	if err != nil {
		return errors.Wrap(err, "opening topology channel")
	}
	defer ch.Close()

	for _, exchange := range []string{ExchangeDeadLetter, ExchangeSendstackDirect} {
		if err := ch.ExchangeDeclare(exchange, "direct", true, false, false, false, nil); err != nil {
			return errors.Wrapf(err, "declaring exchange %s", exchange)
		}
	}

	for _, q := range topology {
		if _, err := ch.QueueDeclare(q.dlq, true, false, false, false, nil); err != nil {
			return errors.Wrapf(err, "declaring dlq %s", q.dlq)
		}
		if err := ch.QueueBind(q.dlq, RoutingKeyDeadLetter, ExchangeDeadLetter, false, nil); err != nil {
			return errors.Wrapf(err, "binding dlq %s", q.dlq)
		}

		args := amqp091.Table{
			"x-dead-letter-exchange":    ExchangeDeadLetter,
			"x-dead-letter-routing-key": RoutingKeyDeadLetter,
			"x-message-ttl":             int64(p.config.MessageTTL.Milliseconds()),
		}
		if _, err := ch.QueueDeclare(q.name, true, false, false, false, args); err != nil {
			return errors.Wrapf(err, "declaring queue %s", q.name)
		}
		if err := ch.QueueBind(q.name, q.routingKey, ExchangeSendstackDirect, false, nil); err != nil {
			return errors.Wrapf(err, "binding queue %s", q.name)
		}
	}

	return nil
}

func (p *RabbitMQPublisher) openConfirmChannel() error {
	ch, err := p.conn.Channel()
	if err != nil {
		return errors.Wrap(err, "opening publish channel")
	}
	if err := ch.Confirm(false); err != nil {
		ch.Close()
		return errors.Wrap(err, "enabling publisher confirms")
	}

	p.confirms = ch.NotifyPublish(make(chan amqp091.Confirmation, 1))
	p.channel = ch
	return nil
}

// watchConnection blocks until the broker drops the connection, then
// reconnects with capped exponential backoff.
func (p *RabbitMQPublisher) watchConnection() {
	closed := p.conn.NotifyClose(make(chan *amqp091.Error))
	err := <-closed
	if err == nil {
		// Close() shut the connection down deliberately.
		return
	}
	p.log.Warnf("RabbitMQ connection lost: %v, reconnecting", err)

	backoff := p.config.ReconnectBackoff
	for {
		if err := p.connect(); err == nil {
			p.log.Info("Reconnected to RabbitMQ")
			return
		} else {
			p.log.Errorf("Reconnect failed: %v, next attempt in %v", err, backoff)
		}
		time.Sleep(backoff)
		backoff *= 2
		if backoff > p.config.MaxReconnectBackoff {
			backoff = p.config.MaxReconnectBackoff
		}
	}
}

func (p *RabbitMQPublisher) publishEvent(ctx context.Context, entityID string, entityType enum.EntityType, payload interface{}, routingKey string) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "RabbitMQPublisher.publishEvent")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)

	payloadType := reflect.TypeOf(payload)
	if payloadType.Kind() == reflect.Ptr {
		payloadType = payloadType.Elem()
	}

	carrier := tracing.ExtractTextMapCarrier(span.Context())
	envelope := dto.Event{
		Event: dto.EventDetails{
			Id:         utils.GenerateNanoIDWithPrefix("event", 21),
			EntityId:   entityID,
			EntityType: entityType,
			Tenant:     utils.GetTenantFromContext(ctx),
			EventType:  payloadType.Name(),
			Data:       payload,
		},
		Metadata: dto.EventMetadata{
			UberTraceId: carrier["uber-trace-id"],
			AppSource:   utils.GetAppSourceFromContext(ctx),
			Timestamp:   utils.Now().Format(time.RFC3339),
		},
	}
	tracing.LogObjectAsJson(span, "event", envelope)

	var lastErr error
	for attempt := 1; attempt <= p.config.MaxRetries; attempt++ {
		lastErr = p.publishConfirmed(ctx, envelope, routingKey)
		if lastErr == nil {
			return nil
		}
		p.log.Warnf("Publish attempt %d failed: %v", attempt, lastErr)
		time.Sleep(100 * time.Millisecond * time.Duration(attempt))
	}
	tracing.TraceErr(span, lastErr)
	return errors.Wrap(lastErr, "publishing event")
}

func (p *RabbitMQPublisher) publishConfirmed(ctx context.Context, envelope dto.Event, routingKey string) error {
	p.chanMu.Lock()
	defer p.chanMu.Unlock()

	if ctx.Err() != nil {
		return ctx.Err()
	}

	if p.conn == nil || p.conn.IsClosed() {
		if err := p.connect(); err != nil {
			return err
		}
	}
	if p.channel == nil || p.channel.IsClosed() {
		if err := p.openConfirmChannel(); err != nil {
			return err
		}
	}

	body, err := json.Marshal(envelope)
	if err != nil {
		return errors.Wrap(err, "marshalling event")
	}

	err = p.channel.Publish(ExchangeSendstackDirect, routingKey, true, false, amqp091.Publishing{
		DeliveryMode: amqp091.Persistent,
		ContentType:  "application/json",
		Body:         body,
		Timestamp:    time.Now(),
	})
	if err != nil {
		return errors.Wrap(err, "publishing message")
	}

	select {
	case confirm := <-p.confirms:
		if !confirm.Ack {
			return errors.New("broker nacked the message")
		}
	case <-time.After(p.config.PublishTimeout):
		return errors.New("publish confirmation timed out")
	case <-ctx.Done():
		return ctx.Err()
	}
	return nil
}

func (p *RabbitMQPublisher) Close() error {
	p.connMu.Lock()
	defer p.connMu.Unlock()

	var err error
	if p.channel != nil {
		if chErr := p.channel.Close(); chErr != nil {
			p.log.Errorf("Error closing publish channel: %v", chErr)
			err = chErr
		}
	}
	if p.conn != nil {
		if connErr := p.conn.Close(); connErr != nil {
			p.log.Errorf("Error closing connection: %v", connErr)
			if err == nil {
				err = connErr
			}
		}
	}
	return err
}
