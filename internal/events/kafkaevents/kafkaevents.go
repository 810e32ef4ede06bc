// Package kafkaevents publishes order lifecycle events to Kafka. Messages
// are keyed by order id so every event of one order lands on the same
// partition in commit order.
package kafkaevents

import (
	"context"
	"net"
	"strconv"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/segmentio/kafka-go"

	"github.com/xenking/storefront/internal/domain/order"
)

// DefaultTopic receives all order events.
const DefaultTopic = "storefront.orders"

// DefaultPublishTimeout bounds a single Publish call.
const DefaultPublishTimeout = 2 * time.Second

const eventTypeHeader = "event-type"

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

var _ order.Publisher = (*Publisher)(nil)

// Publisher implements order.Publisher on a kafka.Writer.
type Publisher struct {
	w       messageWriter
	timeout time.Duration
}

// New returns a Publisher writing to topic on brokers. Each Publish gives up
// after timeout, or DefaultPublishTimeout when timeout is not positive.
func New(brokers []string, topic string, timeout time.Duration) *Publisher {
	if topic == "" {
		topic = DefaultTopic
	}
	if timeout <= 0 {
		timeout = DefaultPublishTimeout
	}
	return &Publisher{
		w: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireOne,
			BatchTimeout: 10 * time.Millisecond,
			WriteTimeout: timeout,
		},
		timeout: timeout,
	}
}

// Publish writes e and waits for the broker ack. The write keeps ctx values
// but not its cancellation and gives up after the publish timeout.
func (p *Publisher) Publish(ctx context.Context, e order.Event) error {
	timeout := p.timeout
	if timeout <= 0 {
		timeout = DefaultPublishTimeout
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()

	msg := kafka.Message{
		Key:     []byte(e.OrderID),
		Value:   Encode(e),
		Time:    e.At,
		Headers: []kafka.Header{{Key: eventTypeHeader, Value: []byte(e.Type)}},
	}
	if err := p.w.WriteMessages(ctx, msg); err != nil {
		return errors.Wrapf(err, "write %s event", e.Type)
	}
	return nil
}

func (p *Publisher) Close() error {
	return p.w.Close()
}

// Encode renders e as a JSON object. Empty optional fields are omitted.
func Encode(e order.Event) []byte {
	var enc jx.Encoder
	enc.Obj(func(enc *jx.Encoder) {
		enc.Field("type", func(enc *jx.Encoder) { enc.Str(string(e.Type)) })
		enc.Field("orderId", func(enc *jx.Encoder) { enc.Str(e.OrderID) })
		enc.Field("orderNumber", func(enc *jx.Encoder) { enc.Str(e.Number) })
		optStr(enc, "userId", e.UserID)
		enc.Field("status", func(enc *jx.Encoder) { enc.Str(string(e.Status)) })
		optStr(enc, "previousStatus", string(e.PreviousStatus))
		optStr(enc, "actorId", e.ActorID)
		optStr(enc, "total", e.Total)
		enc.Field("at", func(enc *jx.Encoder) { enc.Str(e.At.UTC().Format(time.RFC3339Nano)) })
	})
	return enc.Bytes()
}

func optStr(enc *jx.Encoder, name, v string) {
	if v == "" {
		return
	}
	enc.Field(name, func(enc *jx.Encoder) { enc.Str(v) })
}

// EnsureTopic creates topic through the cluster controller when it does not
// exist yet.
func EnsureTopic(ctx context.Context, broker, topic string, partitions int) error {
	var d kafka.Dialer
	conn, err := d.DialContext(ctx, "tcp", broker)
	if err != nil {
		return errors.Wrap(err, "dial broker")
	}
	defer func() { _ = conn.Close() }()

	controller, err := conn.Controller()
	if err != nil {
		return errors.Wrap(err, "find controller")
	}
	ctrl, err := d.DialContext(ctx, "tcp", net.JoinHostPort(controller.Host, strconv.Itoa(controller.Port)))
	if err != nil {
		return errors.Wrap(err, "dial controller")
	}
	defer func() { _ = ctrl.Close() }()

	err = ctrl.CreateTopics(kafka.TopicConfig{
		Topic:             topic,
		NumPartitions:     partitions,
		ReplicationFactor: 1,
	})
	if err != nil && !errors.Is(err, kafka.TopicAlreadyExists) {
		return errors.Wrapf(err, "create topic %q", topic)
	}
	return nil
}
