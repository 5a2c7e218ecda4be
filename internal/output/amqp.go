package output

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

const DefaultAMQPExchange = "crelay.events"

type amqpChannel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// AMQPEmitter publishes events to a durable topic exchange. The routing key
// is "<level>.<event>" so consumers can bind on failures only.
type AMQPEmitter struct {
	conn     *amqp.Connection
	channel  amqpChannel
	exchange string
	timeout  time.Duration
	mu       sync.Mutex
}

func DialAMQPEmitter(url string, exchange string) (*AMQPEmitter, error) {
	if strings.TrimSpace(exchange) == "" {
		exchange = DefaultAMQPExchange
	}
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial amqp: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open amqp channel: %w", err)
	}
	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("declare exchange %s: %w", exchange, err)
	}
	return &AMQPEmitter{conn: conn, channel: ch, exchange: exchange, timeout: 5 * time.Second}, nil
}

func newAMQPEmitterWithChannel(ch amqpChannel, exchange string) *AMQPEmitter {
	return &AMQPEmitter{channel: ch, exchange: exchange, timeout: 5 * time.Second}
}

func (e *AMQPEmitter) Emit(event Event) error {
	body, err := json.Marshal(event)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), e.timeout)
	defer cancel()

	e.mu.Lock()
	defer e.mu.Unlock()
	return e.channel.PublishWithContext(ctx, e.exchange, RoutingKey(event), false, false, amqp.Publishing{
		ContentType:  "application/json",
		Body:         body,
		DeliveryMode: amqp.Persistent,
		Timestamp:    event.Timestamp,
	})
}

func (e *AMQPEmitter) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.channel != nil {
		_ = e.channel.Close()
	}
	if e.conn != nil {
		return e.conn.Close()
	}
	return nil
}

func RoutingKey(event Event) string {
	level := event.Level
	if level == "" {
		level = LevelInfo
	}
	return fmt.Sprintf("%s.%s", level, event.Event)
}
