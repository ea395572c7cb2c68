package sinks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

type publisher interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

type dialFunc func() (publisher, func() error, error)

// AMQPSink publishes records as JSON to a topic exchange with routing key
// "ticket.<kind>.<action>".
type AMQPSink struct {
	exchange string
	dial     dialFunc
	logger   *zap.Logger

	mu      sync.Mutex
	pub     publisher
	closeFn func() error
}

func NewAMQPSink(url, exchange string, logger *zap.Logger) (*AMQPSink, error) {
	if exchange == "" {
		exchange = "tickets"
	}
	dial := func() (publisher, func() error, error) {
		conn, err := amqp.Dial(url)
		if err != nil {
			return nil, nil, fmt.Errorf("amqp dial: %w", err)
		}
		ch, err := conn.Channel()
		if err != nil {
			conn.Close()
			return nil, nil, fmt.Errorf("amqp channel: %w", err)
		}
		if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
			conn.Close()
			return nil, nil, fmt.Errorf("amqp exchange declare: %w", err)
		}
		return ch, conn.Close, nil
	}
	return newAMQPSink(exchange, dial, logger)
}

func newAMQPSink(exchange string, dial dialFunc, logger *zap.Logger) (*AMQPSink, error) {
	s := &AMQPSink{exchange: exchange, dial: dial, logger: logger.Named("amqp_sink")}
	pub, closeFn, err := dial()
	if err != nil {
		return nil, err
	}
	s.pub, s.closeFn = pub, closeFn
	s.logger.Info("amqp sink connected", zap.String("exchange", exchange))
	return s, nil
}

func (a *AMQPSink) Name() string { return "amqp" }

func RoutingKey(r Record) string {
	if r.Action == "" {
		return "ticket." + string(r.Kind)
	}
	return "ticket." + string(r.Kind) + "." + r.Action
}

func (a *AMQPSink) Deliver(ctx context.Context, r Record) error {
	body, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("encode record: %w", err)
	}
	msg := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    uuid.NewString(),
		Timestamp:    r.At,
		Type:         string(r.Kind),
		Body:         body,
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	err = a.pub.PublishWithContext(ctx, a.exchange, RoutingKey(r), false, false, msg)
	if !errors.Is(err, amqp.ErrClosed) {
		return err
	}

	// The broker dropped us; redial once and retry.
	a.logger.Warn("amqp connection closed, redialing")
	pub, closeFn, derr := a.dial()
	if derr != nil {
		return derr
	}
	if a.closeFn != nil {
		_ = a.closeFn()
	}
	a.pub, a.closeFn = pub, closeFn
	return a.pub.PublishWithContext(ctx, a.exchange, RoutingKey(r), false, false, msg)
}

func (a *AMQPSink) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closeFn == nil {
		return nil
	}
	err := a.closeFn()
	a.closeFn = nil
	return err
}
