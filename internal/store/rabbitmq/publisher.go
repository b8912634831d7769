package rabbitmq

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/suPer8Hu/chat-gateway/internal/usage"
)

// amqpChannel is the part of *amqp.Channel the publisher uses.
type amqpChannel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	IsClosed() bool
	Close() error
}

type dialFunc func() (amqpChannel, io.Closer, error)

// Publisher sends usage events to a durable queue. A closed channel, e.g.
// after a broker restart, is redialed on the next publish.
type Publisher struct {
	mu    sync.Mutex
	dial  dialFunc
	conn  io.Closer
	ch    amqpChannel
	queue string
}

// DeclareTopology declares queue and its dead-letter queue. Publisher and
// worker both call it so either may start first.
func DeclareTopology(ch *amqp.Channel, queue string) error {
	dlqQ := queue + ".dlq"

	// DLQ
	if _, err := ch.QueueDeclare(
		dlqQ,
		true,  // durable
		false, // auto-delete
		false, // exclusive
		false,
		nil,
	); err != nil {
		return err
	}

	// Main queue: dead-letter to DLQ on reject/nack(requeue=false)
	_, err := ch.QueueDeclare(
		queue,
		true,
		false,
		false,
		false,
		amqp.Table{
			"x-dead-letter-exchange":    "",
			"x-dead-letter-routing-key": dlqQ,
		},
	)
	return err
}

func NewPublisher(url, queue string) (*Publisher, error) {
	p := newPublisher(queue, func() (amqpChannel, io.Closer, error) {
		return dialChannel(url, queue)
	})
	// fail fast on a broker that is unreachable at startup
	if _, err := p.current(); err != nil {
		return nil, err
	}
	return p, nil
}

func newPublisher(queue string, dial dialFunc) *Publisher {
	return &Publisher{queue: queue, dial: dial}
}

func dialChannel(url, queue string) (amqpChannel, io.Closer, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, nil, err
	}
	if err := DeclareTopology(ch, queue); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, nil, err
	}
	return ch, conn, nil
}

// current returns an open channel, redialing when the last one was closed.
func (p *Publisher) current() (amqpChannel, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ch != nil && !p.ch.IsClosed() {
		return p.ch, nil
	}
	_ = p.closeLocked()

	ch, conn, err := p.dial()
	if err != nil {
		return nil, fmt.Errorf("rabbitmq dial: %w", err)
	}
	p.ch, p.conn = ch, conn
	return ch, nil
}

func (p *Publisher) closeLocked() error {
	var err error
	if p.ch != nil {
		_ = p.ch.Close()
		p.ch = nil
	}
	if p.conn != nil {
		err = p.conn.Close()
		p.conn = nil
	}
	return err
}

func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closeLocked()
}

// RecordUsage publishes ev as a persistent JSON message.
func (p *Publisher) RecordUsage(ctx context.Context, ev usage.Event) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return err
	}

	cctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	msg := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    ev.ID,
		Body:         body,
		Timestamp:    time.Now(),
	}

	ch, err := p.current()
	if err != nil {
		return err
	}
	err = ch.PublishWithContext(cctx, "", p.queue, false, false, msg)
	if err != nil && ch.IsClosed() {
		// the connection dropped under us; one retry on a fresh channel.
		// Redelivery is harmless, inserts are idempotent on the event id.
		if ch, err = p.current(); err != nil {
			return err
		}
		err = ch.PublishWithContext(cctx, "", p.queue, false, false, msg)
	}
	return err
}

// DecodeUsage parses a delivery body produced by RecordUsage.
func DecodeUsage(body []byte) (usage.Event, error) {
	var ev usage.Event
	if err := json.Unmarshal(body, &ev); err != nil {
		return usage.Event{}, err
	}
	return ev, nil
}
