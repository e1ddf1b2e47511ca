package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"

	"storefront/internal/events"
	"storefront/internal/log"
)

var ErrClosed = errors.New("kafka: producer closed")

// messageWriter is the subset of *kafka.Writer the producer drives.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Producer buffers messages in an inbox drained by a single goroutine.
type Producer struct {
	w        messageWriter
	inbox    chan kafka.Message
	stop     chan struct{}
	closeCh  chan struct{}
	stopOnce sync.Once
	timeout  time.Duration
}

func NewProducer(brokers []string, topic string, buf int) *Producer {
	return newProducer(&kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
	}, buf)
}

func newProducer(w messageWriter, buf int) *Producer {
	if buf <= 0 {
		buf = 256
	}
	return &Producer{
		w:       w,
		inbox:   make(chan kafka.Message, buf),
		stop:    make(chan struct{}),
		closeCh: make(chan struct{}),
		timeout: 5 * time.Second,
	}
}

// Start runs the drain loop until ctx is done or Close is called; pending messages are flushed first.
func (p *Producer) Start(ctx context.Context) {
	go func() {
		defer close(p.closeCh)
		for {
			select {
			case <-ctx.Done():
				p.flush()
				return
			case <-p.stop:
				p.flush()
				return
			case m := <-p.inbox:
				p.write(m)
			}
		}
	}()
}

func (p *Producer) flush() {
	for {
		select {
		case m := <-p.inbox:
			p.write(m)
		default:
			if err := p.w.Close(); err != nil {
				log.Op(context.Background(), "error", "kafka.close", err, nil)
			}
			return
		}
	}
}

func (p *Producer) write(m kafka.Message) {
	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()
	if err := p.w.WriteMessages(ctx, m); err != nil {
		log.Op(ctx, "error", "kafka.write", err, map[string]any{"key": string(m.Key)})
	}
}

// Publish enqueues a message. It blocks only while the inbox is full, bounded by ctx.
func (p *Producer) Publish(ctx context.Context, key, value []byte, headers ...kafka.Header) error {
	m := kafka.Message{Key: key, Value: value, Time: time.Now(), Headers: headers}
	select {
	case <-p.stop:
		return ErrClosed
	default:
	}
	select {
	case p.inbox <- m:
		return nil
	case <-p.stop:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops the drain loop after flushing what is buffered.
func (p *Producer) Close() { p.stopOnce.Do(func() { close(p.stop) }) }

func (p *Producer) WaitClosed() { <-p.closeCh }

// EventPublisher sends order events keyed by order id so one order's events stay ordered.
type EventPublisher struct{ P *Producer }

func (e EventPublisher) Publish(ctx context.Context, env events.Envelope) error {
	b, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return e.P.Publish(ctx, []byte(env.CorrelationID), b,
		kafka.Header{Key: "event_type", Value: []byte(env.EventType)})
}
