// Package transport bridges the aggregator to the external probers over
// RabbitMQ (spec §4.L): one consumer per inbound message kind with a
// bounded prefetch, a dedicated ack channel so acks only flow after the
// handler's durable commit, and an outbound publisher on the
// "probe-request" exchange keyed by request kind.
package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/hexmap/aggregator/internal/interpret"
	"github.com/hexmap/aggregator/internal/queuemsg"
)

const (
	probeRequestExchange = "probe-request"
	echoResponseQueue    = "echo-response"
	traceResponseQueue   = "trace-response"
)

// TaskRequest wraps one inbound message with the bookkeeping the handler
// needs to ack it once its transaction commits.
type TaskRequest[T any] struct {
	Model       T
	ReceivedAt  time.Time
	DeliveryTag uint64
}

// ackRequest is posted on the dedicated ack channel; a single goroutine
// drains it so acks/nacks never race with delivery dispatch.
type ackRequest struct {
	tag     uint64
	ack     bool
	requeue bool
}

// Bridge owns the AMQP connection and both the inbound consume channels
// and the outbound publish channel.
type Bridge struct {
	conn *amqp.Connection

	consumeCh *amqp.Channel
	publishCh *amqp.Channel

	log *zap.Logger

	acks    chan ackRequest
	pending sync.Map // delivery tag -> amqp.Delivery

	wg sync.WaitGroup
}

// Dial connects to uri, opens the consume and publish channels, sets the
// given prefetch (spec §5 "prefetch on the broker is 16"), and declares
// the probe-request exchange plus both response queues.
func Dial(uri string, prefetch int, log *zap.Logger) (*Bridge, error) {
	conn, err := amqp.Dial(uri)
	if err != nil {
		return nil, fmt.Errorf("transport: dial: %w", err)
	}

	consumeCh, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("transport: open consume channel: %w", err)
	}
	if err := consumeCh.Qos(prefetch, 0, false); err != nil {
		conn.Close()
		return nil, fmt.Errorf("transport: set qos: %w", err)
	}

	publishCh, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("transport: open publish channel: %w", err)
	}

	if err := publishCh.ExchangeDeclare(probeRequestExchange, amqp.ExchangeDirect, true, false, false, false, nil); err != nil {
		conn.Close()
		return nil, fmt.Errorf("transport: declare exchange: %w", err)
	}
	for _, q := range []string{echoResponseQueue, traceResponseQueue} {
		if _, err := consumeCh.QueueDeclare(q, true, false, false, false, nil); err != nil {
			conn.Close()
			return nil, fmt.Errorf("transport: declare queue %s: %w", q, err)
		}
	}

	b := &Bridge{
		conn:      conn,
		consumeCh: consumeCh,
		publishCh: publishCh,
		log:       log,
		acks:      make(chan ackRequest, prefetch*4),
	}
	b.wg.Add(1)
	go b.runAckLoop()
	return b, nil
}

// Close stops the ack loop and tears down the connection.
func (b *Bridge) Close() error {
	close(b.acks)
	b.wg.Wait()
	return b.conn.Close()
}

func (b *Bridge) runAckLoop() {
	defer b.wg.Done()
	for req := range b.acks {
		v, ok := b.pending.LoadAndDelete(req.tag)
		if !ok {
			continue
		}
		delivery := v.(amqp.Delivery)
		var err error
		if req.ack {
			err = delivery.Ack(false)
		} else {
			err = delivery.Nack(false, req.requeue)
		}
		if err != nil {
			b.log.Warn("ack/nack failed", zap.Uint64("delivery_tag", req.tag), zap.Error(err))
		}
	}
}

// Ack acknowledges a delivery. Call only after its handler transaction
// has committed durably.
func (b *Bridge) Ack(tag uint64) {
	b.acks <- ackRequest{tag: tag, ack: true}
}

// Nack leaves a delivery for redelivery (transient failure) or drops it
// (requeue=false, for a permanent failure already logged by the caller).
func (b *Bridge) Nack(tag uint64, requeue bool) {
	b.acks <- ackRequest{tag: tag, ack: false, requeue: requeue}
}

// ConsumeEcho streams inbound EchoProbeResponse messages until ctx is
// canceled; the returned channel is closed once the underlying AMQP
// delivery channel closes.
func ConsumeEcho(ctx context.Context, b *Bridge, log *zap.Logger) (<-chan TaskRequest[interpret.EchoProbeResponse], error) {
	return consume[interpret.EchoProbeResponse](ctx, b, echoResponseQueue, log)
}

// ConsumeTrace streams inbound TraceResponse messages until ctx is
// canceled.
func ConsumeTrace(ctx context.Context, b *Bridge, log *zap.Logger) (<-chan TaskRequest[interpret.TraceResponse], error) {
	return consume[interpret.TraceResponse](ctx, b, traceResponseQueue, log)
}

func consume[T any](ctx context.Context, b *Bridge, queue string, log *zap.Logger) (<-chan TaskRequest[T], error) {
	consumerTag := queue + "-consumer"
	deliveries, err := b.consumeCh.Consume(queue, consumerTag, false, false, false, false, nil)
	if err != nil {
		return nil, fmt.Errorf("transport: consume %s: %w", queue, err)
	}

	out := make(chan TaskRequest[T])
	go func() {
		<-ctx.Done()
		_ = b.consumeCh.Cancel(consumerTag, false)
	}()
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case d, ok := <-deliveries:
				if !ok {
					return
				}
				var model T
				if err := json.Unmarshal(d.Body, &model); err != nil {
					log.Warn("discarding malformed delivery", zap.String("queue", queue), zap.Error(err))
					_ = d.Nack(false, false)
					continue
				}
				b.pending.Store(d.DeliveryTag, d)
				req := TaskRequest[T]{Model: model, ReceivedAt: timeNow(), DeliveryTag: d.DeliveryTag}
				select {
				case out <- req:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

// PublishEcho implements both handler.Publisher and schedule.Publisher.
func (b *Bridge) PublishEcho(ctx context.Context, req queuemsg.EchoProbeRequest) error {
	return b.publish(ctx, queuemsg.RoutingKeyEcho, req)
}

// PublishTrace implements handler.Publisher.
func (b *Bridge) PublishTrace(ctx context.Context, req queuemsg.TraceRequest) error {
	return b.publish(ctx, queuemsg.RoutingKeyTrace, req)
}

func (b *Bridge) publish(ctx context.Context, routingKey string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("transport: marshal %s: %w", routingKey, err)
	}
	return b.publishCh.PublishWithContext(ctx, probeRequestExchange, routingKey, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Body:         body,
	})
}

var timeNow = time.Now
