package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gofrs/uuid/v5"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/and161185/larder/internal/model"
)

const (
	exchangeName = "larder.items"
	exchangeType = "topic"
	routingAll   = "items.*"

	eventVersion = "1"

	maxRetries     = 3
	initialBackoff = 100 * time.Millisecond
	maxBackoff     = 2 * time.Second
	confirmTimeout = 5 * time.Second
)

// RoutingKey is the topic a change for owner is published under.
func RoutingKey(owner string) string { return "items." + owner }

// envelope is the message body on the exchange.
type envelope struct {
	EventID   string       `json:"event_id"`
	Version   string       `json:"event_version"`
	Timestamp string       `json:"timestamp"`
	Change    model.Change `json:"change"`
}

func encodeChange(ch model.Change, now time.Time) (amqp.Publishing, error) {
	id, err := uuid.NewV4()
	if err != nil {
		return amqp.Publishing{}, err
	}
	env := envelope{
		EventID:   id.String(),
		Version:   eventVersion,
		Timestamp: now.UTC().Format(time.RFC3339Nano),
		Change:    ch,
	}
	body, err := json.Marshal(env)
	if err != nil {
		return amqp.Publishing{}, fmt.Errorf("marshal change: %w", err)
	}
	return amqp.Publishing{
		ContentType: "application/json",
		Timestamp:   now,
		MessageId:   env.EventID,
		Type:        string(ch.Kind),
		Body:        body,
		Headers:     amqp.Table{"event_version": eventVersion},
	}, nil
}

func decodeChange(body []byte) (model.Change, error) {
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return model.Change{}, fmt.Errorf("unmarshal change: %w", err)
	}
	ch := env.Change
	if !ch.Kind.Valid() {
		return model.Change{}, fmt.Errorf("unknown change kind %q", ch.Kind)
	}
	if ch.ID == "" || ch.OwnerID == "" {
		return model.Change{}, errors.New("change without id or owner")
	}
	return ch, nil
}

// AMQPRelay publishes changes to RabbitMQ and replays every consumed change
// into the local hub, so watchers on any replica see writes from all of them.
type AMQPRelay struct {
	conn  *amqp.Connection
	pubCh *amqp.Channel
	hub   *Hub
	log   *zap.Logger

	mu sync.Mutex // serializes confirm-mode publishes
}

// DialAMQP connects to url, declares the exchange and enables publisher
// confirms.
func DialAMQP(url string, hub *Hub, log *zap.Logger) (*AMQPRelay, error) {
	if log == nil {
		log = zap.NewNop()
	}
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("connect to RabbitMQ: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	if err := ch.ExchangeDeclare(exchangeName, exchangeType, true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("declare exchange: %w", err)
	}
	if err := ch.Confirm(false); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("enable publisher confirms: %w", err)
	}
	log.Info("connected to RabbitMQ", zap.String("exchange", exchangeName))
	return &AMQPRelay{conn: conn, pubCh: ch, hub: hub, log: log}, nil
}

// Publish sends ch to the exchange. When the broker cannot take it the change
// is delivered to the local hub directly so this replica's watchers still see it.
func (r *AMQPRelay) Publish(ctx context.Context, ch model.Change) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), confirmTimeout*maxRetries)
	defer cancel()

	if err := r.publishWithRetry(ctx, ch); err != nil {
		r.log.Error("relay publish failed, delivering locally only",
			zap.String("id", ch.ID), zap.String("kind", string(ch.Kind)), zap.Error(err))
		r.hub.Publish(ctx, ch)
	}
}

func (r *AMQPRelay) publishWithRetry(ctx context.Context, ch model.Change) error {
	msg, err := encodeChange(ch, time.Now())
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	backoff := initialBackoff
	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
				backoff = min(backoff*2, maxBackoff)
			}
		}

		conf, err := r.pubCh.PublishWithDeferredConfirmWithContext(ctx, exchangeName, RoutingKey(ch.OwnerID), false, false, msg)
		if err != nil {
			lastErr = err
			r.log.Warn("relay publish failed, retrying", zap.Int("attempt", attempt+1), zap.Error(err))
			continue
		}

		waitCtx, cancel := context.WithTimeout(ctx, confirmTimeout)
		ack, err := conf.WaitContext(waitCtx)
		cancel()
		switch {
		case err != nil:
			lastErr = fmt.Errorf("confirmation: %w", err)
		case !ack:
			lastErr = errors.New("change not acknowledged")
		default:
			return nil
		}
		r.log.Warn("relay publish not confirmed, retrying", zap.Int("attempt", attempt+1), zap.Error(lastErr))
	}
	return fmt.Errorf("publish after %d attempts: %w", maxRetries, lastErr)
}

// Run consumes every change from the exchange into the local hub until ctx
// is done or the broker closes the channel.
func (r *AMQPRelay) Run(ctx context.Context) error {
	ch, err := r.conn.Channel()
	if err != nil {
		return fmt.Errorf("open consumer channel: %w", err)
	}
	defer ch.Close()

	// One exclusive queue per replica; it goes away with the connection.
	q, err := ch.QueueDeclare("", false, true, true, false, nil)
	if err != nil {
		return fmt.Errorf("declare queue: %w", err)
	}
	if err := ch.QueueBind(q.Name, routingAll, exchangeName, false, nil); err != nil {
		return fmt.Errorf("bind queue: %w", err)
	}
	msgs, err := ch.ConsumeWithContext(ctx, q.Name, "", false, true, false, false, nil)
	if err != nil {
		return fmt.Errorf("register consumer: %w", err)
	}
	r.log.Info("relay consuming", zap.String("queue", q.Name))

	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-msgs:
			if !ok {
				return errors.New("relay consumer channel closed")
			}
			r.handleDelivery(ctx, d)
		}
	}
}

func (r *AMQPRelay) handleDelivery(ctx context.Context, d amqp.Delivery) {
	ch, err := decodeChange(d.Body)
	if err != nil {
		r.log.Warn("relay dropped malformed message", zap.String("message_id", d.MessageId), zap.Error(err))
		if nerr := d.Nack(false, false); nerr != nil {
			r.log.Debug("nack failed", zap.Error(nerr))
		}
		return
	}
	r.hub.Publish(ctx, ch)
	if aerr := d.Ack(false); aerr != nil {
		r.log.Debug("ack failed", zap.Error(aerr))
	}
}

// Healthy reports whether the broker connection is open.
func (r *AMQPRelay) Healthy() bool {
	return r.conn != nil && !r.conn.IsClosed()
}

// Close closes the publish channel and the connection.
func (r *AMQPRelay) Close() error {
	if r.pubCh != nil {
		if err := r.pubCh.Close(); err != nil {
			r.log.Warn("close channel", zap.Error(err))
		}
	}
	if r.conn != nil {
		return r.conn.Close()
	}
	return nil
}
