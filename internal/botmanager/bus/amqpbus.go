package bus

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/rs/zerolog/log"
	"github.com/streadway/amqp"

	"github.com/lukelocksmith/vexa/internal/common/apperrors"
)

// exchangePrefix namespaces per-bot command exchanges on the broker.
const exchangePrefix = "bot.commands."

// AMQPBus publishes commands through a RabbitMQ fanout exchange per live
// bot. Exchanges are auto-delete and messages transient, which gives the
// at-most-once semantics the command channel requires: a worker that is not
// subscribed simply misses the command.
type AMQPBus struct {
	mu      sync.Mutex
	conn    *amqp.Connection
	channel *amqp.Channel
	closed  bool

	declared map[string]bool
}

// NewAMQPBus connects to the broker at the given URL.
func NewAMQPBus(busURL string) (*AMQPBus, error) {
	conn, err := amqp.Dial(busURL)
	if err != nil {
		return nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, err
	}
	return &AMQPBus{
		conn:     conn,
		channel:  ch,
		declared: make(map[string]bool),
	}, nil
}

// Publish sends one command to the session's exchange. The publish is
// non-persistent and unconfirmed; it returns once the broker accepts the
// frame, not when (or whether) a worker receives it.
func (b *AMQPBus) Publish(ctx context.Context, sessionUID string, cmd Command) apperrors.Error {
	if sessionUID == "" {
		return ErrInvalidTopic
	}

	body, err := json.Marshal(cmd)
	if err != nil {
		return ErrPublishFailed.Err(err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ErrBusClosed
	}

	exchange := exchangePrefix + sessionUID
	if !b.declared[exchange] {
		err := b.channel.ExchangeDeclare(
			exchange,
			"fanout",
			false, // durable: channel state is not truth, no need to survive the broker
			true,  // auto-delete once the worker unsubscribes
			false,
			false,
			nil,
		)
		if err != nil {
			return ErrPublishFailed.Err(err)
		}
		b.declared[exchange] = true
	}

	err = b.channel.Publish(
		exchange,
		"",
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Transient,
			Body:         body,
		},
	)
	if err != nil {
		return ErrPublishFailed.Err(err)
	}

	log.Ctx(ctx).Debug().
		Str("session_uid", sessionUID).
		Str("action", cmd.Action).
		Msg("published bot command")
	return nil
}

// Close shuts down the channel and connection.
func (b *AMQPBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	if b.channel != nil {
		b.channel.Close()
	}
	if b.conn != nil {
		return b.conn.Close()
	}
	return nil
}
