package amqp

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/rabbitmq/amqp091-go"

	"tally/internal/core"
)

const publishTimeout = 5 * time.Second

// Client publishes ledger events to a durable direct exchange and consumes
// them for the export worker. It implements services.EventPublisher.
type Client struct {
	conn         *amqp091.Connection
	channel      *amqp091.Channel
	exchangeName string
	queueName    string
}

func NewClient(url, exchangeName, queueName string) (*Client, error) {
	conn, err := amqp091.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial AMQP: %w", err)
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}

	client := &Client{
		conn:         conn,
		channel:      channel,
		exchangeName: exchangeName,
		queueName:    queueName,
	}

	if err := client.setup(); err != nil {
		client.Close()
		return nil, fmt.Errorf("setup exchange and queue: %w", err)
	}

	return client, nil
}

func (c *Client) setup() error {
	err := c.channel.ExchangeDeclare(
		c.exchangeName,
		"direct",
		true,  // durable
		false, // auto-deleted
		false, // internal
		false, // no-wait
		nil,
	)
	if err != nil {
		return fmt.Errorf("declare exchange: %w", err)
	}

	_, err = c.channel.QueueDeclare(
		c.queueName,
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		nil,
	)
	if err != nil {
		return fmt.Errorf("declare queue: %w", err)
	}

	// Routing key equals the queue name on a direct exchange.
	err = c.channel.QueueBind(
		c.queueName,
		c.queueName,
		c.exchangeName,
		false,
		nil,
	)
	if err != nil {
		return fmt.Errorf("bind queue: %w", err)
	}

	return nil
}

func (c *Client) publish(ctx context.Context, kind, messageID string, body []byte) error {
	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	err := c.channel.PublishWithContext(
		ctx,
		c.exchangeName,
		c.queueName,
		false, // mandatory
		false, // immediate
		amqp091.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp091.Persistent,
			Type:         kind,
			MessageId:    messageID,
			Timestamp:    time.Now(),
			Body:         body,
		},
	)
	if err != nil {
		return fmt.Errorf("publish message: %w", err)
	}
	return nil
}

// PublishTransactionRecorded publishes a transaction-recorded event.
func (c *Client) PublishTransactionRecorded(ctx context.Context, transactionID int64) error {
	msg := NewTransactionRecordedMessage(transactionID)
	body, err := msg.ToJSON()
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	if err := c.publish(ctx, msg.Kind, msg.MessageID, body); err != nil {
		return err
	}

	slog.InfoContext(ctx, "Published transaction recorded message",
		"message_id", msg.MessageID,
		"transaction_id", transactionID,
		"exchange", c.exchangeName,
		"queue", c.queueName)

	return nil
}

// PublishCarryOverApplied publishes a carry-over-applied event.
func (c *Client) PublishCarryOverApplied(ctx context.Context, year, month int, total core.Money) error {
	msg := NewCarryOverAppliedMessage(year, month, total.Cents)
	body, err := msg.ToJSON()
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	if err := c.publish(ctx, msg.Kind, msg.MessageID, body); err != nil {
		return err
	}

	slog.InfoContext(ctx, "Published carry-over applied message",
		"message_id", msg.MessageID,
		"from_year", year,
		"from_month", month,
		"total_cents", total.Cents)

	return nil
}

// ConsumeTransactionRecorded blocks consuming transaction-recorded messages
// until the context is cancelled. Dispatch is on the payload's kind field.
// Messages of unknown kind or that fail to unmarshal are rejected without
// requeue; handler errors requeue the delivery.
//
// Carry-over-applied messages share the queue and are acked without a
// handler: the savings transaction they describe also gets its own
// transaction-recorded message.
func (c *Client) ConsumeTransactionRecorded(ctx context.Context, handler func(*TransactionRecordedMessage) error) error {
	msgs, err := c.channel.Consume(
		c.queueName,
		"",    // consumer
		false, // auto-ack, we ack manually
		false, // exclusive
		false, // no-local
		false, // no-wait
		nil,
	)
	if err != nil {
		return fmt.Errorf("start consuming: %w", err)
	}

	slog.InfoContext(ctx, "Started consuming ledger event messages", "queue", c.queueName)

	for {
		select {
		case <-ctx.Done():
			slog.InfoContext(ctx, "Stopping message consumption", "reason", ctx.Err())
			return ctx.Err()
		case delivery, ok := <-msgs:
			if !ok {
				return fmt.Errorf("message channel closed")
			}

			switch MessageKind(delivery.Body) {
			case KindTransactionRecorded:
				msg, err := TransactionRecordedMessageFromJSON(delivery.Body)
				if err != nil {
					slog.ErrorContext(ctx, "Failed to unmarshal message", "error", err)
					delivery.Nack(false, false)
					continue
				}
				if err := handler(msg); err != nil {
					slog.ErrorContext(ctx, "Failed to handle message",
						"error", err,
						"message_id", msg.MessageID,
						"transaction_id", msg.TransactionID)
					delivery.Nack(false, true)
					continue
				}
				delivery.Ack(false)
			case KindCarryOverApplied:
				if applied, err := CarryOverAppliedMessageFromJSON(delivery.Body); err == nil {
					slog.InfoContext(ctx, "Carry-over applied",
						"from_year", applied.FromYear,
						"from_month", applied.FromMonth,
						"total_cents", applied.TotalCents)
				}
				delivery.Ack(false)
			default:
				slog.ErrorContext(ctx, "Message of unknown kind", "kind", MessageKind(delivery.Body))
				delivery.Nack(false, false)
			}
		}
	}
}

func (c *Client) Close() error {
	if c.channel != nil {
		c.channel.Close()
	}
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}
