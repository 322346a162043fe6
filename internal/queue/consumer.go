package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	log "github.com/sirupsen/logrus"
)

// AuditSinks maps each queue to the writer its audit lines are appended
// to.  Rotating lumberjack loggers are the production choice.
type AuditSinks map[string]io.Writer

// StartAuditConsumer connects to RabbitMQ, declares every queue in sinks
// and appends one line per message to the matching writer.  It runs a
// reconnect loop with exponential backoff and returns only when ctx is
// cancelled.  Malformed messages are rejected without requeue so a poison
// message cannot spin the loop.
func StartAuditConsumer(ctx context.Context, url string, sinks AuditSinks) error {
	backoff := time.Second
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		conn, err := amqp.Dial(url)
		if err != nil {
			log.WithError(err).Warnf("audit-consumer: dial failed; retrying in %s", backoff)
			if !sleepCtx(ctx, backoff) {
				return ctx.Err()
			}
			if backoff < 30*time.Second {
				backoff *= 2
			}
			continue
		}
		backoff = time.Second

		err = consumeLoop(ctx, conn, sinks)
		_ = conn.Close()
		if ctx.Err() != nil {
			return ctx.Err()
		}
		log.WithError(err).Warn("audit-consumer: consume loop ended; reconnecting")
		if !sleepCtx(ctx, 2*time.Second) {
			return ctx.Err()
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

type delivery struct {
	queue string
	msg   amqp.Delivery
}

func consumeLoop(ctx context.Context, conn *amqp.Connection, sinks AuditSinks) error {
	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("channel open: %w", err)
	}
	defer func() { _ = ch.Close() }()

	if err := ch.Qos(50, 0, false); err != nil {
		log.WithError(err).Warn("audit-consumer: set QoS failed")
	}

	merged := make(chan delivery)
	for name := range sinks {
		if _, err := ch.QueueDeclare(name, true, false, false, false, nil); err != nil {
			return fmt.Errorf("queue declare %s: %w", name, err)
		}
		msgs, err := ch.Consume(name, "", false, false, false, false, nil)
		if err != nil {
			return fmt.Errorf("queue consume %s: %w", name, err)
		}
		go func(name string, msgs <-chan amqp.Delivery) {
			for d := range msgs {
				select {
				case merged <- delivery{queue: name, msg: d}:
				case <-ctx.Done():
					return
				}
			}
		}(name, msgs)
	}

	closed := ch.NotifyClose(make(chan *amqp.Error, 1))
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case amqpErr := <-closed:
			if amqpErr != nil {
				return amqpErr
			}
			return errors.New("channel closed")
		case d := <-merged:
			if err := HandleAuditMessage(d.queue, d.msg.Body, sinks[d.queue]); err != nil {
				log.WithError(err).WithField("queue", d.queue).Warn("audit-consumer: handle message failed")
				_ = d.msg.Nack(false, false)
				continue
			}
			_ = d.msg.Ack(false)
		}
	}
}

// HandleAuditMessage decodes body according to queueName and writes a
// single audit line to w.
func HandleAuditMessage(queueName string, body []byte, w io.Writer) error {
	if w == nil {
		return fmt.Errorf("no sink for queue %q", queueName)
	}
	line, err := formatAuditLine(queueName, body)
	if err != nil {
		return err
	}
	_, err = io.WriteString(w, line)
	return err
}

func formatAuditLine(queueName string, body []byte) (string, error) {
	switch queueName {
	case TicketIssuedQueue:
		var ev TicketIssuedEvent
		if err := json.Unmarshal(body, &ev); err != nil {
			return "", fmt.Errorf("unmarshal: %w", err)
		}
		return fmt.Sprintf("[%s] Ticket issued | ticket_id=%s | visit_date=%s | source=%s | payment=%s/%s | items=%d | total=%.2f\n",
			ev.IssuedAt, ev.TicketID, ev.VisitDate, ev.TicketSource, ev.PaymentMode, ev.PaymentStatus, ev.ItemCount, ev.TotalAmount), nil
	case EntryValidatedQueue:
		var ev EntryValidatedEvent
		if err := json.Unmarshal(body, &ev); err != nil {
			return "", fmt.Errorf("unmarshal: %w", err)
		}
		return fmt.Sprintf("[%s] Entry validated | ticket_id=%s | method=%s | gate=%q\n",
			ev.ValidatedAt, ev.TicketID, ev.Method, ev.GateID), nil
	case ScanAlertQueue:
		var ev ScanAlertEvent
		if err := json.Unmarshal(body, &ev); err != nil {
			return "", fmt.Errorf("unmarshal: %w", err)
		}
		return fmt.Sprintf("[%s] Scan log write failed | ticket_id=%s | method=%s | result=%s | gate=%q | error=%q\n",
			ev.OccurredAt, ev.TicketID, ev.Method, ev.Result, ev.GateID, strings.TrimSpace(ev.Error)), nil
	}
	return "", fmt.Errorf("unknown queue %q", queueName)
}
