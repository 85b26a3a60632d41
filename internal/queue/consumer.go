package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// PushSender delivers an incoming-call notification to a device. The
// APNs client in internal/push implements it; a nil sender disables
// delivery and the consumer only writes the audit log line.
type PushSender interface {
	SendIncomingCall(ctx context.Context, deviceToken string, event CallInitiatedEvent) error
}

// StartCallConsumer connects to RabbitMQ, declares the call.initiated
// queue (durable), and starts consuming messages. Each event is appended
// to logs/call.log and, when a sender is configured, forwarded as a VoIP
// push to the callee's device. The function runs a reconnect loop and
// keeps running across broker restarts, logging any processing errors
// while rejecting the offending message so the server continues operating.
func StartCallConsumer(sender PushSender) error {
	url := brokerURL()

	backoff := time.Second
	for {
		conn, err := amqp.Dial(url)
		if err != nil {
			log.Printf("call-consumer: failed to dial broker: %v; retrying in %s", err, backoff)
			time.Sleep(backoff)
			if backoff < 30*time.Second {
				backoff *= 2
			}
			continue
		}
		backoff = time.Second // reset after successful connect

		if err := consumeLoop(conn, sender); err != nil {
			log.Printf("call-consumer: consume loop ended: %v; reconnecting", err)
			time.Sleep(2 * time.Second)
			continue
		}
	}
}

func consumeLoop(conn *amqp.Connection, sender PushSender) error {
	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("channel open: %w", err)
	}
	defer func() { _ = ch.Close() }()

	if err := ch.Qos(50, 0, false); err != nil {
		log.Printf("call-consumer: set QoS failed: %v", err)
	}

	_, err = ch.QueueDeclare(callQueueName, true, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("queue declare: %w", err)
	}

	msgs, err := ch.Consume(callQueueName, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("queue consume: %w", err)
	}

	for d := range msgs {
		if err := handleMessage(d.Body, sender); err != nil {
			log.Printf("call-consumer: handle message failed: %v", err)
			_ = d.Nack(false, false) // reject, do not requeue to avoid tight loops
			continue
		}
		_ = d.Ack(false)
	}
	return errors.New("deliveries channel closed")
}

func handleMessage(body []byte, sender PushSender) error {
	var ev CallInitiatedEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		return fmt.Errorf("unmarshal: %w", err)
	}

	if err := appendCallLog(ev); err != nil {
		return err
	}

	if sender == nil || ev.DeviceToken == "" {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := sender.SendIncomingCall(ctx, ev.DeviceToken, ev); err != nil {
		// The call session is already live; a failed push is logged but
		// not retried so the queue does not back up on a bad token.
		log.Printf("call-consumer: push delivery failed for call %s: %v", ev.CallID, err)
	}
	return nil
}

func appendCallLog(ev CallInitiatedEvent) error {
	if err := os.MkdirAll("logs", 0o755); err != nil {
		return fmt.Errorf("mkdir logs: %w", err)
	}
	fpath := filepath.Join("logs", "call.log")
	f, err := os.OpenFile(fpath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	defer f.Close()

	line := fmt.Sprintf("[%s] Call initiated | call_id=%s | caller_id=%d | caller=%q | callee_id=%d\n",
		ev.StartedAt, ev.CallID, ev.CallerUserID, ev.CallerName, ev.CalleeUserID)

	if _, err := f.WriteString(line); err != nil {
		return fmt.Errorf("write log: %w", err)
	}
	return nil
}
