/**
 * @description
 * This file contains the RabbitMQ consumer used to receive provider status
 * events. Handlers are registered per routing-key binding; a handler's bool
 * return is the ack decision (false requeues the delivery).
 *
 * @notes
 * - Bindings may use topic wildcards ("provider.payment.*"); dispatch
 *   matches delivered routing keys against the bound patterns.
 */
package rabbitmq

import (
	"fmt"
	"log"
	"net/url"
	"strings"

	amqp "github.com/rabbitmq/amqp091-go"
)

type Consumer struct {
	conn *amqp.Connection
	ch   *amqp.Channel
}

func sanitizeURL(raw string) (string, error) {
	clean := strings.TrimSpace(raw)
	clean = strings.Trim(clean, "\"'")
	if !strings.HasSuffix(clean, "/") {
		clean += "/"
	}
	parsed, err := url.Parse(clean)
	if err != nil {
		return "", err
	}
	if parsed.Scheme != "amqp" && parsed.Scheme != "amqps" {
		return "", fmt.Errorf("invalid AMQP scheme: %s", parsed.Scheme)
	}
	return clean, nil
}

func NewConsumer(amqpURL string) (*Consumer, error) {
	cleanURL, err := sanitizeURL(amqpURL)
	if err != nil {
		return nil, err
	}

	conn, err := amqp.Dial(cleanURL)
	if err != nil {
		return nil, err
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, err
	}

	return &Consumer{conn: conn, ch: ch}, nil
}

// matchTopic reports whether a delivered routing key matches a binding
// pattern using AMQP topic semantics ("*" one word, "#" zero or more).
func matchTopic(pattern, key string) bool {
	if pattern == key {
		return true
	}
	pp := strings.Split(pattern, ".")
	kp := strings.Split(key, ".")
	return matchTopicParts(pp, kp)
}

func matchTopicParts(pattern, key []string) bool {
	if len(pattern) == 0 {
		return len(key) == 0
	}
	switch pattern[0] {
	case "#":
		for i := 0; i <= len(key); i++ {
			if matchTopicParts(pattern[1:], key[i:]) {
				return true
			}
		}
		return false
	case "*":
		return len(key) > 0 && matchTopicParts(pattern[1:], key[1:])
	default:
		return len(key) > 0 && pattern[0] == key[0] && matchTopicParts(pattern[1:], key[1:])
	}
}

// ConsumeWithBindings declares the topic exchange and a durable queue, binds
// the routing-key patterns, and dispatches deliveries to their handlers.
// prefetch caps unacked deliveries on the channel; <= 0 leaves it unbounded.
func (c *Consumer) ConsumeWithBindings(exchange, queueName string, prefetch int, bindings map[string]func([]byte) bool) error {
	if len(bindings) == 0 {
		return fmt.Errorf("no bindings provided")
	}

	if prefetch > 0 {
		if err := c.ch.Qos(prefetch, 0, false); err != nil {
			return err
		}
	}

	if err := c.ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		return err
	}

	q, err := c.ch.QueueDeclare(queueName, true, false, false, false, nil)
	if err != nil {
		return err
	}

	handlers := make(map[string]func([]byte) bool)
	for routingKey, handler := range bindings {
		if handler == nil {
			continue
		}
		handlers[routingKey] = handler
		if err := c.ch.QueueBind(q.Name, routingKey, exchange, false, nil); err != nil {
			return err
		}
	}

	msgs, err := c.ch.Consume(q.Name, "", false, false, false, false, nil)
	if err != nil {
		return err
	}

	go func() {
		for d := range msgs {
			handler, ok := handlers[d.RoutingKey]
			if !ok {
				for pattern, h := range handlers {
					if matchTopic(pattern, d.RoutingKey) {
						handler, ok = h, true
						break
					}
				}
			}
			if !ok {
				log.Printf("No handler for routing key %s; acknowledging to drop", d.RoutingKey)
				d.Ack(false)
				continue
			}
			if handler(d.Body) {
				d.Ack(false)
			} else {
				log.Printf("Handler for routing key %s failed; re-queuing", d.RoutingKey)
				d.Nack(false, true)
			}
		}
	}()

	return nil
}

func (c *Consumer) Close() {
	if c.ch != nil {
		c.ch.Close()
	}
	if c.conn != nil {
		c.conn.Close()
	}
}
