package rabbitmq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/song-pt/TongAI/internal/usage"
)

var errMissingKind = errors.New("usage task without kind")

// Publisher sends usage tasks to RabbitMQ; it satisfies usage.Queue.
type Publisher struct {
	conn  *amqp.Connection
	ch    *amqp.Channel
	queue string

	mu sync.Mutex
}

// DLQName is where failed usage tasks are dead-lettered. There is no retry queue:
// usage is applied at most once, so a failed task is parked for inspection, never replayed.
func DLQName(queue string) string { return queue + ".dlq" }

type queueDecl struct {
	name string
	args amqp.Table
}

// queueDecls lists the durable queues in declaration order (DLQ first so the main queue can point at it).
func queueDecls(queue string) []queueDecl {
	return []queueDecl{
		{name: DLQName(queue)},
		{name: queue, args: amqp.Table{
			"x-dead-letter-exchange":    "",
			"x-dead-letter-routing-key": DLQName(queue),
		}},
	}
}

// DeclareQueues declares queue and its dead-letter queue.
// Publisher and worker must both call it so the arguments match.
func DeclareQueues(ch *amqp.Channel, queue string) error {
	for _, q := range queueDecls(queue) {
		if _, err := ch.QueueDeclare(q.name, true, false, false, false, q.args); err != nil {
			return fmt.Errorf("declare %s: %w", q.name, err)
		}
	}
	return nil
}

func NewPublisher(url, queue string) (*Publisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	if err := DeclareQueues(ch, queue); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, err
	}
	return &Publisher{conn: conn, ch: ch, queue: queue}, nil
}

func (p *Publisher) Close() error {
	if p.ch != nil {
		_ = p.ch.Close()
	}
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}

func (p *Publisher) Enqueue(ctx context.Context, t usage.Task) error {
	body, err := json.Marshal(t)
	if err != nil {
		return err
	}

	cctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ch.PublishWithContext(cctx,
		"",      // default exchange
		p.queue, // routing key = queue
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Body:         body,
			Timestamp:    t.EnqueuedAt,
			Type:         string(t.Kind),
		},
	)
}

// DecodeTask parses a delivery body produced by Enqueue.
func DecodeTask(body []byte) (usage.Task, error) {
	var t usage.Task
	if err := json.Unmarshal(body, &t); err != nil {
		return t, err
	}
	if t.Kind == "" {
		return t, errMissingKind
	}
	return t, nil
}
