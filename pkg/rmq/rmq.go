package rmq

import (
	"context"
	"encoding/json"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Outcome is one send result, published for the tracking side to consume.
type Outcome struct {
	Source      string    `json:"source"` // "execution" | "bulk"
	RecordID    string    `json:"record_id"`
	CampaignID  string    `json:"campaign_id,omitempty"`
	JobID       string    `json:"job_id,omitempty"`
	StepIndex   int       `json:"step_index,omitempty"`
	Email       string    `json:"email"`
	Status      string    `json:"status"`
	Error       string    `json:"error,omitempty"`
	CompletedAt time.Time `json:"completed_at"`
}

type Publisher struct {
	conn  *amqp.Connection
	ch    *amqp.Channel
	queue string
}

func NewPublisher(url, queue string) (*Publisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, err
	}
	if _, err := ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, err
	}
	return &Publisher{conn: conn, ch: ch, queue: queue}, nil
}

func (p *Publisher) Close() error {
	_ = p.ch.Close()
	return p.conn.Close()
}

// PublishOutcome is nil-safe: a nil publisher disables the feed.
func (p *Publisher) PublishOutcome(ctx context.Context, o Outcome) error {
	if p == nil {
		return nil
	}
	body, err := json.Marshal(o)
	if err != nil {
		return err
	}
	return p.ch.PublishWithContext(ctx,
		"", p.queue, false, false,
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Timestamp:    time.Now(),
			Body:         body,
		})
}
