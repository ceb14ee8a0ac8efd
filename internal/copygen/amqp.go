package copygen

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	appLog "ferdy/internal/log"
)

// AMQPConfig configures an AMQPGenerator.
type AMQPConfig struct {
	URL        string
	Exchange   string // topic exchange; declared durable
	RoutingKey string
}

type publisher interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// AMQPGenerator publishes each batch as one persistent JSON message. The
// consumer writes copy back to the drafts, so Generate returns no results.
type AMQPGenerator struct {
	cfg  AMQPConfig
	conn *amqp.Connection
	ch   publisher
}

// batchMessage is the AMQP payload.
type batchMessage struct {
	ID       string    `json:"id"`
	Time     time.Time `json:"time"`
	Requests []Request `json:"requests"`
}

// DialAMQP connects to the broker and declares the exchange.
func DialAMQP(cfg AMQPConfig) (*AMQPGenerator, error) {
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, errors.New("amqp url is required")
	}
	if cfg.Exchange == "" {
		cfg.Exchange = "ferdy.copy"
	}
	if cfg.RoutingKey == "" {
		cfg.RoutingKey = "copy.generate"
	}
	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("dial amqp: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open amqp channel: %w", err)
	}
	if err := ch.ExchangeDeclare(cfg.Exchange, "topic", true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("declare exchange %s: %w", cfg.Exchange, err)
	}
	appLog.Info("copy generation broker connected", "exchange", cfg.Exchange, "routing_key", cfg.RoutingKey)
	return &AMQPGenerator{cfg: cfg, conn: conn, ch: ch}, nil
}

// Generate publishes batch and returns no results.
func (g *AMQPGenerator) Generate(ctx context.Context, batch []Request) ([]Result, error) {
	msg := batchMessage{ID: uuid.NewString(), Time: time.Now().UTC(), Requests: batch}
	body, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("marshal batch: %w", err)
	}
	err = g.ch.PublishWithContext(ctx, g.cfg.Exchange, g.cfg.RoutingKey, false, false, amqp.Publishing{
		ContentType:  "application/json",
		Body:         body,
		DeliveryMode: amqp.Persistent,
		MessageId:    msg.ID,
		Timestamp:    msg.Time,
		Type:         "copy.batch",
		AppId:        "ferdy",
	})
	if err != nil {
		return nil, fmt.Errorf("publish copy batch: %w", err)
	}
	appLog.Info("copy batch published", "message_id", msg.ID, "requests", len(batch))
	return nil, nil
}

// Close closes the channel and connection.
func (g *AMQPGenerator) Close() error {
	var errs []error
	if g.ch != nil {
		errs = append(errs, g.ch.Close())
	}
	if g.conn != nil {
		errs = append(errs, g.conn.Close())
	}
	return errors.Join(errs...)
}

// Deferred accepts every batch without sending it. Drafts keep empty copy
// until a separate process fills them in.
type Deferred struct{}

func (Deferred) Generate(_ context.Context, batch []Request) ([]Result, error) {
	appLog.Info("copy generation deferred", "requests", len(batch))
	return nil, nil
}
