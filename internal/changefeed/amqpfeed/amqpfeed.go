// Package amqpfeed transports change signals over a RabbitMQ topic
// exchange. Routing keys are collection names; each process binds an
// exclusive queue to every key.
package amqpfeed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	backoff "github.com/cenkalti/backoff/v4"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"

	"github.com/joncaseee/pdx-underground-app/internal/changefeed"
)

// ExchangeName is the topic exchange carrying change signals.
const ExchangeName = "pdxfeed.changes"

// Notifier is safe for concurrent use.
type Notifier struct {
	url string
	hub *changefeed.Hub
	log zerolog.Logger

	mu   sync.Mutex
	conn *amqp.Connection
	pub  *amqp.Channel

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New connects, declares the exchange and starts consuming.
func New(ctx context.Context, url string, log zerolog.Logger) (*Notifier, error) {
	n := &Notifier{url: url, hub: changefeed.NewHubFor("amqp"), log: log}
	deliveries, err := n.connect()
	if err != nil {
		return nil, err
	}
	runCtx, cancel := context.WithCancel(context.Background())
	n.cancel = cancel
	n.wg.Add(1)
	go n.run(runCtx, deliveries)
	return n, nil
}

func declareExchange(ch *amqp.Channel) error {
	return ch.ExchangeDeclare(
		ExchangeName,
		"topic",
		true,  // durable
		false, // auto-deleted
		false, // internal
		false, // no-wait
		nil,
	)
}

// connect dials and sets up both channels. It returns the consumer's
// delivery stream.
func (n *Notifier) connect() (<-chan amqp.Delivery, error) {
	conn, err := amqp.Dial(n.url)
	if err != nil {
		return nil, fmt.Errorf("amqp dial: %w", err)
	}
	fail := func(err error) (<-chan amqp.Delivery, error) {
		_ = conn.Close()
		return nil, err
	}

	pub, err := conn.Channel()
	if err != nil {
		return fail(fmt.Errorf("amqp channel: %w", err))
	}
	if err := declareExchange(pub); err != nil {
		return fail(fmt.Errorf("amqp exchange: %w", err))
	}

	sub, err := conn.Channel()
	if err != nil {
		return fail(fmt.Errorf("amqp channel: %w", err))
	}
	q, err := sub.QueueDeclare(
		"",    // server-named
		false, // durable
		true,  // auto-delete
		true,  // exclusive
		false, // no-wait
		nil,
	)
	if err != nil {
		return fail(fmt.Errorf("amqp queue: %w", err))
	}
	if err := sub.QueueBind(q.Name, "#", ExchangeName, false, nil); err != nil {
		return fail(fmt.Errorf("amqp bind: %w", err))
	}
	deliveries, err := sub.Consume(
		q.Name,
		"",    // consumer tag
		true,  // auto-ack
		true,  // exclusive
		false, // no-local
		false, // no-wait
		nil,
	)
	if err != nil {
		return fail(fmt.Errorf("amqp consume: %w", err))
	}

	n.mu.Lock()
	n.conn = conn
	n.pub = pub
	n.mu.Unlock()
	n.log.Debug().Str("queue", q.Name).Msg("amqpfeed: consuming")
	return deliveries, nil
}

// Notify publishes c with the collection as routing key.
func (n *Notifier) Notify(ctx context.Context, c changefeed.Change) error {
	body, err := json.Marshal(c)
	if err != nil {
		return err
	}
	n.mu.Lock()
	pub := n.pub
	n.mu.Unlock()
	if pub == nil {
		return changefeed.ErrClosed
	}
	key := c.Collection
	if key == "" {
		key = "resync"
	}
	return pub.PublishWithContext(
		ctx,
		ExchangeName,
		key,
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			ContentType: "application/json",
			Body:        body,
			Timestamp:   time.Now(),
		},
	)
}

func (n *Notifier) Listen(fn func(changefeed.Change)) func() { return n.hub.Listen(fn) }

func (n *Notifier) Close() error {
	n.cancel()
	n.mu.Lock()
	conn := n.conn
	n.conn, n.pub = nil, nil
	n.mu.Unlock()
	var err error
	if conn != nil {
		err = conn.Close()
	}
	n.wg.Wait()
	_ = n.hub.Close()
	if errors.Is(err, amqp.ErrClosed) {
		return nil
	}
	return err
}

func (n *Notifier) run(ctx context.Context, deliveries <-chan amqp.Delivery) {
	defer n.wg.Done()
	for {
		for d := range deliveries {
			var c changefeed.Change
			if err := json.Unmarshal(d.Body, &c); err != nil {
				n.log.Warn().Err(err).Str("routing_key", d.RoutingKey).Msg("amqpfeed: bad payload, resyncing")
				c = changefeed.Change{}
			}
			n.hub.Dispatch(c)
		}
		if ctx.Err() != nil {
			return
		}

		n.log.Warn().Msg("amqpfeed: delivery stream closed, reconnecting")
		exp := backoff.NewExponentialBackOff()
		exp.InitialInterval = 200 * time.Millisecond
		exp.MaxInterval = 15 * time.Second
		exp.MaxElapsedTime = 0
		err := backoff.Retry(func() error {
			d, err := n.connect()
			if err != nil {
				return err
			}
			deliveries = d
			return nil
		}, backoff.WithContext(exp, ctx))
		if err != nil {
			return
		}
		n.hub.Dispatch(changefeed.Change{})
	}
}
