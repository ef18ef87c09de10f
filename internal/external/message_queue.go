package external

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/ramincsy/Sarafchi/internal/models"
)

// MessageQueue publishes equilibrium lifecycle events for downstream
// consumers (accounting exports, operator dashboards, notification fan-out).
type MessageQueue interface {
	PublishProposalEvent(ctx context.Context, event *ProposalEvent) error
	PublishRebalanceEvent(ctx context.Context, event *RebalanceEvent) error
	Close() error
}

type messageQueue struct {
	conn    *amqp.Connection
	channel *amqp.Channel
	config  *MessageQueueConfig
}

type MessageQueueConfig struct {
	URL           string
	RetryAttempts int
	RetryDelay    time.Duration
	MessageTTL    time.Duration
}

func NewMessageQueue(config *MessageQueueConfig) (MessageQueue, error) {
	if config.RetryAttempts == 0 {
		config.RetryAttempts = 3
	}
	if config.RetryDelay == 0 {
		config.RetryDelay = 5 * time.Second
	}
	if config.MessageTTL == 0 {
		config.MessageTTL = 24 * time.Hour
	}

	mq := &messageQueue{config: config}
	if err := mq.connect(); err != nil {
		return nil, err
	}
	if err := mq.setupExchanges(); err != nil {
		return nil, err
	}
	return mq, nil
}

// ProposalEvent is emitted on every proposal lifecycle transition and on
// settlement transactions recorded against a proposal.
type ProposalEvent struct {
	EventID    string    `json:"event_id"`
	EventType  string    `json:"event_type"` // "created", "approved", "completed", "expired", "transaction_initiated"
	ProposalID int64     `json:"proposal_id"`
	Type       string    `json:"type"`
	Currency   string    `json:"currency"`
	Amount     string    `json:"amount"`
	Status     string    `json:"status"`
	ActorID    int64     `json:"actor_id"`
	Timestamp  time.Time `json:"timestamp"`
}

// RebalanceEvent summarizes one automatic rebalance or bulk-creation run.
type RebalanceEvent struct {
	EventID          string    `json:"event_id"`
	EventType        string    `json:"event_type"` // "auto_rebalance", "auto_create", "expiry_sweep"
	ProposalsCreated int       `json:"proposals_created"`
	ProposalsExpired int       `json:"proposals_expired"`
	Currencies       []string  `json:"currencies,omitempty"`
	Timestamp        time.Time `json:"timestamp"`
}

func (mq *messageQueue) connect() error {
	var err error
	mq.conn, err = amqp.Dial(mq.config.URL)
	if err != nil {
		return fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	mq.channel, err = mq.conn.Channel()
	if err != nil {
		return fmt.Errorf("failed to open channel: %w", err)
	}
	return nil
}

func (mq *messageQueue) setupExchanges() error {
	for _, name := range []string{"equilibrium.proposals", "equilibrium.rebalance"} {
		err := mq.channel.ExchangeDeclare(
			name,
			"topic",
			true,  // durable
			false, // auto-deleted
			false, // internal
			false, // no-wait
			nil,
		)
		if err != nil {
			return fmt.Errorf("failed to declare exchange %s: %w", name, err)
		}
	}
	return nil
}

func (mq *messageQueue) PublishProposalEvent(ctx context.Context, event *ProposalEvent) error {
	routingKey := fmt.Sprintf("proposal.%s.%s", event.Currency, event.EventType)
	return mq.publishMessage(ctx, "equilibrium.proposals", routingKey, event)
}

func (mq *messageQueue) PublishRebalanceEvent(ctx context.Context, event *RebalanceEvent) error {
	routingKey := fmt.Sprintf("rebalance.%s", event.EventType)
	return mq.publishMessage(ctx, "equilibrium.rebalance", routingKey, event)
}

func (mq *messageQueue) publishMessage(ctx context.Context, exchange, routingKey string, message interface{}) error {
	body, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	publishing := amqp.Publishing{
		ContentType:  "application/json",
		Body:         body,
		Timestamp:    time.Now(),
		MessageId:    fmt.Sprintf("msg_%d", time.Now().UnixNano()),
		DeliveryMode: amqp.Persistent,
	}
	if mq.config.MessageTTL > 0 {
		publishing.Expiration = fmt.Sprintf("%d", mq.config.MessageTTL.Milliseconds())
	}

	var publishErr error
	for attempt := 0; attempt < mq.config.RetryAttempts; attempt++ {
		publishErr = mq.channel.PublishWithContext(ctx, exchange, routingKey, false, false, publishing)
		if publishErr == nil {
			return nil
		}
		if mq.conn.IsClosed() {
			if err := mq.reconnect(); err != nil {
				publishErr = err
			}
		}
		if attempt < mq.config.RetryAttempts-1 {
			time.Sleep(mq.config.RetryDelay * time.Duration(attempt+1))
		}
	}
	return fmt.Errorf("failed to publish message after %d attempts: %w", mq.config.RetryAttempts, publishErr)
}

func (mq *messageQueue) reconnect() error {
	if mq.channel != nil {
		mq.channel.Close()
	}
	if mq.conn != nil {
		mq.conn.Close()
	}
	if err := mq.connect(); err != nil {
		return err
	}
	return mq.setupExchanges()
}

func (mq *messageQueue) Close() error {
	var errs []error
	if mq.channel != nil {
		if err := mq.channel.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close channel: %w", err))
		}
	}
	if mq.conn != nil {
		if err := mq.conn.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close connection: %w", err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("errors closing message queue: %v", errs)
	}
	return nil
}

// EventPublisher adapts the queue to the narrow interface the engines use.
// A nil-queue publisher drops events, which keeps the engines usable when
// the broker is disabled in configuration.
type EventPublisher struct {
	messageQueue MessageQueue
}

func NewEventPublisher(messageQueue MessageQueue) *EventPublisher {
	return &EventPublisher{messageQueue: messageQueue}
}

func (p *EventPublisher) PublishProposalLifecycle(ctx context.Context, proposal *models.Proposal, eventType string, actorID int64) error {
	if p.messageQueue == nil {
		return nil
	}
	return p.messageQueue.PublishProposalEvent(ctx, &ProposalEvent{
		EventID:    fmt.Sprintf("proposal_event_%d_%d", proposal.ProposalID, time.Now().UnixNano()),
		EventType:  eventType,
		ProposalID: proposal.ProposalID,
		Type:       proposal.ProposalType,
		Currency:   proposal.Currency,
		Amount:     proposal.Amount.String(),
		Status:     proposal.Status,
		ActorID:    actorID,
		Timestamp:  time.Now(),
	})
}

func (p *EventPublisher) PublishRebalanceRun(ctx context.Context, eventType string, created, expired int, currencies []string) error {
	if p.messageQueue == nil {
		return nil
	}
	return p.messageQueue.PublishRebalanceEvent(ctx, &RebalanceEvent{
		EventID:          fmt.Sprintf("rebalance_event_%d", time.Now().UnixNano()),
		EventType:        eventType,
		ProposalsCreated: created,
		ProposalsExpired: expired,
		Currencies:       currencies,
		Timestamp:        time.Now(),
	})
}

func (p *EventPublisher) Close() error {
	if p.messageQueue == nil {
		return nil
	}
	return p.messageQueue.Close()
}
