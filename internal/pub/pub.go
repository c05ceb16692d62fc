package pub

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"escrow-service/internal/domain"

	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

const (
	TransactionEventsChannel = "escrow.transaction.events"
	ContractEventsChannel    = "escrow.contract.events"
)

// EventPublisher fans lifecycle and journal events out to Redis pub/sub and
// Kafka. Both backends are optional; a nil client simply skips that leg, so
// tests and single-box deployments run without brokers.
type EventPublisher struct {
	rdb   *redis.Client
	kafka *kafka.Writer
	log   *zap.SugaredLogger
}

func NewEventPublisher(rdb *redis.Client, w *kafka.Writer, log *zap.SugaredLogger) *EventPublisher {
	return &EventPublisher{rdb: rdb, kafka: w, log: log}
}

type TransactionEvent struct {
	EventType    string    `json:"event_type"` // transaction.completed, transaction.failed, ...
	TxID         string    `json:"tx_id"`
	Kind         string    `json:"kind"`
	Status       string    `json:"status"`
	Amount       string    `json:"amount"`
	Currency     string    `json:"currency"`
	ContractID   string    `json:"contract_id,omitempty"`
	FromWalletID string    `json:"from_wallet_id,omitempty"`
	ToWalletID   string    `json:"to_wallet_id,omitempty"`
	ErrorMessage string    `json:"error_message,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
}

type ContractEvent struct {
	EventType  string    `json:"event_type"` // contract.funded, contract.completed, ...
	ContractID string    `json:"contract_id"`
	Status     string    `json:"status"`
	Timestamp  time.Time `json:"timestamp"`
}

// PublishTransaction publishes a journal row event. Never fails the caller;
// event delivery is best effort.
func (p *EventPublisher) PublishTransaction(ctx context.Context, t *domain.Transaction) {
	if p == nil {
		return
	}
	event := TransactionEvent{
		EventType: fmt.Sprintf("transaction.%s", statusWord(t.Status)),
		TxID:      t.ID,
		Kind:      string(t.Kind),
		Status:    string(t.Status),
		Amount:    t.Amount.String(),
		Currency:  t.Currency,
		Timestamp: time.Now(),
	}
	if t.ContractID != nil {
		event.ContractID = *t.ContractID
	}
	if t.FromWalletID != nil {
		event.FromWalletID = *t.FromWalletID
	}
	if t.ToWalletID != nil {
		event.ToWalletID = *t.ToWalletID
	}
	if t.ErrorMessage != nil {
		event.ErrorMessage = *t.ErrorMessage
	}
	p.publish(ctx, TransactionEventsChannel, t.ID, event)
}

// PublishContract publishes a lifecycle transition event.
func (p *EventPublisher) PublishContract(ctx context.Context, c *domain.Contract, eventType string) {
	if p == nil {
		return
	}
	event := ContractEvent{
		EventType:  eventType,
		ContractID: c.ID,
		Status:     string(c.Status),
		Timestamp:  time.Now(),
	}
	p.publish(ctx, ContractEventsChannel, c.ID, event)
}

func (p *EventPublisher) publish(ctx context.Context, channel, key string, event any) {
	payload, err := json.Marshal(event)
	if err != nil {
		p.logf("failed to marshal event: %v", err)
		return
	}

	if p.rdb != nil {
		if err := p.rdb.Publish(ctx, channel, payload).Err(); err != nil {
			p.logf("redis publish failed on %s: %v", channel, err)
		}
	}
	if p.kafka != nil {
		err := p.kafka.WriteMessages(ctx, kafka.Message{
			Topic: channel,
			Key:   []byte(key),
			Value: payload,
			Time:  time.Now(),
		})
		if err != nil {
			p.logf("kafka publish failed on %s: %v", channel, err)
		}
	}
}

func (p *EventPublisher) logf(format string, args ...any) {
	if p.log != nil {
		p.log.Warnf(format, args...)
	}
}

func statusWord(s domain.TransactionStatus) string {
	switch s {
	case domain.TxStatusCompleted:
		return "completed"
	case domain.TxStatusFailed:
		return "failed"
	default:
		return "pending"
	}
}
