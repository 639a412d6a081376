package models

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/mmdatafocus/terminal_sync/appctx"
	"github.com/mmdatafocus/terminal_sync/config"
	"gorm.io/gorm"
)

const (
	TransactionEventCreated       = "transaction.created"
	TransactionEventStatusChanged = "transaction.status_changed"
)

const (
	OutboxPublishStatusPending    = "PENDING"
	OutboxPublishStatusProcessing = "PROCESSING"
	OutboxPublishStatusSent       = "SENT"
	OutboxPublishStatusFailed     = "FAILED"
	OutboxPublishStatusDead       = "DEAD"
)

// TransactionEvent is the transactional outbox row for transaction lifecycle
// events. It is written in the same DB transaction as the change it describes
// and published to Pub/Sub after commit by the outbox dispatcher.
type TransactionEvent struct {
	ID               int        `gorm:"primary_key;index:idx_outbox_dispatch,priority:3" json:"id"`
	EventType        string     `gorm:"size:64;not null" json:"event_type"`
	TransactionId    string     `gorm:"size:128;not null;index" json:"transaction_id"`
	TerminalId       string     `gorm:"size:64" json:"terminal_id"`
	SchoolId         string     `gorm:"size:64;index" json:"school_id"`
	Status           string     `gorm:"size:20" json:"status"`
	Amount           string     `gorm:"size:32" json:"amount"`
	PayloadJSON      []byte     `gorm:"type:json" json:"-"`
	PublishStatus    string     `gorm:"size:20;index;not null;default:'PENDING';index:idx_outbox_dispatch,priority:1" json:"publish_status"` // PENDING|PROCESSING|SENT|FAILED|DEAD
	PublishedAt      *time.Time `gorm:"index" json:"published_at"`
	PubSubMessageId  *string    `gorm:"size:255" json:"pubsub_message_id"`
	PublishAttempts  int        `gorm:"not null;default:0" json:"publish_attempts"`
	NextAttemptAt    *time.Time `gorm:"index;index:idx_outbox_dispatch,priority:2" json:"next_attempt_at"`
	LockedAt         *time.Time `gorm:"index" json:"locked_at"`
	LockedBy         *string    `gorm:"size:100" json:"locked_by"`
	LastPublishError *string    `gorm:"type:text" json:"last_publish_error"`
	CorrelationId    string     `gorm:"size:64;index" json:"correlation_id"`
	OccurredAt       time.Time  `gorm:"not null" json:"occurred_at"`
	CreatedAt        time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt        time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// recordTransactionEvent writes the outbox row inside the caller's DB
// transaction. It does NOT publish.
func recordTransactionEvent(ctx context.Context, tx *gorm.DB, eventType string, t *Transaction) error {
	payload, err := json.Marshal(t)
	if err != nil {
		return err
	}
	rec := TransactionEvent{
		EventType:     eventType,
		TransactionId: t.TransactionId,
		TerminalId:    t.TerminalId,
		SchoolId:      t.SchoolId,
		Status:        string(t.Status),
		Amount:        t.Amount.String(),
		PayloadJSON:   payload,
		PublishStatus: OutboxPublishStatusPending,
		CorrelationId: correlationIdFromContextOrNew(ctx),
		OccurredAt:    time.Now().UTC(),
	}
	return tx.Create(&rec).Error
}

func correlationIdFromContextOrNew(ctx context.Context) string {
	if cid, ok := appctx.GetString(ctx, appctx.ContextKeyCorrelationId); ok && cid != "" {
		return cid
	}
	return uuid.NewString()
}

func ConvertToTransactionEventMessage(rec TransactionEvent) config.TransactionEventMessage {
	return config.TransactionEventMessage{
		EventId:       rec.ID,
		EventType:     rec.EventType,
		TransactionId: rec.TransactionId,
		TerminalId:    rec.TerminalId,
		SchoolId:      rec.SchoolId,
		Status:        rec.Status,
		Amount:        rec.Amount,
		OccurredAt:    rec.OccurredAt,
		CorrelationId: rec.CorrelationId,
		Payload:       rec.PayloadJSON,
	}
}
