package models

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

type TransactionType string

const (
	TransactionTypePurchase   TransactionType = "purchase"
	TransactionTypeTopup      TransactionType = "topup"
	TransactionTypeMonthlyFee TransactionType = "monthly_fee"
)

type TransactionStatus string

const (
	TransactionStatusPending   TransactionStatus = "pending"
	TransactionStatusCompleted TransactionStatus = "completed"
	TransactionStatusFailed    TransactionStatus = "failed"
	TransactionStatusRefunded  TransactionStatus = "refunded"
)

func (s TransactionStatus) IsValid() bool {
	switch s {
	case TransactionStatusPending, TransactionStatusCompleted, TransactionStatusFailed, TransactionStatusRefunded:
		return true
	}
	return false
}

func (t TransactionType) IsValid() bool {
	switch t {
	case TransactionTypePurchase, TransactionTypeTopup, TransactionTypeMonthlyFee:
		return true
	}
	return false
}

// Ingestion paths.
const (
	TransactionSourceTerminalProcess = "terminal_process"
	TransactionSourceTerminalSync    = "terminal_sync"
	TransactionSourceOfflineQueue    = "offline_queue"
)

// Transaction is a unit of value movement. TransactionId is the caller-assigned
// natural key shared by every ingestion path.
type Transaction struct {
	ID                uint              `gorm:"primary_key" json:"id"`
	TransactionId     string            `gorm:"size:128;not null;uniqueIndex" json:"transaction_id"`
	TerminalId        string            `gorm:"size:64;index" json:"terminal_id"`
	StudentId         *string           `gorm:"size:64;index" json:"student_id"`
	VendorId          string            `gorm:"size:64;not null;index" json:"vendor_id"`
	SchoolId          string            `gorm:"size:64;not null;index" json:"school_id"`
	Amount            decimal.Decimal   `gorm:"type:decimal(20,4);not null" json:"amount"`
	Type              TransactionType   `gorm:"size:20;not null;default:'purchase'" json:"type"`
	Status            TransactionStatus `gorm:"size:20;not null;index;default:'completed'" json:"status"`
	PaymentMethod     string            `gorm:"size:32;not null" json:"payment_method"`
	CardBrand         *string           `gorm:"size:32" json:"card_brand"`
	Installments      *int              `json:"installments"`
	AuthorizationCode *string           `gorm:"size:64" json:"authorization_code"`
	Nsu               *string           `gorm:"size:64" json:"nsu"`
	MetadataJSON      []byte            `gorm:"type:json" json:"-"`
	Source            string            `gorm:"size:32" json:"source"`
	TransactionAt     time.Time         `gorm:"index;not null" json:"timestamp"`
	CreatedAt         time.Time         `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt         time.Time         `gorm:"autoUpdateTime" json:"updated_at"`
}

// Metadata decodes MetadataJSON. Undecodable metadata yields nil.
func (t *Transaction) Metadata() map[string]interface{} {
	if len(t.MetadataJSON) == 0 {
		return nil
	}
	var out map[string]interface{}
	if err := json.Unmarshal(t.MetadataJSON, &out); err != nil {
		return nil
	}
	return out
}

// MarshalJSON exposes metadata as an object instead of raw bytes.
func (t Transaction) MarshalJSON() ([]byte, error) {
	type alias Transaction
	return json.Marshal(struct {
		alias
		Metadata map[string]interface{} `json:"metadata,omitempty"`
	}{
		alias:    alias(t),
		Metadata: t.Metadata(),
	})
}

// EncodeMetadata returns nil for an empty map so the column stays NULL.
func EncodeMetadata(m map[string]interface{}) []byte {
	if len(m) == 0 {
		return nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil
	}
	return b
}
