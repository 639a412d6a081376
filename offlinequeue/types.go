package offlinequeue

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// StorageKey is the durable key holding the pending list.
const StorageKey = "offline_transactions"

// Local lifecycle. Items are removed once synced, so the stored list only
// ever holds StatusPending.
const (
	StatusPending = "pending"
	StatusSynced  = "synced"
)

var (
	ErrDuplicate          = errors.New("transaction already exists remotely")
	ErrSyncInProgress     = errors.New("sync already in progress")
	ErrInvalidTransaction = errors.New("invalid transaction")
	ErrAlreadyQueued      = errors.New("transaction already queued")
)

// Transaction is one queued capture. Its JSON form is the durable layout.
type Transaction struct {
	Id            string                 `json:"id"`
	TransactionId string                 `json:"transactionId"`
	StudentId     string                 `json:"studentId,omitempty"`
	Amount        decimal.Decimal        `json:"amount"`
	Type          string                 `json:"type"`
	Status        string                 `json:"status"`
	DeviceId      string                 `json:"deviceId,omitempty"`
	VendorId      string                 `json:"vendorId,omitempty"`
	SchoolId      string                 `json:"schoolId,omitempty"`
	PaymentMethod string                 `json:"paymentMethod,omitempty"`
	CreatedAt     time.Time              `json:"createdAt"`
	SyncedAt      *time.Time             `json:"syncedAt,omitempty"`
	Metadata      map[string]interface{} `json:"metadata,omitempty"`
}

// NewTransaction is what callers hand to Enqueue.
type NewTransaction struct {
	TransactionId string                 `json:"transactionId" validate:"required"`
	StudentId     string                 `json:"studentId"`
	Amount        decimal.Decimal        `json:"amount"`
	Type          string                 `json:"type" validate:"required,oneof=purchase topup"`
	DeviceId      string                 `json:"deviceId"`
	VendorId      string                 `json:"vendorId"`
	SchoolId      string                 `json:"schoolId"`
	PaymentMethod string                 `json:"paymentMethod"`
	Metadata      map[string]interface{} `json:"metadata"`
}

type SyncFailure struct {
	Id            string `json:"id"`
	TransactionId string `json:"transactionId"`
	Reason        string `json:"reason"`
}

// SyncSummary reports one Sync pass. Duplicates are included in Succeeded.
type SyncSummary struct {
	Succeeded  int           `json:"succeeded"`
	Failed     int           `json:"failed"`
	Duplicates int           `json:"duplicates"`
	Synced     []Transaction `json:"synced,omitempty"`
	Failures   []SyncFailure `json:"failures,omitempty"`
}
