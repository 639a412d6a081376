package models

import "time"

const (
	SyncRunStatusSuccess = "success"
	SyncRunStatusFailed  = "failed"
	SyncRunStatusPartial = "partial"
)

// Mismatch codes recorded per failed /sync item.
const (
	SyncErrorMissingFields = "missing_fields"
	SyncErrorInvalidValue  = "invalid_value"
	SyncErrorInsertFailed  = "insert_failed"
	SyncErrorUpdateFailed  = "update_failed"
	SyncErrorLookupFailed  = "lookup_failed"
)

// TerminalSyncRun audits one /sync call.
type TerminalSyncRun struct {
	ID            uint       `gorm:"primary_key" json:"id"`
	TerminalId    string     `gorm:"size:64;index;not null" json:"terminal_id"`
	SchoolId      string     `gorm:"size:64;index" json:"school_id"`
	Status        string     `gorm:"size:20;not null" json:"status"`
	Received      int        `json:"received"`
	Processed     int        `json:"processed"`
	Inserted      int        `json:"inserted"`
	Updated       int        `json:"updated"`
	Mismatched    int        `json:"mismatched"`
	CorrelationId string     `gorm:"size:64;index" json:"correlation_id"`
	StartedAt     time.Time  `json:"started_at"`
	FinishedAt    *time.Time `json:"finished_at"`
	DurationMs    int64      `json:"duration_ms"`
	CreatedAt     time.Time  `gorm:"autoCreateTime" json:"created_at"`
}

// TerminalSyncError is one mismatched item of a TerminalSyncRun.
type TerminalSyncError struct {
	ID            uint      `gorm:"primary_key" json:"id"`
	SyncRunId     uint      `gorm:"index;not null" json:"sync_run_id"`
	TerminalId    string    `gorm:"size:64;index" json:"terminal_id"`
	TransactionId string    `gorm:"size:128;index" json:"transaction_id"`
	ErrorCode     string    `gorm:"size:64" json:"error_code"`
	Message       string    `gorm:"type:text" json:"message"`
	PayloadJSON   []byte    `gorm:"type:json" json:"-"`
	CreatedAt     time.Time `gorm:"autoCreateTime" json:"created_at"`
}

// SyncRunStatus derives the run status the same way for every caller:
// nothing failed is success, nothing succeeded is failed, otherwise partial.
func SyncRunStatus(processed, mismatched int) string {
	switch {
	case mismatched == 0:
		return SyncRunStatusSuccess
	case processed-mismatched <= 0:
		return SyncRunStatusFailed
	default:
		return SyncRunStatusPartial
	}
}
