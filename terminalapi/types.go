package terminalapi

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/mmdatafocus/terminal_sync/models"
	"github.com/mmdatafocus/terminal_sync/utils"
	"github.com/shopspring/decimal"
)

// TransactionRequest is the body of /process and one element of
// /sync transactions[].
type TransactionRequest struct {
	TerminalId        string                 `json:"terminal_id" validate:"required"`
	TransactionId     string                 `json:"transaction_id" validate:"required"`
	Amount            *decimal.Decimal       `json:"amount" validate:"required"`
	PaymentMethod     string                 `json:"payment_method" validate:"required"`
	VendorId          string                 `json:"vendor_id" validate:"required"`
	SchoolId          string                 `json:"school_id" validate:"required"`
	StudentId         *string                `json:"student_id"`
	CardBrand         *string                `json:"card_brand"`
	Installments      *int                   `json:"installments" validate:"omitempty,min=1"`
	AuthorizationCode *string                `json:"authorization_code"`
	Nsu               *string                `json:"nsu"`
	Metadata          map[string]interface{} `json:"metadata"`
	Type              string                 `json:"type" validate:"omitempty,oneof=purchase topup monthly_fee"`
	Status            string                 `json:"status" validate:"omitempty,oneof=pending completed failed refunded"`
	Timestamp         *time.Time             `json:"timestamp"`
}

func (r *TransactionRequest) normalize() {
	r.TerminalId = strings.TrimSpace(r.TerminalId)
	r.TransactionId = strings.TrimSpace(r.TransactionId)
	r.PaymentMethod = strings.TrimSpace(r.PaymentMethod)
	r.VendorId = strings.TrimSpace(r.VendorId)
	r.SchoolId = strings.TrimSpace(r.SchoolId)
	r.Type = strings.ToLower(strings.TrimSpace(r.Type))
	r.Status = strings.ToLower(strings.TrimSpace(r.Status))
	r.StudentId = utils.TrimPtr(r.StudentId)
	r.CardBrand = utils.TrimPtr(r.CardBrand)
	r.AuthorizationCode = utils.TrimPtr(r.AuthorizationCode)
	r.Nsu = utils.TrimPtr(r.Nsu)
}

// toModel applies defaults: type purchase, status completed, timestamp now.
func (r *TransactionRequest) toModel(source string, now time.Time) *models.Transaction {
	t := &models.Transaction{
		TransactionId:     r.TransactionId,
		TerminalId:        r.TerminalId,
		StudentId:         r.StudentId,
		VendorId:          r.VendorId,
		SchoolId:          r.SchoolId,
		Amount:            *r.Amount,
		Type:              models.TransactionTypePurchase,
		Status:            models.TransactionStatusCompleted,
		PaymentMethod:     r.PaymentMethod,
		CardBrand:         r.CardBrand,
		Installments:      r.Installments,
		AuthorizationCode: r.AuthorizationCode,
		Nsu:               r.Nsu,
		MetadataJSON:      models.EncodeMetadata(r.Metadata),
		Source:            source,
		TransactionAt:     now,
	}
	if r.Type != "" {
		t.Type = models.TransactionType(r.Type)
	}
	if r.Status != "" {
		t.Status = models.TransactionStatus(r.Status)
	}
	if r.Timestamp != nil && !r.Timestamp.IsZero() {
		t.TransactionAt = r.Timestamp.UTC()
	}
	return t
}

// SyncRequest carries raw items so one malformed element does not fail the
// whole batch.
type SyncRequest struct {
	TerminalId   string            `json:"terminal_id" validate:"required"`
	Transactions []json.RawMessage `json:"transactions" validate:"required"`
}

type StatusRequest struct {
	TerminalId       string  `json:"terminal_id" validate:"required"`
	Status           string  `json:"status" validate:"required,max=32"`
	FirmwareVersion  *string `json:"firmware_version"`
	BatteryLevel     *int    `json:"battery_level" validate:"omitempty,min=0,max=100"`
	ConnectionStatus *string `json:"connection_status"`
}

type TransactionResponse struct {
	Success   bool                `json:"success"`
	Data      *models.Transaction `json:"data"`
	Duplicate bool                `json:"duplicate,omitempty"`
}

type MismatchedItem struct {
	TransactionId string `json:"transaction_id"`
	Code          string `json:"code"`
	Reason        string `json:"reason"`
}

type SyncResponse struct {
	Success    bool             `json:"success"`
	Processed  int              `json:"processed"`
	Inserted   int              `json:"inserted"`
	Updated    int              `json:"updated"`
	Mismatched []MismatchedItem `json:"mismatched"`
}

type ConfigResponse struct {
	TerminalId            string   `json:"terminal_id"`
	SyncIntervalSeconds   int      `json:"sync_interval_seconds"`
	AllowedPaymentMethods []string `json:"allowed_payment_methods"`
	PrintReceipt          bool     `json:"print_receipt"`
	TimeoutSeconds        int      `json:"timeout_seconds"`
	Debug                 bool     `json:"debug"`
	APIBaseURL            string   `json:"api_base_url"`
	APIKeyPrefix          string   `json:"api_key_prefix"`
}
