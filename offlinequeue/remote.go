package offlinequeue

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mmdatafocus/terminal_sync/config"
	"github.com/mmdatafocus/terminal_sync/models"
	"golang.org/x/time/rate"
)

// Defaults applied when a queued item does not carry its own value.
type Defaults struct {
	TerminalId    string
	SchoolId      string
	VendorId      string
	PaymentMethod string
}

func (d Defaults) pick(v, def string) string {
	if v != "" {
		return v
	}
	return def
}

// HTTPRemote delivers items to the terminal API /process route.
type HTTPRemote struct {
	baseURL  string
	apiKey   string
	defaults Defaults
	http     *http.Client
	limiter  *rate.Limiter
}

// NewHTTPRemote builds a client for baseURL (the API base path, e.g.
// https://host/terminal-api). OFFLINE_QUEUE_RATE_LIMIT_PER_MIN bounds the
// request rate.
func NewHTTPRemote(baseURL, apiKey string, defaults Defaults) (*HTTPRemote, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, errors.New("terminal api base url is empty")
	}
	if strings.TrimSpace(apiKey) == "" {
		return nil, errors.New("terminal api key is empty")
	}
	perMin := config.EnvInt("OFFLINE_QUEUE_RATE_LIMIT_PER_MIN", 120)
	if perMin <= 0 {
		perMin = 120
	}
	if defaults.PaymentMethod == "" {
		defaults.PaymentMethod = "cash"
	}
	return &HTTPRemote{
		baseURL:  baseURL,
		apiKey:   strings.TrimSpace(apiKey),
		defaults: defaults,
		http:     &http.Client{Timeout: 30 * time.Second},
		limiter:  rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMin)), 1),
	}, nil
}

type processRequest struct {
	TerminalId    string                 `json:"terminal_id"`
	TransactionId string                 `json:"transaction_id"`
	Amount        string                 `json:"amount"`
	PaymentMethod string                 `json:"payment_method"`
	VendorId      string                 `json:"vendor_id"`
	SchoolId      string                 `json:"school_id"`
	StudentId     *string                `json:"student_id,omitempty"`
	Type          string                 `json:"type"`
	Timestamp     time.Time              `json:"timestamp"`
	Metadata      map[string]interface{} `json:"metadata,omitempty"`
}

type processResponse struct {
	Success   bool   `json:"success"`
	Duplicate bool   `json:"duplicate"`
	Error     string `json:"error"`
}

func (c *HTTPRemote) InsertTransaction(ctx context.Context, tx Transaction) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}
	body := processRequest{
		TerminalId:    c.defaults.pick(tx.DeviceId, c.defaults.TerminalId),
		TransactionId: tx.TransactionId,
		Amount:        tx.Amount.String(),
		PaymentMethod: c.defaults.pick(tx.PaymentMethod, c.defaults.PaymentMethod),
		VendorId:      c.defaults.pick(tx.VendorId, c.defaults.VendorId),
		SchoolId:      c.defaults.pick(tx.SchoolId, c.defaults.SchoolId),
		Type:          tx.Type,
		Timestamp:     tx.CreatedAt,
		Metadata:      tx.Metadata,
	}
	if tx.StudentId != "" {
		body.StudentId = &tx.StudentId
	}
	raw, err := json.Marshal(body)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/process", bytes.NewReader(raw))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("x-correlation-id", uuid.NewString())

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if resp.StatusCode == http.StatusConflict {
		return ErrDuplicate
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("terminal api error %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
	}
	var parsed processResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return fmt.Errorf("terminal api response: %w", err)
	}
	if parsed.Duplicate {
		return ErrDuplicate
	}
	return nil
}

// TransactionWriter is the slice of models.Store the DB remote needs.
type TransactionWriter interface {
	CreateTransaction(ctx context.Context, t *models.Transaction) error
}

// DBRemote writes straight to the transactions table, for hosts that sit
// next to the database (kiosks, back-office batch capture).
type DBRemote struct {
	Store    TransactionWriter
	Defaults Defaults
}

func (r *DBRemote) InsertTransaction(ctx context.Context, tx Transaction) error {
	paymentMethod := r.Defaults.pick(tx.PaymentMethod, r.Defaults.PaymentMethod)
	if paymentMethod == "" {
		paymentMethod = "cash"
	}
	var studentId *string
	if tx.StudentId != "" {
		studentId = &tx.StudentId
	}
	err := r.Store.CreateTransaction(ctx, &models.Transaction{
		TransactionId: tx.TransactionId,
		TerminalId:    r.Defaults.pick(tx.DeviceId, r.Defaults.TerminalId),
		StudentId:     studentId,
		VendorId:      r.Defaults.pick(tx.VendorId, r.Defaults.VendorId),
		SchoolId:      r.Defaults.pick(tx.SchoolId, r.Defaults.SchoolId),
		Amount:        tx.Amount,
		Type:          models.TransactionType(tx.Type),
		Status:        models.TransactionStatusCompleted,
		PaymentMethod: paymentMethod,
		MetadataJSON:  models.EncodeMetadata(tx.Metadata),
		Source:        models.TransactionSourceOfflineQueue,
		TransactionAt: tx.CreatedAt,
	})
	if errors.Is(err, models.ErrDuplicateTransaction) {
		return ErrDuplicate
	}
	return err
}
