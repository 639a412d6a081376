package terminalapi

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mmdatafocus/terminal_sync/config"
	"github.com/mmdatafocus/terminal_sync/middlewares"
	"github.com/mmdatafocus/terminal_sync/models"
	"github.com/mmdatafocus/terminal_sync/utils"
	"github.com/sirupsen/logrus"
)

// Store is the persistence the terminal routes need. *models.Store
// satisfies it.
type Store interface {
	middlewares.CredentialStore
	TouchTerminal(ctx context.Context, terminalId string, upd models.TerminalHealthUpdate) error
	GetTerminalConfig(ctx context.Context, terminalId string) (*models.TerminalConfig, error)
	CreateTransaction(ctx context.Context, t *models.Transaction) error
	GetTransaction(ctx context.Context, transactionId string) (*models.Transaction, error)
	UpdateTransactionStatus(ctx context.Context, transactionId string, status models.TransactionStatus) (*models.Transaction, error)
	RecordSyncRun(ctx context.Context, run *models.TerminalSyncRun, errs []models.TerminalSyncError) error
}

var _ Store = (*models.Store)(nil)

type Handlers struct {
	Store        Store
	Logger       *logrus.Logger
	StoreTimeout time.Duration
	// PublicURL is reported as api_base_url when the terminal config has none.
	PublicURL string
	Locker    SyncLocker
	Audit     SyncAuditSink
	Now       func() time.Time
}

func (h *Handlers) now() time.Time {
	if h.Now != nil {
		return h.Now().UTC()
	}
	return time.Now().UTC()
}

func (h *Handlers) storeCtx(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, h.StoreTimeout)
}

// ProcessTransaction records one live transaction. A transaction_id that is
// already stored answers 200 with the stored record and duplicate=true.
func (h *Handlers) ProcessTransaction() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req TransactionRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, "invalid request", nil)
			return
		}
		req.normalize()
		if ok := validateTransaction(c, &req); !ok {
			return
		}
		if !terminalAllowed(c, req.TerminalId) {
			return
		}
		if !schoolMatches(c.Request.Context(), req.SchoolId) {
			c.JSON(http.StatusForbidden, gin.H{"success": false, "error": "school_id does not match credential"})
			return
		}

		ctx := c.Request.Context()
		tx := req.toModel(models.TransactionSourceTerminalProcess, h.now())
		sctx, cancel := h.storeCtx(ctx)
		err := h.Store.CreateTransaction(sctx, tx)
		cancel()
		duplicate := false
		if err != nil {
			if !errors.Is(err, models.ErrDuplicateTransaction) {
				h.internalError(c, "ProcessTransaction", "CreateTransaction", req.TransactionId, err, "failed to process transaction")
				return
			}
			sctx, cancel := h.storeCtx(ctx)
			existing, gerr := h.Store.GetTransaction(sctx, req.TransactionId)
			cancel()
			if gerr != nil {
				if errors.Is(gerr, models.ErrTransactionNotFound) {
					c.JSON(http.StatusConflict, gin.H{"success": false, "error": "transaction_id already exists"})
					return
				}
				h.internalError(c, "ProcessTransaction", "GetTransaction", req.TransactionId, gerr, "failed to process transaction")
				return
			}
			tx, duplicate = existing, true
		}

		h.touchTerminal(ctx, req.TerminalId, models.TerminalHealthUpdate{LastSyncAt: ptrTime(h.now())})
		c.JSON(http.StatusOK, TransactionResponse{Success: true, Data: tx, Duplicate: duplicate})
	}
}

// SyncTransactions reconciles a batch of terminal-held transactions. It
// answers 200 even when individual items fail; those are listed in
// mismatched.
func (h *Handlers) SyncTransactions() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req SyncRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, "invalid request", nil)
			return
		}
		req.TerminalId = strings.TrimSpace(req.TerminalId)
		if err := utils.ValidateStruct(&req); err != nil {
			badRequest(c, "missing required fields", utils.MissingFields(err))
			return
		}
		if !terminalAllowed(c, req.TerminalId) {
			return
		}

		ctx := c.Request.Context()
		if h.Locker != nil {
			release, err := h.Locker.LockTerminal(ctx, req.TerminalId)
			if err != nil {
				// Reconciliation is idempotent; run unlocked rather than fail the batch.
				h.Logger.WithFields(logrus.Fields{"terminal_id": req.TerminalId, "error": err}).Warn("terminal sync lock not obtained")
			} else {
				defer release()
			}
		}

		started := h.now()
		result := h.reconcileBatch(ctx, req.TerminalId, req.Transactions)
		finished := h.now()

		h.touchTerminal(ctx, req.TerminalId, models.TerminalHealthUpdate{
			Status:     ptrString(models.TerminalStatusActive),
			LastSyncAt: &finished,
		})
		h.recordRun(ctx, req.TerminalId, len(req.Transactions), result, started, finished)

		c.JSON(http.StatusOK, SyncResponse{
			Success:    true,
			Processed:  result.processed,
			Inserted:   result.inserted,
			Updated:    result.updated,
			Mismatched: result.mismatchedItems(),
		})
	}
}

// UpdateStatus records terminal health telemetry.
func (h *Handlers) UpdateStatus() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req StatusRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, "invalid request", nil)
			return
		}
		req.TerminalId = strings.TrimSpace(req.TerminalId)
		req.Status = strings.TrimSpace(req.Status)
		if err := utils.ValidateStruct(&req); err != nil {
			if missing := utils.MissingFields(err); len(missing) > 0 {
				badRequest(c, "missing required fields", missing)
				return
			}
			badRequest(c, "invalid fields", utils.InvalidFields(err))
			return
		}
		if !terminalAllowed(c, req.TerminalId) {
			return
		}

		ctx := c.Request.Context()
		sctx, cancel := h.storeCtx(ctx)
		_, err := h.Store.GetTerminal(sctx, req.TerminalId)
		cancel()
		if err != nil {
			if errors.Is(err, models.ErrTerminalNotFound) {
				notFound(c, "terminal not found")
				return
			}
			h.internalError(c, "UpdateStatus", "GetTerminal", req.TerminalId, err, "failed to update terminal status")
			return
		}

		now := h.now()
		sctx, cancel = h.storeCtx(ctx)
		err = h.Store.TouchTerminal(sctx, req.TerminalId, models.TerminalHealthUpdate{
			Status:           &req.Status,
			LastSyncAt:       &now,
			FirmwareVersion:  utils.TrimPtr(req.FirmwareVersion),
			BatteryLevel:     req.BatteryLevel,
			ConnectionStatus: utils.TrimPtr(req.ConnectionStatus),
		})
		cancel()
		if err != nil {
			h.internalError(c, "UpdateStatus", "TouchTerminal", req.TerminalId, err, "failed to update terminal status")
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true})
	}
}

// GetConfig returns the terminal's runtime configuration. The raw API key is
// never echoed; only its display prefix.
func (h *Handlers) GetConfig() gin.HandlerFunc {
	return func(c *gin.Context) {
		terminalId := strings.TrimSpace(c.Query("terminal_id"))
		if terminalId == "" {
			badRequest(c, "missing required fields", []string{"terminal_id"})
			return
		}
		if !terminalAllowed(c, terminalId) {
			return
		}

		ctx := c.Request.Context()
		sctx, cancel := h.storeCtx(ctx)
		_, err := h.Store.GetTerminal(sctx, terminalId)
		cancel()
		if err != nil {
			if errors.Is(err, models.ErrTerminalNotFound) {
				notFound(c, "terminal not found")
				return
			}
			h.internalError(c, "GetConfig", "GetTerminal", terminalId, err, "failed to load terminal config")
			return
		}

		sctx, cancel = h.storeCtx(ctx)
		cfg, err := h.Store.GetTerminalConfig(sctx, terminalId)
		cancel()
		if err != nil {
			h.internalError(c, "GetConfig", "GetTerminalConfig", terminalId, err, "failed to load terminal config")
			return
		}

		baseURL := cfg.APIBaseURL
		if baseURL == "" {
			baseURL = h.PublicURL
		}
		c.JSON(http.StatusOK, gin.H{
			"success": true,
			"config": ConfigResponse{
				TerminalId:            terminalId,
				SyncIntervalSeconds:   cfg.SyncIntervalSeconds,
				AllowedPaymentMethods: cfg.AllowedPaymentMethods(),
				PrintReceipt:          cfg.PrintReceipt,
				TimeoutSeconds:        cfg.TimeoutSeconds,
				Debug:                 cfg.Debug,
				APIBaseURL:            baseURL,
				APIKeyPrefix:          c.GetString(middlewares.GinKeyCredentialPrefix),
			},
		})
	}
}

// touchTerminal is advisory; failures are logged and never fail the request.
func (h *Handlers) touchTerminal(ctx context.Context, terminalId string, upd models.TerminalHealthUpdate) {
	sctx, cancel := h.storeCtx(ctx)
	defer cancel()
	if err := h.Store.TouchTerminal(sctx, terminalId, upd); err != nil {
		config.LogError(h.Logger, "terminalapi", "touchTerminal", "TouchTerminal", terminalId, err)
	}
}

func validateTransaction(c *gin.Context, req *TransactionRequest) bool {
	if err := utils.ValidateStruct(req); err != nil {
		if missing := utils.MissingFields(err); len(missing) > 0 {
			badRequest(c, "missing required fields", missing)
			return false
		}
		badRequest(c, "invalid fields", utils.InvalidFields(err))
		return false
	}
	if req.Amount.IsNegative() {
		badRequest(c, "invalid fields", []string{"amount"})
		return false
	}
	return true
}

// terminalAllowed rejects a terminal_id that a terminal-bound credential may
// not act for. School gateway keys may act for any terminal of their school.
func terminalAllowed(c *gin.Context, terminalId string) bool {
	bound, ok := utils.GetTerminalIdFromContext(c.Request.Context())
	if ok && bound != "" && bound != terminalId {
		c.JSON(http.StatusForbidden, gin.H{"success": false, "error": "terminal_id does not match credential"})
		return false
	}
	return true
}

// schoolMatches reports whether schoolId belongs to the authenticated school.
func schoolMatches(ctx context.Context, schoolId string) bool {
	own, ok := utils.GetSchoolIdFromContext(ctx)
	return !ok || own == "" || own == schoolId
}

func (h *Handlers) internalError(c *gin.Context, funcName, step string, data any, err error, message string) {
	cid, _ := utils.GetCorrelationIdFromContext(c.Request.Context())
	config.LogError(h.Logger, "terminalapi", funcName, step, data, err)
	c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": message, "correlation_id": cid})
}

func badRequest(c *gin.Context, message string, fields []string) {
	body := gin.H{"success": false, "error": message}
	if len(fields) > 0 {
		body["fields"] = fields
	}
	c.JSON(http.StatusBadRequest, body)
}

func notFound(c *gin.Context, message string) {
	c.JSON(http.StatusNotFound, gin.H{"success": false, "error": message})
}

func ptrTime(t time.Time) *time.Time { return &t }

func ptrString(s string) *string { return &s }
