package terminalapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mmdatafocus/terminal_sync/config"
	"github.com/mmdatafocus/terminal_sync/models"
	"github.com/mmdatafocus/terminal_sync/utils"
	"github.com/sirupsen/logrus"
)

type batchResult struct {
	processed  int
	inserted   int
	updated    int
	mismatched []models.TerminalSyncError
}

func (r batchResult) mismatchedItems() []MismatchedItem {
	out := make([]MismatchedItem, 0, len(r.mismatched))
	for _, m := range r.mismatched {
		out = append(out, MismatchedItem{TransactionId: m.TransactionId, Code: m.ErrorCode, Reason: m.Message})
	}
	return out
}

type itemOutcome int

const (
	outcomeSkipped itemOutcome = iota
	outcomeInserted
	outcomeUpdated
	outcomeUnchanged
	outcomeMismatched
)

// reconcileBatch walks items in order. Items without a transaction_id are
// skipped and not counted as processed.
func (h *Handlers) reconcileBatch(ctx context.Context, terminalId string, items []json.RawMessage) batchResult {
	var res batchResult
	for _, raw := range items {
		outcome, mismatch := h.reconcileItem(ctx, terminalId, raw)
		if outcome == outcomeSkipped {
			continue
		}
		res.processed++
		switch outcome {
		case outcomeInserted:
			res.inserted++
		case outcomeUpdated:
			res.updated++
		case outcomeMismatched:
			mismatch.TerminalId = terminalId
			mismatch.PayloadJSON = append([]byte(nil), raw...)
			res.mismatched = append(res.mismatched, *mismatch)
		}
	}
	return res
}

func (h *Handlers) reconcileItem(ctx context.Context, terminalId string, raw json.RawMessage) (itemOutcome, *models.TerminalSyncError) {
	var head struct {
		TransactionId string `json:"transaction_id"`
	}
	// A non-object element carries no id and is skipped like one without it.
	if err := json.Unmarshal(raw, &head); err != nil || strings.TrimSpace(head.TransactionId) == "" {
		return outcomeSkipped, nil
	}
	transactionId := strings.TrimSpace(head.TransactionId)

	var item TransactionRequest
	if err := json.Unmarshal(raw, &item); err != nil {
		return outcomeMismatched, mismatch(transactionId, models.SyncErrorInvalidValue, "invalid transaction payload")
	}
	item.normalize()
	if item.TerminalId == "" {
		item.TerminalId = terminalId
	}
	if item.TerminalId != terminalId {
		return outcomeMismatched, mismatch(transactionId, models.SyncErrorInvalidValue, "terminal_id does not match batch")
	}

	sctx, cancel := h.storeCtx(ctx)
	existing, err := h.Store.GetTransaction(sctx, transactionId)
	cancel()
	switch {
	case err == nil:
		return h.reconcileExisting(ctx, terminalId, existing, &item)
	case !errors.Is(err, models.ErrTransactionNotFound):
		config.LogError(h.Logger, "terminalapi", "reconcileItem", "GetTransaction", transactionId, err)
		return outcomeMismatched, mismatch(transactionId, models.SyncErrorLookupFailed, "failed to look up transaction")
	}

	if err := utils.ValidateStruct(&item); err != nil {
		if missing := utils.MissingFields(err); len(missing) > 0 {
			return outcomeMismatched, mismatch(transactionId, models.SyncErrorMissingFields, "missing required fields: "+strings.Join(missing, ", "))
		}
		return outcomeMismatched, mismatch(transactionId, models.SyncErrorInvalidValue, "invalid fields: "+strings.Join(utils.InvalidFields(err), ", "))
	}
	if item.Amount.IsNegative() {
		return outcomeMismatched, mismatch(transactionId, models.SyncErrorInvalidValue, "invalid fields: amount")
	}
	if !schoolMatches(ctx, item.SchoolId) {
		return outcomeMismatched, mismatch(transactionId, models.SyncErrorInvalidValue, "school_id does not match credential")
	}

	tx := item.toModel(models.TransactionSourceTerminalSync, h.now())
	sctx, cancel = h.storeCtx(ctx)
	err = h.Store.CreateTransaction(sctx, tx)
	cancel()
	if err == nil {
		return outcomeInserted, nil
	}
	if errors.Is(err, models.ErrDuplicateTransaction) {
		// Lost an insert race with /process or another sync; treat as known.
		sctx, cancel = h.storeCtx(ctx)
		existing, gerr := h.Store.GetTransaction(sctx, transactionId)
		cancel()
		if gerr == nil {
			return h.reconcileExisting(ctx, terminalId, existing, &item)
		}
		err = gerr
	}
	config.LogError(h.Logger, "terminalapi", "reconcileItem", "CreateTransaction", transactionId, err)
	return outcomeMismatched, mismatch(transactionId, models.SyncErrorInsertFailed, "failed to store transaction")
}

// reconcileExisting updates the stored status when the terminal reports a
// different non-empty one. Other fields of a stored transaction never change,
// and a batch may only touch transactions of its own terminal.
func (h *Handlers) reconcileExisting(ctx context.Context, terminalId string, existing *models.Transaction, item *TransactionRequest) (itemOutcome, *models.TerminalSyncError) {
	if existing.TerminalId != "" && existing.TerminalId != terminalId {
		return outcomeMismatched, mismatch(existing.TransactionId, models.SyncErrorInvalidValue, "transaction belongs to another terminal")
	}
	if item.Status == "" || models.TransactionStatus(item.Status) == existing.Status {
		return outcomeUnchanged, nil
	}
	status := models.TransactionStatus(item.Status)
	if !status.IsValid() {
		return outcomeMismatched, mismatch(existing.TransactionId, models.SyncErrorInvalidValue, "invalid fields: status")
	}
	sctx, cancel := h.storeCtx(ctx)
	_, err := h.Store.UpdateTransactionStatus(sctx, existing.TransactionId, status)
	cancel()
	if err != nil {
		config.LogError(h.Logger, "terminalapi", "reconcileExisting", "UpdateTransactionStatus", existing.TransactionId, err)
		return outcomeMismatched, mismatch(existing.TransactionId, models.SyncErrorUpdateFailed, "failed to update transaction status")
	}
	return outcomeUpdated, nil
}

func mismatch(transactionId, code, message string) *models.TerminalSyncError {
	return &models.TerminalSyncError{TransactionId: transactionId, ErrorCode: code, Message: message}
}

// recordRun persists the audit trail of one /sync call and hands it to the
// archive sink. Neither affects the response.
func (h *Handlers) recordRun(ctx context.Context, terminalId string, received int, res batchResult, started, finished time.Time) {
	schoolId, _ := utils.GetSchoolIdFromContext(ctx)
	cid, _ := utils.GetCorrelationIdFromContext(ctx)
	run := &models.TerminalSyncRun{
		TerminalId:    terminalId,
		SchoolId:      schoolId,
		Status:        models.SyncRunStatus(res.processed, len(res.mismatched)),
		Received:      received,
		Processed:     res.processed,
		Inserted:      res.inserted,
		Updated:       res.updated,
		Mismatched:    len(res.mismatched),
		CorrelationId: cid,
		StartedAt:     started,
		FinishedAt:    &finished,
		DurationMs:    finished.Sub(started).Milliseconds(),
	}

	sctx, cancel := h.storeCtx(ctx)
	err := h.Store.RecordSyncRun(sctx, run, res.mismatched)
	cancel()
	if err != nil {
		config.LogError(h.Logger, "terminalapi", "recordRun", "RecordSyncRun", terminalId, err)
	}

	h.Logger.WithFields(logrus.Fields{
		"terminal_id":    terminalId,
		"correlation_id": cid,
		"status":         run.Status,
		"processed":      run.Processed,
		"inserted":       run.Inserted,
		"updated":        run.Updated,
		"mismatched":     run.Mismatched,
	}).Info("terminal sync finished")

	if h.Audit != nil {
		items := res.mismatchedItems()
		go func() {
			actx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			if err := h.Audit.ArchiveSyncRun(actx, run, items); err != nil {
				config.LogError(h.Logger, "terminalapi", "recordRun", "ArchiveSyncRun", fmt.Sprintf("%s/%d", terminalId, run.ID), err)
			}
		}()
	}
}
