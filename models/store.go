package models

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mmdatafocus/terminal_sync/config"
	"github.com/mmdatafocus/terminal_sync/utils"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var tracer = otel.Tracer("github.com/mmdatafocus/terminal_sync/models")

const terminalConfigCacheTTL = 5 * time.Minute

// Store is the MySQL-backed transaction store and terminal registry.
type Store struct {
	DB *gorm.DB
}

func NewStore(db *gorm.DB) *Store {
	return &Store{DB: db}
}

func (s *Store) db(ctx context.Context) *gorm.DB {
	return s.DB.WithContext(ctx)
}

func spanErr(span trace.Span, err error) error {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

func (s *Store) FindCredentialByHash(ctx context.Context, keyHash string) (*TerminalCredential, error) {
	ctx, span := tracer.Start(ctx, "Store.FindCredentialByHash")
	defer span.End()

	var cred TerminalCredential
	err := s.db(ctx).Where("key_hash = ? AND revoked_at IS NULL", keyHash).Take(&cred).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrCredentialNotFound
		}
		return nil, spanErr(span, err)
	}
	return &cred, nil
}

func (s *Store) TouchCredential(ctx context.Context, id uint, at time.Time) error {
	return s.db(ctx).Model(&TerminalCredential{}).Where("id = ?", id).Update("last_used_at", at).Error
}

func (s *Store) CreateCredential(ctx context.Context, cred *TerminalCredential) error {
	return s.db(ctx).Create(cred).Error
}

// IssueCredential mints a key for terminalId (empty for a school gateway key)
// and stores only its hash. With rotate set, the terminal's active keys are
// revoked in the same DB transaction. The raw key is returned once.
func (s *Store) IssueCredential(ctx context.Context, terminalId, schoolId string, rotate bool) (string, *TerminalCredential, error) {
	rawKey, keyHash, err := utils.GenerateAPIKey()
	if err != nil {
		return "", nil, err
	}
	cred := &TerminalCredential{
		TerminalId: terminalId,
		SchoolId:   schoolId,
		KeyPrefix:  utils.APIKeyPrefix(rawKey),
		KeyHash:    keyHash,
	}
	err = s.db(ctx).Transaction(func(tx *gorm.DB) error {
		if rotate && terminalId != "" {
			if err := tx.Model(&TerminalCredential{}).
				Where("terminal_id = ? AND revoked_at IS NULL", terminalId).
				Update("revoked_at", time.Now().UTC()).Error; err != nil {
				return err
			}
		}
		return tx.Create(cred).Error
	})
	if err != nil {
		return "", nil, err
	}
	return rawKey, cred, nil
}

// RevokeCredentialByPrefix revokes the active key shown as prefix.
func (s *Store) RevokeCredentialByPrefix(ctx context.Context, prefix string) (int64, error) {
	res := s.db(ctx).Model(&TerminalCredential{}).
		Where("key_prefix = ? AND revoked_at IS NULL", prefix).
		Update("revoked_at", time.Now().UTC())
	return res.RowsAffected, res.Error
}

// RevokeCredentials revokes every active key of a terminal and returns how many were revoked.
func (s *Store) RevokeCredentials(ctx context.Context, terminalId string) (int64, error) {
	res := s.db(ctx).Model(&TerminalCredential{}).
		Where("terminal_id = ? AND revoked_at IS NULL", terminalId).
		Update("revoked_at", time.Now().UTC())
	return res.RowsAffected, res.Error
}

func (s *Store) GetTerminal(ctx context.Context, terminalId string) (*Terminal, error) {
	ctx, span := tracer.Start(ctx, "Store.GetTerminal")
	defer span.End()

	var t Terminal
	err := s.db(ctx).Where("terminal_id = ?", terminalId).Take(&t).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrTerminalNotFound
		}
		return nil, spanErr(span, err)
	}
	return &t, nil
}

func (s *Store) CreateTerminal(ctx context.Context, t *Terminal) error {
	if err := s.db(ctx).Create(t).Error; err != nil {
		if IsDuplicateKeyErr(err) {
			return fmt.Errorf("terminal %q already exists", t.TerminalId)
		}
		return err
	}
	return nil
}

// TouchTerminal applies a health update. Concurrent touches are last-writer-wins.
func (s *Store) TouchTerminal(ctx context.Context, terminalId string, upd TerminalHealthUpdate) error {
	ctx, span := tracer.Start(ctx, "Store.TouchTerminal")
	defer span.End()

	updates := upd.toMap()
	if len(updates) == 0 {
		return nil
	}
	err := s.db(ctx).Model(&Terminal{}).Where("terminal_id = ?", terminalId).Updates(updates).Error
	return spanErr(span, err)
}

// GetTerminalConfig returns the stored config or the defaults when the
// terminal has none. Results are cached in redis when it is connected.
func (s *Store) GetTerminalConfig(ctx context.Context, terminalId string) (*TerminalConfig, error) {
	ctx, span := tracer.Start(ctx, "Store.GetTerminalConfig")
	defer span.End()

	cacheKey := "TerminalConfig:" + terminalId
	var cached TerminalConfig
	if ok, err := config.GetRedisObject(ctx, cacheKey, &cached); err == nil && ok {
		return &cached, nil
	}

	var cfg TerminalConfig
	err := s.db(ctx).Where("terminal_id = ?", terminalId).Take(&cfg).Error
	if err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, spanErr(span, err)
		}
		cfg = DefaultTerminalConfig(terminalId)
	}
	_ = config.SetRedisObject(ctx, cacheKey, cfg, terminalConfigCacheTTL)
	return &cfg, nil
}

func (s *Store) SaveTerminalConfig(ctx context.Context, cfg *TerminalConfig) error {
	err := s.db(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "terminal_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"sync_interval_seconds", "allowed_payment_methods_json", "print_receipt",
			"timeout_seconds", "debug", "api_base_url", "updated_at",
		}),
	}).Create(cfg).Error
	if err != nil {
		return err
	}
	return config.RemoveRedisKey(ctx, "TerminalConfig:"+cfg.TerminalId)
}

// CreateTransaction inserts t and its outbox event in one DB transaction.
// A unique violation on transaction_id is reported as ErrDuplicateTransaction.
func (s *Store) CreateTransaction(ctx context.Context, t *Transaction) error {
	ctx, span := tracer.Start(ctx, "Store.CreateTransaction")
	defer span.End()

	if t.TransactionAt.IsZero() {
		t.TransactionAt = time.Now().UTC()
	}
	err := s.db(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(t).Error; err != nil {
			return err
		}
		return recordTransactionEvent(ctx, tx, TransactionEventCreated, t)
	})
	if err != nil {
		if IsDuplicateKeyErr(err) {
			return fmt.Errorf("%w: %s", ErrDuplicateTransaction, t.TransactionId)
		}
		return spanErr(span, err)
	}
	return nil
}

func (s *Store) GetTransaction(ctx context.Context, transactionId string) (*Transaction, error) {
	ctx, span := tracer.Start(ctx, "Store.GetTransaction")
	defer span.End()

	var t Transaction
	err := s.db(ctx).Where("transaction_id = ?", transactionId).Take(&t).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrTransactionNotFound
		}
		return nil, spanErr(span, err)
	}
	return &t, nil
}

// UpdateTransactionStatus sets the status under a row lock and records a
// status_changed event. An unchanged status is a no-op.
func (s *Store) UpdateTransactionStatus(ctx context.Context, transactionId string, status TransactionStatus) (*Transaction, error) {
	ctx, span := tracer.Start(ctx, "Store.UpdateTransactionStatus")
	defer span.End()

	var t Transaction
	err := s.db(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("transaction_id = ?", transactionId).
			Take(&t).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrTransactionNotFound
			}
			return err
		}
		if t.Status == status {
			return nil
		}
		if err := tx.Model(&t).Update("status", status).Error; err != nil {
			return err
		}
		t.Status = status
		return recordTransactionEvent(ctx, tx, TransactionEventStatusChanged, &t)
	})
	if err != nil {
		if errors.Is(err, ErrTransactionNotFound) {
			return nil, err
		}
		return nil, spanErr(span, err)
	}
	return &t, nil
}

// RecordSyncRun stores a /sync audit run with its mismatched items.
func (s *Store) RecordSyncRun(ctx context.Context, run *TerminalSyncRun, errs []TerminalSyncError) error {
	ctx, span := tracer.Start(ctx, "Store.RecordSyncRun")
	defer span.End()

	err := s.db(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(run).Error; err != nil {
			return err
		}
		if len(errs) == 0 {
			return nil
		}
		for i := range errs {
			errs[i].SyncRunId = run.ID
		}
		return tx.CreateInBatches(errs, 100).Error
	})
	return spanErr(span, err)
}
