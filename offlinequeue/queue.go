package offlinequeue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mmdatafocus/terminal_sync/config"
	"github.com/mmdatafocus/terminal_sync/utils"
	"github.com/sirupsen/logrus"
)

const (
	DefaultRemoteTimeout = 15 * time.Second
	persistTimeout       = 10 * time.Second
)

type Config struct {
	Store  DurableKeyValueStore
	Remote RemoteStore
	Signal ConnectivitySignal
	IDs    RandomSource
	Guard  Guard
	Logger *logrus.Logger
	Now    Clock
	// Key overrides StorageKey.
	Key           string
	RemoteTimeout time.Duration
}

// Queue captures transactions locally and pushes them to the remote store
// when connectivity allows. Delivery is at-least-once; the remote unique
// TransactionId makes replays harmless.
type Queue struct {
	store         DurableKeyValueStore
	remote        RemoteStore
	signal        ConnectivitySignal
	ids           RandomSource
	guard         Guard
	logger        *logrus.Logger
	now           Clock
	key           string
	remoteTimeout time.Duration

	// mu guards every read-modify-write of the durable list.
	mu      sync.Mutex
	syncing atomic.Bool
}

func NewQueue(cfg Config) (*Queue, error) {
	if cfg.Store == nil {
		return nil, errors.New("offline queue store is nil")
	}
	if cfg.Remote == nil {
		return nil, errors.New("offline queue remote is nil")
	}
	q := &Queue{
		store:         cfg.Store,
		remote:        cfg.Remote,
		signal:        cfg.Signal,
		ids:           cfg.IDs,
		guard:         cfg.Guard,
		logger:        cfg.Logger,
		now:           cfg.Now,
		key:           cfg.Key,
		remoteTimeout: cfg.RemoteTimeout,
	}
	if q.ids == nil {
		q.ids = UUIDSource{}
	}
	if q.logger == nil {
		q.logger = config.GetLogger()
	}
	if q.now == nil {
		q.now = time.Now
	}
	if q.key == "" {
		q.key = StorageKey
	}
	if q.remoteTimeout <= 0 {
		q.remoteTimeout = DefaultRemoteTimeout
	}
	return q, nil
}

// Enqueue validates nt, assigns a local id and appends it as pending.
func (q *Queue) Enqueue(ctx context.Context, nt NewTransaction) (Transaction, error) {
	nt.TransactionId = strings.TrimSpace(nt.TransactionId)
	nt.Type = strings.ToLower(strings.TrimSpace(nt.Type))
	if err := utils.ValidateStruct(&nt); err != nil {
		if missing := utils.MissingFields(err); len(missing) > 0 {
			return Transaction{}, fmt.Errorf("%w: missing %s", ErrInvalidTransaction, strings.Join(missing, ", "))
		}
		return Transaction{}, fmt.Errorf("%w: invalid %s", ErrInvalidTransaction, strings.Join(utils.InvalidFields(err), ", "))
	}
	if nt.Amount.IsNegative() {
		return Transaction{}, fmt.Errorf("%w: invalid amount", ErrInvalidTransaction)
	}

	id, err := q.ids.NewID()
	if err != nil {
		return Transaction{}, err
	}
	tx := Transaction{
		Id:            id,
		TransactionId: nt.TransactionId,
		StudentId:     strings.TrimSpace(nt.StudentId),
		Amount:        nt.Amount,
		Type:          nt.Type,
		Status:        StatusPending,
		DeviceId:      strings.TrimSpace(nt.DeviceId),
		VendorId:      strings.TrimSpace(nt.VendorId),
		SchoolId:      strings.TrimSpace(nt.SchoolId),
		PaymentMethod: strings.TrimSpace(nt.PaymentMethod),
		CreatedAt:     q.now().UTC(),
		Metadata:      nt.Metadata,
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	pending, err := q.load(ctx)
	if err != nil {
		return Transaction{}, err
	}
	for _, p := range pending {
		if p.TransactionId == tx.TransactionId {
			return Transaction{}, fmt.Errorf("%w: %s", ErrAlreadyQueued, tx.TransactionId)
		}
	}
	if err := q.save(ctx, append(pending, tx)); err != nil {
		return Transaction{}, err
	}
	return tx, nil
}

// ListPending returns the durable list as stored.
func (q *Queue) ListPending(ctx context.Context) ([]Transaction, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.load(ctx)
}

// Sync pushes pending items in enqueue order, one at a time. Delivered items
// (including remote duplicates) are removed; failed ones stay for the next
// call. If ctx is cancelled the loop stops, progress so far is persisted and
// ctx.Err() is returned with the partial summary.
func (q *Queue) Sync(ctx context.Context) (SyncSummary, error) {
	if !q.syncing.CompareAndSwap(false, true) {
		return SyncSummary{}, ErrSyncInProgress
	}
	defer q.syncing.Store(false)

	if q.guard != nil {
		release, err := q.guard.Acquire(ctx)
		if err != nil {
			if errors.Is(err, utils.ErrLockNotObtained) {
				return SyncSummary{}, ErrSyncInProgress
			}
			return SyncSummary{}, err
		}
		defer release()
	}

	q.mu.Lock()
	pending, err := q.load(ctx)
	q.mu.Unlock()
	if err != nil {
		return SyncSummary{}, err
	}

	var summary SyncSummary
	delivered := make(map[string]struct{}, len(pending))
	var loopErr error
	for _, tx := range pending {
		if err := ctx.Err(); err != nil {
			loopErr = err
			break
		}
		rctx, cancel := context.WithTimeout(ctx, q.remoteTimeout)
		err := q.remote.InsertTransaction(rctx, tx)
		cancel()
		if err != nil && !errors.Is(err, ErrDuplicate) {
			if ctx.Err() != nil {
				// Interrupted rather than failed; it stays queued.
				loopErr = ctx.Err()
				break
			}
			summary.Failed++
			summary.Failures = append(summary.Failures, SyncFailure{Id: tx.Id, TransactionId: tx.TransactionId, Reason: err.Error()})
			continue
		}
		if err != nil {
			summary.Duplicates++
		}
		summary.Succeeded++
		syncedAt := q.now().UTC()
		tx.Status = StatusSynced
		tx.SyncedAt = &syncedAt
		summary.Synced = append(summary.Synced, tx)
		delivered[tx.Id] = struct{}{}
	}

	if len(delivered) > 0 {
		if err := q.removeDelivered(ctx, delivered); err != nil {
			return summary, err
		}
	}
	return summary, loopErr
}

// removeDelivered rewrites the list without delivered ids. Items enqueued
// while Sync was running are kept. It runs even when ctx is cancelled.
func (q *Queue) removeDelivered(ctx context.Context, delivered map[string]struct{}) error {
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()

	q.mu.Lock()
	defer q.mu.Unlock()
	current, err := q.load(pctx)
	if err != nil {
		return err
	}
	remaining := make([]Transaction, 0, len(current))
	for _, tx := range current {
		if _, ok := delivered[tx.Id]; !ok {
			remaining = append(remaining, tx)
		}
	}
	return q.save(pctx, remaining)
}

// Run syncs once if already online and then on every offline to online
// transition, until ctx is done. Going offline does nothing.
func (q *Queue) Run(ctx context.Context) error {
	if q.signal == nil {
		return errors.New("offline queue has no connectivity signal")
	}
	updates := q.signal.Subscribe(ctx)
	online := q.signal.Online()
	if online {
		q.syncAndLog(ctx, "startup")
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case up, ok := <-updates:
			if !ok {
				return ctx.Err()
			}
			if up && !online {
				q.syncAndLog(ctx, "online")
			}
			online = up
		}
	}
}

func (q *Queue) syncAndLog(ctx context.Context, trigger string) {
	summary, err := q.Sync(ctx)
	fields := logrus.Fields{
		"trigger":    trigger,
		"succeeded":  summary.Succeeded,
		"failed":     summary.Failed,
		"duplicates": summary.Duplicates,
	}
	if err != nil {
		q.logger.WithFields(fields).WithError(err).Warn("offline queue sync incomplete")
		return
	}
	if summary.Failed > 0 {
		q.logger.WithFields(fields).Warn("offline queue sync left items pending")
		return
	}
	q.logger.WithFields(fields).Info("offline queue sync finished")
}

// load reads the durable list. A corrupt value degrades to an empty list.
func (q *Queue) load(ctx context.Context) ([]Transaction, error) {
	raw, ok, err := q.store.Get(ctx, q.key)
	if err != nil {
		return nil, err
	}
	if !ok || len(raw) == 0 {
		return []Transaction{}, nil
	}
	var out []Transaction
	if err := json.Unmarshal(raw, &out); err != nil {
		config.LogError(q.logger, "offlinequeue", "load", "Unmarshal", q.key, err)
		return []Transaction{}, nil
	}
	if out == nil {
		out = []Transaction{}
	}
	return out, nil
}

func (q *Queue) save(ctx context.Context, list []Transaction) error {
	raw, err := json.Marshal(list)
	if err != nil {
		return err
	}
	return q.store.Set(ctx, q.key, raw)
}
