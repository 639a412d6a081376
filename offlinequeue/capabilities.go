package offlinequeue

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// RandomSource mints queue-local ids.
type RandomSource interface {
	NewID() (string, error)
}

// ConnectivitySignal reports whether the remote is reachable. Subscribe
// delivers the latest state after each change until ctx is done, then the
// channel is closed.
type ConnectivitySignal interface {
	Online() bool
	Subscribe(ctx context.Context) <-chan bool
}

// DurableKeyValueStore persists the pending list. Set must replace the value
// atomically.
type DurableKeyValueStore interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte) error
}

// RemoteStore inserts one transaction keyed by TransactionId. An already
// stored TransactionId is reported as ErrDuplicate.
type RemoteStore interface {
	InsertTransaction(ctx context.Context, tx Transaction) error
}

// Guard serializes Sync across processes sharing one durable store.
type Guard interface {
	Acquire(ctx context.Context) (release func(), err error)
}

type Clock func() time.Time

type UUIDSource struct{}

func (UUIDSource) NewID() (string, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return "", err
	}
	return id.String(), nil
}
