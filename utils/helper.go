package utils

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bsm/redislock"
	"github.com/shopspring/decimal"
)

// safely dereference pointer of type T, nil pointer return zero value or optional default
func DereferencePtr[T any](ptr *T, defaults ...T) T {
	var defaultValue T
	if len(defaults) > 0 {
		defaultValue = defaults[0]
	}
	if ptr == nil {
		return defaultValue
	}
	return *ptr
}

func NilIfEmpty[T comparable](v T) *T {
	var zero T
	if v == zero {
		return nil
	}
	return &v
}

// TrimPtr trims a string pointer and turns blanks into nil.
func TrimPtr(s *string) *string {
	if s == nil {
		return nil
	}
	return NilIfEmpty(strings.TrimSpace(*s))
}

// ParseDecimal converts a string to a decimal.Decimal value.
func ParseDecimal(value string) (decimal.Decimal, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return decimal.Zero, errors.New("empty decimal string")
	}
	return decimal.NewFromString(value)
}

var ErrLockNotObtained = errors.New("could not obtain lock")

// ObtainLock takes a redis lock on lockType:id, retrying linearly until wait
// elapses. The returned release func is safe to call once.
func ObtainLock(ctx context.Context, locker *redislock.Client, lockType, id string, ttl, wait time.Duration) (func(), error) {
	if locker == nil {
		return nil, errors.New("redis lock is nil")
	}
	opts := &redislock.Options{}
	if wait > 0 {
		opts.RetryStrategy = redislock.LimitRetry(redislock.LinearBackoff(100*time.Millisecond), int(wait/(100*time.Millisecond)))
	}
	lock, err := locker.Obtain(ctx, fmt.Sprintf("%s:%s", lockType, id), ttl, opts)
	if errors.Is(err, redislock.ErrNotObtained) {
		return nil, ErrLockNotObtained
	}
	if err != nil {
		return nil, err
	}
	return func() {
		// Context may be done by now; release with a fresh one.
		releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = lock.Release(releaseCtx)
	}, nil
}
