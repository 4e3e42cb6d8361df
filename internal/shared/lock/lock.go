// Package lock serializes writes per contract.
//
// Lock blocks until the key is free, polling until Timeout elapses, and then fails
// with a ContractLockTimeoutError the caller may retry.
package lock

import (
	"context"
	"fmt"
	"time"

	"github.com/bitfantasy/nimo-ipc/internal/shared/apperr"
	"gorm.io/gorm"
)

// Locker acquires a per-contract lock. The returned release func must be called
// only after the guarded transaction has committed or rolled back. Backends that
// ignore tx are taken before the transaction opens; TxScoped backends are taken
// inside it and release on commit or rollback themselves.
type Locker interface {
	Lock(ctx context.Context, tx *gorm.DB, contractID string) (release func(), err error)
}

// TxScoped marks a Locker whose lock lives and dies with the transaction passed to Lock.
type TxScoped interface {
	Locker
	TxScoped()
}

// Options tune lock acquisition.
type Options struct {
	Timeout      time.Duration
	PollInterval time.Duration
	// LeaseTTL bounds how long a crashed holder keeps a redis lock.
	LeaseTTL time.Duration
}

func (o Options) withDefaults() Options {
	if o.Timeout <= 0 {
		o.Timeout = 10 * time.Second
	}
	if o.PollInterval <= 0 {
		o.PollInterval = 50 * time.Millisecond
	}
	if o.LeaseTTL <= 0 {
		o.LeaseTTL = 2 * time.Minute
	}
	return o
}

// ContractLockTimeoutError is returned when the contract lock was not acquired in time.
type ContractLockTimeoutError struct {
	ContractID string
	Waited     time.Duration
}

func (e *ContractLockTimeoutError) Error() string {
	return fmt.Sprintf("contract %s is locked by another operation, gave up after %s", e.ContractID, e.Waited)
}

func (e *ContractLockTimeoutError) Is(target error) bool { return target == apperr.ErrConcurrency }

// poll calls try until it reports success, the timeout elapses or ctx is done.
func poll(ctx context.Context, opts Options, contractID string, try func() (bool, error)) error {
	start := time.Now()
	deadline := start.Add(opts.Timeout)
	wait := opts.PollInterval
	for {
		ok, err := try()
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
		if !time.Now().Add(wait).Before(deadline) {
			return &ContractLockTimeoutError{ContractID: contractID, Waited: time.Since(start)}
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
		if wait < 8*opts.PollInterval {
			wait *= 2
		}
	}
}
