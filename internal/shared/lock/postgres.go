package lock

import (
	"context"
	"fmt"

	"gorm.io/gorm"
)

// PostgresLocker takes a transaction-scoped advisory lock keyed on the contract id.
type PostgresLocker struct {
	opts Options
}

func NewPostgresLocker(opts Options) *PostgresLocker {
	return &PostgresLocker{opts: opts.withDefaults()}
}

// TxScoped implements TxScoped.
func (l *PostgresLocker) TxScoped() {}

func (l *PostgresLocker) Lock(ctx context.Context, tx *gorm.DB, contractID string) (func(), error) {
	err := poll(ctx, l.opts, contractID, func() (bool, error) {
		var acquired bool
		if err := tx.WithContext(ctx).
			Raw("SELECT pg_try_advisory_xact_lock(hashtext(?))", "ipc:"+contractID).
			Scan(&acquired).Error; err != nil {
			return false, fmt.Errorf("advisory lock: %w", err)
		}
		return acquired, nil
	})
	if err != nil {
		return nil, err
	}
	// released by postgres at commit or rollback
	return func() {}, nil
}
