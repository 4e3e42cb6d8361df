package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// ContractBalance 合同付款余额（只读汇总）
type ContractBalance struct {
	ContractID       string          `db:"contract_id" json:"contract_id"`
	ContractCode     string          `db:"contract_code" json:"contract_code"`
	ContractValue    decimal.Decimal `db:"contract_value" json:"contract_value"`
	CertificateCount int             `db:"certificate_count" json:"certificate_count"`
	CertifiedGross   decimal.Decimal `db:"certified_gross" json:"certified_gross"`
	CertifiedNet     decimal.Decimal `db:"certified_net" json:"certified_net"`
	RetentionHeld    decimal.Decimal `db:"retention_held" json:"retention_held"`
	AdvanceRecovered decimal.Decimal `db:"advance_recovered" json:"advance_recovered"`
	AmountPaid       decimal.Decimal `db:"amount_paid" json:"amount_paid"`
	Outstanding      decimal.Decimal `db:"outstanding" json:"outstanding"`
	LatestSequence   int             `db:"latest_sequence" json:"latest_sequence"`
}

// CertificateStatusRow 证书状态摘要
type CertificateStatusRow struct {
	ID          string          `db:"id" json:"id"`
	Sequence    int             `db:"sequence" json:"sequence"`
	Code        string          `db:"code" json:"code"`
	Status      string          `db:"status" json:"status"`
	GrossAmount decimal.Decimal `db:"gross_amount" json:"gross_amount"`
	NetAmount   decimal.Decimal `db:"net_amount" json:"net_amount"`
	AmountPaid  decimal.Decimal `db:"amount_paid" json:"amount_paid"`
}

// ReadModel 无锁只读查询。写事务进行中也可并发读取；txOpts 为 nil 时使用驱动默认隔离级别
type ReadModel struct {
	db     *sqlx.DB
	txOpts *sql.TxOptions
}

// NewReadModel 复用 gorm 的连接池
func NewReadModel(gdb *gorm.DB, txOpts *sql.TxOptions) (*ReadModel, error) {
	sqlDB, err := gdb.DB()
	if err != nil {
		return nil, err
	}
	driver := "postgres"
	if gdb.Dialector.Name() == "sqlite" {
		driver = "sqlite3"
	}
	return &ReadModel{db: sqlx.NewDb(sqlDB, driver), txOpts: txOpts}, nil
}

// SnapshotTxOptions postgres 下使用的可重复读只读事务
func SnapshotTxOptions() *sql.TxOptions {
	return &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true}
}

const certifiedStatuses = "'certified','paid','disputed'"

// ContractBalance 汇总已认证证书与付款
func (m *ReadModel) ContractBalance(ctx context.Context, contractID string) (*ContractBalance, error) {
	var out ContractBalance
	err := m.snapshot(ctx, func(tx *sqlx.Tx) error {
		q := tx.Rebind(fmt.Sprintf(`
			SELECT c.id AS contract_id,
			       c.code AS contract_code,
			       c.contract_value,
			       (SELECT COUNT(*) FROM interim_payments i
			         WHERE i.contract_id = c.id AND i.status <> 'cancelled') AS certificate_count,
			       (SELECT COALESCE(SUM(i.gross_amount), 0) FROM interim_payments i
			         WHERE i.contract_id = c.id AND i.status IN (%[1]s)
			           AND COALESCE(i.dispute_resolution, '') <> 'superseded') AS certified_gross,
			       (SELECT COALESCE(SUM(i.net_amount), 0) FROM interim_payments i
			         WHERE i.contract_id = c.id AND i.status IN (%[1]s)
			           AND COALESCE(i.dispute_resolution, '') <> 'superseded') AS certified_net,
			       (SELECT COALESCE(SUM(i.retention_amount), 0) FROM interim_payments i
			         WHERE i.contract_id = c.id AND i.status IN (%[1]s)
			           AND COALESCE(i.dispute_resolution, '') <> 'superseded') AS retention_held,
			       (SELECT COALESCE(SUM(i.advance_recovery_amount), 0) FROM interim_payments i
			         WHERE i.contract_id = c.id AND i.status IN (%[1]s)
			           AND COALESCE(i.dispute_resolution, '') <> 'superseded') AS advance_recovered,
			       (SELECT COALESCE(SUM(p.amount_paid), 0) FROM payment_statuses p
			         WHERE p.contract_id = c.id) AS amount_paid,
			       (SELECT COALESCE(MAX(i.sequence), 0) FROM interim_payments i
			         WHERE i.contract_id = c.id) AS latest_sequence
			  FROM contracts c
			 WHERE c.id = ?`, certifiedStatuses))
		if err := tx.GetContext(ctx, &out, q, contractID); err != nil {
			if err == sql.ErrNoRows {
				return notFound(gorm.ErrRecordNotFound, "contract", contractID)
			}
			return err
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	out.Outstanding = out.CertifiedNet.Sub(out.AmountPaid)
	return &out, nil
}

// CertificateStatuses 合同证书状态列表
func (m *ReadModel) CertificateStatuses(ctx context.Context, contractID string) ([]CertificateStatusRow, error) {
	var rows []CertificateStatusRow
	err := m.snapshot(ctx, func(tx *sqlx.Tx) error {
		q := tx.Rebind(`
			SELECT i.id, i.sequence, i.code, i.status, i.gross_amount, i.net_amount,
			       COALESCE(p.amount_paid, 0) AS amount_paid
			  FROM interim_payments i
			  LEFT JOIN payment_statuses p
			    ON p.payable_type = 'interim_payment' AND p.payable_id = i.id
			 WHERE i.contract_id = ?
			 ORDER BY i.sequence ASC`)
		return tx.SelectContext(ctx, &rows, q, contractID)
	})
	return rows, err
}

func (m *ReadModel) snapshot(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := m.db.BeginTxx(ctx, m.txOpts)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}
