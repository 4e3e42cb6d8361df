package service

import (
	"context"
	"errors"
	"time"

	"github.com/bitfantasy/nimo-ipc/internal/ipc/calc"
	"github.com/bitfantasy/nimo-ipc/internal/ipc/entity"
	"github.com/bitfantasy/nimo-ipc/internal/ipc/repository"
	"github.com/bitfantasy/nimo-ipc/internal/shared/apperr"
	"github.com/bitfantasy/nimo-ipc/internal/shared/engine"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// RecordPaymentRequest 外部付款确认
type RecordPaymentRequest struct {
	Reference string          `json:"reference" binding:"required"`
	Amount    decimal.Decimal `json:"amount"`
	PaidAt    *string         `json:"paid_at"`
}

// PaymentService 付款确认服务：累计付款，结清后触发 pay
type PaymentService struct {
	db     *gorm.DB
	engine *engine.Engine
	tx     *contractTx
	logger *zap.Logger
}

func NewPaymentService(db *gorm.DB, eng *engine.Engine, tx *contractTx, logger *zap.Logger) *PaymentService {
	return &PaymentService{db: db, engine: eng, tx: tx, logger: logger}
}

// Get 证书的应付款状态（含付款记录）
func (s *PaymentService) Get(ctx context.Context, ipcID string) (*entity.PaymentStatus, error) {
	return repository.NewPaymentRepository(s.db).FindByPayable(ctx, entity.EntityTypeInterimPayment, ipcID)
}

// RecordPayment 记录付款。同一 reference 重复提交时返回已有结果
//
// 金额须为正且不超过未付余额；未付余额不为正时（净额为零或负）只接受等于余额的确认。
func (s *PaymentService) RecordPayment(ctx context.Context, ipcID string, req *RecordPaymentRequest, actor engine.Actor) (*entity.PaymentStatus, error) {
	header, err := repository.NewCertificateRepository(s.db).FindHeader(ctx, ipcID)
	if err != nil {
		return nil, err
	}
	paidAt := time.Now()
	if req.PaidAt != nil && *req.PaidAt != "" {
		if paidAt, err = time.Parse("2006-01-02", *req.PaidAt); err != nil {
			return nil, apperr.Invalid("paid_at", "expected YYYY-MM-DD")
		}
	}
	amount := calc.Round(req.Amount)

	var settled bool
	err = s.tx.run(ctx, header.ContractID, func(tx *gorm.DB, repos *repository.Repositories) error {
		ps, err := repos.Payment.FindByPayable(ctx, entity.EntityTypeInterimPayment, ipcID)
		if err != nil && !isNotFound(err) {
			return err
		}

		existing, err := repos.Payment.FindRecordByReference(ctx, req.Reference)
		switch {
		case err == nil:
			if ps == nil || existing.PaymentStatusID != ps.ID {
				return apperr.Invalid("reference", "%s was already used for another payable", req.Reference)
			}
			return nil
		case !isNotFound(err):
			return err
		}

		ipc, err := repos.Certificate.FindHeader(ctx, ipcID)
		if err != nil {
			return err
		}
		if ipc.Status != entity.IPCStatusCertified || ps == nil {
			return stateError(ipc, EventPay, "payments are recorded against certified certificates only")
		}

		outstanding := ps.Outstanding()
		if outstanding.IsPositive() {
			if !amount.IsPositive() || amount.GreaterThan(outstanding) {
				return apperr.Invalid("amount", "must be positive and at most the outstanding %s", outstanding.StringFixed(3))
			}
		} else if !amount.Equal(outstanding) {
			return apperr.Invalid("amount", "certificate nets to %s, confirm exactly that amount", outstanding.StringFixed(3))
		}

		if err := repos.Payment.CreateRecord(ctx, &entity.PaymentRecord{
			ID:              newID(),
			PaymentStatusID: ps.ID,
			Reference:       req.Reference,
			Amount:          amount,
			PaidAt:          paidAt,
			RecordedBy:      actor.ID,
		}); err != nil {
			return err
		}
		ps.AmountPaid = ps.AmountPaid.Add(amount)
		ps.Status = settlementStatus(ps, true)
		if ps.Status == entity.PaymentStatusPaid {
			ps.PaidAt = &paidAt
		}
		if err := repos.Payment.Update(ctx, ps); err != nil {
			return err
		}

		data := map[string]interface{}{
			"reference": req.Reference,
			"amount":    amount.String(),
			"paid":      ps.AmountPaid.String(),
		}
		if ps.Status != entity.PaymentStatusPaid {
			return s.engine.Log(ctx, tx, ipc.Ref(), stateCertified, stateCertified, "payment", actor, data)
		}

		res, err := s.engine.Fire(ctx, tx, ipc.Ref(), EventPay, actor, data)
		if err != nil {
			return err
		}
		paid := res.Entity.(*entity.InterimPaymentCertificate)
		paid.PaidAt = &paidAt
		settled = true
		return repos.Certificate.UpdateHeader(ctx, paid)
	})
	if err != nil {
		return nil, err
	}
	if settled {
		s.logger.Info("Certificate settled", zap.String("ipc_id", ipcID), zap.String("reference", req.Reference))
	}
	return s.Get(ctx, ipcID)
}

// settlementStatus derives the status from the amounts. A payable that nets to zero
// or less is settled only once a confirmation was recorded.
func settlementStatus(ps *entity.PaymentStatus, confirmed bool) string {
	switch {
	case ps.AmountPaid.GreaterThanOrEqual(ps.AmountDue) && (ps.AmountDue.IsPositive() || confirmed):
		return entity.PaymentStatusPaid
	case ps.AmountPaid.IsZero():
		return entity.PaymentStatusPending
	default:
		return entity.PaymentStatusPartiallyPaid
	}
}

func isNotFound(err error) bool {
	return errors.Is(err, apperr.ErrNotFound)
}
