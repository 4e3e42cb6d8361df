package service

import (
	"context"
	"errors"
	"time"

	"github.com/bitfantasy/nimo-ipc/internal/ipc/repository"
	"github.com/bitfantasy/nimo-ipc/internal/shared/apperr"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// RelayResult 一次投递的结果
type RelayResult struct {
	Dispatched int `json:"dispatched"`
	Failed     int `json:"failed"`
}

// LedgerRelay 将过账发件箱投递给总账服务
type LedgerRelay struct {
	db     *gorm.DB
	sink   LedgerSink
	logger *zap.Logger
}

func NewLedgerRelay(db *gorm.DB, sink LedgerSink, logger *zap.Logger) *LedgerRelay {
	return &LedgerRelay{db: db, sink: sink, logger: logger}
}

// Relay 投递最多 limit 条待处理过账请求；单条失败记录原因后继续
func (r *LedgerRelay) Relay(ctx context.Context, limit int) (*RelayResult, error) {
	if r.sink == nil {
		return nil, &apperr.DependencyError{Source: "ledger sink", Cause: errors.New("not configured")}
	}
	if limit <= 0 {
		limit = 100
	}
	repo := repository.NewLedgerRepository(r.db)
	pending, err := repo.ListPending(ctx, limit)
	if err != nil {
		return nil, err
	}

	res := &RelayResult{}
	for i := range pending {
		p := &pending[i]
		if err := r.sink.Deliver(ctx, p); err != nil {
			res.Failed++
			r.logger.Warn("Ledger posting delivery failed",
				zap.String("posting_id", p.ID),
				zap.String("ipc_id", p.CertificateID),
				zap.Int("attempts", p.Attempts+1),
				zap.Error(err),
			)
			if err := repo.MarkFailed(ctx, p.ID, err); err != nil {
				return res, err
			}
			continue
		}
		if err := repo.MarkDispatched(ctx, p.ID, time.Now()); err != nil {
			return res, err
		}
		res.Dispatched++
	}
	if len(pending) > 0 {
		r.logger.Info("Ledger relay finished", zap.Int("dispatched", res.Dispatched), zap.Int("failed", res.Failed))
	}
	return res, nil
}
