package service

import (
	"context"
	"errors"

	"github.com/bitfantasy/nimo-ipc/internal/ipc/entity"
	"github.com/bitfantasy/nimo-ipc/internal/ipc/repository"
	"github.com/bitfantasy/nimo-ipc/internal/shared/apperr"
	"github.com/bitfantasy/nimo-ipc/internal/shared/engine"
	"gorm.io/gorm"
)

// CertificateView 证书详情：含审批、付款与过账请求
type CertificateView struct {
	*entity.InterimPaymentCertificate
	Approvals []engine.CertificateApproval `json:"approvals"`
	Postings  []entity.LedgerPosting       `json:"postings,omitempty"`
}

var errReadModel = &apperr.DependencyError{Source: "read model", Cause: errors.New("not configured")}

// QueryService 只读查询（不加合同锁）
type QueryService struct {
	db        *gorm.DB
	engine    *engine.Engine
	readModel *repository.ReadModel
}

func NewQueryService(db *gorm.DB, eng *engine.Engine, readModel *repository.ReadModel) *QueryService {
	return &QueryService{db: db, engine: eng, readModel: readModel}
}

// GetCertificate 证书详情
func (s *QueryService) GetCertificate(ctx context.Context, id string) (*CertificateView, error) {
	repos := repository.NewRepositories(s.db)
	ipc, err := repos.Certificate.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	approvals, err := s.engine.Approvals(ctx, s.db, ipc.Ref(), 0)
	if err != nil {
		return nil, err
	}
	if ps, err := repos.Payment.FindByPayable(ctx, entity.EntityTypeInterimPayment, id); err == nil {
		ipc.Payment = ps
	} else if !isNotFound(err) {
		return nil, err
	}
	postings, err := repos.Ledger.ListByCertificate(ctx, id)
	if err != nil {
		return nil, err
	}
	return &CertificateView{InterimPaymentCertificate: ipc, Approvals: approvals, Postings: postings}, nil
}

// ListCertificates 证书分页列表
func (s *QueryService) ListCertificates(ctx context.Context, page, pageSize int, filters map[string]string) ([]entity.InterimPaymentCertificate, int64, error) {
	return repository.NewCertificateRepository(s.db).FindAll(ctx, page, pageSize, filters)
}

// History 证书状态流转记录
func (s *QueryService) History(ctx context.Context, id string) ([]engine.StateTransitionLog, error) {
	ipc, err := repository.NewCertificateRepository(s.db).FindHeader(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.engine.History(ctx, s.db, ipc.Ref())
}

// ContractHistory 合同、变更与最终结算的审计记录
func (s *QueryService) ContractHistory(ctx context.Context, contractID string) ([]engine.StateTransitionLog, error) {
	if _, err := repository.NewContractRepository(s.db).FindByID(ctx, contractID); err != nil {
		return nil, err
	}
	return s.engine.History(ctx, s.db, contractRef(contractID))
}

// ContractBalance 合同累计认证与付款余额
func (s *QueryService) ContractBalance(ctx context.Context, contractID string) (*repository.ContractBalance, error) {
	if s.readModel == nil {
		return nil, errReadModel
	}
	return s.readModel.ContractBalance(ctx, contractID)
}

// CertificateStatuses 合同各期证书状态
func (s *QueryService) CertificateStatuses(ctx context.Context, contractID string) ([]repository.CertificateStatusRow, error) {
	if s.readModel == nil {
		return nil, errReadModel
	}
	return s.readModel.CertificateStatuses(ctx, contractID)
}
