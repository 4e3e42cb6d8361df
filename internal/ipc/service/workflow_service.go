package service

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/bitfantasy/nimo-ipc/internal/ipc/entity"
	"github.com/bitfantasy/nimo-ipc/internal/ipc/repository"
	"github.com/bitfantasy/nimo-ipc/internal/shared/apperr"
	"github.com/bitfantasy/nimo-ipc/internal/shared/engine"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// 证书状态机事件
const (
	EventSubmit      engine.Event = "submit"
	EventStartReview engine.Event = "start_review"
	EventReject      engine.Event = "reject"
	EventCertify     engine.Event = "certify"
	EventPay         engine.Event = "pay"
	EventDispute     engine.Event = "dispute"
	EventCancel      engine.Event = "cancel"
	EventReopen      engine.Event = "reopen"
)

const (
	stateDraft       = engine.State(entity.IPCStatusDraft)
	stateSubmitted   = engine.State(entity.IPCStatusSubmitted)
	stateUnderReview = engine.State(entity.IPCStatusUnderReview)
	stateCertified   = engine.State(entity.IPCStatusCertified)
	statePaid        = engine.State(entity.IPCStatusPaid)
	stateDisputed    = engine.State(entity.IPCStatusDisputed)
	stateCancelled   = engine.State(entity.IPCStatusCancelled)
)

// DecisionRequest 审批决定
type DecisionRequest struct {
	Level    int    `json:"level" binding:"required,min=1"`
	Decision string `json:"decision" binding:"required,oneof=approved rejected"`
	Comment  string `json:"comment"`
}

// ReasonRequest 争议/取消/对账说明
type ReasonRequest struct {
	Reason string `json:"reason" binding:"required"`
}

// WorkflowService 证书审批流程
type WorkflowService struct {
	db       *gorm.DB
	engine   *engine.Engine
	tx       *contractTx
	export   *ExportService
	archiver Archiver
	logger   *zap.Logger
}

func NewWorkflowService(db *gorm.DB, eng *engine.Engine, tx *contractTx, export *ExportService, archiver Archiver, logger *zap.Logger) *WorkflowService {
	return &WorkflowService{db: db, engine: eng, tx: tx, export: export, archiver: archiver, logger: logger}
}

// CertificateMachine 期中支付证书状态机
func (s *WorkflowService) CertificateMachine(levels []engine.ApprovalLevel) *engine.Machine {
	return engine.NewMachine(entity.EntityTypeInterimPayment, stateDraft, levels).
		On(EventSubmit, []engine.State{stateDraft}, stateSubmitted, s.guardSubmit).
		On(EventStartReview, []engine.State{stateSubmitted}, stateUnderReview, nil).
		On(EventReject, []engine.State{stateSubmitted, stateUnderReview}, stateDraft, nil).
		On(EventCertify, []engine.State{stateUnderReview}, stateCertified, s.guardCertify).
		On(EventPay, []engine.State{stateCertified}, statePaid, s.guardPay).
		On(EventDispute, []engine.State{stateSubmitted, stateUnderReview, stateCertified}, stateDisputed, nil).
		On(EventCancel, []engine.State{stateDraft}, stateCancelled, nil).
		On(EventReopen, []engine.State{stateDisputed}, stateDraft, s.guardReopen).
		AllowMutation(stateDraft, stateDisputed)
}

func (s *WorkflowService) guardSubmit(ctx context.Context, tx *gorm.DB, ref engine.EntityRef, e engine.Stateful) error {
	ipc := e.(*entity.InterimPaymentCertificate)
	if ipc.ValidatedAt == nil {
		return stateError(ipc, EventSubmit, "certificate has not passed assembly validation")
	}
	contract, err := repository.NewContractRepository(tx).FindByID(ctx, ipc.ContractID)
	if err != nil {
		return err
	}
	if ipc.PolicyVersion != contract.PolicyVersion {
		return stateError(ipc, EventSubmit, fmt.Sprintf(
			"assembled under policy version %d but contract is at version %d; re-assemble first",
			ipc.PolicyVersion, contract.PolicyVersion))
	}
	return nil
}

func (s *WorkflowService) guardCertify(ctx context.Context, tx *gorm.DB, ref engine.EntityRef, e engine.Stateful) error {
	ipc := e.(*entity.InterimPaymentCertificate)
	return s.engine.RequireApproved(ctx, tx, ref, e.CurrentState(), EventCertify, ipc.ApprovalRound)
}

func (s *WorkflowService) guardPay(ctx context.Context, tx *gorm.DB, ref engine.EntityRef, e engine.Stateful) error {
	ipc := e.(*entity.InterimPaymentCertificate)
	ps, err := repository.NewPaymentRepository(tx).FindByPayable(ctx, ref.Type, ref.ID)
	if err != nil {
		return err
	}
	if ps.Status != entity.PaymentStatusPaid {
		return stateError(ipc, EventPay, fmt.Sprintf("payment is %s, %s outstanding", ps.Status, ps.Outstanding().StringFixed(3)))
	}
	return nil
}

func (s *WorkflowService) guardReopen(ctx context.Context, tx *gorm.DB, ref engine.EntityRef, e engine.Stateful) error {
	ipc := e.(*entity.InterimPaymentCertificate)
	if ipc.DisputeResolution != "" {
		return stateError(ipc, EventReopen, "dispute already resolved as "+ipc.DisputeResolution)
	}
	maxSeq, err := repository.NewCertificateRepository(tx).MaxSequence(ctx, ipc.ContractID)
	if err != nil {
		return err
	}
	if maxSeq != ipc.Sequence {
		return stateError(ipc, EventReopen, fmt.Sprintf("only the latest certificate can be reopened, latest is %d", maxSeq))
	}
	return nil
}

// Submit 提交审批：开启新一轮审批
func (s *WorkflowService) Submit(ctx context.Context, id string, actor engine.Actor) (*entity.InterimPaymentCertificate, error) {
	return s.mutate(ctx, id, func(tx *gorm.DB, repos *repository.Repositories, ipc *entity.InterimPaymentCertificate) error {
		res, err := s.engine.Fire(ctx, tx, ipc.Ref(), EventSubmit, actor, map[string]interface{}{"round": ipc.ApprovalRound + 1})
		if err != nil {
			return err
		}
		ipc = res.Entity.(*entity.InterimPaymentCertificate)
		now := time.Now()
		ipc.ApprovalRound++
		ipc.SubmittedAt = &now
		if err := repos.Certificate.UpdateHeader(ctx, ipc); err != nil {
			return err
		}
		_, err = s.engine.OpenRound(ctx, tx, ipc.Ref(), ipc.ApprovalRound)
		return err
	})
}

// StartReview 开始审核
func (s *WorkflowService) StartReview(ctx context.Context, id string, actor engine.Actor) (*entity.InterimPaymentCertificate, error) {
	return s.mutate(ctx, id, func(tx *gorm.DB, repos *repository.Repositories, ipc *entity.InterimPaymentCertificate) error {
		_, err := s.engine.Fire(ctx, tx, ipc.Ref(), EventStartReview, actor, nil)
		return err
	})
}

// RecordDecision 记录某一级审批决定。已提交的证书自动进入审核；任一级驳回则退回草稿
func (s *WorkflowService) RecordDecision(ctx context.Context, id string, req *DecisionRequest, actor engine.Actor) (*entity.InterimPaymentCertificate, error) {
	return s.mutate(ctx, id, func(tx *gorm.DB, repos *repository.Repositories, ipc *entity.InterimPaymentCertificate) error {
		if ipc.Status == entity.IPCStatusSubmitted {
			res, err := s.engine.Fire(ctx, tx, ipc.Ref(), EventStartReview, actor, nil)
			if err != nil {
				return err
			}
			ipc = res.Entity.(*entity.InterimPaymentCertificate)
		}
		event := engine.Event("approve")
		if req.Decision == engine.DecisionRejected {
			event = "reject_level"
		}
		if ipc.Status != entity.IPCStatusUnderReview {
			return stateError(ipc, event, "certificate is not under review")
		}

		approval, err := s.engine.Decide(ctx, tx, ipc.Ref(), ipc.CurrentState(), ipc.ApprovalRound, req.Level, req.Decision, actor, req.Comment)
		if err != nil {
			return err
		}
		data := map[string]interface{}{
			"round":   ipc.ApprovalRound,
			"level":   approval.ApprovalLevel,
			"role":    approval.Role,
			"comment": req.Comment,
		}
		if err := s.engine.Log(ctx, tx, ipc.Ref(), ipc.CurrentState(), ipc.CurrentState(), event, actor, data); err != nil {
			return err
		}
		if req.Decision != engine.DecisionRejected {
			return nil
		}

		if err := s.engine.CloseRound(ctx, tx, ipc.Ref(), ipc.ApprovalRound); err != nil {
			return err
		}
		_, err = s.engine.Fire(ctx, tx, ipc.Ref(), EventReject, actor, data)
		return err
	})
}

// Certify 认证：生成应付款状态与总账过账请求，提交后归档证书快照
func (s *WorkflowService) Certify(ctx context.Context, id string, actor engine.Actor) (*entity.InterimPaymentCertificate, error) {
	out, err := s.mutate(ctx, id, func(tx *gorm.DB, repos *repository.Repositories, ipc *entity.InterimPaymentCertificate) error {
		res, err := s.engine.Fire(ctx, tx, ipc.Ref(), EventCertify, actor, map[string]interface{}{
			"round": ipc.ApprovalRound,
			"net":   ipc.NetAmount.String(),
		})
		if err != nil {
			return err
		}
		ipc = res.Entity.(*entity.InterimPaymentCertificate)
		now := time.Now()
		ipc.CertifiedAt = &now
		if err := repos.Certificate.UpdateHeader(ctx, ipc); err != nil {
			return err
		}

		if err := s.openPayment(ctx, repos, ipc); err != nil {
			return err
		}

		contract, err := repos.Contract.FindByID(ctx, ipc.ContractID)
		if err != nil {
			return err
		}
		posting, err := BuildPosting(ipc, contract.Currency)
		if err != nil {
			return err
		}
		return repos.Ledger.Create(ctx, posting)
	})
	if err != nil {
		return nil, err
	}
	s.archive(ctx, out)
	return out, nil
}

// openPayment creates the payable for a certified certificate. A re-certified
// certificate keeps what was already paid against it.
func (s *WorkflowService) openPayment(ctx context.Context, repos *repository.Repositories, ipc *entity.InterimPaymentCertificate) error {
	ps, err := repos.Payment.FindByPayable(ctx, entity.EntityTypeInterimPayment, ipc.ID)
	if err != nil && !isNotFound(err) {
		return err
	}
	if ps == nil {
		return repos.Payment.Create(ctx, &entity.PaymentStatus{
			ID:          newID(),
			PayableType: entity.EntityTypeInterimPayment,
			PayableID:   ipc.ID,
			ContractID:  ipc.ContractID,
			AmountDue:   ipc.NetAmount,
			Status:      entity.PaymentStatusPending,
		})
	}
	ps.AmountDue = ipc.NetAmount
	ps.Status = settlementStatus(ps, len(ps.Records) > 0)
	return repos.Payment.Update(ctx, ps)
}

// Dispute 提出争议，关闭未完成的审批轮次
func (s *WorkflowService) Dispute(ctx context.Context, id string, req *ReasonRequest, actor engine.Actor) (*entity.InterimPaymentCertificate, error) {
	return s.mutate(ctx, id, func(tx *gorm.DB, repos *repository.Repositories, ipc *entity.InterimPaymentCertificate) error {
		res, err := s.engine.Fire(ctx, tx, ipc.Ref(), EventDispute, actor, map[string]interface{}{"reason": req.Reason})
		if err != nil {
			return err
		}
		ipc = res.Entity.(*entity.InterimPaymentCertificate)
		ipc.DisputeReason = req.Reason
		if err := repos.Certificate.UpdateHeader(ctx, ipc); err != nil {
			return err
		}
		if ipc.ApprovalRound == 0 {
			return nil
		}
		return s.engine.CloseRound(ctx, tx, ipc.Ref(), ipc.ApprovalRound)
	})
}

// Cancel 取消草稿
func (s *WorkflowService) Cancel(ctx context.Context, id string, req *ReasonRequest, actor engine.Actor) (*entity.InterimPaymentCertificate, error) {
	return s.mutate(ctx, id, func(tx *gorm.DB, repos *repository.Repositories, ipc *entity.InterimPaymentCertificate) error {
		_, err := s.engine.Fire(ctx, tx, ipc.Ref(), EventCancel, actor, map[string]interface{}{"reason": req.Reason})
		return err
	})
}

// Reopen 争议证书退回草稿以便更正（仅限最新一期）
func (s *WorkflowService) Reopen(ctx context.Context, id string, actor engine.Actor) (*entity.InterimPaymentCertificate, error) {
	return s.mutate(ctx, id, func(tx *gorm.DB, repos *repository.Repositories, ipc *entity.InterimPaymentCertificate) error {
		_, err := s.engine.Fire(ctx, tx, ipc.Ref(), EventReopen, actor, nil)
		return err
	})
}

// ResolveDispute 人工对账解决争议，证书保持 disputed 并可作为下一期的前序
func (s *WorkflowService) ResolveDispute(ctx context.Context, id string, req *ReasonRequest, actor engine.Actor) (*entity.InterimPaymentCertificate, error) {
	return s.mutate(ctx, id, func(tx *gorm.DB, repos *repository.Repositories, ipc *entity.InterimPaymentCertificate) error {
		if ipc.Status != entity.IPCStatusDisputed {
			return stateError(ipc, "resolve", "certificate is not disputed")
		}
		if ipc.DisputeResolution != "" {
			return stateError(ipc, "resolve", "dispute already resolved as "+ipc.DisputeResolution)
		}
		now := time.Now()
		ipc.DisputeResolution = entity.DisputeReconciled
		ipc.DisputeResolvedAt = &now
		if err := repos.Certificate.UpdateHeader(ctx, ipc); err != nil {
			return err
		}
		return s.engine.Log(ctx, tx, ipc.Ref(), stateDisputed, stateDisputed, "resolve", actor,
			map[string]interface{}{"resolution": entity.DisputeReconciled, "note": req.Reason})
	})
}

// mutate runs fn under the contract lock of certificate id and returns the reloaded certificate.
func (s *WorkflowService) mutate(ctx context.Context, id string, fn func(tx *gorm.DB, repos *repository.Repositories, ipc *entity.InterimPaymentCertificate) error) (*entity.InterimPaymentCertificate, error) {
	header, err := repository.NewCertificateRepository(s.db).FindHeader(ctx, id)
	if err != nil {
		return nil, err
	}
	err = s.tx.run(ctx, header.ContractID, func(tx *gorm.DB, repos *repository.Repositories) error {
		ipc, err := repos.Certificate.FindHeader(ctx, id)
		if err != nil {
			return err
		}
		return fn(tx, repos, ipc)
	})
	if err != nil {
		return nil, err
	}
	return repository.NewCertificateRepository(s.db).FindByID(ctx, id)
}

func (s *WorkflowService) archive(ctx context.Context, ipc *entity.InterimPaymentCertificate) {
	if s.archiver == nil || s.export == nil {
		return
	}
	f, filename, err := s.export.Certificate(ctx, ipc.ID)
	if err == nil {
		var buf *bytes.Buffer
		if buf, err = f.WriteToBuffer(); err == nil {
			key := fmt.Sprintf("certificates/%s/%s", ipc.ContractID, filename)
			err = s.archiver.Archive(ctx, key, buf.Bytes(), xlsxContentType)
		}
		_ = f.Close()
	}
	if err != nil {
		s.logger.Warn("Failed to archive certified certificate",
			zap.String("ipc_id", ipc.ID),
			zap.String("contract_id", ipc.ContractID),
			zap.Error(err),
		)
	}
}

func stateError(ipc *entity.InterimPaymentCertificate, event engine.Event, precondition string) error {
	return &apperr.StateError{
		EntityType:   entity.EntityTypeInterimPayment,
		EntityID:     ipc.ID,
		Current:      ipc.Status,
		Event:        string(event),
		Precondition: precondition,
	}
}
