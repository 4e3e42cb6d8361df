package service

import (
	"context"
	"fmt"

	"github.com/bitfantasy/nimo-ipc/internal/config"
	"github.com/bitfantasy/nimo-ipc/internal/ipc/entity"
	"github.com/bitfantasy/nimo-ipc/internal/ipc/repository"
	"github.com/bitfantasy/nimo-ipc/internal/shared/engine"
	"github.com/bitfantasy/nimo-ipc/internal/shared/lock"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Deps 服务依赖。协作方可为 nil，缺失时对应功能返回依赖错误
type Deps struct {
	DB        *gorm.DB
	Engine    *engine.Engine
	Locker    lock.Locker
	Workflows *config.Workflows
	ReadModel *repository.ReadModel
	Logger    *zap.Logger

	IndexSource IndexSource
	Tax         TaxService
	Bonding     BondingService
	Ledger      LedgerSink
	Archiver    Archiver
}

// Services 服务集合
type Services struct {
	Contract     *ContractService
	Progress     *ProgressLedger
	Assembler    *Assembler
	Workflow     *WorkflowService
	Payment      *PaymentService
	FinalAccount *FinalAccountService
	Query        *QueryService
	Export       *ExportService
	Relay        *LedgerRelay
}

// NewServices 创建服务集合并向引擎注册证书与最终结算状态机
func NewServices(d Deps) (*Services, error) {
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	if d.Engine == nil {
		d.Engine = engine.NewEngine(d.Logger)
	}
	if d.Locker == nil {
		return nil, fmt.Errorf("contract locker is required")
	}

	runner := &contractTx{db: d.DB, locker: d.Locker}
	export := NewExportService(d.DB, d.Engine)
	progress := NewProgressLedger(d.DB, d.Engine)
	workflow := NewWorkflowService(d.DB, d.Engine, runner, export, d.Archiver, d.Logger)
	final := NewFinalAccountService(d.DB, d.Engine, runner, d.Logger)

	if err := d.Engine.Register(workflow.CertificateMachine(d.Workflows.Levels(entity.EntityTypeInterimPayment)), certificateLoader{}); err != nil {
		return nil, err
	}
	if err := d.Engine.Register(final.Machine(d.Workflows.Levels(entity.EntityTypeFinalAccount)), finalAccountLoader{}); err != nil {
		return nil, err
	}

	return &Services{
		Contract:     NewContractService(d.DB, d.Engine, runner, d.Bonding, d.Logger),
		Progress:     progress,
		Assembler:    NewAssembler(d.Engine, runner, progress, d.IndexSource, d.Tax, d.Logger),
		Workflow:     workflow,
		Payment:      NewPaymentService(d.DB, d.Engine, runner, d.Logger),
		FinalAccount: final,
		Query:        NewQueryService(d.DB, d.Engine, d.ReadModel),
		Export:       export,
		Relay:        NewLedgerRelay(d.DB, d.Ledger, d.Logger),
	}, nil
}

// contractTx 合同级写事务：开启事务并持有合同锁直到提交或回滚
type contractTx struct {
	db     *gorm.DB
	locker lock.Locker
}

func (t *contractTx) run(ctx context.Context, contractID string, fn func(tx *gorm.DB, repos *repository.Repositories) error) error {
	db := t.db.WithContext(ctx)
	if _, ok := t.locker.(lock.TxScoped); ok {
		return db.Transaction(func(tx *gorm.DB) error {
			if _, err := t.locker.Lock(ctx, tx, contractID); err != nil {
				return err
			}
			return fn(tx, repository.NewRepositories(tx))
		})
	}

	// 进程内与 redis 锁不随事务释放，须在提交之后才放开
	release, err := t.locker.Lock(ctx, db, contractID)
	if err != nil {
		return err
	}
	defer release()
	return db.Transaction(func(tx *gorm.DB) error {
		return fn(tx, repository.NewRepositories(tx))
	})
}

func newID() string {
	return uuid.New().String()[:32]
}

// certificateLoader 引擎加载器：期中支付证书
type certificateLoader struct{}

func (certificateLoader) Load(ctx context.Context, tx *gorm.DB, id string) (engine.Stateful, error) {
	return repository.NewCertificateRepository(tx).FindHeader(ctx, id)
}

func (certificateLoader) Save(ctx context.Context, tx *gorm.DB, e engine.Stateful) error {
	return repository.NewCertificateRepository(tx).UpdateHeader(ctx, e.(*entity.InterimPaymentCertificate))
}

// finalAccountLoader 引擎加载器：最终结算
type finalAccountLoader struct{}

func (finalAccountLoader) Load(ctx context.Context, tx *gorm.DB, id string) (engine.Stateful, error) {
	return repository.NewFinalAccountRepository(tx).FindByID(ctx, id)
}

func (finalAccountLoader) Save(ctx context.Context, tx *gorm.DB, e engine.Stateful) error {
	return repository.NewFinalAccountRepository(tx).UpdateHeader(ctx, e.(*entity.FinalAccount))
}
