package gateway

import (
	"context"
	"fmt"

	"github.com/bitfantasy/nimo-ipc/internal/config"
	"github.com/bitfantasy/nimo-ipc/internal/ipc/entity"
	"github.com/shopspring/decimal"
)

// StaticBonding 以配置的默认条款作为担保服务
type StaticBonding struct {
	policy entity.ContractPolicy
}

// NewStaticBonding 解析配置中的默认条款
func NewStaticBonding(cfg config.PolicyConfig) (*StaticBonding, error) {
	parse := func(name, v string) (decimal.Decimal, error) {
		if v == "" {
			return decimal.Zero, nil
		}
		d, err := decimal.NewFromString(v)
		if err != nil {
			return decimal.Zero, fmt.Errorf("default policy %s: %w", name, err)
		}
		return d, nil
	}

	var p entity.ContractPolicy
	var err error
	if p.RetentionPercentage, err = parse("retention_percentage", cfg.RetentionPercentage); err != nil {
		return nil, err
	}
	if p.MaxRetentionValue, err = parse("max_retention_value", cfg.MaxRetentionValue); err != nil {
		return nil, err
	}
	if p.AdvanceRecoveryPercentage, err = parse("advance_recovery_percentage", cfg.AdvanceRecoveryPercentage); err != nil {
		return nil, err
	}
	if p.MaterialsClaimPercentage, err = parse("materials_claim_percentage", cfg.MaterialsClaimPercentage); err != nil {
		return nil, err
	}
	p.MaxRetentionMode = cfg.MaxRetentionMode
	return &StaticBonding{policy: p}, nil
}

// Policy 预付款金额由合同约定，默认条款不提供
func (b *StaticBonding) Policy(_ context.Context, _ string) (*entity.ContractPolicy, error) {
	p := b.policy
	return &p, nil
}
