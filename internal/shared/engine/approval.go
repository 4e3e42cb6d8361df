package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/bitfantasy/nimo-ipc/internal/shared/apperr"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// OpenRound creates one pending approval row per configured level for a new round.
func (e *Engine) OpenRound(ctx context.Context, tx *gorm.DB, ref EntityRef, round int) ([]CertificateApproval, error) {
	m, err := e.Machine(ref.Type)
	if err != nil {
		return nil, err
	}
	rows := make([]CertificateApproval, 0, len(m.Levels))
	for _, lvl := range m.Levels {
		rows = append(rows, CertificateApproval{
			ID:              uuid.New().String()[:32],
			CertifiableType: ref.Type,
			CertifiableID:   ref.ID,
			Round:           round,
			ApprovalLevel:   lvl.Level,
			Role:            lvl.Role,
			LevelName:       lvl.Name,
			Decision:        DecisionPending,
		})
	}
	if len(rows) == 0 {
		return rows, nil
	}
	if err := tx.WithContext(ctx).Create(&rows).Error; err != nil {
		return nil, fmt.Errorf("create approval rows: %w", err)
	}
	return rows, nil
}

// CloseRound marks the still pending rows of round as closed.
func (e *Engine) CloseRound(ctx context.Context, tx *gorm.DB, ref EntityRef, round int) error {
	return tx.WithContext(ctx).Model(&CertificateApproval{}).
		Where("certifiable_type = ? AND certifiable_id = ? AND round = ? AND decision = ?", ref.Type, ref.ID, round, DecisionPending).
		Update("decision", DecisionClosed).Error
}

// Approvals returns the rows of round ordered by level. Round 0 returns every round.
func (e *Engine) Approvals(ctx context.Context, db *gorm.DB, ref EntityRef, round int) ([]CertificateApproval, error) {
	var rows []CertificateApproval
	q := db.WithContext(ctx).Where("certifiable_type = ? AND certifiable_id = ?", ref.Type, ref.ID)
	if round > 0 {
		q = q.Where("round = ?", round)
	}
	err := q.Order("round ASC, approval_level ASC").Find(&rows).Error
	return rows, err
}

// Decide records approver's decision on level. Every lower level must already be
// approved; otherwise a StateError names the lowest level still blocking.
func (e *Engine) Decide(ctx context.Context, tx *gorm.DB, ref EntityRef, state State, round, level int, decision string, approver Actor, comment string) (*CertificateApproval, error) {
	if decision != DecisionApproved && decision != DecisionRejected {
		return nil, apperr.Invalid("decision", "must be %s or %s", DecisionApproved, DecisionRejected)
	}
	rows, err := e.Approvals(ctx, tx, ref, round)
	if err != nil {
		return nil, err
	}

	event := "approve"
	if decision == DecisionRejected {
		event = "reject"
	}
	stateErr := func(precondition string, blocking int) error {
		return &apperr.StateError{
			EntityType:    ref.Type,
			EntityID:      ref.ID,
			Current:       string(state),
			Event:         event,
			Precondition:  precondition,
			BlockingLevel: blocking,
		}
	}

	var target *CertificateApproval
	for i := range rows {
		row := &rows[i]
		if row.ApprovalLevel < level && row.Decision != DecisionApproved {
			return nil, stateErr(fmt.Sprintf("level %d approval %s", row.ApprovalLevel, row.Decision), row.ApprovalLevel)
		}
		if row.ApprovalLevel == level {
			target = row
		}
	}
	if target == nil {
		return nil, stateErr(fmt.Sprintf("no approval level %d in round %d", level, round), 0)
	}
	if target.Decision != DecisionPending {
		return nil, stateErr(fmt.Sprintf("level %d already %s", level, target.Decision), 0)
	}

	now := time.Now()
	target.Decision = decision
	target.ApproverID = approver.ID
	target.ApproverName = approver.Name
	target.ApproverRole = approver.Role
	target.Comment = comment
	target.DecidedAt = &now
	if err := tx.WithContext(ctx).Save(target).Error; err != nil {
		return nil, fmt.Errorf("save approval decision: %w", err)
	}
	return target, nil
}

// RequireApproved returns nil when every level of round is approved in increasing
// level order, else a StateError naming the lowest blocking level.
func (e *Engine) RequireApproved(ctx context.Context, tx *gorm.DB, ref EntityRef, state State, event Event, round int) error {
	rows, err := e.Approvals(ctx, tx, ref, round)
	if err != nil {
		return err
	}
	m, err := e.Machine(ref.Type)
	if err != nil {
		return err
	}
	if len(rows) < len(m.Levels) {
		return &apperr.StateError{
			EntityType: ref.Type, EntityID: ref.ID, Current: string(state), Event: string(event),
			Precondition: "approval round not opened",
		}
	}

	var last *time.Time
	for _, row := range rows {
		if row.Decision != DecisionApproved {
			return &apperr.StateError{
				EntityType:    ref.Type,
				EntityID:      ref.ID,
				Current:       string(state),
				Event:         string(event),
				Precondition:  fmt.Sprintf("level %d approval %s", row.ApprovalLevel, row.Decision),
				BlockingLevel: row.ApprovalLevel,
			}
		}
		if last != nil && row.DecidedAt != nil && row.DecidedAt.Before(*last) {
			return &apperr.StateError{
				EntityType:    ref.Type,
				EntityID:      ref.ID,
				Current:       string(state),
				Event:         string(event),
				Precondition:  fmt.Sprintf("level %d approved before level %d", row.ApprovalLevel, row.ApprovalLevel-1),
				BlockingLevel: row.ApprovalLevel,
			}
		}
		last = row.DecidedAt
	}
	return nil
}
