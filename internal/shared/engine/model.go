package engine

import (
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Approval decisions.
const (
	DecisionPending  = "pending"
	DecisionApproved = "approved"
	DecisionRejected = "rejected"
	// DecisionClosed marks a pending row of a round that ended by rejection or reopening.
	DecisionClosed = "closed"
)

// Actor types.
const (
	ActorUser   = "user"
	ActorSystem = "system"
)

// StateTransitionLog 状态流转日志（不可变）
type StateTransitionLog struct {
	ID              string         `json:"id" gorm:"primaryKey;size:32"`
	EntityType      string         `json:"entity_type" gorm:"size:50;not null;index:idx_transition_entity,priority:1;uniqueIndex:idx_transition_seq,priority:1"`
	EntityID        string         `json:"entity_id" gorm:"size:32;not null;index:idx_transition_entity,priority:2;uniqueIndex:idx_transition_seq,priority:2"`
	Seq             int64          `json:"seq" gorm:"not null;uniqueIndex:idx_transition_seq,priority:3"` // 实体内递增序号
	FromState       string         `json:"from_state" gorm:"size:50"`
	ToState         string         `json:"to_state" gorm:"size:50;not null"`
	Event           string         `json:"event" gorm:"size:100;not null"`
	EventData       datatypes.JSON `json:"event_data,omitempty"`
	TriggeredBy     string         `json:"triggered_by" gorm:"size:64"`
	TriggeredByType string         `json:"triggered_by_type" gorm:"size:20"`
	CreatedAt       time.Time      `json:"created_at"`
}

func (StateTransitionLog) TableName() string {
	return "state_transition_logs"
}

// CertificateApproval 审批记录：每个审批级别一行，按轮次分组
type CertificateApproval struct {
	ID              string     `json:"id" gorm:"primaryKey;size:32"`
	CertifiableType string     `json:"certifiable_type" gorm:"size:50;not null;index:idx_approval_certifiable,priority:1"`
	CertifiableID   string     `json:"certifiable_id" gorm:"size:32;not null;index:idx_approval_certifiable,priority:2"`
	Round           int        `json:"round" gorm:"not null;index:idx_approval_certifiable,priority:3"`
	ApprovalLevel   int        `json:"approval_level" gorm:"not null"`
	Role            string     `json:"role" gorm:"size:50"`
	LevelName       string     `json:"level_name" gorm:"size:100"`
	ApproverID      string     `json:"approver_id" gorm:"size:64"`
	ApproverName    string     `json:"approver_name" gorm:"size:100"`
	ApproverRole    string     `json:"approver_role" gorm:"size:50"`
	Decision        string     `json:"decision" gorm:"size:20;not null;default:pending"`
	Comment         string     `json:"comment" gorm:"type:text"`
	DecidedAt       *time.Time `json:"decided_at"`
	CreatedAt       time.Time  `json:"created_at"`
}

func (CertificateApproval) TableName() string {
	return "certificate_approvals"
}

// AutoMigrate 创建引擎表
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(&StateTransitionLog{}, &CertificateApproval{})
}
