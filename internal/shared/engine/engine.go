package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/bitfantasy/nimo-ipc/internal/shared/apperr"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Loader loads and saves entities of one type inside a transaction.
type Loader interface {
	Load(ctx context.Context, tx *gorm.DB, id string) (Stateful, error)
	Save(ctx context.Context, tx *gorm.DB, entity Stateful) error
}

// Actor is whoever triggers an event or decides an approval.
type Actor struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Role string `json:"role"`
	Type string `json:"type"`
}

// System is the actor used for engine-internal events.
var System = Actor{ID: "system", Name: "system", Type: ActorSystem}

func (a Actor) kind() string {
	if a.Type != "" {
		return a.Type
	}
	if a.ID == "system" {
		return ActorSystem
	}
	return ActorUser
}

// Result describes a fired transition.
type Result struct {
	From   State
	To     State
	Entity Stateful
}

// Engine 状态机引擎：实体类型 → 状态机 + 加载器
type Engine struct {
	mu       sync.RWMutex
	machines map[string]*Machine
	loaders  map[string]Loader
	logger   *zap.Logger
}

// NewEngine 创建状态机引擎
func NewEngine(logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		machines: make(map[string]*Machine),
		loaders:  make(map[string]Loader),
		logger:   logger,
	}
}

// Register binds a machine and its loader to the machine's entity type.
func (e *Engine) Register(m *Machine, loader Loader) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, exists := e.machines[m.EntityType]; exists {
		return fmt.Errorf("entity type %s already registered", m.EntityType)
	}
	e.machines[m.EntityType] = m
	e.loaders[m.EntityType] = loader
	return nil
}

// Machine returns the machine registered for entityType.
func (e *Engine) Machine(entityType string) (*Machine, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	m, ok := e.machines[entityType]
	if !ok {
		return nil, fmt.Errorf("entity type %s not registered", entityType)
	}
	return m, nil
}

// Load resolves ref through the registered loader.
func (e *Engine) Load(ctx context.Context, tx *gorm.DB, ref EntityRef) (Stateful, error) {
	e.mu.RLock()
	loader, ok := e.loaders[ref.Type]
	e.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("entity type %s not registered", ref.Type)
	}
	return loader.Load(ctx, tx, ref.ID)
}

// Fire applies event to the entity referenced by ref within tx. The transition is
// rejected with a StateError when the event is not allowed from the current state;
// guard errors are returned as is. Nothing is written unless the transition succeeds.
func (e *Engine) Fire(ctx context.Context, tx *gorm.DB, ref EntityRef, event Event, actor Actor, data map[string]interface{}) (*Result, error) {
	m, err := e.Machine(ref.Type)
	if err != nil {
		return nil, err
	}
	entity, err := e.Load(ctx, tx, ref)
	if err != nil {
		return nil, err
	}

	from := entity.CurrentState()
	tr, err := m.Next(ref, from, event)
	if err != nil {
		return nil, err
	}
	if tr.Guard != nil {
		if err := tr.Guard(ctx, tx, ref, entity); err != nil {
			return nil, err
		}
	}

	entity.SetState(tr.To)
	e.mu.RLock()
	loader := e.loaders[ref.Type]
	e.mu.RUnlock()
	if err := loader.Save(ctx, tx, entity); err != nil {
		return nil, fmt.Errorf("save %s: %w", ref, err)
	}
	if err := e.Log(ctx, tx, ref, from, tr.To, event, actor, data); err != nil {
		return nil, err
	}

	e.logger.Info("State transition",
		zap.String("entity_type", ref.Type),
		zap.String("entity_id", ref.ID),
		zap.String("event", string(event)),
		zap.String("from", string(from)),
		zap.String("to", string(tr.To)),
		zap.String("actor", actor.ID),
	)
	return &Result{From: from, To: tr.To, Entity: entity}, nil
}

// Log appends an audit row. Events that do not change state log from == to.
func (e *Engine) Log(ctx context.Context, tx *gorm.DB, ref EntityRef, from, to State, event Event, actor Actor, data map[string]interface{}) error {
	row := StateTransitionLog{
		ID:              uuid.New().String()[:32],
		EntityType:      ref.Type,
		EntityID:        ref.ID,
		FromState:       string(from),
		ToState:         string(to),
		Event:           string(event),
		TriggeredBy:     actor.ID,
		TriggeredByType: actor.kind(),
	}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return fmt.Errorf("encode event data: %w", err)
		}
		row.EventData = datatypes.JSON(raw)
	}
	// callers hold the contract lock, so MAX+1 does not race
	if err := tx.WithContext(ctx).Model(&StateTransitionLog{}).
		Where("entity_type = ? AND entity_id = ?", ref.Type, ref.ID).
		Select("COALESCE(MAX(seq), 0) + 1").
		Scan(&row.Seq).Error; err != nil {
		return fmt.Errorf("next transition seq: %w", err)
	}
	if err := tx.WithContext(ctx).Create(&row).Error; err != nil {
		return fmt.Errorf("write transition log: %w", err)
	}
	return nil
}

// History returns the transition log of ref in order.
func (e *Engine) History(ctx context.Context, db *gorm.DB, ref EntityRef) ([]StateTransitionLog, error) {
	var logs []StateTransitionLog
	err := db.WithContext(ctx).
		Where("entity_type = ? AND entity_id = ?", ref.Type, ref.ID).
		Order("seq ASC").
		Find(&logs).Error
	return logs, err
}

// RequireMutable returns a StateError unless entity may be recomputed.
func (e *Engine) RequireMutable(ref EntityRef, entity Stateful, event Event) error {
	m, err := e.Machine(ref.Type)
	if err != nil {
		return err
	}
	if m.CanMutate(entity.CurrentState()) {
		return nil
	}
	return &apperr.StateError{
		EntityType:   ref.Type,
		EntityID:     ref.ID,
		Current:      string(entity.CurrentState()),
		Event:        string(event),
		Precondition: "record is immutable in this state",
	}
}
