// Package engine is a small state-machine engine shared by every approvable entity.
//
// A Machine describes the states and events of one entity type. The Engine resolves
// polymorphic {entity_type, entity_id} references through registered loaders, fires
// events inside the caller's transaction, writes the transition log and drives the
// level-ordered approval chain.
package engine

import (
	"context"
	"fmt"
	"strings"

	"github.com/bitfantasy/nimo-ipc/internal/shared/apperr"
	"gorm.io/gorm"
)

// State of an entity.
type State string

// Event triggering a transition.
type Event string

// EntityRef is a polymorphic reference to an approvable entity.
type EntityRef struct {
	Type string `json:"entity_type"`
	ID   string `json:"entity_id"`
}

func (r EntityRef) String() string {
	return r.Type + "/" + r.ID
}

// Stateful is implemented by entities driven by a Machine.
type Stateful interface {
	CurrentState() State
	SetState(State)
}

// Guard checks the preconditions of a transition. A non-nil error aborts the
// transition and is returned to the caller unchanged.
type Guard func(ctx context.Context, tx *gorm.DB, ref EntityRef, entity Stateful) error

// Transition is one allowed edge of a Machine.
type Transition struct {
	Event Event
	From  []State
	To    State
	Guard Guard
}

// ApprovalLevel is one step of an approval chain.
type ApprovalLevel struct {
	Level int    `yaml:"level" json:"level"`
	Role  string `yaml:"role" json:"role"`
	Name  string `yaml:"name" json:"name"`
}

// Machine describes the lifecycle of one entity type.
type Machine struct {
	EntityType  string
	Initial     State
	Levels      []ApprovalLevel
	transitions map[Event]Transition
	mutable     map[State]bool
}

// NewMachine creates an empty machine for entityType.
func NewMachine(entityType string, initial State, levels []ApprovalLevel) *Machine {
	return &Machine{
		EntityType:  entityType,
		Initial:     initial,
		Levels:      levels,
		transitions: make(map[Event]Transition),
		mutable:     make(map[State]bool),
	}
}

// On registers a transition and returns the machine for chaining.
func (m *Machine) On(event Event, from []State, to State, guard Guard) *Machine {
	m.transitions[event] = Transition{Event: event, From: from, To: to, Guard: guard}
	return m
}

// AllowMutation marks states in which the entity may be recomputed.
func (m *Machine) AllowMutation(states ...State) *Machine {
	for _, s := range states {
		m.mutable[s] = true
	}
	return m
}

// CanMutate reports whether an entity in state s may be recomputed.
func (m *Machine) CanMutate(s State) bool {
	return m.mutable[s]
}

// Next resolves the transition for event from state.
func (m *Machine) Next(ref EntityRef, from State, event Event) (Transition, error) {
	tr, ok := m.transitions[event]
	if !ok {
		return Transition{}, &apperr.StateError{
			EntityType:   ref.Type,
			EntityID:     ref.ID,
			Current:      string(from),
			Event:        string(event),
			Precondition: "unknown event",
		}
	}
	for _, s := range tr.From {
		if s == from {
			return tr, nil
		}
	}
	allowed := make([]string, len(tr.From))
	for i, s := range tr.From {
		allowed[i] = string(s)
	}
	return Transition{}, &apperr.StateError{
		EntityType:   ref.Type,
		EntityID:     ref.ID,
		Current:      string(from),
		Event:        string(event),
		Precondition: fmt.Sprintf("requires state %s", strings.Join(allowed, " or ")),
	}
}
