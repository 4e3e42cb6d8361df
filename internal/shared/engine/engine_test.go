package engine

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/bitfantasy/nimo-ipc/internal/shared/apperr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type ticket struct {
	ID    string
	State State
}

func (t *ticket) CurrentState() State { return t.State }
func (t *ticket) SetState(s State)    { t.State = s }

type memoryLoader struct {
	items map[string]*ticket
	saves int
}

func (l *memoryLoader) Load(_ context.Context, _ *gorm.DB, id string) (Stateful, error) {
	t, ok := l.items[id]
	if !ok {
		return nil, &apperr.NotFoundError{Entity: "ticket", ID: id}
	}
	cp := *t
	return &cp, nil
}

func (l *memoryLoader) Save(_ context.Context, _ *gorm.DB, e Stateful) error {
	t := e.(*ticket)
	l.items[t.ID] = t
	l.saves++
	return nil
}

func setupDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "engine.db")), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, AutoMigrate(db))
	return db
}

func newTestEngine(t *testing.T, loader *memoryLoader) *Engine {
	t.Helper()
	levels := []ApprovalLevel{
		{Level: 1, Role: "engineer", Name: "Engineer"},
		{Level: 2, Role: "qs", Name: "Quantity Surveyor"},
	}
	m := NewMachine("ticket", "draft", levels).
		On("submit", []State{"draft"}, "submitted", nil).
		On("close", []State{"submitted"}, "closed", func(ctx context.Context, tx *gorm.DB, ref EntityRef, _ Stateful) error {
			return errors.New("guard refused")
		}).
		AllowMutation("draft")

	eng := NewEngine(nil)
	require.NoError(t, eng.Register(m, loader))
	return eng
}

func TestFire(t *testing.T) {
	db := setupDB(t)
	loader := &memoryLoader{items: map[string]*ticket{"t1": {ID: "t1", State: "draft"}}}
	eng := newTestEngine(t, loader)
	ctx := context.Background()
	ref := EntityRef{Type: "ticket", ID: "t1"}

	res, err := eng.Fire(ctx, db, ref, "submit", Actor{ID: "u1"}, map[string]interface{}{"note": "first"})
	require.NoError(t, err)
	assert.Equal(t, State("draft"), res.From)
	assert.Equal(t, State("submitted"), res.To)
	assert.Equal(t, State("submitted"), loader.items["t1"].State)

	// illegal from current state
	_, err = eng.Fire(ctx, db, ref, "submit", Actor{ID: "u1"}, nil)
	var se *apperr.StateError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "submitted", se.Current)
	assert.Contains(t, se.Precondition, "requires state draft")

	// guard refusal keeps the state
	_, err = eng.Fire(ctx, db, ref, "close", Actor{ID: "u1"}, nil)
	assert.EqualError(t, err, "guard refused")
	assert.Equal(t, State("submitted"), loader.items["t1"].State)
	assert.Equal(t, 1, loader.saves)

	logs, err := eng.History(ctx, db, ref)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, "draft", logs[0].FromState)
	assert.Equal(t, "submitted", logs[0].ToState)
	assert.Equal(t, ActorUser, logs[0].TriggeredByType)
	assert.JSONEq(t, `{"note":"first"}`, string(logs[0].EventData))
}

func TestRegisterTwice(t *testing.T) {
	loader := &memoryLoader{items: map[string]*ticket{}}
	eng := newTestEngine(t, loader)
	err := eng.Register(NewMachine("ticket", "draft", nil), loader)
	assert.Error(t, err)
}

func TestRequireMutable(t *testing.T) {
	eng := newTestEngine(t, &memoryLoader{items: map[string]*ticket{}})
	ref := EntityRef{Type: "ticket", ID: "t1"}
	assert.NoError(t, eng.RequireMutable(ref, &ticket{State: "draft"}, "recompute"))
	err := eng.RequireMutable(ref, &ticket{State: "submitted"}, "recompute")
	assert.True(t, errors.Is(err, apperr.ErrState))
}

func TestApprovalChain(t *testing.T) {
	db := setupDB(t)
	eng := newTestEngine(t, &memoryLoader{items: map[string]*ticket{}})
	ctx := context.Background()
	ref := EntityRef{Type: "ticket", ID: "t1"}

	rows, err := eng.OpenRound(ctx, db, ref, 1)
	require.NoError(t, err)
	require.Len(t, rows, 2)

	t.Run("certify with level 1 pending names level 1", func(t *testing.T) {
		err := eng.RequireApproved(ctx, db, ref, "under_review", "certify", 1)
		var se *apperr.StateError
		require.ErrorAs(t, err, &se)
		assert.Equal(t, 1, se.BlockingLevel)
		assert.Contains(t, se.Error(), "level 1 approval pending")
	})

	t.Run("level 2 cannot act before level 1", func(t *testing.T) {
		_, err := eng.Decide(ctx, db, ref, "under_review", 1, 2, DecisionApproved, Actor{ID: "qs1"}, "")
		var se *apperr.StateError
		require.ErrorAs(t, err, &se)
		assert.Equal(t, 1, se.BlockingLevel)
	})

	t.Run("ordered approvals complete the round", func(t *testing.T) {
		row, err := eng.Decide(ctx, db, ref, "under_review", 1, 1, DecisionApproved, Actor{ID: "eng1", Name: "Eng", Role: "engineer"}, "ok")
		require.NoError(t, err)
		assert.Equal(t, "Eng", row.ApproverName)

		_, err = eng.Decide(ctx, db, ref, "under_review", 1, 1, DecisionApproved, Actor{ID: "eng1"}, "")
		assert.True(t, errors.Is(err, apperr.ErrState), "level already decided")

		_, err = eng.Decide(ctx, db, ref, "under_review", 1, 2, DecisionApproved, Actor{ID: "qs1"}, "")
		require.NoError(t, err)
		assert.NoError(t, eng.RequireApproved(ctx, db, ref, "under_review", "certify", 1))
	})

	t.Run("closing a round", func(t *testing.T) {
		_, err := eng.OpenRound(ctx, db, ref, 2)
		require.NoError(t, err)
		require.NoError(t, eng.CloseRound(ctx, db, ref, 2))
		rows, err := eng.Approvals(ctx, db, ref, 2)
		require.NoError(t, err)
		for _, r := range rows {
			assert.Equal(t, DecisionClosed, r.Decision)
		}
		assert.Error(t, eng.RequireApproved(ctx, db, ref, "under_review", "certify", 2))
	})

	t.Run("invalid decision", func(t *testing.T) {
		_, err := eng.Decide(ctx, db, ref, "under_review", 2, 1, "maybe", Actor{ID: "eng1"}, "")
		assert.True(t, errors.Is(err, apperr.ErrValidation))
	})
}

func TestHistory_OrderedBySeq(t *testing.T) {
	db := setupDB(t)
	eng := newTestEngine(t, &memoryLoader{items: map[string]*ticket{}})
	ctx := context.Background()
	ref := EntityRef{Type: "ticket", ID: "t1"}
	other := EntityRef{Type: "ticket", ID: "t2"}

	events := []Event{"submit", "review", "approve", "certify", "pay"}
	require.NoError(t, db.Transaction(func(tx *gorm.DB) error {
		for i, ev := range events {
			if err := eng.Log(ctx, tx, ref, "s", "s", ev, Actor{ID: "u1"}, nil); err != nil {
				return err
			}
			if i == 0 {
				if err := eng.Log(ctx, tx, other, "s", "s", ev, Actor{ID: "u1"}, nil); err != nil {
					return err
				}
			}
		}
		return nil
	}))
	// same timestamp for every row, only seq can order them
	require.NoError(t, db.Model(&StateTransitionLog{}).Where("1 = 1").
		Update("created_at", time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)).Error)

	logs, err := eng.History(ctx, db, ref)
	require.NoError(t, err)
	require.Len(t, logs, len(events))
	for i, l := range logs {
		assert.Equal(t, int64(i+1), l.Seq)
		assert.Equal(t, string(events[i]), l.Event)
	}

	logs, err = eng.History(ctx, db, other)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, int64(1), logs[0].Seq)
}
