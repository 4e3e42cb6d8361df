package apperr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCategory(t *testing.T) {
	state := &StateError{EntityType: "interim_payment", EntityID: "ipc-1", Current: "draft", Event: "certify"}
	assert.Equal(t, ErrState, Category(state))
	assert.Equal(t, ErrState, Category(fmt.Errorf("wrapped: %w", state)))
	assert.Equal(t, ErrValidation, Category(Invalid("period_end", "must not precede period_start")))
	assert.Equal(t, ErrNotFound, Category(&NotFoundError{Entity: "contract", ID: "c-1"}))
	assert.Nil(t, Category(errors.New("boom")))

	joined := errors.Join(&ValidationError{Reason: "bad"}, &StateError{})
	assert.Equal(t, ErrValidation, Category(joined))
}

func TestStateErrorMessage(t *testing.T) {
	err := &StateError{
		EntityType:    "interim_payment",
		EntityID:      "ipc-7",
		Current:       "under_review",
		Event:         "certify",
		Precondition:  "level 1 approval pending",
		BlockingLevel: 1,
	}
	assert.Equal(t, "cannot certify interim_payment ipc-7 in state 'under_review': level 1 approval pending", err.Error())
}

func TestViolationsAndDependency(t *testing.T) {
	v := Violations{Invalid("a", "bad"), Invalid("b", "worse")}
	assert.Equal(t, ErrValidation, Category(v))
	assert.Equal(t, "a: bad; b: worse", v.Error())

	var ve *ValidationError
	assert.True(t, errors.As(v, &ve))
	assert.Equal(t, "a", ve.Field)

	cause := errors.New("connection refused")
	dep := &DependencyError{Source: "tax service", Cause: cause}
	assert.Equal(t, ErrDependency, Category(dep))
	assert.ErrorIs(t, dep, cause)
}
