package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadWorkflows_Default(t *testing.T) {
	wf, err := LoadWorkflows("")
	require.NoError(t, err)

	levels := wf.Levels("interim_payment")
	require.Len(t, levels, 3)
	assert.Equal(t, "resident_engineer", levels[0].Role)
	assert.Equal(t, 3, levels[2].Level)
	assert.Len(t, wf.Levels("final_account"), 2)
	assert.Empty(t, wf.Levels("unknown"))
}

func TestParseWorkflows(t *testing.T) {
	wf, err := ParseWorkflows([]byte(`
workflows:
  interim_payment:
    approval_levels:
      - {level: 2, role: qs}
      - {level: 1, role: engineer}
`))
	require.NoError(t, err)
	levels := wf.Levels("interim_payment")
	assert.Equal(t, "engineer", levels[0].Role, "levels are sorted")

	_, err = ParseWorkflows([]byte(`
workflows:
  interim_payment:
    approval_levels:
      - {level: 1, role: engineer}
      - {level: 3, role: qs}
`))
	assert.ErrorContains(t, err, "numbered 1..n")

	_, err = ParseWorkflows([]byte(`
workflows:
  interim_payment:
    approval_levels:
      - {level: 1}
`))
	assert.ErrorContains(t, err, "has no role")
}
