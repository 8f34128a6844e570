package harness

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const minimalScenario = `
name: minimal
description: "smallest valid scenario"
steps:
  - do: flush
assertions:
  - type: pending
    count: 0
`

func TestParseScenario_Minimal(t *testing.T) {
	s, err := ParseScenario([]byte(minimalScenario))
	require.NoError(t, err)
	assert.Equal(t, "minimal", s.Name)
	require.Len(t, s.Steps, 1)
	assert.Equal(t, StepFlush, s.Steps[0].Do)
	assert.Equal(t, AssertPending, s.Assertions[0].Type)
}

func TestParseScenario_StepExpect(t *testing.T) {
	s, err := ParseScenario([]byte(`
name: expect
description: "step expectations decode"
steps:
  - do: flush
    expect:
      pending: 0
      retries: 2
      halted: true
      error: timing out
assertions:
  - type: halted
    halted: true
`))
	require.NoError(t, err)
	exp := s.Steps[0].Expect
	require.NotNil(t, exp)
	require.NotNil(t, exp.Pending)
	assert.Equal(t, 0, *exp.Pending)
	assert.Equal(t, 2, *exp.Retries)
	assert.True(t, *exp.Halted)
	assert.Equal(t, "timing out", exp.Error)
}

func TestParseScenario_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{
			name:    "unknown field",
			yaml:    "name: x\ndescription: y\nstep:\n  - do: flush\nassertions:\n  - type: pending\n",
			wantErr: "field step not found",
		},
		{
			name:    "missing name",
			yaml:    "description: y\nsteps:\n  - do: flush\nassertions:\n  - type: pending\n",
			wantErr: "name is required",
		},
		{
			name:    "missing description",
			yaml:    "name: x\nsteps:\n  - do: flush\nassertions:\n  - type: pending\n",
			wantErr: "description is required",
		},
		{
			name:    "no steps",
			yaml:    "name: x\ndescription: y\nassertions:\n  - type: pending\n",
			wantErr: "steps list is required",
		},
		{
			name:    "no assertions",
			yaml:    "name: x\ndescription: y\nsteps:\n  - do: flush\n",
			wantErr: "assertions list is required",
		},
		{
			name:    "unknown step",
			yaml:    "name: x\ndescription: y\nsteps:\n  - do: jump\nassertions:\n  - type: pending\n",
			wantErr: `unknown step "jump"`,
		},
		{
			name:    "edit without key",
			yaml:    "name: x\ndescription: y\nsteps:\n  - do: edit\nassertions:\n  - type: pending\n",
			wantErr: "key is required for edit",
		},
		{
			name:    "fail with bad route",
			yaml:    "name: x\ndescription: y\nsteps:\n  - do: fail\n    route: upload\n    statuses: [500]\nassertions:\n  - type: pending\n",
			wantErr: `unknown route "upload"`,
		},
		{
			name:    "unknown assertion",
			yaml:    "name: x\ndescription: y\nsteps:\n  - do: flush\nassertions:\n  - type: vibes\n",
			wantErr: `unknown assertion type "vibes"`,
		},
		{
			name:    "duplicate initial key",
			yaml:    "name: x\ndescription: y\ninitial:\n  - key: a\n  - key: a\nsteps:\n  - do: flush\nassertions:\n  - type: pending\n",
			wantErr: `duplicate key "a"`,
		},
		{
			name:    "journal without timestamp",
			yaml:    "name: x\ndescription: y\njournal:\n  - kind: save\n    key: a\nsteps:\n  - do: flush\nassertions:\n  - type: pending\n",
			wantErr: "timestamp must be positive",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseScenario([]byte(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoadScenario_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "s.yaml")
	require.NoError(t, os.WriteFile(path, []byte(minimalScenario), 0o644))

	s, err := LoadScenario(path)
	require.NoError(t, err)
	assert.Equal(t, "minimal", s.Name)

	_, err = LoadScenario(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorContains(t, err, "failed to read scenario file")
}

// TestLoadScenario_Testdata tests that every shipped scenario parses.
func TestLoadScenario_Testdata(t *testing.T) {
	paths, err := FindScenarios("testdata/scenarios")
	require.NoError(t, err)
	require.NotEmpty(t, paths)
	for _, p := range paths {
		_, err := LoadScenario(p)
		assert.NoError(t, err, p)
	}
}
