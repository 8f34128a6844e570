package cli

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/storysync/internal/block"
	"github.com/roach88/storysync/internal/remote/fakeapi"
	"github.com/roach88/storysync/internal/testutil"
)

const testSeed = `
stories:
  - id: s1
    chapters:
      - id: c1
        blocks:
          - {key: a, text: "It was a dark night."}
          - {key: b, text: "The rain fell."}
  - id: s2
    provisioning: true
`

func TestLoadSeed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "seed.yaml")
	require.NoError(t, os.WriteFile(path, []byte(testSeed), 0o644))

	seed, err := LoadSeed(path)
	require.NoError(t, err)
	require.Len(t, seed.Stories, 2)

	api := fakeapi.New(fakeapi.WithLogger(testutil.QuietLogger()))
	seed.Apply(api)

	blocks := api.Blocks("s1", "c1")
	require.Len(t, blocks, 2)
	assert.Equal(t, "a", blocks[0].KeyID)
	assert.Equal(t, 1, blocks[1].Place)
	assert.Equal(t, "The rain fell.", block.PlainText(blocks[1].Content))
}

func TestLoadSeed_Invalid(t *testing.T) {
	tests := []struct {
		name string
		src  string
	}{
		{"unknown field", "stories:\n  - id: s1\n    colour: red\n"},
		{"missing story id", "stories:\n  - chapters: []\n"},
		{"missing block key", "stories:\n  - id: s1\n    chapters:\n      - id: c1\n        blocks:\n          - text: x\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "seed.yaml")
			require.NoError(t, os.WriteFile(path, []byte(tt.src), 0o644))
			_, err := LoadSeed(path)
			assert.Error(t, err)
		})
	}
}

// TestMockAPI_StopsOnCancel tests that the server starts, reports its address
// and shuts down when the context ends.
func TestMockAPI_StopsOnCancel(t *testing.T) {
	e := newCLIEnv(t)
	path := filepath.Join(e.dir, "seed.yaml")
	require.NoError(t, os.WriteFile(path, []byte(testSeed), 0o644))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	out, err := e.runContext(t, ctx, "mock-api", "--addr", "127.0.0.1:0", "--seed", path)
	require.NoError(t, err)
	assert.Contains(t, out, "Mock API listening on http://127.0.0.1:")
}

func TestMockAPI_BadSeed(t *testing.T) {
	e := newCLIEnv(t)
	_, err := e.run(t, "mock-api", "--addr", "127.0.0.1:0", "--seed", filepath.Join(e.dir, "missing.yaml"))
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}
