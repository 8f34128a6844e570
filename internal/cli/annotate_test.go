package cli

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/storysync/internal/testutil"
)

const testEntities = `
- id: e1
  type: character
  name: Mara
- id: e2
  type: character
  name: the Duke
  aliases: "Duke"
`

func writeEntities(t *testing.T, dir string) string {
	t.Helper()
	path := filepath.Join(dir, "entities.yaml")
	require.NoError(t, os.WriteFile(path, []byte(testEntities), 0o644))
	return path
}

func TestAnnotate_Text(t *testing.T) {
	e := newCLIEnv(t)
	entities := writeEntities(t, e.dir)

	out, err := e.run(t, "annotate", "--entities", entities, "--text", "Mara met the Duke.", "--format", "json")
	require.NoError(t, err)

	var result AnnotateResult
	decodeData(t, out, &result)
	assert.Equal(t, 2, result.Entities)
	assert.Equal(t, 2, result.Mentions)
	require.Len(t, result.Text, 2)
	assert.Equal(t, "e1", result.Text[0].EntityID)
	assert.Equal(t, 0, result.Text[0].Start)
	assert.Equal(t, 4, result.Text[0].End)
	assert.Equal(t, "e2", result.Text[1].EntityID)
	assert.Equal(t, "the Duke", result.Text[1].Text)
}

func TestAnnotate_Exclude(t *testing.T) {
	e := newCLIEnv(t)
	entities := writeEntities(t, e.dir)

	out, err := e.run(t, "annotate", "--entities", entities, "--text", "Mara met the Duke.", "--exclude", "Mara", "--format", "json")
	require.NoError(t, err)

	var result AnnotateResult
	decodeData(t, out, &result)
	require.Len(t, result.Text, 1)
	assert.Equal(t, "e2", result.Text[0].EntityID)
}

func TestAnnotate_Chapter(t *testing.T) {
	e := newCLIEnv(t)
	entities := writeEntities(t, e.dir)
	e.api.Seed("s1", "c1", testutil.Blocks("k", "Rain fell.", "Mara waited for Mara."))

	out, err := e.run(t, "annotate", "--entities", entities, "--story", "s1", "--chapter", "c1")
	require.NoError(t, err)
	assert.Contains(t, out, "   1  k2  0-4  e1  \"Mara\"")
	assert.Contains(t, out, "2 mentions of 2 entities")
	assert.NotContains(t, out, "k1")
}

// TestAnnotate_NoEntities tests that a missing entity file is a command error.
func TestAnnotate_NoEntities(t *testing.T) {
	e := newCLIEnv(t)
	_, err := e.run(t, "annotate", "--text", "Mara")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}
