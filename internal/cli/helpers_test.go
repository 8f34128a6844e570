package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/storysync/internal/block"
	"github.com/roach88/storysync/internal/config"
	"github.com/roach88/storysync/internal/remote/fakeapi"
	"github.com/roach88/storysync/internal/testutil"
)

// cliEnv runs commands against a fake API with a journal in a temp dir.
type cliEnv struct {
	api *fakeapi.Server
	url string
	dir string
	env map[string]string
}

func newCLIEnv(t *testing.T) *cliEnv {
	t.Helper()
	api := fakeapi.New(fakeapi.WithLogger(testutil.QuietLogger()))
	srv := httptest.NewServer(api)
	t.Cleanup(srv.Close)

	dir := t.TempDir()
	return &cliEnv{
		api: api,
		url: srv.URL,
		dir: dir,
		env: map[string]string{
			config.EnvAPIURL:      srv.URL,
			config.EnvJournalPath: filepath.Join(dir, "journal.db"),
			config.EnvLogLevel:    "error",
		},
	}
}

func (e *cliEnv) getenv(k string) string {
	return e.env[k]
}

// run executes the root command and returns stdout.
func (e *cliEnv) run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	return e.runContext(t, context.Background(), args...)
}

func (e *cliEnv) runContext(t *testing.T, ctx context.Context, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommand(&RootOptions{Getenv: e.getenv})
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(ctx)
	return out.String(), err
}

// decodeData unmarshals the data field of a JSON response into v.
func decodeData(t *testing.T, out string, v any) {
	t.Helper()
	var resp struct {
		Status string          `json:"status"`
		Data   json.RawMessage `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp), out)
	require.Equal(t, "ok", resp.Status, out)
	require.NoError(t, json.Unmarshal(resp.Data, v))
}

func serverTexts(api *fakeapi.Server, story, chapter string) map[string]string {
	out := make(map[string]string)
	for _, b := range api.Blocks(story, chapter) {
		out[b.KeyID] = block.PlainText(b.Content)
	}
	return out
}
