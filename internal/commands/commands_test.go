package commands

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/require"
)

func requireFlagExists(t *testing.T, cmd *cobra.Command, name string) {
	t.Helper()
	require.NotNil(t, cmd.Flags().Lookup(name), "expected flag --%s on %s", name, cmd.Name())
}

// useTempDB points HOME and ECO_DB_PATH at a temp directory and returns the
// database path.
func useTempDB(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("HOME", dir)
	path := filepath.Join(dir, "eco.db")
	t.Setenv("ECO_DB_PATH", path)
	return path
}

// captureStdout runs fn with os.Stdout redirected and returns what it wrote.
func captureStdout(t *testing.T, fn func() error) ([]byte, error) {
	t.Helper()
	r, w, err := os.Pipe()
	require.NoError(t, err)

	orig := os.Stdout
	os.Stdout = w
	defer func() { os.Stdout = orig }()

	done := make(chan []byte, 1)
	go func() {
		b, _ := io.ReadAll(r)
		done <- b
	}()

	runErr := fn()
	_ = w.Close()
	out := <-done
	_ = r.Close()
	return out, runErr
}

type envelope struct {
	Success   bool            `json:"success"`
	Data      json.RawMessage `json:"data"`
	Error     string          `json:"error"`
	ErrorCode string          `json:"error_code"`
}

// run executes args against a fresh root command with stdin set to in and
// decodes the single JSON envelope it prints.
func run(t *testing.T, in string, args ...string) (envelope, error) {
	t.Helper()
	root := NewRootCmd("test")
	root.SetArgs(args)
	root.SetIn(strings.NewReader(in))
	root.SetErr(io.Discard)

	out, err := captureStdout(t, func() error {
		return root.ExecuteContext(context.Background())
	})

	var env envelope
	require.NoError(t, json.Unmarshal(out, &env), "stdout: %s", out)
	return env, err
}

func decodeData(t *testing.T, env envelope, v any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(env.Data, v), "data: %s", env.Data)
}
