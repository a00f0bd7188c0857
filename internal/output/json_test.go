package output

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/deltaknight858/Eco-sub001/internal/models"
)

var _ recoverableError = (models.RecoverableError)(nil)

func captureStdout(t *testing.T, fn func()) string {
	t.Helper()

	original := os.Stdout
	r, w, err := os.Pipe()
	require.NoError(t, err)
	os.Stdout = w
	defer func() { os.Stdout = original }()

	fn()

	require.NoError(t, w.Close())

	b, err := io.ReadAll(r)
	require.NoError(t, err)
	require.NoError(t, r.Close())
	return string(b)
}

func TestSuccessAndError(t *testing.T) {
	s := Success(map[string]string{"k": "v"})
	require.Equal(t, "v1", s.SchemaVersion)
	require.True(t, s.Success)
	require.NotNil(t, s.Data)
	require.Empty(t, s.Error)

	e := Error(errors.New("boom"))
	require.Equal(t, "v1", e.SchemaVersion)
	require.False(t, e.Success)
	require.Nil(t, e.Data)
	require.Equal(t, "boom", e.Error)
}

func TestPrintWith_CompactJSON(t *testing.T) {
	var buf bytes.Buffer
	err := PrintWith(Config{Writer: &buf}, map[string]string{"hello": "world"})
	require.NoError(t, err)
	require.Equal(t, "{\"hello\":\"world\"}\n", buf.String())
}

func TestPrintWith_PrettyJSON(t *testing.T) {
	var buf bytes.Buffer
	err := PrintWith(Config{Writer: &buf, Pretty: true}, map[string]string{"hello": "world"})
	require.NoError(t, err)

	out := buf.String()
	require.Contains(t, out, "\n  \"hello\": \"world\"\n")
	require.True(t, strings.HasPrefix(out, "{\n"))
}

func TestPrint_DefaultCompactJSON(t *testing.T) {
	t.Setenv("ECO_PRETTY_JSON", "")

	out := captureStdout(t, func() {
		require.NoError(t, Print(map[string]string{"hello": "world"}))
	})
	require.Equal(t, "{\"hello\":\"world\"}\n", out)
}

func TestPrintSuccessAndPrintError(t *testing.T) {
	t.Setenv("ECO_PRETTY_JSON", "")

	successOut := captureStdout(t, func() {
		require.NoError(t, PrintSuccess(map[string]int{"count": 2}))
	})
	require.Contains(t, successOut, "\"schema_version\":\"v1\"")
	require.Contains(t, successOut, "\"success\":true")
	require.Contains(t, successOut, "\"count\":2")

	errorOut := captureStdout(t, func() {
		require.NoError(t, PrintError(errors.New("bad things")))
	})
	require.Contains(t, errorOut, "\"success\":false")
	require.Contains(t, errorOut, "\"error\":\"bad things\"")
}

func TestError_RejectionIsEnriched(t *testing.T) {
	rej := models.Reject(models.CodeIllegalStageSkip, "payload.lifecycle", "created -> signed").
		WithStates("created", "signed")

	resp := Error(fmt.Errorf("submit: %w", rej))
	require.Equal(t, "ILLEGAL_STAGE_SKIP", resp.ErrorCode)
	require.Equal(t, "payload.lifecycle", resp.ErrorContext["field"])
	require.Equal(t, "created", resp.ErrorContext["current"])
	require.Equal(t, "signed", resp.ErrorContext["attempted"])
	require.Equal(t, "policy", resp.ErrorContext["class"])
	require.NotEmpty(t, resp.SuggestedAction)

	var buf bytes.Buffer
	require.NoError(t, PrintWith(Config{Writer: &buf}, resp))
	require.Contains(t, buf.String(), `"error_code":"ILLEGAL_STAGE_SKIP"`)
}

func TestError_PlainErrorOmitsEnrichedFields(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, PrintWith(Config{Writer: &buf}, Error(errors.New("plain"))))
	out := buf.String()
	require.NotContains(t, out, "error_code")
	require.NotContains(t, out, "suggested_action")
	require.NotContains(t, out, `"error_context"`)
}

func TestDefaultConfig(t *testing.T) {
	cases := map[string]bool{"": false, "1": true, "true": true, "0": false, "nope": false}
	for value, pretty := range cases {
		t.Run(value, func(t *testing.T) {
			t.Setenv("ECO_PRETTY_JSON", value)
			cfg := DefaultConfig()
			require.Equal(t, os.Stdout, cfg.Writer)
			require.Equal(t, pretty, cfg.Pretty)
		})
	}
}
