package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOutputFormatter_JSONSuccess(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{Format: "json", Writer: buf}

	require.NoError(t, formatter.Success(map[string]int{"reaped": 3}, "ignored in json mode"))

	var resp CLIResponse
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, map[string]any{"reaped": float64(3)}, resp.Data)
	assert.NotContains(t, buf.String(), "ignored")
}

func TestOutputFormatter_JSONError(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{Format: "json", Writer: buf}

	require.NoError(t, formatter.Error("INVALID_PLAN", "phases: incomplete value", map[string]string{"file": "plan.json"}))

	var resp CLIResponse
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Equal(t, "error", resp.Status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "INVALID_PLAN", resp.Error.Code)
	assert.Equal(t, "phases: incomplete value", resp.Error.Message)
	assert.NotNil(t, resp.Error.Details)
}

func TestOutputFormatter_TextSuccessLines(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{Format: "text", Writer: buf}

	require.NoError(t, formatter.Success(struct{}{}, "Canary demo: promoted", "  report: r.json"))
	assert.Equal(t, "Canary demo: promoted\n  report: r.json\n", buf.String())
}

func TestOutputFormatter_TextSuccessFallback(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{Format: "text", Writer: buf}

	require.NoError(t, formatter.Success("done"))
	assert.Equal(t, "done\n", buf.String())
}

func TestOutputFormatter_TextErrorDetailsOnlyWhenVerbose(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{Format: "text", Writer: buf}
	require.NoError(t, formatter.Error("E1", "boom", "why"))
	assert.Equal(t, "Error [E1]: boom\n", buf.String())

	buf.Reset()
	formatter.Verbose = true
	require.NoError(t, formatter.Error("E1", "boom", "why"))
	assert.Contains(t, buf.String(), "Details: why")
}

func TestOutputFormatter_VerboseLogUsesErrWriter(t *testing.T) {
	out, diag := &bytes.Buffer{}, &bytes.Buffer{}
	formatter := &OutputFormatter{Format: "json", Writer: out, ErrWriter: diag}

	formatter.VerboseLog("hidden %d", 1)
	assert.Empty(t, diag.String())

	formatter.Verbose = true
	formatter.VerboseLog("shown %d", 2)
	assert.Equal(t, "shown 2\n", diag.String())
	assert.Empty(t, out.String())
}

func TestGetExitCode(t *testing.T) {
	assert.Equal(t, ExitCommandError, GetExitCode(NewExitError(ExitCommandError, "bad flag")))
	wrapped := fmt.Errorf("outer: %w", WrapExitError(ExitSuccess, "fine", errors.New("x")))
	assert.Equal(t, ExitSuccess, GetExitCode(wrapped))
	assert.Equal(t, ExitFailure, GetExitCode(errors.New("plain")))
}

func TestExitErrorMessage(t *testing.T) {
	cause := errors.New("disk full")
	err := WrapExitError(ExitFailure, "failed to write report", cause)
	assert.Equal(t, "failed to write report: disk full", err.Error())
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "plain", NewExitError(ExitFailure, "plain").Error())
}
