package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/capsulecheck/internal/testutil"
)

func requireShell(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell checks need a unix host")
	}
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
}

// runCLI executes the root command with args and returns its output and
// exit code. stdin feeds commands that read "-".
func runCLI(t *testing.T, stdin string, args ...string) (string, string, int) {
	t.Helper()
	stdout := &bytes.Buffer{}
	stderr := &bytes.Buffer{}

	cmd := NewRootCommand()
	cmd.SetArgs(args)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)

	err := cmd.ExecuteContext(context.Background())
	if err != nil {
		stderr.WriteString("error: " + err.Error() + "\n")
	}
	return stdout.String(), stderr.String(), GetExitCode(err)
}

func writeCapsule(t *testing.T, dir, name, body string) string {
	t.Helper()
	require.NoError(t, os.MkdirAll(dir, 0o755))
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

const passingCapsule = `id: demo.pass
title: Passing
witnesses:
  - name: ok
    language: shell
    code: exit 0
  - name: skipped
    language: shell
    code: exit 77
`

const failingCapsule = `id: demo.fail
title: Failing
witnesses:
  - name: broken
    language: shell
    code: |
      echo "expected 2 citations" >&2
      exit 1
`

func decodeResponse(t *testing.T, out string) CLIResponse {
	t.Helper()
	var resp CLIResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp), "output: %s", out)
	return resp
}

func TestRunGreen(t *testing.T) {
	requireShell(t)
	dir := filepath.Join(t.TempDir(), "capsules")
	writeCapsule(t, dir, "pass.yaml", passingCapsule)

	stdout, stderr, code := runCLI(t, "", "run", dir)
	require.Equal(t, ExitSuccess, code, "stderr: %s", stderr)
	assert.Contains(t, stdout, "demo.pass: GREEN")
	assert.Contains(t, stdout, "ok PASS")
	assert.Contains(t, stdout, "skipped SKIP")
}

func TestRunRed(t *testing.T) {
	requireShell(t)
	dir := filepath.Join(t.TempDir(), "capsules")
	writeCapsule(t, dir, "pass.yaml", passingCapsule)
	writeCapsule(t, dir, "fail.yaml", failingCapsule)

	stdout, stderr, code := runCLI(t, "", "run", dir, "--concurrency", "2")
	assert.Equal(t, ExitFailure, code)
	assert.Contains(t, stdout, "demo.fail: RED")
	assert.Contains(t, stdout, "expected 2 citations")
	assert.Contains(t, stderr, "1 of 2 document(s) RED")
}

func TestRunJSONOutput(t *testing.T) {
	requireShell(t)
	dir := filepath.Join(t.TempDir(), "capsules")
	writeCapsule(t, dir, "fail.yaml", failingCapsule)
	writeCapsule(t, dir, "pass.yaml", passingCapsule)

	stdout, _, code := runCLI(t, "", "run", dir, "--format", "json")
	assert.Equal(t, ExitFailure, code)

	resp := decodeResponse(t, stdout)
	assert.Equal(t, "ok", resp.Status)
	assert.NotEmpty(t, resp.RunID)

	results, ok := resp.Data.([]any)
	require.True(t, ok, "data should be a list, got %T", resp.Data)
	require.Len(t, results, 2)

	statuses := map[string]string{}
	for _, r := range results {
		m := r.(map[string]any)
		statuses[m["id"].(string)] = m["status"].(string)
	}
	assert.Equal(t, map[string]string{"demo.fail": "RED", "demo.pass": "GREEN"}, statuses)
}

func TestRunFilters(t *testing.T) {
	requireShell(t)
	dir := filepath.Join(t.TempDir(), "capsules")
	writeCapsule(t, dir, "pass.yaml", passingCapsule)
	writeCapsule(t, dir, "fail.yaml", failingCapsule)

	stdout, stderr, code := runCLI(t, "", "run", dir, "--capsule", "demo.pass", "--witness", "ok", "--format", "json")
	require.Equal(t, ExitSuccess, code, "stderr: %s", stderr)

	results := decodeResponse(t, stdout).Data.([]any)
	require.Len(t, results, 1)
	doc := results[0].(map[string]any)
	assert.Equal(t, "demo.pass", doc["id"])
	assert.Len(t, doc["outcomes"], 1)
}

func TestRunMalformedCapsule(t *testing.T) {
	requireShell(t)
	dir := filepath.Join(t.TempDir(), "capsules")
	writeCapsule(t, dir, "pass.yaml", passingCapsule)
	writeCapsule(t, dir, "bad.yaml", "id: [unterminated\n")

	_, stderr, code := runCLI(t, "", "run", dir)
	assert.Equal(t, ExitCommandError, code)
	assert.Contains(t, stderr, "failed to load capsules")

	stdout, stderr, code := runCLI(t, "", "run", dir, "--skip-invalid")
	assert.Equal(t, ExitSuccess, code, "stderr: %s", stderr)
	assert.Contains(t, stdout, "demo.pass: GREEN")
}

func TestRunNonExistentPath(t *testing.T) {
	_, stderr, code := runCLI(t, "", "run", filepath.Join(t.TempDir(), "missing"))
	assert.Equal(t, ExitCommandError, code)
	assert.Contains(t, stderr, "failed to load capsules")
}

func TestRunEmptyDirectory(t *testing.T) {
	_, _, code := runCLI(t, "", "run", t.TempDir())
	assert.Equal(t, ExitCommandError, code)
}

func TestRunSignRequiresKey(t *testing.T) {
	requireShell(t)
	dir := filepath.Join(t.TempDir(), "capsules")
	writeCapsule(t, dir, "pass.yaml", passingCapsule)

	_, stderr, code := runCLI(t, "", "run", dir, "--sign")
	assert.Equal(t, ExitCommandError, code)
	assert.Contains(t, stderr, "signing key is required")
}

func TestRunSignWritesReceipt(t *testing.T) {
	requireShell(t)
	tmp := t.TempDir()
	dir := filepath.Join(tmp, "capsules")
	outDir := filepath.Join(tmp, "artifacts")
	writeCapsule(t, dir, "pass.yaml", passingCapsule)

	_, stderr, code := runCLI(t, "", "run", dir, "--sign", "--key", testutil.TestSeedHex, "--out-dir", outDir)
	require.Equal(t, ExitSuccess, code, "stderr: %s", stderr)

	signed := globOne(t, filepath.Join(outDir, "witness_*.signed.json"))
	base := strings.TrimSuffix(signed, ".signed.json")
	assert.FileExists(t, base+".json")
	assert.FileExists(t, base+".sig")

	stdout, stderr, code := runCLI(t, "", "verify", signed, testutil.TestPublicHex)
	assert.Equal(t, ExitSuccess, code, "stderr: %s", stderr)
	assert.Equal(t, "OK\n", stdout)
}

func TestRunRecordsLedger(t *testing.T) {
	requireShell(t)
	tmp := t.TempDir()
	dir := filepath.Join(tmp, "capsules")
	db := filepath.Join(tmp, "ledger.db")
	writeCapsule(t, dir, "pass.yaml", passingCapsule)
	writeCapsule(t, dir, "fail.yaml", failingCapsule)

	runOut, _, code := runCLI(t, "", "run", dir, "--db", db, "--sign", "--key", testutil.TestSeedHex,
		"--out-dir", filepath.Join(tmp, "out"), "--format", "json")
	require.Equal(t, ExitFailure, code)
	runID := decodeResponse(t, runOut).RunID

	stdout, stderr, code := runCLI(t, "", "history", "--db", db, "--format", "json")
	require.Equal(t, ExitSuccess, code, "stderr: %s", stderr)
	runs := decodeResponse(t, stdout).Data.([]any)
	require.Len(t, runs, 1)
	run := runs[0].(map[string]any)
	assert.Equal(t, runID, run["run_id"])
	assert.Equal(t, dir, run["source"])
	assert.EqualValues(t, 2, run["documents"])
	assert.EqualValues(t, 1, run["green"])
	assert.EqualValues(t, 1, run["red"])
	assert.Equal(t, true, run["signed"])

	stdout, _, code = runCLI(t, "", "history", "--db", db, "--capsule", "demo.fail", "--format", "json")
	require.Equal(t, ExitSuccess, code)
	history := decodeResponse(t, stdout).Data.([]any)
	require.Len(t, history, 1)
	assert.Equal(t, "RED", history[0].(map[string]any)["status"])

	stdout, _, code = runCLI(t, "", "history", "--db", db, "--run", runID)
	require.Equal(t, ExitSuccess, code)
	assert.Contains(t, stdout, "demo.fail")
	assert.Contains(t, stdout, "RED")

	_, _, code = runCLI(t, "", "history", "--db", db, "--run", "no-such-run")
	assert.Equal(t, ExitCommandError, code)
}

func TestRunSignsBinaryOutput(t *testing.T) {
	requireShell(t)
	tmp := t.TempDir()
	dir := filepath.Join(tmp, "capsules")
	outDir := filepath.Join(tmp, "artifacts")
	db := filepath.Join(tmp, "ledger.db")
	writeCapsule(t, dir, "binary.yaml", `id: demo.binary
witnesses:
  - name: raw
    language: shell
    code: printf '\377ok'
`)

	_, stderr, code := runCLI(t, "", "run", dir, "--sign", "--key", testutil.TestSeedHex,
		"--out-dir", outDir, "--db", db)
	require.Equal(t, ExitSuccess, code, "stderr: %s", stderr)

	signed := globOne(t, filepath.Join(outDir, "witness_*.signed.json"))
	stdout, _, code := runCLI(t, "", "verify", signed, testutil.TestPublicHex)
	assert.Equal(t, ExitSuccess, code)
	assert.Equal(t, "OK\n", stdout)

	payload, err := os.ReadFile(strings.TrimSuffix(signed, ".signed.json") + ".json")
	require.NoError(t, err)
	assert.Contains(t, string(payload), "\"stdout\":\"\uFFFDok\"")

	stdout, _, code = runCLI(t, "", "history", "--db", db, "--format", "json")
	require.Equal(t, ExitSuccess, code)
	assert.Len(t, decodeResponse(t, stdout).Data.([]any), 1)
}

func TestHistoryRequiresDatabase(t *testing.T) {
	_, stderr, code := runCLI(t, "", "history")
	assert.Equal(t, ExitCommandError, code)
	assert.Contains(t, stderr, "ledger is required")
}

func globOne(t *testing.T, pattern string) string {
	t.Helper()
	matches, err := filepath.Glob(pattern)
	require.NoError(t, err)
	require.Len(t, matches, 1, "pattern %s", pattern)
	return matches[0]
}
