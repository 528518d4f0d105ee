package cli

import (
	"encoding/hex"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/capsulecheck/internal/sign"
	"github.com/roach88/capsulecheck/internal/testutil"
)

const sampleResults = `[
  {"id": "demo.pass", "status": "GREEN", "outcomes": [
    {"name": "ok", "status": "PASS", "exit_code": 0, "stdout": "", "stderr": "", "duration_ms": 4}
  ]}
]`

func signSample(t *testing.T, outDir string) string {
	t.Helper()
	_, stderr, code := runCLI(t, sampleResults, "sign", "-", "--key", testutil.TestSeedHex, "--out-dir", outDir)
	require.Equal(t, ExitSuccess, code, "stderr: %s", stderr)
	return globOne(t, filepath.Join(outDir, "witness_*.signed.json"))
}

func TestSignFromStdin(t *testing.T) {
	outDir := t.TempDir()

	stdout, stderr, code := runCLI(t, sampleResults, "sign", "--key", testutil.TestSeedHex, "--out-dir", outDir, "--format", "json")
	require.Equal(t, ExitSuccess, code, "stderr: %s", stderr)

	var resp struct {
		Data SignResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(stdout), &resp))
	assert.Len(t, resp.Data.Files, 3)
	assert.Len(t, resp.Data.Digest, 64)

	pub, _ := testutil.TestKey()
	assert.Equal(t, sign.KeyID(pub), resp.Data.KeyID)

	payload, err := os.ReadFile(globOne(t, filepath.Join(outDir, "witness_*[0-9]Z.json")))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(payload), `[{"id":"demo.pass","outcomes":[{"duration_ms":4,`))
}

func TestSignFromFileWithKeyID(t *testing.T) {
	tmp := t.TempDir()
	input := filepath.Join(tmp, "batch.json")
	require.NoError(t, os.WriteFile(input, []byte(sampleResults), 0o644))

	stdout, stderr, code := runCLI(t, "", "sign", input, "--key", testutil.TestSeedHex,
		"--key-id", "ci-2026", "--out-dir", filepath.Join(tmp, "out"))
	require.Equal(t, ExitSuccess, code, "stderr: %s", stderr)
	assert.Contains(t, stdout, "wrote:")

	raw, err := os.ReadFile(globOne(t, filepath.Join(tmp, "out", "witness_*.signed.json")))
	require.NoError(t, err)
	r, err := sign.ParseReceipt(raw)
	require.NoError(t, err)
	assert.Equal(t, "ci-2026", r.Proof.KeyID)
}

func TestSignMatchesRunSign(t *testing.T) {
	requireShell(t)
	tmp := t.TempDir()
	dir := filepath.Join(tmp, "capsules")
	writeCapsule(t, dir, "pass.yaml", passingCapsule)

	runOut, stderr, code := runCLI(t, "", "run", dir, "--format", "json",
		"--sign", "--key", testutil.TestSeedHex, "--out-dir", filepath.Join(tmp, "run"))
	require.Equal(t, ExitSuccess, code, "stderr: %s", stderr)

	raw, err := os.ReadFile(globOne(t, filepath.Join(tmp, "run", "witness_*.signed.json")))
	require.NoError(t, err)
	fromRun, err := sign.ParseReceipt(raw)
	require.NoError(t, err)

	signOut, stderr, code := runCLI(t, runOut, "sign", "-", "--key", testutil.TestSeedHex,
		"--out-dir", filepath.Join(tmp, "piped"), "--format", "json")
	require.Equal(t, ExitSuccess, code, "stderr: %s", stderr)

	var resp struct {
		Data SignResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(signOut), &resp))
	assert.Equal(t, fromRun.Proof.Canonical.Digest, resp.Data.Digest)
}

func TestSignRejectsBadInput(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"empty", ""},
		{"object without data", `{"status":"ok"}`},
		{"not a list", `{"data": {"id": "x"}}`},
		{"not json", `GREEN`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, code := runCLI(t, tt.input, "sign", "-", "--key", testutil.TestSeedHex, "--out-dir", t.TempDir())
			assert.Equal(t, ExitCommandError, code)
		})
	}
}

func TestSignRequiresKey(t *testing.T) {
	_, stderr, code := runCLI(t, sampleResults, "sign", "-", "--out-dir", t.TempDir())
	assert.Equal(t, ExitCommandError, code)
	assert.Contains(t, stderr, "signing key is required")
}

func TestVerifyJSON(t *testing.T) {
	signed := signSample(t, t.TempDir())

	stdout, stderr, code := runCLI(t, "", "verify", signed, "--pub", testutil.TestPublicHex, "--format", "json")
	require.Equal(t, ExitSuccess, code, "stderr: %s", stderr)

	var resp struct {
		Data VerifyResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(stdout), &resp))
	assert.True(t, resp.Data.OK)
	assert.Empty(t, resp.Data.Reason)
	assert.Len(t, resp.Data.Digest, 64)
}

func TestVerifyPublicKeyFile(t *testing.T) {
	tmp := t.TempDir()
	signed := signSample(t, tmp)

	pub, _ := testutil.TestKey()
	pemBytes, err := sign.MarshalPublicKeyPEM(pub)
	require.NoError(t, err)
	pubFile := filepath.Join(tmp, "signing.pub")
	require.NoError(t, os.WriteFile(pubFile, pemBytes, 0o644))

	stdout, _, code := runCLI(t, "", "verify", signed, pubFile)
	assert.Equal(t, ExitSuccess, code)
	assert.Equal(t, "OK\n", stdout)
}

func TestVerifyTamperedPayload(t *testing.T) {
	signed := signSample(t, t.TempDir())

	raw, err := os.ReadFile(signed)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(signed, []byte(strings.Replace(string(raw), "GREEN", "RED", 1)), 0o644))

	stdout, _, code := runCLI(t, "", "verify", signed, testutil.TestPublicHex)
	assert.Equal(t, ExitFailure, code)
	assert.Equal(t, "FAIL: digest-mismatch\n", stdout)
}

func TestVerifyWrongKey(t *testing.T) {
	signed := signSample(t, t.TempDir())

	other, _ := testutil.RandomKey(t)

	stdout, _, code := runCLI(t, "", "verify", signed, hex.EncodeToString(other))
	assert.Equal(t, ExitFailure, code)
	assert.Equal(t, "FAIL: bad-signature\n", stdout)
}

func TestVerifyUsageErrors(t *testing.T) {
	signed := signSample(t, t.TempDir())

	tests := []struct {
		name string
		args []string
	}{
		{"missing receipt", []string{"verify", filepath.Join(t.TempDir(), "nope.json"), testutil.TestPublicHex}},
		{"missing key", []string{"verify", signed}},
		{"bad key", []string{"verify", signed, "not-a-key"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, code := runCLI(t, "", tt.args...)
			assert.Equal(t, ExitCommandError, code)
		})
	}
}

func TestVerifyInvalidReceipt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "receipt.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"payload": null}`), 0o644))

	_, stderr, code := runCLI(t, "", "verify", path, testutil.TestPublicHex)
	assert.Equal(t, ExitCommandError, code)
	assert.Contains(t, stderr, "invalid receipt")
}
