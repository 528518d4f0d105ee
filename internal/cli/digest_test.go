package cli

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/capsulecheck/internal/capsule"
	"github.com/roach88/capsulecheck/internal/testutil"
)

const approvedCapsule = `# reviewed capsule
id: llm.citation_required
version: "1.0.0"
domain: llm
title: Citations required
statement: Every factual claim must cite a source.
assumptions:
  - inputs are UTF-8
provenance:
  author: ops
  review:
    status: approved
`

const draftCapsule = `id: llm.draft
title: Draft
`

func digestReport(t *testing.T, stdout string) DigestReport {
	t.Helper()
	var resp struct {
		Data DigestReport `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(stdout), &resp), "output: %s", stdout)
	return resp.Data
}

func TestDigestUpdateAndVerify(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "capsules")
	path := writeCapsule(t, dir, "citation.yaml", approvedCapsule)

	stdout, _, code := runCLI(t, "", "digest", dir, "--verify", "--format", "json")
	require.Equal(t, ExitSuccess, code)
	report := digestReport(t, stdout)
	assert.Equal(t, DigestSummary{Total: 1, Missing: 1}, report.Summary)
	assert.False(t, report.Results[0].Updated)

	stdout, _, code = runCLI(t, "", "digest", dir, "--format", "json")
	require.Equal(t, ExitSuccess, code)
	report = digestReport(t, stdout)
	require.Len(t, report.Results, 1)
	entry := report.Results[0]
	assert.Equal(t, DigestUpdated, entry.Status)
	assert.Equal(t, "llm.citation_required", entry.ID)
	assert.Equal(t, "sha256", entry.Algorithm)
	assert.Len(t, entry.NewDigest, 64)

	doc, err := capsule.LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, entry.NewDigest, doc.Signing().Digest)

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(raw), "# reviewed capsule\n"), "comments should survive write-back")

	stdout, _, code = runCLI(t, "", "digest", dir, "--verify")
	assert.Equal(t, ExitSuccess, code)
	assert.Contains(t, stdout, "Verification")
}

func TestDigestVerifyDetectsMismatch(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "capsules")
	path := writeCapsule(t, dir, "citation.yaml", approvedCapsule)

	_, _, code := runCLI(t, "", "digest", dir)
	require.Equal(t, ExitSuccess, code)

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	edited := strings.Replace(string(raw), "title: Citations required", "title: Citations optional", 1)
	require.NoError(t, os.WriteFile(path, []byte(edited), 0o644))

	stdout, stderr, code := runCLI(t, "", "digest", dir, "--verify")
	assert.Equal(t, ExitFailure, code)
	assert.Contains(t, stdout, "OLD:")
	assert.Contains(t, stderr, "do not match")

	// Provenance is outside the core, so editing it keeps the digest valid.
	_, _, code = runCLI(t, "", "digest", dir)
	require.Equal(t, ExitSuccess, code)
	raw, err = os.ReadFile(path)
	require.NoError(t, err)
	edited = strings.Replace(string(raw), "author: ops", "author: someone-else", 1)
	require.NoError(t, os.WriteFile(path, []byte(edited), 0o644))

	_, _, code = runCLI(t, "", "digest", dir, "--verify")
	assert.Equal(t, ExitSuccess, code)
}

func TestDigestReportsBrokenFiles(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "capsules")
	writeCapsule(t, dir, "good.yaml", draftCapsule)
	writeCapsule(t, dir, "bad.yaml", "title: [oops\n")

	stdout, _, code := runCLI(t, "", "digest", dir, "--format", "json")
	assert.Equal(t, ExitFailure, code)

	report := digestReport(t, stdout)
	assert.Equal(t, 2, report.Summary.Total)
	assert.Equal(t, 1, report.Summary.Errors)
	assert.Equal(t, 1, report.Summary.Updated)
	assert.Equal(t, DigestError, report.Results[0].Status)
	assert.Contains(t, report.Results[0].File, "bad.yaml")
}

func TestDigestMissingPath(t *testing.T) {
	_, _, code := runCLI(t, "", "digest", filepath.Join(t.TempDir(), "missing"))
	assert.Equal(t, ExitCommandError, code)
}

func TestSealAndPolicy(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "capsules")
	path := writeCapsule(t, dir, "citation.yaml", approvedCapsule)
	writeCapsule(t, dir, "draft.yaml", draftCapsule)

	_, _, code := runCLI(t, "", "digest", dir)
	require.Equal(t, ExitSuccess, code)

	stdout, _, code := runCLI(t, "", "policy", dir)
	assert.Equal(t, ExitSuccess, code)
	assert.Contains(t, stdout, "policy summary: checked=2 errors=0")

	stdout, _, code = runCLI(t, "", "policy", dir, "--require-signature-on-approved")
	assert.Equal(t, ExitFailure, code)
	assert.Contains(t, stdout, "[error] approved requires signature+pubkey: "+path)

	stdout, stderr, code := runCLI(t, "", "seal", dir, "--key", testutil.TestSeedHex, "--key-id", "release")
	require.Equal(t, ExitSuccess, code, "stderr: %s", stderr)
	assert.Contains(t, stdout, "[signed] "+path)

	doc, err := capsule.LoadFile(path)
	require.NoError(t, err)
	signing := doc.Signing()
	assert.Equal(t, "ed25519", signing.Method)
	assert.Equal(t, "release", signing.KeyID)
	assert.NotEmpty(t, signing.Signature)
	assert.NotEmpty(t, signing.PubKey)

	stdout, _, code = runCLI(t, "", "policy", dir, "--require-signature-on-approved", "--format", "json")
	assert.Equal(t, ExitSuccess, code)
	var resp struct {
		Data PolicyReport `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(stdout), &resp))
	assert.Equal(t, PolicyReport{Checked: 2, Violations: []PolicyViolation{}}, resp.Data)

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	edited := strings.Replace(string(raw), "statement: Every factual claim must cite a source.", "statement: Claims are fine.", 1)
	require.NoError(t, os.WriteFile(path, []byte(edited), 0o644))

	stdout, _, code = runCLI(t, "", "policy", dir, "--require-signature-on-approved")
	assert.Equal(t, ExitFailure, code)
	assert.Contains(t, stdout, "[error] digest mismatch: "+path)
}

func TestPolicyRejectsForgedSeal(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "capsules")
	path := writeCapsule(t, dir, "citation.yaml", approvedCapsule)

	_, _, code := runCLI(t, "", "digest", dir)
	require.Equal(t, ExitSuccess, code)
	_, _, code = runCLI(t, "", "seal", dir, "--key", testutil.TestSeedHex)
	require.Equal(t, ExitSuccess, code)

	doc, err := capsule.LoadFile(path)
	require.NoError(t, err)
	sig := doc.Signing().Signature
	forged := strings.Repeat("A", len(sig)-2) + "=="
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, []byte(strings.Replace(string(raw), sig, forged, 1)), 0o644))

	stdout, _, code := runCLI(t, "", "policy", dir, "--require-signature-on-approved")
	assert.Equal(t, ExitFailure, code)
	assert.Contains(t, stdout, "signature verification failed: bad-signature")
}

func TestSealSkipsUndigested(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "capsules")
	writeCapsule(t, dir, "draft.yaml", draftCapsule)

	stdout, _, code := runCLI(t, "", "seal", dir, "--key", testutil.TestSeedHex, "--format", "json")
	assert.Equal(t, ExitSuccess, code)

	var resp struct {
		Data []SealEntry `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(stdout), &resp))
	require.Len(t, resp.Data, 1)
	assert.Equal(t, SealSkipped, resp.Data[0].Status)
	assert.Equal(t, "no digest", resp.Data[0].Reason)
}

func TestSealRequiresKey(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "capsules")
	writeCapsule(t, dir, "draft.yaml", draftCapsule)

	_, stderr, code := runCLI(t, "", "seal", dir)
	assert.Equal(t, ExitCommandError, code)
	assert.Contains(t, stderr, "signing key is required")
}
