package main

import (
	"bytes"
	"fmt"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hansl/specification/pkg/identity"
	"github.com/hansl/specification/pkg/tape"
)

var featuresDir = filepath.Join("..", "..", "features")

func run(args ...string) (int, string, string) {
	var stdout, stderr bytes.Buffer
	code := Run(append([]string{"specrunner"}, args...), &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

// devnet starts an in-memory ledger funded from a fresh faucet key and
// returns its URL and the key path.
func devnet(t *testing.T) (string, string) {
	t.Helper()
	dir := t.TempDir()
	keyPath := filepath.Join(dir, "faucet.pem")
	code, _, stderr := run("keygen", keyPath)
	require.Equal(t, 0, code, stderr)

	opts := &serveOptions{
		symbols:   []string{"MFX"},
		faucetKey: keyPath,
		mint:      "1000000",
		version:   "1.4.2",
	}
	h, err := opts.devnet()
	require.NoError(t, err)
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return srv.URL, keyPath
}

func writeConfig(t *testing.T, serverURL, faucetKey, extra string) string {
	t.Helper()
	schemaPath, err := filepath.Abs(filepath.Join(featuresDir, "ledger.schema.yaml"))
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "runner.yaml")
	body := fmt.Sprintf("server_url: %s\nfaucet_key: %s\nschema: %s\nlog_level: error\n%s",
		serverURL, faucetKey, schemaPath, extra)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestRun_Version(t *testing.T) {
	code, stdout, _ := run("--version")
	require.Equal(t, 0, code)
	require.Contains(t, stdout, "specrunner version dev")
}

func TestRun_UnknownCommand(t *testing.T) {
	code, _, stderr := run("frobnicate")
	require.Equal(t, exitRuntime, code)
	require.Contains(t, stderr, "unknown command")
}

func TestKeygen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "id.pem")
	code, stdout, _ := run("keygen", path)
	require.Equal(t, 0, code)

	id, err := identity.LoadPEM(path)
	require.NoError(t, err)
	require.Contains(t, stdout, id.Address().String())

	code, _, stderr := run("keygen", path)
	require.Equal(t, exitRuntime, code)
	require.Contains(t, stderr, "exists")

	code, _, _ = run("keygen", "--force", path)
	require.Equal(t, 0, code)
}

func TestServe_RequiresFaucet(t *testing.T) {
	_, err := (&serveOptions{symbols: []string{"MFX"}, mint: "1"}).devnet()
	require.ErrorContains(t, err, "--faucet-key")

	_, key := devnet(t)
	_, err = (&serveOptions{symbols: []string{"MFX"}, faucetKey: key, mint: "-1"}).devnet()
	require.ErrorContains(t, err, "--mint")
}

func TestRun_Features(t *testing.T) {
	url, key := devnet(t)
	cfg := writeConfig(t, url, key, "server_version: \">= 1.0.0, < 2.0.0\"\n")

	code, stdout, stderr := run("run", "--config", cfg, "--format", "progress", "--no-colors", featuresDir)
	require.Equal(t, 0, code, "stdout:\n%s\nstderr:\n%s", stdout, stderr)
}

func TestRun_IncompatibleServerFails(t *testing.T) {
	url, key := devnet(t)
	cfg := writeConfig(t, url, key, "server_version: \">= 2.0.0\"\n")

	code, _, _ := run("run", "--config", cfg, "--format", "progress", "--no-colors",
		filepath.Join(featuresDir, "messages.feature"))
	require.Equal(t, exitFailed, code)
}

func TestRun_BadConfig(t *testing.T) {
	cfg := writeConfig(t, "http://127.0.0.1:1", "", "log_format: xml\n")
	code, _, stderr := run("run", "--config", cfg)
	require.Equal(t, exitRuntime, code)
	require.Contains(t, stderr, "log_format")

	code, _, _ = run("run", "--config", filepath.Join(t.TempDir(), "missing.yaml"))
	require.Equal(t, exitRuntime, code)
}

func TestRun_RecordVerifyReplay(t *testing.T) {
	url, key := devnet(t)
	cfg := writeConfig(t, url, key, "seed: 5\n")
	tapeDir := filepath.Join(t.TempDir(), "tape")
	store := filepath.Join(t.TempDir(), "store")
	feature := filepath.Join(featuresDir, "ledger.feature")

	code, stdout, stderr := run("run", "--config", cfg, "--format", "progress", "--no-colors",
		"--tape-dir", tapeDir, "--tape-store", store, feature)
	require.Equal(t, 0, code, "stdout:\n%s\nstderr:\n%s", stdout, stderr)
	require.Contains(t, stdout, "tape: ")

	code, stdout, _ = run("tape", "verify", tapeDir)
	require.Equal(t, 0, code, stdout)
	require.Contains(t, stdout, "Tape OK")

	manifest, err := tape.ReadManifest(tapeDir)
	require.NoError(t, err)
	entries, err := tape.ReadEntries(tapeDir)
	require.NoError(t, err)
	require.Len(t, manifest.Entries, len(entries))

	code, stdout, stderr = run("tape", "push", "--store", store, tapeDir)
	require.Equal(t, 0, code, stderr)
	hash := bytes.TrimSpace([]byte(stdout))

	// Replay needs no server.
	code, stdout, stderr = run("run", "--config", cfg, "--format", "progress", "--no-colors",
		"--server", "", "--tape-store", store, "--replay", string(hash), feature)
	require.Equal(t, 0, code, "stdout:\n%s\nstderr:\n%s", stdout, stderr)

	restored := filepath.Join(t.TempDir(), "restored")
	code, _, stderr = run("tape", "pull", "--store", store, string(hash), restored)
	require.Equal(t, 0, code, stderr)
	code, _, _ = run("tape", "verify", restored)
	require.Equal(t, 0, code)
}

func TestTapeVerify_DetectsTampering(t *testing.T) {
	url, key := devnet(t)
	cfg := writeConfig(t, url, key, "")
	tapeDir := filepath.Join(t.TempDir(), "tape")

	code, _, stderr := run("run", "--config", cfg, "--format", "progress", "--no-colors",
		"--tape-dir", tapeDir, filepath.Join(featuresDir, "messages.feature"))
	require.Equal(t, 0, code, stderr)

	entries, err := tape.ReadEntries(tapeDir)
	require.NoError(t, err)
	require.NotEmpty(t, entries)
	entries[0].Value = append(entries[0].Value, 0xff)
	require.NoError(t, tape.WriteEntries(tapeDir, entries))

	code, stdout, _ := run("tape", "verify", tapeDir)
	require.Equal(t, exitFailed, code)
	require.Contains(t, stdout, "hash mismatch")
}
