package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/shipsure/internal/config"
	"github.com/roach88/shipsure/internal/ledger"
	"github.com/roach88/shipsure/internal/policy"
)

const (
	testOwner  = "0xowner"
	testHolder = "0xholder"
)

// testConfig points the mirror and ledger at a temp dir. A fresh ledger
// authorises its owner as oracle, so the owner doubles as oracle here.
func testConfig(t *testing.T) config.Config {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Default()
	cfg.Mirror.DSN = filepath.Join(dir, "mirror.db")
	cfg.Ledger.Path = filepath.Join(dir, "ledger.db")
	cfg.Ledger.Owner = testOwner
	cfg.Ledger.Oracle = testOwner
	cfg.Engine.ExpirySweep = false
	cfg.Log.Level = "error"
	require.NoError(t, cfg.Validate())
	return cfg
}

func testOptions(cfg config.Config) *RootOptions {
	return &RootOptions{loadConfig: func(string) (config.Config, error) { return cfg, nil }}
}

func runCLI(t *testing.T, cfg config.Config, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommand(testOptions(cfg))
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func mustRun(t *testing.T, cfg config.Config, args ...string) string {
	t.Helper()
	out, err := runCLI(t, cfg, args...)
	require.NoError(t, err, out)
	return out
}

func decodeData(t *testing.T, out string) map[string]any {
	t.Helper()
	var resp struct {
		Status string         `json:"status"`
		Data   map[string]any `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp), out)
	require.Equal(t, "ok", resp.Status)
	return resp.Data
}

func TestEndToEnd_DamagedShipmentPaysClaim(t *testing.T) {
	cfg := testConfig(t)

	out := mustRun(t, cfg, "ledger", "fund", "100")
	assert.Contains(t, out, "Funded 100")

	out = mustRun(t, cfg, "policy", "create", "SHIP100", "--holder", testHolder, "--coverage", "2.0")
	assert.Contains(t, out, "Policy 1 for SHIP100")
	assert.Contains(t, out, "premium 0.04")

	out = mustRun(t, cfg, "check", "SHIP100", "--status", "Damaged")
	assert.Contains(t, out, "SHIP100: Damaged (success), claim created, ledger tx 0x")

	detail := decodeData(t, mustRun(t, cfg, "--format", "json", "policy", "show", "SHIP100"))
	assert.Equal(t, true, detail["inSync"])
	claims, ok := detail["claims"].([]any)
	require.True(t, ok)
	require.Len(t, claims, 1)
	assert.Equal(t, "2", claims[0].(map[string]any)["claimAmount"])
	mirror := detail["mirror"].(map[string]any)
	assert.Equal(t, "Claimed", mirror["status"])
	assert.Equal(t, "Damaged", mirror["shipmentStatus"])

	out = mustRun(t, cfg, "tracking", "SHIP100")
	assert.Contains(t, out, "Damaged")

	stats := decodeData(t, mustRun(t, cfg, "--format", "json", "stats"))
	assert.Equal(t, float64(1), stats["damaged"])
	assert.Equal(t, float64(1), stats["totalClaims"])
	assert.Equal(t, float64(0), stats["activePolicies"])

	info := decodeData(t, mustRun(t, cfg, "--format", "json", "ledger", "info"))
	assert.Equal(t, "98.04", info["balance"])
	assert.Equal(t, float64(1), info["totalClaims"])

	// A second check of a settled policy changes nothing.
	out = mustRun(t, cfg, "check", "SHIP100", "--status", "Lost")
	assert.Contains(t, out, "SHIP100: Damaged (skipped)")
}

func TestCycle_NothingInTransit(t *testing.T) {
	cfg := testConfig(t)
	out := mustRun(t, cfg, "cycle")
	assert.Contains(t, out, "checked 0, succeeded 0, skipped 0, failed 0, claims paid 0")
}

func TestCycle_JSON(t *testing.T) {
	cfg := testConfig(t)
	mustRun(t, cfg, "ledger", "fund", "10")
	mustRun(t, cfg, "policy", "create", "SHIP-A", "--holder", testHolder, "--coverage", "1")
	mustRun(t, cfg, "policy", "create", "SHIP-B", "--holder", testHolder, "--coverage", "1")

	out, err := runCLI(t, cfg, "--format", "json", "cycle")
	if err != nil {
		// The simulator may report a failure class; anything else is a bug.
		assert.Equal(t, ExitFailure, GetExitCode(err))
	}

	var resp CLIResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp), out)
	assert.NotEmpty(t, resp.CycleID)
	data := resp.Data.(map[string]any)
	assert.Equal(t, float64(2), data["totalChecked"])
}

func TestCheck_UnknownShipment(t *testing.T) {
	cfg := testConfig(t)
	_, err := runCLI(t, cfg, "check", "NOPE", "--status", "Delivered")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Equal(t, ErrCodeNotFound, errorCode(err))
}

func TestCheck_InvalidStatus(t *testing.T) {
	cfg := testConfig(t)
	_, err := runCLI(t, cfg, "check", "SHIP100", "--status", "Sunk")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestCheck_OracleIdentityMismatch(t *testing.T) {
	cfg := testConfig(t)
	mustRun(t, cfg, "ledger", "set-oracle", "0xrotated")

	_, err := runCLI(t, cfg, "check", "SHIP100", "--status", "Delivered")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "0xrotated")

	cfg.Ledger.Oracle = "0xrotated"
	info := decodeData(t, mustRun(t, cfg, "--format", "json", "ledger", "info"))
	assert.Equal(t, "0xrotated", info["oracleAddress"])
}

func TestPolicyCreate_Rejections(t *testing.T) {
	cfg := testConfig(t)

	_, err := runCLI(t, cfg, "policy", "create", "SHIP100", "--holder", testHolder, "--coverage", "abc")
	assert.Equal(t, ExitCommandError, GetExitCode(err))

	_, err = runCLI(t, cfg, "policy", "create", "SHIP100", "--holder", testHolder, "--coverage", "1", "--premium", "0.5")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Equal(t, ErrCodeRejected, errorCode(err))

	mustRun(t, cfg, "policy", "create", "SHIP100", "--holder", testHolder, "--coverage", "1")
	_, err = runCLI(t, cfg, "policy", "create", "SHIP100", "--holder", testHolder, "--coverage", "1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already insured")
}

func TestPolicyShow_Missing(t *testing.T) {
	cfg := testConfig(t)
	_, err := runCLI(t, cfg, "policy", "show", "NOPE")
	require.Error(t, err)
	assert.Equal(t, ErrCodeNotFound, errorCode(err))
}

func TestPolicySync_ProjectsLedgerOnlyPolicy(t *testing.T) {
	cfg := testConfig(t)

	// a ledger policy whose mirror write never happened
	book, err := ledger.Open(cfg.Ledger.Path, testOwner)
	require.NoError(t, err)
	cov := policy.MustAmount("1")
	_, _, err = book.CreatePolicy(context.Background(), testHolder, "SHIP100", cov, time.Hour, policy.Premium(cov))
	require.NoError(t, err)
	require.NoError(t, book.Close())

	detail := decodeData(t, mustRun(t, cfg, "--format", "json", "policy", "show", "SHIP100"))
	assert.Nil(t, detail["mirror"])
	assert.Equal(t, false, detail["inSync"])

	out := mustRun(t, cfg, "policy", "sync", "SHIP100")
	assert.Contains(t, out, "Synced policy 1 for SHIP100")
	out = mustRun(t, cfg, "policy", "sync", "SHIP100")
	assert.Contains(t, out, "already in the mirror")

	detail = decodeData(t, mustRun(t, cfg, "--format", "json", "policy", "show", "SHIP100"))
	assert.Equal(t, true, detail["inSync"])
	assert.Equal(t, "Active", detail["mirror"].(map[string]any)["status"])

	_, err = runCLI(t, cfg, "policy", "sync", "NOPE")
	require.Error(t, err)
	assert.Equal(t, ErrCodeNotFound, errorCode(err))
}

func TestExpire(t *testing.T) {
	cfg := testConfig(t)
	mustRun(t, cfg, "policy", "create", "SHIP100", "--holder", testHolder, "--coverage", "1", "--duration", "1ms")
	time.Sleep(5 * time.Millisecond)

	out := mustRun(t, cfg, "expire")
	assert.Contains(t, out, "Expired 1, skipped 0, failed 0")
	assert.Contains(t, out, "SHIP100")

	detail := decodeData(t, mustRun(t, cfg, "--format", "json", "policy", "show", "SHIP100"))
	assert.Equal(t, "Expired", detail["mirror"].(map[string]any)["status"])
	assert.Equal(t, true, detail["inSync"])
}

func TestTracking_Empty(t *testing.T) {
	cfg := testConfig(t)
	out := mustRun(t, cfg, "tracking", "SHIP100")
	assert.Contains(t, out, "No tracking entries for SHIP100")

	out = mustRun(t, cfg, "--format", "json", "tracking", "SHIP100")
	assert.Contains(t, out, `"data":[]`)
}

func TestConfigError(t *testing.T) {
	opts := &RootOptions{loadConfig: config.Load}
	cmd := newRootCommand(opts)
	cmd.SetArgs([]string{"--config", filepath.Join(t.TempDir(), "missing.yaml"), "stats"})
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Equal(t, ErrCodeConfig, errorCode(err))
}

func TestExecute_JSONError(t *testing.T) {
	var out, errOut bytes.Buffer
	code := Execute([]string{"--format", "json", "--config", filepath.Join(t.TempDir(), "missing.yaml"), "stats"}, &out, &errOut)
	assert.Equal(t, ExitCommandError, code)

	var resp CLIResponse
	require.NoError(t, json.Unmarshal(out.Bytes(), &resp), out.String())
	assert.Equal(t, "error", resp.Status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, ErrCodeConfig, resp.Error.Code)
}

func TestExecute_TextError(t *testing.T) {
	var out, errOut bytes.Buffer
	code := Execute([]string{"check"}, &out, &errOut)
	assert.Equal(t, ExitCommandError, code)
	assert.Contains(t, errOut.String(), "Error:")
}

func TestServe_StopsOnCancel(t *testing.T) {
	cfg := testConfig(t)
	cfg.HTTP.Addr = "127.0.0.1:0"

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	opts := &ServeOptions{RootOptions: testOptions(cfg), ready: cancel}
	cmd := &cobra.Command{}
	cmd.SetContext(ctx)
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})

	done := make(chan error, 1)
	go func() { done <- runServe(opts, cmd) }()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("serve did not stop after cancel")
	}
}
