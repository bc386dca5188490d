package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/phasegate/internal/limiter"
	"github.com/sawpanic/phasegate/internal/phase"
	"github.com/sawpanic/phasegate/internal/progression"
)

const testSecret = "s3cr3t-override"

type testEnv struct {
	dir    string
	config string
}

func newTestEnv(t *testing.T, static string) testEnv {
	t.Helper()
	dir := t.TempDir()
	body := fmt.Sprintf(`
state:
  config_path: %[1]s/phase.json
  intent_path: %[1]s/intent.json
history:
  backend: file
  path: %[1]s/history.jsonl
override:
  secret_env: PHASEGATE_TEST_OVERRIDE
  attempts_per_minute: 1
  burst: 3
  log_path: %[1]s/override.jsonl
limiter:
  store: file
  path: %[1]s/trade_counts.json
provider:
  kind: static
  breaker: false
  static:
%[2]s
logging:
  level: error
`, dir, static)
	path := filepath.Join(dir, "phasegate.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	t.Setenv("PHASEGATE_TEST_OVERRIDE", testSecret)
	return testEnv{dir: dir, config: path}
}

const proofReadyMetrics = `    session_count: 35
    win_rate: 0.6
    avg_risk_reward: 1.8`

const unmetMetrics = `    session_count: 3
    win_rate: 0.2
    avg_risk_reward: 0.5`

func (e testEnv) run(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	root := newRootCommand()
	root.SetArgs(append([]string{"--config", e.config}, args...))
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetIn(strings.NewReader(stdin))
	err := root.Execute()
	return out.String() + errOut.String(), err
}

func TestCLI_StatusOnFreshState(t *testing.T) {
	env := newTestEnv(t, unmetMetrics)

	out, err := env.run(t, "", "status")
	require.NoError(t, err)
	assert.Contains(t, out, "experience (Experience)")
	assert.Contains(t, out, "Last transition:    none")

	raw, err := os.ReadFile(filepath.Join(env.dir, "phase.json"))
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"current_phase": "experience"`)
}

func TestCLI_ValidateUnmetExitsThree(t *testing.T) {
	env := newTestEnv(t, unmetMetrics)

	out, err := env.run(t, "", "validate")
	require.Error(t, err)
	assert.Equal(t, exitCriteriaNotMet, exitCode(err))
	assert.ErrorIs(t, err, errQuiet)
	assert.Contains(t, out, "Gate for proof: criteria NOT met")
	assert.Contains(t, out, "[FAIL] session_count")
}

func TestCLI_AdvanceValidated(t *testing.T) {
	env := newTestEnv(t, proofReadyMetrics)

	out, err := env.run(t, "", "advance")
	require.NoError(t, err)
	assert.Contains(t, out, "Advanced experience -> proof")

	out, err = env.run(t, "", "--json", "status")
	require.NoError(t, err)
	var st map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &st))
	assert.Equal(t, "proof", st["current_phase"])
	assert.Equal(t, "trial", st["next_phase"])

	out, err = env.run(t, "", "history")
	require.NoError(t, err)
	assert.Contains(t, out, "experience")
	assert.Contains(t, out, "validated")

	_, err = env.run(t, "", "advance")
	assert.Equal(t, exitCriteriaNotMet, exitCode(err), "trial gate is stricter")
}

func TestCLI_AdvanceSkippingPhaseRejected(t *testing.T) {
	env := newTestEnv(t, proofReadyMetrics)

	_, err := env.run(t, "", "advance", "scaling")
	var invalid *progression.InvalidTransitionError
	assert.ErrorAs(t, err, &invalid)
	assert.Equal(t, exitError, exitCode(err))
}

func TestCLI_ForcedAdvance(t *testing.T) {
	env := newTestEnv(t, unmetMetrics)

	out, err := env.run(t, testSecret+"\n", "advance", "scaling", "--force")
	require.NoError(t, err)
	assert.Contains(t, out, "Advanced experience -> scaling")

	out, err = env.run(t, "", "history", "--overrides")
	require.NoError(t, err)
	assert.Contains(t, out, "allowed")
	assert.Contains(t, out, "forced advance from experience to scaling")

	for _, name := range []string{"phase.json", "history.jsonl", "override.jsonl"} {
		raw, err := os.ReadFile(filepath.Join(env.dir, name))
		require.NoError(t, err)
		assert.NotContains(t, string(raw), testSecret, name)
	}
}

func TestCLI_ForcedAdvanceRefusals(t *testing.T) {
	tests := []struct {
		name  string
		stdin string
		args  []string
		want  error
	}{
		{"wrong password", "guess\n", []string{"advance", "trial", "--force"}, progression.ErrInvalidOverridePassword},
		{"empty password", "\n", []string{"advance", "trial", "--force"}, progression.ErrOverridePasswordRequired},
		{"empty env var", "", []string{"advance", "trial", "--force", "--password-env", "PHASEGATE_TEST_UNSET"}, progression.ErrOverridePasswordRequired},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, unmetMetrics)

			out, err := env.run(t, tt.stdin, tt.args...)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.want)
			assert.Equal(t, exitOverrideRefuse, exitCode(err))
			assert.NotContains(t, out, testSecret)
			assert.NotContains(t, err.Error(), testSecret)

			out, err = env.run(t, "", "history", "--overrides")
			require.NoError(t, err)
			assert.Contains(t, out, "blocked")
		})
	}
}

func TestCLI_OverrideThrottleAcrossRuns(t *testing.T) {
	env := newTestEnv(t, unmetMetrics)

	for i := 0; i < 3; i++ {
		_, err := env.run(t, "guess\n", "advance", "proof", "--force")
		require.ErrorIs(t, err, progression.ErrInvalidOverridePassword)
	}

	_, err := env.run(t, testSecret+"\n", "advance", "proof", "--force")
	require.ErrorIs(t, err, progression.ErrOverrideRateLimited)
	assert.Equal(t, exitOverrideRefuse, exitCode(err))

	out, err := env.run(t, "", "status")
	require.NoError(t, err)
	assert.Contains(t, out, "experience (Experience)")
}

func TestCLI_PasswordFromEnv(t *testing.T) {
	env := newTestEnv(t, unmetMetrics)
	t.Setenv("PHASEGATE_TEST_PW", testSecret)

	_, err := env.run(t, "", "advance", "proof", "--force", "--password-env", "PHASEGATE_TEST_PW")
	require.NoError(t, err)
}

func TestCLI_TradeLimit(t *testing.T) {
	env := newTestEnv(t, proofReadyMetrics)
	_, err := env.run(t, "", "advance")
	require.NoError(t, err)

	out, err := env.run(t, "", "limit", "check", "--date", "2026-05-04")
	require.NoError(t, err)
	assert.Contains(t, out, "Trade allowed (1 used on 2026-05-04)")

	_, err = env.run(t, "", "limit", "check", "--date", "2026-05-04")
	var limited *limiter.TradeLimitExceededError
	require.ErrorAs(t, err, &limited)
	assert.Equal(t, exitTradeLimited, exitCode(err))
	assert.Equal(t, time.Date(2026, 5, 5, 7, 0, 0, 0, time.UTC), limited.NextAllowed)

	out, err = env.run(t, "", "limit", "next", "--date", "2026-05-04")
	require.NoError(t, err)
	assert.Contains(t, out, "2026-05-05T07:00:00Z")

	out, err = env.run(t, "", "limit", "next", "--date", "2026-05-05")
	require.NoError(t, err)
	assert.Contains(t, out, "Trade allowed now")

	out, err = env.run(t, "", "limit", "reset", "--date", "2026-05-05")
	require.NoError(t, err)
	assert.Contains(t, out, "Purged 1 counter entries")

	_, err = env.run(t, "", "limit", "check", "--date", "yesterday")
	assert.Equal(t, exitUsage, exitCode(err))
}

func TestCLI_Recover(t *testing.T) {
	env := newTestEnv(t, unmetMetrics)

	out, err := env.run(t, "", "recover")
	require.NoError(t, err)
	assert.Contains(t, out, "Nothing to recover")

	// Simulate a crash after the config store write.
	_, err = env.run(t, "", "status")
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(env.dir, "phase.json"), []byte(`{"current_phase": "proof"}`), 0644))
	require.NoError(t, progression.NewFileIntentStore(filepath.Join(env.dir, "intent.json")).Save(
		context.Background(), progression.Intent{TransitionID: "t-crash", From: phase.Experience, To: phase.ProofOfConcept}))

	out, err = env.run(t, "", "recover")
	require.NoError(t, err)
	assert.Contains(t, out, "t-crash")
	assert.Contains(t, out, "rolled_back")
	assert.Contains(t, out, "phase is now experience")
}

func TestCLI_BadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("history:\n  backend: sqlite\n"), 0644))

	root := newRootCommand()
	root.SetArgs([]string{"--config", path, "status"})
	root.SetOut(&bytes.Buffer{})
	err := root.Execute()
	assert.Equal(t, exitUsage, exitCode(err))
}

func TestExitCode(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{nil, exitOK},
		{usageError{errors.New("bad flag")}, exitUsage},
		{&progression.CriteriaNotMetError{}, exitCriteriaNotMet},
		{fmt.Errorf("wrapped: %w", progression.ErrOverrideRateLimited), exitOverrideRefuse},
		{&limiter.TradeLimitExceededError{}, exitTradeLimited},
		{&progression.InconsistentStateError{}, exitInconsistent},
		{errors.New("disk full"), exitError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, exitCode(tt.err), "%v", tt.err)
	}
}

func TestDateValue(t *testing.T) {
	var d dateValue
	now := time.Date(2026, 6, 1, 23, 0, 0, 0, time.FixedZone("X", 3600))
	assert.Equal(t, now.UTC(), d.Or(now))
	assert.Equal(t, "", d.String())

	require.NoError(t, d.Set("2026-02-28"))
	assert.Equal(t, "2026-02-28", d.String())
	assert.Equal(t, time.Date(2026, 2, 28, 0, 0, 0, 0, time.UTC), d.Or(now))

	assert.Error(t, d.Set("28/02/2026"))
}

func TestReadPassword(t *testing.T) {
	cmd := &cobra.Command{}
	cmd.SetIn(strings.NewReader("hunter2\r\nignored\n"))

	pw, err := readPassword(cmd, "")
	require.NoError(t, err)
	assert.Equal(t, "hunter2", pw.Value())
	assert.NotContains(t, fmt.Sprint(pw), "hunter2")

	cmd.SetIn(strings.NewReader(""))
	pw, err = readPassword(cmd, "")
	require.NoError(t, err)
	assert.True(t, pw.Empty())
}
