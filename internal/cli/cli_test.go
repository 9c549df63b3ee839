package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kubilitics/kubilitics-reasoner/internal/reasoning/types"
)

type env struct {
	dir    string
	config string
}

func newEnv(t *testing.T) *env {
	t.Helper()
	dir := t.TempDir()
	cfg := `
llm:
  provider: ""
database:
  type: sqlite
  sqlite_path: ` + filepath.Join(dir, "reasoner.db") + `
logging:
  level: error
audit:
  enabled: true
  file: ` + filepath.Join(dir, "audit.log") + `
`
	path := filepath.Join(dir, "reasoner.yaml")
	require.NoError(t, os.WriteFile(path, []byte(cfg), 0o600))
	return &env{dir: dir, config: path}
}

func (e *env) run(t *testing.T, stdin string, args ...string) (string, string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	cmd := NewRootCommandWithIO(strings.NewReader(stdin), &out, &errOut)
	cmd.SetArgs(append([]string{"--config", e.config, "--env-file", ""}, args...))
	err := cmd.ExecuteContext(context.Background())
	return out.String(), errOut.String(), err
}

func decode(t *testing.T, s string, v any) {
	t.Helper()
	require.NoError(t, json.Unmarshal([]byte(s), v), s)
}

// ─── solve ────────────────────────────────────────────────────────────────────

func TestSolveLinearEquation(t *testing.T) {
	e := newEnv(t)
	out, _, err := e.run(t, "", "solve", "Solve 2x + 3 = 7", "--format", "json", "--show-steps")
	require.NoError(t, err)

	var res types.Result
	decode(t, out, &res)
	assert.True(t, res.Success)
	assert.Equal(t, types.StrategyMathematical, res.StrategyUsed)
	assert.InDelta(t, 2.0, res.FinalAnswer, 1e-6)
	assert.GreaterOrEqual(t, len(res.Steps), 3)

	// The record lands in the store and the audit log.
	out, _, err = e.run(t, "", "history", "--json")
	require.NoError(t, err)
	var recs []types.AuditRecord
	decode(t, out, &recs)
	require.Len(t, recs, 1)
	assert.True(t, recs[0].Success)
	assert.Equal(t, types.StrategyMathematical, recs[0].ReasoningType)

	out, _, err = e.run(t, "", "history", recs[0].QuestionID)
	require.NoError(t, err)
	assert.Contains(t, out, recs[0].QuestionID)

	data, err := os.ReadFile(filepath.Join(e.dir, "audit.log"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "reasoning.completed")
}

func TestSolveFromStdin(t *testing.T) {
	e := newEnv(t)
	out, _, err := e.run(t, "Solve 2x + 3 = 7\n", "solve", "-", "--mode", "mathematical")
	require.NoError(t, err)
	assert.Contains(t, out, "Answer:")
}

func TestSolveEmptyInputIsRejected(t *testing.T) {
	e := newEnv(t)
	out, _, err := e.run(t, "", "solve", "   ", "--format", "json")
	require.Error(t, err)

	var fe *FailureError
	require.True(t, errors.As(err, &fe))
	assert.Equal(t, types.KindInputValidation, fe.Kind)
	assert.Equal(t, 2, ExitCode(err))

	var res types.Result
	decode(t, out, &res)
	assert.False(t, res.Success)
	assert.Equal(t, types.KindInputValidation, res.ErrorKind)
}

func TestSolveRejectsUnknownFormat(t *testing.T) {
	e := newEnv(t)
	_, _, err := e.run(t, "", "solve", "Solve 2x + 3 = 7", "--format", "pdf")
	require.Error(t, err)
	assert.Equal(t, 1, ExitCode(err))
}

func TestRequestConfigOnlySetsChangedFlags(t *testing.T) {
	cmd := newSolveCmd(&app{})
	require.NoError(t, cmd.ParseFlags([]string{"--max-nodes", "5", "--timeout", "0", "--search", "bfs"}))

	o := &solveOptions{maxNodes: 5, search: "bfs"}
	rc := o.requestConfig(cmd)
	require.NotNil(t, rc.MaxNodes)
	assert.Equal(t, 5, *rc.MaxNodes)
	require.NotNil(t, rc.TimeoutSeconds)
	assert.Zero(t, *rc.TimeoutSeconds)
	assert.Nil(t, rc.MaxDepth)
	assert.Nil(t, rc.EnableBacktracking)
	assert.Equal(t, "BFS", rc.SearchAlgorithm)
}

// ─── templates ────────────────────────────────────────────────────────────────

func TestTemplatesList(t *testing.T) {
	e := newEnv(t)
	out, _, err := e.run(t, "", "templates", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "generic")
	assert.Contains(t, out, "chain_of_thought_step")

	out, _, err = e.run(t, "", "templates", "show", "generic")
	require.NoError(t, err)
	assert.Contains(t, out, `"generic"`)

	_, _, err = e.run(t, "", "templates", "show", "missing")
	assert.Error(t, err)
}

func TestTemplatesOptimizeNeedsSamples(t *testing.T) {
	e := newEnv(t)
	out, _, err := e.run(t, "", "templates", "optimize", "chain_of_thought_step")
	require.NoError(t, err)
	assert.Contains(t, out, "not enough samples")
}

// ─── abtest ───────────────────────────────────────────────────────────────────

func TestABTestLifecycle(t *testing.T) {
	e := newEnv(t)
	out, _, err := e.run(t, "", "abtest", "create", "mathematical_explain", "logical_explain")
	require.NoError(t, err)
	id := strings.TrimSpace(out)
	require.NotEmpty(t, id)

	// A second test over a busy template is refused across invocations.
	_, _, err = e.run(t, "", "abtest", "create", "mathematical_explain", "causal_explain")
	assert.Error(t, err)

	out, _, err = e.run(t, "", "abtest", "result", id, "--json")
	require.NoError(t, err)
	var r struct {
		TestID     string `json:"test_id"`
		Winner     string `json:"winner"`
		Sufficient bool   `json:"sufficient"`
	}
	decode(t, out, &r)
	assert.Equal(t, id, r.TestID)
	assert.Empty(t, r.Winner)
	assert.False(t, r.Sufficient)

	out, _, err = e.run(t, "", "abtest", "stop", id)
	require.NoError(t, err)
	assert.Contains(t, out, "without a significant winner")

	out, _, err = e.run(t, "", "abtest", "list")
	require.NoError(t, err)
	assert.Contains(t, out, id)
	assert.Contains(t, out, "false")

	_, _, err = e.run(t, "", "abtest", "result", "missing")
	assert.Error(t, err)
}

// ─── config ───────────────────────────────────────────────────────────────────

func TestConfigShowMasksAPIKey(t *testing.T) {
	e := newEnv(t)
	t.Setenv("OPENAI_API_KEY", "sk-secret")
	out, _, err := e.run(t, "", "config", "show")
	require.NoError(t, err)
	assert.Contains(t, out, "tree_of_thoughts:")
	assert.NotContains(t, out, "sk-secret")
}

func TestInvalidConfigFailsEveryCommand(t *testing.T) {
	e := newEnv(t)
	require.NoError(t, os.WriteFile(e.config, []byte("tree_of_thoughts:\n  max_nodes: 0\n"), 0o600))
	_, _, err := e.run(t, "", "config", "validate")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "tree_of_thoughts.max_nodes")
}

func TestDotenvFeedsConfiguration(t *testing.T) {
	e := newEnv(t)
	envFile := filepath.Join(e.dir, "test.env")
	require.NoError(t, os.WriteFile(envFile, []byte("KUBILITICS_REASONER_TREE_OF_THOUGHTS_MAX_NODES=9\n"), 0o600))
	t.Cleanup(func() { os.Unsetenv("KUBILITICS_REASONER_TREE_OF_THOUGHTS_MAX_NODES") })

	var out bytes.Buffer
	cmd := NewRootCommandWithIO(strings.NewReader(""), &out, &bytes.Buffer{})
	cmd.SetArgs([]string{"--config", e.config, "--env-file", envFile, "config", "show"})
	require.NoError(t, cmd.Execute())
	assert.Contains(t, out.String(), "max_nodes: 9")
}

func TestExitCode(t *testing.T) {
	assert.Equal(t, 0, ExitCode(nil))
	assert.Equal(t, 1, ExitCode(errors.New("boom")))
	assert.Equal(t, 3, ExitCode(&FailureError{Kind: types.KindSearchBudget}))
}
