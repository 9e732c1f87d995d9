package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/e2eshark/internal/harness"
	"github.com/roach88/e2eshark/internal/ledger"
	"github.com/roach88/e2eshark/internal/runner"
	"github.com/roach88/e2eshark/internal/store"
	"github.com/roach88/e2eshark/internal/testutil"
)

// testTree lays out a tests root holding the named tests and a torch-mlir
// build directory, returning both.
func testTree(t *testing.T, tests ...string) (root, torchMLIR string) {
	t.Helper()
	t.Setenv("HF_HOME", "")
	root = t.TempDir()
	stubs := filepath.Join(root, "tools", "stubs")
	require.NoError(t, os.MkdirAll(stubs, 0o755))
	for _, stub := range []string{"onnxmodel.py", "pytorchmodel.py"} {
		require.NoError(t, os.WriteFile(filepath.Join(stubs, stub), []byte("# stub\n"), 0o644))
	}
	for _, name := range tests {
		dir := filepath.Join(root, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(dir, 0o755))
		require.NoError(t, os.WriteFile(filepath.Join(dir, "model.py"), []byte("# model\n"), 0o644))
	}
	torchMLIR = t.TempDir()
	return root, torchMLIR
}

type runFixture struct {
	opts   *RunOptions
	runner *testutil.FakeRunner
	out    *bytes.Buffer
	errOut *bytes.Buffer
}

func newRunFixture(format string) *runFixture {
	fake := testutil.NewFakeRunner()
	return &runFixture{
		opts: &RunOptions{
			RootOptions:     &RootOptions{Format: format},
			RunIDs:          testutil.NewFixedRunIDGenerator("run-1"),
			PipelineOptions: []harness.Option{harness.WithRunner(fake), harness.WithClock(testutil.NewFakeClock(time.Second))},
		},
		runner: fake,
		out:    &bytes.Buffer{},
		errOut: &bytes.Buffer{},
	}
}

func (f *runFixture) execute(args ...string) error {
	cmd := newRunCommand(f.opts)
	cmd.SetOut(f.out)
	cmd.SetErr(f.errOut)
	cmd.SetArgs(args)
	return cmd.ExecuteContext(context.Background())
}

func TestRun_AllPass(t *testing.T) {
	root, torchMLIR := testTree(t, "onnx/operators/add", "onnx/operators/sub", "pytorch/operators/mul")
	runDir := t.TempDir()
	f := newRunFixture("text")

	err := f.execute("--tests-root", root, "-c", torchMLIR, "-r", runDir, "-j", "2")
	require.NoError(t, err, f.errOut.String())

	out := f.out.String()
	assert.Contains(t, out, "Test onnx/operators/add passed\n")
	assert.Contains(t, out, "Test onnx/operators/sub passed\n")
	assert.NotContains(t, out, "pytorch", "only --frameworks onnx runs by default")
	assert.Contains(t, out, "Completed run of e2e shark tests\n")
	assert.Contains(t, out, "2 passed")

	assert.FileExists(t, filepath.Join(runDir, "onnx", "operators", "add", harness.TimeLog))
	assert.Len(t, f.runner.Calls(), 6, "three phases per test up to ir")
}

func TestRun_FailureExitsOne(t *testing.T) {
	root, torchMLIR := testTree(t, "onnx/operators/add", "onnx/operators/sub")
	f := newRunFixture("text")
	f.runner.On(ledger.PhaseTorchMLIR, testutil.Step{Do: func(cmd runner.Command) error {
		if filepath.Base(cmd.Dir) == "sub" {
			return &runner.ExitError{Code: 1}
		}
		return nil
	}})

	err := f.execute("--tests-root", root, "-c", torchMLIR, "-r", t.TempDir())
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, err.Error(), "1 of 2 tests failed")

	out := f.out.String()
	assert.Contains(t, out, "Test onnx/operators/add passed\n")
	assert.Contains(t, out, "Test onnx/operators/sub failed[torch-mlir]\n")
	assert.Contains(t, out, "onnx/operators/sub")
}

func TestRun_ExplicitTestsOverrideFrameworks(t *testing.T) {
	root, torchMLIR := testTree(t, "onnx/operators/add", "onnx/operators/sub", "pytorch/operators/mul")
	f := newRunFixture("text")

	err := f.execute("--tests-root", root, "-c", torchMLIR, "-r", t.TempDir(),
		"-t", "onnx/operators/sub,pytorch/operators/mul,onnx/operators/sub")
	require.NoError(t, err, f.errOut.String())

	out := f.out.String()
	assert.Contains(t, out, "Test pytorch/operators/mul passed\n")
	assert.Contains(t, out, "Test onnx/operators/sub passed\n")
	assert.NotContains(t, out, "onnx/operators/add")
	assert.Less(t, bytes.Index(f.out.Bytes(), []byte("pytorch/operators/mul")), bytes.Index(f.out.Bytes(), []byte("onnx/operators/sub")))
	assert.Len(t, f.runner.Calls(), 6, "duplicate test runs once")
}

func TestRun_UnknownTest(t *testing.T) {
	root, torchMLIR := testTree(t, "onnx/operators/add")
	f := newRunFixture("text")

	err := f.execute("--tests-root", root, "-c", torchMLIR, "-r", t.TempDir(), "-t", "onnx/operators/missing")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "failed to select tests")
	assert.Empty(t, f.runner.Calls())
}

func TestRun_ConfigErrorsExitTwo(t *testing.T) {
	root, torchMLIR := testTree(t, "onnx/operators/add")

	cases := map[string][]string{
		"bad mode":           {"--tests-root", root, "-c", torchMLIR, "-m", "tflite"},
		"missing torch-mlir": {"--tests-root", root},
		"iree for compiled":  {"--tests-root", root, "-c", torchMLIR, "-u", "compiled"},
		"zero jobs":          {"--tests-root", root, "-c", torchMLIR, "-j", "0"},
		"missing config":     {"--tests-root", root, "--config", filepath.Join(root, "absent.yaml")},
	}
	for name, args := range cases {
		t.Run(name, func(t *testing.T) {
			f := newRunFixture("text")
			err := f.execute(append(args, "-r", t.TempDir())...)
			require.Error(t, err)
			assert.Equal(t, ExitCommandError, GetExitCode(err))
			assert.Contains(t, err.Error(), "invalid configuration")
			assert.Empty(t, f.runner.Calls())
		})
	}
}

func TestRun_ConfigFileWithFlagOverride(t *testing.T) {
	root, torchMLIR := testTree(t, "onnx/operators/add", "onnx/combinations/addmul")
	runDir := t.TempDir()
	file := filepath.Join(t.TempDir(), "e2eshark.yaml")
	require.NoError(t, os.WriteFile(file, []byte(
		"tests_root: "+root+"\n"+
			"torch_mlir_build: "+torchMLIR+"\n"+
			"run_dir: "+runDir+"\n"+
			"groups: [operators]\n"+
			"upto: compiled\n"), 0o644))
	f := newRunFixture("text")

	// upto: compiled alone would need an IREE build.
	err := f.execute("--config", file, "-u", "ir")
	require.NoError(t, err, f.errOut.String())

	assert.Contains(t, f.out.String(), "Test onnx/operators/add passed")
	assert.NotContains(t, f.out.String(), "addmul")
	assert.NotContains(t, f.runner.Phases(), ledger.PhaseCompile)
}

func TestRun_RecordsToDatabase(t *testing.T) {
	root, torchMLIR := testTree(t, "onnx/operators/add", "onnx/operators/sub")
	db := filepath.Join(t.TempDir(), "results.db")
	f := newRunFixture("text")
	f.runner.Fail(ledger.PhaseONNXImport, 2)

	err := f.execute("--tests-root", root, "-c", torchMLIR, "-r", t.TempDir(), "--db", db)
	require.Error(t, err)

	st, err := store.Open(db)
	require.NoError(t, err)
	defer st.Close()

	run, err := st.ReadRun(context.Background(), "run-1")
	require.NoError(t, err)
	assert.False(t, run.Finished.IsZero())
	assert.Equal(t, 0, run.Passed)
	assert.Equal(t, 2, run.Failed)
	require.Len(t, run.Results, 2)
	assert.Equal(t, "onnx-import", run.Results[0].Phase)
	assert.Equal(t, ledger.Failed, run.Results[0].Phases[1].Status)
}

func TestRun_JSONSummary(t *testing.T) {
	root, torchMLIR := testTree(t, "onnx/operators/add")
	f := newRunFixture("json")
	f.runner.Fail(ledger.PhaseModelRun, 1)

	err := f.execute("--tests-root", root, "-c", torchMLIR, "-r", t.TempDir())
	require.Error(t, err)

	var resp struct {
		Status string      `json:"status"`
		RunID  string      `json:"run_id"`
		Data   summaryJSON `json:"data"`
	}
	require.NoError(t, json.Unmarshal(f.out.Bytes(), &resp), f.out.String())
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, "run-1", resp.RunID)
	assert.Equal(t, 1, resp.Data.Failed)
	require.Len(t, resp.Data.Failing, 1)
	assert.Equal(t, "onnx/operators/add", resp.Data.Failing[0].Test)
	assert.Equal(t, "model-run", resp.Data.Failing[0].Phase)

	assert.Contains(t, f.errOut.String(), "Test onnx/operators/add failed[model-run]")
}

func TestRun_EmptySelection(t *testing.T) {
	root, torchMLIR := testTree(t)
	f := newRunFixture("text")

	err := f.execute("--tests-root", root, "-c", torchMLIR, "-r", t.TempDir())
	require.NoError(t, err)
	assert.Contains(t, f.out.String(), "0 passed")
}

func TestRunHelpText(t *testing.T) {
	buf := &bytes.Buffer{}
	rootOpts := &RootOptions{Format: "text"}
	cmd := NewRunCommand(rootOpts)
	cmd.SetOut(buf)
	cmd.SetArgs([]string{"--help"})

	err := cmd.Execute()
	require.NoError(t, err)

	output := buf.String()
	assert.Contains(t, output, "Run the selected tests")
	assert.Contains(t, output, "--torchmlirbuild")
	assert.Contains(t, output, "--zerotolerance")
}
