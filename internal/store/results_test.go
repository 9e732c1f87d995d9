package store

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/janpfeifer/must"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/e2eshark/internal/config"
	"github.com/roach88/e2eshark/internal/harness"
	"github.com/roach88/e2eshark/internal/ledger"
	"github.com/roach88/e2eshark/internal/runner"
	"github.com/roach88/e2eshark/internal/selector"
	"github.com/roach88/e2eshark/internal/testutil"
)

var epoch = testutil.Epoch

func passing(name string) *harness.Result {
	res := harness.NewResult(selector.TestID{Framework: "onnx", Group: "operators", Name: name})
	res.Dir = "/runs/onnx/operators/" + name
	res.Started = epoch
	for _, p := range []ledger.Phase{ledger.PhaseModelRun, ledger.PhaseONNXImport, ledger.PhaseTorchMLIR} {
		must.M(res.Ledger.Pass(p, 1500*time.Millisecond))
	}
	return res
}

func failing(name string) *harness.Result {
	res := harness.NewResult(selector.TestID{Framework: "onnx", Group: "operators", Name: name})
	res.Dir = "/runs/onnx/operators/" + name
	res.Started = epoch.Add(time.Second)
	must.M(res.Ledger.Pass(ledger.PhaseModelRun, time.Second))
	must.M(res.Ledger.Fail(ledger.PhaseONNXImport, 250*time.Millisecond))
	res.Fail(&harness.Failure{
		Kind:    harness.KindPhase,
		Phase:   ledger.PhaseONNXImport,
		Message: "onnx-import failed",
		Err:     &runner.ExitError{Code: 1},
	})
	return res
}

func TestRun_RoundTrip(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	runID := testutil.NewFixedRunIDGenerator("").Generate()

	require.NoError(t, s.BeginRun(ctx, runID, epoch, config.Default()))
	require.NoError(t, s.RecordResult(ctx, runID, failing("sub")))
	require.NoError(t, s.RecordResult(ctx, runID, passing("add")))
	require.NoError(t, s.FinishRun(ctx, runID, epoch.Add(time.Minute)))

	run, err := s.ReadRun(ctx, runID)
	require.NoError(t, err)

	assert.Equal(t, runID, run.ID)
	assert.True(t, epoch.Equal(run.Started))
	assert.True(t, epoch.Add(time.Minute).Equal(run.Finished))
	assert.Equal(t, 1, run.Passed)
	assert.Equal(t, 1, run.Failed)
	assert.Contains(t, run.Config, "mode: onnx")

	require.Len(t, run.Results, 2)
	add, sub := run.Results[0], run.Results[1]

	assert.Equal(t, "onnx/operators/add", add.Test)
	assert.True(t, add.Pass)
	assert.Empty(t, add.Kind)
	assert.Equal(t, "/runs/onnx/operators/add", add.Dir)
	require.Len(t, add.Phases, len(ledger.Phases))
	assert.Equal(t, PhaseOutcome{Phase: ledger.PhaseModelRun, Status: ledger.Passed, Elapsed: 1500 * time.Millisecond}, add.Phases[0])
	assert.Equal(t, PhaseOutcome{Phase: ledger.PhaseInference, Status: ledger.NotRun}, add.Phases[4])

	assert.Equal(t, "onnx/operators/sub", sub.Test)
	assert.False(t, sub.Pass)
	assert.Equal(t, "phase", sub.Kind)
	assert.Equal(t, "onnx-import", sub.Phase)
	assert.Equal(t, "phase: onnx-import failed: exit status 1 (phase=onnx-import)", sub.Message)
	assert.True(t, epoch.Add(time.Second).Equal(sub.Started))
	assert.Equal(t, ledger.Failed, sub.Phases[1].Status)
	assert.Equal(t, 250*time.Millisecond, sub.Phases[1].Elapsed)
}

func TestRecordResult_Idempotent(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.BeginRun(ctx, "r", epoch, config.Default()))
	require.NoError(t, s.RecordResult(ctx, "r", passing("add")))
	require.NoError(t, s.RecordResult(ctx, "r", failing("add")))

	run, err := s.ReadRun(ctx, "r")
	require.NoError(t, err)
	require.Len(t, run.Results, 1)
	assert.True(t, run.Results[0].Pass)
	assert.Len(t, run.Results[0].Phases, len(ledger.Phases))
}

func TestRecordResult_UnknownRun(t *testing.T) {
	s := createTestStore(t)
	err := s.RecordResult(context.Background(), "missing", passing("add"))
	assert.Error(t, err)
}

func TestRecordResult_Concurrent(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.BeginRun(ctx, "r", epoch, config.Default()))

	var wg sync.WaitGroup
	for _, name := range strings.Fields("a b c d e f g h") {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, s.RecordResult(ctx, "r", passing(name)))
		}()
	}
	wg.Wait()

	require.NoError(t, s.FinishRun(ctx, "r", epoch))
	run, err := s.ReadRun(ctx, "r")
	require.NoError(t, err)
	assert.Equal(t, 8, run.Passed)
	assert.Len(t, run.Results, 8)
}

func TestReadRun_InProgress(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.BeginRun(ctx, "r", epoch, config.Default()))

	run, err := s.ReadRun(ctx, "r")
	require.NoError(t, err)
	assert.True(t, run.Finished.IsZero())
	assert.Empty(t, run.Results)
}

func TestReadRun_NotFound(t *testing.T) {
	s := createTestStore(t)
	_, err := s.ReadRun(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestFinishRun_NotFound(t *testing.T) {
	s := createTestStore(t)
	err := s.FinishRun(context.Background(), "missing", epoch)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestBeginRun_Idempotent(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.BeginRun(ctx, "r", epoch, config.Default()))
	require.NoError(t, s.BeginRun(ctx, "r", epoch.Add(time.Hour), config.Default()))

	run, err := s.ReadRun(ctx, "r")
	require.NoError(t, err)
	assert.True(t, epoch.Equal(run.Started))
}

func TestLatestRun(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	_, err := s.LatestRun(ctx)
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.BeginRun(ctx, "older", epoch, config.Default()))
	require.NoError(t, s.BeginRun(ctx, "newer", epoch.Add(time.Hour), config.Default()))
	require.NoError(t, s.BeginRun(ctx, "oldest", epoch.Add(-time.Hour), config.Default()))

	id, err := s.LatestRun(ctx)
	require.NoError(t, err)
	assert.Equal(t, "newer", id)
}
