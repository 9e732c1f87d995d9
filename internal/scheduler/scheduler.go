// Package scheduler fans a batch of tests out over a bounded pool of
// workers and aggregates their results.
//
// Each worker runs one test's pipeline to completion. The pipeline forks a
// separate OS process per phase, so workers are plain goroutines: a crashing
// or runaway tool takes down its own process, never the scheduler.
package scheduler

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/schollz/progressbar/v3"
	"golang.org/x/sync/errgroup"

	"github.com/roach88/e2eshark/internal/harness"
	"github.com/roach88/e2eshark/internal/selector"
)

// Runner runs one test to completion. *harness.Pipeline implements it.
type Runner interface {
	Run(ctx context.Context, id selector.TestID) *harness.Result
}

// Recorder persists results as they complete. *store.Store implements it.
type Recorder interface {
	RecordResult(ctx context.Context, runID string, res *harness.Result) error
}

// Scheduler runs batches of tests with at most Jobs in flight.
type Scheduler struct {
	Pipeline Runner

	// Jobs bounds the number of concurrently running tests. Values below
	// one mean one.
	Jobs int

	// Out receives one status line per finished test.
	Out io.Writer

	// Recorder, when set, receives every result. Recording errors are
	// logged and never fail the run.
	Recorder Recorder

	// RunID tags recorded results.
	RunID string

	// Progress, when set, receives a progress bar.
	Progress io.Writer

	// Logger receives scheduling events. Nil discards.
	Logger *slog.Logger

	mu sync.Mutex // serializes writes to Out and the progress bar
}

// Summary aggregates the results of one or more batches.
type Summary struct {
	RunID   string
	Results []*harness.Result
	Passed  int
	Failed  int
	Elapsed time.Duration
}

// Total is the number of tests run.
func (s *Summary) Total() int { return s.Passed + s.Failed }

// AllPassed reports whether no test failed.
func (s *Summary) AllPassed() bool { return s.Failed == 0 }

// Merge appends other's results to s.
func (s *Summary) Merge(other *Summary) {
	s.Results = append(s.Results, other.Results...)
	s.Passed += other.Passed
	s.Failed += other.Failed
	s.Elapsed += other.Elapsed
}

// FailedResults returns the failing results in input order.
func (s *Summary) FailedResults() []*harness.Result {
	var out []*harness.Result
	for _, r := range s.Results {
		if !r.Pass {
			out = append(out, r)
		}
	}
	return out
}

// Run executes tests of one framework. Duplicate ids run once, at the
// position of their first occurrence. Run returns after every test has
// finished; a failing test never stops the others. Results are in input
// order while status lines are written in completion order.
func (s *Scheduler) Run(ctx context.Context, framework string, tests []selector.TestID) *Summary {
	logger := s.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	start := time.Now()
	summary := &Summary{RunID: s.RunID}

	unique := selector.Dedupe(tests)
	logger.Info("running tests", "framework", framework, "tests", len(unique), "jobs", s.jobs())
	if len(unique) == 0 {
		return summary
	}
	if len(unique) != len(tests) {
		logger.Debug("dropped duplicate tests", "framework", framework, "duplicates", len(tests)-len(unique))
	}
	for _, id := range unique {
		logger.Debug("scheduled", "test", id.String())
	}

	bar := s.progressBar(framework, len(unique))

	results := make([]*harness.Result, len(unique))
	var g errgroup.Group
	g.SetLimit(s.jobs())
	for i, id := range unique {
		g.Go(func() error {
			res := s.runOne(ctx, logger, id)
			results[i] = res
			s.finished(ctx, logger, bar, res)
			return nil
		})
	}
	_ = g.Wait() // workers never return errors

	if bar != nil {
		_ = bar.Finish()
	}

	summary.Results = results
	for _, r := range results {
		if r.Pass {
			summary.Passed++
		} else {
			summary.Failed++
		}
	}
	summary.Elapsed = time.Since(start)
	logger.Info("framework finished", "framework", framework, "passed", summary.Passed, "failed", summary.Failed, "elapsed", summary.Elapsed)
	return summary
}

// runOne runs a single test. A panic fails that test only.
func (s *Scheduler) runOne(ctx context.Context, logger *slog.Logger, id selector.TestID) (res *harness.Result) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("test panicked", "test", id.String(), "panic", r)
			res = harness.NewResult(id)
			res.Fail(&harness.Failure{Kind: harness.KindEnvironment, Message: fmt.Sprintf("panic: %v", r)})
		}
	}()
	return s.Pipeline.Run(ctx, id)
}

func (s *Scheduler) jobs() int {
	if s.Jobs < 1 {
		return 1
	}
	return s.Jobs
}

func (s *Scheduler) finished(ctx context.Context, logger *slog.Logger, bar *progressbar.ProgressBar, res *harness.Result) {
	s.mu.Lock()
	if s.Out != nil {
		fmt.Fprintln(s.Out, res.Line())
	}
	if bar != nil {
		_ = bar.Add(1)
	}
	s.mu.Unlock()

	if s.Recorder == nil {
		return
	}
	if err := s.Recorder.RecordResult(ctx, s.RunID, res); err != nil {
		logger.Warn("could not record result", "test", res.Test.String(), "error", err)
	}
}

func (s *Scheduler) progressBar(framework string, total int) *progressbar.ProgressBar {
	if s.Progress == nil {
		return nil
	}
	return progressbar.NewOptions(total,
		progressbar.OptionSetWriter(s.Progress),
		progressbar.OptionSetDescription(framework),
		progressbar.OptionShowCount(),
		progressbar.OptionSetItsString("tests"),
		progressbar.OptionSetTheme(progressbar.ThemeASCII),
		progressbar.OptionClearOnFinish(),
	)
}
