package harness

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/roach88/e2eshark/internal/config"
	"github.com/roach88/e2eshark/internal/ledger"
	"github.com/roach88/e2eshark/internal/runner"
	"github.com/roach88/e2eshark/internal/selector"
)

// Clock reads the current time. Phase durations are the difference of two
// readings.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// Pipeline runs tests through the phase sequence.
//
// A Pipeline holds only the immutable configuration and stateless
// collaborators, so one Pipeline serves every worker of a scheduler.
type Pipeline struct {
	cfg    config.Config
	runner runner.Runner
	clock  Clock
	logger *slog.Logger
	driver DriverGenerator
	assets AssetPreparer
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithRunner replaces the process runner.
func WithRunner(r runner.Runner) Option {
	return func(p *Pipeline) { p.runner = r }
}

// WithClock replaces the wall clock.
func WithClock(c Clock) Option {
	return func(p *Pipeline) { p.clock = c }
}

// WithLogger sets the logger. Nil discards.
func WithLogger(l *slog.Logger) Option {
	return func(p *Pipeline) { p.logger = l }
}

// WithDriverGenerator replaces the driver generator.
func WithDriverGenerator(d DriverGenerator) Option {
	return func(p *Pipeline) { p.driver = d }
}

// WithAssetPreparer replaces the asset preparer.
func WithAssetPreparer(a AssetPreparer) Option {
	return func(p *Pipeline) { p.assets = a }
}

// New creates a Pipeline for a resolved configuration.
//
// Without options, phases run as real processes bounded by
// cfg.PhaseTimeout, the driver is concatenated from <tests root>/tools/stubs
// and ONNX model archives are staged by ONNXModelAssets.
func New(cfg config.Config, opts ...Option) *Pipeline {
	p := &Pipeline{cfg: cfg}
	for _, opt := range opts {
		opt(p)
	}
	if p.logger == nil {
		p.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if p.runner == nil {
		p.runner = &runner.Exec{Timeout: cfg.PhaseTimeout, Logger: p.logger}
	}
	if p.clock == nil {
		p.clock = systemClock{}
	}
	if p.driver == nil {
		p.driver = ConcatDriver{ToolsDir: filepath.Join(cfg.TestsRoot, "tools")}
	}
	if p.assets == nil {
		p.assets = ONNXModelAssets{}
	}
	return p
}

// Config returns the pipeline's configuration.
func (p *Pipeline) Config() config.Config { return p.cfg }

// run carries the state of one test through the phases.
type run struct {
	id     selector.TestID
	dir    string
	mode   config.Mode
	art    Artifacts
	runner runner.Runner
	res    *Result
	logger *slog.Logger

	elapsed time.Duration // of the last executed command
}

// Run executes every configured phase of test id and returns its result.
//
// Run never returns a nil Result and never panics on phase failures: a
// failing phase is recorded in the result's ledger and Failure, later phases
// stay NotRun, and the ledger is written to time.log before returning.
func (p *Pipeline) Run(ctx context.Context, id selector.TestID) *Result {
	res := NewResult(id)
	res.Started = p.clock.Now()
	res.Dir = filepath.Join(p.cfg.RunDir, id.Path())

	logger := p.logger.With("test", id.String())
	logger.Debug("running test", "dir", res.Dir)

	if err := os.MkdirAll(res.Dir, 0o755); err != nil {
		res.Fail(&Failure{Kind: KindEnvironment, Message: "could not make test run directory", Err: err})
		return res
	}
	commands, err := os.Create(filepath.Join(res.Dir, CommandsLog))
	if err != nil {
		res.Fail(&Failure{Kind: KindEnvironment, Message: "could not open commands log", Err: err})
		return res
	}
	defer commands.Close()

	mode := p.cfg.Mode.ForFramework(id.Framework)
	r := &run{
		id:     id,
		dir:    res.Dir,
		mode:   mode,
		art:    NewArtifacts(id.Name, p.cfg.Type, id.Framework, mode),
		runner: runner.Logged(p.runner, commands),
		res:    res,
		logger: logger,
	}
	defer p.saveLedger(r)

	ws := Workspace{Test: id, Source: filepath.Join(p.cfg.TestsRoot, id.Path()), Dir: res.Dir}
	if err := p.driver.Generate(ws); err != nil {
		res.Fail(&Failure{Kind: KindEnvironment, Message: "could not generate driver", Err: err})
		return res
	}
	if err := p.assets.Prepare(ws); err != nil {
		res.Fail(&Failure{Kind: KindEnvironment, Message: "could not prepare model assets", Err: err})
		return res
	}

	if !p.phase(ctx, r, p.modelRunCommand(r)) {
		return res
	}
	if mode.ViaONNX() {
		if !p.phase(ctx, r, p.onnxImportCommand(r)) {
			return res
		}
		if !p.phase(ctx, r, p.torchMLIRCommand(r)) {
			return res
		}
	}
	if !p.cfg.Upto.Reaches(config.DepthCompiled) {
		return res
	}
	if !p.phase(ctx, r, p.compileCommand(r)) {
		return res
	}
	if !p.cfg.Upto.Reaches(config.DepthInference) {
		return res
	}
	p.inference(ctx, r)
	return res
}

func (p *Pipeline) modelRunCommand(r *run) runner.Command {
	cmd := runner.Command{
		Phase: ledger.PhaseModelRun,
		Path:  p.cfg.Python,
		Args: []string{
			DriverFile,
			"--dtype", string(p.cfg.Type),
			"--mode", r.mode.DriverArg(),
			"--outfileprefix", r.id.Name,
		},
		Dir:    r.dir,
		Stdout: r.art.ModelLog,
		Stderr: r.art.ModelLog,
	}
	if p.cfg.HFHome != "" {
		cmd.Env = []string{"HF_HOME=" + p.cfg.HFHome}
	}
	return cmd
}

func (p *Pipeline) onnxImportCommand(r *run) runner.Command {
	return runner.Command{
		Phase:  ledger.PhaseONNXImport,
		Path:   p.cfg.Python,
		Args:   []string{"-m", "torch_mlir.tools.import_onnx", r.art.ONNX, "-o", r.art.TorchONNX},
		Dir:    r.dir,
		Stdout: TorchONNXLog,
		Stderr: TorchONNXLog,
	}
}

func (p *Pipeline) torchMLIRCommand(r *run) runner.Command {
	args := []string{"-convert-torch-onnx-to-torch"}
	if p.cfg.TorchToLinalg {
		args = append(args, "-convert-torch-to-linalg")
	}
	args = append(args, r.art.TorchONNX)
	return runner.Command{
		Phase:  ledger.PhaseTorchMLIR,
		Path:   p.cfg.TorchMLIROpt(),
		Args:   args,
		Dir:    r.dir,
		Stdout: r.art.TorchMLIR,
		Stderr: TorchMLIRLog,
	}
}

func (p *Pipeline) compileCommand(r *run) runner.Command {
	return runner.Command{
		Phase:  ledger.PhaseCompile,
		Path:   p.cfg.IREECompile(),
		Args:   []string{"--iree-hal-target-backends=" + string(p.cfg.Backend), r.art.TorchMLIR},
		Dir:    r.dir,
		Stdout: r.art.Module,
		Stderr: CompileLog,
	}
}

// phase runs cmd and records its outcome. It reports whether the pipeline
// may continue.
func (p *Pipeline) phase(ctx context.Context, r *run, cmd runner.Command) bool {
	if !p.execute(ctx, r, cmd) {
		return false
	}
	p.record(r, cmd.Phase, ledger.Passed, r.elapsed)
	r.logger.Debug("phase passed", "phase", cmd.Phase, "elapsed", r.elapsed)
	return true
}

// execute runs cmd, keeping its duration in r.elapsed. A failure is
// recorded immediately; success is left for the caller to record, since
// inference only passes once its output has been compared.
func (p *Pipeline) execute(ctx context.Context, r *run, cmd runner.Command) bool {
	start := p.clock.Now()
	err := r.runner.Run(ctx, cmd)
	r.elapsed = p.clock.Now().Sub(start)
	if err == nil {
		return true
	}

	p.record(r, cmd.Phase, ledger.Failed, r.elapsed)
	kind := KindPhase
	if errors.Is(err, runner.ErrTimeout) {
		kind = KindTimeout
	}
	r.res.Fail(&Failure{Kind: kind, Phase: cmd.Phase, Message: fmt.Sprintf("%s failed", cmd.Path), Err: err})
	r.logger.Debug("phase failed", "phase", cmd.Phase, "elapsed", r.elapsed, "error", err)
	return false
}

func (p *Pipeline) record(r *run, phase ledger.Phase, status ledger.Status, elapsed time.Duration) {
	var err error
	if status == ledger.Passed {
		err = r.res.Ledger.Pass(phase, elapsed)
	} else {
		err = r.res.Ledger.Fail(phase, elapsed)
	}
	if err != nil {
		r.logger.Error("ledger update rejected", "phase", phase, "error", err)
	}
}

func (p *Pipeline) saveLedger(r *run) {
	if err := r.res.Ledger.Save(filepath.Join(r.dir, TimeLog)); err != nil {
		r.logger.Warn("could not write time log", "error", err)
	}
}
