package harness

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/dustin/go-humanize"

	"github.com/roach88/e2eshark/internal/compare"
	"github.com/roach88/e2eshark/internal/ledger"
	"github.com/roach88/e2eshark/internal/runner"
	"github.com/roach88/e2eshark/internal/tensor"
)

// Policy returns the comparison policy selected by the configuration.
func (p *Pipeline) Policy() compare.Policy {
	if p.cfg.ZeroTolerance {
		return compare.ExactPolicy()
	}
	return compare.DefaultPolicy()
}

// inference runs the compiled module on the reference input and compares
// its output with the reference output.
func (p *Pipeline) inference(ctx context.Context, r *run) {
	phase := ledger.PhaseInference

	input, err := tensor.Load(filepath.Join(r.dir, r.art.InputTensor))
	if err != nil {
		p.artifactFailure(r, "could not load reference input", err)
		return
	}
	gold, err := tensor.Load(filepath.Join(r.dir, r.art.GoldOutput))
	if err != nil {
		p.artifactFailure(r, "could not load reference output", err)
		return
	}

	cmd := runner.Command{
		Phase:  phase,
		Path:   p.cfg.IREERunModule(),
		Args:   []string{"--module=" + r.art.Module},
		Dir:    r.dir,
		Stdout: InferenceLog,
		Stderr: InferenceLog,
	}
	// A model without inputs gets no --input at all.
	if input.Size() > 0 {
		data, err := tensor.Encode(input)
		if err == nil {
			err = os.WriteFile(filepath.Join(r.dir, InferenceInput), data, 0o644)
		}
		if err != nil {
			p.artifactFailure(r, "could not write inference input", err)
			return
		}
		cmd.Args = append(cmd.Args, "--input="+input.Descriptor().RuntimeArg()+"=@"+InferenceInput)
	}
	cmd.Args = append(cmd.Args, "--output=@"+r.art.Output)

	// Output left over from an earlier run must not be compared.
	if err := os.Remove(filepath.Join(r.dir, r.art.Output)); err != nil && !errors.Is(err, os.ErrNotExist) {
		p.artifactFailure(r, "could not remove stale inference output", err)
		return
	}

	if !p.execute(ctx, r, cmd) {
		return
	}
	elapsed := r.elapsed

	raw, err := os.ReadFile(filepath.Join(r.dir, r.art.Output))
	if err != nil {
		p.record(r, phase, ledger.Failed, elapsed)
		r.res.Fail(&Failure{Kind: KindOutputMismatch, Phase: phase, Message: "runtime produced no output", Err: err})
		return
	}
	r.logger.Debug("inference output", "bytes", humanize.Bytes(uint64(len(raw))))

	got, err := tensor.Decode(raw, gold.DType(), gold.Shape())
	if errors.Is(err, tensor.ErrShortBuffer) {
		cmp := compare.Result{Reason: compare.ReasonShapeMismatch, Index: -1}
		r.res.Comparison = &cmp
		p.writeShortOutput(r, gold, len(raw))
		p.record(r, phase, ledger.Failed, elapsed)
		r.res.Fail(&Failure{Kind: KindOutputMismatch, Phase: phase, Message: "output shorter than reference", Err: err})
		return
	}
	if err != nil {
		p.record(r, phase, ledger.Failed, elapsed)
		r.res.Fail(&Failure{Kind: KindArtifact, Phase: phase, Message: "could not decode output", Err: err})
		return
	}

	if p.cfg.Verbose {
		p.appendTensors(r, gold, got)
	}

	cmp := compare.Tensors(gold, got, p.Policy())
	r.res.Comparison = &cmp
	if !cmp.Match {
		p.writeFailure(r, gold, got, cmp)
		p.record(r, phase, ledger.Failed, elapsed)
		r.res.Fail(&Failure{Kind: KindOutputMismatch, Phase: phase, Message: cmp.String()})
		r.logger.Debug("output mismatch", "comparison", cmp.String())
		return
	}
	p.record(r, phase, ledger.Passed, elapsed)
}

func (p *Pipeline) artifactFailure(r *run, msg string, err error) {
	p.record(r, ledger.PhaseInference, ledger.Failed, 0)
	r.res.Fail(&Failure{Kind: KindArtifact, Phase: ledger.PhaseInference, Message: msg, Err: err})
}

func (p *Pipeline) writeFailure(r *run, gold, got *tensor.Tensor, cmp compare.Result) {
	f, err := os.Create(filepath.Join(r.dir, FailedInferenceLog))
	if err != nil {
		r.logger.Warn("could not write failure dump", "error", err)
		return
	}
	defer f.Close()
	if err := compare.WriteFailure(f, gold, got, cmp); err != nil {
		r.logger.Warn("could not write failure dump", "error", err)
	}
}

func (p *Pipeline) writeShortOutput(r *run, gold *tensor.Tensor, have int) {
	f, err := os.Create(filepath.Join(r.dir, FailedInferenceLog))
	if err != nil {
		r.logger.Warn("could not write failure dump", "error", err)
		return
	}
	defer f.Close()
	want := tensor.NumBytes(gold.DType(), gold.Shape())
	fmt.Fprintf(f, "Comparison: %s\nGold reference:\n%s\nOutput from target hardware:\n%d bytes, want %d\n",
		compare.ReasonShapeMismatch, gold, have, want)
}

func (p *Pipeline) appendTensors(r *run, gold, got *tensor.Tensor) {
	f, err := os.OpenFile(filepath.Join(r.dir, InferenceLog), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		r.logger.Warn("could not append to inference log", "error", err)
		return
	}
	defer f.Close()
	fmt.Fprintf(f, "Gold reference:\n%s\nOutput from target hardware:\n%s\n", gold, got)
}
