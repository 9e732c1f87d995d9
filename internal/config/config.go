// Package config holds the run configuration shared by every test worker.
//
// A Config is assembled from defaults, an optional YAML file and command
// line flags, then passed through Resolve once. The resolved value is never
// mutated afterwards and is shared by value across goroutines.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"
)

// ErrInvalid marks configuration errors detected before any test runs.
var ErrInvalid = errors.New("invalid configuration")

// NumericType is the element type the model is exported with.
type NumericType string

const (
	FP32 NumericType = "fp32"
	BF16 NumericType = "bf16"
)

// ParseNumericType validates s.
func ParseNumericType(s string) (NumericType, error) {
	switch NumericType(s) {
	case FP32, BF16:
		return NumericType(s), nil
	}
	return "", fmt.Errorf("%w: dtype %q (want fp32 or bf16)", ErrInvalid, s)
}

// Mode is the ingestion path from framework to torch MLIR.
type Mode string

const (
	Direct      Mode = "direct"
	ONNX        Mode = "onnx"
	ONNXRuntime Mode = "onnx-runtime"
)

// ParseMode validates s. "ort" is accepted for ONNXRuntime.
func ParseMode(s string) (Mode, error) {
	switch s {
	case "direct":
		return Direct, nil
	case "onnx":
		return ONNX, nil
	case "onnx-runtime", "ort":
		return ONNXRuntime, nil
	}
	return "", fmt.Errorf("%w: mode %q (want direct, onnx or onnx-runtime)", ErrInvalid, s)
}

// DriverArg is the spelling the generated driver script understands.
func (m Mode) DriverArg() string {
	if m == ONNXRuntime {
		return "ort"
	}
	return string(m)
}

// ViaONNX reports whether the model goes through an ONNX file before torch
// MLIR.
func (m Mode) ViaONNX() bool { return m == ONNX || m == ONNXRuntime }

// ForFramework returns the mode actually used for tests of framework. ONNX
// tests start from an ONNX file, so direct ingestion means ONNX for them.
func (m Mode) ForFramework(framework string) Mode {
	if framework == "onnx" && m == Direct {
		return ONNX
	}
	return m
}

// Backend is the compilation target.
type Backend string

const (
	LLVMCPU Backend = "llvm-cpu"
	AMDAIE  Backend = "amd-aie"
	ROCm    Backend = "rocm"
)

// ParseBackend validates s.
func ParseBackend(s string) (Backend, error) {
	switch Backend(s) {
	case LLVMCPU, AMDAIE, ROCm:
		return Backend(s), nil
	}
	return "", fmt.Errorf("%w: backend %q (want llvm-cpu, amd-aie or rocm)", ErrInvalid, s)
}

// Depth is the last phase group a run goes through.
type Depth string

const (
	DepthIR        Depth = "ir"
	DepthCompiled  Depth = "compiled"
	DepthInference Depth = "inference"
)

// ParseDepth validates s. "torch-mlir" and "ireecompile" are accepted for
// DepthIR and DepthCompiled.
func ParseDepth(s string) (Depth, error) {
	switch s {
	case "ir", "torch-mlir":
		return DepthIR, nil
	case "compiled", "ireecompile":
		return DepthCompiled, nil
	case "inference":
		return DepthInference, nil
	}
	return "", fmt.Errorf("%w: upto %q (want ir, compiled or inference)", ErrInvalid, s)
}

func (d Depth) rank() int {
	switch d {
	case DepthIR:
		return 0
	case DepthCompiled:
		return 1
	case DepthInference:
		return 2
	}
	return -1
}

// Reaches reports whether a run to depth d includes other.
func (d Depth) Reaches(other Depth) bool { return d.rank() >= other.rank() }

// Config is the full run configuration.
type Config struct {
	TorchMLIRBuild string `yaml:"torch_mlir_build"`
	IREEBuild      string `yaml:"iree_build"`
	RunDir         string `yaml:"run_dir"`
	TestsRoot      string `yaml:"tests_root"`
	Python         string `yaml:"python"`
	HFHome         string `yaml:"hf_home"`
	DB             string `yaml:"db"`

	Frameworks []string `yaml:"frameworks"`
	Groups     []string `yaml:"groups"`
	Tests      []string `yaml:"tests"`

	Type    NumericType `yaml:"dtype"`
	Mode    Mode        `yaml:"mode"`
	Backend Backend     `yaml:"backend"`
	Upto    Depth       `yaml:"upto"`

	Jobs          int           `yaml:"jobs"`
	ZeroTolerance bool          `yaml:"zero_tolerance"`
	TorchToLinalg bool          `yaml:"torch_to_linalg"`
	Verbose       bool          `yaml:"verbose"`
	PhaseTimeout  time.Duration `yaml:"phase_timeout"`
}

// Default returns the configuration used when nothing is specified.
func Default() Config {
	return Config{
		RunDir:     "test-run",
		TestsRoot:  ".",
		Python:     "python",
		Frameworks: []string{"onnx"},
		Groups:     []string{"operators", "combinations"},
		Type:       FP32,
		Mode:       ONNX,
		Backend:    LLVMCPU,
		Upto:       DepthIR,
		Jobs:       1,
	}
}

// Resolve validates c, normalizes enum aliases, makes every path absolute
// and checks that the toolchains required by the requested mode and depth
// exist. The returned Config shares no slices with c.
func (c Config) Resolve() (Config, error) {
	r := c
	r.Frameworks = slices.Clone(c.Frameworks)
	r.Groups = slices.Clone(c.Groups)
	r.Tests = slices.Clone(c.Tests)

	var err error
	if r.Type, err = ParseNumericType(string(c.Type)); err != nil {
		return Config{}, err
	}
	if r.Mode, err = ParseMode(string(c.Mode)); err != nil {
		return Config{}, err
	}
	if r.Backend, err = ParseBackend(string(c.Backend)); err != nil {
		return Config{}, err
	}
	if r.Upto, err = ParseDepth(string(c.Upto)); err != nil {
		return Config{}, err
	}
	if r.Jobs < 1 {
		return Config{}, fmt.Errorf("%w: jobs must be at least 1, got %d", ErrInvalid, r.Jobs)
	}
	if r.PhaseTimeout < 0 {
		return Config{}, fmt.Errorf("%w: negative phase timeout %s", ErrInvalid, r.PhaseTimeout)
	}
	for _, fw := range r.Frameworks {
		if !slices.Contains([]string{"pytorch", "onnx", "tensorflow"}, fw) {
			return Config{}, fmt.Errorf("%w: framework %q", ErrInvalid, fw)
		}
	}
	for _, g := range r.Groups {
		if !slices.Contains([]string{"operators", "combinations", "models"}, g) {
			return Config{}, fmt.Errorf("%w: group %q", ErrInvalid, g)
		}
	}
	if r.Python == "" {
		r.Python = "python"
	}

	if r.RunDir, err = absPath(r.RunDir); err != nil {
		return Config{}, err
	}
	if r.TestsRoot, err = existingDir("tests root", r.TestsRoot); err != nil {
		return Config{}, err
	}

	if r.needsTorchMLIR() {
		if r.TorchMLIRBuild == "" {
			return Config{}, fmt.Errorf("%w: mode %s needs a torch-mlir build (--torchmlirbuild)", ErrInvalid, r.Mode)
		}
		if r.TorchMLIRBuild, err = existingDir("torch-mlir build", r.TorchMLIRBuild); err != nil {
			return Config{}, err
		}
	} else if r.TorchMLIRBuild != "" {
		if r.TorchMLIRBuild, err = absPath(r.TorchMLIRBuild); err != nil {
			return Config{}, err
		}
	}

	if r.Upto.Reaches(DepthCompiled) {
		if r.IREEBuild == "" {
			return Config{}, fmt.Errorf("%w: --upto %s needs an IREE build (--ireebuild)", ErrInvalid, r.Upto)
		}
		if r.IREEBuild, err = existingDir("IREE build", r.IREEBuild); err != nil {
			return Config{}, err
		}
	} else if r.IREEBuild != "" {
		if r.IREEBuild, err = absPath(r.IREEBuild); err != nil {
			return Config{}, err
		}
	}

	if r.HFHome == "" {
		r.HFHome = os.Getenv("HF_HOME")
	}
	if r.HFHome != "" {
		if r.HFHome, err = existingDir("HF_HOME", r.HFHome); err != nil {
			return Config{}, err
		}
	}

	if r.DB != "" && r.DB != ":memory:" {
		if r.DB, err = absPath(r.DB); err != nil {
			return Config{}, err
		}
	}
	return r, nil
}

// needsTorchMLIR reports whether any selected test goes through ONNX.
func (c Config) needsTorchMLIR() bool {
	if c.Mode.ViaONNX() {
		return true
	}
	if len(c.Tests) > 0 {
		for _, t := range c.Tests {
			if strings.HasPrefix(strings.TrimLeft(filepath.ToSlash(t), "/"), "onnx/") {
				return true
			}
		}
		return false
	}
	return slices.Contains(c.Frameworks, "onnx")
}

// TorchMLIROpt is the path of the torch-mlir-opt tool.
func (c Config) TorchMLIROpt() string {
	return filepath.Join(c.TorchMLIRBuild, "bin", "torch-mlir-opt")
}

// IREECompile is the path of the iree-compile tool.
func (c Config) IREECompile() string {
	return filepath.Join(c.IREEBuild, "tools", "iree-compile")
}

// IREERunModule is the path of the iree-run-module tool.
func (c Config) IREERunModule() string {
	return filepath.Join(c.IREEBuild, "tools", "iree-run-module")
}

func absPath(p string) (string, error) {
	abs, err := filepath.Abs(p)
	if err != nil {
		return "", fmt.Errorf("%w: %s: %v", ErrInvalid, p, err)
	}
	return abs, nil
}

func existingDir(what, p string) (string, error) {
	abs, err := absPath(p)
	if err != nil {
		return "", err
	}
	info, err := os.Stat(abs)
	if err != nil {
		return "", fmt.Errorf("%w: %s directory %s does not exist", ErrInvalid, what, abs)
	}
	if !info.IsDir() {
		return "", fmt.Errorf("%w: %s %s is not a directory", ErrInvalid, what, abs)
	}
	return abs, nil
}
