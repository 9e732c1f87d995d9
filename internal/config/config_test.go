package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// toolchains creates fake torch-mlir and IREE build directories.
func toolchains(t *testing.T) (torchMLIR, iree string) {
	t.Helper()
	t.Setenv("HF_HOME", "")
	root := t.TempDir()
	torchMLIR = filepath.Join(root, "torch-mlir", "build")
	iree = filepath.Join(root, "iree-build")
	require.NoError(t, os.MkdirAll(torchMLIR, 0o755))
	require.NoError(t, os.MkdirAll(iree, 0o755))
	return torchMLIR, iree
}

func TestParseEnums(t *testing.T) {
	m, err := ParseMode("ort")
	require.NoError(t, err)
	assert.Equal(t, ONNXRuntime, m)
	assert.Equal(t, "ort", m.DriverArg())

	d, err := ParseDepth("torch-mlir")
	require.NoError(t, err)
	assert.Equal(t, DepthIR, d)
	d, err = ParseDepth("ireecompile")
	require.NoError(t, err)
	assert.Equal(t, DepthCompiled, d)

	_, err = ParseMode("tvm")
	assert.ErrorIs(t, err, ErrInvalid)
	_, err = ParseBackend("cuda")
	assert.ErrorIs(t, err, ErrInvalid)
	_, err = ParseNumericType("fp64")
	assert.ErrorIs(t, err, ErrInvalid)
	_, err = ParseDepth("lowered")
	assert.ErrorIs(t, err, ErrInvalid)
}

func TestMode_ForFramework(t *testing.T) {
	assert.Equal(t, ONNX, Direct.ForFramework("onnx"))
	assert.Equal(t, Direct, Direct.ForFramework("pytorch"))
	assert.Equal(t, ONNXRuntime, ONNXRuntime.ForFramework("onnx"))
}

func TestDepth_Reaches(t *testing.T) {
	assert.True(t, DepthInference.Reaches(DepthCompiled))
	assert.True(t, DepthCompiled.Reaches(DepthCompiled))
	assert.False(t, DepthIR.Reaches(DepthCompiled))
}

func TestResolve_Defaults(t *testing.T) {
	tm, _ := toolchains(t)

	cfg := Default()
	cfg.TorchMLIRBuild = tm
	cfg.TestsRoot = t.TempDir()

	r, err := cfg.Resolve()
	require.NoError(t, err)
	assert.True(t, filepath.IsAbs(r.RunDir))
	assert.Equal(t, tm, r.TorchMLIRBuild)
	assert.Equal(t, filepath.Join(tm, "bin", "torch-mlir-opt"), r.TorchMLIROpt())
	assert.Equal(t, DepthIR, r.Upto)
	assert.Equal(t, "python", r.Python)
}

func TestResolve_NormalizesAliases(t *testing.T) {
	tm, iree := toolchains(t)
	cfg := Default()
	cfg.TorchMLIRBuild = tm
	cfg.IREEBuild = iree
	cfg.TestsRoot = t.TempDir()
	cfg.Mode = "ort"
	cfg.Upto = "ireecompile"

	r, err := cfg.Resolve()
	require.NoError(t, err)
	assert.Equal(t, ONNXRuntime, r.Mode)
	assert.Equal(t, DepthCompiled, r.Upto)
	assert.Equal(t, filepath.Join(iree, "tools", "iree-compile"), r.IREECompile())
	assert.Equal(t, filepath.Join(iree, "tools", "iree-run-module"), r.IREERunModule())
}

func TestResolve_ToolchainRequirements(t *testing.T) {
	tm, iree := toolchains(t)
	root := t.TempDir()

	cases := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "onnx mode needs torch-mlir",
			mutate:  func(c *Config) {},
			wantErr: "torch-mlir build",
		},
		{
			name: "direct pytorch needs nothing",
			mutate: func(c *Config) {
				c.Mode = Direct
				c.Frameworks = []string{"pytorch"}
			},
		},
		{
			name: "direct onnx tests still import onnx",
			mutate: func(c *Config) {
				c.Mode = Direct
				c.Frameworks = []string{"pytorch"}
				c.Tests = []string{"/onnx/operators/add"}
			},
			wantErr: "torch-mlir build",
		},
		{
			name: "compiled needs iree",
			mutate: func(c *Config) {
				c.TorchMLIRBuild = tm
				c.Upto = DepthCompiled
			},
			wantErr: "IREE build",
		},
		{
			name: "missing iree dir",
			mutate: func(c *Config) {
				c.TorchMLIRBuild = tm
				c.IREEBuild = filepath.Join(iree, "nope")
				c.Upto = DepthInference
			},
			wantErr: "does not exist",
		},
		{
			name: "inference with both",
			mutate: func(c *Config) {
				c.TorchMLIRBuild = tm
				c.IREEBuild = iree
				c.Upto = DepthInference
			},
		},
		{
			name: "zero jobs",
			mutate: func(c *Config) {
				c.TorchMLIRBuild = tm
				c.Jobs = 0
			},
			wantErr: "jobs",
		},
		{
			name: "unknown group",
			mutate: func(c *Config) {
				c.TorchMLIRBuild = tm
				c.Groups = []string{"benchmarks"}
			},
			wantErr: "group",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			cfg.TestsRoot = root
			tc.mutate(&cfg)
			_, err := cfg.Resolve()
			if tc.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.ErrorIs(t, err, ErrInvalid)
			assert.ErrorContains(t, err, tc.wantErr)
		})
	}
}

func TestResolve_HFHome(t *testing.T) {
	tm, _ := toolchains(t)
	hf := t.TempDir()

	cfg := Default()
	cfg.TorchMLIRBuild = tm
	cfg.TestsRoot = t.TempDir()

	t.Setenv("HF_HOME", hf)
	r, err := cfg.Resolve()
	require.NoError(t, err)
	assert.Equal(t, hf, r.HFHome)

	cfg.HFHome = filepath.Join(hf, "missing")
	_, err = cfg.Resolve()
	assert.ErrorIs(t, err, ErrInvalid)
}

func TestResolve_DoesNotAliasSlices(t *testing.T) {
	tm, _ := toolchains(t)
	cfg := Default()
	cfg.TorchMLIRBuild = tm
	cfg.TestsRoot = t.TempDir()

	r, err := cfg.Resolve()
	require.NoError(t, err)
	r.Frameworks[0] = "pytorch"
	assert.Equal(t, "onnx", cfg.Frameworks[0])
}

func TestParse_OverlaysBase(t *testing.T) {
	doc := []byte(`
torch_mlir_build: /opt/torch-mlir/build
frameworks: [pytorch, onnx]
mode: ort
upto: inference
jobs: 8
zero_tolerance: true
phase_timeout: 30m
`)
	cfg, err := Parse(doc, Default())
	require.NoError(t, err)

	assert.Equal(t, "/opt/torch-mlir/build", cfg.TorchMLIRBuild)
	assert.Equal(t, []string{"pytorch", "onnx"}, cfg.Frameworks)
	assert.Equal(t, Mode("ort"), cfg.Mode)
	assert.Equal(t, DepthInference, cfg.Upto)
	assert.Equal(t, 8, cfg.Jobs)
	assert.True(t, cfg.ZeroTolerance)
	assert.Equal(t, 30*time.Minute, cfg.PhaseTimeout)

	// Untouched keys keep their defaults.
	assert.Equal(t, []string{"operators", "combinations"}, cfg.Groups)
	assert.Equal(t, LLVMCPU, cfg.Backend)
	assert.Equal(t, "test-run", cfg.RunDir)
}

func TestParse_EmptyDocument(t *testing.T) {
	cfg, err := Parse([]byte("# nothing here\n"), Default())
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestParse_SchemaViolations(t *testing.T) {
	cases := map[string]string{
		"unknown key":       "jbos: 4\n",
		"bad enum":          "backend: cuda\n",
		"bad framework":     "frameworks: [jax]\n",
		"jobs below one":    "jobs: 0\n",
		"wrong type":        "verbose: sometimes\n",
		"malformed timeout": "phase_timeout: soon\n",
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(doc), Default())
			assert.ErrorIs(t, err, ErrInvalid)
		})
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "e2eshark.yaml")
	require.NoError(t, os.WriteFile(path, []byte("backend: rocm\ndtype: bf16\n"), 0o644))

	cfg, err := LoadFile(path, Default())
	require.NoError(t, err)
	assert.Equal(t, ROCm, cfg.Backend)
	assert.Equal(t, BF16, cfg.Type)

	_, err = LoadFile(filepath.Join(t.TempDir(), "missing.yaml"), Default())
	assert.ErrorIs(t, err, ErrInvalid)
}
