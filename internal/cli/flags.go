package cli

import (
	"fmt"
	"path/filepath"
	"slices"

	"github.com/spf13/cobra"

	"github.com/roach88/e2eshark/internal/config"
	"github.com/roach88/e2eshark/internal/selector"
)

// configOverlay maps a flag name to the Config field it sets.
var configOverlay = map[string]func(dst, src *config.Config){
	"torchmlirbuild": func(d, s *config.Config) { d.TorchMLIRBuild = s.TorchMLIRBuild },
	"ireebuild":      func(d, s *config.Config) { d.IREEBuild = s.IREEBuild },
	"rundirectory":   func(d, s *config.Config) { d.RunDir = s.RunDir },
	"tests-root":     func(d, s *config.Config) { d.TestsRoot = s.TestsRoot },
	"python":         func(d, s *config.Config) { d.Python = s.Python },
	"hfhome":         func(d, s *config.Config) { d.HFHome = s.HFHome },
	"db":             func(d, s *config.Config) { d.DB = s.DB },
	"frameworks":     func(d, s *config.Config) { d.Frameworks = s.Frameworks },
	"groups":         func(d, s *config.Config) { d.Groups = s.Groups },
	"tests":          func(d, s *config.Config) { d.Tests = s.Tests },
	"dtype":          func(d, s *config.Config) { d.Type = s.Type },
	"mode":           func(d, s *config.Config) { d.Mode = s.Mode },
	"backend":        func(d, s *config.Config) { d.Backend = s.Backend },
	"upto":           func(d, s *config.Config) { d.Upto = s.Upto },
	"jobs":           func(d, s *config.Config) { d.Jobs = s.Jobs },
	"zerotolerance":  func(d, s *config.Config) { d.ZeroTolerance = s.ZeroTolerance },
	"torchtolinalg":  func(d, s *config.Config) { d.TorchToLinalg = s.TorchToLinalg },
	"phase-timeout":  func(d, s *config.Config) { d.PhaseTimeout = s.PhaseTimeout },
}

// bindSelectionFlags registers the flags choosing which tests run.
func bindSelectionFlags(cmd *cobra.Command, c *config.Config, file *string) {
	f := cmd.Flags()
	f.StringVar(file, "config", "", "YAML configuration file; flags given on the command line override it")
	f.StringVar(&c.TestsRoot, "tests-root", c.TestsRoot, "directory holding the framework test trees and tools/")
	f.StringSliceVarP(&c.Frameworks, "frameworks", "f", c.Frameworks, "frameworks to run (pytorch,onnx,tensorflow)")
	f.StringSliceVarP(&c.Groups, "groups", "g", c.Groups, "test groups to run (operators,combinations,models)")
	f.StringSliceVarP(&c.Tests, "tests", "t", c.Tests, "explicit tests as framework/group/name; overrides --frameworks and --groups")
}

// bindRunFlags registers every configuration flag of the run command.
func bindRunFlags(cmd *cobra.Command, c *config.Config, file *string) {
	bindSelectionFlags(cmd, c, file)

	f := cmd.Flags()
	f.StringVarP(&c.TorchMLIRBuild, "torchmlirbuild", "c", c.TorchMLIRBuild, "path to the torch-mlir build")
	f.StringVarP(&c.IREEBuild, "ireebuild", "i", c.IREEBuild, "path to the IREE build")
	f.StringVarP(&c.RunDir, "rundirectory", "r", c.RunDir, "directory test runs write their artifacts to")
	f.StringVar(&c.Python, "python", c.Python, "python interpreter running the model drivers")
	f.StringVar(&c.HFHome, "hfhome", c.HFHome, "Hugging Face home (HF_HOME), a directory with large free space")
	f.StringVar(&c.DB, "db", c.DB, "SQLite database to record results in (optional)")
	f.StringVarP((*string)(&c.Type), "dtype", "d", string(c.Type), "numeric type the model runs in (fp32|bf16)")
	f.StringVarP((*string)(&c.Mode), "mode", "m", string(c.Mode), "how the model reaches torch MLIR (direct|onnx|onnx-runtime)")
	f.StringVarP((*string)(&c.Backend), "backend", "b", string(c.Backend), "IREE target backend (llvm-cpu|amd-aie|rocm)")
	f.StringVarP((*string)(&c.Upto), "upto", "u", string(c.Upto), "stop after this depth (ir|compiled|inference)")
	f.IntVarP(&c.Jobs, "jobs", "j", c.Jobs, "number of tests run in parallel")
	f.BoolVarP(&c.ZeroTolerance, "zerotolerance", "z", c.ZeroTolerance, "require bit-exact inference output")
	f.BoolVarP(&c.TorchToLinalg, "torchtolinalg", "l", c.TorchToLinalg, "lower torch MLIR to linalg before compiling")
	f.DurationVar(&c.PhaseTimeout, "phase-timeout", c.PhaseTimeout, "kill a phase after this long (0 waits forever)")
}

// loadConfig layers the defaults, the --config file and the flags changed on
// the command line, in increasing precedence.
func loadConfig(cmd *cobra.Command, file string, flags config.Config) (config.Config, error) {
	cfg := config.Default()
	if file != "" {
		var err error
		if cfg, err = config.LoadFile(file, cfg); err != nil {
			return config.Config{}, err
		}
	}
	for name, apply := range configOverlay {
		if f := cmd.Flags().Lookup(name); f != nil && f.Changed {
			apply(&cfg, &flags)
		}
	}
	return cfg, nil
}

// batch is the tests of one framework.
type batch struct {
	Framework string
	Tests     []selector.TestID
}

// selectTests returns the tests to run, one batch per framework. Explicit
// tests take precedence over frameworks and groups and are batched in
// selector.Frameworks order; listed frameworks run in the order given.
func selectTests(cfg config.Config) ([]batch, error) {
	root, err := filepath.Abs(cfg.TestsRoot)
	if err != nil {
		return nil, fmt.Errorf("tests root: %w", err)
	}

	var batches []batch
	if len(cfg.Tests) > 0 {
		byFramework, err := selector.ParseAll(root, cfg.Tests)
		if err != nil {
			return nil, err
		}
		for _, fw := range selector.Frameworks {
			if len(byFramework[fw]) > 0 {
				batches = append(batches, batch{Framework: fw, Tests: byFramework[fw]})
			}
		}
		return batches, nil
	}

	for i, fw := range cfg.Frameworks {
		if !slices.Contains(selector.Frameworks, fw) {
			return nil, fmt.Errorf("%w: framework %q", config.ErrInvalid, fw)
		}
		if slices.Contains(cfg.Frameworks[:i], fw) {
			continue
		}
		ids, err := selector.List(root, fw, cfg.Groups)
		if err != nil {
			return nil, err
		}
		batches = append(batches, batch{Framework: fw, Tests: ids})
	}
	return batches, nil
}
