// Package harness runs one test through the phase pipeline.
//
// A test is driven through up to five external phases, each one a separate
// OS process started in the test's own run directory:
//
//	model-run    python runmodel.py --dtype <dt> --mode <mode> --outfileprefix <name>
//	onnx-import  python -m torch_mlir.tools.import_onnx <name>.<dt>.onnx -o <name>.<dt>.torch-onnx.mlir
//	torch-mlir   torch-mlir-opt -convert-torch-onnx-to-torch <name>.<dt>.torch-onnx.mlir
//	compile      iree-compile --iree-hal-target-backends=<backend> <torch mlir>
//	inference    iree-run-module --module=<name>.<dt>.vmfb [--input=...] --output=@<name>.<dt>.output.bin
//
// onnx-import and torch-mlir only run when the model is ingested through
// ONNX. The run stops at the first failing phase or at the configured depth,
// whichever comes first, and the phase ledger is written to time.log in the
// run directory either way.
//
// # Run directory
//
// Every artifact name is derived from the test name and numeric type (see
// Artifacts), so a run directory can be inspected by hand after the fact:
// commands.log holds the exact command of every launched phase, each phase
// has its own log, and failedinference.log dumps both tensors when the
// inference output does not match the reference.
//
// # Testing
//
// Pipelines are built with New and take their process runner and clock as
// options. Tests substitute testutil.FakeRunner, which records commands and
// writes the artifacts a phase would produce, and testutil.FakeClock, which
// makes every phase take exactly one clock step.
package harness
