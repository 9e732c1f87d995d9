package harness

import (
	"github.com/roach88/e2eshark/internal/config"
)

// Fixed artifact names, the same for every test.
const (
	DriverFile         = "runmodel.py"
	CommandsLog        = "commands.log"
	TimeLog            = "time.log"
	TorchONNXLog       = "torch-onnx.log"
	TorchMLIRLog       = "onnxtotorch.log"
	CompileLog         = "iree-compile.log"
	InferenceInput     = "inference_input.bin"
	InferenceLog       = "inference.log"
	FailedInferenceLog = "failedinference.log"
	ONNXModel          = "model.onnx"
)

// Artifacts names every file a test run reads or writes, relative to the
// run directory.
type Artifacts struct {
	ModelLog    string // <name>.log
	ONNX        string // <name>.<dt>.onnx, or model.onnx for ONNX tests
	TorchONNX   string // <name>.<dt>.torch-onnx.mlir
	TorchMLIR   string // <name>.<dt>.{pytorch,onnx}.torch.mlir
	Module      string // <name>.<dt>.vmfb
	InputTensor string // <name>.<dt>.input.tensor
	GoldOutput  string // <name>.<dt>.goldoutput.tensor
	Output      string // <name>.<dt>.output.bin
}

// NewArtifacts derives the artifact names of test name for framework,
// numeric type dt and the effective ingestion mode.
func NewArtifacts(name string, dt config.NumericType, framework string, mode config.Mode) Artifacts {
	prefix := name + "." + string(dt)

	a := Artifacts{
		ModelLog:    name + ".log",
		ONNX:        prefix + ".onnx",
		TorchONNX:   prefix + ".torch-onnx.mlir",
		TorchMLIR:   prefix + ".pytorch.torch.mlir",
		Module:      prefix + ".vmfb",
		InputTensor: prefix + ".input.tensor",
		GoldOutput:  prefix + ".goldoutput.tensor",
		Output:      prefix + ".output.bin",
	}
	if framework == "onnx" {
		a.ONNX = ONNXModel
	}
	if mode.ViaONNX() {
		a.TorchMLIR = prefix + ".onnx.torch.mlir"
	}
	return a
}
