package harness

import (
	"archive/zip"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/roach88/e2eshark/internal/selector"
)

// Workspace locates one test's sources and run directory.
type Workspace struct {
	Test selector.TestID

	// Source is the test's directory under the tests root.
	Source string

	// Dir is the test's run directory.
	Dir string
}

// DriverGenerator writes the runnable driver script into the run directory.
type DriverGenerator interface {
	Generate(ws Workspace) error
}

// AssetPreparer stages model assets the driver expects to find in the run
// directory.
type AssetPreparer interface {
	Prepare(ws Workspace) error
}

// ConcatDriver builds runmodel.py by appending the framework's stub to the
// test's model.py.
type ConcatDriver struct {
	// ToolsDir holds stubs/pytorchmodel.py and stubs/onnxmodel.py.
	ToolsDir string
}

// Stub returns the stub path used for framework.
func (d ConcatDriver) Stub(framework string) string {
	name := "pytorchmodel.py"
	if framework == "onnx" {
		name = "onnxmodel.py"
	}
	return filepath.Join(d.ToolsDir, "stubs", name)
}

func (d ConcatDriver) Generate(ws Workspace) error {
	out, err := os.Create(filepath.Join(ws.Dir, DriverFile))
	if err != nil {
		return fmt.Errorf("create driver: %w", err)
	}
	for _, src := range []string{filepath.Join(ws.Source, "model.py"), d.Stub(ws.Test.Framework)} {
		if err := appendFile(out, src); err != nil {
			out.Close()
			return fmt.Errorf("generate driver: %w", err)
		}
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("close driver: %w", err)
	}
	return nil
}

func appendFile(w io.Writer, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = io.Copy(w, f)
	return err
}

// ONNXModelAssets links the checked-in model.onnx of ONNX "models" tests
// into the run directory, unzipping model.onnx.zip in the source directory
// on first use. Other tests need no assets.
type ONNXModelAssets struct{}

func (ONNXModelAssets) Prepare(ws Workspace) error {
	if ws.Test.Framework != "onnx" || ws.Test.Group != "models" {
		return nil
	}
	model := filepath.Join(ws.Source, ONNXModel)
	if err := unzipOnce(model); err != nil {
		return err
	}

	link := filepath.Join(ws.Dir, ONNXModel)
	if _, err := os.Lstat(link); err == nil {
		return nil
	}
	if err := os.Symlink(model, link); err != nil {
		return fmt.Errorf("link %s: %w", ONNXModel, err)
	}
	return nil
}

// unzipOnce extracts path+".zip" next to it unless path already exists or
// there is no archive.
func unzipOnce(path string) error {
	archive := path + ".zip"
	if _, err := os.Stat(archive); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if _, err := os.Stat(path); err == nil {
		return nil
	}

	zr, err := zip.OpenReader(archive)
	if err != nil {
		return fmt.Errorf("open %s: %w", archive, err)
	}
	defer zr.Close()

	dir := filepath.Dir(path)
	for _, f := range zr.File {
		if err := extract(dir, f); err != nil {
			return fmt.Errorf("unzip %s: %w", archive, err)
		}
	}
	return nil
}

func extract(dir string, f *zip.File) error {
	target := filepath.Join(dir, f.Name)
	if !strings.HasPrefix(target, filepath.Clean(dir)+string(os.PathSeparator)) {
		return fmt.Errorf("entry %q escapes %s", f.Name, dir)
	}
	if f.FileInfo().IsDir() {
		return os.MkdirAll(target, 0o755)
	}
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return err
	}

	rc, err := f.Open()
	if err != nil {
		return err
	}
	defer rc.Close()

	out, err := os.OpenFile(target, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, rc); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
