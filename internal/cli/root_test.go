package cli

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCommand(t *testing.T) {
	cmd := NewRootCommand()
	require.NotNil(t, cmd)
	assert.Equal(t, "e2eshark", cmd.Use)
	assert.Contains(t, cmd.Long, "torch-mlir")
}

func TestCommandPresence(t *testing.T) {
	cmd := NewRootCommand()
	commands := []string{"run", "list", "report"}

	for _, cmdName := range commands {
		t.Run(cmdName, func(t *testing.T) {
			subCmd, _, err := cmd.Find([]string{cmdName})
			require.NoError(t, err, "Command %s should exist", cmdName)
			require.NotNil(t, subCmd)
			assert.Equal(t, cmdName, subCmd.Name())
		})
	}
}

func TestGlobalFlags(t *testing.T) {
	cmd := NewRootCommand()

	verboseFlag := cmd.PersistentFlags().Lookup("verbose")
	require.NotNil(t, verboseFlag)
	assert.Equal(t, "v", verboseFlag.Shorthand)
	assert.Equal(t, "false", verboseFlag.DefValue)

	formatFlag := cmd.PersistentFlags().Lookup("format")
	require.NotNil(t, formatFlag)
	assert.Equal(t, "text", formatFlag.DefValue)
}

func TestRunCommandFlags(t *testing.T) {
	cmd := NewRootCommand()
	runCmd, _, err := cmd.Find([]string{"run"})
	require.NoError(t, err)

	shorthands := map[string]string{
		"backend":        "b",
		"torchmlirbuild": "c",
		"dtype":          "d",
		"frameworks":     "f",
		"groups":         "g",
		"ireebuild":      "i",
		"jobs":           "j",
		"torchtolinalg":  "l",
		"mode":           "m",
		"rundirectory":   "r",
		"tests":          "t",
		"upto":           "u",
		"zerotolerance":  "z",
	}
	for name, short := range shorthands {
		f := runCmd.Flags().Lookup(name)
		require.NotNil(t, f, name)
		assert.Equal(t, short, f.Shorthand, name)
	}

	defaults := map[string]string{
		"dtype":         "fp32",
		"mode":          "onnx",
		"backend":       "llvm-cpu",
		"upto":          "ir",
		"jobs":          "1",
		"rundirectory":  "test-run",
		"frameworks":    "[onnx]",
		"groups":        "[operators,combinations]",
		"phase-timeout": "0s",
		"db":            "",
	}
	for name, def := range defaults {
		f := runCmd.Flags().Lookup(name)
		require.NotNil(t, f, name)
		assert.Equal(t, def, f.DefValue, name)
	}

	for _, name := range []string{"hfhome", "python", "tests-root", "config", "progress"} {
		assert.NotNil(t, runCmd.Flags().Lookup(name), name)
	}
}

func TestReportCommandFlags(t *testing.T) {
	cmd := NewRootCommand()
	reportCmd, _, err := cmd.Find([]string{"report"})
	require.NoError(t, err)

	dbFlag := reportCmd.Flags().Lookup("db")
	require.NotNil(t, dbFlag)
	assert.Equal(t, "", dbFlag.DefValue)
	assert.NotNil(t, reportCmd.Flags().Lookup("run"))
}

func TestFormatValidation(t *testing.T) {
	// Test valid formats
	assert.True(t, isValidFormat("text"))
	assert.True(t, isValidFormat("json"))

	// Test invalid formats
	assert.False(t, isValidFormat("xml"))
	assert.False(t, isValidFormat(""))
	assert.False(t, isValidFormat("TEXT"))
}

func TestFormatValidationIntegration(t *testing.T) {
	cmd := NewRootCommand()
	cmd.SetArgs([]string{"--format", "invalid", "list"})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid format")
}
