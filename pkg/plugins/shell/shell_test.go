package shell

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/calyptra/arbor/pkg/domain"
)

func shellStep(id string, params map[string]any) *domain.Step {
	return &domain.Step{
		ID:     id,
		Name:   id,
		Tags:   []string{"kind:shell"},
		Params: params,
	}
}

func TestExecutor_Execute(t *testing.T) {
	// Setup: a command that exists on the host OS.
	cmdName := "echo"
	args := []string{"hello"}
	if runtime.GOOS == "windows" {
		cmdName = "go"
		args = []string{"version"}
	}

	runner := New(WithCommand("greet", cmdName, args...))
	rc := domain.RunContext{RunID: "run_test", PlanID: "plan_test"}

	t.Run("Executes Allow-Listed Command", func(t *testing.T) {
		step := shellStep("s1", map[string]any{"command": "greet"})

		result, err := runner.Execute(context.Background(), step, rc)
		assert.NoError(t, err)
		assert.Equal(t, domain.StepSucceeded, result.Status)
		assert.NotEmpty(t, result.Outputs["result"])
	})

	t.Run("Fails For Unlisted Command", func(t *testing.T) {
		step := shellStep("s2", map[string]any{"command": "hacker_script"})

		result, err := runner.Execute(context.Background(), step, rc)
		assert.NoError(t, err)
		assert.Equal(t, domain.StepFailed, result.Status)
		require.NotNil(t, result.Error)
		assert.Contains(t, result.Error.Message, "not allow-listed")
	})

	t.Run("Fails Without Command Param", func(t *testing.T) {
		step := shellStep("s3", nil)

		result, err := runner.Execute(context.Background(), step, rc)
		assert.NoError(t, err)
		assert.Equal(t, domain.StepFailed, result.Status)
	})

	t.Run("Passes Env Params As ARBOR_ARG Variables", func(t *testing.T) {
		var testCmd string
		var testArgs []string
		if runtime.GOOS == "windows" {
			testCmd = "cmd"
			testArgs = []string{"/c", "echo %ARBOR_ARG_MSG%"}
		} else {
			testCmd = "sh"
			testArgs = []string{"-c", "echo $ARBOR_ARG_MSG"}
		}

		runner := New(WithCommand("echo_env", testCmd, testArgs...))
		step := shellStep("s4", map[string]any{
			"command": "echo_env",
			"env":     map[string]any{"msg": "SecretMessage"},
		})

		result, err := runner.Execute(context.Background(), step, rc)
		assert.NoError(t, err)
		assert.Equal(t, domain.StepSucceeded, result.Status)
		assert.Contains(t, result.Outputs["result"].(string), "SecretMessage")
	})

	t.Run("Parses JSON Output Into Structured Result", func(t *testing.T) {
		if runtime.GOOS == "windows" {
			t.Skip("relies on sh")
		}
		runner := New(WithCommand("emit_json", "sh", "-c", `echo '{"built": true, "count": 2}'`))
		step := shellStep("s5", map[string]any{"command": "emit_json"})

		result, err := runner.Execute(context.Background(), step, rc)
		assert.NoError(t, err)
		assert.Equal(t, domain.StepSucceeded, result.Status)

		parsed, ok := result.Outputs["result"].(map[string]any)
		require.True(t, ok, "expected JSON stdout to decode into a map, got %T", result.Outputs["result"])
		assert.Equal(t, true, parsed["built"])
	})

	t.Run("Inline Execution Requires Opt-In", func(t *testing.T) {
		step := shellStep("s6", map[string]any{"command": cmdName, "args": args})

		strict := New()
		result, err := strict.Execute(context.Background(), step, rc)
		assert.NoError(t, err)
		assert.Equal(t, domain.StepFailed, result.Status)

		permissive := New(WithInlineExecution(true))
		result, err = permissive.Execute(context.Background(), step, rc)
		assert.NoError(t, err)
		assert.Equal(t, domain.StepSucceeded, result.Status)
	})

	t.Run("Command Failure Becomes Failed Result", func(t *testing.T) {
		if runtime.GOOS == "windows" {
			t.Skip("relies on sh")
		}
		runner := New(WithCommand("boom", "sh", "-c", "echo broken >&2; exit 3"))
		step := shellStep("s7", map[string]any{"command": "boom"})

		result, err := runner.Execute(context.Background(), step, rc)
		assert.NoError(t, err)
		assert.Equal(t, domain.StepFailed, result.Status)
		require.NotNil(t, result.Error)
		assert.Contains(t, result.Error.Message, "broken")
	})

	t.Run("Runs In Configured Base Dir", func(t *testing.T) {
		if runtime.GOOS == "windows" {
			t.Skip("relies on sh")
		}
		dir := t.TempDir()
		marker := "arbor-marker.txt"
		require.NoError(t, os.WriteFile(filepath.Join(dir, marker), []byte("x"), 0o644))

		runner := New(WithCommand("list", "sh", "-c", "ls"), WithBaseDir(dir))
		step := shellStep("s8", map[string]any{"command": "list"})

		result, err := runner.Execute(context.Background(), step, rc)
		assert.NoError(t, err)
		assert.Equal(t, domain.StepSucceeded, result.Status)
		assert.Contains(t, result.Outputs["result"].(string), marker)
	})
}

func TestLoadCommands(t *testing.T) {
	t.Run("Missing File Means Empty Allow-List", func(t *testing.T) {
		commands, err := LoadCommands(filepath.Join(t.TempDir(), "absent.yaml"))
		assert.NoError(t, err)
		assert.Empty(t, commands)
	})

	t.Run("Loads YAML Commands", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "commands.yaml")
		content := []byte("commands:\n  - name: build\n    command: make\n    args: [all]\n  - name: \"\"\n    command: skipped\n")
		require.NoError(t, os.WriteFile(path, content, 0o644))

		commands, err := LoadCommands(path)
		require.NoError(t, err)
		require.Len(t, commands, 1)
		assert.Equal(t, "make", commands["build"].Command)
		assert.Equal(t, []string{"all"}, commands["build"].Args)
	})

	t.Run("Loads JSON Commands", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "commands.json")
		content := []byte(`{"commands": [{"name": "test", "command": "go", "args": ["test", "./..."]}]}`)
		require.NoError(t, os.WriteFile(path, content, 0o644))

		commands, err := LoadCommands(path)
		require.NoError(t, err)
		assert.Equal(t, "go", commands["test"].Command)
	})
}
