// Package shell provides the executor for steps of kind "shell": it runs
// local processes from a strict allow-list. Step params are passed to the
// process as ARBOR_ARG_<KEY> environment variables rather than command
// flags, which keeps arbitrary plan input out of the argv.
package shell

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"

	"github.com/mitchellh/mapstructure"

	"github.com/calyptra/arbor/pkg/domain"
	"github.com/calyptra/arbor/pkg/registry"
)

// Kind is the capability name this plugin serves.
const Kind = "shell"

// Command is one allow-listed process.
type Command struct {
	Command string   `yaml:"command" json:"command"`
	Args    []string `yaml:"args" json:"args"`
}

// Executor runs allow-listed commands. Ad-hoc commands from plan params
// are refused unless WithInlineExecution was set.
type Executor struct {
	commands    map[string]Command
	allowInline bool
	baseDir     string
}

// Option configures the executor.
type Option func(*Executor)

// WithCommand adds one trusted command under the given name.
func WithCommand(name, command string, args ...string) Option {
	return func(e *Executor) {
		e.commands[name] = Command{Command: command, Args: args}
	}
}

// WithCommands populates the allow-list from a loaded config.
func WithCommands(commands map[string]Command) Option {
	return func(e *Executor) {
		for name, c := range commands {
			e.commands[name] = c
		}
	}
}

// WithInlineExecution lets steps supply command lines directly through
// params. Off by default: plans are data and data should not pick argv.
func WithInlineExecution(allow bool) Option {
	return func(e *Executor) {
		e.allowInline = allow
	}
}

// WithBaseDir sets the working directory for executed processes.
func WithBaseDir(dir string) Option {
	return func(e *Executor) {
		e.baseDir = dir
	}
}

// New creates the shell executor.
func New(opts ...Option) *Executor {
	e := &Executor{
		commands: make(map[string]Command),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Plugin wraps the executor in a registration object for Runtime.Use.
func Plugin(opts ...Option) registry.Plugin {
	return registry.Plugin{
		Name:      "shell",
		Version:   "1.0.0",
		Executors: []registry.Executor{New(opts...)},
	}
}

func (e *Executor) Kind() string { return Kind }

// params is the decoded shape of a shell step's Params map.
type params struct {
	Command string         `mapstructure:"command"`
	Args    []string       `mapstructure:"args"`
	Env     map[string]any `mapstructure:"env"`
}

// Execute runs the step's command. Every failure mode lands on the
// StepResult; the error return stays nil so the scheduler records the
// outcome instead of synthesizing one.
func (e *Executor) Execute(ctx context.Context, step *domain.Step, rc domain.RunContext) (domain.StepResult, error) {
	result := domain.StepResult{StepID: step.ID}

	var p params
	if err := mapstructure.Decode(step.Params, &p); err != nil {
		return failed(result, fmt.Sprintf("invalid shell params: %v", err)), nil
	}
	if p.Command == "" {
		return failed(result, "shell step requires a command param"), nil
	}

	proc, ok := e.commands[p.Command]
	if !ok {
		if !e.allowInline {
			return failed(result, fmt.Sprintf("command not allow-listed: %s", p.Command)), nil
		}
		proc = Command{Command: p.Command, Args: p.Args}
	}

	cmd := exec.CommandContext(ctx, proc.Command, proc.Args...)
	cmd.Dir = e.baseDir
	cmd.Env = append(cmd.Environ(), envFor(p.Env, rc)...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return failed(result, fmt.Sprintf("execution failed: %v, stderr: %s", err, strings.TrimSpace(stderr.String()))), nil
	}

	result.Status = domain.StepSucceeded
	result.Outputs = map[string]any{"result": parseOutput(stdout.String())}
	return result, nil
}

// envFor serializes step env params as ARBOR_ARG_<KEY> variables.
// Primitives print plainly; structured values are JSON.
func envFor(args map[string]any, rc domain.RunContext) []string {
	env := []string{
		"ARBOR_RUN_ID=" + rc.RunID,
		"ARBOR_PLAN_ID=" + rc.PlanID,
	}
	for k, v := range args {
		var val string
		switch v.(type) {
		case string, int, int64, float64, bool:
			val = fmt.Sprintf("%v", v)
		case nil:
			val = ""
		default:
			if raw, err := json.Marshal(v); err == nil {
				val = string(raw)
			} else {
				val = fmt.Sprintf("%v", v)
			}
		}
		env = append(env, fmt.Sprintf("ARBOR_ARG_%s=%s", strings.ToUpper(k), val))
	}
	return env
}

// parseOutput auto-detects JSON stdout so structured tools feed structured
// outputs; anything else stays a trimmed string.
func parseOutput(output string) any {
	trimmed := strings.TrimSpace(output)
	if (strings.HasPrefix(trimmed, "{") && strings.HasSuffix(trimmed, "}")) ||
		(strings.HasPrefix(trimmed, "[") && strings.HasSuffix(trimmed, "]")) {
		var parsed any
		if err := json.Unmarshal([]byte(trimmed), &parsed); err == nil {
			return parsed
		}
	}
	return trimmed
}

func failed(result domain.StepResult, message string) domain.StepResult {
	result.Status = domain.StepFailed
	result.Error = &domain.Error{Message: message}
	return result
}
