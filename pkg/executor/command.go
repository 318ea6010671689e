package executor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/terrama2/services/pkg/auditlog"
	"github.com/terrama2/services/pkg/log"
	"github.com/terrama2/services/pkg/service"
	"github.com/terrama2/services/pkg/utils"
)

// Metadata keys understood by the command executor.
const (
	CommandKey = "command"
	WorkdirKey = "workdir"
)

// Stdout directives of a command.
const (
	dataTimestampPrefix = "DATA_TIMESTAMP="
	statusPrefix        = "STATUS="
)

// Longest stdout line kept as one message.
const maxLineLength = 64 * 1024

var ErrNoCommand = errors.New("Process has no command")

// Typed view of the process metadata.
type CommandConfig struct {
	Command string
	Workdir string
}

func ParseCommandConfig(metadata map[string]string) (*CommandConfig, error) {
	config := &CommandConfig{
		Command: strings.TrimSpace(metadata[CommandKey]),
		Workdir: metadata[WorkdirKey],
	}
	if config.Command == "" {
		return nil, ErrNoCommand
	}
	return config, nil
}

// Runs the shell command configured in the metadata of a process.
//
// The command sees the run through TERRAMA2_* environment variables.
// Every stdout line is appended to the audit log, except directives:
//
//	DATA_TIMESTAMP=<RFC 3339>      newest data processed by the run
//	STATUS=collecting|processing   intermediate run state
type Command struct {
	Shell []string
	Env   []string
}

func NewCommand() *Command {
	return &Command{
		Shell: []string{"/bin/sh", "-c"},
		Env:   os.Environ(),
	}
}

func (c *Command) Execute(ctx context.Context, task *service.Task, logger *auditlog.Logger) (service.Result, error) {
	config, err := ParseCommandConfig(task.Entity.Metadata)
	if err != nil {
		return service.Result{}, fmt.Errorf("%s: %w", task.Entity.Key(), err)
	}

	out := &commandOutput{ctx: ctx, task: task, logger: logger}

	args := append(append([]string{}, c.Shell...), config.Command)
	cmd := utils.NewCommand(ctx, args...)
	cmd.SetEnv(append(append([]string{}, c.Env...), environment(task)...))
	cmd.SetStdout(out)
	if config.Workdir != "" {
		cmd.SetDir(config.Workdir)
	}

	log.Debug("exe - command - process:", task.ProcessId, config.Command)

	err = cmd.Run()
	out.flush()

	if err != nil {
		if details := strings.TrimSpace(utils.ErrorDetails(err)); details != "" {
			if err := logger.Log(ctx, auditlog.ErrorSeverity, details, task.RegisterId); err != nil {
				log.Debug("nok - message - run:", task.RegisterId, err)
			}
		}
		return service.Result{}, err
	}

	if out.err != nil {
		return service.Result{}, out.err
	}

	return service.Result{DataTimestamp: out.dataTimestamp}, nil
}

func environment(task *service.Task) []string {
	env := []string{
		"TERRAMA2_PROCESS_ID=" + strconv.FormatInt(task.ProcessId, 10),
		"TERRAMA2_REGISTER_ID=" + strconv.FormatInt(int64(task.RegisterId), 10),
		"TERRAMA2_KIND=" + string(task.Entity.Kind),
		"TERRAMA2_TIMESTAMP=" + task.Timestamp().UTC().Format(time.RFC3339),
	}
	if task.LastDataTimestamp != nil {
		env = append(env, "TERRAMA2_LAST_DATA_TIMESTAMP="+task.LastDataTimestamp.UTC().Format(time.RFC3339Nano))
	}
	return env
}

// Splits command output into lines and interprets them.
type commandOutput struct {
	ctx    context.Context
	task   *service.Task
	logger *auditlog.Logger

	partial       []byte
	dataTimestamp time.Time
	err           error
}

func (o *commandOutput) Write(data []byte) (int, error) {
	o.partial = append(o.partial, data...)
	for {
		i := bytes.IndexByte(o.partial, '\n')
		if i < 0 {
			break
		}
		o.line(string(bytes.TrimRight(o.partial[:i], "\r")))
		o.partial = o.partial[i+1:]
	}

	// Lines longer than the limit are split
	for len(o.partial) >= maxLineLength {
		o.line(string(o.partial[:maxLineLength]))
		o.partial = o.partial[maxLineLength:]
	}
	o.partial = append([]byte(nil), o.partial...)
	return len(data), nil
}

func (o *commandOutput) flush() {
	if len(o.partial) > 0 {
		o.line(string(o.partial))
		o.partial = nil
	}
}

func (o *commandOutput) line(line string) {
	line = strings.TrimSpace(line)
	if line == "" {
		return
	}

	switch {
	case strings.HasPrefix(line, dataTimestampPrefix):
		value := strings.TrimPrefix(line, dataTimestampPrefix)
		ts, err := time.Parse(time.RFC3339Nano, value)
		if err != nil {
			o.setErr(fmt.Errorf("%w: bad data timestamp %q", utils.ErrParse, value))
			return
		}
		if ts.After(o.dataTimestamp) {
			o.dataTimestamp = ts
		}

	case strings.HasPrefix(line, statusPrefix):
		status := auditlog.Status(strings.ToLower(strings.TrimPrefix(line, statusPrefix)))
		if err := o.logger.SetStatus(o.ctx, o.task.RegisterId, status); err != nil {
			o.setErr(err)
		}

	default:
		if err := o.logger.Log(o.ctx, auditlog.InfoSeverity, line, o.task.RegisterId); err != nil {
			log.Debug("nok - message - run:", o.task.RegisterId, err)
		}
	}
}

func (o *commandOutput) setErr(err error) {
	if o.err == nil {
		o.err = err
	}
}
