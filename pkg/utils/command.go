package utils

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os/exec"
	"strings"

	"github.com/terrama2/services/pkg/log"
)

// An external command bound to a context.
// Cancelling the context kills the command and its children.
type Command struct {
	cmd    *exec.Cmd
	stderr bytes.Buffer
}

func NewCommand(ctx context.Context, args ...string) *Command {
	c := &Command{cmd: exec.CommandContext(ctx, args[0], args[1:]...)}
	c.cmd.Stderr = &c.stderr
	setProcessGroup(c.cmd)
	return c
}

func (c *Command) SetDir(dir string) {
	c.cmd.Dir = dir
}

func (c *Command) SetEnv(env []string) {
	c.cmd.Env = env
}

func (c *Command) SetStdout(w io.Writer) {
	c.cmd.Stdout = w
}

func (c *Command) Args() []string {
	return c.cmd.Args
}

// Run the command to completion.
// A failed command returns a DetailedError carrying its stderr.
func (c *Command) Run() error {
	log.Debug("exe - command -", strings.Join(c.cmd.Args, " "))

	if err := c.cmd.Run(); err != nil {
		message := fmt.Sprintf("Command failed: %s (%v)", strings.Join(c.cmd.Args, " "), err)
		return NewDetailedError(message, c.stderr.String())
	}

	return nil
}
