// Package task provides the units of work kiln runs from the command line.
package task

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sort"
	"strings"

	"kiln/internal/fileset"
	"kiln/internal/identity"
	"kiln/internal/pack"
)

// Shell runs a command in a working directory. Its action is the command
// line together with the environment it adds.
type Shell struct {
	TaskName string
	Dir      string
	Command  []string
	Env      map[string]string
	In       fileset.FileSet
	Out      []pack.Root
	NoCache  bool

	Stdout io.Writer
	Stderr io.Writer
}

func (s *Shell) Name() string { return s.TaskName }

func (s *Shell) CacheAllowed() bool { return !s.NoCache }

// CacheEnabled requires declared outputs: without them there is nothing to
// replay.
func (s *Shell) CacheEnabled() (bool, error) {
	return len(s.Out) > 0, nil
}

func (s *Shell) Inputs() fileset.FileSet {
	if s.In == nil {
		return fileset.None
	}
	return s.In
}

func (s *Shell) Outputs() []pack.Root { return s.Out }

func (s *Shell) Identity() (identity.Identity, bool) {
	if len(s.Command) == 0 {
		return identity.Identity{}, false
	}
	return identity.Identity{Root: s.Dir, Command: s.Command, Env: s.Env}, true
}

func (s *Shell) Action() string {
	var b strings.Builder
	b.WriteString(strings.Join(s.Command, "\x00"))

	names := make([]string, 0, len(s.Env))
	for name := range s.Env {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(&b, "\x01%s=%s", name, s.Env[name])
	}
	return b.String()
}

func (s *Shell) Execute(ctx context.Context) error {
	if len(s.Command) == 0 {
		return fmt.Errorf("no command")
	}

	cmd := exec.CommandContext(ctx, s.Command[0], s.Command[1:]...)
	cmd.Dir = s.Dir
	cmd.Stdout = orDiscard(s.Stdout)
	cmd.Stderr = orDiscard(s.Stderr)
	cmd.Env = os.Environ()
	for name, value := range s.Env {
		cmd.Env = append(cmd.Env, name+"="+value)
	}

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("running %s: %w", s.Command[0], err)
	}
	return nil
}

func orDiscard(w io.Writer) io.Writer {
	if w == nil {
		return io.Discard
	}
	return w
}
