package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"kiln/internal/fileset"
	"kiln/internal/pack"
	"kiln/internal/task"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"
)

// taskFlags declares a shell task on the command line:
//
//	kiln run --name compile --in src --out bin=build/app -- go build -o build/app ./src
type taskFlags struct {
	name    string
	inputs  []string
	outputs []string
	env     []string
	noCache bool
}

func (f *taskFlags) register(cmd *cobra.Command) {
	flags := cmd.Flags()
	flags.StringVarP(&f.name, "name", "n", "", "task name (defaults to the first word of the command)")
	flags.StringArrayVarP(&f.inputs, "in", "i", nil, "input file or directory (repeatable)")
	flags.StringArrayVarP(&f.outputs, "out", "o", nil, "output as name=path, or a bare path named after its base (repeatable)")
	flags.StringArrayVarP(&f.env, "env", "e", nil, "extra environment variable KEY=VALUE (repeatable)")
	flags.BoolVar(&f.noCache, "no-cache", false, "never read or write the result store for this task")
}

// build resolves paths against dir and returns the task for command.
func (f *taskFlags) build(fs afero.Fs, dir string, command []string) (*task.Shell, error) {
	if len(command) == 0 {
		return nil, fmt.Errorf("no command given; put it after --")
	}

	name := f.name
	if name == "" {
		name = filepath.Base(command[0])
	}

	inputs := make([]string, len(f.inputs))
	for i, in := range f.inputs {
		inputs[i] = absolute(dir, in)
	}
	in, err := fileset.NewRoots(fs, inputs...)
	if err != nil {
		return nil, err
	}

	out, err := parseOutputs(dir, f.outputs)
	if err != nil {
		return nil, err
	}

	env := make(map[string]string, len(f.env))
	for _, kv := range f.env {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid --env %q, expected KEY=VALUE", kv)
		}
		env[k] = v
	}

	return &task.Shell{
		TaskName: name,
		Dir:      dir,
		Command:  command,
		Env:      env,
		In:       in,
		Out:      out,
		NoCache:  f.noCache,
		Stdout:   os.Stdout,
		Stderr:   os.Stderr,
	}, nil
}

// inputPaths returns the absolute input roots, for watching.
func (f *taskFlags) inputPaths(dir string) []string {
	paths := make([]string, len(f.inputs))
	for i, in := range f.inputs {
		paths[i] = absolute(dir, in)
	}
	return paths
}

func parseOutputs(dir string, decls []string) ([]pack.Root, error) {
	roots := make([]pack.Root, 0, len(decls))
	for _, decl := range decls {
		name, path, ok := strings.Cut(decl, "=")
		if !ok {
			path = decl
			name = filepath.Base(filepath.Clean(decl))
		}
		if name == "" || path == "" {
			return nil, fmt.Errorf("invalid --out %q, expected name=path", decl)
		}
		roots = append(roots, pack.Root{Name: name, Path: absolute(dir, path)})
	}
	return roots, nil
}

func absolute(dir, path string) string {
	if filepath.IsAbs(path) {
		return filepath.Clean(path)
	}
	return filepath.Join(dir, path)
}
