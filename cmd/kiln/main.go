package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"kiln/internal/config"
	"kiln/internal/execution"
	"kiln/internal/fileset"
	"kiln/internal/snapshot"
	"kiln/internal/storage"
	"kiln/internal/task"
	"kiln/internal/watch"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var verbose bool

var rootCmd = &cobra.Command{
	Use:   "kiln",
	Short: "Kiln skips work whose inputs have not changed",
	Long: `Kiln runs commands as tasks with declared inputs and outputs. A task whose
inputs and outputs are unchanged since it last ran is skipped, and a task whose
inputs match an earlier run has its outputs restored from the result store.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log at debug level")

	var initCmd = &cobra.Command{
		Use:   "init",
		Short: "Create kiln state and a default config in the current directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, err := os.Getwd()
			if err != nil {
				return fmt.Errorf("getting current directory: %w", err)
			}
			path := config.Path(dir)
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("%s already exists", path)
			}
			if err := config.Default().Save(path); err != nil {
				return fmt.Errorf("writing config: %w", err)
			}
			fmt.Println("Initialized kiln workspace in", dir)
			return nil
		},
	}

	var run taskFlags
	var runCmd = &cobra.Command{
		Use:   "run [flags] -- COMMAND [ARGS...]",
		Short: "Run a command as a task, skipping or restoring it when possible",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEngine()
			if err != nil {
				return err
			}
			defer e.Close()

			work, err := run.build(e.fs, workDir(e), args)
			if err != nil {
				return err
			}
			return runTask(cmd.Context(), e, work)
		},
	}
	run.register(runCmd)

	var status taskFlags
	var statusCmd = &cobra.Command{
		Use:   "status [flags] -- COMMAND [ARGS...]",
		Short: "Explain whether a task would run",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEngine()
			if err != nil {
				return err
			}
			defer e.Close()

			work, err := status.build(e.fs, workDir(e), args)
			if err != nil {
				return err
			}
			reason, err := e.runner.Status(work)
			if err != nil {
				return err
			}
			if reason == "" {
				color.New(color.FgGreen).Printf("%s: up-to-date\n", work.Name())
				return nil
			}
			color.New(color.FgYellow).Printf("%s: out of date, %s\n", work.Name(), reason)
			return nil
		},
	}
	status.register(statusCmd)

	var key taskFlags
	var keyCmd = &cobra.Command{
		Use:   "key [flags] -- COMMAND [ARGS...]",
		Short: "Print the cache key of a task",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEngine()
			if err != nil {
				return err
			}
			defer e.Close()

			work, err := key.build(e.fs, workDir(e), args)
			if err != nil {
				return err
			}
			k, err := e.keys.CacheKey(cmd.Context(), work)
			if err != nil {
				return err
			}
			fmt.Println(k)
			return nil
		},
	}
	key.register(keyCmd)

	var watchFlags taskFlags
	var debounce time.Duration
	var watchCmd = &cobra.Command{
		Use:   "watch [flags] -- COMMAND [ARGS...]",
		Short: "Run a task, then run it again whenever its inputs change",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEngine()
			if err != nil {
				return err
			}
			defer e.Close()

			dir := workDir(e)
			work, err := watchFlags.build(e.fs, dir, args)
			if err != nil {
				return err
			}
			paths := watchFlags.inputPaths(dir)
			if len(paths) == 0 {
				return fmt.Errorf("watch needs at least one --in")
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			w, err := watch.New(paths, debounce, e.logger.Named("watch"))
			if err != nil {
				return err
			}
			defer w.Close()

			if err := runTask(ctx, e, work); err != nil {
				printError(err)
			}
			return w.Run(ctx, func(changed []string) {
				lease := e.hashes.Acquire(true)
				lease.Invalidate(changed...)
				lease.Release()

				e.logger.Debug("inputs changed", zap.Strings("paths", changed))
				if err := runTask(ctx, e, work); err != nil {
					printError(err)
				}
			})
		},
	}
	watchFlags.register(watchCmd)
	watchCmd.Flags().DurationVar(&debounce, "debounce", watch.DefaultDebounce, "quiet period before re-running")

	var savePath, sincePath string
	var snapshotCmd = &cobra.Command{
		Use:   "snapshot PATH...",
		Short: "Print the snapshot of files and directories",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEngine()
			if err != nil {
				return err
			}
			defer e.Close()

			dir := workDir(e)
			paths := make([]string, len(args))
			for i, arg := range args {
				paths[i] = absolute(dir, arg)
			}
			roots, err := fileset.NewRoots(e.fs, paths...)
			if err != nil {
				return err
			}
			current, err := e.snapshots.Capture(roots)
			if err != nil {
				return err
			}

			if sincePath != "" {
				if err := printChangesSince(current, sincePath); err != nil {
					return err
				}
			} else {
				current.Range(func(path string, entry snapshot.Entry) bool {
					fmt.Printf("%-9s %s\n", entry.Kind(), path)
					if entry.IsFile() {
						fmt.Printf("          %s\n", entry)
					}
					return true
				})
			}

			if savePath != "" {
				data, err := snapshot.Encode(current)
				if err != nil {
					return err
				}
				if err := os.WriteFile(savePath, data, 0644); err != nil {
					return fmt.Errorf("saving snapshot: %w", err)
				}
			}
			return nil
		},
	}
	snapshotCmd.Flags().StringVar(&savePath, "save", "", "write the snapshot to a file")
	snapshotCmd.Flags().StringVar(&sincePath, "since", "", "print changes since a saved snapshot instead of entries")

	var cacheCmd = &cobra.Command{
		Use:   "cache",
		Short: "Inspect the result store",
	}

	var cacheHasCmd = &cobra.Command{
		Use:   "has KEY",
		Short: "Report whether the result store holds an entry for KEY",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			k, err := storage.ParseKey(args[0])
			if err != nil {
				return err
			}
			e, err := openEngine()
			if err != nil {
				return err
			}
			defer e.Close()
			if e.store == nil {
				return fmt.Errorf("the result store is disabled")
			}

			ok, err := e.store.Has(cmd.Context(), k)
			if err != nil {
				return err
			}
			if ok {
				color.New(color.FgGreen).Println("present")
			} else {
				color.New(color.FgYellow).Println("absent")
			}
			return nil
		},
	}

	var cacheDescribeCmd = &cobra.Command{
		Use:   "describe",
		Short: "Describe the configured result store",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEngine()
			if err != nil {
				return err
			}
			defer e.Close()
			if e.store == nil {
				fmt.Println("disabled")
				return nil
			}
			fmt.Println(e.store.Describe())
			return nil
		},
	}
	cacheCmd.AddCommand(cacheHasCmd, cacheDescribeCmd)

	var historyCmd = &cobra.Command{
		Use:   "history",
		Short: "Inspect recorded task executions",
	}

	var historyListCmd = &cobra.Command{
		Use:   "list",
		Short: "List the last execution of every task",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEngine()
			if err != nil {
				return err
			}
			defer e.Close()

			tasks, err := e.history.Tasks()
			if err != nil {
				return err
			}
			green := color.New(color.FgGreen).SprintFunc()
			red := color.New(color.FgRed).SprintFunc()
			for _, name := range tasks {
				exec, ok, err := e.history.Load(name)
				if err != nil {
					return err
				}
				if !ok {
					continue
				}
				state := green("ok")
				if !exec.Succeeded {
					state = red("failed")
				}
				fmt.Printf("%-20s %-6s %s  %d inputs, %d outputs\n",
					name, state, exec.Time.Format(time.RFC3339), exec.Inputs.Len(), exec.Outputs.Len())
			}
			return nil
		},
	}

	var historyForgetCmd = &cobra.Command{
		Use:   "forget TASK",
		Short: "Drop the recorded execution of a task so it runs again",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEngine()
			if err != nil {
				return err
			}
			defer e.Close()
			return e.history.Delete(args[0])
		},
	}
	historyCmd.AddCommand(historyListCmd, historyForgetCmd)

	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(keyCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(snapshotCmd)
	rootCmd.AddCommand(cacheCmd)
	rootCmd.AddCommand(historyCmd)
}

// workDir is where relative task paths are resolved: the working directory,
// or the workspace root if that cannot be read.
func workDir(e *engine) string {
	if dir, err := os.Getwd(); err == nil {
		return dir
	}
	return e.root
}

func runTask(ctx context.Context, e *engine, work *task.Shell) error {
	res := e.runner.Execute(ctx, work)

	yellow := color.New(color.FgYellow)
	for _, diag := range res.Diagnostics {
		yellow.Printf("warning: %v\n", diag)
	}

	var c *color.Color
	switch res.Outcome {
	case execution.UpToDate, execution.SatisfiedFromCache:
		c = color.New(color.FgCyan)
	case execution.ExecutedAndCached, execution.ExecutedNotCached:
		c = color.New(color.FgGreen)
	default:
		c = color.New(color.FgRed)
	}
	c.Printf("%s: %s\n", work.Name(), res.Outcome)

	if verbose {
		stats := e.hashes.Stats()
		fmt.Printf("hashed %d files, %d memo hits\n", stats.Hashed, stats.Hits)
		if res.Key != nil {
			fmt.Println("key", res.Key)
		}
	}
	return res.Err
}

func printChangesSince(current *snapshot.Snapshot, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading snapshot: %w", err)
	}
	previous, err := snapshot.Decode(data)
	if err != nil {
		return err
	}

	added := color.New(color.FgGreen)
	removed := color.New(color.FgRed)
	changed := color.New(color.FgYellow)

	it := current.IterateChangesSince(previous)
	for {
		change, ok := it.Next()
		if !ok {
			return nil
		}
		switch change.Type {
		case snapshot.Added:
			added.Println(change)
		case snapshot.Removed:
			removed.Println(change)
		default:
			changed.Println(change)
		}
	}
}

func printError(err error) {
	color.New(color.FgRed).Fprintln(os.Stderr, "error:", err)
}

func main() {
	ctx := context.Background()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Println(filepath.Base(os.Args[0])+":", err)
		os.Exit(1)
	}
}
