package execution

import (
	"context"
	"fmt"
	"maps"
	"time"

	"kiln/internal/fileset"
	"kiln/internal/history"
	"kiln/internal/logging"
	"kiln/internal/snapshot"
	"kiln/internal/snapshotter"

	"github.com/spf13/afero"
	"go.uber.org/zap"
)

// SkipUpToDate skips work whose inputs, outputs and action are unchanged
// since its last successful execution, and records history after every run.
type SkipUpToDate struct {
	history   *history.Store
	snapshots *snapshotter.Snapshotter
	fs        afero.Fs
	next      Executer
	logger    *zap.Logger
	now       func() time.Time
}

func NewSkipUpToDate(h *history.Store, snapshots *snapshotter.Snapshotter, fs afero.Fs, next Executer, logger *zap.Logger) *SkipUpToDate {
	logger = logging.OrNop(logger)
	return &SkipUpToDate{
		history:   h,
		snapshots: snapshots,
		fs:        fs,
		next:      next,
		logger:    logger,
		now:       time.Now,
	}
}

// State is the current file system state of a unit of work.
type State struct {
	Inputs  *snapshot.Snapshot
	Outputs *snapshot.Snapshot
}

// Capture snapshots work's inputs and declared outputs.
func (s *SkipUpToDate) Capture(work Work) (State, error) {
	inputs, err := s.snapshots.Capture(work.Inputs())
	if err != nil {
		return State{}, err
	}
	outputs, err := s.captureOutputs(work)
	if err != nil {
		return State{}, err
	}
	return State{Inputs: inputs, Outputs: outputs}, nil
}

func (s *SkipUpToDate) captureOutputs(work Work) (*snapshot.Snapshot, error) {
	roots, err := fileset.NewRoots(s.fs, outputPaths(work)...)
	if err != nil {
		return nil, err
	}
	return s.snapshots.Capture(roots)
}

// Reason explains why work is out of date, or returns "" when it is up to
// date. It stops at the first difference found.
func (s *SkipUpToDate) Reason(work Work, prev *history.Execution, found bool, current State) string {
	if !found {
		return "no history"
	}
	if !prev.Succeeded {
		return "previous execution failed"
	}
	if a := action(work); a != prev.Action {
		return "action changed"
	}
	if !maps.Equal(outputRoots(work), prev.OutputRoots) {
		return "declared outputs changed"
	}
	if c, changed := snapshot.HasChanges(current.Inputs, prev.Inputs); changed {
		return fmt.Sprintf("input %s", c)
	}

	// only outputs this work recorded under its declared roots matter
	declared := outputPaths(work)
	recorded := prev.Outputs.Filter(func(path string, _ snapshot.Entry) bool {
		return snapshot.Under(path, declared...)
	})
	if c, changed := snapshot.HasChanges(current.Outputs.Restrict(recorded), recorded); changed {
		return fmt.Sprintf("output %s", c)
	}
	return ""
}

// Status reports the first reason work is out of date, or "".
func (s *SkipUpToDate) Status(work Work) (string, error) {
	prev, found, err := s.history.Load(work.Name())
	if err != nil {
		return "", err
	}
	current, err := s.Capture(work)
	if err != nil {
		return "", err
	}
	return s.Reason(work, prev, found, current), nil
}

func (s *SkipUpToDate) Execute(ctx context.Context, work Work) Result {
	log := logging.ForTask(s.logger, work.Name())

	prev, found, err := s.history.Load(work.Name())
	if err != nil {
		log.Warn("ignoring unreadable history", zap.Error(err))
		prev, found = nil, false
	}

	before, err := s.Capture(work)
	if err != nil {
		return Result{Outcome: ExecutionFailed, Err: err}
	}

	reason := s.Reason(work, prev, found, before)
	if reason == "" {
		log.Info("up to date")
		return Result{Outcome: UpToDate}
	}
	log.Info("out of date", zap.String("reason", reason))

	res := s.next.Execute(ctx, work)

	after, err := s.captureOutputs(work)
	if err != nil {
		// without an output snapshot nothing trustworthy can be recorded
		log.Warn("could not capture outputs, forgetting history", zap.Error(err))
		res.Diagnostics = append(res.Diagnostics, err)
		if err := s.history.Delete(work.Name()); err != nil {
			log.Warn("could not forget history", zap.Error(err))
		}
		return res
	}

	var recorded *snapshot.Snapshot
	if found {
		recorded = prev.Outputs
	}
	exec := &history.Execution{
		Task:        work.Name(),
		Action:      action(work),
		OutputRoots: outputRoots(work),
		Inputs:      before.Inputs,
		Outputs:     trackOutputs(recorded, before.Outputs, after, outputPaths(work), res.Outcome == SatisfiedFromCache),
		Succeeded:   res.Succeeded(),
		Time:        s.now(),
	}
	if res.Key != nil {
		exec.CacheKey = res.Key.String()
	}
	if err := s.history.Save(exec); err != nil {
		log.Warn("could not record history", zap.Error(err))
		res.Diagnostics = append(res.Diagnostics, err)
	}
	return res
}

// trackOutputs rolls the recorded outputs forward after a run. Outputs no
// longer declared are kept. Under the declared roots, a replayed run owns
// everything it restored; a real execution owns what it added or changed,
// loses what it deleted, and keeps the provenance of what it left alone.
func trackOutputs(recorded, before, after *snapshot.Snapshot, declared []string, replayed bool) *snapshot.Snapshot {
	if recorded == nil {
		recorded = snapshot.Empty
	}
	undeclared := recorded.Filter(func(path string, _ snapshot.Entry) bool {
		return !snapshot.Under(path, declared...)
	})
	if replayed {
		return undeclared.UpdateFrom(after)
	}
	produced := after.ApplyChangesSince(before, recorded.Restrict(before))
	return undeclared.UpdateFrom(produced)
}

func outputPaths(work Work) []string {
	outputs := work.Outputs()
	paths := make([]string, 0, len(outputs))
	for _, o := range outputs {
		paths = append(paths, o.Path)
	}
	return paths
}

func outputRoots(work Work) map[string]string {
	roots := make(map[string]string, len(work.Outputs()))
	for _, o := range work.Outputs() {
		roots[o.Name] = o.Path
	}
	return roots
}

func action(work Work) string {
	if a, ok := work.(Actioned); ok {
		return a.Action()
	}
	return ""
}
