// Package execution runs units of work, skipping them when they are up to
// date or when an equivalent result can be replayed from the result store.
package execution

import (
	"context"
	"fmt"

	"kiln/internal/fileset"
	"kiln/internal/pack"
	"kiln/internal/storage"
)

// Work is a unit of work with declared inputs and named outputs.
type Work interface {
	Name() string
	// CacheAllowed reports whether the work may ever be cached.
	CacheAllowed() bool
	// CacheEnabled reports whether caching applies to this run of the work.
	CacheEnabled() (bool, error)
	Inputs() fileset.FileSet
	Outputs() []pack.Root
	Execute(ctx context.Context) error
}

// Actioned is implemented by work whose definition, such as a command line,
// can change between runs without any input file changing.
type Actioned interface {
	Action() string
}

// KeyProvider derives the cache key for a unit of work. It fails with a
// KeyUnavailable error when the work cannot be fingerprinted.
type KeyProvider interface {
	CacheKey(ctx context.Context, work Work) (storage.Key, error)
}

// Executer runs a unit of work and reports how it was satisfied.
type Executer interface {
	Execute(ctx context.Context, work Work) Result
}

type Outcome int

const (
	ExecutionFailed Outcome = iota
	SatisfiedFromCache
	ExecutedAndCached
	ExecutedNotCached
	UpToDate
)

func (o Outcome) String() string {
	switch o {
	case ExecutionFailed:
		return "execution-failed"
	case SatisfiedFromCache:
		return "satisfied-from-cache"
	case ExecutedAndCached:
		return "executed-and-cached"
	case ExecutedNotCached:
		return "executed-not-cached"
	case UpToDate:
		return "up-to-date"
	}
	return fmt.Sprintf("outcome(%d)", int(o))
}

// Result is the terminal outcome of running a unit of work. Diagnostics
// collects caching problems that were recovered from; Err is only set when
// the work itself failed.
type Result struct {
	Outcome     Outcome
	Key         *storage.Key
	Diagnostics []error
	Err         error
}

func (r Result) Succeeded() bool {
	return r.Outcome != ExecutionFailed
}

// Executed reports whether the work actually ran.
func (r Result) Executed() bool {
	switch r.Outcome {
	case ExecutedAndCached, ExecutedNotCached, ExecutionFailed:
		return true
	}
	return false
}
