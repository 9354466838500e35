package execution

import (
	"context"
	"fmt"

	"kiln/internal/errors"
	"kiln/internal/logging"
	"kiln/internal/pack"
	"kiln/internal/storage"

	"go.uber.org/zap"
)

// SkipCached replays a unit of work's outputs from the result store when an
// entry exists for its cache key, and populates the store after a successful
// execution. Caching problems never fail work that would otherwise succeed;
// they are logged and returned as diagnostics.
type SkipCached struct {
	keys   KeyProvider
	store  storage.Store
	packer *pack.Packer
	next   Executer
	logger *zap.Logger
}

func NewSkipCached(keys KeyProvider, store storage.Store, packer *pack.Packer, next Executer, logger *zap.Logger) *SkipCached {
	logger = logging.OrNop(logger)
	return &SkipCached{
		keys:   keys,
		store:  store,
		packer: packer,
		next:   next,
		logger: logger,
	}
}

func (s *SkipCached) Execute(ctx context.Context, work Work) Result {
	log := logging.ForTask(s.logger, work.Name())

	enabled, err := work.CacheEnabled()
	if err != nil {
		return Result{
			Outcome: ExecutionFailed,
			Err:     errors.ExecutionFault(fmt.Sprintf("could not evaluate whether caching is enabled for %s", work.Name()), err),
		}
	}
	if !work.CacheAllowed() || !enabled {
		log.Debug("caching disabled")
		return s.next.Execute(ctx, work)
	}

	var diags []error
	diagnose := func(t errors.ErrorType, msg string, err error) {
		d := classify(t, msg, err)
		log.Info(msg, zap.Error(err))
		diags = append(diags, d)
	}

	key, err := s.keys.CacheKey(ctx, work)
	if err != nil {
		diagnose(errors.ErrorTypeKeyUnavailable, "could not build cache key", err)
		res := s.next.Execute(ctx, work)
		res.Diagnostics = append(diags, res.Diagnostics...)
		return res
	}
	log = log.With(zap.Stringer("key", key))

	entry, found, err := s.store.Get(ctx, key)
	switch {
	case err != nil:
		diagnose(errors.ErrorTypeStoreIO, "could not load cached results", err)
	case found:
		if _, err := s.packer.Unpack(entry, work.Outputs()); err != nil {
			diagnose(errors.ErrorTypePackFormat, "could not unpack cached results", err)
		} else {
			log.Info("satisfied from cache")
			return Result{Outcome: SatisfiedFromCache, Key: &key, Diagnostics: diags}
		}
	}

	res := s.next.Execute(ctx, work)
	res.Key = &key
	if res.Succeeded() {
		res.Outcome = s.populate(ctx, log, key, work, diagnose)
	}
	res.Diagnostics = append(diags, res.Diagnostics...)
	return res
}

// populate packs the outputs of a successful execution into the store.
func (s *SkipCached) populate(ctx context.Context, log *zap.Logger, key storage.Key, work Work, diagnose func(errors.ErrorType, string, error)) Outcome {
	blob, stats, err := s.packer.Pack(work.Outputs())
	if err != nil {
		diagnose(errors.ErrorTypePackFormat, "could not pack results", err)
		return ExecutedNotCached
	}
	if err := s.store.Put(ctx, key, blob); err != nil {
		diagnose(errors.ErrorTypeStoreIO, "could not store results", err)
		return ExecutedNotCached
	}

	log.Debug("stored results",
		zap.Int("files", stats.Files),
		zap.Int64("bytes", stats.Bytes),
		zap.Int("blob_bytes", len(blob)))
	return ExecutedAndCached
}

// classify keeps an error already in the taxonomy and files anything else
// under t.
func classify(t errors.ErrorType, msg string, err error) error {
	var kerr *errors.Error
	if errors.As(err, &kerr) && kerr.Recoverable() {
		return err
	}
	return &errors.Error{Type: t, Message: msg, Err: err}
}
