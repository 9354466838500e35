package execution

import (
	"context"
	"fmt"

	"kiln/internal/errors"
	"kiln/internal/logging"

	"go.uber.org/zap"
)

// Direct runs the work itself.
type Direct struct {
	logger *zap.Logger
}

func NewDirect(logger *zap.Logger) *Direct {
	logger = logging.OrNop(logger)
	return &Direct{logger: logger}
}

func (d *Direct) Execute(ctx context.Context, work Work) Result {
	logging.ForTask(d.logger, work.Name()).Debug("executing")

	if err := work.Execute(ctx); err != nil {
		return Result{
			Outcome: ExecutionFailed,
			Err:     errors.ExecutionFault(fmt.Sprintf("executing %s", work.Name()), err),
		}
	}
	return Result{Outcome: ExecutedNotCached}
}
