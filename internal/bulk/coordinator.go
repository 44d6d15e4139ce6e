// Package bulk выполняет независимые мутации над набором идентификаторов.
package bulk

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/mmeshcher/loyalty-engine/internal/metrics"
	"github.com/mmeshcher/loyalty-engine/internal/model"
	"github.com/mmeshcher/loyalty-engine/internal/validation"
)

// DefaultFanout задаёт число одновременных мутаций по умолчанию.
const DefaultFanout = 8

// Op выполняет мутацию одного идентификатора.
type Op func(ctx context.Context, id string) error

// Result содержит итог bulk-мутации.
type Result struct {
	Succeeded []string
	Failed    model.PartialFailure
}

// Err возвращает PartialFailure, если хотя бы одна мутация не выполнена.
func (r Result) Err() error {
	return r.Failed.ErrOrNil()
}

// Coordinator запускает мутации параллельно без отката и без остановки на первой ошибке.
type Coordinator struct {
	limit   int
	logger  *zap.Logger
	metrics *metrics.Metrics
}

// NewCoordinator создаёт координатор. limit <= 0 означает DefaultFanout.
func NewCoordinator(limit int, logger *zap.Logger, m *metrics.Metrics) *Coordinator {
	if limit <= 0 {
		limit = DefaultFanout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Coordinator{limit: limit, logger: logger, metrics: m}
}

// Run применяет op к каждому идентификатору. Повторы схлопываются,
// некорректные идентификаторы сразу попадают в Failed. Succeeded сохраняет порядок ids.
func (c *Coordinator) Run(ctx context.Context, name string, ids []string, op Op) Result {
	ids = validation.NormalizeIDs(ids)
	errs := make([]error, len(ids))

	var g errgroup.Group
	g.SetLimit(c.limit)
	for i, id := range ids {
		if !validation.IsValidID(id) {
			errs[i] = fmt.Errorf("%w: invalid id %q", model.ErrInvalidArgument, id)
			continue
		}
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				errs[i] = err
				return nil
			}
			errs[i] = op(ctx, id)
			return nil
		})
	}
	_ = g.Wait()

	res := Result{Succeeded: make([]string, 0, len(ids)), Failed: model.PartialFailure{}}
	for i, id := range ids {
		if errs[i] != nil {
			res.Failed[id] = errs[i]
			c.logger.Warn("bulk operation failed",
				zap.String("operation", name),
				zap.String("id", id),
				zap.Error(errs[i]),
			)
			continue
		}
		res.Succeeded = append(res.Succeeded, id)
	}

	c.metrics.RecordBulk(name, len(res.Succeeded), len(res.Failed))
	return res
}
