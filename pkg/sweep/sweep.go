package sweep

import (
	"context"
	"time"

	"github.com/shaneisley/sigmashift/pkg/schedulers"
	"github.com/shaneisley/sigmashift/pkg/shift"
	"golang.org/x/sync/errgroup"
)

// DefaultLimit bounds concurrent searches when no limit is given
const DefaultLimit = 4

// Entry is the outcome of one scheduler's search. Exactly one of Result
// and Err is set.
type Entry struct {
	Scheduler string
	Result    *shift.Result
	Err       error
	Elapsed   time.Duration
}

// Run searches the same request once per scheduler name. Searches never
// modify the model, so they run concurrently against a shared source.
// Entries come back in the order of names; an empty names list sweeps every
// shift-sensitive scheduler. A failing scheduler is recorded in its Entry
// and does not stop the others. Once ctx is cancelled no new search starts,
// and the remaining entries carry ctx.Err().
func Run(ctx context.Context, base shift.Request, names []string, source shift.ParamSource,
	evaluator shift.Evaluator, limit int, opts ...shift.Option) ([]Entry, error) {
	if len(names) == 0 {
		names = schedulers.ShiftSensitiveNames()
	}
	if limit <= 0 {
		limit = DefaultLimit
	}

	searcher := shift.NewSearcher(source, evaluator, opts...)
	entries := make([]Entry, len(names))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)

	for i, name := range names {
		i, name := i, name
		entries[i].Scheduler = name

		if err := gctx.Err(); err != nil {
			entries[i].Err = err
			continue
		}

		g.Go(func() error {
			select {
			case <-gctx.Done():
				entries[i].Err = gctx.Err()
				return nil
			default:
			}

			req := base
			req.Scheduler = name

			start := time.Now()
			result, err := searcher.Search(req)
			entries[i].Elapsed = time.Since(start)
			entries[i].Result = result
			entries[i].Err = err
			return nil
		})
	}

	_ = g.Wait()
	return entries, ctx.Err()
}

// Accepted returns the entries whose search produced a result
func Accepted(entries []Entry) []Entry {
	var out []Entry
	for _, e := range entries {
		if e.Err == nil && e.Result != nil {
			out = append(out, e)
		}
	}
	return out
}
