package scheduler

import (
	"context"
	"time"

	"github.com/wakala/hedger/internal/recommendation"
)

// Regenerator is the batch side of the recommendation generator.
type Regenerator interface {
	Regenerate(ctx context.Context, opts recommendation.RegenerateOptions) (*recommendation.RegenerateResult, error)
}

// Expirer closes recommendations past their validity.
type Expirer interface {
	ExpireStale(ctx context.Context) (int, error)
}

// RegenerateJob re-evaluates every active exposure, honouring policies that
// opted out of automatic generation.
func RegenerateJob(g Regenerator, interval time.Duration) Job {
	return Job{
		Name:     "regenerate-recommendations",
		Interval: interval,
		Run: func(ctx context.Context) error {
			_, err := g.Regenerate(ctx, recommendation.RegenerateOptions{Scheduled: true})
			return err
		},
	}
}

func ExpireJob(e Expirer, interval time.Duration) Job {
	return Job{
		Name:       "expire-recommendations",
		Interval:   interval,
		RunAtStart: true,
		Run: func(ctx context.Context) error {
			_, err := e.ExpireStale(ctx)
			return err
		},
	}
}
