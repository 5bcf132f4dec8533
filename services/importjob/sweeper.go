package importjob

import (
	"context"
	"time"

	"salesbi-dataplane/pkg/config"

	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Sweeper is the background retention loop. Each tick it permanently removes
// every trashed job whose grace period has elapsed, across all tenants. Tick
// errors are logged and the loop continues; double-processing an id another
// trigger already purged is a no-op.
type Sweeper struct {
	store    *Store
	interval time.Duration

	cancel context.CancelFunc
	done   chan struct{}
}

func NewSweeper(store *Store, cfg *config.Config) *Sweeper {
	return &Sweeper{
		store:    store,
		interval: cfg.Retention.SweepInterval,
	}
}

// StartSweeper wires the sweeper loop into the fx lifecycle. Shutdown stops
// new ticks and waits for an in-flight sweep to finish.
func StartSweeper(lc fx.Lifecycle, s *Sweeper) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			runCtx, cancel := context.WithCancel(context.Background())
			s.cancel = cancel
			s.done = make(chan struct{})
			go s.run(runCtx)
			return nil
		},
		OnStop: func(ctx context.Context) error {
			s.cancel()
			select {
			case <-s.done:
			case <-ctx.Done():
			}
			return nil
		},
	})
}

func (s *Sweeper) run(ctx context.Context) {
	defer close(s.done)

	zap.L().Info("[Sweeper] started retention sweeper", zap.Duration("interval", s.interval))

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.tick(ctx)
		case <-ctx.Done():
			zap.L().Info("[Sweeper] stopped")
			return
		}
	}
}

func (s *Sweeper) tick(ctx context.Context) {
	start := time.Now()

	purged, err := s.store.SweepExpired(ctx, "", start)
	if err != nil {
		zap.L().Error("[Sweeper] sweep tick failed", zap.Error(err))
		return
	}

	if purged > 0 {
		zap.L().Info("[Sweeper] purged expired jobs",
			zap.Int("purged", purged),
			zap.Duration("duration", time.Since(start)),
		)
	}
}
