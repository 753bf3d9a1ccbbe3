package jobs

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/kidflix/watch-server-go/internal/repository"
)

// RetentionJob prunes daily budget rows past the retention window. Watch
// sessions are never touched: they are retained for history, and a session
// that never received a terminal call simply stays active.
type RetentionJob struct {
	budgetRepo repository.DailyBudgetRepository
	retention  time.Duration
	interval   time.Duration
	done       chan struct{}
}

func NewRetentionJob(
	budgetRepo repository.DailyBudgetRepository,
	retention time.Duration,
	interval time.Duration,
) *RetentionJob {
	return &RetentionJob{
		budgetRepo: budgetRepo,
		retention:  retention,
		interval:   interval,
		done:       make(chan struct{}),
	}
}

func (j *RetentionJob) Start() {
	go j.run()
	log.Info().Dur("interval", j.interval).Msg("retention job started")
}

func (j *RetentionJob) Stop() {
	close(j.done)
	log.Info().Msg("retention job stopped")
}

func (j *RetentionJob) run() {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	j.prune()

	for {
		select {
		case <-j.done:
			return
		case <-ticker.C:
			j.prune()
		}
	}
}

func (j *RetentionJob) prune() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	cutoff := time.Now().Add(-j.retention)
	count, err := j.budgetRepo.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		log.Error().Err(err).Msg("failed to prune daily budgets")
	} else if count > 0 {
		log.Info().Int64("count", count).Msg("pruned daily budgets")
	}
}
