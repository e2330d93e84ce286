package cron

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/angelmondragon/storyline-backend/pkg/logger"
)

const (
	defaultOutboxRetention   = 30 * 24 * time.Hour
	defaultDeadLetterAttempt = 10
	defaultPruneBatch        = 500
	maxPruneBatchesPerRun    = 50
)

type outboxPruner interface {
	PruneBatch(ctx context.Context, cutoff time.Time, deadLetterAttempts, limit int) (int64, error)
}

type OutboxRetentionJobParams struct {
	Logger             *logger.Logger
	Repository         outboxPruner
	Retention          time.Duration
	DeadLetterAttempts int
	BatchSize          int
}

// outboxRetentionJob deletes relayed and dead-lettered outbox rows older than
// the retention window, one bounded batch at a time.
type outboxRetentionJob struct {
	logg       *logger.Logger
	repo       outboxPruner
	retention  time.Duration
	deadLetter int
	batch      int
	now        func() time.Time
}

func NewOutboxRetentionJob(params OutboxRetentionJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, errors.New("logger required")
	}
	if params.Repository == nil {
		return nil, errors.New("outbox repository required")
	}
	j := &outboxRetentionJob{
		logg:       params.Logger,
		repo:       params.Repository,
		retention:  params.Retention,
		deadLetter: params.DeadLetterAttempts,
		batch:      params.BatchSize,
		now:        time.Now,
	}
	if j.retention <= 0 {
		j.retention = defaultOutboxRetention
	}
	if j.deadLetter <= 0 {
		j.deadLetter = defaultDeadLetterAttempt
	}
	if j.batch <= 0 {
		j.batch = defaultPruneBatch
	}
	return j, nil
}

func (j *outboxRetentionJob) Name() string { return "outbox-retention" }

func (j *outboxRetentionJob) Run(ctx context.Context) error {
	cutoff := j.now().UTC().Add(-j.retention)
	var total int64
	for range maxPruneBatchesPerRun {
		n, err := j.repo.PruneBatch(ctx, cutoff, j.deadLetter, j.batch)
		if err != nil {
			return fmt.Errorf("prune outbox before %s: %w", cutoff.Format(time.RFC3339), err)
		}
		total += n
		if n < int64(j.batch) {
			break
		}
	}
	if total > 0 {
		j.logg.Info(j.logg.WithFields(ctx, map[string]any{
			"cutoff":       cutoff,
			"rows_deleted": total,
		}), "pruned outbox rows")
	}
	return nil
}
