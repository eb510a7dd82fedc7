package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Janitor periodically aborts multipart sessions that were left behind by
// crashed processes.
type Janitor struct {
	store      Store
	lister     UploadLister
	prefixes   []string
	staleAfter time.Duration
	now        func() time.Time
	cron       *cron.Cron
}

func NewJanitor(s Store, l UploadLister, staleAfter time.Duration, prefixes ...string) *Janitor {
	if staleAfter <= 0 {
		staleAfter = 24 * time.Hour
	}

	return &Janitor{
		store:      s,
		lister:     l,
		prefixes:   prefixes,
		staleAfter: staleAfter,
		now:        time.Now,
	}
}

// Sweep aborts every pending upload older than the stale threshold and
// returns how many were aborted.
func (j *Janitor) Sweep(ctx context.Context) (int, error) {
	cutoff := j.now().Add(-j.staleAfter)
	aborted := 0

	for _, prefix := range j.prefixes {
		pending, err := j.lister.ListMultipartUploads(ctx, prefix+"/")
		if err != nil {
			return aborted, fmt.Errorf("failed to list pending uploads, %w", err)
		}

		for _, p := range pending {
			if p.Initiated.After(cutoff) {
				continue
			}

			if err := j.store.AbortMultipartUpload(ctx, p.Key, p.UploadID); err != nil {
				zap.L().Error("Failed to abort stale upload", zap.String("key", p.Key), zap.Error(err))
				continue
			}

			aborted++
			zap.L().Debug("Aborted stale upload", zap.String("key", p.Key), zap.Time("initiated", p.Initiated))
		}
	}

	return aborted, nil
}

// Start runs Sweep on the given cron schedule.
func (j *Janitor) Start(schedule string) error {
	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DefaultLogger)))

	_, err := c.AddFunc(schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()

		n, err := j.Sweep(ctx)
		if err != nil {
			zap.L().Error("Stale upload sweep failed", zap.Error(err))
			return
		}

		if n > 0 {
			zap.L().Info("Stale upload sweep finished", zap.Int("aborted", n))
		}
	})
	if err != nil {
		return fmt.Errorf("invalid janitor schedule %q, %w", schedule, err)
	}

	j.cron = c
	c.Start()

	zap.L().Debug("Upload janitor attached", zap.String("schedule", schedule), zap.Duration("stale_after", j.staleAfter))
	return nil
}

func (j *Janitor) Stop() {
	if j.cron != nil {
		<-j.cron.Stop().Done()
	}
}
