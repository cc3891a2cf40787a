package jobs

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/medres/whatsapp-gateway/internal/repository"
)

// CleanupJob prunes archived messages beyond the retention window.
type CleanupJob struct {
	archiveRepo repository.MessageArchiveRepository
	retention   time.Duration
	interval    time.Duration
	done        chan struct{}
}

func NewCleanupJob(
	archiveRepo repository.MessageArchiveRepository,
	retention time.Duration,
	interval time.Duration,
) *CleanupJob {
	return &CleanupJob{
		archiveRepo: archiveRepo,
		retention:   retention,
		interval:    interval,
		done:        make(chan struct{}),
	}
}

func (j *CleanupJob) Start() {
	go j.run()
	log.Info().
		Dur("interval", j.interval).
		Dur("retention", j.retention).
		Msg("archive cleanup job started")
}

func (j *CleanupJob) Stop() {
	close(j.done)
	log.Info().Msg("archive cleanup job stopped")
}

func (j *CleanupJob) run() {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	j.cleanup()

	for {
		select {
		case <-j.done:
			return
		case <-ticker.C:
			j.cleanup()
		}
	}
}

func (j *CleanupJob) cleanup() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	cutoff := time.Now().Add(-j.retention)
	count, err := j.archiveRepo.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		log.Error().Err(err).Msg("failed to prune archived messages")
	} else if count > 0 {
		log.Info().Int64("count", count).Msg("pruned archived messages")
	}
}
