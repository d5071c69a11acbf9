// Package scheduler runs the periodic maintenance sweeps: cache cleanup
// (expired entries, then the disk LRU budget) and the memory archival pass.
// Jobs are cron-scheduled and bounded by a per-job timeout so a stuck sweep
// never piles up behind the next tick.
package scheduler

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/robfig/cron/v3"

	"aide/internal/shared/logging"
)

const defaultJobTimeout = 10 * time.Minute

// CacheSweeper is the cleanup surface of a cache store.
type CacheSweeper interface {
	CleanupExpired() int
	CleanupLRU() int
}

// ArchiveRunner performs one memory archival sweep.
type ArchiveRunner interface {
	Run(ctx context.Context) error
}

// Options wires the sweeps onto their cron specs. A job with an empty spec
// or no target is simply not registered.
type Options struct {
	CacheCleanupSpec string
	ArchiveSpec      string

	// Caches maps facade name to its store, for log attribution.
	Caches   map[string]CacheSweeper
	Archiver ArchiveRunner

	JobTimeout time.Duration
	Logger     logging.Logger
}

// Scheduler owns the cron loop. Construct with New, then Start; Stop waits
// for in-flight jobs.
type Scheduler struct {
	cron    *cron.Cron
	logger  logging.Logger
	timeout time.Duration

	caches   map[string]CacheSweeper
	archiver ArchiveRunner
}

func New(opts Options) (*Scheduler, error) {
	s := &Scheduler{
		cron:     cron.New(),
		logger:   logging.OrNop(opts.Logger),
		timeout:  opts.JobTimeout,
		caches:   opts.Caches,
		archiver: opts.Archiver,
	}
	if s.timeout <= 0 {
		s.timeout = defaultJobTimeout
	}

	if opts.CacheCleanupSpec != "" && len(opts.Caches) > 0 {
		if _, err := s.cron.AddFunc(opts.CacheCleanupSpec, s.sweepCaches); err != nil {
			return nil, fmt.Errorf("cache cleanup spec %q: %w", opts.CacheCleanupSpec, err)
		}
	}
	if opts.ArchiveSpec != "" && opts.Archiver != nil {
		if _, err := s.cron.AddFunc(opts.ArchiveSpec, s.archiveSweep); err != nil {
			return nil, fmt.Errorf("archive spec %q: %w", opts.ArchiveSpec, err)
		}
	}
	return s, nil
}

// Start launches the cron loop. No job runs before Start.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.Info("maintenance scheduler started (%d jobs)", len(s.cron.Entries()))
}

// Stop halts scheduling and waits for in-flight jobs, bounded by ctx.
func (s *Scheduler) Stop(ctx context.Context) error {
	stopped := s.cron.Stop()
	select {
	case <-stopped.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SweepCaches runs one cache cleanup pass immediately, out of schedule.
func (s *Scheduler) SweepCaches() { s.sweepCaches() }

// ArchiveNow runs one archival sweep immediately, out of schedule.
func (s *Scheduler) ArchiveNow(ctx context.Context) error {
	if s.archiver == nil {
		return nil
	}
	return s.archiver.Run(ctx)
}

func (s *Scheduler) sweepCaches() {
	names := make([]string, 0, len(s.caches))
	for name := range s.caches {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		store := s.caches[name]
		expired := store.CleanupExpired()
		evicted := store.CleanupLRU()
		if expired > 0 || evicted > 0 {
			s.logger.Info("cache %s cleanup: %d expired, %d evicted", name, expired, evicted)
		}
	}
}

func (s *Scheduler) archiveSweep() {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	if err := s.archiver.Run(ctx); err != nil {
		s.logger.Warn("archive sweep: %v", err)
		return
	}
	s.logger.Debug("archive sweep complete")
}
