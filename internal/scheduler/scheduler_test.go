package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"aide/internal/cache"
)

type fakeSweeper struct {
	expired int
	evicted int
	calls   chan struct{}
}

func (f *fakeSweeper) CleanupExpired() int {
	select {
	case f.calls <- struct{}{}:
	default:
	}
	return f.expired
}

func (f *fakeSweeper) CleanupLRU() int { return f.evicted }

type countingArchiver struct {
	runs int64
	err  error
}

func (a *countingArchiver) Run(context.Context) error {
	atomic.AddInt64(&a.runs, 1)
	return a.err
}

func TestInvalidCronSpecRejected(t *testing.T) {
	_, err := New(Options{
		CacheCleanupSpec: "not a cron spec",
		Caches:           map[string]CacheSweeper{"llm": &fakeSweeper{}},
	})
	if err == nil {
		t.Fatal("expected spec parse error")
	}

	_, err = New(Options{
		ArchiveSpec: "61 * * * *",
		Archiver:    &countingArchiver{},
	})
	if err == nil {
		t.Fatal("expected spec parse error")
	}
}

func TestCacheSweepFiresOnSchedule(t *testing.T) {
	sweeper := &fakeSweeper{expired: 2, calls: make(chan struct{}, 1)}
	s, err := New(Options{
		CacheCleanupSpec: "@every 10ms",
		Caches:           map[string]CacheSweeper{"url": sweeper},
	})
	if err != nil {
		t.Fatal(err)
	}
	s.Start()
	defer s.Stop(context.Background())

	select {
	case <-sweeper.calls:
	case <-time.After(2 * time.Second):
		t.Fatal("cache sweep never fired")
	}
}

func TestArchiverErrorDoesNotStopSchedule(t *testing.T) {
	arch := &countingArchiver{err: errors.New("disk full")}
	s, err := New(Options{
		ArchiveSpec: "@every 10ms",
		Archiver:    arch,
	})
	if err != nil {
		t.Fatal(err)
	}
	s.Start()
	defer s.Stop(context.Background())

	deadline := time.After(2 * time.Second)
	for atomic.LoadInt64(&arch.runs) < 2 {
		select {
		case <-deadline:
			t.Fatalf("archive sweep ran %d times, want >= 2", atomic.LoadInt64(&arch.runs))
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestJobsDoNotRunBeforeStart(t *testing.T) {
	sweeper := &fakeSweeper{calls: make(chan struct{}, 1)}
	if _, err := New(Options{
		CacheCleanupSpec: "@every 1ms",
		Caches:           map[string]CacheSweeper{"llm": sweeper},
	}); err != nil {
		t.Fatal(err)
	}

	select {
	case <-sweeper.calls:
		t.Fatal("job ran before Start")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestManualSweepCleansExpiredEntries(t *testing.T) {
	store := cache.NewStore(cache.Options{
		Name: "url",
		Dir:  t.TempDir(),
	})
	if err := store.Set("k1", "v1", 5*time.Millisecond); err != nil {
		t.Fatal(err)
	}
	if err := store.Set("k2", "v2", time.Hour); err != nil {
		t.Fatal(err)
	}
	time.Sleep(20 * time.Millisecond)

	s, err := New(Options{Caches: map[string]CacheSweeper{"url": store}})
	if err != nil {
		t.Fatal(err)
	}
	s.SweepCaches()

	if _, ok := store.Get("k1"); ok {
		t.Fatal("expired entry survived the sweep")
	}
	if _, ok := store.Get("k2"); !ok {
		t.Fatal("live entry dropped by the sweep")
	}
}

func TestArchiveNowWithoutArchiver(t *testing.T) {
	s, err := New(Options{})
	if err != nil {
		t.Fatal(err)
	}
	if err := s.ArchiveNow(context.Background()); err != nil {
		t.Fatal(err)
	}
}

func TestStopHonorsContext(t *testing.T) {
	s, err := New(Options{
		ArchiveSpec: "@every 1h",
		Archiver:    &countingArchiver{},
	})
	if err != nil {
		t.Fatal(err)
	}
	s.Start()
	if err := s.Stop(context.Background()); err != nil {
		t.Fatal(err)
	}
}
