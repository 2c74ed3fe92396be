package scheduler

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/MrMafora/Snap-Lotto-sub000/internal/config"
	"github.com/MrMafora/Snap-Lotto-sub000/internal/domain"
	"github.com/MrMafora/Snap-Lotto-sub000/internal/pipeline"
	"github.com/MrMafora/Snap-Lotto-sub000/internal/store"
)

// Runner is the slice of the pipeline the scheduler drives.
type Runner interface {
	Run(ctx context.Context, job string, games []string) (domain.RunReport, error)
	Running() bool
}

// Notifier receives finished run reports. May be nil.
type Notifier interface {
	Notify(ctx context.Context, report domain.RunReport)
}

// Scheduler fires configured jobs at their local wall-clock times. A
// database claim per (job, date) keeps concurrent processes from running
// the same scheduled job twice.
type Scheduler struct {
	Jobs     []config.Job
	Pipeline Runner
	Store    store.Store
	Notify   Notifier
	Log      *logrus.Logger
	Now      func() time.Time
	Owner    string

	mu      sync.Mutex
	stopped chan struct{}
	done    chan struct{}
}

func New(cfg *config.Config, p Runner, st store.Store, log *logrus.Logger) *Scheduler {
	host, _ := os.Hostname()
	return &Scheduler{
		Jobs:     cfg.Schedule.Jobs,
		Pipeline: p,
		Store:    st,
		Log:      log,
		Now:      time.Now,
		Owner:    fmt.Sprintf("%s/%d", host, os.Getpid()),
	}
}

func (s *Scheduler) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

// NextFire computes the next time a job fires at or after from, honoring
// its weekday restriction.
func NextFire(job config.Job, from time.Time) time.Time {
	at, err := time.Parse("15:04", job.At)
	if err != nil {
		return time.Time{}
	}
	days := job.Weekdays()
	candidate := time.Date(from.Year(), from.Month(), from.Day(), at.Hour(), at.Minute(), 0, 0, from.Location())
	for i := 0; i < 8; i++ {
		if !candidate.Before(from) && days[candidate.Weekday()] {
			return candidate
		}
		candidate = candidate.AddDate(0, 0, 1)
	}
	return time.Time{}
}

// Start launches the timer loop. Call Stop to shut it down.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.stopped != nil {
		s.mu.Unlock()
		return
	}
	s.stopped = make(chan struct{})
	s.done = make(chan struct{})
	stopped, done := s.stopped, s.done
	s.mu.Unlock()

	go s.loop(ctx, stopped, done)
}

// Stop signals the loop and waits for it to exit.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	stopped, done := s.stopped, s.done
	s.stopped, s.done = nil, nil
	s.mu.Unlock()
	if stopped == nil {
		return
	}
	close(stopped)
	<-done
}

func (s *Scheduler) loop(ctx context.Context, stopped, done chan struct{}) {
	defer close(done)
	for {
		job, fireAt, ok := s.next(s.now())
		if !ok {
			s.Log.Info("no schedule jobs configured, scheduler idle")
			select {
			case <-stopped:
				return
			case <-ctx.Done():
				return
			}
		}
		s.Log.WithFields(logrus.Fields{"job": job.Name, "at": fireAt.Format(time.RFC3339)}).Info("next scheduled run")
		timer := time.NewTimer(time.Until(fireAt))
		select {
		case <-stopped:
			timer.Stop()
			return
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			s.fire(ctx, job, fireAt)
		}
	}
}

// next returns the soonest-firing job at or after from.
func (s *Scheduler) next(from time.Time) (config.Job, time.Time, bool) {
	var (
		best   config.Job
		bestAt time.Time
		found  bool
	)
	for _, job := range s.Jobs {
		at := NextFire(job, from)
		if at.IsZero() {
			continue
		}
		if !found || at.Before(bestAt) {
			best, bestAt, found = job, at, true
		}
	}
	return best, bestAt, found
}

func (s *Scheduler) fire(ctx context.Context, job config.Job, fireAt time.Time) {
	if s.Pipeline.Running() {
		s.Log.WithField("job", job.Name).Info("a run is in flight, leaving the date unclaimed")
		return
	}
	runDate := fireAt.Format("2006-01-02")
	claimed, err := s.Store.ClaimRun(ctx, job.Name, runDate, s.Owner)
	if err != nil {
		s.Log.WithField("job", job.Name).WithError(err).Error("run claim failed")
		return
	}
	if !claimed {
		s.Log.WithFields(logrus.Fields{"job": job.Name, "date": runDate}).Info("run already claimed by another process, skipping")
		return
	}
	report, err := s.Pipeline.Run(ctx, job.Name, job.Games)
	if errors.Is(err, pipeline.ErrAlreadyRunning) {
		// A manual trigger won the race after the claim. Hand the date
		// back so the run is not lost.
		if rerr := s.Store.ReleaseRun(ctx, job.Name, runDate); rerr != nil {
			s.Log.WithField("job", job.Name).WithError(rerr).Error("releasing run claim failed")
		}
		s.Log.WithFields(logrus.Fields{"job": job.Name, "date": runDate}).Info("run refused while another is in flight, claim released")
		return
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		s.Log.WithField("job", job.Name).WithError(err).Error("scheduled run failed")
	}
	if s.Notify != nil && report.RunID != "" {
		s.Notify.Notify(ctx, report)
	}
}

// TriggerNow runs a configured job immediately, outside its schedule.
// Manual triggers skip the per-date claim; the pipeline's own in-flight
// guard refuses overlap.
func (s *Scheduler) TriggerNow(ctx context.Context, name string) (domain.RunReport, error) {
	var job config.Job
	found := false
	for _, j := range s.Jobs {
		if j.Name == name {
			job, found = j, true
			break
		}
	}
	if !found {
		return domain.RunReport{}, fmt.Errorf("unknown job %q", name)
	}
	report, err := s.Pipeline.Run(ctx, job.Name, job.Games)
	if err != nil {
		return report, err
	}
	if s.Notify != nil {
		s.Notify.Notify(ctx, report)
	}
	return report, nil
}

// JobStatus is one job's schedule position.
type JobStatus struct {
	Name    string `json:"name"`
	At      string `json:"at"`
	NextRun string `json:"next_run"`
}

// Status is the scheduler's live view: whether a run is in flight, when
// each job fires next, and the last recorded run.
type Status struct {
	Running bool              `json:"running"`
	Jobs    []JobStatus       `json:"jobs"`
	LastRun *domain.RunReport `json:"last_run,omitempty"`
}

func (s *Scheduler) Status(ctx context.Context) (Status, error) {
	st := Status{Running: s.Pipeline.Running()}
	now := s.now()
	for _, job := range s.Jobs {
		js := JobStatus{Name: job.Name, At: job.At}
		if at := NextFire(job, now); !at.IsZero() {
			js.NextRun = at.Format(time.RFC3339)
		}
		st.Jobs = append(st.Jobs, js)
	}
	last, err := s.Store.LastRun(ctx, "")
	if err == nil {
		st.LastRun = &last
	} else if !errors.Is(err, store.ErrNotFound) {
		return st, err
	}
	return st, nil
}
