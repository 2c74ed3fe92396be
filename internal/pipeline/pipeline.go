package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/MrMafora/Snap-Lotto-sub000/internal/capture"
	"github.com/MrMafora/Snap-Lotto-sub000/internal/config"
	"github.com/MrMafora/Snap-Lotto-sub000/internal/domain"
	"github.com/MrMafora/Snap-Lotto-sub000/internal/events"
	"github.com/MrMafora/Snap-Lotto-sub000/internal/extract"
	"github.com/MrMafora/Snap-Lotto-sub000/internal/gate"
	"github.com/MrMafora/Snap-Lotto-sub000/internal/reconcile"
	"github.com/MrMafora/Snap-Lotto-sub000/internal/store"
)

// ErrAlreadyRunning is returned when a second run is triggered while one
// is in flight.
var ErrAlreadyRunning = errors.New("an ingestion run is already in progress")

// ErrNothingToDo marks a run where no game had a reachable source or a
// cached artifact; the only condition treated as a fatal run.
var ErrNothingToDo = errors.New("capture source unreachable and no cached artifacts for any game")

// Pipeline drives one full ingestion run:
// capture -> extract -> gate per game, one reconcile barrier over the
// accepted batch, then independent idempotent upserts.
type Pipeline struct {
	Store      store.Store
	Capturer   *capture.Capturer
	Extractor  extract.Client
	Gate       gate.Gate
	Reconciler *reconcile.Reconciler
	Games      []string

	ExtractAttempts int
	ExtractBackoff  time.Duration
	RunTimeout      time.Duration
	Retention       time.Duration

	Log *logrus.Logger
	Now func() time.Time

	running atomic.Bool
}

func New(cfg *config.Config, st store.Store, cap *capture.Capturer, ex extract.Client, log *logrus.Logger) *Pipeline {
	return &Pipeline{
		Store:           st,
		Capturer:        cap,
		Extractor:       ex,
		Gate:            gate.New(cfg),
		Reconciler:      reconcile.New(cfg, st, log),
		Games:           cfg.GameNames(),
		ExtractAttempts: cfg.Extraction.Attempts,
		ExtractBackoff:  time.Duration(cfg.Extraction.BackoffMS) * time.Millisecond,
		RunTimeout:      time.Duration(cfg.Schedule.RunTimeoutMin) * time.Minute,
		Retention:       time.Duration(cfg.Capture.RetentionDays) * 24 * time.Hour,
		Log:             log,
		Now:             time.Now,
	}
}

func (p *Pipeline) now() time.Time {
	if p.Now != nil {
		return p.Now()
	}
	return time.Now()
}

// Running reports whether a run is in flight.
func (p *Pipeline) Running() bool { return p.running.Load() }

// Run executes one ingestion run over the given games (nil = the full
// catalogue). Per-game failures are isolated; upserts commit independently
// so work done before a cancellation stays valid.
func (p *Pipeline) Run(ctx context.Context, job string, games []string) (domain.RunReport, error) {
	if !p.running.CompareAndSwap(false, true) {
		return domain.RunReport{}, ErrAlreadyRunning
	}
	defer p.running.Store(false)

	if len(games) == 0 {
		games = p.Games
	}
	if p.RunTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.RunTimeout)
		defer cancel()
	}

	started := p.now()
	report := domain.RunReport{
		RunID:     uuid.NewString(),
		Job:       job,
		StartedAt: started.UTC().Format(time.RFC3339),
		Total:     len(games),
	}
	log := p.Log.WithFields(logrus.Fields{"run_id": report.RunID, "job": job})
	log.WithField("games", len(games)).Info("ingestion run started")
	_ = p.Store.Events.Append(ctx, nil, "run.start", report.RunID, "", "", events.EventPayload{"job": job, "games": len(games)})

	var accepted []domain.DrawResult
	noInput := 0
	reports := map[string]*domain.GameReport{}
	for _, game := range games {
		gr := &domain.GameReport{Game: game}
		reports[game] = gr

		artifact, err := p.Capturer.Run(ctx, game)
		if err != nil {
			gr.Status = domain.GameFailed
			gr.Detail = err.Error()
			if errors.Is(err, capture.ErrNoArtifact) {
				noInput++
			}
			continue
		}
		gr.UsedCache = artifact.Cached
		if artifact.Cached {
			_ = p.Store.Events.Append(ctx, nil, "capture.fallback", report.RunID, game, "", events.EventPayload{"artifact": artifact.Path})
		}

		record, err := p.extractWithRetry(ctx, artifact.Data, game)
		if err != nil {
			gr.Status = domain.GameFailed
			gr.Detail = err.Error()
			if f, ok := extract.AsFailure(err); ok && f.Kind == extract.KindMalformedJSON {
				log.WithField("game", game).WithField("raw", truncate(f.Raw, 512)).Warn("discarding malformed extraction")
			}
			continue
		}

		if err := p.Gate.Accept(record); err != nil {
			gr.Status = domain.GameRejected
			gr.Detail = err.Error()
			log.WithField("game", game).WithError(err).Info("extraction rejected by gate")
			continue
		}
		gr.DrawNumber = record.DrawNumber
		accepted = append(accepted, record)
	}

	if noInput == len(games) && len(games) > 0 {
		report.Status = "failed"
		p.finish(ctx, &report, reports, games, started)
		return report, ErrNothingToDo
	}

	// Reconciliation is a barrier: it needs the whole accepted batch
	// because group resolution is cross-game.
	reconciled, groupErrs, err := p.Reconciler.Reconcile(ctx, accepted)
	if err != nil {
		report.Status = "failed"
		p.finish(ctx, &report, reports, games, started)
		return report, fmt.Errorf("reconcile: %w", err)
	}
	for _, ge := range groupErrs {
		report.GroupErrors = append(report.GroupErrors, ge.Error())
		_ = p.Store.Events.Append(ctx, nil, "group.unresolved", report.RunID, "", "", events.EventPayload{"group": ge.Group, "date": ge.Date})
	}
	kept := map[string]bool{}
	for _, rec := range reconciled {
		kept[rec.Game] = true
	}
	for _, rec := range accepted {
		gr := reports[rec.Game]
		if !kept[rec.Game] && gr.Status == "" {
			gr.Status = domain.GameSkipped
			gr.Detail = "dropped by draw-group reconciliation"
		}
	}

	for _, rec := range reconciled {
		gr := reports[rec.Game]
		outcome, err := p.Store.UpsertDraw(ctx, rec, report.RunID)
		if err != nil {
			gr.Status = domain.GameFailed
			gr.Detail = fmt.Sprintf("store write: %v", err)
			report.StoreErrors = append(report.StoreErrors, fmt.Sprintf("%s/%s: %v", rec.Game, rec.DrawNumber, err))
			log.WithField("game", rec.Game).WithError(err).Error("store write failed")
			continue
		}
		gr.Status = domain.GameSucceeded
		gr.Outcome = outcome
		gr.DrawNumber = rec.DrawNumber
		switch outcome {
		case domain.Inserted:
			report.Inserted++
		case domain.Updated:
			report.Updated++
		default:
			report.Unchanged++
		}
	}

	p.finish(ctx, &report, reports, games, started)

	switch {
	case report.Succeeded == 0:
		report.Status = "failed"
	case report.Failed > 0 || report.Rejected > 0 || len(report.GroupErrors) > 0:
		report.Status = "partial"
	default:
		report.Status = "ok"
	}
	if err := p.Store.RecordRun(ctx, report); err != nil {
		log.WithError(err).Warn("persisting run report failed")
	}
	if p.Retention > 0 {
		if err := p.Capturer.Cache.Sweep(p.Retention, p.now()); err != nil {
			log.WithError(err).Warn("artifact retention sweep failed")
		}
	}
	log.WithFields(logrus.Fields{
		"status":    report.Status,
		"succeeded": report.Succeeded,
		"failed":    report.Failed,
		"rejected":  report.Rejected,
	}).Info("ingestion run finished")
	return report, nil
}

// finish folds the per-game reports into the run report and stamps times.
func (p *Pipeline) finish(ctx context.Context, report *domain.RunReport, reports map[string]*domain.GameReport, games []string, started time.Time) {
	report.Games = report.Games[:0]
	for _, game := range games {
		gr := reports[game]
		if gr.Status == "" {
			gr.Status = domain.GameFailed
			gr.Detail = "not processed"
		}
		report.Games = append(report.Games, *gr)
		switch gr.Status {
		case domain.GameSucceeded:
			report.Succeeded++
		case domain.GameRejected:
			report.Rejected++
		case domain.GameFailed:
			report.Failed++
		}
	}
	finished := p.now()
	report.FinishedAt = finished.UTC().Format(time.RFC3339)
	report.DurationMS = finished.Sub(started).Milliseconds()
	_ = p.Store.Events.Append(ctx, nil, "run.finish", report.RunID, "", "", events.EventPayload{
		"succeeded": report.Succeeded,
		"failed":    report.Failed,
	})
}

// extractWithRetry retries provider errors with linear backoff; the other
// failure kinds reproduce on the same image, so the artifact is discarded
// after the first attempt.
func (p *Pipeline) extractWithRetry(ctx context.Context, image []byte, game string) (domain.DrawResult, error) {
	attempts := p.ExtractAttempts
	if attempts <= 0 {
		attempts = 1
	}
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		record, err := p.Extractor.Extract(ctx, image, game)
		if err == nil {
			return record, nil
		}
		lastErr = err
		f, ok := extract.AsFailure(err)
		if !ok || !f.Retryable() {
			return domain.DrawResult{}, err
		}
		if attempt < attempts {
			select {
			case <-ctx.Done():
				return domain.DrawResult{}, ctx.Err()
			case <-time.After(time.Duration(attempt) * p.ExtractBackoff):
			}
		}
	}
	return domain.DrawResult{}, lastErr
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
