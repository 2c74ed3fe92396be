package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/MrMafora/Snap-Lotto-sub000/internal/capture"
	"github.com/MrMafora/Snap-Lotto-sub000/internal/config"
	"github.com/MrMafora/Snap-Lotto-sub000/internal/db"
	"github.com/MrMafora/Snap-Lotto-sub000/internal/domain"
	"github.com/MrMafora/Snap-Lotto-sub000/internal/extract"
	"github.com/MrMafora/Snap-Lotto-sub000/internal/migrate"
	"github.com/MrMafora/Snap-Lotto-sub000/internal/store"
)

type fakeSource struct {
	probeErr error
	failing  map[string]bool
}

func (f *fakeSource) Probe(ctx context.Context) error { return f.probeErr }

func (f *fakeSource) Capture(ctx context.Context, game string) ([]byte, error) {
	if f.failing[game] {
		return nil, fmt.Errorf("screenshot service error for %s", game)
	}
	return []byte("screenshot-bytes-for-" + game), nil
}

type fakeExtractor struct {
	results map[string]domain.DrawResult
	errs    map[string]error
	// providerFailures counts down transient errors before succeeding.
	providerFailures map[string]int
	calls            map[string]int
}

func (f *fakeExtractor) Extract(ctx context.Context, image []byte, game string) (domain.DrawResult, error) {
	if f.calls == nil {
		f.calls = map[string]int{}
	}
	f.calls[game]++
	if n := f.providerFailures[game]; n > 0 {
		f.providerFailures[game] = n - 1
		return domain.DrawResult{}, &extract.Failure{Kind: extract.KindProviderError, Game: game, Err: errors.New("503")}
	}
	if err, ok := f.errs[game]; ok {
		return domain.DrawResult{}, err
	}
	r, ok := f.results[game]
	if !ok {
		return domain.DrawResult{}, &extract.Failure{Kind: extract.KindEmptyResponse, Game: game}
	}
	return r, nil
}

func intp(v int) *int { return &v }

func goodResult(game, number string) domain.DrawResult {
	r := domain.DrawResult{
		Game:         game,
		DrawNumber:   number,
		DrawDate:     "2025-06-14",
		MainNumbers:  []int{5, 12, 19, 23, 40, 48},
		BonusNumbers: []int{31},
		Divisions: []domain.Division{
			{Division: "DIV 1", Match: "SIX CORRECT NUMBERS", Winners: intp(0), Prize: "R0.00"},
		},
		Provenance: domain.Provenance{Provider: "gemini", Model: "test", ExtractedAt: "2025-06-14T21:45:00Z", Confidence: 98},
	}
	if game == "daily-lotto" {
		r.MainNumbers = []int{3, 9, 17, 22, 35}
		r.BonusNumbers = nil
	}
	if game == "powerball" || game == "powerball-plus" {
		r.MainNumbers = []int{3, 9, 17, 22, 35}
	}
	return r
}

func newTestPipeline(t *testing.T, src capture.Source, ex extract.Client) (*Pipeline, store.Store) {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	st := store.New(conn)

	log := logrus.New()
	log.SetOutput(io.Discard)

	cfg := config.Default()
	cfg.Extraction.BackoffMS = 0
	capturer := &capture.Capturer{
		Source:   src,
		Cache:    capture.Cache{Dir: t.TempDir()},
		Attempts: 2,
		Timeout:  time.Second,
		MinBytes: 1,
		Log:      log,
	}
	return New(cfg, st, capturer, ex, log), st
}

func TestRunAllGamesSucceed(t *testing.T) {
	ex := &fakeExtractor{results: map[string]domain.DrawResult{
		"lotto":        goodResult("lotto", "2517"),
		"lotto-plus-1": goodResult("lotto-plus-1", "2517"),
		"lotto-plus-2": goodResult("lotto-plus-2", "2517"),
	}}
	p, st := newTestPipeline(t, &fakeSource{}, ex)

	report, err := p.Run(context.Background(), "daily-ingest", []string{"lotto", "lotto-plus-1", "lotto-plus-2"})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if report.Status != "ok" {
		t.Fatalf("status = %s, want ok (%+v)", report.Status, report)
	}
	if report.Succeeded != 3 || report.Inserted != 3 {
		t.Fatalf("succeeded=%d inserted=%d, want 3/3", report.Succeeded, report.Inserted)
	}

	got, err := st.GetDraw(context.Background(), "lotto-plus-2", "2517")
	if err != nil {
		t.Fatalf("persisted draw missing: %v", err)
	}
	if got.DrawDate != "2025-06-14" {
		t.Fatalf("draw date = %s", got.DrawDate)
	}

	last, err := st.LastRun(context.Background(), "daily-ingest")
	if err != nil {
		t.Fatalf("run report not recorded: %v", err)
	}
	if last.RunID != report.RunID {
		t.Fatalf("recorded run = %s, want %s", last.RunID, report.RunID)
	}
}

func TestRunIsolatesPerGameFailures(t *testing.T) {
	lowConfidence := goodResult("lotto-plus-2", "2517")
	lowConfidence.Provenance.Confidence = 50

	ex := &fakeExtractor{
		results: map[string]domain.DrawResult{
			"lotto":        goodResult("lotto", "2517"),
			"lotto-plus-1": goodResult("lotto-plus-1", "2517"),
			"lotto-plus-2": lowConfidence,
			"daily-lotto":  goodResult("daily-lotto", "2301"),
		},
	}
	src := &fakeSource{failing: map[string]bool{"daily-lotto": true}}
	p, _ := newTestPipeline(t, src, ex)

	report, err := p.Run(context.Background(), "daily-ingest", []string{"lotto", "lotto-plus-1", "lotto-plus-2", "daily-lotto"})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if report.Status != "partial" {
		t.Fatalf("status = %s, want partial", report.Status)
	}
	if report.Succeeded != 2 || report.Failed != 1 || report.Rejected != 1 {
		t.Fatalf("counts = %d/%d/%d, want 2 succeeded, 1 failed, 1 rejected", report.Succeeded, report.Failed, report.Rejected)
	}
	statuses := map[string]domain.GameStatus{}
	for _, g := range report.Games {
		statuses[g.Game] = g.Status
	}
	if statuses["daily-lotto"] != domain.GameFailed {
		t.Fatalf("daily-lotto = %s", statuses["daily-lotto"])
	}
	if statuses["lotto-plus-2"] != domain.GameRejected {
		t.Fatalf("lotto-plus-2 = %s", statuses["lotto-plus-2"])
	}
}

func TestRunGroupRewriteEndToEnd(t *testing.T) {
	disagreeing := goodResult("lotto-plus-1", "2518")
	ex := &fakeExtractor{results: map[string]domain.DrawResult{
		"lotto":        goodResult("lotto", "2517"),
		"lotto-plus-1": disagreeing,
	}}
	p, st := newTestPipeline(t, &fakeSource{}, ex)

	report, err := p.Run(context.Background(), "manual", []string{"lotto", "lotto-plus-1"})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if report.Status != "ok" {
		t.Fatalf("status = %s (%+v)", report.Status, report)
	}

	got, err := st.GetDraw(context.Background(), "lotto-plus-1", "2517")
	if err != nil {
		t.Fatalf("rewritten draw missing: %v", err)
	}
	if got.MainNumbers[0] != 5 {
		t.Fatalf("balls lost in rewrite: %v", got.MainNumbers)
	}
	if _, err := st.GetDraw(context.Background(), "lotto-plus-1", "2518"); !errors.Is(err, store.ErrNotFound) {
		t.Fatal("divergent draw number must not be persisted")
	}
}

func TestRunRetriesProviderErrors(t *testing.T) {
	ex := &fakeExtractor{
		results:          map[string]domain.DrawResult{"daily-lotto": goodResult("daily-lotto", "2301")},
		providerFailures: map[string]int{"daily-lotto": 2},
	}
	p, _ := newTestPipeline(t, &fakeSource{}, ex)

	report, err := p.Run(context.Background(), "manual", []string{"daily-lotto"})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if report.Succeeded != 1 {
		t.Fatalf("succeeded = %d (%+v)", report.Succeeded, report.Games)
	}
	if ex.calls["daily-lotto"] != 3 {
		t.Fatalf("extract calls = %d, want 3", ex.calls["daily-lotto"])
	}
}

func TestRunDoesNotRetrySchemaMismatch(t *testing.T) {
	ex := &fakeExtractor{
		errs: map[string]error{"daily-lotto": &extract.Failure{Kind: extract.KindSchemaMismatch, Game: "daily-lotto", Err: errors.New("bad shape")}},
	}
	p, _ := newTestPipeline(t, &fakeSource{}, ex)

	report, err := p.Run(context.Background(), "manual", []string{"daily-lotto"})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if report.Failed != 1 {
		t.Fatalf("failed = %d", report.Failed)
	}
	if ex.calls["daily-lotto"] != 1 {
		t.Fatalf("extract calls = %d, want 1 (no retry)", ex.calls["daily-lotto"])
	}
}

func TestRunNothingToDoIsFatal(t *testing.T) {
	p, _ := newTestPipeline(t, &fakeSource{probeErr: errors.New("connection refused")}, &fakeExtractor{})

	report, err := p.Run(context.Background(), "manual", []string{"lotto", "daily-lotto"})
	if !errors.Is(err, ErrNothingToDo) {
		t.Fatalf("err = %v, want ErrNothingToDo", err)
	}
	if report.Status != "failed" {
		t.Fatalf("status = %s, want failed", report.Status)
	}
	if report.Total != 2 || report.Failed != 2 {
		t.Fatalf("failed = %d of %d, want each game counted exactly once", report.Failed, report.Total)
	}
	if report.Succeeded != 0 || report.Rejected != 0 {
		t.Fatalf("succeeded=%d rejected=%d, want 0/0", report.Succeeded, report.Rejected)
	}
}

func TestRunSecondIngestIsUnchanged(t *testing.T) {
	ex := &fakeExtractor{results: map[string]domain.DrawResult{"daily-lotto": goodResult("daily-lotto", "2301")}}
	p, _ := newTestPipeline(t, &fakeSource{}, ex)

	if _, err := p.Run(context.Background(), "manual", []string{"daily-lotto"}); err != nil {
		t.Fatalf("first run: %v", err)
	}
	report, err := p.Run(context.Background(), "manual", []string{"daily-lotto"})
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if report.Unchanged != 1 || report.Inserted != 0 {
		t.Fatalf("unchanged=%d inserted=%d, want idempotent re-ingest", report.Unchanged, report.Inserted)
	}
}
