package reconcile

import (
	"context"
	"io"
	"testing"

	"github.com/sirupsen/logrus"

	"github.com/MrMafora/Snap-Lotto-sub000/internal/config"
	"github.com/MrMafora/Snap-Lotto-sub000/internal/domain"
)

type fakeLookup struct {
	// persisted maps "game|date" to a draw number.
	persisted map[string]string
}

func (f fakeLookup) GroupDrawNumber(ctx context.Context, games []string, drawDate string) (string, bool, error) {
	for _, game := range games {
		if n, ok := f.persisted[game+"|"+drawDate]; ok {
			return n, true, nil
		}
	}
	return "", false, nil
}

func newReconciler(persisted map[string]string) *Reconciler {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return New(config.Default(), fakeLookup{persisted: persisted}, log)
}

func draw(game, number, date string, balls ...int) domain.DrawResult {
	return domain.DrawResult{Game: game, DrawNumber: number, DrawDate: date, MainNumbers: balls}
}

func TestRewritesToPriorityMembersNumber(t *testing.T) {
	r := newReconciler(nil)
	batch := []domain.DrawResult{
		draw("lotto", "2517", "2025-06-14", 5, 12, 19, 23, 40, 48),
		draw("lotto-plus-1", "2518", "2025-06-14", 2, 8, 14, 27, 33, 41),
		draw("lotto-plus-2", "", "2025-06-14", 1, 6, 20, 29, 38, 45),
	}

	out, groupErrs, err := r.Reconcile(context.Background(), batch)
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if len(groupErrs) != 0 {
		t.Fatalf("group errors: %v", groupErrs)
	}
	if len(out) != 3 {
		t.Fatalf("records = %d, want 3", len(out))
	}
	for _, rec := range out {
		if rec.DrawNumber != "2517" {
			t.Fatalf("%s draw number = %s, want 2517 from the priority member", rec.Game, rec.DrawNumber)
		}
	}
	// Disagreeing members keep their own balls; only identity is rewritten.
	for _, rec := range out {
		if rec.Game == "lotto-plus-1" && rec.MainNumbers[0] != 2 {
			t.Fatalf("lotto-plus-1 balls rewritten: %v", rec.MainNumbers)
		}
	}
}

func TestPersistedNumberIsAuthoritative(t *testing.T) {
	r := newReconciler(map[string]string{"lotto-plus-2|2025-06-14": "2520"})
	batch := []domain.DrawResult{
		draw("lotto", "2517", "2025-06-14", 5, 12, 19, 23, 40, 48),
	}

	out, _, err := r.Reconcile(context.Background(), batch)
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if out[0].DrawNumber != "2520" {
		t.Fatalf("draw number = %s, want the persisted 2520", out[0].DrawNumber)
	}
}

func TestUnresolvedGroupIsSkippedNotFatal(t *testing.T) {
	r := newReconciler(nil)
	batch := []domain.DrawResult{
		draw("lotto", "", "2025-06-14", 5, 12, 19, 23, 40, 48),
		draw("lotto-plus-1", "", "2025-06-14", 2, 8, 14, 27, 33, 41),
		draw("daily-lotto", "2301", "2025-06-14", 3, 9, 17, 22, 35),
	}

	out, groupErrs, err := r.Reconcile(context.Background(), batch)
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if len(groupErrs) != 1 || groupErrs[0].Group != "lotto" {
		t.Fatalf("group errors = %v", groupErrs)
	}
	if len(out) != 1 || out[0].Game != "daily-lotto" {
		t.Fatalf("only the ungrouped game should survive: %+v", out)
	}
}

func TestUngroupedGamePassesThrough(t *testing.T) {
	r := newReconciler(nil)
	batch := []domain.DrawResult{draw("daily-lotto", "2301", "2025-06-14", 3, 9, 17, 22, 35)}

	out, groupErrs, err := r.Reconcile(context.Background(), batch)
	if err != nil || len(groupErrs) != 0 {
		t.Fatalf("reconcile: %v %v", err, groupErrs)
	}
	if len(out) != 1 || out[0].DrawNumber != "2301" {
		t.Fatalf("daily-lotto mangled: %+v", out)
	}
}

func TestDifferentDatesReconcileIndependently(t *testing.T) {
	r := newReconciler(nil)
	batch := []domain.DrawResult{
		draw("lotto", "2517", "2025-06-14", 5, 12, 19, 23, 40, 48),
		draw("lotto-plus-1", "2514", "2025-06-11", 2, 8, 14, 27, 33, 41),
	}

	out, groupErrs, err := r.Reconcile(context.Background(), batch)
	if err != nil || len(groupErrs) != 0 {
		t.Fatalf("reconcile: %v %v", err, groupErrs)
	}
	numbers := map[string]string{}
	for _, rec := range out {
		numbers[rec.Game] = rec.DrawNumber
	}
	if numbers["lotto"] != "2517" || numbers["lotto-plus-1"] != "2514" {
		t.Fatalf("cross-date contamination: %v", numbers)
	}
}

func TestDuplicateAfterRewriteKeepsRicher(t *testing.T) {
	r := newReconciler(nil)
	richer := draw("lotto", "2517", "2025-06-14", 5, 12, 19, 23, 40, 48)
	richer.Divisions = []domain.Division{{Division: "DIV 1", Match: "SIX CORRECT NUMBERS"}}
	sparse := draw("lotto", "2517", "2025-06-14", 5, 12, 19, 23, 40, 48)

	out, _, err := r.Reconcile(context.Background(), []domain.DrawResult{sparse, richer})
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if len(out) != 1 {
		t.Fatalf("records = %d, want deduped to 1", len(out))
	}
	if len(out[0].Divisions) != 1 {
		t.Fatal("dedupe kept the sparser record")
	}
}

func TestEmptyBatch(t *testing.T) {
	out, groupErrs, err := newReconciler(nil).Reconcile(context.Background(), nil)
	if err != nil || out != nil || groupErrs != nil {
		t.Fatalf("empty batch should be a no-op: %v %v %v", out, groupErrs, err)
	}
}
