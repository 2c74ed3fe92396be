package reconcile

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/MrMafora/Snap-Lotto-sub000/internal/config"
	"github.com/MrMafora/Snap-Lotto-sub000/internal/domain"
)

// UnresolvedGroupError reports a date-group for which no member, extracted
// or persisted, carries a draw number. The group is skipped for the run;
// a number is never invented.
type UnresolvedGroupError struct {
	Group string
	Date  string
}

func (e *UnresolvedGroupError) Error() string {
	return fmt.Sprintf("draw group %s has no draw number for %s", e.Group, e.Date)
}

// Lookup is the slice of the draw store the reconciler needs: the
// authoritative persisted draw number for a group/date, if any.
type Lookup interface {
	GroupDrawNumber(ctx context.Context, games []string, drawDate string) (string, bool, error)
}

// Reconciler enforces that games drawn together share one draw number and
// date. It must see the whole accepted batch at once; resolution is
// cross-game.
type Reconciler struct {
	Groups []config.DrawGroup
	Store  Lookup
	Log    *logrus.Logger
}

func New(cfg *config.Config, store Lookup, log *logrus.Logger) *Reconciler {
	return &Reconciler{Groups: cfg.Groups.Sets, Store: store, Log: log}
}

// Reconcile rewrites draw numbers inside the batch so every draw-group
// member on the same date carries the common number, then drops batch
// duplicates keeping the richer record. Games outside any group pass
// through untouched. Unresolvable date-groups come back as group errors,
// never as a run failure.
func (r *Reconciler) Reconcile(ctx context.Context, batch []domain.DrawResult) ([]domain.DrawResult, []*UnresolvedGroupError, error) {
	if len(batch) == 0 {
		return nil, nil, nil
	}

	// Index batch records per group member and date.
	type key struct{ game, date string }
	byKey := map[key][]int{}
	for i, rec := range batch {
		k := key{rec.Game, rec.DrawDate}
		byKey[k] = append(byKey[k], i)
	}

	drop := map[int]bool{}
	var groupErrs []*UnresolvedGroupError

	for _, grp := range r.Groups {
		dates := map[string]bool{}
		for _, member := range grp.Members {
			for i, rec := range batch {
				if rec.Game == member && !drop[i] {
					dates[rec.DrawDate] = true
				}
			}
		}

		for date := range dates {
			common, ok, err := r.Store.GroupDrawNumber(ctx, grp.Members, date)
			if err != nil {
				return nil, nil, fmt.Errorf("group %s lookup for %s: %w", grp.Name, date, err)
			}
			if !ok {
				// No persisted number; the first member in priority order
				// that extracted one decides.
				for _, member := range grp.Members {
					for _, i := range byKey[key{member, date}] {
						if batch[i].DrawNumber != "" {
							common = batch[i].DrawNumber
							ok = true
							break
						}
					}
					if ok {
						break
					}
				}
			}
			if !ok {
				ge := &UnresolvedGroupError{Group: grp.Name, Date: date}
				groupErrs = append(groupErrs, ge)
				for _, member := range grp.Members {
					for _, i := range byKey[key{member, date}] {
						drop[i] = true
					}
				}
				if r.Log != nil {
					r.Log.WithFields(logrus.Fields{"group": grp.Name, "date": date}).Warn("unresolved draw group, skipping date-group")
				}
				continue
			}

			for _, member := range grp.Members {
				for _, i := range byKey[key{member, date}] {
					if batch[i].DrawNumber != common && r.Log != nil {
						r.Log.WithFields(logrus.Fields{
							"group": grp.Name,
							"game":  member,
							"from":  batch[i].DrawNumber,
							"to":    common,
						}).Info("rewriting draw number to group common")
					}
					batch[i].DrawNumber = common
					batch[i].DrawDate = date
				}
			}
		}
	}

	// Collapse duplicates per (game, number), keeping the richer record so
	// divisions present on only one side survive.
	seen := map[string]int{}
	var out []domain.DrawResult
	for i, rec := range batch {
		if drop[i] {
			continue
		}
		id := rec.Game + "|" + rec.DrawNumber
		if j, dup := seen[id]; dup {
			if domain.Richer(rec, out[j]) {
				out[j] = rec
			}
			continue
		}
		seen[id] = len(out)
		out = append(out, rec)
	}
	return out, groupErrs, nil
}
