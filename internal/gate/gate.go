package gate

import (
	"errors"
	"fmt"

	"github.com/MrMafora/Snap-Lotto-sub000/internal/config"
	"github.com/MrMafora/Snap-Lotto-sub000/internal/domain"
)

// Rejection explains why an extraction was not accepted. A rejection is an
// expected outcome, not a run failure.
type Rejection struct {
	Reason string
	Game   string
}

func (r *Rejection) Error() string {
	return fmt.Sprintf("gate rejected %s: %s", r.Game, r.Reason)
}

// AsRejection unwraps a gate rejection from an error chain.
func AsRejection(err error) (*Rejection, bool) {
	var r *Rejection
	ok := errors.As(err, &r)
	return r, ok
}

// Gate accepts or rejects extracted records before they reach
// reconciliation and storage.
type Gate struct {
	MinConfidence float64
	Schemas       map[string]config.GameSchema
}

func New(cfg *config.Config) Gate {
	return Gate{
		MinConfidence: cfg.Gate.MinConfidence,
		Schemas:       cfg.Games,
	}
}

// Accept returns nil for records safe to persist. It re-checks cardinality
// so nothing malformed can reach the store even if a client skipped
// validation.
func (g Gate) Accept(r domain.DrawResult) error {
	schema, ok := g.Schemas[r.Game]
	if !ok {
		return &Rejection{Game: r.Game, Reason: fmt.Sprintf("unknown game %q", r.Game)}
	}
	if len(r.MainNumbers) != schema.MainNumbers {
		return &Rejection{Game: r.Game, Reason: fmt.Sprintf("expected %d main numbers, got %d", schema.MainNumbers, len(r.MainNumbers))}
	}
	if len(r.BonusNumbers) != schema.BonusNumbers {
		return &Rejection{Game: r.Game, Reason: fmt.Sprintf("expected %d bonus numbers, got %d", schema.BonusNumbers, len(r.BonusNumbers))}
	}
	if r.Provenance.Confidence < g.MinConfidence {
		return &Rejection{Game: r.Game, Reason: fmt.Sprintf("confidence %.1f below threshold %.1f", r.Provenance.Confidence, g.MinConfidence)}
	}
	if schema.Divisions > 0 && len(r.Divisions) == 0 {
		return &Rejection{Game: r.Game, Reason: "divisions missing for a game that always publishes them"}
	}
	return nil
}
