package extract

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MrMafora/Snap-Lotto-sub000/internal/config"
	"github.com/MrMafora/Snap-Lotto-sub000/internal/domain"
)

// FailureKind classifies extraction failures. Only provider errors are
// worth retrying; the other kinds reproduce on the same image.
type FailureKind string

const (
	KindEmptyResponse  FailureKind = "empty_response"
	KindMalformedJSON  FailureKind = "malformed_json"
	KindSchemaMismatch FailureKind = "schema_mismatch"
	KindProviderError  FailureKind = "provider_error"
)

// Failure is a typed extraction failure.
type Failure struct {
	Kind FailureKind
	Game string
	Err  error
	// Raw holds the model's text for malformed responses, for logging.
	// The image itself is never attached.
	Raw string
}

func (f *Failure) Error() string {
	if f.Err != nil {
		return fmt.Sprintf("extract %s: %s: %v", f.Game, f.Kind, f.Err)
	}
	return fmt.Sprintf("extract %s: %s", f.Game, f.Kind)
}

func (f *Failure) Unwrap() error { return f.Err }

// Retryable reports whether the caller may retry with backoff.
func (f *Failure) Retryable() bool { return f.Kind == KindProviderError }

// AsFailure unwraps an extraction failure from an error chain.
func AsFailure(err error) (*Failure, bool) {
	var f *Failure
	ok := errors.As(err, &f)
	return f, ok
}

// Client turns a captured image plus a game hint into a typed draw record.
// Implementations must not touch the draw store.
type Client interface {
	Extract(ctx context.Context, image []byte, game string) (domain.DrawResult, error)
}

// flexString tolerates the model returning a bare number where the schema
// asks for a string (draw numbers in particular).
type flexString string

func (s *flexString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || string(b) == "null" {
		*s = ""
		return nil
	}
	if b[0] == '"' {
		var v string
		if err := json.Unmarshal(b, &v); err != nil {
			return err
		}
		*s = flexString(v)
		return nil
	}
	*s = flexString(b)
	return nil
}

type divisionPayload struct {
	Division flexString `json:"division"`
	Match    string     `json:"match"`
	Winners  *int       `json:"winners"`
	Prize    string     `json:"prize"`
}

type financialsPayload struct {
	RolloverAmount string     `json:"rollover_amount"`
	RolloverCount  *int       `json:"rollover_count"`
	TotalPool      string     `json:"total_pool"`
	TotalSales     string     `json:"total_sales"`
	NextJackpot    string     `json:"next_jackpot"`
	Machine        string     `json:"machine"`
	NextDrawDate   flexString `json:"next_draw_date"`
}

type drawPayload struct {
	DrawNumber   flexString         `json:"draw_number"`
	DrawDate     flexString         `json:"draw_date"`
	MainNumbers  []int              `json:"main_numbers"`
	BonusNumbers []int              `json:"bonus_numbers"`
	Divisions    []divisionPayload  `json:"divisions"`
	Financials   *financialsPayload `json:"financials"`
	Confidence   float64            `json:"confidence"`
}

// parseResponse turns the model's JSON text into a validated DrawResult.
// Structural mismatches come back as SchemaMismatch, never as a partially
// trusted record.
func parseResponse(raw, game string, schema config.GameSchema, prov domain.Provenance) (domain.DrawResult, error) {
	raw = stripCodeFences(strings.TrimSpace(raw))
	if raw == "" {
		return domain.DrawResult{}, &Failure{Kind: KindEmptyResponse, Game: game}
	}
	var payload drawPayload
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		return domain.DrawResult{}, &Failure{Kind: KindMalformedJSON, Game: game, Err: err, Raw: raw}
	}
	if err := validate(payload, schema); err != nil {
		return domain.DrawResult{}, &Failure{Kind: KindSchemaMismatch, Game: game, Err: err}
	}

	prov.Confidence = payload.Confidence
	result := domain.DrawResult{
		Game:         game,
		DrawNumber:   strings.TrimSpace(string(payload.DrawNumber)),
		DrawDate:     string(payload.DrawDate),
		MainNumbers:  payload.MainNumbers,
		BonusNumbers: payload.BonusNumbers,
		Provenance:   prov,
	}
	for _, d := range payload.Divisions {
		result.Divisions = append(result.Divisions, domain.Division{
			Division: string(d.Division),
			Match:    d.Match,
			Winners:  d.Winners,
			Prize:    d.Prize,
		})
	}
	if f := payload.Financials; f != nil {
		result.Financials = &domain.Financials{
			RolloverAmount: f.RolloverAmount,
			RolloverCount:  f.RolloverCount,
			TotalPool:      f.TotalPool,
			TotalSales:     f.TotalSales,
			NextJackpot:    f.NextJackpot,
			Machine:        f.Machine,
			NextDrawDate:   string(f.NextDrawDate),
		}
	}
	return result, nil
}

func validate(p drawPayload, schema config.GameSchema) error {
	if strings.TrimSpace(string(p.DrawNumber)) == "" {
		return fmt.Errorf("draw_number missing")
	}
	if _, err := time.Parse("2006-01-02", string(p.DrawDate)); err != nil {
		return fmt.Errorf("draw_date %q not YYYY-MM-DD", p.DrawDate)
	}
	if len(p.MainNumbers) != schema.MainNumbers {
		return fmt.Errorf("expected %d main numbers, got %d", schema.MainNumbers, len(p.MainNumbers))
	}
	if len(p.BonusNumbers) != schema.BonusNumbers {
		return fmt.Errorf("expected %d bonus numbers, got %d", schema.BonusNumbers, len(p.BonusNumbers))
	}
	for _, n := range append(append([]int{}, p.MainNumbers...), p.BonusNumbers...) {
		if n <= 0 {
			return fmt.Errorf("ball number %d out of range", n)
		}
	}
	if p.Confidence < 0 || p.Confidence > 100 {
		return fmt.Errorf("confidence %v outside 0-100", p.Confidence)
	}
	return nil
}

func stripCodeFences(s string) string {
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
