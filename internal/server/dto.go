package server

import (
	"github.com/MrMafora/Snap-Lotto-sub000/internal/domain"
)

// DrawResponse is the API view of a stored draw result.
type DrawResponse struct {
	Game         string             `json:"game"`
	DrawNumber   string             `json:"draw_number"`
	DrawDate     string             `json:"draw_date" format:"date"`
	MainNumbers  []int              `json:"main_numbers"`
	BonusNumbers []int              `json:"bonus_numbers,omitempty"`
	Divisions    []domain.Division  `json:"divisions,omitempty"`
	Financials   *domain.Financials `json:"financials,omitempty"`
	Provenance   domain.Provenance  `json:"provenance"`
	CreatedAt    string             `json:"created_at,omitempty" format:"date-time"`
	UpdatedAt    string             `json:"updated_at,omitempty" format:"date-time"`
}

func drawResponse(r domain.DrawResult) DrawResponse {
	return DrawResponse{
		Game:         r.Game,
		DrawNumber:   r.DrawNumber,
		DrawDate:     r.DrawDate,
		MainNumbers:  r.MainNumbers,
		BonusNumbers: r.BonusNumbers,
		Divisions:    r.Divisions,
		Financials:   r.Financials,
		Provenance:   r.Provenance,
		CreatedAt:    r.CreatedAt,
		UpdatedAt:    r.UpdatedAt,
	}
}

func mapDraws(items []domain.DrawResult) []DrawResponse {
	out := make([]DrawResponse, 0, len(items))
	for _, r := range items {
		out = append(out, drawResponse(r))
	}
	return out
}
