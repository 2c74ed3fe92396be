package domain

// Division is one prize tier of a draw: its label, the match requirement,
// the number of winners (nil when the publication omits it) and the payout
// exactly as printed by the source, e.g. "R5,804,873.30".
type Division struct {
	Division string `json:"division"`
	Match    string `json:"match"`
	Winners  *int   `json:"winners,omitempty"`
	Prize    string `json:"prize,omitempty"`
}

// Financials carries the optional money/apparatus block of a publication.
// Amounts stay literal source strings; only the rollover count is numeric.
type Financials struct {
	RolloverAmount string `json:"rollover_amount,omitempty"`
	RolloverCount  *int   `json:"rollover_count,omitempty"`
	TotalPool      string `json:"total_pool,omitempty"`
	TotalSales     string `json:"total_sales,omitempty"`
	NextJackpot    string `json:"next_jackpot,omitempty"`
	Machine        string `json:"machine,omitempty"`
	NextDrawDate   string `json:"next_draw_date,omitempty" format:"date"`
}

// Provenance records which extraction produced a DrawResult.
type Provenance struct {
	Provider    string  `json:"provider"`
	Model       string  `json:"model"`
	ExtractedAt string  `json:"extracted_at" format:"date-time"`
	Confidence  float64 `json:"confidence"`
}

// DrawResult is one published outcome of a single lottery draw.
// (Game, DrawNumber) is unique; games in the same draw group share
// DrawNumber and DrawDate.
type DrawResult struct {
	ID           int64       `json:"id,omitempty"`
	Game         string      `json:"game"`
	DrawNumber   string      `json:"draw_number"`
	DrawDate     string      `json:"draw_date" format:"date"`
	MainNumbers  []int       `json:"main_numbers"`
	BonusNumbers []int       `json:"bonus_numbers,omitempty"`
	Divisions    []Division  `json:"divisions,omitempty"`
	Financials   *Financials `json:"financials,omitempty"`
	Provenance   Provenance  `json:"provenance"`
	CreatedAt    string      `json:"created_at,omitempty" format:"date-time"`
	UpdatedAt    string      `json:"updated_at,omitempty" format:"date-time"`
}

// UpsertOutcome reports what an idempotent upsert did.
type UpsertOutcome string

const (
	Inserted  UpsertOutcome = "inserted"
	Updated   UpsertOutcome = "updated"
	Unchanged UpsertOutcome = "unchanged"
)

// Richer reports whether incoming carries strictly more information than
// existing and should replace it. Divisions present on one side only decide
// it; after that, newly present financials or a more complete winner-count
// column count as authoritative corrections. Ties go to existing, so
// re-ingesting the same publication is a no-op.
func Richer(incoming, existing DrawResult) bool {
	if len(incoming.Divisions) > 0 && len(existing.Divisions) == 0 {
		return true
	}
	if len(incoming.Divisions) == 0 && len(existing.Divisions) > 0 {
		return false
	}
	if incoming.Financials != nil && existing.Financials == nil {
		return true
	}
	if len(incoming.BonusNumbers) > 0 && len(existing.BonusNumbers) == 0 {
		return true
	}
	return countWinners(incoming.Divisions) > countWinners(existing.Divisions)
}

func countWinners(divs []Division) int {
	n := 0
	for _, d := range divs {
		if d.Winners != nil {
			n++
		}
	}
	return n
}

// GameStatus is the per-game outcome within one run.
type GameStatus string

const (
	GameSucceeded GameStatus = "succeeded"
	GameRejected  GameStatus = "rejected"
	GameFailed    GameStatus = "failed"
	GameSkipped   GameStatus = "skipped"
)

// GameReport is the per-game detail of a run.
type GameReport struct {
	Game       string        `json:"game"`
	Status     GameStatus    `json:"status" enum:"succeeded,rejected,failed,skipped"`
	Outcome    UpsertOutcome `json:"outcome,omitempty" enum:"inserted,updated,unchanged"`
	DrawNumber string        `json:"draw_number,omitempty"`
	UsedCache  bool          `json:"used_cache,omitempty"`
	Detail     string        `json:"detail,omitempty"`
}

// RunReport summarizes one ingestion run.
type RunReport struct {
	RunID       string       `json:"run_id"`
	Job         string       `json:"job"`
	Status      string       `json:"status" enum:"ok,partial,failed"`
	StartedAt   string       `json:"started_at" format:"date-time"`
	FinishedAt  string       `json:"finished_at" format:"date-time"`
	DurationMS  int64        `json:"duration_ms"`
	Total       int          `json:"total"`
	Succeeded   int          `json:"succeeded"`
	Failed      int          `json:"failed"`
	Rejected    int          `json:"rejected"`
	Inserted    int          `json:"inserted"`
	Updated     int          `json:"updated"`
	Unchanged   int          `json:"unchanged"`
	Games       []GameReport `json:"games"`
	GroupErrors []string     `json:"group_errors,omitempty"`
	StoreErrors []string     `json:"store_errors,omitempty"`
}
