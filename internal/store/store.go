package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MrMafora/Snap-Lotto-sub000/internal/domain"
	"github.com/MrMafora/Snap-Lotto-sub000/internal/events"
)

// Store is the durable draw-result table plus the run bookkeeping around it
// (claims, run reports, event log).
type Store struct {
	DB     *sql.DB
	Events events.Writer
	Now    func() time.Time
}

var ErrNotFound = errors.New("not found")

func New(db *sql.DB) Store {
	return Store{
		DB:     db,
		Events: events.Writer{DB: db},
		Now:    time.Now,
	}
}

func (s Store) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

const drawColumns = `id,game,draw_number,draw_date,main_numbers,bonus_numbers,divisions_json,financials_json,provider,model,extracted_at,confidence,created_at,updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDraw(row rowScanner) (domain.DrawResult, error) {
	var (
		r                          domain.DrawResult
		mainJSON                   string
		bonusJSON, divJSON, finJSON sql.NullString
	)
	err := row.Scan(&r.ID, &r.Game, &r.DrawNumber, &r.DrawDate, &mainJSON, &bonusJSON, &divJSON, &finJSON,
		&r.Provenance.Provider, &r.Provenance.Model, &r.Provenance.ExtractedAt, &r.Provenance.Confidence,
		&r.CreatedAt, &r.UpdatedAt)
	if err == sql.ErrNoRows {
		return r, ErrNotFound
	}
	if err != nil {
		return r, err
	}
	if err := json.Unmarshal([]byte(mainJSON), &r.MainNumbers); err != nil {
		return r, fmt.Errorf("decode main_numbers for %s/%s: %w", r.Game, r.DrawNumber, err)
	}
	if bonusJSON.Valid && bonusJSON.String != "" {
		if err := json.Unmarshal([]byte(bonusJSON.String), &r.BonusNumbers); err != nil {
			return r, fmt.Errorf("decode bonus_numbers for %s/%s: %w", r.Game, r.DrawNumber, err)
		}
	}
	if divJSON.Valid && divJSON.String != "" {
		if err := json.Unmarshal([]byte(divJSON.String), &r.Divisions); err != nil {
			return r, fmt.Errorf("decode divisions for %s/%s: %w", r.Game, r.DrawNumber, err)
		}
	}
	if finJSON.Valid && finJSON.String != "" {
		var f domain.Financials
		if err := json.Unmarshal([]byte(finJSON.String), &f); err != nil {
			return r, fmt.Errorf("decode financials for %s/%s: %w", r.Game, r.DrawNumber, err)
		}
		r.Financials = &f
	}
	return r, nil
}

// GetDraw looks a record up by its unique (game, drawNumber) key.
func (s Store) GetDraw(ctx context.Context, game, drawNumber string) (domain.DrawResult, error) {
	row := s.DB.QueryRowContext(ctx, `SELECT `+drawColumns+` FROM draw_results WHERE game=? AND draw_number=?`, game, drawNumber)
	return scanDraw(row)
}

// LatestDraw returns the most recent record for a game by draw date.
func (s Store) LatestDraw(ctx context.Context, game string) (domain.DrawResult, error) {
	row := s.DB.QueryRowContext(ctx, `SELECT `+drawColumns+` FROM draw_results WHERE game=? ORDER BY draw_date DESC, draw_number DESC LIMIT 1`, game)
	return scanDraw(row)
}

// ListDraws returns records for a game, newest first.
func (s Store) ListDraws(ctx context.Context, game string, limit int) ([]domain.DrawResult, error) {
	query := `SELECT ` + drawColumns + ` FROM draw_results WHERE game=? ORDER BY draw_date DESC, draw_number DESC`
	args := []any{game}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := s.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.DrawResult
	for rows.Next() {
		r, err := scanDraw(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, r)
	}
	return res, rows.Err()
}

// GroupDrawNumber returns the persisted draw number for any member of a
// draw group on a given date. A persisted number is authoritative for the
// whole group, so the first hit in member priority order wins.
func (s Store) GroupDrawNumber(ctx context.Context, games []string, drawDate string) (string, bool, error) {
	for _, game := range games {
		var number string
		err := s.DB.QueryRowContext(ctx, `SELECT draw_number FROM draw_results WHERE game=? AND draw_date=?`, game, drawDate).Scan(&number)
		if err == sql.ErrNoRows {
			continue
		}
		if err != nil {
			return "", false, err
		}
		return number, true, nil
	}
	return "", false, nil
}

// UpsertDraw writes a record idempotently. Absent key inserts; a present
// key updates only when the incoming record is richer, merging so that
// divisions or financials present on only one side are never lost. The
// record and its nested tiers commit in one transaction.
func (s Store) UpsertDraw(ctx context.Context, r domain.DrawResult, runID string) (domain.UpsertOutcome, error) {
	if r.Game == "" || r.DrawNumber == "" {
		return "", fmt.Errorf("draw result requires game and draw number")
	}
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return "", err
	}
	defer tx.Rollback()

	now := s.now().UTC().Format(time.RFC3339)
	existing, err := scanDraw(tx.QueryRowContext(ctx, `SELECT `+drawColumns+` FROM draw_results WHERE game=? AND draw_number=?`, r.Game, r.DrawNumber))
	switch {
	case errors.Is(err, ErrNotFound):
		if err := insertDraw(ctx, tx, r, now); err != nil {
			return "", err
		}
		if err := s.Events.Append(ctx, tx, "draw.insert", runID, r.Game, r.DrawNumber, events.EventPayload{"draw_date": r.DrawDate}); err != nil {
			return "", err
		}
		if err := tx.Commit(); err != nil {
			return "", err
		}
		return domain.Inserted, nil
	case err != nil:
		return "", err
	}

	if sameInformation(r, existing) || !domain.Richer(r, existing) {
		// Nothing to gain; leave the persisted row untouched.
		return domain.Unchanged, nil
	}

	merged := merge(r, existing)
	if err := updateDraw(ctx, tx, merged, now); err != nil {
		return "", err
	}
	if err := s.Events.Append(ctx, tx, "draw.update", runID, r.Game, r.DrawNumber, events.EventPayload{"draw_date": merged.DrawDate}); err != nil {
		return "", err
	}
	if err := tx.Commit(); err != nil {
		return "", err
	}
	return domain.Updated, nil
}

// merge keeps the richer side per field so updates never drop data the
// persisted row already has.
func merge(incoming, existing domain.DrawResult) domain.DrawResult {
	out := incoming
	if len(out.Divisions) == 0 {
		out.Divisions = existing.Divisions
	}
	if out.Financials == nil {
		out.Financials = existing.Financials
	}
	if len(out.BonusNumbers) == 0 {
		out.BonusNumbers = existing.BonusNumbers
	}
	return out
}

func sameInformation(a, b domain.DrawResult) bool {
	type core struct {
		Date string
		Main []int
		Bon  []int
		Div  []domain.Division
		Fin  *domain.Financials
	}
	aj, _ := json.Marshal(core{a.DrawDate, a.MainNumbers, a.BonusNumbers, a.Divisions, a.Financials})
	bj, _ := json.Marshal(core{b.DrawDate, b.MainNumbers, b.BonusNumbers, b.Divisions, b.Financials})
	return string(aj) == string(bj)
}

func insertDraw(ctx context.Context, tx *sql.Tx, r domain.DrawResult, now string) error {
	mainJSON, bonusJSON, divJSON, finJSON, err := encodeDraw(r)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO draw_results(game,draw_number,draw_date,main_numbers,bonus_numbers,divisions_json,financials_json,provider,model,extracted_at,confidence,created_at,updated_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		r.Game, r.DrawNumber, r.DrawDate, mainJSON, bonusJSON, divJSON, finJSON,
		r.Provenance.Provider, r.Provenance.Model, r.Provenance.ExtractedAt, r.Provenance.Confidence, now, now)
	if err != nil && strings.Contains(err.Error(), "UNIQUE") {
		return fmt.Errorf("draw %s/%s already exists: %w", r.Game, r.DrawNumber, err)
	}
	return err
}

func updateDraw(ctx context.Context, tx *sql.Tx, r domain.DrawResult, now string) error {
	mainJSON, bonusJSON, divJSON, finJSON, err := encodeDraw(r)
	if err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx, `UPDATE draw_results SET draw_date=?,main_numbers=?,bonus_numbers=?,divisions_json=?,financials_json=?,provider=?,model=?,extracted_at=?,confidence=?,updated_at=? WHERE game=? AND draw_number=?`,
		r.DrawDate, mainJSON, bonusJSON, divJSON, finJSON,
		r.Provenance.Provider, r.Provenance.Model, r.Provenance.ExtractedAt, r.Provenance.Confidence, now,
		r.Game, r.DrawNumber)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func encodeDraw(r domain.DrawResult) (mainJSON string, bonusJSON, divJSON, finJSON any, err error) {
	m, err := json.Marshal(r.MainNumbers)
	if err != nil {
		return "", nil, nil, nil, err
	}
	mainJSON = string(m)
	if len(r.BonusNumbers) > 0 {
		b, err := json.Marshal(r.BonusNumbers)
		if err != nil {
			return "", nil, nil, nil, err
		}
		bonusJSON = string(b)
	}
	if len(r.Divisions) > 0 {
		d, err := json.Marshal(r.Divisions)
		if err != nil {
			return "", nil, nil, nil, err
		}
		divJSON = string(d)
	}
	if r.Financials != nil {
		f, err := json.Marshal(r.Financials)
		if err != nil {
			return "", nil, nil, nil, err
		}
		finJSON = string(f)
	}
	return mainJSON, bonusJSON, divJSON, finJSON, nil
}

// ClaimRun atomically claims a scheduled run for (job, runDate). Only the
// caller that wins the insert may execute; everyone else sees false.
func (s Store) ClaimRun(ctx context.Context, job, runDate, owner string) (bool, error) {
	res, err := s.DB.ExecContext(ctx, `INSERT INTO run_claims(job,run_date,claimed_by,claimed_at) VALUES (?,?,?,?)
ON CONFLICT(job,run_date) DO NOTHING`, job, runDate, owner, s.now().UTC().Format(time.RFC3339))
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// ReleaseRun hands a claim back so the date can be retried, used when the
// claim winner could not actually execute the run.
func (s Store) ReleaseRun(ctx context.Context, job, runDate string) error {
	_, err := s.DB.ExecContext(ctx, `DELETE FROM run_claims WHERE job=? AND run_date=?`, job, runDate)
	return err
}

// RecordRun persists a run report so status survives restarts.
func (s Store) RecordRun(ctx context.Context, report domain.RunReport) error {
	payload, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("marshal run report: %w", err)
	}
	_, err = s.DB.ExecContext(ctx, `INSERT INTO runs(run_id,job,status,started_at,finished_at,report_json) VALUES (?,?,?,?,?,?)`,
		report.RunID, report.Job, report.Status, report.StartedAt, report.FinishedAt, string(payload))
	return err
}

// LastRun returns the most recent run report, optionally scoped to a job.
func (s Store) LastRun(ctx context.Context, job string) (domain.RunReport, error) {
	query := `SELECT report_json FROM runs`
	args := []any{}
	if job != "" {
		query += ` WHERE job=?`
		args = append(args, job)
	}
	query += ` ORDER BY started_at DESC LIMIT 1`
	var payload string
	err := s.DB.QueryRowContext(ctx, query, args...).Scan(&payload)
	if err == sql.ErrNoRows {
		return domain.RunReport{}, ErrNotFound
	}
	if err != nil {
		return domain.RunReport{}, err
	}
	var report domain.RunReport
	if err := json.Unmarshal([]byte(payload), &report); err != nil {
		return domain.RunReport{}, err
	}
	return report, nil
}
