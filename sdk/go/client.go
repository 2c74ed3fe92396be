package snaplottosdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal Snap Lotto HTTP API client.
type Client struct {
	BaseURL     string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

// Division is one prize tier of a draw.
type Division struct {
	Division string `json:"division"`
	Match    string `json:"match"`
	Winners  *int   `json:"winners,omitempty"`
	Prize    string `json:"prize,omitempty"`
}

// Draw represents the API draw-result model.
type Draw struct {
	Game         string         `json:"game"`
	DrawNumber   string         `json:"draw_number"`
	DrawDate     string         `json:"draw_date"`
	MainNumbers  []int          `json:"main_numbers"`
	BonusNumbers []int          `json:"bonus_numbers,omitempty"`
	Divisions    []Division     `json:"divisions,omitempty"`
	Financials   map[string]any `json:"financials,omitempty"`
	Provenance   map[string]any `json:"provenance,omitempty"`
}

// GameReport is the per-game detail within a run report.
type GameReport struct {
	Game       string `json:"game"`
	Status     string `json:"status"`
	Outcome    string `json:"outcome,omitempty"`
	DrawNumber string `json:"draw_number,omitempty"`
	UsedCache  bool   `json:"used_cache,omitempty"`
	Detail     string `json:"detail,omitempty"`
}

// RunReport summarizes one ingestion run.
type RunReport struct {
	RunID      string       `json:"run_id"`
	Job        string       `json:"job"`
	Status     string       `json:"status"`
	StartedAt  string       `json:"started_at"`
	FinishedAt string       `json:"finished_at"`
	Total      int          `json:"total"`
	Succeeded  int          `json:"succeeded"`
	Failed     int          `json:"failed"`
	Rejected   int          `json:"rejected"`
	Games      []GameReport `json:"games"`
}

// Status is the scheduler's live view.
type Status struct {
	Running bool `json:"running"`
	Jobs    []struct {
		Name    string `json:"name"`
		At      string `json:"at"`
		NextRun string `json:"next_run"`
	} `json:"jobs"`
	LastRun *RunReport `json:"last_run,omitempty"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// Results lists stored draws for a game, newest first.
func (c *Client) Results(ctx context.Context, game string, limit int) ([]Draw, error) {
	endpoint := fmt.Sprintf("results/%s", url.PathEscape(game))
	if limit > 0 {
		endpoint = fmt.Sprintf("%s?limit=%d", endpoint, limit)
	}
	var resp []Draw
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// LatestResult returns the most recent draw for a game.
func (c *Client) LatestResult(ctx context.Context, game string) (Draw, error) {
	var resp Draw
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("results/%s/latest", url.PathEscape(game)), nil, &resp)
	return resp, err
}

// Result fetches one draw by its number.
func (c *Client) Result(ctx context.Context, game, drawNumber string) (Draw, error) {
	var resp Draw
	endpoint := fmt.Sprintf("results/%s/%s", url.PathEscape(game), url.PathEscape(drawNumber))
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// Status returns the scheduler status and last run.
func (c *Client) Status(ctx context.Context) (Status, error) {
	var resp Status
	err := c.do(ctx, http.MethodGet, "status", nil, &resp)
	return resp, err
}

// LatestRun returns the most recent run report, optionally for one job.
func (c *Client) LatestRun(ctx context.Context, job string) (RunReport, error) {
	endpoint := "runs/latest"
	if job != "" {
		endpoint += "?job=" + url.QueryEscape(job)
	}
	var resp RunReport
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// Trigger runs a configured job immediately.
func (c *Client) Trigger(ctx context.Context, job string) (RunReport, error) {
	var resp RunReport
	endpoint := fmt.Sprintf("jobs/%s/trigger", url.PathEscape(job))
	err := c.do(ctx, http.MethodPost, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.BearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(b))}
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
