package capture

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// State tracks one game's progress through a capture attempt.
type State string

const (
	StateIdle      State = "idle"
	StateProbing   State = "probing"
	StateCapturing State = "capturing"
	StateCaptured  State = "captured"
	StateFailed    State = "failed"
)

// ErrNoArtifact means the source was unreachable and no cached artifact
// exists to fall back to.
var ErrNoArtifact = errors.New("capture: source unreachable and no cached artifact")

// Source produces one screenshot per game. Probe is a cheap reachability
// check used to decide between a fresh capture and the cached fallback.
type Source interface {
	Probe(ctx context.Context) error
	Capture(ctx context.Context, game string) ([]byte, error)
}

// HTTPSource captures via the screenshot service's HTTP API.
type HTTPSource struct {
	BaseURL string
	Client  *http.Client
}

func NewHTTPSource(baseURL string, timeout time.Duration) *HTTPSource {
	return &HTTPSource{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Client: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:        10,
				IdleConnTimeout:     30 * time.Second,
				TLSHandshakeTimeout: 10 * time.Second,
			},
		},
	}
}

func (s *HTTPSource) Probe(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, s.BaseURL+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := s.Client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 500 {
		return fmt.Errorf("capture source unhealthy: %s", resp.Status)
	}
	return nil
}

func (s *HTTPSource) Capture(ctx context.Context, game string) ([]byte, error) {
	u := s.BaseURL + "/screenshot?game=" + url.QueryEscape(game)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	resp, err := s.Client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("capture %s: unexpected status %s", game, resp.Status)
	}
	return io.ReadAll(resp.Body)
}

// Artifact is one captured screenshot. Cached marks a fallback to a
// previous run's artifact.
type Artifact struct {
	Game       string
	Path       string
	Data       []byte
	Cached     bool
	CapturedAt time.Time
}

// Cache keeps the newest accepted artifact per game on disk. Older
// artifacts for a game are removed only after a new one has been written,
// so a failed run never loses the last good input.
type Cache struct {
	Dir string
}

const stampLayout = "20060102T150405"

func (c Cache) fileName(game string, ts time.Time) string {
	return fmt.Sprintf("%s_%s.png", game, ts.UTC().Format(stampLayout))
}

func (c Cache) filesFor(game string) ([]string, error) {
	entries, err := os.ReadDir(c.Dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if strings.HasPrefix(e.Name(), game+"_") && strings.HasSuffix(e.Name(), ".png") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

// Latest returns the newest cached artifact for a game.
func (c Cache) Latest(game string) (Artifact, error) {
	names, err := c.filesFor(game)
	if err != nil {
		return Artifact{}, err
	}
	if len(names) == 0 {
		return Artifact{}, os.ErrNotExist
	}
	name := names[len(names)-1]
	path := filepath.Join(c.Dir, name)
	data, err := os.ReadFile(path)
	if err != nil {
		return Artifact{}, err
	}
	ts, _ := time.Parse(stampLayout, strings.TrimSuffix(strings.TrimPrefix(name, game+"_"), ".png"))
	return Artifact{Game: game, Path: path, Data: data, Cached: true, CapturedAt: ts}, nil
}

// Put writes a freshly accepted artifact, then removes the superseded ones.
func (c Cache) Put(game string, data []byte, now time.Time) (Artifact, error) {
	if err := os.MkdirAll(c.Dir, 0o755); err != nil {
		return Artifact{}, err
	}
	old, err := c.filesFor(game)
	if err != nil {
		return Artifact{}, err
	}
	name := c.fileName(game, now)
	path := filepath.Join(c.Dir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return Artifact{}, err
	}
	for _, o := range old {
		if o == name {
			continue
		}
		_ = os.Remove(filepath.Join(c.Dir, o))
	}
	return Artifact{Game: game, Path: path, Data: data, CapturedAt: now}, nil
}

// Sweep removes artifacts past the retention window, always keeping the
// newest one per game.
func (c Cache) Sweep(retention time.Duration, now time.Time) error {
	entries, err := os.ReadDir(c.Dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	newest := map[string]string{}
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".png") {
			continue
		}
		game := e.Name()[:strings.LastIndex(e.Name(), "_")]
		if e.Name() > newest[game] {
			newest[game] = e.Name()
		}
	}
	cutoff := now.Add(-retention)
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".png") {
			continue
		}
		game := e.Name()[:strings.LastIndex(e.Name(), "_")]
		if e.Name() == newest[game] {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			_ = os.Remove(filepath.Join(c.Dir, e.Name()))
		}
	}
	return nil
}

// Capturer drives the per-game state machine:
// Idle -> Probing -> Capturing -> {Captured | Failed}.
type Capturer struct {
	Source      Source
	Cache       Cache
	Attempts    int
	Timeout     time.Duration
	TimeoutStep time.Duration
	RetrySleep  time.Duration
	MinBytes    int64
	Log         *logrus.Logger
	Now         func() time.Time
}

func (c *Capturer) now() time.Time {
	if c.Now != nil {
		return c.Now()
	}
	return time.Now()
}

// Run captures one game's screenshot. An unreachable source falls back to
// the cached artifact rather than failing; exhausting all capture attempts
// fails the game (never the run) and leaves any cached artifact in place.
func (c *Capturer) Run(ctx context.Context, game string) (Artifact, error) {
	log := c.Log.WithField("game", game)

	log.WithField("state", StateProbing).Debug("probing capture source")
	probeCtx, cancel := context.WithTimeout(ctx, c.Timeout)
	err := c.Source.Probe(probeCtx)
	cancel()
	if err != nil {
		cached, cacheErr := c.Cache.Latest(game)
		if cacheErr != nil {
			log.WithError(err).Warn("source unreachable, no cached artifact")
			return Artifact{}, ErrNoArtifact
		}
		log.WithField("artifact", cached.Path).Info("source unreachable, using cached artifact")
		return cached, nil
	}

	attempts := c.Attempts
	if attempts <= 0 {
		attempts = 1
	}
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return Artifact{}, err
		}
		timeout := c.Timeout + time.Duration(attempt-1)*c.TimeoutStep
		log.WithFields(logrus.Fields{"state": StateCapturing, "attempt": attempt, "timeout": timeout}).Debug("capturing")
		capCtx, cancel := context.WithTimeout(ctx, timeout)
		data, err := c.Source.Capture(capCtx, game)
		cancel()
		if err != nil {
			lastErr = err
			log.WithError(err).WithField("attempt", attempt).Warn("capture attempt failed")
		} else if int64(len(data)) < c.MinBytes {
			lastErr = fmt.Errorf("capture %s: artifact too small (%d bytes)", game, len(data))
			log.WithField("bytes", len(data)).Warn("capture below size threshold, likely blank page")
		} else {
			artifact, err := c.Cache.Put(game, data, c.now())
			if err != nil {
				return Artifact{}, fmt.Errorf("store artifact for %s: %w", game, err)
			}
			log.WithField("artifact", artifact.Path).Info("capture accepted")
			return artifact, nil
		}
		if attempt < attempts && c.RetrySleep > 0 {
			select {
			case <-ctx.Done():
				return Artifact{}, ctx.Err()
			case <-time.After(c.RetrySleep):
			}
		}
	}
	log.WithError(lastErr).WithField("state", StateFailed).Warn("capture failed after all attempts")
	return Artifact{}, fmt.Errorf("capture %s failed after %d attempts: %w", game, attempts, lastErr)
}
