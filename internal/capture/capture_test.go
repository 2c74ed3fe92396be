package capture

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
)

type fakeSource struct {
	probeErr error
	// responses are consumed per Capture call; the last one repeats.
	responses []fakeResponse
	calls     int
}

type fakeResponse struct {
	data []byte
	err  error
}

func (f *fakeSource) Probe(ctx context.Context) error { return f.probeErr }

func (f *fakeSource) Capture(ctx context.Context, game string) ([]byte, error) {
	i := f.calls
	if i >= len(f.responses) {
		i = len(f.responses) - 1
	}
	f.calls++
	r := f.responses[i]
	return r.data, r.err
}

func quietLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

func testCapturer(src Source, dir string) *Capturer {
	return &Capturer{
		Source:   src,
		Cache:    Cache{Dir: dir},
		Attempts: 3,
		Timeout:  time.Second,
		MinBytes: 10,
		Log:      quietLogger(),
	}
}

func TestRunCapturesAndCaches(t *testing.T) {
	dir := t.TempDir()
	payload := []byte("0123456789abcdef")
	c := testCapturer(&fakeSource{responses: []fakeResponse{{data: payload}}}, dir)

	a, err := c.Run(context.Background(), "lotto")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if a.Cached {
		t.Fatal("fresh capture must not be marked cached")
	}
	got, err := os.ReadFile(a.Path)
	if err != nil || string(got) != string(payload) {
		t.Fatalf("artifact not on disk: %v", err)
	}
}

func TestRunRetriesSmallArtifacts(t *testing.T) {
	dir := t.TempDir()
	src := &fakeSource{responses: []fakeResponse{
		{data: []byte("tiny")},
		{data: []byte("0123456789abcdef")},
	}}
	c := testCapturer(src, dir)

	a, err := c.Run(context.Background(), "lotto")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if src.calls != 2 {
		t.Fatalf("calls = %d, want 2", src.calls)
	}
	if len(a.Data) != 16 {
		t.Fatalf("wrong artifact accepted: %d bytes", len(a.Data))
	}
}

func TestRunFailsAfterAllAttempts(t *testing.T) {
	dir := t.TempDir()
	src := &fakeSource{responses: []fakeResponse{{err: errors.New("boom")}}}
	c := testCapturer(src, dir)

	_, err := c.Run(context.Background(), "lotto")
	if err == nil {
		t.Fatal("expected failure")
	}
	if src.calls != 3 {
		t.Fatalf("calls = %d, want 3", src.calls)
	}
}

func TestRunFallsBackToCacheWhenUnreachable(t *testing.T) {
	dir := t.TempDir()
	cache := Cache{Dir: dir}
	if _, err := cache.Put("lotto", []byte("cached-artifact-data"), time.Date(2025, 6, 11, 21, 30, 0, 0, time.UTC)); err != nil {
		t.Fatal(err)
	}

	c := testCapturer(&fakeSource{probeErr: errors.New("connection refused")}, dir)
	a, err := c.Run(context.Background(), "lotto")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !a.Cached {
		t.Fatal("fallback artifact must be marked cached")
	}
	if string(a.Data) != "cached-artifact-data" {
		t.Fatalf("wrong artifact: %q", a.Data)
	}
}

func TestRunNoSourceNoCache(t *testing.T) {
	c := testCapturer(&fakeSource{probeErr: errors.New("connection refused")}, t.TempDir())
	_, err := c.Run(context.Background(), "lotto")
	if !errors.Is(err, ErrNoArtifact) {
		t.Fatalf("err = %v, want ErrNoArtifact", err)
	}
}

func TestCachePutSupersedesOldArtifacts(t *testing.T) {
	dir := t.TempDir()
	cache := Cache{Dir: dir}
	if _, err := cache.Put("lotto", []byte("old"), time.Date(2025, 6, 11, 21, 30, 0, 0, time.UTC)); err != nil {
		t.Fatal(err)
	}
	if _, err := cache.Put("lotto", []byte("new"), time.Date(2025, 6, 14, 21, 30, 0, 0, time.UTC)); err != nil {
		t.Fatal(err)
	}
	names, err := cache.filesFor("lotto")
	if err != nil {
		t.Fatal(err)
	}
	if len(names) != 1 {
		t.Fatalf("files = %v, want exactly the newest", names)
	}
	a, err := cache.Latest("lotto")
	if err != nil || string(a.Data) != "new" {
		t.Fatalf("latest = %q err=%v", a.Data, err)
	}
}

func TestCacheLatestIsPerGame(t *testing.T) {
	dir := t.TempDir()
	cache := Cache{Dir: dir}
	now := time.Date(2025, 6, 14, 21, 30, 0, 0, time.UTC)
	if _, err := cache.Put("lotto", []byte("lotto-data"), now); err != nil {
		t.Fatal(err)
	}
	if _, err := cache.Put("powerball", []byte("pb-data"), now); err != nil {
		t.Fatal(err)
	}
	a, err := cache.Latest("powerball")
	if err != nil || string(a.Data) != "pb-data" {
		t.Fatalf("latest powerball = %q err=%v", a.Data, err)
	}
}

func TestSweepKeepsNewestPerGame(t *testing.T) {
	dir := t.TempDir()
	cache := Cache{Dir: dir}
	now := time.Now()

	// Two artifacts for one game, both older than retention on mtime.
	for _, stamp := range []time.Time{now.Add(-40 * 24 * time.Hour), now.Add(-30 * 24 * time.Hour)} {
		name := cache.fileName("lotto", stamp)
		path := filepath.Join(dir, name)
		if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
			t.Fatal(err)
		}
		if err := os.Chtimes(path, stamp, stamp); err != nil {
			t.Fatal(err)
		}
	}

	if err := cache.Sweep(14*24*time.Hour, now); err != nil {
		t.Fatalf("sweep: %v", err)
	}
	names, err := cache.filesFor("lotto")
	if err != nil {
		t.Fatal(err)
	}
	if len(names) != 1 {
		t.Fatalf("files after sweep = %v, want the newest kept", names)
	}
}
