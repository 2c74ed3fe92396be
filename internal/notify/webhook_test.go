package notify

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/sirupsen/logrus"

	"github.com/MrMafora/Snap-Lotto-sub000/internal/domain"
)

func quietLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

func TestNotifyDeliversSignedReport(t *testing.T) {
	const secret = "hook-secret"
	var gotBody []byte
	var gotSig string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotBody, _ = io.ReadAll(r.Body)
		gotSig = r.Header.Get("X-Snaplotto-Signature")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	w := New([]string{srv.URL}, secret, quietLogger())
	report := domain.RunReport{RunID: "r1", Job: "daily-ingest", Status: "ok"}
	w.Notify(context.Background(), report)

	var decoded domain.RunReport
	if err := json.Unmarshal(gotBody, &decoded); err != nil {
		t.Fatalf("body not JSON: %v", err)
	}
	if decoded.RunID != "r1" {
		t.Fatalf("delivered report = %+v", decoded)
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(gotBody)
	want := "sha256=" + hex.EncodeToString(mac.Sum(nil))
	if gotSig != want {
		t.Fatalf("signature = %q, want %q", gotSig, want)
	}
}

func TestNotifyNoSecretNoSignature(t *testing.T) {
	var gotSig string
	seen := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = true
		gotSig = r.Header.Get("X-Snaplotto-Signature")
	}))
	defer srv.Close()

	w := New([]string{srv.URL}, "", quietLogger())
	w.Notify(context.Background(), domain.RunReport{RunID: "r1"})

	if !seen {
		t.Fatal("webhook not delivered")
	}
	if gotSig != "" {
		t.Fatalf("unexpected signature %q", gotSig)
	}
}

func TestNotifyFailuresAreSwallowed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	// Must not panic or error; delivery failures only log.
	w := New([]string{srv.URL, "http://127.0.0.1:1/unreachable"}, "", quietLogger())
	w.Notify(context.Background(), domain.RunReport{RunID: "r1"})
}
