package notify

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/MrMafora/Snap-Lotto-sub000/internal/domain"
)

// Webhooks delivers finished run reports as JSON POSTs. Delivery is best
// effort: failures are logged and never affect the run's outcome.
type Webhooks struct {
	URLs    []string
	Secret  string
	Client  *http.Client
	Log     *logrus.Logger
	Timeout time.Duration
}

func New(urls []string, secret string, log *logrus.Logger) *Webhooks {
	return &Webhooks{
		URLs:    urls,
		Secret:  secret,
		Client:  &http.Client{},
		Log:     log,
		Timeout: 10 * time.Second,
	}
}

// Notify posts the report to every configured URL. When a secret is set,
// the body is signed with HMAC-SHA256 in X-Snaplotto-Signature.
func (w *Webhooks) Notify(ctx context.Context, report domain.RunReport) {
	if len(w.URLs) == 0 {
		return
	}
	body, err := json.Marshal(report)
	if err != nil {
		w.Log.WithError(err).Error("marshal run report for webhook")
		return
	}
	var signature string
	if w.Secret != "" {
		mac := hmac.New(sha256.New, []byte(w.Secret))
		mac.Write(body)
		signature = "sha256=" + hex.EncodeToString(mac.Sum(nil))
	}
	for _, url := range w.URLs {
		if err := w.deliver(ctx, url, body, signature); err != nil {
			w.Log.WithFields(logrus.Fields{"url": url, "run_id": report.RunID}).WithError(err).Warn("webhook delivery failed")
			continue
		}
		w.Log.WithFields(logrus.Fields{"url": url, "run_id": report.RunID}).Debug("webhook delivered")
	}
}

func (w *Webhooks) deliver(ctx context.Context, url string, body []byte, signature string) error {
	ctx, cancel := context.WithTimeout(ctx, w.Timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if signature != "" {
		req.Header.Set("X-Snaplotto-Signature", signature)
	}
	resp, err := w.Client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return &statusError{Code: resp.StatusCode}
	}
	return nil
}

type statusError struct{ Code int }

func (e *statusError) Error() string {
	return http.StatusText(e.Code)
}
