package server

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"mastersync/internal/config"
	"mastersync/internal/engine"
	"mastersync/internal/logger"
	"mastersync/internal/repo"
)

const (
	defaultWebhookInterval = 2 * time.Second
	defaultWebhookTimeout  = 5 * time.Second
	defaultWebhookBatch    = 100
)

// webhookDispatcher drains the notification outbox into the configured sinks.
// A notification is marked delivered once every enabled hook whose code filter
// matches has accepted it.
type webhookDispatcher struct {
	engine   engine.Engine
	webhooks []config.WebhookConfig
	client   *http.Client
	log      *logger.Logger
}

// StartWebhookDispatcher begins outbox delivery in the background. No-op when
// no webhooks are configured.
func StartWebhookDispatcher(e engine.Engine, log *logger.Logger) {
	if e.Config == nil || len(e.Config.Webhooks) == 0 {
		return
	}
	if log == nil {
		log = logger.Nop()
	}
	d := &webhookDispatcher{
		engine:   e,
		webhooks: e.Config.Webhooks,
		client:   &http.Client{Timeout: defaultWebhookTimeout},
		log:      log,
	}
	go d.run()
}

func (d *webhookDispatcher) run() {
	ticker := time.NewTicker(defaultWebhookInterval)
	defer ticker.Stop()
	for {
		d.dispatchPending()
		<-ticker.C
	}
}

func (d *webhookDispatcher) dispatchPending() {
	ctx := context.Background()
	pending, err := d.engine.Repo.UndeliveredNotifications(ctx, defaultWebhookBatch)
	if err != nil {
		d.log.Error("fetch pending notifications failed", "error", err)
		return
	}
	for _, n := range pending {
		if !d.deliver(ctx, n) {
			// Stop on the first failure so ordering is preserved.
			return
		}
		if err := d.engine.Repo.MarkNotificationDelivered(ctx, n.ID, time.Now()); err != nil {
			d.log.Error("mark notification delivered failed", "id", n.ID, "error", err)
			return
		}
		d.log.Info("notification delivered", "id", n.ID, "code", n.Code)
	}
}

func (d *webhookDispatcher) deliver(ctx context.Context, n repo.StoredNotification) bool {
	for _, hook := range d.webhooks {
		if hook.Enabled != nil && !*hook.Enabled {
			continue
		}
		if strings.TrimSpace(hook.URL) == "" {
			continue
		}
		if !codeMatches(hook.Codes, n.Code) {
			continue
		}
		if err := d.post(ctx, hook, n); err != nil {
			d.log.Error("webhook delivery failed", "url", hook.URL, "id", n.ID, "error", err)
			return false
		}
	}
	return true
}

func (d *webhookDispatcher) post(ctx context.Context, hook config.WebhookConfig, n repo.StoredNotification) error {
	timeout := defaultWebhookTimeout
	if hook.TimeoutSeconds > 0 {
		timeout = time.Duration(hook.TimeoutSeconds) * time.Second
	}
	client := d.client
	if timeout != d.client.Timeout {
		client = &http.Client{Timeout: timeout}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, hook.URL, bytes.NewReader([]byte(n.PayloadJSON)))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Mastersync-Code", n.Code)
	req.Header.Set("X-Mastersync-Delivery", fmt.Sprintf("%d", n.ID))
	req.Header.Set("X-Mastersync-Master", n.MasterUUID)
	if strings.TrimSpace(hook.Secret) != "" {
		req.Header.Set("X-Mastersync-Secret", hook.Secret)
	}
	res, err := client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		bodyBytes, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return fmt.Errorf("status %d: %s", res.StatusCode, strings.TrimSpace(string(bodyBytes)))
	}
	return nil
}

func codeMatches(codes []string, code string) bool {
	if len(codes) == 0 {
		return true
	}
	for _, c := range codes {
		if strings.TrimSpace(c) == code {
			return true
		}
	}
	return false
}
