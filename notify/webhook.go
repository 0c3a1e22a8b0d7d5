package notify

import (
	"fmt"
	"time"

	iface "CoDetServer/interface"

	"github.com/go-resty/resty/v2"
	"github.com/samber/lo"
	"go.uber.org/zap"
)

// Webhook posts events as JSON to a URL. Publish blocks for the request, so it is meant to sit
// behind eventlog.Async.
type Webhook struct {
	url    string
	kinds  []iface.EventKind
	client *resty.Client
	logger *zap.Logger
}

// NewWebhook forwards only the given kinds, or every kind when none are given.
func NewWebhook(url string, timeout time.Duration, logger *zap.Logger, kinds ...iface.EventKind) *Webhook {
	if timeout <= 0 {
		timeout = TimeOutSeconds * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Webhook{
		url:    url,
		kinds:  kinds,
		client: resty.New().SetTimeout(timeout),
		logger: logger,
	}
}

func (w *Webhook) Publish(e iface.Event) {
	if len(w.kinds) > 0 && !lo.Contains(w.kinds, e.Kind) {
		return
	}
	if err := w.send(e); err != nil {
		w.logger.Error("webhook delivery failed", zap.String("event", e.ID), zap.Error(err))
	}
}

func (w *Webhook) send(e iface.Event) error {
	resp, err := w.client.R().
		SetHeader("Content-Type", "application/json").
		SetBody(e).
		Post(w.url)
	if err != nil {
		return err
	}
	if resp.IsError() {
		return fmt.Errorf("server returned %s", resp.Status())
	}
	return nil
}
