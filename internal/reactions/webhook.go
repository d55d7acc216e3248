/*
Copyright 2025.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package reactions

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"text/template"
	"time"

	"golang.org/x/time/rate"

	"github.com/sentinela-project/sentinela/internal/config"
	"github.com/sentinela-project/sentinela/internal/models"
)

// WebhookNotifier delivers alert notes to an arbitrary HTTP endpoint with a
// templated JSON payload.
type WebhookNotifier struct {
	url      string
	method   string
	headers  map[string]string
	template *template.Template
	limiter  *rate.Limiter
}

// NewWebhookNotifier builds the webhook channel from its config.
func NewWebhookNotifier(cfg config.WebhookNotifierConfig) (*WebhookNotifier, error) {
	if cfg.URL == "" {
		return nil, errors.New("webhook url is required")
	}

	method := cfg.Method
	if method == "" {
		method = http.MethodPost
	}

	tmplStr := defaultWebhookTemplate
	if cfg.PayloadTemplate != "" {
		tmplStr = cfg.PayloadTemplate
	}
	tmpl, err := template.New("webhook").Funcs(templateFuncs).Parse(tmplStr)
	if err != nil {
		return nil, fmt.Errorf("invalid webhook template: %w", err)
	}

	return &WebhookNotifier{
		url:      cfg.URL,
		method:   method,
		headers:  cfg.Headers,
		template: tmpl,
		limiter:  newLimiter(cfg.MaxPerHour, cfg.Burst),
	}, nil
}

// Name returns the channel name
func (w *WebhookNotifier) Name() string {
	return "webhook"
}

// Send delivers a note to the endpoint
func (w *WebhookNotifier) Send(ctx context.Context, note Note) error {
	if !w.limiter.Allow() {
		return rateLimitError(w.Name())
	}

	var buf bytes.Buffer
	if err := w.template.Execute(&buf, note); err != nil {
		return fmt.Errorf("rendering webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, w.method, w.url, &buf)
	if err != nil {
		return fmt.Errorf("building webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range w.headers {
		req.Header.Set(k, v)
	}

	resp, err := notifyHTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("sending webhook: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}

	return nil
}

// Test sends a test note
func (w *WebhookNotifier) Test(ctx context.Context) error {
	return w.Send(ctx, Note{
		EventName: "test",
		Monitor:   "sentinela.test",
		Priority:  models.PriorityInformational,
		Timestamp: time.Now(),
	})
}

var defaultWebhookTemplate = `{
  "event": "{{ .EventName }}",
  "monitor": "{{ .Monitor }}",
  "alert_id": {{ .AlertID }},
  "priority": "{{ .Priority }}",
  "timestamp": "{{ formatTime .Timestamp "RFC3339" }}",
  "data": {{ toJson .Data }}
}`
