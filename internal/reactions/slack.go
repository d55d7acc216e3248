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
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"text/template"
	"time"

	"golang.org/x/time/rate"

	"github.com/sentinela-project/sentinela/internal/config"
	"github.com/sentinela-project/sentinela/internal/models"
)

// SlackNotifier posts alert notes to a Slack incoming webhook.
type SlackNotifier struct {
	webhookURL string
	channel    string
	template   *template.Template
	limiter    *rate.Limiter
}

// NewSlackNotifier builds the Slack channel from its config.
func NewSlackNotifier(cfg config.SlackNotifierConfig) (*SlackNotifier, error) {
	if cfg.WebhookURL == "" {
		return nil, errors.New("slack webhook url is required")
	}

	tmplStr := defaultSlackTemplate
	if cfg.MessageTemplate != "" {
		tmplStr = cfg.MessageTemplate
	}
	tmpl, err := template.New("slack").Funcs(templateFuncs).Parse(tmplStr)
	if err != nil {
		return nil, fmt.Errorf("invalid slack template: %w", err)
	}

	return &SlackNotifier{
		webhookURL: cfg.WebhookURL,
		channel:    cfg.Channel,
		template:   tmpl,
		limiter:    newLimiter(cfg.MaxPerHour, cfg.Burst),
	}, nil
}

// Name returns the channel name
func (s *SlackNotifier) Name() string {
	return "slack"
}

// Send delivers a note to Slack
func (s *SlackNotifier) Send(ctx context.Context, note Note) error {
	if !s.limiter.Allow() {
		return rateLimitError(s.Name())
	}

	var buf bytes.Buffer
	if err := s.template.Execute(&buf, note); err != nil {
		return fmt.Errorf("rendering slack message: %w", err)
	}

	payload := map[string]interface{}{
		"text": buf.String(),
	}
	if s.channel != "" {
		payload["channel"] = s.channel
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshaling slack payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("building slack request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := notifyHTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("sending slack message: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("slack returned status %d", resp.StatusCode)
	}

	return nil
}

// Test sends a test note
func (s *SlackNotifier) Test(ctx context.Context) error {
	return s.Send(ctx, Note{
		EventName: "test",
		Monitor:   "sentinela.test",
		Priority:  models.PriorityInformational,
		Timestamp: time.Now(),
	})
}

var defaultSlackTemplate = `:{{ if eq .Priority "critical" }}red_circle{{ else if eq .Priority "high" }}red_circle{{ else if eq .Priority "moderate" }}warning{{ else }}large_blue_circle{{ end }}: *{{ .Monitor }}*

*Event:* {{ .EventName }}
*Alert:* #{{ .AlertID }}
*Priority:* {{ upper (printf "%s" .Priority) }}
{{ if .Data }}
` + "```" + `{{ truncate (toJson .Data) 1500 }}` + "```" + `
{{ end }}
`
