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
	"time"

	"golang.org/x/time/rate"

	"github.com/sentinela-project/sentinela/internal/config"
	"github.com/sentinela-project/sentinela/internal/models"
)

const pagerDutyEventsURL = "https://events.pagerduty.com/v2/enqueue"

// PagerDutyNotifier triggers PagerDuty incidents through the Events API v2.
// The dedup key is derived from the alert, so re-notifying the same alert
// updates the incident instead of opening a second one.
type PagerDutyNotifier struct {
	eventsURL  string
	routingKey string
	severity   string
	limiter    *rate.Limiter
}

// NewPagerDutyNotifier builds the PagerDuty channel from its config.
func NewPagerDutyNotifier(cfg config.PagerDutyNotifierConfig) (*PagerDutyNotifier, error) {
	if cfg.RoutingKey == "" {
		return nil, errors.New("pagerduty routing key is required")
	}
	return &PagerDutyNotifier{
		eventsURL:  pagerDutyEventsURL,
		routingKey: cfg.RoutingKey,
		severity:   cfg.Severity,
		limiter:    newLimiter(cfg.MaxPerHour, cfg.Burst),
	}, nil
}

// Name returns the channel name
func (p *PagerDutyNotifier) Name() string {
	return "pagerduty"
}

// Send delivers a note to PagerDuty
func (p *PagerDutyNotifier) Send(ctx context.Context, note Note) error {
	if !p.limiter.Allow() {
		return rateLimitError(p.Name())
	}

	severity := p.severity
	if severity == "" {
		severity = pagerDutySeverity(note.Priority)
	}

	payload := map[string]interface{}{
		"routing_key":  p.routingKey,
		"event_action": "trigger",
		"dedup_key":    fmt.Sprintf("sentinela-%s-alert-%d", note.Monitor, note.AlertID),
		"payload": map[string]interface{}{
			"summary":   fmt.Sprintf("[%s] %s alert #%d", note.Priority, note.Monitor, note.AlertID),
			"source":    note.Monitor,
			"severity":  severity,
			"timestamp": note.Timestamp.Format(time.RFC3339),
			"custom_details": map[string]interface{}{
				"event_name": note.EventName,
				"alert_id":   note.AlertID,
				"priority":   note.Priority,
				"data":       note.Data,
			},
		},
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshaling pagerduty payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.eventsURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("building pagerduty request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := notifyHTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("sending pagerduty event: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusAccepted {
		return fmt.Errorf("pagerduty returned status %d", resp.StatusCode)
	}

	return nil
}

// Test sends a test note
func (p *PagerDutyNotifier) Test(ctx context.Context) error {
	return p.Send(ctx, Note{
		EventName: "test",
		Monitor:   "sentinela.test",
		Priority:  models.PriorityInformational,
		Timestamp: time.Now(),
	})
}

// pagerDutySeverity maps alert priorities onto the four severities the
// Events API accepts.
func pagerDutySeverity(priority models.Priority) string {
	switch priority {
	case models.PriorityCritical:
		return "critical"
	case models.PriorityHigh:
		return "error"
	case models.PriorityModerate:
		return "warning"
	default:
		return "info"
	}
}
