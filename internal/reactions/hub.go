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
	"context"
	"errors"
	"fmt"

	"github.com/go-logr/logr"

	"github.com/sentinela-project/sentinela/internal/config"
	"github.com/sentinela-project/sentinela/internal/croneval"
	"github.com/sentinela-project/sentinela/internal/events"
	"github.com/sentinela-project/sentinela/internal/executor"
	"github.com/sentinela-project/sentinela/internal/models"
	"github.com/sentinela-project/sentinela/internal/monitors"
	"github.com/sentinela-project/sentinela/internal/queue"
	"github.com/sentinela-project/sentinela/internal/store"
)

// Hub owns the configured notification channels and builds the reactions
// that connect them to alert lifecycle events. A Notification row per
// (alert, target) records what went out, so redelivered events and
// re-escalations never notify the same channel twice.
type Hub struct {
	store       store.Store
	emitter     *events.Emitter
	eval        *croneval.Evaluator
	log         logr.Logger
	minPriority models.Priority
	notifiers   map[string]Notifier
	order       []string
}

// NewHub builds an empty hub. Channels are added with Register.
func NewHub(st store.Store, emitter *events.Emitter, eval *croneval.Evaluator, log logr.Logger) *Hub {
	return &Hub{
		store:       st,
		emitter:     emitter,
		eval:        eval,
		log:         log.WithName("reactions"),
		minPriority: models.PriorityInformational,
		notifiers:   map[string]Notifier{},
	}
}

// FromConfig builds a hub with the channels the config enables.
func FromConfig(cfg config.ReactionsConfig, st store.Store, emitter *events.Emitter, eval *croneval.Evaluator, log logr.Logger) (*Hub, error) {
	hub := NewHub(st, emitter, eval, log)

	if min := models.Priority(cfg.MinPriority); min.Valid() {
		hub.minPriority = min
	} else if cfg.MinPriority != "" {
		hub.log.Info("unknown reactions min_priority, using informational", "min_priority", cfg.MinPriority)
	}

	if cfg.Slack.WebhookURL != "" {
		slack, err := NewSlackNotifier(cfg.Slack)
		if err != nil {
			return nil, fmt.Errorf("building slack channel: %w", err)
		}
		hub.Register(slack)
	}
	if cfg.Webhook.URL != "" {
		webhook, err := NewWebhookNotifier(cfg.Webhook)
		if err != nil {
			return nil, fmt.Errorf("building webhook channel: %w", err)
		}
		hub.Register(webhook)
	}
	if cfg.Email.SMTPHost != "" {
		email, err := NewEmailNotifier(cfg.Email)
		if err != nil {
			return nil, fmt.Errorf("building email channel: %w", err)
		}
		hub.Register(email)
	}
	if cfg.PagerDuty.RoutingKey != "" {
		pagerduty, err := NewPagerDutyNotifier(cfg.PagerDuty)
		if err != nil {
			return nil, fmt.Errorf("building pagerduty channel: %w", err)
		}
		hub.Register(pagerduty)
	}
	return hub, nil
}

// Register adds a channel. A channel with the same name replaces the
// earlier one.
func (h *Hub) Register(n Notifier) {
	if _, exists := h.notifiers[n.Name()]; !exists {
		h.order = append(h.order, n.Name())
	}
	h.notifiers[n.Name()] = n
}

// Notifier returns a registered channel by name.
func (h *Hub) Notifier(name string) (Notifier, bool) {
	n, ok := h.notifiers[name]
	return n, ok
}

// Names returns the registered channel names in registration order.
func (h *Hub) Names() []string {
	names := make([]string, len(h.order))
	copy(names, h.order)
	return names
}

// Empty reports whether no channel is configured.
func (h *Hub) Empty() bool {
	return len(h.notifiers) == 0
}

// AlertReactions bundles the hub's reactions for a module's alert
// lifecycle: notify when an alert opens or escalates, close the
// notifications when it solves.
func (h *Hub) AlertReactions() monitors.ReactionOptions {
	return monitors.ReactionOptions{
		models.EventAlertCreated:           {h.NotifyAlert()},
		models.EventAlertPriorityIncreased: {h.NotifyAlert()},
		models.EventAlertSolved:            {h.CloseAlertNotifications()},
	}
}

// NotifyAlert returns a reaction that sends an alert to every channel it has
// not reached yet, at or above the hub's minimum priority, and records a
// Notification row per delivery.
func (h *Hub) NotifyAlert() monitors.Reaction {
	return func(ctx context.Context, payload *models.EventPayload) error {
		alert, err := h.store.GetAlert(ctx, payload.EventSourceID)
		if err != nil {
			return err
		}
		if alert == nil || !alert.Active() {
			return nil
		}
		if h.minPriority.MoreSevereThan(alert.Priority) {
			h.log.V(1).Info("alert below notification priority",
				"alert_id", alert.ID, "priority", alert.Priority, "min_priority", h.minPriority)
			return nil
		}

		monitor, err := h.store.GetMonitor(ctx, alert.MonitorID)
		if err != nil {
			return err
		}
		if monitor == nil {
			return nil
		}

		existing, err := h.store.ListNotificationsByAlert(ctx, alert.ID)
		if err != nil {
			return err
		}
		reached := make(map[string]struct{}, len(existing))
		for _, notification := range existing {
			reached[notification.Target] = struct{}{}
		}

		note := h.noteForAlert(payload.EventName, monitor, alert)
		var errs []error
		for _, name := range h.order {
			if _, sent := reached[name]; sent {
				continue
			}
			if err := h.notifiers[name].Send(ctx, note); err != nil {
				errs = append(errs, fmt.Errorf("channel %s: %w", name, err))
				continue
			}
			notification := &models.Notification{
				MonitorID: alert.MonitorID,
				AlertID:   alert.ID,
				Target:    name,
				Status:    models.NotificationStatusActive,
				Data:      models.JSONMap{"event_name": payload.EventName, "priority": alert.Priority},
			}
			if err := h.store.CreateNotification(ctx, notification); err != nil {
				errs = append(errs, fmt.Errorf("recording notification on %s: %w", name, err))
				continue
			}
			h.emit(ctx, events.NotificationPayload(models.EventNotificationCreated, notification, nil))
			h.log.Info("notification sent", "channel", name, "alert_id", alert.ID, "monitor", monitor.Name)
		}
		return errors.Join(errs...)
	}
}

// CloseAlertNotifications returns a reaction that closes every open
// notification of a solved alert.
func (h *Hub) CloseAlertNotifications() monitors.Reaction {
	return func(ctx context.Context, payload *models.EventPayload) error {
		notifications, err := h.store.ListNotificationsByAlert(ctx, payload.EventSourceID)
		if err != nil {
			return err
		}

		now := h.eval.Now()
		var errs []error
		for _, notification := range notifications {
			if !notification.Close(now) {
				continue
			}
			if err := h.store.SaveNotification(ctx, notification); err != nil {
				errs = append(errs, err)
				continue
			}
			h.emit(ctx, events.NotificationPayload(models.EventNotificationClosed, notification, nil))
		}
		return errors.Join(errs...)
	}
}

// ResendNotifications returns the handler behind the
// plugin.<channel>.resend_notifications action: it re-sends an alert's
// recorded notification through the channel.
func (h *Hub) ResendNotifications(target string) func(ctx context.Context, payload *queue.RequestPayload) error {
	return func(ctx context.Context, payload *queue.RequestPayload) error {
		notifier, ok := h.notifiers[target]
		if !ok {
			return fmt.Errorf("unknown notification channel %s", target)
		}

		alert, err := h.store.GetAlert(ctx, payload.TargetID)
		if err != nil {
			return err
		}
		if alert == nil {
			h.log.Info("resend target alert not found", "alert_id", payload.TargetID)
			return nil
		}

		notifications, err := h.store.ListNotificationsByAlert(ctx, alert.ID)
		if err != nil {
			return err
		}
		recorded := false
		for _, notification := range notifications {
			if notification.Target == target {
				recorded = true
				break
			}
		}
		if !recorded {
			h.log.Info("alert was never notified on this channel, nothing to resend",
				"alert_id", alert.ID, "channel", target)
			return nil
		}

		monitor, err := h.store.GetMonitor(ctx, alert.MonitorID)
		if err != nil {
			return err
		}
		if monitor == nil {
			return nil
		}
		return notifier.Send(ctx, h.noteForAlert(models.EventAlertUpdated, monitor, alert))
	}
}

// RegisterActions exposes each channel's resend action on the request
// pipeline as plugin.<channel>.resend_notifications.
func (h *Hub) RegisterActions(exec *executor.Executor) {
	for _, name := range h.order {
		exec.RegisterPluginAction(name, "resend_notifications", h.ResendNotifications(name))
	}
}

func (h *Hub) noteForAlert(eventName string, monitor *models.Monitor, alert *models.Alert) Note {
	return Note{
		EventName: eventName,
		Monitor:   monitor.Name,
		AlertID:   alert.ID,
		Priority:  alert.Priority,
		Data: models.JSONMap{
			"status":       alert.Status,
			"locked":       alert.Locked,
			"acknowledged": alert.Acknowledged,
			"created_at":   alert.CreatedAt,
		},
		Timestamp: h.eval.Now(),
	}
}

// emit dispatches a notification lifecycle event. Failures are logged, the
// notification itself already went through.
func (h *Hub) emit(ctx context.Context, payload *models.EventPayload) {
	if err := h.emitter.Emit(ctx, payload); err != nil {
		h.log.Error(err, "failed to emit event", "event", payload.EventName)
	}
}
