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

package controller

import (
	"context"
	"fmt"
	"time"

	"github.com/sentinela-project/sentinela/internal/events"
	"github.com/sentinela-project/sentinela/internal/metrics"
	"github.com/sentinela-project/sentinela/internal/models"
)

// Procedure defaults, used when the configuration omits a parameter.
const (
	defaultStuckTolerance      = 300
	defaultEventsRetentionDays = 30
)

// Procedure is a maintenance routine the controller runs on its own
// schedule, configured under controller.procedures.
type Procedure func(ctx context.Context, params map[string]any) error

// runProcedures runs every configured procedure whose schedule triggered.
// A failing procedure is recorded and skipped until its next trigger, it
// never takes the others down.
func (c *Controller) runProcedures(ctx context.Context) {
	for name, settings := range c.cfg.Controller.Procedures {
		procedure, ok := c.procedures[name]
		if !ok {
			c.log.Info("unknown procedure configured, skipping", "procedure", name)
			continue
		}

		if !c.procedureTriggered(name, settings.Schedule) {
			continue
		}

		if err := procedure(ctx, settings.Params); err != nil {
			metrics.RecordProcedure(name, "error")
			c.log.Error(err, "procedure failed", "procedure", name)
		} else {
			metrics.RecordProcedure(name, "success")
		}

		// stamped even on failure so a broken procedure does not
		// retry on every loop pass
		c.mu.Lock()
		c.procedureRuns[name] = c.eval.Now()
		c.mu.Unlock()
	}
}

func (c *Controller) procedureTriggered(name, schedule string) bool {
	c.mu.RLock()
	lastRun, ran := c.procedureRuns[name]
	c.mu.RUnlock()

	if !ran {
		return true
	}

	triggered, err := c.eval.IsTriggered(schedule, &lastRun, c.eval.Now())
	if err != nil {
		c.log.Error(err, "failed to evaluate procedure schedule", "procedure", name, "schedule", schedule)
		return false
	}
	return triggered
}

// monitorsStuck resets monitors whose execution was interrupted without
// clearing the queued or running flags. Without the reset they would never
// trigger again.
func (c *Controller) monitorsStuck(ctx context.Context, params map[string]any) error {
	tolerance := paramDuration(params, "time_tolerance", defaultStuckTolerance)

	stuck, err := c.store.GetStuckMonitors(ctx, tolerance, c.eval.Now())
	if err != nil {
		return fmt.Errorf("failed to list stuck monitors: %w", err)
	}

	for _, monitor := range stuck {
		now := c.eval.Now()
		if err := c.store.SetMonitorQueued(ctx, monitor.ID, false, now); err != nil {
			c.log.Error(err, "failed to reset queued flag", "monitor", monitor.Name)
			continue
		}
		if err := c.store.SetMonitorRunning(ctx, monitor.ID, false, now); err != nil {
			c.log.Error(err, "failed to reset running flag", "monitor", monitor.Name)
			continue
		}
		c.log.Info("monitor was stuck and its state was reset", "monitor", monitor.Name)
	}
	return nil
}

// cleanEvents deletes events older than the retention window.
func (c *Controller) cleanEvents(ctx context.Context, params map[string]any) error {
	retentionDays := paramInt(params, "retention_days", defaultEventsRetentionDays)
	cutoff := c.eval.Now().AddDate(0, 0, -retentionDays)

	count, err := c.store.DeleteEventsBefore(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("failed to delete old events: %w", err)
	}

	if count > 0 {
		c.log.Info("deleted old events", "count", count, "cutoff", cutoff)
	}
	return nil
}

// notificationsAlertSolved closes notifications that outlived their alert.
func (c *Controller) notificationsAlertSolved(ctx context.Context, _ map[string]any) error {
	notifications, err := c.store.ListActiveNotificationsForSolvedAlerts(ctx)
	if err != nil {
		return fmt.Errorf("failed to list notifications for solved alerts: %w", err)
	}

	for _, notification := range notifications {
		if !notification.Close(c.eval.Now()) {
			continue
		}
		if err := c.store.SaveNotification(ctx, notification); err != nil {
			c.log.Error(err, "failed to close notification", "notification", notification.ID)
			continue
		}
		c.log.Info("closed notification for solved alert",
			"notification", notification.ID, "target", notification.Target)

		payload := events.NotificationPayload(models.EventNotificationClosed, notification, nil)
		if err := c.emitter.Emit(ctx, payload); err != nil {
			c.log.Error(err, "failed to emit event", "event", models.EventNotificationClosed)
		}
	}
	return nil
}

// paramInt reads an integer procedure parameter. Configuration values may
// arrive as int or float64 depending on the source.
func paramInt(params map[string]any, key string, fallback int) int {
	if params == nil {
		return fallback
	}
	switch v := params[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return fallback
}

func paramDuration(params map[string]any, key string, fallbackSeconds int) time.Duration {
	return time.Duration(paramInt(params, key, fallbackSeconds)) * time.Second
}
