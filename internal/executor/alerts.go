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

package executor

import (
	"context"

	"github.com/go-logr/logr"

	"github.com/sentinela-project/sentinela/internal/events"
	"github.com/sentinela-project/sentinela/internal/models"
	"github.com/sentinela-project/sentinela/internal/monitors"
)

// alertsRoutine groups unlinked issues under an alert and keeps every
// active alert's priority and lifecycle in line with its issues. Monitors
// without alert options never get alerts.
func (e *Executor) alertsRoutine(ctx context.Context, log logr.Logger, monitor *models.Monitor, module monitors.Module) error {
	alertOptions := monitors.ModuleAlertOptions(module)
	if alertOptions == nil {
		return nil
	}

	alerts, err := e.store.ListActiveAlerts(ctx, monitor.ID)
	if err != nil {
		return err
	}
	unlinked, err := e.store.ListActiveIssuesUnlinked(ctx, monitor.ID)
	if err != nil {
		return err
	}

	if len(unlinked) > 0 {
		target, created, err := e.linkTarget(ctx, log, monitor, alertOptions, alerts, unlinked)
		if err != nil {
			return err
		}
		if target != nil {
			if created {
				alerts = append(alerts, target)
			}
			if err := e.linkIssues(ctx, alertOptions, target, unlinked); err != nil {
				return err
			}
		}
	}

	for _, alert := range alerts {
		if err := e.evaluateAlertPriority(ctx, log, alertOptions.Rule, alert); err != nil {
			return err
		}
		if err := e.refreshAlert(ctx, log, alert); err != nil {
			return err
		}
	}
	return nil
}

// linkTarget picks the alert new issues should join. A monitor has at most
// one active alert, so an existing one always wins, locked or not; a fresh
// alert is only created when the rule says the unlinked issues warrant it.
// A nil target with no error means no alert is due yet.
func (e *Executor) linkTarget(ctx context.Context, log logr.Logger, monitor *models.Monitor, alertOptions *monitors.AlertOptions, alerts []*models.Alert, unlinked []*models.Issue) (*models.Alert, bool, error) {
	if len(alerts) > 0 {
		return alerts[0], false, nil
	}

	priority := alertOptions.Rule.Calculate(unlinked)
	if priority == nil {
		return nil, false, nil
	}

	alert := &models.Alert{
		MonitorID: monitor.ID,
		Status:    models.AlertStatusActive,
		Priority:  *priority,
	}
	if err := e.store.CreateAlert(ctx, alert); err != nil {
		return nil, false, err
	}
	e.emit(ctx, events.AlertPayload(models.EventAlertCreated, alert, nil))
	log.Info("alert created", "alert_id", alert.ID, "priority", alert.Priority)
	return alert, true, nil
}

// linkIssues attaches unlinked issues to an alert. Locking freezes an
// alert's priority, not its membership: new issues still join it.
func (e *Executor) linkIssues(ctx context.Context, alertOptions *monitors.AlertOptions, alert *models.Alert, issues []*models.Issue) error {
	if !alert.Active() {
		return nil
	}

	linked := make([]*models.Issue, 0, len(issues))
	ids := make([]int64, 0, len(issues))
	for _, issue := range issues {
		if !issue.LinkTo(alert.ID) {
			continue
		}
		linked = append(linked, issue)
		ids = append(ids, issue.ID)
	}
	if len(linked) == 0 {
		return nil
	}

	if err := e.store.LinkIssuesToAlert(ctx, ids, alert.ID); err != nil {
		return err
	}
	for _, issue := range linked {
		e.emit(ctx, events.IssuePayload(models.EventIssueLinked, issue, nil))
	}

	if alertOptions.DismissAcknowledgeOnNewIssues && alert.DismissAcknowledge() {
		if err := e.store.SaveAlert(ctx, alert); err != nil {
			return err
		}
		e.emit(ctx, events.AlertPayload(models.EventAlertAcknowledgeDismissed, alert, nil))
	}

	e.emit(ctx, events.AlertPayload(models.EventAlertIssuesLinked, alert, models.JSONMap{"issues_ids": ids}))
	return nil
}

// evaluateAlertPriority recomputes an alert's priority from its linked
// active issues. A rule that no longer yields any priority solves the
// alert. Escalation past the acknowledged priority dismisses the
// acknowledgment so the alert demands attention again.
func (e *Executor) evaluateAlertPriority(ctx context.Context, log logr.Logger, rule models.Rule, alert *models.Alert) error {
	if !alert.Active() {
		return nil
	}

	issues, err := e.store.ListActiveIssuesByAlert(ctx, alert.ID)
	if err != nil {
		return err
	}

	priority := rule.Calculate(issues)
	if priority == nil {
		return e.solveAlert(ctx, log, alert)
	}

	previous := alert.Priority
	change, dismissed := alert.ApplyPriority(*priority)
	if change == models.PriorityUnchanged {
		return nil
	}
	if err := e.store.SaveAlert(ctx, alert); err != nil {
		return err
	}

	eventName := models.EventAlertPriorityIncreased
	if change == models.PriorityDecreased {
		eventName = models.EventAlertPriorityDecreased
	}
	e.emit(ctx, events.AlertPayload(eventName, alert, models.JSONMap{"previous_priority": previous}))
	if dismissed {
		e.emit(ctx, events.AlertPayload(models.EventAlertAcknowledgeDismissed, alert, nil))
	}
	log.Info("alert priority changed", "alert_id", alert.ID, "previous", previous, "priority", alert.Priority)
	return nil
}

// refreshAlert solves an alert that ran out of active issues, otherwise
// reporting it as updated.
func (e *Executor) refreshAlert(ctx context.Context, log logr.Logger, alert *models.Alert) error {
	if !alert.Active() {
		return nil
	}

	issues, err := e.store.ListActiveIssuesByAlert(ctx, alert.ID)
	if err != nil {
		return err
	}
	if len(issues) == 0 {
		return e.solveAlert(ctx, log, alert)
	}
	e.emit(ctx, events.AlertPayload(models.EventAlertUpdated, alert, nil))
	return nil
}

// solveAlert closes an alert when its guard allows it.
func (e *Executor) solveAlert(ctx context.Context, log logr.Logger, alert *models.Alert) error {
	if !alert.Solve(e.eval.Now()) {
		return nil
	}
	if err := e.store.SaveAlert(ctx, alert); err != nil {
		return err
	}
	e.emit(ctx, events.AlertPayload(models.EventAlertSolved, alert, nil))
	log.Info("alert solved", "alert_id", alert.ID)
	return nil
}
