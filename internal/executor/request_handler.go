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
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/go-logr/logr"

	"github.com/sentinela-project/sentinela/internal/events"
	"github.com/sentinela-project/sentinela/internal/models"
	"github.com/sentinela-project/sentinela/internal/queue"
	"github.com/sentinela-project/sentinela/internal/registry"
)

// pluginActionPrefix addresses actions registered by reaction plugins, as
// "plugin.<plugin>.<action>".
const pluginActionPrefix = "plugin."

// RequestAction applies one user-requested mutation to a target entity.
// Actions are idempotent: a redelivered request finds the state guard
// already satisfied and does nothing.
type RequestAction func(ctx context.Context, payload *queue.RequestPayload) error

// RegisterPluginAction exposes a plugin action to the request pipeline.
// Registration happens during wiring, before the workers start.
func (e *Executor) RegisterPluginAction(plugin, action string, fn RequestAction) {
	e.pluginActions[plugin+"."+action] = fn
}

// resolveAction finds the handler for an action name, nil when unknown.
func (e *Executor) resolveAction(name string) RequestAction {
	if rest, ok := strings.CutPrefix(name, pluginActionPrefix); ok {
		return e.pluginActions[rest]
	}
	return e.actions[name]
}

// handleRequest dispatches a request message to its action under the
// request timeout. Unknown actions and missing targets are final, the
// message is not worth redelivering for them.
func (e *Executor) handleRequest(ctx context.Context, log logr.Logger, message *queue.Message) error {
	var payload queue.RequestPayload
	if err := json.Unmarshal(message.Payload, &payload); err != nil {
		return fmt.Errorf("unmarshaling request payload: %w", err)
	}
	log.Info("applying request", "action", payload.Action, "target_id", payload.TargetID)

	action := e.resolveAction(payload.Action)
	if action == nil {
		log.Info("unknown request action, discarding message", "action", payload.Action)
		return nil
	}

	actionCtx, cancel := context.WithTimeout(ctx, e.cfg.Executor.RequestTimeout)
	defer cancel()

	if err := action(actionCtx, &payload); err != nil {
		if isAbandoned(err) {
			return err
		}
		return fmt.Errorf("request action %s on target %d: %w", payload.Action, payload.TargetID, err)
	}
	return nil
}

// loadAlert fetches an action's target alert and makes sure its monitor is
// loaded. A missing alert is reported as handled with a nil alert.
func (e *Executor) loadAlert(ctx context.Context, id int64) (*models.Alert, error) {
	alert, err := e.store.GetAlert(ctx, id)
	if err != nil {
		return nil, abandon(err)
	}
	if alert == nil {
		e.log.Info("request target alert not found", "alert_id", id)
		return nil, nil
	}
	if err := e.registry.WaitMonitorLoaded(ctx, alert.MonitorID); err != nil {
		if errors.Is(err, registry.ErrMonitorNotRegistered) {
			return nil, err
		}
		return nil, abandon(err)
	}
	return alert, nil
}

// alertAcknowledge marks an alert as seen by a human. The priority it was
// acknowledged at is kept so a later escalation can dismiss it.
func (e *Executor) alertAcknowledge(ctx context.Context, payload *queue.RequestPayload) error {
	alert, err := e.loadAlert(ctx, payload.TargetID)
	if err != nil || alert == nil {
		return err
	}
	if !alert.Acknowledge() {
		return nil
	}
	if err := e.store.SaveAlert(ctx, alert); err != nil {
		return abandon(err)
	}
	e.emit(ctx, events.AlertPayload(models.EventAlertAcknowledged, alert, nil))
	return nil
}

// alertLock freezes an alert: no new issues, no priority changes, no
// automatic solve until it is unlocked.
func (e *Executor) alertLock(ctx context.Context, payload *queue.RequestPayload) error {
	alert, err := e.loadAlert(ctx, payload.TargetID)
	if err != nil || alert == nil {
		return err
	}
	if !alert.Lock() {
		return nil
	}
	if err := e.store.SaveAlert(ctx, alert); err != nil {
		return abandon(err)
	}
	e.emit(ctx, events.AlertPayload(models.EventAlertLocked, alert, nil))
	return nil
}

// alertUnlock hands a locked alert back to the pipeline.
func (e *Executor) alertUnlock(ctx context.Context, payload *queue.RequestPayload) error {
	alert, err := e.loadAlert(ctx, payload.TargetID)
	if err != nil || alert == nil {
		return err
	}
	if !alert.Unlock() {
		return nil
	}
	if err := e.store.SaveAlert(ctx, alert); err != nil {
		return abandon(err)
	}
	e.emit(ctx, events.AlertPayload(models.EventAlertUnlocked, alert, nil))
	return nil
}

// alertSolve force-solves an alert, dropping whatever active issues it
// still carries so nothing regroups under a new alert on the next run.
func (e *Executor) alertSolve(ctx context.Context, payload *queue.RequestPayload) error {
	alert, err := e.loadAlert(ctx, payload.TargetID)
	if err != nil || alert == nil {
		return err
	}
	if !alert.Active() {
		return nil
	}

	issues, err := e.store.ListActiveIssuesByAlert(ctx, alert.ID)
	if err != nil {
		return abandon(err)
	}
	now := e.eval.Now()
	for _, issue := range issues {
		if !issue.Drop(now) {
			continue
		}
		if err := e.store.SaveIssue(ctx, issue); err != nil {
			return abandon(err)
		}
		e.emit(ctx, events.IssuePayload(models.EventIssueDropped, issue, nil))
	}

	if err := e.solveAlert(ctx, e.log, alert); err != nil {
		return abandon(err)
	}
	return nil
}

// issueDrop discards an issue and re-evaluates the alert it was linked to,
// which may solve the alert when this was its last active issue.
func (e *Executor) issueDrop(ctx context.Context, payload *queue.RequestPayload) error {
	issue, err := e.store.GetIssue(ctx, payload.TargetID)
	if err != nil {
		return abandon(err)
	}
	if issue == nil {
		e.log.Info("request target issue not found", "issue_id", payload.TargetID)
		return nil
	}
	if err := e.registry.WaitMonitorLoaded(ctx, issue.MonitorID); err != nil {
		if errors.Is(err, registry.ErrMonitorNotRegistered) {
			return err
		}
		return abandon(err)
	}

	if !issue.Drop(e.eval.Now()) {
		return nil
	}
	if err := e.store.SaveIssue(ctx, issue); err != nil {
		return abandon(err)
	}
	e.emit(ctx, events.IssuePayload(models.EventIssueDropped, issue, nil))

	if issue.AlertID == nil {
		return nil
	}
	alert, err := e.store.GetAlert(ctx, *issue.AlertID)
	if err != nil {
		return abandon(err)
	}
	if alert == nil {
		return nil
	}
	if err := e.refreshAlert(ctx, e.log, alert); err != nil {
		return abandon(err)
	}
	return nil
}
