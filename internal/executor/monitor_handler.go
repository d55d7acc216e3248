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
	"time"

	"github.com/go-logr/logr"
	"github.com/samber/lo"

	"github.com/sentinela-project/sentinela/internal/events"
	"github.com/sentinela-project/sentinela/internal/metrics"
	"github.com/sentinela-project/sentinela/internal/models"
	"github.com/sentinela-project/sentinela/internal/monitors"
	"github.com/sentinela-project/sentinela/internal/queue"
	"github.com/sentinela-project/sentinela/internal/registry"
)

// handleProcessMonitor runs the routines a process_monitor message asks for.
// The running flag is the mutual exclusion between executors: a redelivered
// message for a monitor that is already running is dropped untouched.
func (e *Executor) handleProcessMonitor(ctx context.Context, log logr.Logger, message *queue.Message) error {
	var payload queue.ProcessMonitorPayload
	if err := json.Unmarshal(message.Payload, &payload); err != nil {
		return fmt.Errorf("unmarshaling process_monitor payload: %w", err)
	}

	monitor, err := e.store.GetMonitor(ctx, payload.MonitorID)
	if err != nil {
		return abandon(fmt.Errorf("loading monitor %d: %w", payload.MonitorID, err))
	}
	if monitor == nil {
		return fmt.Errorf("monitor %d no longer exists", payload.MonitorID)
	}
	log = log.WithValues("monitor", monitor.Name)

	if err := e.registry.WaitMonitorLoaded(ctx, monitor.ID); err != nil {
		if errors.Is(err, registry.ErrMonitorNotRegistered) {
			return fmt.Errorf("monitor %s: %w", monitor.Name, err)
		}
		return abandon(err)
	}
	module, ok := e.registry.Resolve(monitor.ID)
	if !ok {
		return fmt.Errorf("monitor %s: %w", monitor.Name, registry.ErrMonitorNotRegistered)
	}

	if monitor.Running {
		log.Info("monitor is already running, dropping message")
		return nil
	}

	if err := e.store.SetMonitorRunning(ctx, monitor.ID, true, e.eval.Now()); err != nil {
		return abandon(fmt.Errorf("flagging monitor %s as running: %w", monitor.Name, err))
	}
	defer e.releaseMonitor(ctx, monitor)

	heartbeat := e.tasks.Go(ctx, fmt.Sprintf("monitor_heartbeat_%d", monitor.ID), func(taskCtx context.Context) {
		e.monitorHeartbeat(taskCtx, monitor.ID)
	})
	defer heartbeat.Cancel()

	return e.runMonitor(ctx, log, monitor, module, payload.Tasks)
}

// releaseMonitor clears the running and queued flags once an execution
// finishes. It must go through even when the surrounding context is gone,
// or the monitor would stay blocked until the stuck rescue procedure.
func (e *Executor) releaseMonitor(ctx context.Context, monitor *models.Monitor) {
	ctx = context.WithoutCancel(ctx)
	now := e.eval.Now()
	if err := e.store.SetMonitorRunning(ctx, monitor.ID, false, now); err != nil {
		e.log.Error(err, "failed to clear monitor running flag", "monitor", monitor.Name)
	}
	if err := e.store.SetMonitorQueued(ctx, monitor.ID, false, now); err != nil {
		e.log.Error(err, "failed to clear monitor queued flag", "monitor", monitor.Name)
	}
}

// monitorHeartbeat stamps last_heartbeat while a monitor runs so the stuck
// rescue procedure can tell a live run from an executor that died.
func (e *Executor) monitorHeartbeat(ctx context.Context, monitorID int64) {
	ticker := time.NewTicker(e.cfg.Executor.MonitorHeartbeatTime)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := e.store.SetMonitorHeartbeat(ctx, monitorID, e.eval.Now()); err != nil {
				e.log.Error(err, "failed to stamp monitor heartbeat", "monitor_id", monitorID)
			}
		}
	}
}

// runMonitor executes the requested routines under the monitor timeout and
// records the outcome as an execution row. The routines run in their own
// task so a module that ignores cancellation cannot wedge the worker.
func (e *Executor) runMonitor(ctx context.Context, log logr.Logger, monitor *models.Monitor, module monitors.Module, tasks []string) error {
	timeout := module.Options().Timeout(e.cfg.Executor.MonitorTimeout)
	started := e.eval.Now()

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var limitReached bool
	var routinesErr error
	run := e.tasks.Go(runCtx, fmt.Sprintf("monitor_run_%d", monitor.ID), func(taskCtx context.Context) {
		defer func() {
			if r := recover(); r != nil {
				routinesErr = fmt.Errorf("monitor panicked: %v", r)
			}
		}()
		limitReached, routinesErr = e.runRoutines(taskCtx, log, monitor, module, tasks)
	})

	var err error
	if waitErr := run.Wait(runCtx); waitErr != nil {
		err = waitErr
	} else {
		err = routinesErr
	}

	finished := e.eval.Now()
	execution := &models.MonitorExecution{
		MonitorID:  monitor.ID,
		Status:     models.ExecutionStatusSuccess,
		StartedAt:  started,
		FinishedAt: finished,
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		execution.Status = models.ExecutionStatusFailed
		execution.ErrorType = models.ErrorTypeTimeout
	case err != nil:
		execution.Status = models.ExecutionStatusFailed
		execution.ErrorType = models.ErrorTypeError
	case limitReached:
		execution.Status = models.ExecutionStatusFailed
		execution.ErrorType = models.ErrorTypeIssuesLimitReached
	}

	recordCtx := context.WithoutCancel(ctx)
	if recordErr := e.store.RecordExecution(recordCtx, execution); recordErr != nil {
		log.Error(recordErr, "failed to record monitor execution")
	}
	metrics.RecordMonitorExecution(monitor.Name, string(execution.Status), execution.Duration().Seconds())

	if execution.Status == models.ExecutionStatusSuccess {
		e.emit(recordCtx, events.MonitorPayload(models.EventMonitorExecutionSuccess, monitor, nil))
		return nil
	}
	e.emit(recordCtx, events.MonitorPayload(models.EventMonitorExecutionError, monitor, models.JSONMap{"error_type": execution.ErrorType}))
	if err != nil {
		return fmt.Errorf("monitor %s: %w", monitor.Name, err)
	}
	log.Info("monitor hit the issue creation limit", "error_type", execution.ErrorType)
	return nil
}

// runRoutines drives one execution. Search runs before update so the update
// pass sees issues found in this very run, then the solve check and the
// alert evaluation work over fresh state.
func (e *Executor) runRoutines(ctx context.Context, log logr.Logger, monitor *models.Monitor, module monitors.Module, tasks []string) (bool, error) {
	moduleCtx := monitors.NewContext(monitor.ID, monitor.Name, e.store, e.log)
	limitReached := false

	if lo.Contains(tasks, queue.TaskSearch) {
		reached, err := e.searchRoutine(ctx, log, monitor, module, moduleCtx)
		if err != nil {
			return false, fmt.Errorf("search routine: %w", err)
		}
		limitReached = reached
		if err := e.store.SetMonitorSearchExecuted(ctx, monitor.ID, e.eval.Now()); err != nil {
			return limitReached, fmt.Errorf("stamping search execution: %w", err)
		}
	}

	if lo.Contains(tasks, queue.TaskUpdate) {
		if err := e.updateRoutine(ctx, log, monitor, module, moduleCtx); err != nil {
			return limitReached, fmt.Errorf("update routine: %w", err)
		}
		if err := e.store.SetMonitorUpdateExecuted(ctx, monitor.ID, e.eval.Now()); err != nil {
			return limitReached, fmt.Errorf("stamping update execution: %w", err)
		}
	}

	if err := e.solveRoutine(ctx, monitor, module); err != nil {
		return limitReached, fmt.Errorf("solve routine: %w", err)
	}

	if err := e.alertsRoutine(ctx, log, monitor, module); err != nil {
		return limitReached, fmt.Errorf("alerts routine: %w", err)
	}

	return limitReached, nil
}

// searchRoutine asks the module for current problem records and stores the
// genuinely new ones as issues, capped at the monitor's creation limit.
func (e *Executor) searchRoutine(ctx context.Context, log logr.Logger, monitor *models.Monitor, module monitors.Module, moduleCtx *monitors.Context) (bool, error) {
	records, err := module.Search(ctx, moduleCtx)
	if err != nil {
		return false, err
	}
	if len(records) == 0 {
		return false, nil
	}

	active, err := e.store.ListActiveIssues(ctx, monitor.ID)
	if err != nil {
		return false, err
	}
	activeIDs := make(map[string]struct{}, len(active))
	for _, issue := range active {
		activeIDs[issue.ModelID] = struct{}{}
	}

	issueOptions := module.IssueOptions()
	maxIssues := module.Options().MaxIssues(e.cfg.MaxIssuesCreation)

	newIssues := make([]*models.Issue, 0, len(records))
	batchIDs := make(map[string]struct{}, len(records))
	limitReached := false

	for _, record := range records {
		modelID, ok := record.ModelID(issueOptions.ModelIDKey)
		if !ok {
			log.Info("search record has no model id, skipping it", "model_id_key", issueOptions.ModelIDKey)
			continue
		}
		if _, exists := activeIDs[modelID]; exists {
			continue
		}
		if _, dup := batchIDs[modelID]; dup {
			log.Info("duplicated model id in search results, skipping it", "model_id", modelID)
			continue
		}
		if issueOptions.Unique {
			exists, err := e.store.IssueExists(ctx, monitor.ID, modelID)
			if err != nil {
				return false, err
			}
			if exists {
				continue
			}
		}
		data := record.Data()
		if monitors.IsSolved(module, data) {
			continue
		}
		batchIDs[modelID] = struct{}{}
		if len(newIssues) >= maxIssues {
			limitReached = true
			continue
		}
		newIssues = append(newIssues, &models.Issue{
			MonitorID: monitor.ID,
			ModelID:   modelID,
			Status:    models.IssueStatusActive,
			Data:      data,
		})
	}

	if limitReached {
		log.Info("monitor found more new issues than it may create", "max_issues", maxIssues)
	}
	if len(newIssues) == 0 {
		return limitReached, nil
	}

	if err := e.store.CreateIssues(ctx, newIssues); err != nil {
		return limitReached, err
	}
	metrics.RecordIssuesCreated(monitor.Name, len(newIssues))
	log.Info("issues created", "count", len(newIssues))
	for _, issue := range newIssues {
		e.emit(ctx, events.IssuePayload(models.EventIssueCreated, issue, nil))
	}
	return limitReached, nil
}

// updateRoutine hands the data of every active issue back to the module and
// applies whatever it returns, matching records to issues by model id.
func (e *Executor) updateRoutine(ctx context.Context, log logr.Logger, monitor *models.Monitor, module monitors.Module, moduleCtx *monitors.Context) error {
	updater, ok := module.(monitors.Updater)
	if !ok {
		return nil
	}

	active, err := e.store.ListActiveIssues(ctx, monitor.ID)
	if err != nil {
		return err
	}
	if len(active) == 0 {
		return nil
	}

	byModelID := make(map[string]*models.Issue, len(active))
	current := make([]models.JSONMap, 0, len(active))
	for _, issue := range active {
		byModelID[issue.ModelID] = issue
		current = append(current, issue.Data)
	}

	records, err := updater.Update(ctx, moduleCtx, current)
	if err != nil {
		return err
	}

	issueOptions := module.IssueOptions()
	seen := make(map[string]struct{}, len(records))
	for _, record := range records {
		modelID, ok := record.ModelID(issueOptions.ModelIDKey)
		if !ok {
			log.Info("update record has no model id, skipping it", "model_id_key", issueOptions.ModelIDKey)
			continue
		}
		if _, dup := seen[modelID]; dup {
			log.Info("duplicated model id in update results, skipping it", "model_id", modelID)
			continue
		}
		seen[modelID] = struct{}{}

		issue, ok := byModelID[modelID]
		if !ok {
			log.Info("updated record matches no active issue, skipping it", "model_id", modelID)
			continue
		}
		if !issue.UpdateData(record.Data()) {
			continue
		}
		if err := e.store.SaveIssue(ctx, issue); err != nil {
			return err
		}
		eventName := models.EventIssueUpdatedNotSolved
		if monitors.IsSolved(module, issue.Data) {
			eventName = models.EventIssueUpdatedSolved
		}
		e.emit(ctx, events.IssuePayload(eventName, issue, nil))
	}
	return nil
}

// solveRoutine closes active issues whose data now satisfies the module's
// solved check.
func (e *Executor) solveRoutine(ctx context.Context, monitor *models.Monitor, module monitors.Module) error {
	if !module.IssueOptions().IsSolvable() {
		return nil
	}
	if _, ok := module.(monitors.SolvedChecker); !ok {
		return nil
	}

	active, err := e.store.ListActiveIssues(ctx, monitor.ID)
	if err != nil {
		return err
	}

	now := e.eval.Now()
	for _, issue := range active {
		if !monitors.IsSolved(module, issue.Data) {
			continue
		}
		if !issue.Solve(now) {
			continue
		}
		if err := e.store.SaveIssue(ctx, issue); err != nil {
			return err
		}
		e.emit(ctx, events.IssuePayload(models.EventIssueSolved, issue, nil))
	}
	return nil
}
