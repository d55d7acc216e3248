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

// Package controller decides which monitor routines are due and queues them
// for the executors. It also runs periodic maintenance procedures, like
// resetting monitors that got stuck mid execution.
package controller

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/go-logr/logr"

	"github.com/sentinela-project/sentinela/internal/config"
	"github.com/sentinela-project/sentinela/internal/croneval"
	"github.com/sentinela-project/sentinela/internal/events"
	"github.com/sentinela-project/sentinela/internal/metrics"
	"github.com/sentinela-project/sentinela/internal/models"
	"github.com/sentinela-project/sentinela/internal/monitors"
	"github.com/sentinela-project/sentinela/internal/queue"
	"github.com/sentinela-project/sentinela/internal/registry"
	"github.com/sentinela-project/sentinela/internal/store"
	"github.com/sentinela-project/sentinela/internal/taskmanager"
)

const (
	// diagnosticsGraceTime suppresses diagnostics right after startup,
	// before the first loop had a chance to run.
	diagnosticsGraceTime = 60 * time.Second

	// diagnosticsStaleTolerance is how old the loop timestamps may get
	// before the controller reports itself unhealthy.
	diagnosticsStaleTolerance = 300 * time.Second

	// fallbackLoopDelay is used when the process schedule cannot be
	// evaluated.
	fallbackLoopDelay = time.Minute
)

// Controller periodically matches every enabled monitor's routine schedules
// against their last executions and queues the triggered tasks.
type Controller struct {
	store    store.Store
	queue    queue.Queue
	registry *registry.Registry
	emitter  *events.Emitter
	tasks    *taskmanager.Manager
	eval     *croneval.Evaluator
	cfg      *config.Config
	log      logr.Logger

	procedures map[string]Procedure

	mu                     sync.RWMutex
	procedureRuns          map[string]time.Time
	startedAt              time.Time
	lastLoopAt             time.Time
	lastMonitorProcessedAt time.Time
}

// New creates a controller
func New(st store.Store, q queue.Queue, reg *registry.Registry, emitter *events.Emitter,
	tasks *taskmanager.Manager, eval *croneval.Evaluator, cfg *config.Config, log logr.Logger) *Controller {
	c := &Controller{
		store:         st,
		queue:         q,
		registry:      reg,
		emitter:       emitter,
		tasks:         tasks,
		eval:          eval,
		cfg:           cfg,
		log:           log.WithName("controller"),
		procedureRuns: map[string]time.Time{},
	}
	c.procedures = map[string]Procedure{
		"monitors_stuck":             c.monitorsStuck,
		"clean_events":               c.cleanEvents,
		"notifications_alert_solved": c.notificationsAlertSolved,
	}
	return c
}

// Start runs the trigger loop until ctx is canceled. Each pass waits for the
// registry, runs the due procedures in the background and schedules every
// triggered monitor routine.
func (c *Controller) Start(ctx context.Context) error {
	c.log.Info("controller running", "schedule", c.cfg.Controller.ProcessSchedule)

	c.mu.Lock()
	c.startedAt = c.eval.Now()
	c.mu.Unlock()

	for {
		started := time.Now()
		c.runPass(ctx)
		metrics.ControllerLoopDuration.Set(time.Since(started).Seconds())

		if err := ctx.Err(); err != nil {
			return err
		}

		delay, wait := c.nextPassDelay()
		if !wait {
			continue
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
}

// nextPassDelay returns how long to sleep before the next pass. When the
// process schedule already triggered again, the loop fell behind and should
// not sleep at all.
func (c *Controller) nextPassDelay() (time.Duration, bool) {
	now := c.eval.Now()
	schedule := c.cfg.Controller.ProcessSchedule

	c.mu.RLock()
	lastLoop := c.lastLoopAt
	c.mu.RUnlock()

	if !lastLoop.IsZero() {
		triggered, err := c.eval.IsTriggered(schedule, &lastLoop, now)
		if err != nil {
			c.log.Error(err, "failed to evaluate process schedule", "schedule", schedule)
			return fallbackLoopDelay, true
		}
		if triggered {
			return 0, false
		}
	}

	delay, err := c.eval.NextDelay(schedule, now)
	if err != nil {
		c.log.Error(err, "failed to evaluate process schedule", "schedule", schedule)
		return fallbackLoopDelay, true
	}
	return delay, true
}

// runPass goes through all enabled monitors once and queues whatever their
// schedules triggered.
func (c *Controller) runPass(ctx context.Context) {
	if err := c.registry.WaitReady(ctx); err != nil {
		c.log.Error(err, "monitors are not ready, skipping pass")
		return
	}

	c.mu.Lock()
	c.lastLoopAt = c.eval.Now()
	c.mu.Unlock()

	c.tasks.Go(ctx, "run_procedures", func(taskCtx context.Context) {
		c.runProcedures(taskCtx)
	})

	enabled, err := c.store.ListEnabledMonitors(ctx)
	if err != nil {
		c.log.Error(err, "failed to list enabled monitors")
		return
	}

	concurrency := c.cfg.Controller.Concurrency
	if concurrency < 1 {
		concurrency = 1
	}
	sem := make(chan struct{}, concurrency)
	var wg sync.WaitGroup

	for _, monitor := range enabled {
		module, ok := c.registry.Resolve(monitor.ID)
		if !ok {
			// the executor would have no module to run
			metrics.RecordMonitorProcessed("not_registered")
			c.log.Info("monitor is not registered, skipping", "monitor", monitor.Name)
			continue
		}

		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			c.processMonitor(ctx, monitor, module)
		}()
	}
	wg.Wait()
}

// processMonitor queues the monitor's triggered tasks, if any.
func (c *Controller) processMonitor(ctx context.Context, monitor *models.Monitor, module monitors.Module) {
	tasks := c.triggeredTasks(monitor, module.Options())

	c.mu.Lock()
	c.lastMonitorProcessedAt = c.eval.Now()
	c.mu.Unlock()

	if len(tasks) == 0 {
		metrics.RecordMonitorProcessed("idle")
		return
	}

	c.log.Info("monitor routines triggered", "monitor", monitor.Name, "tasks", tasks)
	c.queueTasks(ctx, monitor, tasks)
}

// triggeredTasks returns which routines are due for the monitor. A monitor
// that is already queued or running never triggers.
func (c *Controller) triggeredTasks(monitor *models.Monitor, options monitors.Options) []string {
	if !monitor.Enabled || monitor.Queued || monitor.Running {
		return nil
	}

	var tasks []string
	if c.routineTriggered(monitor, options.SearchCron, monitor.SearchExecutedAt) {
		tasks = append(tasks, queue.TaskSearch)
	}
	if c.routineTriggered(monitor, options.UpdateCron, monitor.UpdateExecutedAt) {
		tasks = append(tasks, queue.TaskUpdate)
	}
	return tasks
}

func (c *Controller) routineTriggered(monitor *models.Monitor, cron string, lastExecution *time.Time) bool {
	if cron == "" {
		return false
	}
	triggered, err := c.eval.IsTriggered(cron, lastExecution, c.eval.Now())
	if err != nil {
		c.log.Error(err, "failed to evaluate routine schedule", "monitor", monitor.Name, "cron", cron)
		return false
	}
	return triggered
}

// queueTasks sends the process message and only then flags the monitor as
// queued. If the send fails the monitor stays unflagged and the next pass
// retries.
func (c *Controller) queueTasks(ctx context.Context, monitor *models.Monitor, tasks []string) {
	payload := queue.ProcessMonitorPayload{MonitorID: monitor.ID, Tasks: tasks}
	if err := c.queue.SendMessage(ctx, queue.TypeProcessMonitor, payload); err != nil {
		metrics.RecordMonitorProcessed("queue_error")
		c.log.Error(err, "failed to queue monitor tasks", "monitor", monitor.Name)
		return
	}

	metrics.RecordMonitorProcessed("triggered")
	if err := c.store.SetMonitorQueued(ctx, monitor.ID, true, c.eval.Now()); err != nil {
		// the executor resets both flags when the run finishes
		c.log.Error(err, "failed to flag monitor as queued", "monitor", monitor.Name)
	}
}

// Diagnostics reports the controller's health for the status endpoint.
// Right after startup it reports healthy, before the timestamps mean
// anything.
func (c *Controller) Diagnostics() (models.JSONMap, []string) {
	status := models.JSONMap{}
	issues := []string{}

	c.mu.RLock()
	startedAt := c.startedAt
	lastLoopAt := c.lastLoopAt
	lastProcessedAt := c.lastMonitorProcessedAt
	c.mu.RUnlock()

	now := c.eval.Now()
	if !startedAt.IsZero() && now.Sub(startedAt) < diagnosticsGraceTime {
		return status, issues
	}

	status["last_loop_at"] = diagnosticsTime(lastLoopAt)
	if diagnosticsStale(lastLoopAt, now) {
		issues = append(issues, "loop_not_running")
	}

	status["last_monitor_processed_at"] = diagnosticsTime(lastProcessedAt)
	if diagnosticsStale(lastProcessedAt, now) {
		issues = append(issues, "no_recent_monitor_processed")
	}

	if overdue := c.overdueProcedures(startedAt, now); len(overdue) > 0 {
		status["procedures_overdue"] = overdue
		for _, name := range overdue {
			issues = append(issues, "procedure_overdue:"+name)
		}
	}

	return status, issues
}

// overdueProcedures returns the configured procedures whose schedule
// triggered longer than the stale tolerance ago without a run since. A
// schedule that cannot be evaluated counts as overdue: procedureTriggered
// will never fire it.
func (c *Controller) overdueProcedures(startedAt, now time.Time) []string {
	c.mu.RLock()
	runs := make(map[string]time.Time, len(c.procedureRuns))
	for name, at := range c.procedureRuns {
		runs[name] = at
	}
	c.mu.RUnlock()

	var overdue []string
	for name, settings := range c.cfg.Controller.Procedures {
		if _, known := c.procedures[name]; !known {
			continue
		}
		since, ran := runs[name]
		if !ran {
			since = startedAt
		}
		triggered, err := c.eval.IsTriggered(settings.Schedule, &since, now.Add(-diagnosticsStaleTolerance))
		if err != nil || triggered {
			overdue = append(overdue, name)
		}
	}
	sort.Strings(overdue)
	return overdue
}

func diagnosticsTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.Format(time.RFC3339)
}

func diagnosticsStale(t time.Time, now time.Time) bool {
	return t.IsZero() || now.Sub(t) > diagnosticsStaleTolerance
}
