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

// Package executor consumes queue messages and runs the work they carry:
// monitor routines, user requests and event reactions. Several workers pull
// from the queue concurrently; the running flag on each monitor keeps a
// single monitor from executing twice at the same time.
package executor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-logr/logr"

	"github.com/sentinela-project/sentinela/internal/config"
	"github.com/sentinela-project/sentinela/internal/croneval"
	"github.com/sentinela-project/sentinela/internal/events"
	"github.com/sentinela-project/sentinela/internal/metrics"
	"github.com/sentinela-project/sentinela/internal/models"
	"github.com/sentinela-project/sentinela/internal/queue"
	"github.com/sentinela-project/sentinela/internal/registry"
	"github.com/sentinela-project/sentinela/internal/store"
	"github.com/sentinela-project/sentinela/internal/taskmanager"
)

const (
	// diagnosticsGraceTime suppresses staleness findings right after startup.
	diagnosticsGraceTime = 1 * time.Minute

	// diagnosticsStaleTolerance is how long the pool may go without
	// receiving a message before diagnostics report it.
	diagnosticsStaleTolerance = 5 * time.Minute
)

// Message outcomes recorded in metrics.
const (
	statusSuccess      = "success"
	statusHandledError = "handled_error"
	statusError        = "error"
	statusUnknownType  = "unknown_type"
)

// errUnknownMessageType flags messages no handler claims. They are deleted,
// otherwise the queue would redeliver them forever.
var errUnknownMessageType = errors.New("unknown message type")

// abandonError marks failures whose message must stay in the queue so the
// visibility timeout redelivers it for another attempt.
type abandonError struct {
	err error
}

func (e *abandonError) Error() string { return e.err.Error() }

func (e *abandonError) Unwrap() error { return e.err }

// abandon wraps a transient failure so processMessage leaves the message in
// the queue instead of acknowledging it.
func abandon(err error) error {
	return &abandonError{err: err}
}

func isAbandoned(err error) bool {
	var target *abandonError
	return errors.As(err, &target)
}

// Executor runs a pool of workers that pull messages from the queue and
// dispatch them by type.
type Executor struct {
	store    store.Store
	queue    queue.Queue
	registry *registry.Registry
	emitter  *events.Emitter
	tasks    *taskmanager.Manager
	eval     *croneval.Evaluator
	cfg      *config.Config
	log      logr.Logger

	actions       map[string]RequestAction
	pluginActions map[string]RequestAction

	mu            sync.RWMutex
	startedAt     time.Time
	lastMessageAt time.Time
	workers       []*taskmanager.Task
}

// New builds an executor wired to its collaborators.
func New(st store.Store, q queue.Queue, reg *registry.Registry, emitter *events.Emitter, tasks *taskmanager.Manager, eval *croneval.Evaluator, cfg *config.Config, log logr.Logger) *Executor {
	e := &Executor{
		store:         st,
		queue:         q,
		registry:      reg,
		emitter:       emitter,
		tasks:         tasks,
		eval:          eval,
		cfg:           cfg,
		log:           log.WithName("executor"),
		pluginActions: map[string]RequestAction{},
	}
	e.actions = map[string]RequestAction{
		queue.ActionAlertAcknowledge: e.alertAcknowledge,
		queue.ActionAlertLock:        e.alertLock,
		queue.ActionAlertUnlock:      e.alertUnlock,
		queue.ActionAlertSolve:       e.alertSolve,
		queue.ActionIssueDrop:        e.issueDrop,
	}
	return e
}

// Start launches the worker pool and blocks until ctx ends. Workers are not
// respawned: a worker lost to a panic shows up in Diagnostics instead.
func (e *Executor) Start(ctx context.Context) error {
	concurrency := e.cfg.Executor.Concurrency
	if concurrency < 1 {
		concurrency = 1
	}

	e.mu.Lock()
	e.startedAt = e.eval.Now()
	e.mu.Unlock()

	e.log.Info("starting executors", "concurrency", concurrency)
	for i := 0; i < concurrency; i++ {
		name := fmt.Sprintf("executor_%d", i)
		worker := e.tasks.Go(ctx, name, func(taskCtx context.Context) {
			e.workerLoop(taskCtx, name)
		})
		e.mu.Lock()
		e.workers = append(e.workers, worker)
		e.mu.Unlock()
	}

	<-ctx.Done()
	return ctx.Err()
}

// workerLoop pulls and processes messages until its context ends.
func (e *Executor) workerLoop(ctx context.Context, name string) {
	log := e.log.WithName(name)
	log.Info("executor started")
	for ctx.Err() == nil {
		e.runOnce(ctx, log)
	}
	log.Info("executor stopped")
}

// runOnce takes at most one message from the queue and processes it,
// sleeping when the queue had nothing for us.
func (e *Executor) runOnce(ctx context.Context, log logr.Logger) {
	if err := e.registry.WaitReady(ctx); err != nil {
		if ctx.Err() != nil {
			return
		}
		log.Error(err, "monitors not loaded, cannot take work yet")
		return
	}

	message, err := e.queue.GetMessage(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		log.Error(err, "failed to get message from queue")
		e.idle(ctx)
		return
	}
	if message == nil {
		e.idle(ctx)
		return
	}

	e.mu.Lock()
	e.lastMessageAt = e.eval.Now()
	e.mu.Unlock()

	e.processMessage(ctx, log, message)
}

// idle pauses the worker between polls, honoring cancellation.
func (e *Executor) idle(ctx context.Context) {
	select {
	case <-ctx.Done():
	case <-time.After(e.cfg.Executor.Sleep):
	}
}

// processMessage dispatches one message and settles its queue lifecycle:
// delete on success and on handled errors, leave it in the queue on
// transient failures so the visibility timeout redelivers it.
func (e *Executor) processMessage(ctx context.Context, log logr.Logger, message *queue.Message) {
	log = log.WithValues("message_id", message.ID, "message_type", message.Type)
	log.Info("processing message")

	keepalive := e.tasks.Go(ctx, "visibility_"+message.ID, func(taskCtx context.Context) {
		e.keepVisible(taskCtx, message)
	})
	defer keepalive.Cancel()

	err := e.handleMessage(ctx, log, message)
	switch {
	case err == nil:
		metrics.RecordMessageProcessed(message.Type, statusSuccess)
	case errors.Is(err, errUnknownMessageType):
		metrics.RecordMessageProcessed(message.Type, statusUnknownType)
		log.Info("no handler for message type, discarding message")
	case isAbandoned(err):
		metrics.RecordMessageProcessed(message.Type, statusError)
		log.Error(err, "message processing failed, leaving it for redelivery")
		return
	default:
		metrics.RecordMessageProcessed(message.Type, statusHandledError)
		log.Error(err, "message processing failed")
	}

	if err := e.queue.DeleteMessage(ctx, message); err != nil {
		log.Error(err, "failed to delete message")
	}
}

// keepVisible extends the message visibility window for as long as its
// handler runs. Extending before sleeping keeps the margin ahead of the
// window even on the first pass.
func (e *Executor) keepVisible(ctx context.Context, message *queue.Message) {
	for ctx.Err() == nil {
		if err := e.queue.ChangeVisibility(ctx, message); err != nil && ctx.Err() == nil {
			e.log.Error(err, "failed to extend message visibility", "message_id", message.ID)
		}
		select {
		case <-ctx.Done():
		case <-time.After(e.cfg.Queue.VisibilityTime):
		}
	}
}

// handleMessage routes a message to the handler for its type.
func (e *Executor) handleMessage(ctx context.Context, log logr.Logger, message *queue.Message) error {
	switch message.Type {
	case queue.TypeProcessMonitor:
		return e.handleProcessMonitor(ctx, log, message)
	case queue.TypeRequest:
		return e.handleRequest(ctx, log, message)
	case queue.TypeEvent:
		return e.handleEvent(ctx, log, message)
	default:
		return fmt.Errorf("%w: %s", errUnknownMessageType, message.Type)
	}
}

// emit dispatches a lifecycle event. Emission failures are logged, not
// propagated: events are an audit trail, not part of the state machine.
func (e *Executor) emit(ctx context.Context, payload *models.EventPayload) {
	if err := e.emitter.Emit(ctx, payload); err != nil {
		e.log.Error(err, "failed to emit event", "event", payload.EventName)
	}
}

// Diagnostics reports pool health: live workers against the configured
// concurrency and how recently a message was received.
func (e *Executor) Diagnostics() (models.JSONMap, []string) {
	e.mu.RLock()
	startedAt := e.startedAt
	lastMessageAt := e.lastMessageAt
	workers := make([]*taskmanager.Task, len(e.workers))
	copy(workers, e.workers)
	e.mu.RUnlock()

	alive := 0
	for _, worker := range workers {
		select {
		case <-worker.Done():
		default:
			alive++
		}
	}

	status := models.JSONMap{"executors_count": alive}
	issues := []string{}

	if alive < e.cfg.Executor.Concurrency {
		issues = append(issues, "degraded_internal_executors")
	}

	now := e.eval.Now()
	if startedAt.IsZero() || now.Sub(startedAt) < diagnosticsGraceTime {
		return status, issues
	}
	if lastMessageAt.IsZero() || now.Sub(lastMessageAt) > diagnosticsStaleTolerance {
		issues = append(issues, "no_recent_messages")
	}
	return status, issues
}
