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

// Package events records domain events and fans them out to the queue. An
// event is only queued when the source monitor subscribes a reaction to it,
// and each (event_type, model, model_id) key is emitted at most once: the
// unique index on the events table makes duplicate emissions no-ops.
package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-logr/logr"
	"github.com/google/uuid"

	"github.com/sentinela-project/sentinela/internal/metrics"
	"github.com/sentinela-project/sentinela/internal/models"
	"github.com/sentinela-project/sentinela/internal/monitors"
	"github.com/sentinela-project/sentinela/internal/queue"
)

// EventStore is the slice of the store the emitter writes to.
type EventStore interface {
	CreateEvent(ctx context.Context, event *models.Event) (bool, error)
}

// ModuleResolver looks up the implementation of a monitor, to check its
// reaction subscriptions.
type ModuleResolver interface {
	Resolve(monitorID int64) (monitors.Module, bool)
}

// Emitter writes event rows and queues event messages.
type Emitter struct {
	store        EventStore
	queue        queue.Queue
	resolver     ModuleResolver
	log          logr.Logger
	logAllEvents bool
}

// New creates an emitter
func New(st EventStore, q queue.Queue, resolver ModuleResolver, logAllEvents bool, log logr.Logger) *Emitter {
	return &Emitter{
		store:        st,
		queue:        q,
		resolver:     resolver,
		log:          log.WithName("events"),
		logAllEvents: logAllEvents,
	}
}

// Emit records one domain event and queues it for reaction dispatch. Events
// no reaction subscribes to are not recorded; they are logged when
// log_all_events is enabled. A previously emitted (event, entity) pair is
// skipped silently.
func (e *Emitter) Emit(ctx context.Context, payload *models.EventPayload) error {
	if !e.shouldQueue(payload) {
		if e.logAllEvents {
			e.logPayload(payload)
		}
		return nil
	}

	event := &models.Event{
		ID:        uuid.NewString(),
		EventType: payload.EventName,
		Model:     payload.EventSource,
		ModelID:   payload.EventSourceID,
		MonitorID: payload.EventSourceMonitorID,
		Payload:   rowPayload(payload),
	}
	inserted, err := e.store.CreateEvent(ctx, event)
	if err != nil {
		return fmt.Errorf("recording event %s: %w", payload.EventName, err)
	}
	if !inserted {
		return nil
	}

	e.logPayload(payload)
	if err := e.queue.SendMessage(ctx, queue.TypeEvent, payload); err != nil {
		return fmt.Errorf("queueing event %s: %w", payload.EventName, err)
	}
	metrics.RecordEventEmitted(payload.EventName)
	return nil
}

// shouldQueue reports whether the source monitor subscribes a reaction to
// the event.
func (e *Emitter) shouldQueue(payload *models.EventPayload) bool {
	module, ok := e.resolver.Resolve(payload.EventSourceMonitorID)
	if !ok {
		return false
	}
	return monitors.ModuleReactions(module).Has(payload.EventName)
}

func (e *Emitter) logPayload(payload *models.EventPayload) {
	e.log.Info("event",
		"name", payload.EventName,
		"source", payload.EventSource,
		"sourceID", payload.EventSourceID,
		"monitorID", payload.EventSourceMonitorID)
}

func rowPayload(payload *models.EventPayload) models.JSONMap {
	row := models.JSONMap{"event_data": payload.EventData}
	if payload.ExtraPayload != nil {
		row["extra_payload"] = payload.ExtraPayload
	}
	return row
}

// entityData converts an entity into the event_data snapshot reactions
// receive.
func entityData(entity any) models.JSONMap {
	raw, err := json.Marshal(entity)
	if err != nil {
		return nil
	}
	var data models.JSONMap
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil
	}
	return data
}

// IssuePayload builds the payload for an issue transition
func IssuePayload(eventName string, issue *models.Issue, extra models.JSONMap) *models.EventPayload {
	return &models.EventPayload{
		EventName:            eventName,
		EventSource:          models.ModelIssue,
		EventSourceID:        issue.ID,
		EventSourceMonitorID: issue.MonitorID,
		EventData:            entityData(issue),
		ExtraPayload:         extra,
	}
}

// AlertPayload builds the payload for an alert transition
func AlertPayload(eventName string, alert *models.Alert, extra models.JSONMap) *models.EventPayload {
	return &models.EventPayload{
		EventName:            eventName,
		EventSource:          models.ModelAlert,
		EventSourceID:        alert.ID,
		EventSourceMonitorID: alert.MonitorID,
		EventData:            entityData(alert),
		ExtraPayload:         extra,
	}
}

// MonitorPayload builds the payload for a monitor transition
func MonitorPayload(eventName string, monitor *models.Monitor, extra models.JSONMap) *models.EventPayload {
	return &models.EventPayload{
		EventName:            eventName,
		EventSource:          models.ModelMonitor,
		EventSourceID:        monitor.ID,
		EventSourceMonitorID: monitor.ID,
		EventData:            entityData(monitor),
		ExtraPayload:         extra,
	}
}

// NotificationPayload builds the payload for a notification transition
func NotificationPayload(eventName string, notification *models.Notification, extra models.JSONMap) *models.EventPayload {
	return &models.EventPayload{
		EventName:            eventName,
		EventSource:          models.ModelNotification,
		EventSourceID:        notification.ID,
		EventSourceMonitorID: notification.MonitorID,
		EventData:            entityData(notification),
		ExtraPayload:         extra,
	}
}
