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

// Package queue carries work from the controller to the executors. Both
// backends share at-least-once delivery semantics: a received message stays
// invisible for the visibility window and reappears unless deleted.
package queue

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-logr/logr"

	"github.com/sentinela-project/sentinela/internal/config"
)

// Message types understood by the executor.
const (
	TypeProcessMonitor = "process_monitor"
	TypeRequest        = "request"
	TypeEvent          = "event"
)

// Monitor routines a process_monitor message can request.
const (
	TaskSearch = "search"
	TaskUpdate = "update"
)

// Actions a request message can carry.
const (
	ActionAlertAcknowledge = "alert_acknowledge"
	ActionAlertLock        = "alert_lock"
	ActionAlertUnlock      = "alert_unlock"
	ActionAlertSolve       = "alert_solve"
	ActionIssueDrop        = "issue_drop"
)

// Message is one unit of work in flight. ReceiptHandle identifies this
// delivery for ChangeVisibility and DeleteMessage.
type Message struct {
	ID            string
	ReceiptHandle string
	Type          string
	Payload       json.RawMessage
}

// ProcessMonitorPayload asks an executor to run one monitor. Tasks lists
// the routines whose cron triggered, in execution order.
type ProcessMonitorPayload struct {
	MonitorID int64    `json:"monitor_id"`
	Tasks     []string `json:"tasks"`
}

// RequestPayload asks an executor to apply a user action to a target entity.
type RequestPayload struct {
	Action   string                 `json:"action"`
	TargetID int64                  `json:"target_id"`
	Params   map[string]interface{} `json:"params,omitempty"`
}

// Queue is the transport between the controller and the executors
type Queue interface {
	// Init prepares the backend (queue resolution, creation)
	Init(ctx context.Context) error

	// SendMessage enqueues a payload under a message type
	SendMessage(ctx context.Context, messageType string, payload interface{}) error

	// GetMessage returns the next message, waiting up to the configured
	// wait time. Returns nil when no message arrived in the window.
	GetMessage(ctx context.Context) (*Message, error)

	// ChangeVisibility extends the invisibility window of an in-flight message
	ChangeVisibility(ctx context.Context, message *Message) error

	// DeleteMessage acknowledges a message so it is never redelivered
	DeleteMessage(ctx context.Context, message *Message) error
}

// envelope is the wire form of a message body
type envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// encodeBody wraps a payload into the wire envelope
func encodeBody(messageType string, payload interface{}) (string, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshaling message payload: %w", err)
	}
	body, err := json.Marshal(envelope{Type: messageType, Payload: raw})
	if err != nil {
		return "", fmt.Errorf("marshaling message envelope: %w", err)
	}
	return string(body), nil
}

// decodeBody unwraps a wire envelope
func decodeBody(body string) (string, json.RawMessage, error) {
	var env envelope
	if err := json.Unmarshal([]byte(body), &env); err != nil {
		return "", nil, fmt.Errorf("unmarshaling message envelope: %w", err)
	}
	if env.Type == "" {
		return "", nil, fmt.Errorf("message envelope has no type")
	}
	return env.Type, env.Payload, nil
}

// New creates a queue based on configuration
func New(ctx context.Context, cfg *config.Config, log logr.Logger) (Queue, error) {
	switch cfg.Queue.Type {
	case "internal", "":
		return NewInternalQueue(cfg.Queue, log), nil

	case "sqs":
		client, err := NewSQSClient(ctx, cfg.Queue.Region)
		if err != nil {
			return nil, fmt.Errorf("building sqs client: %w", err)
		}
		return NewSQSQueue(cfg.Queue, client, log), nil

	default:
		return nil, fmt.Errorf("unknown queue type: %s", cfg.Queue.Type)
	}
}
