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

package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"github.com/google/uuid"

	"github.com/sentinela-project/sentinela/internal/config"
	"github.com/sentinela-project/sentinela/internal/metrics"
)

// wakeInterval bounds how long a blocked GetMessage goes without
// re-checking for expired in-flight messages.
const wakeInterval = 50 * time.Millisecond

type internalMessage struct {
	message        Message
	invisibleUntil time.Time
}

// InternalQueue is the in-process queue backend. It is only suitable for
// single-instance deployments: messages live in memory and are lost on
// restart. Delivery semantics mirror SQS so the executor code does not
// care which backend it runs against.
type InternalQueue struct {
	log            logr.Logger
	waitTime       time.Duration
	visibilityTime time.Duration

	mu       sync.Mutex
	ready    []*internalMessage
	inflight map[string]*internalMessage
	notify   chan struct{}
}

// NewInternalQueue creates an in-process queue
func NewInternalQueue(cfg config.QueueConfig, log logr.Logger) *InternalQueue {
	return &InternalQueue{
		log:            log.WithName("queue.internal"),
		waitTime:       cfg.WaitMessageTime,
		visibilityTime: cfg.VisibilityTime,
		inflight:       make(map[string]*internalMessage),
		notify:         make(chan struct{}, 1),
	}
}

// Init prepares the backend. The internal queue has nothing to resolve.
func (q *InternalQueue) Init(_ context.Context) error {
	return nil
}

// SendMessage enqueues a payload under a message type
func (q *InternalQueue) SendMessage(_ context.Context, messageType string, payload interface{}) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshaling message payload: %w", err)
	}

	q.mu.Lock()
	q.ready = append(q.ready, &internalMessage{
		message: Message{
			ID:      uuid.NewString(),
			Type:    messageType,
			Payload: raw,
		},
	})
	q.updatePendingLocked()
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
	return nil
}

// GetMessage returns the next visible message, waiting up to the configured
// wait time. Expired in-flight messages are requeued before each pop, so an
// abandoned message reappears once its visibility window lapses.
func (q *InternalQueue) GetMessage(ctx context.Context) (*Message, error) {
	deadline := time.Now().Add(q.waitTime)
	for {
		if msg := q.pop(time.Now()); msg != nil {
			return msg, nil
		}

		wait := time.Until(deadline)
		if wait <= 0 {
			return nil, nil
		}
		if wait > wakeInterval {
			wait = wakeInterval
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-q.notify:
			timer.Stop()
		case <-timer.C:
		}
	}
}

// pop requeues expired deliveries and takes the oldest ready message
func (q *InternalQueue) pop(now time.Time) *Message {
	q.mu.Lock()
	defer q.mu.Unlock()

	for receipt, item := range q.inflight {
		if now.After(item.invisibleUntil) {
			delete(q.inflight, receipt)
			item.message.ReceiptHandle = ""
			q.ready = append(q.ready, item)
			q.log.V(1).Info("message visibility expired, requeued",
				"messageID", item.message.ID, "type", item.message.Type)
		}
	}

	if len(q.ready) == 0 {
		return nil
	}

	item := q.ready[0]
	q.ready = q.ready[1:]
	item.message.ReceiptHandle = uuid.NewString()
	item.invisibleUntil = now.Add(q.visibilityTime)
	q.inflight[item.message.ReceiptHandle] = item
	q.updatePendingLocked()

	msg := item.message
	return &msg
}

// ChangeVisibility extends the invisibility window of an in-flight message
func (q *InternalQueue) ChangeVisibility(_ context.Context, message *Message) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if item, ok := q.inflight[message.ReceiptHandle]; ok {
		item.invisibleUntil = time.Now().Add(q.visibilityTime)
	}
	return nil
}

// DeleteMessage acknowledges a message. Deleting with a stale receipt (the
// message already expired and was redelivered) is a no-op, like SQS.
func (q *InternalQueue) DeleteMessage(_ context.Context, message *Message) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	delete(q.inflight, message.ReceiptHandle)
	q.updatePendingLocked()
	return nil
}

func (q *InternalQueue) updatePendingLocked() {
	metrics.SetQueuePending(len(q.ready) + len(q.inflight))
}
