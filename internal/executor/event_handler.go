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
	"sync"

	"github.com/go-logr/logr"

	"github.com/sentinela-project/sentinela/internal/models"
	"github.com/sentinela-project/sentinela/internal/monitors"
	"github.com/sentinela-project/sentinela/internal/queue"
	"github.com/sentinela-project/sentinela/internal/registry"
)

// handleEvent fans an event out to the reactions its module registered for
// that event name. Reactions run concurrently, each under its own timeout;
// a failing reaction never blocks its siblings and never fails the message.
func (e *Executor) handleEvent(ctx context.Context, log logr.Logger, message *queue.Message) error {
	var payload models.EventPayload
	if err := json.Unmarshal(message.Payload, &payload); err != nil {
		return fmt.Errorf("unmarshaling event payload: %w", err)
	}
	log = log.WithValues("event", payload.EventName, "monitor_id", payload.EventSourceMonitorID)

	if err := e.registry.WaitMonitorLoaded(ctx, payload.EventSourceMonitorID); err != nil {
		if errors.Is(err, registry.ErrMonitorNotRegistered) {
			return fmt.Errorf("event %s: %w", payload.EventName, err)
		}
		return abandon(err)
	}
	module, ok := e.registry.Resolve(payload.EventSourceMonitorID)
	if !ok {
		return nil
	}

	reactions := monitors.ModuleReactions(module)[payload.EventName]
	if len(reactions) == 0 {
		return nil
	}

	var wg sync.WaitGroup
	for i, reaction := range reactions {
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					log.Error(fmt.Errorf("%v", r), "reaction panicked", "reaction", i)
				}
			}()
			reactionCtx, cancel := context.WithTimeout(ctx, e.cfg.Executor.ReactionTimeout)
			defer cancel()
			if err := reaction(reactionCtx, &payload); err != nil {
				log.Error(err, "reaction failed", "reaction", i)
			}
		}()
	}
	wg.Wait()
	return nil
}
