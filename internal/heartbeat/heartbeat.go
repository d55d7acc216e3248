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

// Package heartbeat wakes up on a fixed interval and measures how late the
// wakeups actually are. A drifting average means the process is starved,
// blocked in something it should not be blocked in, or the host is
// saturated.
package heartbeat

import (
	"context"
	"time"

	"github.com/go-logr/logr"
	"golang.org/x/time/rate"

	"github.com/sentinela-project/sentinela/internal/metrics"
)

const (
	// ringSize is how many wakeup timestamps the average is computed over.
	ringSize = 10

	// delayTolerance is the fraction of the interval the average may
	// exceed before the heartbeat counts as delayed.
	delayTolerance = 1.05

	// warnInterval rate-limits the delay warning.
	warnInterval = 10 * time.Second
)

// Heartbeat measures wakeup latency over a sliding window.
type Heartbeat struct {
	interval time.Duration
	log      logr.Logger
	warns    *rate.Limiter

	now   func() time.Time
	beats []time.Time
}

// New creates a heartbeat that expects to wake up every interval.
func New(interval time.Duration, log logr.Logger) *Heartbeat {
	return &Heartbeat{
		interval: interval,
		log:      log.WithName("heartbeat"),
		warns:    rate.NewLimiter(rate.Every(warnInterval), 1),
		now:      time.Now,
	}
}

// Start runs the heartbeat loop until ctx is canceled.
func (h *Heartbeat) Start(ctx context.Context) error {
	h.log.Info("starting heartbeat", "interval", h.interval)

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			h.beat(h.now())
		}
	}
}

// beat records a wakeup and warns when the average interval drifted past
// the tolerance.
func (h *Heartbeat) beat(now time.Time) {
	h.beats = append(h.beats, now)
	if len(h.beats) > ringSize {
		h.beats = h.beats[1:]
	}

	average, ok := h.average()
	if !ok {
		return
	}
	metrics.SetHeartbeatAverage(average.Seconds())

	threshold := time.Duration(float64(h.interval) * delayTolerance)
	if average > threshold && h.warns.Allow() {
		h.log.Info("high average heartbeat interval, blocking operations are starving the scheduler",
			"average", average, "expected", h.interval)
	}
}

// average returns the mean interval between the recorded wakeups. It needs
// at least two beats to say anything.
func (h *Heartbeat) average() (time.Duration, bool) {
	if len(h.beats) < 2 {
		return 0, false
	}
	span := h.beats[len(h.beats)-1].Sub(h.beats[0])
	return span / time.Duration(len(h.beats)-1), true
}
