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

package heartbeat

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/go-logr/logr"
	"github.com/go-logr/logr/funcr"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sentinela-project/sentinela/internal/metrics"
)

// countingLogger counts emitted warning lines.
func countingLogger(substr string, count *int) logr.Logger {
	return funcr.New(func(prefix, args string) {
		if strings.Contains(args, substr) {
			*count++
		}
	}, funcr.Options{})
}

func feedBeats(h *Heartbeat, start time.Time, spacing time.Duration, n int) {
	for i := 0; i < n; i++ {
		h.beat(start.Add(time.Duration(i) * spacing))
	}
}

func TestAverageNeedsTwoBeats(t *testing.T) {
	h := New(time.Second, logr.Discard())

	h.beat(time.Now())
	_, ok := h.average()
	assert.False(t, ok)
}

func TestAverageIsMeanInterval(t *testing.T) {
	h := New(time.Second, logr.Discard())

	start := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	feedBeats(h, start, time.Second, 4)

	average, ok := h.average()
	require.True(t, ok)
	assert.Equal(t, time.Second, average)
}

func TestBeatWindowIsCapped(t *testing.T) {
	h := New(time.Second, logr.Discard())

	start := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	feedBeats(h, start, time.Second, 15)

	assert.Len(t, h.beats, ringSize)
	average, ok := h.average()
	require.True(t, ok)
	assert.Equal(t, time.Second, average)
}

func TestOnTimeBeatsDoNotWarn(t *testing.T) {
	warned := 0
	h := New(100*time.Millisecond, countingLogger("high average heartbeat interval", &warned))

	start := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	feedBeats(h, start, 100*time.Millisecond, 10)

	assert.Zero(t, warned)
}

func TestDelayedBeatsWarnOnce(t *testing.T) {
	warned := 0
	h := New(100*time.Millisecond, countingLogger("high average heartbeat interval", &warned))

	// twice the expected interval, every beat past the first is delayed
	start := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	feedBeats(h, start, 200*time.Millisecond, 10)

	// the rate limit folds the repeated warnings into one
	assert.Equal(t, 1, warned)
}

func TestBeatUpdatesAverageGauge(t *testing.T) {
	h := New(time.Second, logr.Discard())

	start := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	feedBeats(h, start, 2*time.Second, 3)

	assert.InDelta(t, 2.0, testutil.ToFloat64(metrics.HeartbeatAverageTime), 0.001)
}

func TestStartStopsOnCancel(t *testing.T) {
	h := New(10*time.Millisecond, logr.Discard())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- h.Start(ctx)
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("heartbeat did not stop")
	}
}
