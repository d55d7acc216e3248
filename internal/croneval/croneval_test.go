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

package croneval

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	t.Run("empty zone defaults to UTC", func(t *testing.T) {
		e, err := New("")
		require.NoError(t, err)
		assert.Equal(t, time.UTC, e.Location())
	})

	t.Run("valid zone", func(t *testing.T) {
		e, err := New("America/Sao_Paulo")
		require.NoError(t, err)
		assert.Equal(t, "America/Sao_Paulo", e.Location().String())
	})

	t.Run("invalid zone", func(t *testing.T) {
		_, err := New("Not/AZone")
		assert.Error(t, err)
	})
}

func TestValidate(t *testing.T) {
	e, err := New("UTC")
	require.NoError(t, err)

	assert.NoError(t, e.Validate("* * * * *"))
	assert.NoError(t, e.Validate("*/5 * * * *"))
	assert.NoError(t, e.Validate("0 12 * * mon-fri"))
	assert.Error(t, e.Validate("not a cron"))
	assert.Error(t, e.Validate("* * * *"))
	assert.Error(t, e.Validate("61 * * * *"))
}

func TestIsTriggered(t *testing.T) {
	e, err := New("UTC")
	require.NoError(t, err)

	reference := time.Date(2025, 6, 15, 12, 30, 30, 0, time.UTC)

	tests := []struct {
		name        string
		expr        string
		lastTrigger *time.Time
		want        bool
	}{
		{
			name:        "nil last trigger always fires",
			expr:        "* * * * *",
			lastTrigger: nil,
			want:        true,
		},
		{
			name:        "every minute fired since previous minute",
			expr:        "* * * * *",
			lastTrigger: timePtr(reference.Add(-90 * time.Second)),
			want:        true,
		},
		{
			name:        "every minute not fired within same minute",
			expr:        "* * * * *",
			lastTrigger: timePtr(time.Date(2025, 6, 15, 12, 30, 5, 0, time.UTC)),
			want:        false,
		},
		{
			name:        "five minute schedule not due yet",
			expr:        "*/5 * * * *",
			lastTrigger: timePtr(time.Date(2025, 6, 15, 12, 30, 0, 0, time.UTC)),
			want:        false,
		},
		{
			name:        "five minute schedule overdue",
			expr:        "*/5 * * * *",
			lastTrigger: timePtr(time.Date(2025, 6, 15, 12, 24, 0, 0, time.UTC)),
			want:        true,
		},
		{
			name:        "daily schedule fired at noon",
			expr:        "0 12 * * *",
			lastTrigger: timePtr(time.Date(2025, 6, 14, 12, 0, 0, 0, time.UTC)),
			want:        true,
		},
		{
			name:        "daily schedule already ran today",
			expr:        "0 12 * * *",
			lastTrigger: timePtr(time.Date(2025, 6, 15, 12, 0, 1, 0, time.UTC)),
			want:        false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := e.IsTriggered(tt.expr, tt.lastTrigger, reference)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	t.Run("invalid expression", func(t *testing.T) {
		_, err := e.IsTriggered("bogus", timePtr(reference), reference)
		assert.Error(t, err)
	})
}

// A trigger consumed at one reference time must not re-fire at a later
// reference until the schedule's next slot passes.
func TestIsTriggeredMonotonic(t *testing.T) {
	e, err := New("UTC")
	require.NoError(t, err)

	fired := time.Date(2025, 6, 15, 12, 30, 0, 0, time.UTC)
	for _, offset := range []time.Duration{time.Second, 30 * time.Second, 59 * time.Second} {
		got, err := e.IsTriggered("* * * * *", &fired, fired.Add(offset))
		require.NoError(t, err)
		assert.False(t, got, "offset %s", offset)
	}

	got, err := e.IsTriggered("* * * * *", &fired, fired.Add(60*time.Second))
	require.NoError(t, err)
	assert.True(t, got)
}

func TestIsTriggeredTimezone(t *testing.T) {
	e, err := New("America/Sao_Paulo")
	require.NoError(t, err)

	// 09:00 UTC is 06:00 in Sao Paulo (UTC-3), so a "0 7 * * *" schedule in
	// the configured zone has not fired between 05:00 and 06:00 local.
	last := time.Date(2025, 6, 15, 8, 0, 0, 0, time.UTC)
	reference := time.Date(2025, 6, 15, 9, 0, 0, 0, time.UTC)

	got, err := e.IsTriggered("0 7 * * *", &last, reference)
	require.NoError(t, err)
	assert.False(t, got)

	// At 10:30 UTC (07:30 local) the 07:00 local slot has passed.
	got, err = e.IsTriggered("0 7 * * *", &last, time.Date(2025, 6, 15, 10, 30, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.True(t, got)
}

func TestNextDelay(t *testing.T) {
	e, err := New("UTC")
	require.NoError(t, err)

	t.Run("whole minute boundary", func(t *testing.T) {
		ref := time.Date(2025, 6, 15, 12, 30, 0, 0, time.UTC)
		d, err := e.NextDelay("* * * * *", ref)
		require.NoError(t, err)
		assert.Equal(t, time.Minute, d)
	})

	t.Run("rounds up partial seconds", func(t *testing.T) {
		ref := time.Date(2025, 6, 15, 12, 30, 0, int(500*time.Millisecond), time.UTC)
		d, err := e.NextDelay("* * * * *", ref)
		require.NoError(t, err)
		assert.Equal(t, time.Minute, d)
	})

	t.Run("always positive", func(t *testing.T) {
		ref := time.Date(2025, 6, 15, 12, 30, 59, 0, time.UTC)
		d, err := e.NextDelay("*/5 * * * *", ref)
		require.NoError(t, err)
		assert.Greater(t, d, time.Duration(0))
	})

	t.Run("invalid expression", func(t *testing.T) {
		_, err := e.NextDelay("bogus", time.Now())
		assert.Error(t, err)
	})
}

func timePtr(t time.Time) *time.Time {
	return &t
}
