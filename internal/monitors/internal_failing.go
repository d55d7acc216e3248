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

package monitors

import (
	"context"

	"github.com/sentinela-project/sentinela/internal/models"
)

// FailingMonitorsName is the registered name of the built-in monitor that
// watches the health of the other monitors.
const FailingMonitorsName = "internal.monitors_failing"

const (
	failingStreakThreshold = 3
	failingExecutionWindow = 5

	failingMonitorNameKey = "monitor_name"
	failingMonitorIDKey   = "monitor_id"
	failingStreakKey      = "consecutive_failures"
	failingErrorTypeKey   = "last_error_type"
)

// ExecutionStore is the slice of the store the built-in monitor reads
// execution history from.
type ExecutionStore interface {
	ListMonitors(ctx context.Context) ([]*models.Monitor, error)
	GetRecentExecutions(ctx context.Context, monitorID int64, limit int) ([]*models.MonitorExecution, error)
}

// FailingMonitors is a built-in monitor that raises an issue for every
// monitor whose latest executions failed consecutively. Issues resolve once
// the monitor completes a run successfully again.
type FailingMonitors struct {
	store  ExecutionStore
	notify ReactionOptions
}

// NewFailingMonitors creates the built-in monitor over the given store.
// Extra reaction sets, such as the notification channels, subscribe to its
// alert lifecycle events.
func NewFailingMonitors(store ExecutionStore, notify ...ReactionOptions) *FailingMonitors {
	return &FailingMonitors{store: store, notify: MergeReactions(notify...)}
}

// Options run both routines every few minutes
func (f *FailingMonitors) Options() Options {
	return Options{
		SearchCron: "*/5 * * * *",
		UpdateCron: "*/2 * * * *",
	}
}

// IssueOptions identify issues by the failing monitor's name
func (f *FailingMonitors) IssueOptions() IssueOptions {
	return IssueOptions{ModelIDKey: failingMonitorNameKey}
}

// Search reports every enabled monitor with a failure streak at or past the
// threshold. The built-in monitor skips itself so its own failures cannot
// feed back into it.
func (f *FailingMonitors) Search(ctx context.Context, mon *Context) ([]IssueRecord, error) {
	all, err := f.store.ListMonitors(ctx)
	if err != nil {
		return nil, err
	}

	var records []IssueRecord
	for _, m := range all {
		if !m.Enabled || m.Name == mon.MonitorName {
			continue
		}
		streak, errorType, err := f.failureStreak(ctx, m.ID)
		if err != nil {
			return nil, err
		}
		if streak < failingStreakThreshold {
			continue
		}
		records = append(records, IssueRecord{
			failingMonitorNameKey: m.Name,
			failingMonitorIDKey:   m.ID,
			failingStreakKey:      streak,
			failingErrorTypeKey:   errorType,
		})
	}
	return records, nil
}

// Update refreshes the failure streak of every open issue
func (f *FailingMonitors) Update(ctx context.Context, _ *Context, issuesData []models.JSONMap) ([]IssueRecord, error) {
	records := make([]IssueRecord, 0, len(issuesData))
	for _, data := range issuesData {
		monitorID, ok := numberFromData(data[failingMonitorIDKey])
		if !ok {
			continue
		}
		streak, errorType, err := f.failureStreak(ctx, int64(monitorID))
		if err != nil {
			return nil, err
		}

		record := IssueRecord{}
		for k, v := range data {
			record[k] = v
		}
		record[failingStreakKey] = streak
		record[failingErrorTypeKey] = errorType
		records = append(records, record)
	}
	return records, nil
}

// IsSolved resolves an issue once the monitor ran successfully again
func (f *FailingMonitors) IsSolved(data models.JSONMap) bool {
	streak, ok := numberFromData(data[failingStreakKey])
	if !ok {
		return false
	}
	return streak == 0
}

// AlertOptions escalate with the number of monitors failing at once
func (f *FailingMonitors) AlertOptions() AlertOptions {
	return AlertOptions{
		Rule: models.CountRule{
			Levels: models.PriorityLevels{
				Moderate: models.Level(1),
				High:     models.Level(3),
				Critical: models.Level(5),
			},
		},
		DismissAcknowledgeOnNewIssues: true,
	}
}

// ReactionOptions expose the reaction sets attached at construction
func (f *FailingMonitors) ReactionOptions() ReactionOptions {
	return f.notify
}

// failureStreak counts the uninterrupted failed executions at the head of
// the monitor's history, along with the most recent error type.
func (f *FailingMonitors) failureStreak(ctx context.Context, monitorID int64) (int, string, error) {
	executions, err := f.store.GetRecentExecutions(ctx, monitorID, failingExecutionWindow)
	if err != nil {
		return 0, "", err
	}

	streak := 0
	errorType := ""
	for _, execution := range executions {
		if execution.Status != models.ExecutionStatusFailed {
			break
		}
		if errorType == "" {
			errorType = execution.ErrorType
		}
		streak++
	}
	return streak, errorType, nil
}
