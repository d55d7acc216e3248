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

package store

import (
	"context"
	"time"

	"github.com/sentinela-project/sentinela/internal/models"
)

// Store defines the persistence interface for the monitoring pipeline
type Store interface {
	// Init initializes the store (creates tables, connections, etc.)
	Init() error

	// Close closes the store and releases resources
	Close() error

	// Health checks if the store is healthy
	Health(ctx context.Context) error

	// CreateMonitor stores a new monitor
	CreateMonitor(ctx context.Context, monitor *models.Monitor) error

	// GetMonitor returns a monitor by id, nil when missing
	GetMonitor(ctx context.Context, id int64) (*models.Monitor, error)

	// GetMonitorByName returns a monitor by name, nil when missing
	GetMonitorByName(ctx context.Context, name string) (*models.Monitor, error)

	// ListMonitors returns all monitors
	ListMonitors(ctx context.Context) ([]*models.Monitor, error)

	// ListEnabledMonitors returns all enabled monitors
	ListEnabledMonitors(ctx context.Context) ([]*models.Monitor, error)

	// SetMonitorEnabled flips a monitor's enabled flag
	SetMonitorEnabled(ctx context.Context, id int64, enabled bool) error

	// SetMonitorQueued persists the queued flag, stamping queued_at on the rising edge
	SetMonitorQueued(ctx context.Context, id int64, queued bool, at time.Time) error

	// SetMonitorRunning persists the running flag, stamping running_at on the rising edge
	SetMonitorRunning(ctx context.Context, id int64, running bool, at time.Time) error

	// SetMonitorHeartbeat stamps a monitor's last_heartbeat
	SetMonitorHeartbeat(ctx context.Context, id int64, at time.Time) error

	// SetMonitorSearchExecuted stamps a monitor's search_executed_at
	SetMonitorSearchExecuted(ctx context.Context, id int64, at time.Time) error

	// SetMonitorUpdateExecuted stamps a monitor's update_executed_at
	SetMonitorUpdateExecuted(ctx context.Context, id int64, at time.Time) error

	// GetStuckMonitors returns queued or running monitors whose queue, run
	// and heartbeat timestamps are all older than the tolerance
	GetStuckMonitors(ctx context.Context, tolerance time.Duration, now time.Time) ([]*models.Monitor, error)

	// UpsertCodeModule stores or replaces the code module of a monitor
	UpsertCodeModule(ctx context.Context, module *models.CodeModule) error

	// GetCodeModule returns the code module of a monitor, nil when missing
	GetCodeModule(ctx context.Context, monitorID int64) (*models.CodeModule, error)

	// GetUpdatedCodeModules returns code modules registered after since,
	// restricted to the given monitors when monitorIDs is non-empty
	GetUpdatedCodeModules(ctx context.Context, monitorIDs []int64, since time.Time) ([]*models.CodeModule, error)

	// CreateIssues stores a batch of new issues
	CreateIssues(ctx context.Context, issues []*models.Issue) error

	// SaveIssue persists changes to an issue
	SaveIssue(ctx context.Context, issue *models.Issue) error

	// GetIssue returns an issue by id, nil when missing
	GetIssue(ctx context.Context, id int64) (*models.Issue, error)

	// ListActiveIssues returns the active issues of a monitor
	ListActiveIssues(ctx context.Context, monitorID int64) ([]*models.Issue, error)

	// ListActiveIssuesUnlinked returns a monitor's active issues not linked to any alert
	ListActiveIssuesUnlinked(ctx context.Context, monitorID int64) ([]*models.Issue, error)

	// ListActiveIssuesByAlert returns the active issues linked to an alert
	ListActiveIssuesByAlert(ctx context.Context, alertID int64) ([]*models.Issue, error)

	// IssueExists reports whether any issue of the monitor ever carried model_id
	IssueExists(ctx context.Context, monitorID int64, modelID string) (bool, error)

	// LinkIssuesToAlert points the given issues at an alert
	LinkIssuesToAlert(ctx context.Context, issueIDs []int64, alertID int64) error

	// CreateAlert stores a new alert
	CreateAlert(ctx context.Context, alert *models.Alert) error

	// SaveAlert persists changes to an alert
	SaveAlert(ctx context.Context, alert *models.Alert) error

	// GetAlert returns an alert by id, nil when missing
	GetAlert(ctx context.Context, id int64) (*models.Alert, error)

	// ListActiveAlerts returns the active alerts of a monitor
	ListActiveAlerts(ctx context.Context, monitorID int64) ([]*models.Alert, error)

	// CreateNotification stores a new notification
	CreateNotification(ctx context.Context, notification *models.Notification) error

	// SaveNotification persists changes to a notification
	SaveNotification(ctx context.Context, notification *models.Notification) error

	// GetNotification returns a notification by id, nil when missing
	GetNotification(ctx context.Context, id int64) (*models.Notification, error)

	// ListNotificationsByAlert returns all notifications of an alert
	ListNotificationsByAlert(ctx context.Context, alertID int64) ([]*models.Notification, error)

	// ListActiveNotificationsForSolvedAlerts returns active notifications
	// whose alert has already been solved
	ListActiveNotificationsForSolvedAlerts(ctx context.Context) ([]*models.Notification, error)

	// GetVariable returns a monitor variable, nil when missing
	GetVariable(ctx context.Context, monitorID int64, name string) (*models.Variable, error)

	// SetVariable stores or replaces a monitor variable
	SetVariable(ctx context.Context, monitorID int64, name string, value *string) error

	// ListVariables returns all variables of a monitor
	ListVariables(ctx context.Context, monitorID int64) ([]*models.Variable, error)

	// CreateEvent stores an event, reporting false when the (event_type,
	// model, model_id) key already exists
	CreateEvent(ctx context.Context, event *models.Event) (bool, error)

	// DeleteEventsBefore removes events created before the cutoff
	DeleteEventsBefore(ctx context.Context, cutoff time.Time) (int64, error)

	// RecordExecution stores a monitor execution record
	RecordExecution(ctx context.Context, execution *models.MonitorExecution) error

	// GetLastExecution returns the most recent execution of a monitor, nil when none
	GetLastExecution(ctx context.Context, monitorID int64) (*models.MonitorExecution, error)

	// GetRecentExecutions returns the latest executions of a monitor, newest first
	GetRecentExecutions(ctx context.Context, monitorID int64, limit int) ([]*models.MonitorExecution, error)
}
