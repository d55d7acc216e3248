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

package models

// Event names emitted by the orchestration pipeline. Monitor reaction
// options key off these.
const (
	EventIssueCreated          = "issue_created"
	EventIssueUpdatedSolved    = "issue_updated_solved"
	EventIssueUpdatedNotSolved = "issue_updated_not_solved"
	EventIssueLinked           = "issue_linked"
	EventIssueSolved           = "issue_solved"
	EventIssueDropped          = "issue_dropped"

	EventAlertCreated              = "alert_created"
	EventAlertUpdated              = "alert_updated"
	EventAlertPriorityIncreased    = "alert_priority_increased"
	EventAlertPriorityDecreased    = "alert_priority_decreased"
	EventAlertIssuesLinked         = "alert_issues_linked"
	EventAlertAcknowledged         = "alert_acknowledged"
	EventAlertAcknowledgeDismissed = "alert_acknowledge_dismissed"
	EventAlertLocked               = "alert_locked"
	EventAlertUnlocked             = "alert_unlocked"
	EventAlertSolved               = "alert_solved"

	EventMonitorEnabledChanged   = "monitor_enabled_changed"
	EventMonitorExecutionSuccess = "monitor_execution_success"
	EventMonitorExecutionError   = "monitor_execution_error"

	EventNotificationCreated = "notification_created"
	EventNotificationClosed  = "notification_closed"
)

// Source model names recorded on Event rows.
const (
	ModelIssue        = "issue"
	ModelAlert        = "alert"
	ModelMonitor      = "monitor"
	ModelNotification = "notification"
)

// KnownEventNames is the set of event names reactions can subscribe to.
var KnownEventNames = map[string]struct{}{
	EventIssueCreated:              {},
	EventIssueUpdatedSolved:        {},
	EventIssueUpdatedNotSolved:     {},
	EventIssueLinked:               {},
	EventIssueSolved:               {},
	EventIssueDropped:              {},
	EventAlertCreated:              {},
	EventAlertUpdated:              {},
	EventAlertPriorityIncreased:    {},
	EventAlertPriorityDecreased:    {},
	EventAlertIssuesLinked:         {},
	EventAlertAcknowledged:         {},
	EventAlertAcknowledgeDismissed: {},
	EventAlertLocked:               {},
	EventAlertUnlocked:             {},
	EventAlertSolved:               {},
	EventMonitorEnabledChanged:     {},
	EventMonitorExecutionSuccess:   {},
	EventMonitorExecutionError:     {},
	EventNotificationCreated:       {},
	EventNotificationClosed:        {},
}

// EventPayload is the body of "event" queue messages and the argument
// reactions receive. EventData is the JSON form of the entity that
// transitioned, at the time of the transition.
type EventPayload struct {
	EventName            string  `json:"event_name"`
	EventSource          string  `json:"event_source"`
	EventSourceID        int64   `json:"event_source_id"`
	EventSourceMonitorID int64   `json:"event_source_monitor_id"`
	EventData            JSONMap `json:"event_data"`
	ExtraPayload         JSONMap `json:"extra_payload,omitempty"`
}
