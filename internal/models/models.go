package models

import (
	"time"
)

// IssueStatus tracks an issue through its lifecycle.
type IssueStatus string

const (
	IssueStatusActive  IssueStatus = "active"
	IssueStatusDropped IssueStatus = "dropped"
	IssueStatusSolved  IssueStatus = "solved"
)

// AlertStatus tracks an alert through its lifecycle.
type AlertStatus string

const (
	AlertStatusActive AlertStatus = "active"
	AlertStatusSolved AlertStatus = "solved"
)

// NotificationStatus tracks a notification through its lifecycle.
type NotificationStatus string

const (
	NotificationStatusActive NotificationStatus = "active"
	NotificationStatusClosed NotificationStatus = "closed"
)

// ExecutionStatus is the outcome of one monitor run.
type ExecutionStatus string

const (
	ExecutionStatusSuccess ExecutionStatus = "success"
	ExecutionStatusFailed  ExecutionStatus = "failed"
)

// Error types recorded on failed executions.
const (
	ErrorTypeTimeout            = "timeout"
	ErrorTypeError              = "error"
	ErrorTypeIssuesLimitReached = "issues_limit_reached"
)

// Monitor is a registered monitoring routine. The queued and running flags
// guarantee at most one concurrent run per monitor across all executors.
type Monitor struct {
	ID               int64      `gorm:"primaryKey;autoIncrement" json:"id"`
	Name             string     `gorm:"size:255;not null;uniqueIndex" json:"name"`
	Enabled          bool       `gorm:"not null;default:true" json:"enabled"`
	Queued           bool       `gorm:"not null;default:false" json:"queued"`
	Running          bool       `gorm:"not null;default:false" json:"running"`
	QueuedAt         *time.Time `json:"queued_at,omitempty"`
	RunningAt        *time.Time `json:"running_at,omitempty"`
	SearchExecutedAt *time.Time `json:"search_executed_at,omitempty"`
	UpdateExecutedAt *time.Time `json:"update_executed_at,omitempty"`
	LastHeartbeat    *time.Time `json:"last_heartbeat,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
}

// TableName sets the table name for Monitor
func (Monitor) TableName() string {
	return "monitors"
}

// SetQueued flips the queued flag, stamping queued_at on the rising edge.
func (m *Monitor) SetQueued(queued bool, now time.Time) {
	m.Queued = queued
	if queued {
		m.QueuedAt = &now
	}
}

// SetRunning flips the running flag, stamping running_at on the rising edge.
func (m *Monitor) SetRunning(running bool, now time.Time) {
	m.Running = running
	if running {
		m.RunningAt = &now
	}
}

// CodeModule is the source artifact recorded when a monitor is registered.
type CodeModule struct {
	ID              int64         `gorm:"primaryKey;autoIncrement" json:"id"`
	MonitorID       int64         `gorm:"not null;uniqueIndex" json:"monitor_id"`
	Code            string        `gorm:"type:text" json:"code"`
	AdditionalFiles JSONStringMap `gorm:"type:text" json:"additional_files,omitempty"`
	RegisteredAt    *time.Time    `json:"registered_at,omitempty"`
}

// TableName sets the table name for CodeModule
func (CodeModule) TableName() string {
	return "code_modules"
}

// Issue is one problem instance found by a monitor, identified within the
// monitor by model_id.
type Issue struct {
	ID        int64       `gorm:"primaryKey;autoIncrement" json:"id"`
	MonitorID int64       `gorm:"not null;index:idx_issues_monitor_status,priority:1" json:"monitor_id"`
	AlertID   *int64      `gorm:"index" json:"alert_id,omitempty"`
	ModelID   string      `gorm:"size:255;not null;index" json:"model_id"`
	Status    IssueStatus `gorm:"size:16;not null;default:active;index:idx_issues_monitor_status,priority:2" json:"status"`
	Data      JSONMap     `gorm:"type:text" json:"data"`
	CreatedAt time.Time   `json:"created_at"`
	SolvedAt  *time.Time  `json:"solved_at,omitempty"`
	DroppedAt *time.Time  `json:"dropped_at,omitempty"`
}

// TableName sets the table name for Issue
func (Issue) TableName() string {
	return "issues"
}

// Active reports whether the issue still counts towards alert priority.
func (i *Issue) Active() bool {
	return i.Status == IssueStatusActive
}

// Age is the time elapsed since the issue was created.
func (i *Issue) Age(now time.Time) time.Duration {
	return now.Sub(i.CreatedAt)
}

// UpdateData replaces the issue data. Solved and dropped issues are
// immutable.
func (i *Issue) UpdateData(data JSONMap) bool {
	if !i.Active() {
		return false
	}
	i.Data = data
	return true
}

// Solve marks the issue solved. Returns false when the issue already left
// the active state.
func (i *Issue) Solve(now time.Time) bool {
	if !i.Active() {
		return false
	}
	i.Status = IssueStatusSolved
	i.SolvedAt = &now
	return true
}

// Drop discards the issue without considering it solved.
func (i *Issue) Drop(now time.Time) bool {
	if !i.Active() {
		return false
	}
	i.Status = IssueStatusDropped
	i.DroppedAt = &now
	return true
}

// LinkTo attaches the issue to an alert. Linking is permanent, the alert
// link survives the issue being solved or dropped.
func (i *Issue) LinkTo(alertID int64) bool {
	if i.AlertID != nil {
		return false
	}
	i.AlertID = &alertID
	return true
}

// PriorityChange is the direction of an alert priority update.
type PriorityChange int

const (
	PriorityUnchanged PriorityChange = iota
	PriorityIncreased
	PriorityDecreased
)

// Alert aggregates the active issues of one monitor under a single
// priority. At most one alert per monitor is active at a time.
type Alert struct {
	ID                  int64       `gorm:"primaryKey;autoIncrement" json:"id"`
	MonitorID           int64       `gorm:"not null;index:idx_alerts_monitor_status,priority:1" json:"monitor_id"`
	Status              AlertStatus `gorm:"size:16;not null;default:active;index:idx_alerts_monitor_status,priority:2" json:"status"`
	Priority            Priority    `gorm:"size:16;not null" json:"priority"`
	Acknowledged        bool        `gorm:"not null;default:false" json:"acknowledged"`
	Locked              bool        `gorm:"not null;default:false" json:"locked"`
	AcknowledgePriority *Priority   `gorm:"size:16" json:"acknowledge_priority,omitempty"`
	CreatedAt           time.Time   `json:"created_at"`
	SolvedAt            *time.Time  `json:"solved_at,omitempty"`
}

// TableName sets the table name for Alert
func (Alert) TableName() string {
	return "alerts"
}

// Active reports whether the alert is still open.
func (a *Alert) Active() bool {
	return a.Status == AlertStatusActive
}

// Acknowledge records that an operator has seen the alert at its current
// priority. Escalation past that priority dismisses the acknowledgement.
func (a *Alert) Acknowledge() bool {
	if !a.Active() || a.Acknowledged {
		return false
	}
	a.Acknowledged = true
	p := a.Priority
	a.AcknowledgePriority = &p
	return true
}

// DismissAcknowledge clears an acknowledgement.
func (a *Alert) DismissAcknowledge() bool {
	if !a.Acknowledged {
		return false
	}
	a.Acknowledged = false
	a.AcknowledgePriority = nil
	return true
}

// Lock freezes the alert priority until unlocked or solved.
func (a *Alert) Lock() bool {
	if !a.Active() || a.Locked {
		return false
	}
	a.Locked = true
	return true
}

// Unlock lifts a lock.
func (a *Alert) Unlock() bool {
	if !a.Active() || !a.Locked {
		return false
	}
	a.Locked = false
	return true
}

// Solve closes the alert. Locked and acknowledged alerts still solve.
func (a *Alert) Solve(now time.Time) bool {
	if !a.Active() {
		return false
	}
	a.Status = AlertStatusSolved
	a.SolvedAt = &now
	return true
}

// ApplyPriority moves the alert to p. Locked alerts ignore priority
// updates. The second result reports whether an acknowledgement was
// dismissed because the alert escalated past the priority it was
// acknowledged at.
func (a *Alert) ApplyPriority(p Priority) (PriorityChange, bool) {
	if !a.Active() || a.Locked || p == a.Priority {
		return PriorityUnchanged, false
	}
	change := PriorityDecreased
	if p.MoreSevereThan(a.Priority) {
		change = PriorityIncreased
	}
	a.Priority = p

	dismissed := false
	if change == PriorityIncreased && a.Acknowledged {
		if a.AcknowledgePriority == nil || p.MoreSevereThan(*a.AcknowledgePriority) {
			a.Acknowledged = false
			a.AcknowledgePriority = nil
			dismissed = true
		}
	}
	return change, dismissed
}

// Notification tracks one outbound notification target per alert. The
// (alert_id, target) unique key makes reaction retries idempotent.
type Notification struct {
	ID        int64              `gorm:"primaryKey;autoIncrement" json:"id"`
	MonitorID int64              `gorm:"not null;index" json:"monitor_id"`
	AlertID   int64              `gorm:"not null;uniqueIndex:idx_notifications_alert_target,priority:1" json:"alert_id"`
	Target    string             `gorm:"size:255;not null;uniqueIndex:idx_notifications_alert_target,priority:2" json:"target"`
	Status    NotificationStatus `gorm:"size:16;not null;default:active" json:"status"`
	Data      JSONMap            `gorm:"type:text" json:"data,omitempty"`
	CreatedAt time.Time          `json:"created_at"`
	ClosedAt  *time.Time         `json:"closed_at,omitempty"`
}

// TableName sets the table name for Notification
func (Notification) TableName() string {
	return "notifications"
}

// Active reports whether the notification is still open on its target.
func (n *Notification) Active() bool {
	return n.Status == NotificationStatusActive
}

// Close marks the notification closed.
func (n *Notification) Close(now time.Time) bool {
	if !n.Active() {
		return false
	}
	n.Status = NotificationStatusClosed
	n.ClosedAt = &now
	return true
}

// Variable is a per-monitor key-value pair persisted between runs.
type Variable struct {
	ID        int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	MonitorID int64     `gorm:"not null;uniqueIndex:idx_variables_monitor_name,priority:1" json:"monitor_id"`
	Name      string    `gorm:"size:255;not null;uniqueIndex:idx_variables_monitor_name,priority:2" json:"name"`
	Value     *string   `gorm:"type:text" json:"value"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName sets the table name for Variable
func (Variable) TableName() string {
	return "variables"
}

// Event is the idempotency record for a domain event. The unique key keeps
// redelivered queue messages and repeated transitions from re-running
// reactions for the same (event, entity) pair.
type Event struct {
	ID        string    `gorm:"primaryKey;size:36" json:"id"`
	EventType string    `gorm:"size:64;not null;uniqueIndex:idx_events_type_model,priority:1" json:"event_type"`
	Model     string    `gorm:"size:32;not null;uniqueIndex:idx_events_type_model,priority:2" json:"model"`
	ModelID   int64     `gorm:"not null;uniqueIndex:idx_events_type_model,priority:3" json:"model_id"`
	MonitorID int64     `gorm:"index" json:"monitor_id"`
	Payload   JSONMap   `gorm:"type:text" json:"payload,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// TableName sets the table name for Event
func (Event) TableName() string {
	return "events"
}

// MonitorExecution records one run of a monitor's routines.
type MonitorExecution struct {
	ID         int64           `gorm:"primaryKey;autoIncrement" json:"id"`
	MonitorID  int64           `gorm:"not null;index:idx_executions_monitor_started,priority:1" json:"monitor_id"`
	Status     ExecutionStatus `gorm:"size:16;not null" json:"status"`
	ErrorType  string          `gorm:"size:255" json:"error_type,omitempty"`
	StartedAt  time.Time       `gorm:"index:idx_executions_monitor_started,priority:2" json:"started_at"`
	FinishedAt time.Time       `json:"finished_at"`
}

// TableName sets the table name for MonitorExecution
func (MonitorExecution) TableName() string {
	return "monitor_executions"
}

// Duration is the wall time the execution took.
func (e *MonitorExecution) Duration() time.Duration {
	return e.FinishedAt.Sub(e.StartedAt)
}
