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
	"errors"
	"fmt"
	"time"

	"github.com/glebarez/sqlite" // Pure Go SQLite driver (no CGO required)
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/sentinela-project/sentinela/internal/models"
)

// GormStore implements Store using GORM
type GormStore struct {
	db      *gorm.DB
	dialect string
}

// ConnectionPoolConfig holds connection pool settings
type ConnectionPoolConfig struct {
	MaxIdleConns    int
	MaxOpenConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// NewGormStore creates a new GORM-based store
func NewGormStore(dialect string, dsn string) (*GormStore, error) {
	return NewGormStoreWithPool(dialect, dsn, ConnectionPoolConfig{})
}

// NewGormStoreWithPool creates a new GORM-based store with connection pool settings
func NewGormStoreWithPool(dialect string, dsn string, pool ConnectionPoolConfig) (*GormStore, error) {
	var dialector gorm.Dialector
	switch dialect {
	case "sqlite":
		dialector = sqlite.Open(dsn)
	case "postgres":
		dialector = postgres.Open(dsn)
	case "mysql":
		dialector = mysql.Open(dsn)
	default:
		return nil, fmt.Errorf("unsupported dialect: %s", dialect)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool for non-SQLite databases
	if dialect != "sqlite" && (pool.MaxIdleConns > 0 || pool.MaxOpenConns > 0 || pool.ConnMaxLifetime > 0 || pool.ConnMaxIdleTime > 0) {
		sqlDB, err := db.DB()
		if err != nil {
			return nil, fmt.Errorf("failed to get sql.DB for pool config: %w", err)
		}

		if pool.MaxIdleConns > 0 {
			sqlDB.SetMaxIdleConns(pool.MaxIdleConns)
		}
		if pool.MaxOpenConns > 0 {
			sqlDB.SetMaxOpenConns(pool.MaxOpenConns)
		}
		if pool.ConnMaxLifetime > 0 {
			sqlDB.SetConnMaxLifetime(pool.ConnMaxLifetime)
		}
		if pool.ConnMaxIdleTime > 0 {
			sqlDB.SetConnMaxIdleTime(pool.ConnMaxIdleTime)
		}
	}

	return &GormStore{db: db, dialect: dialect}, nil
}

// Init initializes the store (creates tables via auto-migration)
func (s *GormStore) Init() error {
	return s.db.AutoMigrate(
		&models.Monitor{},
		&models.CodeModule{},
		&models.Issue{},
		&models.Alert{},
		&models.Notification{},
		&models.Variable{},
		&models.Event{},
		&models.MonitorExecution{},
	)
}

// Close closes the store and releases resources
func (s *GormStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Health checks if the store is healthy
func (s *GormStore) Health(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// =============================================================================
// Monitors
// =============================================================================

// CreateMonitor stores a new monitor
func (s *GormStore) CreateMonitor(ctx context.Context, monitor *models.Monitor) error {
	return s.db.WithContext(ctx).Create(monitor).Error
}

// GetMonitor returns a monitor by id, nil when missing
func (s *GormStore) GetMonitor(ctx context.Context, id int64) (*models.Monitor, error) {
	var monitor models.Monitor
	err := s.db.WithContext(ctx).First(&monitor, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &monitor, nil
}

// GetMonitorByName returns a monitor by name, nil when missing
func (s *GormStore) GetMonitorByName(ctx context.Context, name string) (*models.Monitor, error) {
	var monitor models.Monitor
	err := s.db.WithContext(ctx).Where("name = ?", name).First(&monitor).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &monitor, nil
}

// ListMonitors returns all monitors
func (s *GormStore) ListMonitors(ctx context.Context) ([]*models.Monitor, error) {
	var monitors []*models.Monitor
	err := s.db.WithContext(ctx).Order("name").Find(&monitors).Error
	return monitors, err
}

// ListEnabledMonitors returns all enabled monitors
func (s *GormStore) ListEnabledMonitors(ctx context.Context) ([]*models.Monitor, error) {
	var monitors []*models.Monitor
	err := s.db.WithContext(ctx).
		Where("enabled = ?", true).
		Order("name").
		Find(&monitors).Error
	return monitors, err
}

// SetMonitorEnabled flips a monitor's enabled flag
func (s *GormStore) SetMonitorEnabled(ctx context.Context, id int64, enabled bool) error {
	return s.db.WithContext(ctx).Model(&models.Monitor{}).
		Where("id = ?", id).
		Update("enabled", enabled).Error
}

// SetMonitorQueued persists the queued flag, stamping queued_at on the rising edge
func (s *GormStore) SetMonitorQueued(ctx context.Context, id int64, queued bool, at time.Time) error {
	updates := map[string]interface{}{"queued": queued}
	if queued {
		updates["queued_at"] = at
	}
	return s.db.WithContext(ctx).Model(&models.Monitor{}).
		Where("id = ?", id).
		Updates(updates).Error
}

// SetMonitorRunning persists the running flag, stamping running_at on the rising edge
func (s *GormStore) SetMonitorRunning(ctx context.Context, id int64, running bool, at time.Time) error {
	updates := map[string]interface{}{"running": running}
	if running {
		updates["running_at"] = at
	}
	return s.db.WithContext(ctx).Model(&models.Monitor{}).
		Where("id = ?", id).
		Updates(updates).Error
}

// SetMonitorHeartbeat stamps a monitor's last_heartbeat
func (s *GormStore) SetMonitorHeartbeat(ctx context.Context, id int64, at time.Time) error {
	return s.db.WithContext(ctx).Model(&models.Monitor{}).
		Where("id = ?", id).
		Update("last_heartbeat", at).Error
}

// SetMonitorSearchExecuted stamps a monitor's search_executed_at
func (s *GormStore) SetMonitorSearchExecuted(ctx context.Context, id int64, at time.Time) error {
	return s.db.WithContext(ctx).Model(&models.Monitor{}).
		Where("id = ?", id).
		Update("search_executed_at", at).Error
}

// SetMonitorUpdateExecuted stamps a monitor's update_executed_at
func (s *GormStore) SetMonitorUpdateExecuted(ctx context.Context, id int64, at time.Time) error {
	return s.db.WithContext(ctx).Model(&models.Monitor{}).
		Where("id = ?", id).
		Update("update_executed_at", at).Error
}

// GetStuckMonitors returns queued or running monitors whose queue, run and
// heartbeat timestamps are all older than the tolerance. NULL timestamps
// count as stale so a flag set without its stamp is still rescued.
func (s *GormStore) GetStuckMonitors(ctx context.Context, tolerance time.Duration, now time.Time) ([]*models.Monitor, error) {
	cutoff := now.Add(-tolerance)
	var monitors []*models.Monitor
	err := s.db.WithContext(ctx).
		Where("(queued = ? OR running = ?)", true, true).
		Where("(queued_at IS NULL OR queued_at < ?)", cutoff).
		Where("(running_at IS NULL OR running_at < ?)", cutoff).
		Where("(last_heartbeat IS NULL OR last_heartbeat < ?)", cutoff).
		Find(&monitors).Error
	return monitors, err
}

// =============================================================================
// Code modules
// =============================================================================

// UpsertCodeModule stores or replaces the code module of a monitor
func (s *GormStore) UpsertCodeModule(ctx context.Context, module *models.CodeModule) error {
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "monitor_id"}},
			UpdateAll: true,
		}).Create(module).Error
}

// GetCodeModule returns the code module of a monitor, nil when missing
func (s *GormStore) GetCodeModule(ctx context.Context, monitorID int64) (*models.CodeModule, error) {
	var module models.CodeModule
	err := s.db.WithContext(ctx).Where("monitor_id = ?", monitorID).First(&module).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &module, nil
}

// GetUpdatedCodeModules returns code modules registered after since,
// restricted to the given monitors when monitorIDs is non-empty
func (s *GormStore) GetUpdatedCodeModules(ctx context.Context, monitorIDs []int64, since time.Time) ([]*models.CodeModule, error) {
	query := s.db.WithContext(ctx).Where("registered_at > ?", since)
	if len(monitorIDs) > 0 {
		query = query.Where("monitor_id IN ?", monitorIDs)
	}
	var modules []*models.CodeModule
	err := query.Order("monitor_id").Find(&modules).Error
	return modules, err
}

// =============================================================================
// Issues
// =============================================================================

// CreateIssues stores a batch of new issues
func (s *GormStore) CreateIssues(ctx context.Context, issues []*models.Issue) error {
	if len(issues) == 0 {
		return nil
	}
	return s.db.WithContext(ctx).Create(issues).Error
}

// SaveIssue persists changes to an issue
func (s *GormStore) SaveIssue(ctx context.Context, issue *models.Issue) error {
	return s.db.WithContext(ctx).Save(issue).Error
}

// GetIssue returns an issue by id, nil when missing
func (s *GormStore) GetIssue(ctx context.Context, id int64) (*models.Issue, error) {
	var issue models.Issue
	err := s.db.WithContext(ctx).First(&issue, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &issue, nil
}

// ListActiveIssues returns the active issues of a monitor
func (s *GormStore) ListActiveIssues(ctx context.Context, monitorID int64) ([]*models.Issue, error) {
	var issues []*models.Issue
	err := s.db.WithContext(ctx).
		Where("monitor_id = ? AND status = ?", monitorID, models.IssueStatusActive).
		Order("id").
		Find(&issues).Error
	return issues, err
}

// ListActiveIssuesUnlinked returns a monitor's active issues not linked to any alert
func (s *GormStore) ListActiveIssuesUnlinked(ctx context.Context, monitorID int64) ([]*models.Issue, error) {
	var issues []*models.Issue
	err := s.db.WithContext(ctx).
		Where("monitor_id = ? AND status = ? AND alert_id IS NULL",
			monitorID, models.IssueStatusActive).
		Order("id").
		Find(&issues).Error
	return issues, err
}

// ListActiveIssuesByAlert returns the active issues linked to an alert
func (s *GormStore) ListActiveIssuesByAlert(ctx context.Context, alertID int64) ([]*models.Issue, error) {
	var issues []*models.Issue
	err := s.db.WithContext(ctx).
		Where("alert_id = ? AND status = ?", alertID, models.IssueStatusActive).
		Order("id").
		Find(&issues).Error
	return issues, err
}

// IssueExists reports whether any issue of the monitor ever carried model_id
func (s *GormStore) IssueExists(ctx context.Context, monitorID int64, modelID string) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&models.Issue{}).
		Where("monitor_id = ? AND model_id = ?", monitorID, modelID).
		Count(&count).Error
	return count > 0, err
}

// LinkIssuesToAlert points the given issues at an alert
func (s *GormStore) LinkIssuesToAlert(ctx context.Context, issueIDs []int64, alertID int64) error {
	if len(issueIDs) == 0 {
		return nil
	}
	return s.db.WithContext(ctx).Model(&models.Issue{}).
		Where("id IN ?", issueIDs).
		Update("alert_id", alertID).Error
}

// =============================================================================
// Alerts
// =============================================================================

// CreateAlert stores a new alert
func (s *GormStore) CreateAlert(ctx context.Context, alert *models.Alert) error {
	return s.db.WithContext(ctx).Create(alert).Error
}

// SaveAlert persists changes to an alert
func (s *GormStore) SaveAlert(ctx context.Context, alert *models.Alert) error {
	return s.db.WithContext(ctx).Save(alert).Error
}

// GetAlert returns an alert by id, nil when missing
func (s *GormStore) GetAlert(ctx context.Context, id int64) (*models.Alert, error) {
	var alert models.Alert
	err := s.db.WithContext(ctx).First(&alert, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &alert, nil
}

// ListActiveAlerts returns the active alerts of a monitor
func (s *GormStore) ListActiveAlerts(ctx context.Context, monitorID int64) ([]*models.Alert, error) {
	var alerts []*models.Alert
	err := s.db.WithContext(ctx).
		Where("monitor_id = ? AND status = ?", monitorID, models.AlertStatusActive).
		Order("id").
		Find(&alerts).Error
	return alerts, err
}

// =============================================================================
// Notifications
// =============================================================================

// CreateNotification stores a new notification
func (s *GormStore) CreateNotification(ctx context.Context, notification *models.Notification) error {
	return s.db.WithContext(ctx).Create(notification).Error
}

// SaveNotification persists changes to a notification
func (s *GormStore) SaveNotification(ctx context.Context, notification *models.Notification) error {
	return s.db.WithContext(ctx).Save(notification).Error
}

// GetNotification returns a notification by id, nil when missing
func (s *GormStore) GetNotification(ctx context.Context, id int64) (*models.Notification, error) {
	var notification models.Notification
	err := s.db.WithContext(ctx).First(&notification, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &notification, nil
}

// ListNotificationsByAlert returns all notifications of an alert
func (s *GormStore) ListNotificationsByAlert(ctx context.Context, alertID int64) ([]*models.Notification, error) {
	var notifications []*models.Notification
	err := s.db.WithContext(ctx).
		Where("alert_id = ?", alertID).
		Order("id").
		Find(&notifications).Error
	return notifications, err
}

// ListActiveNotificationsForSolvedAlerts returns active notifications whose
// alert has already been solved
func (s *GormStore) ListActiveNotificationsForSolvedAlerts(ctx context.Context) ([]*models.Notification, error) {
	var notifications []*models.Notification
	err := s.db.WithContext(ctx).
		Joins("JOIN alerts ON alerts.id = notifications.alert_id").
		Where("notifications.status = ? AND alerts.status = ?",
			models.NotificationStatusActive, models.AlertStatusSolved).
		Find(&notifications).Error
	return notifications, err
}

// =============================================================================
// Variables
// =============================================================================

// GetVariable returns a monitor variable, nil when missing
func (s *GormStore) GetVariable(ctx context.Context, monitorID int64, name string) (*models.Variable, error) {
	var variable models.Variable
	err := s.db.WithContext(ctx).
		Where("monitor_id = ? AND name = ?", monitorID, name).
		First(&variable).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &variable, nil
}

// SetVariable stores or replaces a monitor variable
func (s *GormStore) SetVariable(ctx context.Context, monitorID int64, name string, value *string) error {
	variable := models.Variable{
		MonitorID: monitorID,
		Name:      name,
		Value:     value,
		UpdatedAt: time.Now(),
	}
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "monitor_id"}, {Name: "name"}},
			DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
		}).Create(&variable).Error
}

// ListVariables returns all variables of a monitor
func (s *GormStore) ListVariables(ctx context.Context, monitorID int64) ([]*models.Variable, error) {
	var variables []*models.Variable
	err := s.db.WithContext(ctx).
		Where("monitor_id = ?", monitorID).
		Order("name").
		Find(&variables).Error
	return variables, err
}

// =============================================================================
// Events
// =============================================================================

// CreateEvent stores an event, reporting false when the (event_type, model,
// model_id) key already exists. The conflict is swallowed so a redelivered
// transition never fails, it just does not fan out again.
func (s *GormStore) CreateEvent(ctx context.Context, event *models.Event) (bool, error) {
	result := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "event_type"}, {Name: "model"}, {Name: "model_id"}},
			DoNothing: true,
		}).Create(event)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// DeleteEventsBefore removes events created before the cutoff
func (s *GormStore) DeleteEventsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	result := s.db.WithContext(ctx).
		Where("created_at < ?", cutoff).
		Delete(&models.Event{})
	return result.RowsAffected, result.Error
}

// =============================================================================
// Executions
// =============================================================================

// RecordExecution stores a monitor execution record
func (s *GormStore) RecordExecution(ctx context.Context, execution *models.MonitorExecution) error {
	return s.db.WithContext(ctx).Create(execution).Error
}

// GetLastExecution returns the most recent execution of a monitor, nil when none
func (s *GormStore) GetLastExecution(ctx context.Context, monitorID int64) (*models.MonitorExecution, error) {
	var execution models.MonitorExecution
	err := s.db.WithContext(ctx).
		Where("monitor_id = ?", monitorID).
		Order("started_at DESC").
		First(&execution).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &execution, nil
}

// GetRecentExecutions returns the latest executions of a monitor, newest first
func (s *GormStore) GetRecentExecutions(ctx context.Context, monitorID int64, limit int) ([]*models.MonitorExecution, error) {
	var executions []*models.MonitorExecution
	err := s.db.WithContext(ctx).
		Where("monitor_id = ?", monitorID).
		Order("started_at DESC").
		Limit(limit).
		Find(&executions).Error
	return executions, err
}
