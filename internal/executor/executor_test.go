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
	"testing"
	"time"

	"github.com/go-logr/logr"
	"github.com/google/uuid"
	"github.com/samber/lo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sentinela-project/sentinela/internal/config"
	"github.com/sentinela-project/sentinela/internal/croneval"
	"github.com/sentinela-project/sentinela/internal/events"
	"github.com/sentinela-project/sentinela/internal/models"
	"github.com/sentinela-project/sentinela/internal/monitors"
	"github.com/sentinela-project/sentinela/internal/queue"
	"github.com/sentinela-project/sentinela/internal/registry"
	"github.com/sentinela-project/sentinela/internal/store"
	"github.com/sentinela-project/sentinela/internal/taskmanager"
)

// scriptedModule returns canned search results.
type scriptedModule struct {
	options      monitors.Options
	issueOptions monitors.IssueOptions
	records      []monitors.IssueRecord
	searchErr    error
	searchFn     func(ctx context.Context, mon *monitors.Context) ([]monitors.IssueRecord, error)
}

func (m *scriptedModule) Options() monitors.Options { return m.options }

func (m *scriptedModule) IssueOptions() monitors.IssueOptions {
	opts := m.issueOptions
	if opts.ModelIDKey == "" {
		opts.ModelIDKey = "id"
	}
	return opts
}

func (m *scriptedModule) Search(ctx context.Context, mon *monitors.Context) ([]monitors.IssueRecord, error) {
	if m.searchFn != nil {
		return m.searchFn(ctx, mon)
	}
	return m.records, m.searchErr
}

// alertingModule extends scriptedModule with updates, a solved check driven
// by a "solved" data flag, alert aggregation and reaction subscriptions.
type alertingModule struct {
	scriptedModule
	update    func(ctx context.Context, mon *monitors.Context, issuesData []models.JSONMap) ([]monitors.IssueRecord, error)
	alerts    monitors.AlertOptions
	reactions monitors.ReactionOptions
}

func (m *alertingModule) Update(ctx context.Context, mon *monitors.Context, issuesData []models.JSONMap) ([]monitors.IssueRecord, error) {
	if m.update == nil {
		return nil, nil
	}
	return m.update(ctx, mon, issuesData)
}

func (m *alertingModule) IsSolved(data models.JSONMap) bool {
	return data["solved"] == true
}

func (m *alertingModule) AlertOptions() monitors.AlertOptions { return m.alerts }

func (m *alertingModule) ReactionOptions() monitors.ReactionOptions { return m.reactions }

// countRule builds a CountRule from informational and low thresholds.
func countRule(informational, low float64) models.CountRule {
	levels := models.PriorityLevels{}
	if informational > 0 {
		levels.Informational = models.Level(informational)
	}
	if low > 0 {
		levels.Low = models.Level(low)
	}
	return models.CountRule{Levels: levels}
}

type executorHarness struct {
	executor *Executor
	store    store.Store
	queue    queue.Queue
	registry *registry.Registry
	cfg      *config.Config
}

func newExecutorForTest(t *testing.T) *executorHarness {
	t.Helper()

	st, err := store.NewGormStore("sqlite", "file::memory:?cache=shared")
	require.NoError(t, err)
	require.NoError(t, st.Init())
	t.Cleanup(func() { _ = st.Close() })

	cfg := config.DefaultConfig()
	cfg.Queue.WaitMessageTime = 100 * time.Millisecond
	cfg.Executor.Sleep = 10 * time.Millisecond

	q := queue.NewInternalQueue(cfg.Queue, logr.Discard())
	reg := registry.New(logr.Discard())
	reg.SetReady()
	emitter := events.New(st, q, reg, false, logr.Discard())
	tasks := taskmanager.New(logr.Discard())
	eval, err := croneval.New("UTC")
	require.NoError(t, err)

	e := New(st, q, reg, emitter, tasks, eval, cfg, logr.Discard())
	return &executorHarness{executor: e, store: st, queue: q, registry: reg, cfg: cfg}
}

// autoReload answers registry reload requests by re-marking it ready, the
// way the loader does after a load pass.
func (h *executorHarness) autoReload(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-h.registry.ReloadRequests():
				h.registry.SetReady()
			}
		}
	}()
}

func (h *executorHarness) registerModule(t *testing.T, name string, module monitors.Module) *models.Monitor {
	t.Helper()
	monitor := &models.Monitor{Name: name, Enabled: true}
	require.NoError(t, h.store.CreateMonitor(context.Background(), monitor))
	h.registry.Register(monitor.ID, monitor.Name, module)
	return monitor
}

func (h *executorHarness) handle(message *queue.Message) error {
	return h.executor.handleMessage(context.Background(), logr.Discard(), message)
}

func (h *executorHarness) activeIssues(t *testing.T, monitorID int64) []*models.Issue {
	t.Helper()
	issues, err := h.store.ListActiveIssues(context.Background(), monitorID)
	require.NoError(t, err)
	return issues
}

func (h *executorHarness) activeAlerts(t *testing.T, monitorID int64) []*models.Alert {
	t.Helper()
	alerts, err := h.store.ListActiveAlerts(context.Background(), monitorID)
	require.NoError(t, err)
	return alerts
}

func (h *executorHarness) getAlert(t *testing.T, id int64) *models.Alert {
	t.Helper()
	alert, err := h.store.GetAlert(context.Background(), id)
	require.NoError(t, err)
	require.NotNil(t, alert)
	return alert
}

func (h *executorHarness) getMonitor(t *testing.T, id int64) *models.Monitor {
	t.Helper()
	monitor, err := h.store.GetMonitor(context.Background(), id)
	require.NoError(t, err)
	require.NotNil(t, monitor)
	return monitor
}

func (h *executorHarness) lastExecution(t *testing.T, monitorID int64) *models.MonitorExecution {
	t.Helper()
	execution, err := h.store.GetLastExecution(context.Background(), monitorID)
	require.NoError(t, err)
	return execution
}

// drainEventNames empties the queue and returns the names of the event
// messages it found.
func (h *executorHarness) drainEventNames(t *testing.T) []string {
	t.Helper()
	names := []string{}
	for {
		message, err := h.queue.GetMessage(context.Background())
		require.NoError(t, err)
		if message == nil {
			return names
		}
		if message.Type == queue.TypeEvent {
			var payload models.EventPayload
			require.NoError(t, json.Unmarshal(message.Payload, &payload))
			names = append(names, payload.EventName)
		}
		require.NoError(t, h.queue.DeleteMessage(context.Background(), message))
	}
}

func monitorMessage(t *testing.T, monitorID int64, tasks ...string) *queue.Message {
	t.Helper()
	raw, err := json.Marshal(queue.ProcessMonitorPayload{MonitorID: monitorID, Tasks: tasks})
	require.NoError(t, err)
	return &queue.Message{ID: uuid.NewString(), Type: queue.TypeProcessMonitor, Payload: raw}
}

func requestMessage(t *testing.T, action string, targetID int64) *queue.Message {
	t.Helper()
	raw, err := json.Marshal(queue.RequestPayload{Action: action, TargetID: targetID})
	require.NoError(t, err)
	return &queue.Message{ID: uuid.NewString(), Type: queue.TypeRequest, Payload: raw}
}

func noopReaction(ctx context.Context, payload *models.EventPayload) error {
	return nil
}

func TestSearchCreatesIssuesAndAlert(t *testing.T) {
	h := newExecutorForTest(t)
	module := &alertingModule{
		scriptedModule: scriptedModule{
			records: []monitors.IssueRecord{{"id": "a"}, {"id": "b"}, {"id": "c"}},
		},
		alerts:    monitors.AlertOptions{Rule: countRule(2, 4)},
		reactions: monitors.ReactionOptions{models.EventAlertCreated: {noopReaction}},
	}
	monitor := h.registerModule(t, "orders.failed", module)

	require.NoError(t, h.handle(monitorMessage(t, monitor.ID, queue.TaskSearch)))

	issues := h.activeIssues(t, monitor.ID)
	assert.Len(t, issues, 3)

	alerts := h.activeAlerts(t, monitor.ID)
	require.Len(t, alerts, 1)
	assert.Equal(t, models.PriorityInformational, alerts[0].Priority)
	for _, issue := range issues {
		require.NotNil(t, issue.AlertID)
		assert.Equal(t, alerts[0].ID, *issue.AlertID)
	}
	assert.Equal(t, []string{models.EventAlertCreated}, h.drainEventNames(t))

	execution := h.lastExecution(t, monitor.ID)
	require.NotNil(t, execution)
	assert.Equal(t, models.ExecutionStatusSuccess, execution.Status)

	// an identical second run changes nothing
	require.NoError(t, h.handle(monitorMessage(t, monitor.ID, queue.TaskSearch)))
	assert.Len(t, h.activeIssues(t, monitor.ID), 3)
	assert.Len(t, h.activeAlerts(t, monitor.ID), 1)
	assert.Empty(t, h.drainEventNames(t))
}

func TestSearchFiltersRecords(t *testing.T) {
	h := newExecutorForTest(t)
	// a batch duplicate, a record without the model id key and an already
	// solved record must all be dropped before creation
	module := &alertingModule{
		scriptedModule: scriptedModule{
			records: []monitors.IssueRecord{
				{"id": "a"},
				{"id": "a"},
				{"name": "missing-id"},
				{"id": "c", "solved": true},
				{"id": "b"},
			},
		},
		alerts: monitors.AlertOptions{Rule: countRule(10, 0)},
	}
	monitor := h.registerModule(t, "disk.partitions", module)

	require.NoError(t, h.handle(monitorMessage(t, monitor.ID, queue.TaskSearch)))

	issues := h.activeIssues(t, monitor.ID)
	ids := lo.Map(issues, func(issue *models.Issue, _ int) string { return issue.ModelID })
	assert.ElementsMatch(t, []string{"a", "b"}, ids)
}

func TestSearchCapRecordsFailedExecution(t *testing.T) {
	h := newExecutorForTest(t)
	module := &scriptedModule{
		options: monitors.Options{MaxIssuesCreation: 2},
		records: []monitors.IssueRecord{{"id": "a"}, {"id": "b"}, {"id": "c"}},
	}
	monitor := h.registerModule(t, "queue.lag", module)

	require.NoError(t, h.handle(monitorMessage(t, monitor.ID, queue.TaskSearch)))

	issues := h.activeIssues(t, monitor.ID)
	ids := lo.Map(issues, func(issue *models.Issue, _ int) string { return issue.ModelID })
	assert.ElementsMatch(t, []string{"a", "b"}, ids)

	execution := h.lastExecution(t, monitor.ID)
	require.NotNil(t, execution)
	assert.Equal(t, models.ExecutionStatusFailed, execution.Status)
	assert.Equal(t, models.ErrorTypeIssuesLimitReached, execution.ErrorType)
}

func TestUniqueIssuesAreNeverRecreated(t *testing.T) {
	h := newExecutorForTest(t)
	module := &scriptedModule{
		issueOptions: monitors.IssueOptions{Unique: true, Solvable: lo.ToPtr(false)},
		records:      []monitors.IssueRecord{{"id": "dup-1"}},
	}
	monitor := h.registerModule(t, "payments.chargebacks", module)

	require.NoError(t, h.handle(monitorMessage(t, monitor.ID, queue.TaskSearch)))
	issues := h.activeIssues(t, monitor.ID)
	require.Len(t, issues, 1)

	require.NoError(t, h.handle(requestMessage(t, queue.ActionIssueDrop, issues[0].ID)))
	assert.Empty(t, h.activeIssues(t, monitor.ID))

	// the dropped issue keeps its model id reserved forever
	require.NoError(t, h.handle(monitorMessage(t, monitor.ID, queue.TaskSearch)))
	assert.Empty(t, h.activeIssues(t, monitor.ID))
}

func TestUpdateRefreshesIssueData(t *testing.T) {
	h := newExecutorForTest(t)
	var receivedData []models.JSONMap
	module := &alertingModule{
		scriptedModule: scriptedModule{
			records: []monitors.IssueRecord{
				{"id": "a", "state": "pending"},
				{"id": "b", "state": "pending"},
			},
		},
		update: func(ctx context.Context, mon *monitors.Context, issuesData []models.JSONMap) ([]monitors.IssueRecord, error) {
			receivedData = issuesData
			// the duplicate and the unmatched record must both be skipped
			return []monitors.IssueRecord{
				{"id": "a", "state": "late"},
				{"id": "a", "state": "duplicated"},
				{"id": "z", "state": "unknown"},
			}, nil
		},
		alerts: monitors.AlertOptions{Rule: countRule(10, 0)},
	}
	monitor := h.registerModule(t, "shipments.delayed", module)

	require.NoError(t, h.handle(monitorMessage(t, monitor.ID, queue.TaskSearch)))
	require.NoError(t, h.handle(monitorMessage(t, monitor.ID, queue.TaskUpdate)))

	assert.Len(t, receivedData, 2)

	issues := h.activeIssues(t, monitor.ID)
	byModelID := lo.KeyBy(issues, func(issue *models.Issue) string { return issue.ModelID })
	require.Len(t, byModelID, 2)
	assert.Equal(t, "late", byModelID["a"].Data["state"])
	assert.Equal(t, "pending", byModelID["b"].Data["state"])
}

func TestSolvedIssuesCloseTheAlert(t *testing.T) {
	h := newExecutorForTest(t)
	module := &alertingModule{
		scriptedModule: scriptedModule{
			records: []monitors.IssueRecord{{"id": "a"}, {"id": "b"}},
		},
		update: func(ctx context.Context, mon *monitors.Context, issuesData []models.JSONMap) ([]monitors.IssueRecord, error) {
			return []monitors.IssueRecord{
				{"id": "a", "solved": true},
				{"id": "b", "solved": true},
			}, nil
		},
		alerts:    monitors.AlertOptions{Rule: countRule(1, 0)},
		reactions: monitors.ReactionOptions{models.EventAlertSolved: {noopReaction}},
	}
	monitor := h.registerModule(t, "backups.stale", module)

	require.NoError(t, h.handle(monitorMessage(t, monitor.ID, queue.TaskSearch)))
	alerts := h.activeAlerts(t, monitor.ID)
	require.Len(t, alerts, 1)
	h.drainEventNames(t)

	require.NoError(t, h.handle(monitorMessage(t, monitor.ID, queue.TaskUpdate)))

	assert.Empty(t, h.activeIssues(t, monitor.ID))
	assert.Empty(t, h.activeAlerts(t, monitor.ID))

	alert := h.getAlert(t, alerts[0].ID)
	assert.Equal(t, models.AlertStatusSolved, alert.Status)
	require.NotNil(t, alert.SolvedAt)
	assert.Equal(t, []string{models.EventAlertSolved}, h.drainEventNames(t))
}

func TestEscalationDismissesAcknowledgement(t *testing.T) {
	h := newExecutorForTest(t)
	module := &alertingModule{
		scriptedModule: scriptedModule{
			records: []monitors.IssueRecord{{"id": "a"}},
		},
		alerts:    monitors.AlertOptions{Rule: countRule(1, 3)},
		reactions: monitors.ReactionOptions{models.EventAlertAcknowledgeDismissed: {noopReaction}},
	}
	monitor := h.registerModule(t, "api.latency", module)

	require.NoError(t, h.handle(monitorMessage(t, monitor.ID, queue.TaskSearch)))
	alerts := h.activeAlerts(t, monitor.ID)
	require.Len(t, alerts, 1)
	require.Equal(t, models.PriorityInformational, alerts[0].Priority)

	require.NoError(t, h.handle(requestMessage(t, queue.ActionAlertAcknowledge, alerts[0].ID)))
	alert := h.getAlert(t, alerts[0].ID)
	require.True(t, alert.Acknowledged)
	require.NotNil(t, alert.AcknowledgePriority)

	// an unchanged priority keeps the acknowledgement
	require.NoError(t, h.handle(monitorMessage(t, monitor.ID, queue.TaskSearch)))
	alert = h.getAlert(t, alerts[0].ID)
	assert.True(t, alert.Acknowledged)
	h.drainEventNames(t)

	// escalation past the acknowledged priority dismisses it
	module.records = []monitors.IssueRecord{{"id": "a"}, {"id": "b"}, {"id": "c"}}
	require.NoError(t, h.handle(monitorMessage(t, monitor.ID, queue.TaskSearch)))

	alert = h.getAlert(t, alerts[0].ID)
	assert.Equal(t, models.PriorityLow, alert.Priority)
	assert.False(t, alert.Acknowledged)
	assert.Nil(t, alert.AcknowledgePriority)
	assert.Contains(t, h.drainEventNames(t), models.EventAlertAcknowledgeDismissed)
}

func TestLockFreezesPriorityNotMembership(t *testing.T) {
	h := newExecutorForTest(t)
	module := &alertingModule{
		scriptedModule: scriptedModule{
			records: []monitors.IssueRecord{{"id": "a"}},
		},
		alerts: monitors.AlertOptions{Rule: countRule(1, 3)},
	}
	monitor := h.registerModule(t, "certs.expiring", module)

	require.NoError(t, h.handle(monitorMessage(t, monitor.ID, queue.TaskSearch)))
	alerts := h.activeAlerts(t, monitor.ID)
	require.Len(t, alerts, 1)

	require.NoError(t, h.handle(requestMessage(t, queue.ActionAlertLock, alerts[0].ID)))
	require.True(t, h.getAlert(t, alerts[0].ID).Locked)

	// new issues still join the locked alert, but the priority is frozen
	module.records = []monitors.IssueRecord{{"id": "a"}, {"id": "b"}, {"id": "c"}}
	require.NoError(t, h.handle(monitorMessage(t, monitor.ID, queue.TaskSearch)))

	issues := h.activeIssues(t, monitor.ID)
	require.Len(t, issues, 3)
	for _, issue := range issues {
		require.NotNil(t, issue.AlertID)
		assert.Equal(t, alerts[0].ID, *issue.AlertID)
	}
	assert.Len(t, h.activeAlerts(t, monitor.ID), 1)
	assert.Equal(t, models.PriorityInformational, h.getAlert(t, alerts[0].ID).Priority)

	// unlocking lets the next run catch the priority up
	require.NoError(t, h.handle(requestMessage(t, queue.ActionAlertUnlock, alerts[0].ID)))
	require.NoError(t, h.handle(monitorMessage(t, monitor.ID, queue.TaskSearch)))
	assert.Equal(t, models.PriorityLow, h.getAlert(t, alerts[0].ID).Priority)
}

func TestForceSolveDropsLinkedIssues(t *testing.T) {
	h := newExecutorForTest(t)
	module := &alertingModule{
		scriptedModule: scriptedModule{
			records: []monitors.IssueRecord{{"id": "a"}, {"id": "b"}, {"id": "c"}},
		},
		alerts: monitors.AlertOptions{Rule: countRule(1, 0)},
		reactions: monitors.ReactionOptions{
			models.EventIssueDropped: {noopReaction},
			models.EventAlertSolved:  {noopReaction},
		},
	}
	monitor := h.registerModule(t, "invoices.unpaid", module)

	require.NoError(t, h.handle(monitorMessage(t, monitor.ID, queue.TaskSearch)))
	alerts := h.activeAlerts(t, monitor.ID)
	require.Len(t, alerts, 1)
	h.drainEventNames(t)

	require.NoError(t, h.handle(requestMessage(t, queue.ActionAlertSolve, alerts[0].ID)))

	assert.Empty(t, h.activeIssues(t, monitor.ID))
	alert := h.getAlert(t, alerts[0].ID)
	assert.Equal(t, models.AlertStatusSolved, alert.Status)
	require.NotNil(t, alert.SolvedAt)

	names := h.drainEventNames(t)
	assert.Equal(t, 3, lo.Count(names, models.EventIssueDropped))
	assert.Equal(t, 1, lo.Count(names, models.EventAlertSolved))

	// redelivery of the same request is a no-op
	solvedAt := *alert.SolvedAt
	require.NoError(t, h.handle(requestMessage(t, queue.ActionAlertSolve, alerts[0].ID)))
	alert = h.getAlert(t, alerts[0].ID)
	assert.Equal(t, solvedAt, *alert.SolvedAt)
	assert.Empty(t, h.drainEventNames(t))
}

func TestIssueDropCascadesToAlertSolve(t *testing.T) {
	h := newExecutorForTest(t)
	module := &alertingModule{
		scriptedModule: scriptedModule{
			records: []monitors.IssueRecord{{"id": "a"}, {"id": "b"}},
		},
		alerts:    monitors.AlertOptions{Rule: countRule(1, 0)},
		reactions: monitors.ReactionOptions{models.EventAlertSolved: {noopReaction}},
	}
	monitor := h.registerModule(t, "dns.records", module)

	require.NoError(t, h.handle(monitorMessage(t, monitor.ID, queue.TaskSearch)))
	issues := h.activeIssues(t, monitor.ID)
	require.Len(t, issues, 2)
	alerts := h.activeAlerts(t, monitor.ID)
	require.Len(t, alerts, 1)

	require.NoError(t, h.handle(requestMessage(t, queue.ActionIssueDrop, issues[0].ID)))
	assert.Len(t, h.activeIssues(t, monitor.ID), 1)
	assert.Equal(t, models.AlertStatusActive, h.getAlert(t, alerts[0].ID).Status)

	require.NoError(t, h.handle(requestMessage(t, queue.ActionIssueDrop, issues[1].ID)))
	assert.Empty(t, h.activeIssues(t, monitor.ID))
	assert.Equal(t, models.AlertStatusSolved, h.getAlert(t, alerts[0].ID).Status)
	assert.Contains(t, h.drainEventNames(t), models.EventAlertSolved)
}

func TestRunningMonitorMessageIsDroppedWithoutMutation(t *testing.T) {
	h := newExecutorForTest(t)
	module := &scriptedModule{records: []monitors.IssueRecord{{"id": "a"}}}
	monitor := h.registerModule(t, "jobs.hanging", module)
	require.NoError(t, h.store.SetMonitorRunning(context.Background(), monitor.ID, true, time.Now()))

	require.NoError(t, h.handle(monitorMessage(t, monitor.ID, queue.TaskSearch)))

	assert.Empty(t, h.activeIssues(t, monitor.ID))
	assert.Nil(t, h.lastExecution(t, monitor.ID))
	assert.True(t, h.getMonitor(t, monitor.ID).Running)
}

func TestMonitorTimeoutReleasesMonitor(t *testing.T) {
	h := newExecutorForTest(t)
	module := &scriptedModule{
		options: monitors.Options{ExecutionTimeout: 50 * time.Millisecond},
		searchFn: func(ctx context.Context, mon *monitors.Context) ([]monitors.IssueRecord, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		},
	}
	monitor := h.registerModule(t, "reports.slow", module)

	err := h.handle(monitorMessage(t, monitor.ID, queue.TaskSearch))
	require.Error(t, err)
	assert.False(t, isAbandoned(err))

	execution := h.lastExecution(t, monitor.ID)
	require.NotNil(t, execution)
	assert.Equal(t, models.ExecutionStatusFailed, execution.Status)
	assert.Equal(t, models.ErrorTypeTimeout, execution.ErrorType)

	stored := h.getMonitor(t, monitor.ID)
	assert.False(t, stored.Running)
	assert.False(t, stored.Queued)
}

func TestSearchFailureRecordsFailedExecution(t *testing.T) {
	h := newExecutorForTest(t)
	module := &scriptedModule{searchErr: errors.New("backend exploded")}
	monitor := h.registerModule(t, "fees.mismatch", module)

	err := h.handle(monitorMessage(t, monitor.ID, queue.TaskSearch))
	require.Error(t, err)
	assert.False(t, isAbandoned(err))

	execution := h.lastExecution(t, monitor.ID)
	require.NotNil(t, execution)
	assert.Equal(t, models.ExecutionStatusFailed, execution.Status)
	assert.Equal(t, models.ErrorTypeError, execution.ErrorType)
	assert.False(t, h.getMonitor(t, monitor.ID).Running)
}

func TestPanickingModuleRecordsFailedExecution(t *testing.T) {
	h := newExecutorForTest(t)
	module := &scriptedModule{
		searchFn: func(ctx context.Context, mon *monitors.Context) ([]monitors.IssueRecord, error) {
			panic("module bug")
		},
	}
	monitor := h.registerModule(t, "stock.negative", module)

	err := h.handle(monitorMessage(t, monitor.ID, queue.TaskSearch))
	require.Error(t, err)

	execution := h.lastExecution(t, monitor.ID)
	require.NotNil(t, execution)
	assert.Equal(t, models.ExecutionStatusFailed, execution.Status)
	assert.Equal(t, models.ErrorTypeError, execution.ErrorType)
	assert.False(t, h.getMonitor(t, monitor.ID).Running)
}

func TestMissingMonitorMessageIsHandled(t *testing.T) {
	h := newExecutorForTest(t)

	err := h.handle(monitorMessage(t, 424242, queue.TaskSearch))
	require.Error(t, err)
	assert.False(t, isAbandoned(err))
}

func TestUnregisteredMonitorMessageIsHandled(t *testing.T) {
	h := newExecutorForTest(t)
	h.autoReload(t)
	monitor := &models.Monitor{Name: "ghost.monitor", Enabled: true}
	require.NoError(t, h.store.CreateMonitor(context.Background(), monitor))

	err := h.handle(monitorMessage(t, monitor.ID, queue.TaskSearch))
	require.Error(t, err)
	assert.True(t, errors.Is(err, registry.ErrMonitorNotRegistered))
	assert.False(t, isAbandoned(err))
}

func TestStoreOutageAbandonsMessage(t *testing.T) {
	h := newExecutorForTest(t)
	module := &scriptedModule{}
	monitor := h.registerModule(t, "vpn.tunnels", module)
	h.executor.store = &flakyStore{Store: h.store, getMonitorErr: errors.New("connection refused")}

	err := h.handle(monitorMessage(t, monitor.ID, queue.TaskSearch))
	require.Error(t, err)
	assert.True(t, isAbandoned(err))
}

// flakyStore fails monitor lookups to simulate a database outage.
type flakyStore struct {
	store.Store
	getMonitorErr error
}

func (s *flakyStore) GetMonitor(ctx context.Context, id int64) (*models.Monitor, error) {
	return nil, s.getMonitorErr
}

func TestUnknownActionIsDiscarded(t *testing.T) {
	h := newExecutorForTest(t)

	require.NoError(t, h.handle(requestMessage(t, "alert_escalate", 1)))
}

func TestMissingRequestTargetIsHandled(t *testing.T) {
	h := newExecutorForTest(t)

	require.NoError(t, h.handle(requestMessage(t, queue.ActionAlertAcknowledge, 424242)))
	require.NoError(t, h.handle(requestMessage(t, queue.ActionIssueDrop, 424242)))
}

func TestPluginActionsResolveAndRun(t *testing.T) {
	h := newExecutorForTest(t)
	var got int64
	h.executor.RegisterPluginAction("pager", "resend", func(ctx context.Context, payload *queue.RequestPayload) error {
		got = payload.TargetID
		return nil
	})

	require.NoError(t, h.handle(requestMessage(t, "plugin.pager.resend", 99)))
	assert.Equal(t, int64(99), got)

	// unknown plugin actions are discarded like unknown builtins
	require.NoError(t, h.handle(requestMessage(t, "plugin.nobody.nothing", 1)))
}

func TestRequestTimeoutIsHandled(t *testing.T) {
	h := newExecutorForTest(t)
	h.cfg.Executor.RequestTimeout = 50 * time.Millisecond
	h.executor.RegisterPluginAction("slow", "wait", func(ctx context.Context, payload *queue.RequestPayload) error {
		<-ctx.Done()
		return ctx.Err()
	})

	err := h.handle(requestMessage(t, "plugin.slow.wait", 1))
	require.Error(t, err)
	assert.False(t, isAbandoned(err))
}

func TestEventMessageRunsReactions(t *testing.T) {
	h := newExecutorForTest(t)
	calls := make(chan string, 4)
	module := &alertingModule{
		alerts: monitors.AlertOptions{Rule: countRule(1, 0)},
		reactions: monitors.ReactionOptions{
			models.EventIssueCreated: {
				func(ctx context.Context, payload *models.EventPayload) error {
					return errors.New("notify failed")
				},
				func(ctx context.Context, payload *models.EventPayload) error {
					panic("reaction bug")
				},
				func(ctx context.Context, payload *models.EventPayload) error {
					calls <- payload.EventName
					return nil
				},
			},
		},
	}
	monitor := h.registerModule(t, "webhooks.dead", module)

	payload := events.IssuePayload(models.EventIssueCreated, &models.Issue{ID: 7, MonitorID: monitor.ID}, nil)
	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	message := &queue.Message{ID: uuid.NewString(), Type: queue.TypeEvent, Payload: raw}

	// failing and panicking siblings never fail the message
	require.NoError(t, h.handle(message))
	require.Len(t, calls, 1)
	assert.Equal(t, models.EventIssueCreated, <-calls)
}

func TestEventWithoutSubscribersIsDiscarded(t *testing.T) {
	h := newExecutorForTest(t)
	module := &scriptedModule{}
	monitor := h.registerModule(t, "plain.monitor", module)

	payload := events.IssuePayload(models.EventIssueSolved, &models.Issue{ID: 1, MonitorID: monitor.ID}, nil)
	raw, err := json.Marshal(payload)
	require.NoError(t, err)

	require.NoError(t, h.handle(&queue.Message{ID: uuid.NewString(), Type: queue.TypeEvent, Payload: raw}))
}

func TestUnknownMessageTypeIsDiscarded(t *testing.T) {
	h := newExecutorForTest(t)
	ctx := context.Background()

	require.NoError(t, h.queue.SendMessage(ctx, "mystery", models.JSONMap{}))
	message, err := h.queue.GetMessage(ctx)
	require.NoError(t, err)
	require.NotNil(t, message)

	h.executor.processMessage(ctx, logr.Discard(), message)

	// the message was deleted, not left for redelivery
	message, err = h.queue.GetMessage(ctx)
	require.NoError(t, err)
	assert.Nil(t, message)
}

func TestProcessMessageDeletesOnSuccess(t *testing.T) {
	h := newExecutorForTest(t)
	module := &scriptedModule{}
	monitor := h.registerModule(t, "noop.monitor", module)
	ctx := context.Background()

	payload := queue.ProcessMonitorPayload{MonitorID: monitor.ID, Tasks: []string{queue.TaskSearch}}
	require.NoError(t, h.queue.SendMessage(ctx, queue.TypeProcessMonitor, payload))
	message, err := h.queue.GetMessage(ctx)
	require.NoError(t, err)
	require.NotNil(t, message)

	h.executor.processMessage(ctx, logr.Discard(), message)

	message, err = h.queue.GetMessage(ctx)
	require.NoError(t, err)
	assert.Nil(t, message)

	execution := h.lastExecution(t, monitor.ID)
	require.NotNil(t, execution)
	assert.Equal(t, models.ExecutionStatusSuccess, execution.Status)
}

func TestDiagnosticsTracksWorkers(t *testing.T) {
	h := newExecutorForTest(t)
	h.cfg.Executor.Concurrency = 2

	// before start: no workers yet
	status, issues := h.executor.Diagnostics()
	assert.Equal(t, 0, status["executors_count"])
	assert.Contains(t, issues, "degraded_internal_executors")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = h.executor.Start(ctx)
	}()

	require.Eventually(t, func() bool {
		status, issues := h.executor.Diagnostics()
		return status["executors_count"] == 2 && len(issues) == 0
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	<-done
	require.Eventually(t, func() bool {
		status, _ := h.executor.Diagnostics()
		return status["executors_count"] == 0
	}, 2*time.Second, 10*time.Millisecond)

	_, issues = h.executor.Diagnostics()
	assert.Contains(t, issues, "degraded_internal_executors")
}

func TestDiagnosticsReportsStaleMessages(t *testing.T) {
	h := newExecutorForTest(t)
	h.cfg.Executor.Concurrency = 0

	h.executor.mu.Lock()
	h.executor.startedAt = time.Now().Add(-2 * time.Minute)
	h.executor.mu.Unlock()

	_, issues := h.executor.Diagnostics()
	assert.Contains(t, issues, "no_recent_messages")

	h.executor.mu.Lock()
	h.executor.lastMessageAt = time.Now()
	h.executor.mu.Unlock()

	_, issues = h.executor.Diagnostics()
	assert.Empty(t, issues)
}
