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

// Package loader registers monitors and keeps the registry in sync with the
// database. Implementations are compiled into the binary and published
// through a catalog keyed by monitor name; the database stays the source of
// truth for which monitors exist and are enabled.
package loader

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-logr/logr"

	"github.com/sentinela-project/sentinela/internal/config"
	"github.com/sentinela-project/sentinela/internal/croneval"
	"github.com/sentinela-project/sentinela/internal/models"
	"github.com/sentinela-project/sentinela/internal/monitors"
	"github.com/sentinela-project/sentinela/internal/registry"
	"github.com/sentinela-project/sentinela/internal/store"
)

const (
	// loadLeadTime starts a load pass slightly before the schedule fires so
	// monitors are ready when the next controller tick starts.
	loadLeadTime = 2 * time.Second

	// loadCooldown is the minimum time between two load passes.
	loadCooldown = 2 * time.Second
)

// Loader keeps the monitor registry populated from the database, resolving
// implementations from its catalog.
type Loader struct {
	store    store.Store
	registry *registry.Registry
	eval     *croneval.Evaluator
	cfg      *config.Config
	log      logr.Logger

	mu      sync.RWMutex
	catalog map[string]monitors.Module
}

// New creates a loader with an empty catalog
func New(st store.Store, reg *registry.Registry, eval *croneval.Evaluator, cfg *config.Config, log logr.Logger) *Loader {
	return &Loader{
		store:    st,
		registry: reg,
		eval:     eval,
		cfg:      cfg,
		log:      log.WithName("loader"),
		catalog:  map[string]monitors.Module{},
	}
}

// AddToCatalog publishes an implementation under a monitor name. Registering
// a monitor with that name binds it to this implementation.
func (l *Loader) AddToCatalog(name string, module monitors.Module) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.catalog[name] = module
}

// CatalogModule returns the implementation published under a name
func (l *Loader) CatalogModule(name string) (monitors.Module, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	module, ok := l.catalog[name]
	return module, ok
}

// ResolveCode maps a code module's code string to the compiled-in
// implementation it names. Code strings are catalog keys, optionally behind
// the builtin:// prefix the built-ins are registered with.
func (l *Loader) ResolveCode(code string) (monitors.Module, bool) {
	return l.CatalogModule(strings.TrimPrefix(code, "builtin://"))
}

// RegisterMonitor validates a module and persists the monitor and its code
// module, publishing the implementation in the catalog. Existing monitors
// keep their id and enabled state; only the code module is replaced.
func (l *Loader) RegisterMonitor(
	ctx context.Context,
	name string,
	module monitors.Module,
	code string,
	additionalFiles models.JSONStringMap,
) (*models.Monitor, error) {
	if errs := CheckMonitor(l.eval, name, module); len(errs) > 0 {
		validationErr := &ValidationError{MonitorName: name, Errors: errs}
		l.log.Info("monitor failed validation", "monitor", name, "errors", errs)
		return nil, validationErr
	}

	monitor, err := l.store.GetMonitorByName(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("loading monitor %q: %w", name, err)
	}
	if monitor == nil {
		monitor = &models.Monitor{Name: name, Enabled: true}
		if err := l.store.CreateMonitor(ctx, monitor); err != nil {
			return nil, fmt.Errorf("creating monitor %q: %w", name, err)
		}
	}

	now := time.Now()
	codeModule := &models.CodeModule{
		MonitorID:       monitor.ID,
		Code:            code,
		AdditionalFiles: additionalFiles,
		RegisteredAt:    &now,
	}
	if err := l.store.UpsertCodeModule(ctx, codeModule); err != nil {
		return nil, fmt.Errorf("storing code module for %q: %w", name, err)
	}

	l.AddToCatalog(name, module)
	l.registry.RequestReload()

	return monitor, nil
}

// RegisterBuiltins registers the built-in monitors, plus the bundled sample
// monitors when enabled. Reaction sets given here, such as the notification
// channels, subscribe to the built-ins' alert lifecycle events. A failure in
// one does not block the others.
func (l *Loader) RegisterBuiltins(ctx context.Context, notify ...monitors.ReactionOptions) {
	builtins := []struct {
		name   string
		module monitors.Module
	}{
		{monitors.FailingMonitorsName, monitors.NewFailingMonitors(l.store, notify...)},
	}
	if l.cfg.LoadSampleMonitors {
		builtins = append(builtins, struct {
			name   string
			module monitors.Module
		}{monitors.SampleRandomName, monitors.NewSampleRandom(l.log, notify...)})
	}

	for _, builtin := range builtins {
		code := "builtin://" + builtin.name
		if _, err := l.RegisterMonitor(ctx, builtin.name, builtin.module, code, nil); err != nil {
			l.log.Error(err, "failed to register built-in monitor", "monitor", builtin.name)
		}
	}
}

// LoadMonitors runs one load pass: every enabled monitor with a code module
// and a catalog implementation ends up registered. Monitors without a code
// module are disabled; monitors whose implementation is missing from this
// build are skipped but stay enabled.
func (l *Loader) LoadMonitors(ctx context.Context) error {
	l.registry.ClearReady()

	enabled, err := l.store.ListEnabledMonitors(ctx)
	if err != nil {
		return fmt.Errorf("listing enabled monitors: %w", err)
	}
	l.log.V(1).Info("monitors found", "count", len(enabled))

	if len(enabled) == 0 {
		l.registry.SetReady()
		return nil
	}

	ids := make([]int64, 0, len(enabled))
	for _, monitor := range enabled {
		ids = append(ids, monitor.ID)
	}
	codeModules, err := l.store.GetUpdatedCodeModules(ctx, ids, time.Time{})
	if err != nil {
		return fmt.Errorf("loading code modules: %w", err)
	}
	byMonitor := make(map[int64]*models.CodeModule, len(codeModules))
	for _, codeModule := range codeModules {
		byMonitor[codeModule.MonitorID] = codeModule
	}

	for _, monitor := range enabled {
		if byMonitor[monitor.ID] == nil {
			l.log.Info("monitor has no code module, disabling it", "monitor", monitor.Name)
			if err := l.store.SetMonitorEnabled(ctx, monitor.ID, false); err != nil {
				l.log.Error(err, "failed to disable monitor", "monitor", monitor.Name)
			}
			continue
		}

		module, ok := l.CatalogModule(monitor.Name)
		if !ok {
			l.log.Info("monitor has no implementation in this build", "monitor", monitor.Name)
			continue
		}
		l.registry.Register(monitor.ID, monitor.Name, module)
	}

	l.registry.SetReady()
	return nil
}

// Start runs load passes until ctx is canceled. Passes run on the load
// schedule, slightly early, and whenever a reload is requested, with a
// cooldown between consecutive passes.
func (l *Loader) Start(ctx context.Context) error {
	l.log.Info("starting monitors loader", "schedule", l.cfg.MonitorsLoadSchedule)

	for {
		start := time.Now()
		if err := l.LoadMonitors(ctx); err != nil {
			l.log.Error(err, "monitors load pass failed")
		}

		delay, err := l.eval.NextDelay(l.cfg.MonitorsLoadSchedule, l.eval.Now())
		if err != nil {
			l.log.Error(err, "invalid monitors load schedule, using fallback delay")
			delay = time.Minute
		}
		if delay > loadLeadTime {
			delay -= loadLeadTime
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		case <-l.registry.ReloadRequests():
			timer.Stop()
		}

		if sinceLast := time.Since(start); sinceLast < loadCooldown {
			cooldown := time.NewTimer(loadCooldown - sinceLast)
			select {
			case <-ctx.Done():
				cooldown.Stop()
				return ctx.Err()
			case <-cooldown.C:
			}
		}
	}
}
