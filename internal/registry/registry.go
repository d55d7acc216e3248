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

// Package registry holds the monitor implementations currently loaded in
// this process. The controller only schedules monitors the registry knows,
// and executors resolve implementations from it before running anything.
// Readiness gates both: until the loader finishes a pass the registry is not
// ready and consumers wait.
package registry

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/go-logr/logr"

	"github.com/sentinela-project/sentinela/internal/metrics"
	"github.com/sentinela-project/sentinela/internal/monitors"
)

// DefaultReadyTimeout bounds how long consumers wait for a load pass.
const DefaultReadyTimeout = 5 * time.Second

var (
	// ErrNotReady is returned when the registry did not become ready in time.
	ErrNotReady = errors.New("monitors not ready")

	// ErrMonitorNotRegistered is returned when a monitor is still missing
	// after a load attempt.
	ErrMonitorNotRegistered = errors.New("monitor not registered")
)

// Entry pairs a registered monitor with its implementation.
type Entry struct {
	MonitorID int64
	Name      string
	Module    monitors.Module
}

// Registry is a concurrency-safe map of monitor id to implementation with
// ready and reload signaling.
type Registry struct {
	log          logr.Logger
	readyTimeout time.Duration

	mu      sync.RWMutex
	entries map[int64]*Entry
	ready   bool
	readyCh chan struct{}

	reload chan struct{}
}

// New creates an empty, not-ready registry
func New(log logr.Logger) *Registry {
	return &Registry{
		log:          log.WithName("registry"),
		readyTimeout: DefaultReadyTimeout,
		entries:      map[int64]*Entry{},
		readyCh:      make(chan struct{}),
		reload:       make(chan struct{}, 1),
	}
}

// Register adds or replaces a monitor implementation
func (r *Registry) Register(monitorID int64, name string, module monitors.Module) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[monitorID] = &Entry{MonitorID: monitorID, Name: name, Module: module}
}

// Resolve returns the implementation registered for a monitor
func (r *Registry) Resolve(monitorID int64) (monitors.Module, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.entries[monitorID]
	if !ok {
		return nil, false
	}
	return entry.Module, true
}

// IDs returns the registered monitor ids in ascending order
func (r *Registry) IDs() []int64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]int64, 0, len(r.entries))
	for id := range r.entries {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Names returns the registered monitor names in ascending order
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.entries))
	for _, entry := range r.entries {
		names = append(names, entry.Name)
	}
	sort.Strings(names)
	return names
}

// Count returns how many monitors are registered
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// SetReady marks the registry ready, releasing all waiters.
func (r *Registry) SetReady() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.ready {
		return
	}
	r.ready = true
	close(r.readyCh)
}

// ClearReady marks the registry not ready. Subsequent waiters block until
// the next SetReady.
func (r *Registry) ClearReady() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.ready {
		return
	}
	r.ready = false
	r.readyCh = make(chan struct{})
}

// Ready reports whether the registry finished a load pass
func (r *Registry) Ready() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.ready
}

// WaitReady blocks until the registry is ready, the timeout elapses or ctx
// is canceled.
func (r *Registry) WaitReady(ctx context.Context) error {
	r.mu.RLock()
	readyCh := r.readyCh
	r.mu.RUnlock()

	timer := time.NewTimer(r.readyTimeout)
	defer timer.Stop()

	select {
	case <-readyCh:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		metrics.RecordRegistryReadyTimeout()
		return ErrNotReady
	}
}

// WaitMonitorLoaded ensures a monitor is registered, requesting a reload
// and waiting for it when the monitor is missing. A monitor still missing
// after the reload means its implementation is not part of this build.
func (r *Registry) WaitMonitorLoaded(ctx context.Context, monitorID int64) error {
	if _, ok := r.Resolve(monitorID); ok {
		return nil
	}

	r.ClearReady()
	r.RequestReload()

	if err := r.WaitReady(ctx); err != nil {
		return err
	}
	if _, ok := r.Resolve(monitorID); ok {
		return nil
	}

	metrics.RecordMonitorNotRegistered()
	return fmt.Errorf("%w: monitor %d", ErrMonitorNotRegistered, monitorID)
}

// RequestReload signals the loader to run a load pass. Multiple requests
// before the loader wakes coalesce into one.
func (r *Registry) RequestReload() {
	select {
	case r.reload <- struct{}{}:
	default:
	}
}

// ReloadRequests is the channel the loader watches for reload signals
func (r *Registry) ReloadRequests() <-chan struct{} {
	return r.reload
}
