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

// Package taskmanager tracks the application's background goroutines as a
// parent and child hierarchy. A child's context is derived from its parent
// task, so a finished parent cancels its children, and shutdown can drain
// everything that is still running.
package taskmanager

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-logr/logr"
)

// drainCheckTime is how often shutdown re-checks the running task count.
const drainCheckTime = 1 * time.Second

// Task is a handle to one managed goroutine.
type Task struct {
	name   string
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
	parent *Task
}

// Name returns the task name
func (t *Task) Name() string {
	return t.name
}

// Done is closed when the task function returned
func (t *Task) Done() <-chan struct{} {
	return t.done
}

// Cancel cancels the task's context, and with it its children
func (t *Task) Cancel() {
	t.cancel()
}

// Wait blocks until the task finished or ctx is canceled
func (t *Task) Wait(ctx context.Context) error {
	select {
	case <-t.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Manager starts and tracks tasks. The zero value is not usable, use New.
type Manager struct {
	log logr.Logger

	mu       sync.Mutex
	children map[*Task][]*Task
	running  int
}

// New creates a task manager
func New(log logr.Logger) *Manager {
	return &Manager{
		log:      log.WithName("taskmanager"),
		children: map[*Task][]*Task{},
	}
}

// Go starts a root task. The task's context is derived from ctx.
func (m *Manager) Go(ctx context.Context, name string, fn func(context.Context)) *Task {
	return m.start(ctx, nil, name, fn)
}

// GoChild starts a task under a parent. The child's context is derived from
// the parent task, so it is canceled when the parent finishes.
func (m *Manager) GoChild(parent *Task, name string, fn func(context.Context)) *Task {
	return m.start(parent.ctx, parent, name, fn)
}

func (m *Manager) start(ctx context.Context, parent *Task, name string, fn func(context.Context)) *Task {
	taskCtx, cancel := context.WithCancel(ctx)
	task := &Task{
		name:   name,
		ctx:    taskCtx,
		cancel: cancel,
		done:   make(chan struct{}),
		parent: parent,
	}

	m.mu.Lock()
	m.children[parent] = append(m.children[parent], task)
	m.running++
	m.mu.Unlock()

	go func() {
		defer m.finish(task)
		defer func() {
			if r := recover(); r != nil {
				m.log.Error(fmt.Errorf("panic: %v", r), "task panicked", "task", name)
			}
		}()
		fn(taskCtx)
	}()

	return task
}

// finish cancels the task's children, closes its done channel and removes
// it from the hierarchy.
func (m *Manager) finish(task *Task) {
	m.mu.Lock()
	for _, child := range m.children[task] {
		m.log.Info("cancelling task, its parent finished", "task", child.name, "parent", task.name)
	}
	siblings := m.children[task.parent]
	for i, sibling := range siblings {
		if sibling == task {
			m.children[task.parent] = append(siblings[:i], siblings[i+1:]...)
			break
		}
	}
	if len(m.children[task.parent]) == 0 {
		delete(m.children, task.parent)
	}
	m.running--
	m.mu.Unlock()

	task.cancel()
	close(task.done)
}

// RunningCount returns how many tasks have not finished yet
func (m *Manager) RunningCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

// WaitForTasks waits for the parent's remaining children to finish. A nil
// parent waits for root tasks. Zero or negative timeout waits forever. On
// timeout it returns false, cancelling the stragglers when cancel is set.
func (m *Manager) WaitForTasks(parent *Task, timeout time.Duration, cancel bool) bool {
	m.mu.Lock()
	tasks := append([]*Task(nil), m.children[parent]...)
	m.mu.Unlock()
	if len(tasks) == 0 {
		return true
	}

	var deadline <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		deadline = timer.C
	}

	for i, task := range tasks {
		select {
		case <-task.done:
		case <-deadline:
			if !cancel {
				return false
			}
			for _, straggler := range tasks[i:] {
				select {
				case <-straggler.done:
				default:
					m.log.Info("task timed out, cancelling it", "task", straggler.name)
					straggler.Cancel()
				}
			}
			return false
		}
	}
	return true
}

// Shutdown waits for every running task to finish, logging progress, until
// ctx is canceled.
func (m *Manager) Shutdown(ctx context.Context) error {
	for {
		running := m.RunningCount()
		if running == 0 {
			return nil
		}
		m.log.Info("waiting for tasks to finish", "running", running)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(drainCheckTime):
		}
	}
}
