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

	"github.com/go-logr/logr"

	"github.com/sentinela-project/sentinela/internal/models"
)

// VariableStore is the slice of the store modules use for persistent
// variables.
type VariableStore interface {
	GetVariable(ctx context.Context, monitorID int64, name string) (*models.Variable, error)
	SetVariable(ctx context.Context, monitorID int64, name string, value *string) error
}

// Context carries the identity of the monitor being executed into module
// code, giving it a logger and persistent per-monitor variables.
type Context struct {
	MonitorID   int64
	MonitorName string
	Log         logr.Logger

	vars VariableStore
}

// NewContext builds the execution context for one monitor
func NewContext(monitorID int64, monitorName string, vars VariableStore, log logr.Logger) *Context {
	return &Context{
		MonitorID:   monitorID,
		MonitorName: monitorName,
		Log:         log.WithValues("monitor", monitorName),
		vars:        vars,
	}
}

// GetVariable returns the monitor variable value, nil when it was never set
// or was cleared.
func (c *Context) GetVariable(ctx context.Context, name string) (*string, error) {
	variable, err := c.vars.GetVariable(ctx, c.MonitorID, name)
	if err != nil {
		return nil, err
	}
	if variable == nil {
		return nil, nil
	}
	return variable.Value, nil
}

// SetVariable stores a monitor variable, persisted between runs
func (c *Context) SetVariable(ctx context.Context, name, value string) error {
	return c.vars.SetVariable(ctx, c.MonitorID, name, &value)
}

// ClearVariable unsets a monitor variable
func (c *Context) ClearVariable(ctx context.Context, name string) error {
	return c.vars.SetVariable(ctx, c.MonitorID, name, nil)
}
